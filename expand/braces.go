// Copyright (c) 2018, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package expand

import (
	"strconv"
	"strings"

	"github.com/dbreunig/just-bash/syntax"
)

// Braces performs brace expansion on a word, given that it contains any
// syntax.BraceExp parts or literal brace groups. For example, the word with
// the literal "foo{bar,baz}" will return two words: "foobar" and "foobaz".
//
// It does not return an error; malformed brace expansions are left
// unchanged.
func Braces(word *syntax.Word) []*syntax.Word {
	w := &syntax.Word{Parts: append([]syntax.WordPart{}, word.Parts...)}
	if !syntax.SplitBraces(w) {
		return []*syntax.Word{word}
	}
	return expandRec(w)
}

func expandRec(word *syntax.Word) []*syntax.Word {
	for i, part := range word.Parts {
		be, ok := part.(*syntax.BraceExp)
		if !ok {
			continue
		}
		var elems []*syntax.Word
		if be.Sequence {
			elems = expandSeq(be)
		} else {
			elems = be.Elems
		}
		var words []*syntax.Word
		for _, elem := range elems {
			parts := make([]syntax.WordPart, 0,
				len(word.Parts)+len(elem.Parts)-1)
			parts = append(parts, word.Parts[:i]...)
			parts = append(parts, elem.Parts...)
			parts = append(parts, word.Parts[i+1:]...)
			words = append(words, expandRec(&syntax.Word{Parts: parts})...)
		}
		return words
	}
	return []*syntax.Word{word}
}

// expandSeq turns a {x..y} or {x..y..incr} sequence expression into its
// list of elements.
func expandSeq(be *syntax.BraceExp) []*syntax.Word {
	from := be.Elems[0].Lit()
	to := be.Elems[1].Lit()
	incr := int64(1)
	if len(be.Elems) > 2 {
		n, err := strconv.ParseInt(be.Elems[2].Lit(), 10, 64)
		if err != nil || n == 0 {
			return be.Elems[:1]
		}
		if n < 0 {
			n = -n
		}
		incr = n
	}
	litWord := func(s string) *syntax.Word {
		return &syntax.Word{Parts: []syntax.WordPart{&syntax.Lit{Value: s}}}
	}
	nfrom, errFrom := strconv.ParseInt(from, 10, 64)
	nto, errTo := strconv.ParseInt(to, 10, 64)
	if errFrom == nil && errTo == nil {
		// zero padding is kept if either bound uses it
		width := 0
		if (strings.HasPrefix(from, "0") || strings.HasPrefix(from, "-0")) && len(from) > 1 {
			width = len(from)
		}
		if (strings.HasPrefix(to, "0") || strings.HasPrefix(to, "-0")) && len(to) > width {
			width = len(to)
		}
		format := func(n int64) string {
			s := strconv.FormatInt(n, 10)
			for len(s) < width {
				if strings.HasPrefix(s, "-") {
					s = "-0" + s[1:]
				} else {
					s = "0" + s
				}
			}
			return s
		}
		var words []*syntax.Word
		if nfrom <= nto {
			for n := nfrom; n <= nto; n += incr {
				words = append(words, litWord(format(n)))
			}
		} else {
			for n := nfrom; n >= nto; n -= incr {
				words = append(words, litWord(format(n)))
			}
		}
		return words
	}
	// letter sequences such as {a..c}
	if len(from) == 1 && len(to) == 1 {
		cfrom, cto := from[0], to[0]
		var words []*syntax.Word
		if cfrom <= cto {
			for c := cfrom; c <= cto; c += byte(incr) {
				words = append(words, litWord(string(c)))
			}
		} else {
			for c := cfrom; c >= cto; c -= byte(incr) {
				words = append(words, litWord(string(c)))
			}
		}
		return words
	}
	return be.Elems[:1]
}
