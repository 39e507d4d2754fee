// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package syntax

import (
	"strconv"
	"strings"
)

// SplitBraces parses brace expansions within a word's literal parts. If any
// valid brace expansions are found, they are replaced with BraceExp parts and
// the function reports true. Otherwise, the word is left untouched.
//
// For example, a literal word "foo{bar,baz}" will result in a word containing
// the literal "foo" and a brace expansion with the elements "bar" and "baz".
func SplitBraces(word *Word) bool {
	any := false
	top := &openBrace{}
	acc := top
	var opened []*openBrace
	pop := func() *openBrace {
		old := acc
		opened = opened[:len(opened)-1]
		if len(opened) == 0 {
			acc = top
		} else {
			acc = opened[len(opened)-1]
		}
		return old
	}
	addLit := func(s string) {
		if s != "" {
			acc.cur = append(acc.cur, &Lit{Value: s})
		}
	}

	for _, wp := range word.Parts {
		lit, ok := wp.(*Lit)
		if !ok {
			acc.cur = append(acc.cur, wp)
			continue
		}
		val := lit.Value
		last := 0
		for i := 0; i < len(val); i++ {
			switch val[i] {
			case '\\':
				i++
			case '{':
				addLit(val[last:i])
				last = i + 1
				ob := &openBrace{}
				opened = append(opened, ob)
				acc = ob
			case ',':
				if len(opened) == 0 {
					break
				}
				addLit(val[last:i])
				last = i + 1
				acc.elems = append(acc.elems, &Word{Parts: acc.cur})
				acc.cur = nil
			case '}':
				if len(opened) == 0 {
					break
				}
				addLit(val[last:i])
				last = i + 1
				ob := pop()
				ob.elems = append(ob.elems, &Word{Parts: ob.cur})
				ob.cur = nil
				if be, ok := ob.braceExp(); ok {
					any = true
					acc.cur = append(acc.cur, be)
				} else {
					acc.cur = append(acc.cur, ob.literalParts()...)
				}
			}
		}
		addLit(val[last:])
	}
	// any braces left open become literal again
	for len(opened) > 0 {
		ob := pop()
		ob.elems = append(ob.elems, &Word{Parts: ob.cur})
		acc.cur = append(acc.cur, ob.unclosedParts()...)
	}
	if !any {
		return false
	}
	word.Parts = top.cur
	return true
}

type openBrace struct {
	elems []*Word
	cur   []WordPart
}

// braceExp turns a closed brace group into a BraceExp node, if the group is a
// valid comma list or sequence expression.
func (ob *openBrace) braceExp() (*BraceExp, bool) {
	if len(ob.elems) == 1 {
		// check for a {x..y} or {x..y..incr} sequence
		w := ob.elems[0]
		lit := w.Lit()
		if lit == "" || !strings.Contains(lit, "..") {
			return nil, false
		}
		parts := strings.Split(lit, "..")
		if len(parts) != 2 && len(parts) != 3 {
			return nil, false
		}
		for _, s := range parts {
			if !seqBound(s) {
				return nil, false
			}
		}
		be := &BraceExp{Sequence: true}
		for _, s := range parts {
			be.Elems = append(be.Elems, &Word{Parts: []WordPart{&Lit{Value: s}}})
		}
		return be, true
	}
	// empty braces {} and single-element braces {x} are literal
	if len(ob.elems) < 2 {
		return nil, false
	}
	return &BraceExp{Elems: ob.elems}, true
}

// seqBound reports whether a string can bound a sequence expression: an
// integer or a single letter.
func seqBound(s string) bool {
	if _, err := strconv.Atoi(s); err == nil {
		return true
	}
	return len(s) == 1 && (('a' <= s[0] && s[0] <= 'z') ||
		('A' <= s[0] && s[0] <= 'Z'))
}

// literalParts reassembles a non-expanding brace group as literal parts.
func (ob *openBrace) literalParts() []WordPart {
	parts := []WordPart{&Lit{Value: "{"}}
	for i, elem := range ob.elems {
		if i > 0 {
			parts = append(parts, &Lit{Value: ","})
		}
		parts = append(parts, elem.Parts...)
	}
	return append(parts, &Lit{Value: "}"})
}

// unclosedParts reassembles a brace group that was never closed.
func (ob *openBrace) unclosedParts() []WordPart {
	parts := []WordPart{&Lit{Value: "{"}}
	for i, elem := range ob.elems {
		if i > 0 {
			parts = append(parts, &Lit{Value: ","})
		}
		parts = append(parts, elem.Parts...)
	}
	return parts
}
