// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package pattern

import (
	"regexp"
	"testing"
)

var matchTests = []struct {
	pat   string
	mode  Mode
	name  string
	want  bool
}{
	{`foo`, EntireString, "foo", true},
	{`foo`, EntireString, "foobar", false},
	{`foo*`, EntireString, "foobar", true},
	{`*bar`, EntireString, "foobar", true},
	{`foo?ar`, EntireString, "foobar", true},
	{`foo?ar`, EntireString, "fooar", false},
	{`[abc]x`, EntireString, "bx", true},
	{`[abc]x`, EntireString, "dx", false},
	{`[!abc]x`, EntireString, "dx", true},
	{`[a-f]x`, EntireString, "cx", true},
	{`[a-f]x`, EntireString, "gx", false},
	{`[[:digit:]]`, EntireString, "5", true},
	{`[[:digit:]]`, EntireString, "a", false},
	{`fo\*`, EntireString, "fo*", true},
	{`fo\*`, EntireString, "foo", false},
	{`*`, EntireString, "anything at all", true},
	{`*`, EntireString, "with\nnewline", true},
	{`a/*`, EntireString | Filenames, "a/b", true},
	{`a/*`, EntireString | Filenames, "a/b/c", false},
	{`a/?`, EntireString | Filenames, "a/b", true},
	{`a/?`, EntireString | Filenames, "a/", false},
	{`**/c`, EntireString | Filenames | GlobStar, "a/b/c", true},
	{`**`, EntireString | Filenames | GlobStar, "a/b/c", true},
}

func TestRegexp(t *testing.T) {
	t.Parallel()
	for _, tc := range matchTests {
		expr, err := Regexp(tc.pat, tc.mode)
		if err != nil {
			t.Fatalf("Regexp(%q) error: %v", tc.pat, err)
		}
		rx := regexp.MustCompile(expr)
		if got := rx.MatchString(tc.name); got != tc.want {
			t.Errorf("Regexp(%q) match %q = %v, want %v (expr %q)",
				tc.pat, tc.name, got, tc.want, expr)
		}
	}
}

func TestRegexpErrors(t *testing.T) {
	t.Parallel()
	for _, pat := range []string{
		`[`,
		`[a`,
		`\`,
		`[[:bad:]]`,
	} {
		if _, err := Regexp(pat, 0); err == nil {
			t.Errorf("expected an error for pattern %q", pat)
		}
	}
}

func TestHasMeta(t *testing.T) {
	t.Parallel()
	for pat, want := range map[string]bool{
		"foo":      false,
		"foo*":     true,
		"fo?o":     true,
		"fo[a]o":   true,
		`fo\*o`:    false,
		`fo\\*o`:   true,
	} {
		if got := HasMeta(pat); got != want {
			t.Errorf("HasMeta(%q) = %v, want %v", pat, got, want)
		}
	}
}

func TestQuoteMeta(t *testing.T) {
	t.Parallel()
	for pat, want := range map[string]string{
		"foo":    "foo",
		"foo*":   `foo\*`,
		"f?[x]":  `f\?\[x]`,
	} {
		if got := QuoteMeta(pat); got != want {
			t.Errorf("QuoteMeta(%q) = %q, want %q", pat, got, want)
		}
	}
}
