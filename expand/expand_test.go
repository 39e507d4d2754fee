// Copyright (c) 2018, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package expand

import (
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/dbreunig/just-bash/syntax"
)

func parseWord(tb testing.TB, src string) *syntax.Word {
	tb.Helper()
	f, err := syntax.NewParser().Parse(strings.NewReader("x "+src), "")
	if err != nil {
		tb.Fatalf("parse %q: %v", src, err)
	}
	call := f.Stmts[0].Cmd.(*syntax.CallExpr)
	if len(call.Args) != 2 {
		tb.Fatalf("%q is not a single word", src)
	}
	return call.Args[1]
}

func parseWords(tb testing.TB, src string) []*syntax.Word {
	tb.Helper()
	f, err := syntax.NewParser().Parse(strings.NewReader("x "+src), "")
	if err != nil {
		tb.Fatalf("parse %q: %v", src, err)
	}
	call := f.Stmts[0].Cmd.(*syntax.CallExpr)
	return call.Args[1:]
}

func testEnv(pairs ...string) Environ {
	return ListEnviron(pairs...)
}

type envMap map[string]Variable

func (m envMap) Get(name string) Variable { return m[name] }
func (m envMap) Each(fn func(string, Variable) bool) {
	for name, vr := range m {
		if !fn(name, vr) {
			return
		}
	}
}
func (m envMap) Set(name string, vr Variable) error {
	m[name] = vr
	return nil
}

func TestFieldsSimple(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	cfg := &Config{Env: testEnv("FOO=bar baz")}

	for _, tc := range []struct {
		src  string
		want []string
	}{
		{"plain", []string{"plain"}},
		{"$FOO", []string{"bar", "baz"}},
		{`"$FOO"`, []string{"bar baz"}},
		{`"pre $FOO post"`, []string{"pre bar baz post"}},
		{"a$FOO", []string{"abar", "baz"}},
		{"$MISSING", []string{}},
		{`"$MISSING"`, []string{""}},
		{"''", []string{""}},
		{`a\ b`, []string{"a b"}},
		{"{x,y}", []string{"x", "y"}},
		{"a{1,2}b", []string{"a1b", "a2b"}},
		{"{1..4}", []string{"1", "2", "3", "4"}},
		{"{05..1}", []string{"05", "04", "03", "02", "01"}},
		{"{a..c}", []string{"a", "b", "c"}},
		{"{1..10..3}", []string{"1", "4", "7", "10"}},
		{"{}", []string{"{}"}},
		{"{a}", []string{"{a}"}},
		{"$((2 + 3))", []string{"5"}},
	} {
		got, err := Fields(cfg, parseWords(t, tc.src)...)
		c.Assert(err, qt.IsNil, qt.Commentf("src %q", tc.src))
		c.Assert(got, qt.DeepEquals, tc.want, qt.Commentf("src %q", tc.src))
	}
}

func TestFieldSplittingIFS(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	env := envMap{
		"IFS": {Set: true, Kind: String, Str: ":"},
		"x":   {Set: true, Kind: String, Str: "a::b"},
		"y":   {Set: true, Kind: String, Str: ":a:"},
	}
	cfg := &Config{Env: env}

	got, err := Fields(cfg, parseWord(t, "$x"))
	c.Assert(err, qt.IsNil)
	// the empty field between the two colons is preserved
	c.Assert(got, qt.DeepEquals, []string{"a", "", "b"})

	got, err = Fields(cfg, parseWord(t, "$y"))
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, []string{"", "a"})
}

func TestQuotingPreservation(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	for _, val := range []string{
		"plain",
		"with  spaces",
		"tabs\tand\nnewlines",
		"glob*chars?[x]",
		"$dollar `backtick`",
		"",
	} {
		env := envMap{"x": {Set: true, Kind: String, Str: val}}
		cfg := &Config{Env: env}
		got, err := Fields(cfg, parseWord(t, `"$x"`))
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.DeepEquals, []string{val})
	}
}

func TestParamExp(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	env := envMap{
		"x":    {Set: true, Kind: String, Str: "hello world"},
		"nul":  {Set: true, Kind: String, Str: ""},
		"arr":  {Set: true, Kind: Indexed, List: []string{"a", "b", "c"}},
		"IFS":  {Set: true, Kind: String, Str: " \t\n"},
		"path": {Set: true, Kind: String, Str: "/a/b/c.txt"},
	}
	cfg := &Config{Env: env}

	for _, tc := range []struct {
		src, want string
	}{
		{"${x}", "hello world"},
		{"${#x}", "11"},
		{"${x:-def}", "hello world"},
		{"${missing:-def}", "def"},
		{"${nul:-def}", "def"},
		{"${nul-def}", ""},
		{"${x:+alt}", "alt"},
		{"${missing:+alt}", ""},
		{"${x:6}", "world"},
		{"${x:0:5}", "hello"},
		{"${x: -5}", "world"},
		{"${x/world/there}", "hello there"},
		{"${x//l/L}", "heLLo worLd"},
		{"${x/#hello/hi}", "hi world"},
		{"${x/%world/planet}", "hello planet"},
		{"${x^}", "Hello world"},
		{"${x^^}", "HELLO WORLD"},
		{"${x^^l}", "heLLo worLd"},
		{"${nul^^}", ""},
		{"${path##*/}", "c.txt"},
		{"${path%/*}", "/a/b"},
		{"${path#/a}", "/b/c.txt"},
		{"${arr[1]}", "b"},
		{"${#arr[@]}", "3"},
		{"${!arr[@]}", "0 1 2"},
	} {
		got, err := Literal(cfg, parseWord(t, tc.src))
		c.Assert(err, qt.IsNil, qt.Commentf("src %q", tc.src))
		c.Assert(got, qt.Equals, tc.want, qt.Commentf("src %q", tc.src))
	}
}

func TestParamExpAssign(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	env := envMap{}
	cfg := &Config{Env: env}
	got, err := Literal(cfg, parseWord(t, "${x:=def}"))
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, "def")
	c.Assert(env["x"].Str, qt.Equals, "def")
}

func TestParamExpError(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	cfg := &Config{Env: testEnv()}
	_, err := Literal(cfg, parseWord(t, "${x:?not set}"))
	c.Assert(err, qt.ErrorMatches, `x: not set`)
}

func TestArithm(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	env := envMap{
		"n": {Set: true, Kind: String, Str: "7"},
		"s": {Set: true, Kind: String, Str: "n"},
	}
	cfg := &Config{Env: env}

	for _, tc := range []struct {
		src  string
		want int64
	}{
		{"1 + 2", 3},
		{"10 - 4 - 3", 3},
		{"2 * 3 + 4", 10},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"7 / 2", 3},
		{"7 % 3", 1},
		{"2 ** 10", 1024},
		{"1 << 4", 16},
		{"-16 >> 2", -4},
		{"5 & 3", 1},
		{"5 | 3", 7},
		{"5 ^ 3", 6},
		{"~0", -1},
		{"!0", 1},
		{"!5", 0},
		{"1 < 2", 1},
		{"2 <= 1", 0},
		{"3 == 3", 1},
		{"3 != 3", 0},
		{"1 && 2", 1},
		{"0 || 0", 0},
		{"1 ? 10 : 20", 10},
		{"0 ? 10 : 20", 20},
		{"n", 7},
		{"s", 7}, // recursive variable resolution
		{"n * 2", 14},
		{"9223372036854775807 + 1", -9223372036854775808},
		{"0x10", 16},
		{"010", 8},
	} {
		got, err := Arithm(cfg, parseWord(t, "$(("+tc.src+"))").Parts[0].(*syntax.ArithmExp).X)
		c.Assert(err, qt.IsNil, qt.Commentf("src %q", tc.src))
		c.Assert(got, qt.Equals, tc.want, qt.Commentf("src %q", tc.src))
	}
}

func TestArithmAssign(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	env := envMap{}
	cfg := &Config{Env: env}
	x := parseWord(t, "$((x = 3, x += 4, x++))").Parts[0].(*syntax.ArithmExp).X
	got, err := Arithm(cfg, x)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, int64(7))
	c.Assert(env["x"].Str, qt.Equals, "8")
}

func TestArithmDivByZero(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	cfg := &Config{Env: testEnv()}
	for _, src := range []string{"1 / 0", "1 % 0", "x /= 0"} {
		x := parseWord(t, "$(("+src+"))").Parts[0].(*syntax.ArithmExp).X
		_, err := Arithm(cfg, x)
		c.Assert(err, qt.ErrorMatches, "division by zero", qt.Commentf("src %q", src))
	}
}

func TestTildeExpansion(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	env := envMap{"HOME": {Set: true, Kind: String, Str: "/home/me"}}
	cfg := &Config{
		Env: env,
		UserHome: func(name string) string {
			if name == "other" {
				return "/home/other"
			}
			return ""
		},
	}
	for _, tc := range []struct {
		src, want string
	}{
		{"~", "/home/me"},
		{"~/sub", "/home/me/sub"},
		{"~other/x", "/home/other/x"},
		{"~nobody", "~nobody"},
		{`"~"`, "~"},
	} {
		got, err := Fields(cfg, parseWord(t, tc.src))
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.DeepEquals, []string{tc.want}, qt.Commentf("src %q", tc.src))
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	cfg := &Config{Env: testEnv()}

	s, n, err := Format(cfg, `%s-%d\n`, []string{"x", "42"})
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 2)
	c.Assert(s, qt.Equals, "x-42\n")

	_, _, err = Format(cfg, "%", nil)
	c.Assert(err, qt.IsNil) // no args means no format directives

	_, _, err = Format(cfg, "%", []string{})
	c.Assert(err, qt.ErrorMatches, "missing format char")
}
