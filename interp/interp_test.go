// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package interp_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dbreunig/just-bash/interp"
	"github.com/dbreunig/just-bash/syntax"
	"github.com/dbreunig/just-bash/vfs"
)

func parse(tb testing.TB, src string) *syntax.File {
	tb.Helper()
	file, err := syntax.NewParser().Parse(strings.NewReader(src), "")
	if err != nil {
		tb.Fatal(err)
	}
	return file
}

// runScript executes src on a fresh runner and returns the combined output
// and exit code.
func runScript(tb testing.TB, src string, opts ...interp.RunnerOption) (string, int) {
	tb.Helper()
	var buf bytes.Buffer
	opts = append([]interp.RunnerOption{
		interp.StdIO(strings.NewReader(""), &buf, &buf),
	}, opts...)
	r, err := interp.New(opts...)
	if err != nil {
		tb.Fatal(err)
	}
	err = r.Run(context.Background(), parse(tb, src))
	return buf.String(), interp.ExitStatus(err)
}

type runTest struct {
	in, want string
	code     int
}

var runTests = []runTest{
	// no-op programs
	{"", "", 0},
	{"true", "", 0},
	{":", "", 0},
	{"{ :; }", "", 0},
	{"(:)", "", 0},

	// exit status codes
	{"false", "", 1},
	{"! false", "", 0},
	{"! true", "", 1},
	{"false; true", "", 0},
	{"exit 3", "", 3},
	{"exit 0; echo nope", "", 0},
	{"exit 1; echo nope", "", 1},
	{"shouldnotexist", "shouldnotexist: command not found\n", 127},

	// echo and printf
	{"echo", "\n", 0},
	{"echo a b c", "a b c\n", 0},
	{"echo -n foo", "foo", 0},
	{`echo -e 'a\tb'`, "a\tb\n", 0},
	{`echo -E 'a\tb'`, "a\\tb\n", 0},
	{"printf '%s-%d\\n' x 7", "x-7\n", 0},
	{"printf '%s\\n' a b", "a\nb\n", 0},

	// variables and quoting
	{"x=5; echo $x", "5\n", 0},
	{"x=5; echo ${x}", "5\n", 0},
	{`x='a  b'; echo $x`, "a b\n", 0},
	{`x='a  b'; echo "$x"`, "a  b\n", 0},
	{"echo ${x:-default}", "default\n", 0},
	{"x=set; echo ${x:-default}", "set\n", 0},
	{"echo ${#foo}", "0\n", 0},
	{"x=abcdef; echo ${#x} ${x:1:3} ${x%def}", "6 bcd abc\n", 0},
	{"x=hi; y=${x}there; echo $y", "hithere\n", 0},
	{"x=1; x+=2; echo $x", "12\n", 0},
	{"unset x; echo ${x-unset}", "unset\n", 0},
	{"readonly r=1; r=2; echo $?", "r: readonly variable\n1\n", 0},

	// arithmetic
	{"x=5; echo $((x * 2))", "10\n", 0},
	{"echo $((2 ** 8))", "256\n", 0},
	{"echo $((1 / 0)); echo after", "division by zero\nafter\n", 0},
	{"((5 > 3)); echo $?", "0\n", 0},
	{"((5 < 3)); echo $?", "1\n", 0},
	{"let x=2+3; echo $x", "5\n", 0},
	{"i=0; ((i++)); ((i++)); echo $i", "2\n", 0},

	// arrays
	{"a=(x y z); echo ${a[1]}", "y\n", 0},
	{`a=(x y z); echo "${a[@]}"`, "x y z\n", 0},
	{"a=(x y z); echo ${#a[@]}", "3\n", 0},
	{"a=(x y z); a[1]=Y; echo ${a[1]}", "Y\n", 0},
	{"declare -A m; m[k]=v; echo ${m[k]}", "v\n", 0},
	{`a=(one two); for e in "${a[@]}"; do echo $e; done`, "one\ntwo\n", 0},

	// control flow
	{"if true; then echo yes; fi", "yes\n", 0},
	{"if false; then echo yes; else echo no; fi", "no\n", 0},
	{"if false; then echo a; elif true; then echo b; else echo c; fi", "b\n", 0},
	{"i=0; while ((i < 3)); do echo $i; ((i++)); done", "0\n1\n2\n", 0},
	{"i=3; until ((i == 0)); do ((i--)); done; echo $i", "0\n", 0},
	{"for i in a b c; do echo $i; done", "a\nb\nc\n", 0},
	{"for ((i = 0; i < 3; i++)); do echo $i; done", "0\n1\n2\n", 0},
	{"for i in 1 2 3; do [ $i = 2 ] && break; echo $i; done", "1\n", 0},
	{"for i in 1 2 3; do [ $i = 2 ] && continue; echo $i; done", "1\n3\n", 0},
	{"case foo in f*) echo glob ;; *) echo other ;; esac", "glob\n", 0},
	{"case foo in bar) echo bar ;; *) echo other ;; esac", "other\n", 0},
	{"case a in a) echo one ;& b) echo two ;; c) echo three ;; esac", "one\ntwo\n", 0},
	{"case ab in a*) echo first ;;& *b) echo second ;; esac", "first\nsecond\n", 0},

	// functions and scoping
	{"f() { echo in-f; }; f", "in-f\n", 0},
	{"f() { echo $1 $2; }; f a b", "a b\n", 0},
	{"f() { return 3; echo no; }; f; echo $?", "3\n", 0},
	{"f() { local x=1; echo $x; }; x=0; f; echo $x", "1\n0\n", 0},
	{"x=global; f() { echo $x; }; f", "global\n", 0},
	{"f() { x=changed; }; x=orig; f; echo $x", "changed\n", 0},
	{"f() { local x=f; g; }; g() { echo $x; }; x=top; f", "f\n", 0},
	{"f() { echo $#; }; f a b c", "3\n", 0},
	{"f() { shift; echo $1; }; f a b", "b\n", 0},
	{"outer() { inner; }; inner() { echo nested; }; outer", "nested\n", 0},

	// subshells
	{"(v=1); echo ${v-unset}", "unset\n", 0},
	{"v=0; (v=1); echo $v", "0\n", 0},
	{"(cd /; :); pwd", "/\n", 0},
	{"echo $(echo inner)", "inner\n", 0},
	{"x=$(echo a; echo b); echo \"$x\"", "a\nb\n", 0},
	{"echo `echo backticks`", "backticks\n", 0},

	// pipelines
	{"echo hi | { read x; echo got:$x; }", "got:hi\n", 0},
	{"true | false; echo $?", "1\n", 0},
	{"false | true; echo $?", "0\n", 0},
	{"set -o pipefail; false | true; echo $?", "1\n", 0},
	{"! true | false; echo $?", "0\n", 0},
	{"echo a | cat0 2>/dev/null; echo $?", "127\n", 0},

	// redirections
	{"echo hi >/f; read x </f; echo $x", "hi\n", 0},
	{"echo a >/f; echo b >>/f; mapfile -t l </f; echo ${l[0]}${l[1]}", "ab\n", 0},
	{"echo oops >&2", "oops\n", 0},
	{"read x <<<here-string; echo $x", "here-string\n", 0},
	{"read x <<EOF\nheredoc body\nEOF\necho $x", "heredoc body\n", 0},
	{"v=sub; read x <<EOF\ngot $v\nEOF\necho $x", "got sub\n", 0},
	{"v=sub; read -r x <<'EOF'\ngot $v\nEOF\necho $x", "got $v\n", 0},

	// errexit and nounset
	{"set -e; false; echo nope", "", 1},
	{"set -e; if false; then :; fi; echo ok", "ok\n", 0},
	{"set -e; false || true; echo ok", "ok\n", 0},
	{"set -e; x=$(false; echo sub); echo $x", "sub\n", 0},
	{"set -u; echo $undefined; echo after", "undefined: unbound variable\nafter\n", 0},

	// test expressions
	{"[ foo = foo ]; echo $?", "0\n", 0},
	{"[ foo = bar ]; echo $?", "1\n", 0},
	{"[ 3 -lt 5 ]; echo $?", "0\n", 0},
	{"[ -z '' -a -n x ]; echo $?", "0\n", 0},
	{"[[ foo == f* ]]; echo $?", "0\n", 0},
	{"[[ foo == f ]]; echo $?", "1\n", 0},
	{"[[ abc =~ a.c$ ]]; echo $?", "0\n", 0},
	{"[[ -z $nope && -n x ]]; echo $?", "0\n", 0},
	{"touchfile() { echo x >/tf; }; touchfile; [[ -f /tf ]]; echo $?", "0\n", 0},
	{"[[ -d / ]]; echo $?", "0\n", 0},

	// eval, aliases, type
	{"eval 'echo evaled'", "evaled\n", 0},
	{"x=5; eval \"echo \\$x\"", "5\n", 0},
	{"shopt -s expand_aliases; alias hi='echo hello'; hi", "hello\n", 0},
	{"type type", "type is a shell builtin\n", 0},
	{"f() { :; }; type f", "f is a function\n", 0},
	{"type if", "if is a shell keyword\n", 0},
	{"command -v echo", "echo\n", 0},

	// shift, IFS
	{"set -- a b c; echo $2; shift; echo $1", "b\nb\n", 0},
	{"set -- a b c; echo $#", "3\n", 0},
	{`IFS=:; x="a:b"; set -- $x; echo $#`, "2\n", 0},

	// cd and pwd
	{"mkdirp() { :; }; cd /; pwd", "/\n", 0},
	{"cd /nonexistent; echo $?", "cd: /nonexistent: no such directory\n1\n", 0},
}

func TestRun(t *testing.T) {
	t.Parallel()
	for _, tc := range runTests {
		tc := tc
		t.Run("", func(t *testing.T) {
			t.Parallel()
			fsys := vfs.New()
			fsys.MkdirAll("/dev", 0o755)
			fsys.WriteFile("/dev/null", nil, 0o666)
			out, code := runScript(t, tc.in, interp.WithFS(fsys))
			if out != tc.want {
				t.Errorf("script %q:\nwant output %q\ngot  %q", tc.in, tc.want, out)
			}
			if code != tc.code {
				t.Errorf("script %q: want exit %d, got %d", tc.in, tc.code, code)
			}
		})
	}
}

func TestStatementLimit(t *testing.T) {
	t.Parallel()
	out, code := runScript(t, "while true; do :; done",
		interp.WithLimits(interp.Limits{MaxStatements: 1000}))
	if code != 124 {
		t.Fatalf("want exit 124, got %d (output %q)", code, out)
	}
}

func TestLoopIterationLimit(t *testing.T) {
	t.Parallel()
	out, code := runScript(t, "for ((;;)); do :; done",
		interp.WithLimits(interp.Limits{MaxLoopIterations: 100}))
	if code != 124 {
		t.Fatalf("want exit 124, got %d (output %q)", code, out)
	}
}

func TestCallDepthLimit(t *testing.T) {
	t.Parallel()
	out, code := runScript(t, "f() { f; }; f",
		interp.WithLimits(interp.Limits{MaxCallDepth: 10}))
	if code != 124 {
		t.Fatalf("want exit 124, got %d (output %q)", code, out)
	}
}

func TestWallClockLimit(t *testing.T) {
	t.Parallel()
	out, code := runScript(t, "while true; do :; done",
		interp.WithLimits(interp.Limits{MaxWallClock: 50 * time.Millisecond}))
	if code != 124 {
		t.Fatalf("want exit 124, got %d (output %q)", code, out)
	}
}

func TestCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, err := interp.New()
	if err != nil {
		t.Fatal(err)
	}
	err = r.Run(ctx, parse(t, "echo hi"))
	if code := interp.ExitStatus(err); code != 130 {
		t.Fatalf("want exit 130, got %d", code)
	}
}

func TestRunnerReuse(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	r, err := interp.New(interp.StdIO(nil, &buf, &buf))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := r.Run(ctx, parse(t, "x=persists; cd /; f() { echo func; }")); err != nil {
		t.Fatal(err)
	}
	if err := r.Run(ctx, parse(t, "echo $x; f")); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "persists\nfunc\n" {
		t.Fatalf("state did not persist across runs: %q", got)
	}
}

func TestFSQuotaLimit(t *testing.T) {
	t.Parallel()
	out, code := runScript(t, "echo 0123456789 >/f; echo $?",
		interp.WithLimits(interp.Limits{MaxFSBytes: 5}))
	if code != 0 {
		t.Fatalf("unexpected exit %d", code)
	}
	if !strings.Contains(out, "no space left on device") || !strings.HasSuffix(out, "1\n") {
		t.Fatalf("want quota failure, got %q", out)
	}
}
