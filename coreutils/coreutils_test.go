// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package coreutils_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/dbreunig/just-bash/coreutils"
	"github.com/dbreunig/just-bash/interp"
	"github.com/dbreunig/just-bash/syntax"
	"github.com/dbreunig/just-bash/vfs"
)

func run(tb testing.TB, fsys *vfs.FS, src string) (string, int) {
	tb.Helper()
	file, err := syntax.NewParser().Parse(strings.NewReader(src), "")
	if err != nil {
		tb.Fatal(err)
	}
	var buf bytes.Buffer
	r, err := interp.New(
		interp.StdIO(strings.NewReader(""), &buf, &buf),
		interp.WithFS(fsys),
		interp.WithRegistry(coreutils.NewRegistry()),
	)
	if err != nil {
		tb.Fatal(err)
	}
	err = r.Run(context.Background(), file)
	return buf.String(), interp.ExitStatus(err)
}

func TestCommands(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		script string
		want   string
	}{
		{"echo hi | cat", "hi\n"},
		{"printf 'b\\na\\nc\\n' | sort", "a\nb\nc\n"},
		{"printf 'b\\na\\nc\\n' | sort -r", "c\nb\na\n"},
		{"printf '10\\n9\\n' | sort -n", "9\n10\n"},
		{"printf 'a\\na\\nb\\n' | uniq", "a\nb\n"},
		{"echo abc | tr a-c A-C", "ABC\n"},
		{"echo a.b | tr -d .", "ab\n"},
		{"printf '1\\n2\\n3\\n' | head -n 2", "1\n2\n"},
		{"printf '1\\n2\\n3\\n' | tail -n 2", "2\n3\n"},
		{"printf 'one two\\n' | wc -w", "2\n"},
		{"printf 'x\\ny\\n' | wc -l", "2\n"},
		{"basename /a/b/c.txt", "c.txt\n"},
		{"basename /a/b/c.txt .txt", "c\n"},
		{"dirname /a/b/c.txt", "/a/b\n"},
		{"seq 3", "1\n2\n3\n"},
		{"seq 2 5", "2\n3\n4\n5\n"},
		{"seq 10 -5 0", "10\n5\n0\n"},
	} {
		tc := tc
		t.Run("", func(t *testing.T) {
			t.Parallel()
			out, code := run(t, vfs.New(), tc.script)
			if out != tc.want {
				t.Errorf("script %q:\nwant %q\ngot  %q", tc.script, tc.want, out)
			}
			if code != 0 {
				t.Errorf("script %q: exit %d", tc.script, code)
			}
		})
	}
}

func TestCatFiles(t *testing.T) {
	t.Parallel()
	fsys := vfs.New()
	if err := fsys.WriteFile("/a", []byte("first\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := fsys.WriteFile("/b", []byte("second\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, code := run(t, fsys, "cat /a /b")
	if code != 0 || out != "first\nsecond\n" {
		t.Fatalf("got %q (exit %d)", out, code)
	}
}

func TestCatMissingFile(t *testing.T) {
	t.Parallel()
	out, code := run(t, vfs.New(), "cat /nope")
	if code == 0 {
		t.Fatal("expected a nonzero exit")
	}
	if !strings.Contains(out, "cat: ") {
		t.Fatalf("missing diagnostic: %q", out)
	}
}
