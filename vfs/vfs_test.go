// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package vfs

import (
	"errors"
	"io"
	"io/fs"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/rogpeppe/go-internal/txtar"
)

// buildFS seeds a filesystem from a txtar archive, one file per entry.
func buildFS(tb testing.TB, archive string) *FS {
	tb.Helper()
	fsys := New()
	ar := txtar.Parse([]byte(archive))
	for _, file := range ar.Files {
		name := "/" + file.Name
		if i := strings.LastIndex(name, "/"); i > 0 {
			if err := fsys.MkdirAll(name[:i], 0o755); err != nil {
				tb.Fatal(err)
			}
		}
		if err := fsys.WriteFile(name, file.Data, 0o644); err != nil {
			tb.Fatal(err)
		}
	}
	return fsys
}

func TestReadWriteRoundTrip(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	fsys := New()
	for _, body := range []string{"", "x", "line\n", "nul-free \x01 bytes"} {
		err := fsys.WriteFile("/f", []byte(body), 0o644)
		c.Assert(err, qt.IsNil)
		got, err := fsys.ReadFile("/f")
		c.Assert(err, qt.IsNil)
		c.Assert(string(got), qt.Equals, body)
	}
}

func TestTreeFromTxtar(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	fsys := buildFS(t, `
-- etc/passwd --
root:x:0:0
-- home/me/notes.txt --
note one
-- home/me/sub/deep.txt --
deep
`)
	info, err := fsys.Stat("/home/me")
	c.Assert(err, qt.IsNil)
	c.Assert(info.IsDir(), qt.IsTrue)

	body, err := fsys.ReadFile("/home/me/notes.txt")
	c.Assert(err, qt.IsNil)
	c.Assert(string(body), qt.Equals, "note one\n")

	entries, err := fsys.ReadDir("/home/me")
	c.Assert(err, qt.IsNil)
	c.Assert(len(entries), qt.Equals, 2)
}

func TestMkdirAndRmdir(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	fsys := New()
	c.Assert(fsys.Mkdir("/d", 0o755), qt.IsNil)
	c.Assert(fsys.Mkdir("/d", 0o755), qt.ErrorMatches, `.*file already exists`)
	c.Assert(fsys.WriteFile("/d/f", []byte("x"), 0o644), qt.IsNil)
	err := fsys.Rmdir("/d")
	c.Assert(errors.Is(err.(*fs.PathError).Err, ErrNotEmpty), qt.IsTrue)
	c.Assert(fsys.Remove("/d/f"), qt.IsNil)
	c.Assert(fsys.Rmdir("/d"), qt.IsNil)
	_, err = fsys.Stat("/d")
	c.Assert(errors.Is(err, fs.ErrNotExist), qt.IsTrue)
}

func TestSymlinks(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	fsys := New()
	c.Assert(fsys.MkdirAll("/a/b", 0o755), qt.IsNil)
	c.Assert(fsys.WriteFile("/a/b/f", []byte("via link"), 0o644), qt.IsNil)
	c.Assert(fsys.Symlink("/a/b", "/link"), qt.IsNil)

	body, err := fsys.ReadFile("/link/f")
	c.Assert(err, qt.IsNil)
	c.Assert(string(body), qt.Equals, "via link")

	target, err := fsys.Readlink("/link")
	c.Assert(err, qt.IsNil)
	c.Assert(target, qt.Equals, "/a/b")

	info, err := fsys.Lstat("/link")
	c.Assert(err, qt.IsNil)
	c.Assert(info.Mode()&fs.ModeSymlink != 0, qt.IsTrue)

	// relative target
	c.Assert(fsys.Symlink("f", "/a/b/g"), qt.IsNil)
	body, err = fsys.ReadFile("/a/b/g")
	c.Assert(err, qt.IsNil)
	c.Assert(string(body), qt.Equals, "via link")
}

func TestSymlinkLoop(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	fsys := New()
	c.Assert(fsys.Symlink("/b", "/a"), qt.IsNil)
	c.Assert(fsys.Symlink("/a", "/b"), qt.IsNil)
	_, err := fsys.Stat("/a/x")
	c.Assert(errors.Is(err.(*fs.PathError).Err, ErrLoop), qt.IsTrue)
}

func TestHardLinks(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	fsys := New()
	c.Assert(fsys.WriteFile("/f", []byte("shared"), 0o644), qt.IsNil)
	c.Assert(fsys.Link("/f", "/g"), qt.IsNil)

	// writing through one name is visible through the other
	c.Assert(fsys.WriteFile("/g", []byte("changed"), 0o644), qt.IsNil)
	body, err := fsys.ReadFile("/f")
	c.Assert(err, qt.IsNil)
	c.Assert(string(body), qt.Equals, "changed")

	// directories cannot be hard linked
	c.Assert(fsys.Mkdir("/d", 0o755), qt.IsNil)
	err = fsys.Link("/d", "/d2")
	c.Assert(err, qt.IsNotNil)

	c.Assert(fsys.Remove("/f"), qt.IsNil)
	body, err = fsys.ReadFile("/g")
	c.Assert(err, qt.IsNil)
	c.Assert(string(body), qt.Equals, "changed")
}

func TestRename(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	fsys := New()
	c.Assert(fsys.MkdirAll("/a", 0o755), qt.IsNil)
	c.Assert(fsys.MkdirAll("/b", 0o755), qt.IsNil)
	c.Assert(fsys.WriteFile("/a/f", []byte("move me"), 0o644), qt.IsNil)
	c.Assert(fsys.Rename("/a/f", "/b/g"), qt.IsNil)
	_, err := fsys.Stat("/a/f")
	c.Assert(err, qt.IsNotNil)
	body, err := fsys.ReadFile("/b/g")
	c.Assert(err, qt.IsNil)
	c.Assert(string(body), qt.Equals, "move me")
}

func TestPermissions(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	fsys := New()
	c.Assert(fsys.WriteFile("/secret", []byte("x"), 0o600), qt.IsNil)
	c.Assert(fsys.Chmod("/secret", 0o000), qt.IsNil)
	_, err := fsys.Open("/secret")
	c.Assert(errors.Is(err.(*fs.PathError).Err, fs.ErrPermission), qt.IsTrue)

	// root bypasses permission checks
	fsys.Uid = 0
	_, err = fsys.Open("/secret")
	c.Assert(err, qt.IsNil)
}

func TestUmask(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	fsys := New()
	c.Assert(fsys.WriteFile("/f", nil, 0o666), qt.IsNil)
	info, err := fsys.Stat("/f")
	c.Assert(err, qt.IsNil)
	c.Assert(info.Mode().Perm(), qt.Equals, fs.FileMode(0o644))
}

func TestQuota(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	fsys := New()
	fsys.MaxBytes = 10
	c.Assert(fsys.WriteFile("/f", []byte("12345"), 0o644), qt.IsNil)
	err := fsys.WriteFile("/g", []byte("123456789"), 0o644)
	c.Assert(errors.Is(err.(*fs.PathError).Err, ErrNoSpace), qt.IsTrue)

	// removing frees space
	c.Assert(fsys.Remove("/f"), qt.IsNil)
	c.Assert(fsys.WriteFile("/g2", []byte("123456789"), 0o644), qt.IsNil)
}

func TestOpenFileModes(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	fsys := New()
	c.Assert(fsys.WriteFile("/f", []byte("start\n"), 0o644), qt.IsNil)

	f, err := fsys.OpenFile("/f", O_WRONLY|O_APPEND, 0)
	c.Assert(err, qt.IsNil)
	_, err = f.Write([]byte("more\n"))
	c.Assert(err, qt.IsNil)
	c.Assert(f.Close(), qt.IsNil)

	body, err := fsys.ReadFile("/f")
	c.Assert(err, qt.IsNil)
	c.Assert(string(body), qt.Equals, "start\nmore\n")

	// O_TRUNC rewrites from scratch
	f, err = fsys.OpenFile("/f", O_WRONLY|O_CREATE|O_TRUNC, 0o644)
	c.Assert(err, qt.IsNil)
	_, err = io.WriteString(f, "new")
	c.Assert(err, qt.IsNil)
	c.Assert(f.Close(), qt.IsNil)
	body, err = fsys.ReadFile("/f")
	c.Assert(err, qt.IsNil)
	c.Assert(string(body), qt.Equals, "new")

	// O_EXCL fails on existing files
	_, err = fsys.OpenFile("/f", O_WRONLY|O_CREATE|O_EXCL, 0o644)
	c.Assert(errors.Is(err.(*fs.PathError).Err, fs.ErrExist), qt.IsTrue)
}

func TestDirOrderAndTimes(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	fsys := New()
	for _, name := range []string{"/c", "/a", "/b"} {
		c.Assert(fsys.WriteFile(name, nil, 0o644), qt.IsNil)
	}
	entries, err := fsys.ReadDir("/")
	c.Assert(err, qt.IsNil)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	// insertion order is preserved for deterministic listings
	c.Assert(names, qt.DeepEquals, []string{"c", "a", "b"})

	sorted, err := fsys.ReadDirSorted("/")
	c.Assert(err, qt.IsNil)
	names = names[:0]
	for _, e := range sorted {
		names = append(names, e.Name())
	}
	c.Assert(names, qt.DeepEquals, []string{"a", "b", "c"})

	when := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	c.Assert(fsys.Chtimes("/a", when, when), qt.IsNil)
	info, err := fsys.Stat("/a")
	c.Assert(err, qt.IsNil)
	c.Assert(info.ModTime().Equal(when), qt.IsTrue)
}

func TestClean(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		cwd, path, want string
	}{
		{"/", "f", "/f"},
		{"/a", "f", "/a/f"},
		{"/a", "/f", "/f"},
		{"/a/b", "../f", "/a/f"},
		{"/a", "./f/", "/a/f/"},
		{"/", "..", "/"},
		{"/a", ".", "/a"},
	} {
		if got := Clean(tc.cwd, tc.path); got != tc.want {
			t.Errorf("Clean(%q, %q) = %q, want %q", tc.cwd, tc.path, got, tc.want)
		}
	}
}
