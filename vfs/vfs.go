// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

// Package vfs implements an in-memory filesystem with a POSIX-like surface:
// a tree of inodes with permission bits, symbolic and hard links, and
// modification times. It never touches the host filesystem.
package vfs

import (
	"errors"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// Sentinel errors returned inside *fs.PathError values.
var (
	ErrNotDir = errors.New("not a directory")
	ErrIsDir  = errors.New("is a directory")
	ErrLoop   = errors.New("too many levels of symbolic links")
	ErrNoSpace = errors.New("no space left on device")
	ErrNotEmpty = errors.New("directory not empty")
)

// maxSymlinkDepth bounds symlink resolution; exceeding it fails with ErrLoop.
const maxSymlinkDepth = 40

// DefaultMaxBytes is the default quota for the total content bytes held by a
// filesystem.
const DefaultMaxBytes = 64 << 20

// FS is an in-memory filesystem. The zero value is not usable; use New.
//
// An FS may be shared by concurrent pipeline tasks, so every operation takes
// the filesystem lock and is observable all-or-nothing.
type FS struct {
	root *inode

	// Uid and Gid are the owner of new files and the subject of
	// permission checks. Uid 0 bypasses permission checks.
	Uid, Gid int

	// Umask is applied to the mode bits of newly created files.
	Umask fs.FileMode

	// MaxBytes caps the total content bytes; writes beyond it fail with
	// ErrNoSpace.
	MaxBytes int64

	used int64

	mu sync.Mutex
}

type inode struct {
	mode    fs.FileMode // type bits and permissions
	uid     int
	gid     int
	mtime   time.Time
	atime   time.Time
	ctime   time.Time
	content []byte            // regular files
	target  string            // symlinks
	entries map[string]*inode // directories
	order   []string          // insertion order of entries
	nlink   int
}

// New returns an empty filesystem with only a root directory, owned by uid
// 1000 with mode 0755 and a 022 umask.
func New() *FS {
	now := time.Now()
	fsys := &FS{
		Uid:      1000,
		Gid:      1000,
		Umask:    0o022,
		MaxBytes: DefaultMaxBytes,
		root: &inode{
			mode:    fs.ModeDir | 0o755,
			uid:     1000,
			gid:     1000,
			mtime:   now,
			atime:   now,
			ctime:   now,
			entries: map[string]*inode{},
			nlink:   1,
		},
	}
	return fsys
}

func (fsys *FS) lock()   { fsys.mu.Lock() }
func (fsys *FS) unlock() { fsys.mu.Unlock() }

func pathErr(op, name string, err error) error {
	return &fs.PathError{Op: op, Path: name, Err: err}
}

// Clean canonicalises a path against the given working directory: the result
// is absolute with "." and ".." folded. A trailing slash is kept so that the
// final component can be forced to resolve to a directory.
func Clean(cwd, name string) string {
	if !strings.HasPrefix(name, "/") {
		name = cwd + "/" + name
	}
	slash := strings.HasSuffix(name, "/") && len(name) > 1
	name = path.Clean(name)
	if slash && name != "/" {
		name += "/"
	}
	return name
}

// resolve walks the path down from the root, following symlinks. If
// lstat is true, a symlink in the final component is returned itself.
// Directory traversal requires execute permission on every directory
// walked through.
func (fsys *FS) resolve(op, name string, lstat bool, depth *int) (*inode, error) {
	name = strings.TrimPrefix(name, "/")
	dirOnly := strings.HasSuffix(name, "/")
	cur := fsys.root
	parts := strings.Split(name, "/")
	if name == "" {
		parts = nil
	}
	for i, part := range parts {
		if part == "" {
			continue
		}
		if !cur.mode.IsDir() {
			return nil, pathErr(op, name, ErrNotDir)
		}
		if !fsys.access(cur, 0o1) {
			return nil, pathErr(op, name, fs.ErrPermission)
		}
		child, ok := cur.entries[part]
		if !ok {
			return nil, pathErr(op, name, fs.ErrNotExist)
		}
		last := i == len(parts)-1
		if child.mode&fs.ModeSymlink != 0 && (!last || !lstat || dirOnly) {
			if *depth++; *depth > maxSymlinkDepth {
				return nil, pathErr(op, name, ErrLoop)
			}
			target := child.target
			if !strings.HasPrefix(target, "/") {
				target = "/" + strings.Join(parts[:i], "/") + "/" + target
			}
			rest := strings.Join(parts[i+1:], "/")
			if rest != "" {
				target += "/" + rest
			} else if dirOnly {
				target += "/"
			}
			return fsys.resolve(op, Clean("/", target), lstat, depth)
		}
		cur = child
	}
	if dirOnly && !cur.mode.IsDir() {
		return nil, pathErr(op, name, ErrNotDir)
	}
	return cur, nil
}

func (fsys *FS) lookup(op, name string, lstat bool) (*inode, error) {
	depth := 0
	return fsys.resolve(op, name, lstat, &depth)
}

// lookupDir resolves the parent directory of name and returns it along with
// the final path component.
func (fsys *FS) lookupDir(op, name string) (*inode, string, error) {
	name = strings.TrimSuffix(name, "/")
	dir, base := path.Split(name)
	if base == "" || base == "." || base == ".." {
		return nil, "", pathErr(op, name, fs.ErrInvalid)
	}
	parent, err := fsys.lookup(op, Clean("/", dir+"/"), false)
	if err != nil {
		return nil, "", err
	}
	if !parent.mode.IsDir() {
		return nil, "", pathErr(op, name, ErrNotDir)
	}
	return parent, base, nil
}

// access checks the given permission bits (one of 4, 2, 1) for the
// filesystem's uid against an inode. Uid 0 bypasses all checks.
func (fsys *FS) access(ino *inode, want fs.FileMode) bool {
	if fsys.Uid == 0 {
		return true
	}
	perm := ino.mode.Perm()
	switch {
	case ino.uid == fsys.Uid:
		perm >>= 6
	case ino.gid == fsys.Gid:
		perm >>= 3
	}
	return perm&want == want
}

func (fsys *FS) grow(n int) error {
	if fsys.used+int64(n) > fsys.MaxBytes {
		return ErrNoSpace
	}
	fsys.used += int64(n)
	return nil
}

// Stat returns file information for the given path, following symlinks.
func (fsys *FS) Stat(name string) (fs.FileInfo, error) {
	fsys.lock()
	defer fsys.unlock()
	ino, err := fsys.lookup("stat", name, false)
	if err != nil {
		return nil, err
	}
	return ino.info(path.Base(name)), nil
}

// Lstat is like Stat, but does not follow a symlink in the final component.
func (fsys *FS) Lstat(name string) (fs.FileInfo, error) {
	fsys.lock()
	defer fsys.unlock()
	ino, err := fsys.lookup("lstat", name, true)
	if err != nil {
		return nil, err
	}
	return ino.info(path.Base(name)), nil
}

// Mkdir creates a directory with the given permission bits, as masked by the
// umask.
func (fsys *FS) Mkdir(name string, perm fs.FileMode) error {
	fsys.lock()
	defer fsys.unlock()
	return fsys.mkdir(name, perm)
}

func (fsys *FS) mkdir(name string, perm fs.FileMode) error {
	parent, base, err := fsys.lookupDir("mkdir", name)
	if err != nil {
		return err
	}
	if _, ok := parent.entries[base]; ok {
		return pathErr("mkdir", name, fs.ErrExist)
	}
	if !fsys.access(parent, 0o2) {
		return pathErr("mkdir", name, fs.ErrPermission)
	}
	now := time.Now()
	parent.attach(base, &inode{
		mode:    fs.ModeDir | (perm.Perm() &^ fsys.Umask),
		uid:     fsys.Uid,
		gid:     fsys.Gid,
		mtime:   now,
		atime:   now,
		ctime:   now,
		entries: map[string]*inode{},
		nlink:   1,
	})
	return nil
}

// MkdirAll creates a directory along with any necessary parents.
func (fsys *FS) MkdirAll(name string, perm fs.FileMode) error {
	fsys.lock()
	defer fsys.unlock()
	name = Clean("/", name)
	var build strings.Builder
	for _, part := range strings.Split(strings.TrimPrefix(name, "/"), "/") {
		if part == "" {
			continue
		}
		build.WriteString("/")
		build.WriteString(part)
		sub := build.String()
		if ino, err := fsys.lookup("mkdir", sub, false); err == nil {
			if !ino.mode.IsDir() {
				return pathErr("mkdir", sub, ErrNotDir)
			}
			continue
		}
		if err := fsys.mkdir(sub, perm); err != nil {
			return err
		}
	}
	return nil
}

// Rmdir removes an empty directory.
func (fsys *FS) Rmdir(name string) error {
	fsys.lock()
	defer fsys.unlock()
	parent, base, err := fsys.lookupDir("rmdir", name)
	if err != nil {
		return err
	}
	ino, ok := parent.entries[base]
	if !ok {
		return pathErr("rmdir", name, fs.ErrNotExist)
	}
	if !ino.mode.IsDir() {
		return pathErr("rmdir", name, ErrNotDir)
	}
	if len(ino.entries) > 0 {
		return pathErr("rmdir", name, ErrNotEmpty)
	}
	if !fsys.access(parent, 0o2) {
		return pathErr("rmdir", name, fs.ErrPermission)
	}
	parent.detach(base)
	return nil
}

// Remove removes a file or symlink; directories must be removed with Rmdir.
func (fsys *FS) Remove(name string) error {
	fsys.lock()
	defer fsys.unlock()
	parent, base, err := fsys.lookupDir("remove", name)
	if err != nil {
		return err
	}
	ino, ok := parent.entries[base]
	if !ok {
		return pathErr("remove", name, fs.ErrNotExist)
	}
	if ino.mode.IsDir() {
		return pathErr("remove", name, ErrIsDir)
	}
	if !fsys.access(parent, 0o2) {
		return pathErr("remove", name, fs.ErrPermission)
	}
	parent.detach(base)
	if ino.nlink--; ino.nlink == 0 && ino.mode.IsRegular() {
		fsys.used -= int64(len(ino.content))
	}
	return nil
}

// RemoveAll removes name and any children it contains.
func (fsys *FS) RemoveAll(name string) error {
	fsys.lock()
	defer fsys.unlock()
	parent, base, err := fsys.lookupDir("removeall", name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	ino, ok := parent.entries[base]
	if !ok {
		return nil
	}
	if !fsys.access(parent, 0o2) {
		return pathErr("removeall", name, fs.ErrPermission)
	}
	fsys.release(ino)
	parent.detach(base)
	return nil
}

func (fsys *FS) release(ino *inode) {
	if ino.mode.IsDir() {
		for _, child := range ino.entries {
			fsys.release(child)
		}
		return
	}
	if ino.nlink--; ino.nlink == 0 && ino.mode.IsRegular() {
		fsys.used -= int64(len(ino.content))
	}
}

// Rename atomically moves oldname to newname, replacing any existing file at
// the destination.
func (fsys *FS) Rename(oldname, newname string) error {
	fsys.lock()
	defer fsys.unlock()
	oldParent, oldBase, err := fsys.lookupDir("rename", oldname)
	if err != nil {
		return err
	}
	ino, ok := oldParent.entries[oldBase]
	if !ok {
		return pathErr("rename", oldname, fs.ErrNotExist)
	}
	newParent, newBase, err := fsys.lookupDir("rename", newname)
	if err != nil {
		return err
	}
	if !fsys.access(oldParent, 0o2) || !fsys.access(newParent, 0o2) {
		return pathErr("rename", newname, fs.ErrPermission)
	}
	if prev, ok := newParent.entries[newBase]; ok {
		if prev == ino {
			return nil
		}
		if prev.mode.IsDir() {
			if !ino.mode.IsDir() {
				return pathErr("rename", newname, ErrIsDir)
			}
			if len(prev.entries) > 0 {
				return pathErr("rename", newname, ErrNotEmpty)
			}
		}
		fsys.release(prev)
		newParent.detach(newBase)
	}
	oldParent.detach(oldBase)
	newParent.attach(newBase, ino)
	ino.ctime = time.Now()
	return nil
}

// Symlink creates a symbolic link at newname pointing at target.
func (fsys *FS) Symlink(target, newname string) error {
	fsys.lock()
	defer fsys.unlock()
	parent, base, err := fsys.lookupDir("symlink", newname)
	if err != nil {
		return err
	}
	if _, ok := parent.entries[base]; ok {
		return pathErr("symlink", newname, fs.ErrExist)
	}
	if !fsys.access(parent, 0o2) {
		return pathErr("symlink", newname, fs.ErrPermission)
	}
	now := time.Now()
	parent.attach(base, &inode{
		mode:   fs.ModeSymlink | 0o777,
		uid:    fsys.Uid,
		gid:    fsys.Gid,
		mtime:  now,
		atime:  now,
		ctime:  now,
		target: target,
		nlink:  1,
	})
	return nil
}

// Readlink returns the target of a symbolic link.
func (fsys *FS) Readlink(name string) (string, error) {
	fsys.lock()
	defer fsys.unlock()
	ino, err := fsys.lookup("readlink", name, true)
	if err != nil {
		return "", err
	}
	if ino.mode&fs.ModeSymlink == 0 {
		return "", pathErr("readlink", name, fs.ErrInvalid)
	}
	return ino.target, nil
}

// Link creates a hard link at newname for the file at oldname. Hard links to
// directories are forbidden.
func (fsys *FS) Link(oldname, newname string) error {
	fsys.lock()
	defer fsys.unlock()
	ino, err := fsys.lookup("link", oldname, true)
	if err != nil {
		return err
	}
	if ino.mode.IsDir() {
		return pathErr("link", oldname, fs.ErrPermission)
	}
	parent, base, err := fsys.lookupDir("link", newname)
	if err != nil {
		return err
	}
	if _, ok := parent.entries[base]; ok {
		return pathErr("link", newname, fs.ErrExist)
	}
	if !fsys.access(parent, 0o2) {
		return pathErr("link", newname, fs.ErrPermission)
	}
	ino.nlink++
	parent.attach(base, ino)
	return nil
}

// Chmod changes the permission bits of the named file.
func (fsys *FS) Chmod(name string, perm fs.FileMode) error {
	fsys.lock()
	defer fsys.unlock()
	ino, err := fsys.lookup("chmod", name, false)
	if err != nil {
		return err
	}
	if fsys.Uid != 0 && ino.uid != fsys.Uid {
		return pathErr("chmod", name, fs.ErrPermission)
	}
	ino.mode = ino.mode&^fs.ModePerm | perm.Perm()
	ino.ctime = time.Now()
	return nil
}

// Chtimes changes the access and modification times of the named file.
func (fsys *FS) Chtimes(name string, atime, mtime time.Time) error {
	fsys.lock()
	defer fsys.unlock()
	ino, err := fsys.lookup("utimes", name, false)
	if err != nil {
		return err
	}
	if !atime.IsZero() {
		ino.atime = atime
	}
	if !mtime.IsZero() {
		ino.mtime = mtime
	}
	return nil
}

// ReadDir returns the entries of the named directory in insertion order.
func (fsys *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	fsys.lock()
	defer fsys.unlock()
	ino, err := fsys.lookup("readdir", name, false)
	if err != nil {
		return nil, err
	}
	if !ino.mode.IsDir() {
		return nil, pathErr("readdir", name, ErrNotDir)
	}
	if !fsys.access(ino, 0o4) {
		return nil, pathErr("readdir", name, fs.ErrPermission)
	}
	entries := make([]fs.DirEntry, 0, len(ino.order))
	for _, base := range ino.order {
		entries = append(entries, dirEntry{name: base, ino: ino.entries[base]})
	}
	return entries, nil
}

// ReadDirSorted is like ReadDir with the entries sorted by name, as pathname
// expansion wants them.
func (fsys *FS) ReadDirSorted(name string) ([]fs.DirEntry, error) {
	entries, err := fsys.ReadDir(name)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	return entries, nil
}

// ReadFile returns the contents of the named file.
func (fsys *FS) ReadFile(name string) ([]byte, error) {
	f, err := fsys.OpenFile(name, O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.bytes(), nil
}

// WriteFile writes data to the named file, creating it if necessary.
func (fsys *FS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	f, err := fsys.OpenFile(name, O_WRONLY|O_CREATE|O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Truncate changes the size of the named file.
func (fsys *FS) Truncate(name string, size int64) error {
	fsys.lock()
	defer fsys.unlock()
	ino, err := fsys.lookup("truncate", name, false)
	if err != nil {
		return err
	}
	if ino.mode.IsDir() {
		return pathErr("truncate", name, ErrIsDir)
	}
	if !fsys.access(ino, 0o2) {
		return pathErr("truncate", name, fs.ErrPermission)
	}
	return ino.truncate(fsys, int(size))
}

func (ino *inode) truncate(fsys *FS, size int) error {
	switch {
	case size < len(ino.content):
		fsys.used -= int64(len(ino.content) - size)
		ino.content = ino.content[:size]
	case size > len(ino.content):
		if err := fsys.grow(size - len(ino.content)); err != nil {
			return err
		}
		ino.content = append(ino.content, make([]byte, size-len(ino.content))...)
	}
	ino.mtime = time.Now()
	return nil
}

func (ino *inode) info(name string) fs.FileInfo {
	return fileInfo{name: name, ino: ino}
}

func (ino *inode) attach(base string, child *inode) {
	ino.entries[base] = child
	ino.order = append(ino.order, base)
	ino.mtime = time.Now()
}

func (ino *inode) detach(base string) {
	delete(ino.entries, base)
	for i, s := range ino.order {
		if s == base {
			ino.order = append(ino.order[:i], ino.order[i+1:]...)
			break
		}
	}
	ino.mtime = time.Now()
}

type fileInfo struct {
	name string
	ino  *inode
}

func (fi fileInfo) Name() string { return fi.name }
func (fi fileInfo) Size() int64 {
	if fi.ino.mode&fs.ModeSymlink != 0 {
		return int64(len(fi.ino.target))
	}
	return int64(len(fi.ino.content))
}
func (fi fileInfo) Mode() fs.FileMode  { return fi.ino.mode }
func (fi fileInfo) ModTime() time.Time { return fi.ino.mtime }
func (fi fileInfo) IsDir() bool        { return fi.ino.mode.IsDir() }
func (fi fileInfo) Sys() any           { return fi.ino }

type dirEntry struct {
	name string
	ino  *inode
}

func (de dirEntry) Name() string               { return de.name }
func (de dirEntry) IsDir() bool                { return de.ino.mode.IsDir() }
func (de dirEntry) Type() fs.FileMode          { return de.ino.mode.Type() }
func (de dirEntry) Info() (fs.FileInfo, error) { return de.ino.info(de.name), nil }
