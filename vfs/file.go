// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package vfs

import (
	"io"
	"io/fs"
	"path"
	"time"
)

// Open flags, mirroring the os package values so that callers can use either.
const (
	O_RDONLY = 0x0
	O_WRONLY = 0x1
	O_RDWR   = 0x2
	O_APPEND = 0x400
	O_CREATE = 0x40
	O_EXCL   = 0x80
	O_TRUNC  = 0x200
)

// File is an open handle on a regular file. It implements io.Reader,
// io.Writer, io.Seeker, and io.Closer.
type File struct {
	fsys   *FS
	ino    *inode
	name   string
	flag   int
	off    int
	closed bool
}

// Open opens the named file for reading.
func (fsys *FS) Open(name string) (*File, error) {
	return fsys.OpenFile(name, O_RDONLY, 0)
}

// Create creates or truncates the named file for writing.
func (fsys *FS) Create(name string) (*File, error) {
	return fsys.OpenFile(name, O_WRONLY|O_CREATE|O_TRUNC, 0o666)
}

// OpenFile is the generalised open call. Permission bits are checked against
// the filesystem's uid; the perm bits of newly created files are masked by
// the umask.
func (fsys *FS) OpenFile(name string, flag int, perm fs.FileMode) (*File, error) {
	fsys.lock()
	defer fsys.unlock()
	ino, err := fsys.lookup("open", name, false)
	switch {
	case err == nil:
		if flag&O_EXCL != 0 {
			return nil, pathErr("open", name, fs.ErrExist)
		}
	case isNotExist(err) && flag&O_CREATE != 0:
		parent, base, derr := fsys.lookupDir("open", name)
		if derr != nil {
			return nil, derr
		}
		if !fsys.access(parent, 0o2) {
			return nil, pathErr("open", name, fs.ErrPermission)
		}
		now := time.Now()
		ino = &inode{
			mode:  perm.Perm() &^ fsys.Umask,
			uid:   fsys.Uid,
			gid:   fsys.Gid,
			mtime: now,
			atime: now,
			ctime: now,
			nlink: 1,
		}
		parent.attach(base, ino)
	default:
		return nil, err
	}
	if ino.mode.IsDir() && flag&(O_WRONLY|O_RDWR) != 0 {
		return nil, pathErr("open", name, ErrIsDir)
	}
	if ino.mode&fs.ModeSymlink != 0 {
		return nil, pathErr("open", name, ErrLoop)
	}
	switch flag & (O_RDONLY | O_WRONLY | O_RDWR) {
	case O_RDONLY:
		if !fsys.access(ino, 0o4) {
			return nil, pathErr("open", name, fs.ErrPermission)
		}
	case O_WRONLY:
		if !fsys.access(ino, 0o2) {
			return nil, pathErr("open", name, fs.ErrPermission)
		}
	case O_RDWR:
		if !fsys.access(ino, 0o6) {
			return nil, pathErr("open", name, fs.ErrPermission)
		}
	}
	f := &File{fsys: fsys, ino: ino, name: name, flag: flag}
	if flag&O_TRUNC != 0 && ino.mode.IsRegular() {
		if err := ino.truncate(fsys, 0); err != nil {
			return nil, err
		}
	}
	if flag&O_APPEND != 0 {
		f.off = len(ino.content)
	}
	return f, nil
}

func isNotExist(err error) bool {
	if pe, ok := err.(*fs.PathError); ok {
		return pe.Err == fs.ErrNotExist
	}
	return false
}

// Name returns the name the file was opened with.
func (f *File) Name() string { return f.name }

// Stat returns information about the open file.
func (f *File) Stat() (fs.FileInfo, error) {
	f.fsys.lock()
	defer f.fsys.unlock()
	return f.ino.info(path.Base(f.name)), nil
}

func (f *File) Read(p []byte) (int, error) {
	f.fsys.lock()
	defer f.fsys.unlock()
	if f.closed {
		return 0, pathErr("read", f.name, fs.ErrClosed)
	}
	if f.flag&O_WRONLY != 0 {
		return 0, pathErr("read", f.name, fs.ErrInvalid)
	}
	if f.ino.mode.IsDir() {
		return 0, pathErr("read", f.name, ErrIsDir)
	}
	if f.off >= len(f.ino.content) {
		return 0, io.EOF
	}
	n := copy(p, f.ino.content[f.off:])
	f.off += n
	f.ino.atime = time.Now()
	return n, nil
}

func (f *File) Write(p []byte) (int, error) {
	f.fsys.lock()
	defer f.fsys.unlock()
	if f.closed {
		return 0, pathErr("write", f.name, fs.ErrClosed)
	}
	if f.flag&(O_WRONLY|O_RDWR) == 0 {
		return 0, pathErr("write", f.name, fs.ErrInvalid)
	}
	if f.flag&O_APPEND != 0 {
		f.off = len(f.ino.content)
	}
	if end := f.off + len(p); end > len(f.ino.content) {
		if err := f.fsys.grow(end - len(f.ino.content)); err != nil {
			return 0, pathErr("write", f.name, err)
		}
		f.ino.content = append(f.ino.content, make([]byte, end-len(f.ino.content))...)
	}
	copy(f.ino.content[f.off:], p)
	f.off += len(p)
	f.ino.mtime = time.Now()
	return len(p), nil
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.fsys.lock()
	defer f.fsys.unlock()
	var abs int
	switch whence {
	case io.SeekStart:
		abs = int(offset)
	case io.SeekCurrent:
		abs = f.off + int(offset)
	case io.SeekEnd:
		abs = len(f.ino.content) + int(offset)
	default:
		return 0, pathErr("seek", f.name, fs.ErrInvalid)
	}
	if abs < 0 {
		return 0, pathErr("seek", f.name, fs.ErrInvalid)
	}
	f.off = abs
	return int64(abs), nil
}

// Truncate changes the size of the open file.
func (f *File) Truncate(size int64) error {
	f.fsys.lock()
	defer f.fsys.unlock()
	if f.closed {
		return pathErr("truncate", f.name, fs.ErrClosed)
	}
	return f.ino.truncate(f.fsys, int(size))
}

func (f *File) Close() error {
	f.fsys.lock()
	defer f.fsys.unlock()
	if f.closed {
		return pathErr("close", f.name, fs.ErrClosed)
	}
	f.closed = true
	return nil
}

func (f *File) bytes() []byte {
	f.fsys.lock()
	defer f.fsys.unlock()
	out := make([]byte, len(f.ino.content))
	copy(out, f.ino.content)
	return out
}
