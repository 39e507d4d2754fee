// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package interp

import (
	"context"
	"io"
	"sort"

	"github.com/dbreunig/just-bash/expand"
	"github.com/dbreunig/just-bash/vfs"
)

// HandlerContext is the set of state and streams a command is invoked with.
// Commands read from Stdin lazily, write to Stdout and Stderr, and reach the
// session's filesystem and environment only through the handles given here.
type HandlerContext struct {
	// Env is a read-only view of the environment at invocation time,
	// including exported variables and transient "foo=bar cmd" prefixes.
	Env expand.Environ

	// Dir is the working directory of the command.
	Dir string

	// FS is the session's virtual filesystem.
	FS *vfs.FS

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// AbsPath canonicalises a path against the command's working directory.
func (hc HandlerContext) AbsPath(path string) string {
	return vfs.Clean(hc.Dir, path)
}

// CommandFunc is the uniform contract implemented by every utility command:
// it receives argv with the command name at argv[0], performs its work
// through the handler context, and returns an exit code in 0..255.
// Implementations never panic; internal failures become a nonzero code plus
// a diagnostic line on Stderr.
type CommandFunc func(ctx context.Context, hc HandlerContext, args []string) int

// Registry maps command names to their implementations. Utility commands are
// registered into a session's registry by name; the evaluator consults it
// after shell functions and builtins.
type Registry struct {
	cmds map[string]CommandFunc
}

// NewRegistry returns an empty command registry.
func NewRegistry() *Registry {
	return &Registry{cmds: map[string]CommandFunc{}}
}

// Register adds a command under the given name, replacing any previous one.
func (r *Registry) Register(name string, fn CommandFunc) {
	r.cmds[name] = fn
}

// Lookup returns the command registered under name, or nil.
func (r *Registry) Lookup(name string) CommandFunc {
	if r == nil {
		return nil
	}
	return r.cmds[name]
}

// Names returns all registered command names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.cmds))
	for name := range r.cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
