// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

// Package interp implements an interpreter that executes shell programs
// entirely in-process: no subprocess is ever spawned, and all filesystem
// effects happen inside an in-memory virtual filesystem. It aims to support
// POSIX shell semantics with the common Bash extensions.
package interp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dbreunig/just-bash/expand"
	"github.com/dbreunig/just-bash/syntax"
	"github.com/dbreunig/just-bash/vfs"
)

// RunnerOption can be passed to New to alter Runner behaviour.
type RunnerOption func(*Runner) error

// Limits bounds the resources a single Run call may consume. The zero value
// of a field means its default.
type Limits struct {
	MaxStatements     int64         // AST statement nodes entered per run
	MaxCallDepth      int           // function call depth
	MaxLoopIterations int64         // iterations per loop instance
	MaxWallClock      time.Duration // wall-clock time per run
	MaxFSBytes        int64         // total bytes held by the filesystem

	// MaxPipeBuffer caps the bytes a pipe may hold before its writer
	// suspends. Pipes are implemented over io.Pipe, which buffers
	// nothing and blocks each write until it is read, so any positive
	// bound is honoured; the field exists so that callers can override
	// the table of limits uniformly.
	MaxPipeBuffer int64
}

// DefaultLimits returns the default resource limits.
func DefaultLimits() Limits {
	return Limits{
		MaxStatements:     1_000_000,
		MaxCallDepth:      256,
		MaxLoopIterations: 100_000,
		MaxWallClock:      30 * time.Second,
		MaxFSBytes:        vfs.DefaultMaxBytes,
		MaxPipeBuffer:     1 << 20,
	}
}

func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	if l.MaxStatements == 0 {
		l.MaxStatements = def.MaxStatements
	}
	if l.MaxCallDepth == 0 {
		l.MaxCallDepth = def.MaxCallDepth
	}
	if l.MaxLoopIterations == 0 {
		l.MaxLoopIterations = def.MaxLoopIterations
	}
	if l.MaxWallClock == 0 {
		l.MaxWallClock = def.MaxWallClock
	}
	if l.MaxFSBytes == 0 {
		l.MaxFSBytes = def.MaxFSBytes
	}
	if l.MaxPipeBuffer == 0 {
		l.MaxPipeBuffer = def.MaxPipeBuffer
	}
	return l
}

// LimitError is returned when a Run call exceeds one of its resource limits.
// It carries exit status 124.
type LimitError struct {
	Kind string // "statements", "call-depth", "loop-iterations", "wall-clock"
}

func (e LimitError) Error() string { return "limit exceeded: " + e.Kind }

// ErrCancelled is returned when the context passed to Run is cancelled. It
// carries exit status 130.
var ErrCancelled = errors.New("cancelled")

// exitStatus is a non-zero status code resulting from running a shell node.
type exitStatus uint8

func (s exitStatus) Error() string { return fmt.Sprintf("exit status %d", s) }

// NewExitStatus creates an error which contains the specified exit status
// code.
func NewExitStatus(status uint8) error {
	return exitStatus(status)
}

// IsExitStatus checks whether error contains an exit status and returns it.
func IsExitStatus(err error) (status uint8, ok bool) {
	var s exitStatus
	if errors.As(err, &s) {
		return uint8(s), true
	}
	return 0, false
}

// ExitStatus returns the exit status that the given Run error maps to:
// 0 for nil, 124 for limit errors, 130 for cancellation, and the contained
// status for exit status errors. Any other error maps to 1.
func ExitStatus(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrCancelled):
		return 130
	}
	var le LimitError
	if errors.As(err, &le) {
		return 124
	}
	if code, ok := IsExitStatus(err); ok {
		return int(code)
	}
	return 1
}

// counters is the run-wide mutable accounting, shared between a runner and
// all of its subshell copies.
type counters struct {
	stmts    atomic.Int64
	deadline time.Time
}

// A Runner interprets shell programs. It can be reused, but it is not safe
// for concurrent use. Use New to build a new Runner.
type Runner struct {
	// Env specifies the base environment of the interpreter, which must
	// be non-nil. It is never modified; shell assignments live in Vars.
	Env expand.Environ

	// Dir specifies the working directory of the shell as an absolute
	// path inside the virtual filesystem.
	Dir string

	// Params are the current positional parameters, e.g. from calling a
	// function. Accessible via the $@/$* family of vars.
	Params []string

	// Separate maps, note that bash allows a name to be both a var and a
	// func simultaneously.

	Vars  map[string]expand.Variable
	Funcs map[string]*syntax.Stmt

	// FS is the virtual filesystem all redirections and file commands
	// operate on. It must be non-nil.
	FS *vfs.FS

	// Registry holds the utility commands reachable from this shell,
	// consulted after functions and builtins.
	Registry *Registry

	// Limits bounds each Run call.
	Limits Limits

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// frames is the function-local scope stack; the globals live in
	// Vars. Name resolution walks the frames from top to bottom.
	frames []map[string]expand.Variable

	// like Vars, but transient to a command, i.e. "foo=bar prog"
	cmdVars map[string]string

	alias map[string]string

	ecfg *expand.Config
	ectx context.Context

	// >0 to break or continue out of N enclosing loops
	breakEnclosing, contnEnclosing int

	inLoop    bool
	inSource  bool
	noErrExit bool

	err       error // fatal error which unwinds the whole run
	exit      int   // current (last) exit status code
	exitShell bool  // whether the shell needs to exit

	didReset bool
	usedNew  bool
	filename string

	opts runnerOpts

	origDir    string
	origParams []string
	origOpts   runnerOpts
	origStdin  io.Reader
	origStdout io.Writer
	origStderr io.Writer

	bgShells *errgroup.Group

	counters *counters

	// keepRedirs is used so that "exec" can make any redirections apply
	// to the current shell, and not just the command.
	keepRedirs bool
}

// New creates a new Runner, applying a number of options. If applying any of
// the options results in an error, it is returned.
//
// Any unset options fall back to their defaults; a missing filesystem means
// a fresh empty one, and missing standard output and error writers discard
// their output.
func New(opts ...RunnerOption) (*Runner, error) {
	r := &Runner{usedNew: true, Limits: DefaultLimits()}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if r.Env == nil {
		r.Env = expand.ListEnviron()
	}
	if r.FS == nil {
		r.FS = vfs.New()
	}
	if r.Dir == "" {
		r.Dir = "/"
	}
	if r.Registry == nil {
		r.Registry = NewRegistry()
	}
	if r.stdout == nil || r.stderr == nil {
		StdIO(r.stdin, r.stdout, r.stderr)(r)
	}
	r.Limits = r.Limits.withDefaults()
	return r, nil
}

// Env sets the interpreter's base environment. If nil, an empty environment
// is used.
func Env(env expand.Environ) RunnerOption {
	return func(r *Runner) error {
		r.Env = env
		return nil
	}
}

// Dir sets the interpreter's working directory, which must be absolute.
func Dir(path string) RunnerOption {
	return func(r *Runner) error {
		if path == "" {
			r.Dir = "/"
			return nil
		}
		if path[0] != '/' {
			return fmt.Errorf("dir must be absolute: %q", path)
		}
		r.Dir = vfs.Clean("/", path)
		return nil
	}
}

// Params populates the shell options and parameters, similarly to what the
// "set" builtin does. For example, Params("-e", "--", "foo") will set the
// "-e" option and the parameters ["foo"].
func Params(args ...string) RunnerOption {
	return func(r *Runner) error {
		onlyFlags := true
		for len(args) > 0 {
			arg := args[0]
			if arg == "" || (arg[0] != '-' && arg[0] != '+') {
				onlyFlags = false
				break
			}
			if arg == "--" {
				onlyFlags = false
				args = args[1:]
				break
			}
			enable := arg[0] == '-'
			var opt *bool
			if flag := arg[1:]; flag == "o" {
				args = args[1:]
				if len(args) == 0 {
					for i, o := range &shellOptsTable {
						r.printOptLine(o.name, r.opts[i], enable)
					}
					break
				}
				opt = r.optByName(args[0], false)
			} else {
				opt = r.optByFlag(flag)
			}
			if opt == nil {
				return fmt.Errorf("invalid option: %q", arg)
			}
			*opt = enable
			args = args[1:]
		}
		if !onlyFlags {
			// If "--" wasn't given and there were zero arguments,
			// we don't want to override the current parameters.
			r.Params = args
		}
		return nil
	}
}

// StdIO configures an interpreter's standard input, standard output, and
// standard error. If out or err are nil, they default to a writer that
// discards the output.
func StdIO(in io.Reader, out, err io.Writer) RunnerOption {
	return func(r *Runner) error {
		r.stdin = in
		if out == nil {
			out = io.Discard
		}
		r.stdout = out
		if err == nil {
			err = io.Discard
		}
		r.stderr = err
		return nil
	}
}

// WithFS sets the virtual filesystem the interpreter operates on.
func WithFS(fsys *vfs.FS) RunnerOption {
	return func(r *Runner) error {
		r.FS = fsys
		return nil
	}
}

// WithRegistry sets the utility command registry.
func WithRegistry(reg *Registry) RunnerOption {
	return func(r *Runner) error {
		r.Registry = reg
		return nil
	}
}

// WithLimits overrides the default resource limits.
func WithLimits(limits Limits) RunnerOption {
	return func(r *Runner) error {
		r.Limits = limits.withDefaults()
		return nil
	}
}

type runnerOpts [len(shellOptsTable) + len(bashOptsTable)]bool

var shellOptsTable = [...]struct {
	flag, name string
}{
	// sorted alphabetically by name; use a space for the options
	// that have no flag form
	{"a", "allexport"},
	{"e", "errexit"},
	{"n", "noexec"},
	{"f", "noglob"},
	{"u", "nounset"},
	{" ", "pipefail"},
	{"x", "xtrace"},
}

var bashOptsTable = [...]string{
	// sorted alphabetically by name
	"expand_aliases",
	"failglob",
	"globstar",
	"nullglob",
}

// Access the shell option arrays without a linear search when we know which
// option we're after at compile time. First come the shell options, then the
// bash options.
const (
	optAllExport = iota
	optErrExit
	optNoExec
	optNoGlob
	optNoUnset
	optPipeFail
	optXTrace

	optExpandAliases
	optFailGlob
	optGlobStar
	optNullGlob
)

func (r *Runner) optByFlag(flag string) *bool {
	for i, opt := range &shellOptsTable {
		if opt.flag == flag {
			return &r.opts[i]
		}
	}
	return nil
}

func (r *Runner) optByName(name string, bash bool) *bool {
	if bash {
		for i, optName := range bashOptsTable {
			if optName == name {
				return &r.opts[len(shellOptsTable)+i]
			}
		}
		return nil
	}
	for i, opt := range &shellOptsTable {
		if opt.name == name {
			return &r.opts[i]
		}
	}
	return nil
}

func (r *Runner) printOptLine(name string, enabled, setFormat bool) {
	state := "off"
	if enabled {
		state = "on"
	}
	if setFormat {
		r.outf("%s\t%s\n", name, state)
	} else {
		flag := "+o"
		if enabled {
			flag = "-o"
		}
		r.outf("set %s %s\n", flag, name)
	}
}

// Reset returns a runner to its initial state, right before the first call
// to Run or Reset.
//
// Typically, this function only needs to be called if a runner is reused to
// run multiple programs non-incrementally. Not calling Reset between each
// run will mean that the shell state will be kept, including variables and
// the current directory.
func (r *Runner) Reset() {
	if !r.usedNew {
		panic("use interp.New to construct a Runner")
	}
	if !r.didReset {
		r.origDir = r.Dir
		r.origParams = r.Params
		r.origOpts = r.opts
		r.origStdin = r.stdin
		r.origStdout = r.stdout
		r.origStderr = r.stderr
	}
	// reset the internal state
	*r = Runner{
		Env:      r.Env,
		FS:       r.FS,
		Registry: r.Registry,
		Limits:   r.Limits,

		Dir:    r.origDir,
		Params: r.origParams,
		opts:   r.origOpts,
		stdin:  r.origStdin,
		stdout: r.origStdout,
		stderr: r.origStderr,

		origDir:    r.origDir,
		origParams: r.origParams,
		origOpts:   r.origOpts,
		origStdin:  r.origStdin,
		origStdout: r.origStdout,
		origStderr: r.origStderr,

		// emptied below, to reuse the space
		Vars:    r.Vars,
		cmdVars: r.cmdVars,
		usedNew: r.usedNew,
	}
	if r.Vars == nil {
		r.Vars = make(map[string]expand.Variable)
	} else {
		clear(r.Vars)
	}
	if r.cmdVars == nil {
		r.cmdVars = make(map[string]string)
	} else {
		clear(r.cmdVars)
	}
	if vr := r.Env.Get("HOME"); !vr.IsSet() {
		r.Vars["HOME"] = expand.Variable{Set: true, Kind: expand.String, Str: "/root"}
	}
	r.Vars["UID"] = expand.Variable{
		Set: true, Kind: expand.String, ReadOnly: true,
		Str: fmt.Sprintf("%d", r.FS.Uid),
	}
	r.Vars["PWD"] = expand.Variable{Set: true, Kind: expand.String, Str: r.Dir}
	r.Vars["IFS"] = expand.Variable{Set: true, Kind: expand.String, Str: " \t\n"}
	r.FS.MaxBytes = r.Limits.MaxFSBytes
	r.didReset = true
}

// Run interprets a node, which can be a *File, *Stmt, or Command. If a
// non-nil error is returned, it will typically contain a command's exit
// status, which can be retrieved with IsExitStatus.
//
// Run can be called multiple times synchronously to interpret programs
// incrementally. To reuse a Runner without keeping the internal shell state,
// call Reset.
func (r *Runner) Run(ctx context.Context, node syntax.Node) error {
	if !r.didReset {
		r.Reset()
	}
	r.counters = &counters{deadline: time.Now().Add(r.Limits.MaxWallClock)}
	r.bgShells = &errgroup.Group{}
	r.fillExpandConfig(ctx)
	r.err = nil
	r.exit = 0
	r.exitShell = false
	r.filename = ""
	switch x := node.(type) {
	case *syntax.File:
		r.filename = x.Name
		r.stmts(ctx, x.Stmts)
	case *syntax.Stmt:
		r.stmt(ctx, x)
	case syntax.Command:
		r.cmd(ctx, x)
	default:
		return fmt.Errorf("node can only be File, Stmt, or Command: %T", x)
	}
	r.bgShells.Wait()
	if r.err == nil && r.exit != 0 {
		r.setErr(NewExitStatus(uint8(r.exit)))
	}
	return r.err
}

// Exited reports whether the last Run call should exit an entire shell. This
// can be triggered by the "exit" builtin, for example.
func (r *Runner) Exited() bool {
	return r.exitShell
}

func (r *Runner) setErr(err error) {
	if r.err == nil {
		r.err = err
	}
}
