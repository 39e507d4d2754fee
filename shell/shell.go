// Copyright (c) 2018, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

// Package shell exposes the sandboxed interpreter through a session API: a
// long-lived state container holding the environment, working directory,
// virtual filesystem, functions, aliases, and limits, which survives across
// Run calls.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dbreunig/just-bash/coreutils"
	"github.com/dbreunig/just-bash/expand"
	"github.com/dbreunig/just-bash/interp"
	"github.com/dbreunig/just-bash/syntax"
	"github.com/dbreunig/just-bash/vfs"
)

// Config describes the initial state of a session. The zero value is a
// usable empty sandbox.
type Config struct {
	// Files seeds the virtual filesystem: absolute path to file body.
	// Parent directories are created as needed.
	Files map[string]string `yaml:"files"`

	// Env is the initial environment; all of its variables are exported.
	Env map[string]string `yaml:"env"`

	// Cwd is the initial working directory, created if missing.
	// Defaults to "/".
	Cwd string `yaml:"cwd"`

	// NetworkEnabled gates any network-reaching commands a caller may
	// register; the core registers none. Defaults to false.
	NetworkEnabled bool `yaml:"network_enabled"`

	// Limits overrides the default resource limits.
	Limits LimitsConfig `yaml:"limits"`

	// Registry injects the utility commands available to scripts. If
	// nil, the coreutils set is used.
	Registry *interp.Registry `yaml:"-"`
}

// LimitsConfig is the YAML-friendly form of interp.Limits.
type LimitsConfig struct {
	MaxStatements     int64  `yaml:"max_statements"`
	MaxCallDepth      int    `yaml:"max_call_depth"`
	MaxLoopIterations int64  `yaml:"max_loop_iterations"`
	MaxWallClock      string `yaml:"max_wall_clock"` // e.g. "30s"
	MaxFSBytes        int64  `yaml:"max_fs_bytes"`
	MaxPipeBuffer     int64  `yaml:"max_pipe_buffer"`
}

func (lc LimitsConfig) limits() (interp.Limits, error) {
	l := interp.Limits{
		MaxStatements:     lc.MaxStatements,
		MaxCallDepth:      lc.MaxCallDepth,
		MaxLoopIterations: lc.MaxLoopIterations,
		MaxFSBytes:        lc.MaxFSBytes,
		MaxPipeBuffer:     lc.MaxPipeBuffer,
	}
	if lc.MaxWallClock != "" {
		d, err := time.ParseDuration(lc.MaxWallClock)
		if err != nil {
			return l, fmt.Errorf("limits.max_wall_clock: %w", err)
		}
		l.MaxWallClock = d
	}
	return l, nil
}

// LoadConfig reads a YAML session configuration.
func LoadConfig(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("loading session config: %w", err)
	}
	return cfg, nil
}

// Result is the outcome of running a script.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ErrSessionBusy is returned when Run or Exec is called while another call
// is still in flight on the same session.
var ErrSessionBusy = errors.New("session is busy with another run")

// Session is a reusable sandboxed shell. Variable, function, alias, cwd,
// and filesystem state persist between calls. A session must not be used
// concurrently; overlapping calls fail with ErrSessionBusy.
type Session struct {
	runner  *interp.Runner
	fsys    *vfs.FS
	parser  *syntax.Parser
	history []string
	inUse   atomic.Bool
}

// NewSession builds a session from the given configuration; a nil config
// means an empty sandbox.
func NewSession(cfg *Config) (*Session, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	fsys := vfs.New()
	// /dev/null is expected by the >/dev/null idiom; the redirection
	// layer discards its bytes, so the file itself stays empty
	if err := fsys.MkdirAll("/dev", 0o755); err != nil {
		return nil, err
	}
	if err := fsys.WriteFile("/dev/null", nil, 0o666); err != nil {
		return nil, err
	}
	for p, body := range cfg.Files {
		if !strings.HasPrefix(p, "/") {
			return nil, fmt.Errorf("files: path must be absolute: %q", p)
		}
		if strings.HasSuffix(p, "/") {
			if err := fsys.MkdirAll(p, 0o755); err != nil {
				return nil, fmt.Errorf("files: %w", err)
			}
			continue
		}
		dir := p[:strings.LastIndex(p, "/")+1]
		if dir != "/" {
			if err := fsys.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("files: %w", err)
			}
		}
		if err := fsys.WriteFile(p, []byte(body), 0o644); err != nil {
			return nil, fmt.Errorf("files: %w", err)
		}
	}
	cwd := cfg.Cwd
	if cwd == "" {
		cwd = "/"
	}
	if err := fsys.MkdirAll(cwd, 0o755); err != nil {
		return nil, fmt.Errorf("cwd: %w", err)
	}
	var pairs []string
	for name, value := range cfg.Env {
		pairs = append(pairs, name+"="+value)
	}
	reg := cfg.Registry
	if reg == nil {
		reg = coreutils.NewRegistry()
	}
	limits, err := cfg.Limits.limits()
	if err != nil {
		return nil, err
	}
	runner, err := interp.New(
		interp.Env(expand.ListEnviron(pairs...)),
		interp.Dir(cwd),
		interp.WithFS(fsys),
		interp.WithRegistry(reg),
		interp.WithLimits(limits),
	)
	if err != nil {
		return nil, err
	}
	return &Session{runner: runner, fsys: fsys, parser: syntax.NewParser()}, nil
}

// FS returns the session's virtual filesystem.
func (s *Session) FS() *vfs.FS { return s.fsys }

// History returns the scripts previously given to Run and Exec.
func (s *Session) History() []string {
	return append([]string(nil), s.history...)
}

// Run parses and executes a script synchronously, capturing its output.
func (s *Session) Run(script string) (Result, error) {
	return s.Exec(context.Background(), script)
}

// Exec is like Run with a caller-supplied context; cancelling it unwinds
// the script with exit status 130.
func (s *Session) Exec(ctx context.Context, script string) (Result, error) {
	if !s.inUse.CompareAndSwap(false, true) {
		return Result{}, ErrSessionBusy
	}
	defer s.inUse.Store(false)
	s.history = append(s.history, script)

	var stdout, stderr bytes.Buffer
	file, err := s.parser.Parse(strings.NewReader(script), "")
	if err != nil {
		return Result{
			Stderr:   fmt.Sprintf("%v\n", err),
			ExitCode: 2,
		}, nil
	}
	interp.StdIO(strings.NewReader(""), &stdout, &stderr)(s.runner)
	err = s.runner.Run(ctx, file)
	code := interp.ExitStatus(err)
	if err != nil {
		if _, isStatus := interp.IsExitStatus(err); !isStatus {
			fmt.Fprintf(&stderr, "%v\n", err)
		}
	}
	return Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: code,
	}, nil
}
