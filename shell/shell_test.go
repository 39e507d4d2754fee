// Copyright (c) 2018, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package shell

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/rogpeppe/go-internal/txtar"
)

func newTestSession(tb testing.TB, cfg *Config) *Session {
	tb.Helper()
	sess, err := NewSession(cfg)
	if err != nil {
		tb.Fatal(err)
	}
	return sess
}

// configFromTxtar builds a session config whose files come from a txtar
// archive.
func configFromTxtar(archive string) *Config {
	cfg := &Config{Files: map[string]string{}}
	for _, f := range txtar.Parse([]byte(archive)).Files {
		cfg.Files["/"+f.Name] = string(f.Data)
	}
	return cfg
}

func TestScenarios(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		script string
		stdout string
		code   int
	}{
		{`echo "Hello, World!"`, "Hello, World!\n", 0},
		{`echo "banana apple cherry" | tr " " "\n" | sort`, "apple\nbanana\ncherry\n", 0},
		{`x=5; echo $((x * 2))`, "10\n", 0},
		{`arr=(a b c); echo "${arr[@]}"`, "a b c\n", 0},
		{`echo test > /tmp/f.txt; cat /tmp/f.txt`, "test\n", 0},
		{`f() { local x=1; echo $x; }; x=0; f; echo $x`, "1\n0\n", 0},
		{`set -e; false; echo nope`, "", 1},
	} {
		tc := tc
		t.Run("", func(t *testing.T) {
			t.Parallel()
			sess := newTestSession(t, &Config{
				Files: map[string]string{"/tmp/": ""},
			})
			res, err := sess.Run(tc.script)
			if err != nil {
				t.Fatal(err)
			}
			if res.Stdout != tc.stdout {
				t.Errorf("script %q:\nwant stdout %q\ngot  %q (stderr %q)",
					tc.script, tc.stdout, res.Stdout, res.Stderr)
			}
			if res.ExitCode != tc.code {
				t.Errorf("script %q: want exit %d, got %d", tc.script, tc.code, res.ExitCode)
			}
		})
	}
}

func TestDevNull(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	sess := newTestSession(t, nil)
	res, err := sess.Run("echo loud >/dev/null; echo quiet 2>/dev/null; cat /dev/null; echo $?")
	c.Assert(err, qt.IsNil)
	c.Assert(res.Stdout, qt.Equals, "quiet\n0\n")
	c.Assert(res.ExitCode, qt.Equals, 0)

	// discarded bytes do not accumulate in the file
	res, err = sess.Run("wc -c </dev/null")
	c.Assert(err, qt.IsNil)
	c.Assert(res.Stdout, qt.Equals, "0\n")
}

func TestSessionStatePersists(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	sess := newTestSession(t, nil)

	_, err := sess.Run("x=kept; mkdir() { :; }; alias nothing=:; echo seed >/data")
	c.Assert(err, qt.IsNil)

	res, err := sess.Run("echo $x; cat /data")
	c.Assert(err, qt.IsNil)
	c.Assert(res.Stdout, qt.Equals, "kept\nseed\n")
}

func TestSessionFilesAndCwd(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	sess := newTestSession(t, configFromTxtar(`
-- work/input.txt --
line b
line a
`))
	res, err := sess.Run("cd /work; sort input.txt")
	c.Assert(err, qt.IsNil)
	c.Assert(res.ExitCode, qt.Equals, 0)
	c.Assert(res.Stdout, qt.Equals, "line a\nline b\n")
}

func TestSessionCwdConfig(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	sess := newTestSession(t, &Config{Cwd: "/srv/app"})
	res, err := sess.Run("pwd")
	c.Assert(err, qt.IsNil)
	c.Assert(res.Stdout, qt.Equals, "/srv/app\n")
}

func TestSessionEnv(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	sess := newTestSession(t, &Config{Env: map[string]string{"GREETING": "hey"}})
	res, err := sess.Run("echo $GREETING")
	c.Assert(err, qt.IsNil)
	c.Assert(res.Stdout, qt.Equals, "hey\n")
}

func TestSessionParseError(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	sess := newTestSession(t, nil)
	res, err := sess.Run("'unterminated")
	c.Assert(err, qt.IsNil)
	c.Assert(res.ExitCode, qt.Equals, 2)
	c.Assert(strings.Contains(res.Stderr, "quote"), qt.IsTrue)
}

func TestSessionLimits(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	sess := newTestSession(t, &Config{
		Limits: LimitsConfig{MaxWallClock: "100ms"},
	})
	res, err := sess.Run("while true; do :; done")
	c.Assert(err, qt.IsNil)
	c.Assert(res.ExitCode, qt.Equals, 124)
}

func TestSessionCancellation(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	sess := newTestSession(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := sess.Exec(ctx, "while true; do :; done")
	c.Assert(err, qt.IsNil)
	c.Assert(res.ExitCode, qt.Equals, 130)
}

func TestSessionBusy(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	sess := newTestSession(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	started := make(chan struct{})
	go func() {
		defer wg.Done()
		close(started)
		sess.Exec(ctx, "while true; do sleep 1; done")
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	_, err := sess.Run("echo hi")
	c.Assert(err, qt.Equals, ErrSessionBusy)
	cancel()
	wg.Wait()
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	cfg, err := LoadConfig(strings.NewReader(`
files:
  /etc/motd: "welcome\n"
env:
  USER: nobody
cwd: /home
network_enabled: false
limits:
  max_wall_clock: 5s
  max_loop_iterations: 50
`))
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Cwd, qt.Equals, "/home")
	c.Assert(cfg.Env["USER"], qt.Equals, "nobody")

	sess := newTestSession(t, cfg)
	res, err := sess.Run("cat /etc/motd; echo $USER")
	c.Assert(err, qt.IsNil)
	c.Assert(res.Stdout, qt.Equals, "welcome\nnobody\n")

	res, err = sess.Run("while :; do :; done")
	c.Assert(err, qt.IsNil)
	c.Assert(res.ExitCode, qt.Equals, 124)
}

func TestHistory(t *testing.T) {
	t.Parallel()
	c := qt.New(t)
	sess := newTestSession(t, nil)
	sess.Run("echo one")
	sess.Run("echo two")
	c.Assert(sess.History(), qt.DeepEquals, []string{"echo one", "echo two"})
}
