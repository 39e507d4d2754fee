// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

// Package coreutils provides a small set of utility commands implemented on
// the interp command contract: enough to run everyday pipelines such as
// cat, tr, and sort against the virtual filesystem. The full coreutils
// catalogue is intentionally out of scope.
package coreutils

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dbreunig/just-bash/expand"
	"github.com/dbreunig/just-bash/interp"
)

// Register adds every command in this package to the given registry.
func Register(reg *interp.Registry) {
	reg.Register("cat", cat)
	reg.Register("head", head)
	reg.Register("tail", tail)
	reg.Register("tr", tr)
	reg.Register("sort", sortCmd)
	reg.Register("uniq", uniq)
	reg.Register("wc", wc)
	reg.Register("basename", basename)
	reg.Register("dirname", dirname)
	reg.Register("sleep", sleep)
	reg.Register("env", env)
	reg.Register("seq", seq)
}

// NewRegistry returns a registry with all of the package's commands.
func NewRegistry() *interp.Registry {
	reg := interp.NewRegistry()
	Register(reg)
	return reg
}

func failf(hc interp.HandlerContext, name, format string, a ...any) int {
	fmt.Fprintf(hc.Stderr, name+": "+format, a...)
	return 1
}

// inputs opens the file arguments in order, with "-" and no arguments
// meaning standard input, and hands each reader to fn.
func inputs(hc interp.HandlerContext, name string, args []string, fn func(io.Reader) error) int {
	if len(args) == 0 {
		args = []string{"-"}
	}
	for _, arg := range args {
		if arg == "-" {
			if hc.Stdin == nil {
				continue
			}
			if err := fn(hc.Stdin); err != nil {
				return failf(hc, name, "%v\n", err)
			}
			continue
		}
		f, err := hc.FS.Open(hc.AbsPath(arg))
		if err != nil {
			return failf(hc, name, "%v\n", err)
		}
		err = fn(f)
		f.Close()
		if err != nil {
			return failf(hc, name, "%v\n", err)
		}
	}
	return 0
}

func cat(ctx context.Context, hc interp.HandlerContext, args []string) int {
	return inputs(hc, "cat", args[1:], func(r io.Reader) error {
		_, err := io.Copy(hc.Stdout, r)
		return err
	})
}

func head(ctx context.Context, hc interp.HandlerContext, args []string) int {
	n := int64(10)
	rest := args[1:]
	for len(rest) > 0 && strings.HasPrefix(rest[0], "-") && rest[0] != "-" {
		if rest[0] == "-n" && len(rest) > 1 {
			m, err := strconv.ParseInt(rest[1], 10, 64)
			if err != nil {
				return failf(hc, "head", "invalid count: %q\n", rest[1])
			}
			n = m
			rest = rest[2:]
			continue
		}
		return failf(hc, "head", "invalid option: %q\n", rest[0])
	}
	return inputs(hc, "head", rest, func(r io.Reader) error {
		sc := bufio.NewScanner(r)
		for i := int64(0); i < n && sc.Scan(); i++ {
			fmt.Fprintln(hc.Stdout, sc.Text())
		}
		return sc.Err()
	})
}

func tail(ctx context.Context, hc interp.HandlerContext, args []string) int {
	n := 10
	rest := args[1:]
	for len(rest) > 0 && strings.HasPrefix(rest[0], "-") && rest[0] != "-" {
		if rest[0] == "-n" && len(rest) > 1 {
			m, err := strconv.Atoi(rest[1])
			if err != nil {
				return failf(hc, "tail", "invalid count: %q\n", rest[1])
			}
			n = m
			rest = rest[2:]
			continue
		}
		return failf(hc, "tail", "invalid option: %q\n", rest[0])
	}
	return inputs(hc, "tail", rest, func(r io.Reader) error {
		sc := bufio.NewScanner(r)
		var lines []string
		for sc.Scan() {
			lines = append(lines, sc.Text())
			if len(lines) > n {
				lines = lines[1:]
			}
		}
		for _, line := range lines {
			fmt.Fprintln(hc.Stdout, line)
		}
		return sc.Err()
	})
}

// tr implements the subset that translates or deletes single characters,
// with the usual backslash escapes and a-b ranges.
func tr(ctx context.Context, hc interp.HandlerContext, args []string) int {
	rest := args[1:]
	del := false
	if len(rest) > 0 && rest[0] == "-d" {
		del = true
		rest = rest[1:]
	}
	if del && len(rest) != 1 || !del && len(rest) != 2 {
		return failf(hc, "tr", "usage: tr [-d] set1 [set2]\n")
	}
	set1 := trSet(rest[0])
	var set2 []rune
	if !del {
		set2 = trSet(rest[1])
		if len(set2) == 0 {
			return failf(hc, "tr", "set2 must not be empty\n")
		}
	}
	if hc.Stdin == nil {
		return 0
	}
	br := bufio.NewReader(hc.Stdin)
	bw := bufio.NewWriter(hc.Stdout)
	defer bw.Flush()
	for {
		r, _, err := br.ReadRune()
		if err != nil {
			return 0
		}
		found := -1
		for i, r1 := range set1 {
			if r1 == r {
				found = i
				break
			}
		}
		switch {
		case found < 0:
			bw.WriteRune(r)
		case del:
		case found < len(set2):
			bw.WriteRune(set2[found])
		default:
			bw.WriteRune(set2[len(set2)-1])
		}
	}
}

func trSet(s string) []rune {
	var out []rune
	rs := []rune(s)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if r == '\\' && i+1 < len(rs) {
			i++
			switch rs[i] {
			case 'n':
				r = '\n'
			case 't':
				r = '\t'
			case 'r':
				r = '\r'
			default:
				r = rs[i]
			}
			out = append(out, r)
			continue
		}
		if i+2 < len(rs) && rs[i+1] == '-' && rs[i+2] >= r {
			for c := r; c <= rs[i+2]; c++ {
				out = append(out, c)
			}
			i += 2
			continue
		}
		out = append(out, r)
	}
	return out
}

func sortCmd(ctx context.Context, hc interp.HandlerContext, args []string) int {
	reverse := false
	numeric := false
	unique := false
	rest := args[1:]
	for len(rest) > 0 && strings.HasPrefix(rest[0], "-") && rest[0] != "-" {
		switch rest[0] {
		case "-r":
			reverse = true
		case "-n":
			numeric = true
		case "-u":
			unique = true
		default:
			return failf(hc, "sort", "invalid option: %q\n", rest[0])
		}
		rest = rest[1:]
	}
	var lines []string
	code := inputs(hc, "sort", rest, func(r io.Reader) error {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines = append(lines, sc.Text())
		}
		return sc.Err()
	})
	if code != 0 {
		return code
	}
	sort.SliceStable(lines, func(i, j int) bool {
		if numeric {
			a, _ := strconv.ParseFloat(strings.TrimSpace(lines[i]), 64)
			b, _ := strconv.ParseFloat(strings.TrimSpace(lines[j]), 64)
			if a != b {
				return a < b
			}
		}
		return lines[i] < lines[j]
	})
	if reverse {
		for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
			lines[i], lines[j] = lines[j], lines[i]
		}
	}
	last := ""
	for i, line := range lines {
		if unique && i > 0 && line == last {
			continue
		}
		last = line
		fmt.Fprintln(hc.Stdout, line)
	}
	return 0
}

func uniq(ctx context.Context, hc interp.HandlerContext, args []string) int {
	count := false
	rest := args[1:]
	for len(rest) > 0 && strings.HasPrefix(rest[0], "-") && rest[0] != "-" {
		switch rest[0] {
		case "-c":
			count = true
		default:
			return failf(hc, "uniq", "invalid option: %q\n", rest[0])
		}
		rest = rest[1:]
	}
	var prev string
	n := 0
	flush := func() {
		if n == 0 {
			return
		}
		if count {
			fmt.Fprintf(hc.Stdout, "%7d %s\n", n, prev)
		} else {
			fmt.Fprintln(hc.Stdout, prev)
		}
	}
	code := inputs(hc, "uniq", rest, func(r io.Reader) error {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			line := sc.Text()
			if n > 0 && line == prev {
				n++
				continue
			}
			flush()
			prev = line
			n = 1
		}
		return sc.Err()
	})
	flush()
	return code
}

func wc(ctx context.Context, hc interp.HandlerContext, args []string) int {
	mode := ""
	rest := args[1:]
	for len(rest) > 0 && strings.HasPrefix(rest[0], "-") && rest[0] != "-" {
		switch rest[0] {
		case "-l", "-w", "-c":
			mode = rest[0]
		default:
			return failf(hc, "wc", "invalid option: %q\n", rest[0])
		}
		rest = rest[1:]
	}
	var lines, words, bytes int
	code := inputs(hc, "wc", rest, func(r io.Reader) error {
		br := bufio.NewReader(r)
		inWord := false
		for {
			b, err := br.ReadByte()
			if err != nil {
				return nil
			}
			bytes++
			if b == '\n' {
				lines++
			}
			isSpace := b == ' ' || b == '\t' || b == '\n' || b == '\r'
			if !isSpace && !inWord {
				words++
			}
			inWord = !isSpace
		}
	})
	switch mode {
	case "-l":
		fmt.Fprintf(hc.Stdout, "%d\n", lines)
	case "-w":
		fmt.Fprintf(hc.Stdout, "%d\n", words)
	case "-c":
		fmt.Fprintf(hc.Stdout, "%d\n", bytes)
	default:
		fmt.Fprintf(hc.Stdout, "%7d %7d %7d\n", lines, words, bytes)
	}
	return code
}

func basename(ctx context.Context, hc interp.HandlerContext, args []string) int {
	if len(args) < 2 {
		return failf(hc, "basename", "missing operand\n")
	}
	name := path.Base(args[1])
	if len(args) > 2 {
		name = strings.TrimSuffix(name, args[2])
	}
	fmt.Fprintln(hc.Stdout, name)
	return 0
}

func dirname(ctx context.Context, hc interp.HandlerContext, args []string) int {
	if len(args) < 2 {
		return failf(hc, "dirname", "missing operand\n")
	}
	fmt.Fprintln(hc.Stdout, path.Dir(args[1]))
	return 0
}

func sleep(ctx context.Context, hc interp.HandlerContext, args []string) int {
	if len(args) != 2 {
		return failf(hc, "sleep", "usage: sleep seconds\n")
	}
	secs, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return failf(hc, "sleep", "invalid time interval: %q\n", args[1])
	}
	timer := time.NewTimer(time.Duration(secs * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return 0
	case <-ctx.Done():
		return 130
	}
}

func env(ctx context.Context, hc interp.HandlerContext, args []string) int {
	if len(args) > 1 {
		return failf(hc, "env", "running commands is not supported\n")
	}
	var pairs []string
	hc.Env.Each(func(name string, vr expand.Variable) bool {
		if vr.Exported && vr.Kind == expand.String {
			pairs = append(pairs, name+"="+vr.Str)
		}
		return true
	})
	sort.Strings(pairs)
	for _, pair := range pairs {
		fmt.Fprintln(hc.Stdout, pair)
	}
	return 0
}

func seq(ctx context.Context, hc interp.HandlerContext, args []string) int {
	var first, incr, last int64 = 1, 1, 1
	var err error
	parse := func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	}
	switch len(args) {
	case 2:
		last, err = parse(args[1])
	case 3:
		if first, err = parse(args[1]); err == nil {
			last, err = parse(args[2])
		}
	case 4:
		if first, err = parse(args[1]); err == nil {
			if incr, err = parse(args[2]); err == nil {
				last, err = parse(args[3])
			}
		}
	default:
		return failf(hc, "seq", "usage: seq [first [incr]] last\n")
	}
	if err != nil || incr == 0 {
		return failf(hc, "seq", "invalid arguments\n")
	}
	if first <= last == (incr > 0) || first == last {
		for n := first; (incr > 0 && n <= last) || (incr < 0 && n >= last); n += incr {
			fmt.Fprintln(hc.Stdout, n)
		}
	}
	return 0
}
