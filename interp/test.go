// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package interp

import (
	"context"
	"io/fs"
	"regexp"
	"strconv"

	"github.com/dbreunig/just-bash/expand"
	"github.com/dbreunig/just-bash/syntax"
)

// bashTest evaluates a [[ ]] test expression.
func (r *Runner) bashTest(ctx context.Context, expr syntax.TestExpr) bool {
	switch x := expr.(type) {
	case *syntax.Word:
		return r.literal(x) != ""
	case *syntax.ParenTest:
		return r.bashTest(ctx, x.X)
	case *syntax.BinaryTest:
		switch x.Op {
		case syntax.AndTest:
			return r.bashTest(ctx, x.X) && r.bashTest(ctx, x.Y)
		case syntax.OrTest:
			return r.bashTest(ctx, x.X) || r.bashTest(ctx, x.Y)
		}
		xw, okX := x.X.(*syntax.Word)
		yw, okY := x.Y.(*syntax.Word)
		if !okX || !okY {
			r.exit = 2
			return false
		}
		switch x.Op {
		case syntax.TsMatch, syntax.TsNoMatch:
			str := r.literal(xw)
			pat := r.pattern(yw)
			return patMatch(pat, str) == (x.Op == syntax.TsMatch)
		case syntax.TsMatchRe:
			str := r.literal(xw)
			reStr := r.literal(yw)
			re, err := regexp.Compile(reStr)
			if err != nil {
				r.exit = 2
				return false
			}
			m := re.FindStringSubmatch(str)
			if m == nil {
				return false
			}
			r.setVar("BASH_REMATCH", nil, indexedVar(m))
			return true
		}
		lhs := r.literal(xw)
		rhs := r.literal(yw)
		return r.binTest(x.Op, lhs, rhs)
	case *syntax.UnaryTest:
		if x.Op == syntax.TsNot {
			return !r.bashTest(ctx, x.X)
		}
		return r.unTest(x.Op, r.literal(x.X.(*syntax.Word)))
	}
	return false
}

func indexedVar(list []string) expand.Variable {
	return expand.Variable{Set: true, Kind: expand.Indexed, List: list}
}

func patMatch(pat, name string) bool {
	return match(pat, name)
}

func (r *Runner) binTest(op syntax.BinTestOperator, x, y string) bool {
	switch op {
	case syntax.TsBefore:
		return x < y
	case syntax.TsAfter:
		return x > y
	case syntax.TsEql:
		return atoiT(x) == atoiT(y)
	case syntax.TsNeq:
		return atoiT(x) != atoiT(y)
	case syntax.TsLeq:
		return atoiT(x) <= atoiT(y)
	case syntax.TsGeq:
		return atoiT(x) >= atoiT(y)
	case syntax.TsLss:
		return atoiT(x) < atoiT(y)
	case syntax.TsGtr:
		return atoiT(x) > atoiT(y)
	case syntax.TsNewer:
		f1, err1 := r.FS.Stat(r.absPath(x))
		f2, err2 := r.FS.Stat(r.absPath(y))
		if err1 != nil || err2 != nil {
			return false
		}
		return f1.ModTime().After(f2.ModTime())
	case syntax.TsOlder:
		f1, err1 := r.FS.Stat(r.absPath(x))
		f2, err2 := r.FS.Stat(r.absPath(y))
		if err1 != nil || err2 != nil {
			return false
		}
		return f1.ModTime().Before(f2.ModTime())
	}
	return false
}

func atoiT(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func (r *Runner) unTest(op syntax.UnTestOperator, x string) bool {
	switch op {
	case syntax.TsExists:
		_, err := r.FS.Stat(r.absPath(x))
		return err == nil
	case syntax.TsRegFile:
		info, err := r.FS.Stat(r.absPath(x))
		return err == nil && info.Mode().IsRegular()
	case syntax.TsDirect:
		info, err := r.FS.Stat(r.absPath(x))
		return err == nil && info.IsDir()
	case syntax.TsNoEmpty:
		info, err := r.FS.Stat(r.absPath(x))
		return err == nil && info.Size() > 0
	case syntax.TsSmbLink:
		info, err := r.FS.Lstat(r.absPath(x))
		return err == nil && info.Mode()&fs.ModeSymlink != 0
	case syntax.TsRead:
		return r.accessTest(x, 0o4)
	case syntax.TsWrite:
		return r.accessTest(x, 0o2)
	case syntax.TsExec:
		return r.accessTest(x, 0o1)
	case syntax.TsEmpStr:
		return x == ""
	case syntax.TsNempStr:
		return x != ""
	case syntax.TsVarSet:
		return r.lookupVar(x).IsSet()
	}
	return false
}

// accessTest checks one permission bit of a file against the session's uid,
// the way test -r/-w/-x do.
func (r *Runner) accessTest(name string, want fs.FileMode) bool {
	info, err := r.FS.Stat(r.absPath(name))
	if err != nil {
		return false
	}
	if r.FS.Uid == 0 {
		return true
	}
	perm := info.Mode().Perm()
	// the info's Sys() is the inode; checking the world and owner bits,
	// without comparing uids, is a close enough approximation without
	// reaching into it
	return perm&want == want || perm>>6&want == want
}

// classicTest implements the "test" and "[" builtins over already-expanded
// argument strings with one recursive parser for any number of arguments:
// "!", parentheses, unary and binary primaries, and -a/-o chaining with -a
// binding tighter. A unary operator followed by an operand is always read as
// a unary primary; the POSIX rules by argument count are not applied.
func (r *Runner) classicTest(args []string) int {
	res, rest, ok := r.testExprArgs(args)
	if !ok || len(rest) > 0 {
		r.errf("test: syntax error\n")
		return 2
	}
	if res {
		return 0
	}
	return 1
}

// testExprArgs evaluates an -o chain.
func (r *Runner) testExprArgs(args []string) (bool, []string, bool) {
	res, rest, ok := r.testAndArgs(args)
	if !ok {
		return false, nil, false
	}
	for len(rest) > 0 && rest[0] == "-o" {
		var rhs bool
		rhs, rest, ok = r.testAndArgs(rest[1:])
		if !ok {
			return false, nil, false
		}
		res = res || rhs
	}
	return res, rest, true
}

func (r *Runner) testAndArgs(args []string) (bool, []string, bool) {
	res, rest, ok := r.testPrimaryArgs(args)
	if !ok {
		return false, nil, false
	}
	for len(rest) > 0 && rest[0] == "-a" {
		var rhs bool
		rhs, rest, ok = r.testPrimaryArgs(rest[1:])
		if !ok {
			return false, nil, false
		}
		res = res && rhs
	}
	return res, rest, true
}

func (r *Runner) testPrimaryArgs(args []string) (bool, []string, bool) {
	if len(args) == 0 {
		return false, nil, true
	}
	switch args[0] {
	case "!":
		res, rest, ok := r.testPrimaryArgs(args[1:])
		return !res, rest, ok
	case "(":
		res, rest, ok := r.testExprArgs(args[1:])
		if !ok || len(rest) == 0 || rest[0] != ")" {
			return false, nil, false
		}
		return res, rest[1:], true
	}
	if op := classicUnTestOp(args[0]); op != 0 && len(args) >= 2 {
		return r.unTest(op, args[1]), args[2:], true
	}
	if len(args) >= 3 {
		if op := classicBinTestOp(args[1]); op != 0 {
			var res bool
			if op == syntax.TsMatch || op == syntax.TsNoMatch {
				// test uses literal string comparison, not
				// pattern matching
				res = (args[0] == args[2]) == (op == syntax.TsMatch)
			} else {
				res = r.binTest(op, args[0], args[2])
			}
			return res, args[3:], true
		}
	}
	// a single string is true if non-empty
	return args[0] != "", args[1:], true
}

func classicUnTestOp(s string) syntax.UnTestOperator {
	switch s {
	case "-e", "-a":
		return syntax.TsExists
	case "-f":
		return syntax.TsRegFile
	case "-d":
		return syntax.TsDirect
	case "-s":
		return syntax.TsNoEmpty
	case "-L", "-h":
		return syntax.TsSmbLink
	case "-r":
		return syntax.TsRead
	case "-w":
		return syntax.TsWrite
	case "-x":
		return syntax.TsExec
	case "-z":
		return syntax.TsEmpStr
	case "-n":
		return syntax.TsNempStr
	case "-v":
		return syntax.TsVarSet
	}
	return 0
}

func classicBinTestOp(s string) syntax.BinTestOperator {
	switch s {
	case "=", "==":
		return syntax.TsMatch
	case "!=":
		return syntax.TsNoMatch
	case "-eq":
		return syntax.TsEql
	case "-ne":
		return syntax.TsNeq
	case "-le":
		return syntax.TsLeq
	case "-ge":
		return syntax.TsGeq
	case "-lt":
		return syntax.TsLss
	case "-gt":
		return syntax.TsGtr
	case "-nt":
		return syntax.TsNewer
	case "-ot":
		return syntax.TsOlder
	case "<":
		return syntax.TsBefore
	case ">":
		return syntax.TsAfter
	}
	return 0
}
