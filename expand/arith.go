// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package expand

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dbreunig/just-bash/syntax"
)

// ArithError is the error produced by a failing arithmetic evaluation, such
// as a division by zero.
type ArithError struct {
	Text string
}

func (e ArithError) Error() string { return e.Text }

// Arithm evaluates an arithmetic expression to a 64-bit signed integer,
// wrapping around on overflow like two's complement arithmetic does.
func Arithm(cfg *Config, expr syntax.ArithmExpr) (int64, error) {
	cfg = prepareConfig(cfg)
	return cfg.arithm(expr)
}

func (cfg *Config) arithm(expr syntax.ArithmExpr) (int64, error) {
	switch expr := expr.(type) {
	case *syntax.Word:
		str, err := Literal(cfg, expr)
		if err != nil {
			return 0, err
		}
		// recursively fetch vars
		i := 0
		for syntax.ValidName(str) {
			val := cfg.envGet(str)
			if val == "" {
				break
			}
			if i++; i >= maxNameRefDepth {
				break
			}
			str = val
		}
		// default to 0
		return atoi(str), nil
	case *syntax.ParenArithm:
		return cfg.arithm(expr.X)
	case *syntax.UnaryArithm:
		switch expr.Op {
		case syntax.Inc, syntax.Dec:
			w, ok := expr.X.(*syntax.Word)
			if !ok || !syntax.ValidName(w.Lit()) {
				return 0, ArithError{Text: expr.Op.String() + " requires a name"}
			}
			name := w.Lit()
			old := atoi(cfg.envGet(name))
			val := old
			if expr.Op == syntax.Inc {
				val++
			} else {
				val--
			}
			if err := cfg.envSet(name, strconv.FormatInt(val, 10)); err != nil {
				return 0, err
			}
			if expr.Post {
				return old, nil
			}
			return val, nil
		}
		val, err := cfg.arithm(expr.X)
		if err != nil {
			return 0, err
		}
		switch expr.Op {
		case syntax.Not:
			return oneIf(val == 0), nil
		case syntax.BitNegation:
			return ^val, nil
		case syntax.Plus:
			return val, nil
		default: // syntax.Minus
			return -val, nil
		}
	case *syntax.BinaryArithm:
		switch expr.Op {
		case syntax.Assgn, syntax.AddAssgn, syntax.SubAssgn,
			syntax.MulAssgn, syntax.QuoAssgn, syntax.RemAssgn,
			syntax.AndAssgn, syntax.OrAssgn, syntax.XorAssgn,
			syntax.ShlAssgn, syntax.ShrAssgn:
			return cfg.assgnArit(expr)
		case syntax.TernQuest: // TernColon can't happen here
			cond, err := cfg.arithm(expr.X)
			if err != nil {
				return 0, err
			}
			b2 := expr.Y.(*syntax.BinaryArithm) // must have Op==TernColon
			if cond != 0 {
				return cfg.arithm(b2.X)
			}
			return cfg.arithm(b2.Y)
		}
		left, err := cfg.arithm(expr.X)
		if err != nil {
			return 0, err
		}
		// && and || short-circuit, skipping side effects
		switch expr.Op {
		case syntax.AndArit:
			if left == 0 {
				return 0, nil
			}
			right, err := cfg.arithm(expr.Y)
			if err != nil {
				return 0, err
			}
			return oneIf(right != 0), nil
		case syntax.OrArit:
			if left != 0 {
				return 1, nil
			}
			right, err := cfg.arithm(expr.Y)
			if err != nil {
				return 0, err
			}
			return oneIf(right != 0), nil
		}
		right, err := cfg.arithm(expr.Y)
		if err != nil {
			return 0, err
		}
		return binArit(expr.Op, left, right)
	default:
		panic(fmt.Sprintf("unexpected arithm expr: %T", expr))
	}
}

func oneIf(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// atoi parses an integer literal the way the arithmetic sublanguage does:
// base 10 by default, with 0x and leading-zero octal forms accepted. Errors
// are ignored, defaulting to 0.
func atoi(s string) int64 {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 0, 64); err == nil {
		return n
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func (cfg *Config) assgnArit(b *syntax.BinaryArithm) (int64, error) {
	w, ok := b.X.(*syntax.Word)
	if !ok || !syntax.ValidName(w.Lit()) {
		return 0, ArithError{Text: "assignment to a non-name"}
	}
	name := w.Lit()
	val := atoi(cfg.envGet(name))
	arg, err := cfg.arithm(b.Y)
	if err != nil {
		return 0, err
	}
	switch b.Op {
	case syntax.Assgn:
		val = arg
	case syntax.AddAssgn:
		val += arg
	case syntax.SubAssgn:
		val -= arg
	case syntax.MulAssgn:
		val *= arg
	case syntax.QuoAssgn:
		if arg == 0 {
			return 0, ArithError{Text: "division by zero"}
		}
		val /= arg
	case syntax.RemAssgn:
		if arg == 0 {
			return 0, ArithError{Text: "division by zero"}
		}
		val %= arg
	case syntax.AndAssgn:
		val &= arg
	case syntax.OrAssgn:
		val |= arg
	case syntax.XorAssgn:
		val ^= arg
	case syntax.ShlAssgn:
		val <<= uint64(arg) & 63
	case syntax.ShrAssgn:
		val >>= uint64(arg) & 63
	}
	if err := cfg.envSet(name, strconv.FormatInt(val, 10)); err != nil {
		return 0, err
	}
	return val, nil
}

func intPow(a, b int64) int64 {
	p := int64(1)
	for b > 0 {
		if b&1 != 0 {
			p *= a
		}
		b >>= 1
		a *= a
	}
	return p
}

func binArit(op syntax.BinAritOperator, x, y int64) (int64, error) {
	switch op {
	case syntax.Add:
		return x + y, nil
	case syntax.Sub:
		return x - y, nil
	case syntax.Mul:
		return x * y, nil
	case syntax.Quo:
		if y == 0 {
			return 0, ArithError{Text: "division by zero"}
		}
		return x / y, nil
	case syntax.Rem:
		if y == 0 {
			return 0, ArithError{Text: "division by zero"}
		}
		return x % y, nil
	case syntax.Pow:
		if y < 0 {
			return 0, ArithError{Text: "exponent less than 0"}
		}
		return intPow(x, y), nil
	case syntax.Eql:
		return oneIf(x == y), nil
	case syntax.Gtr:
		return oneIf(x > y), nil
	case syntax.Lss:
		return oneIf(x < y), nil
	case syntax.Neq:
		return oneIf(x != y), nil
	case syntax.Leq:
		return oneIf(x <= y), nil
	case syntax.Geq:
		return oneIf(x >= y), nil
	case syntax.And:
		return x & y, nil
	case syntax.Or:
		return x | y, nil
	case syntax.Xor:
		return x ^ y, nil
	case syntax.Shr:
		return x >> (uint64(y) & 63), nil
	case syntax.Shl:
		return x << (uint64(y) & 63), nil
	default: // syntax.Comma
		// x is executed but its result discarded
		return y, nil
	}
}
