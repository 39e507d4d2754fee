// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package expand

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dbreunig/just-bash/pattern"
	"github.com/dbreunig/just-bash/syntax"
)

func (cfg *Config) paramExp(pe *syntax.ParamExp) (string, error) {
	name := pe.Param.Value
	index := pe.Index
	switch name {
	case "@", "*":
		index = &syntax.Word{Parts: []syntax.WordPart{
			&syntax.Lit{Value: name},
		}}
	}
	vr := cfg.Env.Get(name)
	orig := vr
	_, vr = vr.Resolve(cfg.Env)
	if pe.Excl && orig.Kind == NameRef {
		// ${!ref} on a nameref gives the referenced name itself
		return orig.Str, nil
	}
	set := vr.IsSet()
	str := vr.String()
	if index != nil {
		var err error
		str, err = cfg.varInd(vr, index)
		if err != nil {
			return "", err
		}
	}
	elems := []string{str}
	if anyOfLit(index, "@", "*") != "" {
		switch vr.Kind {
		case Indexed:
			elems = append([]string(nil), vr.List...)
		case Associative:
			elems = sortedMapValues(vr.Map)
		default:
			if !set {
				elems = nil
			}
		}
	}
	switch {
	case pe.Length:
		n := len(elems)
		if anyOfLit(index, "@", "*") == "" {
			n = utf8.RuneCountInString(str)
		}
		return strconv.Itoa(n), nil
	case pe.Names != 0:
		var names []string
		cfg.Env.Each(func(vname string, vr Variable) bool {
			if strings.HasPrefix(vname, name) {
				names = append(names, vname)
			}
			return true
		})
		sort.Strings(names)
		return strings.Join(names, " "), nil
	case pe.Excl:
		if index != nil && anyOfLit(index, "@") != "" {
			// ${!arr[@]} lists the keys
			switch vr.Kind {
			case Indexed:
				var keys []string
				for i, e := range vr.List {
					if e != "" {
						keys = append(keys, strconv.Itoa(i))
					}
				}
				return strings.Join(keys, " "), nil
			case Associative:
				keys := make([]string, 0, len(vr.Map))
				for k := range vr.Map {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				return strings.Join(keys, " "), nil
			}
			return "", nil
		}
		// indirection: expand the variable named by the value
		if str == "" {
			return "", nil
		}
		vr2 := cfg.Env.Get(str)
		_, vr2 = vr2.Resolve(cfg.Env)
		if cfg.NoUnset && !vr2.IsSet() {
			return "", UnsetParameterError{Node: pe, Message: "unbound variable"}
		}
		return vr2.String(), nil
	}
	if cfg.NoUnset && !set && pe.Exp == nil && !isSpecialParam(name) {
		return "", UnsetParameterError{Node: pe, Message: "unbound variable"}
	}
	switch {
	case pe.Slice != nil:
		start, length := int64(0), int64(-1)
		if pe.Slice.Offset != nil {
			var err error
			start, err = Arithm(cfg, pe.Slice.Offset)
			if err != nil {
				return "", err
			}
		}
		if pe.Slice.Length != nil {
			var err error
			length, err = Arithm(cfg, pe.Slice.Length)
			if err != nil {
				return "", err
			}
		}
		return sliceStr(str, start, length, pe.Slice.Length != nil)
	case pe.Repl != nil:
		origPat, err := Pattern(cfg, pe.Repl.Orig)
		if err != nil {
			return "", err
		}
		with, err := Literal(cfg, pe.Repl.With)
		if err != nil {
			return "", err
		}
		return replaceStr(str, origPat, with, pe.Repl.All), nil
	case pe.Exp != nil:
		return cfg.expOp(pe, str, set, elems)
	}
	return str, nil
}

func isSpecialParam(name string) bool {
	switch name {
	case "@", "*", "#", "?", "$", "!", "-", "0":
		return true
	}
	return false
}

func sliceStr(str string, start, length int64, haveLen bool) (string, error) {
	rs := []rune(str)
	n := int64(len(rs))
	if start < 0 {
		start = n + start
		if start < 0 {
			start = n
		}
	} else if start > n {
		start = n
	}
	rs = rs[start:]
	if !haveLen {
		return string(rs), nil
	}
	n = int64(len(rs))
	if length < 0 {
		length = n + length
		if length < 0 {
			return "", fmt.Errorf("substring expression < 0")
		}
	} else if length > n {
		length = n
	}
	return string(rs[:length]), nil
}

func replaceStr(str, origPat, with string, all bool) string {
	anchorPrefix := strings.HasPrefix(origPat, "#")
	anchorSuffix := !anchorPrefix && strings.HasPrefix(origPat, "%")
	if anchorPrefix || anchorSuffix {
		origPat = origPat[1:]
	}
	expr, err := pattern.Regexp(origPat, 0)
	if err != nil {
		return str
	}
	switch {
	case anchorPrefix:
		expr = "^(?:" + expr + ")"
	case anchorSuffix:
		expr = "(?:" + expr + ")$"
	}
	rx, err := regexp.Compile(expr)
	if err != nil {
		return str
	}
	n := 1
	if all {
		n = -1
	}
	locs := rx.FindAllStringIndex(str, n)
	var sb strings.Builder
	last := 0
	for _, loc := range locs {
		if loc[0] < last {
			continue
		}
		sb.WriteString(str[last:loc[0]])
		sb.WriteString(with)
		last = loc[1]
		if loc[0] == loc[1] && last < len(str) {
			// avoid looping on empty matches
			sb.WriteByte(str[last])
			last++
		}
	}
	sb.WriteString(str[last:])
	return sb.String()
}

func (cfg *Config) expOp(pe *syntax.ParamExp, str string, set bool, elems []string) (string, error) {
	arg, err := Literal(cfg, pe.Exp.Word)
	if err != nil {
		return "", err
	}
	name := pe.Param.Value
	switch op := pe.Exp.Op; op {
	case syntax.AlternateUnsetOrNull:
		if str == "" {
			return "", nil
		}
		fallthrough
	case syntax.AlternateUnset:
		if set {
			return arg, nil
		}
		return "", nil
	case syntax.DefaultUnset:
		if set {
			return str, nil
		}
		return arg, nil
	case syntax.DefaultUnsetOrNull:
		if str == "" {
			return arg, nil
		}
		return str, nil
	case syntax.ErrorUnset:
		if set {
			return str, nil
		}
		fallthrough
	case syntax.ErrorUnsetOrNull:
		if str == "" {
			msg := arg
			if msg == "" {
				msg = "parameter unset or null"
			}
			return "", UnsetParameterError{Node: pe, Message: msg}
		}
		return str, nil
	case syntax.AssignUnset:
		if set {
			return str, nil
		}
		fallthrough
	case syntax.AssignUnsetOrNull:
		if str == "" {
			if err := cfg.envSet(name, arg); err != nil {
				return "", err
			}
			return arg, nil
		}
		return str, nil
	case syntax.RemSmallPrefix, syntax.RemLargePrefix,
		syntax.RemSmallSuffix, syntax.RemLargeSuffix:
		suffix := op == syntax.RemSmallSuffix || op == syntax.RemLargeSuffix
		large := op == syntax.RemLargePrefix || op == syntax.RemLargeSuffix
		for i, elem := range elems {
			elems[i] = removePattern(elem, arg, suffix, large)
		}
		return strings.Join(elems, " "), nil
	case syntax.UpperFirst, syntax.UpperAll,
		syntax.LowerFirst, syntax.LowerAll:
		caseFunc := unicode.ToLower
		if op == syntax.UpperFirst || op == syntax.UpperAll {
			caseFunc = unicode.ToUpper
		}
		all := op == syntax.UpperAll || op == syntax.LowerAll

		// an empty pattern means "any character"
		if arg == "" {
			arg = "?"
		}
		expr, err := pattern.Regexp(arg, pattern.EntireString)
		if err != nil {
			return str, nil
		}
		rx := regexp.MustCompile(expr)
		for i, elem := range elems {
			rs := []rune(elem)
			for ri, r := range rs {
				if rx.MatchString(string(r)) {
					rs[ri] = caseFunc(r)
					if !all {
						break
					}
				}
				if !all {
					break
				}
			}
			elems[i] = string(rs)
		}
		return strings.Join(elems, " "), nil
	case syntax.OtherParamOps:
		switch arg {
		case "Q":
			return syntax.Quote(str), nil
		case "E":
			s, _, err := Format(cfg, str, nil)
			return s, err
		case "P":
			// prompt expansion is not supported; the string is
			// returned as-is
			return str, nil
		case "a":
			return attrFlags(cfg.Env.Get(name)), nil
		case "A":
			vr := cfg.Env.Get(name)
			if !vr.IsSet() {
				return "", nil
			}
			return fmt.Sprintf("%s=%s", name, syntax.Quote(str)), nil
		default:
			return "", fmt.Errorf("unexpected @%s param expansion", arg)
		}
	}
	return str, nil
}

func attrFlags(vr Variable) string {
	var sb strings.Builder
	switch vr.Kind {
	case Indexed:
		sb.WriteByte('a')
	case Associative:
		sb.WriteByte('A')
	case NameRef:
		sb.WriteByte('n')
	}
	if vr.Integer {
		sb.WriteByte('i')
	}
	if vr.Lowercase {
		sb.WriteByte('l')
	}
	if vr.Uppercase {
		sb.WriteByte('u')
	}
	if vr.ReadOnly {
		sb.WriteByte('r')
	}
	if vr.Exported {
		sb.WriteByte('x')
	}
	return sb.String()
}

func removePattern(str, pat string, fromEnd, greedy bool) string {
	if pat == "" {
		return str
	}
	mode := pattern.Mode(0)
	if !greedy {
		mode |= pattern.Shortest
	}
	expr, err := pattern.Regexp(pat, mode)
	if err != nil {
		return str
	}
	switch {
	case fromEnd && !greedy:
		// use .* to get the right-most (shortest) match
		expr = "(?s).*(" + expr + ")$"
	case fromEnd:
		// simple suffix
		expr = "(" + expr + ")$"
	default:
		// simple prefix
		expr = "^(" + expr + ")"
	}
	rx, err := regexp.Compile(expr)
	if err != nil {
		return str
	}
	if loc := rx.FindStringSubmatchIndex(str); loc != nil {
		// remove the matched pattern (the submatch)
		str = str[:loc[2]] + str[loc[3]:]
	}
	return str
}

// varInd returns the value of an indexed access on a variable, such as
// ${a[i]} or ${a[@]}.
func (cfg *Config) varInd(vr Variable, idx syntax.ArithmExpr) (string, error) {
	switch vr.Kind {
	case String, Unknown:
		n, err := Arithm(cfg, idx)
		if err != nil {
			return "", err
		}
		if n == 0 {
			return vr.String(), nil
		}
	case Indexed:
		switch anyOfLit(idx, "@", "*") {
		case "@":
			return strings.Join(vr.List, " "), nil
		case "*":
			return cfg.ifsJoin(vr.List), nil
		}
		n, err := Arithm(cfg, idx)
		if err != nil {
			return "", err
		}
		if n < 0 {
			n = int64(len(vr.List)) + n
		}
		if n >= 0 && n < int64(len(vr.List)) {
			return vr.List[n], nil
		}
	case Associative:
		switch lit := anyOfLit(idx, "@", "*"); lit {
		case "@":
			return strings.Join(sortedMapValues(vr.Map), " "), nil
		case "*":
			return cfg.ifsJoin(sortedMapValues(vr.Map)), nil
		}
		w, ok := idx.(*syntax.Word)
		if !ok {
			return "", fmt.Errorf("invalid associative array key")
		}
		k, err := Literal(cfg, w)
		if err != nil {
			return "", err
		}
		return vr.Map[k], nil
	}
	return "", nil
}
