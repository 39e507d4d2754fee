// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

// Package expand implements the word expansion pipeline: brace expansion,
// tilde expansion, parameter and arithmetic expansion, command substitution,
// field splitting, pathname expansion, and quote removal.
package expand

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dbreunig/just-bash/pattern"
	"github.com/dbreunig/just-bash/syntax"
)

// Config is how expansion is controlled. Env must be set; the rest are
// optional.
type Config struct {
	// Env is used to get and set variables; parameter expansions with a
	// side effect like ${a:=b} require a WriteEnviron.
	Env Environ

	// CmdSubst expands a command substitution node, writing its standard
	// output to the provided io.Writer. If nil, encountering a command
	// substitution is an error.
	CmdSubst func(io.Writer, *syntax.CmdSubst) error

	// ReadDir is used for pathname expansion. If nil, globbing is a
	// no-op and patterns are kept as literal fields.
	ReadDir func(string) ([]fs.DirEntry, error)

	// UserHome maps user names to their home directories for ~name
	// expansion. If nil or if it returns an empty string, ~name is left
	// unchanged.
	UserHome func(name string) string

	GlobStar bool // whether ** should match across directories
	NullGlob bool // whether unmatched patterns expand to zero fields
	FailGlob bool // whether unmatched patterns are an error
	NoUnset  bool // whether references to unset variables are an error

	ifs string
}

// UnsetParameterError is returned by ${v:?msg} when the parameter is unset
// or null.
type UnsetParameterError struct {
	Node    *syntax.ParamExp
	Message string
}

func (u UnsetParameterError) Error() string {
	return fmt.Sprintf("%s: %s", u.Node.Param.Value, u.Message)
}

func prepareConfig(cfg *Config) *Config {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Env == nil {
		cfg.Env = FuncEnviron(func(string) string { return "" })
	}
	vr := cfg.Env.Get("IFS")
	if !vr.IsSet() {
		cfg.ifs = " \t\n"
	} else {
		cfg.ifs = vr.String()
	}
	return cfg
}

func (cfg *Config) ifsRune(r rune) bool {
	for _, r2 := range cfg.ifs {
		if r == r2 {
			return true
		}
	}
	return false
}

func (cfg *Config) ifsJoin(strs []string) string {
	sep := ""
	if cfg.ifs != "" {
		sep = cfg.ifs[:1]
	}
	return strings.Join(strs, sep)
}

func (cfg *Config) envGet(name string) string {
	return cfg.Env.Get(name).String()
}

func (cfg *Config) envSet(name, value string) error {
	wenv, ok := cfg.Env.(WriteEnviron)
	if !ok {
		return fmt.Errorf("environment is read-only")
	}
	return wenv.Set(name, Variable{Set: true, Kind: String, Str: value})
}

// Literal expands a single shell word as if it were within double quotes. It
// is simplified and does not perform brace expansion, field splitting, or
// pathname expansion.
func Literal(cfg *Config, word *syntax.Word) (string, error) {
	if word == nil {
		return "", nil
	}
	cfg = prepareConfig(cfg)
	field, err := cfg.wordField(word.Parts, quoteDouble, true)
	if err != nil {
		return "", err
	}
	return cfg.fieldJoin(field), nil
}

// Document expands a single shell word as if it were within a here-document
// body: without brace expansion, field splitting, or pathname expansion.
func Document(cfg *Config, word *syntax.Word) (string, error) {
	return Literal(cfg, word)
}

// Pattern expands a single shell word as a pattern, keeping any quoted
// pattern metacharacters escaped so that the result can be handed to the
// pattern package.
func Pattern(cfg *Config, word *syntax.Word) (string, error) {
	if word == nil {
		return "", nil
	}
	cfg = prepareConfig(cfg)
	field, err := cfg.wordField(word.Parts, quoteSingle, true)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, part := range field {
		if part.quote > quoteNone {
			sb.WriteString(pattern.QuoteMeta(part.val))
		} else {
			sb.WriteString(part.val)
		}
	}
	return sb.String(), nil
}

// Fields expands a number of words as if they were arguments in a shell
// command. This includes brace expansion, tilde expansion, parameter and
// arithmetic expansion, command substitution, field splitting, and pathname
// expansion.
func Fields(cfg *Config, words ...*syntax.Word) ([]string, error) {
	cfg = prepareConfig(cfg)
	fields := make([]string, 0, len(words))
	dir := cfg.envGet("PWD")
	for _, word := range words {
		for _, expWord := range Braces(word) {
			wfields, err := cfg.wordFields(expWord.Parts)
			if err != nil {
				return nil, err
			}
			for _, field := range wfields {
				pat, glob := cfg.escapedGlobField(field)
				if glob && cfg.ReadDir != nil {
					matches, err := cfg.glob(dir, pat)
					if err != nil {
						return nil, err
					}
					if len(matches) > 0 {
						fields = append(fields, matches...)
						continue
					}
					if cfg.NullGlob {
						continue
					}
					if cfg.FailGlob {
						return nil, fmt.Errorf("no match: %s", cfg.fieldJoin(field))
					}
				}
				fields = append(fields, cfg.fieldJoin(field))
			}
		}
	}
	return fields, nil
}

type fieldPart struct {
	val   string
	quote quoteLevel
}

type quoteLevel uint

const (
	quoteNone quoteLevel = iota
	quoteDouble
	quoteSingle
)

func (cfg *Config) fieldJoin(parts []fieldPart) string {
	switch len(parts) {
	case 0:
		return ""
	case 1: // short-cut without a string copy
		return parts[0].val
	}
	var sb strings.Builder
	for _, part := range parts {
		sb.WriteString(part.val)
	}
	return sb.String()
}

func (cfg *Config) escapedGlobField(parts []fieldPart) (escaped string, glob bool) {
	var sb strings.Builder
	for _, part := range parts {
		if part.quote > quoteNone {
			sb.WriteString(pattern.QuoteMeta(part.val))
			continue
		}
		sb.WriteString(part.val)
		if pattern.HasMeta(part.val) {
			glob = true
		}
	}
	if glob { // only copy the string if it will be used
		escaped = sb.String()
	}
	return escaped, glob
}

// wordField expands a word into a single field, in contexts where no field
// splitting or globbing takes place. A leading tilde is expanded only if
// tilde is true, which is not the case for the parts of a quoted string.
func (cfg *Config) wordField(wps []syntax.WordPart, ql quoteLevel, tilde bool) ([]fieldPart, error) {
	var field []fieldPart
	for i, wp := range wps {
		switch x := wp.(type) {
		case *syntax.Lit:
			s := x.Value
			if i == 0 && tilde {
				s = cfg.expandUser(s)
			}
			if ql == quoteDouble && strings.Contains(s, "\\") {
				var sb strings.Builder
				for i := 0; i < len(s); i++ {
					b := s[i]
					if b == '\\' && i+1 < len(s) {
						switch s[i+1] {
						case '"', '\\', '$', '`': // special chars
							continue
						}
					}
					sb.WriteByte(b)
				}
				s = sb.String()
			}
			field = append(field, fieldPart{val: s})
		case *syntax.SglQuoted:
			fp := fieldPart{quote: quoteSingle, val: x.Value}
			if x.Dollar {
				var err error
				fp.val, _, err = Format(cfg, fp.val, nil)
				if err != nil {
					return nil, err
				}
			}
			field = append(field, fp)
		case *syntax.DblQuoted:
			inner, err := cfg.wordField(x.Parts, quoteDouble, false)
			if err != nil {
				return nil, err
			}
			for _, part := range inner {
				part.quote = quoteDouble
				field = append(field, part)
			}
		case *syntax.ParamExp:
			val, err := cfg.paramExp(x)
			if err != nil {
				return nil, err
			}
			field = append(field, fieldPart{val: val})
		case *syntax.CmdSubst:
			val, err := cfg.cmdSubst(x)
			if err != nil {
				return nil, err
			}
			field = append(field, fieldPart{val: val})
		case *syntax.ArithmExp:
			n, err := Arithm(cfg, x.X)
			if err != nil {
				return nil, err
			}
			field = append(field, fieldPart{val: strconv.FormatInt(n, 10)})
		default:
			panic(fmt.Sprintf("unhandled word part: %T", x))
		}
	}
	return field, nil
}

func (cfg *Config) cmdSubst(cs *syntax.CmdSubst) (string, error) {
	if cfg.CmdSubst == nil {
		return "", fmt.Errorf("command substitution is unsupported here")
	}
	var buf bytes.Buffer
	if err := cfg.CmdSubst(&buf, cs); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// wordFields expands a word into any number of fields, performing field
// splitting on the unquoted expansion results. Quoted bytes never split;
// empty unquoted results vanish, while empty quoted results yield one empty
// field.
func (cfg *Config) wordFields(wps []syntax.WordPart) ([][]fieldPart, error) {
	var fields [][]fieldPart
	var cur []fieldPart
	curValid := false
	flush := func() {
		if len(cur) > 0 || curValid {
			fields = append(fields, cur)
		}
		cur = nil
		curValid = false
	}
	splitAdd := func(val string) {
		chunks, leading, trailing := cfg.splitIFS(val)
		if leading {
			flush()
		}
		for i, chunk := range chunks {
			if i > 0 {
				flush()
			}
			if chunk == "" {
				curValid = true
			} else {
				cur = append(cur, fieldPart{val: chunk})
			}
		}
		if trailing {
			flush()
		}
	}
	for i, wp := range wps {
		switch x := wp.(type) {
		case *syntax.Lit:
			s := x.Value
			if i == 0 {
				s = cfg.expandUser(s)
			}
			// unescape, keeping escaped bytes quoted so that
			// globbing treats them literally
			for len(s) > 0 {
				j := strings.IndexByte(s, '\\')
				if j < 0 {
					cur = append(cur, fieldPart{val: s})
					break
				}
				if j > 0 {
					cur = append(cur, fieldPart{val: s[:j]})
				}
				if j+1 < len(s) {
					cur = append(cur, fieldPart{
						quote: quoteSingle, val: s[j+1 : j+2],
					})
					s = s[j+2:]
				} else {
					cur = append(cur, fieldPart{val: "\\"})
					s = s[j+1:]
				}
			}
		case *syntax.SglQuoted:
			curValid = true
			fp := fieldPart{quote: quoteSingle, val: x.Value}
			if x.Dollar {
				var err error
				fp.val, _, err = Format(cfg, fp.val, nil)
				if err != nil {
					return nil, err
				}
			}
			cur = append(cur, fp)
		case *syntax.DblQuoted:
			curValid = true
			if len(x.Parts) == 1 {
				pe, _ := x.Parts[0].(*syntax.ParamExp)
				if elems := cfg.quotedElems(pe); elems != nil {
					for i, elem := range elems {
						if i > 0 {
							flush()
							curValid = true
						}
						cur = append(cur, fieldPart{
							quote: quoteDouble,
							val:   elem,
						})
					}
					continue
				}
			}
			inner, err := cfg.wordField(x.Parts, quoteDouble, false)
			if err != nil {
				return nil, err
			}
			for _, part := range inner {
				part.quote = quoteDouble
				cur = append(cur, part)
			}
		case *syntax.ParamExp:
			if elems := cfg.unquotedElems(x); elems != nil {
				for _, elem := range elems {
					splitAdd(elem)
					flush()
				}
				continue
			}
			val, err := cfg.paramExp(x)
			if err != nil {
				return nil, err
			}
			splitAdd(val)
		case *syntax.CmdSubst:
			val, err := cfg.cmdSubst(x)
			if err != nil {
				return nil, err
			}
			splitAdd(val)
		case *syntax.ArithmExp:
			n, err := Arithm(cfg, x.X)
			if err != nil {
				return nil, err
			}
			cur = append(cur, fieldPart{val: strconv.FormatInt(n, 10)})
		default:
			panic(fmt.Sprintf("unhandled word part: %T", x))
		}
	}
	flush()
	return fields, nil
}

// splitIFS breaks a string into chunks following the IFS splitting rules:
// runs of IFS whitespace delimit fields, and a single IFS non-whitespace
// character delimits a field on its own, preserving explicit empty fields.
// leading reports IFS whitespace at the start; trailing reports a delimiter
// of either kind at the end, or a string made only of IFS whitespace.
func (cfg *Config) splitIFS(s string) (chunks []string, leading, trailing bool) {
	if cfg.ifs == "" {
		if s != "" {
			chunks = append(chunks, s)
		}
		return chunks, false, false
	}
	isIFS := func(r rune) bool { return cfg.ifsRune(r) }
	isWS := func(r rune) bool {
		return (r == ' ' || r == '\t' || r == '\n') && isIFS(r)
	}
	rs := []rune(s)
	i := 0
	for i < len(rs) && isWS(rs[i]) {
		i++
		leading = true
	}
	if i == len(rs) {
		return nil, leading, leading
	}
	for i < len(rs) {
		start := i
		for i < len(rs) && !isIFS(rs[i]) {
			i++
		}
		chunks = append(chunks, string(rs[start:i]))
		if i == len(rs) {
			return chunks, leading, false
		}
		// one delimiter: ws* nonws? ws*
		for i < len(rs) && isWS(rs[i]) {
			i++
		}
		if i < len(rs) && isIFS(rs[i]) && !isWS(rs[i]) {
			i++
			for i < len(rs) && isWS(rs[i]) {
				i++
			}
		}
		if i == len(rs) {
			// a trailing delimiter does not produce a field, but
			// does terminate the current one
			return chunks, leading, true
		}
	}
	return chunks, leading, trailing
}

// quotedElems checks if a parameter expansion is exactly "${@}" or
// "${foo[@]}", which expand to one field per element even within quotes.
func (cfg *Config) quotedElems(pe *syntax.ParamExp) []string {
	if pe == nil || pe.Excl || pe.Length || pe.Names != 0 ||
		pe.Slice != nil || pe.Repl != nil || pe.Exp != nil {
		return nil
	}
	if pe.Param.Value == "@" {
		return cfg.Env.Get("@").List
	}
	if anyOfLit(pe.Index, "@") == "" {
		return nil
	}
	vr := cfg.Env.Get(pe.Param.Value)
	_, vr = vr.Resolve(cfg.Env)
	switch vr.Kind {
	case Indexed:
		return vr.List
	case Associative:
		return sortedMapValues(vr.Map)
	}
	return nil
}

// unquotedElems is like quotedElems, but for the unquoted forms, whose
// elements are field-split individually.
func (cfg *Config) unquotedElems(pe *syntax.ParamExp) []string {
	if pe == nil || pe.Excl || pe.Length || pe.Names != 0 ||
		pe.Slice != nil || pe.Repl != nil || pe.Exp != nil {
		return nil
	}
	if pe.Param.Value == "@" || pe.Param.Value == "*" {
		return cfg.Env.Get("@").List
	}
	if anyOfLit(pe.Index, "@", "*") == "" {
		return nil
	}
	vr := cfg.Env.Get(pe.Param.Value)
	_, vr = vr.Resolve(cfg.Env)
	switch vr.Kind {
	case Indexed:
		return vr.List
	case Associative:
		return sortedMapValues(vr.Map)
	}
	return nil
}

func sortedMapValues(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	strs := make([]string, 0, len(m))
	for _, k := range keys {
		strs = append(strs, m[k])
	}
	return strs
}

func (cfg *Config) expandUser(field string) string {
	if len(field) == 0 || field[0] != '~' {
		return field
	}
	name := field[1:]
	rest := ""
	if i := strings.Index(name, "/"); i >= 0 {
		rest = name[i:]
		name = name[:i]
	}
	if name == "" {
		return cfg.Env.Get("HOME").String() + rest
	}
	if cfg.UserHome == nil {
		return field
	}
	home := cfg.UserHome(name)
	if home == "" {
		return field
	}
	return home + rest
}

// glob performs pathname expansion of pat relative to dir. The pattern is
// matched per path component; matches for relative patterns are returned
// relative.
func (cfg *Config) glob(dir, pat string) ([]string, error) {
	parts := strings.Split(pat, "/")
	matches := []string{""}
	if strings.HasPrefix(pat, "/") {
		matches = []string{"/"}
		parts = parts[1:]
	}
	dirOnly := strings.HasSuffix(pat, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		last := i == len(parts)-1
		if part == "**" && cfg.GlobStar {
			var newMatches []string
			for _, m := range matches {
				newMatches = cfg.globStar(dir, m, last, newMatches)
			}
			matches = newMatches
			continue
		}
		expr, err := pattern.Regexp(part, pattern.Filenames|pattern.EntireString)
		if err != nil {
			return nil, nil
		}
		rx := regexp.MustCompile(expr)
		dotOK := strings.HasPrefix(part, ".") || strings.HasPrefix(part, `\.`)
		var newMatches []string
		for _, m := range matches {
			newMatches = cfg.globDir(dir, m, rx, dotOK, !last || dirOnly, newMatches)
		}
		matches = newMatches
	}
	if dirOnly {
		for i, m := range matches {
			matches[i] = m + "/"
		}
	}
	return matches, nil
}

func (cfg *Config) fullDir(dir, rel string) string {
	if strings.HasPrefix(rel, "/") {
		return path.Clean(rel)
	}
	return path.Clean(path.Join(dir, rel))
}

func joinGlob(prefix, name string) string {
	switch {
	case prefix == "":
		return name
	case strings.HasSuffix(prefix, "/"):
		return prefix + name
	default:
		return prefix + "/" + name
	}
}

func (cfg *Config) globDir(dir, rel string, rx *regexp.Regexp, dotOK, wantDir bool, matches []string) []string {
	entries, err := cfg.ReadDir(cfg.fullDir(dir, rel))
	if err != nil {
		return matches
	}
	names := make([]string, 0, len(entries))
	byName := make(map[string]fs.DirEntry, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
		byName[entry.Name()] = entry
	}
	sort.Strings(names)
	for _, name := range names {
		if strings.HasPrefix(name, ".") && !dotOK {
			continue
		}
		if wantDir && !byName[name].IsDir() {
			continue
		}
		if rx.MatchString(name) {
			matches = append(matches, joinGlob(rel, name))
		}
	}
	return matches
}

// globStar expands a "**" component: the directory itself plus all of its
// non-hidden descendants. When it is the last component, files are included
// as well.
func (cfg *Config) globStar(dir, rel string, last bool, matches []string) []string {
	if last {
		if rel != "" {
			matches = append(matches, strings.TrimSuffix(rel, "/"))
		}
	} else {
		matches = append(matches, rel)
	}
	var walk func(rel string) []string
	walk = func(rel string) (subs []string) {
		entries, err := cfg.ReadDir(cfg.fullDir(dir, rel))
		if err != nil {
			return nil
		}
		names := make([]string, 0, len(entries))
		byName := make(map[string]fs.DirEntry, len(entries))
		for _, entry := range entries {
			names = append(names, entry.Name())
			byName[entry.Name()] = entry
		}
		sort.Strings(names)
		for _, name := range names {
			if strings.HasPrefix(name, ".") {
				continue
			}
			sub := joinGlob(rel, name)
			if byName[name].IsDir() {
				subs = append(subs, sub)
				subs = append(subs, walk(sub)...)
			} else if last {
				subs = append(subs, sub)
			}
		}
		return subs
	}
	return append(matches, walk(rel)...)
}

// ReadFields splits and returns n fields from s, to implement the "read"
// builtin. If raw is set, backslash handling is disabled.
func ReadFields(cfg *Config, s string, n int, raw bool) []string {
	cfg = prepareConfig(cfg)
	type pos struct {
		start, end int
	}
	var fpos []pos

	runes := make([]rune, 0, len(s))
	infield := false
	esc := false
	for _, r := range s {
		if infield {
			if cfg.ifsRune(r) && (raw || !esc) {
				fpos[len(fpos)-1].end = len(runes)
				infield = false
			}
		} else {
			if !cfg.ifsRune(r) && (raw || !esc) {
				fpos = append(fpos, pos{start: len(runes), end: -1})
				infield = true
			}
		}
		if r == '\\' {
			if raw || esc {
				runes = append(runes, r)
			}
			esc = !esc
			continue
		}
		runes = append(runes, r)
		esc = false
	}
	if len(fpos) == 0 {
		return nil
	}
	if infield {
		fpos[len(fpos)-1].end = len(runes)
	}

	switch {
	case n == 1:
		// include heading/trailing IFSs
		fpos[0].start, fpos[0].end = 0, len(runes)
		fpos = fpos[:1]
	case n != -1 && n < len(fpos):
		// combine to max n fields
		fpos[n-1].end = fpos[len(fpos)-1].end
		fpos = fpos[:n]
	}

	fields := make([]string, len(fpos))
	for i, p := range fpos {
		fields[i] = string(runes[p.start:p.end])
	}
	return fields
}

// Format expands a format string with a number of arguments, following the
// shell's printf syntax, including the %-style directives and the backslash
// escape sequences. It returns the number of arguments consumed.
func Format(cfg *Config, format string, args []string) (string, int, error) {
	cfg = prepareConfig(cfg)
	var sb strings.Builder
	esc := false
	var fmts []rune
	initialArgs := len(args)

	for _, c := range format {
		switch {
		case esc:
			esc = false
			switch c {
			case 'a':
				sb.WriteByte('\a')
			case 'b':
				sb.WriteByte('\b')
			case 'e', 'E':
				sb.WriteByte('\x1b')
			case 'f':
				sb.WriteByte('\f')
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'v':
				sb.WriteByte('\v')
			case '0':
				sb.WriteByte(0)
			case '\'':
				sb.WriteByte('\'')
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			default:
				sb.WriteByte('\\')
				sb.WriteRune(c)
			}

		case len(fmts) > 0:
			switch c {
			case '%':
				sb.WriteByte('%')
				fmts = nil
			case 'c':
				var b byte
				if len(args) > 0 {
					arg := ""
					arg, args = args[0], args[1:]
					if len(arg) > 0 {
						b = arg[0]
					}
				}
				sb.WriteByte(b)
				fmts = nil
			case '+', '-', ' ':
				if len(fmts) > 1 {
					return "", 0, fmt.Errorf("invalid format char: %c", c)
				}
				fmts = append(fmts, c)
			case '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
				fmts = append(fmts, c)
			case 's', 'd', 'i', 'u', 'o', 'x':
				arg := ""
				if len(args) > 0 {
					arg, args = args[0], args[1:]
				}
				var farg any = arg
				if c != 's' {
					n, _ := strconv.ParseInt(arg, 0, 64)
					if c == 'i' || c == 'd' {
						farg = n
					} else {
						farg = uint64(n)
					}
					if c == 'i' || c == 'u' {
						c = 'd'
					}
				}
				fmts = append(fmts, c)
				fmt.Fprintf(&sb, string(fmts), farg)
				fmts = nil
			default:
				return "", 0, fmt.Errorf("invalid format char: %c", c)
			}
		case c == '\\':
			esc = true
		case args != nil && c == '%':
			// if args == nil, we are not doing format arguments
			fmts = []rune{c}
		default:
			sb.WriteRune(c)
		}
	}
	if len(fmts) > 0 {
		return "", 0, fmt.Errorf("missing format char")
	}
	return sb.String(), initialArgs - len(args), nil
}

func anyOfLit(v any, vals ...string) string {
	word, _ := v.(*syntax.Word)
	if word == nil || len(word.Parts) != 1 {
		return ""
	}
	lit, ok := word.Parts[0].(*syntax.Lit)
	if !ok {
		return ""
	}
	for _, val := range vals {
		if lit.Value == val {
			return val
		}
	}
	return ""
}
