// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package interp

import (
	"bufio"
	"context"
	"io"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/dbreunig/just-bash/expand"
	"github.com/dbreunig/just-bash/syntax"
)

func isBuiltin(name string) bool {
	switch name {
	case ":", "true", "false", "exit", "set", "shift", "unset",
		"echo", "printf", "break", "continue", "pwd", "cd",
		"wait", "builtin", "type", "source", ".", "command",
		"umask", "alias", "unalias", "eval", "test", "[", "exec",
		"return", "read", "mapfile", "readarray", "shopt",
		"declare", "local", "export", "readonly", "typeset",
		"nameref", "let":
		return true
	}
	return false
}

func (r *Runner) builtin(ctx context.Context, name string, args []string) int {
	failf := func(code int, format string, a ...any) int {
		r.errf(format, a...)
		return code
	}
	switch name {
	case ":", "true":
		return 0
	case "false":
		return 1
	case "exit":
		switch len(args) {
		case 0:
		case 1:
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return failf(2, "invalid exit status code: %q\n", args[0])
			}
			r.exit = n & 0xff
		default:
			return failf(1, "exit cannot take multiple arguments\n")
		}
		r.exitShell = true
		return r.exit
	case "set":
		if err := Params(args...)(r); err != nil {
			return failf(2, "set: %v\n", err)
		}
		r.updateExpandOpts()
		return 0
	case "shift":
		n := 1
		switch len(args) {
		case 0:
		case 1:
			if n2, err := strconv.Atoi(args[0]); err == nil {
				n = n2
				break
			}
			fallthrough
		default:
			return failf(2, "usage: shift [n]\n")
		}
		if n >= len(r.Params) {
			r.Params = nil
		} else {
			r.Params = r.Params[n:]
		}
		return 0
	case "unset":
		vars := true
		funcs := true
	unsetOpts:
		for len(args) > 0 {
			switch args[0] {
			case "-v":
				funcs = false
			case "-f":
				vars = false
			default:
				break unsetOpts
			}
			args = args[1:]
		}
		for _, arg := range args {
			if vars && r.lookupVar(arg).IsSet() {
				r.delVar(arg)
			} else if _, ok := r.Funcs[arg]; ok && funcs {
				delete(r.Funcs, arg)
			}
		}
		return r.exit
	case "echo":
		newline, doExpand := true, false
	echoOpts:
		for len(args) > 0 {
			switch args[0] {
			case "-n":
				newline = false
			case "-e":
				doExpand = true
			case "-E": // default
			default:
				break echoOpts
			}
			args = args[1:]
		}
		var sb strings.Builder
		for i, arg := range args {
			if i > 0 {
				sb.WriteString(" ")
			}
			if doExpand {
				arg, _, _ = expand.Format(r.ecfg, arg, nil)
			}
			sb.WriteString(arg)
		}
		if newline {
			sb.WriteString("\n")
		}
		if _, err := io.WriteString(r.stdout, sb.String()); err != nil {
			return failf(1, "echo: %v\n", err)
		}
		return 0
	case "printf":
		if len(args) == 0 {
			return failf(2, "usage: printf format [arguments]\n")
		}
		format, args := args[0], args[1:]
		for {
			s, n, err := expand.Format(r.ecfg, format, args)
			if err != nil {
				return failf(1, "%v\n", err)
			}
			r.out(s)
			args = args[n:]
			if n == 0 || len(args) == 0 {
				break
			}
		}
		return 0
	case "break", "continue":
		if !r.inLoop {
			return failf(0, "%s is only useful in a loop\n", name)
		}
		enclosing := &r.breakEnclosing
		if name == "continue" {
			enclosing = &r.contnEnclosing
		}
		switch len(args) {
		case 0:
			*enclosing = 1
		case 1:
			if n, err := strconv.Atoi(args[0]); err == nil {
				*enclosing = n
				break
			}
			fallthrough
		default:
			return failf(2, "usage: %s [n]\n", name)
		}
		return 0
	case "pwd":
		r.outf("%s\n", r.Dir)
		return 0
	case "cd":
		var path string
		switch len(args) {
		case 0:
			path = r.getVar("HOME")
		case 1:
			path = args[0]
			if path == "-" {
				path = r.getVar("OLDPWD")
				r.outf("%s\n", path)
			}
		default:
			return failf(2, "usage: cd [dir]\n")
		}
		return r.changeDir(path)
	case "umask":
		if len(args) == 0 {
			r.outf("%04o\n", r.FS.Umask)
			return 0
		}
		n, err := strconv.ParseUint(args[0], 8, 32)
		if err != nil {
			return failf(1, "umask: invalid mode: %q\n", args[0])
		}
		r.FS.Umask = fs.FileMode(n) & 0o777
		return 0
	case "wait":
		if len(args) > 0 {
			return failf(2, "wait with arguments is not supported\n")
		}
		r.bgShells.Wait()
		return 0
	case "builtin":
		if len(args) < 1 {
			return 0
		}
		if !isBuiltin(args[0]) {
			return 1
		}
		return r.builtin(ctx, args[0], args[1:])
	case "type":
		anyNotFound := false
		mode := ""
	typeOpts:
		for len(args) > 0 {
			switch args[0] {
			case "-t":
				mode = "-t"
			case "-p", "-P", "-a", "-f":
				return failf(3, "type: option %q is not supported\n", args[0])
			default:
				break typeOpts
			}
			args = args[1:]
		}
		for _, arg := range args {
			if syntax.IsKeyword(arg) {
				if mode == "-t" {
					r.out("keyword\n")
				} else {
					r.outf("%s is a shell keyword\n", arg)
				}
				continue
			}
			if als, ok := r.alias[arg]; ok && r.opts[optExpandAliases] {
				if mode == "-t" {
					r.out("alias\n")
				} else {
					r.outf("%s is aliased to `%s'\n", arg, als)
				}
				continue
			}
			if _, ok := r.Funcs[arg]; ok {
				if mode == "-t" {
					r.out("function\n")
				} else {
					r.outf("%s is a function\n", arg)
				}
				continue
			}
			if isBuiltin(arg) {
				if mode == "-t" {
					r.out("builtin\n")
				} else {
					r.outf("%s is a shell builtin\n", arg)
				}
				continue
			}
			if r.Registry.Lookup(arg) != nil {
				if mode == "-t" {
					r.out("file\n")
				} else {
					r.outf("%s is a registered command\n", arg)
				}
				continue
			}
			if mode != "-t" {
				r.errf("type: %s: not found\n", arg)
			}
			anyNotFound = true
		}
		if anyNotFound {
			return 1
		}
		return 0
	case "command":
		show := false
	cmdOpts:
		for len(args) > 0 {
			switch args[0] {
			case "-v":
				show = true
			case "-V":
				return failf(3, "command: option %q is not supported\n", args[0])
			default:
				break cmdOpts
			}
			args = args[1:]
		}
		if len(args) == 0 {
			return 0
		}
		if !show {
			// run the command, skipping functions
			if isBuiltin(args[0]) {
				return r.builtin(ctx, args[0], args[1:])
			}
			if fn := r.Registry.Lookup(args[0]); fn != nil {
				r.exec(ctx, fn, args)
				return r.exit
			}
			return failf(127, "%s: command not found\n", args[0])
		}
		anyNotFound := false
		for _, arg := range args {
			switch {
			case syntax.IsKeyword(arg), isBuiltin(arg):
				r.outf("%s\n", arg)
			case r.Funcs[arg] != nil:
				r.outf("%s\n", arg)
			case r.Registry.Lookup(arg) != nil:
				r.outf("%s\n", arg)
			default:
				anyNotFound = true
			}
		}
		if anyNotFound {
			return 1
		}
		return 0
	case "eval":
		src := strings.Join(args, " ")
		p := syntax.NewParser()
		file, err := p.Parse(strings.NewReader(src), "")
		if err != nil {
			return failf(1, "eval: %v\n", err)
		}
		r.stmts(ctx, file.Stmts)
		return r.exit
	case "source", ".":
		if len(args) < 1 {
			return failf(2, "source: need filename\n")
		}
		data, err := r.FS.ReadFile(r.absPath(args[0]))
		if err != nil {
			return failf(1, "source: %v\n", err)
		}
		p := syntax.NewParser()
		file, err := p.Parse(strings.NewReader(string(data)), args[0])
		if err != nil {
			return failf(1, "source: %v\n", err)
		}
		oldParams := r.Params
		oldInSource := r.inSource
		if len(args) > 1 {
			r.Params = args[1:]
		}
		r.inSource = true
		r.stmts(ctx, file.Stmts)

		r.Params = oldParams
		r.inSource = oldInSource
		if code, ok := r.err.(returnStatus); ok {
			r.err = nil
			r.exit = int(code)
		}
		return r.exit
	case "return":
		if len(r.frames) == 0 && !r.inSource {
			return failf(1, "return: can only be done from a func or sourced script\n")
		}
		code := r.exit
		switch len(args) {
		case 0:
		case 1:
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return failf(2, "invalid return status code: %q\n", args[0])
			}
			code = n
		default:
			return failf(2, "return: too many arguments\n")
		}
		r.setErr(returnStatus(code & 0xff))
		return code
	case "exec":
		if len(args) == 0 {
			// exec with redirections only: they apply to the
			// current shell
			r.keepRedirs = true
			return 0
		}
		r.call(ctx, args)
		r.exitShell = true
		return r.exit
	case "alias":
		if r.alias == nil {
			r.alias = map[string]string{}
		}
		if len(args) == 0 {
			for _, name := range sortedKeys(r.alias) {
				r.outf("alias %s='%s'\n", name, r.alias[name])
			}
			return 0
		}
		code := 0
		for _, arg := range args {
			name, value, found := strings.Cut(arg, "=")
			if found {
				r.alias[name] = value
				continue
			}
			if value, ok := r.alias[name]; ok {
				r.outf("alias %s='%s'\n", name, value)
			} else {
				r.errf("alias: %s: not found\n", name)
				code = 1
			}
		}
		return code
	case "unalias":
		if len(args) > 0 && args[0] == "-a" {
			r.alias = nil
			return 0
		}
		for _, arg := range args {
			delete(r.alias, arg)
		}
		return 0
	case "shopt":
		mode := ""
		posixOpts := false
	shoptOpts:
		for len(args) > 0 {
			switch args[0] {
			case "-s", "-u":
				mode = args[0]
			case "-o":
				posixOpts = true
			case "-p", "-q":
				// print mode is the default below
			default:
				break shoptOpts
			}
			args = args[1:]
		}
		if len(args) == 0 {
			if !posixOpts {
				for i, name := range bashOptsTable {
					r.printOptLine(name, r.opts[len(shellOptsTable)+i], true)
				}
				return 0
			}
			for i, opt := range &shellOptsTable {
				r.printOptLine(opt.name, r.opts[i], true)
			}
			return 0
		}
		for _, arg := range args {
			opt := r.optByName(arg, !posixOpts)
			if opt == nil {
				return failf(1, "shopt: invalid option name %q\n", arg)
			}
			switch mode {
			case "-s", "-u":
				*opt = mode == "-s"
			default: // print
				r.printOptLine(arg, *opt, true)
			}
		}
		r.updateExpandOpts()
		return 0
	case "read":
		raw := false
		var arrayName string
	readOpts:
		for len(args) > 0 {
			switch args[0] {
			case "-r":
				raw = true
			case "-a":
				if len(args) < 2 {
					return failf(2, "read: -a: option requires an argument\n")
				}
				arrayName = args[1]
				args = args[1:]
			default:
				break readOpts
			}
			args = args[1:]
		}
		for _, name := range args {
			if !syntax.ValidName(name) {
				return failf(2, "read: invalid identifier %q\n", name)
			}
		}
		line, err := r.readLine(raw)
		if len(line) == 0 && err != nil {
			return 1
		}
		if arrayName != "" {
			fields := expand.ReadFields(r.ecfg, string(line), -1, raw)
			r.setVar(arrayName, nil, expand.Variable{
				Set: true, Kind: expand.Indexed, List: fields,
			})
			return 0
		}
		if len(args) == 0 {
			args = []string{"REPLY"}
		}
		values := expand.ReadFields(r.ecfg, string(line), len(args), raw)
		for i, name := range args {
			val := ""
			if i < len(values) {
				val = values[i]
			}
			r.setVarString(name, val)
		}
		return 0
	case "mapfile", "readarray":
		dropDelim := false
	mapfileOpts:
		for len(args) > 0 {
			switch args[0] {
			case "-t":
				dropDelim = true
			default:
				break mapfileOpts
			}
			args = args[1:]
		}
		arrayName := "MAPFILE"
		if len(args) > 0 {
			if !syntax.ValidName(args[0]) {
				return failf(2, "%s: invalid identifier %q\n", name, args[0])
			}
			arrayName = args[0]
		}
		var lines []string
		if r.stdin != nil {
			sc := bufio.NewScanner(r.stdin)
			for sc.Scan() {
				line := sc.Text()
				if !dropDelim {
					line += "\n"
				}
				lines = append(lines, line)
			}
		}
		r.setVar(arrayName, nil, expand.Variable{
			Set: true, Kind: expand.Indexed, List: lines,
		})
		return 0
	case "test", "[":
		if name == "[" {
			if len(args) == 0 || args[len(args)-1] != "]" {
				return failf(2, "[: missing matching ]\n")
			}
			args = args[:len(args)-1]
		}
		return r.classicTest(args)
	case "declare", "local", "typeset", "export", "readonly", "nameref":
		return r.declBuiltin(name, args)
	case "let":
		if len(args) == 0 {
			return failf(2, "let: expression expected\n")
		}
		src := "let " + strings.Join(args, " ")
		p := syntax.NewParser()
		file, err := p.Parse(strings.NewReader(src), "")
		if err != nil {
			return failf(1, "let: %v\n", err)
		}
		r.stmts(ctx, file.Stmts)
		return r.exit
	default:
		// a name from isBuiltin without an implementation is a bug
		panic("unhandled builtin: " + name)
	}
}

// declBuiltin handles the declare family when invoked indirectly, such as
// via "builtin declare"; the arguments are already expanded strings.
func (r *Runner) declBuiltin(variant string, args []string) int {
	decl := &syntax.DeclClause{Variant: &syntax.Lit{Value: variant}}
	for _, arg := range args {
		name, value, found := strings.Cut(arg, "=")
		as := &syntax.Assign{Name: &syntax.Lit{Value: name}}
		if !found {
			as.Naked = true
		} else {
			as.Value = &syntax.Word{Parts: []syntax.WordPart{
				&syntax.Lit{Value: value},
			}}
		}
		decl.Args = append(decl.Args, as)
	}
	r.declClause(decl)
	return r.exit
}

func (r *Runner) changeDir(path string) int {
	if path == "" {
		path = "/"
	}
	abs := r.absPath(path)
	info, err := r.FS.Stat(abs + "/")
	if err != nil || !info.IsDir() {
		r.errf("cd: %s: no such directory\n", path)
		return 1
	}
	r.setVarString("OLDPWD", r.Dir)
	r.Dir = abs
	r.setVarString("PWD", abs)
	return 0
}

// readLine reads a line from stdin for the read builtin, honouring
// backslash line continuation unless raw is set.
func (r *Runner) readLine(raw bool) ([]byte, error) {
	if r.stdin == nil {
		return nil, io.EOF
	}
	var line []byte
	esc := false
	var buf [1]byte
	for {
		n, err := r.stdin.Read(buf[:])
		if n > 0 {
			b := buf[0]
			switch {
			case !raw && b == '\\':
				line = append(line, b)
				esc = !esc
			case !raw && b == '\n' && esc:
				// line continuation
				line = line[:len(line)-1]
				esc = false
			case b == '\n':
				return line, nil
			default:
				line = append(line, b)
				esc = false
			}
		}
		if err != nil {
			return line, err
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
