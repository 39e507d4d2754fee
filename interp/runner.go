// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package interp

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dbreunig/just-bash/expand"
	"github.com/dbreunig/just-bash/pattern"
	"github.com/dbreunig/just-bash/syntax"
	"github.com/dbreunig/just-bash/vfs"
)

func (r *Runner) fillExpandConfig(ctx context.Context) {
	r.ectx = ctx
	r.ecfg = &expand.Config{
		Env: expandEnv{r},
		CmdSubst: func(w io.Writer, cs *syntax.CmdSubst) error {
			r2 := r.sub()
			r2.stdout = w
			// errexit does not leak into command substitutions
			r2.opts[optErrExit] = false
			r2.stmts(ctx, cs.Stmts)
			r.exit = r2.exit
			return r2.err
		},
	}
	r.updateExpandOpts()
}

func (r *Runner) updateExpandOpts() {
	if r.opts[optNoGlob] {
		r.ecfg.ReadDir = nil
	} else {
		r.ecfg.ReadDir = r.FS.ReadDir
	}
	r.ecfg.GlobStar = r.opts[optGlobStar]
	r.ecfg.NullGlob = r.opts[optNullGlob]
	r.ecfg.FailGlob = r.opts[optFailGlob]
	r.ecfg.NoUnset = r.opts[optNoUnset]
}

// expandErr reports an expansion error at the command boundary: a line on
// stderr plus a nonzero exit status.
func (r *Runner) expandErr(err error) {
	if err == nil {
		return
	}
	r.errf("%v\n", err)
	r.exit = 1
}

func (r *Runner) arithm(expr syntax.ArithmExpr) int64 {
	n, err := expand.Arithm(r.ecfg, expr)
	r.expandErr(err)
	return n
}

func (r *Runner) fields(words ...*syntax.Word) []string {
	strs, err := expand.Fields(r.ecfg, words...)
	r.expandErr(err)
	return strs
}

func (r *Runner) literal(word *syntax.Word) string {
	str, err := expand.Literal(r.ecfg, word)
	r.expandErr(err)
	return str
}

func (r *Runner) document(word *syntax.Word) string {
	str, err := expand.Document(r.ecfg, word)
	r.expandErr(err)
	return str
}

func (r *Runner) pattern(word *syntax.Word) string {
	str, err := expand.Pattern(r.ecfg, word)
	r.expandErr(err)
	return str
}

func (r *Runner) out(s string) {
	io.WriteString(r.stdout, s)
}

func (r *Runner) outf(format string, a ...any) {
	fmt.Fprintf(r.stdout, format, a...)
}

func (r *Runner) errf(format string, a ...any) {
	fmt.Fprintf(r.stderr, format, a...)
}

// stop reports whether the current task must stop running, due to a fatal
// error, an exit, cancellation, or the wall-clock limit.
func (r *Runner) stop(ctx context.Context) bool {
	if r.err != nil || r.exitShell {
		return true
	}
	if ctx.Err() != nil {
		r.err = ErrCancelled
		r.exit = 130
		return true
	}
	if !r.counters.deadline.IsZero() && time.Now().After(r.counters.deadline) {
		r.err = LimitError{Kind: "wall-clock"}
		r.exit = 124
		return true
	}
	if r.opts[optNoExec] {
		return true
	}
	return false
}

func (r *Runner) stmt(ctx context.Context, st *syntax.Stmt) {
	if r.stop(ctx) {
		return
	}
	if n := r.counters.stmts.Add(1); n > r.Limits.MaxStatements {
		r.err = LimitError{Kind: "statements"}
		r.exit = 124
		return
	}
	if st.Background {
		r2 := r.sub()
		st2 := *st
		st2.Background = false
		r.bgShells.Go(func() error {
			r2.stmtSync(ctx, &st2)
			return nil
		})
		r.exit = 0
		return
	}
	r.stmtSync(ctx, st)
}

func (r *Runner) stmtSync(ctx context.Context, st *syntax.Stmt) {
	oldIn, oldOut, oldErr := r.stdin, r.stdout, r.stderr
	for _, rd := range st.Redirs {
		cls, err := r.redir(ctx, rd)
		if err != nil {
			r.exit = 1
			return
		}
		if cls != nil {
			cls := cls
			defer func() {
				if !r.keepRedirs {
					cls.Close()
				}
			}()
		}
	}
	if st.Cmd == nil {
		r.exit = 0
	} else {
		r.cmd(ctx, st.Cmd)
	}
	if st.Negated {
		r.exit = boolExit(r.exit != 0)
	} else if _, ok := st.Cmd.(*syntax.CallExpr); !ok {
	} else if r.exit != 0 && !r.noErrExit && r.opts[optErrExit] {
		// If the "errexit" option is set and a simple command failed,
		// exit the shell. Exceptions:
		//
		//   conditions (if <cond>, while <cond>, etc)
		//   part of && or || lists
		//   preceded by !
		r.exitShell = true
	}
	if !r.keepRedirs {
		r.stdin, r.stdout, r.stderr = oldIn, oldOut, oldErr
	}
}

func boolExit(b bool) int {
	if b {
		return 0
	}
	return 1
}

// sub returns a copy of the runner suitable for a subshell: variables,
// frames, options, and aliases are copied, so that changes are discarded
// when the subshell exits. The filesystem, registry, and run-wide counters
// are shared.
func (r *Runner) sub() *Runner {
	r2 := &Runner{
		Env:      r.Env,
		Dir:      r.Dir,
		Params:   r.Params,
		FS:       r.FS,
		Registry: r.Registry,
		Limits:   r.Limits,
		stdin:    r.stdin,
		stdout:   r.stdout,
		stderr:   r.stderr,
		filename: r.filename,
		opts:     r.opts,
		exit:     r.exit,
		usedNew:  r.usedNew,
		counters: r.counters,
		bgShells: r.bgShells,
	}
	r2.Vars = make(map[string]expand.Variable, len(r.Vars))
	for k, v := range r.Vars {
		r2.Vars[k] = v
	}
	r2.Funcs = make(map[string]*syntax.Stmt, len(r.Funcs))
	for k, v := range r.Funcs {
		r2.Funcs[k] = v
	}
	r2.frames = make([]map[string]expand.Variable, len(r.frames))
	for i, frame := range r.frames {
		f2 := make(map[string]expand.Variable, len(frame))
		for k, v := range frame {
			f2[k] = v
		}
		r2.frames[i] = f2
	}
	r2.cmdVars = make(map[string]string, len(r.cmdVars))
	for k, v := range r.cmdVars {
		r2.cmdVars[k] = v
	}
	if r.alias != nil {
		r2.alias = make(map[string]string, len(r.alias))
		for k, v := range r.alias {
			r2.alias[k] = v
		}
	}
	r2.fillExpandConfig(r.ectx)
	r2.didReset = true
	return r2
}

func (r *Runner) stmts(ctx context.Context, stmts []*syntax.Stmt) {
	for _, stmt := range stmts {
		r.stmt(ctx, stmt)
	}
}

func (r *Runner) cmd(ctx context.Context, cm syntax.Command) {
	if r.stop(ctx) {
		return
	}
	switch x := cm.(type) {
	case *syntax.Block:
		r.stmts(ctx, x.Stmts)
	case *syntax.Subshell:
		r2 := r.sub()
		r2.stmts(ctx, x.Stmts)
		r.exit = r2.exit
		r.setErr(r2.err)
	case *syntax.CallExpr:
		r.callExpr(ctx, x)
	case *syntax.BinaryCmd:
		r.binaryCmd(ctx, x)
	case *syntax.IfClause:
		r.ifClause(ctx, x)
	case *syntax.WhileClause:
		r.whileClause(ctx, x)
	case *syntax.ForClause:
		r.forClause(ctx, x)
	case *syntax.FuncDecl:
		r.setFunc(x.Name.Value, x.Body)
		r.exit = 0
	case *syntax.ArithmCmd:
		r.exit = boolExit(r.arithm(x.X) != 0)
	case *syntax.LetClause:
		var val int64
		for _, expr := range x.Exprs {
			val = r.arithm(expr)
		}
		r.exit = boolExit(val != 0)
	case *syntax.CaseClause:
		r.caseClause(ctx, x)
	case *syntax.TestClause:
		if r.bashTest(ctx, x.X) {
			r.exit = 0
		} else if r.exit == 0 {
			r.exit = 1
		}
	case *syntax.DeclClause:
		r.declClause(x)
	default:
		panic(fmt.Sprintf("unhandled command node: %T", x))
	}
}

func (r *Runner) callExpr(ctx context.Context, x *syntax.CallExpr) {
	fields := r.fields(x.Args...)
	if len(fields) == 0 {
		for _, as := range x.Assigns {
			vr := r.assignVal(as, "")
			r.setVar(as.Name.Value, as.Index, vr)
		}
		return
	}
	for _, as := range x.Assigns {
		vr := r.assignVal(as, "")
		// we know that inline vars must be strings
		r.cmdVars[as.Name.Value] = vr.Str
	}
	fields = r.expandAlias(fields, nil)
	r.call(ctx, fields)
	// cmdVars are never useful again once we nest into further levels
	// of inline vars
	clear(r.cmdVars)
}

// expandAlias replaces the command name by its alias expansion, guarding
// against recursive aliases.
func (r *Runner) expandAlias(fields []string, seen map[string]bool) []string {
	if !r.opts[optExpandAliases] || len(fields) == 0 {
		return fields
	}
	val, ok := r.alias[fields[0]]
	if !ok || seen[fields[0]] {
		return fields
	}
	p := syntax.NewParser()
	file, err := p.Parse(strings.NewReader(val), "")
	if err != nil || len(file.Stmts) != 1 {
		return fields
	}
	call, ok := file.Stmts[0].Cmd.(*syntax.CallExpr)
	if ok && len(call.Assigns) == 0 {
		expanded := r.fields(call.Args...)
		if len(expanded) > 0 {
			if seen == nil {
				seen = map[string]bool{}
			}
			seen[fields[0]] = true
			expanded = r.expandAlias(expanded, seen)
			return append(expanded, fields[1:]...)
		}
	}
	return fields
}

func (r *Runner) binaryCmd(ctx context.Context, x *syntax.BinaryCmd) {
	switch x.Op {
	case syntax.AndStmt, syntax.OrStmt:
		oldNoErrExit := r.noErrExit
		r.noErrExit = true
		r.stmt(ctx, x.X)
		r.noErrExit = oldNoErrExit
		if (r.exit == 0) == (x.Op == syntax.AndStmt) {
			r.stmt(ctx, x.Y)
		}
	case syntax.Pipe, syntax.PipeAll:
		pr, pw := io.Pipe()
		r2 := r.sub()
		r2.stdout = pw
		if x.Op == syntax.PipeAll {
			r2.stderr = pw
		}
		r3 := r.sub()
		r3.stdin = pr
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			r2.stmt(ctx, x.X)
			pw.Close()
		}()
		r3.stmt(ctx, x.Y)
		pr.Close()
		wg.Wait()
		r.exit = r3.exit
		if r.opts[optPipeFail] && r2.exit != 0 && r.exit == 0 {
			r.exit = r2.exit
		}
		r.setErr(r2.err)
		r.setErr(r3.err)
	}
}

func (r *Runner) ifClause(ctx context.Context, x *syntax.IfClause) {
	if len(x.Cond) == 0 {
		// an else branch
		r.stmts(ctx, x.Then)
		return
	}
	oldNoErrExit := r.noErrExit
	r.noErrExit = true
	r.stmts(ctx, x.Cond)
	r.noErrExit = oldNoErrExit

	if r.exit == 0 {
		r.stmts(ctx, x.Then)
		return
	}
	r.exit = 0
	if x.Else != nil {
		r.cmd(ctx, x.Else)
	}
}

func (r *Runner) whileClause(ctx context.Context, x *syntax.WhileClause) {
	var iters int64
	for !r.stop(ctx) {
		if iters++; iters > r.Limits.MaxLoopIterations {
			r.err = LimitError{Kind: "loop-iterations"}
			r.exit = 124
			return
		}
		oldNoErrExit := r.noErrExit
		r.noErrExit = true
		r.stmts(ctx, x.Cond)
		r.noErrExit = oldNoErrExit

		stop := (r.exit == 0) == x.Until
		r.exit = 0
		if stop || r.loopStmtsBroken(ctx, x.Do) {
			break
		}
	}
}

func (r *Runner) forClause(ctx context.Context, x *syntax.ForClause) {
	switch y := x.Loop.(type) {
	case *syntax.WordIter:
		name := y.Name.Value
		items := r.Params // for i; do ...
		if y.InPos.IsValid() {
			items = r.fields(y.Items...) // for i in ...; do ...
		}
		var iters int64
		for _, field := range items {
			if r.stop(ctx) {
				break
			}
			if iters++; iters > r.Limits.MaxLoopIterations {
				r.err = LimitError{Kind: "loop-iterations"}
				r.exit = 124
				return
			}
			r.setVarString(name, field)
			if r.loopStmtsBroken(ctx, x.Do) {
				break
			}
		}
	case *syntax.CStyleLoop:
		if y.Init != nil {
			r.arithm(y.Init)
		}
		var iters int64
		for y.Cond == nil || r.arithm(y.Cond) != 0 {
			if r.stop(ctx) || r.exit != 0 {
				break
			}
			if iters++; iters > r.Limits.MaxLoopIterations {
				r.err = LimitError{Kind: "loop-iterations"}
				r.exit = 124
				return
			}
			if r.loopStmtsBroken(ctx, x.Do) {
				break
			}
			if y.Post != nil {
				r.arithm(y.Post)
			}
		}
	}
}

func (r *Runner) caseClause(ctx context.Context, x *syntax.CaseClause) {
	str := r.literal(x.Word)
	r.exit = 0
	matched := false
	for _, ci := range x.Items {
		if !matched {
			hit := false
			for _, word := range ci.Patterns {
				pat := r.pattern(word)
				if match(pat, str) {
					hit = true
					break
				}
			}
			if !hit {
				continue
			}
		}
		matched = true
		r.stmts(ctx, ci.Stmts)
		switch ci.Op {
		case syntax.Fallthrough:
			// ;& runs the next clause unconditionally
			continue
		case syntax.Resume:
			// ;;& keeps trying subsequent patterns
			matched = false
			continue
		}
		return
	}
}

func match(pat, name string) bool {
	expr, err := pattern.Regexp(pat, pattern.EntireString)
	if err != nil {
		return false
	}
	rx, err := regexp.Compile(expr)
	if err != nil {
		return false
	}
	return rx.MatchString(name)
}

func (r *Runner) declClause(x *syntax.DeclClause) {
	local, global := false, false
	var modes []string
	valType := ""
	switch x.Variant.Value {
	case "declare", "typeset":
		// when used in a function, "declare" acts as "local" unless
		// the "-g" option is used
		local = len(r.frames) > 0
	case "local":
		if len(r.frames) == 0 {
			r.errf("local: can only be used in a function\n")
			r.exit = 1
			return
		}
		local = true
	case "export":
		modes = append(modes, "-x")
	case "readonly":
		modes = append(modes, "-r")
	case "nameref":
		valType = "-n"
	}
	r.exit = 0
	for _, as := range x.Args {
		for _, as := range r.flattenAssign(as) {
			name := as.Name.Value
			if strings.HasPrefix(name, "-") || strings.HasPrefix(name, "+") {
				switch name {
				case "-x", "-r", "-i", "-l", "-u":
					modes = append(modes, name)
				case "+x", "+r":
					modes = append(modes, name)
				case "-a", "-A", "-n":
					valType = name
				case "-g":
					global = true
				case "-f", "-F":
					// function listing flags are accepted and
					// ignored
				default:
					r.errf("declare: invalid option %q\n", name)
					r.exit = 2
					return
				}
				continue
			}
			if !syntax.ValidName(name) {
				r.errf("declare: invalid name %q\n", name)
				r.exit = 1
				return
			}
			vr := r.assignVal(as, valType)
			if as.Naked && !vr.Declared() {
				vr = expand.Variable{}
			}
			switch valType {
			case "-a":
				if vr.Kind != expand.Indexed {
					vr.Kind = expand.Indexed
					if vr.Set {
						vr.List = []string{vr.Str}
						vr.Str = ""
					}
				}
			case "-A":
				if vr.Kind != expand.Associative {
					vr.Kind = expand.Associative
					if vr.Map == nil {
						vr.Map = map[string]string{}
					}
					vr.Str = ""
				}
			}
			if global {
				vr.Local = false
			} else if local {
				vr.Local = true
			}
			for _, mode := range modes {
				switch mode {
				case "-x":
					vr.Exported = true
				case "+x":
					vr.Exported = false
				case "-r":
					vr.ReadOnly = true
				case "+r":
					vr.ReadOnly = false
				case "-i":
					vr.Integer = true
				case "-l":
					vr.Lowercase = true
					vr.Uppercase = false
				case "-u":
					vr.Uppercase = true
					vr.Lowercase = false
				}
			}
			r.setVar(name, as.Index, vr)
		}
	}
}

type returnStatus uint8

func (s returnStatus) Error() string { return fmt.Sprintf("return status %d", s) }

func (r *Runner) call(ctx context.Context, args []string) {
	if r.stop(ctx) {
		return
	}
	if r.opts[optXTrace] {
		r.errf("+ %s\n", strings.Join(args, " "))
	}
	name := args[0]
	if body := r.Funcs[name]; body != nil {
		r.callFunc(ctx, body, args)
		return
	}
	if isBuiltin(name) {
		r.exit = r.builtin(ctx, name, args[1:])
		return
	}
	if fn := r.Registry.Lookup(name); fn != nil {
		r.exec(ctx, fn, args)
		return
	}
	r.errf("%s: command not found\n", name)
	r.exit = 127
}

func (r *Runner) callFunc(ctx context.Context, body *syntax.Stmt, args []string) {
	if len(r.frames) >= r.Limits.MaxCallDepth {
		r.err = LimitError{Kind: "call-depth"}
		r.exit = 124
		return
	}
	oldParams := r.Params
	r.Params = args[1:]
	r.frames = append(r.frames, map[string]expand.Variable{})

	r.stmt(ctx, body)

	r.Params = oldParams
	r.frames = r.frames[:len(r.frames)-1]
	if code, ok := r.err.(returnStatus); ok {
		r.err = nil
		r.exit = int(code)
	}
}

// exec invokes a registered utility command through the uniform command
// contract.
func (r *Runner) exec(ctx context.Context, fn CommandFunc, args []string) {
	r.exit = fn(ctx, r.handlerCtx(), args)
}

// handlerCtx builds the state handed to utility commands: a read-only
// overlay of the environment plus the shell streams.
func (r *Runner) handlerCtx() HandlerContext {
	return HandlerContext{
		Env:    expandEnv{r},
		Dir:    r.Dir,
		FS:     r.FS,
		Stdin:  r.stdin,
		Stdout: r.stdout,
		Stderr: r.stderr,
	}
}

func (r *Runner) absPath(path string) string {
	return vfs.Clean(r.Dir, path)
}

func (r *Runner) open(path string, flag int, mode fs.FileMode, print bool) (*vfs.File, error) {
	f, err := r.FS.OpenFile(r.absPath(path), flag, mode)
	if err != nil && print {
		r.errf("%v\n", err)
	}
	return f, err
}

func (r *Runner) hdocReader(rd *syntax.Redirect) io.Reader {
	return strings.NewReader(r.document(rd.Hdoc))
}

func (r *Runner) redir(ctx context.Context, rd *syntax.Redirect) (io.Closer, error) {
	if rd.Op == syntax.Hdoc || rd.Op == syntax.DashHdoc {
		r.stdin = r.hdocReader(rd)
		return nil, nil
	}
	orig := &r.stdout
	if rd.N != nil {
		switch rd.N.Value {
		case "0":
			if rd.Op == syntax.RdrIn || rd.Op == syntax.DplIn {
				orig = nil // stdin; handled below
			}
		case "1":
		case "2":
			orig = &r.stderr
		default:
			r.errf("file descriptors above 2 are not supported\n")
			return nil, fmt.Errorf("unsupported fd: %s", rd.N.Value)
		}
	}
	arg := r.literal(rd.Word)
	switch rd.Op {
	case syntax.WordHdoc:
		r.stdin = strings.NewReader(arg + "\n")
		return nil, nil
	case syntax.DplOut:
		switch arg {
		case "1":
			*orig = r.stdout
		case "2":
			*orig = r.stderr
		case "-":
			*orig = io.Discard
		default:
			r.errf("invalid duplication target: %q\n", arg)
			return nil, fmt.Errorf("invalid dup: %s", arg)
		}
		return nil, nil
	case syntax.DplIn:
		switch arg {
		case "0":
		case "-":
			r.stdin = strings.NewReader("")
		default:
			r.errf("invalid duplication target: %q\n", arg)
			return nil, fmt.Errorf("invalid dup: %s", arg)
		}
		return nil, nil
	}
	if r.absPath(arg) == "/dev/null" {
		// the null device never stores bytes, so writes to it do not
		// count against the filesystem quota
		switch rd.Op {
		case syntax.RdrIn:
			r.stdin = strings.NewReader("")
		case syntax.RdrOut, syntax.AppOut:
			*orig = io.Discard
		case syntax.RdrAll, syntax.AppAll:
			r.stdout = io.Discard
			r.stderr = io.Discard
		case syntax.RdrInOut:
			r.stdin = strings.NewReader("")
			r.stdout = io.Discard
		}
		return nil, nil
	}
	var flag int
	mode := fs.FileMode(0o644)
	switch rd.Op {
	case syntax.RdrIn:
		flag = vfs.O_RDONLY
	case syntax.RdrOut:
		flag = vfs.O_WRONLY | vfs.O_CREATE | vfs.O_TRUNC
	case syntax.AppOut, syntax.AppAll:
		flag = vfs.O_WRONLY | vfs.O_CREATE | vfs.O_APPEND
	case syntax.RdrAll:
		flag = vfs.O_WRONLY | vfs.O_CREATE | vfs.O_TRUNC
	case syntax.RdrInOut:
		flag = vfs.O_RDWR | vfs.O_CREATE
	default:
		panic(fmt.Sprintf("unhandled redirect op: %v", rd.Op))
	}
	f, err := r.open(arg, flag, mode, true)
	if err != nil {
		return nil, err
	}
	switch rd.Op {
	case syntax.RdrIn:
		r.stdin = f
	case syntax.RdrOut, syntax.AppOut:
		*orig = f
	case syntax.RdrAll, syntax.AppAll:
		r.stdout = f
		r.stderr = f
	case syntax.RdrInOut:
		r.stdin = f
		r.stdout = f
	}
	return f, nil
}

func (r *Runner) loopStmtsBroken(ctx context.Context, stmts []*syntax.Stmt) bool {
	oldInLoop := r.inLoop
	r.inLoop = true
	defer func() { r.inLoop = oldInLoop }()
	for _, stmt := range stmts {
		r.stmt(ctx, stmt)
		if r.contnEnclosing > 0 {
			r.contnEnclosing--
			return r.contnEnclosing > 0
		}
		if r.breakEnclosing > 0 {
			r.breakEnclosing--
			return true
		}
	}
	return false
}
