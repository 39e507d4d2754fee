// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package interp

import (
	"strconv"
	"strings"

	"github.com/dbreunig/just-bash/expand"
	"github.com/dbreunig/just-bash/syntax"
)

// expandEnv exposes a Runner's variables to the expand package.
type expandEnv struct {
	r *Runner
}

var _ expand.WriteEnviron = expandEnv{}

func (e expandEnv) Get(name string) expand.Variable {
	return e.r.lookupVar(name)
}

func (e expandEnv) Set(name string, vr expand.Variable) error {
	e.r.setVarInternal(name, vr)
	return nil
}

func (e expandEnv) Each(fn func(name string, vr expand.Variable) bool) {
	e.r.Env.Each(fn)
	for name, vr := range e.r.Vars {
		if !fn(name, vr) {
			return
		}
	}
	for _, frame := range e.r.frames {
		for name, vr := range frame {
			if !fn(name, vr) {
				return
			}
		}
	}
	for name, value := range e.r.cmdVars {
		vr := expand.Variable{Set: true, Exported: true, Kind: expand.String, Str: value}
		if !fn(name, vr) {
			return
		}
	}
}

func (r *Runner) lookupVar(name string) expand.Variable {
	if name == "" {
		panic("variable name must not be empty")
	}
	switch name {
	case "#":
		return strVar(strconv.Itoa(len(r.Params)))
	case "@", "*":
		return expand.Variable{
			Set: true, Kind: expand.Indexed, List: r.Params,
		}
	case "?":
		return strVar(strconv.Itoa(r.exit))
	case "$":
		// there is no real process; a fixed pid keeps scripts happy
		return strVar("1")
	case "0":
		if r.filename != "" {
			return strVar(r.filename)
		}
		return strVar("just-bash")
	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		i := int(name[0] - '1')
		if i < len(r.Params) {
			return strVar(r.Params[i])
		}
		return expand.Variable{}
	}
	if n, err := strconv.Atoi(name); err == nil && n > 9 {
		if n-1 < len(r.Params) {
			return strVar(r.Params[n-1])
		}
		return expand.Variable{}
	}
	if value, ok := r.cmdVars[name]; ok {
		return expand.Variable{Set: true, Exported: true, Kind: expand.String, Str: value}
	}
	// walk the scope frames from the top down; dynamic scoping means a
	// callee sees its callers' locals
	for i := len(r.frames) - 1; i >= 0; i-- {
		if vr, ok := r.frames[i][name]; ok {
			return vr
		}
	}
	if vr, ok := r.Vars[name]; ok {
		return vr
	}
	return r.Env.Get(name)
}

func strVar(s string) expand.Variable {
	return expand.Variable{Set: true, Kind: expand.String, Str: s}
}

func (r *Runner) getVar(name string) string {
	vr := r.lookupVar(name)
	_, vr = vr.Resolve(expandEnv{r})
	return vr.String()
}

func (r *Runner) delVar(name string) {
	vr := r.lookupVar(name)
	if vr.ReadOnly {
		r.errf("%s: readonly variable\n", name)
		r.exit = 1
		return
	}
	for i := len(r.frames) - 1; i >= 0; i-- {
		if _, ok := r.frames[i][name]; ok {
			delete(r.frames[i], name)
			return
		}
	}
	delete(r.Vars, name)
	delete(r.cmdVars, name)
}

// setVarInternal stores a variable, honouring where the name is already
// bound: the nearest enclosing frame that defines it, else the globals.
// Local variables always bind in the current frame.
func (r *Runner) setVarInternal(name string, vr expand.Variable) {
	if vr.Kind == expand.String {
		if r.opts[optAllExport] {
			vr.Exported = true
		}
	} else {
		vr.Exported = false
	}
	vr = applyCaseAttrs(vr)
	if vr.Local {
		if len(r.frames) == 0 {
			// "local" outside a function was caught earlier; a
			// local declaration from a DeclClause lands here
			r.Vars[name] = vr
			return
		}
		r.frames[len(r.frames)-1][name] = vr
		return
	}
	for i := len(r.frames) - 1; i >= 0; i-- {
		if old, ok := r.frames[i][name]; ok {
			vr.Local = old.Local
			r.frames[i][name] = vr
			return
		}
	}
	r.Vars[name] = vr
}

func applyCaseAttrs(vr expand.Variable) expand.Variable {
	if vr.Kind != expand.String {
		return vr
	}
	switch {
	case vr.Lowercase:
		vr.Str = strings.ToLower(vr.Str)
	case vr.Uppercase:
		vr.Str = strings.ToUpper(vr.Str)
	}
	return vr
}

func (r *Runner) setVarString(name, value string) {
	r.setVar(name, nil, strVar(value))
}

func (r *Runner) setVar(name string, index syntax.ArithmExpr, vr expand.Variable) {
	cur := r.lookupVar(name)
	if cur.ReadOnly {
		r.errf("%s: readonly variable\n", name)
		r.exit = 1
		return
	}
	if cur.Kind == expand.NameRef && vr.Kind == expand.String {
		// assigning through a nameref assigns to the referenced name
		refName, _ := cur.Resolve(expandEnv{r})
		if refName != "" && refName != name {
			r.setVar(refName, index, vr)
			return
		}
	}
	// keep the attributes of an existing declaration
	if cur.Declared() {
		vr.Integer = vr.Integer || cur.Integer
		vr.Lowercase = vr.Lowercase || cur.Lowercase
		vr.Uppercase = vr.Uppercase || cur.Uppercase
		vr.Exported = vr.Exported || cur.Exported
	}

	if vr.Kind == expand.String && index == nil {
		// When assigning a string to an array, fall back to the
		// zero value for the index.
		switch cur.Kind {
		case expand.Indexed:
			index = &syntax.Word{Parts: []syntax.WordPart{
				&syntax.Lit{Value: "0"},
			}}
		case expand.Associative:
			index = &syntax.Word{Parts: []syntax.WordPart{
				&syntax.DblQuoted{},
			}}
		}
	}
	if index == nil {
		r.setVarInternal(name, vr)
		return
	}

	// from the syntax package, we know that value must be a string if
	// index is non-nil; nested arrays are forbidden.
	valStr := vr.Str

	if cur.Kind == expand.Associative {
		w, ok := index.(*syntax.Word)
		if !ok {
			return
		}
		k := r.literal(w)
		if cur.Map == nil {
			cur.Map = map[string]string{}
		}
		cur.Map[k] = valStr
		r.setVarInternal(name, cur)
		return
	}
	var list []string
	switch cur.Kind {
	case expand.String:
		list = append(list, cur.Str)
	case expand.Indexed:
		list = cur.List
	}
	k := int(r.arithm(index))
	if k < 0 {
		k += len(list)
		if k < 0 {
			r.errf("%s: bad array subscript\n", name)
			r.exit = 1
			return
		}
	}
	for len(list) < k+1 {
		list = append(list, "")
	}
	list[k] = valStr
	cur.Set = true
	cur.Kind = expand.Indexed
	cur.List = list
	cur.Local = vr.Local || cur.Local
	r.setVarInternal(name, cur)
}

func (r *Runner) setFunc(name string, body *syntax.Stmt) {
	if r.Funcs == nil {
		r.Funcs = make(map[string]*syntax.Stmt, 4)
	}
	r.Funcs[name] = body
}

func stringIndex(index syntax.ArithmExpr) bool {
	w, ok := index.(*syntax.Word)
	if !ok || len(w.Parts) != 1 {
		return false
	}
	switch w.Parts[0].(type) {
	case *syntax.DblQuoted, *syntax.SglQuoted:
		return true
	}
	return false
}

// assignVal computes the value for an assignment node; valType is a declare
// flag such as "-a" forcing the kind of the value.
func (r *Runner) assignVal(as *syntax.Assign, valType string) expand.Variable {
	prev := r.lookupVar(as.Name.Value)
	if as.Naked {
		return prev
	}
	if as.Value != nil {
		s := r.literal(as.Value)
		if valType == "-n" {
			return expand.Variable{Set: true, Kind: expand.NameRef, Str: s}
		}
		if valType == "-i" || prev.Integer {
			n, err := expand.Arithm(r.ecfg, &syntax.Word{Parts: []syntax.WordPart{
				&syntax.Lit{Value: s},
			}})
			if err == nil {
				s = strconv.FormatInt(n, 10)
			}
		}
		if !as.Append || !prev.IsSet() {
			return strVar(s)
		}
		switch prev.Kind {
		case expand.String:
			prev.Str += s
			return prev
		case expand.Indexed:
			if len(prev.List) == 0 {
				prev.List = append(prev.List, "")
			}
			prev.List[0] += s
			return prev
		}
		return strVar(s)
	}
	if as.Array == nil {
		// e.g. "declare foo=" or "foo="
		return strVar("")
	}
	elems := as.Array.Elems
	if valType == "" {
		if len(elems) == 0 || !stringIndex(elems[0].Index) {
			valType = "-a" // indexed
		} else {
			valType = "-A" // associative
		}
	}
	if valType == "-A" {
		amap := make(map[string]string, len(elems))
		if as.Append && prev.Kind == expand.Associative {
			for k, v := range prev.Map {
				amap[k] = v
			}
		}
		for _, elem := range elems {
			k := r.literal(elem.Index.(*syntax.Word))
			amap[k] = r.literal(elem.Value)
		}
		return expand.Variable{Set: true, Kind: expand.Associative, Map: amap}
	}
	// indexed array
	var strs []string
	if as.Append && prev.IsSet() {
		switch prev.Kind {
		case expand.String:
			strs = append(strs, prev.Str)
		case expand.Indexed:
			strs = append(strs, prev.List...)
		}
	}
	for _, elem := range elems {
		if elem.Index != nil {
			k := int(r.arithm(elem.Index))
			for len(strs) < k+1 {
				strs = append(strs, "")
			}
			strs[k] = r.literal(elem.Value)
			continue
		}
		strs = append(strs, r.fields(elem.Value)...)
	}
	return expand.Variable{Set: true, Kind: expand.Indexed, List: strs}
}

// flattenAssign turns a "declare $x" value into one or more assignments by
// the basic splitting on '='.
func (r *Runner) flattenAssign(as *syntax.Assign) []*syntax.Assign {
	if as.Name != nil {
		return []*syntax.Assign{as} // nothing to do
	}
	var asgns []*syntax.Assign
	for _, field := range r.fields(as.Value) {
		as := &syntax.Assign{}
		name, value, found := strings.Cut(field, "=")
		as.Name = &syntax.Lit{Value: name}
		if !found {
			as.Naked = true
		} else {
			as.Value = &syntax.Word{Parts: []syntax.WordPart{
				&syntax.Lit{Value: value},
			}}
		}
		asgns = append(asgns, as)
	}
	return asgns
}
