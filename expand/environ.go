// Copyright (c) 2018, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package expand

import (
	"sort"
	"strings"
)

// Environ is the base interface for a shell's environment, allowing it to
// fetch variables by name and to iterate over all the currently set
// variables.
type Environ interface {
	// Get retrieves a variable by its name. To check if the variable is
	// set, use Variable.IsSet.
	Get(name string) Variable

	// Each iterates over all the currently set variables, calling the
	// supplied function on each variable. Iteration is stopped if the
	// function returns false.
	//
	// The names used in the calls aren't required to be unique or sorted.
	// If a variable name appears twice, the latest occurrence takes
	// priority.
	Each(func(name string, vr Variable) bool)
}

// WriteEnviron is an extension on Environ that supports modifying and
// deleting variables.
type WriteEnviron interface {
	Environ
	// Set sets a variable by name. If !vr.IsSet(), the variable is being
	// unset; otherwise, the variable is being replaced.
	//
	// An error may be returned if the operation is invalid, such as if
	// the name is empty or if we're trying to overwrite a read-only
	// variable.
	Set(name string, vr Variable) error
}

// ValueKind describes which kind of value the variable holds.
type ValueKind uint8

const (
	// Unknown is used for unset variables which do not have a kind yet.
	Unknown ValueKind = iota
	// String describes plain string variables, such as `foo=bar`.
	String
	// NameRef describes variables which reference another by name, such
	// as `declare -n foo=foo2`.
	NameRef
	// Indexed describes indexed array variables, such as `foo=(bar baz)`.
	Indexed
	// Associative describes associative array variables, such as
	// `foo=([bar]=x [baz]=y)`.
	Associative
)

// Variable describes a shell variable, which can have a number of attributes
// and a value. The zero value is an unset variable.
type Variable struct {
	// Set is true when the variable has been set to a value, which may be
	// empty. Unset is distinct from empty.
	Set bool

	Local    bool
	Exported bool
	ReadOnly bool

	// Integer, Lowercase, and Uppercase are the declare -i, -l, and -u
	// attributes, applied when the variable is assigned to.
	Integer   bool
	Lowercase bool
	Uppercase bool

	// Kind defines which of the value fields below should be used.
	Kind ValueKind

	Str  string            // used when Kind is String or NameRef
	List []string          // used when Kind is Indexed
	Map  map[string]string // used when Kind is Associative
}

// IsSet reports whether the variable has been set to a value.
func (v Variable) IsSet() bool { return v.Set }

// Declared reports whether the variable has been declared, even if not set,
// such as via `export foo` or `declare -a foo`.
func (v Variable) Declared() bool {
	return v.Set || v.Local || v.Exported || v.ReadOnly || v.Kind != Unknown
}

// String returns the variable's value as a string. In general, this only
// makes sense if the variable has a string value or no value at all.
func (v Variable) String() string {
	switch v.Kind {
	case String, NameRef:
		return v.Str
	case Indexed:
		if len(v.List) > 0 {
			return v.List[0]
		}
	case Associative:
		// nothing to do
	}
	return ""
}

// maxNameRefDepth defines the maximum number of times to follow references
// when resolving a variable. Otherwise, simple name reference loops could
// crash a program quite easily.
const maxNameRefDepth = 100

// Resolve follows a number of nameref variables, returning the last
// reference name that was followed and the variable that it points to.
func (v Variable) Resolve(env Environ) (string, Variable) {
	name := ""
	for i := 0; i < maxNameRefDepth; i++ {
		if v.Kind != NameRef {
			return name, v
		}
		name = v.Str // keep name for the next iteration
		v = env.Get(name)
	}
	return name, Variable{}
}

// FuncEnviron wraps a function mapping variable names to their string
// values, and implements Environ. Empty strings returned by the function
// will be treated as unset variables. All variables will be exported.
//
// Note that the returned Environ's Each method will be a no-op.
func FuncEnviron(fn func(string) string) Environ {
	return funcEnviron(fn)
}

type funcEnviron func(string) string

func (f funcEnviron) Get(name string) Variable {
	value := f(name)
	if value == "" {
		return Variable{}
	}
	return Variable{Set: true, Exported: true, Kind: String, Str: value}
}

func (f funcEnviron) Each(func(name string, vr Variable) bool) {}

// ListEnviron returns an Environ with the supplied variables, in the form
// "key=value". All variables will be exported. The last value in pairs is
// used if multiple values are present.
func ListEnviron(pairs ...string) Environ {
	m := make(mapEnviron, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			continue
		}
		m[name] = Variable{Set: true, Exported: true, Kind: String, Str: value}
	}
	return m
}

type mapEnviron map[string]Variable

func (m mapEnviron) Get(name string) Variable {
	return m[name]
}

func (m mapEnviron) Each(fn func(name string, vr Variable) bool) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !fn(name, m[name]) {
			return
		}
	}
}
