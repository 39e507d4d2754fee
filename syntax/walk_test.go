// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package syntax

import "testing"

func TestWalk(t *testing.T) {
	t.Parallel()
	f := parseString(t, `
x=1
if foo "$x"; then
	for i in a b; do echo $((i + 1)) > /tmp/out; done
fi
case $x in y) bar ;; esac
[[ -n $x ]] && baz
`)
	var calls, params, lits int
	Walk(f, func(node Node) bool {
		if node == nil {
			return false
		}
		calls++
		switch node.(type) {
		case *ParamExp:
			params++
		case *Lit:
			lits++
		}
		return true
	})
	if calls == 0 || lits == 0 {
		t.Fatalf("walk did not traverse: %d calls, %d lits", calls, lits)
	}
	if params != 3 {
		t.Fatalf("want 3 parameter expansions, got %d", params)
	}
}
