// Package dirty finds the variables whose address is taken somewhere in a
// program. Such variables may be written through a pointer by code the
// analysis cannot see.
package dirty

import (
	"sort"

	"github.com/gnolang/cprop/internal/ir"
)

// Set is the set of address-taken variables.
type Set struct {
	names map[string]bool
}

// Compute scans every expression of prog.
func Compute(prog *ir.Program) *Set {
	s := &Set{names: make(map[string]bool)}
	for _, in := range prog.Instructions() {
		for _, e := range expressions(in) {
			s.scan(e)
		}
	}
	return s
}

func expressions(in *ir.Instruction) []ir.Expr {
	out := []ir.Expr{in.LHS, in.RHS, in.Guard, in.Callee, in.Code}
	return append(out, in.Args...)
}

func (s *Set) scan(e ir.Expr) {
	ir.Walk(e, func(n ir.Expr) bool {
		if addr, ok := n.(*ir.AddressOf); ok {
			if root, ok := ir.RootSymbol(addr.X); ok {
				s.names[root.Name] = true
			}
		}
		return true
	})
}

// IsDirty reports whether the address of name is taken.
func (s *Set) IsDirty(name string) bool { return s.names[name] }

// Names returns the dirty variables in sorted order.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.names))
	for name := range s.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of dirty variables.
func (s *Set) Len() int { return len(s.names) }
