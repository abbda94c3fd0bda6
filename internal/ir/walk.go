package ir

// Lookup resolves a variable name to a replacement expression.
type Lookup func(name string) (Expr, bool)

// Walk calls fn for e and its operands in pre-order. Returning false from fn
// skips the operands of that node.
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	for _, op := range e.Operands() {
		Walk(op, fn)
	}
}

// Substitute replaces every variable that lookup resolves. The object whose
// address is taken is left in place (&x stays &x) while index operands below
// it are still rewritten. The second result reports whether anything changed.
func Substitute(e Expr, lookup Lookup) (Expr, bool) {
	return substitute(e, lookup, false)
}

func substitute(e Expr, lookup Lookup, lvalue bool) (Expr, bool) {
	if e == nil {
		return nil, false
	}
	switch x := e.(type) {
	case *SymbolExpr:
		if lvalue {
			return e, false
		}
		if v, ok := lookup(x.Name); ok {
			return v, true
		}
		return e, false
	case *AddressOf:
		return rebuildOperands(e, func(i int, op Expr) (Expr, bool) {
			return substitute(op, lookup, true)
		})
	case *Index:
		return rebuildOperands(e, func(i int, op Expr) (Expr, bool) {
			return substitute(op, lookup, lvalue && i == 0)
		})
	case *Member:
		return rebuildOperands(e, func(_ int, op Expr) (Expr, bool) {
			return substitute(op, lookup, lvalue)
		})
	default:
		return rebuildOperands(e, func(_ int, op Expr) (Expr, bool) {
			return substitute(op, lookup, false)
		})
	}
}

func rebuildOperands(e Expr, fn func(int, Expr) (Expr, bool)) (Expr, bool) {
	ops := e.Operands()
	if len(ops) == 0 {
		return e, false
	}
	var out []Expr
	for i, op := range ops {
		n, changed := fn(i, op)
		if !changed {
			continue
		}
		if out == nil {
			out = make([]Expr, len(ops))
			copy(out, ops)
		}
		out[i] = n
	}
	if out == nil {
		return e, false
	}
	return e.Rebuild(e.Type(), out), true
}

// ReplaceInTypes substitutes variables inside every type that occurs in e,
// such as value-dependent array sizes. Values themselves are not touched.
func ReplaceInTypes(e Expr, lookup Lookup) (Expr, bool) {
	if e == nil {
		return nil, false
	}
	n, opsChanged := rebuildOperands(e, func(_ int, op Expr) (Expr, bool) {
		return ReplaceInTypes(op, lookup)
	})
	t, typeChanged := SubstituteType(n.Type(), lookup)
	if !typeChanged {
		return n, opsChanged
	}
	return n.Rebuild(t, n.Operands()), true
}

// SubstituteType substitutes variables in the size expressions embedded in t.
func SubstituteType(t *Type, lookup Lookup) (*Type, bool) {
	if t == nil {
		return nil, false
	}
	changed := false
	out := *t
	if t.Elem != nil {
		if elem, ok := SubstituteType(t.Elem, lookup); ok {
			out.Elem = elem
			changed = true
		}
	}
	if t.Size != nil {
		if size, ok := Substitute(t.Size, lookup); ok {
			out.Size = size
			changed = true
		}
	}
	if !changed {
		return t, false
	}
	return &out, true
}

// Symbols returns the names of the variables read by e, excluding the
// objects whose address is taken.
func Symbols(e Expr) map[string]bool {
	seen := make(map[string]bool)
	Substitute(e, func(name string) (Expr, bool) {
		seen[name] = true
		return nil, false
	})
	return seen
}

// RootSymbol returns the variable an lvalue built from index and member
// selections ultimately denotes.
func RootSymbol(e Expr) (*SymbolExpr, bool) {
	switch x := e.(type) {
	case *SymbolExpr:
		return x, true
	case *Index:
		return RootSymbol(x.X)
	case *Member:
		return RootSymbol(x.X)
	default:
		return nil, false
	}
}
