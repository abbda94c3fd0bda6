package constprop

import (
	"github.com/gnolang/cprop/internal/analysis/lattice"
	"github.com/gnolang/cprop/internal/ir"
)

// equalities collects the bindings a guard implies when it holds: the
// conjuncts `x == c`, `c == x`, `b` and `!b`. Only bool, integer and pointer
// variables are considered; float equality does not pin a value (0 == -0).
func (a *Analysis) equalities(guard ir.Expr) *lattice.AbstractState {
	out := lattice.NewTop()
	var collect func(e ir.Expr)
	collect = func(e ir.Expr) {
		switch x := e.(type) {
		case *ir.Binary:
			switch x.Op {
			case ir.OpAnd:
				collect(x.X)
				collect(x.Y)
			case ir.OpEq:
				if sym, ok := x.X.(*ir.SymbolExpr); ok {
					a.learn(out, sym, x.Y)
				} else if sym, ok := x.Y.(*ir.SymbolExpr); ok {
					a.learn(out, sym, x.X)
				}
			}
		case *ir.SymbolExpr:
			a.learn(out, x, ir.True())
		case *ir.Unary:
			if sym, ok := x.X.(*ir.SymbolExpr); ok && x.Op == ir.OpNot {
				a.learn(out, sym, ir.False())
			}
		}
	}
	collect(guard)
	return out
}

func (a *Analysis) learn(out *lattice.AbstractState, ref *ir.SymbolExpr, value ir.Expr) {
	c, ok := value.(*ir.Constant)
	if !ok {
		return
	}
	sym, ok := a.ns.Lookup(ref.Name)
	if !ok || !a.env.ShouldTrack(sym) || !sym.Type.Equal(c.Type()) {
		return
	}
	switch sym.Type.Kind {
	case ir.KindBool, ir.KindSigned, ir.KindUnsigned, ir.KindPointer:
	default:
		return
	}
	if prev, bound := out.Lookup(sym.Name); bound && !ir.Equal(prev, c) {
		// x == 1 && x == 2: keep the first
		return
	}
	out.Bind(sym, c)
}
