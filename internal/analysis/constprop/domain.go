package constprop

import (
	"io"

	"go.uber.org/zap"

	"github.com/gnolang/cprop/internal/analysis/lattice"
	"github.com/gnolang/cprop/internal/invariant"
	"github.com/gnolang/cprop/internal/ir"
)

// bookkeeping lists the intrinsics that never touch program variables.
var bookkeeping = map[string]bool{
	"__CPROVER_set_must":   true,
	"__CPROVER_get_must":   true,
	"__CPROVER_set_may":    true,
	"__CPROVER_get_may":    true,
	"__CPROVER_cleanup":    true,
	"__CPROVER_clear_may":  true,
	"__CPROVER_clear_must": true,
}

// Domain is the abstract state at one location.
type Domain struct {
	values *lattice.AbstractState
	a      *Analysis
}

// Values exposes the bindings of d.
func (d *Domain) Values() *lattice.AbstractState { return d.values }

// IsBottom reports whether the location is unreachable.
func (d *Domain) IsBottom() bool { return d.values.IsBottom() }

// Clone returns an independent copy sharing the analysis context.
func (d *Domain) Clone() *Domain {
	return &Domain{values: d.values.Clone(), a: d.a}
}

// Merge joins other, the state flowing along from -> to, into d.
func (d *Domain) Merge(other *Domain, from, to *ir.Instruction) bool {
	return d.values.Merge(other.values)
}

// Meet refines d with the knowledge of other.
func (d *Domain) Meet(other *Domain) bool {
	return d.values.Meet(other.values)
}

// PartialEvaluate rewrites expr with the constants known in d.
func (d *Domain) PartialEvaluate(expr ir.Expr) (ir.Expr, bool) {
	return d.a.partialEvaluate(d.values, expr)
}

// Simplify simplifies a condition in the context of d, for users of the
// converged result. It reports whether the condition changed.
func (d *Domain) Simplify(cond ir.Expr) (ir.Expr, bool) {
	return d.PartialEvaluate(cond)
}

// Output writes the diagnostic dump of d.
func (d *Domain) Output(w io.Writer) { d.values.Output(w) }

func (d *Domain) String() string { return d.values.String() }

// Transform applies the effect of from along the edge from -> to.
func (d *Domain) Transform(from, to *ir.Instruction) {
	if d.values.IsBottom() {
		// an infeasible branch may still leave its target on the work list
		return
	}

	var before string
	ce := d.a.logger.Check(zap.DebugLevel, "transform")
	if ce != nil {
		before = d.values.String()
	}

	switch from.Kind {
	case ir.Decl, ir.Dead:
		d.values.Unbind(from.Symbol.Name)
	case ir.Assign:
		d.assign(from.LHS, from.RHS)
	case ir.Goto:
		if next := d.a.prog.Next(from); from.Target != next {
			guard := from.Guard
			if to != from.Target {
				guard = negate(guard)
			}
			d.assume(guard)
		}
	case ir.Assume:
		d.assume(from.Guard)
	case ir.FunctionCall:
		d.call(from, to)
	case ir.EndFunction:
		if f, ok := d.a.prog.Function(from.Function); ok {
			for _, p := range f.Params {
				d.values.Unbind(p.Name)
			}
		}
	}

	invariant.Check(!d.values.IsBottom() || from.Kind == ir.Goto || from.Kind == ir.Assume,
		"bottom is reached only through an infeasible branch",
		"%s at location %d", from.Kind, from.Number)

	if ce != nil {
		ce.Write(
			zap.Int("from", from.Number),
			zap.Int("to", to.Number),
			zap.Stringer("instruction", from),
			zap.String("before", before),
			zap.Stringer("after", d.values))
	}
}

func (d *Domain) assign(lhs, rhs ir.Expr) {
	switch target := lhs.(type) {
	case *ir.SymbolExpr:
		d.assignSymbol(target.Name, rhs)
	case *ir.Index, *ir.Member:
		if root, ok := ir.RootSymbol(target); ok {
			d.values.Unbind(root.Name)
		}
	default:
		// a write through a pointer may hit any escaping variable
		d.invalidate()
	}
}

// assignSymbol binds name to rhs when it folds to a literal of the declared
// type, and unbinds it otherwise.
func (d *Domain) assignSymbol(name string, rhs ir.Expr) {
	sym, ok := d.a.ns.Lookup(name)
	if !ok || !d.a.env.ShouldTrack(sym) {
		d.values.Unbind(name)
		return
	}
	value, _ := d.PartialEvaluate(rhs)
	if ir.IsLiteral(value) && sym.Type.Equal(value.Type()) {
		d.values.Bind(sym, value)
		return
	}
	d.values.Unbind(name)
}

func (d *Domain) assume(guard ir.Expr) {
	g, _ := d.PartialEvaluate(guard)
	if c, ok := g.(*ir.Constant); ok && c.IsFalse() {
		d.values.SetToBottom()
		return
	}
	if d.a.refine {
		d.values.Meet(d.a.equalities(g))
	}
}

func (d *Domain) call(from, to *ir.Instruction) {
	callee, ok := from.Callee.(*ir.SymbolExpr)
	if !ok {
		invariant.Check(from.Function == to.Function, "unresolved calls stay in the caller",
			"call %s at location %d", from.Callee, from.Number)
		d.invalidate()
		return
	}

	f, ok := d.a.prog.Function(callee.Name)
	if !ok || !f.HasBody() || to != f.Entry() {
		// no body: the call flows to the next instruction
		if !bookkeeping[callee.Name] {
			d.invalidate()
		}
		return
	}
	for i, arg := range from.Args {
		if i >= len(f.Params) {
			break
		}
		d.assignSymbol(f.Params[i].Name, arg)
	}
}

// invalidate forgets everything an opaque call may have written.
func (d *Domain) invalidate() {
	if d.a.env.Dirty == nil {
		d.values.SetToTop()
		return
	}
	d.values.InvalidateEscaping(d.a.env.Dirty)
}

func negate(e ir.Expr) ir.Expr {
	if u, ok := e.(*ir.Unary); ok && u.Op == ir.OpNot {
		return u.X
	}
	return &ir.Unary{Op: ir.OpNot, X: e, Typ: ir.Bool()}
}
