package constprop

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/gnolang/cprop/internal/analysis/dataflow"
	"github.com/gnolang/cprop/internal/ir"
)

// Result holds the converged state of every location.
type Result struct {
	analysis *Analysis
	states   *dataflow.Analysis[*Domain]
}

// At returns the state before in. Unreached locations are bottom.
func (r *Result) At(in *ir.Instruction) *Domain {
	if d, ok := r.states.At(in); ok {
		return d
	}
	return r.analysis.Bottom()
}

// Replace rewrites prog in place, substituting the constants known at each
// reachable location. prog must be the program the result was computed for.
// It returns the number of rewritten instructions.
func (r *Result) Replace(prog *ir.Program) int {
	rewritten := 0
	for _, in := range prog.Instructions() {
		d := r.At(in)
		if d.IsBottom() {
			continue
		}
		if r.replace(d, in) {
			rewritten++
			r.analysis.logger.Debug("rewrote instruction",
				zap.Int("location", in.Number),
				zap.Stringer("instruction", in))
		}
	}
	return rewritten
}

func (r *Result) replace(d *Domain, in *ir.Instruction) bool {
	lookup := d.values.Replacer()
	changed := false

	// value-dependent array sizes first
	types := func(e *ir.Expr) {
		if *e == nil {
			return
		}
		if n, ok := ir.ReplaceInTypes(*e, lookup); ok {
			*e = n
			changed = true
		}
	}
	types(&in.Guard)
	types(&in.LHS)
	types(&in.RHS)
	types(&in.Callee)
	for i := range in.Args {
		types(&in.Args[i])
	}
	types(&in.Code)

	eval := func(e *ir.Expr) bool {
		if *e == nil {
			return false
		}
		n, ok := d.PartialEvaluate(*e)
		if ok {
			*e = n
			changed = true
		}
		return ok
	}

	switch in.Kind {
	case ir.Goto, ir.Assume, ir.Assert:
		eval(&in.Guard)
	case ir.Assign:
		if eval(&in.RHS) {
			if c, ok := in.RHS.(*ir.Constant); ok {
				in.RHS = c.WithPos(assignPos(in))
			}
		}
	case ir.FunctionCall:
		eval(&in.Callee)
		for i := range in.Args {
			eval(&in.Args[i])
		}
	case ir.Other:
		eval(&in.Code)
	}
	return changed
}

func assignPos(in *ir.Instruction) ir.Position {
	if sym, ok := in.LHS.(*ir.SymbolExpr); ok && sym.Pos.IsValid() {
		return sym.Pos
	}
	return in.Pos
}

// Output writes the state of every location followed by its instruction.
func (r *Result) Output(w io.Writer) {
	for _, in := range r.analysis.prog.Instructions() {
		fmt.Fprintf(w, "**** %d", in.Number)
		if in.Pos.IsValid() {
			fmt.Fprintf(w, " %s", in.Pos)
		}
		fmt.Fprintf(w, " function %s\n", in.Function)
		r.At(in).Output(w)
		fmt.Fprintf(w, "\n        %s\n\n", in)
	}
}
