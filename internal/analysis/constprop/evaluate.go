package constprop

import (
	"go.uber.org/zap"

	"github.com/gnolang/cprop/internal/analysis/lattice"
	"github.com/gnolang/cprop/internal/ir"
)

// partialEvaluate substitutes the constants of values into expr and
// simplifies the result. values is never modified.
//
// While the rounding mode is unknown, expr is evaluated once per rounding
// mode and the result is only adopted when every trial folds to the same
// constant.
func (a *Analysis) partialEvaluate(values *lattice.AbstractState, expr ir.Expr) (ir.Expr, bool) {
	if expr == nil || values.IsBottom() {
		return expr, false
	}
	if !values.IsBound(ir.RoundingModeName) {
		return a.evaluateAllRoundingModes(values, expr)
	}
	return a.replaceAndSimplify(values, expr)
}

func (a *Analysis) replaceAndSimplify(values *lattice.AbstractState, expr ir.Expr) (ir.Expr, bool) {
	out, _ := ir.Substitute(expr, values.Replacer())
	out, _ = a.simplifier.Simplify(out, a.ns)
	return out, !ir.Equal(out, expr)
}

func (a *Analysis) evaluateAllRoundingModes(values *lattice.AbstractState, expr ir.Expr) (ir.Expr, bool) {
	var first ir.Expr
	for _, mode := range ir.RoundingModes {
		trial := values.Clone()
		trial.Bind(a.roundingMode, ir.IntConst(a.roundingMode.Type, mode))

		result, _ := a.replaceAndSimplify(trial, expr)
		if !trial.IsConstant(result) {
			a.logger.Debug("not constant under rounding mode",
				zap.Stringer("expr", expr),
				zap.Int64("rounding_mode", mode),
				zap.Stringer("result", result))
			return expr, false
		}
		if first == nil {
			first = result
			continue
		}
		if !ir.Equal(first, result) {
			a.logger.Debug("result depends on rounding mode",
				zap.Stringer("expr", expr),
				zap.Stringer("first", first),
				zap.Stringer("other", result))
			return expr, false
		}
	}
	return first, !ir.Equal(first, expr)
}
