package simplify

import (
	"math"

	"github.com/gnolang/cprop/internal/ir"
)

// Simplifier rewrites an expression into an equivalent, simpler one. It must
// be pure: the input tree is never modified and the result only depends on
// the arguments. The boolean reports whether the result differs from e.
type Simplifier interface {
	Simplify(e ir.Expr, ns *ir.SymbolTable) (ir.Expr, bool)
}

// Func adapts a function to the Simplifier interface.
type Func func(e ir.Expr, ns *ir.SymbolTable) (ir.Expr, bool)

func (f Func) Simplify(e ir.Expr, ns *ir.SymbolTable) (ir.Expr, bool) { return f(e, ns) }

// Normalizer is the default Simplifier: bottom-up constant folding plus a
// handful of algebraic identities that hold for every input.
type Normalizer struct{}

// New returns the default simplifier.
func New() *Normalizer { return &Normalizer{} }

func (n *Normalizer) Simplify(e ir.Expr, _ *ir.SymbolTable) (ir.Expr, bool) {
	if e == nil {
		return nil, false
	}
	out := n.normalizeExpr(e)
	return out, out != e
}

func (n *Normalizer) normalizeExpr(expr ir.Expr) ir.Expr {
	ops := expr.Operands()
	if len(ops) > 0 {
		var rebuilt []ir.Expr
		for i, op := range ops {
			norm := n.normalizeExpr(op)
			if norm == op {
				continue
			}
			if rebuilt == nil {
				rebuilt = make([]ir.Expr, len(ops))
				copy(rebuilt, ops)
			}
			rebuilt[i] = norm
		}
		if rebuilt != nil {
			expr = expr.Rebuild(expr.Type(), rebuilt)
		}
	}

	switch e := expr.(type) {
	case *ir.Unary:
		return n.normalizeUnary(e)
	case *ir.Binary:
		return n.normalizeBinary(e)
	case *ir.FloatOp:
		return n.normalizeFloatOp(e)
	case *ir.FloatCast:
		return n.normalizeFloatCast(e)
	case *ir.Cond:
		if c, ok := e.C.(*ir.Constant); ok && c.Typ.Kind == ir.KindBool {
			if c.Bool() {
				return e.Then
			}
			return e.Else
		}
		if ir.Equal(e.Then, e.Else) && !hasSideEffect(e.C) {
			return e.Then
		}
	case *ir.Index:
		return n.normalizeIndex(e)
	case *ir.Deref:
		if addr, ok := e.X.(*ir.AddressOf); ok && addr.X.Type().Equal(e.Typ) {
			return addr.X
		}
	case *ir.AddressOf:
		if deref, ok := e.X.(*ir.Deref); ok && deref.X.Type().Equal(e.Typ) {
			return deref.X
		}
	}
	return expr
}

func (n *Normalizer) normalizeUnary(e *ir.Unary) ir.Expr {
	// Double negation elimination
	if inner, ok := e.X.(*ir.Unary); ok && inner.Op == e.Op && e.Typ.Equal(inner.X.Type()) {
		switch e.Op {
		case ir.OpNot, ir.OpBitNot:
			return inner.X
		case ir.OpNeg:
			if e.Typ.IsInteger() {
				return inner.X
			}
		}
	}
	if e.Op == ir.OpCast && e.X.Type().Equal(e.Typ) {
		return e.X
	}

	lit, ok := e.X.(*ir.Constant)
	if !ok {
		return e
	}
	if result := n.evalConstUnary(e.Op, lit, e.Typ); result != nil {
		return result
	}
	return e
}

func (n *Normalizer) evalConstUnary(op ir.UnaryOp, x *ir.Constant, t *ir.Type) ir.Expr {
	switch op {
	case ir.OpNot:
		if x.Typ.Kind == ir.KindBool {
			return ir.BoolConst(!x.Bool())
		}
	case ir.OpNeg:
		switch {
		case x.Typ.IsInteger():
			return ir.UintConst(t, -x.Uint())
		case x.Typ.IsFloat():
			return ir.FloatConst(t, -x.Float())
		}
	case ir.OpBitNot:
		if x.Typ.IsInteger() {
			return ir.UintConst(t, ^x.Uint())
		}
	case ir.OpCast:
		return castConst(x, t)
	}
	return nil
}

// castConst converts a literal without rounding. Conversions that would need
// a rounding mode are left to FloatCast.
func castConst(x *ir.Constant, t *ir.Type) ir.Expr {
	switch t.Kind {
	case ir.KindBool:
		return ir.BoolConst(!x.IsZero())
	case ir.KindSigned, ir.KindUnsigned:
		switch x.Typ.Kind {
		case ir.KindBool:
			if x.Bool() {
				return ir.IntConst(t, 1)
			}
			return ir.IntConst(t, 0)
		case ir.KindSigned:
			return ir.IntConst(t, x.Int())
		case ir.KindUnsigned, ir.KindPointer:
			return ir.UintConst(t, x.Uint())
		case ir.KindFloat:
			return truncate(x.Float(), t)
		}
	case ir.KindPointer:
		if x.IsZero() && x.Typ.Kind != ir.KindFloat {
			return ir.NullPointer(t)
		}
	case ir.KindFloat:
		if x.Typ.IsFloat() && x.Typ.Width <= t.Width {
			return ir.FloatConst(t, x.Float())
		}
	}
	return nil
}

// truncate converts a float toward zero, refusing values that do not fit.
func truncate(f float64, t *ir.Type) ir.Expr {
	if special(f) {
		return nil
	}
	f = math.Trunc(f)
	if t.Kind == ir.KindSigned {
		limit := math.Ldexp(1, t.Width-1)
		if f < -limit || f >= limit {
			return nil
		}
		return ir.IntConst(t, int64(f))
	}
	if f < 0 || f >= math.Ldexp(1, t.Width) {
		return nil
	}
	return ir.UintConst(t, uint64(f))
}

func (n *Normalizer) normalizeBinary(e *ir.Binary) ir.Expr {
	lx, lok := e.X.(*ir.Constant)
	ly, rok := e.Y.(*ir.Constant)

	// Constant folding
	if lok && rok {
		if result := n.evalConstBinary(e.Op, lx, ly, e.Typ); result != nil {
			return result
		}
	}

	switch e.Op {
	case ir.OpAnd:
		// false && x => false
		if lok && lx.IsFalse() {
			return ir.False()
		}
		// x && false => false
		if rok && ly.IsFalse() && !hasSideEffect(e.X) {
			return ir.False()
		}
		// true && x => x
		if lok && lx.IsTrue() {
			return e.Y
		}
		// x && true => x
		if rok && ly.IsTrue() {
			return e.X
		}
	case ir.OpOr:
		// true || x => true
		if lok && lx.IsTrue() {
			return ir.True()
		}
		// x || true => true
		if rok && ly.IsTrue() && !hasSideEffect(e.X) {
			return ir.True()
		}
		// false || x => x
		if lok && lx.IsFalse() {
			return e.Y
		}
		// x || false => x
		if rok && ly.IsFalse() {
			return e.X
		}
	case ir.OpAdd, ir.OpSub, ir.OpBitOr, ir.OpBitXor, ir.OpShl, ir.OpShr:
		// x + 0 => x
		if rok && e.Typ.IsInteger() && ly.IsZero() && e.X.Type().Equal(e.Typ) {
			return e.X
		}
	case ir.OpMul:
		// x * 1 => x
		if rok && e.Typ.IsInteger() && ly.Uint() == 1 && e.X.Type().Equal(e.Typ) {
			return e.X
		}
	}

	// x == x on values with no side effects and no NaN
	if e.Op.IsComparison() && !e.X.Type().IsFloat() && ir.Equal(e.X, e.Y) && !hasSideEffect(e.X) {
		switch e.Op {
		case ir.OpEq, ir.OpLte, ir.OpGte:
			return ir.True()
		default:
			return ir.False()
		}
	}

	return e
}

func (n *Normalizer) evalConstBinary(op ir.BinaryOp, x, y *ir.Constant, t *ir.Type) ir.Expr {
	xt := &x.Typ
	switch {
	case xt.Kind == ir.KindBool:
		switch op {
		case ir.OpAnd:
			return ir.BoolConst(x.Bool() && y.Bool())
		case ir.OpOr:
			return ir.BoolConst(x.Bool() || y.Bool())
		case ir.OpEq:
			return ir.BoolConst(x.Bool() == y.Bool())
		case ir.OpNeq, ir.OpBitXor:
			return ir.BoolConst(x.Bool() != y.Bool())
		}
	case xt.IsInteger():
		if op.IsComparison() {
			return ir.BoolConst(compareInts(op, x, y))
		}
		return evalIntArith(op, x, y, t)
	case xt.IsFloat():
		if r, ok := compareFloats(op, x.Float(), y.Float()); ok {
			return ir.BoolConst(r)
		}
	case xt.Kind == ir.KindPointer:
		switch op {
		case ir.OpEq:
			return ir.BoolConst(x.Uint() == y.Uint())
		case ir.OpNeq:
			return ir.BoolConst(x.Uint() != y.Uint())
		}
	}
	return nil
}

func compareInts(op ir.BinaryOp, x, y *ir.Constant) bool {
	var cmp int
	if x.Typ.Kind == ir.KindSigned {
		a, b := x.Int(), y.Int()
		switch {
		case a < b:
			cmp = -1
		case a > b:
			cmp = 1
		}
	} else {
		a, b := x.Uint(), y.Uint()
		switch {
		case a < b:
			cmp = -1
		case a > b:
			cmp = 1
		}
	}
	switch op {
	case ir.OpEq:
		return cmp == 0
	case ir.OpNeq:
		return cmp != 0
	case ir.OpLt:
		return cmp < 0
	case ir.OpLte:
		return cmp <= 0
	case ir.OpGt:
		return cmp > 0
	default:
		return cmp >= 0
	}
}

func evalIntArith(op ir.BinaryOp, x, y *ir.Constant, t *ir.Type) ir.Expr {
	if !t.IsInteger() {
		return nil
	}
	signed := t.Kind == ir.KindSigned
	a, b := x.Uint(), y.Uint()
	switch op {
	case ir.OpAdd:
		return ir.UintConst(t, a+b)
	case ir.OpSub:
		return ir.UintConst(t, a-b)
	case ir.OpMul:
		return ir.UintConst(t, a*b)
	case ir.OpDiv, ir.OpMod:
		if b == 0 {
			return nil
		}
		if signed {
			sa, sb := x.Int(), y.Int()
			if sb == -1 {
				// avoids the overflowing MinInt64 / -1
				if op == ir.OpDiv {
					return ir.UintConst(t, -uint64(sa))
				}
				return ir.IntConst(t, 0)
			}
			if op == ir.OpDiv {
				return ir.IntConst(t, sa/sb)
			}
			return ir.IntConst(t, sa%sb)
		}
		if op == ir.OpDiv {
			return ir.UintConst(t, a/b)
		}
		return ir.UintConst(t, a%b)
	case ir.OpShl, ir.OpShr:
		if b >= uint64(t.Width) || (y.Typ.Kind == ir.KindSigned && y.Int() < 0) {
			return nil
		}
		if op == ir.OpShl {
			return ir.UintConst(t, a<<b)
		}
		if signed {
			return ir.IntConst(t, x.Int()>>b)
		}
		return ir.UintConst(t, a>>b)
	case ir.OpBitAnd:
		return ir.UintConst(t, a&b)
	case ir.OpBitOr:
		return ir.UintConst(t, a|b)
	case ir.OpBitXor:
		return ir.UintConst(t, a^b)
	}
	return nil
}

func (n *Normalizer) normalizeFloatOp(e *ir.FloatOp) ir.Expr {
	rm, ok := e.RoundingMode.(*ir.Constant)
	if !ok || !rm.Typ.IsInteger() {
		return e
	}
	x, xok := e.X.(*ir.Constant)
	y, yok := e.Y.(*ir.Constant)
	if !xok || !yok || !x.Typ.IsFloat() || !y.Typ.IsFloat() {
		return e
	}
	format, ok := formatOf(e.Typ)
	if !ok {
		return e
	}
	r, ok := roundedArith(e.Op, x.Float(), y.Float(), format, rm.Int())
	if !ok {
		return e
	}
	return ir.FloatConst(e.Typ, r)
}

func (n *Normalizer) normalizeFloatCast(e *ir.FloatCast) ir.Expr {
	if e.X.Type().Equal(e.Typ) {
		return e.X
	}
	x, ok := e.X.(*ir.Constant)
	if !ok {
		return e
	}
	format, ok := formatOf(e.Typ)
	if !ok {
		return e
	}
	// widening is exact under every mode
	if x.Typ.IsFloat() && x.Typ.Width <= e.Typ.Width {
		return ir.FloatConst(e.Typ, x.Float())
	}
	rm, ok := e.RoundingMode.(*ir.Constant)
	if !ok || !rm.Typ.IsInteger() {
		return e
	}
	r, ok := roundedConvert(x, format, rm.Int())
	if !ok {
		return e
	}
	return ir.FloatConst(e.Typ, r)
}

func (n *Normalizer) normalizeIndex(e *ir.Index) ir.Expr {
	idx, ok := e.Index.(*ir.Constant)
	if !ok || !idx.Typ.IsInteger() {
		return e
	}
	i := idx.Int()
	if idx.Typ.Kind == ir.KindUnsigned {
		if idx.Uint() > math.MaxInt32 {
			return e
		}
		i = int64(idx.Uint())
	}
	switch arr := e.X.(type) {
	case *ir.ArrayLit:
		if i >= 0 && i < int64(len(arr.Elems)) && arr.Elems[i].Type().Equal(e.Typ) {
			return arr.Elems[i]
		}
	case *ir.StringConst:
		if i >= 0 && i <= int64(len(arr.Value)) && e.Typ.IsInteger() {
			if i == int64(len(arr.Value)) {
				return ir.IntConst(e.Typ, 0)
			}
			return ir.IntConst(e.Typ, int64(arr.Value[i]))
		}
	}
	return e
}

func hasSideEffect(e ir.Expr) bool {
	found := false
	ir.Walk(e, func(n ir.Expr) bool {
		if _, ok := n.(*ir.SideEffect); ok {
			found = true
		}
		return !found
	})
	return found
}
