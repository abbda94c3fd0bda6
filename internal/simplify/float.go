package simplify

import (
	"math"
	"math/big"

	"github.com/gnolang/cprop/internal/ir"
)

type floatFormat struct {
	prec      uint
	maxFinite float64
	minNormal float64
}

var (
	binary32 = floatFormat{prec: 24, maxFinite: math.MaxFloat32, minNormal: 0x1p-126}
	binary64 = floatFormat{prec: 53, maxFinite: math.MaxFloat64, minNormal: 0x1p-1022}
)

func formatOf(t *ir.Type) (floatFormat, bool) {
	switch {
	case t.Kind != ir.KindFloat:
		return floatFormat{}, false
	case t.Width == 32:
		return binary32, true
	case t.Width == 64:
		return binary64, true
	default:
		return floatFormat{}, false
	}
}

func bigMode(rm int64) (big.RoundingMode, bool) {
	switch rm {
	case ir.RoundToEven:
		return big.ToNearestEven, true
	case ir.RoundTowardZero:
		return big.ToZero, true
	case ir.RoundTowardNegative:
		return big.ToNegativeInf, true
	case ir.RoundTowardPositive:
		return big.ToPositiveInf, true
	default:
		return 0, false
	}
}

func special(f float64) bool { return math.IsNaN(f) || math.IsInf(f, 0) }

func native(op ir.BinaryOp, x, y float64) float64 {
	switch op {
	case ir.OpAdd:
		return x + y
	case ir.OpSub:
		return x - y
	case ir.OpMul:
		return x * y
	default:
		return x / y
	}
}

// roundedArith computes x op y in format fmt under rounding mode rm. The
// boolean is false when the result cannot be determined here: an unknown
// rounding mode or a result in the subnormal range.
func roundedArith(op ir.BinaryOp, x, y float64, format floatFormat, rm int64) (float64, bool) {
	mode, ok := bigMode(rm)
	if !ok {
		return 0, false
	}

	// Results that are exact whatever the rounding mode.
	if special(x) || special(y) ||
		((op == ir.OpMul || op == ir.OpDiv) && (x == 0 || y == 0)) {
		return narrow(native(op, x, y), format), true
	}
	if op == ir.OpAdd || op == ir.OpSub {
		addend := y
		if op == ir.OpSub {
			addend = -y
		}
		if x == -addend {
			// exact zero: the sign of a cancellation depends on the mode
			if x == 0 && math.Signbit(x) == math.Signbit(addend) {
				return x, true
			}
			if mode == big.ToNegativeInf {
				return math.Copysign(0, -1), true
			}
			return 0, true
		}
		if x == 0 || y == 0 {
			return narrow(native(op, x, y), format), true
		}
	}

	bx := new(big.Float).SetFloat64(x)
	by := new(big.Float).SetFloat64(y)
	z := new(big.Float).SetPrec(format.prec).SetMode(mode)
	switch op {
	case ir.OpAdd:
		z.Add(bx, by)
	case ir.OpSub:
		z.Sub(bx, by)
	case ir.OpMul:
		z.Mul(bx, by)
	case ir.OpDiv:
		z.Quo(bx, by)
	default:
		return 0, false
	}
	return finish(z, format, mode)
}

// roundedConvert rounds the literal c to format under rm.
func roundedConvert(c *ir.Constant, format floatFormat, rm int64) (float64, bool) {
	mode, ok := bigMode(rm)
	if !ok {
		return 0, false
	}
	z := new(big.Float).SetPrec(format.prec).SetMode(mode)
	switch c.Typ.Kind {
	case ir.KindBool:
		if c.Bool() {
			return 1, true
		}
		return 0, true
	case ir.KindSigned:
		if c.Int() == 0 {
			return 0, true
		}
		z.SetInt64(c.Int())
	case ir.KindUnsigned:
		if c.Uint() == 0 {
			return 0, true
		}
		z.SetUint64(c.Uint())
	case ir.KindFloat:
		f := c.Float()
		if special(f) || f == 0 {
			return f, true
		}
		z.Set(new(big.Float).SetFloat64(f))
	default:
		return 0, false
	}
	return finish(z, format, mode)
}

// finish applies the exponent range of format to a value already rounded to
// its precision.
func finish(z *big.Float, format floatFormat, mode big.RoundingMode) (float64, bool) {
	abs := new(big.Float).Abs(z)
	if abs.Cmp(big.NewFloat(format.maxFinite)) > 0 {
		neg := z.Signbit()
		var toInf bool
		switch mode {
		case big.ToNearestEven:
			toInf = true
		case big.ToZero:
			toInf = false
		case big.ToNegativeInf:
			toInf = neg
		case big.ToPositiveInf:
			toInf = !neg
		}
		switch {
		case toInf && neg:
			return math.Inf(-1), true
		case toInf:
			return math.Inf(1), true
		case neg:
			return -format.maxFinite, true
		default:
			return format.maxFinite, true
		}
	}
	if abs.Cmp(big.NewFloat(format.minNormal)) < 0 {
		return 0, false
	}
	f, _ := z.Float64()
	return f, true
}

func narrow(f float64, format floatFormat) float64 {
	if format.prec == binary32.prec {
		return float64(float32(f))
	}
	return f
}

// compareFloats applies an IEEE comparison.
func compareFloats(op ir.BinaryOp, x, y float64) (bool, bool) {
	switch op {
	case ir.OpEq:
		return x == y, true
	case ir.OpNeq:
		return x != y, true
	case ir.OpLt:
		return x < y, true
	case ir.OpLte:
		return x <= y, true
	case ir.OpGt:
		return x > y, true
	case ir.OpGte:
		return x >= y, true
	default:
		return false, false
	}
}
