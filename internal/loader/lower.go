package loader

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"strconv"
	"strings"

	"golang.org/x/tools/go/ast/astutil"

	"github.com/gnolang/cprop/internal/ir"
)

// scope resolves names inside one function, or among globals when fi is
// nil.
type scope struct {
	l  *loader
	fi *funcInfo
}

func (s *scope) lookup(name string) (*ir.Symbol, error) {
	if s.fi != nil {
		if sym, ok := s.fi.locals[name]; ok {
			return sym, nil
		}
	}
	if sym, ok := s.l.ns.Lookup(name); ok {
		return sym, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, name)
}

// parse lowers a Go expression. hint is the type expected by the context;
// untyped literals adopt it.
func (s *scope) parse(src string, hint *ir.Type) (ir.Expr, error) {
	e, err := parser.ParseExpr(src)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", src, err)
	}
	return s.lower(e, hint)
}

func (s *scope) parseType(src string) (*ir.Type, error) {
	var isConst, isVolatile bool
	rest := strings.TrimSpace(src)
	for {
		switch {
		case strings.HasPrefix(rest, "const "):
			isConst = true
			rest = strings.TrimSpace(strings.TrimPrefix(rest, "const "))
			continue
		case strings.HasPrefix(rest, "volatile "):
			isVolatile = true
			rest = strings.TrimSpace(strings.TrimPrefix(rest, "volatile "))
			continue
		}
		break
	}
	e, err := parser.ParseExpr(rest)
	if err != nil {
		return nil, fmt.Errorf("parsing type %q: %w", src, err)
	}
	t, err := s.typeOf(e)
	if err != nil {
		return nil, err
	}
	if isConst {
		t = t.WithConst()
	}
	if isVolatile {
		t = t.WithVolatile()
	}
	return t, nil
}

var namedTypes = map[string]func() *ir.Type{
	"bool":    ir.Bool,
	"int8":    func() *ir.Type { return ir.Int(8) },
	"int16":   func() *ir.Type { return ir.Int(16) },
	"int32":   func() *ir.Type { return ir.Int(32) },
	"int":     func() *ir.Type { return ir.Int(32) },
	"int64":   func() *ir.Type { return ir.Int(64) },
	"uint8":   func() *ir.Type { return ir.Uint(8) },
	"byte":    func() *ir.Type { return ir.Uint(8) },
	"uint16":  func() *ir.Type { return ir.Uint(16) },
	"uint32":  func() *ir.Type { return ir.Uint(32) },
	"uint":    func() *ir.Type { return ir.Uint(32) },
	"uint64":  func() *ir.Type { return ir.Uint(64) },
	"float32": ir.Float32,
	"float64": ir.Float64,
}

func (s *scope) typeOf(e ast.Expr) (*ir.Type, error) {
	switch x := astutil.Unparen(e).(type) {
	case *ast.Ident:
		if mk, ok := namedTypes[x.Name]; ok {
			return mk(), nil
		}
	case *ast.StarExpr:
		elem, err := s.typeOf(x.X)
		if err != nil {
			return nil, err
		}
		return ir.PointerTo(elem), nil
	case *ast.ArrayType:
		if x.Len == nil {
			return nil, fmt.Errorf("slice types are not supported: %s", types.ExprString(e))
		}
		elem, err := s.typeOf(x.Elt)
		if err != nil {
			return nil, err
		}
		size, err := s.arraySize(x.Len)
		if err != nil {
			return nil, err
		}
		return ir.ArrayOf(elem, size), nil
	}
	return nil, fmt.Errorf("unknown type %s", types.ExprString(e))
}

func (s *scope) arraySize(e ast.Expr) (ir.Expr, error) {
	switch x := astutil.Unparen(e).(type) {
	case *ast.BasicLit:
		if x.Kind == token.INT {
			n, err := strconv.ParseUint(x.Value, 0, 64)
			if err != nil {
				return nil, err
			}
			return ir.UintConst(ir.Uint(64), n), nil
		}
	case *ast.Ident:
		sym, err := s.lookup(x.Name)
		if err != nil {
			return nil, err
		}
		if !sym.Type.IsInteger() {
			return nil, fmt.Errorf("%w: array size %s is not an integer", ErrTypeMismatch, x.Name)
		}
		return sym.Expr(), nil
	}
	return nil, fmt.Errorf("unsupported array size %s", types.ExprString(e))
}

func (s *scope) lower(e ast.Expr, hint *ir.Type) (ir.Expr, error) {
	switch x := astutil.Unparen(e).(type) {
	case *ast.Ident:
		switch x.Name {
		case "true":
			return ir.True(), nil
		case "false":
			return ir.False(), nil
		case "nil":
			if hint == nil || hint.Kind != ir.KindPointer {
				return nil, fmt.Errorf("%w: nil outside a pointer context", ErrTypeMismatch)
			}
			return ir.NullPointer(unqualified(hint)), nil
		}
		sym, err := s.lookup(x.Name)
		if err != nil {
			return nil, err
		}
		return sym.Expr(), nil

	case *ast.BasicLit:
		return literal(x, hint)

	case *ast.UnaryExpr:
		return s.unary(x, hint)

	case *ast.StarExpr:
		p, err := s.lower(x.X, nil)
		if err != nil {
			return nil, err
		}
		if p.Type().Kind != ir.KindPointer {
			return nil, fmt.Errorf("%w: dereferencing non-pointer %s", ErrTypeMismatch, p)
		}
		return &ir.Deref{X: p, Typ: p.Type().Elem}, nil

	case *ast.BinaryExpr:
		return s.binary(x, hint)

	case *ast.IndexExpr:
		arr, err := s.lower(x.X, nil)
		if err != nil {
			return nil, err
		}
		if arr.Type().Kind != ir.KindArray {
			return nil, fmt.Errorf("%w: indexing non-array %s", ErrTypeMismatch, arr)
		}
		idx, err := s.lower(x.Index, nil)
		if err != nil {
			return nil, err
		}
		if !idx.Type().IsInteger() {
			return nil, fmt.Errorf("%w: index %s is not an integer", ErrTypeMismatch, idx)
		}
		return &ir.Index{X: arr, Index: idx, Typ: arr.Type().Elem}, nil

	case *ast.CallExpr:
		return s.call(x, hint)

	case *ast.CompositeLit:
		return s.composite(x)
	}
	return nil, fmt.Errorf("unsupported expression %s", types.ExprString(e))
}

func literal(x *ast.BasicLit, hint *ir.Type) (ir.Expr, error) {
	switch x.Kind {
	case token.INT:
		v, err := strconv.ParseUint(x.Value, 0, 64)
		if err != nil {
			return nil, err
		}
		switch {
		case hint.IsInteger():
			return ir.UintConst(unqualified(hint), v), nil
		case hint.IsFloat():
			return ir.FloatConst(unqualified(hint), float64(v)), nil
		}
		return ir.UintConst(ir.Int(32), v), nil
	case token.FLOAT:
		v, err := strconv.ParseFloat(x.Value, 64)
		if err != nil {
			return nil, err
		}
		if hint.IsFloat() {
			return ir.FloatConst(unqualified(hint), v), nil
		}
		return ir.FloatConst(ir.Float64(), v), nil
	case token.CHAR:
		v, err := strconv.Unquote(x.Value)
		if err != nil {
			return nil, err
		}
		r := []rune(v)[0]
		if hint.IsInteger() {
			return ir.IntConst(unqualified(hint), int64(r)), nil
		}
		return ir.IntConst(ir.Int(8), int64(r)), nil
	case token.STRING:
		v, err := strconv.Unquote(x.Value)
		if err != nil {
			return nil, err
		}
		return ir.Str(v), nil
	}
	return nil, fmt.Errorf("unsupported literal %s", x.Value)
}

func (s *scope) unary(x *ast.UnaryExpr, hint *ir.Type) (ir.Expr, error) {
	switch x.Op {
	case token.ADD:
		return s.lower(x.X, hint)
	case token.AND:
		obj, err := s.lower(x.X, nil)
		if err != nil {
			return nil, err
		}
		return ir.Addr(obj), nil
	}

	operand, err := s.lower(x.X, hint)
	if err != nil {
		return nil, err
	}
	t := unqualified(operand.Type())
	switch x.Op {
	case token.NOT:
		if t.Kind != ir.KindBool {
			return nil, fmt.Errorf("%w: !%s on %s", ErrTypeMismatch, operand, t)
		}
		return &ir.Unary{Op: ir.OpNot, X: operand, Typ: t}, nil
	case token.SUB:
		if c, ok := operand.(*ir.Constant); ok && untyped(x.X) {
			switch {
			case t.IsInteger():
				return ir.UintConst(t, -c.Uint()), nil
			case t.IsFloat():
				return ir.FloatConst(t, -c.Float()), nil
			}
		}
		if !t.IsInteger() && !t.IsFloat() {
			return nil, fmt.Errorf("%w: -%s on %s", ErrTypeMismatch, operand, t)
		}
		return &ir.Unary{Op: ir.OpNeg, X: operand, Typ: t}, nil
	case token.XOR:
		if !t.IsInteger() {
			return nil, fmt.Errorf("%w: ^%s on %s", ErrTypeMismatch, operand, t)
		}
		return &ir.Unary{Op: ir.OpBitNot, X: operand, Typ: t}, nil
	}
	return nil, fmt.Errorf("unsupported operator %s", x.Op)
}

var binaryOps = map[token.Token]ir.BinaryOp{
	token.ADD:  ir.OpAdd,
	token.SUB:  ir.OpSub,
	token.MUL:  ir.OpMul,
	token.QUO:  ir.OpDiv,
	token.REM:  ir.OpMod,
	token.SHL:  ir.OpShl,
	token.SHR:  ir.OpShr,
	token.AND:  ir.OpBitAnd,
	token.OR:   ir.OpBitOr,
	token.XOR:  ir.OpBitXor,
	token.LAND: ir.OpAnd,
	token.LOR:  ir.OpOr,
	token.EQL:  ir.OpEq,
	token.NEQ:  ir.OpNeq,
	token.LSS:  ir.OpLt,
	token.LEQ:  ir.OpLte,
	token.GTR:  ir.OpGt,
	token.GEQ:  ir.OpGte,
}

func (s *scope) binary(x *ast.BinaryExpr, hint *ir.Type) (ir.Expr, error) {
	op, ok := binaryOps[x.Op]
	if !ok {
		return nil, fmt.Errorf("unsupported operator %s", x.Op)
	}

	if op == ir.OpAnd || op == ir.OpOr {
		l, err := s.lower(x.X, ir.Bool())
		if err != nil {
			return nil, err
		}
		r, err := s.lower(x.Y, ir.Bool())
		if err != nil {
			return nil, err
		}
		if err := expectType(l, ir.Bool()); err != nil {
			return nil, err
		}
		if err := expectType(r, ir.Bool()); err != nil {
			return nil, err
		}
		return &ir.Binary{Op: op, X: l, Y: r, Typ: ir.Bool()}, nil
	}

	if op.IsComparison() {
		hint = nil
	}
	l, r, err := s.operands(x.X, x.Y, hint)
	if err != nil {
		return nil, err
	}
	lt := unqualified(l.Type())

	switch {
	case op == ir.OpShl || op == ir.OpShr:
		if !lt.IsInteger() || !r.Type().IsInteger() {
			return nil, fmt.Errorf("%w: shift of %s by %s", ErrTypeMismatch, l, r)
		}
		return &ir.Binary{Op: op, X: l, Y: r, Typ: lt}, nil
	case !lt.Equal(r.Type()):
		return nil, fmt.Errorf("%w: %s %s %s mixes %s and %s", ErrTypeMismatch, l, x.Op, r, lt, r.Type())
	case op.IsComparison():
		return &ir.Binary{Op: op, X: l, Y: r, Typ: ir.Bool()}, nil
	case lt.IsFloat():
		if op == ir.OpMod || op == ir.OpBitAnd || op == ir.OpBitOr || op == ir.OpBitXor {
			return nil, fmt.Errorf("%w: %s on %s", ErrTypeMismatch, x.Op, lt)
		}
		return &ir.FloatOp{Op: op, X: l, Y: r, RoundingMode: s.roundingMode(), Typ: lt}, nil
	case lt.IsInteger():
		return &ir.Binary{Op: op, X: l, Y: r, Typ: lt}, nil
	case lt.Kind == ir.KindBool && op == ir.OpBitXor:
		return &ir.Binary{Op: op, X: l, Y: r, Typ: lt}, nil
	}
	return nil, fmt.Errorf("%w: %s on %s", ErrTypeMismatch, x.Op, lt)
}

// operands lowers both sides of a binary expression, typing an untyped
// literal after the other side.
func (s *scope) operands(x, y ast.Expr, hint *ir.Type) (ir.Expr, ir.Expr, error) {
	if untyped(x) && !untyped(y) {
		r, err := s.lower(y, hint)
		if err != nil {
			return nil, nil, err
		}
		l, err := s.lower(x, r.Type())
		return l, r, err
	}
	l, err := s.lower(x, hint)
	if err != nil {
		return nil, nil, err
	}
	r, err := s.lower(y, l.Type())
	return l, r, err
}

func untyped(e ast.Expr) bool {
	switch x := astutil.Unparen(e).(type) {
	case *ast.BasicLit:
		return true
	case *ast.UnaryExpr:
		return (x.Op == token.SUB || x.Op == token.ADD) && untyped(x.X)
	case *ast.Ident:
		return x.Name == "nil"
	}
	return false
}

func (s *scope) call(x *ast.CallExpr, hint *ir.Type) (ir.Expr, error) {
	fun := astutil.Unparen(x.Fun)

	if id, ok := fun.(*ast.Ident); ok {
		switch id.Name {
		case "nondet":
			t := hint
			if len(x.Args) == 1 {
				var err error
				if t, err = s.typeOf(x.Args[0]); err != nil {
					return nil, err
				}
			}
			if t == nil {
				return nil, fmt.Errorf("nondet needs a type")
			}
			return ir.NondetOf(unqualified(t)), nil
		case "alloc":
			if len(x.Args) != 1 {
				return nil, fmt.Errorf("alloc takes a type")
			}
			t, err := s.typeOf(x.Args[0])
			if err != nil {
				return nil, err
			}
			return &ir.SideEffect{Kind: ir.Allocate, Typ: ir.PointerTo(t)}, nil
		case "cond":
			if len(x.Args) != 3 {
				return nil, fmt.Errorf("cond takes three arguments")
			}
			c, err := s.lower(x.Args[0], ir.Bool())
			if err != nil {
				return nil, err
			}
			if err := expectType(c, ir.Bool()); err != nil {
				return nil, err
			}
			a, b, err := s.operands(x.Args[1], x.Args[2], hint)
			if err != nil {
				return nil, err
			}
			if err := expectType(b, a.Type()); err != nil {
				return nil, err
			}
			return &ir.Cond{C: c, Then: a, Else: b, Typ: unqualified(a.Type())}, nil
		}
	}

	if t, err := s.typeOf(fun); err == nil {
		if len(x.Args) != 1 {
			return nil, fmt.Errorf("conversion to %s takes one argument", t)
		}
		return s.convert(x.Args[0], t)
	}

	if id, ok := fun.(*ast.Ident); ok {
		if sym, err := s.lookup(id.Name); err == nil && sym.Type.Kind == ir.KindCode {
			return nil, fmt.Errorf("call of %s must be a call step", id.Name)
		}
	}
	return nil, fmt.Errorf("unsupported call %s", types.ExprString(x))
}

func (s *scope) convert(arg ast.Expr, t *ir.Type) (ir.Expr, error) {
	if untyped(arg) {
		return s.lower(arg, t)
	}
	src, err := s.lower(arg, nil)
	if err != nil {
		return nil, err
	}
	if src.Type().Equal(t) {
		return src, nil
	}
	if t.IsFloat() {
		return &ir.FloatCast{X: src, RoundingMode: s.roundingMode(), Typ: t}, nil
	}
	return &ir.Unary{Op: ir.OpCast, X: src, Typ: t}, nil
}

func (s *scope) composite(x *ast.CompositeLit) (ir.Expr, error) {
	if x.Type == nil {
		return nil, fmt.Errorf("composite literal needs a type")
	}
	t, err := s.typeOf(x.Type)
	if err != nil {
		return nil, err
	}
	if t.Kind != ir.KindArray {
		return nil, fmt.Errorf("composite literal of non-array type %s", t)
	}
	lit := &ir.ArrayLit{Typ: t}
	for _, el := range x.Elts {
		v, err := s.lower(el, t.Elem)
		if err != nil {
			return nil, err
		}
		if err := expectType(v, t.Elem); err != nil {
			return nil, err
		}
		lit.Elems = append(lit.Elems, v)
	}
	if n, ok := t.Size.(*ir.Constant); ok && n.Uint() != uint64(len(lit.Elems)) {
		return nil, fmt.Errorf("%w: %d elements for %s", ErrTypeMismatch, len(lit.Elems), t)
	}
	return lit, nil
}

func (s *scope) roundingMode() ir.Expr {
	sym, _ := s.l.ns.Lookup(ir.RoundingModeName)
	return sym.Expr()
}

func unqualified(t *ir.Type) *ir.Type {
	if t == nil || (!t.Const && !t.Volatile) {
		return t
	}
	out := *t
	out.Const = false
	out.Volatile = false
	return &out
}
