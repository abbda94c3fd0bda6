package ir

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Expr is a node of an expression tree.
//
// Nodes are never mutated after construction. Rewrites build new nodes with
// Rebuild and share every untouched subtree, so copying a tree is a pointer
// copy.
type Expr interface {
	Type() *Type
	Operands() []Expr
	// Rebuild returns a node of the same kind with the given type and
	// operands, in the order reported by Operands.
	Rebuild(t *Type, ops []Expr) Expr
	String() string
}

// Position is a source location.
type Position struct {
	File string
	Line int
}

func (p Position) IsValid() bool { return p.Line > 0 }

func (p Position) String() string {
	if !p.IsValid() {
		return "-"
	}
	return p.File + ":" + strconv.Itoa(p.Line)
}

// SymbolExpr references a variable or function by its unique name.
type SymbolExpr struct {
	Name string
	Typ  *Type
	Pos  Position
}

// Sym returns a reference to the named symbol.
func Sym(name string, t *Type) *SymbolExpr { return &SymbolExpr{Name: name, Typ: t} }

func (e *SymbolExpr) Type() *Type      { return e.Typ }
func (e *SymbolExpr) Operands() []Expr { return nil }
func (e *SymbolExpr) Rebuild(t *Type, _ []Expr) Expr {
	return &SymbolExpr{Name: e.Name, Typ: t, Pos: e.Pos}
}
func (e *SymbolExpr) String() string { return e.Name }

// Constant is a literal of scalar type: bool, integer, float or a null
// pointer.
type Constant struct {
	Typ Type
	Pos Position
	b   bool
	u   uint64 // integers, masked to the type width
	f   float64
}

// True and False are the boolean literals.
func True() *Constant  { return BoolConst(true) }
func False() *Constant { return BoolConst(false) }

// BoolConst returns a boolean literal.
func BoolConst(b bool) *Constant { return &Constant{Typ: *Bool(), b: b} }

// IntConst returns an integer literal of type t, wrapped to its width.
func IntConst(t *Type, v int64) *Constant {
	return &Constant{Typ: *t, u: Wrap(t, uint64(v))}
}

// UintConst returns an integer literal of type t from raw bits.
func UintConst(t *Type, v uint64) *Constant {
	return &Constant{Typ: *t, u: Wrap(t, v)}
}

// FloatConst returns a float literal of type t. Single precision values are
// rounded to the nearest float32.
func FloatConst(t *Type, v float64) *Constant {
	if t.Width == 32 {
		v = float64(float32(v))
	}
	return &Constant{Typ: *t, f: v}
}

// NullPointer returns the null literal of pointer type t.
func NullPointer(t *Type) *Constant { return &Constant{Typ: *t} }

// Wrap truncates v to the width of integer type t.
func Wrap(t *Type, v uint64) uint64 {
	if t.Width <= 0 || t.Width >= 64 {
		return v
	}
	return v & (1<<uint(t.Width) - 1)
}

func (c *Constant) Type() *Type      { return &c.Typ }
func (c *Constant) Operands() []Expr { return nil }
func (c *Constant) Rebuild(t *Type, _ []Expr) Expr {
	n := *c
	n.Typ = *t
	return &n
}

// WithPos returns a copy of c attributed to pos.
func (c *Constant) WithPos(pos Position) *Constant {
	n := *c
	n.Pos = pos
	return &n
}

// Bool returns the value of a boolean literal.
func (c *Constant) Bool() bool { return c.b }

// Uint returns the raw bits of an integer literal.
func (c *Constant) Uint() uint64 { return c.u }

// Int returns an integer literal sign-extended according to its type.
func (c *Constant) Int() int64 {
	if c.Typ.Kind != KindSigned || c.Typ.Width >= 64 || c.Typ.Width <= 0 {
		return int64(c.u)
	}
	shift := uint(64 - c.Typ.Width)
	return int64(c.u<<shift) >> shift
}

// Float returns the value of a float literal.
func (c *Constant) Float() float64 { return c.f }

// IsTrue reports whether c is the boolean literal true.
func (c *Constant) IsTrue() bool { return c.Typ.Kind == KindBool && c.b }

// IsFalse reports whether c is the boolean literal false.
func (c *Constant) IsFalse() bool { return c.Typ.Kind == KindBool && !c.b }

// IsZero reports whether c is numerically zero, false or null.
func (c *Constant) IsZero() bool {
	switch c.Typ.Kind {
	case KindBool:
		return !c.b
	case KindFloat:
		return c.f == 0
	default:
		return c.u == 0
	}
}

func (c *Constant) String() string {
	switch c.Typ.Kind {
	case KindBool:
		return strconv.FormatBool(c.b)
	case KindSigned:
		return strconv.FormatInt(c.Int(), 10)
	case KindUnsigned:
		return strconv.FormatUint(c.u, 10) + "u"
	case KindFloat:
		s := strconv.FormatFloat(c.f, 'g', -1, c.Typ.Width)
		if math.IsInf(c.f, 0) || math.IsNaN(c.f) {
			return s
		}
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		if c.Typ.Width == 32 {
			s += "f"
		}
		return s
	case KindPointer:
		if c.u == 0 {
			return "NULL"
		}
		return fmt.Sprintf("(%s)0x%x", c.Typ.String(), c.u)
	default:
		return "?"
	}
}

func (c *Constant) equal(o *Constant) bool {
	if !c.Typ.Equal(&o.Typ) {
		return false
	}
	switch c.Typ.Kind {
	case KindBool:
		return c.b == o.b
	case KindFloat:
		return math.Float64bits(c.f) == math.Float64bits(o.f)
	default:
		return c.u == o.u
	}
}

// StringConst is a string literal; its type is an array of bytes.
type StringConst struct {
	Value string
	Typ   *Type
}

// Str returns a string literal including the terminating zero in its size.
func Str(s string) *StringConst {
	return &StringConst{Value: s, Typ: ArrayOf(Int(8), IntConst(Uint(64), int64(len(s)+1)))}
}

func (e *StringConst) Type() *Type      { return e.Typ }
func (e *StringConst) Operands() []Expr { return nil }
func (e *StringConst) Rebuild(t *Type, _ []Expr) Expr {
	return &StringConst{Value: e.Value, Typ: t}
}
func (e *StringConst) String() string { return strconv.Quote(e.Value) }

// ArrayLit is an array value given element by element.
type ArrayLit struct {
	Elems []Expr
	Typ   *Type
}

func (e *ArrayLit) Type() *Type      { return e.Typ }
func (e *ArrayLit) Operands() []Expr { return e.Elems }
func (e *ArrayLit) Rebuild(t *Type, ops []Expr) Expr {
	return &ArrayLit{Elems: ops, Typ: t}
}
func (e *ArrayLit) String() string {
	parts := make([]string, len(e.Elems))
	for i, el := range e.Elems {
		parts[i] = el.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// UnaryOp enumerates unary operators.
type UnaryOp int

const (
	_ UnaryOp = iota
	OpNot
	OpNeg
	OpBitNot
	OpCast
)

func (op UnaryOp) String() string {
	switch op {
	case OpNot:
		return "!"
	case OpNeg:
		return "-"
	case OpBitNot:
		return "~"
	case OpCast:
		return "cast"
	default:
		return "?"
	}
}

// Unary applies a unary operator. OpCast converts X to the node's type
// without rounding; conversions to floating point use FloatCast.
type Unary struct {
	Op  UnaryOp
	X   Expr
	Typ *Type
}

func (e *Unary) Type() *Type      { return e.Typ }
func (e *Unary) Operands() []Expr { return []Expr{e.X} }
func (e *Unary) Rebuild(t *Type, ops []Expr) Expr {
	return &Unary{Op: e.Op, X: ops[0], Typ: t}
}
func (e *Unary) String() string {
	if e.Op == OpCast {
		return "(" + e.Typ.String() + ")" + e.X.String()
	}
	return e.Op.String() + e.X.String()
}

// BinaryOp enumerates binary operators.
type BinaryOp int

const (
	_ BinaryOp = iota
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpShl
	OpShr
	OpBitAnd
	OpBitOr
	OpBitXor
	OpAnd
	OpOr
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
)

func (op BinaryOp) String() string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	case OpShl:
		return "<<"
	case OpShr:
		return ">>"
	case OpBitAnd:
		return "&"
	case OpBitOr:
		return "|"
	case OpBitXor:
		return "^"
	case OpAnd:
		return "&&"
	case OpOr:
		return "||"
	case OpEq:
		return "=="
	case OpNeq:
		return "!="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	default:
		return "?"
	}
}

// IsComparison reports whether op yields a boolean from two operands of the
// same type.
func (op BinaryOp) IsComparison() bool {
	return op >= OpEq && op <= OpGte
}

// Binary applies a binary operator. Floating-point arithmetic is expressed
// with FloatOp instead, comparisons on floats use Binary.
type Binary struct {
	Op  BinaryOp
	X   Expr
	Y   Expr
	Typ *Type
}

func (e *Binary) Type() *Type      { return e.Typ }
func (e *Binary) Operands() []Expr { return []Expr{e.X, e.Y} }
func (e *Binary) Rebuild(t *Type, ops []Expr) Expr {
	return &Binary{Op: e.Op, X: ops[0], Y: ops[1], Typ: t}
}
func (e *Binary) String() string {
	return "(" + e.X.String() + " " + e.Op.String() + " " + e.Y.String() + ")"
}

// FloatOp is IEEE arithmetic whose result depends on RoundingMode.
type FloatOp struct {
	Op           BinaryOp // OpAdd, OpSub, OpMul or OpDiv
	X            Expr
	Y            Expr
	RoundingMode Expr
	Typ          *Type
}

func (e *FloatOp) Type() *Type      { return e.Typ }
func (e *FloatOp) Operands() []Expr { return []Expr{e.X, e.Y, e.RoundingMode} }
func (e *FloatOp) Rebuild(t *Type, ops []Expr) Expr {
	return &FloatOp{Op: e.Op, X: ops[0], Y: ops[1], RoundingMode: ops[2], Typ: t}
}
func (e *FloatOp) String() string {
	return "(" + e.X.String() + " " + e.Op.String() + "[" + e.RoundingMode.String() + "] " + e.Y.String() + ")"
}

// FloatCast converts X to a floating-point type, rounding per RoundingMode.
type FloatCast struct {
	X            Expr
	RoundingMode Expr
	Typ          *Type
}

func (e *FloatCast) Type() *Type      { return e.Typ }
func (e *FloatCast) Operands() []Expr { return []Expr{e.X, e.RoundingMode} }
func (e *FloatCast) Rebuild(t *Type, ops []Expr) Expr {
	return &FloatCast{X: ops[0], RoundingMode: ops[1], Typ: t}
}
func (e *FloatCast) String() string {
	return "(" + e.Typ.String() + "[" + e.RoundingMode.String() + "])" + e.X.String()
}

// Index selects an array element.
type Index struct {
	X     Expr
	Index Expr
	Typ   *Type
}

func (e *Index) Type() *Type      { return e.Typ }
func (e *Index) Operands() []Expr { return []Expr{e.X, e.Index} }
func (e *Index) Rebuild(t *Type, ops []Expr) Expr {
	return &Index{X: ops[0], Index: ops[1], Typ: t}
}
func (e *Index) String() string { return e.X.String() + "[" + e.Index.String() + "]" }

// Member selects a field of a compound value.
type Member struct {
	X     Expr
	Field string
	Typ   *Type
}

func (e *Member) Type() *Type      { return e.Typ }
func (e *Member) Operands() []Expr { return []Expr{e.X} }
func (e *Member) Rebuild(t *Type, ops []Expr) Expr {
	return &Member{X: ops[0], Field: e.Field, Typ: t}
}
func (e *Member) String() string { return e.X.String() + "." + e.Field }

// AddressOf takes the address of an lvalue.
type AddressOf struct {
	X   Expr
	Typ *Type
}

// Addr returns &x with a pointer type to x's type.
func Addr(x Expr) *AddressOf { return &AddressOf{X: x, Typ: PointerTo(x.Type())} }

func (e *AddressOf) Type() *Type      { return e.Typ }
func (e *AddressOf) Operands() []Expr { return []Expr{e.X} }
func (e *AddressOf) Rebuild(t *Type, ops []Expr) Expr {
	return &AddressOf{X: ops[0], Typ: t}
}
func (e *AddressOf) String() string { return "&" + e.X.String() }

// Deref reads through a pointer.
type Deref struct {
	X   Expr
	Typ *Type
}

func (e *Deref) Type() *Type      { return e.Typ }
func (e *Deref) Operands() []Expr { return []Expr{e.X} }
func (e *Deref) Rebuild(t *Type, ops []Expr) Expr {
	return &Deref{X: ops[0], Typ: t}
}
func (e *Deref) String() string { return "*" + e.X.String() }

// Cond is the conditional expression c ? a : b.
type Cond struct {
	C    Expr
	Then Expr
	Else Expr
	Typ  *Type
}

func (e *Cond) Type() *Type      { return e.Typ }
func (e *Cond) Operands() []Expr { return []Expr{e.C, e.Then, e.Else} }
func (e *Cond) Rebuild(t *Type, ops []Expr) Expr {
	return &Cond{C: ops[0], Then: ops[1], Else: ops[2], Typ: t}
}
func (e *Cond) String() string {
	return "(" + e.C.String() + " ? " + e.Then.String() + " : " + e.Else.String() + ")"
}

// SideEffectKind enumerates expression side effects.
type SideEffectKind int

const (
	_ SideEffectKind = iota
	Nondet
	Allocate
)

// SideEffect produces a value that is not a function of its operands.
type SideEffect struct {
	Kind SideEffectKind
	Args []Expr
	Typ  *Type
}

// NondetOf returns a nondeterministic value of type t.
func NondetOf(t *Type) *SideEffect { return &SideEffect{Kind: Nondet, Typ: t} }

func (e *SideEffect) Type() *Type      { return e.Typ }
func (e *SideEffect) Operands() []Expr { return e.Args }
func (e *SideEffect) Rebuild(t *Type, ops []Expr) Expr {
	return &SideEffect{Kind: e.Kind, Args: ops, Typ: t}
}
func (e *SideEffect) String() string {
	name := "nondet"
	if e.Kind == Allocate {
		name = "allocate"
	}
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = a.String()
	}
	return name + "(" + strings.Join(args, ", ") + ")"
}

// Equal reports structural equality of two expression trees. Source
// positions are ignored and float literals compare by bit pattern.
func Equal(a, b Expr) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	switch x := a.(type) {
	case *SymbolExpr:
		y, ok := b.(*SymbolExpr)
		return ok && x.Name == y.Name && x.Typ.Equal(y.Typ)
	case *Constant:
		y, ok := b.(*Constant)
		return ok && x.equal(y)
	case *StringConst:
		y, ok := b.(*StringConst)
		return ok && x.Value == y.Value
	case *Unary:
		y, ok := b.(*Unary)
		if !ok || x.Op != y.Op {
			return false
		}
	case *Binary:
		y, ok := b.(*Binary)
		if !ok || x.Op != y.Op {
			return false
		}
	case *FloatOp:
		y, ok := b.(*FloatOp)
		if !ok || x.Op != y.Op {
			return false
		}
	case *Member:
		y, ok := b.(*Member)
		if !ok || x.Field != y.Field {
			return false
		}
	case *SideEffect:
		y, ok := b.(*SideEffect)
		if !ok || x.Kind != y.Kind {
			return false
		}
	case *ArrayLit:
		if _, ok := b.(*ArrayLit); !ok {
			return false
		}
	case *FloatCast:
		if _, ok := b.(*FloatCast); !ok {
			return false
		}
	case *Index:
		if _, ok := b.(*Index); !ok {
			return false
		}
	case *AddressOf:
		if _, ok := b.(*AddressOf); !ok {
			return false
		}
	case *Deref:
		if _, ok := b.(*Deref); !ok {
			return false
		}
	case *Cond:
		if _, ok := b.(*Cond); !ok {
			return false
		}
	default:
		return false
	}
	if !a.Type().Equal(b.Type()) {
		return false
	}
	xs, ys := a.Operands(), b.Operands()
	if len(xs) != len(ys) {
		return false
	}
	for i := range xs {
		if !Equal(xs[i], ys[i]) {
			return false
		}
	}
	return true
}

// IsLiteral reports whether e is a constant value: a scalar literal, a
// string literal or an array literal of literals.
func IsLiteral(e Expr) bool {
	switch x := e.(type) {
	case *Constant, *StringConst:
		return true
	case *ArrayLit:
		for _, el := range x.Elems {
			if !IsLiteral(el) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
