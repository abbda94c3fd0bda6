package ir

import (
	"fmt"
	"strings"
)

// TypeKind classifies a Type.
type TypeKind int

const (
	_ TypeKind = iota
	KindBool
	KindSigned
	KindUnsigned
	KindFloat
	KindPointer
	KindArray
	KindCode
	KindVoid
)

func (k TypeKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindSigned:
		return "signed"
	case KindUnsigned:
		return "unsigned"
	case KindFloat:
		return "float"
	case KindPointer:
		return "pointer"
	case KindArray:
		return "array"
	case KindCode:
		return "code"
	case KindVoid:
		return "void"
	default:
		return "?"
	}
}

// Type is the declared type of a symbol or the type of an expression.
//
// Types are treated as immutable values once built; the With* helpers
// return modified copies. Array sizes are expressions and may mention
// variables, which is why the replacement pass also rewrites types.
type Type struct {
	Kind     TypeKind
	Width    int   // bit width of integer and float types
	Elem     *Type // element type of pointers and arrays
	Size     Expr  // array length
	Params   []*Type
	Return   *Type
	Const    bool
	Volatile bool
}

// Bool returns the boolean type.
func Bool() *Type { return &Type{Kind: KindBool, Width: 1} }

// Int returns a signed integer type of the given width.
func Int(width int) *Type { return &Type{Kind: KindSigned, Width: width} }

// Uint returns an unsigned integer type of the given width.
func Uint(width int) *Type { return &Type{Kind: KindUnsigned, Width: width} }

// Float32 returns the IEEE single precision type.
func Float32() *Type { return &Type{Kind: KindFloat, Width: 32} }

// Float64 returns the IEEE double precision type.
func Float64() *Type { return &Type{Kind: KindFloat, Width: 64} }

// Void returns the empty type.
func Void() *Type { return &Type{Kind: KindVoid} }

// PointerTo returns a pointer type with element type elem.
func PointerTo(elem *Type) *Type { return &Type{Kind: KindPointer, Width: 64, Elem: elem} }

// ArrayOf returns an array type of size elements of type elem.
func ArrayOf(elem *Type, size Expr) *Type { return &Type{Kind: KindArray, Elem: elem, Size: size} }

// Code returns a function type.
func Code(ret *Type, params ...*Type) *Type {
	return &Type{Kind: KindCode, Return: ret, Params: params}
}

// WithConst returns a copy of t marked immutable.
func (t *Type) WithConst() *Type {
	c := *t
	c.Const = true
	return &c
}

// WithVolatile returns a copy of t marked volatile.
func (t *Type) WithVolatile() *Type {
	c := *t
	c.Volatile = true
	return &c
}

// IsInteger reports whether t is a signed or unsigned integer type.
func (t *Type) IsInteger() bool {
	return t != nil && (t.Kind == KindSigned || t.Kind == KindUnsigned)
}

// IsFloat reports whether t is an IEEE floating-point type.
func (t *Type) IsFloat() bool {
	return t != nil && t.Kind == KindFloat
}

// Equal reports structural equality. Qualifiers do not take part.
func (t *Type) Equal(o *Type) bool {
	if t == o {
		return true
	}
	if t == nil || o == nil {
		return false
	}
	if t.Kind != o.Kind || t.Width != o.Width {
		return false
	}
	switch t.Kind {
	case KindPointer:
		return t.Elem.Equal(o.Elem)
	case KindArray:
		if !t.Elem.Equal(o.Elem) {
			return false
		}
		if t.Size == nil || o.Size == nil {
			return t.Size == nil && o.Size == nil
		}
		return Equal(t.Size, o.Size)
	case KindCode:
		if !t.Return.Equal(o.Return) || len(t.Params) != len(o.Params) {
			return false
		}
		for i := range t.Params {
			if !t.Params[i].Equal(o.Params[i]) {
				return false
			}
		}
	}
	return true
}

func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	var prefix string
	if t.Const {
		prefix += "const "
	}
	if t.Volatile {
		prefix += "volatile "
	}
	switch t.Kind {
	case KindBool:
		return prefix + "bool"
	case KindSigned:
		return fmt.Sprintf("%sint%d", prefix, t.Width)
	case KindUnsigned:
		return fmt.Sprintf("%suint%d", prefix, t.Width)
	case KindFloat:
		return fmt.Sprintf("%sfloat%d", prefix, t.Width)
	case KindPointer:
		return prefix + "*" + t.Elem.String()
	case KindArray:
		size := "?"
		if t.Size != nil {
			size = t.Size.String()
		}
		return prefix + "[" + size + "]" + t.Elem.String()
	case KindCode:
		params := make([]string, len(t.Params))
		for i, p := range t.Params {
			params[i] = p.String()
		}
		return "func(" + strings.Join(params, ", ") + ") " + t.Return.String()
	case KindVoid:
		return "void"
	default:
		return "?"
	}
}
