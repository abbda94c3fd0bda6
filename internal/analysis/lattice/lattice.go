package lattice

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/gnolang/cprop/internal/invariant"
	"github.com/gnolang/cprop/internal/ir"
)

// DirtySet reports variables whose address escaped.
type DirtySet interface {
	IsDirty(name string) bool
}

// Binding is one entry of an AbstractState.
type Binding struct {
	Symbol *ir.Symbol
	Value  ir.Expr
}

// AbstractState maps variables to the literal they are known to hold at a
// location. Missing entries are Top for that variable; an empty state is Top
// as a whole. A bottom state (unreachable location) always has an empty map.
//
// The zero value is Top.
type AbstractState struct {
	bottom bool
	values map[string]Binding
}

// NewTop returns the state that knows nothing.
func NewTop() *AbstractState { return &AbstractState{} }

// NewBottom returns the unreachable state.
func NewBottom() *AbstractState { return &AbstractState{bottom: true} }

// IsBottom reports whether the location is unreachable.
func (s *AbstractState) IsBottom() bool { return s.bottom }

// IsTop reports whether nothing is known.
func (s *AbstractState) IsTop() bool { return !s.bottom && len(s.values) == 0 }

// Len returns the number of bound variables.
func (s *AbstractState) Len() int { return len(s.values) }

// SetToBottom forgets everything and marks the location unreachable.
func (s *AbstractState) SetToBottom() {
	s.values = nil
	s.bottom = true
}

// SetToTop forgets everything. It reports whether a binding was removed.
func (s *AbstractState) SetToTop() bool {
	changed := len(s.values) > 0
	s.values = nil
	s.bottom = false
	return changed
}

// Bind records that sym holds value, replacing any earlier binding. The
// caller must have checked that value is a literal of sym's declared type.
func (s *AbstractState) Bind(sym *ir.Symbol, value ir.Expr) {
	invariant.Check(!s.bottom, "bottom state has no bindings",
		"binding %s in a bottom state", sym.Name)
	invariant.Check(ir.IsLiteral(value), "bindings hold literals",
		"%s bound to %s", sym.Name, value)
	invariant.Check(sym.Type.Equal(value.Type()), "type of constant to be stored should match",
		"%s declared %s, value %s has type %s", sym.Name, sym.Type, value, value.Type())
	if s.values == nil {
		s.values = make(map[string]Binding)
	}
	s.values[sym.Name] = Binding{Symbol: sym, Value: value}
}

// Unbind removes the binding of name. It reports whether one existed.
func (s *AbstractState) Unbind(name string) bool {
	_, ok := s.values[name]
	invariant.Check(!ok || !s.bottom, "bottom should have no elements at all",
		"%s bound in a bottom state", name)
	if ok {
		delete(s.values, name)
	}
	return ok
}

// Lookup returns the literal bound to name.
func (s *AbstractState) Lookup(name string) (ir.Expr, bool) {
	b, ok := s.values[name]
	if !ok {
		return nil, false
	}
	return b.Value, true
}

// IsBound reports whether name has a known value.
func (s *AbstractState) IsBound(name string) bool {
	_, ok := s.values[name]
	return ok
}

// Replacer resolves bound variables for ir.Substitute.
func (s *AbstractState) Replacer() ir.Lookup { return s.Lookup }

// Bindings returns all bindings sorted by variable name.
func (s *AbstractState) Bindings() []Binding {
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Binding, len(names))
	for i, name := range names {
		out[i] = s.values[name]
	}
	return out
}

// IsConstant reports whether e denotes a literal under s.
func (s *AbstractState) IsConstant(e ir.Expr) bool {
	switch x := e.(type) {
	case *ir.SideEffect:
		return false
	case *ir.SymbolExpr:
		return s.IsBound(x.Name)
	case *ir.Index:
		// aliasing unknown
		return false
	case *ir.AddressOf:
		return s.isConstantAddressOf(x.X)
	}
	for _, op := range e.Operands() {
		if !s.IsConstant(op) {
			return false
		}
	}
	return true
}

func (s *AbstractState) isConstantAddressOf(e ir.Expr) bool {
	switch x := e.(type) {
	case *ir.Index:
		return s.isConstantAddressOf(x.X) && s.IsConstant(x.Index)
	case *ir.Member:
		return s.isConstantAddressOf(x.X)
	case *ir.Deref:
		return s.IsConstant(x.X)
	default:
		// variables, string and array literals
		return true
	}
}

// Merge joins other into s: only bindings both sides agree on survive. It
// reports whether s changed. s must be the accumulated state.
func (s *AbstractState) Merge(other *AbstractState) bool {
	if other.bottom {
		return false
	}
	if s.bottom {
		s.bottom = false
		s.values = other.copyValues()
		return true
	}

	changed := false
	for name, b := range s.values {
		ob, ok := other.values[name]
		if !ok || !ir.Equal(b.Value, ob.Value) {
			delete(s.values, name)
			changed = true
		}
	}
	return changed
}

// Meet adds the knowledge of other to s. A conflicting binding makes s
// bottom. It reports whether s changed.
func (s *AbstractState) Meet(other *AbstractState) bool {
	if other.bottom || s.bottom {
		return false
	}

	changed := false
	for _, ob := range other.Bindings() {
		b, ok := s.values[ob.Symbol.Name]
		if ok {
			if !ir.Equal(b.Value, ob.Value) {
				s.SetToBottom()
				return true
			}
			continue
		}
		s.Bind(ob.Symbol, ob.Value)
		changed = true
	}
	return changed
}

// InvalidateEscaping forgets every binding an opaque call could overwrite:
// globals and dirty locals, unless declared immutable.
func (s *AbstractState) InvalidateEscaping(dirty DirtySet) bool {
	changed := false
	for name, b := range s.values {
		escapes := !b.Symbol.Local || (dirty != nil && dirty.IsDirty(name))
		if escapes && !b.Symbol.IsImmutable() {
			delete(s.values, name)
			changed = true
		}
	}
	return changed
}

// Clone returns an independent copy.
func (s *AbstractState) Clone() *AbstractState {
	return &AbstractState{bottom: s.bottom, values: s.copyValues()}
}

func (s *AbstractState) copyValues() map[string]Binding {
	if len(s.values) == 0 {
		return nil
	}
	out := make(map[string]Binding, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Equal reports whether two states hold the same knowledge.
func (s *AbstractState) Equal(o *AbstractState) bool {
	if s.bottom != o.bottom || len(s.values) != len(o.values) {
		return false
	}
	for name, b := range s.values {
		ob, ok := o.values[name]
		if !ok || !ir.Equal(b.Value, ob.Value) {
			return false
		}
	}
	return true
}

// Output writes the diagnostic dump of s.
func (s *AbstractState) Output(w io.Writer) {
	fmt.Fprintln(w, "const map:")
	if s.bottom {
		invariant.Check(len(s.values) == 0, "If the domain is bottom, the map must be empty", "%d entries", len(s.values))
		fmt.Fprintln(w, "  bottom")
		return
	}
	if len(s.values) == 0 {
		fmt.Fprintln(w, "top")
		return
	}
	for _, b := range s.Bindings() {
		fmt.Fprintf(w, " %s=%s\n", b.Symbol.Name, b.Value)
	}
}

func (s *AbstractState) String() string {
	if s.bottom {
		return "⊥"
	}
	parts := make([]string, 0, len(s.values))
	for _, b := range s.Bindings() {
		parts = append(parts, b.Symbol.Name+"="+b.Value.String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
