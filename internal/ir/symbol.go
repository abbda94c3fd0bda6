package ir

import (
	"fmt"
	"sort"
)

// RoundingModeName is the reserved variable holding the current IEEE
// rounding mode.
const RoundingModeName = "__CPROVER_rounding_mode"

// Rounding mode encodings stored in the rounding-mode variable.
const (
	RoundToEven         int64 = 0
	RoundTowardNegative int64 = 1
	RoundTowardPositive int64 = 2
	RoundTowardZero     int64 = 3
)

// RoundingModes lists every IEEE rounding mode.
var RoundingModes = [4]int64{RoundToEven, RoundTowardZero, RoundTowardNegative, RoundTowardPositive}

// RoundingModeType is the declared type of the rounding-mode variable.
func RoundingModeType() *Type { return Int(32) }

// RoundingMode returns a reference to the rounding-mode variable.
func RoundingMode() *SymbolExpr { return Sym(RoundingModeName, RoundingModeType()) }

// ReturnValueName names the global through which fn passes its result.
func ReturnValueName(fn string) string { return fn + "#return_value" }

// Symbol is a symbol table entry.
type Symbol struct {
	Name     string
	Type     *Type
	Local    bool   // procedure-local variable or parameter
	Param    bool   // formal parameter
	Function string // owning function of locals and parameters
	Pos      Position
}

// IsImmutable reports whether the declared type forbids writes.
func (s *Symbol) IsImmutable() bool { return s.Type != nil && s.Type.Const }

// Expr returns a reference expression for s.
func (s *Symbol) Expr() *SymbolExpr { return &SymbolExpr{Name: s.Name, Typ: s.Type, Pos: s.Pos} }

// SymbolTable maps unique names to symbols.
type SymbolTable struct {
	symbols map[string]*Symbol
}

// NewSymbolTable returns a table holding only the rounding-mode variable.
func NewSymbolTable() *SymbolTable {
	st := &SymbolTable{symbols: make(map[string]*Symbol)}
	st.symbols[RoundingModeName] = &Symbol{Name: RoundingModeName, Type: RoundingModeType()}
	return st
}

// Add registers sym. Names must be unique.
func (st *SymbolTable) Add(sym *Symbol) error {
	if _, exists := st.symbols[sym.Name]; exists {
		return fmt.Errorf("symbol %q already defined", sym.Name)
	}
	st.symbols[sym.Name] = sym
	return nil
}

// Lookup returns the symbol with the given name.
func (st *SymbolTable) Lookup(name string) (*Symbol, bool) {
	sym, ok := st.symbols[name]
	return sym, ok
}

// Names returns all symbol names in sorted order.
func (st *SymbolTable) Names() []string {
	names := make([]string, 0, len(st.symbols))
	for name := range st.symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
