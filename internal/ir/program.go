package ir

import (
	"fmt"
	"strings"
)

// InstructionKind classifies an instruction.
type InstructionKind int

const (
	_ InstructionKind = iota
	Decl
	Dead
	Assign
	Goto
	Assume
	Assert
	FunctionCall
	EndFunction
	Other
	Skip
)

func (k InstructionKind) String() string {
	switch k {
	case Decl:
		return "DECL"
	case Dead:
		return "DEAD"
	case Assign:
		return "ASSIGN"
	case Goto:
		return "GOTO"
	case Assume:
		return "ASSUME"
	case Assert:
		return "ASSERT"
	case FunctionCall:
		return "FUNCTION_CALL"
	case EndFunction:
		return "END_FUNCTION"
	case Other:
		return "OTHER"
	case Skip:
		return "SKIP"
	default:
		return "?"
	}
}

// Instruction is one location of the control-flow graph. Which fields are
// meaningful depends on Kind:
//
//	Decl, Dead            Symbol
//	Assign                LHS, RHS
//	Goto                  Guard, Target
//	Assume, Assert        Guard
//	FunctionCall          Callee, Args
//	Other                 Code
type Instruction struct {
	Kind     InstructionKind
	Function string
	Number   int // unique across the program
	Index    int // position in the function body
	Pos      Position

	Symbol *SymbolExpr
	LHS    Expr
	RHS    Expr
	Guard  Expr
	Target *Instruction
	Callee Expr
	Args   []Expr
	Code   Expr
}

func (in *Instruction) String() string {
	switch in.Kind {
	case Decl, Dead:
		return in.Kind.String() + " " + in.Symbol.String()
	case Assign:
		return in.LHS.String() + " := " + in.RHS.String()
	case Goto:
		target := "?"
		if in.Target != nil {
			target = fmt.Sprintf("%d", in.Target.Number)
		}
		if c, ok := in.Guard.(*Constant); ok && c.IsTrue() {
			return "GOTO " + target
		}
		return "IF " + in.Guard.String() + " THEN GOTO " + target
	case Assume, Assert:
		return in.Kind.String() + " " + in.Guard.String()
	case FunctionCall:
		args := make([]string, len(in.Args))
		for i, a := range in.Args {
			args[i] = a.String()
		}
		return "CALL " + in.Callee.String() + "(" + strings.Join(args, ", ") + ")"
	case Other:
		return "OTHER " + in.Code.String()
	default:
		return in.Kind.String()
	}
}

// Function is a procedure: formal parameters and an optional body. A body,
// when present, ends with an EndFunction instruction.
type Function struct {
	Name   string
	Params []*Symbol
	Body   []*Instruction
}

// HasBody reports whether the function is defined.
func (f *Function) HasBody() bool { return len(f.Body) > 0 }

// Entry returns the first instruction of the body.
func (f *Function) Entry() *Instruction {
	if !f.HasBody() {
		return nil
	}
	return f.Body[0]
}

// End returns the EndFunction instruction.
func (f *Function) End() *Instruction {
	if !f.HasBody() {
		return nil
	}
	return f.Body[len(f.Body)-1]
}

// Program is a set of functions over a common symbol table.
type Program struct {
	Symbols   *SymbolTable
	Functions []*Function
	byName    map[string]*Function
}

// NewProgram returns an empty program.
func NewProgram(st *SymbolTable) *Program {
	if st == nil {
		st = NewSymbolTable()
	}
	return &Program{Symbols: st, byName: make(map[string]*Function)}
}

// AddFunction appends f and renumbers all locations.
func (p *Program) AddFunction(f *Function) error {
	if _, exists := p.byName[f.Name]; exists {
		return fmt.Errorf("function %q already defined", f.Name)
	}
	if f.HasBody() && f.End().Kind != EndFunction {
		return fmt.Errorf("function %q: body must end with END_FUNCTION", f.Name)
	}
	p.Functions = append(p.Functions, f)
	p.byName[f.Name] = f
	p.renumber()
	return nil
}

func (p *Program) renumber() {
	n := 0
	for _, f := range p.Functions {
		for i, in := range f.Body {
			in.Function = f.Name
			in.Index = i
			in.Number = n
			n++
		}
	}
}

// Function returns the function with the given name.
func (p *Program) Function(name string) (*Function, bool) {
	f, ok := p.byName[name]
	return f, ok
}

// Next returns the instruction following in within its function.
func (p *Program) Next(in *Instruction) *Instruction {
	f := p.byName[in.Function]
	if f == nil || in.Index+1 >= len(f.Body) {
		return nil
	}
	return f.Body[in.Index+1]
}

// Successors returns the intra-procedural successors of in. A conditional
// goto lists its fall-through successor first.
func (p *Program) Successors(in *Instruction) []*Instruction {
	switch in.Kind {
	case EndFunction:
		return nil
	case Goto:
		if c, ok := in.Guard.(*Constant); ok && c.IsTrue() {
			return []*Instruction{in.Target}
		}
		next := p.Next(in)
		if next == nil || next == in.Target {
			return []*Instruction{in.Target}
		}
		return []*Instruction{next, in.Target}
	default:
		if next := p.Next(in); next != nil {
			return []*Instruction{next}
		}
		return nil
	}
}

// Instructions returns every instruction in location-number order.
func (p *Program) Instructions() []*Instruction {
	var all []*Instruction
	for _, f := range p.Functions {
		all = append(all, f.Body...)
	}
	return all
}

func (p *Program) String() string {
	var b strings.Builder
	for _, f := range p.Functions {
		params := make([]string, len(f.Params))
		for i, prm := range f.Params {
			params[i] = prm.Name + " " + prm.Type.String()
		}
		fmt.Fprintf(&b, "%s(%s)", f.Name, strings.Join(params, ", "))
		if !f.HasBody() {
			b.WriteString(" <no body>\n")
			continue
		}
		b.WriteString(":\n")
		for _, in := range f.Body {
			fmt.Fprintf(&b, "  %3d: %s\n", in.Number, in.String())
		}
	}
	return b.String()
}
