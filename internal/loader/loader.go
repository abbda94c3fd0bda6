// Package loader reads programs written as YAML documents.
//
// A document lists global variables and functions. Function bodies are
// sequences of steps; expressions and types use Go syntax:
//
//	globals:
//	  - {name: g, type: int32}
//	functions:
//	  - name: main
//	    locals:
//	      - {name: x, type: int32}
//	    body:
//	      - decl: x
//	      - assign: {lhs: x, rhs: "5"}
//	      - goto: {target: done, if: "x != 5"}
//	      - call: {func: f, args: ["x"], result: x}
//	      - label: done
//	      - dead: x
//
// Untyped literals take the type of the other operand. Float arithmetic
// and conversions to float use the current rounding mode.
package loader

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gnolang/cprop/internal/ir"
)

var (
	ErrUnknownSymbol = errors.New("unknown symbol")
	ErrTypeMismatch  = errors.New("type mismatch")
)

type document struct {
	Globals   []varSpec      `yaml:"globals"`
	Functions []functionSpec `yaml:"functions"`
}

type varSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	line int
}

func (v *varSpec) UnmarshalYAML(node *yaml.Node) error {
	type plain varSpec
	v.line = node.Line
	return node.Decode((*plain)(v))
}

type functionSpec struct {
	Name    string    `yaml:"name"`
	Params  []varSpec `yaml:"params"`
	Locals  []varSpec `yaml:"locals"`
	Returns string    `yaml:"returns"`
	Body    yaml.Node `yaml:"body"`
	line    int
}

func (f *functionSpec) UnmarshalYAML(node *yaml.Node) error {
	type plain functionSpec
	f.line = node.Line
	return node.Decode((*plain)(f))
}

// LoadFile reads the program stored at path.
func LoadFile(path string) (*ir.Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}
	defer f.Close()
	return Load(f, path)
}

// Load reads a program from r. filename is used in positions and errors.
func Load(r io.Reader, filename string) (*ir.Program, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: empty document", filename)
		}
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	l := &loader{
		file:  filename,
		ns:    ir.NewSymbolTable(),
		funcs: make(map[string]*funcInfo),
	}
	if err := l.load(&doc); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return l.prog, nil
}

type loader struct {
	file  string
	ns    *ir.SymbolTable
	prog  *ir.Program
	funcs map[string]*funcInfo
	order []*funcInfo
}

type funcInfo struct {
	spec   *functionSpec
	fn     *ir.Function
	sym    *ir.Symbol
	locals map[string]*ir.Symbol
	ret    *ir.Symbol
}

func (l *loader) pos(line int) ir.Position {
	return ir.Position{File: l.file, Line: line}
}

func (l *loader) load(doc *document) error {
	global := &scope{l: l}
	for _, g := range doc.Globals {
		t, err := global.parseType(g.Type)
		if err != nil {
			return fmt.Errorf("global %s: %w", g.Name, err)
		}
		sym := &ir.Symbol{Name: g.Name, Type: t, Pos: l.pos(g.line)}
		if err := l.ns.Add(sym); err != nil {
			return err
		}
	}

	for i := range doc.Functions {
		if err := l.declare(&doc.Functions[i]); err != nil {
			return err
		}
	}

	l.prog = ir.NewProgram(l.ns)
	for _, fi := range l.order {
		if fi.spec.Body.Kind != 0 {
			if err := l.lowerBody(fi); err != nil {
				return fmt.Errorf("function %s: %w", fi.fn.Name, err)
			}
		}
		if err := l.prog.AddFunction(fi.fn); err != nil {
			return err
		}
	}
	return nil
}

// declare registers the signature, locals and return value of a function
// so that bodies may refer to functions declared later.
func (l *loader) declare(spec *functionSpec) error {
	if spec.Name == "" {
		return errors.New("function without a name")
	}
	if _, dup := l.funcs[spec.Name]; dup {
		return fmt.Errorf("function %q already defined", spec.Name)
	}
	fi := &funcInfo{
		spec:   spec,
		fn:     &ir.Function{Name: spec.Name},
		locals: make(map[string]*ir.Symbol),
	}
	sc := &scope{l: l}

	ret := ir.Void()
	if spec.Returns != "" {
		t, err := sc.parseType(spec.Returns)
		if err != nil {
			return fmt.Errorf("function %s: return type: %w", spec.Name, err)
		}
		ret = t
		fi.ret = &ir.Symbol{Name: ir.ReturnValueName(spec.Name), Type: t, Pos: l.pos(spec.line)}
		if err := l.ns.Add(fi.ret); err != nil {
			return err
		}
	}

	addLocal := func(v varSpec, param bool) (*ir.Symbol, error) {
		if _, dup := fi.locals[v.Name]; dup {
			return nil, fmt.Errorf("function %s: %q declared twice", spec.Name, v.Name)
		}
		t, err := sc.parseType(v.Type)
		if err != nil {
			return nil, fmt.Errorf("function %s: %s: %w", spec.Name, v.Name, err)
		}
		sym := &ir.Symbol{
			Name:     spec.Name + "::" + v.Name,
			Type:     t,
			Local:    true,
			Param:    param,
			Function: spec.Name,
			Pos:      l.pos(v.line),
		}
		if err := l.ns.Add(sym); err != nil {
			return nil, err
		}
		fi.locals[v.Name] = sym
		return sym, nil
	}

	var paramTypes []*ir.Type
	for _, p := range spec.Params {
		sym, err := addLocal(p, true)
		if err != nil {
			return err
		}
		fi.fn.Params = append(fi.fn.Params, sym)
		paramTypes = append(paramTypes, sym.Type)
	}
	for _, v := range spec.Locals {
		if _, err := addLocal(v, false); err != nil {
			return err
		}
	}

	fi.sym = &ir.Symbol{
		Name: spec.Name,
		Type: ir.Code(ret, paramTypes...).WithConst(),
		Pos:  l.pos(spec.line),
	}
	if err := l.ns.Add(fi.sym); err != nil {
		return err
	}
	l.funcs[spec.Name] = fi
	l.order = append(l.order, fi)
	return nil
}

type pendingGoto struct {
	in    *ir.Instruction
	label string
	step  int
}

type bodyBuilder struct {
	*scope
	instrs  []*ir.Instruction
	labels  map[string]int
	gotos   []pendingGoto
	returns []*ir.Instruction
}

func (l *loader) lowerBody(fi *funcInfo) error {
	body := &fi.spec.Body
	if body.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: body must be a sequence of steps", body.Line)
	}
	b := &bodyBuilder{
		scope:  &scope{l: l, fi: fi},
		labels: make(map[string]int),
	}
	for i, node := range body.Content {
		if err := b.step(node, i); err != nil {
			return fmt.Errorf("step %d (line %d): %w", i, node.Line, err)
		}
	}

	end := &ir.Instruction{Kind: ir.EndFunction, Pos: l.pos(body.Line)}
	b.instrs = append(b.instrs, end)
	for _, in := range b.returns {
		in.Target = end
	}
	for _, g := range b.gotos {
		idx, ok := b.labels[g.label]
		if !ok {
			return fmt.Errorf("step %d: unknown label %q", g.step, g.label)
		}
		g.in.Target = b.instrs[idx]
	}
	fi.fn.Body = b.instrs
	return nil
}

func (b *bodyBuilder) emit(in *ir.Instruction, line int) {
	in.Pos = b.l.pos(line)
	b.instrs = append(b.instrs, in)
}

func (b *bodyBuilder) step(node *yaml.Node, idx int) error {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return errors.New("a step is a mapping with exactly one key")
	}
	key, val := node.Content[0].Value, node.Content[1]
	line := node.Line

	switch key {
	case "label":
		if _, dup := b.labels[val.Value]; dup {
			return fmt.Errorf("label %q defined twice", val.Value)
		}
		b.labels[val.Value] = len(b.instrs)

	case "decl", "dead":
		sym, ok := b.fi.locals[val.Value]
		if !ok {
			return fmt.Errorf("%w: local %s", ErrUnknownSymbol, val.Value)
		}
		kind := ir.Decl
		if key == "dead" {
			kind = ir.Dead
		}
		b.emit(&ir.Instruction{Kind: kind, Symbol: sym.Expr()}, line)

	case "assign":
		var a struct {
			LHS string `yaml:"lhs"`
			RHS string `yaml:"rhs"`
		}
		if err := val.Decode(&a); err != nil {
			return err
		}
		lhs, err := b.parse(a.LHS, nil)
		if err != nil {
			return err
		}
		if !isLValue(lhs) {
			return fmt.Errorf("cannot assign to %s", lhs)
		}
		rhs, err := b.parse(a.RHS, lhs.Type())
		if err != nil {
			return err
		}
		if err := expectType(rhs, lhs.Type()); err != nil {
			return err
		}
		b.emit(&ir.Instruction{Kind: ir.Assign, LHS: lhs, RHS: rhs}, line)

	case "goto":
		var g struct {
			Target string `yaml:"target"`
			If     string `yaml:"if"`
		}
		if err := val.Decode(&g); err != nil {
			return err
		}
		var guard ir.Expr = ir.True()
		if strings.TrimSpace(g.If) != "" {
			var err error
			if guard, err = b.condition(g.If); err != nil {
				return err
			}
		}
		in := &ir.Instruction{Kind: ir.Goto, Guard: guard}
		b.emit(in, line)
		b.gotos = append(b.gotos, pendingGoto{in: in, label: g.Target, step: idx})

	case "assume", "assert":
		guard, err := b.condition(val.Value)
		if err != nil {
			return err
		}
		kind := ir.Assume
		if key == "assert" {
			kind = ir.Assert
		}
		b.emit(&ir.Instruction{Kind: kind, Guard: guard}, line)

	case "call":
		var c struct {
			Func   string   `yaml:"func"`
			Args   []string `yaml:"args"`
			Result string   `yaml:"result"`
		}
		if err := val.Decode(&c); err != nil {
			return err
		}
		return b.call(c.Func, c.Args, c.Result, line)

	case "return":
		if strings.TrimSpace(val.Value) != "" {
			if b.fi.ret == nil {
				return fmt.Errorf("%w: %s returns no value", ErrTypeMismatch, b.fi.fn.Name)
			}
			v, err := b.parse(val.Value, b.fi.ret.Type)
			if err != nil {
				return err
			}
			if err := expectType(v, b.fi.ret.Type); err != nil {
				return err
			}
			b.emit(&ir.Instruction{Kind: ir.Assign, LHS: b.fi.ret.Expr(), RHS: v}, line)
		}
		jump := &ir.Instruction{Kind: ir.Goto, Guard: ir.True()}
		b.emit(jump, line)
		b.returns = append(b.returns, jump)

	case "expr":
		code, err := b.parse(val.Value, nil)
		if err != nil {
			return err
		}
		b.emit(&ir.Instruction{Kind: ir.Other, Code: code}, line)

	case "skip":
		b.emit(&ir.Instruction{Kind: ir.Skip}, line)

	default:
		return fmt.Errorf("unknown step %q", key)
	}
	return nil
}

func (b *bodyBuilder) condition(src string) (ir.Expr, error) {
	g, err := b.parse(src, ir.Bool())
	if err != nil {
		return nil, err
	}
	if err := expectType(g, ir.Bool()); err != nil {
		return nil, err
	}
	return g, nil
}

func (b *bodyBuilder) call(name string, args []string, result string, line int) error {
	var (
		callee ir.Expr
		params []*ir.Type
		ret    *ir.Symbol
	)
	if fi, ok := b.l.funcs[name]; ok {
		callee = fi.sym.Expr()
		params = fi.sym.Type.Params
		ret = fi.ret
	} else if strings.HasPrefix(name, "__CPROVER_") {
		callee = ir.Sym(name, ir.Code(ir.Void()))
	} else {
		// a function pointer or another expression
		e, err := b.parse(name, nil)
		if err != nil {
			return err
		}
		callee = e
	}

	in := &ir.Instruction{Kind: ir.FunctionCall, Callee: callee}
	for i, src := range args {
		var hint *ir.Type
		if i < len(params) {
			hint = params[i]
		}
		arg, err := b.parse(src, hint)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
		if hint != nil {
			if err := expectType(arg, hint); err != nil {
				return fmt.Errorf("argument %d: %w", i, err)
			}
		}
		in.Args = append(in.Args, arg)
	}
	b.emit(in, line)

	if result == "" {
		return nil
	}
	if ret == nil {
		return fmt.Errorf("%w: %s returns no value", ErrTypeMismatch, name)
	}
	lhs, err := b.parse(result, ret.Type)
	if err != nil {
		return err
	}
	if err := expectType(ret.Expr(), lhs.Type()); err != nil {
		return err
	}
	b.emit(&ir.Instruction{Kind: ir.Assign, LHS: lhs, RHS: ret.Expr()}, line)
	return nil
}

func isLValue(e ir.Expr) bool {
	switch e.(type) {
	case *ir.SymbolExpr, *ir.Index, *ir.Member, *ir.Deref:
		return true
	}
	return false
}

func expectType(e ir.Expr, want *ir.Type) error {
	if !e.Type().Equal(want) {
		return fmt.Errorf("%w: %s has type %s, want %s", ErrTypeMismatch, e, e.Type(), want)
	}
	return nil
}
