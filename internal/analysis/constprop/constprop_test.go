package constprop

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnolang/cprop/internal/analysis/dirty"
	"github.com/gnolang/cprop/internal/invariant"
	"github.com/gnolang/cprop/internal/ir"
	"github.com/gnolang/cprop/internal/loader"
	"github.com/gnolang/cprop/internal/simplify"
)

func load(t *testing.T, src string) *ir.Program {
	t.Helper()
	prog, err := loader.Load(strings.NewReader(src), "test.yaml")
	require.NoError(t, err)
	return prog
}

func run(t *testing.T, prog *ir.Program, opts ...Option) *Result {
	t.Helper()
	res, err := Run(context.Background(), prog, opts...)
	require.NoError(t, err)
	return res
}

func body(t *testing.T, prog *ir.Program, name string) []*ir.Instruction {
	t.Helper()
	f, ok := prog.Function(name)
	require.True(t, ok, "function %s", name)
	return f.Body
}

func assertBound(t *testing.T, d *Domain, name string, want ir.Expr) {
	t.Helper()
	got, ok := d.Values().Lookup(name)
	if assert.True(t, ok, "%s should be bound in %s", name, d) {
		assert.True(t, ir.Equal(want, got), "%s = %s, want %s", name, got, want)
	}
}

func assertUnbound(t *testing.T, d *Domain, name string) {
	t.Helper()
	got, ok := d.Values().Lookup(name)
	assert.False(t, ok, "%s should be unbound, has %v", name, got)
}

func i32(v int64) ir.Expr   { return ir.IntConst(ir.Int(32), v) }
func f64(v float64) ir.Expr { return ir.FloatConst(ir.Float64(), v) }

const branchProgram = `
functions:
  - name: main
    locals:
      - {name: x, type: int32}
      - {name: y, type: int32}
    body:
      - decl: x
      - decl: y
      - assign: {lhs: x, rhs: "5"}
      - goto: {target: end, if: "!(x == 5)"}
      - assign: {lhs: y, rhs: "x + 1"}
      - label: end
      - skip: {}
`

func TestKnownBranchFoldsBody(t *testing.T) {
	t.Parallel()

	prog := load(t, branchProgram)
	res := run(t, prog)
	main := body(t, prog, "main")

	assertBound(t, res.At(main[4]), "main::x", i32(5))
	assertUnbound(t, res.At(main[4]), "main::y")
	assertBound(t, res.At(main[5]), "main::y", i32(6))

	folded, changed := res.At(main[4]).PartialEvaluate(main[4].RHS)
	assert.True(t, changed)
	assert.True(t, ir.Equal(i32(6), folded))
}

func TestNondetKillsBinding(t *testing.T) {
	t.Parallel()

	prog := load(t, `
functions:
  - name: main
    locals:
      - {name: x, type: int32}
    body:
      - assign: {lhs: x, rhs: "5"}
      - assign: {lhs: x, rhs: "nondet()"}
      - skip: {}
`)
	res := run(t, prog)
	main := body(t, prog, "main")

	assertBound(t, res.At(main[1]), "main::x", i32(5))
	assertUnbound(t, res.At(main[2]), "main::x")
}

func TestJoinOfDifferentValues(t *testing.T) {
	t.Parallel()

	prog := load(t, `
globals:
  - {name: c, type: bool}
functions:
  - name: main
    locals:
      - {name: x, type: int32}
      - {name: z, type: int32}
    body:
      - decl: x
      - assign: {lhs: z, rhs: "1"}
      - goto: {target: other, if: "c"}
      - assign: {lhs: x, rhs: "5"}
      - goto: {target: join}
      - label: other
      - assign: {lhs: x, rhs: "7"}
      - label: join
      - skip: {}
`)
	res := run(t, prog)
	main := body(t, prog, "main")

	assertBound(t, res.At(main[4]), "main::x", i32(5))
	assertUnbound(t, res.At(main[5]), "main::x")
	assertUnbound(t, res.At(main[6]), "main::x")
	assertBound(t, res.At(main[6]), "main::z", i32(1))
}

func TestUnreachableBranchIsBottom(t *testing.T) {
	t.Parallel()

	prog := load(t, `
functions:
  - name: main
    locals:
      - {name: x, type: int32}
      - {name: y, type: int32}
    body:
      - assign: {lhs: x, rhs: "5"}
      - goto: {target: end, if: "x == 5"}
      - assign: {lhs: y, rhs: "x + 1"}
      - label: end
      - skip: {}
`)
	res := run(t, prog)
	main := body(t, prog, "main")

	assert.True(t, res.At(main[2]).IsBottom())
	assert.False(t, res.At(main[3]).IsBottom())
	assertUnbound(t, res.At(main[3]), "main::y")
}

func TestFloatRoundingSoundness(t *testing.T) {
	t.Parallel()

	third := 1.0 / 3.0
	tests := []struct {
		name string
		rhs  string
		// expected binding per pinned rounding mode, by encoding
		pinned [4]float64
		// folds without knowing the mode
		independent bool
	}{
		{
			name:   "inexact division",
			rhs:    "1.0 / 3.0",
			pinned: [4]float64{third, third, math.Nextafter(third, 1), third},
		},
		{
			name:   "exact cancellation",
			rhs:    "a - a",
			pinned: [4]float64{0, math.Copysign(0, -1), 0, 0},
		},
		{
			name:        "exact sum",
			rhs:         "a + 2.0",
			pinned:      [4]float64{3, 3, 3, 3},
			independent: true,
		},
	}

	const template = `
functions:
  - name: main
    locals:
      - {name: a, type: float64}
      - {name: f, type: float64}
    body:
      %s
      - assign: {lhs: a, rhs: "1.0"}
      - assign: {lhs: f, rhs: "%s"}
      - skip: {}
`
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			prog := load(t, fmt.Sprintf(template, "- skip: {}", tt.rhs))
			res := run(t, prog)
			end := res.At(body(t, prog, "main")[3])
			if tt.independent {
				assertBound(t, end, "main::f", f64(tt.pinned[0]))
			} else {
				assertUnbound(t, end, "main::f")
			}

			for mode, want := range tt.pinned {
				pin := fmt.Sprintf(`- assign: {lhs: __CPROVER_rounding_mode, rhs: "%d"}`, mode)
				prog := load(t, fmt.Sprintf(template, pin, tt.rhs))
				res := run(t, prog)
				end := res.At(body(t, prog, "main")[3])
				assertBound(t, end, ir.RoundingModeName, i32(int64(mode)))
				assertBound(t, end, "main::f", f64(want))
			}
		})
	}
}

func TestFloat32ConversionDependsOnMode(t *testing.T) {
	t.Parallel()

	prog := load(t, `
functions:
  - name: main
    locals:
      - {name: d, type: float64}
      - {name: h, type: float32}
      - {name: w, type: float64}
    body:
      - assign: {lhs: d, rhs: "0.1"}
      - assign: {lhs: h, rhs: "float32(d)"}
      - assign: {lhs: h, rhs: "float32(0.5)"}
      - assign: {lhs: w, rhs: "float64(h)"}
      - skip: {}
`)
	res := run(t, prog)
	main := body(t, prog, "main")

	assertUnbound(t, res.At(main[2]), "main::h")
	assertBound(t, res.At(main[4]), "main::h", ir.FloatConst(ir.Float32(), 0.5))
	assertBound(t, res.At(main[4]), "main::w", f64(0.5))
}

const callProgram = `
globals:
  - {name: g, type: int32}
  - {name: k, type: const int32}
functions:
  - name: ext
  - name: main
    locals:
      - {name: x, type: int32}
      - {name: y, type: int32}
      - {name: p, type: "*int32"}
    body:
      - assign: {lhs: g, rhs: "1"}
      - assign: {lhs: k, rhs: "2"}
      - assign: {lhs: x, rhs: "3"}
      - assign: {lhs: y, rhs: "4"}
      - assign: {lhs: p, rhs: "&y"}
      - call: {func: __CPROVER_set_must, args: ["p"]}
      - call: {func: ext}
      - skip: {}
`

func TestOpaqueCallInvalidation(t *testing.T) {
	t.Parallel()

	t.Run("with dirty set", func(t *testing.T) {
		t.Parallel()
		prog := load(t, callProgram)
		res := run(t, prog, WithEnvironment(Environment{Dirty: dirty.Compute(prog)}))
		main := body(t, prog, "main")

		beforeCall := res.At(main[6])
		assertBound(t, beforeCall, "g", i32(1))
		assertBound(t, beforeCall, "main::y", i32(4))
		assertUnbound(t, beforeCall, "main::p")

		after := res.At(main[7])
		assertUnbound(t, after, "g")
		assertBound(t, after, "k", i32(2))
		assertBound(t, after, "main::x", i32(3))
		assertUnbound(t, after, "main::y")
	})

	t.Run("without dirty set", func(t *testing.T) {
		t.Parallel()
		prog := load(t, callProgram)
		res := run(t, prog)
		after := res.At(body(t, prog, "main")[7])
		assert.True(t, after.Values().IsTop())
		assert.False(t, after.IsBottom())
	})
}

func TestWriteThroughPointer(t *testing.T) {
	t.Parallel()

	prog := load(t, `
globals:
  - {name: g, type: int32}
functions:
  - name: main
    locals:
      - {name: x, type: int32}
      - {name: a, type: "[2]int32"}
      - {name: p, type: "*int32"}
    body:
      - assign: {lhs: g, rhs: "1"}
      - assign: {lhs: x, rhs: "2"}
      - assign: {lhs: a, rhs: "[2]int32{1, 2}"}
      - assign: {lhs: "a[0]", rhs: "x"}
      - assign: {lhs: "*p", rhs: "x"}
      - skip: {}
`)
	res := run(t, prog, WithEnvironment(Environment{Dirty: dirty.Compute(prog)}))
	main := body(t, prog, "main")

	arr := &ir.ArrayLit{
		Elems: []ir.Expr{i32(1), i32(2)},
		Typ:   ir.ArrayOf(ir.Int(32), ir.UintConst(ir.Uint(64), 2)),
	}
	assertBound(t, res.At(main[3]), "main::a", arr)
	assertUnbound(t, res.At(main[4]), "main::a")

	end := res.At(main[5])
	assertUnbound(t, end, "g")
	assertBound(t, end, "main::x", i32(2))
}

func TestCallBindsParameters(t *testing.T) {
	t.Parallel()

	prog := load(t, `
functions:
  - name: main
    locals:
      - {name: r, type: int32}
    body:
      - call: {func: inc, args: ["41"], result: r}
      - skip: {}
  - name: inc
    params:
      - {name: a, type: int32}
    returns: int32
    body:
      - return: "a + 1"
`)
	res := run(t, prog)
	main := body(t, prog, "main")
	inc := body(t, prog, "inc")

	assertBound(t, res.At(inc[0]), "inc::a", i32(41))
	end := res.At(main[2])
	assertBound(t, end, "main::r", i32(42))
	assertBound(t, end, ir.ReturnValueName("inc"), i32(42))
	assertUnbound(t, end, "inc::a")
}

func TestRecursiveCallBindsParameters(t *testing.T) {
	t.Parallel()

	prog := load(t, `
functions:
  - name: main
    locals:
      - {name: x, type: int32}
    body:
      - assign: {lhs: x, rhs: "7"}
      - call: {func: countdown, args: ["3"]}
      - skip: {}
  - name: countdown
    params:
      - {name: n, type: int32}
    body:
      - goto: {target: out, if: "!(n > 0)"}
      - call: {func: countdown, args: ["n - 1"]}
      - label: out
      - skip: {}
`)
	res := run(t, prog, WithEnvironment(Environment{Dirty: dirty.Compute(prog)}))
	main := body(t, prog, "main")
	countdown := body(t, prog, "countdown")

	// the entry joins n=3 from main with n=2 from the recursive call
	assertUnbound(t, res.At(countdown[0]), "countdown::n")
	assertUnbound(t, res.At(countdown[1]), "countdown::n")
	assert.False(t, res.At(countdown[2]).IsBottom(), "the base case is reachable")
	assert.False(t, res.At(countdown[3]).IsBottom())

	end := res.At(main[2])
	assert.False(t, end.IsBottom())
	assertBound(t, end, "main::x", i32(7))
	assertUnbound(t, end, "countdown::n")

	guard := countdown[0].Guard
	res.Replace(prog)
	assert.Same(t, guard, countdown[0].Guard, "the base-case guard is not folded")
}

func TestCallSitesJoinAtCalleeEntry(t *testing.T) {
	t.Parallel()

	const src = `
functions:
  - name: main
    locals:
      - {name: a, type: int32}
      - {name: b, type: int32}
    body:
      - call: {func: id, args: ["1"], result: a}
      - call: {func: id, args: ["%s"], result: b}
      - skip: {}
  - name: id
    params:
      - {name: v, type: int32}
    returns: int32
    body:
      - return: "v"
`

	t.Run("same argument", func(t *testing.T) {
		t.Parallel()
		prog := load(t, fmt.Sprintf(src, "1"))
		res := run(t, prog)

		assertBound(t, res.At(body(t, prog, "id")[0]), "id::v", i32(1))
		end := res.At(body(t, prog, "main")[4])
		assertBound(t, end, "main::b", i32(1))
	})

	t.Run("different arguments", func(t *testing.T) {
		t.Parallel()
		prog := load(t, fmt.Sprintf(src, "2"))
		res := run(t, prog)

		assertUnbound(t, res.At(body(t, prog, "id")[0]), "id::v")
		end := res.At(body(t, prog, "main")[4])
		assert.False(t, end.IsBottom())
		assertUnbound(t, end, "main::b")
		assertUnbound(t, end, ir.ReturnValueName("id"))
	})
}

func TestParameterTypeMismatchUnbinds(t *testing.T) {
	t.Parallel()

	st := ir.NewSymbolTable()
	param := &ir.Symbol{Name: "f::a", Type: ir.Int(32), Local: true, Param: true, Function: "f"}
	require.NoError(t, st.Add(param))

	callF := &ir.Instruction{
		Kind:   ir.FunctionCall,
		Callee: ir.Sym("f", ir.Code(ir.Void(), ir.Int(32))),
		Args:   []ir.Expr{ir.IntConst(ir.Int(64), 1)},
	}
	inF := &ir.Instruction{Kind: ir.Skip}
	prog := ir.NewProgram(st)
	require.NoError(t, prog.AddFunction(&ir.Function{Name: "main", Body: []*ir.Instruction{
		callF, {Kind: ir.EndFunction},
	}}))
	require.NoError(t, prog.AddFunction(&ir.Function{Name: "f", Params: []*ir.Symbol{param}, Body: []*ir.Instruction{
		inF, {Kind: ir.EndFunction},
	}}))

	res := run(t, prog)
	assert.False(t, res.At(inF).IsBottom())
	assertUnbound(t, res.At(inF), "f::a")
}

func TestVolatileIsNotTracked(t *testing.T) {
	t.Parallel()

	const src = `
functions:
  - name: main
    locals:
      - {name: v, type: volatile int32}
    body:
      - assign: {lhs: v, rhs: "1"}
      - skip: {}
`
	prog := load(t, src)
	res := run(t, prog)
	assertUnbound(t, res.At(body(t, prog, "main")[1]), "main::v")

	prog = load(t, src)
	res = run(t, prog, WithEnvironment(Environment{TrackVolatile: true}))
	assertBound(t, res.At(body(t, prog, "main")[1]), "main::v", i32(1))
}

func TestBranchRefinement(t *testing.T) {
	t.Parallel()

	const src = `
globals:
  - {name: n, type: int32}
  - {name: m, type: int32}
functions:
  - name: main
    body:
      - goto: {target: hit, if: "n == 3"}
      - return:
      - label: hit
      - assign: {lhs: m, rhs: "n * 2"}
      - skip: {}
`
	prog := load(t, src)
	res := run(t, prog)
	assertUnbound(t, res.At(body(t, prog, "main")[3]), "m")

	prog = load(t, src)
	res = run(t, prog, WithBranchRefinement(true))
	main := body(t, prog, "main")
	assertBound(t, res.At(main[2]), "n", i32(3))
	assertBound(t, res.At(main[3]), "m", i32(6))
	assertUnbound(t, res.At(main[1]), "n")
}

func TestEqualities(t *testing.T) {
	t.Parallel()

	prog := load(t, `
globals:
  - {name: n, type: int32}
  - {name: b, type: bool}
  - {name: f, type: float64}
functions:
  - name: main
    body:
      - skip: {}
`)
	a := NewAnalysis(prog)
	n, _ := prog.Symbols.Lookup("n")
	b, _ := prog.Symbols.Lookup("b")
	f, _ := prog.Symbols.Lookup("f")

	guard := &ir.Binary{Op: ir.OpAnd, Typ: ir.Bool(),
		X: &ir.Binary{Op: ir.OpEq, X: i32(4), Y: n.Expr(), Typ: ir.Bool()},
		Y: &ir.Binary{Op: ir.OpAnd, Typ: ir.Bool(),
			X: &ir.Unary{Op: ir.OpNot, X: b.Expr(), Typ: ir.Bool()},
			Y: &ir.Binary{Op: ir.OpEq, X: f.Expr(), Y: f64(0), Typ: ir.Bool()},
		},
	}
	eq := a.equalities(guard)
	assert.Equal(t, 2, eq.Len())
	v, ok := eq.Lookup("n")
	require.True(t, ok)
	assert.True(t, ir.Equal(i32(4), v))
	v, ok = eq.Lookup("b")
	require.True(t, ok)
	assert.True(t, ir.Equal(ir.False(), v))
}

func TestReplace(t *testing.T) {
	t.Parallel()

	prog := load(t, branchProgram)
	res := run(t, prog)
	main := body(t, prog, "main")

	assert.Positive(t, res.Replace(prog))
	assert.True(t, ir.Equal(ir.False(), main[3].Guard))
	assert.True(t, ir.Equal(i32(6), main[4].RHS))

	rhs, ok := main[4].RHS.(*ir.Constant)
	require.True(t, ok)
	lhs := main[4].LHS.(*ir.SymbolExpr)
	assert.Equal(t, lhs.Pos, rhs.Pos)
	assert.True(t, rhs.Pos.IsValid())

	first := prog.String()
	assert.Zero(t, res.Replace(prog))
	assert.Equal(t, first, prog.String())

	again := run(t, prog)
	assert.Zero(t, again.Replace(prog))
	assert.Equal(t, first, prog.String())
}

func TestReplaceSkipsUnreachable(t *testing.T) {
	t.Parallel()

	prog := load(t, `
functions:
  - name: main
    locals:
      - {name: x, type: int32}
      - {name: y, type: int32}
    body:
      - assign: {lhs: x, rhs: "5"}
      - goto: {target: end, if: "x == 5"}
      - assign: {lhs: y, rhs: "x + 1"}
      - label: end
      - assert: "x > 0"
`)
	res := run(t, prog)
	res.Replace(prog)
	main := body(t, prog, "main")

	assert.True(t, ir.Equal(ir.True(), main[1].Guard))
	_, folded := main[2].RHS.(*ir.Constant)
	assert.False(t, folded, "unreachable code is left alone")
	assert.True(t, ir.Equal(ir.True(), main[3].Guard))
}

func TestReplaceTypes(t *testing.T) {
	t.Parallel()

	prog := load(t, `
globals:
  - {name: n, type: uint64}
functions:
  - name: main
    locals:
      - {name: buf, type: "[n]int8"}
      - {name: i, type: int32}
    body:
      - assign: {lhs: n, rhs: "4"}
      - assign: {lhs: i, rhs: "nondet()"}
      - assign: {lhs: "buf[i]", rhs: "0"}
      - skip: {}
`)
	res := run(t, prog)
	res.Replace(prog)

	store := body(t, prog, "main")[2]
	index := store.LHS.(*ir.Index)
	assert.True(t, ir.Equal(ir.UintConst(ir.Uint(64), 4), index.X.Type().Size))
}

func TestSimplifyCondition(t *testing.T) {
	t.Parallel()

	prog := load(t, branchProgram)
	res := run(t, prog)
	d := res.At(body(t, prog, "main")[4])
	x, _ := prog.Symbols.Lookup("main::x")

	cond, changed := d.Simplify(&ir.Binary{Op: ir.OpGt, X: x.Expr(), Y: i32(3), Typ: ir.Bool()})
	assert.True(t, changed)
	assert.True(t, ir.Equal(ir.True(), cond))

	y, _ := prog.Symbols.Lookup("main::y")
	unknown := &ir.Binary{Op: ir.OpGt, X: y.Expr(), Y: i32(3), Typ: ir.Bool()}
	cond, changed = d.Simplify(unknown)
	assert.False(t, changed)
	assert.Same(t, unknown, cond)
}

func TestInvariantViolationAbortsRun(t *testing.T) {
	t.Parallel()

	prog := load(t, branchProgram)
	broken := simplify.Func(func(e ir.Expr, _ *ir.SymbolTable) (ir.Expr, bool) {
		invariant.Check(false, "simplifier is broken", "%s", e)
		return e, false
	})
	res, err := Run(context.Background(), prog, WithSimplifier(broken))
	assert.Nil(t, res)
	var v *invariant.Violation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "simplifier is broken", v.Condition)

	crashing := simplify.Func(func(ir.Expr, *ir.SymbolTable) (ir.Expr, bool) { panic("boom") })
	assert.PanicsWithValue(t, "boom", func() {
		_, _ = Run(context.Background(), prog, WithSimplifier(crashing))
	})
}

func TestRunErrors(t *testing.T) {
	t.Parallel()

	prog := load(t, branchProgram)
	_, err := Run(context.Background(), prog, WithEntry("missing"))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, prog)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOutput(t *testing.T) {
	t.Parallel()

	prog := load(t, `
functions:
  - name: main
    locals:
      - {name: x, type: int32}
    body:
      - assign: {lhs: x, rhs: "5"}
      - skip: {}
`)
	res := run(t, prog)

	var buf bytes.Buffer
	res.Output(&buf)
	out := buf.String()
	assert.Contains(t, out, "**** 0 test.yaml:")
	assert.Contains(t, out, "function main")
	assert.Contains(t, out, "const map:\ntop\n")
	assert.Contains(t, out, "const map:\n main::x=5\n")

	buf.Reset()
	res.At(body(t, prog, "main")[1]).Output(&buf)
	assert.Equal(t, "const map:\n main::x=5\n", buf.String())
}
