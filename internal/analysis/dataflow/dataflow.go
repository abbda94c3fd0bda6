// Package dataflow runs a forward abstract interpretation over an ir.Program
// until every location's state is stable.
//
// The driver is domain independent: a domain provides the transfer function
// (Transform) and the join (Merge). States are created lazily as bottom; the
// first location of the entry function starts from the top state.
//
// Calls are handled interprocedurally and context-insensitively: a call to a
// function with a body flows into the callee's first location, the callee is
// brought to a fixpoint, and the state at its END_FUNCTION flows back to the
// return site. Calls without a resolvable body only take the edge to the
// next instruction.
package dataflow

import (
	"container/heap"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gnolang/cprop/internal/ir"
)

// ErrIterationLimit is returned when the fixpoint is not reached within the
// configured number of steps.
var ErrIterationLimit = errors.New("iteration limit reached before fixpoint")

// DefaultMaxIterations bounds the number of visited locations per run.
const DefaultMaxIterations = 100000

// State is an abstract state attached to one location.
type State[S any] interface {
	// Transform updates the state across the edge from -> to.
	Transform(from, to *ir.Instruction)
	// Merge joins other into the receiver and reports whether it changed.
	Merge(other S, from, to *ir.Instruction) bool
	Clone() S
	IsBottom() bool
}

// Config tunes a run.
type Config struct {
	Logger        *zap.Logger
	MaxIterations int
}

// Analysis holds the per-location states of one run.
type Analysis[S State[S]] struct {
	prog       *ir.Program
	bottom     func() S
	top        func() S
	logger     *zap.Logger
	maxIter    int
	states     map[*ir.Instruction]S
	iterations int
}

// New prepares a run over prog. bottom and top build fresh states.
func New[S State[S]](prog *ir.Program, bottom, top func() S, config Config) *Analysis[S] {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxIter := config.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	return &Analysis[S]{
		prog:    prog,
		bottom:  bottom,
		top:     top,
		logger:  logger,
		maxIter: maxIter,
		states:  make(map[*ir.Instruction]S),
	}
}

// Run computes the fixpoint starting at the named entry function.
func (a *Analysis[S]) Run(ctx context.Context, entry string) error {
	f, ok := a.prog.Function(entry)
	if !ok || !f.HasBody() {
		return fmt.Errorf("entry function %q has no body", entry)
	}
	a.state(f.Entry()).Merge(a.top(), nil, f.Entry())

	if err := a.fixpoint(ctx, f); err != nil {
		return err
	}
	a.logger.Debug("fixpoint reached",
		zap.String("entry", entry),
		zap.Int("iterations", a.iterations))
	return nil
}

// At returns the state computed for in. Locations never reached have no
// state, which is equivalent to bottom.
func (a *Analysis[S]) At(in *ir.Instruction) (S, bool) {
	s, ok := a.states[in]
	return s, ok
}

// Iterations returns the number of locations visited so far.
func (a *Analysis[S]) Iterations() int { return a.iterations }

func (a *Analysis[S]) state(in *ir.Instruction) S {
	s, ok := a.states[in]
	if !ok {
		s = a.bottom()
		a.states[in] = s
	}
	return s
}

func (a *Analysis[S]) fixpoint(ctx context.Context, f *ir.Function) error {
	a.logger.Debug("fixpoint", zap.String("function", f.Name))

	wl := &worklist{}
	wl.push(f.Entry())
	for wl.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.iterations++
		if a.iterations > a.maxIter {
			a.logger.Warn("giving up on fixpoint",
				zap.String("function", f.Name),
				zap.Int("max_iterations", a.maxIter))
			return fmt.Errorf("%w (%d)", ErrIterationLimit, a.maxIter)
		}
		if err := a.visit(ctx, wl.pop(), wl); err != nil {
			return err
		}
	}
	return nil
}

func (a *Analysis[S]) visit(ctx context.Context, from *ir.Instruction, wl *worklist) error {
	for _, to := range a.prog.Successors(from) {
		var changed bool
		if from.Kind == ir.FunctionCall {
			var err error
			if changed, err = a.visitCall(ctx, from, to); err != nil {
				return err
			}
		} else {
			changed = a.flow(a.state(from), from, to)
		}
		if changed {
			wl.push(to)
		}
	}
	return nil
}

// flow transforms a copy of src along from -> to and merges it into the
// state at to.
func (a *Analysis[S]) flow(src S, from, to *ir.Instruction) bool {
	tmp := src.Clone()
	tmp.Transform(from, to)
	return a.state(to).Merge(tmp, from, to)
}

func (a *Analysis[S]) visitCall(ctx context.Context, call, ret *ir.Instruction) (bool, error) {
	callee := a.resolve(call.Callee)
	if callee == nil {
		return a.flow(a.state(call), call, ret), nil
	}

	if a.flow(a.state(call), call, callee.Entry()) {
		if err := a.fixpoint(ctx, callee); err != nil {
			return false, err
		}
	}

	end := a.state(callee.End())
	if end.IsBottom() {
		// the callee never returns
		return false, nil
	}
	return a.flow(end, callee.End(), ret), nil
}

func (a *Analysis[S]) resolve(callee ir.Expr) *ir.Function {
	sym, ok := callee.(*ir.SymbolExpr)
	if !ok {
		return nil
	}
	f, ok := a.prog.Function(sym.Name)
	if !ok || !f.HasBody() {
		return nil
	}
	return f
}

// worklist pops locations in ascending location number.
type worklist struct {
	items   []*ir.Instruction
	pending map[*ir.Instruction]bool
}

func (w *worklist) push(in *ir.Instruction) {
	if w.pending == nil {
		w.pending = make(map[*ir.Instruction]bool)
	}
	if w.pending[in] {
		return
	}
	w.pending[in] = true
	heap.Push(w, in)
}

func (w *worklist) pop() *ir.Instruction {
	in := heap.Pop(w).(*ir.Instruction)
	delete(w.pending, in)
	return in
}

func (w *worklist) Len() int           { return len(w.items) }
func (w *worklist) Less(i, j int) bool { return w.items[i].Number < w.items[j].Number }
func (w *worklist) Swap(i, j int)      { w.items[i], w.items[j] = w.items[j], w.items[i] }
func (w *worklist) Push(x any)         { w.items = append(w.items, x.(*ir.Instruction)) }
func (w *worklist) Pop() any {
	n := len(w.items)
	in := w.items[n-1]
	w.items = w.items[:n-1]
	return in
}
