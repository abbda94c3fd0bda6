// Package constprop implements constant propagation as an abstract
// interpretation over an ir.Program.
//
// Every location carries a Domain: a map from variables to the literal they
// are known to hold there, plus an unreachable (bottom) flag. The dataflow
// driver iterates Domain.Transform and Domain.Merge to a fixpoint; the
// converged states are then used by Result.Replace to substitute the learned
// constants back into the program.
//
// Floating-point expressions are only folded when their value does not
// depend on the rounding mode, or when the rounding mode itself is known.
package constprop

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gnolang/cprop/internal/analysis/dataflow"
	"github.com/gnolang/cprop/internal/analysis/lattice"
	"github.com/gnolang/cprop/internal/invariant"
	"github.com/gnolang/cprop/internal/ir"
	"github.com/gnolang/cprop/internal/simplify"
)

// DefaultEntry is the function the analysis starts from.
const DefaultEntry = "main"

// Environment is context the domain cannot compute on its own.
type Environment struct {
	// Dirty lists the variables whose address escaped. Nil means no such
	// information is available, and opaque calls forget everything.
	Dirty lattice.DirtySet
	// TrackVolatile admits volatile variables to the map.
	TrackVolatile bool
}

// ShouldTrack is the value-tracking policy.
func (e Environment) ShouldTrack(sym *ir.Symbol) bool {
	return e.TrackVolatile || sym.Type == nil || !sym.Type.Volatile
}

// Analysis is the context shared by the states of one run. It is not
// modified once the run starts.
type Analysis struct {
	prog          *ir.Program
	ns            *ir.SymbolTable
	simplifier    simplify.Simplifier
	env           Environment
	logger        *zap.Logger
	entry         string
	maxIterations int
	refine        bool
	roundingMode  *ir.Symbol
}

// Option configures an Analysis.
type Option func(*Analysis)

// WithSimplifier replaces the default simplifier.
func WithSimplifier(s simplify.Simplifier) Option {
	return func(a *Analysis) { a.simplifier = s }
}

// WithEnvironment supplies the dirty set and the tracking policy.
func WithEnvironment(env Environment) Option {
	return func(a *Analysis) { a.env = env }
}

// WithLogger sets the logger for Debug traces of the run.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Analysis) { a.logger = logger }
}

// WithEntry sets the function the analysis starts from.
func WithEntry(name string) Option {
	return func(a *Analysis) { a.entry = name }
}

// WithMaxIterations bounds the fixpoint computation.
func WithMaxIterations(n int) Option {
	return func(a *Analysis) { a.maxIterations = n }
}

// WithBranchRefinement learns `x == c` equalities from branch guards.
func WithBranchRefinement(enabled bool) Option {
	return func(a *Analysis) { a.refine = enabled }
}

// NewAnalysis builds the shared context for prog.
func NewAnalysis(prog *ir.Program, opts ...Option) *Analysis {
	a := &Analysis{
		prog:       prog,
		ns:         prog.Symbols,
		simplifier: simplify.New(),
		logger:     zap.NewNop(),
		entry:      DefaultEntry,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	rm, ok := a.ns.Lookup(ir.RoundingModeName)
	if !ok {
		rm = &ir.Symbol{Name: ir.RoundingModeName, Type: ir.RoundingModeType()}
	}
	a.roundingMode = rm
	return a
}

// Top returns a state that knows nothing.
func (a *Analysis) Top() *Domain { return &Domain{values: lattice.NewTop(), a: a} }

// Bottom returns an unreachable state.
func (a *Analysis) Bottom() *Domain { return &Domain{values: lattice.NewBottom(), a: a} }

// Run computes the constant propagation fixpoint of prog.
//
// An internal consistency violation aborts the run and is returned as an
// *invariant.Violation.
func Run(ctx context.Context, prog *ir.Program, opts ...Option) (res *Result, err error) {
	defer invariant.Recover(&err)

	a := NewAnalysis(prog, opts...)
	driver := dataflow.New(prog, a.Bottom, a.Top, dataflow.Config{
		Logger:        a.logger,
		MaxIterations: a.maxIterations,
	})
	if err := driver.Run(ctx, a.entry); err != nil {
		return nil, fmt.Errorf("constant propagation: %w", err)
	}
	a.logger.Debug("constant propagation converged",
		zap.String("entry", a.entry),
		zap.Int("iterations", driver.Iterations()))
	return &Result{analysis: a, states: driver}, nil
}
