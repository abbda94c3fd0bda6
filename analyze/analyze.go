// Package analyze runs constant propagation over program files.
package analyze

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/gnolang/cprop/internal/analysis/constprop"
	"github.com/gnolang/cprop/internal/analysis/dirty"
	"github.com/gnolang/cprop/internal/ir"
	"github.com/gnolang/cprop/internal/loader"
)

// Engine analyzes a single file.
type Engine interface {
	Run(ctx context.Context, path string) (*Report, error)
}

// Mode selects what a Report carries besides the per-location states.
type Mode int

const (
	// ModeAnalyze only reports the converged constants.
	ModeAnalyze Mode = iota
	// ModeReplace also rewrites the program with them.
	ModeReplace
)

// Report is the outcome for one file.
type Report struct {
	File      string     `json:"file"`
	Entry     string     `json:"entry"`
	Dirty     []string   `json:"dirty,omitempty"`
	Locations []Location `json:"locations"`
	Rewritten int        `json:"rewritten,omitempty"`
	Program   string     `json:"program,omitempty"`
}

// Location is the converged state before one instruction.
type Location struct {
	Number      int               `json:"number"`
	Function    string            `json:"function"`
	Line        int               `json:"line,omitempty"`
	Instruction string            `json:"instruction"`
	Bottom      bool              `json:"bottom"`
	Constants   map[string]string `json:"constants,omitempty"`
}

// Analyzer is the default Engine.
type Analyzer struct {
	config Config
	logger *zap.Logger
	mode   Mode
	cache  *Cache
}

// New builds an Analyzer from the configuration file at configPath.
func New(configPath string, logger *zap.Logger, mode Mode) (*Analyzer, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}
	return NewWithConfig(config, logger, mode), nil
}

func NewWithConfig(config Config, logger *zap.Logger, mode Mode) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{config: config, logger: logger, mode: mode}
}

// SetCache makes Run reuse reports of unchanged files.
func (a *Analyzer) SetCache(c *Cache) { a.cache = c }

// fingerprint identifies the settings a report depends on.
func (a *Analyzer) fingerprint() string {
	return fmt.Sprintf("%+v|%d", a.config, a.mode)
}

// Run loads and analyzes the program at path.
func (a *Analyzer) Run(ctx context.Context, path string) (*Report, error) {
	if a.cache != nil {
		if report, ok := a.cache.Get(path, a.fingerprint()); ok {
			a.logger.Debug("cache hit", zap.String("file", path))
			return report, nil
		}
	}

	prog, err := loader.LoadFile(path)
	if err != nil {
		return nil, err
	}
	report, err := a.RunProgram(ctx, path, prog)
	if err != nil {
		return nil, err
	}

	if a.cache != nil {
		if err := a.cache.Set(path, a.fingerprint(), report); err != nil {
			a.logger.Warn("Failed to cache report", zap.String("file", path), zap.Error(err))
		}
	}
	return report, nil
}

// Propagate runs the analysis on prog. The dirty set is nil when dirty
// analysis is disabled.
func (a *Analyzer) Propagate(ctx context.Context, name string, prog *ir.Program) (*constprop.Result, *dirty.Set, error) {
	env := constprop.Environment{TrackVolatile: a.config.TrackVolatile}
	var dirtySet *dirty.Set
	if a.config.DirtyAnalysis {
		dirtySet = dirty.Compute(prog)
		env.Dirty = dirtySet
	}

	res, err := constprop.Run(ctx, prog,
		constprop.WithEntry(a.config.Entry),
		constprop.WithMaxIterations(a.config.MaxIterations),
		constprop.WithBranchRefinement(a.config.BranchRefinement),
		constprop.WithEnvironment(env),
		constprop.WithLogger(a.logger.With(zap.String("file", name))),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", name, err)
	}
	return res, dirtySet, nil
}

// RunProgram analyzes an already loaded program.
func (a *Analyzer) RunProgram(ctx context.Context, name string, prog *ir.Program) (*Report, error) {
	res, dirtySet, err := a.Propagate(ctx, name, prog)
	if err != nil {
		return nil, err
	}

	report := &Report{File: name, Entry: a.config.Entry}
	if dirtySet != nil {
		report.Dirty = dirtySet.Names()
	}
	for _, in := range prog.Instructions() {
		d := res.At(in)
		loc := Location{
			Number:      in.Number,
			Function:    in.Function,
			Line:        in.Pos.Line,
			Instruction: in.String(),
			Bottom:      d.IsBottom(),
		}
		for _, b := range d.Values().Bindings() {
			if loc.Constants == nil {
				loc.Constants = make(map[string]string)
			}
			loc.Constants[b.Symbol.Name] = b.Value.String()
		}
		report.Locations = append(report.Locations, loc)
	}

	if a.mode == ModeReplace {
		report.Rewritten = res.Replace(prog)
		report.Program = prog.String()
	}
	return report, nil
}

// ProcessFile runs engine on one file.
func ProcessFile(ctx context.Context, engine Engine, path string) (*Report, error) {
	return engine.Run(ctx, path)
}

// ProcessFiles processes every path, walking directories.
func ProcessFiles(
	ctx context.Context,
	logger *zap.Logger,
	engine Engine,
	paths []string,
	processor func(context.Context, Engine, string) (*Report, error),
) ([]*Report, error) {
	var all []*Report
	var errs []error
	for _, path := range paths {
		reports, err := ProcessPath(ctx, logger, engine, path, processor)
		all = append(all, reports...)
		if err != nil {
			if logger != nil {
				logger.Error("Error processing path", zap.String("path", path), zap.Error(err))
			}
			if ctx.Err() != nil {
				return all, err
			}
			errs = append(errs, err)
		}
	}
	return all, errors.Join(errs...)
}

// ProcessPath processes a file, or every program file below a directory
// using a bounded pool of workers. Reports are sorted by file name.
func ProcessPath(
	ctx context.Context,
	logger *zap.Logger,
	engine Engine,
	path string,
	processor func(context.Context, Engine, string) (*Report, error),
) ([]*Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("error accessing %s: %w", path, err)
	}

	if !info.IsDir() {
		report, err := processor(ctx, engine, path)
		if err != nil {
			return nil, err
		}
		return []*Report{report}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && hasDesiredExtension(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error walking %s: %w", path, err)
	}

	type outcome struct {
		report *Report
		err    error
	}
	results := make(chan outcome, len(files))

	// limit the number of workers
	sem := make(chan struct{}, runtime.NumCPU())
	var wg sync.WaitGroup

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(path),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))

	var cancelled error
dispatch:
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			cancelled = err
			break
		}
		select {
		case <-ctx.Done():
			cancelled = ctx.Err()
			break dispatch
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(fp string) {
			defer wg.Done()
			defer func() { <-sem }()

			report, err := processor(ctx, engine, fp)
			if err != nil {
				logger.Error("Error processing file", zap.String("file", fp), zap.Error(err))
			}
			results <- outcome{report: report, err: err}
			_ = bar.Add(1)
		}(file)
	}
	wg.Wait()
	close(results)
	_ = bar.Finish()

	reports := make([]*Report, 0, len(files))
	var errs []error
	for o := range results {
		if o.err != nil {
			errs = append(errs, o.err)
			continue
		}
		reports = append(reports, o.report)
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].File < reports[j].File })

	if cancelled != nil {
		return reports, cancelled
	}
	return reports, errors.Join(errs...)
}

var desiredExtensions = map[string]bool{
	".yaml": true,
	".yml":  true,
}

// hasDesiredExtension matches program files, skipping dot files such as
// the configuration file.
func hasDesiredExtension(path string) bool {
	base := filepath.Base(path)
	return desiredExtensions[filepath.Ext(path)] && !strings.HasPrefix(base, ".")
}
