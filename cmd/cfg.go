package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gnolang/cprop/analyze"
	"github.com/gnolang/cprop/internal/analysis/cfg"
	"github.com/gnolang/cprop/internal/ir"
	"github.com/gnolang/cprop/internal/loader"
)

// variable for flags
var (
	funcName   string
	output     string
	withStates bool
)

var cfgCmd = &cobra.Command{
	Use:   "cfg [path]",
	Short: "Print the control flow graph of a function",
	Long: `Outputs the Control Flow Graph (CFG) of the specified function or generates a GraphViz file.
With --states every node also shows the constants known before it.
Example) cprop cfg --func main --states prog.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// timeout is a global variable declared in root.go
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return runCFGAnalysis(ctx, cmd.OutOrStdout(), logger, args[0], funcName, output, withStates)
	},
}

func init() {
	cfgCmd.Flags().StringVar(&funcName, "func", "main", "Function name for CFG analysis")
	cfgCmd.Flags().StringVarP(&output, "output", "o", "", "Output path for rendered GraphViz file")
	cfgCmd.Flags().BoolVar(&withStates, "states", false, "Annotate nodes with the known constants")
}

func runCFGAnalysis(
	ctx context.Context,
	w io.Writer,
	logger *zap.Logger,
	path, funcName, output string,
	states bool,
) error {
	prog, err := loader.LoadFile(path)
	if err != nil {
		return err
	}
	graph, err := cfg.FromFunction(prog, funcName)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	var annotate func(*ir.Instruction) string
	if states {
		engine, err := analyze.New(cfgFile, logger, analyze.ModeAnalyze)
		if err != nil {
			return err
		}
		res, _, err := engine.Propagate(ctx, path, prog)
		if err != nil {
			return err
		}
		annotate = func(in *ir.Instruction) string {
			d := res.At(in)
			if d.IsBottom() {
				return "unreachable"
			}
			var parts []string
			for _, b := range d.Values().Bindings() {
				parts = append(parts, b.Symbol.Name+"="+b.Value.String())
			}
			return strings.Join(parts, ", ")
		}
	}

	var buf strings.Builder
	graph.PrintDot(&buf, annotate)
	if output == "" {
		_, err := fmt.Fprintf(w, "CFG for function %s in file %s:\n%s\n", funcName, path, buf.String())
		return err
	}
	if err := cfg.RenderToGraphVizFile([]byte(buf.String()), output); err != nil {
		logger.Error("Failed to render CFG to GraphViz file", zap.Error(err))
		return err
	}
	fmt.Fprintf(w, "GraphViz file created: %s\n", output)
	return nil
}
