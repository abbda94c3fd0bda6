package cfg

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gnolang/cprop/internal/ir"
)

// ErrNoBody is returned when a graph is requested for a declared-only function.
var ErrNoBody = errors.New("function has no body")

// Graph is the intra-procedural control flow graph of one function.
// Nodes are instructions; ENTRY and EXIT are implicit.
type Graph struct {
	Function *ir.Function

	succs map[*ir.Instruction][]*ir.Instruction
	preds map[*ir.Instruction][]*ir.Instruction
}

// FromFunction builds the graph of the named function of prog.
func FromFunction(prog *ir.Program, name string) (*Graph, error) {
	f, ok := prog.Function(name)
	if !ok {
		return nil, fmt.Errorf("function %q not found", name)
	}
	if !f.HasBody() {
		return nil, fmt.Errorf("%s: %w", name, ErrNoBody)
	}

	g := &Graph{
		Function: f,
		succs:    make(map[*ir.Instruction][]*ir.Instruction, len(f.Body)),
		preds:    make(map[*ir.Instruction][]*ir.Instruction, len(f.Body)),
	}
	for _, in := range f.Body {
		for _, s := range prog.Successors(in) {
			g.succs[in] = append(g.succs[in], s)
			g.preds[s] = append(g.preds[s], in)
		}
	}
	return g, nil
}

// Entry returns the first instruction.
func (g *Graph) Entry() *ir.Instruction { return g.Function.Entry() }

// Exit returns the END_FUNCTION instruction.
func (g *Graph) Exit() *ir.Instruction { return g.Function.End() }

// Nodes returns the instructions in body order.
func (g *Graph) Nodes() []*ir.Instruction { return g.Function.Body }

func (g *Graph) Succs(in *ir.Instruction) []*ir.Instruction { return g.succs[in] }

func (g *Graph) Preds(in *ir.Instruction) []*ir.Instruction { return g.preds[in] }

// Reachable returns the instructions reachable from the entry, in body order.
func (g *Graph) Reachable() []*ir.Instruction {
	seen := make(map[*ir.Instruction]bool, len(g.Function.Body))
	stack := []*ir.Instruction{g.Entry()}
	for len(stack) > 0 {
		in := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[in] {
			continue
		}
		seen[in] = true
		stack = append(stack, g.succs[in]...)
	}

	var out []*ir.Instruction
	for _, in := range g.Function.Body {
		if seen[in] {
			out = append(out, in)
		}
	}
	return out
}

// PrintDot writes the graph in GraphViz format. annotate may add a second
// label line to each node; an empty string adds nothing.
func (g *Graph) PrintDot(w io.Writer, annotate func(*ir.Instruction) string) {
	label := func(in *ir.Instruction) string {
		l := fmt.Sprintf("%d: %s", in.Number, in.String())
		if annotate != nil {
			if extra := annotate(in); extra != "" {
				l += "\n" + extra
			}
		}
		return fmt.Sprintf("%q", l)
	}

	fmt.Fprintf(w, "digraph mgraph {\n")
	fmt.Fprintf(w, "\tmode=\"heir\";\n")
	fmt.Fprintf(w, "\tsplines=\"ortho\";\n\n")
	fmt.Fprintf(w, "\t\"ENTRY\" -> %s\n", label(g.Entry()))
	for _, in := range g.Function.Body {
		for _, s := range g.succs[in] {
			fmt.Fprintf(w, "\t%s -> %s\n", label(in), label(s))
		}
	}
	fmt.Fprintf(w, "\t%s -> \"EXIT\"\n", label(g.Exit()))
	fmt.Fprintf(w, "}\n")
}

// RenderToGraphVizFile renders dot with the graphviz `dot` binary. The
// output format follows the extension of filename.
func RenderToGraphVizFile(dot []byte, filename string) error {
	format := strings.TrimPrefix(filepath.Ext(filename), ".")
	if format == "" {
		return fmt.Errorf("cannot infer output format from %q", filename)
	}
	if format == "dot" || format == "gv" {
		return os.WriteFile(filename, dot, 0o644)
	}

	cmd := exec.Command("dot", "-T"+format, "-o", filename)
	cmd.Stdin = strings.NewReader(string(dot))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("running dot: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
