package cfg

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnolang/cprop/internal/ir"
	"github.com/gnolang/cprop/internal/loader"
)

const src = `
functions:
  - name: main
    locals:
      - {name: x, type: int32}
    body:
      - assign: {lhs: x, rhs: "1"}
      - goto: {target: done, if: "x > 0"}
      - assign: {lhs: x, rhs: "2"}
      - label: done
      - skip: {}
  - name: dead
    body:
      - goto: {target: end}
      - skip: {}
      - label: end
      - skip: {}
  - name: ext
`

func build(t *testing.T, name string) *Graph {
	t.Helper()
	prog, err := loader.Load(strings.NewReader(src), "src.yaml")
	require.NoError(t, err)
	g, err := FromFunction(prog, name)
	require.NoError(t, err)
	return g
}

func TestFromFunction(t *testing.T) {
	t.Parallel()

	g := build(t, "main")
	body := g.Nodes()
	require.Len(t, body, 5)

	assert.Same(t, body[0], g.Entry())
	assert.Same(t, body[4], g.Exit())
	assert.Equal(t, []*ir.Instruction{body[2], body[3]}, g.Succs(body[1]))
	assert.Equal(t, []*ir.Instruction{body[1], body[2]}, g.Preds(body[3]))
	assert.Empty(t, g.Preds(body[0]))
	assert.Empty(t, g.Succs(body[4]))
	assert.Equal(t, body, g.Reachable())
}

func TestReachable(t *testing.T) {
	t.Parallel()

	g := build(t, "dead")
	body := g.Nodes()
	require.Len(t, body, 4)
	assert.Equal(t, []*ir.Instruction{body[0], body[2], body[3]}, g.Reachable())
}

func TestFromFunctionErrors(t *testing.T) {
	t.Parallel()

	prog, err := loader.Load(strings.NewReader(src), "src.yaml")
	require.NoError(t, err)

	_, err = FromFunction(prog, "missing")
	assert.ErrorContains(t, err, "not found")

	_, err = FromFunction(prog, "ext")
	assert.ErrorIs(t, err, ErrNoBody)
}

func TestPrintDot(t *testing.T) {
	t.Parallel()

	g := build(t, "main")

	var buf bytes.Buffer
	g.PrintDot(&buf, nil)

	expected := `
digraph mgraph {
	mode="heir";
	splines="ortho";

	"ENTRY" -> "0: main::x := 1"
	"0: main::x := 1" -> "1: IF (main::x > 0) THEN GOTO 3"
	"1: IF (main::x > 0) THEN GOTO 3" -> "2: main::x := 2"
	"1: IF (main::x > 0) THEN GOTO 3" -> "3: SKIP"
	"2: main::x := 2" -> "3: SKIP"
	"3: SKIP" -> "4: END_FUNCTION"
	"4: END_FUNCTION" -> "EXIT"
}
`
	assert.Equal(t, normalizeDotOutput(expected), normalizeDotOutput(buf.String()))
}

func TestPrintDotAnnotated(t *testing.T) {
	t.Parallel()

	g := build(t, "main")

	var buf bytes.Buffer
	g.PrintDot(&buf, func(in *ir.Instruction) string {
		if in.Kind == ir.Skip {
			return "x=1"
		}
		return ""
	})

	out := buf.String()
	assert.Contains(t, out, `"2: main::x := 2" -> "3: SKIP\nx=1"`)
	assert.Contains(t, out, `"0: main::x := 1" -> "1: IF (main::x > 0) THEN GOTO 3"`)
}

func TestRenderDotFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "main.dot")
	require.NoError(t, RenderToGraphVizFile([]byte("digraph mgraph {}\n"), path))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "digraph mgraph {}\n", string(got))

	assert.Error(t, RenderToGraphVizFile(nil, filepath.Join(dir, "noext")))
}

func normalizeDotOutput(dot string) string {
	lines := strings.Split(dot, "\n")
	var normalized []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return strings.Join(normalized, "\n")
}
