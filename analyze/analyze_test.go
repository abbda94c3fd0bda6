package analyze

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const straightLine = `
functions:
  - name: main
    locals:
      - {name: x, type: int32}
      - {name: y, type: int32}
    body:
      - assign: {lhs: x, rhs: "2"}
      - assign: {lhs: y, rhs: "x * 3"}
      - skip: {}
`

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Run(ctx context.Context, path string) (*Report, error) {
	args := m.Called(ctx, path)
	report, _ := args.Get(0).(*Report)
	return report, args.Error(1)
}

func setupMockEngine(path string) *mockEngine {
	engine := new(mockEngine)
	engine.On("Run", mock.Anything, path).Return(&Report{File: path}, nil)
	return engine
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	config, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), config)

	partial := filepath.Join(dir, "partial.yaml")
	writeTestFile(t, partial, "entry: start\nbranch_refinement: true\n")
	config, err = LoadConfig(partial)
	require.NoError(t, err)
	assert.Equal(t, "start", config.Entry)
	assert.True(t, config.BranchRefinement)
	assert.True(t, config.DirtyAnalysis, "unset keys keep their default")
	assert.Equal(t, DefaultConfig().MaxIterations, config.MaxIterations)

	empty := filepath.Join(dir, "empty.yaml")
	writeTestFile(t, empty, "")
	config, err = LoadConfig(empty)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), config)

	bad := filepath.Join(dir, "bad.yaml")
	writeTestFile(t, bad, "entry: [unclosed\n")
	_, err = LoadConfig(bad)
	assert.Error(t, err)
}

func TestWriteConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".cprop.yaml")
	want := DefaultConfig()
	want.TrackVolatile = true
	want.MaxIterations = 10

	require.NoError(t, WriteConfig(path, want))
	got, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRun(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prog.yaml")
	writeTestFile(t, path, straightLine)

	report, err := NewWithConfig(DefaultConfig(), zap.NewNop(), ModeAnalyze).Run(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, path, report.File)
	assert.Equal(t, "main", report.Entry)
	assert.Empty(t, report.Dirty)
	require.Len(t, report.Locations, 4)

	assert.Empty(t, report.Locations[0].Constants)
	assert.Equal(t, map[string]string{"main::x": "2"}, report.Locations[1].Constants)
	assert.Equal(t, map[string]string{"main::x": "2", "main::y": "6"}, report.Locations[2].Constants)
	assert.Equal(t, "main", report.Locations[3].Function)
	assert.False(t, report.Locations[3].Bottom)
	assert.Zero(t, report.Rewritten)
	assert.Empty(t, report.Program)
}

func TestRunReplace(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prog.yaml")
	writeTestFile(t, path, straightLine)

	report, err := NewWithConfig(DefaultConfig(), nil, ModeReplace).Run(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rewritten)
	assert.Contains(t, report.Program, "main::y := 6")
}

func TestRunErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := NewWithConfig(DefaultConfig(), nil, ModeAnalyze)

	_, err := a.Run(context.Background(), filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(dir, "prog.yaml")
	writeTestFile(t, path, straightLine)
	config := DefaultConfig()
	config.Entry = "start"
	_, err = NewWithConfig(config, nil, ModeAnalyze).Run(context.Background(), path)
	assert.ErrorContains(t, err, path)
}

func TestNew(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := filepath.Join(dir, "cfg.yaml")
	writeTestFile(t, cfg, "entry: start\n")

	a, err := New(cfg, nil, ModeAnalyze)
	require.NoError(t, err)
	assert.Equal(t, "start", a.config.Entry)

	bad := filepath.Join(dir, "bad.yaml")
	writeTestFile(t, bad, "entry: [\n")
	_, err = New(bad, nil, ModeAnalyze)
	assert.ErrorContains(t, err, "reading configuration")
}

func TestProcessFile(t *testing.T) {
	t.Parallel()

	engine := setupMockEngine("prog.yaml")
	report, err := ProcessFile(context.Background(), engine, "prog.yaml")
	require.NoError(t, err)
	assert.Equal(t, "prog.yaml", report.File)
	engine.AssertExpectations(t)
}

func TestProcessPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	paths := []string{
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "sub", "a.yml"),
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	for _, p := range paths {
		writeTestFile(t, p, straightLine)
	}
	writeTestFile(t, filepath.Join(dir, ".cprop.yaml"), "entry: main\n")
	writeTestFile(t, filepath.Join(dir, "notes.txt"), "not a program\n")

	engine := new(mockEngine)
	engine.On("Run", mock.Anything, paths[0]).Return(&Report{File: paths[0]}, nil)
	engine.On("Run", mock.Anything, paths[1]).Return(&Report{File: paths[1]}, nil)

	reports, err := ProcessPath(context.Background(), zap.NewNop(), engine, dir, ProcessFile)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, paths[0], reports[0].File)
	assert.Equal(t, paths[1], reports[1].File)
	engine.AssertExpectations(t)
	engine.AssertNumberOfCalls(t, "Run", 2)
}

func TestProcessPathErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	writeTestFile(t, good, straightLine)
	writeTestFile(t, bad, straightLine)

	failure := errors.New("boom")
	engine := new(mockEngine)
	engine.On("Run", mock.Anything, good).Return(&Report{File: good}, nil)
	engine.On("Run", mock.Anything, bad).Return(nil, failure)

	reports, err := ProcessPath(context.Background(), nil, engine, dir, ProcessFile)
	assert.ErrorIs(t, err, failure)
	require.Len(t, reports, 1)
	assert.Equal(t, good, reports[0].File)

	_, err = ProcessPath(context.Background(), nil, engine, filepath.Join(dir, "missing"), ProcessFile)
	assert.ErrorContains(t, err, "error accessing")
}

func TestProcessPathCancelled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "prog.yaml"), straightLine)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := new(mockEngine)
	reports, err := ProcessPath(ctx, nil, engine, dir, ProcessFile)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, reports)
	engine.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestProcessFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "one.yaml"), filepath.Join(dir, "two.yaml")}
	for _, p := range paths {
		writeTestFile(t, p, straightLine)
	}

	engine := new(mockEngine)
	engine.On("Run", mock.Anything, paths[0]).Return(&Report{File: paths[0]}, nil)
	engine.On("Run", mock.Anything, paths[1]).Return(&Report{File: paths[1]}, nil)

	reports, err := ProcessFiles(context.Background(), zap.NewNop(), engine, append(paths, filepath.Join(dir, "missing.yaml")), ProcessFile)
	assert.Error(t, err, "a missing path does not stop the others")
	require.Len(t, reports, 2)
	engine.AssertExpectations(t)
}

func TestHasDesiredExtension(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want bool
	}{
		{"prog.yaml", true},
		{"dir/prog.yml", true},
		{".cprop.yaml", false},
		{"prog.json", false},
		{"yaml", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, hasDesiredExtension(tt.path))
		})
	}
}
