package analyze

import (
	"errors"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gnolang/cprop/internal/analysis/constprop"
	"github.com/gnolang/cprop/internal/analysis/dataflow"
)

// DefaultConfigFile is looked up when no configuration path is given.
const DefaultConfigFile = ".cprop.yaml"

// Config tunes the analysis of every file.
type Config struct {
	Entry            string `yaml:"entry"`
	MaxIterations    int    `yaml:"max_iterations"`
	TrackVolatile    bool   `yaml:"track_volatile"`
	DirtyAnalysis    bool   `yaml:"dirty_analysis"`
	BranchRefinement bool   `yaml:"branch_refinement"`
}

func DefaultConfig() Config {
	return Config{
		Entry:         constprop.DefaultEntry,
		MaxIterations: dataflow.DefaultMaxIterations,
		DirtyAnalysis: true,
	}
}

// LoadConfig reads the configuration at path. Keys missing from the file keep
// their default; a missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	if path == "" {
		path = DefaultConfigFile
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return config, nil
		}
		return config, err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return config, err
	}
	return config, nil
}

// WriteConfig stores config at path.
func WriteConfig(path string, config Config) error {
	if path == "" {
		path = DefaultConfigFile
	}
	d, err := yaml.Marshal(config)
	if err != nil {
		return err
	}
	return os.WriteFile(path, d, 0o644)
}
