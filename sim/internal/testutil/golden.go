package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"gopkg.in/yaml.v3"
)

// GoldenDataset represents the structure of testdata/golden_schedules.yaml.
type GoldenDataset struct {
	Tests []GoldenTestCase `yaml:"tests"`
}

// GoldenTestCase is one hand-checked schedule on a flat machine.
type GoldenTestCase struct {
	Name      string `yaml:"name"`
	Nodes     int    `yaml:"nodes"`
	Scheduler string `yaml:"scheduler"`
	// Trace holds job lines in the trace file format.
	Trace    string          `yaml:"trace"`
	Starts   map[int64]int64 `yaml:"starts"`
	Makespan int64           `yaml:"makespan"`
}

// LoadGoldenDataset loads the golden schedules from the testdata directory.
// The path is resolved relative to this source file: sim/internal/testutil/ → testdata/.
func LoadGoldenDataset(t *testing.T) *GoldenDataset {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	path := filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata", "golden_schedules.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read golden dataset: %v", err)
	}

	var dataset GoldenDataset
	if err := yaml.Unmarshal(data, &dataset); err != nil {
		t.Fatalf("Failed to parse golden dataset: %v", err)
	}
	if len(dataset.Tests) == 0 {
		t.Fatal("Golden dataset has no tests")
	}
	return &dataset
}
