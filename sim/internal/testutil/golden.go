// Package testutil provides shared test infrastructure for the simulation loop.
// It holds the golden run dataset and the helpers that locate its files.
package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GoldenDataset represents the structure of testdata/goldendataset.json.
type GoldenDataset struct {
	Tests []GoldenTestCase `json:"tests"`
}

// GoldenTestCase is one replayed run: a trace from testdata/traces, the run
// configuration, and what the run must produce.
type GoldenTestCase struct {
	Name          string              `json:"name"`
	Trace         string              `json:"trace"`
	MaxTicks      uint64              `json:"max_ticks"`
	ExpectedOrder []string            `json:"expected_order"`
	OnExit        map[string][]string `json:"on_exit"` // category -> action list
	Error         string              `json:"error"`   // substring of the run error; empty means success
	Metrics       GoldenMetrics       `json:"metrics"`
}

// GoldenMetrics represents the expected outcome of a golden run.
type GoldenMetrics struct {
	FinalTick   uint64   `json:"final_tick"`
	ExitCount   int      `json:"exit_count"`
	LastCause   string   `json:"last_cause"`
	ROITicks    []uint64 `json:"roi_ticks"`
	StatsResets int      `json:"stats_resets"`
	StatsDumps  int      `json:"stats_dumps"`
	Checkpoints int      `json:"checkpoints"`
}

// testdataDir resolves the repo root testdata/ relative to this source file.
func testdataDir(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	// Navigate from sim/internal/testutil/ to repo root testdata/
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata")
}

// LoadGoldenDataset loads the golden dataset from the testdata directory.
func LoadGoldenDataset(t *testing.T) *GoldenDataset {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(testdataDir(t), "goldendataset.json"))
	if err != nil {
		t.Fatalf("Failed to read golden dataset: %v", err)
	}

	var dataset GoldenDataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		t.Fatalf("Failed to parse golden dataset: %v", err)
	}
	if len(dataset.Tests) == 0 {
		t.Fatal("Golden dataset has no test cases")
	}

	return &dataset
}

// TracePath returns the path of a trace file under testdata/traces.
func TracePath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(testdataDir(t), "traces", name)
}
