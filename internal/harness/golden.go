package harness

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot is the golden form of a scenario run.
type Snapshot struct {
	Scenario string       `json:"scenario"`
	Pass     bool         `json:"pass"`
	Trace    []TraceEvent `json:"trace"`
}

// RunWithGolden runs sc and compares its trace with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, sc *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), sc)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, sc.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares result's trace with the golden file for name.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := json.MarshalIndent(Snapshot{Scenario: name, Pass: result.Pass, Trace: result.Trace}, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
