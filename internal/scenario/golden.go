package scenario

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RunWithGolden runs sc and compares its trace against a golden file under
// testdata/golden/{sc.Name}.golden, regenerated with:
//
//	go test ./internal/scenario -update
//
// encoding/json sorts map keys during marshaling, so the comparison is
// stable across runs without needing a bespoke canonical encoder; the
// store's clock is a deterministic sequential counter per Open, so two runs
// of the same fixture against a fresh store allocate identical timestamps.
func RunWithGolden(t *testing.T, sc *Scenario) (*Result, error) {
	t.Helper()
	res, err := Run(sc)
	if err != nil {
		return res, err
	}
	assertGolden(t, sc.Name, res)
	return res, nil
}

func assertGolden(t *testing.T, name string, res *Result) {
	t.Helper()
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		t.Fatalf("scenario: marshal trace: %v", err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}
