package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func scenarioPath(name string) string {
	abs, _ := filepath.Abs(filepath.Join("..", "..", "testdata", "scenarios", name))
	return abs
}

// TestConformanceScenarios drives every end-to-end scenario fixture against
// a real store and checks it against its golden trace.
//
// A first run against a fresh checkout has no golden baseline yet; seed one
// per scenario with:
//
//	go test ./internal/scenario -run TestConformanceScenarios -update
func TestConformanceScenarios(t *testing.T) {
	names := []string{
		"ingest_tree.yaml",
		"add_text.yaml",
		"stateful_deriver_collision.yaml",
		"revision_query.yaml",
		"sharing_chain.yaml",
		"sign_export_import_corrupt.yaml",
	}

	for _, name := range names {
		name := name
		t.Run(name, func(t *testing.T) {
			sc, err := LoadScenario(scenarioPath(name))
			require.NoError(t, err, "load %s", name)

			_, err = RunWithGolden(t, sc)
			require.NoError(t, err, "run %s", name)
		})
	}
}

func TestLoadScenario_RejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	writeFixture(t, bad, `
name: bad
description: has a typo'd field
flow:
  - invoke: isValid
    args: {}
    expectt:
      case: Success
assertions:
  - type: trace_count
    action: isValid
    count: 1
`)
	_, err := LoadScenario(bad)
	require.Error(t, err)
}

func TestLoadScenario_RequiresAssertions(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	writeFixture(t, bad, `
name: bad
description: missing assertions
flow:
  - invoke: isValid
    args: {}
`)
	_, err := LoadScenario(bad)
	require.Error(t, err)
}

func writeFixture(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}
