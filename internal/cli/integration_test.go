package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// runCLI executes a fresh root command with args, returning stdout.
func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestCLI_InitAddQuery(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "corestore.yaml")

	runCLI(t, "--config", cfgPath, "init",
		"--store-root", filepath.Join(dir, "store"),
		"--state-root", filepath.Join(dir, "state"),
		"--db-root", filepath.Join(dir, "db"),
	)

	srcDir := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "hello"), []byte("hi\n"), 0o644))

	out := runCLI(t, "--config", cfgPath, "--format", "json", "add", srcDir, "--name", "greeting")
	var added struct {
		Data struct {
			Path string `json:"path"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &added))
	require.NotEmpty(t, added.Data.Path)

	out = runCLI(t, "--config", cfgPath, "--format", "json", "query", "valid", added.Data.Path)
	require.Contains(t, out, `"valid":true`)
}

func TestCLI_KeygenWritesFiles(t *testing.T) {
	dir := t.TempDir()
	sec := filepath.Join(dir, "k.sec")
	pub := filepath.Join(dir, "k.pub")

	runCLI(t, "keygen", "--sec-out", sec, "--pub-out", pub)

	_, err := os.Stat(sec)
	require.NoError(t, err)
	_, err = os.Stat(pub)
	require.NoError(t, err)
}
