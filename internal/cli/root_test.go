package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "corestore", cmd.Use)
	assert.Contains(t, cmd.Long, "content-addressed")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"init", "keygen", "add", "add-text", "delete", "export", "import", "verify", "query", "state"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestQuerySubcommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	names := []string{"valid", "hash", "deriver", "references", "referrers", "substitutes", "stateful", "shared-with"}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{"query", name})
			require.NoError(t, err, "query subcommand %s should exist", name)
			require.NotNil(t, subCmd)
		})
	}
}

func TestStateSubcommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	names := []string{"commit", "revisions", "available-revisions", "scan", "share", "unshare", "revert"}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{"state", name})
			require.NoError(t, err, "state subcommand %s should exist", name)
			require.NotNil(t, subCmd)
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "corestore.yaml", configFlag.DefValue)
}

func TestAddCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	addCmd, _, err := cmd.Find([]string{"add"})
	require.NoError(t, err)

	nameFlag := addCmd.Flags().Lookup("name")
	require.NotNil(t, nameFlag)

	hashAlgoFlag := addCmd.Flags().Lookup("hash-algo")
	require.NotNil(t, hashAlgoFlag)
	assert.Equal(t, "sha256", hashAlgoFlag.DefValue)
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))
	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "init"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestExitErrorUnwrap(t *testing.T) {
	inner := assert.AnError
	err := WrapExitError(ExitFailure, "boom", inner)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, inner)
}

func TestGetExitCodeDefaultsToFailure(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
}
