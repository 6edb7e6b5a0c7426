package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	StoreRoot            string
	StateRoot            string
	DBRoot               string
	GCReservedSpace      int64
	RequireSignedImports bool
}

// initDoc mirrors config.Config's YAML field names; kept separate from
// config.Config itself so this command can serialize with yaml.v3 without
// pulling a YAML tag dependency into the config package's JSON-tagged type.
type initDoc struct {
	StoreRoot            string `yaml:"store-root"`
	StateRoot            string `yaml:"state-root"`
	DBRoot               string `yaml:"db-root"`
	GCReservedSpace      int64  `yaml:"gc-reserved-space"`
	RequireSignedImports bool   `yaml:"require-signed-imports"`
}

// NewInitCommand creates the init command, writing a fresh config document
// and the store/state/db directories it names.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a new store config document and its backing directories",
		Long: `init writes a config document at --config (the root-persistent flag)
and creates the store-root, state-root, and db-root directories it names.

Example:
  corestore init --store-root ./store --state-root ./state --db-root ./db`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.StoreRoot, "store-root", "./store", "directory holding immutable trees")
	cmd.Flags().StringVar(&opts.StateRoot, "state-root", "./state", "directory holding stateful-path trees")
	cmd.Flags().StringVar(&opts.DBRoot, "db-root", "./db", "directory holding the bookkeeping database")
	cmd.Flags().Int64Var(&opts.GCReservedSpace, "gc-reserved-space", 0, "bytes of padding GC can free under disk pressure")
	cmd.Flags().BoolVar(&opts.RequireSignedImports, "require-signed-imports", false, "reject every import that lacks a valid signature")

	return cmd
}

func runInit(opts *InitOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	for _, dir := range []string{opts.StoreRoot, opts.StateRoot, opts.DBRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return reportStoreError(formatter, "init", err)
		}
	}

	doc := initDoc{
		StoreRoot:            opts.StoreRoot,
		StateRoot:            opts.StateRoot,
		DBRoot:               opts.DBRoot,
		GCReservedSpace:      opts.GCReservedSpace,
		RequireSignedImports: opts.RequireSignedImports,
	}
	b, err := yaml.Marshal(doc)
	if err != nil {
		return reportStoreError(formatter, "init", err)
	}
	if err := os.WriteFile(opts.ConfigPath, b, 0o644); err != nil {
		return reportStoreError(formatter, "init", err)
	}

	formatter.VerboseLog("wrote config to %s", opts.ConfigPath)
	return formatter.Success(fmt.Sprintf("initialized store config at %s", opts.ConfigPath))
}
