package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by every subcommand.
type RootOptions struct {
	Verbose bool
	Format  string // "text" | "json"

	ConfigPath string
	SecKey     string // path to a PEM-encoded RSA private key, for signing exports
	PubKey     string // path to a PEM-encoded RSA public key, for verifying imports
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the corestore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "corestore",
		Short: "corestore - a content-addressed store with stateful paths",
		Long: `corestore manages a content-addressed store of immutable trees
alongside a parallel universe of stateful, revisioned paths, wired
through one database of validity, reference, and derivation bookkeeping.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "corestore.yaml", "path to the store config document")
	cmd.PersistentFlags().StringVar(&opts.SecKey, "sec-key", "", "path to a PEM-encoded RSA private key (for export --sign)")
	cmd.PersistentFlags().StringVar(&opts.PubKey, "pub-key", "", "path to a PEM-encoded RSA public key (for import --require-signature)")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewKeygenCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewAddTextCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewStateCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
