package cli

import (
	"github.com/spf13/cobra"

	"github.com/corestore/corestore/internal/signing"
)

// KeygenOptions holds flags for the keygen command.
type KeygenOptions struct {
	*RootOptions
	SecOut string
	PubOut string
}

// NewKeygenCommand creates the keygen command, for producing the RSA key
// pair export --sign and import --require-signature consume.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeygenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an RSA key pair for signing exports",
		Long: `keygen generates a fresh RSA key pair and writes it as PEM to --sec-out
and --pub-out. The private half is written with mode 0600; a world- or
group-readable copy is refused at load time by --sec-key, not by keygen.

Example:
  corestore keygen --sec-out store.sec --pub-out store.pub`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.SecOut, "sec-out", "store.sec", "output path for the private key")
	cmd.Flags().StringVar(&opts.PubOut, "pub-out", "store.pub", "output path for the public key")

	return cmd
}

func runKeygen(opts *KeygenOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	priv, err := signing.GenerateKeyPair()
	if err != nil {
		return reportStoreError(formatter, "keygen", err)
	}
	if err := signing.WriteKeyFiles(priv, opts.SecOut, opts.PubOut); err != nil {
		return reportStoreError(formatter, "keygen", err)
	}
	return formatter.Success(map[string]string{"sec": opts.SecOut, "pub": opts.PubOut})
}
