package cli

import (
	"crypto/rsa"

	"github.com/spf13/cobra"

	"github.com/corestore/corestore/internal/config"
	"github.com/corestore/corestore/internal/signing"
	"github.com/corestore/corestore/internal/store"
)

// openStore loads the configured document and opens a Store against it,
// wiring a signer from opts' --sec-key/--pub-key flags when either is set.
// Either half of the key pair may be absent: a signer built from only a
// public key can still verify imports even though it can never sign an
// export, while one built from only a secret key can both sign and verify,
// since its public half is derived from the private key.
func openStore(opts *RootOptions) (*store.Store, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}

	var storeOpts []store.Option
	if opts.SecKey != "" || opts.PubKey != "" {
		sg, err := loadSigner(opts.SecKey, opts.PubKey)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "load signing key", err)
		}
		storeOpts = append(storeOpts, store.WithSigner(sg))
	}

	st, err := store.Open(cfg, storeOpts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open store", err)
	}
	return st, nil
}

// loadSigner builds an RSASigner from whichever of secPath/pubPath is
// non-empty. The public half comes from pubPath when it is set and is
// otherwise derived from the private key; with only pubPath set, the
// private half is nil.
func loadSigner(secPath, pubPath string) (signing.Signer, error) {
	var priv *rsa.PrivateKey
	var pub *rsa.PublicKey
	var err error

	if secPath != "" {
		priv, err = signing.LoadPrivateKey(secPath)
		if err != nil {
			return nil, err
		}
		pub = &priv.PublicKey
	}
	if pubPath != "" {
		pub, err = signing.LoadPublicKey(pubPath)
		if err != nil {
			return nil, err
		}
	}
	return signing.NewRSASigner(priv, pub), nil
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// reportStoreError renders err through formatter and returns the ExitError
// RunE should propagate, mapping any store-layer failure to ExitFailure.
func reportStoreError(formatter *OutputFormatter, action string, err error) error {
	exitErr := WrapExitError(ExitFailure, action, err)
	_ = formatter.Error(exitErr.Error(), nil)
	return exitErr
}
