package cli

import (
	"github.com/spf13/cobra"

	"github.com/corestore/corestore/internal/verify"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	DeepCheck bool
}

// NewVerifyCommand creates the verify command, wrapping Store.Verify.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Scan the registry against what is actually on disk and repair it",
		Long: `Verify walks every path registered valid, checks it still exists (and,
with --deep, rehashes its tree), and repairs bookkeeping for anything it
finds invalidated: removing dangling substitutes and derivers and clearing
stale references.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DeepCheck, "deep", false, "rehash every valid path's tree, not just check it exists")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	report, err := st.Verify(cmd.Context(), verify.Options{DeepCheck: opts.DeepCheck})
	if err != nil {
		return reportStoreError(formatter, "verify", err)
	}
	if len(report.InvalidatedPaths) > 0 || len(report.HashMismatches) > 0 || len(report.IncompleteClosures) > 0 {
		_ = formatter.Error("verify found and repaired inconsistencies", report)
		return NewExitError(ExitFailure, "verify found inconsistencies")
	}
	return formatter.Success(report)
}
