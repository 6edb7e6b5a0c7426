package cli

import (
	"github.com/spf13/cobra"
)

// NewStateCommand groups the stateful-path mutating operations under one
// subcommand, mirroring NewQueryCommand's grouping of the read-only ones.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Operations on stateful, revisioned paths",
	}

	cmd.AddCommand(newStateCommitCommand(rootOpts))
	cmd.AddCommand(newStateRevisionsCommand(rootOpts))
	cmd.AddCommand(newStateAvailableRevisionsCommand(rootOpts))
	cmd.AddCommand(newStateScanCommand(rootOpts))
	cmd.AddCommand(newStateShareCommand(rootOpts))
	cmd.AddCommand(newStateUnshareCommand(rootOpts))
	cmd.AddCommand(newStateRevertCommand(rootOpts))

	return cmd
}

func newStateCommitCommand(rootOpts *RootOptions) *cobra.Command {
	var refsC, refsS []string
	var comment string
	cmd := &cobra.Command{
		Use:   "commit <state-path>",
		Short: "Record a new revision of state-path",
		Long: `commit assigns state-path the next revision number and records the
--ref/--state-ref paths as that revision's references. It does not scan the
on-disk tree; ` + "`state scan`" + ` does that.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			st, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()

			revision, ts, err := st.CommitStatePath(cmd.Context(), args[0], refsC, refsS, nil, comment)
			if err != nil {
				return reportStoreError(formatter, "state commit", err)
			}
			return formatter.Success(map[string]interface{}{
				"path": args[0], "revision": revision, "timestamp": ts,
			})
		},
	}
	cmd.Flags().StringSliceVar(&refsC, "ref", nil, "component path referenced by this revision (repeatable)")
	cmd.Flags().StringSliceVar(&refsS, "state-ref", nil, "stateful path referenced by this revision (repeatable)")
	cmd.Flags().StringVar(&comment, "comment", "", "free-text note attached to the revision")
	return cmd
}

func newStateRevisionsCommand(rootOpts *RootOptions) *cobra.Command {
	var revision int64
	cmd := &cobra.Command{
		Use:           "revisions <state-path>",
		Short:         "Print the named-snapshot map recorded at a revision",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			st, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()

			snapshot, ts, err := st.QueryStateRevisions(cmd.Context(), args[0], revision)
			if err != nil {
				return reportStoreError(formatter, "state revisions", err)
			}
			return formatter.Success(map[string]interface{}{
				"path": args[0], "snapshot": snapshot, "timestamp": ts,
			})
		},
	}
	cmd.Flags().Int64Var(&revision, "revision", 0, "revision to query (0 = latest)")
	return cmd
}

func newStateAvailableRevisionsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "available-revisions <state-path>",
		Short:         "List every recorded revision for state-path",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			st, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()

			entries, err := st.QueryAvailableStateRevisions(cmd.Context(), args[0])
			if err != nil {
				return reportStoreError(formatter, "state available-revisions", err)
			}
			return formatter.Success(map[string]interface{}{"path": args[0], "revisions": entries})
		},
	}
}

func newStateScanCommand(rootOpts *RootOptions) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:           "scan <state-path>",
		Short:         "Rescan state-path's on-disk tree and refresh its reference bookkeeping",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			st, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.ScanAndUpdateAllReferences(cmd.Context(), args[0], recursive); err != nil {
				return reportStoreError(formatter, "state scan", err)
			}
			return formatter.Success(map[string]interface{}{"path": args[0], "scanned": true})
		},
	}
	cmd.Flags().BoolVar(&recursive, "recursive", false, "also rescan every valid state path in state-path's reference closure")
	return cmd
}

func newStateShareCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "share <existing> <alias>",
		Short:         "Make alias resolve to existing's tree instead of having its own",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			st, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.SetSharedState(cmd.Context(), args[0], args[1]); err != nil {
				return reportStoreError(formatter, "state share", err)
			}
			return formatter.Success(map[string]interface{}{"existing": args[0], "alias": args[1]})
		},
	}
	return cmd
}

func newStateUnshareCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "unshare <state-path>...",
		Short:         "Resolve each state-path through the sharing chain to its non-shared root",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			st, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()

			resolved, err := st.ToNonSharedPathSet(cmd.Context(), args)
			if err != nil {
				return reportStoreError(formatter, "state unshare", err)
			}
			return formatter.Success(map[string]interface{}{"paths": args, "resolved": resolved})
		},
	}
	return cmd
}

func newStateRevertCommand(rootOpts *RootOptions) *cobra.Command {
	var revision int64
	var recursive bool
	cmd := &cobra.Command{
		Use:           "revert <state-path>",
		Short:         "Re-commit a prior revision's references and snapshot as state-path's newest revision",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			st, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.RevertToRevision(cmd.Context(), args[0], revision, recursive); err != nil {
				return reportStoreError(formatter, "state revert", err)
			}
			return formatter.Success(map[string]interface{}{"path": args[0], "revision": revision})
		},
	}
	cmd.Flags().Int64Var(&revision, "revision", 0, "revision to restore")
	_ = cmd.MarkFlagRequired("revision")
	cmd.Flags().BoolVar(&recursive, "recursive", false, "also revert each dependency pinned in that revision's snapshot")
	return cmd
}
