package cli

import (
	"github.com/spf13/cobra"

	"github.com/corestore/corestore/internal/store"
)

// NewQueryCommand groups the store's read-only lookups under one
// subcommand, the way the state-mutating operations are grouped under
// NewStateCommand.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Read-only lookups against the registry",
	}

	cmd.AddCommand(newQueryValidCommand(rootOpts))
	cmd.AddCommand(newQueryHashCommand(rootOpts))
	cmd.AddCommand(newQueryDeriverCommand(rootOpts))
	cmd.AddCommand(newQueryReferencesCommand(rootOpts))
	cmd.AddCommand(newQueryReferrersCommand(rootOpts))
	cmd.AddCommand(newQuerySubstitutesCommand(rootOpts))
	cmd.AddCommand(newQueryStatefulCommand(rootOpts))
	cmd.AddCommand(newQuerySharedWithCommand(rootOpts))

	return cmd
}

func newQueryValidCommand(rootOpts *RootOptions) *cobra.Command {
	var statePath bool
	cmd := &cobra.Command{
		Use:           "valid <path>",
		Short:         "Report whether path is registered valid",
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

			var ok bool
			if statePath {
				ok, err = st.IsValidState(cmd.Context(), args[0])
			} else {
				ok, err = st.IsValid(cmd.Context(), args[0])
			}
			if err != nil {
				return reportStoreError(formatter, "query valid", err)
			}
			return formatter.Success(map[string]interface{}{"path": args[0], "valid": ok})
		},
	}
	cmd.Flags().BoolVar(&statePath, "state", false, "path is a stateful path, not a component path")
	return cmd
}

func newQueryHashCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "hash <path>",
		Short:         "Print path's registered content hash",
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

			hash, ok, err := st.QueryHash(cmd.Context(), args[0])
			if err != nil {
				return reportStoreError(formatter, "query hash", err)
			}
			return formatter.Success(map[string]interface{}{"path": args[0], "hash": hash, "found": ok})
		},
	}
}

func newQueryDeriverCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "deriver <path>",
		Short:         "List the derivation files registered against path",
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

			derivers, err := st.QueryDeriver(cmd.Context(), args[0])
			if err != nil {
				return reportStoreError(formatter, "query deriver", err)
			}
			return formatter.Success(map[string]interface{}{"path": args[0], "derivers": derivers})
		},
	}
}

func newQueryReferencesCommand(rootOpts *RootOptions) *cobra.Command {
	var statePath bool
	var state bool
	var revision int64
	cmd := &cobra.Command{
		Use:           "references <path>",
		Short:         "List path's outgoing references at a revision",
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

			kind := store.Component
			if state {
				kind = store.State
			}

			var refs []string
			if statePath {
				refs, err = st.QueryStateReferences(cmd.Context(), args[0], kind, revision)
			} else {
				refs, err = st.QueryReferences(cmd.Context(), args[0], kind, revision)
			}
			if err != nil {
				return reportStoreError(formatter, "query references", err)
			}
			return formatter.Success(map[string]interface{}{"path": args[0], "refs": refs})
		},
	}
	cmd.Flags().BoolVar(&statePath, "from-state", false, "path is a stateful path rather than a component path")
	cmd.Flags().BoolVar(&state, "state", false, "list state-universe references rather than component-universe ones")
	cmd.Flags().Int64Var(&revision, "revision", 0, "revision to query (0 = latest)")
	return cmd
}

func newQueryReferrersCommand(rootOpts *RootOptions) *cobra.Command {
	var statePath bool
	var bound int64
	var hasBound bool
	cmd := &cobra.Command{
		Use:           "referrers <target>",
		Short:         "List every path that references target",
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

			var boundPtr *int64
			if hasBound {
				boundPtr = &bound
			}

			var referrers []string
			if statePath {
				referrers, err = st.QueryStateReferrers(cmd.Context(), args[0], boundPtr)
			} else {
				referrers, err = st.QueryReferrers(cmd.Context(), args[0], boundPtr)
			}
			if err != nil {
				return reportStoreError(formatter, "query referrers", err)
			}
			return formatter.Success(map[string]interface{}{"target": args[0], "referrers": referrers})
		},
	}
	cmd.Flags().BoolVar(&statePath, "state", false, "target is a stateful path")
	cmd.Flags().Int64Var(&bound, "as-of", 0, "only consider referrers as of this timestamp bound")
	cmd.Flags().BoolVar(&hasBound, "bounded", false, "apply --as-of (default: unbounded)")
	return cmd
}

func newQuerySubstitutesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "substitutes <path>",
		Short:         "List registered substitutes for path",
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

			subs, err := st.QuerySubstitutes(cmd.Context(), args[0])
			if err != nil {
				return reportStoreError(formatter, "query substitutes", err)
			}
			return formatter.Success(map[string]interface{}{"path": args[0], "substitutes": subs})
		},
	}
}

func newQueryStatefulCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stateful <path>",
		Short:         "Report whether path has ever had a stateful deriver",
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

			ok, err := st.IsStateful(cmd.Context(), args[0])
			if err != nil {
				return reportStoreError(formatter, "query stateful", err)
			}
			return formatter.Success(map[string]interface{}{"path": args[0], "stateful": ok})
		},
	}
}

func newQuerySharedWithCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "shared-with <path>",
		Short:         "List every path that transitively resolves to path through sharing",
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

			paths, err := st.SharedWithRec(cmd.Context(), args[0])
			if err != nil {
				return reportStoreError(formatter, "query shared-with", err)
			}
			return formatter.Success(map[string]interface{}{"path": args[0], "paths": paths})
		},
	}
}
