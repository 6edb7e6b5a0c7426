package cli

import (
	"github.com/spf13/cobra"
)

// AddOptions holds flags for the add command.
type AddOptions struct {
	*RootOptions
	Recursive bool
	HashAlgo  string
	Name      string
}

// NewAddCommand creates the add command, wrapping Store.AddToStore.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Add a file or directory tree to the store",
		Long: `Add computes the content hash of the tree rooted at path, copies it
into the store under a name derived from that hash, and registers it valid.

Example:
  corestore add ./build/output --name app --recursive`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Recursive, "recursive", true, "descend into subdirectories")
	cmd.Flags().StringVar(&opts.HashAlgo, "hash-algo", "sha256", "content hash algorithm (not consulted: trees are always hashed with SHA-256)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "symbolic name embedded in the resulting store path")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func runAdd(opts *AddOptions, src string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	path, err := st.AddToStore(cmd.Context(), src, opts.Recursive, opts.HashAlgo, opts.Name)
	if err != nil {
		return reportStoreError(formatter, "add", err)
	}
	return formatter.Success(map[string]string{"path": string(path)})
}

// AddTextOptions holds flags for the add-text command.
type AddTextOptions struct {
	*RootOptions
	Name string
	Refs []string
}

// NewAddTextCommand creates the add-text command, wrapping Store.AddText.
func NewAddTextCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddTextOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add-text <contents>",
		Short: "Add a single text blob to the store",
		Long: `add-text stores contents as a single-file tree under a name derived
from its content hash, recording refs as its component references.

Example:
  corestore add-text "#!/bin/sh\necho hi\n" --name script --ref /store/abc-lib`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAddText(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "symbolic name embedded in the resulting store path")
	cmd.Flags().StringSliceVar(&opts.Refs, "ref", nil, "component path referenced by contents (repeatable)")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func runAddText(opts *AddTextOptions, contents string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	path, err := st.AddText(cmd.Context(), opts.Name, contents, opts.Refs)
	if err != nil {
		return reportStoreError(formatter, "add-text", err)
	}
	return formatter.Success(map[string]string{"path": string(path)})
}

// NewDeleteCommand creates the delete command, wrapping Store.Delete.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <path>",
		Short: "Delete a store path",
		Long: `Delete removes path's tree from disk and its validity/deriver/reference
bookkeeping. It is refused with ErrInUse while any other valid path still
references it.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runDelete(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Delete(cmd.Context(), path); err != nil {
		return reportStoreError(formatter, "delete", err)
	}
	return formatter.Success(map[string]string{"path": path, "deleted": "true"})
}
