package store

import (
	"context"
	"io"

	"github.com/corestore/corestore/internal/kv"
	"github.com/corestore/corestore/internal/pathname"
	"github.com/corestore/corestore/internal/registry"
)

// AddToStore copies srcPath's tree into the store under a deterministic,
// content-addressed destination path.
func (s *Store) AddToStore(ctx context.Context, srcPath string, recursive bool, hashAlgo, name string) (pathname.ComponentPath, error) {
	var dst pathname.ComponentPath
	err := s.withTxn(ctx, func(t *kv.Txn) error {
		var err error
		dst, err = s.ingester.AddToStore(ctx, t, srcPath, recursive, hashAlgo, name)
		return err
	})
	return dst, err
}

// AddText writes contents verbatim under a deterministic path whose type
// tag embeds refs.
func (s *Store) AddText(ctx context.Context, name, contents string, refs []string) (pathname.ComponentPath, error) {
	var dst pathname.ComponentPath
	err := s.withTxn(ctx, func(t *kv.Txn) error {
		var err error
		dst, err = s.ingester.AddText(ctx, t, name, contents, refs)
		return err
	})
	return dst, err
}

// Export writes path's tree and trailer to w, signing it when sign is
// true. A read-only operation: no transaction is held across the
// potentially slow write to w.
func (s *Store) Export(ctx context.Context, path string, sign bool, w io.Writer) error {
	return s.ingester.ExportPath(ctx, nil, path, sign, w)
}

// Import restores a tree from r, verifying a signature when
// requireSignature is set, and registers it valid.
func (s *Store) Import(ctx context.Context, r io.Reader, requireSignature bool) (pathname.ComponentPath, error) {
	var dst pathname.ComponentPath
	err := s.withTxn(ctx, func(t *kv.Txn) error {
		var err error
		dst, err = s.ingester.ImportPath(ctx, t, r, requireSignature)
		return err
	})
	return dst, err
}

// Delete removes path from the store, refusing with ErrInUse if it still
// has live referrers.
func (s *Store) Delete(ctx context.Context, path string) error {
	return s.withTxn(ctx, func(t *kv.Txn) error {
		return s.ingester.Delete(ctx, t, path)
	})
}

// RegisterValid registers a single path as valid.
func (s *Store) RegisterValid(ctx context.Context, e registry.RegisterValidEntry) error {
	return s.withTxn(ctx, func(t *kv.Txn) error {
		return s.reg.RegisterValid(ctx, t, e)
	})
}

// RegisterValidBatch registers many paths atomically: either every path in
// entries ends up valid, or none of them do.
func (s *Store) RegisterValidBatch(ctx context.Context, entries []registry.RegisterValidEntry) error {
	return s.withTxn(ctx, func(t *kv.Txn) error {
		return s.reg.RegisterValidBatch(ctx, t, entries)
	})
}
