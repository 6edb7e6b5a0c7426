package store

import (
	"context"

	"github.com/corestore/corestore/internal/kv"
	"github.com/corestore/corestore/internal/verify"
)

// Verify runs the integrity scan and returns its report.
func (s *Store) Verify(ctx context.Context, opts verify.Options) (*verify.Report, error) {
	var report *verify.Report
	err := s.withTxn(ctx, func(t *kv.Txn) error {
		var err error
		report, err = s.verifier.Verify(ctx, t, opts)
		return err
	})
	return report, err
}
