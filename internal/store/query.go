package store

import (
	"context"

	"github.com/corestore/corestore/internal/kv"
	"github.com/corestore/corestore/internal/registry"
)

// IsValid reports whether c is a registered, valid component path.
func (s *Store) IsValid(ctx context.Context, c string) (bool, error) {
	return s.reg.IsValid(ctx, nil, c)
}

// IsValidState reports whether sp is a registered, valid state path.
func (s *Store) IsValidState(ctx context.Context, sp string) (bool, error) {
	return s.reg.IsValidState(ctx, nil, sp)
}

// QueryHash returns the stored content hash of a valid component path.
func (s *Store) QueryHash(ctx context.Context, c string) (string, bool, error) {
	return s.reg.QueryHash(ctx, nil, c)
}

// QueryDeriver returns the deriver paths registered for c.
func (s *Store) QueryDeriver(ctx context.Context, c string) ([]string, error) {
	return s.reg.QueryDeriver(ctx, nil, c)
}

// QueryDerivers is the plural form over many component paths, returning
// each path's derivers keyed by that path.
func (s *Store) QueryDerivers(ctx context.Context, cs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(cs))
	for _, c := range cs {
		d, err := s.reg.QueryDeriver(ctx, nil, c)
		if err != nil {
			return nil, err
		}
		out[c] = d
	}
	return out, nil
}

// QueryReferences returns path's outgoing references of the given kind at
// revision r (0 meaning "latest" for a state path; ignored for a
// component path, whose references are immutable). It dispatches on
// whether path is currently a valid state path or a component path.
func (s *Store) QueryReferences(ctx context.Context, path string, kind Kind, r int64) ([]string, error) {
	isState, err := s.reg.IsValidState(ctx, nil, path)
	if err != nil {
		return nil, err
	}
	if isState {
		return s.refs.QueryStateReferences(ctx, nil, path, kind, r)
	}
	return s.refs.QueryComponentReferences(ctx, nil, path, kind)
}

// QueryStateReferences returns statePath's outgoing references of the
// given kind as of revision r explicitly, bypassing the isValidState
// dispatch QueryReferences performs.
func (s *Store) QueryStateReferences(ctx context.Context, statePath string, kind Kind, r int64) ([]string, error) {
	return s.refs.QueryStateReferences(ctx, nil, statePath, kind, r)
}

// QueryReferrers returns every path with an outgoing reference to target,
// as of the given timestamp bound (nil meaning "now").
func (s *Store) QueryReferrers(ctx context.Context, target string, bound *int64) ([]string, error) {
	return s.refs.QueryComponentReferrers(ctx, nil, target, bound)
}

// QueryStateReferrers is QueryReferrers for a state path target.
func (s *Store) QueryStateReferrers(ctx context.Context, target string, bound *int64) ([]string, error) {
	return s.refs.QueryStateReferrers(ctx, nil, target, bound)
}

// QuerySubstitutes returns c's registered substitutes, newest-first.
func (s *Store) QuerySubstitutes(ctx context.Context, c string) ([]registry.Substitute, error) {
	return s.reg.QuerySubstitutes(ctx, nil, c)
}

// IsStateful reports whether c has ever had a stateful deriver registered
// against it.
func (s *Store) IsStateful(ctx context.Context, c string) (bool, error) {
	return s.reg.IsStateful(ctx, nil, c)
}

// SharedWithRec returns every path that transitively resolves to target
// through the sharing relation.
func (s *Store) SharedWithRec(ctx context.Context, target string) ([]string, error) {
	return s.share.SharedWithRec(ctx, nil, target)
}

// RegisterSubstitute adds a substitute for c.
func (s *Store) RegisterSubstitute(ctx context.Context, c string, sub registry.Substitute) error {
	return s.withTxn(ctx, func(t *kv.Txn) error {
		return s.reg.RegisterSubstitute(ctx, t, c, sub)
	})
}

// ClearSubstitutes removes every substitute registered for c.
func (s *Store) ClearSubstitutes(ctx context.Context, c string) error {
	return s.withTxn(ctx, func(t *kv.Txn) error {
		return s.reg.ClearSubstitutes(ctx, t, c)
	})
}
