// Package sharing implements state-path aliasing: a state path may be
// registered as a "shared" alias of another, and queries must resolve
// through chains of aliases down to a non-aliased tail.
package sharing

import (
	"context"
	"fmt"

	"github.com/corestore/corestore/internal/corestoreerr"
	"github.com/corestore/corestore/internal/kv"
)

const tableSharedState = "shared-state"

// Tables lists the tables this package owns.
var Tables = []string{tableSharedState}

// maxChainLength bounds alias resolution so a malformed or adversarial
// chain cannot hang the caller; a legitimate chain is expected to be a
// handful of hops at most.
const maxChainLength = 1000

// Resolver resolves state-path sharing chains against a key-value engine.
type Resolver struct {
	kv *kv.Engine
}

// New constructs a sharing resolver over the given engine.
func New(e *kv.Engine) *Resolver {
	return &Resolver{kv: e}
}

// SetSharedState makes source an alias for target, replacing any previous
// binding for source.
func (r *Resolver) SetSharedState(ctx context.Context, t *kv.Txn, source, target string) error {
	return r.kv.Put(ctx, t, tableSharedState, source, target)
}

// ToNonShared follows shared-state[s] -> shared-state[s'] -> ... until it
// reaches a state path with no binding, and returns that tail. A chain
// longer than maxChainLength fails with ErrSharingChainTooLong; a chain
// that revisits a path it has already seen fails with ErrSharingCycle.
func (r *Resolver) ToNonShared(ctx context.Context, t *kv.Txn, s string) (string, error) {
	visited := make(map[string]bool)
	current := s
	for i := 0; i < maxChainLength; i++ {
		if visited[current] {
			return "", fmt.Errorf("%w: %s", corestoreerr.ErrSharingCycle, s)
		}
		visited[current] = true

		target, ok, err := r.kv.Get(ctx, t, tableSharedState, current)
		if err != nil {
			return "", err
		}
		if !ok {
			return current, nil
		}
		current = target
	}
	return "", fmt.Errorf("%w: %s exceeded %d hops", corestoreerr.ErrSharingChainTooLong, s, maxChainLength)
}

// DirectlySharedWith returns every state path whose shared-state binding
// points directly at s (a linear scan, since shared-state has no reverse
// index).
func (r *Resolver) DirectlySharedWith(ctx context.Context, t *kv.Txn, s string) ([]string, error) {
	entries, err := r.kv.EnumerateEntries(ctx, t, tableSharedState)
	if err != nil {
		return nil, err
	}
	var out []string
	for source, targets := range entries {
		for _, target := range targets {
			if target == s {
				out = append(out, source)
				break
			}
		}
	}
	return out, nil
}

// SharedWithRec returns the transitive closure of the reverse sharing
// relation rooted at s, excluding s itself.
func (r *Resolver) SharedWithRec(ctx context.Context, t *kv.Txn, s string) ([]string, error) {
	visited := make(map[string]bool)
	var frontier []string
	direct, err := r.DirectlySharedWith(ctx, t, s)
	if err != nil {
		return nil, err
	}
	frontier = direct

	var out []string
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		if visited[next] || next == s {
			continue
		}
		visited[next] = true
		out = append(out, next)

		more, err := r.DirectlySharedWith(ctx, t, next)
		if err != nil {
			return nil, err
		}
		frontier = append(frontier, more...)
	}
	return out, nil
}
