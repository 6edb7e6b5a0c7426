// Package refstore implements the four reference-edge relations
// (component->component, component->state, state->component, state->state)
// and their forward/inverse queries.
//
// Component edges are immutable and live directly under the component
// path's key. State edges change as a state path's contents mutate, so they
// are keyed by a (state-path, timestamp) composite and read through the
// revision index. This is why state-state and state-component referrer
// queries fold by "latest commit at or before a bound" rather than doing a
// plain key lookup: reproducing an old revision's reference graph requires
// asking what the graph looked like as of that revision's timestamp, not
// what it looks like today.
//
// The state-state referrer query historically compared a revision number to
// a timestamp directly — a bug flagged as an open question in the source
// this package reimplements. Here the caller must resolve any revision to a
// concrete timestamp bound (via the revision index) before calling the
// referrer queries; this package only ever compares timestamp to timestamp.
package refstore

import (
	"context"
	"fmt"
	"math"

	"github.com/corestore/corestore/internal/clock"
	"github.com/corestore/corestore/internal/kv"
	"github.com/corestore/corestore/internal/revindex"
	"github.com/corestore/corestore/internal/sharing"
)

const (
	tableRefCC   = "ref-cc"
	tableRefCS   = "ref-cs"
	tableRefSC   = "ref-sc"
	tableRefSS   = "ref-ss"
	tableSolidCS = "solid-cs"
)

// Tables lists the tables this package owns.
var Tables = []string{tableRefCC, tableRefCS, tableRefSC, tableRefSS, tableSolidCS}

// Exported table names, for the verifier's direct below-the-API table scans.
const (
	TableRefCC   = tableRefCC
	TableRefCS   = tableRefCS
	TableRefSC   = tableRefSC
	TableRefSS   = tableRefSS
	TableSolidCS = tableSolidCS
)

// Kind selects which edge color a query reads or writes: the references of
// type Component point at component paths, of type State point at state
// paths.
type Kind int

const (
	Component Kind = iota
	State
)

// Store wires the reference relations to the key-value engine, the sharing
// resolver (for state-path alias resolution) and the revision index (for
// resolving a revision ordinal to its physical timestamp).
type Store struct {
	kv    *kv.Engine
	share *sharing.Resolver
	rev   *revindex.Index
	clock *clock.Clock
}

// New constructs a reference store.
func New(e *kv.Engine, share *sharing.Resolver, rev *revindex.Index, c *clock.Clock) *Store {
	return &Store{kv: e, share: share, rev: rev, clock: c}
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SetComponentReferences overwrites the outgoing component and state
// references of a component path. It is a no-op (no write) if the new
// lists are identical to what is already stored, reducing write
// amplification on repeated registration of the same path.
func (s *Store) SetComponentReferences(ctx context.Context, t *kv.Txn, c string, refsC, refsS []string) error {
	curC, err := s.kv.GetList(ctx, t, tableRefCC, c)
	if err != nil {
		return err
	}
	curS, err := s.kv.GetList(ctx, t, tableRefCS, c)
	if err != nil {
		return err
	}
	if stringSliceEqual(curC, refsC) && stringSliceEqual(curS, refsS) {
		return nil
	}
	if err := s.kv.PutList(ctx, t, tableRefCC, c, refsC); err != nil {
		return err
	}
	return s.kv.PutList(ctx, t, tableRefCS, c, refsS)
}

// SetStateReferences resolves statePath to its non-shared tail and writes
// its outgoing references at the timestamp indicated by r. r == 0 allocates
// a fresh commit timestamp; any other value is resolved against the
// resolved path's own revision history.
func (s *Store) SetStateReferences(ctx context.Context, t *kv.Txn, statePath string, refsC, refsS []string, r int64) (timestamp int64, err error) {
	resolved, err := s.share.ToNonShared(ctx, t, statePath)
	if err != nil {
		return 0, err
	}
	if r == 0 {
		timestamp = s.clock.Next()
	} else {
		timestamp, err = s.rev.Resolve(ctx, t, resolved, r)
		if err != nil {
			return 0, err
		}
	}
	key := kv.MakeCompositeKey(resolved, timestamp)
	if err := s.kv.PutList(ctx, t, tableRefSC, key, refsC); err != nil {
		return 0, err
	}
	if err := s.kv.PutList(ctx, t, tableRefSS, key, refsS); err != nil {
		return 0, err
	}
	return timestamp, nil
}

// SetSolidStateReferences records that components are always considered to
// reference statePath, regardless of whether a content scan of the
// component would discover it. This covers components whose on-disk
// content never embeds the state path's hash — e.g. a component that only
// reaches its state directory through a symlink created outside the store
// (a browser whose profile directory is a dotfile symlink into state,
// rather than a path baked into a binary). QueryComponentReferences folds
// these entries into the component->state relation on every read.
func (s *Store) SetSolidStateReferences(ctx context.Context, t *kv.Txn, statePath string, components []string) error {
	return s.kv.PutList(ctx, t, tableSolidCS, statePath, components)
}

// QuerySolidStateReferences returns the components recorded as always
// referencing statePath.
func (s *Store) QuerySolidStateReferences(ctx context.Context, t *kv.Txn, statePath string) ([]string, error) {
	return s.kv.GetList(ctx, t, tableSolidCS, statePath)
}

// ClearSolidStateReferences removes statePath's solid-reference entry.
func (s *Store) ClearSolidStateReferences(ctx context.Context, t *kv.Txn, statePath string) error {
	return s.kv.PutList(ctx, t, tableSolidCS, statePath, nil)
}

// solidStateReferencesOf returns every state path that solid-cs records as
// always-referenced by component c.
func (s *Store) solidStateReferencesOf(ctx context.Context, t *kv.Txn, c string) ([]string, error) {
	entries, err := s.kv.EnumerateEntries(ctx, t, tableSolidCS)
	if err != nil {
		return nil, err
	}
	var out []string
	for statePath, components := range entries {
		if containsString(components, c) {
			out = append(out, statePath)
		}
	}
	return out, nil
}

// SetStateReferencesAt is SetStateReferences with the timestamp supplied by
// the caller rather than allocated or resolved from a revision ordinal. Used
// to commit a new revision's references and its revision-history entry
// under one shared timestamp, since the two tables are owned by different
// packages and neither can allocate a timestamp on the other's behalf.
func (s *Store) SetStateReferencesAt(ctx context.Context, t *kv.Txn, statePath string, refsC, refsS []string, timestamp int64) (resolved string, err error) {
	resolved, err = s.share.ToNonShared(ctx, t, statePath)
	if err != nil {
		return "", err
	}
	key := kv.MakeCompositeKey(resolved, timestamp)
	if err := s.kv.PutList(ctx, t, tableRefSC, key, refsC); err != nil {
		return "", err
	}
	if err := s.kv.PutList(ctx, t, tableRefSS, key, refsS); err != nil {
		return "", err
	}
	return resolved, nil
}

// QueryComponentReferences reads the references of the given kind directly
// from a component path's entry. For Kind State, any solid-cs entries
// naming c are unioned in, matching the reimplemented relation's guarantee
// that those references are always present regardless of scan result.
// A path with no stored list yields an empty, non-nil list.
func (s *Store) QueryComponentReferences(ctx context.Context, t *kv.Txn, c string, kind Kind) ([]string, error) {
	table := tableRefCC
	if kind == State {
		table = tableRefCS
	}
	refs, err := s.kv.GetList(ctx, t, table, c)
	if err != nil {
		return nil, err
	}
	if refs == nil {
		refs = []string{}
	}
	if kind != State {
		return refs, nil
	}
	solid, err := s.solidStateReferencesOf(ctx, t, c)
	if err != nil {
		return nil, err
	}
	for _, sp := range solid {
		if !containsString(refs, sp) {
			refs = append(refs, sp)
		}
	}
	return refs, nil
}

// QueryStateReferences resolves statePath's sharing chain and revision r to
// a timestamp, then reads the reference list recorded at that timestamp.
// r == 0 means "latest".
func (s *Store) QueryStateReferences(ctx context.Context, t *kv.Txn, statePath string, kind Kind, r int64) ([]string, error) {
	resolved, err := s.share.ToNonShared(ctx, t, statePath)
	if err != nil {
		return nil, err
	}
	timestamp, err := s.rev.Resolve(ctx, t, resolved, r)
	if err != nil {
		return nil, err
	}
	return s.QueryStateReferencesAt(ctx, t, resolved, kind, timestamp)
}

// QueryStateReferencesAt reads the reference list recorded for a state path
// at an exact, already-resolved timestamp, bypassing revision lookup. This
// is the "or t?" form of queryReferences.
func (s *Store) QueryStateReferencesAt(ctx context.Context, t *kv.Txn, statePath string, kind Kind, timestamp int64) ([]string, error) {
	table := tableRefSC
	if kind == State {
		table = tableRefSS
	}
	return s.kv.GetList(ctx, t, table, kv.MakeCompositeKey(statePath, timestamp))
}

// foldStateKeyed groups a state-keyed table's composite keys by their path
// component and returns, for each path, the reference list recorded at the
// latest timestamp <= bound (bound == nil means unbounded / "now").
func (s *Store) foldStateKeyed(ctx context.Context, t *kv.Txn, table string, bound *int64) (map[string][]string, error) {
	entries, err := s.kv.EnumerateEntries(ctx, t, table)
	if err != nil {
		return nil, err
	}
	limit := int64(math.MaxInt64)
	if bound != nil {
		limit = *bound
	}

	bestTS := make(map[string]int64)
	bestVals := make(map[string][]string)
	for key, vals := range entries {
		path, ts, err := kv.SplitCompositeKey(key)
		if err != nil {
			return nil, fmt.Errorf("refstore: fold %s: %w", table, err)
		}
		if ts > limit {
			continue
		}
		if cur, ok := bestTS[path]; !ok || ts > cur {
			bestTS[path] = ts
			bestVals[path] = vals
		}
	}
	return bestVals, nil
}

func containsString(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

// QueryComponentReferrers returns every path with an outgoing reference to
// the component path target: component-path referrers come from a linear
// scan of ref-cc (there is no referrers index, by design — see the design
// notes on write amplification vs. query cost); state-path referrers come
// from folding ref-sc by path at the latest commit at or before bound (nil
// bound means "now").
func (s *Store) QueryComponentReferrers(ctx context.Context, t *kv.Txn, target string, bound *int64) ([]string, error) {
	var referrers []string

	ccEntries, err := s.kv.EnumerateEntries(ctx, t, tableRefCC)
	if err != nil {
		return nil, err
	}
	for key, vals := range ccEntries {
		if containsString(vals, target) {
			referrers = append(referrers, key)
		}
	}

	folded, err := s.foldStateKeyed(ctx, t, tableRefSC, bound)
	if err != nil {
		return nil, err
	}
	for path, vals := range folded {
		if containsString(vals, target) {
			referrers = append(referrers, path)
		}
	}
	return referrers, nil
}

// QueryStateReferrers returns every path with an outgoing reference to the
// state path target, symmetric to QueryComponentReferrers but scanning
// ref-cs (component-keyed) and ref-ss (state-keyed). Components recorded in
// solid-cs as always-referencing target are included even when they are
// absent from ref-cs itself.
func (s *Store) QueryStateReferrers(ctx context.Context, t *kv.Txn, target string, bound *int64) ([]string, error) {
	var referrers []string

	csEntries, err := s.kv.EnumerateEntries(ctx, t, tableRefCS)
	if err != nil {
		return nil, err
	}
	for key, vals := range csEntries {
		if containsString(vals, target) {
			referrers = append(referrers, key)
		}
	}

	solidReferrers, err := s.kv.GetList(ctx, t, tableSolidCS, target)
	if err != nil {
		return nil, err
	}
	for _, c := range solidReferrers {
		if !containsString(referrers, c) {
			referrers = append(referrers, c)
		}
	}

	folded, err := s.foldStateKeyed(ctx, t, tableRefSS, bound)
	if err != nil {
		return nil, err
	}
	for path, vals := range folded {
		if containsString(vals, target) {
			referrers = append(referrers, path)
		}
	}
	return referrers, nil
}
