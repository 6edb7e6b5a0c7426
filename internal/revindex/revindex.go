// Package revindex implements the revision index: for each state path it
// maps a revision ordinal to the timestamp under which that revision's
// references and snapshot closure are physically stored, and keeps the
// optional free-form comment attached to each revision.
package revindex

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/corestore/corestore/internal/clock"
	"github.com/corestore/corestore/internal/corestoreerr"
	"github.com/corestore/corestore/internal/kv"
)

// RevisionLatestOrNone is the r argument meaning "the latest revision, or
// none yet committed" — the translation of the historical signed -1
// sentinel into this package's unsigned revision-ordinal API.
const RevisionLatestOrNone = 0

const (
	tableRevisions        = "revisions"
	tableRevisionComments = "revision-comments"
	tableSnapshots        = "snapshots"
	tableStateCounters    = "state-counters"
)

// Tables lists every table this package owns, for callers that bootstrap
// the engine's schema at open time.
var Tables = []string{tableRevisions, tableRevisionComments, tableSnapshots, tableStateCounters}

// Index wires the revision bookkeeping tables to a key-value engine and a
// timestamp allocator.
type Index struct {
	kv    *kv.Engine
	clock *clock.Clock
}

// New constructs a revision index over the given engine and clock.
func New(e *kv.Engine, c *clock.Clock) *Index {
	return &Index{kv: e, clock: c}
}

// Entry is one (revision, timestamp) pair from a state path's history.
type Entry struct {
	Revision  int64
	Timestamp int64
	Comment   string
}

func encodeEntry(revision, timestamp int64) string {
	return fmt.Sprintf("%d:%d", revision, timestamp)
}

func decodeEntry(s string) (revision, timestamp int64, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("revindex: malformed entry %q", s)
	}
	revision, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("revindex: malformed revision in %q: %w", s, err)
	}
	timestamp, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("revindex: malformed timestamp in %q: %w", s, err)
	}
	return revision, timestamp, nil
}

// List returns a state path's full revision history in commit order, with
// comments attached.
func (idx *Index) List(ctx context.Context, t *kv.Txn, s string) ([]Entry, error) {
	raw, err := idx.kv.GetList(ctx, t, tableRevisions, s)
	if err != nil {
		return nil, fmt.Errorf("revindex: list %s: %w", s, err)
	}
	entries := make([]Entry, 0, len(raw))
	for _, r := range raw {
		rev, ts, err := decodeEntry(r)
		if err != nil {
			return nil, err
		}
		comment, _, err := idx.kv.Get(ctx, t, tableRevisionComments, kv.MakeCompositeKey(s, rev))
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Revision: rev, Timestamp: ts, Comment: comment})
	}
	return entries, nil
}

// AppendRevision allocates the next revision number and a fresh timestamp
// for s, writes the snapshot closure at that timestamp, records the
// optional comment, and appends (revision, timestamp) to the history.
func (idx *Index) AppendRevision(ctx context.Context, t *kv.Txn, s string, snapshot map[string]int64, comment string) (revision, timestamp int64, err error) {
	timestamp = idx.clock.Next()
	revision, err = idx.AppendRevisionAt(ctx, t, s, timestamp, snapshot, comment)
	if err != nil {
		return 0, 0, err
	}
	return revision, timestamp, nil
}

// AppendRevisionAt is AppendRevision with the timestamp supplied by the
// caller rather than allocated from the clock. Used when a single commit
// must share one timestamp between the revision history and a reference
// write that isn't owned by this package (see refstore.SetStateReferencesAt).
func (idx *Index) AppendRevisionAt(ctx context.Context, t *kv.Txn, s string, timestamp int64, snapshot map[string]int64, comment string) (revision int64, err error) {
	entries, err := idx.List(ctx, t, s)
	if err != nil {
		return 0, err
	}
	revision = int64(1)
	if len(entries) > 0 {
		revision = entries[len(entries)-1].Revision + 1
	}

	raw, err := idx.kv.GetList(ctx, t, tableRevisions, s)
	if err != nil {
		return 0, err
	}
	raw = append(raw, encodeEntry(revision, timestamp))
	if err := idx.kv.PutList(ctx, t, tableRevisions, s, raw); err != nil {
		return 0, err
	}

	if err := idx.putSnapshot(ctx, t, s, timestamp, snapshot); err != nil {
		return 0, err
	}

	if comment != "" {
		if err := idx.kv.Put(ctx, t, tableRevisionComments, kv.MakeCompositeKey(s, revision), comment); err != nil {
			return 0, err
		}
	}
	return revision, nil
}

// Resolve turns a revision ordinal into its physical timestamp. r == 0
// means "latest". Resolution fails with ErrUnknownRevision if r is not
// present in s's history.
func (idx *Index) Resolve(ctx context.Context, t *kv.Txn, s string, r int64) (int64, error) {
	entries, err := idx.List(ctx, t, s)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("%w: %s has no revisions", corestoreerr.ErrUnknownRevision, s)
	}
	if r == 0 {
		return entries[len(entries)-1].Timestamp, nil
	}
	// entries is already sorted by strictly increasing revision.
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Revision >= r })
	if i < len(entries) && entries[i].Revision == r {
		return entries[i].Timestamp, nil
	}
	return 0, fmt.Errorf("%w: revision %d of %s", corestoreerr.ErrUnknownRevision, r, s)
}

// LatestTimestampAtOrBefore returns the timestamp of the most recent
// revision whose timestamp is <= bound, or 0 with ok=false if none exists.
// The reference store's referrer queries do not call it: they fold their
// state-keyed tables by timestamp themselves.
func (idx *Index) LatestTimestampAtOrBefore(ctx context.Context, t *kv.Txn, s string, bound int64) (int64, bool, error) {
	entries, err := idx.List(ctx, t, s)
	if err != nil {
		return 0, false, err
	}
	best := int64(0)
	found := false
	for _, e := range entries {
		if e.Timestamp <= bound && e.Timestamp > best {
			best = e.Timestamp
			found = true
		}
	}
	return best, found, nil
}

func (idx *Index) putSnapshot(ctx context.Context, t *kv.Txn, s string, timestamp int64, snapshot map[string]int64) error {
	subpaths := make([]string, 0, len(snapshot))
	for sp := range snapshot {
		subpaths = append(subpaths, sp)
	}
	sort.Strings(subpaths)
	encoded := make([]string, 0, len(subpaths))
	for _, sp := range subpaths {
		encoded = append(encoded, fmt.Sprintf("%s=%d", sp, snapshot[sp]))
	}
	return idx.kv.PutList(ctx, t, tableSnapshots, kv.MakeCompositeKey(s, timestamp), encoded)
}

// Snapshot returns the subpath->timestamp map committed atomically with s
// at the given physical timestamp.
func (idx *Index) Snapshot(ctx context.Context, t *kv.Txn, s string, timestamp int64) (map[string]int64, error) {
	raw, err := idx.kv.GetList(ctx, t, tableSnapshots, kv.MakeCompositeKey(s, timestamp))
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for _, entry := range raw {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("revindex: malformed snapshot entry %q", entry)
		}
		v, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("revindex: malformed snapshot timestamp %q: %w", entry, err)
		}
		out[parts[0]] = v
	}
	return out, nil
}

// HighWaterMark scans every recorded revision and returns the largest
// timestamp seen, or 0 if the index is empty. Callers reopening a store
// seed their clock from this value (via clock.NewAt) so a freshly started
// process never reissues a timestamp an earlier run already committed.
func HighWaterMark(ctx context.Context, t *kv.Txn, e *kv.Engine) (int64, error) {
	entries, err := e.EnumerateEntries(ctx, t, tableRevisions)
	if err != nil {
		return 0, fmt.Errorf("revindex: high water mark: %w", err)
	}
	var max int64
	for _, raw := range entries {
		for _, r := range raw {
			_, ts, err := decodeEntry(r)
			if err != nil {
				return 0, err
			}
			if ts > max {
				max = ts
			}
		}
	}
	return max, nil
}

// GetCounter returns a subpath's current commit-interval counter without
// advancing it, or 0 if it has never been touched.
func (idx *Index) GetCounter(ctx context.Context, t *kv.Txn, subpath string) (int64, error) {
	v, ok, err := idx.kv.Get(ctx, t, tableStateCounters, subpath)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("revindex: malformed counter for %q: %w", subpath, err)
	}
	return n, nil
}

// SetCounter sets a subpath's commit-interval counter directly, used to
// configure the throttling threshold or reset it after a batch of changes
// has been committed as a revision.
func (idx *Index) SetCounter(ctx context.Context, t *kv.Txn, subpath string, n int64) error {
	return idx.kv.Put(ctx, t, tableStateCounters, subpath, strconv.FormatInt(n, 10))
}

// CommitInterval returns and then advances the commit-interval counter for
// a subpath within a state path, used to throttle how often revisions are
// created for high-churn subpaths.
func (idx *Index) CommitInterval(ctx context.Context, t *kv.Txn, subpath string) (int64, error) {
	v, ok, err := idx.kv.Get(ctx, t, tableStateCounters, subpath)
	if err != nil {
		return 0, err
	}
	n := int64(0)
	if ok {
		n, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("revindex: malformed counter for %q: %w", subpath, err)
		}
	}
	n++
	if err := idx.kv.Put(ctx, t, tableStateCounters, subpath, strconv.FormatInt(n, 10)); err != nil {
		return 0, err
	}
	return n, nil
}
