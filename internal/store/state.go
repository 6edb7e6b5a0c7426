package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/corestore/corestore/internal/closure"
	"github.com/corestore/corestore/internal/corestoreerr"
	"github.com/corestore/corestore/internal/kv"
	"github.com/corestore/corestore/internal/revindex"
)

// SetStateRevisions records a revision closure for rootStatePath: revisions
// maps a dependency path to the revision of it that rootStatePath's new
// revision is pinned against. Each dependency revision is resolved to its
// physical timestamp before being written, since a revision number is only
// meaningful paired with the path it belongs to.
func (s *Store) SetStateRevisions(ctx context.Context, rootStatePath string, revisions map[string]int64, comment string) (revision, timestamp int64, err error) {
	err = s.withTxn(ctx, func(t *kv.Txn) error {
		resolvedRoot, err := s.share.ToNonShared(ctx, t, rootStatePath)
		if err != nil {
			return err
		}

		snapshot := make(map[string]int64, len(revisions))
		for path, r := range revisions {
			resolved, err := s.share.ToNonShared(ctx, t, path)
			if err != nil {
				return err
			}
			ts, err := s.rev.Resolve(ctx, t, resolved, r)
			if err != nil {
				return err
			}
			snapshot[resolved] = ts
		}

		timestamp = s.clock.Next()
		revision, err = s.rev.AppendRevisionAt(ctx, t, resolvedRoot, timestamp, snapshot, comment)
		return err
	})
	return revision, timestamp, err
}

// QueryStateRevisions returns the snapshot (dependency path -> physical
// timestamp) recorded for statePath at revision r (0 meaning latest),
// along with that revision's own timestamp.
func (s *Store) QueryStateRevisions(ctx context.Context, statePath string, r int64) (snapshot map[string]int64, timestamp int64, err error) {
	resolved, err := s.share.ToNonShared(ctx, nil, statePath)
	if err != nil {
		return nil, 0, err
	}
	timestamp, err = s.rev.Resolve(ctx, nil, resolved, r)
	if err != nil {
		return nil, 0, err
	}
	snapshot, err = s.rev.Snapshot(ctx, nil, resolved, timestamp)
	if err != nil {
		return nil, 0, err
	}
	return snapshot, timestamp, nil
}

// QueryAvailableStateRevisions returns every committed revision of
// statePath, in commit order, with comments attached.
func (s *Store) QueryAvailableStateRevisions(ctx context.Context, statePath string) ([]revindex.Entry, error) {
	resolved, err := s.share.ToNonShared(ctx, nil, statePath)
	if err != nil {
		return nil, err
	}
	return s.rev.List(ctx, nil, resolved)
}

// CommitStatePath commits a new revision of statePath: its outgoing
// references and its revision-history entry are written under one shared
// timestamp, so a reader resolving the new revision never observes one
// table updated without the other.
func (s *Store) CommitStatePath(ctx context.Context, statePath string, refsC, refsS []string, snapshot map[string]int64, comment string) (revision, timestamp int64, err error) {
	err = s.withTxn(ctx, func(t *kv.Txn) error {
		resolved, err := s.share.ToNonShared(ctx, t, statePath)
		if err != nil {
			return err
		}
		timestamp = s.clock.Next()
		if _, err := s.refs.SetStateReferencesAt(ctx, t, resolved, refsC, refsS, timestamp); err != nil {
			return err
		}
		revision, err = s.rev.AppendRevisionAt(ctx, t, resolved, timestamp, snapshot, comment)
		return err
	})
	return revision, timestamp, err
}

// ScanAndUpdateAllReferences rescans statePath's on-disk tree for
// embedded references to other store/state paths and rewrites its current
// revision's reference lists to match, without minting a new revision.
// When recursive is set, every path in statePath's closure is rescanned
// the same way.
func (s *Store) ScanAndUpdateAllReferences(ctx context.Context, statePath string, recursive bool) error {
	return s.withTxn(ctx, func(t *kv.Txn) error {
		if !recursive {
			return s.scanAndUpdateOne(ctx, t, statePath)
		}
		paths, err := s.closureW.Compute(ctx, t, []string{statePath}, closure.Options{WithComponents: true, WithState: true})
		if err != nil {
			return err
		}
		for _, p := range paths {
			isState, err := s.reg.IsValidState(ctx, t, p)
			if err != nil {
				return err
			}
			if !isState {
				continue
			}
			if err := s.scanAndUpdateOne(ctx, t, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) scanAndUpdateOne(ctx context.Context, t *kv.Txn, statePath string) error {
	resolved, err := s.share.ToNonShared(ctx, t, statePath)
	if err != nil {
		return err
	}
	ts, err := s.rev.Resolve(ctx, t, resolved, revindex.RevisionLatestOrNone)
	if err != nil {
		return err
	}
	refsC, refsS, err := s.scanReferences(ctx, t, resolved)
	if err != nil {
		return err
	}
	_, err = s.refs.SetStateReferencesAt(ctx, t, resolved, refsC, refsS, ts)
	return err
}

// scanReferences walks path's tree, checking every regular file's content
// and every symlink's target for an embedded occurrence of a currently
// valid component or state path, the way a build product embeds the store
// path of a dependency it was linked or configured against.
func (s *Store) scanReferences(ctx context.Context, t *kv.Txn, path string) (refsC, refsS []string, err error) {
	candidatesC, err := s.reg.EnumerateValid(ctx, t)
	if err != nil {
		return nil, nil, err
	}
	candidatesS, err := s.reg.EnumerateValidState(ctx, t)
	if err != nil {
		return nil, nil, err
	}

	foundC := make(map[string]bool)
	foundS := make(map[string]bool)

	scan := func(haystack string) {
		for _, c := range candidatesC {
			if c != path && strings.Contains(haystack, c) {
				foundC[c] = true
			}
		}
		for _, sp := range candidatesS {
			if sp != path && strings.Contains(haystack, sp) {
				foundS[sp] = true
			}
		}
	}

	walkErr := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", corestoreerr.ErrInterrupted, err)
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("%w: stat %s: %v", corestoreerr.ErrSysError, p, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(p)
			if err != nil {
				return fmt.Errorf("%w: readlink %s: %v", corestoreerr.ErrSysError, p, err)
			}
			scan(target)
			return nil
		}
		if info.Mode().IsRegular() {
			data, err := os.ReadFile(p)
			if err != nil {
				return fmt.Errorf("%w: read %s: %v", corestoreerr.ErrSysError, p, err)
			}
			scan(string(data))
		}
		return nil
	})
	if walkErr != nil {
		return nil, nil, walkErr
	}

	for c := range foundC {
		refsC = append(refsC, c)
	}
	for sp := range foundS {
		refsS = append(refsS, sp)
	}
	return refsC, refsS, nil
}

// SetSharedState makes toNew an alias resolving to fromExisting, replacing
// any previous binding toNew had.
func (s *Store) SetSharedState(ctx context.Context, fromExisting, toNew string) error {
	return s.withTxn(ctx, func(t *kv.Txn) error {
		return s.share.SetSharedState(ctx, t, toNew, fromExisting)
	})
}

// ToNonSharedPathSet resolves every path in statePaths to its non-aliased
// tail, deduplicating the result.
func (s *Store) ToNonSharedPathSet(ctx context.Context, statePaths []string) ([]string, error) {
	seen := make(map[string]bool, len(statePaths))
	var out []string
	for _, sp := range statePaths {
		resolved, err := s.share.ToNonShared(ctx, nil, sp)
		if err != nil {
			return nil, err
		}
		if !seen[resolved] {
			seen[resolved] = true
			out = append(out, resolved)
		}
	}
	return out, nil
}

// RevertToRevision re-commits statePath's references and snapshot as they
// stood at revision, as a new forward revision — revisions are append-only
// (invariant 3), so reverting can never rewrite history, only add a new
// entry matching old content. When recursive is set, every dependency
// pinned in that revision's snapshot is reverted to its own pinned
// revision the same way.
func (s *Store) RevertToRevision(ctx context.Context, statePath string, revision int64, recursive bool) error {
	return s.withTxn(ctx, func(t *kv.Txn) error {
		return s.revertOne(ctx, t, statePath, revision, recursive, make(map[string]bool))
	})
}

func (s *Store) revertOne(ctx context.Context, t *kv.Txn, statePath string, revision int64, recursive bool, visited map[string]bool) error {
	resolved, err := s.share.ToNonShared(ctx, t, statePath)
	if err != nil {
		return err
	}
	if visited[resolved] {
		return nil
	}
	visited[resolved] = true

	ts, err := s.rev.Resolve(ctx, t, resolved, revision)
	if err != nil {
		return err
	}
	refsC, err := s.refs.QueryStateReferencesAt(ctx, t, resolved, Component, ts)
	if err != nil {
		return err
	}
	refsS, err := s.refs.QueryStateReferencesAt(ctx, t, resolved, State, ts)
	if err != nil {
		return err
	}
	snapshot, err := s.rev.Snapshot(ctx, t, resolved, ts)
	if err != nil {
		return err
	}

	newTS := s.clock.Next()
	if _, err := s.refs.SetStateReferencesAt(ctx, t, resolved, refsC, refsS, newTS); err != nil {
		return err
	}
	comment := fmt.Sprintf("reverted to revision %d", revision)
	if _, err := s.rev.AppendRevisionAt(ctx, t, resolved, newTS, snapshot, comment); err != nil {
		return err
	}

	if !recursive {
		return nil
	}
	for depPath, depTS := range snapshot {
		entries, err := s.rev.List(ctx, t, depPath)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Timestamp == depTS {
				if err := s.revertOne(ctx, t, depPath, e.Revision, recursive, visited); err != nil {
					return err
				}
				break
			}
		}
	}
	return nil
}

// SetStatePathsInterval sets the commit-interval counter for each path in
// statePaths. When allZero is set every counter is reset to 0 and
// intervals is ignored; otherwise statePaths and intervals must be the
// same length, paired by index.
func (s *Store) SetStatePathsInterval(ctx context.Context, statePaths []string, intervals []int64, allZero bool) error {
	if !allZero && len(statePaths) != len(intervals) {
		return fmt.Errorf("store: %d statepaths but %d intervals", len(statePaths), len(intervals))
	}
	return s.withTxn(ctx, func(t *kv.Txn) error {
		for i, sp := range statePaths {
			n := int64(0)
			if !allZero {
				n = intervals[i]
			}
			if err := s.rev.SetCounter(ctx, t, sp, n); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetStatePathsInterval returns the current commit-interval counter for
// each path in statePaths, in the same order.
func (s *Store) GetStatePathsInterval(ctx context.Context, statePaths []string) ([]int64, error) {
	out := make([]int64, len(statePaths))
	for i, sp := range statePaths {
		n, err := s.rev.GetCounter(ctx, nil, sp)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}
