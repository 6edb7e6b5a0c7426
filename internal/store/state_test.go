package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestCommitStatePathThenQueryStateRevisions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	statePath := filepath.Join(s.stateRoot, "firefox-profile")

	snapshot := map[string]int64{}
	revision, timestamp, err := s.CommitStatePath(ctx, statePath, nil, nil, snapshot, "first commit")
	if err != nil {
		t.Fatal(err)
	}
	if revision != 1 {
		t.Fatalf("got revision %d, want 1", revision)
	}

	gotSnapshot, gotTS, err := s.QueryStateRevisions(ctx, statePath, revision)
	if err != nil {
		t.Fatal(err)
	}
	if gotTS != timestamp {
		t.Fatalf("got timestamp %d, want %d", gotTS, timestamp)
	}
	if len(gotSnapshot) != 0 {
		t.Fatalf("got snapshot %v, want empty", gotSnapshot)
	}
}

func TestQueryAvailableStateRevisionsListsInOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	statePath := filepath.Join(s.stateRoot, "firefox-profile")

	for i := 0; i < 3; i++ {
		if _, _, err := s.CommitStatePath(ctx, statePath, nil, nil, nil, "commit"); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.QueryAvailableStateRevisions(ctx, statePath)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i, e := range entries {
		if e.Revision != int64(i+1) {
			t.Fatalf("entry %d has revision %d, want %d", i, e.Revision, i+1)
		}
	}
}

func TestSetSharedStateOrientation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	existing := filepath.Join(s.stateRoot, "firefox-profile-shared")
	alias := filepath.Join(s.stateRoot, "firefox-profile-user2")

	if _, _, err := s.CommitStatePath(ctx, existing, nil, nil, nil, "seed"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSharedState(ctx, existing, alias); err != nil {
		t.Fatal(err)
	}

	resolved, err := s.share.ToNonShared(ctx, nil, alias)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != existing {
		t.Fatalf("got %s, want alias to resolve to %s", resolved, existing)
	}
}

func TestToNonSharedPathSetDedups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	existing := filepath.Join(s.stateRoot, "a")
	alias1 := filepath.Join(s.stateRoot, "b")
	alias2 := filepath.Join(s.stateRoot, "c")

	if err := s.SetSharedState(ctx, existing, alias1); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSharedState(ctx, existing, alias2); err != nil {
		t.Fatal(err)
	}

	out, err := s.ToNonSharedPathSet(ctx, []string{existing, alias1, alias2})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0] != existing {
		t.Fatalf("got %v, want [%s]", out, existing)
	}
}

func TestSetAndGetStatePathsInterval(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := filepath.Join(s.stateRoot, "a")
	b := filepath.Join(s.stateRoot, "b")

	if err := s.SetStatePathsInterval(ctx, []string{a, b}, []int64{5, 10}, false); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetStatePathsInterval(ctx, []string{a, b})
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 5 || got[1] != 10 {
		t.Fatalf("got %v, want [5 10]", got)
	}

	if err := s.SetStatePathsInterval(ctx, []string{a, b}, nil, true); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetStatePathsInterval(ctx, []string{a, b})
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 0 || got[1] != 0 {
		t.Fatalf("got %v, want [0 0] after allZero reset", got)
	}
}

func TestSetStatePathsIntervalRejectsMismatchedLengths(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := filepath.Join(s.stateRoot, "a")

	if err := s.SetStatePathsInterval(ctx, []string{a}, []int64{1, 2}, false); err == nil {
		t.Fatal("expected a length-mismatch error")
	}
}

func TestRevertToRevisionAddsForwardRevision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	statePath := filepath.Join(s.stateRoot, "firefox-profile")
	component := s.writeComponent(t, "a", "hello")

	rev1, _, err := s.CommitStatePath(ctx, statePath, []string{component}, nil, nil, "rev1")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.CommitStatePath(ctx, statePath, nil, nil, nil, "rev2 drops the ref"); err != nil {
		t.Fatal(err)
	}

	if err := s.RevertToRevision(ctx, statePath, rev1, false); err != nil {
		t.Fatal(err)
	}

	entries, err := s.QueryAvailableStateRevisions(ctx, statePath)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d revisions, want 3 (revert adds, never rewrites)", len(entries))
	}

	refs, err := s.QueryStateReferences(ctx, statePath, Component, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0] != component {
		t.Fatalf("got refs %v after revert, want [%s]", refs, component)
	}
}

func TestScanAndUpdateAllReferencesDiscoversEmbeddedPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	component := s.writeComponent(t, "dep", "dependency contents")

	statePath := filepath.Join(s.stateRoot, "firefox-profile")
	if err := os.MkdirAll(statePath, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(statePath, "config"), []byte("uses "+component), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.CommitStatePath(ctx, statePath, nil, nil, nil, "seed"); err != nil {
		t.Fatal(err)
	}

	if err := s.ScanAndUpdateAllReferences(ctx, statePath, false); err != nil {
		t.Fatal(err)
	}

	refs, err := s.QueryStateReferences(ctx, statePath, Component, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0] != component {
		t.Fatalf("got %v, want scan to discover [%s]", refs, component)
	}
}
