package refstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/corestore/corestore/internal/clock"
	"github.com/corestore/corestore/internal/kv"
	"github.com/corestore/corestore/internal/revindex"
	"github.com/corestore/corestore/internal/sharing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	e, err := kv.Open(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	ctx := context.Background()
	for _, tbl := range Tables {
		e.OpenTable(ctx, tbl)
	}
	for _, tbl := range sharing.Tables {
		e.OpenTable(ctx, tbl)
	}
	for _, tbl := range revindex.Tables {
		e.OpenTable(ctx, tbl)
	}
	c := clock.New()
	share := sharing.New(e)
	rev := revindex.New(e, c)
	return New(e, share, rev, c)
}

func TestComponentReferencesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	err := s.SetComponentReferences(ctx, nil, "/store/a", []string{"/store/b"}, []string{"/state/x"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.QueryComponentReferences(ctx, nil, "/store/a", Component)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "/store/b" {
		t.Fatalf("got %v", got)
	}
}

func TestComponentReferrersProperty(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.SetComponentReferences(ctx, nil, "/store/a", []string{"/store/target"}, nil)
	s.SetComponentReferences(ctx, nil, "/store/b", []string{"/store/target"}, nil)
	s.SetComponentReferences(ctx, nil, "/store/c", []string{"/store/other"}, nil)

	referrers, err := s.QueryComponentReferrers(ctx, nil, "/store/target", nil)
	if err != nil {
		t.Fatal(err)
	}
	set := map[string]bool{}
	for _, r := range referrers {
		set[r] = true
	}
	if !set["/store/a"] || !set["/store/b"] || set["/store/c"] {
		t.Fatalf("referrers = %v", referrers)
	}
}

func TestStateReferencesPerRevision(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ts1, err := s.SetStateReferences(ctx, nil, "/state/s", nil, []string{"/state/sprime"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = s.rev.AppendRevision(ctx, nil, "/state/s", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	_ = ts1

	got, err := s.QueryStateReferencesAt(ctx, nil, "/state/s", State, ts1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "/state/sprime" {
		t.Fatalf("got %v", got)
	}
}

func TestSetStateReferencesResolvesSharing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.share.SetSharedState(ctx, nil, "/state/alias", "/state/real")

	ts, err := s.SetStateReferences(ctx, nil, "/state/alias", nil, []string{"/state/x"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.QueryStateReferencesAt(ctx, nil, "/state/real", State, ts)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "/state/x" {
		t.Fatalf("got %v, expected reference stored under resolved (non-aliased) path", got)
	}
}

func TestSolidStateReferencesFoldIntoComponentReferences(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.SetComponentReferences(ctx, nil, "/store/firefox", nil, []string{"/state/scanned"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSolidStateReferences(ctx, nil, "/state/firefox-profile", []string{"/store/firefox"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.QueryComponentReferences(ctx, nil, "/store/firefox", State)
	if err != nil {
		t.Fatal(err)
	}
	set := map[string]bool{}
	for _, r := range got {
		set[r] = true
	}
	if !set["/state/scanned"] || !set["/state/firefox-profile"] {
		t.Fatalf("got %v, expected scanned and solid references both present", got)
	}

	// Component kind must not be affected by solid-cs.
	gotC, err := s.QueryComponentReferences(ctx, nil, "/store/firefox", Component)
	if err != nil {
		t.Fatal(err)
	}
	if len(gotC) != 0 {
		t.Fatalf("got %v, solid-cs must not leak into component references", gotC)
	}
}

func TestSolidStateReferencesFoldIntoStateReferrers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.SetSolidStateReferences(ctx, nil, "/state/firefox-profile", []string{"/store/firefox"}); err != nil {
		t.Fatal(err)
	}

	referrers, err := s.QueryStateReferrers(ctx, nil, "/state/firefox-profile", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(referrers) != 1 || referrers[0] != "/store/firefox" {
		t.Fatalf("got %v", referrers)
	}
}

func TestClearSolidStateReferences(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.SetSolidStateReferences(ctx, nil, "/state/firefox-profile", []string{"/store/firefox"}); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearSolidStateReferences(ctx, nil, "/state/firefox-profile"); err != nil {
		t.Fatal(err)
	}
	got, err := s.QuerySolidStateReferences(ctx, nil, "/state/firefox-profile")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("got %v, expected cleared", got)
	}
}
