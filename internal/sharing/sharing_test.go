package sharing

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/corestore/corestore/internal/kv"
)

func newTestResolver(t *testing.T) *Resolver {
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
	return New(e)
}

func TestToNonSharedFollowsChain(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(t)
	r.SetSharedState(ctx, nil, "A", "B")
	r.SetSharedState(ctx, nil, "B", "C")

	got, err := r.ToNonShared(ctx, nil, "A")
	if err != nil {
		t.Fatal(err)
	}
	if got != "C" {
		t.Fatalf("ToNonShared(A) = %q, want C", got)
	}
}

func TestToNonSharedIdempotent(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(t)
	r.SetSharedState(ctx, nil, "A", "B")
	r.SetSharedState(ctx, nil, "B", "C")

	x, err := r.ToNonShared(ctx, nil, "A")
	if err != nil {
		t.Fatal(err)
	}
	y, err := r.ToNonShared(ctx, nil, x)
	if err != nil {
		t.Fatal(err)
	}
	if x != y {
		t.Fatalf("ToNonShared not idempotent: %q != %q", x, y)
	}
}

func TestToNonSharedCycle(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(t)
	r.SetSharedState(ctx, nil, "A", "B")
	r.SetSharedState(ctx, nil, "B", "A")

	_, err := r.ToNonShared(ctx, nil, "A")
	if err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestSharedWithRec(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(t)
	r.SetSharedState(ctx, nil, "A", "B")
	r.SetSharedState(ctx, nil, "B", "C")

	rec, err := r.SharedWithRec(ctx, nil, "C")
	if err != nil {
		t.Fatal(err)
	}
	set := map[string]bool{}
	for _, s := range rec {
		set[s] = true
	}
	if !set["A"] || !set["B"] {
		t.Fatalf("SharedWithRec(C) = %v, want to include A and B", rec)
	}
}

func TestSetSharedStateReplacesPreviousBinding(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(t)
	r.SetSharedState(ctx, nil, "A", "B")
	r.SetSharedState(ctx, nil, "A", "C")

	got, err := r.ToNonShared(ctx, nil, "A")
	if err != nil {
		t.Fatal(err)
	}
	if got != "C" {
		t.Fatalf("ToNonShared(A) = %q, want C after rebind", got)
	}
}
