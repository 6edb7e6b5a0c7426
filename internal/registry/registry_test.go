package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/corestore/corestore/internal/clock"
	"github.com/corestore/corestore/internal/derivation"
	"github.com/corestore/corestore/internal/kv"
	"github.com/corestore/corestore/internal/refstore"
	"github.com/corestore/corestore/internal/revindex"
	"github.com/corestore/corestore/internal/sharing"
)

func writeDerivationFile(t *testing.T, dir, name, identifier, user string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	doc := map[string]any{
		"outputs": []map[string]string{
			{"name": "out", "path": "/store/out", "stateIdentifier": identifier},
		},
		"user": user,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestRegistry(t *testing.T) (*Registry, string) {
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
	for _, tbl := range refstore.Tables {
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
	refs := refstore.New(e, share, rev, c)

	return New(e, refs, derivation.JSONParser{}), dir
}

func TestRegisterValidAndQueryHash(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	err := reg.RegisterValid(ctx, nil, RegisterValidEntry{Path: "/store/a", Hash: "deadbeef"})
	if err != nil {
		t.Fatal(err)
	}
	ok, err := reg.IsValid(ctx, nil, "/store/a")
	if err != nil || !ok {
		t.Fatalf("IsValid = %v, %v", ok, err)
	}
	hash, ok, err := reg.QueryHash(ctx, nil, "/store/a")
	if err != nil || !ok || hash != "sha256:deadbeef" {
		t.Fatalf("QueryHash = %q, %v, %v", hash, ok, err)
	}
}

func TestRegisterValidBatchRejectsUnrealisableRef(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	err := reg.RegisterValidBatch(ctx, nil, []RegisterValidEntry{
		{Path: "/store/a", Hash: "h1", RefsC: []string{"/store/missing"}},
	})
	if err == nil {
		t.Fatal("expected error for reference to unrealisable path")
	}
}

func TestRegisterValidBatchAllowsIntraBatchRef(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	err := reg.RegisterValidBatch(ctx, nil, []RegisterValidEntry{
		{Path: "/store/a", Hash: "h1", RefsC: []string{"/store/b"}},
		{Path: "/store/b", Hash: "h2"},
	})
	if err != nil {
		t.Fatalf("expected batch with intra-batch reference to succeed: %v", err)
	}
}

func TestAddStateDeriverEvictsCollidingEntry(t *testing.T) {
	ctx := context.Background()
	reg, dir := newTestRegistry(t)

	d1 := writeDerivationFile(t, dir, "d1.json", "s", "u")
	d2 := writeDerivationFile(t, dir, "d2.json", "s", "u")

	if err := reg.SetDeriver(ctx, nil, "/store/c", d1); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetDeriver(ctx, nil, "/store/c", d2); err != nil {
		t.Fatal(err)
	}

	derivers, err := reg.QueryDeriver(ctx, nil, "/store/c")
	if err != nil {
		t.Fatal(err)
	}
	if len(derivers) != 1 || derivers[0] != d2 {
		t.Fatalf("derivers = %v, want only %q", derivers, d2)
	}
	if _, err := os.Stat(d1); !os.IsNotExist(err) {
		t.Fatalf("expected %q to be deleted from disk, stat err = %v", d1, err)
	}
	stateful, err := reg.IsStateful(ctx, nil, "/store/c")
	if err != nil || !stateful {
		t.Fatalf("IsStateful = %v, %v", stateful, err)
	}
}

func TestAddStateDeriverKeepsDistinctIdentifiers(t *testing.T) {
	ctx := context.Background()
	reg, dir := newTestRegistry(t)

	d1 := writeDerivationFile(t, dir, "d1.json", "s1", "u")
	d2 := writeDerivationFile(t, dir, "d2.json", "s2", "u")

	reg.SetDeriver(ctx, nil, "/store/c", d1)
	reg.SetDeriver(ctx, nil, "/store/c", d2)

	derivers, err := reg.QueryDeriver(ctx, nil, "/store/c")
	if err != nil {
		t.Fatal(err)
	}
	if len(derivers) != 2 {
		t.Fatalf("derivers = %v, want both kept", derivers)
	}
}

func TestSubstitutesOrderedNewestFirst(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	reg.RegisterSubstitute(ctx, nil, "/store/c", Substitute{Program: "old"})
	reg.RegisterSubstitute(ctx, nil, "/store/c", Substitute{Program: "new"})

	subs, err := reg.QuerySubstitutes(ctx, nil, "/store/c")
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 2 || subs[0].Program != "new" {
		t.Fatalf("subs = %v, want newest first", subs)
	}
}

func TestSubstitutesDuplicatePromotedToFront(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	reg.RegisterSubstitute(ctx, nil, "/store/c", Substitute{Program: "a"})
	reg.RegisterSubstitute(ctx, nil, "/store/c", Substitute{Program: "b"})
	reg.RegisterSubstitute(ctx, nil, "/store/c", Substitute{Program: "a"})

	subs, err := reg.QuerySubstitutes(ctx, nil, "/store/c")
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 2 || subs[0].Program != "a" || subs[1].Program != "b" {
		t.Fatalf("subs = %v, want [a, b] with a promoted to front", subs)
	}
}

func TestInvalidateWithoutSubstitutesClearsEverything(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	reg.RegisterValid(ctx, nil, RegisterValidEntry{Path: "/store/a", Hash: "h1"})
	if err := reg.Invalidate(ctx, nil, "/store/a", false); err != nil {
		t.Fatal(err)
	}
	ok, err := reg.IsValid(ctx, nil, "/store/a")
	if err != nil || ok {
		t.Fatalf("IsValid after invalidate = %v, %v, want false", ok, err)
	}
}

func TestInvalidateWithSubstitutesKeepsSubstituteEntry(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	reg.RegisterValid(ctx, nil, RegisterValidEntry{Path: "/store/a", Hash: "h1"})
	reg.RegisterSubstitute(ctx, nil, "/store/a", Substitute{Program: "fallback"})
	if err := reg.Invalidate(ctx, nil, "/store/a", false); err != nil {
		t.Fatal(err)
	}
	subs, err := reg.QuerySubstitutes(ctx, nil, "/store/a")
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 {
		t.Fatalf("substitutes = %v, want to survive invalidation", subs)
	}
}
