package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/corestore/corestore/internal/config"
	"github.com/corestore/corestore/internal/registry"
	"github.com/corestore/corestore/internal/verify"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		StoreRoot: filepath.Join(dir, "store"),
		StateRoot: filepath.Join(dir, "state"),
		DBRoot:    filepath.Join(dir, "db"),
	}
	s, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func (s *Store) writeComponent(t *testing.T, name, contents string) string {
	t.Helper()
	p := filepath.Join(s.storeRoot, name)
	if err := os.WriteFile(p, []byte(contents), 0o444); err != nil {
		t.Fatal(err)
	}
	if err := s.RegisterValid(context.Background(), registry.RegisterValidEntry{Path: p, Hash: "deadbeef"}); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestOpenCreatesRoots(t *testing.T) {
	s := newTestStore(t)
	for _, root := range []string{s.storeRoot, s.stateRoot, s.dbRoot} {
		if info, err := os.Stat(root); err != nil || !info.IsDir() {
			t.Fatalf("root %s not created: %v", root, err)
		}
	}
}

func TestOpenRejectsSymlinkStoreRoot(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real-store")
	if err := os.MkdirAll(real, 0o755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "store")
	if err := os.Symlink(real, link); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		StoreRoot: link,
		StateRoot: filepath.Join(dir, "state"),
		DBRoot:    filepath.Join(dir, "db"),
	}
	if _, err := Open(cfg); err == nil {
		t.Fatal("expected Open to reject a symlinked store root")
	}
}

func TestOpenHonorsIgnoreSymlinkStoreEnv(t *testing.T) {
	t.Setenv("CORESTORE_IGNORE_SYMLINK_STORE", "1")
	dir := t.TempDir()
	real := filepath.Join(dir, "real-store")
	if err := os.MkdirAll(real, 0o755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "store")
	if err := os.Symlink(real, link); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		StoreRoot: link,
		StateRoot: filepath.Join(dir, "state"),
		DBRoot:    filepath.Join(dir, "db"),
	}
	s, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	s.Close()
}

func TestOpenWritesAndReleasesReservedSpace(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		StoreRoot:       filepath.Join(dir, "store"),
		StateRoot:       filepath.Join(dir, "state"),
		DBRoot:          filepath.Join(dir, "db"),
		GCReservedSpace: 4096,
	}
	s, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	p := filepath.Join(s.dbRoot, reservedFileName)
	info, err := os.Stat(p)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 4096 {
		t.Fatalf("got reserved size %d, want 4096", info.Size())
	}

	if err := s.ReleaseReservedSpace(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatalf("reserved file still present after release: %v", err)
	}
}

func TestOpenResumesClockAboveHighWaterMark(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		StoreRoot: filepath.Join(dir, "store"),
		StateRoot: filepath.Join(dir, "state"),
		DBRoot:    filepath.Join(dir, "db"),
	}
	ctx := context.Background()

	s1, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	statePath := filepath.Join(s1.stateRoot, "firefox-profile")
	_, ts1, err := s1.CommitStatePath(ctx, statePath, nil, nil, nil, "first")
	if err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	if got := s2.clock.Next(); got <= ts1 {
		t.Fatalf("clock resumed at %d, not above prior high water mark %d", got, ts1)
	}
}

func TestAddToStoreThenIsValid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "payload")
	if err := os.WriteFile(src, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	dst, err := s.AddToStore(ctx, src, false, "sha256", "payload")
	if err != nil {
		t.Fatal(err)
	}
	ok, err := s.IsValid(ctx, string(dst))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("%s not valid after AddToStore", dst)
	}
}

func TestQueryReferencesDispatchesOnPathKind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := s.writeComponent(t, "a", "hello")
	b := s.writeComponent(t, "b", "world")

	if err := s.RegisterValid(ctx, registry.RegisterValidEntry{Path: a, Hash: "deadbeef", RefsC: []string{b}}); err != nil {
		t.Fatal(err)
	}
	refs, err := s.QueryReferences(ctx, a, Component, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0] != b {
		t.Fatalf("got %v, want [%s]", refs, b)
	}
}

func TestDeleteRefusesWhileReferenced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := s.writeComponent(t, "a", "hello")
	b := s.writeComponent(t, "b", "world")

	if err := s.RegisterValid(ctx, registry.RegisterValidEntry{Path: a, Hash: "deadbeef", RefsC: []string{b}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, b); err == nil {
		t.Fatal("expected Delete to refuse a path with a live referrer")
	}
}

func TestVerifyReportsInvalidatedPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := s.writeComponent(t, "a", "hello")
	if err := os.Remove(p); err != nil {
		t.Fatal(err)
	}

	report, err := s.Verify(ctx, verify.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.InvalidatedPaths) != 1 || report.InvalidatedPaths[0] != p {
		t.Fatalf("got %v, want [%s]", report.InvalidatedPaths, p)
	}
}
