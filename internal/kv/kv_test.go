package kv

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	e, err := Open(filepath.Join(dir, "kv.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)
	if err := e.OpenTable(ctx, "valid"); err != nil {
		t.Fatal(err)
	}
	if err := e.Put(ctx, nil, "valid", "/store/abc-x", "sha256:deadbeef"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := e.Get(ctx, nil, "valid", "/store/abc-x")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || v != "sha256:deadbeef" {
		t.Fatalf("Get = (%q, %v), want (%q, true)", v, ok, "sha256:deadbeef")
	}
	_, ok, err = e.Get(ctx, nil, "valid", "/store/missing")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected missing key to report ok=false")
	}
}

func TestPutListPreservesOrder(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)
	e.OpenTable(ctx, "substitutes")
	want := []string{"newest", "middle", "oldest"}
	if err := e.PutList(ctx, nil, "substitutes", "/store/c", want); err != nil {
		t.Fatal(err)
	}
	got, err := e.GetList(ctx, nil, "substitutes", "/store/c")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestTransactionAbortRollsBack(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)
	e.OpenTable(ctx, "valid")

	txn, err := e.BeginTxn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Put(ctx, txn, "valid", "/store/x", "h"); err != nil {
		t.Fatal(err)
	}
	if err := e.Abort(txn); err != nil {
		t.Fatal(err)
	}
	_, ok, err := e.Get(ctx, nil, "valid", "/store/x")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("aborted write should not be visible")
	}
}

func TestTransactionCommitPersists(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)
	e.OpenTable(ctx, "valid")

	txn, err := e.BeginTxn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Put(ctx, txn, "valid", "/store/x", "h"); err != nil {
		t.Fatal(err)
	}
	if err := e.Commit(txn); err != nil {
		t.Fatal(err)
	}
	_, ok, err := e.Get(ctx, nil, "valid", "/store/x")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("committed write should be visible")
	}
}

func TestMoveToReparentsTransaction(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)
	e.OpenTable(ctx, "valid")

	src, err := e.BeginTxn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	dst := &Txn{}
	MoveTo(dst, src)

	if err := e.Put(ctx, dst, "valid", "/store/x", "h"); err != nil {
		t.Fatal(err)
	}
	if err := e.Commit(dst); err != nil {
		t.Fatal(err)
	}
	_, ok, err := e.Get(ctx, nil, "valid", "/store/x")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("write through reparented transaction should be visible after commit")
	}
}

func TestCompositeKeyRoundTrip(t *testing.T) {
	key := MakeCompositeKey("/state/abc-db-primary", 1234567890)
	path, ts, err := SplitCompositeKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if path != "/state/abc-db-primary" || ts != 1234567890 {
		t.Fatalf("got (%q, %d)", path, ts)
	}
}

func TestEnumerateKeys(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)
	e.OpenTable(ctx, "valid")
	e.Put(ctx, nil, "valid", "/store/a", "h1")
	e.Put(ctx, nil, "valid", "/store/b", "h2")

	keys, err := e.EnumerateKeys(ctx, nil, "valid")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}
}
