package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/corestore/corestore/internal/config"
	"github.com/corestore/corestore/internal/corestoreerr"
	"github.com/corestore/corestore/internal/signing"
)

func newSignedTestStore(t *testing.T) *Store {
	t.Helper()
	priv, err := signing.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	cfg := &config.Config{
		StoreRoot: filepath.Join(dir, "store"),
		StateRoot: filepath.Join(dir, "state"),
		DBRoot:    filepath.Join(dir, "db"),
	}
	s, err := Open(cfg, WithSigner(signing.NewRSASigner(priv, &priv.PublicKey)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExportImportRoundTripUnsigned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "payload")
	if err := os.WriteFile(src, []byte("hello, unsigned\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	orig, err := s.AddToStore(ctx, src, false, "sha256", "payload")
	if err != nil {
		t.Fatal(err)
	}

	var archive bytes.Buffer
	if err := s.Export(ctx, string(orig), false, &archive); err != nil {
		t.Fatal(err)
	}

	got, err := s.Import(ctx, bytes.NewReader(archive.Bytes()), false)
	if err != nil {
		t.Fatal(err)
	}
	if got != orig {
		t.Fatalf("got %s, want %s", got, orig)
	}
	ok, err := s.IsValid(ctx, string(got))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("%s not valid after import", got)
	}
}

func TestExportImportRoundTripSigned(t *testing.T) {
	s := newSignedTestStore(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "payload")
	if err := os.WriteFile(src, []byte("hello, signed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	orig, err := s.AddToStore(ctx, src, false, "sha256", "payload")
	if err != nil {
		t.Fatal(err)
	}

	var archive bytes.Buffer
	if err := s.Export(ctx, string(orig), true, &archive); err != nil {
		t.Fatal(err)
	}

	got, err := s.Import(ctx, bytes.NewReader(archive.Bytes()), true)
	if err != nil {
		t.Fatal(err)
	}
	if got != orig {
		t.Fatalf("got %s, want %s", got, orig)
	}
	ok, err := s.IsValid(ctx, string(got))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("%s not valid after signed import", got)
	}
}

func TestImportRejectsCorruptedSignature(t *testing.T) {
	s := newSignedTestStore(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "payload")
	if err := os.WriteFile(src, []byte("hello, tampered\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	orig, err := s.AddToStore(ctx, src, false, "sha256", "payload")
	if err != nil {
		t.Fatal(err)
	}

	var archive bytes.Buffer
	if err := s.Export(ctx, string(orig), true, &archive); err != nil {
		t.Fatal(err)
	}

	corrupted := archive.Bytes()
	corrupted[len(corrupted)-1] ^= 0xff

	if _, err := s.Import(ctx, bytes.NewReader(corrupted), true); !errors.Is(err, corestoreerr.ErrBadSignature) {
		t.Fatalf("got %v, want ErrBadSignature", err)
	}
}

func TestImportRejectsTruncatedArchive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "payload")
	if err := os.WriteFile(src, []byte("hello, truncated\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	orig, err := s.AddToStore(ctx, src, false, "sha256", "payload")
	if err != nil {
		t.Fatal(err)
	}

	var archive bytes.Buffer
	if err := s.Export(ctx, string(orig), false, &archive); err != nil {
		t.Fatal(err)
	}

	truncated := archive.Bytes()[:archive.Len()-4]
	if _, err := s.Import(ctx, bytes.NewReader(truncated), false); !errors.Is(err, corestoreerr.ErrBadArchive) {
		t.Fatalf("got %v, want ErrBadArchive", err)
	}
}
