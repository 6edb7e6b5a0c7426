// Package store wires every collaborator package behind the single API
// object the rest of the system talks to: the process-wide handle opened
// once at startup and torn down explicitly at shutdown, replacing the
// global mutable singleton the source this store reimplements used.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/corestore/corestore/internal/archive"
	"github.com/corestore/corestore/internal/closure"
	"github.com/corestore/corestore/internal/clock"
	"github.com/corestore/corestore/internal/config"
	"github.com/corestore/corestore/internal/corestoreerr"
	"github.com/corestore/corestore/internal/derivation"
	"github.com/corestore/corestore/internal/ingest"
	"github.com/corestore/corestore/internal/kv"
	"github.com/corestore/corestore/internal/pathlock"
	"github.com/corestore/corestore/internal/refstore"
	"github.com/corestore/corestore/internal/registry"
	"github.com/corestore/corestore/internal/revindex"
	"github.com/corestore/corestore/internal/sharing"
	"github.com/corestore/corestore/internal/signing"
	"github.com/corestore/corestore/internal/verify"
)

// Kind selects a component-pointing or state-pointing reference edge,
// re-exported from refstore so callers need only import this package.
type Kind = refstore.Kind

const (
	Component = refstore.Component
	State     = refstore.State
)

// dbFileName is the SQLite database file under the configured DB root.
const dbFileName = "db.sqlite"

// reservedFileName is the padding file GC can free to recover from a
// disk-full condition, sized by config's gc-reserved-space.
const reservedFileName = "reserved"

// Store is the process-wide handle over one store-root/state-root/db-root
// triple. Every public method is safe to call concurrently; write
// operations serialize through the underlying engine's single-writer
// transaction and, for ingestion and import, an additional per-path lock.
type Store struct {
	kv    *kv.Engine
	clock *clock.Clock

	share    *sharing.Resolver
	rev      *revindex.Index
	refs     *refstore.Store
	reg      *registry.Registry
	closureW *closure.Walker
	ingester *ingest.Ingester
	verifier *verify.Verifier
	locks    *pathlock.Table

	archiver archive.Serializer
	signer   signing.Signer
	parser   derivation.Parser

	storeRoot string
	stateRoot string
	dbRoot    string

	reservedSpace int64
}

// Option configures a Store at Open time, following the same functional-
// options shape used for engine construction elsewhere in this codebase.
type Option func(*Store)

// WithArchiver overrides the default tar+gzip tree serializer.
func WithArchiver(a archive.Serializer) Option {
	return func(s *Store) { s.archiver = a }
}

// WithSigner overrides the default RSA signer. Pass a signer already
// loaded with the key pair Open should use for export/import.
func WithSigner(sg signing.Signer) Option {
	return func(s *Store) { s.signer = sg }
}

// WithDerivationParser overrides the default JSON derivation parser.
func WithDerivationParser(p derivation.Parser) Option {
	return func(s *Store) { s.parser = p }
}

// allTables is the union of every collaborator package's owned tables,
// opened once at startup so no individual package needs to know about any
// other package's schema.
func allTables() []string {
	var out []string
	out = append(out, registry.Tables...)
	out = append(out, refstore.Tables...)
	out = append(out, revindex.Tables...)
	out = append(out, sharing.Tables...)
	return out
}

// Open constructs every collaborator over cfg's roots and returns a ready
// Store. The store root must not itself be a symlink, nor sit under one,
// unless CORESTORE_IGNORE_SYMLINK_STORE is set — a symlinked root could be
// repointed out from under an open database between checks, which is
// exactly the TOCTOU the original tool's no-symlink-store rule exists to
// close off.
func Open(cfg *config.Config, opts ...Option) (*Store, error) {
	ctx := context.Background()

	if !config.IgnoreSymlinkStore() {
		if err := checkNotSymlink(cfg.StoreRoot); err != nil {
			return nil, err
		}
	}

	for _, root := range []string{cfg.StoreRoot, cfg.StateRoot, cfg.DBRoot} {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("%w: mkdir %s: %v", corestoreerr.ErrSysError, root, err)
		}
	}

	s := &Store{
		archiver:      archive.TarGzSerializer{},
		parser:        derivation.JSONParser{},
		signer:        signing.NewRSASigner(nil, nil),
		locks:         pathlock.New(),
		storeRoot:     cfg.StoreRoot,
		stateRoot:     cfg.StateRoot,
		dbRoot:        cfg.DBRoot,
		reservedSpace: cfg.GCReservedSpace,
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := verify.OpenSchema(s.dbRoot); err != nil {
		return nil, err
	}

	e, err := kv.Open(filepath.Join(s.dbRoot, dbFileName))
	if err != nil {
		return nil, err
	}
	s.kv = e

	for _, tbl := range allTables() {
		if err := e.OpenTable(ctx, tbl); err != nil {
			e.Close()
			return nil, err
		}
	}

	if err := migrateSchema(ctx, e, s.dbRoot); err != nil {
		e.Close()
		return nil, err
	}

	hwm, err := revindex.HighWaterMark(ctx, nil, e)
	if err != nil {
		e.Close()
		return nil, err
	}
	s.clock = clock.NewAt(hwm)

	s.share = sharing.New(e)
	s.rev = revindex.New(e, s.clock)
	s.refs = refstore.New(e, s.share, s.rev, s.clock)
	s.reg = registry.New(e, s.refs, s.parser)
	s.closureW = closure.New(s.refs, s.share, s.reg, s.parser)
	s.ingester = ingest.New(s.storeRoot, s.archiver, s.signer, s.reg, s.refs, s.closureW, s.locks)
	s.verifier = verify.New(e, s.reg, s.refs, s.archiver, s.storeRoot, s.stateRoot)

	if err := s.ensureReservedSpace(); err != nil {
		e.Close()
		return nil, err
	}

	return s, nil
}

// migrateSchema runs the schema-version migrator inside its own transaction
// before any collaborator is constructed, so every package that follows
// sees an already-current on-disk layout.
func migrateSchema(ctx context.Context, e *kv.Engine, dbRoot string) error {
	t, err := e.BeginTxn(ctx)
	if err != nil {
		return err
	}
	m := verify.NewMigrator(e)
	if _, _, err := m.Upgrade(ctx, t, dbRoot); err != nil {
		e.Abort(t)
		return err
	}
	return e.Commit(t)
}

// checkNotSymlink rejects a store root that is itself a symlink or has a
// symlinked ancestor.
func checkNotSymlink(root string) error {
	p := filepath.Clean(root)
	for {
		info, err := os.Lstat(p)
		if err == nil && info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s is a symlink", corestoreerr.ErrInvalidPath, p)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return nil
		}
		p = parent
	}
}

// ensureReservedSpace writes a padding file of the configured size under
// the DB root if one is requested and not already present, so a later GC
// pass has space to free even when the filesystem is otherwise full. A
// zero-sized configuration removes any existing reservation on a clean
// open, matching the source behavior of only holding the reservation while
// it's wanted.
func (s *Store) ensureReservedSpace() error {
	p := filepath.Join(s.dbRoot, reservedFileName)
	if s.reservedSpace <= 0 {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: remove %s: %v", corestoreerr.ErrSysError, p, err)
		}
		return nil
	}
	if info, err := os.Stat(p); err == nil && info.Size() == s.reservedSpace {
		return nil
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", corestoreerr.ErrSysError, p, err)
	}
	defer f.Close()
	if err := f.Truncate(s.reservedSpace); err != nil {
		return fmt.Errorf("%w: truncate %s: %v", corestoreerr.ErrSysError, p, err)
	}
	return nil
}

// ReleaseReservedSpace removes the reserved-space padding file, freeing
// its bytes back to the filesystem. Called by GC when disk space is
// needed and every other avenue has been exhausted.
func (s *Store) ReleaseReservedSpace() error {
	p := filepath.Join(s.dbRoot, reservedFileName)
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove %s: %v", corestoreerr.ErrSysError, p, err)
	}
	return nil
}

// Close closes the underlying database connection. The Store must not be
// used afterwards.
func (s *Store) Close() error {
	return s.kv.Close()
}

// withTxn runs fn inside a fresh transaction, committing on success and
// rolling back on any error, following the single-process transactional
// isolation model described for write operations.
func (s *Store) withTxn(ctx context.Context, fn func(t *kv.Txn) error) error {
	t, err := s.kv.BeginTxn(ctx)
	if err != nil {
		return err
	}
	if err := fn(t); err != nil {
		s.kv.Abort(t)
		return err
	}
	return s.kv.Commit(t)
}
