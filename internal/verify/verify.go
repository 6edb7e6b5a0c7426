// Package verify implements the store's integrity scan and schema
// migration pipeline: confirming every path the registry calls valid still
// exists where it should, pruning bookkeeping that has drifted out of
// sync, and walking an on-disk database forward through the schema
// versions it understands.
package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/corestore/corestore/internal/archive"
	"github.com/corestore/corestore/internal/corestoreerr"
	"github.com/corestore/corestore/internal/kv"
	"github.com/corestore/corestore/internal/pathname"
	"github.com/corestore/corestore/internal/refstore"
	"github.com/corestore/corestore/internal/registry"
)

// CurrentSchema is the schema version this package writes for a freshly
// created database and upgrades every older database towards.
const CurrentSchema = 3

// LegacySchema is tolerated on open as-is, per the original store's
// curSchema != 4 special case: a version-4 database is never migrated,
// only accepted.
const LegacySchema = 4

// schemaFileName is the file under the DB root holding the decimal schema
// version.
const schemaFileName = "schema"

// migrationBatchSize is how many entries a migration step walks between
// cancellation checks. Nothing is committed per batch: the 1→2 step writes
// through the transaction the caller passes in. Used by migrate.go.
const migrationBatchSize = 1000

// OpenSchema reads the schema version file under dbRoot. A missing file
// means a freshly created database: CurrentSchema is written and returned.
func OpenSchema(dbRoot string) (int, error) {
	p := filepath.Join(dbRoot, schemaFileName)
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		if err := WriteSchema(dbRoot, CurrentSchema); err != nil {
			return 0, err
		}
		return CurrentSchema, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %v", corestoreerr.ErrSysError, p, err)
	}
	version, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", corestoreerr.ErrSchemaCorrupt, p, err)
	}
	if version > LegacySchema {
		return 0, fmt.Errorf("%w: version %d", corestoreerr.ErrSchemaTooNew, version)
	}
	if version < 1 {
		return 0, fmt.Errorf("%w: version %d", corestoreerr.ErrSchemaCorrupt, version)
	}
	return version, nil
}

// WriteSchema persists version as the schema file's entire contents.
func WriteSchema(dbRoot string, version int) error {
	p := filepath.Join(dbRoot, schemaFileName)
	if err := os.WriteFile(p, []byte(strconv.Itoa(version)), 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", corestoreerr.ErrSysError, p, err)
	}
	return nil
}

// Report accumulates what a Verify pass found and repaired. Hash
// mismatches under deep-check are reported, never silently repaired, per
// the store's policy of surfacing content corruption rather than masking
// it.
type Report struct {
	InvalidatedPaths   []string
	HashMismatches     []string
	IncompleteClosures []string
	RemovedSubstitutes int
	RemovedDerivers    int
	ClearedReferences  int
}

// Options controls how thorough a Verify pass is.
type Options struct {
	// DeepCheck requests a full rehash of every valid path's tree, not just
	// an existence check.
	DeepCheck bool
}

// Verifier scans and repairs the registry's bookkeeping against what is
// actually on disk.
type Verifier struct {
	kv        *kv.Engine
	reg       *registry.Registry
	refs      *refstore.Store
	ar        archive.Serializer
	storeRoot string
	stateRoot string
}

// New constructs a Verifier.
func New(e *kv.Engine, reg *registry.Registry, refs *refstore.Store, ar archive.Serializer, storeRoot, stateRoot string) *Verifier {
	return &Verifier{kv: e, reg: reg, refs: refs, ar: ar, storeRoot: storeRoot, stateRoot: stateRoot}
}

func (v *Verifier) underAnyRoot(p string) bool {
	return pathname.IsUnderRoot(p, v.storeRoot) || pathname.IsUnderRoot(p, v.stateRoot)
}

func hashTree(ar archive.Serializer, path string) (string, error) {
	h := sha256.New()
	if err := ar.Dump(path, h); err != nil {
		return "", fmt.Errorf("verify: hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify runs the full scan described at package level, accumulating
// repairs and diagnostics into a Report. It polls ctx at each iteration of
// every loop and aborts with ErrInterrupted on cancellation.
func (v *Verifier) Verify(ctx context.Context, t *kv.Txn, opts Options) (*Report, error) {
	report := &Report{}

	if err := v.verifyValidPaths(ctx, t, opts, report); err != nil {
		return report, err
	}
	if err := v.verifySubstitutes(ctx, t, report); err != nil {
		return report, err
	}
	if err := v.verifyDerivers(ctx, t, report); err != nil {
		return report, err
	}
	if err := v.verifySolidReferences(ctx, t, report); err != nil {
		return report, err
	}
	if err := v.verifyReferenceRelation(ctx, t, refstore.TableRefCC, true, report); err != nil {
		return report, err
	}
	if err := v.verifyReferenceRelation(ctx, t, refstore.TableRefCS, true, report); err != nil {
		return report, err
	}
	if err := v.verifyReferenceRelation(ctx, t, refstore.TableRefSC, false, report); err != nil {
		return report, err
	}
	if err := v.verifyReferenceRelation(ctx, t, refstore.TableRefSS, false, report); err != nil {
		return report, err
	}
	return report, nil
}

func checkInterrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", corestoreerr.ErrInterrupted, err)
	}
	return nil
}

// verifyValidPaths confirms every key of the valid table exists on disk
// under the store root, invalidating anything that doesn't, and under
// DeepCheck rehashes each surviving path's tree and reports mismatches
// without repairing them.
func (v *Verifier) verifyValidPaths(ctx context.Context, t *kv.Txn, opts Options, report *Report) error {
	keys, err := v.kv.EnumerateKeys(ctx, t, registry.TableValid)
	if err != nil {
		return err
	}
	for _, p := range keys {
		if err := checkInterrupted(ctx); err != nil {
			return err
		}
		if _, err := os.Lstat(p); err != nil || !pathname.IsUnderRoot(p, v.storeRoot) {
			if err := v.reg.Invalidate(ctx, t, p, false); err != nil {
				return err
			}
			report.InvalidatedPaths = append(report.InvalidatedPaths, p)
			continue
		}
		if !opts.DeepCheck {
			continue
		}
		stored, ok, err := v.reg.QueryHash(ctx, t, p)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		hashHex, err := hashTree(v.ar, p)
		if err != nil {
			return err
		}
		if "sha256:"+hashHex != stored {
			report.HashMismatches = append(report.HashMismatches, p)
		}
	}
	return nil
}

// verifySubstitutes drops substitute entries keyed by an illegal store path
// and entries whose list has become empty.
func (v *Verifier) verifySubstitutes(ctx context.Context, t *kv.Txn, report *Report) error {
	keys, err := v.kv.EnumerateKeys(ctx, t, registry.TableSubstitutes)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := checkInterrupted(ctx); err != nil {
			return err
		}
		list, err := v.kv.GetList(ctx, t, registry.TableSubstitutes, key)
		if err != nil {
			return err
		}
		if !v.underAnyRoot(key) || len(list) == 0 {
			if err := v.kv.Delete(ctx, t, registry.TableSubstitutes, key); err != nil {
				return err
			}
			report.RemovedSubstitutes++
		}
	}
	return nil
}

// verifyDerivers requires a deriver entry's key to be realisable and every
// recorded deriver path to look like a store path, deleting the entry
// otherwise.
func (v *Verifier) verifyDerivers(ctx context.Context, t *kv.Txn, report *Report) error {
	keys, err := v.kv.EnumerateKeys(ctx, t, registry.TableDeriver)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := checkInterrupted(ctx); err != nil {
			return err
		}
		realisable, err := v.reg.IsRealisable(ctx, t, key)
		if err != nil {
			return err
		}
		bad := !realisable
		var list []string
		if !bad {
			list, err = v.kv.GetList(ctx, t, registry.TableDeriver, key)
			if err != nil {
				return err
			}
			for _, d := range list {
				if !pathname.IsUnderRoot(d, v.storeRoot) {
					bad = true
					break
				}
			}
		}
		if bad {
			if err := v.kv.Delete(ctx, t, registry.TableDeriver, key); err != nil {
				return err
			}
			report.RemovedDerivers++
		}
	}
	return nil
}

// verifySolidReferences drops solid-cs entries keyed by a path outside the
// state root or holding an empty list, and prunes component values that are
// no longer valid. solid-cs overrides what a content scan would find, so an
// entry naming a component that no longer exists can never be rediscovered
// by scanning and must be dropped outright rather than left to rot.
func (v *Verifier) verifySolidReferences(ctx context.Context, t *kv.Txn, report *Report) error {
	keys, err := v.kv.EnumerateKeys(ctx, t, refstore.TableSolidCS)
	if err != nil {
		return err
	}
	for _, statePath := range keys {
		if err := checkInterrupted(ctx); err != nil {
			return err
		}
		if !pathname.IsUnderRoot(statePath, v.stateRoot) {
			if err := v.kv.Delete(ctx, t, refstore.TableSolidCS, statePath); err != nil {
				return err
			}
			report.ClearedReferences++
			continue
		}
		components, err := v.kv.GetList(ctx, t, refstore.TableSolidCS, statePath)
		if err != nil {
			return err
		}
		kept := components[:0:0]
		for _, c := range components {
			valid, err := v.reg.IsValid(ctx, t, c)
			if err != nil {
				return err
			}
			if valid {
				kept = append(kept, c)
			}
		}
		if len(kept) == len(components) {
			continue
		}
		if len(kept) == 0 {
			if err := v.kv.Delete(ctx, t, refstore.TableSolidCS, statePath); err != nil {
				return err
			}
		} else if err := v.kv.PutList(ctx, t, refstore.TableSolidCS, statePath, kept); err != nil {
			return err
		}
		report.ClearedReferences++
	}
	return nil
}

// keyPath extracts the path half of a reference relation's key: for the
// component-keyed tables the key is the path itself, for the state-keyed
// tables it is a (path, timestamp) composite.
func keyPath(componentKeyed bool, key string) (string, error) {
	if componentKeyed {
		return key, nil
	}
	path, _, err := kv.SplitCompositeKey(key)
	return path, err
}

// targetValid reports whether ref, the target of an edge out of table,
// is currently valid: component tables point at component paths, state
// tables at state paths.
func (v *Verifier) targetValid(ctx context.Context, t *kv.Txn, table, ref string) (bool, error) {
	switch table {
	case refstore.TableRefCC, refstore.TableRefSC:
		return v.reg.IsValid(ctx, t, ref)
	default:
		return v.reg.IsValidState(ctx, t, ref)
	}
}

// verifyReferenceRelation implements the fourth bullet of the Verify scan
// for a single reference table: unrealisable keys have their references
// cleared, and every reference out of a realisable *and valid* key must
// point at a currently-valid target or it is reported as an incomplete
// closure.
func (v *Verifier) verifyReferenceRelation(ctx context.Context, t *kv.Txn, table string, componentKeyed bool, report *Report) error {
	keys, err := v.kv.EnumerateKeys(ctx, t, table)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := checkInterrupted(ctx); err != nil {
			return err
		}
		path, err := keyPath(componentKeyed, key)
		if err != nil {
			return err
		}

		realisable, err := v.reg.IsRealisable(ctx, t, path)
		if err != nil {
			return err
		}
		if !realisable {
			if err := v.kv.Delete(ctx, t, table, key); err != nil {
				return err
			}
			report.ClearedReferences++
			continue
		}

		var isValidKey bool
		if componentKeyed {
			isValidKey, err = v.reg.IsValid(ctx, t, path)
		} else {
			isValidKey, err = v.reg.IsValidState(ctx, t, path)
		}
		if err != nil {
			return err
		}
		if !isValidKey {
			continue
		}

		refs, err := v.kv.GetList(ctx, t, table, key)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			ok, err := v.targetValid(ctx, t, table, ref)
			if err != nil {
				return err
			}
			if !ok {
				report.IncompleteClosures = append(report.IncompleteClosures, fmt.Sprintf("%s -> %s", path, ref))
			}
		}
	}
	return nil
}
