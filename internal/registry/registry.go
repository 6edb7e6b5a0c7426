// Package registry implements the validity and deriver bookkeeping: the
// valid, valid-state, deriver, state-info and substitutes tables, plus the
// stateful-deriver merge rule (invariant 5: at most one deriver per
// (state-identifier, user) pair for a stateful component, with the losing
// registration's derivation file deleted from disk).
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/corestore/corestore/internal/corestoreerr"
	"github.com/corestore/corestore/internal/derivation"
	"github.com/corestore/corestore/internal/kv"
	"github.com/corestore/corestore/internal/refstore"
	"github.com/corestore/corestore/internal/revindex"
)

const (
	tableValid       = "valid"
	tableValidState  = "valid-state"
	tableDeriver     = "deriver"
	tableStateInfo   = "state-info"
	tableSubstitutes = "substitutes"
)

// Tables lists the tables this package owns.
var Tables = []string{tableValid, tableValidState, tableDeriver, tableStateInfo, tableSubstitutes}

// Exported table names, for the verifier's direct below-the-API table scans.
const (
	TableValid       = tableValid
	TableValidState  = tableValidState
	TableDeriver     = tableDeriver
	TableStateInfo   = tableStateInfo
	TableSubstitutes = tableSubstitutes
)

// Substitute is a fallback build command for a component path.
type Substitute struct {
	Deriver string   `json:"deriver"`
	Program string   `json:"program"`
	Args    []string `json:"args"`
}

// Registry owns the validity and deriver tables.
type Registry struct {
	kv     *kv.Engine
	refs   *refstore.Store
	parser derivation.Parser
}

// New constructs a registry over the given engine, reference store and
// derivation parser.
func New(e *kv.Engine, refs *refstore.Store, parser derivation.Parser) *Registry {
	return &Registry{kv: e, refs: refs, parser: parser}
}

// IsValid reports whether a component path is registered valid.
func (r *Registry) IsValid(ctx context.Context, t *kv.Txn, c string) (bool, error) {
	_, ok, err := r.kv.Get(ctx, t, tableValid, c)
	return ok, err
}

// IsValidState reports whether a state path is registered valid.
func (r *Registry) IsValidState(ctx context.Context, t *kv.Txn, s string) (bool, error) {
	_, ok, err := r.kv.Get(ctx, t, tableValidState, s)
	return ok, err
}

// QueryHash returns the stored content hash of a valid component path.
func (r *Registry) QueryHash(ctx context.Context, t *kv.Txn, c string) (string, bool, error) {
	return r.kv.Get(ctx, t, tableValid, c)
}

// HasSubstitute reports whether c has at least one registered substitute.
func (r *Registry) HasSubstitute(ctx context.Context, t *kv.Txn, c string) (bool, error) {
	subs, err := r.QuerySubstitutes(ctx, t, c)
	if err != nil {
		return false, err
	}
	return len(subs) > 0, nil
}

// EnumerateValid returns every component path currently registered valid,
// restoring queryAllValidPathsTxn's component half.
func (r *Registry) EnumerateValid(ctx context.Context, t *kv.Txn) ([]string, error) {
	return r.kv.EnumerateKeys(ctx, t, tableValid)
}

// EnumerateValidState returns every state path currently registered valid,
// restoring queryAllValidPathsTxn's state half.
func (r *Registry) EnumerateValidState(ctx context.Context, t *kv.Txn) ([]string, error) {
	return r.kv.EnumerateKeys(ctx, t, tableValidState)
}

// IsRealisable reports whether a path is valid (as a component or a state
// path) or has at least one substitute — the condition every reference
// target must satisfy.
func (r *Registry) IsRealisable(ctx context.Context, t *kv.Txn, path string) (bool, error) {
	if ok, err := r.IsValid(ctx, t, path); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}
	if ok, err := r.IsValidState(ctx, t, path); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}
	return r.HasSubstitute(ctx, t, path)
}

// RegisterValidEntry is one path's worth of state for a registerValid call.
type RegisterValidEntry struct {
	Path    string
	Hash    string
	RefsC   []string
	RefsS   []string
	Deriver string
	// Revision is the r argument for state-path registration; ignored for
	// component paths.
	Revision int64
	IsState  bool
}

// RegisterValid registers a single path as valid, writing its hash (or
// marking a state path valid), its outgoing references, and its deriver.
func (r *Registry) RegisterValid(ctx context.Context, t *kv.Txn, e RegisterValidEntry) error {
	return r.RegisterValidBatch(ctx, t, []RegisterValidEntry{e})
}

// RegisterValidBatch registers many paths atomically, checking invariant 2
// (every referenced path is either already valid or present in this same
// batch) before committing any of it.
func (r *Registry) RegisterValidBatch(ctx context.Context, t *kv.Txn, entries []RegisterValidEntry) error {
	inBatch := make(map[string]bool, len(entries))
	for _, e := range entries {
		inBatch[e.Path] = true
	}

	for _, e := range entries {
		for _, ref := range e.RefsC {
			if inBatch[ref] {
				continue
			}
			ok, err := r.IsRealisable(ctx, t, ref)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s references unrealisable %s", corestoreerr.ErrInvalidPath, e.Path, ref)
			}
		}
	}

	for _, e := range entries {
		if e.IsState {
			if err := r.kv.Put(ctx, t, tableValidState, e.Path, e.Deriver); err != nil {
				return err
			}
			if _, err := r.refs.SetStateReferences(ctx, t, e.Path, e.RefsC, e.RefsS, e.Revision); err != nil {
				return err
			}
			continue
		}
		if err := r.kv.Put(ctx, t, tableValid, e.Path, "sha256:"+e.Hash); err != nil {
			return err
		}
		if err := r.refs.SetComponentReferences(ctx, t, e.Path, e.RefsC, e.RefsS); err != nil {
			return err
		}
		if e.Deriver != "" {
			if err := r.SetDeriver(ctx, t, e.Path, e.Deriver); err != nil {
				return err
			}
		}
	}
	return nil
}

// SetDeriver records derivPath as the deriver of c. If derivPath names a
// stateful derivation the call is routed through AddStateDeriver's merge
// rule instead of a plain overwrite.
func (r *Registry) SetDeriver(ctx context.Context, t *kv.Txn, c, derivPath string) error {
	d, err := r.parser.Parse(derivPath)
	if err != nil {
		return fmt.Errorf("registry: parse deriver %s: %w", derivPath, err)
	}
	if d.IsStateful() {
		return r.AddStateDeriver(ctx, t, c, derivPath)
	}
	return r.kv.PutList(ctx, t, tableDeriver, c, []string{derivPath})
}

// AddStateDeriver merges a stateful derivation into c's deriver list: any
// existing entry sharing the new derivation's (state-identifier, user) pair
// is evicted — its derivation file deleted from disk — before the new entry
// is appended, and state-info[c] is set to mark c a stateful component.
func (r *Registry) AddStateDeriver(ctx context.Context, t *kv.Txn, c, derivPath string) error {
	d, err := r.parser.Parse(derivPath)
	if err != nil {
		return fmt.Errorf("registry: parse deriver %s: %w", derivPath, err)
	}
	identifier, ok := d.StateIdentifierFor("")
	if !ok {
		return fmt.Errorf("registry: %s is not a stateful derivation", derivPath)
	}
	user := d.User

	existing, err := r.kv.GetList(ctx, t, tableDeriver, c)
	if err != nil {
		return err
	}

	kept := make([]string, 0, len(existing)+1)
	for _, old := range existing {
		oldD, err := r.parser.Parse(old)
		if err != nil {
			// An unparsable existing entry cannot be matched for eviction;
			// keep it rather than silently drop state we can't evaluate.
			kept = append(kept, old)
			continue
		}
		oldIdentifier, hasID := oldD.StateIdentifierFor("")
		if hasID && oldIdentifier == identifier && oldD.User == user {
			if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("%w: evict deriver %s: %w", corestoreerr.ErrSysError, old, err)
			}
			continue
		}
		kept = append(kept, old)
	}
	kept = append(kept, derivPath)

	if err := r.kv.PutList(ctx, t, tableDeriver, c, kept); err != nil {
		return err
	}
	return r.kv.Put(ctx, t, tableStateInfo, c, "")
}

// QueryDeriver returns the list of derivation paths registered for c.
func (r *Registry) QueryDeriver(ctx context.Context, t *kv.Txn, c string) ([]string, error) {
	return r.kv.GetList(ctx, t, tableDeriver, c)
}

// IsStateful reports whether c has been marked a stateful component.
func (r *Registry) IsStateful(ctx context.Context, t *kv.Txn, c string) (bool, error) {
	_, ok, err := r.kv.Get(ctx, t, tableStateInfo, c)
	return ok, err
}

// RegisterSubstitute adds a substitute for c, promoting it to the front of
// the list if it duplicates an existing entry's fields; the list is ordered
// newest-first and must not be treated as a set.
func (r *Registry) RegisterSubstitute(ctx context.Context, t *kv.Txn, c string, sub Substitute) error {
	existing, err := r.kv.GetList(ctx, t, tableSubstitutes, c)
	if err != nil {
		return err
	}
	encoded, err := encodeSubstitute(sub)
	if err != nil {
		return err
	}
	next := make([]string, 0, len(existing)+1)
	next = append(next, encoded)
	for _, e := range existing {
		if e == encoded {
			continue
		}
		next = append(next, e)
	}
	return r.kv.PutList(ctx, t, tableSubstitutes, c, next)
}

// ClearSubstitutes removes every substitute registered for c.
func (r *Registry) ClearSubstitutes(ctx context.Context, t *kv.Txn, c string) error {
	return r.kv.Delete(ctx, t, tableSubstitutes, c)
}

// QuerySubstitutes returns c's substitutes, newest-first.
func (r *Registry) QuerySubstitutes(ctx context.Context, t *kv.Txn, c string) ([]Substitute, error) {
	raw, err := r.kv.GetList(ctx, t, tableSubstitutes, c)
	if err != nil {
		return nil, err
	}
	out := make([]Substitute, 0, len(raw))
	for _, r := range raw {
		sub, err := decodeSubstitute(r)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

func encodeSubstitute(s Substitute) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("registry: encode substitute: %w", err)
	}
	return string(b), nil
}

func decodeSubstitute(s string) (Substitute, error) {
	var sub Substitute
	if err := json.Unmarshal([]byte(s), &sub); err != nil {
		return Substitute{}, fmt.Errorf("registry: decode substitute: %w", err)
	}
	return sub, nil
}

// Invalidate removes a path's validity and, if it has no substitutes,
// clears its outgoing references and deriver entry. The caller is
// responsible for having confirmed there are no referrers.
func (r *Registry) Invalidate(ctx context.Context, t *kv.Txn, path string, isState bool) error {
	hasSub, err := r.HasSubstitute(ctx, t, path)
	if err != nil {
		return err
	}
	if !hasSub {
		if isState {
			if _, err := r.refs.SetStateReferences(ctx, t, path, nil, nil, revindex.RevisionLatestOrNone); err != nil {
				return err
			}
		} else {
			if err := r.refs.SetComponentReferences(ctx, t, path, nil, nil); err != nil {
				return err
			}
			if err := r.kv.Delete(ctx, t, tableDeriver, path); err != nil {
				return err
			}
		}
	}
	if isState {
		return r.kv.Delete(ctx, t, tableValidState, path)
	}
	return r.kv.Delete(ctx, t, tableValid, path)
}
