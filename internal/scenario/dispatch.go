package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/corestore/corestore/internal/corestoreerr"
	"github.com/corestore/corestore/internal/derivation"
	"github.com/corestore/corestore/internal/registry"
	"github.com/corestore/corestore/internal/revindex"
	"github.com/corestore/corestore/internal/store"
	"github.com/corestore/corestore/internal/verify"
)

// errorCases maps each sentinel this store's operations can return to the
// case name a fixture's expect clause names it by, mirroring how a caller
// across a wire boundary would see one of a closed set of named failures
// rather than an opaque error string.
var errorCases = []struct {
	err  error
	case_ string
}{
	{corestoreerr.ErrInvalidPath, "InvalidPath"},
	{corestoreerr.ErrInvalidName, "InvalidName"},
	{corestoreerr.ErrHashMismatch, "HashMismatch"},
	{corestoreerr.ErrBadArchive, "BadArchive"},
	{corestoreerr.ErrMissingSignature, "MissingSignature"},
	{corestoreerr.ErrBadSignature, "BadSignature"},
	{corestoreerr.ErrInUse, "InUse"},
	{corestoreerr.ErrUnknownRevision, "UnknownRevision"},
	{corestoreerr.ErrSharingCycle, "SharingCycle"},
	{corestoreerr.ErrSharingChainTooLong, "SharingChainTooLong"},
	{corestoreerr.ErrIncompleteClosure, "IncompleteClosure"},
	{corestoreerr.ErrSchemaTooNew, "SchemaTooNew"},
	{corestoreerr.ErrSchemaCorrupt, "SchemaCorrupt"},
	{corestoreerr.ErrPermissionDenied, "PermissionDenied"},
	{corestoreerr.ErrSysError, "SysError"},
	{corestoreerr.ErrInterrupted, "Interrupted"},
}

func caseFor(err error) string {
	if err == nil {
		return "Success"
	}
	for _, c := range errorCases {
		if errors.Is(err, c.err) {
			return c.case_
		}
	}
	return "Error"
}

func kindOf(a args) store.Kind {
	if a.strOr("kind", "component") == "state" {
		return store.State
	}
	return store.Component
}

// dispatch resolves action against st and returns the result fields a
// fixture's expect/assert clauses can check, plus the outcome's case name.
// Every action here names a real *store.Store operation: nothing is
// manufactured, so a flow step's expectation is checked against what the
// store actually did.
func dispatch(ctx context.Context, st *store.Store, action string, a args) (map[string]interface{}, string, error) {
	switch action {
	case "isValid":
		p, err := a.str("path")
		if err != nil {
			return nil, "Error", err
		}
		ok, err := st.IsValid(ctx, p)
		return map[string]interface{}{"valid": ok}, caseFor(err), err

	case "isValidState":
		p, err := a.str("path")
		if err != nil {
			return nil, "Error", err
		}
		ok, err := st.IsValidState(ctx, p)
		return map[string]interface{}{"valid": ok}, caseFor(err), err

	case "queryHash":
		p, err := a.str("path")
		if err != nil {
			return nil, "Error", err
		}
		hash, found, err := st.QueryHash(ctx, p)
		return map[string]interface{}{"hash": hash, "found": found}, caseFor(err), err

	case "queryDeriver":
		p, err := a.str("path")
		if err != nil {
			return nil, "Error", err
		}
		derivers, err := st.QueryDeriver(ctx, p)
		return map[string]interface{}{"derivers": derivers}, caseFor(err), err

	case "queryReferences":
		p, err := a.str("path")
		if err != nil {
			return nil, "Error", err
		}
		refs, err := st.QueryReferences(ctx, p, kindOf(a), a.int64Or("revision", 0))
		return map[string]interface{}{"refs": refs}, caseFor(err), err

	case "queryStateReferences":
		p, err := a.str("path")
		if err != nil {
			return nil, "Error", err
		}
		refs, err := st.QueryStateReferences(ctx, p, kindOf(a), a.int64Or("revision", 0))
		return map[string]interface{}{"refs": refs}, caseFor(err), err

	case "queryReferrers":
		target, err := a.str("target")
		if err != nil {
			return nil, "Error", err
		}
		referrers, err := st.QueryReferrers(ctx, target, nil)
		return map[string]interface{}{"referrers": referrers}, caseFor(err), err

	case "queryStateReferrers":
		target, err := a.str("target")
		if err != nil {
			return nil, "Error", err
		}
		referrers, err := st.QueryStateReferrers(ctx, target, nil)
		return map[string]interface{}{"referrers": referrers}, caseFor(err), err

	case "querySubstitutes":
		p, err := a.str("path")
		if err != nil {
			return nil, "Error", err
		}
		subs, err := st.QuerySubstitutes(ctx, p)
		return map[string]interface{}{"substitutes": subs}, caseFor(err), err

	case "registerSubstitute":
		p, err := a.str("path")
		if err != nil {
			return nil, "Error", err
		}
		sub := registry.Substitute{
			Deriver: a.strOr("deriver", ""),
			Program: a.strOr("program", ""),
			Args:    a.strSlice("args"),
		}
		err = st.RegisterSubstitute(ctx, p, sub)
		return nil, caseFor(err), err

	case "clearSubstitutes":
		p, err := a.str("path")
		if err != nil {
			return nil, "Error", err
		}
		err = st.ClearSubstitutes(ctx, p)
		return nil, caseFor(err), err

	case "registerValid":
		p, err := a.str("path")
		if err != nil {
			return nil, "Error", err
		}
		entry := registry.RegisterValidEntry{
			Path:     p,
			Hash:     a.strOr("hash", ""),
			RefsC:    a.strSlice("refsC"),
			RefsS:    a.strSlice("refsS"),
			Deriver:  a.strOr("deriver", ""),
			Revision: a.int64Or("revision", 0),
			IsState:  a.boolOr("isState", false),
		}
		err = st.RegisterValid(ctx, entry)
		return nil, caseFor(err), err

	case "addToStore":
		src, err := a.str("src")
		if err != nil {
			return nil, "Error", err
		}
		name, err := a.str("name")
		if err != nil {
			return nil, "Error", err
		}
		dst, err := st.AddToStore(ctx, src, a.boolOr("recursive", false), a.strOr("hashAlgo", "sha256"), name)
		return map[string]interface{}{"path": string(dst)}, caseFor(err), err

	case "addText":
		name, err := a.str("name")
		if err != nil {
			return nil, "Error", err
		}
		contents, err := a.str("contents")
		if err != nil {
			return nil, "Error", err
		}
		dst, err := st.AddText(ctx, name, contents, a.strSlice("refs"))
		return map[string]interface{}{"path": string(dst)}, caseFor(err), err

	case "export":
		p, err := a.str("path")
		if err != nil {
			return nil, "Error", err
		}
		dest, err := a.str("dest")
		if err != nil {
			return nil, "Error", err
		}
		f, err := os.Create(dest)
		if err != nil {
			return nil, "Error", fmt.Errorf("%w: create %s: %v", corestoreerr.ErrSysError, dest, err)
		}
		defer f.Close()
		err = st.Export(ctx, p, a.boolOr("sign", false), f)
		return map[string]interface{}{"dest": dest}, caseFor(err), err

	case "import":
		src, err := a.str("src")
		if err != nil {
			return nil, "Error", err
		}
		f, err := os.Open(src)
		if err != nil {
			return nil, "Error", fmt.Errorf("%w: open %s: %v", corestoreerr.ErrSysError, src, err)
		}
		defer f.Close()
		dst, err := st.Import(ctx, f, a.boolOr("requireSignature", false))
		return map[string]interface{}{"path": string(dst)}, caseFor(err), err

	case "delete":
		p, err := a.str("path")
		if err != nil {
			return nil, "Error", err
		}
		err = st.Delete(ctx, p)
		return nil, caseFor(err), err

	case "verify":
		report, err := st.Verify(ctx, verify.Options{DeepCheck: a.boolOr("deepCheck", false)})
		if err != nil {
			return nil, caseFor(err), err
		}
		return map[string]interface{}{
			"invalidatedPaths":   report.InvalidatedPaths,
			"hashMismatches":     report.HashMismatches,
			"incompleteClosures": report.IncompleteClosures,
			"removedSubstitutes": report.RemovedSubstitutes,
			"removedDerivers":    report.RemovedDerivers,
			"clearedReferences":  report.ClearedReferences,
		}, "Success", nil

	case "setStateRevisions":
		root, err := a.str("rootStatePath")
		if err != nil {
			return nil, "Error", err
		}
		revision, timestamp, err := st.SetStateRevisions(ctx, root, a.int64Map("revisions"), a.strOr("comment", ""))
		return map[string]interface{}{"revision": revision, "timestamp": timestamp}, caseFor(err), err

	case "queryStateRevisions":
		p, err := a.str("path")
		if err != nil {
			return nil, "Error", err
		}
		snapshot, timestamp, err := st.QueryStateRevisions(ctx, p, a.int64Or("revision", 0))
		return map[string]interface{}{"snapshot": snapshot, "timestamp": timestamp}, caseFor(err), err

	case "queryAvailableStateRevisions":
		p, err := a.str("path")
		if err != nil {
			return nil, "Error", err
		}
		entries, err := st.QueryAvailableStateRevisions(ctx, p)
		return map[string]interface{}{"entries": entriesToMaps(entries)}, caseFor(err), err

	case "commitStatePath":
		p, err := a.str("path")
		if err != nil {
			return nil, "Error", err
		}
		revision, timestamp, err := st.CommitStatePath(ctx, p, a.strSlice("refsC"), a.strSlice("refsS"), a.int64Map("snapshot"), a.strOr("comment", ""))
		return map[string]interface{}{"revision": revision, "timestamp": timestamp}, caseFor(err), err

	case "scanAndUpdateAllReferences":
		p, err := a.str("path")
		if err != nil {
			return nil, "Error", err
		}
		err = st.ScanAndUpdateAllReferences(ctx, p, a.boolOr("recursive", false))
		return nil, caseFor(err), err

	case "setSharedState":
		existing, err := a.str("existing")
		if err != nil {
			return nil, "Error", err
		}
		alias, err := a.str("alias")
		if err != nil {
			return nil, "Error", err
		}
		err = st.SetSharedState(ctx, existing, alias)
		return nil, caseFor(err), err

	case "toNonSharedPathSet":
		paths, err := st.ToNonSharedPathSet(ctx, a.strSlice("paths"))
		return map[string]interface{}{"paths": paths}, caseFor(err), err

	case "revertToRevision":
		p, err := a.str("path")
		if err != nil {
			return nil, "Error", err
		}
		err = st.RevertToRevision(ctx, p, a.int64Or("revision", 0), a.boolOr("recursive", false))
		return nil, caseFor(err), err

	case "setStatePathsInterval":
		err := st.SetStatePathsInterval(ctx, a.strSlice("paths"), a.int64Slice("intervals"), a.boolOr("allZero", false))
		return nil, caseFor(err), err

	case "getStatePathsInterval":
		intervals, err := st.GetStatePathsInterval(ctx, a.strSlice("paths"))
		return map[string]interface{}{"intervals": intervals}, caseFor(err), err

	case "isStateful":
		p, err := a.str("path")
		if err != nil {
			return nil, "Error", err
		}
		ok, err := st.IsStateful(ctx, p)
		return map[string]interface{}{"stateful": ok}, caseFor(err), err

	case "sharedWithRec":
		target, err := a.str("target")
		if err != nil {
			return nil, "Error", err
		}
		paths, err := st.SharedWithRec(ctx, target)
		return map[string]interface{}{"paths": paths}, caseFor(err), err

	// The remaining actions are fixture scaffolding, not store operations:
	// they put files on disk so a later real action (addToStore,
	// registerValid with a deriver path) has something to read. The
	// "fixture." prefix keeps them out of any trace assertion written
	// against real action names.
	case "fixture.writeFile":
		p, err := a.str("path")
		if err != nil {
			return nil, "Error", err
		}
		contents, err := a.str("contents")
		if err != nil {
			return nil, "Error", err
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, "Error", fmt.Errorf("%w: mkdir for %s: %v", corestoreerr.ErrSysError, p, err)
		}
		if err := os.WriteFile(p, []byte(contents), 0o644); err != nil {
			return nil, "Error", fmt.Errorf("%w: write %s: %v", corestoreerr.ErrSysError, p, err)
		}
		return map[string]interface{}{"path": p}, "Success", nil

	case "fixture.writeDerivation":
		p, err := a.str("path")
		if err != nil {
			return nil, "Error", err
		}
		d := derivation.Derivation{
			User: a.strOr("user", ""),
			Outputs: []derivation.Output{{
				Name:            a.strOr("outputName", "out"),
				Path:            a.strOr("outputPath", ""),
				StateIdentifier: a.strOr("stateIdentifier", ""),
			}},
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, "Error", fmt.Errorf("%w: mkdir for %s: %v", corestoreerr.ErrSysError, p, err)
		}
		f, err := os.Create(p)
		if err != nil {
			return nil, "Error", fmt.Errorf("%w: create %s: %v", corestoreerr.ErrSysError, p, err)
		}
		defer f.Close()
		if err := json.NewEncoder(f).Encode(d); err != nil {
			return nil, "Error", fmt.Errorf("%w: encode %s: %v", corestoreerr.ErrSysError, p, err)
		}
		return map[string]interface{}{"path": p}, "Success", nil

	case "fixture.fileExists":
		p, err := a.str("path")
		if err != nil {
			return nil, "Error", err
		}
		_, statErr := os.Stat(p)
		return map[string]interface{}{"exists": statErr == nil}, "Success", nil

	case "fixture.corruptByte":
		// offset is interpreted relative to the end of the file when
		// negative (-1 is the last byte), since a fixture authored ahead of
		// time has no way to know an exported archive's exact length.
		p, err := a.str("path")
		if err != nil {
			return nil, "Error", err
		}
		offset := a.int64Or("offset", -1)
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, "Error", fmt.Errorf("%w: read %s: %v", corestoreerr.ErrSysError, p, err)
		}
		if offset < 0 {
			offset += int64(len(data))
		}
		if offset < 0 || offset >= int64(len(data)) {
			return nil, "Error", fmt.Errorf("%w: offset out of range for %s (%d bytes)", corestoreerr.ErrSysError, p, len(data))
		}
		data[offset] ^= 0xff
		if err := os.WriteFile(p, data, 0o644); err != nil {
			return nil, "Error", fmt.Errorf("%w: write %s: %v", corestoreerr.ErrSysError, p, err)
		}
		return map[string]interface{}{"path": p}, "Success", nil

	default:
		return nil, "Error", fmt.Errorf("scenario: unknown action %q", action)
	}
}

func entriesToMaps(entries []revindex.Entry) []map[string]interface{} {
	out := make([]map[string]interface{}, len(entries))
	for i, e := range entries {
		out[i] = map[string]interface{}{
			"revision":  e.Revision,
			"timestamp": e.Timestamp,
			"comment":   e.Comment,
		}
	}
	return out
}
