// Package corestoreerr defines the sentinel error kinds shared across the
// store's components. Callers should test for these with errors.Is, and
// operations that need structured context wrap a sentinel with fmt.Errorf's
// %w verb rather than inventing a new type per call site.
package corestoreerr

import "errors"

var (
	// ErrInvalidPath is returned when a path is not a well-formed store path
	// for either universe (wrong prefix, bad hash segment, no root match).
	ErrInvalidPath = errors.New("invalid store path")

	// ErrInvalidName is returned when a path's name component contains a
	// character outside the legal set, or starts with a leading dot.
	ErrInvalidName = errors.New("invalid path name")

	// ErrHashMismatch is returned when a computed content hash does not
	// match an expected or previously registered hash.
	ErrHashMismatch = errors.New("hash mismatch")

	// ErrBadArchive is returned when an export/import stream is malformed:
	// bad magic, truncated, or fails to parse.
	ErrBadArchive = errors.New("bad archive")

	// ErrMissingSignature is returned when an import requires a signature
	// and none was present in the stream.
	ErrMissingSignature = errors.New("missing signature")

	// ErrBadSignature is returned when a present signature fails to verify.
	ErrBadSignature = errors.New("bad signature")

	// ErrInUse is returned when a delete is refused because the path still
	// has live referrers.
	ErrInUse = errors.New("path still in use")

	// ErrUnknownRevision is returned when a revision number does not exist
	// for a state path.
	ErrUnknownRevision = errors.New("unknown revision")

	// ErrSharingCycle is returned when alias resolution detects a cycle.
	ErrSharingCycle = errors.New("sharing cycle detected")

	// ErrSharingChainTooLong is returned when alias resolution exceeds the
	// configured chain length bound without terminating.
	ErrSharingChainTooLong = errors.New("sharing chain too long")

	// ErrIncompleteClosure names the kind for a reference to a path that is
	// not registered valid. Closure computations do not return it;
	// verification lists such references in its report instead.
	ErrIncompleteClosure = errors.New("incomplete closure")

	// ErrSchemaTooNew is returned when the on-disk schema version is newer
	// than this build knows how to read.
	ErrSchemaTooNew = errors.New("schema version too new")

	// ErrSchemaCorrupt is returned when the schema version file cannot be
	// parsed or is out of the known range.
	ErrSchemaCorrupt = errors.New("schema file corrupt")

	// ErrPermissionDenied is returned when a filesystem operation fails due
	// to insufficient privilege (e.g. chown to an arbitrary uid).
	ErrPermissionDenied = errors.New("permission denied")

	// ErrSysError wraps an unexpected OS-level failure that isn't one of the
	// more specific kinds above.
	ErrSysError = errors.New("system error")

	// ErrInterrupted is returned when a long-running operation observes
	// context cancellation.
	ErrInterrupted = errors.New("interrupted")
)
