// Package pathname implements the deterministic path-naming scheme that
// binds a store path's identity to its content hash, its intended role, the
// root it lives under, and (for state paths) the identifier and user that
// created it.
//
// Content hashing itself (sha256, base-32 encoding) is a declared external
// collaborator per the store's scope, but the string construction and
// encoding the naming scheme performs with that hash are in scope and are
// implemented directly against the standard library: no third-party base32
// variant in the surrounding ecosystem matches the lowercase, unpadded
// alphabet this scheme requires.
package pathname

import (
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/corestore/corestore/internal/corestoreerr"
)

// storePathEncoding is the base-32 alphabet used for path hash segments:
// lowercase, digits 0-9 minus the four letters e,o,u,t (so the result can't
// spell profanity or be confused with decimal/hex), no padding.
var storePathEncoding = base32.NewEncoding("0123456789abcdfghijklmnpqrsvwxyz").WithPadding(base32.NoPadding)

// ComponentPath is an absolute path under the store root, identifying
// immutable content. It is a distinct type from StatePath so the compiler
// rejects accidental mixing of the two path universes.
type ComponentPath string

// StatePath is an absolute path under the state root, identifying mutable,
// versioned content.
type StatePath string

// hashSegmentLen is the number of raw bytes of SHA-256 truncated before
// base-32 encoding (20 bytes -> 32 base-32 characters).
const hashSegmentLen = 20

// ValidateName checks that a path's name component obeys the naming rules:
// the first character must not be '.', and only alphanumerics plus
// "+-._?=" are permitted.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", corestoreerr.ErrInvalidName)
	}
	if name[0] == '.' {
		return fmt.Errorf("%w: name %q starts with '.'", corestoreerr.ErrInvalidName, name)
	}
	for _, r := range name {
		if !isLegalNameRune(r) {
			return fmt.Errorf("%w: name %q contains illegal character %q", corestoreerr.ErrInvalidName, name, r)
		}
	}
	return nil
}

func isLegalNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("+-._?=", r)
}

// digest computes the 20-byte truncated SHA-256 of s and base-32 encodes it.
func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return storePathEncoding.EncodeToString(sum[:hashSegmentLen])
}

// MakeStorePath computes the component path for a given type tag, content
// hash (hex-encoded sha256 digest), store root and name.
//
// typeTag values include "source", "output:out", and "text:<ref1>:<ref2>:..."
// — for text entries, the references are embedded directly in the type
// string so that two texts with identical contents but different reference
// sets are never confused for the same path.
func MakeStorePath(typeTag, contentHashHex, storeRoot, name string) (ComponentPath, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	descriptor := fmt.Sprintf("%s:sha256:%s:%s:%s", typeTag, contentHashHex, storeRoot, name)
	h := digest(descriptor)
	return ComponentPath(fmt.Sprintf("%s/%s-%s", storeRoot, h, name)), nil
}

// MakeFixedOutputType builds the type tag used for fixed-output
// derivations: "fixed:out:<recursive?r:>...<algo>:<hex(hash)>:".
func MakeFixedOutputType(recursive bool, algo, hashHex string) string {
	prefix := "fixed:out:"
	if recursive {
		prefix += "r:"
	}
	return fmt.Sprintf("%s%s:%s:", prefix, algo, hashHex)
}

// MakeStatePath computes the state path for a component hash, state root,
// name, state identifier and user. user comes from the OS (not caller
// input) so that identity cannot be spoofed by an argument.
func MakeStatePath(componentHashHex, stateRoot, name, stateIdentifier, user string) (StatePath, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	descriptor := fmt.Sprintf(":sha256:%s:%s:%s:%s:%s", componentHashHex, stateRoot, name, stateIdentifier, user)
	h := digest(descriptor)
	return StatePath(fmt.Sprintf("%s/%s-%s-%s", stateRoot, h, name, stateIdentifier)), nil
}

// IsUnderRoot reports whether p lexically lives under root (used by the
// verifier to confirm a registered path hasn't escaped the store).
func IsUnderRoot(p, root string) bool {
	root = strings.TrimRight(root, "/")
	return strings.HasPrefix(p, root+"/") && len(p) > len(root)+1
}
