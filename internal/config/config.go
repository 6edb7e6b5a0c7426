// Package config loads and validates the store's configuration document
// against an embedded CUE schema, following the same load-then-validate
// shape as the CUE spec loader this store's configuration layer is
// modeled on — except here the document is a single small config object
// rather than a directory of concept/sync specs, so the whole pipeline
// collapses into one function.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cuejson "cuelang.org/go/encoding/json"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var schemaSource string

// Config is the store's configuration, validated against schema.cue.
type Config struct {
	StoreRoot            string `json:"store-root"`
	StateRoot            string `json:"state-root"`
	DBRoot               string `json:"db-root"`
	GCReservedSpace      int64  `json:"gc-reserved-space"`
	RequireSignedImports bool   `json:"require-signed-imports"`
}

// Load reads path (YAML or JSON, chosen by extension) and validates it
// against the embedded CUE schema.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	ctx := cuecontext.New()

	var doc cue.Value
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		expr, err := cuejson.Extract(path, data)
		if err != nil {
			return nil, fmt.Errorf("config: parse %s as JSON: %w", path, err)
		}
		doc = ctx.BuildExpr(expr)
	} else {
		file, err := cueyaml.Extract(path, data)
		if err != nil {
			return nil, fmt.Errorf("config: parse %s as YAML: %w", path, err)
		}
		doc = ctx.BuildFile(file)
	}
	if err := doc.Err(); err != nil {
		return nil, fmt.Errorf("config: build %s: %w", path, err)
	}

	return validate(ctx, doc)
}

// validate unifies a document against the embedded CUE schema, fills in
// defaults, checks it's fully concrete, and decodes the result into a
// Config.
func validate(ctx *cue.Context, doc cue.Value) (*Config, error) {
	schema := ctx.CompileString(schemaSource)
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("config: compile schema: %w", err)
	}

	unified := schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

// Validate checks a decoded document (e.g. from a test fixture or a caller
// that already has the fields as a Go map) against the embedded schema,
// without going through the file-extension dispatch Load uses.
func Validate(raw map[string]any) (*Config, error) {
	ctx := cuecontext.New()
	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return nil, fmt.Errorf("config: encode document: %w", err)
	}
	return validate(ctx, doc)
}

// remoteEnv and ignoreSymlinkEnv are read directly rather than folded into
// Config, since they are process environment, not persisted configuration.
const (
	remoteEnv        = "CORESTORE_REMOTE"
	ignoreSymlinkEnv = "CORESTORE_IGNORE_SYMLINK_STORE"
)

// RemoteBackend returns the value of CORESTORE_REMOTE. An empty string
// selects the local backend this repository implements; any other value
// names a remote client, out of scope here.
func RemoteBackend() string {
	return os.Getenv(remoteEnv)
}

// IgnoreSymlinkStore reports whether CORESTORE_IGNORE_SYMLINK_STORE is set
// to a non-empty value, relaxing the check that the store root is not
// itself a symlink.
func IgnoreSymlinkStore() bool {
	return os.Getenv(ignoreSymlinkEnv) != ""
}
