// Package derivation is the narrow, out-of-scope-per-specification
// collaborator that turns a derivation path on disk into the structured
// fields the registry needs (principally, for stateful derivations, the
// state identifier and invoking user a state path's identity depends on).
//
// The upstream system this store is modeled on parses a bespoke ATerm
// format, which is itself out of scope here. Rather than leave this
// interface with no implementation to exercise — which would make the
// registry's stateful-deriver path untestable — the default implementation
// reads a small JSON document. JSON was chosen over inventing another
// bespoke text format because it is inspectable with standard tooling and
// the wire format for our own derivation files is otherwise unspecified.
package derivation

import (
	"encoding/json"
	"fmt"
	"os"
)

// Output describes one output a derivation produces.
type Output struct {
	Name string `json:"name"`
	Path string `json:"path"`
	// StateIdentifier is non-empty for a stateful output.
	StateIdentifier string `json:"stateIdentifier,omitempty"`
}

// Derivation is the structured form of a parsed derivation file.
type Derivation struct {
	Outputs      []Output `json:"outputs"`
	InputSources []string `json:"inputSources,omitempty"`
	InputDrvs    []string `json:"inputDrvs,omitempty"`
	Builder      string   `json:"builder,omitempty"`
	User         string   `json:"user"`
}

// IsStateful reports whether the derivation declares any non-empty state
// outputs.
func (d *Derivation) IsStateful() bool {
	for _, o := range d.Outputs {
		if o.StateIdentifier != "" {
			return true
		}
	}
	return false
}

// StateIdentifierFor returns the state identifier of the named output,
// defaulting to the first stateful output's identifier if name is empty.
func (d *Derivation) StateIdentifierFor(name string) (string, bool) {
	for _, o := range d.Outputs {
		if o.StateIdentifier == "" {
			continue
		}
		if name == "" || o.Name == name {
			return o.StateIdentifier, true
		}
	}
	return "", false
}

// Parser is the interface the registry depends on; components never read
// derivation files directly.
type Parser interface {
	Parse(path string) (*Derivation, error)
}

// JSONParser is the default Parser implementation.
type JSONParser struct{}

// Parse reads and decodes a derivation file at path.
func (JSONParser) Parse(path string) (*Derivation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("derivation: open %s: %w", path, err)
	}
	defer f.Close()

	var d Derivation
	if err := json.NewDecoder(f).Decode(&d); err != nil {
		return nil, fmt.Errorf("derivation: decode %s: %w", path, err)
	}
	return &d, nil
}
