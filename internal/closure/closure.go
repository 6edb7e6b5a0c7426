// Package closure computes the transitive closure of the reference graph
// (component and/or state edges, at a fixed revision) and, for requisites,
// additionally expands derivation paths into their declared outputs.
//
// Traversal is deterministic — visited nodes are tracked in a set for
// cycle-termination, and the final result is returned in sorted order so
// that two calls over the same inputs produce byte-identical output, as
// spec'd for anywhere traversal order is observable.
package closure

import (
	"context"
	"fmt"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/corestore/corestore/internal/corestoreerr"
	"github.com/corestore/corestore/internal/derivation"
	"github.com/corestore/corestore/internal/kv"
	"github.com/corestore/corestore/internal/refstore"
	"github.com/corestore/corestore/internal/registry"
	"github.com/corestore/corestore/internal/sharing"
)

// byteCollator orders store paths with the root-locale Unicode collation,
// so the order is the same whatever the process locale. It is not plain
// byte order: letters compare case-insensitively first and punctuation is
// weighed differently from its byte value. Using the same collator the
// rest of the pack uses for string ordering keeps path-ordering and any
// future non-ASCII subpath names (snapshot subpaths) consistent under one
// comparison rule.
var byteCollator = collate.New(language.Und)

func sortStrings(s []string) {
	byteCollator.SortStrings(s)
}

// Walker computes closures and requisites over the reference graph.
type Walker struct {
	refs     *refstore.Store
	share    *sharing.Resolver
	registry *registry.Registry
	parser   derivation.Parser
}

// New constructs a closure walker.
func New(refs *refstore.Store, share *sharing.Resolver, reg *registry.Registry, parser derivation.Parser) *Walker {
	return &Walker{refs: refs, share: share, registry: reg, parser: parser}
}

// Options configures a closure computation.
type Options struct {
	WithComponents bool
	WithState      bool
	// Revision pins the state edges traversed for any state path
	// encountered; 0 means "latest".
	Revision int64
}

// Compute returns the least set K containing startSet and closed under the
// edges selected by opts, sorted lexicographically.
func (w *Walker) Compute(ctx context.Context, t *kv.Txn, startSet []string, opts Options) ([]string, error) {
	visited := make(map[string]bool)
	queue := append([]string{}, startSet...)

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", corestoreerr.ErrInterrupted, err)
		}
		node := queue[0]
		queue = queue[1:]

		resolved, err := w.share.ToNonShared(ctx, t, node)
		if err != nil {
			return nil, err
		}
		if visited[resolved] {
			continue
		}
		visited[resolved] = true

		isState, err := w.registry.IsValidState(ctx, t, resolved)
		if err != nil {
			return nil, err
		}

		var nextC, nextS []string
		if isState {
			if opts.WithComponents {
				nextC, err = w.refs.QueryStateReferences(ctx, t, resolved, refstore.Component, opts.Revision)
				if err != nil {
					return nil, err
				}
			}
			if opts.WithState {
				nextS, err = w.refs.QueryStateReferences(ctx, t, resolved, refstore.State, opts.Revision)
				if err != nil {
					return nil, err
				}
			}
		} else {
			if opts.WithComponents {
				nextC, err = w.refs.QueryComponentReferences(ctx, t, resolved, refstore.Component)
				if err != nil {
					return nil, err
				}
			}
			if opts.WithState {
				nextS, err = w.refs.QueryComponentReferences(ctx, t, resolved, refstore.State)
				if err != nil {
					return nil, err
				}
			}
		}

		for _, n := range nextC {
			if !visited[n] {
				queue = append(queue, n)
			}
		}
		for _, n := range nextS {
			if !visited[n] {
				queue = append(queue, n)
			}
		}
	}

	out := make([]string, 0, len(visited))
	for k := range visited {
		out = append(out, k)
	}
	sortStrings(out)
	return out, nil
}

// RequisitesOptions extends Options with derivation-output expansion.
type RequisitesOptions struct {
	Options
	IncludeOutputs bool
}

// Requisites computes the closure of path and, when IncludeOutputs is set,
// additionally walks any derivation path encountered into its declared
// outputs before continuing the fixed-point iteration.
func (w *Walker) Requisites(ctx context.Context, t *kv.Txn, path string, opts RequisitesOptions) ([]string, error) {
	visited := make(map[string]bool)
	queue := []string{path}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", corestoreerr.ErrInterrupted, err)
		}
		node := queue[0]
		queue = queue[1:]

		resolved, err := w.share.ToNonShared(ctx, t, node)
		if err != nil {
			return nil, err
		}
		if visited[resolved] {
			continue
		}
		visited[resolved] = true

		isState, err := w.registry.IsValidState(ctx, t, resolved)
		if err != nil {
			return nil, err
		}

		var nextC, nextS []string
		if isState {
			if opts.WithComponents {
				nextC, _ = w.refs.QueryStateReferences(ctx, t, resolved, refstore.Component, opts.Revision)
			}
			if opts.WithState {
				nextS, _ = w.refs.QueryStateReferences(ctx, t, resolved, refstore.State, opts.Revision)
			}
		} else {
			if opts.WithComponents {
				nextC, _ = w.refs.QueryComponentReferences(ctx, t, resolved, refstore.Component)
			}
			if opts.WithState {
				nextS, _ = w.refs.QueryComponentReferences(ctx, t, resolved, refstore.State)
			}
		}

		if opts.IncludeOutputs {
			if derivs, err := w.registry.QueryDeriver(ctx, t, resolved); err == nil {
				for _, derivPath := range derivs {
					if !visited[derivPath] {
						queue = append(queue, derivPath)
					}
				}
			}
			if d, err := w.parser.Parse(resolved); err == nil {
				for _, o := range d.Outputs {
					if !visited[o.Path] {
						queue = append(queue, o.Path)
					}
				}
			}
		}

		for _, n := range nextC {
			if !visited[n] {
				queue = append(queue, n)
			}
		}
		for _, n := range nextS {
			if !visited[n] {
				queue = append(queue, n)
			}
		}
	}

	out := make([]string, 0, len(visited))
	for k := range visited {
		out = append(out, k)
	}
	sortStrings(out)
	return out, nil
}
