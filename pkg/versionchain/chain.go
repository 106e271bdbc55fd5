// SPDX-License-Identifier: Apache-2.0

// Package versionchain implements §4.C: depth-bounded resolution of a
// version's inheritance chain, cached per session. Grounded on the
// original's recursive walk of inherits_from_version_id, re-expressed as an
// iterative client-side walk per the design note in spec §9 ("Version-chain
// recursion is depth-bounded (64) and not modeled as an unbounded recursive
// closure").
package versionchain

import (
	"context"

	"github.com/lixql/lixql/pkg/lixbackend"
)

// MaxChainDepth bounds the version-chain walk (§4.C contract).
const MaxChainDepth = 64

// Descriptor is the effective view of a version descriptor row: its own id
// and, if any, the version it inherits from.
type Descriptor struct {
	ID                  string
	InheritsFromVersion *string
}

// DescriptorLookup resolves a single version descriptor, reading both the
// untracked overlay and the materialized descriptor table and returning the
// effective value (§4.D); implemented by the caller's storage layer.
type DescriptorLookup interface {
	LookupVersionDescriptor(ctx context.Context, backend lixbackend.Backend, versionID string) (Descriptor, bool, error)
}

// Session is the per-connection ReadRewriteSession cache named throughout
// §4.C/§5: version chains are cached keyed by the root version id and
// returned verbatim on repeat within the same session. Session caches are
// never shared across sessions (§5).
type Session struct {
	chains map[string][]string
}

func NewSession() *Session {
	return &Session{chains: make(map[string][]string)}
}

// LoadVersionChain returns [versionID, ..., root] in depth order (depth 0 =
// self), capped at MaxChainDepth. Unresolvable versions collapse to a chain
// containing only the requested id (fail-open for reads, per §4.C
// "Failure").
func (s *Session) LoadVersionChain(ctx context.Context, backend lixbackend.Backend, lookup DescriptorLookup, versionID string) ([]string, error) {
	if cached, ok := s.chains[versionID]; ok {
		return cached, nil
	}

	chain := []string{versionID}
	seen := map[string]struct{}{versionID: {}}
	cur := versionID

	for depth := 1; depth < MaxChainDepth; depth++ {
		desc, ok, err := lookup.LookupVersionDescriptor(ctx, backend, cur)
		if err != nil {
			// fail-open: return what we have so far
			break
		}
		if !ok || desc.InheritsFromVersion == nil {
			break
		}
		next := *desc.InheritsFromVersion
		if _, dup := seen[next]; dup {
			break
		}
		chain = append(chain, next)
		seen[next] = struct{}{}
		cur = next
	}

	s.chains[versionID] = chain
	return chain, nil
}

// Depth returns the 0-based position of versionID within chain, or -1 if
// absent.
func Depth(chain []string, versionID string) int {
	for i, v := range chain {
		if v == versionID {
			return i
		}
	}
	return -1
}
