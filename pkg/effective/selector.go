// SPDX-License-Identifier: Apache-2.0

// Package effective implements §4.D: given a candidate set of rows across
// the untracked overlay and the materialized table, pick the single
// effective row per (chain-depth, priority) ordering, and separately detect
// whether that winning row is a tombstone.
package effective

// Priority orders the untracked overlay ahead of the materialized table at
// equal chain depth: the untracked overlay represents the most recent user
// intent (§4.D "Rationale").
type Priority int

const (
	PriorityUntracked   Priority = 0
	PriorityMaterialized Priority = 1
)

// Candidate is one row under consideration for a given (entity_id, ...) key.
type Candidate struct {
	VersionID    string
	Depth        int // position within the version chain, 0 = self
	Priority     Priority
	IsTombstone  bool // is_tombstone=1 (materialized) or snapshot_content=null (untracked)
	RowPosition  int  // tie-breaker: original row order
	Payload      any  // opaque caller payload (e.g. the full row)
}

// Select picks the single effective candidate by (depth ASC, priority ASC),
// breaking ties by RowPosition, and reports whether the entity should be
// considered absent because the winning row is a tombstone (§4.D edge
// cases: "the tombstone does not break ties in favor of live").
func Select(candidates []Candidate) (winner Candidate, found bool, absent bool) {
	if len(candidates) == 0 {
		return Candidate{}, false, false
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if less(c, best) {
			best = c
		}
	}
	return best, true, best.IsTombstone
}

func less(a, b Candidate) bool {
	if a.Depth != b.Depth {
		return a.Depth < b.Depth
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.RowPosition < b.RowPosition
}
