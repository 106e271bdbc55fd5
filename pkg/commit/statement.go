// SPDX-License-Identifier: Apache-2.0

package commit

import "github.com/lixql/lixql/pkg/lixbackend"

// Statement is one SQL text + bound-parameter pair the generator emits. The
// core never interpolates JSON bodies into SQL text (§4.H "Key
// properties"); every value here travels through Params.
type Statement struct {
	SQL    string
	Params []lixbackend.Value
	Label  string // diagnostic only, e.g. "snapshot upsert", "change insert"
}

// StatementBatch is the commit generator's output: a single snapshot
// upsert, a single change insert, one materialized upsert per schema key,
// and commit/edge/ancestry upserts, in the execution order §5 fixes:
// "snapshots -> changes -> per-schema materialized upserts ->
// commit/ancestry. The user statement runs last."
type StatementBatch struct {
	SnapshotUpsert      *Statement
	ChangeInsert        *Statement
	MaterializedUpserts []Statement // keyed by schema, one per distinct schema_key in the batch
	CommitInsert        *Statement  // nil unless the batch was generated with a commit AncestryEdge
	CommitEdgeInsert    *Statement  // nil for a root commit (no parent) or when CommitInsert is nil
	AncestryUpserts     []Statement

	// SchemaRegistrations lists schema keys this batch wrote to that the
	// generator has no authority to create tables for; a separate
	// registration subsystem (out of scope, §9 "Per-schema materialized
	// tables") is responsible for actually creating them.
	SchemaRegistrations []string
}

// Statements returns the batch flattened into final execution order.
func (b *StatementBatch) Statements() []Statement {
	var out []Statement
	if b.SnapshotUpsert != nil {
		out = append(out, *b.SnapshotUpsert)
	}
	if b.ChangeInsert != nil {
		out = append(out, *b.ChangeInsert)
	}
	out = append(out, b.MaterializedUpserts...)
	if b.CommitInsert != nil {
		out = append(out, *b.CommitInsert)
	}
	if b.CommitEdgeInsert != nil {
		out = append(out, *b.CommitEdgeInsert)
	}
	out = append(out, b.AncestryUpserts...)
	return out
}
