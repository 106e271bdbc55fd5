// SPDX-License-Identifier: Apache-2.0

package commit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/lixql/lixql/pkg/lixbackend"
)

// AncestryEdge is one parent-child step of the commit DAG (§3 "Commit,
// commit-edge, commit-ancestry"): the new commit's direct parent. The
// generator expands this into ancestry rows at every depth reachable from
// parent, keeping the minimum known depth per (commit_id, ancestor_id) on
// conflict (§4.H "Ancestry rows are upserted with ON CONFLICT DO UPDATE
// that keeps the minimum depth").
type AncestryEdge struct {
	CommitID       string
	VersionID      string          // the global commit-graph scope, §3 "keyed by a global version_id = \"global\""
	ParentID       string          // empty marks CommitID as a root commit: no commit_edge row is emitted
	ParentAncestry []AncestorDepth // the parent commit's own ancestry, depth 0 = parent itself
}

type AncestorDepth struct {
	AncestorID string
	Depth      int
}

// Generator builds StatementBatches from a batch of DomainChanges. It holds
// no state between calls; "single timestamp per batch" (§4.H) is supplied
// by the caller via FunctionProvider.Timestamp(), called once.
type Generator struct {
	dialect  lixbackend.Dialect
	provider lixbackend.FunctionProvider

	// VersionGate, if set, is consulted once per change before any
	// statement is built: it rejects a batch containing a schema_version
	// the gate considers incompatible with what's registered for
	// schema_key (SPEC_FULL §4's schema_version compatibility check "before
	// a materialized upsert is accepted"). Nil means no gate.
	VersionGate func(schemaKey, schemaVersion string) error
}

func NewGenerator(dialect lixbackend.Dialect, provider lixbackend.FunctionProvider) *Generator {
	return &Generator{dialect: dialect, provider: provider}
}

// Generate transforms changes (plus, optionally, a commit DAG edge for this
// batch) into a StatementBatch. changes must already have CreatedAt set to
// a single shared timestamp (§4.H "Key properties").
func (g *Generator) Generate(changes []DomainChange, edge *AncestryEdge) (*StatementBatch, error) {
	batch := &StatementBatch{}

	if len(changes) > 0 {
		if g.VersionGate != nil {
			for _, c := range changes {
				if err := g.VersionGate(c.SchemaKey, c.SchemaVersion); err != nil {
					return nil, err
				}
			}
		}

		snapshotStmt, snapshotIDByChange := g.buildSnapshotUpsert(changes)
		batch.SnapshotUpsert = snapshotStmt

		batch.ChangeInsert = g.buildChangeInsert(changes, snapshotIDByChange)

		batch.MaterializedUpserts = g.buildMaterializedUpserts(changes, snapshotIDByChange)

		schemaSet := map[string]struct{}{}
		for _, c := range changes {
			schemaSet[c.SchemaKey] = struct{}{}
		}
		for k := range schemaSet {
			batch.SchemaRegistrations = append(batch.SchemaRegistrations, k)
		}
		sort.Strings(batch.SchemaRegistrations)
	}

	if edge != nil {
		createdAt := g.provider.Timestamp()
		if len(changes) > 0 {
			createdAt = changes[0].CreatedAt
		}
		batch.CommitInsert = g.buildCommitInsert(*edge, createdAt)
		if edge.ParentID != "" {
			batch.CommitEdgeInsert = g.buildCommitEdgeInsert(*edge)
		}
		batch.AncestryUpserts = g.buildAncestryUpserts(*edge)
	}

	return batch, nil
}

// buildCommitInsert renders the §3 "Commit" row itself: one idempotent
// insert per commit id, scoped to the commit graph's version_id.
func (g *Generator) buildCommitInsert(edge AncestryEdge, createdAt string) *Statement {
	versionID := edge.VersionID
	if versionID == "" {
		versionID = "global"
	}
	return &Statement{
		SQL:    "INSERT INTO commit (id, version_id, created_at) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING",
		Params: []lixbackend.Value{lixbackend.Text(edge.CommitID), lixbackend.Text(versionID), lixbackend.Text(createdAt)},
		Label:  "commit insert",
	}
}

// buildCommitEdgeInsert renders the §3 "commit-edge" row: the direct
// parent-child step the ancestry upserts below then expand transitively.
func (g *Generator) buildCommitEdgeInsert(edge AncestryEdge) *Statement {
	return &Statement{
		SQL:    "INSERT INTO commit_edge (parent_id, child_id) VALUES (?, ?) ON CONFLICT (parent_id, child_id) DO NOTHING",
		Params: []lixbackend.Value{lixbackend.Text(edge.ParentID), lixbackend.Text(edge.CommitID)},
		Label:  "commit edge insert",
	}
}

// buildSnapshotUpsert ensures exactly one row per unique content, including
// the reserved "no-content" tombstone sentinel idempotently (§3
// "Snapshot"). Returns the snapshot id assigned to each change, by index.
func (g *Generator) buildSnapshotUpsert(changes []DomainChange) (*Statement, []string) {
	type uniqueSnapshot struct {
		id      string
		content []byte
		isNull  bool
	}

	seen := map[string]int{} // content hash -> index into unique
	var unique []uniqueSnapshot
	ids := make([]string, len(changes))

	for i, c := range changes {
		if c.SnapshotContent == nil {
			ids[i] = NoContentSnapshotID
			continue
		}
		h := sha256.Sum256(c.SnapshotContent)
		key := hex.EncodeToString(h[:])
		if idx, ok := seen[key]; ok {
			ids[i] = unique[idx].id
			continue
		}
		id := g.provider.UUIDv7()
		unique = append(unique, uniqueSnapshot{id: id, content: c.SnapshotContent})
		seen[key] = len(unique) - 1
		ids[i] = id
	}

	// Always ensure the tombstone sentinel row exists, idempotently.
	unique = append(unique, uniqueSnapshot{id: NoContentSnapshotID, isNull: true})

	var params []lixbackend.Value
	var values []string
	for _, u := range unique {
		if u.isNull {
			values = append(values, "(?, NULL)")
			params = append(params, lixbackend.Text(u.id))
		} else {
			values = append(values, "(?, ?)")
			params = append(params, lixbackend.Text(u.id), lixbackend.Blob(u.content))
		}
	}

	sql := buildValuesList("INSERT INTO snapshot (id, content) VALUES ", values) +
		" ON CONFLICT (id) DO NOTHING"

	return &Statement{SQL: sql, Params: params, Label: "snapshot upsert"}, ids
}

func buildValuesList(prefix string, values []string) string {
	sql := prefix
	for i, v := range values {
		if i > 0 {
			sql += ", "
		}
		sql += v
	}
	return sql
}

// buildChangeInsert produces the single append-only insert for every
// change row in the batch (§3 "Change": "append-only; never mutated or
// deleted").
func (g *Generator) buildChangeInsert(changes []DomainChange, snapshotIDs []string) *Statement {
	var params []lixbackend.Value
	var rows []string

	for i, c := range changes {
		metadata := lixbackend.Null()
		if c.Metadata != nil {
			metadata = lixbackend.Blob(c.Metadata)
		}
		rows = append(rows, "(?, ?, ?, ?, ?, ?, ?, ?)")
		params = append(params,
			lixbackend.Text(c.ID),
			lixbackend.Text(c.EntityID),
			lixbackend.Text(c.SchemaKey),
			lixbackend.Text(c.SchemaVersion),
			lixbackend.Text(c.FileID),
			lixbackend.Text(c.PluginKey),
			lixbackend.Text(snapshotIDs[i]),
			metadata,
		)
	}

	sql := "INSERT INTO change (id, entity_id, schema_key, schema_version, file_id, plugin_key, snapshot_id, metadata) VALUES " +
		joinRows(rows)

	return &Statement{SQL: sql, Params: params, Label: "change insert"}
}

func joinRows(rows []string) string {
	out := ""
	for i, r := range rows {
		if i > 0 {
			out += ", "
		}
		out += r
	}
	return out
}

// buildMaterializedUpserts groups changes by schema_key and produces one
// upsert per schema against materialized_<schema_key>, last-writer-wins on
// ON CONFLICT (entity_id, file_id, version_id) (§5 "Locking discipline").
func (g *Generator) buildMaterializedUpserts(changes []DomainChange, snapshotIDs []string) []Statement {
	bySchema := map[string][]int{}
	var order []string
	for i, c := range changes {
		if _, ok := bySchema[c.SchemaKey]; !ok {
			order = append(order, c.SchemaKey)
		}
		bySchema[c.SchemaKey] = append(bySchema[c.SchemaKey], i)
	}
	sort.Strings(order)

	var out []Statement
	for _, schemaKey := range order {
		idxs := bySchema[schemaKey]
		table := "materialized_" + schemaKey

		var rows []string
		var params []lixbackend.Value
		for _, i := range idxs {
			c := changes[i]
			isTombstone := int64(0)
			if c.SnapshotContent == nil {
				isTombstone = 1
			}
			content := lixbackend.Null()
			if c.SnapshotContent != nil {
				content = lixbackend.Blob(c.SnapshotContent)
			}
			metadata := lixbackend.Null()
			if c.Metadata != nil {
				metadata = lixbackend.Blob(c.Metadata)
			}
			rows = append(rows, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			params = append(params,
				lixbackend.Text(c.EntityID),
				lixbackend.Text(c.SchemaKey),
				lixbackend.Text(c.SchemaVersion),
				lixbackend.Text(c.FileID),
				lixbackend.Text(c.VersionID),
				lixbackend.Text(c.PluginKey),
				content,
				lixbackend.Text(snapshotIDs[i]),
				metadata,
				lixbackend.Text(c.WriterKey),
				lixbackend.Integer(isTombstone),
				lixbackend.Text(c.CreatedAt),
			)
		}

		sql := fmt.Sprintf(
			`INSERT INTO %s (entity_id, schema_key, schema_version, file_id, version_id, plugin_key, snapshot_content, change_id, metadata, writer_key, is_tombstone, created_at, updated_at) VALUES %s
ON CONFLICT (entity_id, file_id, version_id) DO UPDATE SET
  snapshot_content = excluded.snapshot_content,
  change_id = excluded.change_id,
  metadata = excluded.metadata,
  writer_key = excluded.writer_key,
  is_tombstone = excluded.is_tombstone,
  updated_at = excluded.updated_at`,
			table, addUpdatedAtColumn(rows))
		out = append(out, Statement{SQL: sql, Params: duplicateCreatedAtAsUpdatedAt(params), Label: "materialized upsert: " + schemaKey})
	}
	return out
}

// addUpdatedAtColumn appends a 13th placeholder (updated_at, mirrors
// created_at at insert time) to each row tuple.
func addUpdatedAtColumn(rows []string) string {
	out := ""
	for i, r := range rows {
		if i > 0 {
			out += ", "
		}
		out += r[:len(r)-1] + ", ?)"
	}
	return out
}

func duplicateCreatedAtAsUpdatedAt(params []lixbackend.Value) []lixbackend.Value {
	const stride = 12
	out := make([]lixbackend.Value, 0, len(params)/stride*(stride+1))
	for i := 0; i < len(params); i += stride {
		row := params[i : i+stride]
		out = append(out, row...)
		out = append(out, row[len(row)-1]) // created_at value, reused as updated_at
	}
	return out
}

// buildAncestryUpserts expands a single parent edge into one row per entry
// of the parent's own ancestry at (ancestor depth + 1) — so the parent,
// listed there at depth 0, lands at depth 1 — plus the commit itself at
// depth 0, keeping the minimum known depth on conflict.
func (g *Generator) buildAncestryUpserts(edge AncestryEdge) []Statement {
	rows := []AncestorDepth{{AncestorID: edge.CommitID, Depth: 0}}
	for _, a := range edge.ParentAncestry {
		rows = append(rows, AncestorDepth{AncestorID: a.AncestorID, Depth: a.Depth + 1})
	}

	var params []lixbackend.Value
	var tuples []string
	for _, r := range rows {
		tuples = append(tuples, "(?, ?, ?)")
		params = append(params, lixbackend.Text(edge.CommitID), lixbackend.Text(r.AncestorID), lixbackend.Integer(int64(r.Depth)))
	}

	sql := "INSERT INTO commit_ancestry (commit_id, ancestor_id, depth) VALUES " + joinRows(tuples) +
		" ON CONFLICT (commit_id, ancestor_id) DO UPDATE SET depth = CASE WHEN excluded.depth < commit_ancestry.depth THEN excluded.depth ELSE commit_ancestry.depth END"

	return []Statement{{SQL: sql, Params: params, Label: "ancestry upsert"}}
}
