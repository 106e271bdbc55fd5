// SPDX-License-Identifier: Apache-2.0

// Package state implements §4.G: the state-vtable rewriter, the physical
// rewrite target for every entity write. It splits rows on the resolved
// `untracked` flag, producing either an untracked-overlay upsert or a
// logical commit.DomainChange for the tracked branch.
package state

import (
	"fmt"

	"github.com/lixql/lixql/pkg/commit"
	"github.com/lixql/lixql/pkg/lixbackend"
	"github.com/lixql/lixql/pkg/lixerr"
	"github.com/lixql/lixql/pkg/sqlast"
)

// Row is one logical state-vtable row being inserted.
type Row struct {
	EntityID        string
	SchemaKey       string
	SchemaVersion   string
	FileID          string
	PluginKey       string
	SnapshotContent []byte
	Metadata        []byte
	VersionID       string
	WriterKey       string
	Untracked       bool
}

// InsertPlan is the rewritten output of a state-vtable INSERT (§4.G.1).
type InsertPlan struct {
	UntrackedUpserts []UntrackedUpsert
	TrackedChanges   []commit.DomainChange
}

// UntrackedUpsert is the upsert target for a row whose untracked flag is
// true: keyed on (entity_id, schema_key, file_id, version_id), with
// updated_at bumped (§4.G.1 "Untracked branch").
type UntrackedUpsert struct {
	EntityID        string
	SchemaKey       string
	FileID          string
	VersionID       string
	PluginKey       string
	SnapshotContent []byte // nil marks an untracked tombstone
	Metadata        []byte
	SchemaVersion   string
	UpdatedAt       string
}

// PlanInsert splits rows by their untracked flag. createdAt is the single
// batch timestamp (§4.H "Key properties": "a single value per batch").
func PlanInsert(rows []Row, idGen func() string, createdAt string) (*InsertPlan, error) {
	plan := &InsertPlan{}
	for _, r := range rows {
		if r.Untracked {
			plan.UntrackedUpserts = append(plan.UntrackedUpserts, UntrackedUpsert{
				EntityID:        r.EntityID,
				SchemaKey:       r.SchemaKey,
				FileID:          r.FileID,
				VersionID:       r.VersionID,
				PluginKey:       r.PluginKey,
				SnapshotContent: r.SnapshotContent,
				Metadata:        r.Metadata,
				SchemaVersion:   r.SchemaVersion,
				UpdatedAt:       createdAt,
			})
			continue
		}
		plan.TrackedChanges = append(plan.TrackedChanges, commit.DomainChange{
			ID:              idGen(),
			EntityID:        r.EntityID,
			SchemaKey:       r.SchemaKey,
			SchemaVersion:   r.SchemaVersion,
			FileID:          r.FileID,
			PluginKey:       r.PluginKey,
			SnapshotContent: r.SnapshotContent,
			Metadata:        r.Metadata,
			VersionID:       r.VersionID,
			WriterKey:       r.WriterKey,
			CreatedAt:       createdAt,
		})
	}
	return plan, nil
}

// UntrackedUpsertStatement renders one untracked-overlay upsert (§4.G.1).
func UntrackedUpsertStatement(u UntrackedUpsert) commit.Statement {
	content := lixbackend.Null()
	if u.SnapshotContent != nil {
		content = lixbackend.Blob(u.SnapshotContent)
	}
	metadata := lixbackend.Null()
	if u.Metadata != nil {
		metadata = lixbackend.Blob(u.Metadata)
	}

	sql := `INSERT INTO untracked (entity_id, schema_key, file_id, version_id, plugin_key, snapshot_content, metadata, schema_version, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (entity_id, schema_key, file_id, version_id) DO UPDATE SET
  plugin_key = excluded.plugin_key,
  snapshot_content = excluded.snapshot_content,
  metadata = excluded.metadata,
  schema_version = excluded.schema_version,
  updated_at = excluded.updated_at`

	return commit.Statement{
		SQL: sql,
		Params: []lixbackend.Value{
			lixbackend.Text(u.EntityID), lixbackend.Text(u.SchemaKey), lixbackend.Text(u.FileID),
			lixbackend.Text(u.VersionID), lixbackend.Text(u.PluginKey), content, metadata,
			lixbackend.Text(u.SchemaVersion), lixbackend.Text(u.UpdatedAt),
		},
		Label: "untracked upsert",
	}
}

// allowedUpdateAssignments is the allow-list of §4.G.2: assignment targets
// permitted on a state-vtable UPDATE.
var allowedUpdateAssignments = map[string]bool{
	"entity_id": true, "file_id": true, "version_id": true, "plugin_key": true,
	"schema_version": true, "snapshot_content": true, "metadata": true, "writer_key": true,
}

var rejectedUpdateAssignments = map[string]bool{
	"updated_at": true, "change_id": true, "untracked": true,
}

// ScopeSplit is which physical branch an UPDATE/DELETE targets, determined
// by an `untracked = TRUE/FALSE` predicate (§4.G.2).
type ScopeSplit int

const (
	ScopeMaterialized ScopeSplit = iota
	ScopeUntracked
)

// ValidateUpdate enforces §4.G.2: exactly one literal schema_key predicate,
// an allow-listed assignment set, and a single untracked scope (no mixing).
func ValidateUpdate(whereClause *sqlast.Expr, assignments []sqlast.Assignment) (schemaKey string, scope ScopeSplit, err error) {
	conjuncts := sqlast.SplitConjunction(whereClause)

	var schemaKeys []string
	var untrackedVals []bool
	for _, c := range conjuncts {
		if lit, ok := sqlast.ExtractEqualityLiteral(c, "schema_key"); ok {
			if lit.Text != nil {
				schemaKeys = append(schemaKeys, *lit.Text)
			}
		}
		if lit, ok := sqlast.ExtractEqualityLiteral(c, "untracked"); ok {
			if lit.Boolean != nil {
				untrackedVals = append(untrackedVals, *lit.Boolean)
			}
		}
		if _, ok := sqlast.ExtractInListLiterals(c, "schema_key"); ok {
			return "", 0, lixerr.UnsupportedShapeError{Reason: "schema_key IN (...) on state vtable UPDATE/DELETE"}
		}
		// An OR of untracked equalities names both scopes in one conjunct.
		if c.Kind == sqlast.ExprBinaryOp && c.Op == "OR" {
			for _, side := range []*sqlast.Expr{c.Left, c.Right} {
				if lit, ok := sqlast.ExtractEqualityLiteral(side, "untracked"); ok && lit.Boolean != nil {
					untrackedVals = append(untrackedVals, *lit.Boolean)
				}
			}
		}
	}

	if len(schemaKeys) != 1 {
		return "", 0, lixerr.MissingColumnError{Column: "schema_key (single literal equality predicate required)"}
	}
	if len(untrackedVals) > 1 {
		return "", 0, lixerr.UnsupportedShapeError{Reason: "mixing untracked = TRUE and untracked = FALSE predicates"}
	}

	scope = ScopeMaterialized
	if len(untrackedVals) == 1 && untrackedVals[0] {
		scope = ScopeUntracked
	}

	for _, a := range assignments {
		if rejectedUpdateAssignments[a.Column] {
			return "", 0, lixerr.ImmutableFieldError{Field: a.Column}
		}
		if !allowedUpdateAssignments[a.Column] {
			return "", 0, lixerr.UnknownColumnError{Column: a.Column}
		}
	}

	return schemaKeys[0], scope, nil
}

// MaterializedUpdateStatement renders the UPDATE against
// materialized_<schema_key>, fixing `updated_at` and a RETURNING list the
// commit generator consumes to synthesize follow-on change rows (§4.G.2).
func MaterializedUpdateStatement(schemaKey string, assignments []sqlast.Assignment, where *sqlast.Expr, updatedAt string) commit.Statement {
	table := "materialized_" + schemaKey

	setClauses := make([]string, 0, len(assignments)+1)
	var params []lixbackend.Value
	for _, a := range assignments {
		setClauses = append(setClauses, sqlast.QuoteIdent(a.Column)+" = ?")
		params = append(params, exprToParam(a.Value))
	}
	setClauses = append(setClauses, "updated_at = ?")
	params = append(params, lixbackend.Text(updatedAt))

	sql := fmt.Sprintf("UPDATE %s SET %s", table, joinStrings(setClauses, ", "))
	if where != nil {
		sql += " WHERE " + sqlast.Serialize(sqlast.StripQualifier(where))
	}
	sql += " RETURNING entity_id, schema_key, schema_version, file_id, version_id, plugin_key, snapshot_content, metadata, writer_key, is_tombstone"

	return commit.Statement{SQL: sql, Params: params, Label: "materialized update: " + schemaKey}
}

// SetClause is one `column = <SQL>` assignment for a physical UPDATE whose
// right-hand side is an arbitrary SQL expression rather than a flat bound
// literal — e.g. the json_set/jsonb_set patch expressions the entity-view
// UPDATE rewriter (§4.F.2) builds over snapshot_content.
type SetClause struct {
	Column   string
	ValueSQL string
	Params   []lixbackend.Value
}

// MaterializedPatchStatement renders the UPDATE against
// materialized_<schema_key> the way MaterializedUpdateStatement does, but
// accepts arbitrary SQL-expression assignments instead of flat `column = ?`
// ones, so a caller can fold one or more JSON patches of snapshot_content in
// alongside plain lixcol_* column assignments (§4.F.2).
func MaterializedPatchStatement(schemaKey string, sets []SetClause, where *sqlast.Expr, updatedAt string) commit.Statement {
	table := "materialized_" + schemaKey

	setClauses := make([]string, 0, len(sets)+1)
	var params []lixbackend.Value
	for _, s := range sets {
		setClauses = append(setClauses, sqlast.QuoteIdent(s.Column)+" = "+s.ValueSQL)
		params = append(params, s.Params...)
	}
	setClauses = append(setClauses, "updated_at = ?")
	params = append(params, lixbackend.Text(updatedAt))

	sql := fmt.Sprintf("UPDATE %s SET %s", table, joinStrings(setClauses, ", "))
	if where != nil {
		sql += " WHERE " + sqlast.Serialize(sqlast.StripQualifier(where))
	}
	sql += " RETURNING entity_id, schema_key, schema_version, file_id, version_id, plugin_key, snapshot_content, metadata, writer_key, is_tombstone"

	return commit.Statement{SQL: sql, Params: params, Label: "materialized patch: " + schemaKey}
}

// UntrackedPatchStatement renders the UPDATE against the untracked overlay
// for an entity-view UPDATE whose row is untracked (§4.G.2 "Untracked
// scope"): no RETURNING, since the untracked branch never synthesizes a
// follow-on change row.
func UntrackedPatchStatement(sets []SetClause, where *sqlast.Expr, updatedAt string) commit.Statement {
	setClauses := make([]string, 0, len(sets)+1)
	var params []lixbackend.Value
	for _, s := range sets {
		setClauses = append(setClauses, sqlast.QuoteIdent(s.Column)+" = "+s.ValueSQL)
		params = append(params, s.Params...)
	}
	setClauses = append(setClauses, "updated_at = ?")
	params = append(params, lixbackend.Text(updatedAt))

	sql := fmt.Sprintf("UPDATE untracked SET %s", joinStrings(setClauses, ", "))
	if where != nil {
		sql += " WHERE " + sqlast.Serialize(sqlast.StripQualifier(where))
	}

	return commit.Statement{SQL: sql, Params: params, Label: "untracked patch"}
}

// MaterializedTombstoneStatement renders the DELETE-as-tombstone UPDATE of
// §4.G.3: "produces an update to materialized_<schema_key> setting
// is_tombstone = 1, updated_at = now()".
func MaterializedTombstoneStatement(schemaKey string, where *sqlast.Expr, updatedAt string) commit.Statement {
	table := "materialized_" + schemaKey
	sql := fmt.Sprintf("UPDATE %s SET is_tombstone = 1, updated_at = ?", table)
	params := []lixbackend.Value{lixbackend.Text(updatedAt)}
	if where != nil {
		sql += " WHERE " + sqlast.Serialize(sqlast.StripQualifier(where))
	}
	sql += " RETURNING entity_id, schema_key, schema_version, file_id, version_id, plugin_key, snapshot_content, metadata, writer_key, is_tombstone"
	return commit.Statement{SQL: sql, Params: params, Label: "materialized tombstone: " + schemaKey}
}

// UntrackedDeleteStatement renders the direct DELETE against the untracked
// overlay for the `untracked = TRUE` branch of a DELETE (§4.G.3).
func UntrackedDeleteStatement(where *sqlast.Expr) commit.Statement {
	sql := "DELETE FROM untracked"
	var params []lixbackend.Value
	if where != nil {
		sql += " WHERE " + sqlast.Serialize(sqlast.StripQualifier(where))
	}
	return commit.Statement{SQL: sql, Params: params, Label: "untracked delete"}
}

func exprToParam(e *sqlast.Expr) lixbackend.Value {
	if e == nil || e.Kind != sqlast.ExprLiteral {
		return lixbackend.Null()
	}
	switch {
	case e.Value.Null:
		return lixbackend.Null()
	case e.Value.Boolean != nil:
		return lixbackend.Boolean(*e.Value.Boolean)
	case e.Value.Integer != nil:
		return lixbackend.Integer(*e.Value.Integer)
	case e.Value.Real != nil:
		return lixbackend.Real(*e.Value.Real)
	case e.Value.Text != nil:
		return lixbackend.Text(*e.Value.Text)
	default:
		return lixbackend.Null()
	}
}

func joinStrings(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

// ValidatePlanShape is the reduced logical-plan validation pass of
// SPEC_FULL §5.3: it rejects an emitted statement whose SQL text is empty.
// It does not inspect statement kinds (INSERT/UPDATE/DELETE/SELECT).
func ValidatePlanShape(statements []commit.Statement) error {
	for _, s := range statements {
		if len(s.SQL) == 0 {
			return lixerr.UnsupportedShapeError{Reason: "empty emitted statement"}
		}
	}
	return nil
}
