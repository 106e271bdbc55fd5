// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lixql/lixql/pkg/commit"
	"github.com/lixql/lixql/pkg/lixbackend"
	"github.com/lixql/lixql/pkg/lixerr"
	"github.com/lixql/lixql/pkg/readview"
	"github.com/lixql/lixql/pkg/rewrite/entity"
	"github.com/lixql/lixql/pkg/rewrite/fs"
	"github.com/lixql/lixql/pkg/rewrite/state"
	"github.com/lixql/lixql/pkg/schema"
	"github.com/lixql/lixql/pkg/sqlast"
	"github.com/lixql/lixql/pkg/timeline"
)

// Engine is the process-wide rewrite entry point: it owns the schema
// catalog, the id/timestamp provider, and the configured dialect, and wires
// together the per-component rewriters (entity -> state -> commit) the way
// pkg/roll.Roll wires migration start/complete around the teacher's own
// per-operation rewriters.
type Engine struct {
	Catalog   *schema.Catalog
	Provider  lixbackend.FunctionProvider
	Dialect   lixbackend.Dialect
	WriterKey string
	Logger    Logger

	// Backend is optional: RewriteEntityInsert and ExpandReadView need no
	// backend at all. RewriteEntityUpdate/Delete, the filesystem rewriters,
	// and history-view reads do, and return a BackendFailureError if it is
	// nil when one of those is called.
	Backend lixbackend.Backend
}

func NewEngine(catalog *schema.Catalog, provider lixbackend.FunctionProvider, dialect lixbackend.Dialect, writerKey string) *Engine {
	return &Engine{Catalog: catalog, Provider: provider, Dialect: dialect, WriterKey: writerKey, Logger: NewNoopLogger()}
}

// RewriteResult is a fully rewritten batch of physical statements, ready to
// be printed or executed under a single transaction (§5 "every rewrite and
// the statements it emits are ordered and executed under a single logical
// transaction"). Statements appear in final execution order; the original
// user statement is not among them.
type RewriteResult struct {
	SchemaKey  string
	EntityID   string
	Statements []commit.Statement
}

// RewriteEntityInsert rewrites a single-row INSERT against an entity view
// (§4.F.1 into §4.G.1 into §4.H), entirely offline: it consumes only literal
// values out of the parsed statement, so it needs no backend round trip.
// Bound parameters ($1, ?) are rejected here; a connected caller resolves
// those against its own parameter list before calling in.
func (e *Engine) RewriteEntityInsert(schemaKey string, stmt *sqlast.Statement, versionID string, untracked bool) (*RewriteResult, error) {
	return e.rewriteEntityInsert(schemaKey, stmt, versionID, untracked, nil)
}

// RewriteEntityInsertWithAncestry is the commit-creating sibling of
// RewriteEntityInsert (§3 "Commit, commit-edge, commit-ancestry"; §4.H
// "Output: ... (d) commit/edge/ancestry upserts where applicable"): in
// addition to the usual snapshot/change/materialized statements, it emits
// the commit row itself, the commit_edge row linking it to its parent (if
// edge.ParentID is non-empty), and the transitively-expanded
// commit_ancestry rows, by passing a real AncestryEdge into the generator
// instead of nil. The caller supplies the parent commit's own ancestry
// (e.g. read back from commit_ancestry by a connected cmd/commit.go), since
// computing it is a backend concern outside this offline rewriter.
func (e *Engine) RewriteEntityInsertWithAncestry(schemaKey string, stmt *sqlast.Statement, versionID string, untracked bool, edge commit.AncestryEdge) (*RewriteResult, error) {
	return e.rewriteEntityInsert(schemaKey, stmt, versionID, untracked, &edge)
}

func (e *Engine) rewriteEntityInsert(schemaKey string, stmt *sqlast.Statement, versionID string, untracked bool, edge *commit.AncestryEdge) (*RewriteResult, error) {
	table, ok := e.Catalog.Lookup(schemaKey)
	if !ok {
		return nil, lixerr.UnknownColumnError{Column: "schema " + schemaKey}
	}
	e.Logger.LogStatementClassified(schemaKey, "insert")

	if len(stmt.Rows) != 1 {
		return nil, lixerr.UnsupportedShapeError{Reason: "entity-view INSERT with row count != 1"}
	}
	if len(stmt.Columns) != len(stmt.Rows[0].Values) {
		return nil, lixerr.UnsupportedShapeError{Reason: "column list / VALUES arity mismatch"}
	}

	var explicitEntityID string
	columns := make([]entity.ColumnValue, 0, len(stmt.Columns))
	for i, col := range stmt.Columns {
		val := stmt.Rows[0].Values[i]
		unwrapped, wrapped := entity.UnwrapLixJSON(val)
		columns = append(columns, entity.ColumnValue{Column: col, Value: unwrapped, WrappedJSON: wrapped})
		if (col == "id" || col == "entity_id") && val.Kind == sqlast.ExprLiteral && val.Value.Text != nil {
			explicitEntityID = *val.Value.Text
		}
	}

	plan, err := entity.PlanInsert(table, columns, explicitEntityID, "", "", e.WriterKey, versionID, untracked, resolveLiteralOnly)
	if err != nil {
		return nil, err
	}

	createdAt := e.Provider.Timestamp()
	statePlan, err := state.PlanInsert([]state.Row{plan.Row}, e.Provider.UUIDv7, createdAt)
	if err != nil {
		return nil, err
	}

	var statements []commit.Statement
	for _, u := range statePlan.UntrackedUpserts {
		statements = append(statements, state.UntrackedUpsertStatement(u))
	}
	if len(statePlan.TrackedChanges) > 0 || edge != nil {
		gen := commit.NewGenerator(e.Dialect, e.Provider)
		gen.VersionGate = e.schemaVersionGate
		batch, err := gen.Generate(statePlan.TrackedChanges, edge)
		if err != nil {
			return nil, err
		}
		e.Logger.LogCommitGenerated(len(statePlan.TrackedChanges))
		statements = append(statements, batch.Statements()...)
	}

	if err := state.ValidatePlanShape(statements); err != nil {
		return nil, err
	}
	e.Logger.LogRewriteEmitted(len(statements))

	return &RewriteResult{SchemaKey: schemaKey, EntityID: plan.Row.EntityID, Statements: statements}, nil
}

// RewriteEntityUpdate rewrites a single-row UPDATE against an entity view
// (§4.F.2 into §4.G.2 into §4.H). Unlike RewriteEntityInsert this needs a
// live backend: the materialized patch's RETURNING row supplies the
// post-patch snapshot the commit generator consumes to synthesize the
// follow-on change row (state.MaterializedPatchStatement's own doc
// comment), so the physical UPDATE must execute before the downstream
// change/snapshot statements can even be built.
func (e *Engine) RewriteEntityUpdate(ctx context.Context, schemaKey string, stmt *sqlast.Statement, versionID string, untracked bool) (*RewriteResult, error) {
	table, ok := e.Catalog.Lookup(schemaKey)
	if !ok {
		return nil, lixerr.UnknownColumnError{Column: "schema " + schemaKey}
	}
	if e.Backend == nil {
		return nil, lixerr.BackendFailureError{Stage: "entity update", Err: fmt.Errorf("engine has no backend configured")}
	}
	e.Logger.LogStatementClassified(schemaKey, "update")

	plan, err := entity.PlanUpdate(e.Dialect, table, stmt.Assignments, stmt.Where, resolveLiteralOnly)
	if err != nil {
		return nil, err
	}

	updatedAt := e.Provider.Timestamp()
	scopedWhere := sqlast.Binary("AND", plan.Where, sqlast.Binary("=", sqlast.Column("version_id"), sqlast.Lit(sqlast.LiteralText(versionID))))

	if untracked {
		stmtOut := state.UntrackedPatchStatement(plan.Sets, sqlast.Binary("AND", scopedWhere, sqlast.Binary("=", sqlast.Column("schema_key"), sqlast.Lit(sqlast.LiteralText(schemaKey)))), updatedAt)
		if _, err := e.Backend.Execute(ctx, stmtOut.SQL, stmtOut.Params); err != nil {
			return nil, lixerr.BackendFailureError{Stage: "untracked patch", Err: err}
		}
		e.Logger.LogRewriteEmitted(1)
		return &RewriteResult{SchemaKey: schemaKey, EntityID: plan.EntityID, Statements: []commit.Statement{stmtOut}}, nil
	}

	patchStmt := state.MaterializedPatchStatement(schemaKey, plan.Sets, scopedWhere, updatedAt)
	result, err := e.Backend.Execute(ctx, patchStmt.SQL, patchStmt.Params)
	if err != nil {
		return nil, lixerr.BackendFailureError{Stage: "materialized patch", Err: err}
	}
	if len(result.Rows) == 0 {
		return nil, lixerr.UnsupportedShapeError{Reason: "entity-view UPDATE matched no row"}
	}

	change := domainChangeFromRow(result, 0, e.Provider.UUIDv7(), e.WriterKey, updatedAt, false)

	gen := commit.NewGenerator(e.Dialect, e.Provider)
	gen.VersionGate = e.schemaVersionGate
	batch, err := gen.Generate([]commit.DomainChange{change}, nil)
	if err != nil {
		return nil, err
	}
	e.Logger.LogCommitGenerated(1)

	for _, s := range batch.Statements() {
		if _, err := e.Backend.Execute(ctx, s.SQL, s.Params); err != nil {
			return nil, lixerr.BackendFailureError{Stage: "commit batch", Err: err}
		}
	}

	statements := append([]commit.Statement{patchStmt}, batch.Statements()...)
	if err := state.ValidatePlanShape(statements); err != nil {
		return nil, err
	}
	e.Logger.LogRewriteEmitted(len(statements))

	return &RewriteResult{SchemaKey: schemaKey, EntityID: plan.EntityID, Statements: statements}, nil
}

// RewriteEntityDelete rewrites a single-row DELETE against an entity view
// (§4.F.2 into §4.G.3 into §4.H): a tracked row is tombstoned in place
// (is_tombstone = 1) and its tombstone recorded as a follow-on change with a
// nil snapshot; an untracked row is removed from the overlay outright.
func (e *Engine) RewriteEntityDelete(ctx context.Context, schemaKey string, stmt *sqlast.Statement, versionID string, untracked bool) (*RewriteResult, error) {
	table, ok := e.Catalog.Lookup(schemaKey)
	if !ok {
		return nil, lixerr.UnknownColumnError{Column: "schema " + schemaKey}
	}
	if e.Backend == nil {
		return nil, lixerr.BackendFailureError{Stage: "entity delete", Err: fmt.Errorf("engine has no backend configured")}
	}
	e.Logger.LogStatementClassified(schemaKey, "delete")

	plan, err := entity.PlanDelete(table, stmt.Where)
	if err != nil {
		return nil, err
	}

	updatedAt := e.Provider.Timestamp()
	scopedWhere := sqlast.Binary("AND", plan.Where, sqlast.Binary("=", sqlast.Column("version_id"), sqlast.Lit(sqlast.LiteralText(versionID))))

	if untracked {
		del := state.UntrackedDeleteStatement(sqlast.Binary("AND", scopedWhere, sqlast.Binary("=", sqlast.Column("schema_key"), sqlast.Lit(sqlast.LiteralText(schemaKey)))))
		if _, err := e.Backend.Execute(ctx, del.SQL, del.Params); err != nil {
			return nil, lixerr.BackendFailureError{Stage: "untracked delete", Err: err}
		}
		e.Logger.LogRewriteEmitted(1)
		return &RewriteResult{SchemaKey: schemaKey, EntityID: plan.EntityID, Statements: []commit.Statement{del}}, nil
	}

	tombStmt := state.MaterializedTombstoneStatement(schemaKey, scopedWhere, updatedAt)
	result, err := e.Backend.Execute(ctx, tombStmt.SQL, tombStmt.Params)
	if err != nil {
		return nil, lixerr.BackendFailureError{Stage: "materialized tombstone", Err: err}
	}
	if len(result.Rows) == 0 {
		return nil, lixerr.UnsupportedShapeError{Reason: "entity-view DELETE matched no row"}
	}

	change := domainChangeFromRow(result, 0, e.Provider.UUIDv7(), e.WriterKey, updatedAt, true)

	gen := commit.NewGenerator(e.Dialect, e.Provider)
	gen.VersionGate = e.schemaVersionGate
	batch, err := gen.Generate([]commit.DomainChange{change}, nil)
	if err != nil {
		return nil, err
	}
	e.Logger.LogCommitGenerated(1)

	for _, s := range batch.Statements() {
		if _, err := e.Backend.Execute(ctx, s.SQL, s.Params); err != nil {
			return nil, lixerr.BackendFailureError{Stage: "commit batch", Err: err}
		}
	}

	statements := append([]commit.Statement{tombStmt}, batch.Statements()...)
	if err := state.ValidatePlanShape(statements); err != nil {
		return nil, err
	}
	e.Logger.LogRewriteEmitted(len(statements))

	return &RewriteResult{SchemaKey: schemaKey, EntityID: plan.EntityID, Statements: statements}, nil
}

// domainChangeFromRow maps one row of a materialized UPDATE/tombstone's
// RETURNING result back into the logical DomainChange the commit generator
// needs to synthesize the follow-on change/snapshot statements. tombstone
// forces a nil snapshot regardless of what the row returned, since a
// DELETE's change row always records "no-content" (§3 "Change").
func domainChangeFromRow(result lixbackend.QueryResult, row int, id, writerKey, createdAt string, tombstone bool) commit.DomainChange {
	get := func(name string) lixbackend.Value {
		for i, c := range result.Columns {
			if c == name {
				return result.Rows[row][i]
			}
		}
		return lixbackend.Null()
	}

	entityID, _ := get("entity_id").AsText()
	schemaKey, _ := get("schema_key").AsText()
	schemaVersion, _ := get("schema_version").AsText()
	fileID, _ := get("file_id").AsText()
	versionID, _ := get("version_id").AsText()
	pluginKey, _ := get("plugin_key").AsText()

	var metadata []byte
	if b, ok := get("metadata").AsBlob(); ok {
		metadata = b
	} else if t, ok := get("metadata").AsText(); ok {
		metadata = []byte(t)
	}

	var snapshot []byte
	if !tombstone {
		if b, ok := get("snapshot_content").AsBlob(); ok {
			snapshot = b
		} else if t, ok := get("snapshot_content").AsText(); ok {
			snapshot = []byte(t)
		}
	}

	return commit.DomainChange{
		ID: id, EntityID: entityID, SchemaKey: schemaKey, SchemaVersion: schemaVersion,
		FileID: fileID, PluginKey: pluginKey, SnapshotContent: snapshot, Metadata: metadata,
		VersionID: versionID, WriterKey: writerKey, CreatedAt: createdAt,
	}
}

// statementsForRows drives the shared "split on untracked -> commit-generate
// the tracked half" pipeline (§4.G.1 into §4.H) that both the filesystem
// insert rewriters below and RewriteEntityInsert need. gate is nil for
// filesystem rows: lix_file_descriptor/lix_directory_descriptor are core
// descriptor schemas, never registered in the catalog a schema_version gate
// checks against.
func (e *Engine) statementsForRows(rows []state.Row, gate func(string, string) error) ([]commit.Statement, error) {
	createdAt := e.Provider.Timestamp()
	statePlan, err := state.PlanInsert(rows, e.Provider.UUIDv7, createdAt)
	if err != nil {
		return nil, err
	}

	var statements []commit.Statement
	for _, u := range statePlan.UntrackedUpserts {
		statements = append(statements, state.UntrackedUpsertStatement(u))
	}
	if len(statePlan.TrackedChanges) > 0 {
		gen := commit.NewGenerator(e.Dialect, e.Provider)
		gen.VersionGate = gate
		batch, err := gen.Generate(statePlan.TrackedChanges, nil)
		if err != nil {
			return nil, err
		}
		e.Logger.LogCommitGenerated(len(statePlan.TrackedChanges))
		statements = append(statements, batch.Statements()...)
	}

	if err := state.ValidatePlanShape(statements); err != nil {
		return nil, err
	}
	e.Logger.LogRewriteEmitted(len(statements))
	return statements, nil
}

// directoryRow builds the descriptor state.Row a directory insert/auto-create
// writes. Its snapshot holds `name` and, for a non-root directory, the parent
// id under `directory_id` (the key the read views and BackendLookup join
// on); it writes no `parent_id` or `hidden` key.
func directoryRow(entityID, parentID, name, versionID, writerKey string, untracked bool) state.Row {
	snapshot := map[string]any{"name": name}
	if parentID != "" {
		snapshot["directory_id"] = parentID
	}
	content, _ := json.Marshal(snapshot)
	return state.Row{
		EntityID: entityID, SchemaKey: fs.DirectoryDescriptorSchemaKey, SchemaVersion: "1",
		SnapshotContent: content, VersionID: versionID, WriterKey: writerKey, Untracked: untracked,
	}
}

// fileRow builds the descriptor state.Row a file insert writes (§6.4 "file
// descriptors use {id, directory_id, name, extension, hidden}").
func fileRow(entityID, directoryID, name, extension string, hidden bool, versionID, writerKey string, untracked bool) state.Row {
	snapshot := map[string]any{"name": name}
	if directoryID != "" {
		snapshot["directory_id"] = directoryID
	}
	if extension != "" {
		snapshot["extension"] = extension
	}
	if hidden {
		snapshot["hidden"] = true
	}
	content, _ := json.Marshal(snapshot)
	return state.Row{
		EntityID: entityID, SchemaKey: fs.FileDescriptorSchemaKey, SchemaVersion: "1",
		SnapshotContent: content, VersionID: versionID, WriterKey: writerKey, Untracked: untracked,
	}
}

// resolveFsEntityID extracts the explicit id/entity_id literal equality a
// filesystem UPDATE/DELETE's WHERE clause must carry: unlike
// entity.ResolveEntityIDFromWhere, a descriptor row has no schema.Table/
// primary-key shape to fall back on.
func resolveFsEntityID(where *sqlast.Expr) (string, error) {
	for _, c := range sqlast.SplitConjunction(where) {
		if lit, ok := sqlast.ExtractEqualityLiteral(c, "id"); ok && lit.Text != nil {
			return *lit.Text, nil
		}
		if lit, ok := sqlast.ExtractEqualityLiteral(c, "entity_id"); ok && lit.Text != nil {
			return *lit.Text, nil
		}
	}
	return "", lixerr.MissingColumnError{Column: "id/entity_id"}
}

// dataBytes converts a resolveLiteralOnly result into the raw bytes a
// file's `data`/`metadata` literal carries.
func dataBytes(v any) []byte {
	switch tv := v.(type) {
	case string:
		return []byte(tv)
	case map[string]any, []any:
		b, _ := json.Marshal(tv)
		return b
	default:
		return nil
	}
}

// literalAssignmentValue renders one state-vtable assignment's literal
// right-hand side as a bound backend value, the same conversion
// pkg/rewrite/state's own (unexported) exprToParam performs.
func literalAssignmentValue(e *sqlast.Expr) lixbackend.Value {
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

// RewriteFileInsert rewrites an INSERT against the lix_file view (§4.E.1):
// it resolves (and, where missing, auto-creates) the ancestor directory
// chain via a live backend lookup, then lowers to the same descriptor
// state.Row shape an entity insert would produce.
func (e *Engine) RewriteFileInsert(ctx context.Context, stmt *sqlast.Statement, versionID string, untracked bool) (*RewriteResult, error) {
	if e.Backend == nil {
		return nil, lixerr.BackendFailureError{Stage: "file insert", Err: fmt.Errorf("engine has no backend configured")}
	}
	if len(stmt.Rows) != 1 {
		return nil, lixerr.UnsupportedShapeError{Reason: "file INSERT with row count != 1"}
	}
	if len(stmt.Columns) != len(stmt.Rows[0].Values) {
		return nil, lixerr.UnsupportedShapeError{Reason: "column list / VALUES arity mismatch"}
	}
	e.Logger.LogStatementClassified(fs.FileDescriptorSchemaKey, "insert")

	req := fs.FileInsertRequest{VersionID: versionID, Untracked: untracked}
	for i, col := range stmt.Columns {
		val, err := resolveLiteralOnly(stmt.Rows[0].Values[i])
		if err != nil {
			return nil, err
		}
		switch col {
		case "id":
			if s, ok := val.(string); ok {
				req.ID = s
			}
		case "path":
			if s, ok := val.(string); ok {
				req.Path = s
			}
		case "data":
			req.Data = dataBytes(val)
		case "metadata":
			req.Metadata = dataBytes(val)
		case "hidden":
			if b, ok := val.(bool); ok {
				req.Hidden = b
			}
		}
	}

	lookup := NewBackendLookup(e.Backend, e.Dialect)
	plan, err := fs.PlanFileInsert(ctx, lookup, req, func(string) bool { return untracked }, e.Provider.UUIDv7)
	if err != nil {
		return nil, err
	}

	rows := make([]state.Row, 0, len(plan.Ancestors)+1)
	for _, a := range plan.Ancestors {
		rows = append(rows, directoryRow(a.ID, a.ParentID, a.Name, a.VersionID, e.WriterKey, a.Untracked))
	}
	rows = append(rows, fileRow(plan.EntityID, plan.DirectoryID, plan.Name, plan.Extension, req.Hidden, versionID, e.WriterKey, untracked))

	statements, err := e.statementsForRows(rows, nil)
	if err != nil {
		return nil, err
	}
	return &RewriteResult{SchemaKey: fs.FileDescriptorSchemaKey, EntityID: plan.EntityID, Statements: statements}, nil
}

// RewriteDirectoryInsert rewrites an INSERT against the lix_directory view,
// symmetric with RewriteFileInsert (§4.E.1 "Directory insert is symmetric").
func (e *Engine) RewriteDirectoryInsert(ctx context.Context, stmt *sqlast.Statement, versionID string, untracked bool) (*RewriteResult, error) {
	if e.Backend == nil {
		return nil, lixerr.BackendFailureError{Stage: "directory insert", Err: fmt.Errorf("engine has no backend configured")}
	}
	if len(stmt.Rows) != 1 {
		return nil, lixerr.UnsupportedShapeError{Reason: "directory INSERT with row count != 1"}
	}
	if len(stmt.Columns) != len(stmt.Rows[0].Values) {
		return nil, lixerr.UnsupportedShapeError{Reason: "column list / VALUES arity mismatch"}
	}
	e.Logger.LogStatementClassified(fs.DirectoryDescriptorSchemaKey, "insert")

	req := fs.DirectoryInsertRequest{VersionID: versionID, Untracked: untracked}
	for i, col := range stmt.Columns {
		val, err := resolveLiteralOnly(stmt.Rows[0].Values[i])
		if err != nil {
			return nil, err
		}
		switch col {
		case "id":
			if s, ok := val.(string); ok {
				req.ID = s
			}
		case "path":
			if s, ok := val.(string); ok {
				req.Path = s
			}
		case "parent_id":
			if s, ok := val.(string); ok {
				req.ParentID = s
			}
		case "name":
			if s, ok := val.(string); ok {
				req.Name = s
			}
		case "hidden":
			if b, ok := val.(bool); ok {
				req.Hidden = b
			}
		}
	}

	lookup := NewBackendLookup(e.Backend, e.Dialect)
	plan, err := fs.PlanDirectoryInsert(ctx, lookup, req, e.Provider.UUIDv7)
	if err != nil {
		return nil, err
	}

	row := directoryRow(plan.EntityID, plan.ParentID, plan.Name, versionID, e.WriterKey, untracked)
	statements, err := e.statementsForRows([]state.Row{row}, nil)
	if err != nil {
		return nil, err
	}
	return &RewriteResult{SchemaKey: fs.DirectoryDescriptorSchemaKey, EntityID: plan.EntityID, Statements: statements}, nil
}

// RewriteFileDelete tombstones a single file descriptor (§4.E.3's file leg).
// Unlike RewriteEntityDelete it synthesizes no follow-on change row: the
// cascade-delete path this mirrors (fs.CascadeDeleteStatements) is itself a
// maintenance-only tombstone UPDATE with no RETURNING, and a single-file
// delete follows the same descriptor-only convention for consistency.
func (e *Engine) RewriteFileDelete(ctx context.Context, stmt *sqlast.Statement, versionID string) (*RewriteResult, error) {
	if e.Backend == nil {
		return nil, lixerr.BackendFailureError{Stage: "file delete", Err: fmt.Errorf("engine has no backend configured")}
	}
	entityID, err := resolveFsEntityID(stmt.Where)
	if err != nil {
		return nil, err
	}
	e.Logger.LogStatementClassified(fs.FileDescriptorSchemaKey, "delete")

	where := sqlast.Binary("AND",
		sqlast.Binary("=", sqlast.Column("entity_id"), sqlast.Lit(sqlast.LiteralText(entityID))),
		sqlast.Binary("=", sqlast.Column("version_id"), sqlast.Lit(sqlast.LiteralText(versionID))))
	tombStmt := state.MaterializedTombstoneStatement(fs.FileDescriptorSchemaKey, where, e.Provider.Timestamp())
	if _, err := e.Backend.Execute(ctx, tombStmt.SQL, tombStmt.Params); err != nil {
		return nil, lixerr.BackendFailureError{Stage: "file tombstone", Err: err}
	}
	e.Logger.LogRewriteEmitted(1)
	return &RewriteResult{SchemaKey: fs.FileDescriptorSchemaKey, EntityID: entityID, Statements: []commit.Statement{tombStmt}}, nil
}

// RewriteDirectoryDelete cascades a directory delete across its full
// descendant subtree (§4.E.3), walking child directories/files via a live
// BackendLookup and tombstoning every descriptor the walk reaches.
func (e *Engine) RewriteDirectoryDelete(ctx context.Context, stmt *sqlast.Statement, versionID string) (*RewriteResult, error) {
	if e.Backend == nil {
		return nil, lixerr.BackendFailureError{Stage: "directory delete", Err: fmt.Errorf("engine has no backend configured")}
	}
	rootID, err := resolveFsEntityID(stmt.Where)
	if err != nil {
		return nil, err
	}
	e.Logger.LogStatementClassified(fs.DirectoryDescriptorSchemaKey, "delete")

	lookup := NewBackendLookup(e.Backend, e.Dialect)
	expansion, err := fs.ExpandDirectoryDelete(ctx, lookup, versionID, []string{rootID})
	if err != nil {
		return nil, err
	}
	statements := fs.CascadeDeleteStatements(expansion)
	for _, s := range statements {
		if _, err := e.Backend.Execute(ctx, s.SQL, s.Params); err != nil {
			return nil, lixerr.BackendFailureError{Stage: "directory cascade delete", Err: err}
		}
	}
	e.Logger.LogRewriteEmitted(len(statements))
	return &RewriteResult{SchemaKey: fs.DirectoryDescriptorSchemaKey, EntityID: rootID, Statements: statements}, nil
}

// RewriteFileUpdate rewrites an UPDATE against the lix_file view (§4.E.2): a
// `data`-only assignment set lowers to a no-op statement (the data bytes
// are not written anywhere), and a `path` reassignment fully recomputes
// (directory_id, name, extension) via the same ancestor-resolution/
// uniqueness machinery as an insert, auto-creating ancestors as needed.
// Every other assignment is set as a flat `column = ?` on the descriptor row.
func (e *Engine) RewriteFileUpdate(ctx context.Context, stmt *sqlast.Statement, versionID string, untracked bool) (*RewriteResult, error) {
	if e.Backend == nil {
		return nil, lixerr.BackendFailureError{Stage: "file update", Err: fmt.Errorf("engine has no backend configured")}
	}
	if err := fs.RejectImmutableAssignment(stmt.Assignments); err != nil {
		return nil, err
	}
	e.Logger.LogStatementClassified(fs.FileDescriptorSchemaKey, "update")

	columns := make([]string, 0, len(stmt.Assignments))
	for _, a := range stmt.Assignments {
		columns = append(columns, a.Column)
	}
	if fs.DataOnlyUpdateIsNoop(columns) {
		if err := fs.RejectNonLiteralDataAssignment(stmt.Assignments[0].Value); err != nil {
			return nil, err
		}
		noop := commit.Statement{SQL: fs.TautologicallyFalseSelect, Label: "file data-only update (no-op)"}
		if _, err := e.Backend.Execute(ctx, noop.SQL, nil); err != nil {
			return nil, lixerr.BackendFailureError{Stage: "file data-only update", Err: err}
		}
		e.Logger.LogRewriteEmitted(1)
		return &RewriteResult{SchemaKey: fs.FileDescriptorSchemaKey, Statements: []commit.Statement{noop}}, nil
	}

	entityID, err := resolveFsEntityID(stmt.Where)
	if err != nil {
		return nil, err
	}

	lookup := NewBackendLookup(e.Backend, e.Dialect)
	var ancestorRows []state.Row
	var sets []state.SetClause
	patchExpr := "snapshot_content"
	var patchParams []lixbackend.Value
	havePatch := false

	for _, a := range stmt.Assignments {
		switch a.Column {
		case "path":
			raw, err := resolveLiteralOnly(a.Value)
			if err != nil {
				return nil, err
			}
			newPath, _ := raw.(string)
			plan, err := fs.PlanFileMove(ctx, lookup, fs.PathUpdateRequest{EntityID: entityID, NewPath: newPath, VersionID: versionID}, untracked)
			if err != nil {
				return nil, err
			}
			for _, anc := range plan.Ancestors {
				ancestorRows = append(ancestorRows, directoryRow(anc.ID, anc.ParentID, anc.Name, anc.VersionID, e.WriterKey, anc.Untracked))
			}
			patchExpr = sqlast.JSONSetExpr(e.Dialect, patchExpr, "directory_id", "?")
			patchParams = append(patchParams, lixbackend.Text(plan.DirectoryID))
			patchExpr = sqlast.JSONSetExpr(e.Dialect, patchExpr, "name", "?")
			patchParams = append(patchParams, lixbackend.Text(plan.Name))
			patchExpr = sqlast.JSONSetExpr(e.Dialect, patchExpr, "extension", "?")
			patchParams = append(patchParams, lixbackend.Text(plan.Extension))
			havePatch = true
		case "data":
			if err := fs.RejectNonLiteralDataAssignment(a.Value); err != nil {
				return nil, err
			}
		default:
			sets = append(sets, state.SetClause{Column: a.Column, ValueSQL: "?", Params: []lixbackend.Value{literalAssignmentValue(a.Value)}})
		}
	}
	if havePatch {
		sets = append(sets, state.SetClause{Column: "snapshot_content", ValueSQL: patchExpr, Params: patchParams})
	}

	var statements []commit.Statement
	for _, r := range ancestorRows {
		rowStatements, err := e.statementsForRows([]state.Row{r}, nil)
		if err != nil {
			return nil, err
		}
		statements = append(statements, rowStatements...)
	}

	scopedWhere := sqlast.Binary("AND",
		sqlast.Binary("=", sqlast.Column("entity_id"), sqlast.Lit(sqlast.LiteralText(entityID))),
		sqlast.Binary("=", sqlast.Column("version_id"), sqlast.Lit(sqlast.LiteralText(versionID))))
	updatedAt := e.Provider.Timestamp()

	if untracked {
		stmtOut := state.UntrackedPatchStatement(sets, sqlast.Binary("AND", scopedWhere, sqlast.Binary("=", sqlast.Column("schema_key"), sqlast.Lit(sqlast.LiteralText(fs.FileDescriptorSchemaKey)))), updatedAt)
		if _, err := e.Backend.Execute(ctx, stmtOut.SQL, stmtOut.Params); err != nil {
			return nil, lixerr.BackendFailureError{Stage: "untracked file patch", Err: err}
		}
		statements = append(statements, stmtOut)
		e.Logger.LogRewriteEmitted(len(statements))
		return &RewriteResult{SchemaKey: fs.FileDescriptorSchemaKey, EntityID: entityID, Statements: statements}, nil
	}

	patchStmt := state.MaterializedPatchStatement(fs.FileDescriptorSchemaKey, sets, scopedWhere, updatedAt)
	result, err := e.Backend.Execute(ctx, patchStmt.SQL, patchStmt.Params)
	if err != nil {
		return nil, lixerr.BackendFailureError{Stage: "materialized file patch", Err: err}
	}
	if len(result.Rows) == 0 {
		return nil, lixerr.UnsupportedShapeError{Reason: "file UPDATE matched no row"}
	}

	change := domainChangeFromRow(result, 0, e.Provider.UUIDv7(), e.WriterKey, updatedAt, false)
	gen := commit.NewGenerator(e.Dialect, e.Provider)
	batch, err := gen.Generate([]commit.DomainChange{change}, nil)
	if err != nil {
		return nil, err
	}
	e.Logger.LogCommitGenerated(1)
	for _, s := range batch.Statements() {
		if _, err := e.Backend.Execute(ctx, s.SQL, s.Params); err != nil {
			return nil, lixerr.BackendFailureError{Stage: "commit batch", Err: err}
		}
	}

	statements = append(statements, patchStmt)
	statements = append(statements, batch.Statements()...)
	e.Logger.LogRewriteEmitted(len(statements))
	return &RewriteResult{SchemaKey: fs.FileDescriptorSchemaKey, EntityID: entityID, Statements: statements}, nil
}

// RewriteStateUpdate rewrites a direct UPDATE against the lix_state /
// lix_state_by_version vtable (§4.G.2) — the vtable-level write path, as
// opposed to an entity view: the WHERE clause must carry exactly one literal
// schema_key predicate and an optional untracked scope predicate, which
// ValidateUpdate extracts and MaterializedUpdateStatement/
// UntrackedPatchStatement consume directly.
func (e *Engine) RewriteStateUpdate(ctx context.Context, stmt *sqlast.Statement) (*RewriteResult, error) {
	if e.Backend == nil {
		return nil, lixerr.BackendFailureError{Stage: "state update", Err: fmt.Errorf("engine has no backend configured")}
	}
	schemaKey, scope, err := state.ValidateUpdate(stmt.Where, stmt.Assignments)
	if err != nil {
		return nil, err
	}
	e.Logger.LogStatementClassified(schemaKey, "update")
	updatedAt := e.Provider.Timestamp()

	if scope == state.ScopeUntracked {
		sets := make([]state.SetClause, 0, len(stmt.Assignments))
		for _, a := range stmt.Assignments {
			sets = append(sets, state.SetClause{Column: a.Column, ValueSQL: "?", Params: []lixbackend.Value{literalAssignmentValue(a.Value)}})
		}
		stmtOut := state.UntrackedPatchStatement(sets, stmt.Where, updatedAt)
		if _, err := e.Backend.Execute(ctx, stmtOut.SQL, stmtOut.Params); err != nil {
			return nil, lixerr.BackendFailureError{Stage: "untracked state update", Err: err}
		}
		e.Logger.LogRewriteEmitted(1)
		return &RewriteResult{SchemaKey: schemaKey, Statements: []commit.Statement{stmtOut}}, nil
	}

	updateStmt := state.MaterializedUpdateStatement(schemaKey, stmt.Assignments, stmt.Where, updatedAt)
	result, err := e.Backend.Execute(ctx, updateStmt.SQL, updateStmt.Params)
	if err != nil {
		return nil, lixerr.BackendFailureError{Stage: "materialized state update", Err: err}
	}
	if len(result.Rows) == 0 {
		return nil, lixerr.UnsupportedShapeError{Reason: "state UPDATE matched no row"}
	}

	change := domainChangeFromRow(result, 0, e.Provider.UUIDv7(), e.WriterKey, updatedAt, false)
	gen := commit.NewGenerator(e.Dialect, e.Provider)
	gen.VersionGate = e.schemaVersionGate
	batch, err := gen.Generate([]commit.DomainChange{change}, nil)
	if err != nil {
		return nil, err
	}
	e.Logger.LogCommitGenerated(1)
	for _, s := range batch.Statements() {
		if _, err := e.Backend.Execute(ctx, s.SQL, s.Params); err != nil {
			return nil, lixerr.BackendFailureError{Stage: "commit batch", Err: err}
		}
	}

	statements := append([]commit.Statement{updateStmt}, batch.Statements()...)
	if err := state.ValidatePlanShape(statements); err != nil {
		return nil, err
	}
	e.Logger.LogRewriteEmitted(len(statements))
	return &RewriteResult{SchemaKey: schemaKey, EntityID: change.EntityID, Statements: statements}, nil
}

// RewriteStateDelete rewrites a direct DELETE against the lix_state /
// lix_state_by_version vtable, reusing ValidateUpdate for its identical
// schema_key/untracked WHERE-clause shape (§4.G.3) with an empty assignment
// list, since DELETE carries none to check.
func (e *Engine) RewriteStateDelete(ctx context.Context, stmt *sqlast.Statement) (*RewriteResult, error) {
	if e.Backend == nil {
		return nil, lixerr.BackendFailureError{Stage: "state delete", Err: fmt.Errorf("engine has no backend configured")}
	}
	schemaKey, scope, err := state.ValidateUpdate(stmt.Where, nil)
	if err != nil {
		return nil, err
	}
	e.Logger.LogStatementClassified(schemaKey, "delete")
	updatedAt := e.Provider.Timestamp()

	if scope == state.ScopeUntracked {
		del := state.UntrackedDeleteStatement(stmt.Where)
		if _, err := e.Backend.Execute(ctx, del.SQL, del.Params); err != nil {
			return nil, lixerr.BackendFailureError{Stage: "untracked state delete", Err: err}
		}
		e.Logger.LogRewriteEmitted(1)
		return &RewriteResult{SchemaKey: schemaKey, Statements: []commit.Statement{del}}, nil
	}

	tombStmt := state.MaterializedTombstoneStatement(schemaKey, stmt.Where, updatedAt)
	result, err := e.Backend.Execute(ctx, tombStmt.SQL, tombStmt.Params)
	if err != nil {
		return nil, lixerr.BackendFailureError{Stage: "materialized state tombstone", Err: err}
	}
	if len(result.Rows) == 0 {
		return nil, lixerr.UnsupportedShapeError{Reason: "state DELETE matched no row"}
	}

	change := domainChangeFromRow(result, 0, e.Provider.UUIDv7(), e.WriterKey, updatedAt, true)
	gen := commit.NewGenerator(e.Dialect, e.Provider)
	gen.VersionGate = e.schemaVersionGate
	batch, err := gen.Generate([]commit.DomainChange{change}, nil)
	if err != nil {
		return nil, err
	}
	e.Logger.LogCommitGenerated(1)
	for _, s := range batch.Statements() {
		if _, err := e.Backend.Execute(ctx, s.SQL, s.Params); err != nil {
			return nil, lixerr.BackendFailureError{Stage: "commit batch", Err: err}
		}
	}

	statements := append([]commit.Statement{tombStmt}, batch.Statements()...)
	if err := state.ValidatePlanShape(statements); err != nil {
		return nil, err
	}
	e.Logger.LogRewriteEmitted(len(statements))
	return &RewriteResult{SchemaKey: schemaKey, EntityID: change.EntityID, Statements: statements}, nil
}

// ExpandReadView rewrites a SELECT against a logical view (`lix_state`,
// `lix_state_by_version`, `lix_state_history`, `lix_file`/`lix_directory`
// and their by-version variants) into plain SQL over the physical tables,
// consulting and populating the shared process-wide helper-SQL cache. It
// reports false when stmt does not target a recognized logical view.
func (e *Engine) ExpandReadView(stmt *sqlast.Statement) (string, bool) {
	return readview.Expand(SharedHelperSQLCache(), e.Dialect, e.Catalog, stmt)
}

// EnsureHistoryTimeline implements §4.J's invariant: before a statement
// against `lix_state_history` runs, timeline_breakpoint rows must be
// materialized up to timeline.MaxDepth for every root commit the statement
// could reference. A no-op for any other table. Requires a connected
// backend, since it both reads the phase-1 source and executes the
// resulting maintenance plan.
func (e *Engine) EnsureHistoryTimeline(ctx context.Context, stmt *sqlast.Statement) error {
	if stmt.Table != readview.ViewStateHistory {
		return nil
	}
	if e.Backend == nil {
		return lixerr.BackendFailureError{Stage: "history timeline maintenance", Err: fmt.Errorf("engine has no backend configured")}
	}

	buckets := readview.BucketHistoryPredicates(stmt.Where)
	roots := timeline.RootCommitIDsReferenced(buckets)
	source := NewBackendTimelineSource(e.Backend)

	for _, rootCommitID := range roots {
		plan, err := timeline.Ensure(ctx, source, rootCommitID)
		if err != nil {
			return err
		}
		for _, s := range plan.Statements() {
			if _, err := e.Backend.Execute(ctx, s.SQL, s.Params); err != nil {
				return lixerr.BackendFailureError{Stage: "history timeline maintenance", Err: err}
			}
		}
	}
	return nil
}

// ExpandReadViewWithMaintenance is ExpandReadView's connected sibling: it
// runs EnsureHistoryTimeline first (a no-op for every view but
// `lix_state_history`), then expands stmt the same way. Callers with a live
// backend that may query lix_state_history should use this instead of the
// offline ExpandReadView.
func (e *Engine) ExpandReadViewWithMaintenance(ctx context.Context, stmt *sqlast.Statement) (string, bool, error) {
	if err := e.EnsureHistoryTimeline(ctx, stmt); err != nil {
		return "", false, err
	}
	sql, ok := e.ExpandReadView(stmt)
	return sql, ok, nil
}

// schemaVersionGate rejects a tracked change declaring a schema_version
// incompatible with the catalog's registered version for that schema_key,
// before the commit generator builds its materialized upsert.
func (e *Engine) schemaVersionGate(schemaKey, schemaVersion string) error {
	table, ok := e.Catalog.Lookup(schemaKey)
	if !ok {
		return lixerr.UnknownColumnError{Column: "schema " + schemaKey}
	}
	if !table.AcceptsSchemaVersion(schemaVersion) {
		return lixerr.TypeMismatchError{Property: "schema_version", Want: table.SchemaVersion}
	}
	return nil
}

// resolveLiteralOnly rejects anything but a literal expression: the offline
// rewrite path (no bound-parameter list available) can only ever see
// literal VALUES.
func resolveLiteralOnly(e *sqlast.Expr) (any, error) {
	if e == nil || e.Kind != sqlast.ExprLiteral {
		return nil, lixerr.UnsupportedShapeError{Reason: "non-literal value in an offline rewrite"}
	}
	switch {
	case e.Value.Null:
		return nil, nil
	case e.Value.Boolean != nil:
		return *e.Value.Boolean, nil
	case e.Value.Integer != nil:
		return *e.Value.Integer, nil
	case e.Value.Real != nil:
		return *e.Value.Real, nil
	case e.Value.Text != nil:
		// A wrapped lix_json(...) literal arrives here as a JSON-text
		// string; unwrapped text literals stay text even if they happen to
		// parse as JSON (e.g. a property value of "123").
		var v any
		if err := json.Unmarshal([]byte(*e.Value.Text), &v); err == nil {
			if _, isNumber := v.(float64); !isNumber {
				return v, nil
			}
		}
		return *e.Value.Text, nil
	default:
		return nil, nil
	}
}

// Explain renders a human-readable description of a rewrite result, the
// model for the `explain` CLI subcommand's output.
func (r *RewriteResult) Explain() string {
	out := fmt.Sprintf("entity %s (schema %s)\n", r.EntityID, r.SchemaKey)
	for i, s := range r.Statements {
		label := s.Label
		if label == "" {
			label = "statement"
		}
		out += fmt.Sprintf("  %d. %s: %s\n", i+1, label, s.SQL)
	}
	return out
}
