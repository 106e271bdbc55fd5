// SPDX-License-Identifier: Apache-2.0

package session_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lixql/lixql/internal/testutils"
	"github.com/lixql/lixql/pkg/lixbackend"
	"github.com/lixql/lixql/pkg/schema"
	"github.com/lixql/lixql/pkg/session"
	"github.com/lixql/lixql/pkg/sqlast"
)

// updateReturningRow builds the fake RETURNING row domainChangeFromRow reads
// back from a materialized patch/tombstone statement.
func updateReturningRow(entityID, schemaKey, versionID string) lixbackend.QueryResult {
	return lixbackend.QueryResult{
		Columns: []string{"entity_id", "schema_key", "schema_version", "file_id", "version_id", "plugin_key", "metadata", "snapshot_content"},
		Rows: [][]lixbackend.Value{{
			lixbackend.Text(entityID), lixbackend.Text(schemaKey), lixbackend.Text("1"),
			lixbackend.Text(""), lixbackend.Text(versionID), lixbackend.Text(""),
			lixbackend.Null(), lixbackend.Text(`{"title":"updated"}`),
		}},
	}
}

func noteCatalog() *schema.Catalog {
	catalog := schema.NewCatalog()
	catalog.Register(&schema.Table{
		SchemaKey:     "note",
		SchemaVersion: "1",
		PrimaryKey:    []string{"id"},
		Properties: map[string]*schema.Property{
			"id":    {Name: "id", Type: schema.TypeString},
			"title": {Name: "title", Type: schema.TypeString},
		},
	})
	return catalog
}

func TestRewriteEntityInsertTrackedProducesFullCommitBatch(t *testing.T) {
	t.Parallel()

	provider := testutils.NewFakeFunctionProvider()
	engine := session.NewEngine(noteCatalog(), provider, lixbackend.SQLite, "writer-1")

	stmt, err := sqlast.Parse(`INSERT INTO note (id, title) VALUES ('n1', 'hello')`)
	require.NoError(t, err)

	result, err := engine.RewriteEntityInsert("note", stmt, "main", false)
	require.NoError(t, err)

	assert.Equal(t, "n1", result.EntityID)
	assert.Equal(t, "note", result.SchemaKey)

	var labels []string
	for _, s := range result.Statements {
		labels = append(labels, s.Label)
	}
	assert.Equal(t, []string{"snapshot upsert", "change insert", "materialized upsert: note"}, labels)
}

func TestRewriteEntityInsertUntrackedProducesOverlayUpsertOnly(t *testing.T) {
	t.Parallel()

	provider := testutils.NewFakeFunctionProvider()
	engine := session.NewEngine(noteCatalog(), provider, lixbackend.Postgres, "writer-1")

	stmt, err := sqlast.Parse(`INSERT INTO note (id, title) VALUES ('n2', 'hi')`)
	require.NoError(t, err)

	result, err := engine.RewriteEntityInsert("note", stmt, "main", true)
	require.NoError(t, err)

	require.Len(t, result.Statements, 1)
	assert.Equal(t, "untracked upsert", result.Statements[0].Label)
}

func TestRewriteEntityInsertRejectsUnknownSchema(t *testing.T) {
	t.Parallel()

	provider := testutils.NewFakeFunctionProvider()
	engine := session.NewEngine(noteCatalog(), provider, lixbackend.SQLite, "writer-1")

	stmt, err := sqlast.Parse(`INSERT INTO ghost (id) VALUES ('x')`)
	require.NoError(t, err)

	_, err = engine.RewriteEntityInsert("ghost", stmt, "main", false)
	assert.Error(t, err)
}

func TestRewriteEntityInsertPassesItsOwnSchemaVersionThroughTheGate(t *testing.T) {
	t.Parallel()

	// entity.PlanInsert always stamps the row with the catalog's own
	// registered SchemaVersion, so the commit generator's VersionGate
	// (wired in pkg/session.Engine.schemaVersionGate) always sees a
	// self-consistent version here; incompatible-version rejection is
	// exercised directly in pkg/commit's generator tests.
	catalog := schema.NewCatalog()
	catalog.Register(&schema.Table{
		SchemaKey:     "note",
		SchemaVersion: "2.0",
		PrimaryKey:    []string{"id"},
		Properties: map[string]*schema.Property{
			"id": {Name: "id", Type: schema.TypeString},
		},
	})

	provider := testutils.NewFakeFunctionProvider()
	engine := session.NewEngine(catalog, provider, lixbackend.SQLite, "writer-1")

	stmt, err := sqlast.Parse(`INSERT INTO note (id) VALUES ('n1')`)
	require.NoError(t, err)

	result, err := engine.RewriteEntityInsert("note", stmt, "main", false)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Statements)
}

func TestEngineExpandReadViewExpandsLogicalView(t *testing.T) {
	t.Parallel()

	provider := testutils.NewFakeFunctionProvider()
	engine := session.NewEngine(noteCatalog(), provider, lixbackend.SQLite, "writer-1")

	stmt, err := sqlast.Parse(`SELECT * FROM lix_state WHERE schema_key = 'note'`)
	require.NoError(t, err)

	sql, ok := engine.ExpandReadView(stmt)
	require.True(t, ok)
	assert.Contains(t, sql, "FROM materialized_note")
}

func TestEngineExpandReadViewRejectsOrdinaryTable(t *testing.T) {
	t.Parallel()

	provider := testutils.NewFakeFunctionProvider()
	engine := session.NewEngine(noteCatalog(), provider, lixbackend.SQLite, "writer-1")

	stmt, err := sqlast.Parse(`SELECT * FROM note`)
	require.NoError(t, err)

	_, ok := engine.ExpandReadView(stmt)
	assert.False(t, ok)
}

func TestRewriteEntityInsertRejectsMultiRow(t *testing.T) {
	t.Parallel()

	provider := testutils.NewFakeFunctionProvider()
	engine := session.NewEngine(noteCatalog(), provider, lixbackend.SQLite, "writer-1")

	stmt, err := sqlast.Parse(`INSERT INTO note (id, title) VALUES ('n1', 'a'), ('n2', 'b')`)
	require.NoError(t, err)

	_, err = engine.RewriteEntityInsert("note", stmt, "main", false)
	assert.Error(t, err)
}

func TestRewriteEntityUpdateAppliesPatchAndGeneratesCommit(t *testing.T) {
	t.Parallel()

	provider := testutils.NewFakeFunctionProvider()
	engine := session.NewEngine(noteCatalog(), provider, lixbackend.SQLite, "writer-1")
	backend := testutils.NewFakeBackend(lixbackend.SQLite)
	backend.Result = updateReturningRow("n1", "note", "main")
	engine.Backend = backend

	stmt, err := sqlast.Parse(`UPDATE note SET title = 'updated' WHERE id = 'n1'`)
	require.NoError(t, err)

	result, err := engine.RewriteEntityUpdate(context.Background(), "note", stmt, "main", false)
	require.NoError(t, err)

	assert.Equal(t, "note", result.SchemaKey)
	var labels []string
	for _, s := range result.Statements {
		labels = append(labels, s.Label)
	}
	assert.Contains(t, labels, "snapshot upsert")
	assert.Contains(t, labels, "change insert")
	assert.Contains(t, labels, "materialized upsert: note")
}

func TestRewriteEntityUpdateUntrackedSkipsCommitGeneration(t *testing.T) {
	t.Parallel()

	provider := testutils.NewFakeFunctionProvider()
	engine := session.NewEngine(noteCatalog(), provider, lixbackend.SQLite, "writer-1")
	backend := testutils.NewFakeBackend(lixbackend.SQLite)
	engine.Backend = backend

	stmt, err := sqlast.Parse(`UPDATE note SET title = 'updated' WHERE id = 'n1'`)
	require.NoError(t, err)

	result, err := engine.RewriteEntityUpdate(context.Background(), "note", stmt, "main", true)
	require.NoError(t, err)
	require.Len(t, result.Statements, 1)
	assert.Equal(t, "untracked patch", result.Statements[0].Label)
}

func TestRewriteEntityDeleteTombstonesAndGeneratesCommit(t *testing.T) {
	t.Parallel()

	provider := testutils.NewFakeFunctionProvider()
	engine := session.NewEngine(noteCatalog(), provider, lixbackend.SQLite, "writer-1")
	backend := testutils.NewFakeBackend(lixbackend.SQLite)
	backend.Result = updateReturningRow("n1", "note", "main")
	engine.Backend = backend

	stmt, err := sqlast.Parse(`DELETE FROM note WHERE id = 'n1'`)
	require.NoError(t, err)

	result, err := engine.RewriteEntityDelete(context.Background(), "note", stmt, "main", false)
	require.NoError(t, err)

	var labels []string
	for _, s := range result.Statements {
		labels = append(labels, s.Label)
	}
	assert.Contains(t, labels, "change insert")
	assert.Contains(t, labels, "materialized upsert: note")
}

func TestRewriteEntityUpdateRequiresBackend(t *testing.T) {
	t.Parallel()

	provider := testutils.NewFakeFunctionProvider()
	engine := session.NewEngine(noteCatalog(), provider, lixbackend.SQLite, "writer-1")

	stmt, err := sqlast.Parse(`UPDATE note SET title = 'updated' WHERE id = 'n1'`)
	require.NoError(t, err)

	_, err = engine.RewriteEntityUpdate(context.Background(), "note", stmt, "main", false)
	assert.Error(t, err)
}

func TestRewriteStateUpdateMaterializedPathGeneratesCommit(t *testing.T) {
	t.Parallel()

	provider := testutils.NewFakeFunctionProvider()
	engine := session.NewEngine(noteCatalog(), provider, lixbackend.SQLite, "writer-1")
	backend := testutils.NewFakeBackend(lixbackend.SQLite)
	backend.Result = updateReturningRow("n1", "note", "main")
	engine.Backend = backend

	stmt, err := sqlast.Parse(`UPDATE lix_state SET metadata = 'm' WHERE schema_key = 'note' AND entity_id = 'n1'`)
	require.NoError(t, err)

	result, err := engine.RewriteStateUpdate(context.Background(), stmt)
	require.NoError(t, err)

	assert.Equal(t, "note", result.SchemaKey)
	var labels []string
	for _, s := range result.Statements {
		labels = append(labels, s.Label)
	}
	assert.Contains(t, labels, "change insert")
}

func TestRewriteStateUpdateUntrackedScopeSkipsCommitGeneration(t *testing.T) {
	t.Parallel()

	provider := testutils.NewFakeFunctionProvider()
	engine := session.NewEngine(noteCatalog(), provider, lixbackend.SQLite, "writer-1")
	backend := testutils.NewFakeBackend(lixbackend.SQLite)
	engine.Backend = backend

	stmt, err := sqlast.Parse(`UPDATE lix_state SET metadata = 'm' WHERE schema_key = 'note' AND untracked = TRUE`)
	require.NoError(t, err)

	result, err := engine.RewriteStateUpdate(context.Background(), stmt)
	require.NoError(t, err)
	require.Len(t, result.Statements, 1)
	assert.Equal(t, "untracked patch", result.Statements[0].Label)
}

func TestRewriteStateDeleteMaterializedPathGeneratesCommit(t *testing.T) {
	t.Parallel()

	provider := testutils.NewFakeFunctionProvider()
	engine := session.NewEngine(noteCatalog(), provider, lixbackend.SQLite, "writer-1")
	backend := testutils.NewFakeBackend(lixbackend.SQLite)
	backend.Result = updateReturningRow("n1", "note", "main")
	engine.Backend = backend

	stmt, err := sqlast.Parse(`DELETE FROM lix_state WHERE schema_key = 'note' AND entity_id = 'n1'`)
	require.NoError(t, err)

	result, err := engine.RewriteStateDelete(context.Background(), stmt)
	require.NoError(t, err)

	var labels []string
	for _, s := range result.Statements {
		labels = append(labels, s.Label)
	}
	assert.Contains(t, labels, "change insert")
}

func TestRewriteStateUpdateRejectsMissingSchemaKeyPredicate(t *testing.T) {
	t.Parallel()

	provider := testutils.NewFakeFunctionProvider()
	engine := session.NewEngine(noteCatalog(), provider, lixbackend.SQLite, "writer-1")
	engine.Backend = testutils.NewFakeBackend(lixbackend.SQLite)

	stmt, err := sqlast.Parse(`UPDATE lix_state SET metadata = 'm' WHERE entity_id = 'n1'`)
	require.NoError(t, err)

	_, err = engine.RewriteStateUpdate(context.Background(), stmt)
	assert.Error(t, err)
}

func TestRewriteFileInsertRootLevelFileProducesDescriptorRow(t *testing.T) {
	t.Parallel()

	provider := testutils.NewFakeFunctionProvider()
	engine := session.NewEngine(noteCatalog(), provider, lixbackend.SQLite, "writer-1")
	engine.Backend = testutils.NewFakeBackend(lixbackend.SQLite)

	stmt, err := sqlast.Parse(`INSERT INTO lix_file (id, path) VALUES ('f1', '/note.txt')`)
	require.NoError(t, err)

	result, err := engine.RewriteFileInsert(context.Background(), stmt, "main", false)
	require.NoError(t, err)

	assert.Equal(t, "f1", result.EntityID)
	assert.Equal(t, "lix_file_descriptor", result.SchemaKey)
	assert.NotEmpty(t, result.Statements)
}

func TestRewriteFileDeleteTombstonesDescriptor(t *testing.T) {
	t.Parallel()

	provider := testutils.NewFakeFunctionProvider()
	engine := session.NewEngine(noteCatalog(), provider, lixbackend.SQLite, "writer-1")
	engine.Backend = testutils.NewFakeBackend(lixbackend.SQLite)

	stmt, err := sqlast.Parse(`DELETE FROM lix_file WHERE id = 'f1'`)
	require.NoError(t, err)

	result, err := engine.RewriteFileDelete(context.Background(), stmt, "main")
	require.NoError(t, err)

	assert.Equal(t, "f1", result.EntityID)
	require.Len(t, result.Statements, 1)
}

func TestRewriteDirectoryDeleteCascadesFromRoot(t *testing.T) {
	t.Parallel()

	provider := testutils.NewFakeFunctionProvider()
	engine := session.NewEngine(noteCatalog(), provider, lixbackend.SQLite, "writer-1")
	engine.Backend = testutils.NewFakeBackend(lixbackend.SQLite)

	stmt, err := sqlast.Parse(`DELETE FROM lix_directory WHERE id = 'd1'`)
	require.NoError(t, err)

	result, err := engine.RewriteDirectoryDelete(context.Background(), stmt, "main")
	require.NoError(t, err)

	assert.Equal(t, "d1", result.EntityID)
	assert.NotEmpty(t, result.Statements)
}
