// SPDX-License-Identifier: Apache-2.0

package entity_test

import (
	"encoding/json"
	"testing"

	"github.com/lixql/lixql/pkg/lixerr"
	"github.com/lixql/lixql/pkg/rewrite/entity"
	"github.com/lixql/lixql/pkg/schema"
	"github.com/lixql/lixql/pkg/sqlast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issueTable() *schema.Table {
	return &schema.Table{
		SchemaKey:     "app_issue",
		SchemaVersion: "1.0",
		PrimaryKey:    []string{"key"},
		Properties: map[string]*schema.Property{
			"key":      {Name: "key", Type: schema.TypeString},
			"title":    {Name: "title", Type: schema.TypeString},
			"done":     {Name: "done", Type: schema.TypeBoolean, Default: json.RawMessage(`false`)},
			"metadata": {Name: "metadata", Type: schema.TypeObject},
		},
	}
}

func resolveLiteralValue(e *sqlast.Expr) (any, error) {
	switch {
	case e.Kind == sqlast.ExprLiteral && e.Value.Text != nil:
		return *e.Value.Text, nil
	case e.Kind == sqlast.ExprLiteral && e.Value.Integer != nil:
		return *e.Value.Integer, nil
	case e.Kind == sqlast.ExprLiteral && e.Value.Boolean != nil:
		return *e.Value.Boolean, nil
	default:
		return nil, nil
	}
}

func TestPlanInsertDerivesEntityIDFromPrimaryKey(t *testing.T) {
	t.Parallel()

	cols := []entity.ColumnValue{
		{Column: "key", Value: sqlast.Lit(sqlast.LiteralText("ISSUE-1"))},
		{Column: "title", Value: sqlast.Lit(sqlast.LiteralText("hello"))},
	}

	plan, err := entity.PlanInsert(issueTable(), cols, "", "f1", "plugin", "writer", "v1", false, resolveLiteralValue)
	require.NoError(t, err)
	assert.Equal(t, "ISSUE-1", plan.Row.EntityID)

	var snapshot map[string]any
	require.NoError(t, json.Unmarshal(plan.Row.SnapshotContent, &snapshot))
	assert.Equal(t, "hello", snapshot["title"])
	assert.Equal(t, false, snapshot["done"]) // default applied
}

func TestPlanInsertRejectsObjectWithoutLixJSONWrapper(t *testing.T) {
	t.Parallel()

	cols := []entity.ColumnValue{
		{Column: "key", Value: sqlast.Lit(sqlast.LiteralText("ISSUE-1"))},
		{Column: "metadata", Value: sqlast.Lit(sqlast.LiteralText(`{"a":1}`)), WrappedJSON: false},
	}

	resolve := func(e *sqlast.Expr) (any, error) { return map[string]any{"a": 1.0}, nil }
	_, err := entity.PlanInsert(issueTable(), cols, "", "f1", "p", "w", "v1", false, resolve)
	require.Error(t, err)
	var tm lixerr.TypeMismatchError
	require.ErrorAs(t, err, &tm)
}

func TestPlanInsertRejectsImmutableSchemaKeyAssignment(t *testing.T) {
	t.Parallel()

	cols := []entity.ColumnValue{{Column: "schema_key", Value: sqlast.Lit(sqlast.LiteralText("x"))}}
	_, err := entity.PlanInsert(issueTable(), cols, "explicit-id", "f1", "p", "w", "v1", false, resolveLiteralValue)
	require.Error(t, err)
	var im lixerr.ImmutableFieldError
	require.ErrorAs(t, err, &im)
}

func TestUnwrapLixJSON(t *testing.T) {
	t.Parallel()

	inner := sqlast.Lit(sqlast.LiteralText(`{"a":1}`))
	wrapped := sqlast.Func("lix_json", inner)

	unwrapped, ok := entity.UnwrapLixJSON(wrapped)
	assert.True(t, ok)
	assert.Same(t, inner, unwrapped)

	plain, ok := entity.UnwrapLixJSON(inner)
	assert.False(t, ok)
	assert.Same(t, inner, plain)
}

func TestRejectPrimaryKeyUpdate(t *testing.T) {
	t.Parallel()

	err := entity.RejectPrimaryKeyUpdate(issueTable(), []sqlast.Assignment{{Column: "key"}})
	require.Error(t, err)

	err = entity.RejectPrimaryKeyUpdate(issueTable(), []sqlast.Assignment{{Column: "title"}})
	require.NoError(t, err)
}

func TestClassifyUpdateAssignment(t *testing.T) {
	t.Parallel()

	isProp, err := entity.ClassifyUpdateAssignment(issueTable(), "title")
	require.NoError(t, err)
	assert.True(t, isProp)

	isProp, err = entity.ClassifyUpdateAssignment(issueTable(), "lixcol_metadata")
	require.NoError(t, err)
	assert.False(t, isProp)

	_, err = entity.ClassifyUpdateAssignment(issueTable(), "nonexistent")
	require.Error(t, err)
}

func TestRequireVersionScope(t *testing.T) {
	t.Parallel()

	where := sqlast.Binary("=", sqlast.Column("lixcol_version_id"), sqlast.Lit(sqlast.LiteralText("v9")))
	versionID, err := entity.RequireVersionScope(where, "issue_by_version")
	require.NoError(t, err)
	assert.Equal(t, "v9", versionID)

	_, err = entity.RequireVersionScope(sqlast.Binary("=", sqlast.Column("title"), sqlast.Lit(sqlast.LiteralText("x"))), "issue_by_version")
	require.Error(t, err)
	var missing lixerr.MissingVersionScopeError
	require.ErrorAs(t, err, &missing)
}
