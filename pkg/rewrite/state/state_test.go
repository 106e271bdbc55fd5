// SPDX-License-Identifier: Apache-2.0

package state_test

import (
	"testing"

	"github.com/lixql/lixql/pkg/rewrite/state"
	"github.com/lixql/lixql/pkg/sqlast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanInsertSplitsTrackedAndUntracked(t *testing.T) {
	t.Parallel()

	rows := []state.Row{
		{EntityID: "e1", SchemaKey: "s", FileID: "f1", VersionID: "v1", Untracked: false, SnapshotContent: []byte(`{}`)},
		{EntityID: "e2", SchemaKey: "s", FileID: "f1", VersionID: "v1", Untracked: true, SnapshotContent: []byte(`{}`)},
	}

	n := 0
	plan, err := state.PlanInsert(rows, func() string { n++; return "id" }, "t")
	require.NoError(t, err)
	assert.Len(t, plan.TrackedChanges, 1)
	assert.Len(t, plan.UntrackedUpserts, 1)
	assert.Equal(t, "e1", plan.TrackedChanges[0].EntityID)
	assert.Equal(t, "e2", plan.UntrackedUpserts[0].EntityID)
}

func TestValidateUpdateRequiresSingleLiteralSchemaKey(t *testing.T) {
	t.Parallel()

	where := sqlast.InList(sqlast.Column("schema_key"), []*sqlast.Expr{sqlast.Lit(sqlast.LiteralText("a")), sqlast.Lit(sqlast.LiteralText("b"))})
	_, _, err := state.ValidateUpdate(where, nil)
	require.Error(t, err)
}

func TestValidateUpdateRejectsImmutableAssignment(t *testing.T) {
	t.Parallel()

	where := sqlast.Binary("=", sqlast.Column("schema_key"), sqlast.Lit(sqlast.LiteralText("s")))
	_, _, err := state.ValidateUpdate(where, []sqlast.Assignment{{Column: "change_id"}})
	require.Error(t, err)
}

func TestValidateUpdateRejectsMixedUntrackedScope(t *testing.T) {
	t.Parallel()

	where := sqlast.Binary("AND",
		sqlast.Binary("=", sqlast.Column("schema_key"), sqlast.Lit(sqlast.LiteralText("s"))),
		sqlast.Binary("OR",
			sqlast.Binary("=", sqlast.Column("untracked"), sqlast.Lit(sqlast.LiteralBool(true))),
			sqlast.Binary("=", sqlast.Column("untracked"), sqlast.Lit(sqlast.LiteralBool(false))),
		),
	)
	_, _, err := state.ValidateUpdate(where, nil)
	require.Error(t, err)
}

func TestValidateUpdateHappyPath(t *testing.T) {
	t.Parallel()

	where := sqlast.Binary("AND",
		sqlast.Binary("=", sqlast.Column("schema_key"), sqlast.Lit(sqlast.LiteralText("lix_file_descriptor"))),
		sqlast.Binary("=", sqlast.Column("entity_id"), sqlast.Lit(sqlast.LiteralText("e1"))),
	)
	schemaKey, scope, err := state.ValidateUpdate(where, []sqlast.Assignment{{Column: "metadata", Value: sqlast.Lit(sqlast.LiteralText("{}"))}})
	require.NoError(t, err)
	assert.Equal(t, "lix_file_descriptor", schemaKey)
	assert.Equal(t, state.ScopeMaterialized, scope)
}
