// SPDX-License-Identifier: Apache-2.0

package timeline_test

import (
	"context"
	"testing"

	"github.com/lixql/lixql/pkg/readview"
	"github.com/lixql/lixql/pkg/sqlast"
	"github.com/lixql/lixql/pkg/timeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	builtDepth int
	rows       []timeline.Phase1Row
}

func (f *fakeSource) BuiltMaxDepth(ctx context.Context, rootCommitID string) (int, error) {
	return f.builtDepth, nil
}
func (f *fakeSource) Phase1Rows(ctx context.Context, rootCommitID string, fromDepth, toDepth int) ([]timeline.Phase1Row, error) {
	var out []timeline.Phase1Row
	for _, r := range f.rows {
		if r.Depth >= fromDepth && r.Depth <= toDepth {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestEnsureSkipsWhenAlreadyAtMaxDepth(t *testing.T) {
	t.Parallel()

	src := &fakeSource{builtDepth: timeline.MaxDepth}
	plan, err := timeline.Ensure(context.Background(), src, "root1")
	require.NoError(t, err)
	assert.Empty(t, plan.Breakpoints)
	assert.Nil(t, plan.StatusUpsert)
}

func TestEnsureEmitsBreakpointOnSignatureChange(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		builtDepth: 0,
		rows: []timeline.Phase1Row{
			{EntityID: "e1", SchemaKey: "s", FileID: "f1", Depth: 0, ChangeID: "c0"},
			{EntityID: "e1", SchemaKey: "s", FileID: "f1", Depth: 1, ChangeID: "c1"},
			{EntityID: "e1", SchemaKey: "s", FileID: "f1", Depth: 2, ChangeID: "c1"}, // no change, no new breakpoint
		},
	}

	plan, err := timeline.Ensure(context.Background(), src, "root1")
	require.NoError(t, err)
	require.Len(t, plan.Breakpoints, 2)
	assert.Equal(t, 0, plan.Breakpoints[0].Depth)
	assert.Equal(t, 1, plan.Breakpoints[1].Depth)
	require.NotNil(t, plan.StatusUpsert)
}

func TestEnsureSeedsComparisonFromBoundaryRow(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		builtDepth: 3,
		rows: []timeline.Phase1Row{
			{EntityID: "e1", SchemaKey: "s", FileID: "f1", Depth: 2, ChangeID: "seed"},
			{EntityID: "e1", SchemaKey: "s", FileID: "f1", Depth: 3, ChangeID: "seed"}, // same signature as seed: no breakpoint
			{EntityID: "e1", SchemaKey: "s", FileID: "f1", Depth: 4, ChangeID: "changed"},
		},
	}

	plan, err := timeline.Ensure(context.Background(), src, "root1")
	require.NoError(t, err)
	require.Len(t, plan.Breakpoints, 1)
	assert.Equal(t, 4, plan.Breakpoints[0].Depth)
}

func TestBreakpointUpsertStatementIsIdempotentUpsert(t *testing.T) {
	t.Parallel()

	stmt := timeline.BreakpointUpsertStatement(timeline.Phase1Row{RootCommitID: "r1", EntityID: "e1", SchemaKey: "s", FileID: "f1", Depth: 1})
	assert.Contains(t, stmt.SQL, "ON CONFLICT (root_commit_id, entity_id, schema_key, file_id, depth) DO UPDATE")
}

func TestStatusUpsertStatementIsMonotonic(t *testing.T) {
	t.Parallel()

	stmt := timeline.StatusUpsertStatement("r1", 10)
	assert.Contains(t, stmt.SQL, "CASE WHEN excluded.built_max_depth > timeline_status.built_max_depth")
}

func TestRootCommitIDsReferencedExtractsLiterals(t *testing.T) {
	t.Parallel()

	where := sqlast.Binary("=", sqlast.Column("root_commit_id"), sqlast.Lit(sqlast.LiteralText("r1")))
	buckets := readview.BucketHistoryPredicates(where)
	ids := timeline.RootCommitIDsReferenced(buckets)
	assert.Equal(t, []string{"r1"}, ids)
}
