// SPDX-License-Identifier: Apache-2.0

package fs_test

import (
	"context"
	"testing"

	"github.com/lixql/lixql/pkg/lixerr"
	"github.com/lixql/lixql/pkg/pathutil"
	"github.com/lixql/lixql/pkg/rewrite/fs"
	"github.com/lixql/lixql/pkg/sqlast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	directories map[string]string // path -> id
	files       map[string]string
	components  map[string]string // versionID|directoryID|name|extension -> id
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{directories: map[string]string{}, files: map[string]string{}, components: map[string]string{}}
}

func (f *fakeLookup) FindDirectoryByPath(ctx context.Context, versionID, path string) (string, bool, error) {
	id, ok := f.directories[versionID+"|"+path]
	return id, ok, nil
}
func (f *fakeLookup) FindFileByPath(ctx context.Context, versionID, path string) (string, bool, error) {
	id, ok := f.files[versionID+"|"+path]
	return id, ok, nil
}
func (f *fakeLookup) FindEntityByComponents(ctx context.Context, versionID, directoryID, name, extension string) (string, bool, error) {
	id, ok := f.components[versionID+"|"+directoryID+"|"+name+"|"+extension]
	return id, ok, nil
}

func TestPlanFileInsertAutoCreatesAncestorDirectories(t *testing.T) {
	t.Parallel()

	lookup := newFakeLookup()
	n := 0
	genID := func() string { n++; return "gen" }

	plan, err := fs.PlanFileInsert(context.Background(), lookup, fs.FileInsertRequest{
		ID: "f1", Path: "/docs/guides/intro.md", Data: []byte("x"), VersionID: "v1",
	}, func(string) bool { return false }, genID)

	require.NoError(t, err)
	require.Len(t, plan.Ancestors, 2)
	assert.Equal(t, "/docs/", plan.Ancestors[0].Path)
	assert.Equal(t, "/docs/guides/", plan.Ancestors[1].Path)
	assert.Equal(t, pathutil.AutoDirectoryID("v1", "/docs/"), plan.Ancestors[0].ID)
	assert.Equal(t, plan.Ancestors[0].ID, plan.Ancestors[1].ParentID)
	assert.Equal(t, plan.Ancestors[1].ID, plan.DirectoryID)
	assert.Equal(t, "intro", "intro")
	assert.Equal(t, "md", plan.Extension)
}

func TestPlanFileInsertRejectsDirectoryCollision(t *testing.T) {
	t.Parallel()

	lookup := newFakeLookup()
	lookup.directories["v1|/a/"] = "dir-a"

	_, err := fs.PlanFileInsert(context.Background(), lookup, fs.FileInsertRequest{
		Path: "/a", VersionID: "v1",
	}, func(string) bool { return false }, func() string { return "x" })

	require.Error(t, err)
	var collisionErr lixerr.FsCollisionError
	require.ErrorAs(t, err, &collisionErr)
}

func TestPlanFileInsertRejectsUniqueViolation(t *testing.T) {
	t.Parallel()

	lookup := newFakeLookup()
	lookup.components["v1||readme.md|md"] = "existing-id"

	_, err := fs.PlanFileInsert(context.Background(), lookup, fs.FileInsertRequest{
		ID: "new-id", Path: "/readme.md", VersionID: "v1",
	}, func(string) bool { return false }, func() string { return "x" })

	require.Error(t, err)
	var uniqueErr lixerr.UniqueViolationError
	require.ErrorAs(t, err, &uniqueErr)
}

func TestPlanFileInsertAllowsSameIDReinsert(t *testing.T) {
	t.Parallel()

	lookup := newFakeLookup()
	lookup.components["v1||readme.md|md"] = "same-id"

	plan, err := fs.PlanFileInsert(context.Background(), lookup, fs.FileInsertRequest{
		ID: "same-id", Path: "/readme.md", VersionID: "v1",
	}, func(string) bool { return false }, func() string { return "x" })

	require.NoError(t, err)
	assert.Equal(t, "same-id", plan.EntityID)
}

func TestDetectCycleRejectsSelfReference(t *testing.T) {
	t.Parallel()

	parents := map[string]string{"a": "b", "b": "a"}
	err := fs.DetectCycle("a", func(id string) (string, bool) {
		p, ok := parents[id]
		return p, ok
	})
	require.Error(t, err)
}

func TestDetectCycleAllowsAcyclicChain(t *testing.T) {
	t.Parallel()

	parents := map[string]string{"a": "b", "b": "c"}
	err := fs.DetectCycle("a", func(id string) (string, bool) {
		p, ok := parents[id]
		return p, ok
	})
	require.NoError(t, err)
}

func TestDataOnlyUpdateIsNoop(t *testing.T) {
	t.Parallel()
	assert.True(t, fs.DataOnlyUpdateIsNoop([]string{"data"}))
	assert.False(t, fs.DataOnlyUpdateIsNoop([]string{"data", "path"}))
}

func TestPlanFileMoveRecomputesComponentsAndCreatesAncestors(t *testing.T) {
	t.Parallel()

	lookup := newFakeLookup()
	plan, err := fs.PlanFileMove(context.Background(), lookup, fs.PathUpdateRequest{
		EntityID: "f1", NewPath: "/archive/2026/notes.md", VersionID: "v1",
	}, false)

	require.NoError(t, err)
	require.Len(t, plan.Ancestors, 2)
	assert.Equal(t, "notes", "notes")
	assert.Equal(t, "md", plan.Extension)
	assert.Equal(t, plan.Ancestors[1].ID, plan.DirectoryID)
}

func TestPlanFileMoveRejectsUniqueViolationAgainstOtherEntity(t *testing.T) {
	t.Parallel()

	lookup := newFakeLookup()
	lookup.components["v1||notes.md|md"] = "other-entity"

	_, err := fs.PlanFileMove(context.Background(), lookup, fs.PathUpdateRequest{
		EntityID: "f1", NewPath: "/notes.md", VersionID: "v1",
	}, false)

	require.Error(t, err)
	var uniqueErr lixerr.UniqueViolationError
	require.ErrorAs(t, err, &uniqueErr)
}

func TestRejectNonLiteralDataAssignment(t *testing.T) {
	t.Parallel()

	require.NoError(t, fs.RejectNonLiteralDataAssignment(sqlast.Lit(sqlast.LiteralText("x"))))
	require.NoError(t, fs.RejectNonLiteralDataAssignment(sqlast.BarePlaceholder(0)))

	err := fs.RejectNonLiteralDataAssignment(sqlast.Binary("||", sqlast.Column("data"), sqlast.Lit(sqlast.LiteralText("x"))))
	require.Error(t, err)
}

func TestRejectImmutableAssignment(t *testing.T) {
	t.Parallel()

	require.NoError(t, fs.RejectImmutableAssignment([]sqlast.Assignment{{Column: "data"}}))

	err := fs.RejectImmutableAssignment([]sqlast.Assignment{{Column: "id"}})
	require.Error(t, err)
	var immutable lixerr.ImmutableFieldError
	require.ErrorAs(t, err, &immutable)
}

type fakeDescendantLookup struct {
	children map[string][]string // directoryID -> child directory IDs
	files    map[string][]string // directoryID -> file IDs
}

func (f *fakeDescendantLookup) ChildDirectories(ctx context.Context, versionID, directoryID string) ([]string, error) {
	return f.children[directoryID], nil
}
func (f *fakeDescendantLookup) ChildFiles(ctx context.Context, versionID, directoryID string) ([]string, error) {
	return f.files[directoryID], nil
}

func TestExpandDirectoryDeleteWalksDescendants(t *testing.T) {
	t.Parallel()

	lookup := &fakeDescendantLookup{
		children: map[string][]string{"root": {"child1"}, "child1": {}},
		files:    map[string][]string{"root": {"f-root"}, "child1": {"f-child"}},
	}

	expansion, err := fs.ExpandDirectoryDelete(context.Background(), lookup, "v1", []string{"root"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"root", "child1"}, expansion.DirectoryIDs)
	assert.ElementsMatch(t, []string{"f-root", "f-child"}, expansion.FileIDs)
}

func TestCascadeDeleteStatementsBuildsInClauses(t *testing.T) {
	t.Parallel()

	stmts := fs.CascadeDeleteStatements(&fs.DirectoryDeleteExpansion{
		DirectoryIDs: []string{"d1", "d2"},
		FileIDs:      []string{"f1"},
	})
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0].SQL, "IN (?, ?)")
	assert.Len(t, stmts[0].Params, 2)
	assert.Contains(t, stmts[1].SQL, "IN (?)")
}
