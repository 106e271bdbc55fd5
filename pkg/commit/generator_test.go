// SPDX-License-Identifier: Apache-2.0

package commit_test

import (
	"strings"
	"testing"

	"github.com/lixql/lixql/pkg/commit"
	"github.com/lixql/lixql/pkg/lixbackend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct{ n int }

func (p *fakeProvider) UUIDv7() string {
	p.n++
	return "uuid-" + string(rune('a'+p.n))
}
func (p *fakeProvider) Timestamp() string { return "2026-07-31T00:00:00Z" }

func TestGenerateProducesOrderedBatch(t *testing.T) {
	t.Parallel()

	gen := commit.NewGenerator(lixbackend.Postgres, &fakeProvider{})
	changes := []commit.DomainChange{
		{
			ID: "c1", EntityID: "e1", SchemaKey: "lix_file_descriptor", SchemaVersion: "1",
			FileID: "e1", PluginKey: "fs", SnapshotContent: []byte(`{"name":"a"}`),
			VersionID: "v1", WriterKey: "w1", CreatedAt: "2026-07-31T00:00:00Z",
		},
	}

	batch, err := gen.Generate(changes, nil)
	require.NoError(t, err)
	require.NotNil(t, batch.SnapshotUpsert)
	require.NotNil(t, batch.ChangeInsert)
	require.Len(t, batch.MaterializedUpserts, 1)

	stmts := batch.Statements()
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[0].SQL, "INSERT INTO snapshot")
	assert.Contains(t, stmts[1].SQL, "INSERT INTO change")
	assert.True(t, strings.HasPrefix(stmts[2].SQL, "INSERT INTO materialized_lix_file_descriptor"))
}

func TestGenerateDedupsIdenticalSnapshotContent(t *testing.T) {
	t.Parallel()

	gen := commit.NewGenerator(lixbackend.Postgres, &fakeProvider{})
	content := []byte(`{"same":true}`)
	changes := []commit.DomainChange{
		{ID: "c1", EntityID: "e1", SchemaKey: "s", FileID: "f1", SnapshotContent: content, VersionID: "v1", CreatedAt: "t"},
		{ID: "c2", EntityID: "e2", SchemaKey: "s", FileID: "f1", SnapshotContent: content, VersionID: "v1", CreatedAt: "t"},
	}

	batch, err := gen.Generate(changes, nil)
	require.NoError(t, err)
	// one unique content row (id, content) + the always-present tombstone
	// sentinel row, whose NULL content is written inline (id only)
	require.Len(t, batch.SnapshotUpsert.Params, 2+1)
}

func TestGenerateAncestryKeepsMinimumDepth(t *testing.T) {
	t.Parallel()

	gen := commit.NewGenerator(lixbackend.Postgres, &fakeProvider{})
	changes := []commit.DomainChange{
		{ID: "c1", EntityID: "e1", SchemaKey: "s", FileID: "f1", SnapshotContent: []byte(`{}`), VersionID: "v1", CreatedAt: "t"},
	}
	edge := &commit.AncestryEdge{
		CommitID:       "commitB",
		ParentAncestry: []commit.AncestorDepth{{AncestorID: "commitA", Depth: 0}, {AncestorID: "root", Depth: 1}},
	}

	batch, err := gen.Generate(changes, edge)
	require.NoError(t, err)
	require.Len(t, batch.AncestryUpserts, 1)
	assert.Contains(t, batch.AncestryUpserts[0].SQL, "ON CONFLICT (commit_id, ancestor_id)")
	assert.Contains(t, batch.AncestryUpserts[0].SQL, "CASE WHEN excluded.depth <")
}

func TestGenerateRejectsChangeThatFailsVersionGate(t *testing.T) {
	t.Parallel()

	gen := commit.NewGenerator(lixbackend.Postgres, &fakeProvider{})
	gen.VersionGate = func(schemaKey, schemaVersion string) error {
		if schemaVersion != "1" {
			return assert.AnError
		}
		return nil
	}

	changes := []commit.DomainChange{
		{ID: "c1", EntityID: "e1", SchemaKey: "s", SchemaVersion: "2", FileID: "f1", SnapshotContent: []byte(`{}`), VersionID: "v1", CreatedAt: "t"},
	}

	_, err := gen.Generate(changes, nil)
	assert.Error(t, err)
}

func TestGenerateAllowsChangeThatPassesVersionGate(t *testing.T) {
	t.Parallel()

	gen := commit.NewGenerator(lixbackend.Postgres, &fakeProvider{})
	gen.VersionGate = func(schemaKey, schemaVersion string) error { return nil }

	changes := []commit.DomainChange{
		{ID: "c1", EntityID: "e1", SchemaKey: "s", SchemaVersion: "1", FileID: "f1", SnapshotContent: []byte(`{}`), VersionID: "v1", CreatedAt: "t"},
	}

	batch, err := gen.Generate(changes, nil)
	require.NoError(t, err)
	require.NotNil(t, batch.ChangeInsert)
}
