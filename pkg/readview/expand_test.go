// SPDX-License-Identifier: Apache-2.0

package readview_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lixql/lixql/pkg/lixbackend"
	"github.com/lixql/lixql/pkg/readview"
	"github.com/lixql/lixql/pkg/schema"
	"github.com/lixql/lixql/pkg/sqlast"
)

func noteOnlyCatalog() *schema.Catalog {
	catalog := schema.NewCatalog()
	catalog.Register(&schema.Table{SchemaKey: "note"})
	return catalog
}

func TestExpandRejectsNonViewTable(t *testing.T) {
	t.Parallel()

	stmt, err := sqlast.Parse(`SELECT * FROM note`)
	require.NoError(t, err)

	_, ok := readview.Expand(nil, lixbackend.Postgres, noteOnlyCatalog(), stmt)
	assert.False(t, ok)
}

func TestExpandBuildsStateQuery(t *testing.T) {
	t.Parallel()

	stmt, err := sqlast.Parse(`SELECT * FROM lix_state WHERE schema_key = 'note'`)
	require.NoError(t, err)

	sql, ok := readview.Expand(nil, lixbackend.Postgres, noteOnlyCatalog(), stmt)
	require.True(t, ok)
	assert.Contains(t, sql, "FROM materialized_note")
}

func TestExpandBuildsFileQuery(t *testing.T) {
	t.Parallel()

	stmt, err := sqlast.Parse(`SELECT * FROM lix_file`)
	require.NoError(t, err)

	sql, ok := readview.Expand(nil, lixbackend.SQLite, noteOnlyCatalog(), stmt)
	require.True(t, ok)
	assert.Contains(t, sql, "ancestor_path")
}

func TestExpandBuildsCountOnlyHistoryQuery(t *testing.T) {
	t.Parallel()

	stmt, err := sqlast.Parse(`SELECT COUNT(*) FROM lix_state_history`)
	require.NoError(t, err)

	sql, ok := readview.Expand(nil, lixbackend.Postgres, noteOnlyCatalog(), stmt)
	require.True(t, ok)
	assert.Contains(t, sql, "SELECT COUNT(*) FROM history_rows")
}

type fakeCache struct {
	hits  int
	gets  int
	store map[string]string
}

func newFakeCache() *fakeCache { return &fakeCache{store: map[string]string{}} }

func (c *fakeCache) Get(dialect lixbackend.Dialect, sourceSQL string) (string, bool) {
	c.gets++
	v, ok := c.store[sourceSQL]
	if ok {
		c.hits++
	}
	return v, ok
}

func (c *fakeCache) Put(dialect lixbackend.Dialect, sourceSQL, rewrittenSQL string) {
	c.store[sourceSQL] = rewrittenSQL
}

func TestExpandPopulatesAndReusesCache(t *testing.T) {
	t.Parallel()

	cache := newFakeCache()
	catalog := noteOnlyCatalog()

	stmt, err := sqlast.Parse(`SELECT * FROM lix_file`)
	require.NoError(t, err)

	first, ok := readview.Expand(cache, lixbackend.Postgres, catalog, stmt)
	require.True(t, ok)
	assert.Equal(t, 0, cache.hits)

	second, ok := readview.Expand(cache, lixbackend.Postgres, catalog, stmt)
	require.True(t, ok)
	assert.Equal(t, 1, cache.hits)
	assert.Equal(t, first, second)
}
