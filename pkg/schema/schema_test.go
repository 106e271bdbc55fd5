// SPDX-License-Identifier: Apache-2.0

package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lixql/lixql/pkg/schema"
)

func TestDeriveEntityIDJoinsCompositeKeyWithTilde(t *testing.T) {
	t.Parallel()

	table := &schema.Table{SchemaKey: "note", PrimaryKey: []string{"project", "slug"}}
	id, err := table.DeriveEntityID(map[string]any{"project": "acme", "slug": "readme"})
	require.NoError(t, err)
	assert.Equal(t, "acme~readme", id)
}

func TestDeriveEntityIDRejectsMissingComponent(t *testing.T) {
	t.Parallel()

	table := &schema.Table{SchemaKey: "note", PrimaryKey: []string{"project", "slug"}}
	_, err := table.DeriveEntityID(map[string]any{"project": "acme"})
	assert.Error(t, err)
}

func TestDeriveEntityIDRejectsNoPrimaryKey(t *testing.T) {
	t.Parallel()

	table := &schema.Table{SchemaKey: "note"}
	_, err := table.DeriveEntityID(map[string]any{})
	assert.Error(t, err)
}

func TestCompatibleVersionSameMajorNewerMinorAccepted(t *testing.T) {
	t.Parallel()

	assert.True(t, schema.CompatibleVersion("1", "1"))
	assert.True(t, schema.CompatibleVersion("1.0", "1.2"))
	assert.True(t, schema.CompatibleVersion("1.2.0", "1.2.5"))
}

func TestCompatibleVersionRejectsDifferentMajor(t *testing.T) {
	t.Parallel()

	assert.False(t, schema.CompatibleVersion("1", "2"))
}

func TestCompatibleVersionRejectsOlderCandidate(t *testing.T) {
	t.Parallel()

	assert.False(t, schema.CompatibleVersion("1.5", "1.2"))
}

func TestAcceptsSchemaVersionUsesTableRegisteredVersion(t *testing.T) {
	t.Parallel()

	table := &schema.Table{SchemaKey: "note", SchemaVersion: "2.1"}
	assert.True(t, table.AcceptsSchemaVersion("2.3"))
	assert.False(t, table.AcceptsSchemaVersion("1.9"))
	assert.False(t, table.AcceptsSchemaVersion("3.0"))
}

func TestCatalogRegisterAndLookup(t *testing.T) {
	t.Parallel()

	catalog := schema.NewCatalog()
	catalog.Register(&schema.Table{SchemaKey: "note"})

	_, ok := catalog.Lookup("note")
	assert.True(t, ok)
	_, ok = catalog.Lookup("ghost")
	assert.False(t, ok)
}

func TestCatalogSchemaKeysFilter(t *testing.T) {
	t.Parallel()

	catalog := schema.NewCatalog()
	catalog.Register(&schema.Table{SchemaKey: "note"})
	catalog.Register(&schema.Table{SchemaKey: "task"})

	assert.ElementsMatch(t, []string{"note"}, catalog.SchemaKeys([]string{"note"}))
	assert.ElementsMatch(t, []string{"note", "task"}, catalog.SchemaKeys(nil))
}
