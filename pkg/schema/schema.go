// SPDX-License-Identifier: Apache-2.0

// Package schema is the entity-schema catalog the rewrite core consults:
// declared JSON Schema properties, the `x-lix-primary-key` pointer list used
// to derive entity_id, and `x-lix-default`/`default` values applied to
// absent properties on insert (§4.F.1). Modeled on the teacher's
// pkg/schema.Schema — a map-of-tables-by-name snapshot passed around by
// value — but re-keyed to the lix domain: one Table per schema_key instead
// of per Postgres table.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// PropertyType is the JSON Schema primitive type a declared property must
// satisfy.
type PropertyType string

const (
	TypeString  PropertyType = "string"
	TypeNumber  PropertyType = "number"
	TypeInteger PropertyType = "integer"
	TypeBoolean PropertyType = "boolean"
	TypeObject  PropertyType = "object"
	TypeArray   PropertyType = "array"
)

// Property is one declared JSON Schema property of an entity schema.
type Property struct {
	Name       string
	Type       PropertyType
	Default    json.RawMessage // the JSON Schema "default" keyword, if set
	DefaultExpr string         // an "x-lix-default" expression, if set (mutually exclusive with Default)
}

// Catalog is the rewrite-time snapshot of all registered entity schemas,
// threaded through every rewrite call so pkg/readview can enumerate known
// schema keys without a backend round trip (SPEC_FULL §5.2, grounded on the
// original's PlannerCatalogSnapshot parameter).
type Catalog struct {
	bySchemaKey map[string]*Table
}

// Table is one entity schema: its schema_key, declared properties, and the
// primary-key pointer list used to derive entity_id (§3 "Ownership &
// lifecycle").
type Table struct {
	SchemaKey      string
	SchemaVersion  string
	Properties     map[string]*Property
	PrimaryKey     []string // JSON-pointer-like dotted paths into the snapshot object
	AllowDoNothing bool     // true only for the stored-schema view (§4.F.1 step 6 exception)
}

func NewCatalog() *Catalog {
	return &Catalog{bySchemaKey: make(map[string]*Table)}
}

func (c *Catalog) Register(t *Table) {
	c.bySchemaKey[t.SchemaKey] = t
}

func (c *Catalog) Lookup(schemaKey string) (*Table, bool) {
	t, ok := c.bySchemaKey[schemaKey]
	return t, ok
}

// SchemaKeys returns every registered schema key, optionally filtered to
// those in the provided allow-list (nil/empty means no filter).
func (c *Catalog) SchemaKeys(filter []string) []string {
	if len(filter) == 0 {
		keys := make([]string, 0, len(c.bySchemaKey))
		for k := range c.bySchemaKey {
			keys = append(keys, k)
		}
		return keys
	}
	allowed := make(map[string]struct{}, len(filter))
	for _, k := range filter {
		allowed[k] = struct{}{}
	}
	var out []string
	for k := range c.bySchemaKey {
		if _, ok := allowed[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// DeriveEntityID resolves the table's primary-key pointer list against the
// built snapshot object, joining the resulting scalars with "~" (§3
// "Ownership & lifecycle", §4.F.1 step 4). Returns an error if any pointer
// component is missing or null.
func (t *Table) DeriveEntityID(snapshot map[string]any) (string, error) {
	if len(t.PrimaryKey) == 0 {
		return "", fmt.Errorf("schema %q declares no primary key", t.SchemaKey)
	}
	parts := make([]string, 0, len(t.PrimaryKey))
	for _, pointer := range t.PrimaryKey {
		v, ok := resolvePointer(snapshot, pointer)
		if !ok || v == nil {
			return "", fmt.Errorf("primary key component %q is missing or null", pointer)
		}
		parts = append(parts, fmt.Sprintf("%v", v))
	}
	return strings.Join(parts, "~"), nil
}

// AcceptsSchemaVersion reports whether candidate is compatible with the
// table's registered SchemaVersion: same major version, candidate not
// older than the registered minor/patch (a materialized upsert written
// against a newer-but-compatible schema version is accepted; a write
// declaring an incompatible or older major version is rejected before it
// reaches a materialized table, per SPEC_FULL §4's schema_version
// compatibility gate).
func (t *Table) AcceptsSchemaVersion(candidate string) bool {
	return CompatibleVersion(t.SchemaVersion, candidate)
}

// CompatibleVersion reports whether candidate is compatible with required:
// same major version, and candidate >= required under semver ordering.
// Bare integer versions ("1", "2") and dotted versions ("1.2", "1.2.3") are
// both accepted; each is normalized to a canonical semver string before
// comparison.
func CompatibleVersion(required, candidate string) bool {
	rv, cv := normalizeSemver(required), normalizeSemver(candidate)
	if !semver.IsValid(rv) || !semver.IsValid(cv) {
		return required == candidate
	}
	if semver.Major(rv) != semver.Major(cv) {
		return false
	}
	return semver.Compare(cv, rv) >= 0
}

// normalizeSemver turns a bare dotted version ("1", "1.2", "1.2.3") into the
// "vX.Y.Z" form golang.org/x/mod/semver requires.
func normalizeSemver(v string) string {
	if v == "" {
		return v
	}
	if v[0] != 'v' {
		v = "v" + v
	}
	switch strings.Count(v, ".") {
	case 0:
		v += ".0.0"
	case 1:
		v += ".0"
	}
	return v
}

func resolvePointer(obj map[string]any, pointer string) (any, bool) {
	segs := strings.Split(pointer, ".")
	var cur any = obj
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
