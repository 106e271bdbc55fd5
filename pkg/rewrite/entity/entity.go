// SPDX-License-Identifier: Apache-2.0

// Package entity implements §4.F: the entity-view rewriter, translating
// writes on per-schema entity views into state-vtable writes, deriving
// entity_id from the schema's primary-key pointer list, and enforcing
// schema property coercion.
package entity

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lixql/lixql/internal/jsonschemaval"
	"github.com/lixql/lixql/pkg/lixbackend"
	"github.com/lixql/lixql/pkg/lixerr"
	"github.com/lixql/lixql/pkg/rewrite/state"
	"github.com/lixql/lixql/pkg/schema"
	"github.com/lixql/lixql/pkg/sqlast"
)

// reservedLixcolColumns is the set of lixcol_* columns an entity view
// exposes in addition to its declared schema properties (§3 "Entity view
// (per schema)").
var reservedLixcolColumns = map[string]bool{
	"lixcol_metadata": true, "lixcol_change_id": true, "lixcol_commit_id": true,
	"lixcol_created_at": true, "lixcol_updated_at": true, "lixcol_version_id": true,
	"lixcol_untracked": true, "lixcol_writer_key": true, "lixcol_inherited_from_version_id": true,
	"lixcol_entity_id": true, "lixcol_file_id": true, "lixcol_plugin_key": true,
}

// ColumnValue is one column=value pair from a parsed INSERT row, already
// matched up with the statement's column list.
type ColumnValue struct {
	Column      string
	Value       *sqlast.Expr
	WrappedJSON bool // true if the literal was written as lix_json(...)
}

// InsertPlan is the rewritten output of an entity-view INSERT (§4.F.1).
type InsertPlan struct {
	Row state.Row
}

// PlanInsert implements §4.F.1 steps 1-7.
func PlanInsert(table *schema.Table, columns []ColumnValue, explicitEntityID string, fileID, pluginKey, writerKey, versionID string, untracked bool, resolveLiteral func(*sqlast.Expr) (any, error)) (*InsertPlan, error) {
	snapshot := map[string]any{}

	for _, cv := range columns {
		if reservedLixcolColumns[cv.Column] {
			continue
		}
		if cv.Column == "schema_key" || cv.Column == "snapshot_content" {
			return nil, lixerr.ImmutableFieldError{Field: cv.Column}
		}
		if cv.Column == "id" || cv.Column == "entity_id" {
			continue // handled via explicitEntityID
		}

		prop, ok := table.Properties[cv.Column]
		if !ok {
			return nil, lixerr.UnknownColumnError{Column: cv.Column}
		}

		raw, err := resolveLiteral(cv.Value)
		if err != nil {
			return nil, err
		}

		coerced, err := jsonschemaval.CoerceProperty(prop, raw, cv.WrappedJSON)
		if err != nil {
			return nil, err
		}
		snapshot[cv.Column] = coerced
	}

	applyDefaults(table, snapshot)

	for name, value := range snapshot {
		prop, ok := table.Properties[name]
		if !ok {
			continue
		}
		if err := jsonschemaval.ValidateAgainstDeclaredShape(prop, value); err != nil {
			return nil, err
		}
	}

	entityID := explicitEntityID
	if entityID == "" {
		derived, err := table.DeriveEntityID(snapshot)
		if err != nil {
			return nil, fmt.Errorf("deriving entity_id for schema %q: %w", table.SchemaKey, err)
		}
		entityID = derived
	}

	content, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot content: %w", err)
	}

	return &InsertPlan{Row: state.Row{
		EntityID:        entityID,
		SchemaKey:       table.SchemaKey,
		SchemaVersion:   table.SchemaVersion,
		FileID:          fileID,
		PluginKey:       pluginKey,
		SnapshotContent: content,
		VersionID:       versionID,
		WriterKey:       writerKey,
		Untracked:       untracked,
	}}, nil
}

// applyDefaults fills in declared `default`/`x-lix-default` values for
// properties absent from snapshot (§4.F.1 step 5).
func applyDefaults(table *schema.Table, snapshot map[string]any) {
	for name, prop := range table.Properties {
		if _, present := snapshot[name]; present {
			continue
		}
		if prop.Default != nil {
			var v any
			if err := json.Unmarshal(prop.Default, &v); err == nil {
				snapshot[name] = v
			}
			continue
		}
		if prop.DefaultExpr != "" {
			if v, ok := evaluateDefaultExpr(prop.DefaultExpr, snapshot); ok {
				snapshot[name] = v
			}
		}
	}
}

// evaluateDefaultExpr evaluates a small x-lix-default expression language
// against the in-flight snapshot object (§4.F.1 step 5). Only the
// `$.property` self-reference form and bare JSON literals are supported;
// anything else is left unresolved (the property stays absent rather than
// erroring, matching the original engine's permissive default handling).
func evaluateDefaultExpr(expr string, snapshot map[string]any) (any, bool) {
	if len(expr) > 2 && expr[0] == '$' && expr[1] == '.' {
		v, ok := snapshot[expr[2:]]
		return v, ok
	}
	var v any
	if err := json.Unmarshal([]byte(expr), &v); err == nil {
		return v, true
	}
	return nil, false
}

// UnwrapLixJSON recognizes the `lix_json(...)` marker function (SPEC_FULL
// §5.1) and returns its single argument plus wrapped=true, or the original
// expression with wrapped=false.
func UnwrapLixJSON(e *sqlast.Expr) (*sqlast.Expr, bool) {
	if e != nil && e.Kind == sqlast.ExprFunction && e.FuncName == "lix_json" && len(e.Args) == 1 {
		return e.Args[0], true
	}
	return e, false
}

// RejectPrimaryKeyUpdate enforces §4.F.2/§3 invariant 2: id/entity_id/any
// primary-key component is never a valid UPDATE assignment target.
func RejectPrimaryKeyUpdate(table *schema.Table, assignments []sqlast.Assignment) error {
	pkSet := map[string]bool{"id": true, "entity_id": true, "lixcol_entity_id": true}
	for _, p := range table.PrimaryKey {
		pkSet[p] = true
	}
	for _, a := range assignments {
		if pkSet[a.Column] {
			return lixerr.ImmutableFieldError{Field: a.Column}
		}
		if a.Column == "schema_key" {
			return lixerr.ImmutableFieldError{Field: "schema_key"}
		}
	}
	return nil
}

// entityViewUpdateAllowList is the §4.F.2 allow-list of non-property
// lixcol_* assignments permitted on an entity-view UPDATE.
var entityViewUpdateAllowList = map[string]bool{
	"lixcol_metadata": true, "lixcol_writer_key": true, "lixcol_file_id": true,
	"lixcol_plugin_key": true, "lixcol_schema_version": true,
}

// ClassifyUpdateAssignment reports whether a UPDATE assignment column is a
// declared schema property (-> JSON patch), an allow-listed lixcol_*
// column (-> state-vtable column), or neither (error).
func ClassifyUpdateAssignment(table *schema.Table, column string) (isProperty bool, err error) {
	if _, ok := table.Properties[column]; ok {
		return true, nil
	}
	if entityViewUpdateAllowList[column] {
		return false, nil
	}
	return false, lixerr.UnknownColumnError{Column: column}
}

// RequireVersionScope enforces §4.F.2: "By-version variants require an
// explicit version_id predicate ... a missing predicate is a hard error."
func RequireVersionScope(where *sqlast.Expr, viewName string) (versionID string, err error) {
	for _, c := range sqlast.SplitConjunction(where) {
		if lit, ok := sqlast.ExtractEqualityLiteral(c, "lixcol_version_id"); ok && lit.Text != nil {
			return *lit.Text, nil
		}
		if lit, ok := sqlast.ExtractEqualityLiteral(c, "version_id"); ok && lit.Text != nil {
			return *lit.Text, nil
		}
	}
	return "", lixerr.MissingVersionScopeError{View: viewName}
}

// ResolveEntityIDFromWhere derives the entity_id an UPDATE/DELETE targets
// from its WHERE clause: a direct id/entity_id literal equality, or (§4.F.2
// "a WHERE clause identifying all components of the primary key as literals
// is translated into an explicit entity_id = <derived> predicate") every
// primary-key component present as a literal equality.
func ResolveEntityIDFromWhere(table *schema.Table, where *sqlast.Expr) (string, error) {
	conjuncts := sqlast.SplitConjunction(where)

	for _, c := range conjuncts {
		if lit, ok := sqlast.ExtractEqualityLiteral(c, "id"); ok && lit.Text != nil {
			return *lit.Text, nil
		}
		if lit, ok := sqlast.ExtractEqualityLiteral(c, "entity_id"); ok && lit.Text != nil {
			return *lit.Text, nil
		}
	}

	if len(table.PrimaryKey) == 0 {
		return "", lixerr.MissingColumnError{Column: "id/entity_id (schema declares no primary key)"}
	}

	components := map[string]any{}
	for _, pk := range table.PrimaryKey {
		found := false
		for _, c := range conjuncts {
			if lit, ok := sqlast.ExtractEqualityLiteral(c, pk); ok {
				components[pk] = literalValue(lit)
				found = true
				break
			}
		}
		if !found {
			return "", lixerr.MissingColumnError{Column: pk}
		}
	}
	return table.DeriveEntityID(components)
}

func literalValue(l sqlast.Literal) any {
	switch {
	case l.Null:
		return nil
	case l.Boolean != nil:
		return *l.Boolean
	case l.Integer != nil:
		return *l.Integer
	case l.Real != nil:
		return *l.Real
	case l.Text != nil:
		return *l.Text
	default:
		return nil
	}
}

// UpdatePlan is the rewritten output of an entity-view UPDATE (§4.F.2).
type UpdatePlan struct {
	EntityID string
	Sets     []state.SetClause
	Where    *sqlast.Expr
}

// PlanUpdate implements §4.F.2's UPDATE branch, entirely offline: property
// assignments fold into a single chained json_set/jsonb_set patch of
// snapshot_content, allow-listed lixcol_* assignments pass through as flat
// columns, and the WHERE clause collapses to an explicit entity_id
// predicate once resolved.
func PlanUpdate(dialect lixbackend.Dialect, table *schema.Table, assignments []sqlast.Assignment, where *sqlast.Expr, resolveLiteral func(*sqlast.Expr) (any, error)) (*UpdatePlan, error) {
	if err := RejectPrimaryKeyUpdate(table, assignments); err != nil {
		return nil, err
	}

	entityID, err := ResolveEntityIDFromWhere(table, where)
	if err != nil {
		return nil, err
	}

	var sets []state.SetClause
	patchExpr := "snapshot_content"
	var patchParams []lixbackend.Value
	havePatch := false

	for _, a := range assignments {
		isProperty, err := ClassifyUpdateAssignment(table, a.Column)
		if err != nil {
			return nil, err
		}

		if !isProperty {
			raw, err := resolveLiteral(a.Value)
			if err != nil {
				return nil, err
			}
			sets = append(sets, state.SetClause{
				Column:   strings.TrimPrefix(a.Column, "lixcol_"),
				ValueSQL: "?",
				Params:   []lixbackend.Value{toBackendValue(raw)},
			})
			continue
		}

		prop := table.Properties[a.Column]
		unwrapped, wrapped := UnwrapLixJSON(a.Value)
		raw, err := resolveLiteral(unwrapped)
		if err != nil {
			return nil, err
		}
		coerced, err := jsonschemaval.CoerceProperty(prop, raw, wrapped)
		if err != nil {
			return nil, err
		}
		if err := jsonschemaval.ValidateAgainstDeclaredShape(prop, coerced); err != nil {
			return nil, err
		}

		valueSQL, param := jsonPatchValue(dialect, coerced)
		patchExpr = sqlast.JSONSetExpr(dialect, patchExpr, a.Column, valueSQL)
		patchParams = append(patchParams, param)
		havePatch = true
	}

	if havePatch {
		sets = append(sets, state.SetClause{Column: "snapshot_content", ValueSQL: patchExpr, Params: patchParams})
	}

	return &UpdatePlan{
		EntityID: entityID,
		Sets:     sets,
		Where:    sqlast.Binary("=", sqlast.Column("entity_id"), sqlast.Lit(sqlast.LiteralText(entityID))),
	}, nil
}

// DeletePlan is the rewritten output of an entity-view DELETE, reduced to
// the explicit entity_id predicate the tombstone/untracked-delete statement
// builders in pkg/rewrite/state consume.
type DeletePlan struct {
	EntityID string
	Where    *sqlast.Expr
}

// PlanDelete implements §4.F.2's DELETE branch: the WHERE clause collapses
// to an explicit entity_id predicate the same way PlanUpdate's does.
func PlanDelete(table *schema.Table, where *sqlast.Expr) (*DeletePlan, error) {
	entityID, err := ResolveEntityIDFromWhere(table, where)
	if err != nil {
		return nil, err
	}
	return &DeletePlan{
		EntityID: entityID,
		Where:    sqlast.Binary("=", sqlast.Column("entity_id"), sqlast.Lit(sqlast.LiteralText(entityID))),
	}, nil
}

// toBackendValue converts a resolveLiteral result (bool/int64/float64/
// string/nil, the shapes resolveLiteral ever produces) to a lixbackend.Value
// for a flat lixcol_* assignment.
func toBackendValue(v any) lixbackend.Value {
	switch tv := v.(type) {
	case nil:
		return lixbackend.Null()
	case bool:
		return lixbackend.Boolean(tv)
	case int64:
		return lixbackend.Integer(tv)
	case float64:
		return lixbackend.Real(tv)
	case string:
		return lixbackend.Text(tv)
	default:
		return lixbackend.Null()
	}
}

// jsonPatchValue renders the bound-value placeholder for one property patch
// and the backend value it binds to. Scalars bind natively and let
// to_jsonb/json_set coerce them; an object or array value is marshaled to
// JSON text first and cast explicitly, since to_jsonb/json_set otherwise see
// only an opaque driver parameter with no declared JSON shape.
func jsonPatchValue(dialect lixbackend.Dialect, v any) (string, lixbackend.Value) {
	switch tv := v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(tv)
		if err != nil {
			return "?", lixbackend.Null()
		}
		if dialect == lixbackend.Postgres {
			return "?::jsonb", lixbackend.Text(string(b))
		}
		return "json(?)", lixbackend.Text(string(b))
	default:
		return "?", toBackendValue(v)
	}
}
