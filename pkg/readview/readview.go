// SPDX-License-Identifier: Apache-2.0

// Package readview implements §4.I: the read-view expander. It inlines the
// logical views (`lix_state`, `lix_state_by_version`, `lix_file`/
// `lix_directory` and their by-version variants, `lix_state_history`) into
// plain UNION ALL / CTE SQL text over the physical untracked overlay and
// materialized_<schema_key> tables, the way the teacher's pkg/sql2pgroll
// expands a single declarative operation into the literal DDL/DML it takes
// to perform it.
package readview

import (
	"fmt"
	"strings"

	"github.com/lixql/lixql/pkg/rewrite/fs"
	"github.com/lixql/lixql/pkg/schema"
	"github.com/lixql/lixql/pkg/sqlast"
)

// MaxVersionChainDepth bounds the recursive version-descriptor walk of
// §4.I.2 ("bounded depth 64").
const MaxVersionChainDepth = 64

// MaxHistoryDepth is the timeline depth bound shared with pkg/timeline
// (§4.J "MAX_HISTORY_DEPTH = 512").
const MaxHistoryDepth = 512

// physicalColumnAllowList is the set of columns a pushdown predicate may
// reference and still be safely duplicated into every UNION branch of
// `lix_state` (§4.I.1 "Pushdown predicates ... are duplicated into every
// branch ... when all referenced columns are in an allow-list").
var physicalColumnAllowList = map[string]bool{
	"entity_id": true, "schema_key": true, "schema_version": true, "file_id": true,
	"plugin_key": true, "version_id": true, "writer_key": true, "metadata": true,
}

// CandidateSchemaKeys resolves the set of schema keys `FROM lix_state`
// fans out to, per §4.I.1: from an explicit `schema_key = …`/`IN (…)`
// predicate if present, otherwise every schema key registered in the
// catalog. A `plugin_key` predicate does not narrow the set.
func CandidateSchemaKeys(catalog *schema.Catalog, where *sqlast.Expr) []string {
	for _, c := range sqlast.SplitConjunction(where) {
		if lit, ok := sqlast.ExtractEqualityLiteral(c, "schema_key"); ok && lit.Text != nil {
			return []string{*lit.Text}
		}
		if lits, ok := sqlast.ExtractInListLiterals(c, "schema_key"); ok {
			keys := make([]string, 0, len(lits))
			for _, l := range lits {
				if l.Text != nil {
					keys = append(keys, *l.Text)
				}
			}
			return keys
		}
	}
	return catalog.SchemaKeys(nil)
}

// pushablePredicates filters where's conjuncts down to the ones that
// reference only physical, allow-listed columns, returning their
// qualifier-stripped SQL text.
func pushablePredicates(where *sqlast.Expr) []string {
	var out []string
	for _, c := range sqlast.SplitConjunction(where) {
		if referencesOnlyAllowedColumns(c) {
			out = append(out, sqlast.Serialize(sqlast.StripQualifier(c)))
		}
	}
	return out
}

func referencesOnlyAllowedColumns(e *sqlast.Expr) bool {
	if e == nil {
		return true
	}
	switch e.Kind {
	case sqlast.ExprColumn:
		return physicalColumnAllowList[e.Column]
	case sqlast.ExprBinaryOp:
		return referencesOnlyAllowedColumns(e.Left) && referencesOnlyAllowedColumns(e.Right)
	case sqlast.ExprNested:
		return referencesOnlyAllowedColumns(e.Inner)
	case sqlast.ExprInList:
		if !referencesOnlyAllowedColumns(e.Left) {
			return false
		}
		for _, item := range e.List {
			if !referencesOnlyAllowedColumns(item) {
				return false
			}
		}
		return true
	case sqlast.ExprFunction:
		for _, a := range e.Args {
			if !referencesOnlyAllowedColumns(a) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// BuildStateQuery implements §4.I.1: a `UNION ALL` of the untracked
// overlay (priority 1) and each candidate schema's materialized table
// (priority 2), ranked and deduplicated by ROW_NUMBER, with pushdown
// predicates duplicated into every branch.
func BuildStateQuery(schemaKeys []string, where *sqlast.Expr) string {
	pushdown := pushablePredicates(where)
	pushdownSQL := ""
	if len(pushdown) > 0 {
		pushdownSQL = " AND " + strings.Join(pushdown, " AND ")
	}

	var branches []string
	branches = append(branches, fmt.Sprintf(
		"SELECT entity_id, schema_key, schema_version, file_id, plugin_key, snapshot_content, metadata, version_id, writer_key, updated_at, 1 AS untracked, 1 AS priority FROM untracked WHERE schema_key IN (%s)%s",
		quotedInList(schemaKeys), pushdownSQL,
	))
	for _, key := range schemaKeys {
		branches = append(branches, fmt.Sprintf(
			"SELECT entity_id, %s AS schema_key, schema_version, file_id, plugin_key, snapshot_content, metadata, version_id, writer_key, updated_at, 0 AS untracked, 2 AS priority FROM materialized_%s WHERE is_tombstone = 0 AND snapshot_content IS NOT NULL%s",
			quoteLiteral(key), key, pushdownSQL,
		))
	}

	union := strings.Join(branches, "\nUNION ALL\n")
	return fmt.Sprintf(`WITH state_union AS (
%s
),
ranked AS (
  SELECT *, ROW_NUMBER() OVER (PARTITION BY entity_id, schema_key, file_id, version_id ORDER BY priority) AS rn
  FROM state_union
)
SELECT entity_id, schema_key, schema_version, file_id, plugin_key, snapshot_content, metadata, version_id, writer_key, updated_at, untracked
FROM ranked WHERE rn = 1`, union)
}

// BuildStateByVersionQuery implements §4.I.2: a recursive version-chain
// walk joined to the state vtable, selecting the effective row per target
// version by ascending chain depth.
func BuildStateByVersionQuery(schemaKeys []string, includeCommitID bool) string {
	commitJoin := ""
	commitColumn := "NULL AS commit_id"
	if includeCommitID {
		commitColumn = "cse.commit_id"
		commitJoin = `
LEFT JOIN change_set_element cse ON cse.change_id = effective.change_id`
	}

	return fmt.Sprintf(`WITH RECURSIVE version_chain(target_version_id, ancestor_version_id, depth) AS (
  SELECT id, id, 0 FROM version
  UNION ALL
  SELECT vc.target_version_id, v.inherits_from_version_id, vc.depth + 1
  FROM version_chain vc
  JOIN version v ON v.id = vc.ancestor_version_id
  WHERE v.inherits_from_version_id IS NOT NULL AND vc.depth < %d
),
effective AS (
  SELECT s.*, vc.target_version_id, vc.depth,
    ROW_NUMBER() OVER (PARTITION BY vc.target_version_id, s.entity_id, s.schema_key, s.file_id ORDER BY vc.depth) AS rn
  FROM version_chain vc
  JOIN state_vtable s ON s.version_id = vc.ancestor_version_id AND s.schema_key IN (%s)
)
SELECT entity_id, schema_key, schema_version, file_id, plugin_key, snapshot_content, metadata,
  target_version_id AS version_id, writer_key,
  CASE WHEN depth = 0 THEN NULL ELSE (SELECT v2.id FROM version v2 WHERE v2.id = effective.target_version_id) END AS inherited_from_version_id,
  %s
FROM effective%s
WHERE rn = 1`, MaxVersionChainDepth, quotedInList(schemaKeys), commitColumn, commitJoin)
}

// BuildFileOrDirectoryQuery implements §4.I.3: a thin projection over the
// by-version or active-version state template, fixed to the file
// descriptor schema key (directory descriptors are joined in only as path
// ancestors), with `path` reassembled via a recursive ancestor join.
func BuildFileOrDirectoryQuery(byVersion bool) string {
	innerQuery := BuildStateQuery([]string{fs.FileDescriptorSchemaKey}, nil)
	if byVersion {
		innerQuery = BuildStateByVersionQuery([]string{fs.FileDescriptorSchemaKey}, false)
	}

	return fmt.Sprintf(`WITH RECURSIVE descriptor AS (
  %s
),
ancestor_path(entity_id, path, directory_id) AS (
  SELECT d.entity_id,
    (SELECT name FROM materialized_%s root WHERE root.entity_id = (d.snapshot_content ->> 'directory_id')) || '/',
    d.snapshot_content ->> 'directory_id'
  FROM descriptor d
  WHERE (d.snapshot_content ->> 'directory_id') IS NOT NULL
  UNION ALL
  SELECT ap.entity_id, (parent.snapshot_content ->> 'name') || '/' || ap.path, parent.snapshot_content ->> 'directory_id'
  FROM ancestor_path ap
  JOIN materialized_%s parent ON parent.entity_id = ap.directory_id
  WHERE parent.snapshot_content ->> 'directory_id' IS NOT NULL
)
SELECT descriptor.*, '/' || COALESCE((SELECT path FROM ancestor_path WHERE ancestor_path.entity_id = descriptor.entity_id), '') ||
  (descriptor.snapshot_content ->> 'name') ||
  CASE WHEN descriptor.snapshot_content ->> 'extension' IS NOT NULL THEN '.' || (descriptor.snapshot_content ->> 'extension') ELSE '' END AS path
FROM descriptor`, innerQuery, fs.DirectoryDescriptorSchemaKey, fs.DirectoryDescriptorSchemaKey)
}

// HistoryQueryShape discriminates the three execution strategies §4.I.4
// selects between.
type HistoryQueryShape int

const (
	HistoryShapeStandard HistoryQueryShape = iota
	HistoryShapePhase1Fallback
	HistoryShapeCountOnly
)

// ClassifyHistoryQuery implements §4.I.4's strategy selection: a phase-1
// fallback when the predicate constrains `commit_id` directly rather than
// `root_commit_id`, and a count-only fast path when the outer projection is
// exactly COUNT(*).
func ClassifyHistoryQuery(where *sqlast.Expr, isCountStar bool) HistoryQueryShape {
	if isCountStar {
		return HistoryShapeCountOnly
	}
	for _, c := range sqlast.SplitConjunction(where) {
		if _, ok := sqlast.ExtractEqualityLiteral(c, "commit_id"); ok {
			return HistoryShapePhase1Fallback
		}
	}
	return HistoryShapeStandard
}

// HistoryPredicateBuckets is the three-way split of §4.I.4's predicate
// pushdown: conjuncts that target the changes source, the reachable-commits
// CTE, or the requested-roots CTE.
type HistoryPredicateBuckets struct {
	ChangesSource     []*sqlast.Expr
	ReachableCommits  []*sqlast.Expr
	RequestedRoots    []*sqlast.Expr
}

var reachableCommitsColumns = map[string]bool{"commit_id": true, "depth": true}
var requestedRootsColumns = map[string]bool{"root_commit_id": true}

// BucketHistoryPredicates splits where's conjuncts across the three CTEs a
// `lix_state_history` expansion joins, per §4.I.4, by the single column each
// conjunct compares. Placeholders are not inspected: a conjunct holding a
// bare `?` is bucketed like any other, so the rendered order of bare
// placeholders can differ from their source order.
func BucketHistoryPredicates(where *sqlast.Expr) HistoryPredicateBuckets {
	var out HistoryPredicateBuckets
	for _, c := range sqlast.SplitConjunction(where) {
		col := soleReferencedColumn(c)
		switch {
		case requestedRootsColumns[col]:
			out.RequestedRoots = append(out.RequestedRoots, c)
		case reachableCommitsColumns[col]:
			out.ReachableCommits = append(out.ReachableCommits, c)
		default:
			out.ChangesSource = append(out.ChangesSource, c)
		}
	}
	return out
}

func soleReferencedColumn(e *sqlast.Expr) string {
	if e == nil || e.Kind != sqlast.ExprBinaryOp {
		return ""
	}
	if col := sqlast.StripQualifier(e.Left); col.Kind == sqlast.ExprColumn {
		return col.Column
	}
	if col := sqlast.StripQualifier(e.Right); col.Kind == sqlast.ExprColumn {
		return col.Column
	}
	return ""
}

// BuildHistoryQuery implements §4.I.4's standard-shape multi-stage CTE:
// requested_commits -> reachable_commits (depth-capped at 512) ->
// breakpoint_rows -> history_rows.
func BuildHistoryQuery(buckets HistoryPredicateBuckets, shape HistoryQueryShape) string {
	rootsPredicate := conjunctsSQL(buckets.RequestedRoots, "TRUE")
	reachablePredicate := conjunctsSQL(buckets.ReachableCommits, "TRUE")
	changesPredicate := conjunctsSQL(buckets.ChangesSource, "TRUE")

	base := fmt.Sprintf(`WITH requested_commits AS (
  SELECT DISTINCT root_commit_id FROM commit_ancestry WHERE %s
),
reachable_commits AS (
  SELECT ca.root_commit_id, ca.commit_id, ca.depth
  FROM commit_ancestry ca
  JOIN requested_commits rc ON rc.root_commit_id = ca.root_commit_id
  WHERE ca.depth <= %d AND %s
),
breakpoint_rows AS (
  SELECT tb.root_commit_id, tb.entity_id, tb.schema_key, tb.file_id, tb.depth, tb.plugin_key, tb.schema_version, tb.metadata, tb.snapshot_id, tb.change_id
  FROM timeline_breakpoint tb
  JOIN reachable_commits rc ON rc.root_commit_id = tb.root_commit_id
),
history_rows AS (
  SELECT br.*
  FROM breakpoint_rows br
  WHERE %s
)
`, rootsPredicate, MaxHistoryDepth, reachablePredicate, changesPredicate)

	if shape == HistoryShapeCountOnly {
		return base + "SELECT COUNT(*) FROM history_rows"
	}
	return base + "SELECT * FROM history_rows"
}

// BuildPhase1FallbackQuery implements the §4.I.4 "phase-1 fallback" chosen
// when a user predicate constrains `commit_id` directly: a change-set-
// element scan joined straight to the requested commit, bypassing the
// root_commit_id-indexed timeline_breakpoint table entirely.
func BuildPhase1FallbackQuery(commitIDLiteralSQL string) string {
	return fmt.Sprintf(`SELECT cse.change_id, c.entity_id, c.schema_key, c.schema_version, c.file_id, c.plugin_key, c.snapshot_content, c.metadata
FROM change_set_element cse
JOIN commit_domainchange c ON c.id = cse.change_id
WHERE cse.commit_id = %s`, commitIDLiteralSQL)
}

func conjunctsSQL(parts []*sqlast.Expr, fallback string) string {
	if len(parts) == 0 {
		return fallback
	}
	rendered := make([]string, len(parts))
	for i, p := range parts {
		rendered[i] = sqlast.Serialize(sqlast.StripQualifier(p))
	}
	return strings.Join(rendered, " AND ")
}

func quotedInList(keys []string) string {
	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = quoteLiteral(k)
	}
	return strings.Join(quoted, ", ")
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
