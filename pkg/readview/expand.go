// SPDX-License-Identifier: Apache-2.0

package readview

import (
	"github.com/lixql/lixql/pkg/lixbackend"
	"github.com/lixql/lixql/pkg/schema"
	"github.com/lixql/lixql/pkg/sqlast"
)

// View names the logical relations §4.I expands in place of a physical
// FROM clause.
const (
	ViewState              = "lix_state"
	ViewStateByVersion     = "lix_state_by_version"
	ViewStateHistory       = "lix_state_history"
	ViewFile               = "lix_file"
	ViewFileByVersion      = "lix_file_by_version"
	ViewDirectory          = "lix_directory"
	ViewDirectoryByVersion = "lix_directory_by_version"
)

// SQLCache is the process-wide (dialect, source SQL) -> rewritten SQL
// mapping described in §5. *session.HelperSQLCache satisfies this
// structurally, without pkg/readview importing pkg/session: the expander
// is a lower-level component the session package wires a cache into, not
// the other way around.
type SQLCache interface {
	Get(dialect lixbackend.Dialect, sourceSQL string) (string, bool)
	Put(dialect lixbackend.Dialect, sourceSQL, rewrittenSQL string)
}

// IsLogicalView reports whether table names one of the relations this
// package expands.
func IsLogicalView(table string) bool {
	switch table {
	case ViewState, ViewStateByVersion, ViewStateHistory, ViewFile, ViewFileByVersion, ViewDirectory, ViewDirectoryByVersion:
		return true
	default:
		return false
	}
}

// Expand inlines stmt's logical view (identified by stmt.Table) into plain
// SQL text over the physical overlay/materialized/timeline tables, the way
// a caller rewrites a user's `SELECT ... FROM lix_state ...` before handing
// it to the backend. It reports false (with an empty result) when
// stmt.Table does not name a recognized logical view, so the caller can
// fall through to passing the statement through unexamined.
//
// cache is consulted and populated keyed on (dialect, stmt.Raw): repeated
// expansion of the same source text under the same dialect costs one map
// lookup instead of a full rebuild, per §5's helper-SQL cache. cache may be
// nil, in which case every call rebuilds.
func Expand(cache SQLCache, dialect lixbackend.Dialect, catalog *schema.Catalog, stmt *sqlast.Statement) (string, bool) {
	if stmt == nil || !IsLogicalView(stmt.Table) {
		return "", false
	}

	if cache != nil {
		if hit, ok := cache.Get(dialect, stmt.Raw); ok {
			return hit, true
		}
	}

	schemaKeys := CandidateSchemaKeys(catalog, stmt.Where)

	var out string
	switch stmt.Table {
	case ViewState:
		out = BuildStateQuery(schemaKeys, stmt.Where)
	case ViewStateByVersion:
		out = BuildStateByVersionQuery(schemaKeys, false)
	case ViewStateHistory:
		buckets := BucketHistoryPredicates(stmt.Where)
		shape := ClassifyHistoryQuery(stmt.Where, stmt.IsCountStar)
		if shape == HistoryShapePhase1Fallback {
			out = phase1FallbackFromBuckets(buckets)
		} else {
			out = BuildHistoryQuery(buckets, shape)
		}
	case ViewFile, ViewDirectory:
		out = BuildFileOrDirectoryQuery(false)
	case ViewFileByVersion, ViewDirectoryByVersion:
		out = BuildFileOrDirectoryQuery(true)
	}

	if cache != nil {
		cache.Put(dialect, stmt.Raw, out)
	}
	return out, true
}

// phase1FallbackFromBuckets pulls the single `commit_id = ...` literal the
// classifier already confirmed is present out of the changes-source bucket,
// the way ClassifyHistoryQuery found it in the first place.
func phase1FallbackFromBuckets(buckets HistoryPredicateBuckets) string {
	for _, bucket := range [][]*sqlast.Expr{buckets.ChangesSource, buckets.ReachableCommits, buckets.RequestedRoots} {
		for _, c := range bucket {
			if lit, ok := sqlast.ExtractEqualityLiteral(c, "commit_id"); ok && lit.Text != nil {
				return BuildPhase1FallbackQuery(quoteLiteral(*lit.Text))
			}
		}
	}
	return BuildPhase1FallbackQuery("NULL")
}
