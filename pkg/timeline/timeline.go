// SPDX-License-Identifier: Apache-2.0

// Package timeline implements §4.J: the history-timeline maintainer. Before
// any statement touching `lix_state_history` executes, it ensures
// timeline_breakpoint rows are materialized up to MaxDepth for every root
// commit the statement could reference, the way the teacher's migration
// runner ensures a migration's DDL has been fully applied before a
// dependent step runs.
package timeline

import (
	"context"

	"github.com/lixql/lixql/pkg/commit"
	"github.com/lixql/lixql/pkg/lixbackend"
	"github.com/lixql/lixql/pkg/lixerr"
	"github.com/lixql/lixql/pkg/readview"
	"github.com/lixql/lixql/pkg/sqlast"
)

// MaxDepth is the bound §4.J fixes: "MAX_HISTORY_DEPTH = 512".
const MaxDepth = readview.MaxHistoryDepth

// Phase1Row is one row of the phase-1 source CTE the maintainer scans,
// ordered by (entity_id, file_id, schema_key, depth ASC) per §4.J step 2.
type Phase1Row struct {
	RootCommitID  string
	EntityID      string
	SchemaKey     string
	FileID        string
	Depth         int
	PluginKey     string
	SchemaVersion string
	Metadata      []byte
	SnapshotID    string
	ChangeID      string
}

func (r Phase1Row) signature() string {
	return r.PluginKey + "\x00" + r.SchemaVersion + "\x00" + string(r.Metadata) + "\x00" + r.SnapshotID + "\x00" + r.ChangeID
}

func (r Phase1Row) key() string {
	return r.EntityID + "\x00" + r.SchemaKey + "\x00" + r.FileID
}

// Source supplies the phase-1 ordered rows and the built-depth watermark
// the maintainer needs; a real implementation executes the phase-1 CTE
// against the backend, this interface keeps the scan/compare algorithm
// (the part actually worth testing) independent of SQL execution.
type Source interface {
	BuiltMaxDepth(ctx context.Context, rootCommitID string) (int, error)
	Phase1Rows(ctx context.Context, rootCommitID string, fromDepth, toDepth int) ([]Phase1Row, error)
}

// MaintenancePlan is the set of breakpoint upserts and the status upsert
// ensuring a root commit's timeline is built to MaxDepth (or as far as the
// chain actually extends).
type MaintenancePlan struct {
	Breakpoints  []Phase1Row
	StatusUpsert *commit.Statement // nil if already at MaxDepth, no work needed
}

// Ensure implements the per-root algorithm of §4.J steps 1-5: read the
// watermark, scan from one past it (re-including the boundary sample to
// catch signature changes straddling it), emit a breakpoint wherever the
// signature changes at depth >= start, and upsert the new watermark
// monotonically.
func Ensure(ctx context.Context, source Source, rootCommitID string) (*MaintenancePlan, error) {
	builtDepth, err := source.BuiltMaxDepth(ctx, rootCommitID)
	if err != nil {
		return nil, lixerr.BackendFailureError{Stage: "timeline.Ensure: read built_max_depth", Err: err}
	}
	if builtDepth >= MaxDepth {
		return &MaintenancePlan{}, nil
	}

	startDepth := builtDepth
	if startDepth > 0 {
		startDepth-- // step 2: "minus one for the re-read of the boundary sample"
	}

	rows, err := source.Phase1Rows(ctx, rootCommitID, startDepth, MaxDepth)
	if err != nil {
		return nil, lixerr.BackendFailureError{Stage: "timeline.Ensure: phase-1 scan", Err: err}
	}

	plan := &MaintenancePlan{}
	lastSignature := map[string]string{}
	maxDepthSeen := builtDepth

	for _, row := range rows {
		k := row.key()
		prev, seen := lastSignature[k]
		sig := row.signature()
		if !seen {
			lastSignature[k] = sig
			if row.Depth >= startDepth {
				// first row observed at/after the boundary for this key is
				// always a breakpoint candidate relative to "nothing came
				// before it in this scan window" — only emit if it's also
				// within the actual maintenance window (depth >= original
				// builtDepth, i.e. genuinely new coverage), matching step 3's
				// "seed the comparison so depth-boundary edges are caught."
				if row.Depth >= builtDepth {
					plan.Breakpoints = append(plan.Breakpoints, row)
				}
			}
			if row.Depth > maxDepthSeen {
				maxDepthSeen = row.Depth
			}
			continue
		}
		if sig != prev && row.Depth >= startDepth {
			plan.Breakpoints = append(plan.Breakpoints, row)
			lastSignature[k] = sig
		}
		if row.Depth > maxDepthSeen {
			maxDepthSeen = row.Depth
		}
	}

	if maxDepthSeen > builtDepth {
		plan.StatusUpsert = StatusUpsertStatement(rootCommitID, maxDepthSeen)
	}

	return plan, nil
}

// BreakpointUpsertStatement renders the idempotent upsert of one breakpoint
// row, keyed on its composite (root_commit_id, entity_id, schema_key,
// file_id, depth) identity (§4.J step 4).
func BreakpointUpsertStatement(r Phase1Row) commit.Statement {
	sql := `INSERT INTO timeline_breakpoint (root_commit_id, entity_id, schema_key, file_id, depth, plugin_key, schema_version, metadata, snapshot_id, change_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (root_commit_id, entity_id, schema_key, file_id, depth) DO UPDATE SET
  plugin_key = excluded.plugin_key,
  schema_version = excluded.schema_version,
  metadata = excluded.metadata,
  snapshot_id = excluded.snapshot_id,
  change_id = excluded.change_id`

	metadata := lixbackend.Null()
	if r.Metadata != nil {
		metadata = lixbackend.Blob(r.Metadata)
	}

	return commit.Statement{
		SQL: sql,
		Params: []lixbackend.Value{
			lixbackend.Text(r.RootCommitID), lixbackend.Text(r.EntityID), lixbackend.Text(r.SchemaKey),
			lixbackend.Text(r.FileID), lixbackend.Integer(int64(r.Depth)), lixbackend.Text(r.PluginKey),
			lixbackend.Text(r.SchemaVersion), metadata, lixbackend.Text(r.SnapshotID), lixbackend.Text(r.ChangeID),
		},
		Label: "timeline breakpoint upsert",
	}
}

// StatusUpsertStatement renders the monotonic watermark upsert of §4.J
// step 5: "Upsert status(root, depth) using MAX(existing, new)."
func StatusUpsertStatement(rootCommitID string, depth int) *commit.Statement {
	return &commit.Statement{
		SQL: `INSERT INTO timeline_status (root_commit_id, built_max_depth) VALUES (?, ?)
ON CONFLICT (root_commit_id) DO UPDATE SET built_max_depth = CASE WHEN excluded.built_max_depth > timeline_status.built_max_depth THEN excluded.built_max_depth ELSE timeline_status.built_max_depth END`,
		Params: []lixbackend.Value{lixbackend.Text(rootCommitID), lixbackend.Integer(int64(depth))},
		Label:  "timeline status upsert",
	}
}

// Statements flattens a MaintenancePlan into the statements Ensure's caller
// must execute, breakpoints first, status last (mirrors the commit
// generator's "dependents before watermark" ordering discipline).
func (p *MaintenancePlan) Statements() []commit.Statement {
	var out []commit.Statement
	for _, bp := range p.Breakpoints {
		out = append(out, BreakpointUpsertStatement(bp))
	}
	if p.StatusUpsert != nil {
		out = append(out, *p.StatusUpsert)
	}
	return out
}

// RootCommitIDsReferenced extracts the distinct literal root_commit_id
// values a `lix_state_history` statement's WHERE clause names directly, the
// set Ensure must be invoked for before the statement runs (§4.J "for each
// root commit the statement could reference").
func RootCommitIDsReferenced(buckets readview.HistoryPredicateBuckets) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, c := range buckets.RequestedRoots {
		lit, ok := sqlast.ExtractEqualityLiteral(c, "root_commit_id")
		if !ok || lit.Text == nil {
			continue
		}
		if _, dup := seen[*lit.Text]; dup {
			continue
		}
		seen[*lit.Text] = struct{}{}
		out = append(out, *lit.Text)
	}
	return out
}
