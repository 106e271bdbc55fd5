// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"

	"github.com/lixql/lixql/pkg/lixbackend"
	"github.com/lixql/lixql/pkg/timeline"
)

// BackendTimelineSource implements timeline.Source against a live backend
// (§4.J): BuiltMaxDepth reads the root commit's watermark out of
// timeline_status, Phase1Rows scans commit_ancestry for every commit
// reachable from the root within [fromDepth, toDepth] and joins each one's
// changes in, ordered the way Ensure's scan-and-compare loop requires.
type BackendTimelineSource struct {
	Backend lixbackend.Backend
}

func NewBackendTimelineSource(backend lixbackend.Backend) *BackendTimelineSource {
	return &BackendTimelineSource{Backend: backend}
}

// BuiltMaxDepth returns 0 (no rows yet built) when timeline_status carries
// no watermark row for rootCommitID.
func (s *BackendTimelineSource) BuiltMaxDepth(ctx context.Context, rootCommitID string) (int, error) {
	res, err := s.Backend.Execute(ctx,
		"SELECT built_max_depth FROM timeline_status WHERE root_commit_id = ?",
		[]lixbackend.Value{lixbackend.Text(rootCommitID)})
	if err != nil {
		return 0, err
	}
	if len(res.Rows) == 0 {
		return 0, nil
	}
	depth, _ := res.Rows[0][0].AsInteger()
	return int(depth), nil
}

// Phase1Rows scans every commit at depth in [fromDepth, toDepth] reachable
// from rootCommitID (via commit_ancestry, rootCommitID itself at depth 0)
// and joins in the changes each commit's change_set_element rows reference,
// ordered by (entity_id, file_id, schema_key, depth ASC) per §4.J step 2.
func (s *BackendTimelineSource) Phase1Rows(ctx context.Context, rootCommitID string, fromDepth, toDepth int) ([]timeline.Phase1Row, error) {
	sql := `SELECT ca.depth, cse.change_id, ch.entity_id, ch.schema_key, ch.schema_version, ch.file_id, ch.plugin_key, ch.snapshot_id, ch.metadata
FROM commit_ancestry ca
JOIN change_set_element cse ON cse.commit_id = ca.ancestor_id
JOIN change ch ON ch.id = cse.change_id
WHERE ca.commit_id = ? AND ca.depth >= ? AND ca.depth <= ?
ORDER BY ch.entity_id, ch.file_id, ch.schema_key, ca.depth ASC`

	res, err := s.Backend.Execute(ctx, sql, []lixbackend.Value{
		lixbackend.Text(rootCommitID), lixbackend.Integer(int64(fromDepth)), lixbackend.Integer(int64(toDepth)),
	})
	if err != nil {
		return nil, err
	}

	rows := make([]timeline.Phase1Row, 0, len(res.Rows))
	for _, r := range res.Rows {
		depth, _ := r[0].AsInteger()
		changeID, _ := r[1].AsText()
		entityID, _ := r[2].AsText()
		schemaKey, _ := r[3].AsText()
		schemaVersion, _ := r[4].AsText()
		fileID, _ := r[5].AsText()
		pluginKey, _ := r[6].AsText()
		snapshotID, _ := r[7].AsText()
		var metadata []byte
		if b, ok := r[8].AsBlob(); ok {
			metadata = b
		}
		rows = append(rows, timeline.Phase1Row{
			RootCommitID:  rootCommitID,
			EntityID:      entityID,
			SchemaKey:     schemaKey,
			FileID:        fileID,
			Depth:         int(depth),
			PluginKey:     pluginKey,
			SchemaVersion: schemaVersion,
			Metadata:      metadata,
			SnapshotID:    snapshotID,
			ChangeID:      changeID,
		})
	}
	return rows, nil
}
