// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"

	"github.com/lixql/lixql/pkg/lixbackend"
	"github.com/lixql/lixql/pkg/readview"
	"github.com/lixql/lixql/pkg/rewrite/fs"
)

// BackendLookup implements fs.Lookup and fs.DescendantLookup against a live
// backend (§4.E.4: "version-chain-aware descriptor lookups"). Rather than
// re-walking the version chain client-side, it reuses the same
// BuildStateByVersionQuery CTE the read-view expander runs against
// `lix_state_by_version` (§4.I.2), so a path/component lookup sees exactly
// the effective row the read path would.
type BackendLookup struct {
	Backend lixbackend.Backend
	Dialect lixbackend.Dialect
}

func NewBackendLookup(backend lixbackend.Backend, dialect lixbackend.Dialect) *BackendLookup {
	return &BackendLookup{Backend: backend, Dialect: dialect}
}

// FindFileByPath reconstructs each file descriptor's path via the same
// ancestor-directory walk readview.BuildFileOrDirectoryQuery uses for reads.
func (l *BackendLookup) FindFileByPath(ctx context.Context, versionID, path string) (string, bool, error) {
	sql := "SELECT entity_id FROM (" + readview.BuildFileOrDirectoryQuery(true) + ") fs_files WHERE version_id = ? AND path = ?"
	res, err := l.Backend.Execute(ctx, sql, []lixbackend.Value{lixbackend.Text(versionID), lixbackend.Text(path)})
	if err != nil {
		return "", false, err
	}
	if len(res.Rows) == 0 {
		return "", false, nil
	}
	id, _ := res.Rows[0][0].AsText()
	return id, true, nil
}

// FindDirectoryByPath mirrors FindFileByPath's ancestor walk, rooted at the
// directory-descriptor table itself rather than a file referencing it.
func (l *BackendLookup) FindDirectoryByPath(ctx context.Context, versionID, path string) (string, bool, error) {
	sql := "SELECT entity_id FROM (" + buildDirectoryPathQuery() + ") fs_dirs WHERE version_id = ? AND path = ?"
	res, err := l.Backend.Execute(ctx, sql, []lixbackend.Value{lixbackend.Text(versionID), lixbackend.Text(path)})
	if err != nil {
		return "", false, err
	}
	if len(res.Rows) == 0 {
		return "", false, nil
	}
	id, _ := res.Rows[0][0].AsText()
	return id, true, nil
}

// FindEntityByComponents is only ever called for the file-descriptor
// uniqueness check (§4.E.1 step 5): no caller in pkg/rewrite/fs asks it
// about directories.
func (l *BackendLookup) FindEntityByComponents(ctx context.Context, versionID, directoryID, name, extension string) (string, bool, error) {
	inner := readview.BuildStateByVersionQuery([]string{fs.FileDescriptorSchemaKey}, false)
	sql := fmt.Sprintf(`SELECT entity_id FROM (%s) d WHERE version_id = ?
  AND COALESCE(d.snapshot_content ->> 'directory_id', '') = ?
  AND d.snapshot_content ->> 'name' = ?
  AND COALESCE(d.snapshot_content ->> 'extension', '') = ?`, inner)
	res, err := l.Backend.Execute(ctx, sql, []lixbackend.Value{
		lixbackend.Text(versionID), lixbackend.Text(directoryID), lixbackend.Text(name), lixbackend.Text(extension),
	})
	if err != nil {
		return "", false, err
	}
	if len(res.Rows) == 0 {
		return "", false, nil
	}
	id, _ := res.Rows[0][0].AsText()
	return id, true, nil
}

// ChildDirectories and ChildFiles implement fs.DescendantLookup for
// ExpandDirectoryDelete's cascade walk (§4.E.3).
func (l *BackendLookup) ChildDirectories(ctx context.Context, versionID, directoryID string) ([]string, error) {
	return l.childEntityIDs(ctx, fs.DirectoryDescriptorSchemaKey, versionID, directoryID)
}

func (l *BackendLookup) ChildFiles(ctx context.Context, versionID, directoryID string) ([]string, error) {
	return l.childEntityIDs(ctx, fs.FileDescriptorSchemaKey, versionID, directoryID)
}

func (l *BackendLookup) childEntityIDs(ctx context.Context, schemaKey, versionID, directoryID string) ([]string, error) {
	inner := readview.BuildStateByVersionQuery([]string{schemaKey}, false)
	sql := fmt.Sprintf("SELECT entity_id FROM (%s) d WHERE version_id = ? AND d.snapshot_content ->> 'directory_id' = ?", inner)
	res, err := l.Backend.Execute(ctx, sql, []lixbackend.Value{lixbackend.Text(versionID), lixbackend.Text(directoryID)})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		if id, ok := row[0].AsText(); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// buildDirectoryPathQuery is FindDirectoryByPath's own ancestor_path CTE,
// the directory-side twin of readview.BuildFileOrDirectoryQuery's (it only
// ever builds file paths, joining directories in purely as ancestors).
func buildDirectoryPathQuery() string {
	inner := readview.BuildStateByVersionQuery([]string{fs.DirectoryDescriptorSchemaKey}, false)
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
SELECT descriptor.entity_id, descriptor.version_id,
  '/' || COALESCE((SELECT path FROM ancestor_path WHERE ancestor_path.entity_id = descriptor.entity_id), '') ||
  (descriptor.snapshot_content ->> 'name') || '/' AS path
FROM descriptor`, inner, fs.DirectoryDescriptorSchemaKey, fs.DirectoryDescriptorSchemaKey)
}
