// SPDX-License-Identifier: Apache-2.0

// Package commit implements §4.H: the commit generator that turns a batch
// of logical DomainChanges into a StatementBatch of physical statements
// (snapshot upsert, change insert, per-schema materialized upserts,
// commit/edge/ancestry upserts), in the execution order fixed by §5
// ("Ordering guarantees").
package commit

// DomainChange is one logical tracked mutation produced by the
// state-vtable rewriter (§4.G.1 "Tracked branch") or by an auto-created
// ancestor directory detected by the filesystem rewriter (§4.E.1 step 3).
type DomainChange struct {
	ID             string
	EntityID       string
	SchemaKey      string
	SchemaVersion  string
	FileID         string
	PluginKey      string
	SnapshotContent []byte // nil means tombstone: snapshot_id becomes "no-content"
	Metadata        []byte // nullable JSON text
	VersionID       string
	WriterKey       string
	CreatedAt       string
}

// NoContentSnapshotID is the sentinel snapshot id for tombstones (§3
// "Change").
const NoContentSnapshotID = "no-content"
