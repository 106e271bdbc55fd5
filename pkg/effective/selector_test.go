// SPDX-License-Identifier: Apache-2.0

package effective_test

import (
	"testing"

	"github.com/lixql/lixql/pkg/effective"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectPrefersShallowerDepth(t *testing.T) {
	t.Parallel()

	candidates := []effective.Candidate{
		{VersionID: "parent", Depth: 1, Priority: effective.PriorityMaterialized, RowPosition: 0},
		{VersionID: "child", Depth: 0, Priority: effective.PriorityMaterialized, RowPosition: 1},
	}

	winner, found, absent := effective.Select(candidates)
	require.True(t, found)
	assert.False(t, absent)
	assert.Equal(t, "child", winner.VersionID)
}

func TestSelectUntrackedWinsAtEqualDepth(t *testing.T) {
	t.Parallel()

	candidates := []effective.Candidate{
		{VersionID: "v", Depth: 0, Priority: effective.PriorityMaterialized, RowPosition: 0},
		{VersionID: "v", Depth: 0, Priority: effective.PriorityUntracked, RowPosition: 1},
	}

	winner, found, _ := effective.Select(candidates)
	require.True(t, found)
	assert.Equal(t, effective.PriorityUntracked, winner.Priority)
}

func TestSelectTombstoneAtWinningDepthDoesNotLoseToDeeperLiveRow(t *testing.T) {
	t.Parallel()

	candidates := []effective.Candidate{
		{VersionID: "child", Depth: 0, Priority: effective.PriorityMaterialized, IsTombstone: true, RowPosition: 0},
		{VersionID: "parent", Depth: 1, Priority: effective.PriorityMaterialized, IsTombstone: false, RowPosition: 1},
	}

	winner, found, absent := effective.Select(candidates)
	require.True(t, found)
	assert.Equal(t, "child", winner.VersionID)
	assert.True(t, absent, "tombstone at winning (depth,priority) masks the inherited live row")
}

func TestSelectTieBreaksByRowPosition(t *testing.T) {
	t.Parallel()

	candidates := []effective.Candidate{
		{Depth: 0, Priority: effective.PriorityUntracked, RowPosition: 2},
		{Depth: 0, Priority: effective.PriorityUntracked, RowPosition: 1},
	}
	winner, _, _ := effective.Select(candidates)
	assert.Equal(t, 1, winner.RowPosition)
}

func TestSelectEmpty(t *testing.T) {
	t.Parallel()
	_, found, _ := effective.Select(nil)
	assert.False(t, found)
}
