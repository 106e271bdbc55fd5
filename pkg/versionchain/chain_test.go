// SPDX-License-Identifier: Apache-2.0

package versionchain_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lixql/lixql/pkg/lixbackend"
	"github.com/lixql/lixql/pkg/versionchain"
)

type fakeDescriptorLookup struct {
	descriptors map[string]versionchain.Descriptor
	calls       int
}

func (f *fakeDescriptorLookup) LookupVersionDescriptor(ctx context.Context, backend lixbackend.Backend, versionID string) (versionchain.Descriptor, bool, error) {
	f.calls++
	d, ok := f.descriptors[versionID]
	return d, ok, nil
}

func ptr(s string) *string { return &s }

func TestLoadVersionChainWalksToRoot(t *testing.T) {
	t.Parallel()

	lookup := &fakeDescriptorLookup{descriptors: map[string]versionchain.Descriptor{
		"child":  {ID: "child", InheritsFromVersion: ptr("parent")},
		"parent": {ID: "parent", InheritsFromVersion: ptr("root")},
		"root":   {ID: "root"},
	}}

	session := versionchain.NewSession()
	chain, err := session.LoadVersionChain(context.Background(), nil, lookup, "child")
	require.NoError(t, err)

	assert.Equal(t, []string{"child", "parent", "root"}, chain)
	assert.Equal(t, 0, versionchain.Depth(chain, "child"))
	assert.Equal(t, 2, versionchain.Depth(chain, "root"))
	assert.Equal(t, -1, versionchain.Depth(chain, "nonexistent"))
}

func TestLoadVersionChainCachesWithinSession(t *testing.T) {
	t.Parallel()

	lookup := &fakeDescriptorLookup{descriptors: map[string]versionchain.Descriptor{
		"child": {ID: "child", InheritsFromVersion: ptr("root")},
		"root":  {ID: "root"},
	}}

	session := versionchain.NewSession()
	_, err := session.LoadVersionChain(context.Background(), nil, lookup, "child")
	require.NoError(t, err)
	callsAfterFirst := lookup.calls

	_, err = session.LoadVersionChain(context.Background(), nil, lookup, "child")
	require.NoError(t, err)

	assert.Equal(t, callsAfterFirst, lookup.calls, "second call must be served from the session cache")
}

func TestLoadVersionChainBreaksCycles(t *testing.T) {
	t.Parallel()

	lookup := &fakeDescriptorLookup{descriptors: map[string]versionchain.Descriptor{
		"a": {ID: "a", InheritsFromVersion: ptr("b")},
		"b": {ID: "b", InheritsFromVersion: ptr("a")},
	}}

	session := versionchain.NewSession()
	chain, err := session.LoadVersionChain(context.Background(), nil, lookup, "a")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, chain)
}

func TestLoadVersionChainFailsOpenOnLookupUnresolved(t *testing.T) {
	t.Parallel()

	lookup := &fakeDescriptorLookup{descriptors: map[string]versionchain.Descriptor{}}

	session := versionchain.NewSession()
	chain, err := session.LoadVersionChain(context.Background(), nil, lookup, "ghost")
	require.NoError(t, err)

	assert.Equal(t, []string{"ghost"}, chain)
}
