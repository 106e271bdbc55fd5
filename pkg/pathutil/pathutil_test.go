// SPDX-License-Identifier: Apache-2.0

package pathutil_test

import (
	"testing"

	"github.com/lixql/lixql/pkg/pathutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFilePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "simple", input: "/docs/guides/intro.md", want: "/docs/guides/intro.md"},
		{name: "duplicate slashes collapse", input: "/docs//guides///intro.md", want: "/docs/guides/intro.md"},
		{name: "missing leading slash", input: "docs/intro.md", wantErr: true},
		{name: "trailing slash rejected", input: "/docs/", wantErr: true},
		{name: "dot segment rejected", input: "/docs/./intro.md", wantErr: true},
		{name: "dotdot segment rejected", input: "/docs/../intro.md", wantErr: true},
		{name: "empty rejected", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pathutil.NormalizeFilePath(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeDirectoryPath(t *testing.T) {
	t.Parallel()

	got, err := pathutil.NormalizeDirectoryPath("/docs/guides")
	require.NoError(t, err)
	assert.Equal(t, "/docs/guides/", got)

	got, err = pathutil.NormalizeDirectoryPath("/docs//guides//")
	require.NoError(t, err)
	assert.Equal(t, "/docs/guides/", got)
}

func TestParseFilePath(t *testing.T) {
	t.Parallel()

	parsed, err := pathutil.ParseFilePath("/docs/guides/intro.md")
	require.NoError(t, err)
	assert.Equal(t, "/docs/guides/", parsed.DirectoryPath)
	assert.Equal(t, "intro.md", parsed.Name)
	assert.Equal(t, "md", parsed.Extension)

	parsed, err = pathutil.ParseFilePath("/.gitignore")
	require.NoError(t, err)
	assert.Equal(t, "", parsed.DirectoryPath)
	assert.Equal(t, ".gitignore", parsed.Name)
	assert.Equal(t, "", parsed.Extension)

	parsed, err = pathutil.ParseFilePath("/readme")
	require.NoError(t, err)
	assert.Equal(t, "readme", parsed.Name)
	assert.Equal(t, "", parsed.Extension)
}

func TestAncestorPaths(t *testing.T) {
	t.Parallel()

	ancestors := pathutil.FileAncestorDirectoryPaths("/docs/guides/")
	assert.Equal(t, []string{"/docs/", "/docs/guides/"}, ancestors)

	assert.Nil(t, pathutil.FileAncestorDirectoryPaths(""))

	dirAncestors := pathutil.DirectoryAncestorPaths("/docs/guides/")
	assert.Equal(t, []string{"/docs/"}, dirAncestors)
}

func TestComposeRoundTrip(t *testing.T) {
	t.Parallel()

	paths := []string{"/a.json", "/docs/guides/intro.md", "/.gitignore"}
	for _, p := range paths {
		parsed, err := pathutil.ParseFilePath(p)
		require.NoError(t, err)
		assert.Equal(t, p, pathutil.ComposeFilePath(parsed.DirectoryPath, parsed.Name))
	}
}

func TestAutoDirectoryIDDeterministic(t *testing.T) {
	t.Parallel()

	a := pathutil.AutoDirectoryID("v1", "/docs/")
	b := pathutil.AutoDirectoryID("v1", "/docs/")
	assert.Equal(t, a, b)

	c := pathutil.AutoDirectoryID("v2", "/docs/")
	assert.NotEqual(t, a, c)
}
