package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrysearch/quarry/internal/project"
)

func newTestServer(t *testing.T, indexed bool) *Server {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"auth.go":   "package auth\n\n// ValidateToken checks a bearer token's signature.\nfunc ValidateToken(token string) bool {\n\treturn token != \"\"\n}\n",
		"README.md": "# Auth service\n\nToken validation and session handling.\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}

	proj, err := project.Open(context.Background(), root, nil)
	require.NoError(t, err)
	t.Cleanup(func() { proj.Close() })

	if indexed {
		_, err = proj.Index(context.Background())
		require.NoError(t, err)
	}

	srv, err := NewServer(proj, nil)
	require.NoError(t, err)
	return srv
}

func TestNewServerRequiresProject(t *testing.T) {
	_, err := NewServer(nil, nil)
	require.Error(t, err)
}

func TestSearchTool(t *testing.T) {
	srv := newTestServer(t, true)

	_, out, err := srv.handleSearch(context.Background(), nil, SearchInput{
		Query: "ValidateToken",
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.Results)
	first := out.Results[0]
	assert.Equal(t, "auth.go", first.Path)
	assert.NotEmpty(t, first.Snippet)
	assert.Greater(t, first.Score, 0.0)
	assert.Positive(t, first.EndLine)
}

func TestSearchToolEmptyQuery(t *testing.T) {
	srv := newTestServer(t, true)

	_, _, err := srv.handleSearch(context.Background(), nil, SearchInput{})
	require.Error(t, err)
}

func TestSearchToolBeforeIndex(t *testing.T) {
	srv := newTestServer(t, false)

	_, _, err := srv.handleSearch(context.Background(), nil, SearchInput{Query: "anything"})
	require.Error(t, err)
	// The suggestion rides along so the client can tell the user what
	// to do.
	assert.Contains(t, err.Error(), "quarry index")
}

func TestSearchToolFilters(t *testing.T) {
	srv := newTestServer(t, true)

	_, out, err := srv.handleSearch(context.Background(), nil, SearchInput{
		Query:  "token validation",
		Filter: "docs",
	})
	require.NoError(t, err)
	for _, r := range out.Results {
		assert.Equal(t, "README.md", r.Path)
	}
}

func TestStatusTool(t *testing.T) {
	srv := newTestServer(t, true)

	_, out, err := srv.handleStatus(context.Background(), nil, StatusInput{})
	require.NoError(t, err)
	assert.True(t, out.Indexed)
	assert.Positive(t, out.ChunkCount)
	assert.Equal(t, 2, out.DocumentCount)
	assert.NotEmpty(t, out.ModelTag)
}

func TestStatusToolUnindexed(t *testing.T) {
	srv := newTestServer(t, false)

	_, out, err := srv.handleStatus(context.Background(), nil, StatusInput{})
	require.NoError(t, err)
	assert.False(t, out.Indexed)
	assert.Zero(t, out.ChunkCount)
}
