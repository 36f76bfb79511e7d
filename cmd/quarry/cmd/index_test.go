package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrysearch/quarry/internal/search"
)

// seedProject writes a small two-file project.
func seedProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"),
		[]byte("package main\n\nfunc main() {\n\tprintln(\"hello quarry\")\n}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"),
		[]byte("# Demo\n\nA sample project for searching code.\n"), 0o644))
	return dir
}

func TestIndexCmd_WatchNeedsDaemon(t *testing.T) {
	setHome(t)
	_, err := execute(t, "index", "--watch", "--local")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "--local")
}

func TestIndexCmd_RejectsMissingPath(t *testing.T) {
	setHome(t)
	_, err := execute(t, "index", "/no/such/dir", "--local")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestIndexCmd_LocalIndexThenSearch(t *testing.T) {
	setHome(t)
	dir := seedProject(t)

	output, err := execute(t, "index", dir, "--local", "--plain")
	require.NoError(t, err)
	assert.Contains(t, output, "Indexed 2 files")

	// Unchanged files are skipped on the second run.
	output, err = execute(t, "index", dir, "--local", "--plain")
	require.NoError(t, err)
	assert.Contains(t, output, "Indexed 0 files (2 unchanged, 0 removed)")

	// --force rebuilds everything despite matching hashes.
	output, err = execute(t, "index", dir, "--local", "--plain", "--force")
	require.NoError(t, err)
	assert.Contains(t, output, "Indexed 2 files (0 unchanged, 0 removed)")

	output, err = execute(t, "search", "hello quarry", "--root", dir, "--local", "--format", "json")
	require.NoError(t, err)

	var results []*search.Result
	require.NoError(t, json.Unmarshal([]byte(output), &results))
	require.NotEmpty(t, results)
	assert.Equal(t, "main.go", results[0].Path)
}
