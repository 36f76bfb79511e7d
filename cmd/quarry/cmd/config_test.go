package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigPath(t *testing.T) {
	setHome(t)
	output, err := execute(t, "config", "path")

	require.NoError(t, err)
	assert.Contains(t, output, "config.yaml")
}

func TestConfigInitWritesProjectFile(t *testing.T) {
	setHome(t)
	dir := t.TempDir()
	output, err := execute(t, "config", "init", "--root", dir)

	require.NoError(t, err)
	assert.Contains(t, output, ".quarry.yaml")

	data, err := os.ReadFile(filepath.Join(dir, ".quarry.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "semantic_weight")
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	setHome(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ".quarry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))

	_, err := execute(t, "config", "init", "--root", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "config", "init", "--root", dir, "--force")
	require.NoError(t, err)

	data, rerr := os.ReadFile(path)
	require.NoError(t, rerr)
	assert.Contains(t, string(data), "chunking")
}

func TestConfigInitUser(t *testing.T) {
	setHome(t)
	output, err := execute(t, "config", "init", "--user")

	require.NoError(t, err)
	assert.Contains(t, output, "Created")

	// Second run without --force leaves the file alone.
	output, err = execute(t, "config", "init", "--user")
	require.NoError(t, err)
	assert.Contains(t, output, "already exists")
}

func TestConfigShowJSON(t *testing.T) {
	setHome(t)
	dir := t.TempDir()
	output, err := execute(t, "config", "show", "--json", "--root", dir)

	require.NoError(t, err)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &cfg))
	assert.Contains(t, cfg, "search")
	assert.Contains(t, cfg, "daemon")
}

func TestConfigShowYAML(t *testing.T) {
	setHome(t)
	dir := t.TempDir()
	output, err := execute(t, "config", "show", "--root", dir)

	require.NoError(t, err)
	assert.True(t, strings.Contains(output, "search:"))
	assert.Contains(t, output, "lexical_backend")
}
