package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchCmd_RequiresQuery(t *testing.T) {
	setHome(t)
	_, err := execute(t, "search")

	require.Error(t, err)
}

func TestSearchCmd_BeforeIndex(t *testing.T) {
	setHome(t)
	dir := t.TempDir()

	_, err := execute(t, "search", "anything", "--root", dir, "--local")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "quarry index")
}

func TestSearchCmd_NoResults(t *testing.T) {
	setHome(t)
	dir := seedProject(t)

	_, err := execute(t, "index", dir, "--local", "--plain")
	require.NoError(t, err)

	output, err := execute(t, "search", "zzzzqqqq", "--root", dir, "--local")
	require.NoError(t, err)
	assert.Contains(t, output, "No results")
}

func TestSearchCmd_TextOutput(t *testing.T) {
	setHome(t)
	dir := seedProject(t)

	_, err := execute(t, "index", dir, "--local", "--plain")
	require.NoError(t, err)

	output, err := execute(t, "search", "sample project", "--root", dir, "--local", "--type", "docs")
	require.NoError(t, err)
	assert.Contains(t, output, "README.md")
}
