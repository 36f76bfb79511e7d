package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrysearch/quarry/internal/daemon"
)

func TestDaemonStatus_NotRunning(t *testing.T) {
	setHome(t)

	output, err := execute(t, "daemon", "status")

	require.NoError(t, err)
	assert.Contains(t, output, "Daemon is not running")
	assert.Contains(t, output, "quarry daemon start")
}

func TestDaemonStatus_NotRunningJSON(t *testing.T) {
	setHome(t)

	output, err := execute(t, "daemon", "status", "--json")

	require.NoError(t, err)
	var status daemon.StatusResult
	require.NoError(t, json.Unmarshal([]byte(output), &status))
	assert.False(t, status.Running)
}

func TestDaemonStop_NotRunning(t *testing.T) {
	setHome(t)

	output, err := execute(t, "daemon", "stop")

	require.NoError(t, err)
	assert.Contains(t, output, "Daemon is not running")
}
