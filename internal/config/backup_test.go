package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeUserConfig(t *testing.T, content string) string {
	t.Helper()
	userDir := isolateUserConfig(t)
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	path := filepath.Join(userDir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBackupUserConfig(t *testing.T) {
	t.Run("no config means no backup", func(t *testing.T) {
		isolateUserConfig(t)
		path, err := BackupUserConfig()
		require.NoError(t, err)
		assert.Empty(t, path)
	})

	t.Run("backup copies content", func(t *testing.T) {
		writeUserConfig(t, "search:\n  max_results: 5\n")

		backupPath, err := BackupUserConfig()
		require.NoError(t, err)
		require.NotEmpty(t, backupPath)

		data, err := os.ReadFile(backupPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), "max_results: 5")
	})
}

func TestBackupUserConfigNeverOverwrites(t *testing.T) {
	writeUserConfig(t, "version: 1\n")

	// Back-to-back backups land in the same second; each must still
	// get its own file.
	first, err := BackupUserConfig()
	require.NoError(t, err)
	second, err := BackupUserConfig()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = os.Stat(first)
	assert.NoError(t, err)
	_, err = os.Stat(second)
	assert.NoError(t, err)
}

func TestListUserConfigBackupsNewestFirst(t *testing.T) {
	configPath := writeUserConfig(t, "version: 1\n")

	old := configPath + BackupSuffix + ".20200101-000000"
	recent := configPath + BackupSuffix + ".20250101-000000"
	require.NoError(t, os.WriteFile(old, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(recent, []byte("recent"), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, recent, backups[0])
	assert.Equal(t, old, backups[1])
}

func TestBackupPruning(t *testing.T) {
	configPath := writeUserConfig(t, "version: 1\n")

	// Seed more stale backups than the retention limit.
	base := time.Now().Add(-24 * time.Hour)
	for i := 0; i < MaxBackups+2; i++ {
		path := configPath + BackupSuffix + ".2020010" + string(rune('1'+i)) + "-000000"
		require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))
		ts := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, ts, ts))
	}

	_, err := BackupUserConfig()
	require.NoError(t, err)

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), MaxBackups)
}

func TestRestoreUserConfig(t *testing.T) {
	configPath := writeUserConfig(t, "search:\n  max_results: 1\n")

	backupPath, err := BackupUserConfig()
	require.NoError(t, err)

	// Change the live config, then restore the backup over it.
	require.NoError(t, os.WriteFile(configPath, []byte("search:\n  max_results: 99\n"), 0o644))
	require.NoError(t, RestoreUserConfig(backupPath))

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "max_results: 1")
}

func TestRestoreMissingBackupFails(t *testing.T) {
	isolateUserConfig(t)
	err := RestoreUserConfig(filepath.Join(t.TempDir(), "nope.bak"))
	assert.Error(t, err)
}
