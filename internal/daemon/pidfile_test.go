package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "daemon.pid")

	require.NoError(t, WritePIDFile(path))
	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, RemovePIDFile(path))
	_, err = ReadPIDFile(path)
	assert.ErrorIs(t, err, ErrNoPIDFile)

	// Removing again is not an error.
	assert.NoError(t, RemovePIDFile(path))
}

func TestReadPIDFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0o644))

	_, err := ReadPIDFile(path)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoPIDFile)
}

func TestProcessRunning(t *testing.T) {
	assert.True(t, ProcessRunning(os.Getpid()))

	// PIDs above the kernel's pid_max cannot exist.
	assert.False(t, ProcessRunning(1 << 30))
}

func TestSocketPathDefaults(t *testing.T) {
	explicit, err := SocketPath("/tmp/custom.sock")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.sock", explicit)

	fallback, err := SocketPath("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(".quarry", "daemon.sock"), filepath.Join(
		filepath.Base(filepath.Dir(fallback)), filepath.Base(fallback)))
}
