package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrysearch/quarry/internal/config"
	qerrors "github.com/quarrysearch/quarry/internal/errors"
	"github.com/quarrysearch/quarry/internal/index"
	"github.com/quarrysearch/quarry/internal/project"
)

// newProjectDir creates a small indexable project root.
func newProjectDir(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"main.go":   "package main\n\nfunc main() {\n\tprintln(\"hello quarry\")\n}\n",
		"README.md": "# Demo\n\nA sample project about searching code.\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}
	return root
}

func newTestRegistry(t *testing.T, cfg RegistryConfig) *Registry {
	t.Helper()
	r := NewRegistry(cfg)
	t.Cleanup(r.Close)
	return r
}

func TestRegistryOpensAndCaches(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{})
	root := newProjectDir(t)

	first, err := r.get(context.Background(), root)
	require.NoError(t, err)
	second, err := r.get(context.Background(), root)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, project.ID(root), first.id)
	assert.Equal(t, StateUnwatched, first.state)
}

func TestRegistryHoldsProjectLock(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{})
	root := newProjectDir(t)

	_, err := r.get(context.Background(), root)
	require.NoError(t, err)

	// A direct CLI writer must be refused while the daemon owns the
	// project.
	_, err = index.AcquireProjectLock(project.DataDir(root))
	require.Error(t, err)
	assert.Equal(t, qerrors.ErrCodeIndexBusy, qerrors.GetCode(err))
}

func TestRegistrySync(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{})
	root := newProjectDir(t)

	res, err := r.Sync(context.Background(), root, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.FilesIndexed)
	assert.Zero(t, res.FilesFailed)

	mp, err := r.get(context.Background(), root)
	require.NoError(t, err)
	chunks, err := mp.proj.Store.ChunkCount(context.Background())
	require.NoError(t, err)
	assert.Positive(t, chunks)
	assert.Equal(t, StateUnwatched, mp.state)
}

func TestRegistryEvictsLRU(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{MaxProjects: 1})
	rootA := newProjectDir(t)
	rootB := newProjectDir(t)

	_, err := r.get(context.Background(), rootA)
	require.NoError(t, err)
	_, err = r.get(context.Background(), rootB)
	require.NoError(t, err)

	// rootA was evicted, so its lock is free again.
	lock, err := index.AcquireProjectLock(project.DataDir(rootA))
	require.NoError(t, err)
	lock.Release()

	statuses := r.Statuses(context.Background())
	require.Len(t, statuses, 1)
	assert.Equal(t, rootB, statuses[0].Root)
}

func TestRegistryReapIdle(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{IdleTimeout: 10 * time.Millisecond})
	root := newProjectDir(t)

	_, err := r.get(context.Background(), root)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	r.ReapIdle()

	assert.Empty(t, r.Statuses(context.Background()))
	lock, err := index.AcquireProjectLock(project.DataDir(root))
	require.NoError(t, err)
	lock.Release()
}

func TestRegistryStatuses(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{})
	root := newProjectDir(t)

	_, err := r.Sync(context.Background(), root, false)
	require.NoError(t, err)

	statuses := r.Statuses(context.Background())
	require.Len(t, statuses, 1)
	st := statuses[0]
	assert.Equal(t, project.ID(root), st.ID)
	assert.Equal(t, root, st.Root)
	assert.Equal(t, 2, st.Documents)
	assert.Positive(t, st.Chunks)
	assert.NotEmpty(t, st.ModelTag)
	assert.False(t, st.Watching)
}

func TestRegistryWatchIndexesNewFiles(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{})
	root := newProjectDir(t)
	cfg := config.NewConfig()

	_, err := r.Sync(context.Background(), root, false)
	require.NoError(t, err)
	require.NoError(t, r.Watch(context.Background(), root, cfg))

	mp, err := r.get(context.Background(), root)
	require.NoError(t, err)
	assert.True(t, mp.watching)

	// A file written after the watch starts must show up without
	// another explicit index run.
	path := filepath.Join(root, "extra.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc extra() {}\n"), 0o644))

	require.Eventually(t, func() bool {
		doc, err := mp.proj.Store.GetDocument(context.Background(), "extra.go")
		return err == nil && doc != nil
	}, 10*time.Second, 50*time.Millisecond)

	r.Unwatch(root)
	mp, err = r.get(context.Background(), root)
	require.NoError(t, err)
	assert.False(t, mp.watching)
}

func TestRegistryMaintainFlushes(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{})
	root := newProjectDir(t)

	_, err := r.Sync(context.Background(), root, false)
	require.NoError(t, err)

	// Must not error or unload anything.
	r.Maintain(context.Background())
	assert.Len(t, r.Statuses(context.Background()), 1)
}
