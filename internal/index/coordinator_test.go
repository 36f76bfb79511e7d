package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrysearch/quarry/internal/scanner"
	"github.com/quarrysearch/quarry/internal/watcher"
)

// runBatches feeds the coordinator a fixed set of batches and waits
// for it to drain them.
func runBatches(t *testing.T, c *Coordinator, batches ...[]watcher.Event) {
	t.Helper()
	ch := make(chan []watcher.Event, len(batches))
	for _, b := range batches {
		ch <- b
	}
	close(ch)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), ch) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("coordinator did not drain batches")
	}
}

func newTestCoordinator(t *testing.T, env *testEnv, onConfig func()) *Coordinator {
	t.Helper()
	sc, err := scanner.New()
	require.NoError(t, err)
	opts := scanner.Options{Root: env.root}
	r, err := NewRunner(RunnerConfig{
		Indexer:  env.indexer,
		Scanner:  sc,
		DataDir:  env.dataDir,
		ScanOpts: opts,
		Workers:  2,
	})
	require.NoError(t, err)
	c, err := NewCoordinator(CoordinatorConfig{
		Indexer:        env.indexer,
		Runner:         r,
		Scanner:        sc,
		ScanOpts:       opts,
		OnConfigChange: onConfig,
	})
	require.NoError(t, err)
	return c
}

func TestCoordinatorCreateEvent(t *testing.T) {
	env := newTestEnv(t)
	c := newTestCoordinator(t, env, nil)
	env.writeFile(t, "new.go", sampleGo)

	runBatches(t, c, []watcher.Event{{Path: "new.go", Op: watcher.OpCreate}})

	doc, err := env.store.GetDocument(context.Background(), "new.go")
	require.NoError(t, err)
	assert.NotNil(t, doc)
	assert.EqualValues(t, 1, c.Applied())
}

func TestCoordinatorModifyEvent(t *testing.T) {
	env := newTestEnv(t)
	c := newTestCoordinator(t, env, nil)
	ctx := context.Background()

	env.writeFile(t, "a.go", sampleGo)
	_, err := env.indexer.IndexFile(ctx, "a.go")
	require.NoError(t, err)
	before, err := env.store.GetDocument(ctx, "a.go")
	require.NoError(t, err)

	env.writeFile(t, "a.go", sampleGo+"\n// more\n")
	runBatches(t, c, []watcher.Event{{Path: "a.go", Op: watcher.OpModify}})

	after, err := env.store.GetDocument(ctx, "a.go")
	require.NoError(t, err)
	assert.NotEqual(t, before.ContentHash, after.ContentHash)
}

func TestCoordinatorDeleteEvent(t *testing.T) {
	env := newTestEnv(t)
	c := newTestCoordinator(t, env, nil)
	ctx := context.Background()

	env.writeFile(t, "a.go", sampleGo)
	_, err := env.indexer.IndexFile(ctx, "a.go")
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(env.root, "a.go")))
	runBatches(t, c, []watcher.Event{{Path: "a.go", Op: watcher.OpDelete}})

	doc, err := env.store.GetDocument(ctx, "a.go")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestCoordinatorDeletedDirectory(t *testing.T) {
	env := newTestEnv(t)
	c := newTestCoordinator(t, env, nil)
	ctx := context.Background()

	env.writeFile(t, "pkg/a.go", sampleGo)
	env.writeFile(t, "pkg/b.go", sampleGo+"\n// b\n")
	for _, p := range []string{"pkg/a.go", "pkg/b.go"} {
		_, err := env.indexer.IndexFile(ctx, p)
		require.NoError(t, err)
	}

	require.NoError(t, os.RemoveAll(filepath.Join(env.root, "pkg")))
	runBatches(t, c, []watcher.Event{{Path: "pkg", Op: watcher.OpDelete}})

	docs, err := env.store.Documents(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestCoordinatorIgnoredPathSkipped(t *testing.T) {
	env := newTestEnv(t)
	c := newTestCoordinator(t, env, nil)
	env.writeFile(t, "node_modules/dep.js", "module.exports = {}\n")

	runBatches(t, c, []watcher.Event{{Path: "node_modules/dep.js", Op: watcher.OpCreate}})

	doc, err := env.store.GetDocument(context.Background(), "node_modules/dep.js")
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.Zero(t, c.Applied())
}

func TestCoordinatorGitignoreTriggersResync(t *testing.T) {
	env := newTestEnv(t)
	c := newTestCoordinator(t, env, nil)
	env.writeFile(t, "a.go", sampleGo)

	// No per-file event, only the rule change. The resync pass must
	// still pick the file up.
	runBatches(t, c, []watcher.Event{{Path: ".gitignore", Op: watcher.OpGitignore}})

	doc, err := env.store.GetDocument(context.Background(), "a.go")
	require.NoError(t, err)
	assert.NotNil(t, doc)
}

func TestCoordinatorConfigCallback(t *testing.T) {
	env := newTestEnv(t)
	called := make(chan struct{}, 1)
	c := newTestCoordinator(t, env, func() { called <- struct{}{} })

	runBatches(t, c, []watcher.Event{{Path: ".quarry.yaml", Op: watcher.OpConfig}})

	select {
	case <-called:
	default:
		t.Fatal("config change callback did not fire")
	}
}
