package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startHybrid runs a watcher over root and returns it with a cancel
// that blocks until Run has exited.
func startHybrid(t *testing.T, root string, opts Options) (*Hybrid, func()) {
	t.Helper()
	h, err := NewHybrid(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Run(ctx, root)
	}()

	select {
	case <-h.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never became ready")
	}

	return h, func() {
		cancel()
		_ = h.Stop()
		<-done
	}
}

func expectEvent(t *testing.T, h *Hybrid, path string, op Op) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case batch, ok := <-h.Events():
			require.True(t, ok, "event channel closed while waiting for %s %s", op, path)
			for _, ev := range batch {
				if ev.Path == path && ev.Op == op {
					return
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s %s", op, path)
		}
	}
}

func TestHybridDetectsCreate(t *testing.T) {
	root := t.TempDir()
	h, stop := startHybrid(t, root, Options{Debounce: 30 * time.Millisecond})
	defer stop()

	require.NoError(t, os.WriteFile(filepath.Join(root, "new.go"), []byte("package x\n"), 0o644))
	expectEvent(t, h, "new.go", OpCreate)
}

func TestHybridDetectsModify(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "mod.go")
	require.NoError(t, os.WriteFile(path, []byte("v1\n"), 0o644))

	h, stop := startHybrid(t, root, Options{Debounce: 30 * time.Millisecond})
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("v2 with more bytes\n"), 0o644))
	// fsnotify reports the write; create may surface too depending on
	// how the editor rewrote the file. Either way the path shows up.
	deadline := time.After(3 * time.Second)
	for {
		select {
		case batch := <-h.Events():
			for _, ev := range batch {
				if ev.Path == "mod.go" && (ev.Op == OpModify || ev.Op == OpCreate) {
					return
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for modify event")
		}
	}
}

func TestHybridDetectsDelete(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "gone.go")
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))

	h, stop := startHybrid(t, root, Options{Debounce: 30 * time.Millisecond})
	defer stop()

	require.NoError(t, os.Remove(path))
	expectEvent(t, h, "gone.go", OpDelete)
}

func TestHybridRenameIsDeletePlusCreate(t *testing.T) {
	root := t.TempDir()
	oldPath := filepath.Join(root, "old.go")
	require.NoError(t, os.WriteFile(oldPath, []byte("x\n"), 0o644))

	h, stop := startHybrid(t, root, Options{Debounce: 30 * time.Millisecond})
	defer stop()

	require.NoError(t, os.Rename(oldPath, filepath.Join(root, "new.go")))

	sawDelete, sawCreate := false, false
	deadline := time.After(3 * time.Second)
	for !sawDelete || !sawCreate {
		select {
		case batch := <-h.Events():
			for _, ev := range batch {
				if ev.Path == "old.go" && ev.Op == OpDelete {
					sawDelete = true
				}
				if ev.Path == "new.go" && ev.Op == OpCreate {
					sawCreate = true
				}
			}
		case <-deadline:
			t.Fatalf("rename events incomplete: delete=%v create=%v", sawDelete, sawCreate)
		}
	}
}

func TestHybridNewDirectoryWatched(t *testing.T) {
	root := t.TempDir()
	h, stop := startHybrid(t, root, Options{Debounce: 30 * time.Millisecond})
	defer stop()

	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Let the new directory watch land before writing into it.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "inner.go"), []byte("x\n"), 0o644))

	expectEvent(t, h, "sub/inner.go", OpCreate)
}

func TestHybridIgnoresDataDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".quarry"), 0o755))

	h, stop := startHybrid(t, root, Options{Debounce: 30 * time.Millisecond})
	defer stop()

	require.NoError(t, os.WriteFile(filepath.Join(root, ".quarry", "index.db"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "visible.go"), []byte("x\n"), 0o644))

	// The visible file arrives; nothing from .quarry ever does.
	deadline := time.After(3 * time.Second)
	for {
		select {
		case batch := <-h.Events():
			for _, ev := range batch {
				assert.NotContains(t, ev.Path, ".quarry")
				if ev.Path == "visible.go" {
					return
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for visible.go")
		}
	}
}

func TestHybridGitignoreEvent(t *testing.T) {
	root := t.TempDir()
	h, stop := startHybrid(t, root, Options{Debounce: 30 * time.Millisecond})
	defer stop()

	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("*.log\n"), 0o644))
	expectEvent(t, h, ".gitignore", OpGitignore)

	// The new rule takes effect for later events.
	require.NoError(t, os.WriteFile(filepath.Join(root, "noise.log"), []byte("x\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "signal.go"), []byte("x\n"), 0o644))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case batch := <-h.Events():
			for _, ev := range batch {
				assert.NotEqual(t, "noise.log", ev.Path)
				if ev.Path == "signal.go" {
					return
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for signal.go")
		}
	}
}

func TestHybridConfigEvent(t *testing.T) {
	root := t.TempDir()
	h, stop := startHybrid(t, root, Options{Debounce: 30 * time.Millisecond})
	defer stop()

	require.NoError(t, os.WriteFile(filepath.Join(root, ".quarry.yaml"), []byte("version: 1\n"), 0o644))
	expectEvent(t, h, ".quarry.yaml", OpConfig)
}

func TestHybridCustomIgnorePatterns(t *testing.T) {
	root := t.TempDir()
	h, stop := startHybrid(t, root, Options{
		Debounce: 30 * time.Millisecond,
		Ignore:   []string{"*.tmp"},
	})
	defer stop()

	require.NoError(t, os.WriteFile(filepath.Join(root, "scratch.tmp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "kept.go"), []byte("x\n"), 0o644))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case batch := <-h.Events():
			for _, ev := range batch {
				assert.NotEqual(t, "scratch.tmp", ev.Path)
				if ev.Path == "kept.go" {
					return
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for kept.go")
		}
	}
}

func TestHybridReadyThenCatchesImmediateWrite(t *testing.T) {
	root := t.TempDir()
	h, err := NewHybrid(Options{Debounce: 30 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Run(ctx, root)
	}()
	defer func() {
		cancel()
		_ = h.Stop()
		<-done
	}()

	// Ready must not close before the watch is live, so a write issued
	// the instant it closes is always delivered.
	select {
	case <-h.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never became ready")
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "early.go"), []byte("package x\n"), 0o644))
	expectEvent(t, h, "early.go", OpCreate)
}

func TestHybridStopIdempotent(t *testing.T) {
	h, err := NewHybrid(Options{})
	require.NoError(t, err)
	require.NoError(t, h.Stop())
	require.NoError(t, h.Stop())

	_, open := <-h.Events()
	assert.False(t, open)
}

func TestHybridBackend(t *testing.T) {
	h, err := NewHybrid(Options{})
	require.NoError(t, err)
	defer func() { _ = h.Stop() }()
	assert.Contains(t, []string{"fsnotify", "polling"}, h.Backend())
}
