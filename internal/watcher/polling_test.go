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

func startPoller(t *testing.T, root string, interval time.Duration) (*Poller, func()) {
	t.Helper()
	p := NewPoller(interval)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx, root)
	}()
	// Let the baseline scan complete.
	time.Sleep(50 * time.Millisecond)

	return p, func() {
		cancel()
		p.Stop()
		<-done
	}
}

func pollEvent(t *testing.T, p *Poller, path string, op Op) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-p.Events():
			if ev.Path == path && ev.Op == op {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s %s", op, path)
		}
	}
}

func TestPollerBaselineEmitsNothing(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "pre.go"), []byte("x\n"), 0o644))

	p, stop := startPoller(t, root, 30*time.Millisecond)
	defer stop()

	select {
	case ev := <-p.Events():
		t.Fatalf("unexpected event for pre-existing file: %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestPollerDetectsCreate(t *testing.T) {
	root := t.TempDir()
	p, stop := startPoller(t, root, 30*time.Millisecond)
	defer stop()

	require.NoError(t, os.WriteFile(filepath.Join(root, "new.go"), []byte("x\n"), 0o644))
	pollEvent(t, p, "new.go", OpCreate)
}

func TestPollerDetectsModify(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "mod.go")
	require.NoError(t, os.WriteFile(path, []byte("v1\n"), 0o644))

	p, stop := startPoller(t, root, 30*time.Millisecond)
	defer stop()

	// Size change guarantees detection even with coarse mtimes.
	require.NoError(t, os.WriteFile(path, []byte("v2 is longer\n"), 0o644))
	pollEvent(t, p, "mod.go", OpModify)
}

func TestPollerDetectsDelete(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "gone.go")
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))

	p, stop := startPoller(t, root, 30*time.Millisecond)
	defer stop()

	require.NoError(t, os.Remove(path))
	pollEvent(t, p, "gone.go", OpDelete)
}

func TestPollerSkipsDataDir(t *testing.T) {
	root := t.TempDir()
	p, stop := startPoller(t, root, 30*time.Millisecond)
	defer stop()

	require.NoError(t, os.MkdirAll(filepath.Join(root, ".quarry"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".quarry", "db"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "seen.go"), []byte("x\n"), 0o644))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-p.Events():
			assert.NotContains(t, ev.Path, ".quarry/")
			if ev.Path == "seen.go" {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for seen.go")
		}
	}
}

func TestPollerStopIdempotent(t *testing.T) {
	p := NewPoller(time.Second)
	p.Stop()
	p.Stop()
}
