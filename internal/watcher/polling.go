package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"
)

// Poller detects changes by rescanning the tree on an interval. It is
// the fallback when inotify/kqueue initialization fails (containers,
// NFS, watch-descriptor exhaustion).
type Poller struct {
	interval time.Duration
	root     string
	events   chan Event
	errs     chan error
	stopCh   chan struct{}

	ready     chan struct{}
	readyOnce sync.Once

	mu      sync.Mutex
	state   map[string]snapshot
	stopped bool
}

type snapshot struct {
	modTime time.Time
	size    int64
	isDir   bool
}

// NewPoller creates a polling watcher.
func NewPoller(interval time.Duration) *Poller {
	return &Poller{
		interval: interval,
		events:   make(chan Event, 128),
		errs:     make(chan error, 8),
		stopCh:   make(chan struct{}),
		ready:    make(chan struct{}),
		state:    make(map[string]snapshot),
	}
}

// Run polls root until ctx is cancelled or Stop is called. The first
// scan only establishes the baseline and emits nothing.
func (p *Poller) Run(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}
	p.root = abs

	base, err := p.capture()
	if err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}
	p.mu.Lock()
	p.state = base
	p.mu.Unlock()
	p.readyOnce.Do(func() { close(p.ready) })

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.diff(); err != nil {
				select {
				case p.errs <- err:
				default:
				}
			}
		}
	}
}

// capture walks the tree and snapshots every entry.
func (p *Poller) capture() (map[string]snapshot, error) {
	state := make(map[string]snapshot)
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, rerr := filepath.Rel(p.root, path)
		if rerr != nil || rel == "." {
			return nil
		}
		if d.IsDir() && alwaysSkipped(d.Name()) {
			return filepath.SkipDir
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		state[filepath.ToSlash(rel)] = snapshot{
			modTime: info.ModTime(),
			size:    info.Size(),
			isDir:   d.IsDir(),
		}
		return nil
	})
	return state, err
}

// diff compares the tree against the last snapshot and emits events.
func (p *Poller) diff() error {
	current, err := p.capture()
	if err != nil {
		return fmt.Errorf("poll scan: %w", err)
	}

	p.mu.Lock()
	prev := p.state
	p.state = current
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return nil
	}

	now := time.Now()
	for path, snap := range current {
		old, seen := prev[path]
		switch {
		case !seen:
			p.emit(Event{Path: path, Op: OpCreate, IsDir: snap.isDir, Time: now})
		case !snap.isDir && (old.modTime != snap.modTime || old.size != snap.size):
			p.emit(Event{Path: path, Op: OpModify, IsDir: false, Time: now})
		}
	}
	for path, snap := range prev {
		if _, ok := current[path]; !ok {
			p.emit(Event{Path: path, Op: OpDelete, IsDir: snap.isDir, Time: now})
		}
	}
	return nil
}

func (p *Poller) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
	}
}

// Events returns the raw (pre-debounce) event channel.
func (p *Poller) Events() <-chan Event {
	return p.events
}

// Errors returns non-fatal poll errors.
func (p *Poller) Errors() <-chan error {
	return p.errs
}

// Ready is closed once the baseline scan completes; changes made after
// that are detected on the next poll.
func (p *Poller) Ready() <-chan struct{} {
	return p.ready
}

// Stop halts polling. Idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.stopCh)
}
