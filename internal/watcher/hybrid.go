package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quarrysearch/quarry/internal/gitignore"
)

// skippedDirs are never watched. Watching .quarry would feed the
// index's own writes back into the indexer.
var skippedDirs = map[string]bool{
	".git":         true,
	".quarry":      true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	"target":       true,
	"dist":         true,
	"build":        true,
}

func alwaysSkipped(name string) bool {
	return skippedDirs[name]
}

// projectConfigFiles trigger OpConfig instead of a normal reindex.
var projectConfigFiles = map[string]bool{
	".quarry.yaml": true,
	".quarry.yml":  true,
	".quarry.toml": true,
}

// Hybrid watches one project root with fsnotify, falling back to
// polling when the platform notifier cannot be created. Events are
// debounced and delivered as batches.
type Hybrid struct {
	opts    Options
	fsw     *fsnotify.Watcher
	poller  *Poller
	deb     *Debouncer
	batches chan []Event
	errs    chan error
	stopCh  chan struct{}
	dropped atomic.Uint64

	ready     chan struct{}
	readyOnce sync.Once

	mu      sync.RWMutex
	root    string
	ignore  *gitignore.Matcher
	stopped bool
}

// NewHybrid creates a watcher. The fsnotify/polling choice happens
// here; Run reports which through Backend.
func NewHybrid(opts Options) (*Hybrid, error) {
	opts = opts.WithDefaults()
	h := &Hybrid{
		opts:    opts,
		deb:     NewDebouncer(opts.Debounce),
		batches: make(chan []Event, opts.BufferSize),
		errs:    make(chan error, 8),
		stopCh:  make(chan struct{}),
		ready:   make(chan struct{}),
		ignore:  gitignore.New(),
	}
	for _, p := range opts.Ignore {
		h.ignore.AddPattern(p)
	}

	if fsw, err := fsnotify.NewWatcher(); err == nil {
		h.fsw = fsw
	} else {
		slog.Warn("fsnotify unavailable, falling back to polling",
			slog.String("error", err.Error()))
		h.poller = NewPoller(opts.PollInterval)
	}
	return h, nil
}

// Backend reports the active notification mechanism.
func (h *Hybrid) Backend() string {
	if h.fsw != nil {
		return "fsnotify"
	}
	return "polling"
}

// Run watches root until ctx is cancelled or Stop is called.
func (h *Hybrid) Run(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}
	h.mu.Lock()
	h.root = abs
	h.mu.Unlock()

	h.reloadIgnoreRules()
	go h.forward(ctx)

	if h.fsw != nil {
		if err := h.runFsnotify(ctx); err != nil {
			// Close the event channel so consumers do not wait on a
			// watcher that never came up.
			_ = h.Stop()
			return err
		}
		return nil
	}

	go h.consumePoller(ctx)
	go func() {
		select {
		case <-h.poller.Ready():
			h.markReady()
		case <-ctx.Done():
		}
	}()
	if err := h.poller.Run(ctx, abs); err != nil {
		_ = h.Stop()
		return err
	}
	return nil
}

// Ready is closed once the watch is established: every directory added
// for fsnotify, or the polling baseline captured. Changes made after
// Ready closes are observed.
func (h *Hybrid) Ready() <-chan struct{} {
	return h.ready
}

func (h *Hybrid) markReady() {
	h.readyOnce.Do(func() { close(h.ready) })
}

func (h *Hybrid) runFsnotify(ctx context.Context) error {
	if err := h.watchTree(h.root); err != nil {
		return fmt.Errorf("watch tree: %w", err)
	}
	h.markReady()

	for {
		select {
		case <-ctx.Done():
			_ = h.Stop()
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case ev, ok := <-h.fsw.Events:
			if !ok {
				return nil
			}
			h.handle(ev)
		case err, ok := <-h.fsw.Errors:
			if !ok {
				return nil
			}
			h.emitError(err)
		}
	}
}

// consumePoller filters raw poller events into the debouncer.
func (h *Hybrid) consumePoller(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case ev, ok := <-h.poller.Events():
			if !ok {
				return
			}
			h.route(ev)
		case err, ok := <-h.poller.Errors():
			if !ok {
				return
			}
			h.emitError(err)
		}
	}
}

// handle converts one fsnotify event. A rename notification arrives on
// the old path, which is gone, so it becomes a delete; the new path
// shows up as an independent create.
func (h *Hybrid) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(h.rootPath(), ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	isDir := false
	if info, err := os.Stat(ev.Name); err == nil {
		isDir = info.IsDir()
	}

	var op Op
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
		if isDir {
			// New directories need their own watch before events
			// inside them can arrive.
			_ = h.watchTree(ev.Name)
		}
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&fsnotify.Remove != 0, ev.Op&fsnotify.Rename != 0:
		op = OpDelete
	default:
		return
	}

	h.route(Event{Path: rel, Op: op, IsDir: isDir, Time: time.Now()})
}

// route filters an event and feeds the debouncer, special-casing
// .gitignore and project config edits.
func (h *Hybrid) route(ev Event) {
	if h.ignored(ev.Path, ev.IsDir) {
		return
	}
	base := filepath.Base(ev.Path)
	switch {
	case base == ".gitignore":
		h.reloadIgnoreRules()
		ev.Op = OpGitignore
		ev.IsDir = false
	case projectConfigFiles[base]:
		ev.Op = OpConfig
		ev.IsDir = false
	}
	h.deb.Add(ev)
}

// forward moves debounced batches to the output channel.
func (h *Hybrid) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case batch, ok := <-h.deb.Output():
			if !ok {
				return
			}
			if len(batch) == 0 {
				continue
			}
			h.mu.RLock()
			stopped := h.stopped
			h.mu.RUnlock()
			if stopped {
				return
			}
			select {
			case h.batches <- batch:
			default:
				n := h.dropped.Add(1)
				slog.Warn("watcher buffer full, dropping batch",
					slog.Int("batch_size", len(batch)),
					slog.Uint64("dropped", n))
			}
		}
	}
}

// watchTree adds root and every non-ignored directory under it to the
// fsnotify watch set.
func (h *Hybrid) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(h.rootPath(), path)
		if rerr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if rel != "." && h.ignored(rel, true) {
			return filepath.SkipDir
		}
		return h.fsw.Add(path)
	})
}

func (h *Hybrid) rootPath() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.root
}

func (h *Hybrid) ignored(rel string, isDir bool) bool {
	if rel == "." || rel == "" {
		return true
	}
	first, _, _ := strings.Cut(rel, "/")
	if skippedDirs[first] {
		return true
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ignore.Match(rel, isDir)
}

// reloadIgnoreRules rebuilds the matcher from the option patterns plus
// every .gitignore in the tree.
func (h *Hybrid) reloadIgnoreRules() {
	root := h.rootPath()
	m := gitignore.New()
	for _, p := range h.opts.Ignore {
		m.AddPattern(p)
	}

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != ".gitignore" {
			return nil
		}
		base, rerr := filepath.Rel(root, filepath.Dir(path))
		if rerr != nil {
			return nil
		}
		if base == "." {
			base = ""
		}
		if aerr := m.AddFromFile(path, filepath.ToSlash(base)); aerr != nil {
			slog.Warn("failed to read .gitignore",
				slog.String("path", path),
				slog.String("error", aerr.Error()))
		}
		return nil
	})

	h.mu.Lock()
	h.ignore = m
	h.mu.Unlock()
}

func (h *Hybrid) emitError(err error) {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()
	if stopped {
		return
	}
	select {
	case h.errs <- err:
	default:
	}
}

// Events returns the channel of debounced batches.
func (h *Hybrid) Events() <-chan []Event {
	return h.batches
}

// Errors returns non-fatal watcher errors.
func (h *Hybrid) Errors() <-chan error {
	return h.errs
}

// Dropped reports batches lost to a full output buffer.
func (h *Hybrid) Dropped() uint64 {
	return h.dropped.Load() + h.deb.Dropped()
}

// Stop halts watching and closes the event channels. Idempotent.
func (h *Hybrid) Stop() error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	h.mu.Unlock()

	close(h.stopCh)
	h.deb.Stop()
	if h.fsw != nil {
		_ = h.fsw.Close()
	}
	if h.poller != nil {
		h.poller.Stop()
	}
	close(h.batches)
	close(h.errs)
	return nil
}
