package daemon

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quarrysearch/quarry/internal/config"
	qerrors "github.com/quarrysearch/quarry/internal/errors"
	"github.com/quarrysearch/quarry/internal/index"
	"github.com/quarrysearch/quarry/internal/project"
	"github.com/quarrysearch/quarry/internal/watcher"
)

// ProjectState is a registry entry's lifecycle phase.
type ProjectState string

const (
	StateUnwatched ProjectState = "unwatched"
	StateIndexing  ProjectState = "indexing"
	StateReady     ProjectState = "ready"
	StateFailed    ProjectState = "failed"
)

// tombstoneTTL is how long deleted documents keep their rows before
// the maintenance loop reclaims them.
const tombstoneTTL = time.Hour

// managedProject is one loaded project plus the cross-process lock the
// daemon holds for it. The lock lives as long as the registry entry so
// a direct CLI `quarry index` against a daemon-managed project fails
// fast instead of corrupting the index.
type managedProject struct {
	id   string
	root string
	proj *project.Project
	lock *index.ProjectLock

	state      ProjectState
	lastErr    string
	lastAccess time.Time

	// stale marks a mid-watch config change; the next access reloads
	// the project. Atomic because the watch coordinator sets it while
	// the registry may be tearing the watch down under r.mu.
	stale atomic.Bool

	watching    bool
	watchCancel context.CancelFunc
	watchDone   chan struct{}
	hybrid      *watcher.Hybrid
}

// Registry tracks the daemon's loaded projects: opening, LRU
// eviction, file watching, idle reaping and periodic maintenance.
type Registry struct {
	mu       sync.Mutex
	projects map[string]*managedProject

	maxProjects int
	idleTimeout time.Duration
	log         *slog.Logger
}

// RegistryConfig wires a Registry.
type RegistryConfig struct {
	MaxProjects int
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.MaxProjects <= 0 {
		cfg.MaxProjects = 8
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		projects:    make(map[string]*managedProject),
		maxProjects: cfg.MaxProjects,
		idleTimeout: cfg.IdleTimeout,
		log:         log,
	}
}

// get returns the loaded project for root, opening it on first use.
// Opening acquires the project's writer lock; a held lock surfaces as
// ErrCodeIndexBusy.
func (r *Registry) get(ctx context.Context, root string) (*managedProject, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeInvalidPath, "resolve project root", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if mp, ok := r.projects[abs]; ok {
		if !mp.stale.Load() {
			mp.lastAccess = time.Now()
			return mp, nil
		}
		// Config changed under a watch; reload with the new cascade.
		r.unloadLocked(mp)
	}

	r.evictLocked()

	mp, err := r.openLocked(ctx, abs)
	if err != nil {
		return nil, err
	}
	r.projects[abs] = mp
	return mp, nil
}

// openLocked opens the project and takes its writer lock. Callers hold
// r.mu.
func (r *Registry) openLocked(ctx context.Context, abs string) (*managedProject, error) {
	proj, err := project.Open(ctx, abs, r.log)
	if err != nil {
		return nil, err
	}
	lock, err := index.AcquireProjectLock(proj.DataDir)
	if err != nil {
		proj.Close()
		return nil, err
	}
	r.log.Info("project loaded",
		slog.String("id", project.ID(abs)),
		slog.String("root", abs))
	return &managedProject{
		id:         project.ID(abs),
		root:       abs,
		proj:       proj,
		lock:       lock,
		state:      StateUnwatched,
		lastAccess: time.Now(),
	}, nil
}

// evictLocked drops the least recently used entries until there is
// room for one more project. Callers hold r.mu.
func (r *Registry) evictLocked() {
	for len(r.projects) >= r.maxProjects {
		var oldest *managedProject
		for _, mp := range r.projects {
			if oldest == nil || mp.lastAccess.Before(oldest.lastAccess) {
				oldest = mp
			}
		}
		if oldest == nil {
			return
		}
		r.log.Info("evicting least recently used project",
			slog.String("root", oldest.root))
		r.unloadLocked(oldest)
	}
}

// unloadLocked stops watching, releases the lock and closes the
// project. Callers hold r.mu.
func (r *Registry) unloadLocked(mp *managedProject) {
	r.stopWatchLocked(mp)
	if err := mp.proj.Close(); err != nil {
		r.log.Warn("close project failed",
			slog.String("root", mp.root),
			slog.String("error", err.Error()))
	}
	if err := mp.lock.Release(); err != nil {
		r.log.Warn("release project lock failed",
			slog.String("root", mp.root),
			slog.String("error", err.Error()))
	}
	delete(r.projects, mp.root)
}

// Sync brings root's index up to date. The registry already holds the
// project lock, so this is the lock-free path. force reindexes every
// file regardless of stored content hashes.
func (r *Registry) Sync(ctx context.Context, root string, force bool) (*index.Result, error) {
	mp, err := r.get(ctx, root)
	if err != nil {
		return nil, err
	}
	r.setState(mp, StateIndexing, "")
	if force {
		mp.proj.Indexer.SetForce(true)
		defer mp.proj.Indexer.SetForce(false)
	}
	res, err := mp.proj.Sync(ctx)
	if err != nil {
		r.setState(mp, StateFailed, err.Error())
		return res, err
	}
	r.mu.Lock()
	if mp.watching {
		mp.state = StateReady
	} else {
		mp.state = StateUnwatched
	}
	mp.lastErr = ""
	r.mu.Unlock()
	return res, nil
}

// Watch starts file watching for root, indexing first if needed. It
// returns only after the watch is established, so changes made after
// it returns are observed. The watcher and its coordinator run until
// Unwatch, eviction or Close.
func (r *Registry) Watch(ctx context.Context, root string, cfg *config.Config) error {
	mp, err := r.get(ctx, root)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if mp.watching {
		r.mu.Unlock()
		return nil
	}

	hy, err := watcher.NewHybrid(watcher.Options{
		Debounce:     cfg.WatchDebounce(),
		PollInterval: cfg.PollInterval(),
	})
	if err != nil {
		r.mu.Unlock()
		return qerrors.New(qerrors.ErrCodeInternal, "create file watcher", err)
	}
	coord, err := index.NewCoordinator(index.CoordinatorConfig{
		Indexer:  mp.proj.Indexer,
		Runner:   mp.proj.Runner,
		Scanner:  mp.proj.Scanner,
		ScanOpts: mp.proj.ScanOpts,
		Logger:   r.log,
		OnConfigChange: func() {
			mp.stale.Store(true)
			r.log.Info("project config changed, reloading on next access",
				slog.String("root", mp.root))
		},
	})
	if err != nil {
		hy.Stop()
		r.mu.Unlock()
		return err
	}

	wctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	mp.watching = true
	mp.watchCancel = cancel
	mp.watchDone = done
	mp.hybrid = hy
	mp.state = StateReady

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := hy.Run(wctx, mp.root); err != nil && wctx.Err() == nil {
			r.log.Error("watcher stopped",
				slog.String("root", mp.root),
				slog.String("error", err.Error()))
		}
	}()
	go func() {
		defer wg.Done()
		if err := coord.Run(wctx, hy.Events()); err != nil && wctx.Err() == nil {
			r.log.Error("coordinator stopped",
				slog.String("root", mp.root),
				slog.String("error", err.Error()))
		}
	}()
	go func() {
		wg.Wait()
		close(done)
	}()
	r.mu.Unlock()

	// Block until every directory is registered (or the baseline
	// captured). Returning earlier would lose events in the gap.
	select {
	case <-hy.Ready():
	case <-done:
		r.Unwatch(mp.root)
		return qerrors.New(qerrors.ErrCodeInternal,
			"file watcher failed to start", nil)
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Info("watching project",
		slog.String("root", mp.root),
		slog.String("backend", hy.Backend()))
	return nil
}

// Unwatch stops file watching for root. The project stays loaded.
func (r *Registry) Unwatch(root string) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if mp, ok := r.projects[abs]; ok {
		r.stopWatchLocked(mp)
	}
}

// stopWatchLocked tears down the watch goroutines and waits for them.
// Callers hold r.mu.
func (r *Registry) stopWatchLocked(mp *managedProject) {
	if !mp.watching {
		return
	}
	mp.watchCancel()
	mp.hybrid.Stop()
	<-mp.watchDone
	mp.watching = false
	mp.watchCancel = nil
	mp.watchDone = nil
	mp.hybrid = nil
	if mp.state == StateReady {
		mp.state = StateUnwatched
	}
}

func (r *Registry) setState(mp *managedProject, s ProjectState, errMsg string) {
	r.mu.Lock()
	mp.state = s
	mp.lastErr = errMsg
	r.mu.Unlock()
}

// ReapIdle unloads projects that have gone unqueried longer than the
// idle timeout.
func (r *Registry) ReapIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-r.idleTimeout)
	for _, mp := range r.projects {
		if mp.lastAccess.Before(cutoff) {
			r.log.Info("unloading idle project", slog.String("root", mp.root))
			r.unloadLocked(mp)
		}
	}
}

// Maintain purges expired tombstones and flushes every loaded
// project. Failures are logged per project and do not stop the pass.
func (r *Registry) Maintain(ctx context.Context) {
	r.mu.Lock()
	loaded := make([]*managedProject, 0, len(r.projects))
	for _, mp := range r.projects {
		loaded = append(loaded, mp)
	}
	r.mu.Unlock()

	for _, mp := range loaded {
		purged, err := mp.proj.Store.PurgeTombstones(ctx, tombstoneTTL)
		if err != nil {
			r.log.Warn("tombstone purge failed",
				slog.String("root", mp.root),
				slog.String("error", err.Error()))
		} else if purged > 0 {
			r.log.Debug("purged tombstones",
				slog.String("root", mp.root),
				slog.Int("purged", purged))
		}
		if err := mp.proj.Save(ctx); err != nil {
			r.log.Warn("project flush failed",
				slog.String("root", mp.root),
				slog.String("error", err.Error()))
		}
	}
}

// Statuses reports every loaded project, ordered by root.
func (r *Registry) Statuses(ctx context.Context) []ProjectStatus {
	type snapshot struct {
		status ProjectStatus
		proj   *project.Project
	}

	r.mu.Lock()
	snaps := make([]snapshot, 0, len(r.projects))
	for _, mp := range r.projects {
		snaps = append(snaps, snapshot{
			status: ProjectStatus{
				ID:         mp.id,
				Root:       mp.root,
				State:      string(mp.state),
				Watching:   mp.watching,
				LastAccess: mp.lastAccess.UTC().Format(time.RFC3339),
				Error:      mp.lastErr,
			},
			proj: mp.proj,
		})
	}
	r.mu.Unlock()

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].status.Root < snaps[j].status.Root })

	out := make([]ProjectStatus, 0, len(snaps))
	for _, sn := range snaps {
		if chunks, err := sn.proj.Store.ChunkCount(ctx); err == nil {
			sn.status.Chunks = chunks
		}
		if docs, err := sn.proj.Store.Documents(ctx); err == nil {
			sn.status.Documents = len(docs)
		}
		if tag, err := sn.proj.Store.ModelTag(ctx); err == nil {
			sn.status.ModelTag = tag
		}
		out = append(out, sn.status)
	}
	return out
}

// Close unloads every project: watches stopped, stores flushed, locks
// released.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, mp := range r.projects {
		r.unloadLocked(mp)
	}
}
