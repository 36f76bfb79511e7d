package index

import (
	"context"
	"log/slog"
	"sync/atomic"

	qerrors "github.com/quarrysearch/quarry/internal/errors"
	"github.com/quarrysearch/quarry/internal/scanner"
	"github.com/quarrysearch/quarry/internal/watcher"
)

// Coordinator applies debounced watcher batches to the index. The
// caller holds the cross-process project lock for the watch duration;
// the Coordinator itself only serializes against its own event loop.
type Coordinator struct {
	indexer  *Indexer
	runner   *Runner
	scanner  *scanner.Scanner
	scanOpts scanner.Options
	log      *slog.Logger

	// onConfigChange fires when a project config file changes. The
	// daemon uses it to reload and re-wire the project.
	onConfigChange func()

	applied atomic.Int64
}

// CoordinatorConfig wires a Coordinator.
type CoordinatorConfig struct {
	Indexer  *Indexer
	Runner   *Runner
	Scanner  *scanner.Scanner
	ScanOpts scanner.Options
	Logger   *slog.Logger
	// OnConfigChange is invoked on project config file changes. May
	// be nil.
	OnConfigChange func()
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Indexer == nil || cfg.Runner == nil || cfg.Scanner == nil {
		return nil, qerrors.New(qerrors.ErrCodeInternal,
			"indexer, runner and scanner are required", nil)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		indexer:        cfg.Indexer,
		runner:         cfg.Runner,
		scanner:        cfg.Scanner,
		scanOpts:       cfg.ScanOpts,
		log:            log,
		onConfigChange: cfg.OnConfigChange,
	}, nil
}

// Run consumes event batches until the channel closes or the context
// is cancelled.
func (c *Coordinator) Run(ctx context.Context, batches <-chan []watcher.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-batches:
			if !ok {
				return nil
			}
			c.apply(ctx, batch)
		}
	}
}

// apply processes one debounced batch. Per-file failures are logged
// and do not stop the batch.
func (c *Coordinator) apply(ctx context.Context, batch []watcher.Event) {
	resync := false
	for _, ev := range batch {
		if ctx.Err() != nil {
			return
		}
		switch ev.Op {
		case watcher.OpGitignore:
			// Ignore rules changed: cached matchers are stale and
			// the set of indexable files may have moved either way.
			c.scanner.InvalidateCache()
			resync = true

		case watcher.OpConfig:
			if c.onConfigChange != nil {
				c.onConfigChange()
			}

		case watcher.OpDelete:
			// Deletes carry no dir bit since the path is gone.
			// RemoveTree is a no-op when nothing lives under the
			// prefix, so run both.
			if err := c.indexer.RemoveFile(ctx, ev.Path); err != nil {
				c.log.Warn("remove file failed",
					slog.String("path", ev.Path),
					slog.String("error", err.Error()))
			}
			if err := c.indexer.RemoveTree(ctx, ev.Path); err != nil {
				c.log.Warn("remove tree failed",
					slog.String("path", ev.Path),
					slog.String("error", err.Error()))
			}
			c.applied.Add(1)

		case watcher.OpCreate, watcher.OpModify:
			if ev.IsDir {
				// A moved-in directory arrives as one create; its
				// contents never got their own events. A sync pass
				// picks them up, and the hash fast path keeps it
				// cheap for everything else.
				if ev.Op == watcher.OpCreate {
					resync = true
				}
				continue
			}
			if !c.scanner.Check(c.scanOpts.Root, ev.Path, c.scanOpts) {
				continue
			}
			if _, err := c.indexer.IndexFile(ctx, ev.Path); err != nil {
				c.log.Warn("index file failed",
					slog.String("path", ev.Path),
					slog.String("error", err.Error()))
			}
			c.applied.Add(1)
		}
	}

	if resync && ctx.Err() == nil {
		if _, err := c.runner.Sync(ctx); err != nil {
			c.log.Warn("resync after rule change failed",
				slog.String("error", err.Error()))
		}
	}
}

// Applied returns how many file events this Coordinator has acted on.
func (c *Coordinator) Applied() int64 {
	return c.applied.Load()
}
