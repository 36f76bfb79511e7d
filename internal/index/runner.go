package index

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	qerrors "github.com/quarrysearch/quarry/internal/errors"
	"github.com/quarrysearch/quarry/internal/scanner"
)

// Result summarizes one full-scan run.
type Result struct {
	// FilesScanned is how many files the scanner yielded.
	FilesScanned int
	// FilesIndexed is how many files had their chunk sets rebuilt.
	FilesIndexed int
	// FilesSkipped is how many files matched their stored content hash.
	FilesSkipped int
	// FilesRemoved is how many stored documents no longer exist on disk.
	FilesRemoved int
	// FilesFailed is how many files errored and were skipped over.
	FilesFailed int

	// ScanDuration covers the filesystem walk.
	ScanDuration time.Duration
	// IndexDuration covers chunking, embedding and writes.
	IndexDuration time.Duration
	// TotalDuration covers the whole run including reconciliation.
	TotalDuration time.Duration
}

// Progress stages reported during a run.
const (
	StageScan  = "scan"
	StageIndex = "index"
	StageSweep = "sweep"
)

// Progress is one per-file advancement event. Total grows while the
// scan is still streaming files in.
type Progress struct {
	Stage string
	Done  int
	Total int
	Path  string
	Err   error
}

// ProgressFunc receives Progress events. Events for the index stage
// arrive from worker goroutines, so implementations must be safe for
// concurrent use.
type ProgressFunc func(Progress)

// Runner performs full-project scans. It holds the cross-process
// project lock for the duration of a run, fans per-file work over a
// worker pool, and reconciles stored documents against what the scan
// actually saw so deletions that happened while nothing was watching
// are picked up.
type Runner struct {
	indexer  *Indexer
	scanner  *scanner.Scanner
	dataDir  string
	scanOpts scanner.Options
	workers  int
	progress ProgressFunc
	log      *slog.Logger
}

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Indexer *Indexer
	Scanner *scanner.Scanner
	// DataDir is the project data directory holding the lock file.
	DataDir  string
	ScanOpts scanner.Options
	// Workers bounds concurrent per-file pipelines. Zero means one.
	Workers int
	Logger  *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Indexer == nil || cfg.Scanner == nil {
		return nil, qerrors.New(qerrors.ErrCodeInternal,
			"indexer and scanner are required", nil)
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		indexer:  cfg.Indexer,
		scanner:  cfg.Scanner,
		dataDir:  cfg.DataDir,
		scanOpts: cfg.ScanOpts,
		workers:  workers,
		log:      log,
	}, nil
}

// SetProgress installs a progress callback for subsequent runs. Must
// be called before Run or Sync, not during one.
func (r *Runner) SetProgress(fn ProgressFunc) {
	r.progress = fn
}

func (r *Runner) emit(p Progress) {
	if r.progress != nil {
		r.progress(p)
	}
}

// Run scans the project and brings the index up to date. Cancelling
// the context stops the run early; every file committed before the
// cancellation stays committed.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	lock, err := AcquireProjectLock(r.dataDir)
	if err != nil {
		return nil, err
	}
	defer lock.Release()
	return r.Sync(ctx)
}

// Sync is Run without the project lock, for callers that already hold
// it for a longer span, like the watch coordinator.
func (r *Runner) Sync(ctx context.Context) (*Result, error) {
	start := time.Now()
	r.indexer.ResetCounts()

	results, err := r.scanner.Scan(ctx, r.scanOpts)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeIndexFailed, "scan project", err)
	}

	pool, err := ants.NewPool(r.workers)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeInternal, "create worker pool", err)
	}
	defer pool.Release()

	var (
		wg       sync.WaitGroup
		seen     = make(map[string]struct{})
		scanned  int
		done     atomic.Int64
		scanDone time.Time
	)
	for res := range results {
		if res.Err != nil {
			r.log.Warn("scan error", slog.String("error", res.Err.Error()))
			continue
		}
		if ctx.Err() != nil {
			break
		}
		scanned++
		path := res.File.Path
		seen[path] = struct{}{}
		r.emit(Progress{Stage: StageScan, Done: scanned, Path: path})

		total := scanned
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if _, err := r.indexer.IndexFile(ctx, path); err != nil {
				r.log.Warn("index file failed",
					slog.String("path", path),
					slog.String("error", err.Error()))
				r.emit(Progress{Stage: StageIndex, Done: int(done.Add(1)),
					Total: total, Path: path, Err: err})
				return
			}
			r.emit(Progress{Stage: StageIndex, Done: int(done.Add(1)),
				Total: total, Path: path})
		})
		if submitErr != nil {
			wg.Done()
			r.log.Warn("submit index job failed",
				slog.String("path", path),
				slog.String("error", submitErr.Error()))
		}
	}
	scanDone = time.Now()
	wg.Wait()
	indexDone := time.Now()

	if ctx.Err() == nil {
		r.emit(Progress{Stage: StageSweep, Done: scanned, Total: scanned})
		r.reconcile(ctx, seen)
	}

	indexed, skipped, removed, failed := r.indexer.Counts()
	res := &Result{
		FilesScanned:  scanned,
		FilesIndexed:  int(indexed),
		FilesSkipped:  int(skipped),
		FilesRemoved:  int(removed),
		FilesFailed:   int(failed),
		ScanDuration:  scanDone.Sub(start),
		IndexDuration: indexDone.Sub(scanDone),
		TotalDuration: time.Since(start),
	}
	r.log.Info("index run complete",
		slog.Int("scanned", res.FilesScanned),
		slog.Int("indexed", res.FilesIndexed),
		slog.Int("skipped", res.FilesSkipped),
		slog.Int("removed", res.FilesRemoved),
		slog.Int("failed", res.FilesFailed),
		slog.Duration("took", res.TotalDuration))
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// reconcile tombstones documents the scan no longer saw. This is what
// catches files deleted between runs while no watcher was active.
func (r *Runner) reconcile(ctx context.Context, seen map[string]struct{}) {
	docs, err := r.indexer.store.Documents(ctx)
	if err != nil {
		r.log.Warn("list documents for reconcile failed",
			slog.String("error", err.Error()))
		return
	}
	for path := range docs {
		if _, ok := seen[path]; ok {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if err := r.indexer.RemoveFile(ctx, path); err != nil {
			r.log.Warn("remove vanished document failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}
}
