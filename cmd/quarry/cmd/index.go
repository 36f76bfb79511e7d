package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarrysearch/quarry/internal/async"
	"github.com/quarrysearch/quarry/internal/daemon"
	"github.com/quarrysearch/quarry/internal/index"
	"github.com/quarrysearch/quarry/internal/project"
	"github.com/quarrysearch/quarry/internal/ui"
)

func newIndexCmd() *cobra.Command {
	var (
		watch bool
		local bool
		force bool
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a directory for searching",
		Long: `Index a directory to enable hybrid search over its contents.

Scans files, chunks code and documents, embeds each chunk, and
builds keyword and semantic indices side by side. Re-running only
touches files whose content changed.

When the daemon is running the work is handed to it, which also
keeps the index warm for fast searches. Use --local to index
in-process instead, or --watch to have the daemon re-index
automatically as files change.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			if watch && local {
				return fmt.Errorf("--watch needs the daemon; drop --local")
			}
			return runIndex(ctx, cmd, path, indexRun{watch: watch, local: local, force: force})
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep watching for file changes after indexing (daemon)")
	cmd.Flags().BoolVar(&local, "local", false, "Index in-process, bypassing the daemon")
	cmd.Flags().BoolVar(&force, "force", false, "Reindex every file, ignoring stored content hashes")

	return cmd
}

// indexRun bundles the index command's flags.
type indexRun struct {
	watch bool
	local bool
	force bool
}

func runIndex(ctx context.Context, cmd *cobra.Command, path string, run indexRun) error {
	root, err := resolveRootFor(path)
	if err != nil {
		return err
	}

	if !run.local {
		client, err := daemon.NewClient("")
		if err == nil && client.IsRunning(ctx) {
			return runIndexViaDaemon(ctx, cmd, client, root, run)
		}
		if run.watch {
			return fmt.Errorf("daemon is not running; start it with 'quarry daemon start'")
		}
	}

	return runIndexLocal(ctx, cmd, root, run.force)
}

// runIndexViaDaemon submits the job and polls until it settles.
func runIndexViaDaemon(ctx context.Context, cmd *cobra.Command, client *daemon.Client, root string, run indexRun) error {
	out := cmd.OutOrStdout()
	res, err := client.Index(ctx, daemon.IndexParams{Root: root, Force: run.force, Watch: run.watch})
	if err != nil {
		return err
	}
	jobID := res.Job.ID
	fmt.Fprintf(out, "Indexing %s via daemon (job %s)...\n", root, jobID)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		status, err := client.Status(ctx)
		if err != nil {
			return err
		}
		job := findJob(status.Jobs, jobID)
		if job == nil {
			return fmt.Errorf("daemon lost track of job %s", jobID)
		}
		switch job.State {
		case async.JobDone:
			fmt.Fprintf(out, "Indexed %d files (%d unchanged, %d removed) in %s\n",
				job.FilesIndexed, job.FilesSkipped, job.FilesRemoved, job.Elapsed)
			if job.FilesFailed > 0 {
				fmt.Fprintf(out, "%d files failed; see the daemon log\n", job.FilesFailed)
			}
			if run.watch {
				fmt.Fprintln(out, "Watching for changes.")
			}
			return nil
		case async.JobFailed:
			return fmt.Errorf("index failed: %s", job.Error)
		case async.JobCancelled:
			return fmt.Errorf("index cancelled")
		}
	}
}

func findJob(jobs []async.Snapshot, id string) *async.Snapshot {
	for i := range jobs {
		if jobs[i].ID == id {
			return &jobs[i]
		}
	}
	return nil
}

// runIndexLocal indexes in-process with live progress rendering.
func runIndexLocal(ctx context.Context, cmd *cobra.Command, root string, force bool) error {
	proj, err := project.Open(ctx, root, slog.Default())
	if err != nil {
		return err
	}
	defer proj.Close()
	if force {
		proj.Indexer.SetForce(true)
	}

	renderer := ui.NewRenderer(ui.Config{
		Output:  cmd.OutOrStdout(),
		Plain:   plainMode,
		NoColor: noColor,
		Root:    root,
	})
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer renderer.Stop()

	proj.Runner.SetProgress(func(p index.Progress) {
		if p.Err != nil {
			renderer.Fail(ui.Failure{Path: p.Path, Err: p.Err})
		}
		renderer.Update(ui.Progress{
			Phase:   phaseFor(p.Stage),
			Current: p.Done,
			Total:   p.Total,
			Path:    p.Path,
		})
	})

	res, err := proj.Index(ctx)
	if err != nil {
		return err
	}

	summary := ui.Summary{
		FilesScanned: res.FilesScanned,
		FilesIndexed: res.FilesIndexed,
		FilesSkipped: res.FilesSkipped,
		FilesRemoved: res.FilesRemoved,
		FilesFailed:  res.FilesFailed,
		Duration:     res.TotalDuration,
	}
	if stats, serr := proj.Stats(ctx); serr == nil {
		summary.Chunks = stats.ChunkCount
	}
	renderer.Done(summary)
	return proj.Save(ctx)
}

func phaseFor(stage string) ui.Phase {
	switch stage {
	case index.StageScan:
		return ui.PhaseScanning
	case index.StageSweep:
		return ui.PhaseReconciling
	default:
		return ui.PhaseIndexing
	}
}

// resolveRootFor resolves an explicit path argument against the
// project-root discovery used everywhere else.
func resolveRootFor(path string) (string, error) {
	if path != "." {
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			return "", fmt.Errorf("%s is not a directory", path)
		}
		return path, nil
	}
	return resolveRoot()
}
