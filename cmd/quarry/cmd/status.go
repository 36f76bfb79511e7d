package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/quarrysearch/quarry/internal/daemon"
	"github.com/quarrysearch/quarry/internal/project"
	"github.com/quarrysearch/quarry/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health and status",
		Long: `Display information about the current index:
  - Number of indexed files and chunks
  - Embedding model and dimensions
  - Index size on disk and last index time
  - Daemon and watcher state`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	root, err := resolveRoot()
	if err != nil {
		return err
	}

	info, err := collectStatus(ctx, root)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	ui.NewStatusRenderer(cmd.OutOrStdout(), noColor || ui.DetectNoColor()).Render(info)
	return nil
}

func collectStatus(ctx context.Context, root string) (ui.StatusInfo, error) {
	info := ui.StatusInfo{Root: root}

	dataDir := project.DataDir(root)
	if _, err := os.Stat(dataDir); err == nil {
		proj, err := project.Open(ctx, root, slog.Default())
		if err != nil {
			return info, err
		}
		defer proj.Close()

		if stats, err := proj.Stats(ctx); err == nil {
			info.Indexed = stats.ModelTag != ""
			info.Documents = stats.DocumentCount
			info.Chunks = stats.ChunkCount
			info.ModelTag = stats.ModelTag
			info.Dimensions = stats.Dimensions
			info.Prefiltering = stats.Prefiltering
		}
		info.IndexSize = dirSize(dataDir)
		if st, err := os.Stat(filepath.Join(dataDir, "index.db")); err == nil {
			info.LastIndexed = st.ModTime()
		}
	}

	if client, err := daemon.NewClient(""); err == nil && client.IsRunning(ctx) {
		info.DaemonRunning = true
		if status, err := client.Status(ctx); err == nil {
			for _, p := range status.Projects {
				if p.Root == root {
					info.Watching = p.Watching
					break
				}
			}
		}
	}

	return info, nil
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if st, serr := d.Info(); serr == nil {
			total += st.Size()
		}
		return nil
	})
	return total
}
