package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quarrysearch/quarry/internal/logging"
)

func newLogsCmd() *cobra.Command {
	var (
		lines   int
		follow  bool
		level   string
		logFile string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View quarry log output",
		Long: `Tail the shared log file that the CLI, daemon and MCP server
write to.

Examples:
  quarry logs               # last 50 lines
  quarry logs -n 200        # last 200 lines
  quarry logs -f            # follow new entries
  quarry logs --level warn  # warnings and errors only`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := logging.FindLogFile(logFile)
			if err != nil {
				return err
			}

			viewer := logging.NewViewer(level, cmd.OutOrStdout())
			if err := viewer.Tail(path, lines); err != nil {
				return err
			}
			if !follow {
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return viewer.Follow(ctx, path)
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new entries")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level: debug, info, warn, error")
	cmd.Flags().StringVar(&logFile, "file", "", "Log file path (default: the standard location)")

	return cmd
}
