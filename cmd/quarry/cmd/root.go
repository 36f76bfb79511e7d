// Package cmd provides the CLI commands for quarry.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/quarrysearch/quarry/internal/config"
	"github.com/quarrysearch/quarry/internal/logging"
	"github.com/quarrysearch/quarry/pkg/version"
)

// Global flags shared across commands.
var (
	rootDir   string
	plainMode bool
	noColor   bool
	debugMode bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the quarry CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quarry",
		Short: "Local semantic code search",
		Long: `Quarry indexes a codebase locally and answers natural-language
queries over it, fusing keyword and embedding search.

Run 'quarry index' in a project directory, then 'quarry search'.
Everything stays on your machine.`,
		Version:            version.Version,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  setupLogging,
		PersistentPostRunE: teardownLogging,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.SetVersionTemplate("quarry version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&rootDir, "root", "", "Project root (default: nearest ancestor with .quarry or VCS marker)")
	cmd.PersistentFlags().BoolVar(&plainMode, "plain", false, "Plain text output, no TUI")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to file")

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setupLogging routes slog to the rotating log file so CLI runs stay
// observable without polluting stdout.
func setupLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	cfg.WriteToStderr = false
	if debugMode {
		cfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		// Logging is never worth failing a command over.
		return nil
	}
	slog.SetDefault(logger)
	loggingCleanup = cleanup
	if debugMode {
		slog.Debug("debug logging enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	}
	return nil
}

func teardownLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// resolveRoot picks the project root from the --root flag or by
// walking up from the working directory.
func resolveRoot() (string, error) {
	if rootDir != "" {
		return rootDir, nil
	}
	root, err := config.FindProjectRoot(".")
	if err != nil {
		wd, werr := os.Getwd()
		if werr != nil {
			return "", fmt.Errorf("resolve working directory: %w", werr)
		}
		return wd, nil
	}
	return root, nil
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
