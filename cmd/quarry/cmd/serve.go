package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quarrysearch/quarry/internal/logging"
	"github.com/quarrysearch/quarry/internal/mcp"
	"github.com/quarrysearch/quarry/internal/project"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve search tools over MCP on stdio",
		Long: `Expose the project's search and status as MCP tools on stdio,
for AI coding assistants.

Stdout carries the protocol, so all logging goes to the log file.
Register it with a client as:

  quarry serve --root /path/to/project`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	return cmd
}

func runServe(cmd *cobra.Command) error {
	// Stdout belongs to the protocol from here on.
	cleanup, err := logging.SetupMCPMode()
	if err == nil {
		defer cleanup()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := resolveRoot()
	if err != nil {
		return err
	}

	proj, err := project.Open(ctx, root, slog.Default())
	if err != nil {
		return err
	}
	defer proj.Close()

	srv, err := mcp.NewServer(proj, slog.Default())
	if err != nil {
		return err
	}

	slog.Info("mcp server starting", slog.String("root", root))
	return srv.Serve(ctx)
}
