package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarrysearch/quarry/internal/config"
	"github.com/quarrysearch/quarry/internal/daemon"
	"github.com/quarrysearch/quarry/internal/logging"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background search daemon",
		Long: `The daemon keeps projects loaded in memory for fast searches and
can watch them for file changes, re-indexing incrementally.

Commands:
  start   Start the daemon (background by default)
  stop    Stop the running daemon
  status  Show daemon status and loaded projects

Examples:
  quarry daemon start      # Start daemon in background
  quarry daemon start -f   # Run in foreground (for debugging)
  quarry daemon status     # Check if daemon is running
  quarry daemon stop       # Stop the daemon`,
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the background daemon",
		Long: `Start the search daemon.

By default it detaches and runs in the background. Use
--foreground to keep it attached, with logs on stderr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonStart(cmd.Context(), cmd, foreground)
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (don't daemonize)")
	return cmd
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonStop(cmd.Context(), cmd)
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Long: `Show whether the daemon is running, its process ID, uptime,
loaded projects and any index jobs in flight.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func daemonConfig() *config.Config {
	cfg, err := config.LoadUserConfig()
	if err != nil || cfg == nil {
		return config.NewConfig()
	}
	return cfg
}

func runDaemonStart(ctx context.Context, cmd *cobra.Command, foreground bool) error {
	out := cmd.OutOrStdout()

	client, err := daemon.NewClient("")
	if err != nil {
		return err
	}
	if client.IsRunning(ctx) {
		fmt.Fprintln(out, "Daemon is already running")
		return nil
	}

	if foreground {
		logCfg := logging.DefaultConfig()
		logCfg.WriteToStderr = true
		if debugMode {
			logCfg.Level = "debug"
		}
		if logger, cleanup, lerr := logging.Setup(logCfg); lerr == nil {
			slog.SetDefault(logger)
			defer cleanup()
		}

		srv, err := daemon.NewServer(daemonConfig(), slog.Default())
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "Starting daemon in foreground...\n")
		fmt.Fprintf(out, "Socket: %s\n", srv.SocketPath())
		fmt.Fprintf(out, "Logs: %s\n", logging.DefaultLogPath())
		fmt.Fprintln(out, "Press Ctrl+C to stop")

		sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.ListenAndServe(sctx)
	}

	// Detach: re-execute ourselves with --foreground in a new session.
	fmt.Fprintln(out, "Starting daemon in background...")

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	bgCmd := exec.Command(execPath, "daemon", "start", "--foreground")
	bgCmd.Stdout = nil
	bgCmd.Stderr = nil
	bgCmd.Stdin = nil
	bgCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := bgCmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	// Reap the child when it eventually exits and catch premature
	// failures while we wait for the socket to come up.
	done := make(chan error, 1)
	go func() { done <- bgCmd.Wait() }()

	for i := 0; i < 20; i++ {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("daemon exited unexpectedly: %w", err)
			}
			return fmt.Errorf("daemon exited unexpectedly")
		default:
		}

		time.Sleep(100 * time.Millisecond)
		if client.IsRunning(ctx) {
			fmt.Fprintf(out, "Daemon started (pid: %d)\n", bgCmd.Process.Pid)
			return nil
		}
	}

	return fmt.Errorf("daemon failed to start within timeout")
}

func runDaemonStop(ctx context.Context, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	client, err := daemon.NewClient("")
	if err != nil {
		return err
	}
	if !client.IsRunning(ctx) {
		fmt.Fprintln(out, "Daemon is not running")
		return nil
	}

	var pid int
	if pidPath, perr := daemon.PIDFilePath(); perr == nil {
		pid, _ = daemon.ReadPIDFile(pidPath)
	}

	// Graceful shutdown over the socket first.
	if err := client.Stop(ctx); err == nil {
		for i := 0; i < 50; i++ {
			time.Sleep(100 * time.Millisecond)
			if !client.IsRunning(ctx) {
				fmt.Fprintf(out, "Daemon stopped (was pid: %d)\n", pid)
				return nil
			}
		}
	}

	// Socket unresponsive; fall back to signals.
	if pid <= 0 || !daemon.ProcessRunning(pid) {
		return fmt.Errorf("daemon socket is live but its process cannot be found")
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("stop daemon: %w", err)
	}
	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if !daemon.ProcessRunning(pid) {
			fmt.Fprintf(out, "Daemon stopped (was pid: %d)\n", pid)
			return nil
		}
	}

	fmt.Fprintln(out, "Daemon not responding, sending SIGKILL...")
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("kill daemon: %w", err)
	}
	fmt.Fprintln(out, "Daemon killed")
	return nil
}

func runDaemonStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	out := cmd.OutOrStdout()

	client, err := daemon.NewClient("")
	if err != nil {
		return err
	}

	if !client.IsRunning(ctx) {
		if jsonOutput {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(daemon.StatusResult{Running: false})
		}
		fmt.Fprintln(out, "Daemon is not running")
		fmt.Fprintln(out, "Run 'quarry daemon start' to start it")
		return nil
	}

	status, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("get daemon status: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Fprintf(out, "Daemon running (pid: %d, uptime: %s)\n", status.PID, status.Uptime)
	fmt.Fprintf(out, "Socket: %s\n", status.Socket)
	if len(status.Projects) == 0 {
		fmt.Fprintln(out, "No projects loaded")
		return nil
	}
	fmt.Fprintf(out, "Projects (%d):\n", len(status.Projects))
	for _, p := range status.Projects {
		watch := ""
		if p.Watching {
			watch = ", watching"
		}
		fmt.Fprintf(out, "  %s  %s (%d files, %d chunks%s)\n",
			p.Root, p.State, p.Documents, p.Chunks, watch)
	}
	for _, j := range status.Jobs {
		fmt.Fprintf(out, "Job %s: %s %s (%s)\n", j.ID, j.State, j.Root, j.Elapsed)
	}
	return nil
}
