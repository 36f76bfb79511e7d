package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/quarrysearch/quarry/internal/project"
	"github.com/quarrysearch/quarry/internal/telemetry"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show local query statistics",
		Long: `Display query statistics collected locally for this project:
query shape distribution, latency buckets, frequent terms and
recent queries that returned nothing. Nothing ever leaves the
machine; disable collection with telemetry.disabled in the config.`,
	}

	cmd.AddCommand(newStatsQueriesCmd())
	return cmd
}

func newStatsQueriesCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "queries",
		Short: "Show query pattern statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatsQueries(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatsQueries(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	root, err := resolveRoot()
	if err != nil {
		return err
	}

	proj, err := project.Open(ctx, root, slog.Default())
	if err != nil {
		return err
	}
	defer proj.Close()

	if proj.Metrics == nil {
		return fmt.Errorf("query statistics are disabled for this project")
	}
	snap := proj.Metrics.Snapshot()

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	fmt.Fprintf(out, "Queries: %d total, %.1f%% with no results\n\n",
		snap.TotalQueries, snap.ZeroResultRate()*100)

	if len(snap.ShapeCounts) > 0 {
		fmt.Fprintln(out, "By shape:")
		for _, shape := range []string{"lexical", "semantic", "mixed"} {
			if n, ok := snap.ShapeCounts[shape]; ok {
				fmt.Fprintf(out, "  %-10s %d\n", shape, n)
			}
		}
		fmt.Fprintln(out)
	}

	if len(snap.LatencyCounts) > 0 {
		fmt.Fprintln(out, "Latency:")
		buckets := []telemetry.LatencyBucket{
			telemetry.BucketUnder10ms,
			telemetry.BucketUnder50ms,
			telemetry.BucketUnder100ms,
			telemetry.BucketUnder500ms,
			telemetry.BucketSlow,
		}
		for _, b := range buckets {
			if n, ok := snap.LatencyCounts[b]; ok {
				fmt.Fprintf(out, "  %-10s %d\n", b, n)
			}
		}
		fmt.Fprintln(out)
	}

	if len(snap.TopTerms) > 0 {
		fmt.Fprintln(out, "Top terms:")
		for _, tc := range snap.TopTerms {
			fmt.Fprintf(out, "  %-20s %d\n", tc.Term, tc.Count)
		}
		fmt.Fprintln(out)
	}

	if len(snap.RecentZeroResult) > 0 {
		fmt.Fprintln(out, "Recent zero-result queries:")
		for _, q := range snap.RecentZeroResult {
			fmt.Fprintf(out, "  %q\n", q)
		}
	}

	return nil
}
