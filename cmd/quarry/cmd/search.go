package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quarrysearch/quarry/internal/daemon"
	qerrors "github.com/quarrysearch/quarry/internal/errors"
	"github.com/quarrysearch/quarry/internal/project"
	"github.com/quarrysearch/quarry/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit       int
	filter      string
	language    string
	format      string
	scopes      []string
	lexicalOnly bool
	local       bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed project",
		Long: `Search the indexed project with hybrid retrieval.

Keyword and semantic results are fused by reciprocal rank, with
weights picked per query shape: identifier-like queries lean
lexical, natural-language queries lean semantic.

Examples:
  quarry search "authentication middleware"
  quarry search "handleRequest" --type code --limit 5
  quarry search "setup instructions" --type docs
  quarry search "connection pooling" --scope internal/store`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.filter, "type", "t", "all", "Filter by type: all, code, docs")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Filter by language (e.g. go, python)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().StringSliceVarP(&opts.scopes, "scope", "s", nil, "Filter by path prefix (repeatable)")
	cmd.Flags().BoolVar(&opts.lexicalOnly, "lexical-only", false, "Keyword search only, skip the semantic leg")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Search in-process, bypassing the daemon")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	root, err := resolveRoot()
	if err != nil {
		return err
	}

	if !opts.local {
		if client, cerr := daemon.NewClient(""); cerr == nil && client.IsRunning(ctx) {
			slog.Debug("search via daemon", slog.String("query", query))
			res, serr := client.Search(ctx, daemon.SearchParams{
				Query:       query,
				Root:        root,
				Limit:       opts.limit,
				Filter:      opts.filter,
				Language:    opts.language,
				Scopes:      opts.scopes,
				LexicalOnly: opts.lexicalOnly,
			})
			if serr != nil {
				return searchErr(serr)
			}
			return printResults(cmd.OutOrStdout(), query, res.Results, opts.format)
		}
	}

	proj, err := project.Open(ctx, root, slog.Default())
	if err != nil {
		return err
	}
	defer proj.Close()

	results, err := proj.Search(ctx, query, search.Options{
		Limit:       opts.limit,
		Filter:      opts.filter,
		Language:    opts.language,
		Scopes:      opts.scopes,
		LexicalOnly: opts.lexicalOnly,
	})
	if err != nil {
		return searchErr(err)
	}
	return printResults(cmd.OutOrStdout(), query, results, opts.format)
}

// searchErr surfaces the taxonomy's suggestion when one is attached.
func searchErr(err error) error {
	var qe *qerrors.QuarryError
	if errors.As(err, &qe) && qe.Suggestion != "" {
		return fmt.Errorf("%s (%s)", qe.Message, qe.Suggestion)
	}
	return err
}

func printResults(out io.Writer, query string, results []*search.Result, format string) error {
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Fprintf(out, "No results for %q\n", query)
		return nil
	}

	for i, r := range results {
		lang := r.Language
		if lang == "" {
			lang = string(r.ContentType)
		}
		fmt.Fprintf(out, "%2d. %s:%d-%d  (%.2f, %s)\n",
			i+1, r.Path, r.StartLine, r.EndLine, r.Score, lang)
		for _, line := range strings.Split(strings.TrimRight(r.Snippet, "\n"), "\n") {
			fmt.Fprintf(out, "    %s\n", line)
		}
		if len(r.MatchedTerms) > 0 {
			fmt.Fprintf(out, "    matched: %s\n", strings.Join(r.MatchedTerms, ", "))
		}
		fmt.Fprintln(out)
	}
	return nil
}
