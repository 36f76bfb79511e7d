// Package mcp exposes quarry's search over the Model Context Protocol
// so editor clients can use the index as a tool. The server is a thin
// bridge: one project, two tools, stdio transport.
package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	qerrors "github.com/quarrysearch/quarry/internal/errors"
	"github.com/quarrysearch/quarry/internal/project"
	"github.com/quarrysearch/quarry/internal/search"
	"github.com/quarrysearch/quarry/pkg/version"
)

// Server bridges one open project to MCP clients.
type Server struct {
	mcp  *mcp.Server
	proj *project.Project
	log  *slog.Logger
}

// SearchInput is the search tool's input schema.
type SearchInput struct {
	Query    string   `json:"query" jsonschema:"the search query to execute"`
	Limit    int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Filter   string   `json:"filter,omitempty" jsonschema:"filter by content type: all, code, docs"`
	Language string   `json:"language,omitempty" jsonschema:"filter by programming language, e.g. go, python"`
	Scope    []string `json:"scope,omitempty" jsonschema:"filter by path prefixes (OR logic)"`
}

// SearchResultOutput is one result in the search tool's output.
type SearchResultOutput struct {
	Path         string   `json:"path" jsonschema:"file path relative to the project root"`
	Snippet      string   `json:"snippet" jsonschema:"matched content snippet"`
	Score        float64  `json:"score" jsonschema:"relevance score between 0 and 1"`
	Language     string   `json:"language,omitempty" jsonschema:"programming language of the file"`
	StartLine    int      `json:"start_line" jsonschema:"first line of the matched chunk"`
	EndLine      int      `json:"end_line" jsonschema:"last line of the matched chunk"`
	MatchedTerms []string `json:"matched_terms,omitempty" jsonschema:"query terms that matched"`
	InBoth       bool     `json:"in_both,omitempty" jsonschema:"matched both semantically and lexically"`
}

// SearchOutput is the search tool's output schema.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results" jsonschema:"ranked search results"`
}

// StatusInput is the status tool's (empty) input schema.
type StatusInput struct{}

// StatusOutput is the status tool's output schema.
type StatusOutput struct {
	Indexed       bool   `json:"indexed" jsonschema:"whether the project has an index"`
	ChunkCount    int    `json:"chunk_count" jsonschema:"number of indexed chunks"`
	DocumentCount int    `json:"document_count" jsonschema:"number of indexed files"`
	ModelTag      string `json:"model_tag,omitempty" jsonschema:"embedding model the index was built with"`
	Prefiltering  bool   `json:"prefiltering" jsonschema:"whether the centroid prefilter is active"`
}

// NewServer creates an MCP server over an open project.
func NewServer(proj *project.Project, log *slog.Logger) (*Server, error) {
	if proj == nil {
		return nil, errors.New("project is required")
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Server{proj: proj, log: log}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{Name: "quarry", Version: version.Version},
		nil,
	)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "search",
		Description: "Search the project's code and documentation by meaning and by keyword. " +
			"Backed by a full-codebase hybrid index, so it finds relevant chunks faster " +
			"than scanning files.",
	}, s.handleSearch)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "status",
		Description: "Report whether the project index is ready, its size and the " +
			"embedding model it was built with. Check this before searching.",
	}, s.handleStatus)

	return s, nil
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if input.Query == "" {
		return nil, SearchOutput{}, errors.New("query parameter is required")
	}

	results, err := s.proj.Search(ctx, input.Query, search.Options{
		Limit:    input.Limit,
		Filter:   input.Filter,
		Language: input.Language,
		Scopes:   input.Scope,
	})
	if err != nil {
		s.log.Warn("mcp search failed",
			slog.String("query", input.Query),
			slog.String("error", err.Error()))
		return nil, SearchOutput{}, toolError(err)
	}

	out := SearchOutput{Results: make([]SearchResultOutput, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, SearchResultOutput{
			Path:         r.Path,
			Snippet:      r.Snippet,
			Score:        r.Score,
			Language:     r.Language,
			StartLine:    r.StartLine,
			EndLine:      r.EndLine,
			MatchedTerms: r.MatchedTerms,
			InBoth:       r.InBoth,
		})
	}
	return nil, out, nil
}

func (s *Server) handleStatus(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (
	*mcp.CallToolResult,
	StatusOutput,
	error,
) {
	stats, err := s.proj.Stats(ctx)
	if err != nil {
		return nil, StatusOutput{}, toolError(err)
	}
	return nil, StatusOutput{
		Indexed:       stats.ModelTag != "",
		ChunkCount:    stats.ChunkCount,
		DocumentCount: stats.DocumentCount,
		ModelTag:      stats.ModelTag,
		Prefiltering:  stats.Prefiltering,
	}, nil
}

// toolError flattens a coded error into the short form MCP clients
// show to users, suggestion included when there is one.
func toolError(err error) error {
	var qe *qerrors.QuarryError
	if errors.As(err, &qe) && qe.Suggestion != "" {
		return errors.New(qe.Message + " (" + qe.Suggestion + ")")
	}
	return err
}

// Serve runs the server on stdio until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info("mcp server starting", slog.String("root", s.proj.Root))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
