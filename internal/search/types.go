// Package search ranks indexed chunks against a query. A semantic
// MaxSim leg and a BM25 lexical leg run independently and their
// rankings are fused with Reciprocal Rank Fusion.
package search

import (
	"github.com/quarrysearch/quarry/internal/store"
)

// QueryShape is the coarse classification that picks fusion weights.
type QueryShape int

const (
	// ShapeMixed is the default for short ambiguous queries.
	ShapeMixed QueryShape = iota
	// ShapeLexical covers identifiers, paths, error codes and quoted
	// phrases, where exact matching wins.
	ShapeLexical
	// ShapeSemantic covers natural-language queries.
	ShapeSemantic
)

func (s QueryShape) String() string {
	switch s {
	case ShapeLexical:
		return "lexical"
	case ShapeSemantic:
		return "semantic"
	default:
		return "mixed"
	}
}

// Weights splits fused scoring between the two legs. They should sum
// to 1.
type Weights struct {
	Semantic float64
	Lexical  float64
}

// DefaultWeights is the balanced split for mixed queries.
func DefaultWeights() Weights {
	return Weights{Semantic: 0.65, Lexical: 0.35}
}

// WeightsForShape returns the fusion weights a query shape leans to.
func WeightsForShape(shape QueryShape) Weights {
	switch shape {
	case ShapeLexical:
		return Weights{Semantic: 0.35, Lexical: 0.65}
	case ShapeSemantic:
		return Weights{Semantic: 0.75, Lexical: 0.25}
	default:
		return DefaultWeights()
	}
}

// Options configures one query.
type Options struct {
	// Limit is the result count, default 10.
	Limit int

	// Filter restricts by content type: "all" (default), "code", "docs".
	Filter string

	// Language keeps only results in one programming language.
	Language string

	// Scopes keeps only results under these path prefixes. Empty
	// means no scoping.
	Scopes []string

	// Weights overrides the classifier's choice.
	Weights *Weights

	// LexicalOnly skips the semantic leg entirely. Exact keyword runs
	// and indexes with no reachable embedder both use it.
	LexicalOnly bool
}

// Result is one ranked hit.
type Result struct {
	ChunkID     string            `json:"chunk_id"`
	Path        string            `json:"path"`
	StartLine   int               `json:"start_line"`
	EndLine     int               `json:"end_line"`
	StartByte   int               `json:"start_byte"`
	EndByte     int               `json:"end_byte"`
	Language    string            `json:"language,omitempty"`
	ContentType store.ContentType `json:"content_type"`

	// Snippet is the leading lines of the chunk, byte-budgeted.
	Snippet string `json:"snippet"`

	// Score is the fused score normalized to [0,1].
	Score float64 `json:"score"`
	// SemanticScore is the raw MaxSim score, preserved pre-fusion.
	SemanticScore float64 `json:"semantic_score"`
	// LexicalScore is the raw BM25 score, preserved pre-fusion.
	LexicalScore float64 `json:"lexical_score"`

	// SemanticRank and LexicalRank are 1-indexed positions in each
	// leg's list, 0 when absent from that leg.
	SemanticRank int `json:"semantic_rank,omitempty"`
	LexicalRank  int `json:"lexical_rank,omitempty"`

	// InBoth marks results both legs agreed on.
	InBoth bool `json:"in_both"`

	// MatchedTerms are the lexical query terms that hit this chunk.
	MatchedTerms []string `json:"matched_terms,omitempty"`
}

// Stats describes the engine's view of the index.
type Stats struct {
	ChunkCount    int    `json:"chunk_count"`
	DocumentCount int    `json:"document_count"`
	ModelTag      string `json:"model_tag"`
	Dimensions    int    `json:"dimensions"`
	Prefiltering  bool   `json:"prefiltering"`
}

// Reranker may reorder the fused top-K before results are returned.
// Implementations must not change the slice length.
type Reranker interface {
	Rerank(query string, results []*Result) []*Result
}

// IdentityReranker returns results unchanged. The default.
type IdentityReranker struct{}

// Rerank implements Reranker.
func (IdentityReranker) Rerank(_ string, results []*Result) []*Result {
	return results
}
