// Package embed produces token-level embeddings for late-interaction
// retrieval. Every embedder returns one L2-normalized vector per token,
// not a single pooled vector per text.
package embed

import (
	"context"
	"time"
)

// Common embedding constants
const (
	// MinBatchSize is the minimum allowed batch size
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion)
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests
	DefaultBatchSize = 32

	// DefaultTimeout is the per-request timeout for embedding servers
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the default number of retry attempts
	DefaultMaxRetries = 3
)

// Static embedder constants
const (
	// StaticDimensions is the embedding dimension for the static embedder
	StaticDimensions = 256

	// StaticModelTag identifies static-embedder vectors in the index
	StaticModelTag = "static-v1"
)

// TokenMatrix is the embedding of one text: an ordered vector per token.
// Tokens carry the surface forms for diagnostics; Vectors[i] embeds
// Tokens[i]. Row order follows token order in the source text.
type TokenMatrix struct {
	Tokens  []string
	Vectors [][]float32
}

// TokenCount returns the number of embedded tokens.
func (m *TokenMatrix) TokenCount() int {
	if m == nil {
		return 0
	}
	return len(m.Vectors)
}

// Empty reports whether the matrix has no token vectors.
func (m *TokenMatrix) Empty() bool {
	return m.TokenCount() == 0
}

// TokenEmbedder generates per-token embeddings for text.
type TokenEmbedder interface {
	// EmbedTokens embeds a single text into one vector per token.
	EmbedTokens(ctx context.Context, text string) (*TokenMatrix, error)

	// EmbedTokensBatch embeds multiple texts. Results align with the
	// input order.
	EmbedTokensBatch(ctx context.Context, texts []string) ([]*TokenMatrix, error)

	// Dimensions returns the vector width.
	Dimensions() int

	// ModelTag returns the model identifier recorded in the index.
	ModelTag() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}
