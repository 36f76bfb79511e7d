package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize is the default number of token matrices to
// cache. Sized for query traffic, not corpus indexing.
const DefaultEmbeddingCacheSize = 1000

// CachedTokenEmbedder wraps a TokenEmbedder with LRU caching so repeated
// queries skip the model round trip.
type CachedTokenEmbedder struct {
	inner TokenEmbedder
	cache *lru.Cache[string, *TokenMatrix]
}

var _ TokenEmbedder = (*CachedTokenEmbedder)(nil)

// NewCachedTokenEmbedder creates a cached embedder wrapping the given one.
func NewCachedTokenEmbedder(inner TokenEmbedder, cacheSize int) *CachedTokenEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[string, *TokenMatrix](cacheSize)
	return &CachedTokenEmbedder{
		inner: inner,
		cache: cache,
	}
}

// cacheKey derives the cache key from text and model tag. The model tag
// is part of the key so switching models never serves stale vectors.
func (c *CachedTokenEmbedder) cacheKey(text string) string {
	combined := text + "\x00" + c.inner.ModelTag()
	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])
}

// EmbedTokens returns the cached matrix if present, otherwise computes
// and caches it.
func (c *CachedTokenEmbedder) EmbedTokens(ctx context.Context, text string) (*TokenMatrix, error) {
	key := c.cacheKey(text)

	if matrix, ok := c.cache.Get(key); ok {
		return matrix, nil
	}

	matrix, err := c.inner.EmbedTokens(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Add(key, matrix)
	return matrix, nil
}

// EmbedTokensBatch embeds multiple texts, collecting cache misses into a
// single inner batch call.
func (c *CachedTokenEmbedder) EmbedTokensBatch(ctx context.Context, texts []string) ([]*TokenMatrix, error) {
	if len(texts) == 0 {
		return []*TokenMatrix{}, nil
	}

	results := make([]*TokenMatrix, len(texts))
	missIndices := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if matrix, ok := c.cache.Get(c.cacheKey(text)); ok {
			results[i] = matrix
		} else {
			missIndices = append(missIndices, i)
			missTexts = append(missTexts, text)
		}
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	embedded, err := c.inner.EmbedTokensBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range missIndices {
		results[idx] = embedded[j]
		c.cache.Add(c.cacheKey(texts[idx]), embedded[j])
	}

	return results, nil
}

// Dimensions returns the embedding dimension (passthrough to inner).
func (c *CachedTokenEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// ModelTag returns the model identifier (passthrough to inner).
func (c *CachedTokenEmbedder) ModelTag() string {
	return c.inner.ModelTag()
}

// Available checks if the embedder is ready (passthrough to inner).
func (c *CachedTokenEmbedder) Available(ctx context.Context) bool {
	return c.inner.Available(ctx)
}

// Close releases resources and closes the inner embedder.
func (c *CachedTokenEmbedder) Close() error {
	return c.inner.Close()
}

// Inner returns the wrapped embedder for callers that need access to
// implementation-specific features.
func (c *CachedTokenEmbedder) Inner() TokenEmbedder {
	return c.inner
}
