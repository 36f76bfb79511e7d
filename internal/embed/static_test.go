package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedderDeterministic(t *testing.T) {
	e := NewStaticTokenEmbedder()
	defer func() { _ = e.Close() }()

	first, err := e.EmbedTokens(context.Background(), "parse http request headers")
	require.NoError(t, err)

	second, err := e.EmbedTokens(context.Background(), "parse http request headers")
	require.NoError(t, err)

	assert.Equal(t, first.Tokens, second.Tokens)
	assert.Equal(t, first.Vectors, second.Vectors)
}

func TestStaticEmbedderPreservesTokenOrder(t *testing.T) {
	e := NewStaticTokenEmbedder()
	defer func() { _ = e.Close() }()

	matrix, err := e.EmbedTokens(context.Background(), "alpha bravo charlie")
	require.NoError(t, err)

	require.Equal(t, []string{"alpha", "bravo", "charlie"}, matrix.Tokens)
	require.Len(t, matrix.Vectors, 3)

	// Each row must be the embedding of its own token, in order
	for i, token := range matrix.Tokens {
		assert.Equal(t, tokenVector(token), matrix.Vectors[i], "row %d (%s)", i, token)
	}
}

func TestStaticEmbedderVectorsAreUnitLength(t *testing.T) {
	e := NewStaticTokenEmbedder()
	defer func() { _ = e.Close() }()

	matrix, err := e.EmbedTokens(context.Background(), "database connection pool")
	require.NoError(t, err)
	require.False(t, matrix.Empty())

	for i, vec := range matrix.Vectors {
		require.Len(t, vec, StaticDimensions)
		var sum float64
		for _, v := range vec {
			sum += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, sum, 1e-5, "vector %d not unit length", i)
	}
}

func TestStaticEmbedderSplitsIdentifiers(t *testing.T) {
	e := NewStaticTokenEmbedder()
	defer func() { _ = e.Close() }()

	matrix, err := e.EmbedTokens(context.Background(), "getUserById")
	require.NoError(t, err)

	assert.Contains(t, matrix.Tokens, "getuserbyid")
	assert.Contains(t, matrix.Tokens, "get")
	assert.Contains(t, matrix.Tokens, "user")
}

func TestCanonicalToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"sat", "sit"},
		{"Sat", "sit"},
		{"went", "go"},
		{"feline", "cat"},
		{"kitten", "cat"},
		{"cats", "cat"},
		{"errors", "err"},
		{"deleted", "delet"},
		{"quarry", "quarry"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, canonicalToken(tt.in))
		})
	}
}

func TestStaticEmbedderRelatedFormsEmbedIdentically(t *testing.T) {
	pairs := [][2]string{
		{"sat", "sit"},
		{"feline", "cat"},
		{"retrieve", "fetch"},
	}

	for _, pair := range pairs {
		assert.Equal(t, tokenVector(pair[0]), tokenVector(pair[1]),
			"%q and %q should embed identically", pair[0], pair[1])
	}
}

func TestStaticEmbedderUnrelatedTokensDiffer(t *testing.T) {
	assert.NotEqual(t, tokenVector("database"), tokenVector("keyboard"))
}

func TestStaticEmbedderEmptyText(t *testing.T) {
	e := NewStaticTokenEmbedder()
	defer func() { _ = e.Close() }()

	for _, text := range []string{"", "   ", "!!! ###"} {
		matrix, err := e.EmbedTokens(context.Background(), text)
		require.NoError(t, err)
		assert.True(t, matrix.Empty(), "text %q", text)
	}
}

func TestStaticEmbedderStopWordOnlyTextStillEmbeds(t *testing.T) {
	e := NewStaticTokenEmbedder()
	defer func() { _ = e.Close() }()

	// Every token is a programming stop word; filtering falls back to
	// the raw tokens rather than returning an empty matrix.
	matrix, err := e.EmbedTokens(context.Background(), "func return")
	require.NoError(t, err)
	assert.False(t, matrix.Empty())
}

func TestStaticEmbedderBatchMatchesSingle(t *testing.T) {
	e := NewStaticTokenEmbedder()
	defer func() { _ = e.Close() }()

	texts := []string{"open file", "close file", "read bytes"}

	batch, err := e.EmbedTokensBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, batch, len(texts))

	for i, text := range texts {
		single, err := e.EmbedTokens(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

func TestStaticEmbedderMetadata(t *testing.T) {
	e := NewStaticTokenEmbedder()
	defer func() { _ = e.Close() }()

	assert.Equal(t, StaticDimensions, e.Dimensions())
	assert.Equal(t, StaticModelTag, e.ModelTag())
	assert.True(t, e.Available(context.Background()))
}

func TestStaticEmbedderClosed(t *testing.T) {
	e := NewStaticTokenEmbedder()
	require.NoError(t, e.Close())

	_, err := e.EmbedTokens(context.Background(), "anything")
	assert.Error(t, err)

	_, err = e.EmbedTokensBatch(context.Background(), []string{"anything"})
	assert.Error(t, err)

	assert.False(t, e.Available(context.Background()))
}
