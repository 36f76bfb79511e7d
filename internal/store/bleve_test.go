package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBleveIndex_IndexAndSearch(t *testing.T) {
	idx, err := NewBleveIndex("", DefaultLexicalConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	chunks := []*Chunk{
		lexChunk("1", "fetchUserProfile loads the profile"),
		lexChunk("2", "createUser inserts a row"),
		lexChunk("3", "unrelated parser logic"),
	}
	require.NoError(t, idx.Index(context.Background(), chunks))

	results, err := idx.Search(context.Background(), "user", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestBleveIndex_FindsCamelCase(t *testing.T) {
	idx, err := NewBleveIndex("", DefaultLexicalConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	require.NoError(t, idx.Index(context.Background(), []*Chunk{
		lexChunk("1", "fetchUserProfile loads the profile"),
	}))

	results, err := idx.Search(context.Background(), "profile", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1", results[0].ChunkID)
	assert.NotEmpty(t, results[0].MatchedTerms)
}

func TestBleveIndex_Delete(t *testing.T) {
	idx, err := NewBleveIndex("", DefaultLexicalConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, []*Chunk{
		lexChunk("1", "keep this around"),
		lexChunk("2", "drop this chunk"),
	}))
	require.NoError(t, idx.Delete(ctx, []string{"2"}))

	ids, err := idx.AllIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids)
	assert.Equal(t, 1, idx.Stats().DocumentCount)
}

func TestBleveIndex_EmptyQueryReturnsNothing(t *testing.T) {
	idx, err := NewBleveIndex("", DefaultLexicalConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	results, err := idx.Search(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBleveIndex_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexical.bleve")

	idx, err := NewBleveIndex(path, DefaultLexicalConfig())
	require.NoError(t, err)
	require.NoError(t, idx.Index(context.Background(), []*Chunk{
		lexChunk("1", "persistent searchable content"),
	}))
	require.NoError(t, idx.Close())

	idx2, err := NewBleveIndex(path, DefaultLexicalConfig())
	require.NoError(t, err)
	defer func() { _ = idx2.Close() }()

	results, err := idx2.Search(context.Background(), "persistent", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1", results[0].ChunkID)
}

func TestBleveIndex_CorruptMetaIsQuarantined(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexical.bleve")
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "index_meta.json"), []byte("{truncated"), 0o644))

	idx, err := NewBleveIndex(path, DefaultLexicalConfig())
	require.NoError(t, err, "corrupt index is cleared and recreated")
	defer func() { _ = idx.Close() }()

	assert.Equal(t, 0, idx.Stats().DocumentCount)
}
