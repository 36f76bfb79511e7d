package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lexChunk(id, content string) *Chunk {
	return &Chunk{ID: id, Content: content, ContentType: ContentTypeCode}
}

func TestFTS5Index_IndexAndSearch(t *testing.T) {
	idx, err := NewFTS5Index("", DefaultLexicalConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	chunks := []*Chunk{
		lexChunk("1", "fetchUserProfile loads the profile"),
		lexChunk("2", "createUser inserts a row"),
		lexChunk("3", "deleteUser removes a row"),
	}
	require.NoError(t, idx.Index(context.Background(), chunks))

	results, err := idx.Search(context.Background(), "user", 10)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Greater(t, results[0].Score, 0.0, "bm25 scores are positive after negation")
}

func TestFTS5Index_FindsCamelCaseExactAndPartial(t *testing.T) {
	idx, err := NewFTS5Index("", DefaultLexicalConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	require.NoError(t, idx.Index(context.Background(), []*Chunk{
		lexChunk("1", "fetchUserProfile loads the profile"),
	}))

	// Partial term from the split
	results, err := idx.Search(context.Background(), "profile", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1", results[0].ChunkID)

	// Whole identifier
	results, err = idx.Search(context.Background(), "fetchUserProfile", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestFTS5Index_FindsSnakeCase(t *testing.T) {
	idx, err := NewFTS5Index("", DefaultLexicalConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	require.NoError(t, idx.Index(context.Background(), []*Chunk{
		lexChunk("1", "def fetch_user_profile(user_id)"),
	}))

	results, err := idx.Search(context.Background(), "profile", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1", results[0].ChunkID)
}

func TestFTS5Index_UpdateReplacesExisting(t *testing.T) {
	idx, err := NewFTS5Index("", DefaultLexicalConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, []*Chunk{lexChunk("1", "original wording")}))
	require.NoError(t, idx.Index(ctx, []*Chunk{lexChunk("1", "replacement wording")}))

	assert.Equal(t, 1, idx.Stats().DocumentCount)

	results, err := idx.Search(ctx, "original", 10)
	require.NoError(t, err)
	assert.Empty(t, results, "old content no longer matches")

	results, err = idx.Search(ctx, "replacement", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestFTS5Index_Delete(t *testing.T) {
	idx, err := NewFTS5Index("", DefaultLexicalConfig())
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

	results, err := idx.Search(ctx, "drop", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFTS5Index_EmptyQueryReturnsNothing(t *testing.T) {
	idx, err := NewFTS5Index("", DefaultLexicalConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	for _, q := range []string{"", "   ", "\t"} {
		results, err := idx.Search(context.Background(), q, 10)
		require.NoError(t, err)
		assert.Empty(t, results)
	}
}

func TestFTS5Index_StopWordOnlyQueryReturnsNothing(t *testing.T) {
	idx, err := NewFTS5Index("", DefaultLexicalConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	require.NoError(t, idx.Index(context.Background(), []*Chunk{
		lexChunk("1", "func doWork() { return }"),
	}))

	results, err := idx.Search(context.Background(), "func return", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFTS5Index_MalformedQueryDegradesToEmpty(t *testing.T) {
	idx, err := NewFTS5Index("", DefaultLexicalConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	require.NoError(t, idx.Index(context.Background(), []*Chunk{
		lexChunk("1", "some ordinary content"),
	}))

	// FTS5 operators and unbalanced quotes must not surface as errors
	for _, q := range []string{`"unbalanced`, "AND OR NOT", "(((", "col:foo"} {
		results, err := idx.Search(context.Background(), q, 10)
		require.NoError(t, err, "query %q", q)
		assert.Empty(t, results)
	}
}

func TestFTS5Index_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexical.db")

	idx, err := NewFTS5Index(path, DefaultLexicalConfig())
	require.NoError(t, err)
	require.NoError(t, idx.Index(context.Background(), []*Chunk{
		lexChunk("1", "persistent searchable content"),
	}))
	require.NoError(t, idx.Save())
	require.NoError(t, idx.Close())

	idx2, err := NewFTS5Index(path, DefaultLexicalConfig())
	require.NoError(t, err)
	defer func() { _ = idx2.Close() }()

	results, err := idx2.Search(context.Background(), "persistent", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1", results[0].ChunkID)
}

func TestFTS5Index_CorruptFileIsQuarantined(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexical.db")
	require.NoError(t, os.WriteFile(path, []byte("garbage bytes, not sqlite"), 0o644))

	idx, err := NewFTS5Index(path, DefaultLexicalConfig())
	require.NoError(t, err, "corrupt index is cleared and recreated")
	defer func() { _ = idx.Close() }()

	assert.Equal(t, 0, idx.Stats().DocumentCount)
}

func TestFTS5Index_ClosedIndexErrors(t *testing.T) {
	idx, err := NewFTS5Index("", DefaultLexicalConfig())
	require.NoError(t, err)
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close(), "close is idempotent")

	err = idx.Index(context.Background(), []*Chunk{lexChunk("1", "late")})
	assert.Error(t, err)

	_, err = idx.Search(context.Background(), "late", 10)
	assert.Error(t, err)
}
