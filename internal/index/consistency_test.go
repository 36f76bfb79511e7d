package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/quarrysearch/quarry/internal/errors"
)

func TestConsistencyClean(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "a.go", sampleGo)
	ctx := context.Background()

	_, err := env.indexer.IndexFile(ctx, "a.go")
	require.NoError(t, err)

	report, err := CheckConsistency(ctx, env.store, env.lexical)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, report.StoreChunks, report.LexicalChunks)
	assert.Positive(t, report.StoreChunks)
}

func TestConsistencyRepairsMissingLexicalEntries(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "a.go", sampleGo)
	ctx := context.Background()

	_, err := env.indexer.IndexFile(ctx, "a.go")
	require.NoError(t, err)

	// Simulate a crash between the store commit and the mirror.
	ids, err := env.store.ChunkIDsForPath(ctx, "a.go")
	require.NoError(t, err)
	require.NoError(t, env.lexical.Delete(ctx, ids))

	report, err := CheckConsistency(ctx, env.store, env.lexical)
	require.NoError(t, err)
	assert.False(t, report.Consistent())
	assert.ElementsMatch(t, ids, report.MissingFromLexical)

	_, err = RepairConsistency(ctx, env.store, env.lexical, nil)
	require.NoError(t, err)

	after, err := CheckConsistency(ctx, env.store, env.lexical)
	require.NoError(t, err)
	assert.True(t, after.Consistent())

	hits, err := env.lexical.Search(ctx, "lookup", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestConsistencyRepairsOrphans(t *testing.T) {
	env := newTestEnv(t)
	env.writeFile(t, "a.go", sampleGo)
	ctx := context.Background()

	_, err := env.indexer.IndexFile(ctx, "a.go")
	require.NoError(t, err)

	// Tombstone the document in the store only, leaving the lexical
	// entries behind.
	require.NoError(t, env.store.Delete(ctx, "a.go"))

	report, err := RepairConsistency(ctx, env.store, env.lexical, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, report.OrphanedInLexical)

	lexIDs, err := env.lexical.AllIDs()
	require.NoError(t, err)
	assert.Empty(t, lexIDs)
}

func TestProjectLockExclusive(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireProjectLock(dir)
	require.NoError(t, err)

	_, err = AcquireProjectLock(dir)
	require.Error(t, err)
	assert.Equal(t, qerrors.ErrCodeIndexBusy, qerrors.GetCode(err))

	require.NoError(t, lock.Release())

	lock2, err := AcquireProjectLock(dir)
	require.NoError(t, err)
	require.NoError(t, lock2.Release())
	// Release is idempotent.
	assert.NoError(t, lock2.Release())
}
