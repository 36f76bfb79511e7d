package telemetry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketFor(t *testing.T) {
	tests := []struct {
		latency time.Duration
		want    LatencyBucket
	}{
		{5 * time.Millisecond, BucketUnder10ms},
		{10 * time.Millisecond, BucketUnder50ms},
		{49 * time.Millisecond, BucketUnder50ms},
		{80 * time.Millisecond, BucketUnder100ms},
		{300 * time.Millisecond, BucketUnder500ms},
		{2 * time.Second, BucketSlow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BucketFor(tt.latency), tt.latency.String())
	}
}

func TestExtractTerms(t *testing.T) {
	terms := ExtractTerms("How is the ConnectionPool configured?")
	assert.Equal(t, []string{"connectionpool", "configured"}, terms)

	assert.Empty(t, ExtractTerms("a of in"))
	assert.Equal(t, []string{"retry_config"}, ExtractTerms("retry_config"))
}

func TestMetricsInMemory(t *testing.T) {
	m := NewMetrics(nil)
	defer m.Close()

	m.Record(QueryEvent{Query: "cache eviction policy", Shape: "semantic", ResultCount: 3, Latency: 12 * time.Millisecond})
	m.Record(QueryEvent{Query: "handleRetry", Shape: "lexical", ResultCount: 0, Latency: 4 * time.Millisecond})

	snap := m.Snapshot()
	assert.EqualValues(t, 2, snap.TotalQueries)
	assert.EqualValues(t, 1, snap.ZeroResultQueries)
	assert.InDelta(t, 0.5, snap.ZeroResultRate(), 1e-9)
	assert.EqualValues(t, 1, snap.ShapeCounts["semantic"])
	assert.EqualValues(t, 1, snap.ShapeCounts["lexical"])
	assert.EqualValues(t, 1, snap.LatencyCounts[BucketUnder50ms])
	assert.EqualValues(t, 1, snap.LatencyCounts[BucketUnder10ms])
	assert.Equal(t, []string{"handleRetry"}, snap.RecentZeroResult)
	assert.NotEmpty(t, snap.TopTerms)

	// In-memory flush is a no-op.
	assert.NoError(t, m.Flush())
}

func TestMetricsFlushPersists(t *testing.T) {
	store, err := OpenSQLiteMetricsStore(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	defer store.Close()

	m := NewMetrics(store)
	m.Record(QueryEvent{Query: "token bucket limiter", Shape: "semantic", ResultCount: 2, Latency: 30 * time.Millisecond})
	m.Record(QueryEvent{Query: "token bucket limiter", Shape: "semantic", ResultCount: 2, Latency: 40 * time.Millisecond})
	m.Record(QueryEvent{Query: "nonexistent thing", Shape: "mixed", ResultCount: 0, Latency: 8 * time.Millisecond})
	require.NoError(t, m.Close())

	today := time.Now().UTC().Format("2006-01-02")
	shapes, err := store.ShapeCounts(today, today)
	require.NoError(t, err)
	assert.EqualValues(t, 2, shapes["semantic"])
	assert.EqualValues(t, 1, shapes["mixed"])

	latencies, err := store.LatencyCounts(today, today)
	require.NoError(t, err)
	assert.EqualValues(t, 2, latencies[BucketUnder50ms])
	assert.EqualValues(t, 1, latencies[BucketUnder10ms])

	top, err := store.TopTerms(5)
	require.NoError(t, err)
	require.NotEmpty(t, top)
	assert.Equal(t, "bucket", top[0].Term)
	assert.EqualValues(t, 2, top[0].Count)

	zero, err := store.ZeroResultQueries(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"nonexistent thing"}, zero)
}

func TestStoreAccumulatesAcrossFlushes(t *testing.T) {
	store, err := OpenSQLiteMetricsStore(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveShapeCounts("2026-08-30", map[string]int64{"lexical": 3}))
	require.NoError(t, store.SaveShapeCounts("2026-08-30", map[string]int64{"lexical": 2}))

	counts, err := store.ShapeCounts("2026-08-01", "2026-08-31")
	require.NoError(t, err)
	assert.EqualValues(t, 5, counts["lexical"])
}

func TestZeroResultQueriesTrimmed(t *testing.T) {
	store, err := OpenSQLiteMetricsStore(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < zeroResultRows+20; i++ {
		require.NoError(t, store.AddZeroResultQuery("query", time.Now()))
	}
	all, err := store.ZeroResultQueries(zeroResultRows * 2)
	require.NoError(t, err)
	assert.Len(t, all, zeroResultRows)
}
