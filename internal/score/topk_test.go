package score

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceIterator struct {
	items []shardItem
	pos   int
	err   error
}

func (s *sliceIterator) Next() bool {
	if s.pos < len(s.items) {
		s.pos++
		return true
	}
	return false
}

func (s *sliceIterator) Item() (string, [][]float32) {
	item := s.items[s.pos-1]
	return item.id, item.vectors
}

func (s *sliceIterator) Err() error { return s.err }

func axisDoc(x, y float32) [][]float32 {
	return [][]float32{{x, y}}
}

func TestTopKReturnsBestDescending(t *testing.T) {
	it := &sliceIterator{items: []shardItem{
		{id: "low", vectors: axisDoc(0.1, 0)},
		{id: "high", vectors: axisDoc(0.9, 0)},
		{id: "mid", vectors: axisDoc(0.5, 0)},
	}}

	got, err := TopK(context.Background(), [][]float32{{1, 0}}, it, 2, TopKConfig{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "high", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)
	assert.Greater(t, got[0].Score, got[1].Score)
}

func TestTopKTieBreaksByIDAscending(t *testing.T) {
	it := &sliceIterator{items: []shardItem{
		{id: "charlie", vectors: axisDoc(0.5, 0)},
		{id: "alpha", vectors: axisDoc(0.5, 0)},
		{id: "bravo", vectors: axisDoc(0.5, 0)},
	}}

	got, err := TopK(context.Background(), [][]float32{{1, 0}}, it, 2, TopKConfig{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "alpha", got[0].ID)
	assert.Equal(t, "bravo", got[1].ID)
}

// Concurrency must not leak into the result: repeated runs over the
// same items return the same candidates in the same order.
func TestTopKDeterministicAcrossRuns(t *testing.T) {
	items := make([]shardItem, 0, 40)
	for i := 0; i < 40; i++ {
		// Collisions on every fourth score exercise the tie-break
		items = append(items, shardItem{
			id:      fmt.Sprintf("chunk-%02d", i),
			vectors: axisDoc(float32(i%4)*0.25, 0),
		})
	}

	var first []Candidate
	for run := 0; run < 5; run++ {
		it := &sliceIterator{items: items}
		got, err := TopK(context.Background(), [][]float32{{1, 0}}, it, 10, TopKConfig{
			Workers:   4,
			ShardSize: 3,
		})
		require.NoError(t, err)
		require.Len(t, got, 10)
		if run == 0 {
			first = got
			continue
		}
		assert.Equal(t, first, got, "run %d diverged", run)
	}
}

func TestTopKFewerItemsThanK(t *testing.T) {
	it := &sliceIterator{items: []shardItem{
		{id: "only", vectors: axisDoc(1, 0)},
	}}

	got, err := TopK(context.Background(), [][]float32{{1, 0}}, it, 10, TopKConfig{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "only", got[0].ID)
}

func TestTopKEmptyIterator(t *testing.T) {
	got, err := TopK(context.Background(), [][]float32{{1, 0}}, &sliceIterator{}, 5, TopKConfig{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTopKZeroK(t *testing.T) {
	it := &sliceIterator{items: []shardItem{{id: "a", vectors: axisDoc(1, 0)}}}
	got, err := TopK(context.Background(), [][]float32{{1, 0}}, it, 0, TopKConfig{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTopKSkipsItemsWithoutVectors(t *testing.T) {
	it := &sliceIterator{items: []shardItem{
		{id: "no-vectors", vectors: nil},
		{id: "scored", vectors: axisDoc(0.5, 0)},
	}}

	got, err := TopK(context.Background(), [][]float32{{1, 0}}, it, 5, TopKConfig{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "scored", got[0].ID)
}

func TestTopKFailsOnDimensionMismatch(t *testing.T) {
	it := &sliceIterator{items: []shardItem{
		{id: "good", vectors: axisDoc(0.5, 0)},
		{id: "bad", vectors: [][]float32{{0.5, 0, 0}}},
	}}

	_, err := TopK(context.Background(), [][]float32{{1, 0}}, it, 5, TopKConfig{})
	var dimErr ErrDimensionMismatch
	assert.ErrorAs(t, err, &dimErr)
}

func TestTopKPropagatesIteratorError(t *testing.T) {
	it := &sliceIterator{
		items: []shardItem{{id: "a", vectors: axisDoc(1, 0)}},
		err:   fmt.Errorf("disk went away"),
	}

	_, err := TopK(context.Background(), [][]float32{{1, 0}}, it, 5, TopKConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk went away")
}

func TestTopKHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := make([]shardItem, 0, 8)
	for i := 0; i < 8; i++ {
		items = append(items, shardItem{
			id:      fmt.Sprintf("c%d", i),
			vectors: axisDoc(1, 0),
		})
	}

	_, err := TopK(ctx, [][]float32{{1, 0}}, &sliceIterator{items: items}, 5, TopKConfig{
		ShardSize: 1,
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTopKValidatesQuery(t *testing.T) {
	_, err := TopK(context.Background(), nil, &sliceIterator{}, 5, TopKConfig{})
	assert.ErrorIs(t, err, ErrEmptyQueryVectors)
}
