package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyShapes(t *testing.T) {
	c, err := NewClassifier()
	require.NoError(t, err)

	cases := []struct {
		query string
		want  QueryShape
	}{
		{"ERR_203_CORRUPT", ShapeLexical},
		{"E0042", ShapeLexical},
		{"NullPointerException", ShapeLexical},
		{`"exact phrase"`, ShapeLexical},
		{"internal/store/sqlite.go", ShapeLexical},
		{"maxSimScore", ShapeLexical},
		{"ChunkStore", ShapeLexical},
		{"chunk_store", ShapeLexical},
		{"MAX_RESULTS", ShapeLexical},
		{"how does the watcher debounce events", ShapeSemantic},
		{"explain generation flip", ShapeSemantic},
		{"token embedding cache eviction", ShapeSemantic},
		{"cache eviction", ShapeMixed},
		{"sqlite", ShapeMixed},
		{"", ShapeMixed},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, c.Classify(tc.query), "query %q", tc.query)
	}
}

func TestClassifyCached(t *testing.T) {
	c, err := NewClassifier()
	require.NoError(t, err)

	first := c.Classify("how does indexing work")
	second := c.Classify("how does indexing work")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, c.cache.Len())
}

func TestWeightsForShape(t *testing.T) {
	assert.Greater(t, WeightsForShape(ShapeLexical).Lexical,
		WeightsForShape(ShapeLexical).Semantic)
	assert.Greater(t, WeightsForShape(ShapeSemantic).Semantic,
		WeightsForShape(ShapeSemantic).Lexical)
	assert.Equal(t, DefaultWeights(), WeightsForShape(ShapeMixed))

	for _, shape := range []QueryShape{ShapeMixed, ShapeLexical, ShapeSemantic} {
		w := WeightsForShape(shape)
		assert.InDelta(t, 1.0, w.Semantic+w.Lexical, 1e-9)
	}
}
