package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrysearch/quarry/internal/score"
	"github.com/quarrysearch/quarry/internal/store"
)

func sem(ids ...string) []score.Candidate {
	out := make([]score.Candidate, len(ids))
	for i, id := range ids {
		out[i] = score.Candidate{ID: id, Score: float32(len(ids) - i)}
	}
	return out
}

func lex(ids ...string) []*store.LexicalResult {
	out := make([]*store.LexicalResult, len(ids))
	for i, id := range ids {
		out[i] = &store.LexicalResult{ChunkID: id, Score: float64(len(ids) - i)}
	}
	return out
}

func TestFuseEmpty(t *testing.T) {
	f := NewFuser(0)
	out := f.Fuse(nil, nil, DefaultWeights())
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestFuseInBothWins(t *testing.T) {
	f := NewFuser(0)
	// "b" appears in both lists, "a" and "c" in one each.
	out := f.Fuse(sem("a", "b"), lex("b", "c"), DefaultWeights())
	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].ChunkID)
	assert.True(t, out[0].InBoth)
}

func TestFuseNormalized(t *testing.T) {
	f := NewFuser(0)
	out := f.Fuse(sem("a", "b", "c"), lex("c", "a"), DefaultWeights())
	require.NotEmpty(t, out)
	assert.InDelta(t, 1.0, out[0].FusedScore, 1e-9)
	for _, r := range out {
		assert.LessOrEqual(t, r.FusedScore, 1.0)
		assert.GreaterOrEqual(t, r.FusedScore, 0.0)
	}
}

func TestFusePreservesLegScores(t *testing.T) {
	f := NewFuser(0)
	out := f.Fuse(sem("a"), lex("a"), DefaultWeights())
	require.Len(t, out, 1)
	assert.EqualValues(t, 1, out[0].SemanticScore)
	assert.EqualValues(t, 1, out[0].LexicalScore)
	assert.Equal(t, 1, out[0].SemanticRank)
	assert.Equal(t, 1, out[0].LexicalRank)
}

func TestFuseDeterministicTieBreak(t *testing.T) {
	f := NewFuser(0)
	// Identical positions in a single leg fuse to equal scores; chunk
	// ID must settle the order the same way every time.
	for i := 0; i < 10; i++ {
		out := f.Fuse(nil, lex("z1", "z2"), Weights{Semantic: 0, Lexical: 1})
		require.Len(t, out, 2)
		assert.Equal(t, "z1", out[0].ChunkID)
	}
}

func TestFuseMonotonicity(t *testing.T) {
	f := NewFuser(0)
	// "both" sits at rank 2 in each leg; "semOnly" and "lexOnly" sit
	// at rank 1 of a single leg. Appearing in both lists at comparable
	// positions must not rank below a single-list candidate.
	out := f.Fuse(
		sem("semOnly", "both"),
		lex("lexOnly", "both"),
		DefaultWeights(),
	)
	require.Len(t, out, 3)
	assert.Equal(t, "both", out[0].ChunkID)
}

func TestFuseAbsentLegAddsNothing(t *testing.T) {
	f := NewFuser(0)
	out := f.Fuse(sem("a", "b", "c", "d"), lex("a"), DefaultWeights())
	byID := map[string]*fused{}
	for _, r := range out {
		byID[r.ChunkID] = r
	}
	// "a" leads both lists; everything else collects only its
	// semantic contribution and must trail it.
	assert.Equal(t, "a", out[0].ChunkID)
	assert.Greater(t, byID["a"].FusedScore, byID["b"].FusedScore)
}

func TestFuseInBothBeatsHigherSingleRank(t *testing.T) {
	f := NewFuser(0)
	// semOnly leads the semantic leg outright, but "both" at rank 2 of
	// each leg collects weight from both and must still come first.
	out := f.Fuse(
		sem("semOnly", "both"),
		lex("lexOnly", "both"),
		Weights{Semantic: 0.65, Lexical: 0.35},
	)
	require.Len(t, out, 3)
	assert.Equal(t, "both", out[0].ChunkID)
	assert.Equal(t, "semOnly", out[1].ChunkID)
}

func TestFuserDefaultK(t *testing.T) {
	assert.Equal(t, DefaultRRFConstant, NewFuser(0).K)
	assert.Equal(t, DefaultRRFConstant, NewFuser(-5).K)
	assert.Equal(t, 10, NewFuser(10).K)
}
