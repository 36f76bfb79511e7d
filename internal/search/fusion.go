package search

import (
	"sort"

	"github.com/quarrysearch/quarry/internal/score"
	"github.com/quarrysearch/quarry/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter. k=60 is
// the widely used default across search engines.
const DefaultRRFConstant = 60

// fused is one candidate after rank fusion, before hydration.
type fused struct {
	ChunkID       string
	FusedScore    float64
	SemanticScore float64
	SemanticRank  int
	LexicalScore  float64
	LexicalRank   int
	InBoth        bool
	MatchedTerms  []string
}

// Fuser combines the two legs' rankings with Reciprocal Rank Fusion:
//
//	fused(c) = Σ w_i / (k + rank_i)
//
// summed over the lists the candidate appears in. A list it misses
// contributes nothing, so appearing in both lists always beats
// appearing in one at comparable positions: with k=60 the per-rank
// decay is shallow enough that the absent leg's whole weight outweighs
// any plausible rank gap.
type Fuser struct {
	K int
}

// NewFuser creates a Fuser. k <= 0 falls back to the default.
func NewFuser(k int) *Fuser {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &Fuser{K: k}
}

// Fuse merges the semantic and lexical rankings. The result is sorted
// by fused score with a deterministic tie-break chain and normalized
// so the best candidate scores 1.0; the per-leg scores are preserved.
func (f *Fuser) Fuse(semantic []score.Candidate, lexical []*store.LexicalResult, w Weights) []*fused {
	if len(semantic) == 0 && len(lexical) == 0 {
		return []*fused{}
	}

	byID := make(map[string]*fused, len(semantic)+len(lexical))
	get := func(id string) *fused {
		if r, ok := byID[id]; ok {
			return r
		}
		r := &fused{ChunkID: id}
		byID[id] = r
		return r
	}

	for rank, c := range semantic {
		r := get(c.ID)
		r.SemanticScore = float64(c.Score)
		r.SemanticRank = rank + 1
		r.FusedScore += w.Semantic / float64(f.K+rank+1)
	}
	for rank, l := range lexical {
		r := get(l.ChunkID)
		r.LexicalScore = l.Score
		r.LexicalRank = rank + 1
		r.MatchedTerms = l.MatchedTerms
		r.FusedScore += w.Lexical / float64(f.K+rank+1)
		r.InBoth = r.SemanticRank > 0
	}

	out := make([]*fused, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })

	if top := out[0].FusedScore; top > 0 {
		for _, r := range out {
			r.FusedScore /= top
		}
	}
	return out
}

// less orders a before b: fused score desc, then in-both first, then
// lexical score desc (exact-match signal), then chunk ID asc so equal
// inputs always rank identically.
func less(a, b *fused) bool {
	if a.FusedScore != b.FusedScore {
		return a.FusedScore > b.FusedScore
	}
	if a.InBoth != b.InBoth {
		return a.InBoth
	}
	if a.LexicalScore != b.LexicalScore {
		return a.LexicalScore > b.LexicalScore
	}
	return a.ChunkID < b.ChunkID
}
