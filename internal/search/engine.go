package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/quarrysearch/quarry/internal/chunk"
	"github.com/quarrysearch/quarry/internal/embed"
	qerrors "github.com/quarrysearch/quarry/internal/errors"
	"github.com/quarrysearch/quarry/internal/score"
	"github.com/quarrysearch/quarry/internal/store"
)

const (
	// DefaultLimit is the result count when the caller passes none.
	DefaultLimit = 10
	// MaxLimit caps the result count.
	MaxLimit = 100

	// overscan is how many times the limit each leg retrieves before
	// fusion. Fusion can promote a candidate ranked below the limit
	// in one leg, so both legs fetch deep.
	overscan = 3

	// DefaultMinSemanticScore is the floor below which MaxSim
	// candidates are discarded. TopK always returns the k nearest
	// chunks, however distant; without a floor a gibberish query
	// would surface them as results.
	DefaultMinSemanticScore = 0.15

	snippetLines = 5
	snippetBytes = 512
)

// Engine runs hybrid queries against one project's indexes. Reads go
// to the last-committed snapshot, so searches are safe concurrently
// with index writes.
type Engine struct {
	store     store.ChunkStore
	lexical   store.LexicalIndex
	centroids *store.CentroidIndex // nil disables the prefilter
	embedder  embed.TokenEmbedder
	fuser     *Fuser
	class     *Classifier
	reranker  Reranker
	weights   Weights
	log       *slog.Logger

	// Prefilter activation.
	prefilterThreshold int
	prefilterMultiple  int

	minSemantic float32
}

// EngineConfig wires an Engine.
type EngineConfig struct {
	Store     store.ChunkStore
	Lexical   store.LexicalIndex
	Centroids *store.CentroidIndex
	Embedder  embed.TokenEmbedder
	// RRFConstant is the fusion smoothing parameter, default 60.
	RRFConstant int
	// Weights is the default split when the classifier is overridden
	// per query. Zero value means DefaultWeights.
	Weights Weights
	// Reranker may reorder the fused top-K. Nil means identity.
	Reranker Reranker
	// PrefilterThreshold is the live chunk count above which the
	// centroid prefilter activates. Zero disables it.
	PrefilterThreshold int
	// PrefilterMultiple scales the prefilter candidate set relative
	// to the limit. Zero means 10.
	PrefilterMultiple int
	// MinSemanticScore discards MaxSim candidates scoring below it.
	// Zero means DefaultMinSemanticScore; negative disables the floor.
	MinSemanticScore float64
	Logger           *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil || cfg.Lexical == nil || cfg.Embedder == nil {
		return nil, qerrors.New(qerrors.ErrCodeInternal,
			"store, lexical index and embedder are required", nil)
	}
	class, err := NewClassifier()
	if err != nil {
		return nil, err
	}
	weights := cfg.Weights
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	reranker := cfg.Reranker
	if reranker == nil {
		reranker = IdentityReranker{}
	}
	multiple := cfg.PrefilterMultiple
	if multiple <= 0 {
		multiple = 10
	}
	minSem := cfg.MinSemanticScore
	switch {
	case minSem == 0:
		minSem = DefaultMinSemanticScore
	case minSem < 0:
		minSem = 0
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:              cfg.Store,
		lexical:            cfg.Lexical,
		centroids:          cfg.Centroids,
		embedder:           cfg.Embedder,
		fuser:              NewFuser(cfg.RRFConstant),
		class:              class,
		reranker:           reranker,
		weights:            weights,
		log:                log,
		prefilterThreshold: cfg.PrefilterThreshold,
		prefilterMultiple:  multiple,
		minSemantic:        float32(minSem),
	}, nil
}

// Search runs one hybrid query. An index that has never been built
// returns a typed not-indexed error; an index that is merely empty
// returns an empty slice and no error.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, qerrors.New(qerrors.ErrCodeQueryEmpty, "query must not be empty", nil)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	modelTag, err := e.store.ModelTag(ctx)
	if err != nil {
		return nil, qerrors.StorageError("read index model", err)
	}
	if modelTag == "" {
		return nil, qerrors.New(qerrors.ErrCodeNotIndexed,
			"project has not been indexed", nil).
			WithSuggestion("run 'quarry index' first")
	}
	if !opts.LexicalOnly && modelTag != e.embedder.ModelTag() {
		return nil, qerrors.New(qerrors.ErrCodeModelMismatch,
			"query embedder does not match the index", store.ErrModelMismatch{
				IndexModel: modelTag, Got: e.embedder.ModelTag(),
			}).WithDetail("index_model", modelTag).
			WithDetail("query_model", e.embedder.ModelTag()).
			WithSuggestion("reindex with the current embedding model")
	}

	chunkCount, err := e.store.ChunkCount(ctx)
	if err != nil {
		return nil, qerrors.StorageError("count chunks", err)
	}
	if chunkCount == 0 {
		return []*Result{}, nil
	}

	weights := e.pickWeights(query, opts)
	fetchN := limit * overscan

	var (
		semantic []score.Candidate
		lexical  []*store.LexicalResult
		semErr   error
		lexErr   error
	)
	g, gctx := errgroup.WithContext(ctx)
	if !opts.LexicalOnly {
		g.Go(func() error {
			semantic, semErr = e.semanticLeg(gctx, query, fetchN, chunkCount)
			return nil
		})
	}
	g.Go(func() error {
		lexical, lexErr = e.lexical.Search(gctx, query, fetchN)
		return nil
	})
	_ = g.Wait()

	// One failed leg degrades to the other; both failing is an error.
	if semErr != nil && lexErr != nil {
		return nil, qerrors.New(qerrors.ErrCodeSearchFailed,
			"both search legs failed", errors.Join(semErr, lexErr))
	}
	if semErr != nil {
		e.log.Warn("semantic leg failed, serving lexical only",
			slog.String("error", semErr.Error()))
	}
	if lexErr != nil {
		e.log.Warn("lexical leg failed, serving semantic only",
			slog.String("error", lexErr.Error()))
	}

	ranked := e.fuser.Fuse(semantic, lexical, weights)
	results, err := e.hydrate(ctx, ranked, limit, opts)
	if err != nil {
		return nil, err
	}
	return e.reranker.Rerank(query, results), nil
}

// Shape classifies a query without running it.
func (e *Engine) Shape(query string) QueryShape {
	return e.class.Classify(query)
}

// pickWeights applies, in order: explicit override, engine default
// when it differs from the stock split, classifier heuristic.
func (e *Engine) pickWeights(query string, opts Options) Weights {
	if opts.Weights != nil {
		return *opts.Weights
	}
	if e.weights != DefaultWeights() {
		return e.weights
	}
	return WeightsForShape(e.class.Classify(query))
}

// semanticLeg embeds the query and MaxSim-scores the index, optionally
// narrowed to centroid candidates on large indexes.
func (e *Engine) semanticLeg(ctx context.Context, query string, k, chunkCount int) ([]score.Candidate, error) {
	qm, err := e.embedder.EmbedTokens(ctx, query)
	if err != nil {
		return nil, qerrors.EmbeddingError("embed query", err)
	}
	if qm.Empty() {
		return nil, nil
	}

	it, err := e.store.ScanAll(ctx)
	if err != nil {
		return nil, qerrors.StorageError("scan chunks", err)
	}
	defer it.Close()

	var iter score.Iterator = &storeIterator{it: it}
	if e.prefilterActive(chunkCount) {
		allow, err := e.prefilterCandidates(ctx, qm.Vectors, k)
		if err != nil {
			// Prefilter trouble falls back to the full scan.
			e.log.Warn("centroid prefilter failed, scanning all",
				slog.String("error", err.Error()))
		} else if allow != nil {
			iter = &filteredIterator{inner: iter, allow: allow}
		}
	}

	cands, err := score.TopK(ctx, qm.Vectors, iter, k, score.TopKConfig{})
	if err != nil {
		return nil, err
	}
	// Candidates are descending, so cut at the first below the floor.
	for i, c := range cands {
		if c.Score < e.minSemantic {
			return cands[:i], nil
		}
	}
	return cands, nil
}

func (e *Engine) prefilterActive(chunkCount int) bool {
	return e.centroids != nil &&
		e.prefilterThreshold > 0 &&
		chunkCount > e.prefilterThreshold
}

func (e *Engine) prefilterCandidates(ctx context.Context, queryVecs [][]float32, k int) (map[string]struct{}, error) {
	qc, err := store.Centroid(queryVecs)
	if err != nil {
		return nil, err
	}
	ids, err := e.centroids.Candidates(ctx, qc, k*e.prefilterMultiple)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	allow := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		allow[id] = struct{}{}
	}
	return allow, nil
}

// hydrate turns fused candidates into results, applying post-fusion
// filters and fetching chunk metadata for the survivors.
func (e *Engine) hydrate(ctx context.Context, ranked []*fused, limit int, opts Options) ([]*Result, error) {
	if len(ranked) == 0 {
		return []*Result{}, nil
	}
	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.ChunkID
	}
	chunks, err := e.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, qerrors.StorageError("fetch result chunks", err)
	}

	results := make([]*Result, 0, limit)
	for _, r := range ranked {
		c, ok := chunks[r.ChunkID]
		if !ok {
			// Tombstoned between ranking and hydration.
			continue
		}
		if !matchesFilters(c, opts) {
			continue
		}
		results = append(results, &Result{
			ChunkID:       c.ID,
			Path:          c.Path,
			StartLine:     c.StartLine,
			EndLine:       c.EndLine,
			StartByte:     c.StartByte,
			EndByte:       c.EndByte,
			Language:      c.Language,
			ContentType:   c.ContentType,
			Snippet:       chunk.Snippet(c.Content, snippetLines, snippetBytes),
			Score:         r.FusedScore,
			SemanticScore: r.SemanticScore,
			LexicalScore:  r.LexicalScore,
			SemanticRank:  r.SemanticRank,
			LexicalRank:   r.LexicalRank,
			InBoth:        r.InBoth,
			MatchedTerms:  r.MatchedTerms,
		})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

func matchesFilters(c *store.Chunk, opts Options) bool {
	switch opts.Filter {
	case "", "all":
	case "code":
		if c.ContentType != store.ContentTypeCode {
			return false
		}
	case "docs":
		if c.ContentType == store.ContentTypeCode {
			return false
		}
	}
	if opts.Language != "" && !strings.EqualFold(c.Language, opts.Language) {
		return false
	}
	if len(opts.Scopes) > 0 {
		in := false
		for _, scope := range opts.Scopes {
			scope = strings.TrimSuffix(scope, "/")
			if c.Path == scope || strings.HasPrefix(c.Path, scope+"/") {
				in = true
				break
			}
		}
		if !in {
			return false
		}
	}
	return true
}

// Stats reports the engine's view of its indexes.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	st, err := e.store.Stats(ctx)
	if err != nil {
		return nil, qerrors.StorageError("read store stats", err)
	}
	modelTag, err := e.store.ModelTag(ctx)
	if err != nil {
		return nil, qerrors.StorageError("read index model", err)
	}
	dim, err := e.store.Dimensions(ctx)
	if err != nil {
		return nil, qerrors.StorageError("read index dimensions", err)
	}
	return &Stats{
		ChunkCount:    st.LiveChunks,
		DocumentCount: st.Documents,
		ModelTag:      modelTag,
		Dimensions:    dim,
		Prefiltering:  e.prefilterActive(st.LiveChunks),
	}, nil
}

// storeIterator adapts a store scan to the scoring iterator.
type storeIterator struct {
	it *store.ChunkIterator
}

func (s *storeIterator) Next() bool { return s.it.Next() }

func (s *storeIterator) Item() (string, [][]float32) {
	c := s.it.Chunk()
	if c == nil {
		return "", nil
	}
	return c.ID, c.Vectors
}

func (s *storeIterator) Err() error {
	if err := s.it.Err(); err != nil {
		return fmt.Errorf("chunk scan: %w", err)
	}
	return nil
}

// filteredIterator yields only allow-listed chunks.
type filteredIterator struct {
	inner score.Iterator
	allow map[string]struct{}

	id      string
	vectors [][]float32
}

func (f *filteredIterator) Next() bool {
	for f.inner.Next() {
		id, vectors := f.inner.Item()
		if _, ok := f.allow[id]; ok {
			f.id, f.vectors = id, vectors
			return true
		}
	}
	return false
}

func (f *filteredIterator) Item() (string, [][]float32) { return f.id, f.vectors }

func (f *filteredIterator) Err() error { return f.inner.Err() }
