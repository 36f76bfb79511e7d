package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/viant/vec/search"

	"github.com/quarrysearch/quarry/internal/store"
)

// StaticTokenEmbedder generates token embeddings with a hash-based scheme.
// Works without external dependencies (no network, no model download),
// deterministic across runs and platforms. Semantic quality is limited to
// surface-form similarity: identical canonical tokens embed identically,
// tokens sharing character trigrams land near each other.
type StaticTokenEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

var _ TokenEmbedder = (*StaticTokenEmbedder)(nil)

// Component weights for vector generation
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// irregularForms maps irregular surface forms to a base form before
// hashing, so "sat" and "sit" produce the same vector.
var irregularForms = map[string]string{
	"sat": "sit", "ran": "run", "went": "go", "gone": "go",
	"wrote": "write", "written": "write", "made": "make",
	"took": "take", "taken": "take", "got": "get", "gotten": "get",
	"found": "find", "built": "build", "sent": "send",
	"read": "read", "held": "hold", "kept": "keep", "left": "leave",
	"was": "be", "were": "be", "is": "be", "are": "be", "been": "be",
	"did": "do", "does": "do", "done": "do",
	"had": "have", "has": "have",
	"threw": "throw", "thrown": "throw", "caught": "catch",
	"broke": "break", "broken": "break", "chose": "choose",
	"gave": "give", "given": "give", "saw": "see", "seen": "see",
}

// synonymClasses collapses common synonym groups onto one representative
// so related words embed identically. Small on purpose: the static
// embedder is the offline/test profile, not a real model.
var synonymClasses = map[string]string{
	"feline": "cat", "kitten": "cat",
	"canine": "dog", "puppy": "dog",
	"vehicle": "car", "automobile": "car",
	"error": "err", "mistake": "err", "fault": "err", "bug": "err",
	"delete": "remove", "erase": "remove", "drop": "remove",
	"fetch": "get", "retrieve": "get", "lookup": "get",
	"create": "make", "construct": "make", "build": "make",
	"begin": "start", "init": "start", "initialize": "start",
	"stop": "end", "finish": "end", "terminate": "end",
	"folder": "directory", "dir": "directory",
	"method": "function", "func": "function", "fn": "function",
}

// suffixes stripped during canonicalization, longest first.
var canonicalSuffixes = []string{"ing", "ers", "ies", "ed", "er", "es", "s"}

// staticStopWords filters programming keywords, same list the lexical
// backends use.
var staticStopWords = store.BuildStopWordMap(store.DefaultCodeStopWords)

// NewStaticTokenEmbedder creates a new static embedder.
func NewStaticTokenEmbedder() *StaticTokenEmbedder {
	return &StaticTokenEmbedder{}
}

// canonicalToken reduces a token to the form that gets hashed: lowercase,
// irregular-form mapping, suffix stripping, then synonym collapse.
func canonicalToken(token string) string {
	t := strings.ToLower(token)

	if base, ok := irregularForms[t]; ok {
		t = base
	} else {
		for _, suffix := range canonicalSuffixes {
			if strings.HasSuffix(t, suffix) && len(t)-len(suffix) >= 3 {
				t = t[:len(t)-len(suffix)]
				break
			}
		}
	}

	if rep, ok := synonymClasses[t]; ok {
		t = rep
	}
	return t
}

// tokenVector builds one deterministic vector for a token: the canonical
// token contributes a strong component, its character trigrams contribute
// weaker ones so near-identical spellings stay nearby.
func tokenVector(token string) []float32 {
	canonical := canonicalToken(token)

	vector := make([]float32, StaticDimensions)
	vector[hashToIndex(canonical, StaticDimensions)] += tokenWeight

	for _, ngram := range extractNgrams(canonical, ngramSize) {
		vector[hashToIndex(ngram, StaticDimensions)] += ngramWeight
	}

	normalizeInPlace(vector)
	return vector
}

// normalizeInPlace scales the vector to unit length. Zero vectors are
// left unchanged.
func normalizeInPlace(v []float32) {
	magnitude := search.Float32s(v).Magnitude()
	if magnitude == 0 {
		return
	}
	inv := 1 / magnitude
	for i := range v {
		v[i] *= inv
	}
}

// extractNgrams extracts n-character sliding windows.
func extractNgrams(text string, n int) []string {
	if len(text) < n {
		return []string{}
	}
	ngrams := make([]string, 0, len(text)-n+1)
	for i := 0; i <= len(text)-n; i++ {
		ngrams = append(ngrams, text[i:i+n])
	}
	return ngrams
}

// hashToIndex uses FNV-64 to map a string to a vector index.
func hashToIndex(s string, size int) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// embedTokens tokenizes text and embeds each token. If stop-word
// filtering would leave nothing, the unfiltered tokens are used so any
// text with alphanumeric content produces a non-empty matrix.
func (e *StaticTokenEmbedder) embedTokens(text string) *TokenMatrix {
	tokens := store.TokenizeCode(text)
	filtered := store.FilterStopWords(tokens, staticStopWords)
	if len(filtered) > 0 {
		tokens = filtered
	}

	matrix := &TokenMatrix{
		Tokens:  tokens,
		Vectors: make([][]float32, len(tokens)),
	}
	for i, token := range tokens {
		matrix.Vectors[i] = tokenVector(token)
	}
	return matrix
}

// EmbedTokens embeds a single text into one vector per token. Texts with
// no alphanumeric content produce an empty matrix, not an error.
func (e *StaticTokenEmbedder) EmbedTokens(ctx context.Context, text string) (*TokenMatrix, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	return e.embedTokens(text), nil
}

// EmbedTokensBatch embeds multiple texts.
func (e *StaticTokenEmbedder) EmbedTokensBatch(ctx context.Context, texts []string) ([]*TokenMatrix, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	results := make([]*TokenMatrix, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		results[i] = e.embedTokens(text)
	}
	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *StaticTokenEmbedder) Dimensions() int {
	return StaticDimensions
}

// ModelTag returns the model identifier.
func (e *StaticTokenEmbedder) ModelTag() string {
	return StaticModelTag
}

// Available checks if the embedder is ready (always true until closed).
func (e *StaticTokenEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *StaticTokenEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
