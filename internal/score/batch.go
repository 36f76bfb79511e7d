package score

// Batch lays documents out as one flat float32 buffer of
// docs × maxTokens × dim, padded to the longest document, with a per-row
// validity mask. The layout trades memory for locality when one query is
// scored against many documents.
type Batch struct {
	flat      []float32
	mask      []bool
	counts    []int
	dim       int
	maxTokens int
}

// NewBatch packs documents for batched scoring. Every document needs at
// least one token vector and all vectors must share one width.
func NewBatch(docs [][][]float32) (*Batch, error) {
	b := &Batch{}
	if len(docs) == 0 {
		return b, nil
	}

	dim := 0
	maxTokens := 0
	for _, doc := range docs {
		if len(doc) == 0 {
			return nil, ErrEmptyDocVectors
		}
		var err error
		if dim, err = validateMatrix(doc, dim); err != nil {
			return nil, err
		}
		if len(doc) > maxTokens {
			maxTokens = len(doc)
		}
	}

	b.dim = dim
	b.maxTokens = maxTokens
	b.counts = make([]int, len(docs))
	b.flat = make([]float32, len(docs)*maxTokens*dim)
	b.mask = make([]bool, len(docs)*maxTokens)

	for i, doc := range docs {
		b.counts[i] = len(doc)
		rowBase := i * maxTokens
		for r, vec := range doc {
			copy(b.flat[(rowBase+r)*dim:], vec)
			b.mask[rowBase+r] = true
		}
	}
	return b, nil
}

// Len returns the number of documents in the batch.
func (b *Batch) Len() int {
	return len(b.counts)
}

// TokenCount returns the token count of document i.
func (b *Batch) TokenCount(i int) int {
	return b.counts[i]
}

// Score evaluates the query against every document and returns one score
// per document, in batch order. The results are bitwise identical to
// calling ScorePair per document.
func (b *Batch) Score(query [][]float32) ([]float32, error) {
	if len(query) == 0 {
		return nil, ErrEmptyQueryVectors
	}
	qdim, err := validateMatrix(query, 0)
	if err != nil {
		return nil, err
	}
	if b.Len() == 0 {
		return []float32{}, nil
	}
	if qdim != b.dim {
		return nil, ErrDimensionMismatch{Expected: b.dim, Got: qdim}
	}

	scores := make([]float32, b.Len())
	rowsPerDoc := b.maxTokens
	for i := range scores {
		doc := docRows{
			flat: b.flat[i*rowsPerDoc*b.dim : (i+1)*rowsPerDoc*b.dim],
			mask: b.mask[i*rowsPerDoc : (i+1)*rowsPerDoc],
			n:    rowsPerDoc,
			dim:  b.dim,
		}
		scores[i] = kernel(query, &doc)
	}
	return scores, nil
}

// ScoreBatch packs docs into a Batch and scores them in one call.
func ScoreBatch(query [][]float32, docs [][][]float32) ([]float32, error) {
	b, err := NewBatch(docs)
	if err != nil {
		return nil, err
	}
	return b.Score(query)
}
