// Package score implements token-level late-interaction relevance
// scoring. A query and a document each carry one vector per token; the
// MaxSim score is the mean over query tokens of the best dot product
// against any document token. Pairwise and batched evaluation share one
// kernel so their results match bit for bit.
package score

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmptyQueryVectors rejects scoring with no query tokens.
	ErrEmptyQueryVectors = errors.New("query has no token vectors")

	// ErrEmptyDocVectors rejects scoring against no document tokens.
	ErrEmptyDocVectors = errors.New("document has no token vectors")
)

// ErrDimensionMismatch reports vectors of unequal width in one scoring call.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

var negInf = float32(math.Inf(-1))

// docRows presents a document's token vectors to the kernel in either
// layout: a slice of rows (pairwise path) or a flat padded buffer with a
// validity mask (batch path). One kernel over one accessor keeps the two
// paths bitwise identical.
type docRows struct {
	rows [][]float32
	flat []float32
	mask []bool
	n    int
	dim  int
}

func (d *docRows) at(r int) []float32 {
	if d.rows != nil {
		return d.rows[r]
	}
	return d.flat[r*d.dim : (r+1)*d.dim]
}

func (d *docRows) valid(r int) bool {
	if d.mask == nil {
		return true
	}
	return d.mask[r]
}

// dot is the shared float32 dot product. Iteration order is fixed; every
// score in the package flows through this one function.
func dot(a, b []float32) float32 {
	var acc float32
	for i := range a {
		acc += a[i] * b[i]
	}
	return acc
}

// kernel computes the MaxSim score of query against one document. For
// each query vector: the maximum dot product over document rows, with
// invalid (padding) rows scored negative infinity. The maxima are summed
// in query order and divided by the query vector count.
func kernel(query [][]float32, doc *docRows) float32 {
	var sum float32
	for _, q := range query {
		best := negInf
		for r := 0; r < doc.n; r++ {
			d := negInf
			if doc.valid(r) {
				d = dot(q, doc.at(r))
			}
			if d > best {
				best = d
			}
		}
		sum += best
	}
	return sum / float32(len(query))
}

// validateMatrix checks that every row has the expected width. A zero
// expected width adopts the first row's width and returns it.
func validateMatrix(m [][]float32, dim int) (int, error) {
	for _, row := range m {
		if dim == 0 {
			dim = len(row)
		}
		if len(row) == 0 {
			return 0, ErrDimensionMismatch{Expected: dim, Got: 0}
		}
		if len(row) != dim {
			return 0, ErrDimensionMismatch{Expected: dim, Got: len(row)}
		}
	}
	return dim, nil
}

// ScorePair computes the MaxSim score of one query against one document.
func ScorePair(query, doc [][]float32) (float32, error) {
	if len(query) == 0 {
		return 0, ErrEmptyQueryVectors
	}
	if len(doc) == 0 {
		return 0, ErrEmptyDocVectors
	}

	dim, err := validateMatrix(query, 0)
	if err != nil {
		return 0, err
	}
	if _, err := validateMatrix(doc, dim); err != nil {
		return 0, err
	}

	return kernel(query, &docRows{rows: doc, n: len(doc)}), nil
}
