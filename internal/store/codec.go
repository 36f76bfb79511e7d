package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Embedding matrices are stored as packed little-endian float32 rows with
// no header: the row count falls out of the blob length and the index
// dimension, which the store pins once per database.

// EncodeMatrix packs a token embedding matrix into a blob. All rows must
// share one width.
func EncodeMatrix(matrix [][]float32) ([]byte, error) {
	if len(matrix) == 0 {
		return nil, fmt.Errorf("cannot encode empty matrix")
	}
	dim := len(matrix[0])
	if dim == 0 {
		return nil, fmt.Errorf("cannot encode zero-width vectors")
	}

	buf := make([]byte, 0, len(matrix)*dim*4)
	for i, row := range matrix {
		if len(row) != dim {
			return nil, fmt.Errorf("ragged matrix: row %d has %d values, want %d", i, len(row), dim)
		}
		for _, v := range row {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}
	return buf, nil
}

// DecodeMatrix unpacks a blob produced by EncodeMatrix. dim must be the
// width the blob was encoded with.
func DecodeMatrix(blob []byte, dim int) ([][]float32, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dim)
	}
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d: not a multiple of 4", len(blob))
	}
	values := len(blob) / 4
	if values%dim != 0 {
		return nil, fmt.Errorf("invalid embedding blob: %d values do not divide into rows of %d", values, dim)
	}

	rows := values / dim
	matrix := make([][]float32, rows)
	flat := make([]float32, values)
	for i := range flat {
		flat[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	for r := 0; r < rows; r++ {
		matrix[r] = flat[r*dim : (r+1)*dim : (r+1)*dim]
	}
	return matrix, nil
}

// EncodeVector packs a single vector.
func EncodeVector(vec []float32) ([]byte, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("cannot encode empty vector")
	}
	return EncodeMatrix([][]float32{vec})
}

// DecodeVector unpacks a single vector of the given width.
func DecodeVector(blob []byte, dim int) ([]float32, error) {
	matrix, err := DecodeMatrix(blob, dim)
	if err != nil {
		return nil, err
	}
	if len(matrix) != 1 {
		return nil, fmt.Errorf("expected a single vector, got %d rows", len(matrix))
	}
	return matrix[0], nil
}
