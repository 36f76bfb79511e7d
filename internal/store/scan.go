package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// defaultScanBatch is the keyset page size for ScanAll.
const defaultScanBatch = 256

// ChunkIterator walks every live chunk in ID order, loading one batch at
// a time. File-backed stores pin a WAL read snapshot for the iterator's
// lifetime, so a scan observes either the pre-write or post-write chunk
// set of any concurrent Put, never a mix. Abandoning an iterator and
// calling ScanAll again starts a fresh scan over the current state.
type ChunkIterator struct {
	ctx     context.Context
	tx      *sql.Tx
	querier interface {
		QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	}
	dim   int
	batch []*Chunk
	idx   int
	after string
	limit int
	done  bool
	err   error
	close func()
}

// ScanAll returns an iterator over all live chunks and their vectors.
// The caller must Close it.
func (s *SQLiteStore) ScanAll(ctx context.Context) (*ChunkIterator, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("store is closed")
	}
	dim := s.dim
	shared := s.reader == s.writer
	s.mu.RUnlock()

	it := &ChunkIterator{
		ctx:   ctx,
		dim:   dim,
		limit: defaultScanBatch,
		idx:   -1,
	}

	if shared {
		// In-memory stores share one connection between reads and
		// writes. Holding a transaction open across batches would
		// starve writers, so scan without snapshot isolation there.
		it.querier = s.reader
		it.close = func() {}
		return it, nil
	}

	tx, err := s.reader.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin scan transaction: %w", err)
	}
	it.tx = tx
	it.querier = tx
	it.close = func() { _ = tx.Rollback() }
	return it, nil
}

// Next advances to the next chunk. It returns false when the scan is
// exhausted or failed; check Err afterwards.
func (it *ChunkIterator) Next() bool {
	if it.err != nil || it.done {
		return false
	}
	it.idx++
	if it.idx < len(it.batch) {
		return true
	}
	if err := it.fetch(); err != nil {
		it.err = err
		return false
	}
	if len(it.batch) == 0 {
		it.done = true
		return false
	}
	it.idx = 0
	return true
}

// Chunk returns the current chunk. Valid only after Next returned true.
func (it *ChunkIterator) Chunk() *Chunk {
	if it.idx < 0 || it.idx >= len(it.batch) {
		return nil
	}
	return it.batch[it.idx]
}

// Err returns the first error encountered during the scan.
func (it *ChunkIterator) Err() error {
	return it.err
}

// Close releases the scan's snapshot. Safe to call multiple times.
func (it *ChunkIterator) Close() error {
	if it.close != nil {
		it.close()
		it.close = nil
	}
	it.done = true
	return nil
}

func (it *ChunkIterator) fetch() error {
	rows, err := it.querier.QueryContext(it.ctx, `
		SELECT c.id, c.document_id, c.path, c.seq, c.content,
		       c.start_line, c.end_line, c.start_byte, c.end_byte,
		       c.content_type, c.language, c.generation, c.created_at,
		       e.vectors
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		LEFT JOIN embeddings e ON e.chunk_id = c.id
		WHERE c.id > ? AND d.deleted_at IS NULL AND c.generation = d.chunk_gen
		ORDER BY c.id
		LIMIT ?`, it.after, it.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch scan batch: %w", err)
	}
	defer func() { _ = rows.Close() }()

	it.batch = it.batch[:0]
	for rows.Next() {
		c, err := scanChunkRow(rows, it.dim)
		if err != nil {
			return err
		}
		it.batch = append(it.batch, c)
		it.after = c.ID
	}
	return rows.Err()
}

func scanChunkRow(rows *sql.Rows, dim int) (*Chunk, error) {
	var c Chunk
	var contentType string
	var createdAt int64
	var blob []byte
	err := rows.Scan(&c.ID, &c.DocumentID, &c.Path, &c.Seq, &c.Content,
		&c.StartLine, &c.EndLine, &c.StartByte, &c.EndByte,
		&contentType, &c.Language, &c.Generation, &createdAt, &blob)
	if err != nil {
		return nil, fmt.Errorf("failed to scan chunk row: %w", err)
	}
	c.ContentType = ContentType(contentType)
	c.CreatedAt = time.Unix(0, createdAt)

	if len(blob) > 0 {
		if dim <= 0 {
			return nil, fmt.Errorf("chunk %s has vectors but no dimensions pinned", c.ID)
		}
		c.Vectors, err = DecodeMatrix(blob, dim)
		if err != nil {
			return nil, fmt.Errorf("failed to decode vectors for chunk %s: %w", c.ID, err)
		}
	}
	return &c, nil
}
