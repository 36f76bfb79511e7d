package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteStore implements ChunkStore on a single SQLite database in WAL
// mode. One writer connection serializes mutations; a small reader pool
// serves snapshot scans while writes are in flight.
type SQLiteStore struct {
	mu     sync.RWMutex
	writer *sql.DB
	reader *sql.DB
	path   string
	closed bool

	modelTag string
	dim      int

	writes atomic.Int64
	logger *slog.Logger
}

// Verify interface implementation at compile time
var _ ChunkStore = (*SQLiteStore)(nil)

// StoreConfig configures a SQLiteStore.
type StoreConfig struct {
	// CacheSizeMB is the per-connection page cache size.
	CacheSizeMB int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// validateIntegrity runs PRAGMA integrity_check on an existing database
// before it is opened for use. A missing file is fine.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// buildDSN assembles a modernc.org/sqlite DSN with per-connection pragmas.
// journal_mode is a database property but harmless to request per
// connection; busy_timeout, synchronous and cache_size are per-connection
// and must ride on the DSN so every pooled connection gets them.
func buildDSN(path string, cacheKB int, immediate bool) string {
	var b strings.Builder
	b.WriteString("file:")
	b.WriteString(path)
	b.WriteString("?_pragma=journal_mode(WAL)")
	b.WriteString("&_pragma=busy_timeout(5000)")
	b.WriteString("&_pragma=synchronous(NORMAL)")
	b.WriteString("&_pragma=temp_store(MEMORY)")
	b.WriteString("&_pragma=cache_size(-")
	b.WriteString(strconv.Itoa(cacheKB))
	b.WriteString(")")
	if immediate {
		// Write transactions take the write lock up front instead of
		// upgrading mid-transaction and risking SQLITE_BUSY.
		b.WriteString("&_txlock=immediate")
	}
	return b.String()
}

// NewSQLiteStore opens (or creates) a chunk store at path. An empty path
// creates an in-memory store for testing. A database that fails its
// integrity check is removed together with its WAL sidecars and recreated
// empty; the caller is expected to reindex.
func NewSQLiteStore(path string, cfg StoreConfig) (*SQLiteStore, error) {
	if cfg.CacheSizeMB <= 0 {
		cfg.CacheSizeMB = 64
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var writerDSN, readerDSN string
	if path == "" {
		writerDSN = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
		}

		if validErr := validateIntegrity(path); validErr != nil {
			logger.Warn("chunk_store_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("chunk store corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			logger.Info("chunk_store_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}

		cacheKB := cfg.CacheSizeMB * 1024
		writerDSN = buildDSN(path, cacheKB, true)
		readerDSN = buildDSN(path, cacheKB, false)
	}

	writer, err := sql.Open("sqlite", writerDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(0)

	reader := writer
	if readerDSN != "" {
		reader, err = sql.Open("sqlite", readerDSN)
		if err != nil {
			_ = writer.Close()
			return nil, fmt.Errorf("failed to open read pool: %w", err)
		}
		reader.SetMaxOpenConns(4)
		reader.SetMaxIdleConns(4)
		reader.SetConnMaxLifetime(0)
	}

	s := &SQLiteStore{
		writer: writer,
		reader: reader,
		path:   path,
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		_ = s.closePools()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.loadPinnedModel(); err != nil {
		_ = s.closePools()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id           TEXT PRIMARY KEY,
		path         TEXT NOT NULL UNIQUE,
		content_hash TEXT NOT NULL,
		size         INTEGER NOT NULL,
		mod_time     INTEGER NOT NULL,
		language     TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL DEFAULT 'text',
		chunk_gen    INTEGER NOT NULL DEFAULT 0,
		indexed_at   INTEGER NOT NULL,
		deleted_at   INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_documents_deleted
		ON documents(deleted_at) WHERE deleted_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS chunks (
		id           TEXT PRIMARY KEY,
		document_id  TEXT NOT NULL,
		path         TEXT NOT NULL,
		seq          INTEGER NOT NULL,
		content      TEXT NOT NULL,
		start_line   INTEGER NOT NULL,
		end_line     INTEGER NOT NULL,
		start_byte   INTEGER NOT NULL,
		end_byte     INTEGER NOT NULL,
		content_type TEXT NOT NULL,
		language     TEXT NOT NULL DEFAULT '',
		generation   INTEGER NOT NULL,
		created_at   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document
		ON chunks(document_id, generation);

	CREATE TABLE IF NOT EXISTS embeddings (
		chunk_id    TEXT PRIMARY KEY,
		vectors     BLOB NOT NULL,
		token_count INTEGER NOT NULL,
		model       TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.writer.Exec(schema); err != nil {
		return err
	}
	_, err := s.writer.Exec(
		`INSERT OR IGNORE INTO state(key, value) VALUES (?, ?)`,
		StateKeySchemaVersion, strconv.Itoa(CurrentSchemaVersion))
	return err
}

// loadPinnedModel caches the model tag and dimensions pinned by a
// previous EnsureModel, if any.
func (s *SQLiteStore) loadPinnedModel() error {
	ctx := context.Background()
	tag, err := s.GetState(ctx, StateKeyModelTag)
	if err != nil {
		return err
	}
	dimStr, err := s.GetState(ctx, StateKeyDimensions)
	if err != nil {
		return err
	}
	s.modelTag = tag
	if dimStr != "" {
		dim, err := strconv.Atoi(dimStr)
		if err != nil {
			return fmt.Errorf("corrupt dimensions state %q: %w", dimStr, err)
		}
		s.dim = dim
	}
	return nil
}

// Put atomically replaces doc's chunk set. The new generation is written
// alongside the old one, the document's chunk_gen is flipped, and the
// superseded rows are dropped, all in one transaction. Snapshot readers
// keep seeing the old generation until commit.
func (s *SQLiteStore) Put(ctx context.Context, doc *Document, chunks []*Chunk) error {
	if doc == nil || doc.Path == "" {
		return fmt.Errorf("document with a path is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	dim := s.dim
	for _, c := range chunks {
		if len(c.Vectors) == 0 {
			return fmt.Errorf("chunk %s has no token vectors", c.ID)
		}
		if dim > 0 && len(c.Vectors[0]) != dim {
			return ErrDimensionMismatch{Expected: dim, Got: len(c.Vectors[0])}
		}
	}

	if doc.ID == "" {
		doc.ID = DocumentID(doc.Path)
	}
	now := time.Now()

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var gen int64
	err = tx.QueryRowContext(ctx,
		`SELECT chunk_gen FROM documents WHERE id = ?`, doc.ID).Scan(&gen)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read chunk generation: %w", err)
	}
	newGen := gen + 1

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, path, content_hash, size, mod_time, language, content_type, chunk_gen, indexed_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(id) DO UPDATE SET
			content_hash = excluded.content_hash,
			size         = excluded.size,
			mod_time     = excluded.mod_time,
			language     = excluded.language,
			content_type = excluded.content_type,
			chunk_gen    = excluded.chunk_gen,
			indexed_at   = excluded.indexed_at,
			deleted_at   = NULL`,
		doc.ID, doc.Path, doc.ContentHash, doc.Size, doc.ModTime.UnixNano(),
		doc.Language, string(doc.ContentType), newGen, now.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", doc.Path, err)
	}

	// Collect superseded chunk IDs before replacing anything so their
	// embeddings can be dropped too. Same-ID chunks (unchanged content
	// rewritten under force) are replaced in place, not superseded.
	staleIDs, err := scanIDs(tx.QueryContext(ctx,
		`SELECT id FROM chunks WHERE document_id = ? AND generation != ?`, doc.ID, newGen))
	if err != nil {
		return fmt.Errorf("failed to list superseded chunks: %w", err)
	}

	chunkStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
			(id, document_id, path, seq, content, start_line, end_line, start_byte, end_byte, content_type, language, generation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk statement: %w", err)
	}
	defer func() { _ = chunkStmt.Close() }()

	embStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO embeddings (chunk_id, vectors, token_count, model)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare embedding statement: %w", err)
	}
	defer func() { _ = embStmt.Close() }()

	newIDs := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		if c.ID == "" {
			c.ID = ChunkID(doc.Path, doc.ContentHash, c.Seq)
		}
		c.DocumentID = doc.ID
		c.Path = doc.Path
		c.Generation = newGen
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		newIDs[c.ID] = struct{}{}

		blob, err := EncodeMatrix(c.Vectors)
		if err != nil {
			return fmt.Errorf("failed to encode vectors for chunk %s: %w", c.ID, err)
		}

		if _, err := chunkStmt.ExecContext(ctx,
			c.ID, c.DocumentID, c.Path, c.Seq, c.Content,
			c.StartLine, c.EndLine, c.StartByte, c.EndByte,
			string(c.ContentType), c.Language, c.Generation, c.CreatedAt.UnixNano()); err != nil {
			return fmt.Errorf("failed to write chunk %s: %w", c.ID, err)
		}
		if _, err := embStmt.ExecContext(ctx, c.ID, blob, len(c.Vectors), s.modelTag); err != nil {
			return fmt.Errorf("failed to write embedding for chunk %s: %w", c.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE document_id = ? AND generation != ?`, doc.ID, newGen); err != nil {
		return fmt.Errorf("failed to drop superseded chunks: %w", err)
	}
	for _, id := range staleIDs {
		if _, ok := newIDs[id]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE chunk_id = ?`, id); err != nil {
			return fmt.Errorf("failed to drop superseded embedding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunk set: %w", err)
	}

	doc.ChunkGen = newGen
	doc.IndexedAt = now
	doc.DeletedAt = nil
	s.writes.Add(int64(len(chunks)))
	return nil
}

// LookupHash returns the stored content hash for a live document.
func (s *SQLiteStore) LookupHash(ctx context.Context, path string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, fmt.Errorf("store is closed")
	}

	var hash string
	err := s.reader.QueryRowContext(ctx,
		`SELECT content_hash FROM documents WHERE path = ? AND deleted_at IS NULL`,
		path).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up hash for %s: %w", path, err)
	}
	return hash, true, nil
}

// GetDocument returns a live document by path, or nil if absent.
func (s *SQLiteStore) GetDocument(ctx context.Context, path string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.reader.QueryRowContext(ctx, `
		SELECT id, path, content_hash, size, mod_time, language, content_type, chunk_gen, indexed_at
		FROM documents WHERE path = ? AND deleted_at IS NULL`, path)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return doc, err
}

// Documents returns all live documents keyed by path.
func (s *SQLiteStore) Documents(ctx context.Context) (map[string]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.reader.QueryContext(ctx, `
		SELECT id, path, content_hash, size, mod_time, language, content_type, chunk_gen, indexed_at
		FROM documents WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	docs := make(map[string]*Document)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs[doc.Path] = doc
	}
	return docs, rows.Err()
}

// GetChunks returns live chunks by ID, without vectors. Unknown or
// tombstoned IDs are simply absent from the result.
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) (map[string]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(ids) == 0 {
		return map[string]*Chunk{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.reader.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.path, c.seq, c.content,
		       c.start_line, c.end_line, c.start_byte, c.end_byte,
		       c.content_type, c.language, c.generation, c.created_at
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.id IN (`+placeholders+`)
		  AND d.deleted_at IS NULL AND c.generation = d.chunk_gen`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	chunks := make(map[string]*Chunk, len(ids))
	for rows.Next() {
		var c Chunk
		var contentType string
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Path, &c.Seq, &c.Content,
			&c.StartLine, &c.EndLine, &c.StartByte, &c.EndByte,
			&contentType, &c.Language, &c.Generation, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.ContentType = ContentType(contentType)
		c.CreatedAt = time.Unix(0, createdAt)
		chunks[c.ID] = &c
	}
	return chunks, rows.Err()
}

// ChunkIDsForPath returns the live chunk IDs of a document.
func (s *SQLiteStore) ChunkIDsForPath(ctx context.Context, path string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	return scanIDs(s.reader.QueryContext(ctx, `
		SELECT c.id FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.path = ? AND d.deleted_at IS NULL AND c.generation = d.chunk_gen
		ORDER BY c.seq`, path))
}

// Delete tombstones a document. Idempotent for unknown paths.
func (s *SQLiteStore) Delete(ctx context.Context, path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.writer.ExecContext(ctx,
		`UPDATE documents SET deleted_at = ? WHERE path = ? AND deleted_at IS NULL`,
		time.Now().UnixNano(), path)
	if err != nil {
		return fmt.Errorf("failed to tombstone %s: %w", path, err)
	}
	return nil
}

// PurgeTombstones reclaims rows of documents tombstoned before the cutoff.
func (s *SQLiteStore) PurgeTombstones(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	cutoff := time.Now().Add(-olderThan).UnixNano()

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	docIDs, err := scanIDs(tx.QueryContext(ctx,
		`SELECT id FROM documents WHERE deleted_at IS NOT NULL AND deleted_at <= ?`, cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to list tombstones: %w", err)
	}
	if len(docIDs) == 0 {
		return 0, tx.Commit()
	}

	for _, docID := range docIDs {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM embeddings WHERE chunk_id IN
				(SELECT id FROM chunks WHERE document_id = ?)`, docID); err != nil {
			return 0, fmt.Errorf("failed to purge embeddings: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chunks WHERE document_id = ?`, docID); err != nil {
			return 0, fmt.Errorf("failed to purge chunks: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE id = ?`, docID); err != nil {
			return 0, fmt.Errorf("failed to purge document: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit purge: %w", err)
	}
	return len(docIDs), nil
}

// EnsureModel pins the embedding model and dimensions on first use and
// rejects mismatches afterwards.
func (s *SQLiteStore) EnsureModel(ctx context.Context, modelTag string, dimensions int) error {
	if modelTag == "" || dimensions <= 0 {
		return fmt.Errorf("model tag and positive dimensions are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if s.modelTag == "" {
		if err := s.setState(ctx, StateKeyModelTag, modelTag); err != nil {
			return err
		}
		if err := s.setState(ctx, StateKeyDimensions, strconv.Itoa(dimensions)); err != nil {
			return err
		}
		s.modelTag = modelTag
		s.dim = dimensions
		return nil
	}

	if s.modelTag != modelTag {
		return ErrModelMismatch{IndexModel: s.modelTag, Got: modelTag}
	}
	if s.dim != dimensions {
		return ErrDimensionMismatch{Expected: s.dim, Got: dimensions}
	}
	return nil
}

// ModelTag returns the pinned model tag, empty if none yet.
func (s *SQLiteStore) ModelTag(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", fmt.Errorf("store is closed")
	}
	return s.modelTag, nil
}

// Dimensions returns the pinned vector width, 0 if none yet.
func (s *SQLiteStore) Dimensions(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}
	return s.dim, nil
}

// ChunkCount returns the number of live chunks.
func (s *SQLiteStore) ChunkCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	var n int
	err := s.reader.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.deleted_at IS NULL AND c.generation = d.chunk_gen`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// Stats returns store statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	stats := &Stats{}
	err := s.reader.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE deleted_at IS NULL`).Scan(&stats.Documents)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	err = s.reader.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE deleted_at IS NOT NULL`).Scan(&stats.Tombstones)
	if err != nil {
		return nil, fmt.Errorf("failed to count tombstones: %w", err)
	}
	err = s.reader.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.deleted_at IS NULL AND c.generation = d.chunk_gen`).Scan(&stats.LiveChunks)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	err = s.reader.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM embeddings e
		JOIN chunks c ON c.id = e.chunk_id
		JOIN documents d ON d.id = c.document_id
		WHERE d.deleted_at IS NULL AND c.generation = d.chunk_gen`).Scan(&stats.EmbeddedChunks)
	if err != nil {
		return nil, fmt.Errorf("failed to count embeddings: %w", err)
	}

	if s.path != "" {
		if info, err := os.Stat(s.path); err == nil {
			stats.SizeBytes = info.Size()
		}
	}
	return stats, nil
}

// WriteCount reports chunk rows written by this store instance.
func (s *SQLiteStore) WriteCount() int64 {
	return s.writes.Load()
}

// GetState returns the value for key, empty string if unset.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", fmt.Errorf("store is closed")
	}

	var value string
	err := s.reader.QueryRowContext(ctx,
		`SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read state %s: %w", key, err)
	}
	return value, nil
}

// SetState stores a key-value pair.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return s.setState(ctx, key, value)
}

func (s *SQLiteStore) setState(ctx context.Context, key, value string) error {
	_, err := s.writer.ExecContext(ctx,
		`INSERT OR REPLACE INTO state(key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write state %s: %w", key, err)
	}
	return nil
}

// Save forces a WAL checkpoint so all committed writes land in the main
// database file.
func (s *SQLiteStore) Save(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.writer.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Close checkpoints and closes the store. Idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	_, _ = s.writer.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.closePools()
}

func (s *SQLiteStore) closePools() error {
	var firstErr error
	if s.reader != nil && s.reader != s.writer {
		firstErr = s.reader.Close()
	}
	if err := s.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// scanDocument reads a document row in the canonical column order.
func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	var doc Document
	var contentType string
	var modTime, indexedAt int64
	err := row.Scan(&doc.ID, &doc.Path, &doc.ContentHash, &doc.Size,
		&modTime, &doc.Language, &contentType, &doc.ChunkGen, &indexedAt)
	if err != nil {
		return nil, err
	}
	doc.ModTime = time.Unix(0, modTime)
	doc.IndexedAt = time.Unix(0, indexedAt)
	doc.ContentType = ContentType(contentType)
	return &doc, nil
}

// scanIDs collects a single-column string result set.
func scanIDs(rows *sql.Rows, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
