// Package store persists indexed documents, their chunks, and per-token
// embeddings in SQLite, and provides the keyword (lexical) index backends.
// This is the persistence layer for all indexed data.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ContentType classifies chunk content.
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
)

// State keys for the per-index key-value table.
const (
	// StateKeyModelTag records the embedding model the index was built with.
	// Queries embedded with a different model are rejected, not mis-scored.
	StateKeyModelTag = "index_model_tag"
	// StateKeyDimensions records the per-token vector width of the index.
	StateKeyDimensions = "index_dimensions"
	// StateKeySchemaVersion tracks the chunk store schema.
	StateKeySchemaVersion = "schema_version"
)

// CurrentSchemaVersion is the current chunk store schema version.
const CurrentSchemaVersion = 1

// Document is a tracked source file. A document owns one generation of
// chunks at a time; chunk_gen points at it.
type Document struct {
	ID          string     // DocumentID(path)
	Path        string     // Relative to the project root
	ContentHash string     // SHA-256 hex of the file content
	Size        int64      // Bytes
	ModTime     time.Time  // Filesystem mtime at indexing
	Language    string     // go, python, ...
	ContentType ContentType
	ChunkGen    int64      // Generation of the live chunk set
	IndexedAt   time.Time
	DeletedAt   *time.Time // Tombstone; nil means live
}

// Chunk is one retrievable window of a document. Chunks are immutable:
// the ID binds path, file content hash, and sequence, so an unchanged
// file always regenerates identical IDs and a changed file replaces its
// whole chunk set.
type Chunk struct {
	ID          string // ChunkID(path, contentHash, seq)
	DocumentID  string
	Path        string
	Seq         int    // Position within the document, 0-based
	Content     string // Chunk text
	StartLine   int    // 1-indexed
	EndLine     int    // Inclusive
	StartByte   int
	EndByte     int
	ContentType ContentType
	Language    string
	Generation  int64 // Chunk set generation this row belongs to
	CreatedAt   time.Time

	// Vectors is the token embedding matrix, one vector per token.
	// Populated on Put and on ScanAll; not stored in the chunks table.
	Vectors [][]float32
}

// TokenCount returns the number of token vectors.
func (c *Chunk) TokenCount() int {
	return len(c.Vectors)
}

// DocumentID derives the stable document ID for a relative path.
func DocumentID(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:16])
}

// ChunkID derives the content-addressed chunk ID. Unchanged content keeps
// its IDs across reindexing; any content change replaces all of them.
func ChunkID(path, contentHash string, seq int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%s:%d", path, contentHash, seq))
	return hex.EncodeToString(sum[:16])
}

// Stats summarizes a chunk store.
type Stats struct {
	Documents      int   // Live documents
	Tombstones     int   // Deleted documents awaiting purge
	LiveChunks     int   // Chunks in live generations
	EmbeddedChunks int   // Chunks with a stored embedding matrix
	SizeBytes      int64 // Database file size, 0 for in-memory
}

// ChunkStore persists documents, chunks, and embeddings.
//
// Writes replace a document's chunk set atomically: concurrent readers
// observe the previous generation or the new one, never a mixture.
type ChunkStore interface {
	// Put atomically replaces the document's chunk set. Every chunk must
	// carry its token vectors. The document's ChunkGen is managed by the
	// store; a tombstoned document written again comes back live.
	Put(ctx context.Context, doc *Document, chunks []*Chunk) error

	// ScanAll returns a lazy iterator over all live chunks with their
	// vectors decoded. The iterator reads from a stable snapshot: a write
	// committed mid-scan is not observed. Iteration order is ascending
	// chunk ID.
	ScanAll(ctx context.Context) (*ChunkIterator, error)

	// LookupHash returns the stored content hash for a live document.
	// The second result reports whether the path is indexed.
	LookupHash(ctx context.Context, path string) (string, bool, error)

	// GetDocument returns a live document by path, or nil if absent.
	GetDocument(ctx context.Context, path string) (*Document, error)

	// Documents returns all live documents keyed by path, for
	// reconciliation against the filesystem.
	Documents(ctx context.Context) (map[string]*Document, error)

	// GetChunks returns live chunks by ID without their vectors, for
	// hydrating search results. Unknown IDs are absent from the map.
	GetChunks(ctx context.Context, ids []string) (map[string]*Chunk, error)

	// ChunkIDsForPath returns the live chunk IDs of a document, for
	// removing them from secondary indexes.
	ChunkIDsForPath(ctx context.Context, path string) ([]string, error)

	// Delete tombstones a document. Its chunks stop appearing in ScanAll
	// immediately; rows are reclaimed later by PurgeTombstones.
	// Deleting an unknown or already-deleted path is a no-op.
	Delete(ctx context.Context, path string) error

	// PurgeTombstones reclaims rows of documents tombstoned longer than
	// olderThan ago. Returns the number of documents purged.
	PurgeTombstones(ctx context.Context, olderThan time.Duration) (int, error)

	// EnsureModel pins the embedding model and dimensions on first use
	// and rejects mismatches afterwards.
	EnsureModel(ctx context.Context, modelTag string, dimensions int) error

	// ModelTag returns the pinned model tag, empty if none yet.
	ModelTag(ctx context.Context) (string, error)

	// Dimensions returns the pinned vector width, 0 if none yet.
	Dimensions(ctx context.Context) (int, error)

	// ChunkCount returns the number of live chunks.
	ChunkCount(ctx context.Context) (int, error)

	// Stats returns store statistics.
	Stats(ctx context.Context) (*Stats, error)

	// WriteCount reports chunk rows written by this store instance.
	// Reindexing an unchanged tree must leave it untouched.
	WriteCount() int64

	// State is a small key-value table for index-scoped runtime state.
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Save flushes pending writes to the main database file.
	Save(ctx context.Context) error

	// Close flushes and releases the store. Idempotent.
	Close() error
}

// LexicalResult is a single keyword search hit.
type LexicalResult struct {
	ChunkID      string
	Score        float64
	MatchedTerms []string
}

// LexicalStats describes a lexical index.
type LexicalStats struct {
	DocumentCount int
}

// LexicalIndex provides keyword search with BM25 scoring.
type LexicalIndex interface {
	// Index adds or replaces chunks in the index.
	Index(ctx context.Context, chunks []*Chunk) error

	// Search returns chunks matching the query, best first.
	Search(ctx context.Context, query string, limit int) ([]*LexicalResult, error)

	// Delete removes chunks by ID.
	Delete(ctx context.Context, chunkIDs []string) error

	// AllIDs returns every indexed chunk ID, for consistency checks.
	AllIDs() ([]string, error)

	// Stats returns index statistics.
	Stats() *LexicalStats

	// Save persists pending writes.
	Save() error

	// Close releases the index. Idempotent.
	Close() error
}

// LexicalConfig configures a lexical index.
type LexicalConfig struct {
	// StopWords are filtered during tokenization.
	StopWords []string

	// MinTokenLength is the minimum sub-token length to index.
	MinTokenLength int
}

// DefaultLexicalConfig returns the default lexical index configuration.
func DefaultLexicalConfig() LexicalConfig {
	return LexicalConfig{
		StopWords:      DefaultCodeStopWords,
		MinTokenLength: 2,
	}
}

// DefaultCodeStopWords are programming keywords too common to carry
// signal in code search.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
}

// ErrDimensionMismatch reports a vector width different from the index.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (reindex with the current embedder)", e.Expected, e.Got)
}

// ErrModelMismatch reports an embedding model different from the one the
// index was built with.
type ErrModelMismatch struct {
	IndexModel string
	Got        string
}

func (e ErrModelMismatch) Error() string {
	return fmt.Sprintf("embedding model mismatch: index built with %q, got %q (reindex with the current embedder)", e.IndexModel, e.Got)
}
