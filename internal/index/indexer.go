// Package index keeps a project's chunk store, lexical index and
// centroid prefilter in step with the filesystem. A Runner performs
// full scans; a Coordinator applies watcher event batches
// incrementally. Both funnel through the same per-file pipeline.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/quarrysearch/quarry/internal/chunk"
	"github.com/quarrysearch/quarry/internal/embed"
	qerrors "github.com/quarrysearch/quarry/internal/errors"
	"github.com/quarrysearch/quarry/internal/store"
)

// Outcome reports what one per-file pipeline pass did.
type Outcome int

const (
	// OutcomeSkipped means the stored content hash matched; nothing
	// was written.
	OutcomeSkipped Outcome = iota
	// OutcomeIndexed means the chunk set was (re)built.
	OutcomeIndexed
	// OutcomeRemoved means the file was gone and its document was
	// tombstoned.
	OutcomeRemoved
)

// Indexer runs the per-file pipeline: hash diff, chunk, embed, write.
// Callers serialize index mutations per project; the Indexer itself
// adds no locking beyond what the store provides.
type Indexer struct {
	root      string
	store     store.ChunkStore
	lexical   store.LexicalIndex
	centroids *store.CentroidIndex // nil disables the prefilter
	embedder  embed.TokenEmbedder
	chunker   chunk.Chunker
	log       *slog.Logger

	force atomic.Bool

	indexed atomic.Int64
	skipped atomic.Int64
	removed atomic.Int64
	failed  atomic.Int64
}

// IndexerConfig wires an Indexer.
type IndexerConfig struct {
	Root      string
	Store     store.ChunkStore
	Lexical   store.LexicalIndex
	Centroids *store.CentroidIndex
	Embedder  embed.TokenEmbedder
	Chunker   chunk.Chunker
	Logger    *slog.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(cfg IndexerConfig) (*Indexer, error) {
	if cfg.Store == nil || cfg.Embedder == nil || cfg.Chunker == nil {
		return nil, fmt.Errorf("store, embedder and chunker are required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{
		root:      cfg.Root,
		store:     cfg.Store,
		lexical:   cfg.Lexical,
		centroids: cfg.Centroids,
		embedder:  cfg.Embedder,
		chunker:   cfg.Chunker,
		log:       log,
	}, nil
}

// hashBytes is the content fingerprint recorded per document.
func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// IndexFile brings one file up to date. An unchanged content hash is
// the fast path and writes nothing. A vanished file is tombstoned.
func (i *Indexer) IndexFile(ctx context.Context, relPath string) (Outcome, error) {
	abs := filepath.Join(i.root, filepath.FromSlash(relPath))
	content, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			if rerr := i.RemoveFile(ctx, relPath); rerr != nil {
				return OutcomeRemoved, rerr
			}
			return OutcomeRemoved, nil
		}
		i.failed.Add(1)
		return OutcomeSkipped, qerrors.New(qerrors.ErrCodeFileNotFound,
			fmt.Sprintf("read %s", relPath), err)
	}

	hash := hashBytes(content)
	stored, ok, err := i.store.LookupHash(ctx, relPath)
	if err != nil {
		i.failed.Add(1)
		return OutcomeSkipped, qerrors.StorageError(
			fmt.Sprintf("hash lookup for %s", relPath), err)
	}
	if ok && stored == hash && !i.force.Load() {
		i.skipped.Add(1)
		return OutcomeSkipped, nil
	}

	if err := i.writeFile(ctx, relPath, content, hash); err != nil {
		i.failed.Add(1)
		return OutcomeSkipped, err
	}
	i.indexed.Add(1)
	return OutcomeIndexed, nil
}

// writeFile chunks, embeds and atomically replaces the document's
// chunk set, then mirrors the change into the secondary indexes.
func (i *Indexer) writeFile(ctx context.Context, relPath string, content []byte, hash string) error {
	chunks, err := i.chunker.Chunk(ctx, &chunk.FileInput{
		Path:    relPath,
		Content: content,
	})
	if err != nil {
		return qerrors.New(qerrors.ErrCodeIndexFailed,
			fmt.Sprintf("chunk %s", relPath), err)
	}

	texts := make([]string, len(chunks))
	for n, c := range chunks {
		texts[n] = c.Content
	}
	var matrices []*embed.TokenMatrix
	if len(texts) > 0 {
		matrices, err = i.embedder.EmbedTokensBatch(ctx, texts)
		if err != nil {
			return qerrors.New(qerrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("embed %s", relPath), err)
		}
	}

	if err := i.store.EnsureModel(ctx, i.embedder.ModelTag(), i.embedder.Dimensions()); err != nil {
		return err
	}

	info, err := os.Stat(filepath.Join(i.root, filepath.FromSlash(relPath)))
	if err != nil {
		return qerrors.New(qerrors.ErrCodeFileNotFound,
			fmt.Sprintf("stat %s", relPath), err)
	}

	doc := &store.Document{
		ID:          store.DocumentID(relPath),
		Path:        relPath,
		ContentHash: hash,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		Language:    chunk.DetectLanguage(relPath),
		ContentType: store.ContentType(chunk.DetectContentType(relPath)),
	}

	storeChunks := make([]*store.Chunk, 0, len(chunks))
	for n, c := range chunks {
		m := matrices[n]
		if m.Empty() {
			// Whitespace or stop-word-only chunks carry no signal.
			continue
		}
		storeChunks = append(storeChunks, &store.Chunk{
			ID:          store.ChunkID(relPath, hash, c.Seq),
			Seq:         c.Seq,
			Content:     c.Content,
			StartLine:   c.StartLine,
			EndLine:     c.EndLine,
			StartByte:   c.StartByte,
			EndByte:     c.EndByte,
			ContentType: store.ContentType(c.ContentType),
			Language:    c.Language,
			Vectors:     m.Vectors,
		})
	}

	oldIDs, err := i.store.ChunkIDsForPath(ctx, relPath)
	if err != nil {
		return qerrors.StorageError(fmt.Sprintf("list chunks for %s", relPath), err)
	}

	if err := i.store.Put(ctx, doc, storeChunks); err != nil {
		return qerrors.StorageError(fmt.Sprintf("write chunk set for %s", relPath), err)
	}

	i.syncSecondary(ctx, relPath, oldIDs, storeChunks)
	return nil
}

// syncSecondary updates the lexical and centroid indexes after a chunk
// store commit. Failures here degrade ranking quality, not
// correctness, so they log and continue.
func (i *Indexer) syncSecondary(ctx context.Context, relPath string, oldIDs []string, chunks []*store.Chunk) {
	newIDs := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		newIDs[c.ID] = struct{}{}
	}
	var stale []string
	for _, id := range oldIDs {
		if _, ok := newIDs[id]; !ok {
			stale = append(stale, id)
		}
	}

	if i.lexical != nil {
		if len(stale) > 0 {
			if err := i.lexical.Delete(ctx, stale); err != nil {
				i.log.Warn("lexical delete failed",
					slog.String("path", relPath),
					slog.String("error", err.Error()))
			}
		}
		if len(chunks) > 0 {
			if err := i.lexical.Index(ctx, chunks); err != nil {
				i.log.Warn("lexical index failed",
					slog.String("path", relPath),
					slog.String("error", err.Error()))
			}
		}
	}

	if i.centroids != nil {
		if len(stale) > 0 {
			if err := i.centroids.Delete(ctx, stale); err != nil {
				i.log.Warn("centroid delete failed",
					slog.String("path", relPath),
					slog.String("error", err.Error()))
			}
		}
		ids := make([]string, 0, len(chunks))
		cents := make([][]float32, 0, len(chunks))
		for _, c := range chunks {
			cent, err := store.Centroid(c.Vectors)
			if err != nil {
				continue
			}
			ids = append(ids, c.ID)
			cents = append(cents, cent)
		}
		if len(ids) > 0 {
			if err := i.centroids.Add(ctx, ids, cents); err != nil {
				i.log.Warn("centroid add failed",
					slog.String("path", relPath),
					slog.String("error", err.Error()))
			}
		}
	}
}

// RemoveFile tombstones a document and clears its secondary entries.
// Unknown paths are a no-op.
func (i *Indexer) RemoveFile(ctx context.Context, relPath string) error {
	ids, err := i.store.ChunkIDsForPath(ctx, relPath)
	if err != nil {
		return qerrors.StorageError(fmt.Sprintf("list chunks for %s", relPath), err)
	}
	if err := i.store.Delete(ctx, relPath); err != nil {
		return qerrors.StorageError(fmt.Sprintf("delete %s", relPath), err)
	}
	if len(ids) == 0 {
		return nil
	}
	i.removed.Add(1)

	if i.lexical != nil {
		if err := i.lexical.Delete(ctx, ids); err != nil {
			i.log.Warn("lexical delete failed",
				slog.String("path", relPath),
				slog.String("error", err.Error()))
		}
	}
	if i.centroids != nil {
		if err := i.centroids.Delete(ctx, ids); err != nil {
			i.log.Warn("centroid delete failed",
				slog.String("path", relPath),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// RemoveTree tombstones every document under a directory prefix. Used
// when the watcher reports a deleted directory.
func (i *Indexer) RemoveTree(ctx context.Context, relPrefix string) error {
	docs, err := i.store.Documents(ctx)
	if err != nil {
		return qerrors.StorageError("list documents", err)
	}
	prefix := strings.TrimSuffix(relPrefix, "/") + "/"
	for path := range docs {
		if strings.HasPrefix(path, prefix) {
			if err := i.RemoveFile(ctx, path); err != nil {
				i.log.Warn("remove file under deleted tree failed",
					slog.String("path", path),
					slog.String("error", err.Error()))
			}
		}
	}
	return nil
}

// Counts returns files indexed, skipped (hash match), removed and
// failed since this Indexer was created.
func (i *Indexer) Counts() (indexed, skipped, removed, failed int64) {
	return i.indexed.Load(), i.skipped.Load(), i.removed.Load(), i.failed.Load()
}

// SetForce makes subsequent runs re-chunk and re-embed every file,
// ignoring the stored content hash. A full rebuild without deleting
// anything: each Put still swaps the chunk set atomically.
func (i *Indexer) SetForce(v bool) {
	i.force.Store(v)
}

// ResetCounts zeroes the counters, for per-run reporting.
func (i *Indexer) ResetCounts() {
	i.indexed.Store(0)
	i.skipped.Store(0)
	i.removed.Store(0)
	i.failed.Store(0)
}
