package index

import (
	"context"
	"log/slog"

	qerrors "github.com/quarrysearch/quarry/internal/errors"
	"github.com/quarrysearch/quarry/internal/store"
)

// ConsistencyReport describes drift between the chunk store and the
// lexical index.
type ConsistencyReport struct {
	// StoreChunks is the live chunk count in the chunk store.
	StoreChunks int
	// LexicalChunks is the document count in the lexical index.
	LexicalChunks int
	// MissingFromLexical are chunk IDs present in the store but not
	// the lexical index. Their files rank by MaxSim only.
	MissingFromLexical []string
	// OrphanedInLexical are lexical entries whose chunk is gone,
	// typically from a crash between a store commit and the mirror.
	OrphanedInLexical []string
}

// Consistent reports whether the two indexes agree.
func (r *ConsistencyReport) Consistent() bool {
	return len(r.MissingFromLexical) == 0 && len(r.OrphanedInLexical) == 0
}

// CheckConsistency diffs live chunk IDs against the lexical index.
// The chunk store is authoritative; the lexical index is a mirror.
func CheckConsistency(ctx context.Context, cs store.ChunkStore, lex store.LexicalIndex) (*ConsistencyReport, error) {
	storeIDs, err := liveChunkIDs(ctx, cs)
	if err != nil {
		return nil, err
	}
	lexIDs, err := lex.AllIDs()
	if err != nil {
		return nil, qerrors.StorageError("list lexical IDs", err)
	}

	lexSet := make(map[string]struct{}, len(lexIDs))
	for _, id := range lexIDs {
		lexSet[id] = struct{}{}
	}

	report := &ConsistencyReport{
		StoreChunks:   len(storeIDs),
		LexicalChunks: len(lexIDs),
	}
	for id := range storeIDs {
		if _, ok := lexSet[id]; !ok {
			report.MissingFromLexical = append(report.MissingFromLexical, id)
		}
	}
	for _, id := range lexIDs {
		if _, ok := storeIDs[id]; !ok {
			report.OrphanedInLexical = append(report.OrphanedInLexical, id)
		}
	}
	return report, nil
}

// RepairConsistency brings the lexical index back in line with the
// chunk store: orphans are deleted, missing chunks re-indexed.
func RepairConsistency(ctx context.Context, cs store.ChunkStore, lex store.LexicalIndex, log *slog.Logger) (*ConsistencyReport, error) {
	if log == nil {
		log = slog.Default()
	}
	report, err := CheckConsistency(ctx, cs, lex)
	if err != nil {
		return nil, err
	}
	if report.Consistent() {
		return report, nil
	}
	log.Warn("lexical index drifted from chunk store",
		slog.Int("missing", len(report.MissingFromLexical)),
		slog.Int("orphaned", len(report.OrphanedInLexical)))

	if len(report.OrphanedInLexical) > 0 {
		if err := lex.Delete(ctx, report.OrphanedInLexical); err != nil {
			return report, qerrors.StorageError("delete orphaned lexical entries", err)
		}
	}

	if len(report.MissingFromLexical) > 0 {
		missing := make(map[string]struct{}, len(report.MissingFromLexical))
		for _, id := range report.MissingFromLexical {
			missing[id] = struct{}{}
		}
		it, err := cs.ScanAll(ctx)
		if err != nil {
			return report, qerrors.StorageError("scan chunks for repair", err)
		}
		defer it.Close()

		var batch []*store.Chunk
		for it.Next() {
			c := it.Chunk()
			if _, ok := missing[c.ID]; !ok {
				continue
			}
			batch = append(batch, c)
			if len(batch) >= 256 {
				if err := lex.Index(ctx, batch); err != nil {
					return report, qerrors.StorageError("reindex missing lexical entries", err)
				}
				batch = batch[:0]
			}
		}
		if err := it.Err(); err != nil {
			return report, qerrors.StorageError("scan chunks for repair", err)
		}
		if len(batch) > 0 {
			if err := lex.Index(ctx, batch); err != nil {
				return report, qerrors.StorageError("reindex missing lexical entries", err)
			}
		}
	}
	return report, nil
}

func liveChunkIDs(ctx context.Context, cs store.ChunkStore) (map[string]struct{}, error) {
	it, err := cs.ScanAll(ctx)
	if err != nil {
		return nil, qerrors.StorageError("scan chunks", err)
	}
	defer it.Close()

	ids := make(map[string]struct{})
	for it.Next() {
		ids[it.Chunk().ID] = struct{}{}
	}
	if err := it.Err(); err != nil {
		return nil, qerrors.StorageError("scan chunks", err)
	}
	return ids, nil
}
