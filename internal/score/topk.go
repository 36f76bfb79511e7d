package score

import (
	"container/heap"
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// Candidate is one scored document reference.
type Candidate struct {
	ID    string
	Score float32
}

// Iterator yields documents to score. TopK drains it from a single
// goroutine, so implementations need not be safe for concurrent use.
type Iterator interface {
	Next() bool
	Item() (id string, vectors [][]float32)
	Err() error
}

// TopKConfig tunes TopK's parallelism.
type TopKConfig struct {
	// Workers is the number of scoring goroutines. Zero means NumCPU.
	Workers int
	// ShardSize is how many documents one worker task scores. Zero means 64.
	ShardSize int
	// Pool reuses a shared ants pool. TopK creates and releases a
	// private one when nil.
	Pool *ants.Pool
}

type shardItem struct {
	id      string
	vectors [][]float32
}

// topKState merges shard results into a bounded worst-first heap.
type topKState struct {
	mu   sync.Mutex
	heap candidateHeap
	k    int
	err  error
}

func (s *topKState) offer(c Candidate) {
	if s.heap.Len() < s.k {
		heap.Push(&s.heap, c)
		return
	}
	worst := s.heap[0]
	if c.Score > worst.Score || (c.Score == worst.Score && c.ID < worst.ID) {
		s.heap[0] = c
		heap.Fix(&s.heap, 0)
	}
}

func (s *topKState) merge(cands []Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cands {
		s.offer(c)
	}
}

func (s *topKState) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// TopK streams documents from it, scores each against the query in worker
// shards, and returns the k best candidates ordered by score descending
// with ties broken by ID ascending. The ordering is deterministic for a
// given document set regardless of worker scheduling. Items without
// vectors are skipped. Cancellation is honored between shards; in-flight
// shards drain before TopK returns ctx's error.
func TopK(ctx context.Context, query [][]float32, it Iterator, k int, cfg TopKConfig) ([]Candidate, error) {
	if len(query) == 0 {
		return nil, ErrEmptyQueryVectors
	}
	dim, err := validateMatrix(query, 0)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Candidate{}, nil
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	shardSize := cfg.ShardSize
	if shardSize <= 0 {
		shardSize = 64
	}

	pool := cfg.Pool
	if pool == nil {
		pool, err = ants.NewPool(workers)
		if err != nil {
			return nil, fmt.Errorf("failed to create worker pool: %w", err)
		}
		defer pool.Release()
	}

	state := &topKState{k: k, heap: make(candidateHeap, 0, k)}
	var wg sync.WaitGroup

	dispatch := func(shard []shardItem) {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			cands := make([]Candidate, 0, len(shard))
			for _, item := range shard {
				if len(item.vectors) == 0 {
					continue
				}
				if _, err := validateMatrix(item.vectors, dim); err != nil {
					state.fail(fmt.Errorf("document %s: %w", item.id, err))
					return
				}
				s := kernel(query, &docRows{rows: item.vectors, n: len(item.vectors)})
				cands = append(cands, Candidate{ID: item.id, Score: s})
			}
			state.merge(cands)
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			state.fail(fmt.Errorf("failed to submit scoring shard: %w", err))
		}
	}

	var canceled error
	shard := make([]shardItem, 0, shardSize)
	for it.Next() {
		id, vectors := it.Item()
		shard = append(shard, shardItem{id: id, vectors: vectors})
		if len(shard) == shardSize {
			if err := ctx.Err(); err != nil {
				canceled = err
				break
			}
			dispatch(shard)
			shard = make([]shardItem, 0, shardSize)
		}
	}
	if canceled == nil && len(shard) > 0 {
		dispatch(shard)
	}

	wg.Wait()

	if canceled != nil {
		return nil, canceled
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("document iteration failed: %w", err)
	}
	if state.err != nil {
		return nil, state.err
	}

	result := []Candidate(state.heap)
	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// candidateHeap is a worst-first heap: the root is the candidate to evict,
// the one with the lowest score, largest ID among ties.
type candidateHeap []Candidate

func (h candidateHeap) Len() int { return len(h) }

func (h candidateHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].ID > h[j].ID
}

func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x any) {
	*h = append(*h, x.(Candidate))
}

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}
