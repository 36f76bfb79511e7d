package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
	"github.com/viant/vec/search"
)

// CentroidConfig configures the centroid prefilter.
type CentroidConfig struct {
	// Dimensions is the vector width, matching the embedding model.
	Dimensions int
	// M is the HNSW connectivity parameter.
	M int
	// EfSearch is the HNSW search beam width.
	EfSearch int
}

// CentroidIndex narrows full index scans on large projects. It holds one
// mean-of-token-vectors entry per chunk in an HNSW graph and returns the
// approximate nearest chunk IDs for a query centroid. Exact scoring still
// happens on the full token matrices afterwards, so the prefilter only
// affects which chunks get scored, never how.
type CentroidIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config CentroidConfig

	// ID mapping (string <-> uint64)
	idMap   map[string]uint64 // chunk ID -> internal key
	keyMap  map[uint64]string // internal key -> chunk ID
	nextKey uint64

	closed bool
}

// centroidMetadata stores ID mappings for persistence.
type centroidMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  CentroidConfig
}

// NewCentroidIndex creates an empty centroid prefilter.
func NewCentroidIndex(cfg CentroidConfig) (*CentroidIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if cfg.M == 0 {
		cfg.M = 16 // coder/hnsw default recommendation
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20 // coder/hnsw default
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25 // default level generation factor (1/ln(M))

	return &CentroidIndex{
		graph:   graph,
		config:  cfg,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		nextKey: 0,
	}, nil
}

// Centroid returns the unit-length mean of a chunk's token vectors.
func Centroid(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("cannot compute centroid of empty matrix")
	}
	dim := len(vectors[0])
	centroid := make([]float32, dim)
	for _, row := range vectors {
		if len(row) != dim {
			return nil, fmt.Errorf("ragged matrix: row width %d, expected %d", len(row), dim)
		}
		for i, v := range row {
			centroid[i] += v
		}
	}
	inv := 1.0 / float32(len(vectors))
	for i := range centroid {
		centroid[i] *= inv
	}

	if mag := search.Float32s(centroid).Magnitude(); mag > 0 {
		inv := 1.0 / mag
		for i := range centroid {
			centroid[i] *= inv
		}
	}
	return centroid, nil
}

// Add inserts chunk centroids. Existing IDs are replaced via lazy
// deletion; the old graph node is orphaned rather than removed because
// coder/hnsw misbehaves when the last node is deleted.
func (c *CentroidIndex) Add(ctx context.Context, ids []string, centroids [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(centroids) {
		return fmt.Errorf("ids and centroids length mismatch: %d vs %d", len(ids), len(centroids))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("index is closed")
	}

	for _, v := range centroids {
		if len(v) != c.config.Dimensions {
			return ErrDimensionMismatch{Expected: c.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		if existingKey, exists := c.idMap[id]; exists {
			delete(c.keyMap, existingKey) // orphan the old key
			delete(c.idMap, id)
		}

		key := c.nextKey
		c.nextKey++

		vec := make([]float32, len(centroids[i]))
		copy(vec, centroids[i])

		c.graph.Add(hnsw.MakeNode(key, vec))

		c.idMap[id] = key
		c.keyMap[key] = id
	}

	return nil
}

// Candidates returns the n approximate nearest chunk IDs to the query
// centroid. An empty index returns an empty slice.
func (c *CentroidIndex) Candidates(ctx context.Context, queryCentroid []float32, n int) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if len(queryCentroid) != c.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: c.config.Dimensions, Got: len(queryCentroid)}
	}
	if c.graph.Len() == 0 {
		return []string{}, nil
	}

	// Over-fetch to compensate for lazily deleted orphans in the graph.
	fetch := n + (c.graph.Len() - len(c.idMap))
	nodes := c.graph.Search(queryCentroid, fetch)

	ids := make([]string, 0, n)
	for _, node := range nodes {
		id, exists := c.keyMap[node.Key]
		if !exists {
			continue // orphaned by lazy deletion
		}
		ids = append(ids, id)
		if len(ids) == n {
			break
		}
	}
	return ids, nil
}

// Delete removes centroids by chunk ID using lazy deletion.
func (c *CentroidIndex) Delete(ctx context.Context, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("index is closed")
	}

	for _, id := range ids {
		if key, exists := c.idMap[id]; exists {
			delete(c.keyMap, key)
			delete(c.idMap, id)
		}
	}
	return nil
}

// Contains reports whether a chunk ID is indexed.
func (c *CentroidIndex) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false
	}
	_, exists := c.idMap[id]
	return exists
}

// Count returns the number of live centroids.
func (c *CentroidIndex) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return 0
	}
	return len(c.idMap)
}

// Orphans reports how many lazily deleted nodes remain in the graph.
// Large counts mean the index should be rebuilt from the chunk store.
func (c *CentroidIndex) Orphans() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return 0
	}
	return c.graph.Len() - len(c.idMap)
}

// Save persists the graph and ID mappings via temp file + rename.
func (c *CentroidIndex) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("index is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	if err := c.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	if err := c.saveMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

func (c *CentroidIndex) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := centroidMetadata{
		IDMap:   c.idMap,
		NextKey: c.nextKey,
		Config:  c.config,
	}

	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close temp file during cleanup", slog.String("error", closeErr.Error()))
		}
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores the graph and ID mappings from disk.
func (c *CentroidIndex) Load(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("index is closed")
	}

	if err := c.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// coder/hnsw Import requires io.ByteReader
	if err := c.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}
	return nil
}

func (c *CentroidIndex) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta centroidMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("decode centroid metadata: %w", err)
	}

	c.idMap = meta.IDMap
	c.keyMap = make(map[uint64]string)
	c.nextKey = meta.NextKey
	c.config = meta.Config

	for id, key := range c.idMap {
		c.keyMap[key] = id
	}
	return nil
}

// Close releases the index. Idempotent.
func (c *CentroidIndex) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.graph = nil
	return nil
}
