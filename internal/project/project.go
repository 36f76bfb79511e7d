// Package project wires one indexed project's components together:
// configuration, chunk store, lexical index, centroid prefilter,
// embedder, indexer and search engine, all rooted at <root>/.quarry.
// The daemon registry and the CLI's direct path both open projects
// through it, so the two paths cannot drift apart.
package project

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/quarrysearch/quarry/internal/chunk"
	"github.com/quarrysearch/quarry/internal/config"
	"github.com/quarrysearch/quarry/internal/embed"
	qerrors "github.com/quarrysearch/quarry/internal/errors"
	"github.com/quarrysearch/quarry/internal/index"
	"github.com/quarrysearch/quarry/internal/scanner"
	"github.com/quarrysearch/quarry/internal/search"
	"github.com/quarrysearch/quarry/internal/store"
	"github.com/quarrysearch/quarry/internal/telemetry"
)

const (
	// DataDirName is the per-project data directory.
	DataDirName = ".quarry"

	dbFileName       = "index"
	lexicalBaseName  = "lexical"
	centroidFileName = "centroids.hnsw"
	metricsFileName  = "metrics.db"
)

// DataDir returns the project's data directory.
func DataDir(root string) string {
	return filepath.Join(root, DataDirName)
}

// ID derives the stable project identifier from the absolute root.
func ID(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:8])
}

// Project is one open project with all its moving parts.
type Project struct {
	Root    string
	DataDir string
	Config  *config.Config

	Store     store.ChunkStore
	Lexical   store.LexicalIndex
	Centroids *store.CentroidIndex
	Embedder  embed.TokenEmbedder
	Scanner   *scanner.Scanner
	Indexer   *index.Indexer
	Runner    *index.Runner
	Engine    *search.Engine
	Metrics   *telemetry.Metrics

	ScanOpts scanner.Options

	metricsStore *telemetry.SQLiteMetricsStore
	log          *slog.Logger
}

// Open loads the project's config cascade and assembles its
// components. The data directory is created if missing; nothing is
// indexed yet.
func Open(ctx context.Context, root string, log *slog.Logger) (*Project, error) {
	if log == nil {
		log = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeInvalidPath,
			fmt.Sprintf("resolve project root %s", root), err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return nil, qerrors.New(qerrors.ErrCodeInvalidPath,
			fmt.Sprintf("project root %s is not a directory", abs), err)
	}

	cfg, err := config.Load(abs)
	if err != nil {
		return nil, err
	}

	dataDir := DataDir(abs)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, qerrors.StorageError("create project data dir", err)
	}

	p := &Project{
		Root:    abs,
		DataDir: dataDir,
		Config:  cfg,
		log:     log,
	}
	if err := p.assemble(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Project) assemble(ctx context.Context) error {
	cfg := p.Config

	cs, err := store.NewSQLiteStore(filepath.Join(p.DataDir, dbFileName+".db"), store.StoreConfig{
		CacheSizeMB: cfg.Performance.SQLiteCacheMB,
		Logger:      p.log,
	})
	if err != nil {
		return err
	}
	p.Store = cs

	// An index built under one lexical backend keeps opening with it,
	// whatever the config now says.
	lexBase := filepath.Join(p.DataDir, lexicalBaseName)
	backend := string(store.DetectLexicalBackend(lexBase))
	if backend == "" {
		backend = cfg.Search.LexicalBackend
	}
	lex, err := store.NewLexicalIndex(lexBase, store.DefaultLexicalConfig(), backend)
	if err != nil {
		return err
	}
	p.Lexical = lex

	embedder, err := embed.NewTokenEmbedder(ctx, embed.FactoryConfig{
		Profile:   embed.Profile(cfg.Embeddings.Profile),
		Endpoint:  cfg.Embeddings.Endpoint,
		Model:     cfg.Embeddings.Model,
		BatchSize: cfg.Embeddings.BatchSize,
		Timeout:   cfg.EmbedRequestTimeout(),
		CacheSize: cfg.Embeddings.CacheSize,
	})
	if err != nil {
		return err
	}
	p.Embedder = embedder

	cents, err := store.NewCentroidIndex(store.CentroidConfig{
		Dimensions: embedder.Dimensions(),
	})
	if err != nil {
		return err
	}
	centroidPath := filepath.Join(p.DataDir, centroidFileName)
	if _, err := os.Stat(centroidPath); err == nil {
		if err := cents.Load(centroidPath); err != nil {
			// A stale or corrupt prefilter only costs speed; rebuild
			// it on the next index run instead of failing the open.
			p.log.Warn("centroid index load failed, starting empty",
				slog.String("error", err.Error()))
		}
	}
	p.Centroids = cents

	sc, err := scanner.New()
	if err != nil {
		return err
	}
	p.Scanner = sc
	p.ScanOpts = scanner.Options{
		Root:             p.Root,
		Include:          cfg.Paths.Include,
		Exclude:          cfg.Paths.Exclude,
		RespectGitignore: true,
		MaxFileSize:      int64(cfg.Chunking.MaxFileSizeKB) * 1024,
		SkipGenerated:    true,
	}

	chunker := chunk.NewLineChunker(
		chunk.WithWindowLines(cfg.Chunking.WindowLines),
		chunk.WithOverlapLines(cfg.Chunking.OverlapLines),
	)

	indexer, err := index.NewIndexer(index.IndexerConfig{
		Root:      p.Root,
		Store:     cs,
		Lexical:   lex,
		Centroids: cents,
		Embedder:  embedder,
		Chunker:   chunker,
		Logger:    p.log,
	})
	if err != nil {
		return err
	}
	p.Indexer = indexer

	runner, err := index.NewRunner(index.RunnerConfig{
		Indexer:  indexer,
		Scanner:  sc,
		DataDir:  p.DataDir,
		ScanOpts: p.ScanOpts,
		Workers:  cfg.Performance.IndexWorkers,
		Logger:   p.log,
	})
	if err != nil {
		return err
	}
	p.Runner = runner

	engine, err := search.NewEngine(search.EngineConfig{
		Store:     cs,
		Lexical:   lex,
		Centroids: cents,
		Embedder:  embedder,
		Weights: search.Weights{
			Semantic: cfg.Search.SemanticWeight,
			Lexical:  cfg.Search.LexicalWeight,
		},
		RRFConstant:        cfg.Search.RRFConstant,
		PrefilterThreshold: cfg.Search.PrefilterThreshold,
		PrefilterMultiple:  cfg.Search.PrefilterMultiple,
		MinSemanticScore:   cfg.Search.MinScore,
		Logger:             p.log,
	})
	if err != nil {
		return err
	}
	p.Engine = engine

	if cfg.Telemetry.Disabled {
		p.Metrics = telemetry.NewMetrics(nil)
	} else {
		ms, err := telemetry.OpenSQLiteMetricsStore(filepath.Join(p.DataDir, metricsFileName))
		if err != nil {
			// Metrics are an extra; a broken metrics db must not keep
			// the project from opening.
			p.log.Warn("open metrics store failed, telemetry in memory only",
				slog.String("error", err.Error()))
			p.Metrics = telemetry.NewMetrics(nil)
		} else {
			p.metricsStore = ms
			p.Metrics = telemetry.NewMetrics(ms)
		}
	}
	return nil
}

// Index runs a full scan, bringing the index up to date.
func (p *Project) Index(ctx context.Context) (*index.Result, error) {
	res, err := p.Runner.Run(ctx)
	if err != nil {
		return res, err
	}
	if serr := p.saveCentroids(); serr != nil {
		p.log.Warn("save centroid index failed", slog.String("error", serr.Error()))
	}
	return res, nil
}

// Sync runs a full scan without taking the cross-process lock. The
// caller must already hold the project lock for the project's
// lifetime, as the daemon registry does.
func (p *Project) Sync(ctx context.Context) (*index.Result, error) {
	res, err := p.Runner.Sync(ctx)
	if err != nil {
		return res, err
	}
	if serr := p.saveCentroids(); serr != nil {
		p.log.Warn("save centroid index failed", slog.String("error", serr.Error()))
	}
	return res, nil
}

// Search runs one query against the project's indexes, recording it
// in the query metrics.
func (p *Project) Search(ctx context.Context, query string, opts search.Options) ([]*search.Result, error) {
	start := time.Now()
	results, err := p.Engine.Search(ctx, query, opts)
	if err == nil && p.Metrics != nil {
		p.Metrics.Record(telemetry.QueryEvent{
			Query:       query,
			Shape:       p.Engine.Shape(query).String(),
			ResultCount: len(results),
			Latency:     time.Since(start),
		})
	}
	return results, err
}

// Stats reports the project's index statistics.
func (p *Project) Stats(ctx context.Context) (*search.Stats, error) {
	return p.Engine.Stats(ctx)
}

func (p *Project) saveCentroids() error {
	if p.Centroids == nil || p.Centroids.Count() == 0 {
		return nil
	}
	return p.Centroids.Save(filepath.Join(p.DataDir, centroidFileName))
}

// Save flushes every component to disk without closing.
func (p *Project) Save(ctx context.Context) error {
	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if p.Store != nil {
		record(p.Store.Save(ctx))
	}
	if p.Lexical != nil {
		record(p.Lexical.Save())
	}
	record(p.saveCentroids())
	return first
}

// Close flushes and releases everything. Safe on a partially
// assembled project.
func (p *Project) Close() error {
	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if p.Metrics != nil {
		record(p.Metrics.Close())
	}
	if p.metricsStore != nil {
		record(p.metricsStore.Close())
	}
	record(p.saveCentroids())
	if p.Centroids != nil {
		record(p.Centroids.Close())
	}
	if p.Lexical != nil {
		record(p.Lexical.Close())
	}
	if p.Embedder != nil {
		record(p.Embedder.Close())
	}
	if p.Store != nil {
		record(p.Store.Close())
	}
	return first
}
