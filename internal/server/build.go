package server

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hsn0918/bookrag/internal/answer"
	"github.com/hsn0918/bookrag/internal/config"
	"github.com/hsn0918/bookrag/internal/evaluation"
	"github.com/hsn0918/bookrag/internal/index"
	"github.com/hsn0918/bookrag/internal/ingest"
	"github.com/hsn0918/bookrag/pkg/redis"
	"github.com/hsn0918/bookrag/pkg/storage"
)

// Components is the assembled pipeline for callers that do not run the fx
// application, such as one-shot CLI commands.
type Components struct {
	Cfg       *config.Config
	Store     index.Store
	Ingester  *ingest.Service
	Answerer  *answer.Answerer
	Evaluator *evaluation.Evaluator

	closers []func()
}

// Build assembles the pipeline outside fx. Close must be called when done.
func Build(ctx context.Context, cfg *config.Config) (*Components, error) {
	c := &Components{Cfg: cfg}

	var remote *redis.CacheService
	if cfg.Redis.Enabled {
		client, err := redis.NewClient(redis.ClientOptions{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("create redis client: %w", err)
		}
		c.closers = append(c.closers, client.Close)
		remote = redis.NewCacheService(client, time.Duration(cfg.Redis.TTLHours)*time.Hour)
	}

	var objectStore storage.ObjectStorage
	if cfg.Storage.Enabled {
		var err error
		objectStore, err = NewObjectStorage(cfg)
		if err != nil {
			c.Close()
			return nil, err
		}
	}

	svc := cfg.Services.Embedding
	embedder, err := NewEmbedder(cfg, remote)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("create embedder for %s: %w", svc.Model, err)
	}
	llm := NewGenerator(cfg)
	pm := NewPromptManager(cfg)

	switch cfg.Index.Backend {
	case "postgres":
		pg, err := index.NewPostgres(ctx, cfg.DSN(), embedder.Dimensions())
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("open postgres index: %w", err)
		}
		c.closers = append(c.closers, pg.Close)
		c.Store = pg
	default:
		c.Store = index.NewMemory()
	}

	chunker, err := NewChunker(cfg, embedder)
	if err != nil {
		c.Close()
		return nil, err
	}
	ld := NewDocumentLoader(cfg, objectStore)
	c.Ingester = ingest.NewService(ld, chunker, embedder, c.Store, objectStore, ingest.Options{
		SnapshotPath: filepath.Join(cfg.Index.Dir, index.SnapshotFile),
		DocumentPath: cfg.Document.Path,
		Source:       cfg.Document.Source,
	})

	expander := NewExpander(cfg, llm, pm)
	retriever := NewRetriever(cfg, c.Store, embedder, expander)
	c.Answerer = NewAnswerer(cfg, retriever, llm, pm)
	c.Evaluator = NewEvaluator(cfg, c.Answerer, llm, pm, c.Store)
	return c, nil
}

// Close releases held connections in reverse acquisition order.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
