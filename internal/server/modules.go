package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/hsn0918/bookrag/internal/answer"
	"github.com/hsn0918/bookrag/internal/config"
	"github.com/hsn0918/bookrag/internal/embedcache"
	"github.com/hsn0918/bookrag/internal/evaluation"
	"github.com/hsn0918/bookrag/internal/expand"
	"github.com/hsn0918/bookrag/internal/index"
	"github.com/hsn0918/bookrag/internal/ingest"
	"github.com/hsn0918/bookrag/internal/loader"
	"github.com/hsn0918/bookrag/internal/prompts"
	"github.com/hsn0918/bookrag/internal/retrieval"
	"github.com/hsn0918/bookrag/pkg/chunking"
	"github.com/hsn0918/bookrag/pkg/clients/base"
	"github.com/hsn0918/bookrag/pkg/clients/embedding"
	"github.com/hsn0918/bookrag/pkg/clients/openai"
	"github.com/hsn0918/bookrag/pkg/logger"
	"github.com/hsn0918/bookrag/pkg/redis"
	"github.com/hsn0918/bookrag/pkg/storage"
)

// Module assembles the whole application for fx.
var Module = fx.Options(
	InfrastructureModule,
	ClientsModule,
	ServicesModule,
	HTTPServerModule,
	fx.WithLogger(NewFxEventLogger),
	fx.Invoke(StartHTTPServer),
)

// InfrastructureModule provides config, logging, cache and object storage.
var InfrastructureModule = fx.Module("infrastructure",
	fx.Provide(
		NewAppConfig,
		NewAppLogger,
		NewRedisCache,
		NewObjectStorage,
	),
)

// ClientsModule provides the upstream model clients.
var ClientsModule = fx.Module("clients",
	fx.Provide(
		NewEmbedder,
		NewGenerator,
	),
)

// ServicesModule provides the pipeline services.
var ServicesModule = fx.Module("services",
	fx.Provide(
		NewPromptManager,
		NewIndexStore,
		NewChunker,
		NewDocumentLoader,
		NewIngestService,
		NewExpander,
		NewRetriever,
		NewAnswerer,
		NewEvaluator,
		New,
	),
)

// HTTPServerModule provides the listener.
var HTTPServerModule = fx.Module("http_server",
	fx.Provide(NewHTTPServer),
)

func NewAppConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

func NewAppLogger(cfg *config.Config) (*slog.Logger, error) {
	if err := logger.InitWithLevel(cfg.Logging.Level); err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	return logger.Get(), nil
}

// NewFxEventLogger routes fx lifecycle events through the application logger.
func NewFxEventLogger(log *slog.Logger) fxevent.Logger {
	return &fxevent.SlogLogger{Logger: log}
}

// NewRedisCache builds the optional remote embedding cache tier. Disabled
// Redis yields nil and the local LRU stands alone.
func NewRedisCache(cfg *config.Config, lc fx.Lifecycle) (*redis.CacheService, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	client, err := redis.NewClient(redis.ClientOptions{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("create redis client: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			client.Close()
			return nil
		},
	})
	ttl := time.Duration(cfg.Redis.TTLHours) * time.Hour
	return redis.NewCacheService(client, ttl), nil
}

// NewObjectStorage builds the optional MinIO client for book storage.
func NewObjectStorage(cfg *config.Config) (storage.ObjectStorage, error) {
	if !cfg.Storage.Enabled {
		return nil, nil
	}
	client, err := storage.NewMinIOClient(storage.MinIOConfig{
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		BucketName:      cfg.Storage.BucketName,
		UseSSL:          cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return client, nil
}

// NewEmbedder wraps the embedding client in the two-tier cache.
func NewEmbedder(cfg *config.Config, remote *redis.CacheService) (embedding.Embedder, error) {
	svc := cfg.Services.Embedding
	dims := svc.Dimensions
	if dims <= 0 {
		dims = embedding.GetDefaultDimensions(svc.Model)
	}
	client := embedding.NewClient(base.Config{
		BaseURL: svc.BaseURL,
		APIKey:  svc.APIKey,
		Timeout: time.Duration(svc.TimeoutSeconds) * time.Second,
	}, svc.Model, dims)
	return embedcache.New(client, embedcache.DefaultSize, remote)
}

func NewGenerator(cfg *config.Config) openai.Generator {
	svc := cfg.Services.LLM
	return openai.NewClient(base.Config{
		BaseURL: svc.BaseURL,
		APIKey:  svc.APIKey,
		Timeout: time.Duration(svc.TimeoutSeconds) * time.Second,
	}, svc.Model)
}

func NewPromptManager(cfg *config.Config) *prompts.PromptManager {
	return prompts.NewPromptManager(cfg.Document.Title)
}

// NewIndexStore selects the configured index backend.
func NewIndexStore(cfg *config.Config, embedder embedding.Embedder, lc fx.Lifecycle) (index.Store, error) {
	switch cfg.Index.Backend {
	case "postgres":
		pg, err := index.NewPostgres(context.Background(), cfg.DSN(), embedder.Dimensions())
		if err != nil {
			return nil, fmt.Errorf("open postgres index: %w", err)
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				pg.Close()
				return nil
			},
		})
		return pg, nil
	default:
		return index.NewMemory(), nil
	}
}

func NewChunker(cfg *config.Config, embedder embedding.Embedder) (*chunking.SemanticChunker, error) {
	ch := cfg.Chunking
	return chunking.NewSemanticChunker(ch.MaxParentSize, ch.MinParentSize, embedder,
		chunking.WithSimilarityThresholds(ch.SimilarityThreshold, ch.LooseSimilarity),
		chunking.WithChildWindow(ch.ChildSize, ch.ChildOverlap),
		chunking.WithParallelProcessing(ch.Parallel),
		chunking.WithCacheSize(ch.CacheSize),
	)
}

func NewDocumentLoader(cfg *config.Config, objectStore storage.ObjectStorage) *loader.Loader {
	return loader.New(loader.Options{
		Path:   cfg.Document.Path,
		Source: cfg.Document.Source,
		Object: cfg.Document.Object,
	}, objectStore)
}

func NewIngestService(cfg *config.Config, ld *loader.Loader, chunker *chunking.SemanticChunker, embedder embedding.Embedder, store index.Store, objectStore storage.ObjectStorage) *ingest.Service {
	return ingest.NewService(ld, chunker, embedder, store, objectStore, ingest.Options{
		SnapshotPath: filepath.Join(cfg.Index.Dir, index.SnapshotFile),
		DocumentPath: cfg.Document.Path,
		Source:       cfg.Document.Source,
	})
}

func NewExpander(cfg *config.Config, llm openai.Generator, pm *prompts.PromptManager) *expand.Expander {
	return expand.New(llm, pm, expand.Config{
		StepBack: cfg.Retrieval.StepBack,
		HyDE:     cfg.Retrieval.HyDE,
	})
}

func NewRetriever(cfg *config.Config, store index.Store, embedder embedding.Embedder, expander *expand.Expander) *retrieval.Retriever {
	return retrieval.New(store, embedder, expander, retrieval.Config{
		HybridSearch: cfg.Retrieval.HybridSearch,
		HyDE:         cfg.Retrieval.HyDE,
		StepBack:     cfg.Retrieval.StepBack,
		Rerank:       cfg.Retrieval.Rerank,
		Candidates:   cfg.Retrieval.Candidates,
		TopK:         cfg.Retrieval.TopK,
		RRFK:         cfg.Retrieval.RRFK,
	})
}

func NewAnswerer(cfg *config.Config, retriever *retrieval.Retriever, llm openai.Generator, pm *prompts.PromptManager) *answer.Answerer {
	return answer.New(retriever, llm, pm, cfg.Memory.Capacity)
}

func NewEvaluator(cfg *config.Config, answerer *answer.Answerer, llm openai.Generator, pm *prompts.PromptManager, store index.Store) *evaluation.Evaluator {
	return evaluation.New(answerer, llm, pm, store, evaluation.Config{
		Dir:             cfg.Evaluation.Dir,
		PairProbability: cfg.Evaluation.SampleProbability,
		Workers:         cfg.Evaluation.Workers,
	})
}

// NewHTTPServer wraps the router in an h2c-capable listener.
func NewHTTPServer(cfg *config.Config, srv *Server) *http.Server {
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	return &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(srv.Router(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// StartHTTPServer ingests the document in the background and serves HTTP.
// The health endpoint reports ingesting until the index is ready.
func StartHTTPServer(httpServer *http.Server, ingester *ingest.Service, lc fx.Lifecycle, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := ingester.EnsureReady(context.Background()); err != nil {
					logger.Get().Error("startup ingestion failed", slog.Any("error", err))
					if shutdownErr := shutdowner.Shutdown(); shutdownErr != nil {
						logger.Get().Error("shutdown failed", slog.Any("error", shutdownErr))
					}
				}
			}()
			logger.Get().Info("starting http server", slog.String("addr", httpServer.Addr))
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Get().Error("http server failed", slog.Any("error", err))
					if shutdownErr := shutdowner.Shutdown(); shutdownErr != nil {
						logger.Get().Error("shutdown failed", slog.Any("error", shutdownErr))
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Get().Info("stopping http server")
			return httpServer.Shutdown(ctx)
		},
	})
}
