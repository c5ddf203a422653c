// Package ingest wires document loading, chunking and embedding into the
// index. On startup it prefers reloading the persisted snapshot; a missing
// or corrupt snapshot triggers a full re-ingestion from the source
// document. Replacing the book reuses the same path wholesale.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hsn0918/bookrag/internal/index"
	"github.com/hsn0918/bookrag/internal/loader"
	"github.com/hsn0918/bookrag/internal/metrics"
	"github.com/hsn0918/bookrag/pkg/chunking"
	"github.com/hsn0918/bookrag/pkg/clients/embedding"
	"github.com/hsn0918/bookrag/pkg/logger"
	"github.com/hsn0918/bookrag/pkg/storage"
)

// embedBatchSize bounds one upstream embedding request during ingestion.
const embedBatchSize = 32

// Service rebuilds the index from the configured document.
type Service struct {
	loader       *loader.Loader
	chunker      *chunking.SemanticChunker
	embedder     embedding.Embedder
	store        index.Store
	storage      storage.ObjectStorage // optional, for document replacement
	snapshotPath string
	docPath      string
	docSource    string
}

// Options configures the ingestion service.
type Options struct {
	SnapshotPath string
	DocumentPath string
	Source       string // local | minio
}

func NewService(
	ld *loader.Loader,
	chunker *chunking.SemanticChunker,
	embedder embedding.Embedder,
	store index.Store,
	objectStore storage.ObjectStorage,
	opts Options,
) *Service {
	return &Service{
		loader:       ld,
		chunker:      chunker,
		embedder:     embedder,
		store:        store,
		storage:      objectStore,
		snapshotPath: opts.SnapshotPath,
		docPath:      opts.DocumentPath,
		docSource:    opts.Source,
	}
}

// EnsureReady makes the index answer queries: an already-ready store is
// left alone, then the snapshot is tried, then full re-ingestion.
func (s *Service) EnsureReady(ctx context.Context) error {
	if s.store.Ready() {
		return nil
	}

	if snap, ok := s.store.(index.Snapshotter); ok && s.snapshotPath != "" {
		err := snap.Load(s.snapshotPath)
		if err == nil {
			metrics.IngestedChildren.Set(float64(s.store.Document().Children))
			return nil
		}
		if errors.Is(err, index.ErrEmbeddingMismatch) {
			logger.Get().Warn("snapshot corrupt, re-ingesting from document",
				slog.Any("error", err))
		} else if !errors.Is(err, os.ErrNotExist) {
			logger.Get().Warn("snapshot unavailable, re-ingesting from document",
				slog.Any("error", err))
		}
	}
	return s.Reingest(ctx)
}

// Reingest loads the configured document and rebuilds the index from
// scratch: chunk, embed children, ingest, persist snapshot.
func (s *Service) Reingest(ctx context.Context) error {
	started := time.Now()
	doc, err := s.loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	return s.ingestDocument(ctx, doc, started)
}

func (s *Service) ingestDocument(ctx context.Context, doc *loader.Document, started time.Time) error {
	result, err := s.chunker.ChunkDocument(ctx, doc.Text)
	if err != nil {
		return fmt.Errorf("chunk document: %w", err)
	}

	embeddings, err := s.embedChildren(ctx, result.Children)
	if err != nil {
		return fmt.Errorf("embed children: %w", err)
	}

	record := index.Document{
		Name:       doc.Name,
		Bytes:      int64(len(doc.Text)),
		IngestedAt: time.Now(),
	}
	if err := s.store.Ingest(record, result.Parents, result.Children, embeddings); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	metrics.IngestedChildren.Set(float64(len(result.Children)))

	if snap, ok := s.store.(index.Snapshotter); ok && s.snapshotPath != "" {
		if err := snap.Save(s.snapshotPath); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}

	logger.Get().Info("document ingested",
		slog.String("document", doc.Name),
		slog.Int("parents", len(result.Parents)),
		slog.Int("children", len(result.Children)),
		slog.Duration("duration", time.Since(started)),
	)
	return nil
}

// embedChildren embeds child texts in bounded batches, preserving order.
func (s *Service) embedChildren(ctx context.Context, children []chunking.Segment) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(children))
	for start := 0; start < len(children); start += embedBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + embedBatchSize
		if end > len(children) {
			end = len(children)
		}
		texts := make([]string, 0, end-start)
		for _, c := range children[start:end] {
			texts = append(texts, c.Text)
		}
		vecs, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("batch at %d: %w", start, err)
		}
		embeddings = append(embeddings, vecs...)
	}
	return embeddings, nil
}

// Replace swaps the reference book: the payload is stored at the configured
// source, then the index is rebuilt and the snapshot rewritten. This is
// whole-document reindexing, not incremental ingestion.
func (s *Service) Replace(ctx context.Context, name string, payload io.Reader, size int64, contentType string) error {
	if s.docSource == "minio" && s.storage != nil {
		if err := s.storage.UploadFile(ctx, name, payload, size, contentType); err != nil {
			return fmt.Errorf("store replacement document: %w", err)
		}
	} else {
		local := filepath.Join(filepath.Dir(s.docPath), name)
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			return fmt.Errorf("create document dir: %w", err)
		}
		f, err := os.Create(local)
		if err != nil {
			return fmt.Errorf("create replacement document: %w", err)
		}
		_, err = io.Copy(f, payload)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("write replacement document: %w", err)
		}
		s.docPath = local
	}

	doc, err := s.loadReplacement(ctx, name)
	if err != nil {
		return err
	}
	return s.ingestDocument(ctx, doc, time.Now())
}

func (s *Service) loadReplacement(ctx context.Context, name string) (*loader.Document, error) {
	if s.docSource == "minio" {
		replaced := loader.New(loader.Options{
			Path:   filepath.Join(filepath.Dir(s.docPath), name),
			Source: "minio",
			Object: name,
		}, s.storage)
		return replaced.Load(ctx)
	}
	local := filepath.Join(filepath.Dir(s.docPath), name)
	return s.loader.LoadFile(ctx, local)
}
