// Package index holds the frozen child embeddings, segment texts and
// structural metadata for one ingested document. It answers vector kNN,
// lexical scoring and child-to-parent lookup, and persists itself to a
// single snapshot file. After Ingest or Load the index is read-only and
// safe for unbounded parallel reads.
package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hsn0918/bookrag/pkg/chunking"
)

// Common errors.
var (
	ErrNotReady          = errors.New("index: not initialised")
	ErrLengthMismatch    = errors.New("index: children and embeddings length mismatch")
	ErrEmbeddingMismatch = errors.New("index: snapshot embedding mismatch")
	ErrEmptyQuery        = errors.New("index: empty query")
)

// Document describes the single ingested book.
type Document struct {
	Name        string    `json:"name"`
	Bytes       int64     `json:"bytes"`
	ContentType string    `json:"contentType,omitempty"`
	Parents     int       `json:"parents"`
	Children    int       `json:"children"`
	Dimensions  int       `json:"dimensions"`
	IngestedAt  time.Time `json:"ingestedAt"`
}

// SearchResult pairs a segment with a stage-specific score. Raw similarity
// lives in [0,1]; RRF and rerank stages use their own ranges, so scores are
// not comparable across stages.
type SearchResult struct {
	Segment *chunking.Segment
	Score   float64
}

// Store is the read surface the retrieval pipeline runs against.
type Store interface {
	Ingest(doc Document, parents, children []chunking.Segment, embeddings [][]float32) error
	VectorSearch(ctx context.Context, query []float32, k int) ([]SearchResult, error)
	LexicalSearch(ctx context.Context, query string, k int) ([]SearchResult, error)
	ParentOf(child *chunking.Segment) *chunking.Segment
	Children() []chunking.Segment
	Document() Document
	Ready() bool
}

// Snapshotter is implemented by stores that persist to a snapshot file.
type Snapshotter interface {
	Save(path string) error
	Load(path string) error
}

// Memory is the in-process Store: two flat segment arrays plus the child
// embedding matrix. Children refer to parents by stable string id only, so
// there are no object-graph cycles.
type Memory struct {
	doc        Document
	parents    []chunking.Segment
	children   []chunking.Segment
	embeddings [][]float32
	parentIdx  map[string]int
	ready      bool
}

var (
	_ Store       = (*Memory)(nil)
	_ Snapshotter = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{parentIdx: make(map[string]int)}
}

// Ingest stores segments and embeddings in insertion order and freezes the
// index. It fails when the embedding count does not match the child count.
func (m *Memory) Ingest(doc Document, parents, children []chunking.Segment, embeddings [][]float32) error {
	if len(children) != len(embeddings) {
		return fmt.Errorf("%w: %d children, %d embeddings", ErrLengthMismatch, len(children), len(embeddings))
	}
	if len(children) == 0 {
		return fmt.Errorf("%w: no children", ErrLengthMismatch)
	}

	m.parents = parents
	m.children = children
	m.embeddings = embeddings
	m.parentIdx = make(map[string]int, len(parents))
	for i := range parents {
		m.parentIdx[parents[i].ID] = i
	}

	doc.Parents = len(parents)
	doc.Children = len(children)
	if len(embeddings) > 0 {
		doc.Dimensions = len(embeddings[0])
	}
	if doc.IngestedAt.IsZero() {
		doc.IngestedAt = time.Now()
	}
	m.doc = doc
	m.ready = true
	return nil
}

// Ready reports whether the index holds an ingested document.
func (m *Memory) Ready() bool { return m.ready }

// Document returns the ingested document record.
func (m *Memory) Document() Document { return m.doc }

// Children exposes the stored child segments in ingestion order. Callers
// must not mutate them.
func (m *Memory) Children() []chunking.Segment { return m.children }

// Parents exposes the stored parent segments in document order.
func (m *Memory) Parents() []chunking.Segment { return m.parents }

// ParentOf resolves a child's parent by its stable id, or nil when the
// parent is unknown.
func (m *Memory) ParentOf(child *chunking.Segment) *chunking.Segment {
	if child == nil {
		return nil
	}
	i, ok := m.parentIdx[child.Metadata.ParentID]
	if !ok {
		return nil
	}
	return &m.parents[i]
}

// VectorSearch scans every child embedding with cosine similarity and
// returns the top k descending. The scan fans out over a worker pool sized
// to available cores; results are deterministic regardless of worker count.
func (m *Memory) VectorSearch(ctx context.Context, query []float32, k int) ([]SearchResult, error) {
	if !m.ready {
		return nil, ErrNotReady
	}
	if len(query) == 0 {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		return nil, nil
	}

	scores := make([]float64, len(m.children))
	workers := runtime.GOMAXPROCS(0)
	if workers > len(m.children) {
		workers = len(m.children)
	}
	if workers < 1 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	shard := (len(m.children) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := w * shard
		hi := lo + shard
		if hi > len(m.children) {
			hi = len(m.children)
		}
		if lo >= hi {
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := lo; i < hi; i++ {
				scores[i] = cosineSimilarity(query, m.embeddings[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]SearchResult, len(m.children))
	for i := range m.children {
		results[i] = SearchResult{Segment: &m.children[i], Score: scores[i]}
	}
	SortByScore(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// SortByScore orders results by score descending, breaking ties by document
// position so output stays deterministic.
func SortByScore(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		mi, mj := results[i].Segment.Metadata, results[j].Segment.Metadata
		if mi.ParentIndex != mj.ParentIndex {
			return mi.ParentIndex < mj.ParentIndex
		}
		return mi.ChildIndex < mj.ChildIndex
	})
}

// cosineSimilarity between two float32 vectors; mismatched or zero vectors
// score zero.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
