// Package retrieval orchestrates the multi-stage retrieval pipeline: query
// expansion, dual hybrid search with reciprocal-rank fusion, branch
// merging, feature-weighted reranking and small-to-big promotion. The
// output is a short ordered list of parent passages for the answerer.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hsn0918/bookrag/internal/expand"
	"github.com/hsn0918/bookrag/internal/index"
	"github.com/hsn0918/bookrag/internal/metrics"
	"github.com/hsn0918/bookrag/internal/search"
	"github.com/hsn0918/bookrag/pkg/clients/embedding"
	"github.com/hsn0918/bookrag/pkg/logger"
)

// ErrNoResults reports that not even the vector-only fallback produced
// candidates.
var ErrNoResults = errors.New("retrieval: no results")

// Config carries the pipeline knobs and ablation flags.
type Config struct {
	HybridSearch bool
	HyDE         bool
	StepBack     bool
	Rerank       bool
	// Candidates is the per-stage candidate width (vector, lexical, fused).
	Candidates int
	// TopK is the final passage count.
	TopK int
	// RRFK is the reciprocal-rank fusion constant.
	RRFK int
}

// DefaultConfig enables every feature at the calibrated widths.
func DefaultConfig() Config {
	return Config{
		HybridSearch: true,
		HyDE:         true,
		StepBack:     true,
		Rerank:       true,
		Candidates:   20,
		TopK:         5,
		RRFK:         search.DefaultRRFConstant,
	}
}

// Retriever drives the index through the staged pipeline.
type Retriever struct {
	store    index.Store
	embedder embedding.Embedder
	expander *expand.Expander
	cfg      Config
}

func New(store index.Store, embedder embedding.Embedder, expander *expand.Expander, cfg Config) *Retriever {
	if cfg.Candidates <= 0 {
		cfg.Candidates = 20
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = search.DefaultRRFConstant
	}
	return &Retriever{store: store, embedder: embedder, expander: expander, cfg: cfg}
}

// retrievalStages accumulates the intermediate state of one request.
type retrievalStages struct {
	query     string
	expansion *expand.Expansion
	english   []index.SearchResult
	stepback  []index.SearchResult
	merged    []index.SearchResult
	ranked    []index.SearchResult
	promoted  []index.SearchResult
}

// Retrieve runs the full pipeline for one user query and returns at most
// TopK parent passages sorted by score descending. An empty query returns
// an empty list without any external calls.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]index.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	start := time.Now()
	defer func() { metrics.RetrievalDuration.Observe(time.Since(start).Seconds()) }()

	stage := &retrievalStages{query: query}
	if err := r.runExpandStage(ctx, stage); err != nil {
		return nil, err
	}
	if err := r.runSearchStage(ctx, stage); err != nil {
		return nil, err
	}
	r.runMergeStage(stage)
	r.runRerankStage(stage)
	r.runPromoteStage(stage)

	logger.Get().Info("retrieval pipeline complete",
		slog.String("query", query),
		slog.Bool("dual_branch", stage.expansion.StepBack != ""),
		slog.Int("merged", len(stage.merged)),
		slog.Int("returned", len(stage.promoted)),
		slog.Duration("duration", time.Since(start)),
	)
	return stage.promoted, nil
}

func (r *Retriever) runExpandStage(ctx context.Context, stage *retrievalStages) error {
	exp, err := r.expander.Expand(ctx, stage.query)
	if err != nil {
		return err
	}
	stage.expansion = exp
	return nil
}

// runSearchStage dispatches the hybrid branches in parallel once their
// inputs are ready. The step-back branch failing is tolerated; the English
// branch failing fails the request.
func (r *Retriever) runSearchStage(ctx context.Context, stage *retrievalStages) error {
	exp := stage.expansion

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		results, err := r.hybridSearch(gctx, exp.English, exp.HydeEnglish)
		if err != nil {
			return fmt.Errorf("english branch: %w", err)
		}
		stage.english = results
		return nil
	})
	if exp.StepBack != "" {
		g.Go(func() error {
			results, err := r.hybridSearch(gctx, exp.StepBack, exp.HydeStepBack)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Get().Warn("step-back branch failed, continuing with english branch only",
					slog.Any("error", err))
			}
			stage.stepback = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Last resort: plain vector search on the english query keeps the
		// failure policy of always returning vector-only results when
		// possible.
		if ctx.Err() != nil {
			return err
		}
		fallback, ferr := r.vectorOnly(ctx, exp.English)
		if ferr != nil {
			return errors.Join(err, ferr)
		}
		logger.Get().Warn("hybrid search failed, returning vector-only fallback",
			slog.Any("error", err))
		stage.english = fallback
		stage.stepback = nil
	}
	if len(stage.english) == 0 && len(stage.stepback) == 0 {
		return ErrNoResults
	}
	return nil
}

// hybridSearch runs one query-pair branch: vector search over the embedded
// hypothetical document and lexical search over the query text, in
// parallel, fused with RRF. With hybrid search disabled it degrades to
// vector-only.
func (r *Retriever) hybridSearch(ctx context.Context, queryText, hydeText string) ([]index.SearchResult, error) {
	if hydeText == "" {
		hydeText = queryText
	}
	vec, err := r.embedder.Embed(ctx, hydeText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var vectorHits, lexicalHits []index.SearchResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := r.store.VectorSearch(gctx, vec, r.cfg.Candidates)
		if err != nil {
			return fmt.Errorf("vector search: %w", err)
		}
		vectorHits = hits
		return nil
	})
	if r.cfg.HybridSearch {
		g.Go(func() error {
			hits, err := r.store.LexicalSearch(gctx, queryText, r.cfg.Candidates)
			if err != nil {
				return fmt.Errorf("lexical search: %w", err)
			}
			lexicalHits = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !r.cfg.HybridSearch {
		return vectorHits, nil
	}
	fused := search.FuseRRF(r.cfg.RRFK, vectorHits, lexicalHits)
	if len(fused) > r.cfg.Candidates {
		fused = fused[:r.cfg.Candidates]
	}
	return fused, nil
}

// vectorOnly is the failure-policy fallback: embed the query text itself
// and run a bare vector search.
func (r *Retriever) vectorOnly(ctx context.Context, queryText string) ([]index.SearchResult, error) {
	vec, err := r.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed fallback query: %w", err)
	}
	return r.store.VectorSearch(ctx, vec, r.cfg.Candidates)
}

func (r *Retriever) runMergeStage(stage *retrievalStages) {
	if len(stage.stepback) == 0 {
		stage.merged = stage.english
		return
	}
	stage.merged = search.MergeByText(stage.english, stage.stepback)
}

// runRerankStage applies the feature-weighted reranker, or keeps RRF order
// when disabled.
func (r *Retriever) runRerankStage(stage *retrievalStages) {
	if !r.cfg.Rerank {
		stage.ranked = stage.merged
		if len(stage.ranked) > r.cfg.TopK {
			stage.ranked = stage.ranked[:r.cfg.TopK]
		}
		return
	}
	stage.ranked = search.Rerank(stage.merged, stage.expansion.English, r.cfg.TopK)
}

// runPromoteStage replaces each selected child by its parent, deduplicating
// by parent id and keeping the highest child score. Children whose parent
// cannot be resolved survive as themselves.
func (r *Retriever) runPromoteStage(stage *retrievalStages) {
	best := make(map[string]index.SearchResult, len(stage.ranked))
	var order []string
	for _, res := range stage.ranked {
		seg := r.store.ParentOf(res.Segment)
		if seg == nil {
			seg = res.Segment
		}
		key := seg.Metadata.ParentID
		if key == "" {
			key = seg.ID
		}
		promoted := index.SearchResult{Segment: seg, Score: res.Score}
		if prev, ok := best[key]; ok {
			if promoted.Score > prev.Score {
				best[key] = promoted
			}
			continue
		}
		best[key] = promoted
		order = append(order, key)
	}

	out := make([]index.SearchResult, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	index.SortByScore(out)
	if len(out) > r.cfg.TopK {
		out = out[:r.cfg.TopK]
	}
	stage.promoted = out
}

// Passage renders a promoted result for prompt assembly: the structural
// label when the parent carries one, otherwise its ordinal.
func Passage(k int, res index.SearchResult) (label, text string) {
	label = res.Segment.StructuralLabel()
	if label == "" {
		label = fmt.Sprintf("%d", k)
	}
	return label, res.Segment.Text
}

// Parents extracts the segment texts of promoted results, used by the
// evaluation harness as the retrieved-source list.
func Parents(results []index.SearchResult) []string {
	out := make([]string, len(results))
	for i, res := range results {
		out[i] = res.Segment.Text
	}
	return out
}
