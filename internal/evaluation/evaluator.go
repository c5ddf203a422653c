package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hsn0918/bookrag/internal/answer"
	"github.com/hsn0918/bookrag/internal/index"
	"github.com/hsn0918/bookrag/internal/metrics"
	"github.com/hsn0918/bookrag/internal/prompts"
	"github.com/hsn0918/bookrag/pkg/clients/base"
	"github.com/hsn0918/bookrag/pkg/clients/openai"
	"github.com/hsn0918/bookrag/pkg/logger"
)

// Config tunes the harness.
type Config struct {
	// Dir is where the test set, report and history land.
	Dir string
	// PairProbability is the chance a sample spans two adjacent segments.
	PairProbability float64
	// Workers bounds concurrent question runs.
	Workers int
	// Seed fixes the sampling sequence; 0 derives one from the clock.
	Seed int64
}

// Evaluator drives the full pipeline as a client and scores its output.
type Evaluator struct {
	answerer *answer.Answerer
	llm      openai.Generator
	pm       *prompts.PromptManager
	store    index.Store

	dir             string
	pairProbability float64
	workers         int
	seed            int64
}

func New(answerer *answer.Answerer, llm openai.Generator, pm *prompts.PromptManager, store index.Store, cfg Config) *Evaluator {
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.PairProbability <= 0 {
		cfg.PairProbability = 0.3
	}
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Evaluator{
		answerer:        answerer,
		llm:             llm,
		pm:              pm,
		store:           store,
		dir:             cfg.Dir,
		pairProbability: cfg.PairProbability,
		workers:         cfg.Workers,
		seed:            cfg.Seed,
	}
}

// Dir exposes the harness output directory.
func (e *Evaluator) Dir() string { return e.dir }

// RunBatch evaluates every question with bounded parallelism and aggregates
// a report. A rate-limited upstream pauses the batch: no further questions
// are dispatched, the error surfaces to the caller, and no report is
// returned or persisted.
func (e *Evaluator) RunBatch(ctx context.Context, questions []TestQuestion) (*Report, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("evaluation: empty test set")
	}
	started := time.Now()

	results := make([]*Result, len(questions))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range questions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := e.evaluateOne(gctx, &questions[i])
			if err != nil {
				metrics.EvaluationQuestions.WithLabelValues("error").Inc()
				return err
			}
			metrics.EvaluationQuestions.WithLabelValues("ok").Inc()
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if base.IsRateLimited(err) {
			logger.Get().Warn("evaluation batch paused by upstream rate limit",
				slog.Any("error", err))
		}
		return nil, err
	}

	report := &Report{
		Date:         started.Format("2006-01-02"),
		Timestamp:    started,
		NumQuestions: len(questions),
	}
	for _, res := range results {
		report.Results = append(report.Results, *res)
		report.AverageScores.Faithfulness += res.Scores.Faithfulness
		report.AverageScores.Relevance += res.Scores.Relevance
		report.AverageScores.ContextPrecision += res.Scores.ContextPrecision
		report.AverageScores.AnswerSimilarity += res.Scores.AnswerSimilarity
	}
	n := float64(len(report.Results))
	report.AverageScores.Faithfulness /= n
	report.AverageScores.Relevance /= n
	report.AverageScores.ContextPrecision /= n
	report.AverageScores.AnswerSimilarity /= n

	logger.Get().Info("evaluation batch complete",
		slog.Int("questions", len(questions)),
		slog.Float64("overall", report.Overall()),
		slog.Duration("duration", time.Since(started)),
	)
	return report, nil
}

// evaluateOne runs one question on a fresh session and scores the answer.
func (e *Evaluator) evaluateOne(ctx context.Context, q *TestQuestion) (*Result, error) {
	sessionID := "eval-" + uuid.NewString()
	answerText, sources, err := e.answerer.AnswerWithSources(ctx, sessionID, q.Question)
	if err != nil {
		return nil, fmt.Errorf("answer %q: %w", q.Question, err)
	}

	faith, rel, reasoning, err := e.judge(ctx, q, answerText, sources)
	if err != nil {
		return nil, fmt.Errorf("judge %q: %w", q.Question, err)
	}

	return &Result{
		TestQuestion: *q,
		Answer:       answerText,
		Sources:      sources,
		Reasoning:    reasoning,
		Scores: Scores{
			Faithfulness:     faith,
			Relevance:        rel,
			ContextPrecision: contextPrecision(sources, q.SourceSegment),
			AnswerSimilarity: answerSimilarity(answerText, q.GroundTruth),
		},
	}, nil
}

// RunFull generates a fresh test set, evaluates it, and persists the test
// set, the Markdown report and the JSON history entry. Nothing is written
// when any stage fails.
func (e *Evaluator) RunFull(ctx context.Context, numQuestions int) (*Report, string, string, error) {
	questions, err := e.GenerateTestSet(ctx, numQuestions)
	if err != nil {
		return nil, "", "", err
	}
	if _, err := SaveTestSet(e.dir, questions); err != nil {
		return nil, "", "", err
	}

	report, err := e.RunBatch(ctx, questions)
	if err != nil {
		return nil, "", "", err
	}

	reportPath, err := WriteReport(e.dir, report)
	if err != nil {
		return nil, "", "", err
	}
	historyPath, err := WriteHistory(e.dir, report)
	if err != nil {
		return nil, "", "", err
	}
	return report, reportPath, historyPath, nil
}
