package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/hsn0918/bookrag/internal/prompts"
	"github.com/hsn0918/bookrag/pkg/chunking"
	"github.com/hsn0918/bookrag/pkg/clients/openai"
	"github.com/hsn0918/bookrag/pkg/logger"
)

const (
	// TestSetFile is the persisted test-set filename.
	TestSetFile = "test-set.json"
	// minSegmentRunes skips segments too short to carry a question.
	minSegmentRunes = 50
	// maxExcerptRunes truncates segment text in the synthesis prompt.
	maxExcerptRunes = 1000
)

// generated is the JSON shape the generator must return for one sample.
type generated struct {
	Question    string `json:"question"`
	GroundTruth string `json:"ground_truth"`
}

// GenerateTestSet synthesises up to n question/answer pairs from the
// indexed child segments (all segments when n == -1). With the configured
// pair probability a sample spans two adjacent segments, which then both
// leave the pool. Malformed generator output drops the sample and the run
// continues.
func (e *Evaluator) GenerateTestSet(ctx context.Context, n int) ([]TestQuestion, error) {
	segments := e.store.Children()
	if len(segments) == 0 {
		return nil, fmt.Errorf("evaluation: index holds no segments")
	}
	if n < 0 || n > len(segments) {
		n = len(segments)
	}

	rng := rand.New(rand.NewSource(e.seed))
	var questions []TestQuestion
	dropped := 0
	for i := 0; i < len(segments) && len(questions) < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seg := &segments[i]
		if len([]rune(strings.TrimSpace(seg.Text))) < minSegmentRunes {
			continue
		}

		var q *TestQuestion
		var err error
		if rng.Float64() < e.pairProbability && i+1 < len(segments) {
			q, err = e.synthesisePair(ctx, seg, &segments[i+1])
			i++ // the paired segment is consumed
		} else {
			q, err = e.synthesiseSingle(ctx, seg)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			dropped++
			logger.Get().Warn("test sample dropped",
				slog.String("segment", seg.ID), slog.Any("error", err))
			continue
		}
		questions = append(questions, *q)
	}

	logger.Get().Info("test set generated",
		slog.Int("questions", len(questions)),
		slog.Int("dropped", dropped),
	)
	return questions, nil
}

func (e *Evaluator) synthesiseSingle(ctx context.Context, seg *chunking.Segment) (*TestQuestion, error) {
	excerpt := truncateRunes(seg.Text, maxExcerptRunes)
	gen, err := e.synthesise(ctx, prompts.PromptTypeTestGen, map[string]string{"excerpt": excerpt})
	if err != nil {
		return nil, err
	}
	return &TestQuestion{
		Question:      gen.Question,
		GroundTruth:   gen.GroundTruth,
		SourceSegment: seg.Text,
		SegmentID:     seg.ID,
	}, nil
}

func (e *Evaluator) synthesisePair(ctx context.Context, a, b *chunking.Segment) (*TestQuestion, error) {
	gen, err := e.synthesise(ctx, prompts.PromptTypeTestGenPair, map[string]string{
		"excerpt_a": truncateRunes(a.Text, maxExcerptRunes),
		"excerpt_b": truncateRunes(b.Text, maxExcerptRunes),
	})
	if err != nil {
		return nil, err
	}
	return &TestQuestion{
		Question:      gen.Question,
		GroundTruth:   gen.GroundTruth,
		SourceSegment: a.Text + "\n\n" + b.Text,
		SegmentID:     a.ID,
	}, nil
}

func (e *Evaluator) synthesise(ctx context.Context, pt prompts.PromptType, vars map[string]string) (*generated, error) {
	user, err := e.pm.RenderUserPrompt(pt, vars)
	if err != nil {
		return nil, err
	}
	out, err := e.llm.Call(ctx, []openai.Message{{Role: openai.RoleUser, Content: user}})
	if err != nil {
		return nil, err
	}

	var gen generated
	if err := sonic.UnmarshalString(extractJSON(out), &gen); err != nil {
		return nil, fmt.Errorf("parse generated sample: %w", err)
	}
	if strings.TrimSpace(gen.Question) == "" || strings.TrimSpace(gen.GroundTruth) == "" {
		return nil, fmt.Errorf("generated sample missing question or ground truth")
	}
	return &gen, nil
}

// extractJSON tolerates code fences and prose around the JSON object by
// slicing from the first '{' to the last '}'.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// SaveTestSet persists questions to dir/test-set.json atomically.
func SaveTestSet(dir string, questions []TestQuestion) (string, error) {
	data, err := sonic.ConfigDefault.MarshalIndent(questions, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal test set: %w", err)
	}
	path := filepath.Join(dir, TestSetFile)
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// LoadTestSet reads a previously persisted test set.
func LoadTestSet(dir string) ([]TestQuestion, error) {
	data, err := os.ReadFile(filepath.Join(dir, TestSetFile))
	if err != nil {
		return nil, fmt.Errorf("read test set: %w", err)
	}
	var questions []TestQuestion
	if err := sonic.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("parse test set: %w", err)
	}
	return questions, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
