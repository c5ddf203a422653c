package evaluation

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/hsn0918/bookrag/internal/prompts"
	"github.com/hsn0918/bookrag/pkg/clients/openai"
	"github.com/hsn0918/bookrag/pkg/logger"
)

// verdict is the JSON the judge prompt demands.
type verdict struct {
	Faithfulness float64 `json:"faithfulness"`
	Relevance    float64 `json:"relevance"`
	Reasoning    string  `json:"reasoning"`
}

// judge scores one answer with a dedicated generator call. Upstream errors
// propagate so the batch can pause on rate limits; an unparseable verdict
// scores zero with a reasoning note, per the parse-failure policy.
func (e *Evaluator) judge(ctx context.Context, q *TestQuestion, answer string, sources []string) (faithfulness, relevance float64, reasoning string, err error) {
	system, err := e.pm.SystemPrompt(prompts.PromptTypeJudge, nil)
	if err != nil {
		return 0, 0, "", err
	}
	user, err := e.pm.RenderUserPrompt(prompts.PromptTypeJudge, map[string]string{
		"question":     q.Question,
		"answer":       answer,
		"ground_truth": q.GroundTruth,
		"context":      strings.Join(sources, "\n\n"),
	})
	if err != nil {
		return 0, 0, "", err
	}

	out, err := e.llm.Call(ctx, []openai.Message{
		{Role: openai.RoleSystem, Content: system},
		{Role: openai.RoleUser, Content: user},
	})
	if err != nil {
		return 0, 0, "", err
	}

	var v verdict
	if perr := sonic.UnmarshalString(extractJSON(out), &v); perr != nil {
		logger.Get().Warn("judge verdict unparseable, scoring zero",
			slog.String("question", q.Question), slog.Any("error", perr))
		return 0, 0, "judge verdict could not be parsed", nil
	}
	return clamp01(v.Faithfulness), clamp01(v.Relevance), v.Reasoning, nil
}
