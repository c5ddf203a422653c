// Package expand derives the retrieval queries from a raw user question:
// a language-normalised English form, a step-back conceptual question, and
// hypothetical book-style answers (HyDE) for each. Every generator call is
// opportunistic; a failure degrades the expansion, never aborts it.
package expand

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/hsn0918/bookrag/internal/prompts"
	"github.com/hsn0918/bookrag/pkg/clients/openai"
	"github.com/hsn0918/bookrag/pkg/logger"
)

// Config carries the ablation flags for the expansion steps.
type Config struct {
	StepBack bool
	HyDE     bool
}

// Expansion is the set of derived queries for one user question.
type Expansion struct {
	Original string
	// English is the language-normalised query; equals Original for
	// English input or when translation fails.
	English string
	// StepBack is the higher-level conceptual question, or "" when the
	// step is disabled or failed.
	StepBack string
	// HydeEnglish and HydeStepBack are the hypothetical documents to embed
	// for each branch; they fall back to the branch query itself.
	HydeEnglish  string
	HydeStepBack string
	// Translated reports whether the translation call ran.
	Translated bool
}

// Expander drives the generator to produce derived queries.
type Expander struct {
	llm openai.Generator
	pm  *prompts.PromptManager
	cfg Config
}

func New(llm openai.Generator, pm *prompts.PromptManager, cfg Config) *Expander {
	return &Expander{llm: llm, pm: pm, cfg: cfg}
}

// Expand derives all retrieval queries for the user question. It only
// returns an error when the context is done; expansion failures degrade to
// the prior query.
func (e *Expander) Expand(ctx context.Context, query string) (*Expansion, error) {
	exp := &Expansion{Original: query, English: query}

	if !latinDominant(query) {
		translated, err := e.generate(ctx, prompts.PromptTypeTranslation, map[string]string{"query": query})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Get().Warn("query translation failed, using original query",
				slog.Any("error", err))
		} else if translated != "" {
			exp.English = translated
		}
		exp.Translated = true
	}

	if e.cfg.StepBack {
		stepback, err := e.generate(ctx, prompts.PromptTypeStepBack, map[string]string{"query": exp.English})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Get().Warn("step-back expansion failed, skipping dual branch",
				slog.Any("error", err))
		} else {
			exp.StepBack = stepback
		}
	}

	exp.HydeEnglish = e.hyde(ctx, exp.English)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if exp.StepBack != "" {
		exp.HydeStepBack = e.hyde(ctx, exp.StepBack)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return exp, nil
}

// hyde produces the hypothetical document for a query, falling back to the
// query itself when disabled or failed.
func (e *Expander) hyde(ctx context.Context, query string) string {
	if !e.cfg.HyDE || query == "" {
		return query
	}
	doc, err := e.generate(ctx, prompts.PromptTypeHyDE, map[string]string{"query": query})
	if err != nil || doc == "" {
		if err != nil && ctx.Err() == nil {
			logger.Get().Warn("hyde expansion failed, embedding the query directly",
				slog.Any("error", err))
		}
		return query
	}
	return doc
}

func (e *Expander) generate(ctx context.Context, pt prompts.PromptType, vars map[string]string) (string, error) {
	user, err := e.pm.RenderUserPrompt(pt, vars)
	if err != nil {
		return "", err
	}
	out, err := e.llm.Call(ctx, []openai.Message{{Role: openai.RoleUser, Content: user}})
	if err != nil {
		return "", err
	}
	return StripQuotes(out), nil
}

// StripQuotes removes surrounding whitespace and a single layer of matching
// quotes the generator tends to wrap short outputs in.
func StripQuotes(s string) string {
	s = strings.TrimSpace(s)
	for len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first != last {
			break
		}
		if first != '"' && first != '\'' && first != '`' {
			break
		}
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

// latinDominant reports whether Latin letters make up more than half of the
// letter runes. Text without letters counts as English.
func latinDominant(s string) bool {
	letters, latin := 0, 0
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' {
			latin++
		}
	}
	if letters == 0 {
		return true
	}
	return float64(latin)/float64(letters) > 0.5
}
