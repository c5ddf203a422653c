package expand

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hsn0918/bookrag/internal/prompts"
	"github.com/hsn0918/bookrag/pkg/clients/openai"
)

// scriptedGenerator answers by prompt shape and counts per-step calls.
type scriptedGenerator struct {
	translations atomic.Int64
	stepbacks    atomic.Int64
	hydes        atomic.Int64
	failAll      bool
}

func (g *scriptedGenerator) Call(_ context.Context, messages []openai.Message) (string, error) {
	if g.failAll {
		return "", errors.New("upstream down")
	}
	prompt := messages[len(messages)-1].Content
	switch {
	case strings.Contains(prompt, "Translate"):
		g.translations.Add(1)
		return `"singleton pattern java"`, nil
	case strings.Contains(prompt, "conceptual question"):
		g.stepbacks.Add(1)
		return "What is instance control?", nil
	case strings.Contains(prompt, "excerpt"):
		g.hydes.Add(1)
		return "A singleton is a class instantiated exactly once.", nil
	default:
		return "", errors.New("unexpected prompt")
	}
}

func (g *scriptedGenerator) Stream(ctx context.Context, messages []openai.Message, onDelta func(string) error) error {
	text, err := g.Call(ctx, messages)
	if err != nil {
		return err
	}
	return onDelta(text)
}

func newExpander(gen openai.Generator, cfg Config) *Expander {
	return New(gen, prompts.NewPromptManager("Effective Java"), cfg)
}

func TestExpand_EnglishQuerySkipsTranslation(t *testing.T) {
	gen := &scriptedGenerator{}
	e := newExpander(gen, Config{StepBack: true, HyDE: true})

	exp, err := e.Expand(context.Background(), "How to enforce the singleton property?")
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if gen.translations.Load() != 0 {
		t.Errorf("translation called %d times for English input, want 0", gen.translations.Load())
	}
	if exp.Translated {
		t.Error("Translated flag set for English input")
	}
	if exp.English != "How to enforce the singleton property?" {
		t.Errorf("English = %q, want the original", exp.English)
	}
	if exp.StepBack == "" || exp.HydeEnglish == "" || exp.HydeStepBack == "" {
		t.Error("expansion steps missing with all flags on")
	}
}

func TestExpand_NonEnglishTranslatesExactlyOnce(t *testing.T) {
	gen := &scriptedGenerator{}
	e := newExpander(gen, Config{StepBack: true, HyDE: true})

	exp, err := e.Expand(context.Background(), "如何实现单例模式？")
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if gen.translations.Load() != 1 {
		t.Errorf("translation called %d times, want exactly 1", gen.translations.Load())
	}
	if !exp.Translated {
		t.Error("Translated flag not set")
	}
	// Surrounding quotes from the generator are stripped.
	if exp.English != "singleton pattern java" {
		t.Errorf("English = %q, want unquoted translation", exp.English)
	}
}

func TestExpand_GeneratorFailureDegradesGracefully(t *testing.T) {
	gen := &scriptedGenerator{failAll: true}
	e := newExpander(gen, Config{StepBack: true, HyDE: true})

	exp, err := e.Expand(context.Background(), "如何实现单例模式？")
	if err != nil {
		t.Fatalf("Expand must not fail on generator errors, got: %v", err)
	}
	if exp.English != "如何实现单例模式？" {
		t.Errorf("English = %q, want the original after failed translation", exp.English)
	}
	if exp.StepBack != "" {
		t.Errorf("StepBack = %q, want empty after failure", exp.StepBack)
	}
	if exp.HydeEnglish != exp.English {
		t.Errorf("HydeEnglish = %q, want fallback to the query", exp.HydeEnglish)
	}
}

func TestExpand_FlagsOffMakeNoGeneratorCalls(t *testing.T) {
	gen := &scriptedGenerator{}
	e := newExpander(gen, Config{})

	exp, err := e.Expand(context.Background(), "static factory methods")
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if n := gen.stepbacks.Load() + gen.hydes.Load() + gen.translations.Load(); n != 0 {
		t.Errorf("generator called %d times with all flags off, want 0", n)
	}
	if exp.HydeEnglish != exp.English {
		t.Errorf("HydeEnglish = %q, want the query itself", exp.HydeEnglish)
	}
}

func TestExpand_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gen := &scriptedGenerator{failAll: true}
	e := newExpander(gen, Config{StepBack: true, HyDE: true})

	if _, err := e.Expand(ctx, "如何实现单例模式？"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expand error = %v, want context.Canceled", err)
	}
}

func TestStripQuotes(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`"quoted"`, "quoted"},
		{"  'single'  ", "single"},
		{"`back`", "back"},
		{`""double""`, "double"},
		{`plain`, "plain"},
		{`"unbalanced`, `"unbalanced`},
		{``, ``},
	}
	for _, tt := range tests {
		if got := StripQuotes(tt.in); got != tt.want {
			t.Errorf("StripQuotes(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLatinDominant(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"singleton pattern", true},
		{"如何实现单例模式", false},
		{"单例 singleton pattern guarantee", true},
		{"123 !?", true},
		{"", true},
	}
	for _, tt := range tests {
		if got := latinDominant(tt.in); got != tt.want {
			t.Errorf("latinDominant(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
