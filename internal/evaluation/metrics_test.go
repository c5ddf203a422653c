package evaluation

import (
	"math"
	"testing"
)

func TestContextPrecision(t *testing.T) {
	ground := "singleton property private constructor enum type"

	tests := []struct {
		name    string
		sources []string
		want    float64
		exact   bool
	}{
		{"no sources", nil, 0, true},
		{"single perfect source", []string{ground}, 1, true},
		{"irrelevant source", []string{"streams collectors lambdas functional interfaces"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := contextPrecision(tt.sources, ground)
			if tt.exact && got != tt.want {
				t.Errorf("contextPrecision = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestContextPrecision_MixedSources(t *testing.T) {
	ground := "singleton property private constructor enum type"
	sources := []string{
		"singleton property enum type",                     // all keywords relevant
		"streams collectors lambdas functional interfaces", // none relevant
	}
	got := contextPrecision(sources, ground)
	// One of two sources relevant (ratio 0.5), mean precision (1 + 0)/2.
	want := 0.5*0.5 + 0.5*0.5
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("contextPrecision = %v, want %v", got, want)
	}
}

func TestAnswerSimilarity(t *testing.T) {
	if got := answerSimilarity("an enum type", "an enum type"); got != 1 {
		t.Errorf("identical answers score %v, want 1", got)
	}
	low := answerSimilarity("use dependency injection containers", "prefer primitive types over boxed ones")
	high := answerSimilarity("the singleton property needs a private constructor",
		"a private constructor enforces the singleton property")
	if low >= high {
		t.Errorf("unrelated answers (%v) scored >= paraphrase (%v)", low, high)
	}
	if got := answerSimilarity("", ""); got != 0 {
		t.Errorf("empty answers score %v, want 0", got)
	}
}

func TestJaccardKeywords(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"singleton enum", "singleton enum", 1},
		{"singleton enum", "builder pattern", 0},
		{"singleton enum", "singleton builder", 1.0 / 3},
		{"", "", 0},
	}
	for _, tt := range tests {
		if got := jaccardKeywords(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("jaccardKeywords(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestReportOverall(t *testing.T) {
	r := &Report{AverageScores: Scores{
		Faithfulness: 0.8, Relevance: 0.6, ContextPrecision: 1, AnswerSimilarity: 0.2,
	}}
	if got := r.Overall(); math.Abs(got-0.65) > 1e-9 {
		t.Errorf("Overall = %v, want 0.65", got)
	}
}
