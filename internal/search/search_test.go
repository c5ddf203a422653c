package search

import (
	"math"
	"strings"
	"testing"

	"github.com/hsn0918/bookrag/internal/index"
	"github.com/hsn0918/bookrag/pkg/chunking"
)

func seg(id, text string, parentIndex, childIndex int) *chunking.Segment {
	return &chunking.Segment{
		ID:   id,
		Kind: chunking.KindChild,
		Text: text,
		Metadata: chunking.Metadata{
			ParentID:    "p-" + id,
			ParentIndex: parentIndex,
			ChildIndex:  childIndex,
		},
	}
}

func TestFuseRRF_Contributions(t *testing.T) {
	a := seg("a", "alpha", 0, 0)
	b := seg("b", "beta", 1, 0)
	c := seg("c", "gamma", 2, 0)

	vector := []index.SearchResult{{Segment: a, Score: 0.9}, {Segment: b, Score: 0.5}}
	lexical := []index.SearchResult{{Segment: b, Score: 0.8}, {Segment: c, Score: 0.4}}

	fused := FuseRRF(60, vector, lexical)
	if len(fused) != 3 {
		t.Fatalf("got %d fused results, want 3", len(fused))
	}

	// b appears at rank 1 and rank 0, a only at rank 0, c only at rank 1.
	scores := map[string]float64{}
	for _, res := range fused {
		scores[res.Segment.ID] = res.Score
	}
	wantB := 1.0/62 + 1.0/61
	if math.Abs(scores["b"]-wantB) > 1e-12 {
		t.Errorf("score(b) = %v, want %v", scores["b"], wantB)
	}
	wantA := 1.0 / 61
	if math.Abs(scores["a"]-wantA) > 1e-12 {
		t.Errorf("score(a) = %v, want %v", scores["a"], wantA)
	}
	if fused[0].Segment.ID != "b" {
		t.Errorf("top fused = %s, want b (present in both lists)", fused[0].Segment.ID)
	}
}

func TestFuseRRF_DefaultConstant(t *testing.T) {
	a := seg("a", "alpha", 0, 0)
	fused := FuseRRF(0, []index.SearchResult{{Segment: a, Score: 1}})
	want := 1.0 / float64(DefaultRRFConstant+1)
	if math.Abs(fused[0].Score-want) > 1e-12 {
		t.Errorf("score = %v, want %v with default constant", fused[0].Score, want)
	}
}

func TestMergeByText_KeepsHigherScore(t *testing.T) {
	shared := "the builder pattern simulates named parameters"
	a := seg("a", shared, 0, 0)
	b := seg("b", shared, 1, 0)
	c := seg("c", "unrelated text", 2, 0)

	merged := MergeByText(
		[]index.SearchResult{{Segment: a, Score: 0.3}},
		[]index.SearchResult{{Segment: b, Score: 0.7}, {Segment: c, Score: 0.1}},
	)
	if len(merged) != 2 {
		t.Fatalf("got %d merged results, want 2", len(merged))
	}
	if merged[0].Segment.ID != "b" || merged[0].Score != 0.7 {
		t.Errorf("duplicate kept %s/%v, want b/0.7", merged[0].Segment.ID, merged[0].Score)
	}
}

func TestRerank_NeverChangesCandidateSet(t *testing.T) {
	candidates := []index.SearchResult{
		{Segment: seg("a", strings.Repeat("singleton instance control ", 10), 0, 0), Score: 0.2},
		{Segment: seg("b", "completely unrelated content about streams", 1, 0), Score: 0.9},
		{Segment: seg("c", "the singleton property", 2, 0), Score: 0.5},
	}

	ranked := Rerank(candidates, "singleton", 0)
	if len(ranked) != len(candidates) {
		t.Fatalf("rerank changed candidate count: %d", len(ranked))
	}
	ids := map[string]bool{}
	for _, r := range ranked {
		ids[r.Segment.ID] = true
	}
	for _, c := range candidates {
		if !ids[c.Segment.ID] {
			t.Errorf("candidate %s dropped by rerank", c.Segment.ID)
		}
	}
}

func TestRerank_CutoffAndBounds(t *testing.T) {
	var candidates []index.SearchResult
	for i, text := range []string{
		"the singleton property with a private constructor",
		"builder pattern chapter",
		"static factory methods",
		"serialization pitfalls",
	} {
		candidates = append(candidates, index.SearchResult{Segment: seg(string(rune('a'+i)), text, i, 0), Score: 0.5})
	}

	ranked := Rerank(candidates, "singleton constructor", 2)
	if len(ranked) != 2 {
		t.Fatalf("got %d results, want cutoff at 2", len(ranked))
	}
	if ranked[0].Segment.ID != "a" {
		t.Errorf("top reranked = %s, want the keyword-bearing candidate", ranked[0].Segment.ID)
	}
	for _, r := range ranked {
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("rerank score %v out of [0,1]", r.Score)
		}
	}
}

func TestLengthPreference(t *testing.T) {
	tests := []struct {
		length int
		want   float64
	}{
		{0, 0},
		{50, 0.25},
		{100, 1},
		{500, 1},
		{750, 0.5},
		{2000, 0.5},
	}
	for _, tt := range tests {
		if got := lengthPreference(tt.length); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("lengthPreference(%d) = %v, want %v", tt.length, got, tt.want)
		}
	}
}

func TestQueryTokens_DropsStopwords(t *testing.T) {
	got := QueryTokens("What is the singleton property of an enum?")
	want := []string{"singleton", "property", "enum"}
	if len(got) != len(want) {
		t.Fatalf("QueryTokens = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestKeywordSet(t *testing.T) {
	set := KeywordSet("The Builder builder PATTERN is 42 ok a1b")
	if _, ok := set["builder"]; !ok {
		t.Error("missing builder")
	}
	if _, ok := set["pattern"]; !ok {
		t.Error("missing pattern")
	}
	if _, ok := set["the"]; ok {
		t.Error("stopword kept")
	}
	if _, ok := set["42"]; ok {
		t.Error("non-alphabetic token kept")
	}
	if _, ok := set["ok"]; ok {
		t.Error("short token kept")
	}
}
