package search

import (
	"strings"

	"github.com/hsn0918/bookrag/internal/index"
)

// Feature weights of the reranker. They intentionally sum to 1 so the
// reranked score stays in [0,1].
const (
	weightVector  = 0.4
	weightKeyword = 0.3
	weightLength  = 0.1
	weightDensity = 0.2
)

// Rerank rescores candidates with the feature-weighted formula and returns
// the top k. It never changes the candidate set, only order and cutoff:
//
//	score = 0.4*vector + 0.3*keywordHit + 0.1*lengthPreference + 0.2*density
//
// The length preference is calibrated to child-sized segments, which is why
// reranking runs before small-to-big promotion.
func Rerank(candidates []index.SearchResult, query string, k int) []index.SearchResult {
	tokens := QueryTokens(query)

	out := make([]index.SearchResult, len(candidates))
	for i, c := range candidates {
		out[i] = index.SearchResult{
			Segment: c.Segment,
			Score:   rerankScore(c, tokens),
		}
	}
	index.SortByScore(out)
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

func rerankScore(c index.SearchResult, tokens []string) float64 {
	text := strings.ToLower(c.Segment.Text)
	length := len([]rune(text))

	score := weightVector * clamp01(c.Score)
	score += weightKeyword * keywordHitRatio(text, tokens)
	score += weightLength * lengthPreference(length)
	score += weightDensity * keywordDensity(text, length, tokens)
	return score
}

// keywordHitRatio is the share of query tokens present in the text.
func keywordHitRatio(text string, tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	hits := 0
	for _, t := range tokens {
		if strings.Contains(text, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens))
}

// lengthPreference favours the 100-500 char window of child segments and
// tapers off on both sides.
func lengthPreference(length int) float64 {
	switch {
	case length < 100:
		return float64(length) / 100 * 0.5
	case length <= 500:
		return 1.0
	default:
		over := float64(length-500) / 500
		if over > 0.5 {
			over = 0.5
		}
		return 1 - over
	}
}

// keywordDensity measures total token occurrences relative to text length,
// saturating at 1.
func keywordDensity(text string, length int, tokens []string) float64 {
	if length == 0 || len(tokens) == 0 {
		return 0
	}
	unit := float64(length) / 5
	if unit == 0 {
		return 0
	}
	density := 0.0
	for _, t := range tokens {
		density += float64(strings.Count(text, t)) / unit
	}
	d := density / 2
	if d > 1 {
		return 1
	}
	return d
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
