package evaluation

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/hsn0918/bookrag/internal/search"
)

// relevantThreshold is the keyword-precision cutoff above which a retrieved
// source counts as relevant.
const relevantThreshold = 0.3

// contextPrecision scores how well the retrieved sources match the segment
// the question was synthesised from:
//
//	0.5 * (relevant sources / retrieved sources) + 0.5 * mean(precision)
//
// where a source's precision is the share of its keywords that also occur
// in the ground-truth source.
func contextPrecision(sources []string, groundSource string) float64 {
	if len(sources) == 0 {
		return 0
	}
	truth := search.KeywordSet(groundSource)
	if len(truth) == 0 {
		return 0
	}

	relevant := 0
	var sum float64
	for _, src := range sources {
		prec := keywordPrecision(search.KeywordSet(src), truth)
		sum += prec
		if prec > relevantThreshold {
			relevant++
		}
	}
	ratio := float64(relevant) / float64(len(sources))
	mean := sum / float64(len(sources))
	return clamp01(0.5*ratio + 0.5*mean)
}

func keywordPrecision(source, truth map[string]struct{}) float64 {
	if len(source) == 0 {
		return 0
	}
	hits := 0
	for k := range source {
		if _, ok := truth[k]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(source))
}

// answerSimilarity combines keyword overlap and character-level closeness:
//
//	0.6 * Jaccard(K(answer), K(truth)) + 0.4 * (1 - Levenshtein / maxLen)
func answerSimilarity(answer, groundTruth string) float64 {
	jaccard := jaccardKeywords(answer, groundTruth)

	aLower := strings.ToLower(answer)
	gLower := strings.ToLower(groundTruth)
	maxLen := len([]rune(aLower))
	if n := len([]rune(gLower)); n > maxLen {
		maxLen = n
	}
	edit := 0.0
	if maxLen > 0 {
		dist := levenshtein.ComputeDistance(aLower, gLower)
		edit = 1 - float64(dist)/float64(maxLen)
	}
	return clamp01(0.6*jaccard + 0.4*edit)
}

func jaccardKeywords(a, b string) float64 {
	ka, kb := search.KeywordSet(a), search.KeywordSet(b)
	if len(ka) == 0 && len(kb) == 0 {
		return 0
	}
	inter := 0
	for k := range ka {
		if _, ok := kb[k]; ok {
			inter++
		}
	}
	union := len(ka) + len(kb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
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
