package search

import (
	"github.com/hsn0918/bookrag/internal/index"
)

// DefaultRRFConstant is the classic k=60 from the reciprocal-rank fusion
// literature.
const DefaultRRFConstant = 60

// FuseRRF combines ranked hit lists with reciprocal-rank fusion: a result
// at 0-based rank r in any list contributes 1/(k + r + 1) under its segment
// key. The fused list is sorted by accumulated score descending with
// document-position tie-breaking.
func FuseRRF(k int, lists ...[]index.SearchResult) []index.SearchResult {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	fused := make(map[string]*index.SearchResult)
	var order []string
	for _, list := range lists {
		for rank, res := range list {
			if res.Segment == nil {
				continue
			}
			contribution := 1.0 / float64(k+rank+1)
			if entry, ok := fused[res.Segment.ID]; ok {
				entry.Score += contribution
				continue
			}
			fused[res.Segment.ID] = &index.SearchResult{Segment: res.Segment, Score: contribution}
			order = append(order, res.Segment.ID)
		}
	}

	out := make([]index.SearchResult, 0, len(order))
	for _, id := range order {
		out = append(out, *fused[id])
	}
	index.SortByScore(out)
	return out
}

// MergeByText unions two result lists deduplicating by segment text, keeping
// the higher score for duplicates. Used to merge the two hybrid branches.
func MergeByText(lists ...[]index.SearchResult) []index.SearchResult {
	best := make(map[string]index.SearchResult)
	var order []string
	for _, list := range lists {
		for _, res := range list {
			if res.Segment == nil {
				continue
			}
			key := res.Segment.Text
			if prev, ok := best[key]; ok {
				if res.Score > prev.Score {
					best[key] = res
				}
				continue
			}
			best[key] = res
			order = append(order, key)
		}
	}

	out := make([]index.SearchResult, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	index.SortByScore(out)
	return out
}
