package index

import (
	"context"
	"math"
	"strings"
	"unicode"
)

// LexicalSearch scores every child against the query tokens and returns the
// top k with score > 0, descending. Scoring per token combines raw
// frequency, a position weight favouring early matches, and an exact-match
// bonus for whole-word occurrences; the sum is normalised by twice the token
// count and clamped to [0,1].
func (m *Memory) LexicalSearch(ctx context.Context, query string, k int) ([]SearchResult, error) {
	if !m.ready {
		return nil, ErrNotReady
	}
	tokens := LexicalTokens(query)
	if len(tokens) == 0 || k <= 0 {
		return nil, nil
	}

	var results []SearchResult
	for i := range m.children {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		score := lexicalScore(m.children[i].Text, tokens)
		if score > 0 {
			results = append(results, SearchResult{Segment: &m.children[i], Score: score})
		}
	}
	SortByScore(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// LexicalTokens tokenises a query for lexical scoring: split on whitespace,
// lowercase, strip non-alphanumeric runes, drop tokens of length <= 2.
func LexicalTokens(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		var b strings.Builder
		for _, r := range f {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(r)
			}
		}
		if t := b.String(); len([]rune(t)) > 2 {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

func lexicalScore(text string, tokens []string) float64 {
	lower := strings.ToLower(text)
	length := len(lower)
	if length == 0 {
		return 0
	}

	total := 0.0
	for _, token := range tokens {
		first := strings.Index(lower, token)
		if first < 0 {
			continue
		}
		frequency := math.Log(1 + float64(strings.Count(lower, token)))

		position := 1.0
		switch {
		case first < length/4:
			position = 1.5
		case first < length/2:
			position = 1.2
		}

		exact := 1.0
		if isWordBounded(lower, first, len(token)) {
			exact = 1.3
		}
		total += frequency * position * exact
	}

	score := total / (2 * float64(len(tokens)))
	if score > 1 {
		return 1
	}
	return score
}

// isWordBounded reports whether the match at [start, start+n) is delimited
// by non-alphanumeric characters or the text edges.
func isWordBounded(text string, start, n int) bool {
	if start > 0 && isAlnumByte(text[start-1]) {
		return false
	}
	if end := start + n; end < len(text) && isAlnumByte(text[end]) {
		return false
	}
	return true
}

func isAlnumByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
