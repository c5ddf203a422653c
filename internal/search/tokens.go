// Package search holds the ranking math of the retrieval pipeline:
// reciprocal-rank fusion of vector and lexical hit lists, and the
// feature-weighted reranker applied before small-to-big promotion.
package search

import (
	"strings"
	"unicode"
)

// stopwords is the standard short English stoplist used by the reranker and
// the evaluation keyword metrics.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "can": {}, "do": {}, "for": {},
	"from": {}, "has": {}, "have": {}, "how": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "not": {}, "of": {}, "on": {}, "or": {},
	"should": {}, "that": {}, "the": {}, "this": {}, "to": {}, "was": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {},
	"why": {}, "will": {}, "with": {}, "would": {}, "you": {},
}

// IsStopword reports whether a lowercased token is on the stoplist.
func IsStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}

// QueryTokens splits a query into lowercased non-stopword tokens for
// keyword-hit scoring.
func QueryTokens(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if f == "" || IsStopword(f) {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// KeywordSet extracts the alphabetic, >= 3 character, non-stopword tokens of
// a text, lowercased. It is the K(x) used by the evaluation metrics.
func KeywordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, f := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		if len([]rune(f)) < 3 || IsStopword(f) {
			continue
		}
		set[f] = struct{}{}
	}
	return set
}
