package chunking

import (
	"strings"
	"unicode"
)

const minSentenceRunes = 10

// isTerminator reports whether r ends a sentence.
func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// splitSentences breaks text into sentence fragments using a two-pass
// heuristic. The strict pass breaks after a terminator followed by
// whitespace and an uppercase letter, or a terminator followed by a newline.
// If that yields fewer than 10 sentences the relaxed pass breaks after any
// terminator followed by whitespace. Fragments shorter than 10 runes are
// discarded in both passes.
func splitSentences(text string) []string {
	sentences := splitAt(text, strictBoundary)
	if len(sentences) < 10 {
		relaxed := splitAt(text, relaxedBoundary)
		if len(relaxed) > len(sentences) {
			sentences = relaxed
		}
	}
	return sentences
}

// strictBoundary reports whether a sentence ends at runes[i]: a terminator
// followed by whitespace and then an uppercase letter, or followed by a
// newline.
func strictBoundary(runes []rune, i int) bool {
	if !isTerminator(runes[i]) {
		return false
	}
	j := i + 1
	if j >= len(runes) {
		return true
	}
	if runes[j] == '\n' || runes[j] == '\r' {
		return true
	}
	if !unicode.IsSpace(runes[j]) {
		return false
	}
	for j < len(runes) && unicode.IsSpace(runes[j]) {
		if runes[j] == '\n' || runes[j] == '\r' {
			return true
		}
		j++
	}
	return j < len(runes) && unicode.IsUpper(runes[j])
}

// relaxedBoundary reports whether runes[i] is a terminator followed by any
// whitespace.
func relaxedBoundary(runes []rune, i int) bool {
	if !isTerminator(runes[i]) {
		return false
	}
	j := i + 1
	return j >= len(runes) || unicode.IsSpace(runes[j])
}

func splitAt(text string, boundary func([]rune, int) bool) []string {
	runes := []rune(text)
	var out []string
	start := 0
	flush := func(end int) {
		frag := strings.TrimSpace(string(runes[start:end]))
		if len([]rune(frag)) >= minSentenceRunes {
			out = append(out, frag)
		}
		start = end
	}
	for i := 0; i < len(runes); i++ {
		if boundary(runes, i) {
			flush(i + 1)
		}
	}
	if start < len(runes) {
		flush(len(runes))
	}
	return out
}

// countSentences estimates how many sentences a chunk holds by counting
// terminators followed by whitespace or end of text.
func countSentences(text string) int {
	runes := []rune(text)
	n := 0
	for i := 0; i < len(runes); i++ {
		if relaxedBoundary(runes, i) {
			n++
		}
	}
	if n == 0 && strings.TrimSpace(text) != "" {
		n = 1
	}
	return n
}

// sentenceBoundaries returns the rune offsets immediately after each
// terminator within the chunk, candidates for split snapping.
func sentenceBoundaries(runes []rune) []int {
	var out []int
	for i := 0; i < len(runes)-1; i++ {
		if isTerminator(runes[i]) && unicode.IsSpace(runes[i+1]) {
			out = append(out, i+1)
		}
	}
	return out
}
