package chunking

import (
	"fmt"
	"regexp"
)

// Structural heading patterns, English plus the book's secondary language.
var (
	itemPatternEN    = regexp.MustCompile(`(?i)\bitem\s+(\d+)`)
	itemPatternZH    = regexp.MustCompile(`条目\s*(\d+)`)
	chapterPatternEN = regexp.MustCompile(`(?i)\bchapter\s+(\d+)`)
	chapterPatternZH = regexp.MustCompile(`第\s*(\d+)\s*章`)
	sectionPatternEN = regexp.MustCompile(`(?i)\bsection\s+(\d+)`)
	sectionPatternZH = regexp.MustCompile(`节\s*(\d+)`)
)

// extractStructure scans a parent text for Item/Chapter/Section headers and
// fills the metadata with the first match of each kind.
func extractStructure(text string, md *Metadata) {
	if id := firstMatch(text, itemPatternEN, itemPatternZH); id != "" {
		md.ItemID = id
		md.ItemLabel = fmt.Sprintf("Item %s", id)
	}
	if id := firstMatch(text, chapterPatternEN, chapterPatternZH); id != "" {
		md.ChapterID = id
		md.ChapterLabel = fmt.Sprintf("Chapter %s", id)
	}
	if id := firstMatch(text, sectionPatternEN, sectionPatternZH); id != "" {
		md.SectionID = id
		md.SectionLabel = fmt.Sprintf("Section %s", id)
	}
}

// firstMatch returns the captured digits of whichever pattern matches
// earliest in the text, or "" when neither matches.
func firstMatch(text string, patterns ...*regexp.Regexp) string {
	best := -1
	digits := ""
	for _, p := range patterns {
		loc := p.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		if best == -1 || loc[0] < best {
			best = loc[0]
			digits = text[loc[2]:loc[3]]
		}
	}
	return digits
}
