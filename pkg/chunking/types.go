// Package chunking splits a document into a two-level Parent/Child segment
// hierarchy. Parents carry semantic breakpoint boundaries and structural
// metadata; children are fixed-size overlapping windows used for vector
// search.
package chunking

import "errors"

// Common errors.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrEmptyContent  = errors.New("empty content")
	ErrChunkingFailed = errors.New("chunking failed")
)

// Kind distinguishes parent segments from child windows.
type Kind string

const (
	KindParent Kind = "parent"
	KindChild  Kind = "child"
)

// Metadata carries a segment's position and structural labels. Structural
// fields are inherited unchanged from parent to children.
type Metadata struct {
	ParentID    string
	ParentIndex int
	ChildIndex  int

	ItemID       string
	ItemLabel    string
	ChapterID    string
	ChapterLabel string
	SectionID    string
	SectionLabel string
}

// Segment is a contiguous text span from the source document. Immutable once
// created; destroyed only by reindexing.
type Segment struct {
	ID       string
	Kind     Kind
	Text     string
	Metadata Metadata
}

// StructuralLabel returns the most specific human-readable label, preferring
// Item over Chapter over Section, or "" when none matched.
func (s *Segment) StructuralLabel() string {
	switch {
	case s.Metadata.ItemLabel != "":
		return s.Metadata.ItemLabel
	case s.Metadata.ChapterLabel != "":
		return s.Metadata.ChapterLabel
	case s.Metadata.SectionLabel != "":
		return s.Metadata.SectionLabel
	default:
		return ""
	}
}

// Result is the output of chunking one document: parents in document order
// and all children in (parent, child) order.
type Result struct {
	Parents  []Segment
	Children []Segment
}
