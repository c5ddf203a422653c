package index

import (
	"context"
	"errors"
	"testing"

	"github.com/hsn0918/bookrag/pkg/chunking"
)

// fixture builds a three-parent index whose children sit on distinct axes of
// a 4-dim embedding space, so vector similarity against a basis query is
// exactly 1 for one child and 0 for the rest.
func fixture(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	parents := []chunking.Segment{
		{ID: "p0", Kind: chunking.KindParent, Text: "Item 1: Consider static factory methods instead of constructors.",
			Metadata: chunking.Metadata{ParentIndex: 0, ItemID: "item-1", ItemLabel: "Item 1"}},
		{ID: "p1", Kind: chunking.KindParent, Text: "Item 2: Consider a builder when faced with many constructor parameters.",
			Metadata: chunking.Metadata{ParentIndex: 1, ItemID: "item-2", ItemLabel: "Item 2"}},
		{ID: "p2", Kind: chunking.KindParent, Text: "Item 3: Enforce the singleton property with a private constructor or an enum type.",
			Metadata: chunking.Metadata{ParentIndex: 2, ItemID: "item-3", ItemLabel: "Item 3"}},
	}
	children := []chunking.Segment{
		{ID: "c0", Kind: chunking.KindChild, Text: "static factory methods have names",
			Metadata: chunking.Metadata{ParentID: "p0", ParentIndex: 0, ChildIndex: 0, ItemID: "item-1", ItemLabel: "Item 1"}},
		{ID: "c1", Kind: chunking.KindChild, Text: "the builder pattern simulates named optional parameters",
			Metadata: chunking.Metadata{ParentID: "p1", ParentIndex: 1, ChildIndex: 0, ItemID: "item-2", ItemLabel: "Item 2"}},
		{ID: "c2", Kind: chunking.KindChild, Text: "a singleton is a class that is instantiated exactly once",
			Metadata: chunking.Metadata{ParentID: "p2", ParentIndex: 2, ChildIndex: 0, ItemID: "item-3", ItemLabel: "Item 3"}},
		{ID: "c3", Kind: chunking.KindChild, Text: "enum types provide the singleton guarantee for free",
			Metadata: chunking.Metadata{ParentID: "p2", ParentIndex: 2, ChildIndex: 1, ItemID: "item-3", ItemLabel: "Item 3"}},
	}
	embeddings := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
	doc := Document{Name: "effective-java.pdf", Bytes: 1024}
	if err := m.Ingest(doc, parents, children, embeddings); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	return m
}

func TestIngest_Validation(t *testing.T) {
	tests := []struct {
		name       string
		children   []chunking.Segment
		embeddings [][]float32
	}{
		{"count mismatch", []chunking.Segment{{ID: "c0"}}, [][]float32{{1}, {0}}},
		{"no children", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMemory()
			err := m.Ingest(Document{}, nil, tt.children, tt.embeddings)
			if !errors.Is(err, ErrLengthMismatch) {
				t.Errorf("Ingest error = %v, want ErrLengthMismatch", err)
			}
			if m.Ready() {
				t.Error("index became ready after failed ingest")
			}
		})
	}
}

func TestIngest_DocumentRecord(t *testing.T) {
	m := fixture(t)
	doc := m.Document()
	if doc.Parents != 3 || doc.Children != 4 {
		t.Errorf("Document counts = %d/%d, want 3/4", doc.Parents, doc.Children)
	}
	if doc.Dimensions != 4 {
		t.Errorf("Dimensions = %d, want 4", doc.Dimensions)
	}
	if doc.IngestedAt.IsZero() {
		t.Error("IngestedAt not set")
	}
}

func TestVectorSearch_TopKDescending(t *testing.T) {
	m := fixture(t)
	results, err := m.VectorSearch(context.Background(), []float32{0, 0, 1, 0}, 2)
	if err != nil {
		t.Fatalf("VectorSearch failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Segment.ID != "c2" {
		t.Errorf("top result = %s, want c2", results[0].Segment.ID)
	}
	if results[0].Score != 1 {
		t.Errorf("top score = %v, want 1", results[0].Score)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not descending at %d", i)
		}
	}
}

func TestVectorSearch_Deterministic(t *testing.T) {
	m := fixture(t)
	query := []float32{0.5, 0.5, 0.5, 0.5}
	first, err := m.VectorSearch(context.Background(), query, 4)
	if err != nil {
		t.Fatalf("VectorSearch failed: %v", err)
	}
	for run := 0; run < 10; run++ {
		again, err := m.VectorSearch(context.Background(), query, 4)
		if err != nil {
			t.Fatalf("VectorSearch failed: %v", err)
		}
		for i := range first {
			if again[i].Segment.ID != first[i].Segment.ID {
				t.Fatalf("run %d: order differs at %d: %s vs %s",
					run, i, again[i].Segment.ID, first[i].Segment.ID)
			}
		}
	}
}

func TestVectorSearch_TieBreakByPosition(t *testing.T) {
	m := fixture(t)
	// Equidistant from every child: all scores identical, order must follow
	// document position.
	results, err := m.VectorSearch(context.Background(), []float32{1, 1, 1, 1}, 4)
	if err != nil {
		t.Fatalf("VectorSearch failed: %v", err)
	}
	want := []string{"c0", "c1", "c2", "c3"}
	for i, id := range want {
		if results[i].Segment.ID != id {
			t.Errorf("results[%d] = %s, want %s", i, results[i].Segment.ID, id)
		}
	}
}

func TestVectorSearch_Errors(t *testing.T) {
	empty := NewMemory()
	if _, err := empty.VectorSearch(context.Background(), []float32{1}, 5); !errors.Is(err, ErrNotReady) {
		t.Errorf("unready search error = %v, want ErrNotReady", err)
	}
	m := fixture(t)
	if _, err := m.VectorSearch(context.Background(), nil, 5); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("empty query error = %v, want ErrEmptyQuery", err)
	}
}

func TestLexicalSearch_ScoresAndOrder(t *testing.T) {
	m := fixture(t)
	results, err := m.LexicalSearch(context.Background(), "singleton enum", 10)
	if err != nil {
		t.Fatalf("LexicalSearch failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (only singleton children match)", len(results))
	}
	for _, res := range results {
		if res.Segment.Metadata.ParentID != "p2" {
			t.Errorf("unexpected hit %s from parent %s", res.Segment.ID, res.Segment.Metadata.ParentID)
		}
		if res.Score <= 0 || res.Score > 1 {
			t.Errorf("score %v out of (0,1]", res.Score)
		}
	}
	// c3 matches both tokens, c2 only one.
	if results[0].Segment.ID != "c3" {
		t.Errorf("top lexical hit = %s, want c3", results[0].Segment.ID)
	}
}

func TestLexicalSearch_DropsShortTokens(t *testing.T) {
	m := fixture(t)
	// Every token has <= 2 letters after stripping, so no search happens.
	results, err := m.LexicalSearch(context.Background(), "a of to 42", 10)
	if err != nil {
		t.Fatalf("LexicalSearch failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results for short-token query, want 0", len(results))
	}
}

func TestLexicalTokens(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"Static Factory Methods", []string{"static", "factory", "methods"}},
		{"a an to", nil},
		{"builder, pattern!", []string{"builder", "pattern"}},
		{"", nil},
	}
	for _, tt := range tests {
		got := LexicalTokens(tt.query)
		if len(got) != len(tt.want) {
			t.Errorf("LexicalTokens(%q) = %v, want %v", tt.query, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("LexicalTokens(%q)[%d] = %q, want %q", tt.query, i, got[i], tt.want[i])
			}
		}
	}
}

func TestParentOf(t *testing.T) {
	m := fixture(t)
	children := m.Children()
	for i := range children {
		parent := m.ParentOf(&children[i])
		if parent == nil {
			t.Fatalf("ParentOf(%s) = nil", children[i].ID)
		}
		if parent.ID != children[i].Metadata.ParentID {
			t.Errorf("ParentOf(%s) = %s, want %s", children[i].ID, parent.ID, children[i].Metadata.ParentID)
		}
	}
	orphan := chunking.Segment{ID: "cx", Metadata: chunking.Metadata{ParentID: "missing"}}
	if m.ParentOf(&orphan) != nil {
		t.Error("ParentOf with unknown parent id should be nil")
	}
	if m.ParentOf(nil) != nil {
		t.Error("ParentOf(nil) should be nil")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite clamps to zero", []float32{1, 0}, []float32{-1, 0}, 0},
		{"dimension mismatch", []float32{1, 0}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cosineSimilarity(tt.a, tt.b); got != tt.want {
				t.Errorf("cosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}
