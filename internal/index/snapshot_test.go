package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func snapshotPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), SnapshotFile)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	m := fixture(t)
	path := snapshotPath(t)
	if err := m.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restored := NewMemory()
	if err := restored.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !restored.Ready() {
		t.Fatal("restored index not ready")
	}

	// Vector search over the restored index returns the same texts and
	// scores as the original.
	query := []float32{0, 0, 1, 0}
	orig, err := m.VectorSearch(context.Background(), query, 3)
	if err != nil {
		t.Fatalf("VectorSearch on original failed: %v", err)
	}
	again, err := restored.VectorSearch(context.Background(), query, 3)
	if err != nil {
		t.Fatalf("VectorSearch on restored failed: %v", err)
	}
	if len(again) != len(orig) {
		t.Fatalf("restored returned %d results, want %d", len(again), len(orig))
	}
	for i := range orig {
		if again[i].Segment.Text != orig[i].Segment.Text {
			t.Errorf("result %d text differs: %q vs %q", i, again[i].Segment.Text, orig[i].Segment.Text)
		}
		if again[i].Score != orig[i].Score {
			t.Errorf("result %d score differs: %v vs %v", i, again[i].Score, orig[i].Score)
		}
	}
}

func TestSnapshot_PreservesParents(t *testing.T) {
	m := fixture(t)
	path := snapshotPath(t)
	if err := m.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restored := NewMemory()
	if err := restored.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	origParents := m.Parents()
	gotParents := restored.Parents()
	if len(gotParents) != len(origParents) {
		t.Fatalf("restored %d parents, want %d", len(gotParents), len(origParents))
	}
	for i := range origParents {
		if gotParents[i].Text != origParents[i].Text {
			t.Errorf("parent %d text differs", i)
		}
		if gotParents[i].Metadata.ItemLabel != origParents[i].Metadata.ItemLabel {
			t.Errorf("parent %d label = %q, want %q",
				i, gotParents[i].Metadata.ItemLabel, origParents[i].Metadata.ItemLabel)
		}
	}

	// parent_of agreement: every restored child resolves to a parent with
	// the id its metadata names.
	children := restored.Children()
	for i := range children {
		parent := restored.ParentOf(&children[i])
		if parent == nil {
			t.Fatalf("restored child %s has no parent", children[i].ID)
		}
		if parent.ID != children[i].Metadata.ParentID {
			t.Errorf("child %s parent = %s, want %s",
				children[i].ID, parent.ID, children[i].Metadata.ParentID)
		}
	}
}

func TestSnapshot_LegacyWithoutParents(t *testing.T) {
	path := snapshotPath(t)
	legacy := `{
  "fileName": "book.pdf",
  "chunks": [
    {"text": "<!--PARENT_ID:p0-->static factory methods have names"},
    {"text": "<!--PARENT_ID:p0-->they are not required to create a new object"}
  ],
  "embeddings": [[1, 0], [0, 1]]
}`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("write legacy snapshot: %v", err)
	}

	m := NewMemory()
	if err := m.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	children := m.Children()
	if len(children) != 2 {
		t.Fatalf("got %d children, want 2", len(children))
	}
	for i := range children {
		if children[i].Metadata.ParentID != "p0" {
			t.Errorf("child %d parent id = %q, want p0", i, children[i].Metadata.ParentID)
		}
		parent := m.ParentOf(&children[i])
		if parent == nil {
			t.Fatal("placeholder parent not resolvable")
		}
	}
	// Placeholder parent carries the first child's text.
	if got := m.Parents()[0].Text; got != "static factory methods have names" {
		t.Errorf("placeholder parent text = %q", got)
	}
}

func TestSnapshot_CorruptFileDeletedAndMismatchReturned(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "this is not a snapshot"},
		{"count mismatch", `{"fileName":"b","chunks":[{"text":"a"}],"embeddings":[[1],[2]]}`},
		{"ragged dimensions", `{"fileName":"b","chunks":[{"text":"a"},{"text":"b"}],"embeddings":[[1,2],[3]]}`},
		{"empty", `{"fileName":"b","chunks":[],"embeddings":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := snapshotPath(t)
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("write snapshot: %v", err)
			}

			m := NewMemory()
			err := m.Load(path)
			if !errors.Is(err, ErrEmbeddingMismatch) {
				t.Errorf("Load error = %v, want ErrEmbeddingMismatch", err)
			}
			if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
				t.Error("corrupt snapshot file was not deleted")
			}
			if m.Ready() {
				t.Error("index became ready from corrupt snapshot")
			}
		})
	}
}

func TestSnapshot_MissingFile(t *testing.T) {
	m := NewMemory()
	err := m.Load(filepath.Join(t.TempDir(), "absent.json"))
	if err == nil {
		t.Fatal("expected error for missing snapshot")
	}
	if errors.Is(err, ErrEmbeddingMismatch) {
		t.Error("missing file must not be reported as corruption")
	}
}

func TestSplitParentPrefix(t *testing.T) {
	tests := []struct {
		in         string
		wantID     string
		wantText   string
	}{
		{"<!--PARENT_ID:p7-->some text", "p7", "some text"},
		{"no prefix here", "", "no prefix here"},
		{"<!--PARENT_ID:-->empty id", "", "empty id"},
	}
	for _, tt := range tests {
		id, text := splitParentPrefix(tt.in)
		if id != tt.wantID || text != tt.wantText {
			t.Errorf("splitParentPrefix(%q) = (%q, %q), want (%q, %q)",
				tt.in, id, text, tt.wantID, tt.wantText)
		}
	}
}
