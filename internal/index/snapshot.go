package index

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/hsn0918/bookrag/internal/metrics"
	"github.com/hsn0918/bookrag/pkg/chunking"
	"github.com/hsn0918/bookrag/pkg/logger"
)

// SnapshotFile is the conventional snapshot filename under the index dir.
const SnapshotFile = "vector-store.json"

// parentIDPrefix tags each persisted child text with its owning parent so
// the child-to-parent mapping survives a reload.
const parentIDPrefix = "<!--PARENT_ID:"

var parentIDPattern = regexp.MustCompile(`^<!--PARENT_ID:([^>]*)-->`)

type snapshotChunk struct {
	Text string `json:"text"`
}

// snapshotParent is the extension that persists parent texts and structural
// metadata, so reloads keep small-to-big promotion lossless. Legacy
// snapshots omit it and load with degraded placeholder parents.
type snapshotParent struct {
	ID           string `json:"id"`
	Index        int    `json:"index"`
	Text         string `json:"text"`
	ItemID       string `json:"itemId,omitempty"`
	ItemLabel    string `json:"itemLabel,omitempty"`
	ChapterID    string `json:"chapterId,omitempty"`
	ChapterLabel string `json:"chapterLabel,omitempty"`
	SectionID    string `json:"sectionId,omitempty"`
	SectionLabel string `json:"sectionLabel,omitempty"`
}

type snapshotFile struct {
	FileName   string           `json:"fileName"`
	Chunks     []snapshotChunk  `json:"chunks"`
	Embeddings [][]float64      `json:"embeddings"`
	Parents    []snapshotParent `json:"parents,omitempty"`
}

// Save writes the index snapshot atomically: marshal, write a temp file in
// the target directory, rename over the destination.
func (m *Memory) Save(path string) error {
	if !m.ready {
		return ErrNotReady
	}

	snap := snapshotFile{
		FileName:   m.doc.Name,
		Chunks:     make([]snapshotChunk, len(m.children)),
		Embeddings: make([][]float64, len(m.embeddings)),
		Parents:    make([]snapshotParent, len(m.parents)),
	}
	for i, child := range m.children {
		snap.Chunks[i] = snapshotChunk{
			Text: parentIDPrefix + child.Metadata.ParentID + "-->" + child.Text,
		}
	}
	for i, vec := range m.embeddings {
		wide := make([]float64, len(vec))
		for j, v := range vec {
			wide[j] = float64(v)
		}
		snap.Embeddings[i] = wide
	}
	for i, p := range m.parents {
		snap.Parents[i] = snapshotParent{
			ID:           p.ID,
			Index:        p.Metadata.ParentIndex,
			Text:         p.Text,
			ItemID:       p.Metadata.ItemID,
			ItemLabel:    p.Metadata.ItemLabel,
			ChapterID:    p.Metadata.ChapterID,
			ChapterLabel: p.Metadata.ChapterLabel,
			SectionID:    p.Metadata.SectionID,
			SectionLabel: p.Metadata.SectionLabel,
		}
	}

	data, err := sonic.ConfigDefault.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vector-store-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace snapshot: %w", err)
	}

	logger.Get().Info("index snapshot saved",
		slog.String("path", path),
		slog.Int("children", len(m.children)),
		slog.Int("parents", len(m.parents)),
	)
	return nil
}

// Load restores the index from a snapshot. A length mismatch between chunks
// and embeddings marks the file corrupt: it is deleted and the caller gets
// ErrEmbeddingMismatch so it re-ingests from the source document.
func (m *Memory) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshotFile
	if err := sonic.Unmarshal(data, &snap); err != nil {
		return m.corrupt(path, fmt.Errorf("parse snapshot: %w", err))
	}
	if len(snap.Chunks) != len(snap.Embeddings) || len(snap.Chunks) == 0 {
		return m.corrupt(path, fmt.Errorf("%w: %d chunks, %d embeddings",
			ErrEmbeddingMismatch, len(snap.Chunks), len(snap.Embeddings)))
	}
	dims := len(snap.Embeddings[0])
	for _, vec := range snap.Embeddings {
		if len(vec) != dims {
			return m.corrupt(path, fmt.Errorf("%w: ragged embedding dimensions", ErrEmbeddingMismatch))
		}
	}

	parents, children, embeddings := rebuild(snap)

	doc := Document{Name: snap.FileName}
	if err := m.Ingest(doc, parents, children, embeddings); err != nil {
		return m.corrupt(path, err)
	}

	if len(snap.Parents) == 0 {
		logger.Get().Warn("legacy snapshot without parent texts: placeholder parents will degrade small-to-big promotion",
			slog.String("path", path),
			slog.Int("parents", len(parents)),
		)
	}
	logger.Get().Info("index snapshot loaded",
		slog.String("path", path),
		slog.String("document", snap.FileName),
		slog.Int("children", len(children)),
	)
	return nil
}

// corrupt deletes an unusable snapshot file and reports the cause wrapped
// in ErrEmbeddingMismatch so callers can trigger re-ingestion.
func (m *Memory) corrupt(path string, cause error) error {
	metrics.SnapshotMismatches.Inc()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Get().Error("failed to remove corrupt snapshot",
			slog.String("path", path), slog.Any("error", err))
	}
	if errors.Is(cause, ErrEmbeddingMismatch) {
		return cause
	}
	return fmt.Errorf("%w: %v", ErrEmbeddingMismatch, cause)
}

// rebuild reconstructs segments from a snapshot. With the parents extension
// present the parents restore losslessly; otherwise each parent becomes a
// placeholder carrying its first child's text.
func rebuild(snap snapshotFile) ([]chunking.Segment, []chunking.Segment, [][]float32) {
	type parentInfo struct {
		index int
		seg   chunking.Segment
	}
	known := make(map[string]parentInfo, len(snap.Parents))
	var parents []chunking.Segment
	for _, sp := range snap.Parents {
		seg := chunking.Segment{
			ID:   sp.ID,
			Kind: chunking.KindParent,
			Text: sp.Text,
			Metadata: chunking.Metadata{
				ParentID:     sp.ID,
				ParentIndex:  sp.Index,
				ItemID:       sp.ItemID,
				ItemLabel:    sp.ItemLabel,
				ChapterID:    sp.ChapterID,
				ChapterLabel: sp.ChapterLabel,
				SectionID:    sp.SectionID,
				SectionLabel: sp.SectionLabel,
			},
		}
		known[sp.ID] = parentInfo{index: len(parents), seg: seg}
		parents = append(parents, seg)
	}

	placeholder := len(parents) == 0
	childCount := make(map[string]int, len(parents))
	children := make([]chunking.Segment, 0, len(snap.Chunks))
	embeddings := make([][]float32, 0, len(snap.Embeddings))

	for i, chunk := range snap.Chunks {
		parentID, text := splitParentPrefix(chunk.Text)
		info, ok := known[parentID]
		if !ok {
			// First sight of this parent id. Legacy path: synthesise a
			// placeholder parent from the child text.
			seg := chunking.Segment{
				ID:   parentID,
				Kind: chunking.KindParent,
				Text: text,
				Metadata: chunking.Metadata{
					ParentID:    parentID,
					ParentIndex: len(parents),
				},
			}
			info = parentInfo{index: len(parents), seg: seg}
			known[parentID] = info
			parents = append(parents, seg)
			if !placeholder {
				logger.Get().Warn("snapshot child references unknown parent",
					slog.String("parent_id", parentID))
			}
		}

		md := info.seg.Metadata
		md.ChildIndex = childCount[parentID]
		childCount[parentID]++
		children = append(children, chunking.Segment{
			ID:       fmt.Sprintf("%s:%d", parentID, md.ChildIndex),
			Kind:     chunking.KindChild,
			Text:     text,
			Metadata: md,
		})

		narrow := make([]float32, len(snap.Embeddings[i]))
		for j, v := range snap.Embeddings[i] {
			narrow[j] = float32(v)
		}
		embeddings = append(embeddings, narrow)
	}
	return parents, children, embeddings
}

// splitParentPrefix peels the inline PARENT_ID comment off a persisted
// child text. Texts without the prefix map to an empty parent id.
func splitParentPrefix(text string) (string, string) {
	if !strings.HasPrefix(text, parentIDPrefix) {
		return "", text
	}
	loc := parentIDPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return "", text
	}
	return text[loc[2]:loc[3]], text[loc[1]:]
}
