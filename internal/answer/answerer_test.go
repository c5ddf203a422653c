package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hsn0918/bookrag/internal/expand"
	"github.com/hsn0918/bookrag/internal/index"
	"github.com/hsn0918/bookrag/internal/prompts"
	"github.com/hsn0918/bookrag/internal/retrieval"
	"github.com/hsn0918/bookrag/pkg/chunking"
	"github.com/hsn0918/bookrag/pkg/clients/openai"
)

// recordingGenerator captures the messages of the last call and streams a
// fixed answer in fragments.
type recordingGenerator struct {
	lastMessages []openai.Message
	answer       string
	failAfter    int // fail after this many fragments; 0 means never
}

func (g *recordingGenerator) Call(ctx context.Context, messages []openai.Message) (string, error) {
	var b strings.Builder
	err := g.Stream(ctx, messages, func(d string) error {
		b.WriteString(d)
		return nil
	})
	return b.String(), err
}

func (g *recordingGenerator) Stream(_ context.Context, messages []openai.Message, onDelta func(string) error) error {
	g.lastMessages = messages
	fragments := strings.SplitAfter(g.answer, " ")
	for i, f := range fragments {
		if g.failAfter > 0 && i >= g.failAfter {
			return errors.New("stream interrupted")
		}
		if err := onDelta(f); err != nil {
			return err
		}
	}
	return nil
}

type fixedEmbedder struct{ dims int }

func (e *fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	vec := make([]float32, e.dims)
	vec[0] = 1
	return vec, nil
}

func (e *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = e.Embed(ctx, texts[i])
	}
	return out, nil
}

func (e *fixedEmbedder) Dimensions() int { return e.dims }

func itemThreeIndex(t *testing.T) *index.Memory {
	t.Helper()
	m := index.NewMemory()
	parents := []chunking.Segment{
		{ID: "p0", Kind: chunking.KindParent,
			Text:     "Enforce the singleton property with a private constructor or an enum type.",
			Metadata: chunking.Metadata{ParentIndex: 0, ItemID: "item-3", ItemLabel: "Item 3"}},
	}
	children := []chunking.Segment{
		{ID: "c0", Kind: chunking.KindChild, Text: "a singleton is a class instantiated once",
			Metadata: chunking.Metadata{ParentID: "p0", ParentIndex: 0, ChildIndex: 0, ItemID: "item-3", ItemLabel: "Item 3"}},
	}
	if err := m.Ingest(index.Document{Name: "book"}, parents, children, [][]float32{{1, 0}}); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	return m
}

func newTestAnswerer(t *testing.T, gen openai.Generator, capacity int) *Answerer {
	t.Helper()
	pm := prompts.NewPromptManager("Effective Java")
	emb := &fixedEmbedder{dims: 2}
	exp := expand.New(gen, pm, expand.Config{})
	retr := retrieval.New(itemThreeIndex(t), emb, exp, retrieval.Config{
		HybridSearch: false, Candidates: 10, TopK: 5, RRFK: 60,
	})
	return New(retr, gen, pm, capacity)
}

func TestAnswer_SystemPromptCarriesLabelledSources(t *testing.T) {
	gen := &recordingGenerator{answer: "Use an enum type."}
	a := newTestAnswerer(t, gen, 10)

	text, err := a.Answer(context.Background(), "s1", ModeRAG, "How do I enforce the singleton property?")
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if text != "Use an enum type." {
		t.Errorf("answer = %q", text)
	}
	if len(gen.lastMessages) == 0 || gen.lastMessages[0].Role != openai.RoleSystem {
		t.Fatal("first message is not the system prompt")
	}
	system := gen.lastMessages[0].Content
	if !strings.Contains(system, "[Source 1: Item 3]") {
		t.Errorf("system prompt missing labelled source, got:\n%s", system)
	}
	if !strings.Contains(system, "private constructor or an enum type") {
		t.Error("system prompt missing the parent passage text")
	}
}

func TestAnswer_PlainModeSkipsRetrieval(t *testing.T) {
	gen := &recordingGenerator{answer: "Just an opinion."}
	a := newTestAnswerer(t, gen, 10)

	if _, err := a.Answer(context.Background(), "s1", ModePlain, "What do you think?"); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	for _, msg := range gen.lastMessages {
		if msg.Role == openai.RoleSystem {
			t.Error("plain mode must not carry a retrieval system prompt")
		}
	}
}

func TestAnswer_MemoryCarriedIntoNextTurn(t *testing.T) {
	gen := &recordingGenerator{answer: "First answer."}
	a := newTestAnswerer(t, gen, 10)

	if _, err := a.Answer(context.Background(), "s1", ModeRAG, "first question"); err != nil {
		t.Fatalf("first turn failed: %v", err)
	}
	if _, err := a.Answer(context.Background(), "s1", ModeRAG, "second question"); err != nil {
		t.Fatalf("second turn failed: %v", err)
	}

	var sawPriorUser, sawPriorAssistant bool
	for _, msg := range gen.lastMessages {
		if msg.Role == openai.RoleUser && msg.Content == "first question" {
			sawPriorUser = true
		}
		if msg.Role == openai.RoleAssistant && msg.Content == "First answer." {
			sawPriorAssistant = true
		}
	}
	if !sawPriorUser || !sawPriorAssistant {
		t.Error("second turn does not carry the first exchange")
	}
}

func TestAnswer_StreamFailureLeavesMemoryUntouched(t *testing.T) {
	gen := &recordingGenerator{answer: "This answer breaks midway through.", failAfter: 2}
	a := newTestAnswerer(t, gen, 10)

	if _, err := a.Answer(context.Background(), "s1", ModeRAG, "failing question"); err == nil {
		t.Fatal("expected stream error")
	}

	// A later successful turn must not see the failed exchange.
	gen.failAfter = 0
	gen.answer = "Recovered."
	if _, err := a.Answer(context.Background(), "s1", ModeRAG, "next question"); err != nil {
		t.Fatalf("recovery turn failed: %v", err)
	}
	for _, msg := range gen.lastMessages {
		if strings.Contains(msg.Content, "failing question") {
			t.Error("failed exchange leaked into memory")
		}
	}
}

func TestAnswer_EmptyPrompt(t *testing.T) {
	gen := &recordingGenerator{answer: "x"}
	a := newTestAnswerer(t, gen, 10)
	if _, err := a.Answer(context.Background(), "s1", ModeRAG, "   "); err == nil {
		t.Error("expected error for empty prompt")
	}
}

func TestMemory_EvictsOldestBeyondCapacity(t *testing.T) {
	m := NewMemory(4) // two exchanges
	m.Append("q1", "a1")
	m.Append("q2", "a2")
	m.Append("q3", "a3")

	turns := m.Turns()
	if len(turns) != 4 {
		t.Fatalf("got %d turns, want 4", len(turns))
	}
	if turns[0].Text != "q2" {
		t.Errorf("oldest surviving turn = %q, want q2", turns[0].Text)
	}
	if turns[3].Text != "a3" {
		t.Errorf("newest turn = %q, want a3", turns[3].Text)
	}
}

func TestSessionStore_ModeSwitchClearsMemory(t *testing.T) {
	s := newSessionStore(10)
	sess := s.get("s1", ModeRAG)
	sess.memory.Append("q1", "a1")

	switched := s.get("s1", ModePlain)
	if switched.memory.Len() != 0 {
		t.Error("mode switch kept previous memory")
	}
	if switched.mode != ModePlain {
		t.Errorf("mode = %v, want plain", switched.mode)
	}

	// Same mode keeps memory.
	switched.memory.Append("q2", "a2")
	same := s.get("s1", ModePlain)
	if same.memory.Len() != 2 {
		t.Error("same-mode lookup lost memory")
	}
}

func TestSessionStore_Isolation(t *testing.T) {
	s := newSessionStore(10)
	s.get("a", ModeRAG).memory.Append("qa", "aa")
	if s.get("b", ModeRAG).memory.Len() != 0 {
		t.Error("sessions share memory")
	}
	s.clear("a")
	if s.get("a", ModeRAG).memory.Len() != 0 {
		t.Error("clear did not wipe session memory")
	}
}
