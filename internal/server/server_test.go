package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"

	"github.com/hsn0918/bookrag/internal/answer"
	"github.com/hsn0918/bookrag/internal/config"
	"github.com/hsn0918/bookrag/internal/evaluation"
	"github.com/hsn0918/bookrag/internal/expand"
	"github.com/hsn0918/bookrag/internal/index"
	"github.com/hsn0918/bookrag/internal/prompts"
	"github.com/hsn0918/bookrag/internal/retrieval"
	"github.com/hsn0918/bookrag/pkg/chunking"
	"github.com/hsn0918/bookrag/pkg/clients/openai"
)

type echoGenerator struct{ answer string }

func (g *echoGenerator) Call(ctx context.Context, messages []openai.Message) (string, error) {
	var b strings.Builder
	err := g.Stream(ctx, messages, func(d string) error { b.WriteString(d); return nil })
	return b.String(), err
}

func (g *echoGenerator) Stream(_ context.Context, _ []openai.Message, onDelta func(string) error) error {
	for _, part := range strings.SplitAfter(g.answer, " ") {
		if err := onDelta(part); err != nil {
			return err
		}
	}
	return nil
}

type unitEmbedder struct{}

func (unitEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil }
func (u unitEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}
func (unitEmbedder) Dimensions() int { return 2 }

func readyStore(t *testing.T) *index.Memory {
	t.Helper()
	m := index.NewMemory()
	parents := []chunking.Segment{
		{ID: "p0", Kind: chunking.KindParent, Text: "Enforce the singleton property with an enum type.",
			Metadata: chunking.Metadata{ParentIndex: 0, ItemLabel: "Item 3"}},
	}
	children := []chunking.Segment{
		{ID: "c0", Kind: chunking.KindChild, Text: "singleton property enum",
			Metadata: chunking.Metadata{ParentID: "p0", ParentIndex: 0, ChildIndex: 0, ItemLabel: "Item 3"}},
	}
	if err := m.Ingest(index.Document{Name: "book.pdf"}, parents, children, [][]float32{{1, 0}}); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	return m
}

func newTestServer(t *testing.T, store index.Store) *Server {
	t.Helper()
	gen := &echoGenerator{answer: "Use an enum type."}
	pm := prompts.NewPromptManager("Effective Java")
	exp := expand.New(gen, pm, expand.Config{})
	retr := retrieval.New(store, unitEmbedder{}, exp, retrieval.Config{
		HybridSearch: false, Candidates: 10, TopK: 5, RRFK: 60,
	})
	ans := answer.New(retr, gen, pm, 10)
	eval := evaluation.New(ans, gen, pm, store, evaluation.Config{Dir: t.TempDir(), Workers: 1, Seed: 1})
	return New(&config.Config{}, store, ans, eval, nil)
}

func TestHandleChat(t *testing.T) {
	srv := newTestServer(t, readyStore(t))
	router := srv.Router()

	t.Run("missing prompt", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ai/chat", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("answers", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/ai/chat?prompt=how+to+enforce+the+singleton+property", nil)
		req.Header.Set(SessionHeader, "test-session")
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		if got := rec.Body.String(); got != "Use an enum type." {
			t.Errorf("body = %q", got)
		}
		if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
			t.Errorf("content type = %q", ct)
		}
	})
}

func TestHandleStream(t *testing.T) {
	srv := newTestServer(t, readyStore(t))
	router := srv.Router()

	t.Run("bad body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/ai/stream", strings.NewReader("not json"))
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("streams sse", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/ai/stream",
			strings.NewReader(`{"prompt": "singleton property?"}`))
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
			t.Errorf("content type = %q", ct)
		}
		body := rec.Body.String()
		if !strings.Contains(body, "data: ") {
			t.Errorf("no data events in body: %q", body)
		}
		if !strings.HasSuffix(body, "data: [DONE]\n\n") {
			t.Errorf("stream not terminated with [DONE]: %q", body)
		}
	})
}

func TestHandleClearMemory(t *testing.T) {
	srv := newTestServer(t, readyStore(t))
	router := srv.Router()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/ai/memory", nil)
	req.Header.Set(SessionHeader, "test-session")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestHandleGetDocument(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		srv := newTestServer(t, readyStore(t))
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/document", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var doc index.Document
		if err := sonic.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
			t.Fatalf("bad document JSON: %v", err)
		}
		if doc.Name != "book.pdf" || doc.Children != 1 {
			t.Errorf("document = %+v", doc)
		}
	})

	t.Run("not ingested", func(t *testing.T) {
		srv := newTestServer(t, index.NewMemory())
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/document", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestHandleReport_NotFound(t *testing.T) {
	srv := newTestServer(t, readyStore(t))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/evaluation/report", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		srv := newTestServer(t, readyStore(t))
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})
	t.Run("ingesting", func(t *testing.T) {
		srv := newTestServer(t, index.NewMemory())
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})
}

func TestSessionID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := sessionID(req); got != answer.DefaultSession {
		t.Errorf("default session = %q", got)
	}
	req.Header.Set(SessionHeader, "alice")
	if got := sessionID(req); got != "alice" {
		t.Errorf("session = %q, want alice", got)
	}
}

func TestSSEEscape(t *testing.T) {
	if got := sseEscape("line one\nline two"); got != "line one\ndata: line two" {
		t.Errorf("sseEscape = %q", got)
	}
}
