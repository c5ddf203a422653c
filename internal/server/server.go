// Package server exposes the question-answering pipeline over HTTP: a
// synchronous chat endpoint, an SSE streaming endpoint, session memory
// management, the evaluation harness and document replacement. Routing is
// chi; the whole object graph is assembled with fx in modules.go.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hsn0918/bookrag/internal/answer"
	"github.com/hsn0918/bookrag/internal/config"
	"github.com/hsn0918/bookrag/internal/evaluation"
	"github.com/hsn0918/bookrag/internal/index"
	"github.com/hsn0918/bookrag/internal/ingest"
)

// SessionHeader scopes dialogue memory to a caller-chosen session.
const SessionHeader = "X-Session-ID"

// Server carries the request handlers' dependencies.
type Server struct {
	cfg       *config.Config
	store     index.Store
	answerer  *answer.Answerer
	evaluator *evaluation.Evaluator
	ingester  *ingest.Service
}

func New(cfg *config.Config, store index.Store, answerer *answer.Answerer, evaluator *evaluation.Evaluator, ingester *ingest.Service) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		answerer:  answerer,
		evaluator: evaluator,
		ingester:  ingester,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Route("/ai", func(r chi.Router) {
			r.Get("/chat", s.handleChat)
			r.Post("/stream", s.handleStream)
			r.Delete("/memory", s.handleClearMemory)
		})
		r.Route("/evaluation", func(r chi.Router) {
			r.Post("/generate-test-set", s.handleGenerateTestSet)
			r.Post("/run-batch-test", s.handleRunBatch)
			r.Post("/run-full-evaluation", s.handleRunFull)
			r.Get("/report", s.handleReport)
		})
		r.Get("/document", s.handleGetDocument)
		r.Put("/document", s.handlePutDocument)
	})
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// sessionID resolves the caller's session from the header, defaulting when
// absent so anonymous callers share one memory.
func sessionID(r *http.Request) string {
	if id := r.Header.Get(SessionHeader); id != "" {
		return id
	}
	return answer.DefaultSession
}

// chatMode parses the mode query parameter; anything but "plain" is rag.
func chatMode(r *http.Request) answer.Mode {
	if r.URL.Query().Get("mode") == string(answer.ModePlain) {
		return answer.ModePlain
	}
	return answer.ModeRAG
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if !s.store.Ready() {
		status = "ingesting"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}
