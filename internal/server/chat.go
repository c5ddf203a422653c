package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/hsn0918/bookrag/internal/answer"
	"github.com/hsn0918/bookrag/internal/metrics"
)

// maxPromptBytes bounds the stream request body.
const maxPromptBytes = 64 << 10

// handleChat answers one prompt synchronously as text/plain.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	prompt := strings.TrimSpace(r.URL.Query().Get("prompt"))
	if prompt == "" {
		metrics.ChatRequests.WithLabelValues("chat", "bad_request").Inc()
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "prompt is required"})
		return
	}

	text, err := s.answerer.Answer(r.Context(), sessionID(r), chatMode(r), prompt)
	if err != nil {
		metrics.ChatRequests.WithLabelValues("chat", "error").Inc()
		writeError(w, err)
		return
	}
	metrics.ChatRequests.WithLabelValues("chat", "ok").Inc()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, text)
}

type streamRequest struct {
	Prompt string `json:"prompt"`
	Mode   string `json:"mode,omitempty"`
}

// handleStream answers one prompt as a text/event-stream of data events.
// Fragments are flushed as they arrive from the generator.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPromptBytes))
	if err != nil {
		metrics.ChatRequests.WithLabelValues("stream", "bad_request").Inc()
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "read request body"})
		return
	}
	var req streamRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		metrics.ChatRequests.WithLabelValues("stream", "bad_request").Inc()
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "request body must be JSON with a prompt field"})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		metrics.ChatRequests.WithLabelValues("stream", "bad_request").Inc()
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "prompt is required"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		metrics.ChatRequests.WithLabelValues("stream", "error").Inc()
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	mode := chatMode(r)
	if req.Mode != "" {
		mode = parseMode(req.Mode)
	}
	err = s.answerer.Stream(r.Context(), sessionID(r), mode, req.Prompt, func(delta string) error {
		if _, werr := fmt.Fprintf(w, "data: %s\n\n", sseEscape(delta)); werr != nil {
			return werr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		// Headers are gone; the best we can do is an error event.
		metrics.ChatRequests.WithLabelValues("stream", "error").Inc()
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", sseEscape(err.Error()))
		flusher.Flush()
		return
	}
	metrics.ChatRequests.WithLabelValues("stream", "ok").Inc()
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// handleClearMemory wipes the caller's session history.
func (s *Server) handleClearMemory(w http.ResponseWriter, r *http.Request) {
	s.answerer.ClearMemory(sessionID(r))
	writeJSON(w, http.StatusOK, map[string]string{"status": "memory cleared"})
}

func parseMode(s string) answer.Mode {
	if s == string(answer.ModePlain) {
		return answer.ModePlain
	}
	return answer.ModeRAG
}

// sseEscape keeps multi-line fragments inside one SSE data event.
func sseEscape(s string) string {
	return strings.ReplaceAll(s, "\n", "\ndata: ")
}
