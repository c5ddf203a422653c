package server

import (
	"net/http"
	"strconv"

	"github.com/hsn0918/bookrag/internal/evaluation"
)

const defaultTestSetSize = 10

func numQuestions(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("numQuestions"))
	if err != nil || n <= 0 {
		return defaultTestSetSize
	}
	return n
}

// handleGenerateTestSet synthesises a fresh test set and persists it.
func (s *Server) handleGenerateTestSet(w http.ResponseWriter, r *http.Request) {
	questions, err := s.evaluator.GenerateTestSet(r.Context(), numQuestions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	path, err := evaluation.SaveTestSet(s.evaluator.Dir(), questions)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "test set generated",
		"questions": len(questions),
		"path":      path,
	})
}

// handleRunBatch evaluates the persisted test set and returns the averages
// without touching the report files.
func (s *Server) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	questions, err := evaluation.LoadTestSet(s.evaluator.Dir())
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no test set found; generate one first"})
		return
	}
	report, err := s.evaluator.RunBatch(r.Context(), questions)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"num_questions":  report.NumQuestions,
		"average_scores": report.AverageScores,
		"overall":        report.Overall(),
	})
}

// handleRunFull generates a test set, evaluates it, and persists the test
// set, report and history entry.
func (s *Server) handleRunFull(w http.ResponseWriter, r *http.Request) {
	report, reportPath, historyPath, err := s.evaluator.RunFull(r.Context(), numQuestions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"num_questions":  report.NumQuestions,
		"average_scores": report.AverageScores,
		"overall":        report.Overall(),
		"report_path":    reportPath,
		"history_path":   historyPath,
	})
}

// handleReport returns the last evaluation report, as Markdown wrapped in
// JSON or rendered to HTML with ?format=html.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	markdown, err := evaluation.ReadReport(s.evaluator.Dir())
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no evaluation report found; run an evaluation first"})
		return
	}
	if r.URL.Query().Get("format") == "html" {
		html, err := evaluation.RenderHTML(markdown)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(html))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"report": markdown})
}
