package evaluation

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/yuin/goldmark"
)

const (
	// ReportFile is the Markdown report filename.
	ReportFile = "evaluation_report.md"
	// HistoryDir collects dated JSON snapshots of past runs.
	HistoryDir = "evaluation-history"
	// highScore marks a question as passing in the report summary.
	highScore = 0.8
)

// RenderMarkdown renders the report: averages, high-score rate, the
// per-question table, and a conclusion tier.
func RenderMarkdown(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# RAG Evaluation Report\n\n")
	fmt.Fprintf(&b, "- **Date**: %s\n", r.Date)
	fmt.Fprintf(&b, "- **Questions**: %d\n\n", r.NumQuestions)

	fmt.Fprintf(&b, "## Average Scores\n\n")
	fmt.Fprintf(&b, "| Metric | Score |\n|---|---|\n")
	fmt.Fprintf(&b, "| Faithfulness | %.3f |\n", r.AverageScores.Faithfulness)
	fmt.Fprintf(&b, "| Relevance | %.3f |\n", r.AverageScores.Relevance)
	fmt.Fprintf(&b, "| Context Precision | %.3f |\n", r.AverageScores.ContextPrecision)
	fmt.Fprintf(&b, "| Answer Similarity | %.3f |\n", r.AverageScores.AnswerSimilarity)
	fmt.Fprintf(&b, "| **Overall** | **%.3f** |\n\n", r.Overall())

	high := 0
	for i := range r.Results {
		if questionOverall(&r.Results[i]) >= highScore {
			high++
		}
	}
	if len(r.Results) > 0 {
		fmt.Fprintf(&b, "High-score rate (>= %.1f): %d/%d (%.0f%%)\n\n",
			highScore, high, len(r.Results), 100*float64(high)/float64(len(r.Results)))
	}

	fmt.Fprintf(&b, "## Per-Question Scores\n\n")
	fmt.Fprintf(&b, "| # | Question | Faithfulness | Relevance | Context Precision | Answer Similarity |\n")
	fmt.Fprintf(&b, "|---|---|---|---|---|---|\n")
	for i := range r.Results {
		res := &r.Results[i]
		fmt.Fprintf(&b, "| %d | %s | %.2f | %.2f | %.2f | %.2f |\n",
			i+1, tableCell(res.Question),
			res.Scores.Faithfulness, res.Scores.Relevance,
			res.Scores.ContextPrecision, res.Scores.AnswerSimilarity)
	}

	fmt.Fprintf(&b, "\n## Conclusion\n\n%s\n", conclusion(r.Overall()))
	return b.String()
}

func questionOverall(res *Result) float64 {
	s := res.Scores
	return (s.Faithfulness + s.Relevance + s.ContextPrecision + s.AnswerSimilarity) / 4
}

func conclusion(overall float64) string {
	switch {
	case overall >= 0.8:
		return "The pipeline performs well: answers are grounded, relevant and close to the ground truth."
	case overall >= 0.6:
		return "The pipeline performs acceptably; review the lowest-scoring questions for retrieval or grounding gaps."
	default:
		return "The pipeline underperforms; inspect chunking quality and retrieval configuration before relying on answers."
	}
}

// tableCell makes a question safe for a one-line Markdown table cell.
func tableCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	const max = 80
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max]) + "..."
	}
	return s
}

// WriteReport persists the Markdown report atomically and returns its path.
func WriteReport(dir string, r *Report) (string, error) {
	path := filepath.Join(dir, ReportFile)
	if err := writeFileAtomic(path, []byte(RenderMarkdown(r))); err != nil {
		return "", err
	}
	return path, nil
}

// ReadReport returns the last persisted Markdown report.
func ReadReport(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, ReportFile))
	if err != nil {
		return "", fmt.Errorf("read report: %w", err)
	}
	return string(data), nil
}

// RenderHTML converts the Markdown report to HTML for browser clients.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render report html: %w", err)
	}
	return buf.String(), nil
}

// WriteHistory appends the report as a timestamped JSON snapshot under the
// history directory, written atomically and only after all scoring is done.
// The filename carries the run time so same-day runs keep separate entries.
func WriteHistory(dir string, r *Report) (string, error) {
	data, err := sonic.ConfigDefault.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal history: %w", err)
	}
	name := fmt.Sprintf("evaluation_%s.json", r.Timestamp.Format("20060102_150405"))
	path := filepath.Join(dir, HistoryDir, name)
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}
