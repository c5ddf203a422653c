// Package evaluation is the quality harness of the retrieval core: it
// synthesises a test set from indexed segments, runs the full pipeline on
// each question, and scores the answers with a generator-as-judge plus two
// intrinsic metrics.
package evaluation

import "time"

// TestQuestion is one synthesised question with its ground truth.
type TestQuestion struct {
	Question      string `json:"question"`
	GroundTruth   string `json:"ground_truth"`
	SourceSegment string `json:"source_segment"`
	SegmentID     string `json:"segment_id"`
}

// Scores holds the four quality metrics, each in [0,1].
type Scores struct {
	Faithfulness     float64 `json:"faithfulness"`
	Relevance        float64 `json:"relevance"`
	ContextPrecision float64 `json:"contextPrecision"`
	AnswerSimilarity float64 `json:"answerSimilarity"`
}

// Result is one evaluated question: the system answer, the retrieved
// sources it was grounded on, per-metric scores and the judge's reasoning.
type Result struct {
	TestQuestion
	Answer    string   `json:"answer"`
	Sources   []string `json:"sources"`
	Scores    Scores   `json:"scores"`
	Reasoning string   `json:"reasoning,omitempty"`
}

// Report aggregates one batch run.
type Report struct {
	Date          string    `json:"date"`
	Timestamp     time.Time `json:"timestamp"`
	NumQuestions  int       `json:"numQuestions"`
	AverageScores Scores    `json:"averageScores"`
	Results       []Result  `json:"results"`
}

// Overall is the mean of the four averaged metrics, the headline number of
// a report.
func (r *Report) Overall() float64 {
	s := r.AverageScores
	return (s.Faithfulness + s.Relevance + s.ContextPrecision + s.AnswerSimilarity) / 4
}
