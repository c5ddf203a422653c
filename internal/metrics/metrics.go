// Package metrics registers the Prometheus instruments for the retrieval
// core. Everything registers on the default registry; the server exposes it
// at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChatRequests counts answered chat requests by transport and outcome.
	ChatRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookrag",
		Name:      "chat_requests_total",
		Help:      "Chat requests served, by transport and outcome.",
	}, []string{"transport", "outcome"})

	// RetrievalDuration tracks end-to-end retrieval pipeline latency.
	RetrievalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bookrag",
		Name:      "retrieval_duration_seconds",
		Help:      "Latency of the full retrieval pipeline.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	// SnapshotMismatches counts corrupt index snapshots that forced a
	// re-ingestion.
	SnapshotMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bookrag",
		Name:      "snapshot_mismatch_total",
		Help:      "Corrupt index snapshots deleted at load time.",
	})

	// EvaluationQuestions counts evaluated questions by outcome.
	EvaluationQuestions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookrag",
		Name:      "evaluation_questions_total",
		Help:      "Questions scored by the evaluation harness.",
	}, []string{"outcome"})

	// IngestedChildren records the child segment count of the live index.
	IngestedChildren = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bookrag",
		Name:      "ingested_children",
		Help:      "Child segments held by the live index.",
	})
)
