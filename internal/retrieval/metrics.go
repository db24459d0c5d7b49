package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "issuerag",
			Subsystem: "retrieval",
			Name:      "documents_ingested_total",
			Help:      "Documents processed by ingestion, by kind and status",
		},
		[]string{"kind", "status"},
	)

	secretsRedacted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "issuerag",
			Subsystem: "retrieval",
			Name:      "secrets_redacted_total",
			Help:      "Secrets masked before indexing, by detection rule",
		},
		[]string{"rule"},
	)

	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "issuerag",
			Subsystem: "retrieval",
			Name:      "queries_total",
			Help:      "Queries by result",
		},
		[]string{"result"},
	)

	queriesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "issuerag",
			Subsystem: "retrieval",
			Name:      "queries_routed_total",
			Help:      "Served queries by search route",
		},
		[]string{"route"},
	)

	queryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "issuerag",
			Subsystem: "retrieval",
			Name:      "query_duration_seconds",
			Help:      "End-to-end query latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	topScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "issuerag",
			Subsystem: "retrieval",
			Name:      "top_score",
			Help:      "Calibrated score of the best result per query",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	generationFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "issuerag",
			Subsystem: "retrieval",
			Name:      "generation_fallbacks_total",
			Help:      "Queries answered with raw results instead of a generated answer",
		},
		[]string{"reason"},
	)

	feedbackRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "issuerag",
			Subsystem: "retrieval",
			Name:      "feedback_recorded_total",
			Help:      "Feedback entries recorded, by kind (rated, signal, impression) and result",
		},
		[]string{"kind", "result"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "issuerag",
			Subsystem: "retrieval",
			Name:      "retries_total",
			Help:      "Retries of transient embedding failures",
		},
		[]string{"operation"},
	)

	calibrationVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "issuerag",
			Subsystem: "calibration",
			Name:      "params_version",
			Help:      "Version of the calibration parameters in effect",
		},
	)
)
