package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "issuerag",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Vector store operations by backend, operation and result",
		},
		[]string{"backend", "operation", "result"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "issuerag",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	recordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "issuerag",
			Subsystem: "vectorstore",
			Name:      "records_written_total",
			Help:      "Chunk records upserted",
		},
		[]string{"backend"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "issuerag",
			Subsystem: "vectorstore",
			Name:      "retries_total",
			Help:      "Retries of transient backend failures",
		},
		[]string{"backend", "operation"},
	)
)

// observe records the outcome of one operation started at start.
func observe(backend, op string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	operationsTotal.WithLabelValues(backend, op, result).Inc()
	operationDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}
