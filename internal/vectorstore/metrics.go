package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Operations counts store calls by backend, operation and result.
	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowledged",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Vector store operations by backend, operation and result",
		},
		[]string{"backend", "op", "result"},
	)

	// OperationDuration tracks store call latency.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "knowledged",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)

	// Retries counts transient failures that were retried.
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowledged",
			Subsystem: "vectorstore",
			Name:      "retries_total",
			Help:      "Transient vector store failures by operation",
		},
		[]string{"op"},
	)
)

func observe(backend, op string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	Operations.WithLabelValues(backend, op, result).Inc()
	OperationDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

func recordRetry(op string) { Retries.WithLabelValues(op).Inc() }
