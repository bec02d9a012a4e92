package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "knowledged",
		Subsystem: "orchestrator",
		Name:      "operations_total",
		Help:      "Completed operations by kind and final state.",
	}, []string{"kind", "state"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "knowledged",
		Subsystem: "orchestrator",
		Name:      "operation_duration_seconds",
		Help:      "Wall time of orchestrator operations.",
		Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 180, 600},
	}, []string{"kind"})

	rollbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "knowledged",
		Subsystem: "orchestrator",
		Name:      "rollbacks_total",
		Help:      "Rollbacks by kind and whether they completed cleanly.",
	}, []string{"kind", "result"})
)

func observeOperation(res *Result, start time.Time) {
	operationsTotal.WithLabelValues(string(res.Kind), string(res.State)).Inc()
	operationDuration.WithLabelValues(string(res.Kind)).Observe(time.Since(start).Seconds())
}
