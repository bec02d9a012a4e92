package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Hits counts Fetch calls served from cache, by source.
	Hits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowledged",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Source fetches served from cache",
		},
		[]string{"source"},
	)

	// Misses counts Fetch calls that went to the source, by source.
	Misses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowledged",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Source fetches that missed the cache",
		},
		[]string{"source"},
	)

	// WriteErrors counts fetched values that could not be stored, by source.
	WriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowledged",
			Subsystem: "cache",
			Name:      "write_errors_total",
			Help:      "Fetched values that could not be cached",
		},
		[]string{"source"},
	)
)

func recordHit(source string)  { Hits.WithLabelValues(source).Inc() }
func recordMiss(source string) { Misses.WithLabelValues(source).Inc() }

func recordWriteError(source string) { WriteErrors.WithLabelValues(source).Inc() }
