package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "supplementiq"

var (
	patternLookupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "matcher",
		Name:      "lookup_duration_seconds",
		Help:      "Time spent querying patterns per cascade level",
		Buckets:   prometheus.DefBuckets,
	}, []string{"level"})

	patternLookupErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "matcher",
		Name:      "lookup_errors_total",
		Help:      "Total number of failed pattern lookups",
	})

	suggestionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "recommendations",
		Name:      "suggestions_total",
		Help:      "Total number of suggestions returned, by source",
	}, []string{"source"})

	minerRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "miner",
		Name:      "runs_total",
		Help:      "Total number of mining runs, by final status",
	}, []string{"status"})

	minerRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "miner",
		Name:      "run_duration_seconds",
		Help:      "Wall time of a mining run",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})

	minerUpsertFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "miner",
		Name:      "upsert_failures_total",
		Help:      "Total number of pattern upserts that failed",
	})
)
