// Package metrics registers the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JoinOutcomes counts join attempts by result kind ("ok" on success).
	JoinOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartattend",
		Name:      "join_attempts_total",
		Help:      "Join attempts by outcome.",
	}, []string{"outcome"})

	// SessionsCreated counts opened sessions.
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "smartattend",
		Name:      "sessions_created_total",
		Help:      "Attendance sessions opened.",
	})

	// MatchDistance observes the best biometric distance of each comparison.
	MatchDistance = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "smartattend",
		Name:      "biometric_match_distance",
		Help:      "Euclidean distance of the closest live face.",
		Buckets:   []float64{0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 1.0, 1.5},
	})

	// EventsProcessed counts worker events by type and result.
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartattend",
		Name:      "worker_events_total",
		Help:      "Queue events handled by the worker.",
	}, []string{"type", "result"})
)
