// Package metrics holds the Prometheus collectors exported by the
// scheduling engine.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "token_queue"

// Admission results.
const (
	ResultAdmitted    = "admitted"
	ResultFull        = "full"
	ResultUnavailable = "unavailable"
	ResultError       = "error"
)

var (
	// Admissions counts allocation attempts by outcome.
	Admissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admissions_total",
		Help:      "Booking admissions by result.",
	}, []string{"result"})

	// Transitions counts committed lifecycle transitions.
	Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transitions_total",
		Help:      "Committed booking status transitions.",
	}, []string{"from", "to"})

	// AllocRetries counts admissions retried after a version conflict.
	AllocRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alloc_retries_total",
		Help:      "Admission attempts retried after an optimistic-lock conflict.",
	})

	// RecomputeSeconds observes queue position recomputation latency.
	RecomputeSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "recompute_seconds",
		Help:      "Time spent recomputing a queue snapshot.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})

	registerOnce sync.Once
)

// Register adds every collector to reg.  Later calls are no-ops.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(Admissions, Transitions, AllocRetries, RecomputeSeconds)
	})
}
