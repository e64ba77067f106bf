// Package metrics exposes the prometheus instrumentation for Muteacle's
// witness and verify operations, following the promauto registration
// style of the teacher's internal/metrics package (one package-level
// var block, Name+Help per metric, label sets documented alongside each
// metric's declaration).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WitnessDuration tracks how long Engine.Witness takes end to end,
	// including hasher selection/creation and the backend transaction.
	WitnessDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "muteacle_witness_duration_seconds",
			Help:    "Duration of Engine.Witness calls",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
	)

	// VerifyDuration tracks how long Engine.Verify takes end to end.
	VerifyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "muteacle_verify_duration_seconds",
			Help:    "Duration of Engine.Verify calls",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
	)

	// ItemsWitnessed counts items successfully appended to the log.
	ItemsWitnessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "muteacle_items_witnessed_total",
			Help: "Total number of data items successfully witnessed",
		},
	)

	// ItemsVerifiedHit counts Verify calls that found a matching digest.
	ItemsVerifiedHit = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "muteacle_items_verified_hit_total",
			Help: "Total number of Verify calls that found a matching digest",
		},
	)

	// ItemsVerifiedMiss counts Verify calls that found no matching digest.
	ItemsVerifiedMiss = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "muteacle_items_verified_miss_total",
			Help: "Total number of Verify calls that found no matching digest",
		},
	)

	// WitnessFailures counts Witness calls that returned an error.
	WitnessFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "muteacle_witness_failures_total",
			Help: "Total number of Engine.Witness calls that returned an error",
		},
	)

	// VerifyFailures counts Verify calls that returned an error.
	VerifyFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "muteacle_verify_failures_total",
			Help: "Total number of Engine.Verify calls that returned an error",
		},
	)

	// RepositoryReadOnly reports whether the process's Repository is
	// currently latched read-only (1) or writable (0).
	RepositoryReadOnly = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "muteacle_repository_read_only",
			Help: "1 if the repository is latched read-only due to clock-tamper detection, 0 otherwise",
		},
	)
)

// StartWitness starts a timer that records into WitnessDuration when
// ObserveDuration is called.
func StartWitness() *prometheus.Timer {
	return prometheus.NewTimer(WitnessDuration)
}

// StartVerify starts a timer that records into VerifyDuration when
// ObserveDuration is called.
func StartVerify() *prometheus.Timer {
	return prometheus.NewTimer(VerifyDuration)
}
