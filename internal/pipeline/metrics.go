package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PointsTotal counts finished points.
	// Labels: outcome (direct, refined, secondary, unresolved, failed)
	PointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watershed",
			Subsystem: "pipeline",
			Name:      "points_total",
			Help:      "Total number of points processed by outcome",
		},
		[]string{"outcome"},
	)

	// RefinementsTotal counts DEM refinement attempts.
	// Labels: result (refined, empty, error)
	RefinementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watershed",
			Subsystem: "pipeline",
			Name:      "refinements_total",
			Help:      "Total number of DEM refinement attempts by result",
		},
		[]string{"result"},
	)

	// ExternalRequestsTotal counts calls to external services.
	// Labels: service, result (success, error)
	ExternalRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watershed",
			Subsystem: "remote",
			Name:      "requests_total",
			Help:      "Total number of external service requests by service and result",
		},
		[]string{"service", "result"},
	)

	// ExternalRequestDuration tracks external call latency including retries.
	ExternalRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "watershed",
			Subsystem: "remote",
			Name:      "request_duration_seconds",
			Help:      "Duration of external service requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	// BatchDuration tracks how long whole batches take.
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "watershed",
			Subsystem: "pipeline",
			Name:      "batch_duration_seconds",
			Help:      "Duration of batch runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// InFlightPoints is the number of point tasks currently running.
	InFlightPoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "watershed",
			Subsystem: "pipeline",
			Name:      "points_in_flight",
			Help:      "Number of point tasks currently running",
		},
	)
)

// RecordPoint records a finished point.
func RecordPoint(outcome Outcome) {
	PointsTotal.WithLabelValues(string(outcome)).Inc()
}

// RecordRefinement records the result of a refinement attempt.
func RecordRefinement(refined bool, err error) {
	switch {
	case err != nil:
		RefinementsTotal.WithLabelValues("error").Inc()
	case refined:
		RefinementsTotal.WithLabelValues("refined").Inc()
	default:
		RefinementsTotal.WithLabelValues("empty").Inc()
	}
}

// ObserveRequest records one external call. It matches remote.WithObserver.
func ObserveRequest(service string, err error, elapsed time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	ExternalRequestsTotal.WithLabelValues(service, result).Inc()
	ExternalRequestDuration.WithLabelValues(service).Observe(elapsed.Seconds())
}
