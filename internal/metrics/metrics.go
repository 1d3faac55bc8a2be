package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	recordWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kvlet",
			Subsystem: "record",
			Name:      "writes_total",
			Help:      "Number of reconciled writes by kind (create or update).",
		}, []string{"kind"},
	)
	targetUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kvlet",
			Subsystem: "record",
			Name:      "target_updates_total",
			Help:      "Number of notification targets replaced through get.",
		},
	)
	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kvlet",
			Subsystem: "dispatch",
			Name:      "total",
			Help:      "Number of completed dispatches by method and response code.",
		}, []string{"method", "code"},
	)
	dispatchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kvlet",
			Subsystem: "dispatch",
			Name:      "failures_total",
			Help:      "Number of dispatches that failed before a response was read.",
		}, []string{"method"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kvlet",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Wall time of outbound notification calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"},
	)
	outcomeWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kvlet",
			Subsystem: "dispatch",
			Name:      "outcome_write_failures_total",
			Help:      "Number of dispatch outcomes that could not be persisted.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{recordWrites, targetUpdates, dispatches, dispatchFailures, dispatchDuration, outcomeWriteFailures}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncWrite(created bool) {
	if regOK.Load() {
		kind := "update"
		if created {
			kind = "create"
		}
		recordWrites.WithLabelValues(kind).Inc()
	}
}

func IncTargetUpdate() {
	if regOK.Load() {
		targetUpdates.Inc()
	}
}

func ObserveDispatch(method string, statusCode uint16, seconds float64) {
	if regOK.Load() {
		dispatches.WithLabelValues(method, strconv.Itoa(int(statusCode))).Inc()
		dispatchDuration.WithLabelValues(method).Observe(seconds)
	}
}

func IncDispatchFailure(method string, seconds float64) {
	if regOK.Load() {
		dispatchFailures.WithLabelValues(method).Inc()
		dispatchDuration.WithLabelValues(method).Observe(seconds)
	}
}

func IncOutcomeWriteFailure() {
	if regOK.Load() {
		outcomeWriteFailures.Inc()
	}
}
