// Package metrics provides Prometheus instruments for queues, navigation and
// change monitoring.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Operation queue metrics
	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "waypoint_queue_depth",
			Help: "Operations waiting behind the dispatched one, per backend",
		},
		[]string{"backend"},
	)

	queueDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waypoint_queue_dispatched_total",
			Help: "Operations dispatched to a backend primitive",
		},
		[]string{"backend", "op"},
	)

	queueCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waypoint_queue_cancelled_total",
			Help: "Operations resolved with a cancellation error",
		},
		[]string{"backend", "op"},
	)

	opDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waypoint_operation_duration_seconds",
			Help:    "Time spent inside backend primitives",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "op", "status"},
	)

	// Navigation metrics
	navigationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waypoint_navigations_total",
			Help: "Navigation requests by action and terminal state",
		},
		[]string{"action", "state"},
	)

	navigationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "waypoint_navigation_duration_seconds",
			Help:    "Time from request start to a terminal state",
			Buckets: prometheus.DefBuckets,
		},
	)

	activeRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "waypoint_navigation_active_requests",
			Help: "Navigation requests not yet in a terminal state",
		},
	)

	// Monitor metrics
	monitorEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waypoint_monitor_events_total",
			Help: "Change monitor events published, by kind",
		},
		[]string{"kind"},
	)

	monitorDeferred = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "waypoint_monitor_deferred_total",
			Help: "Monitor events deferred behind a navigation walk",
		},
	)
)

// SetQueueDepth records the number of waiting operations for a backend.
func SetQueueDepth(backend string, depth int) {
	queueDepth.WithLabelValues(backend).Set(float64(depth))
}

// RecordDispatch counts one dispatched operation.
func RecordDispatch(backend, op string) {
	queueDispatched.WithLabelValues(backend, op).Inc()
}

// RecordCancelled counts one operation resolved as cancelled.
func RecordCancelled(backend, op string) {
	queueCancelled.WithLabelValues(backend, op).Inc()
}

// RecordOperation records the duration of a backend primitive.
func RecordOperation(backend, op string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	opDuration.WithLabelValues(backend, op, status).Observe(duration.Seconds())
}

// RecordNavigation records a request reaching a terminal state.
func RecordNavigation(action, state string, duration time.Duration) {
	navigationsTotal.WithLabelValues(action, state).Inc()
	navigationDuration.Observe(duration.Seconds())
}

// IncActiveRequests marks a request as started.
func IncActiveRequests() {
	activeRequests.Inc()
}

// DecActiveRequests marks a request as finished.
func DecActiveRequests() {
	activeRequests.Dec()
}

// RecordMonitorEvent counts one published monitor event.
func RecordMonitorEvent(kind string) {
	monitorEvents.WithLabelValues(kind).Inc()
}

// RecordDeferred counts one monitor event deferred behind a walk.
func RecordDeferred() {
	monitorDeferred.Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
