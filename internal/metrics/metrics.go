// Package metrics exposes Prometheus instrumentation for the approval workflow.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Transitions counts committed actions by resulting status.
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approvals_transitions_total",
			Help: "Committed approval workflow actions",
		},
		[]string{"action", "status"}, // action: create/approve/reject/expire
	)

	// CASConflicts counts optimistic-lock losses that triggered a retry.
	CASConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approvals_cas_conflicts_total",
			Help: "Compare-and-swap conflicts on approval requests",
		},
		[]string{"operation"},
	)

	// RacesLost counts mutations that exhausted their retry budget.
	RacesLost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approvals_races_lost_total",
			Help: "Mutations abandoned after exhausting compare-and-swap retries",
		},
		[]string{"operation"},
	)

	// AuditFailures counts audit entries that could not be written.
	AuditFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approvals_audit_write_failures_total",
			Help: "Audit log writes that failed",
		},
		[]string{"action"},
	)

	// AccessGrants counts protected data releases.
	AccessGrants = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approvals_access_grants_total",
			Help: "Protected data retrievals by outcome",
		},
		[]string{"outcome"}, // granted/denied/failed
	)

	// ReaperSweepDuration observes the time spent per expiry sweep.
	ReaperSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "approvals_reaper_sweep_duration_seconds",
			Help:    "Time spent per expiry sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "approvals_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "code"},
	)
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware records request latency labelled by route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
