// Package metrics defines the Prometheus instruments shared across perch.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoginAttempts counts login attempts by role and outcome
	// (success, invalid_credentials, inactive, locked_out, error).
	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perch",
		Subsystem: "auth",
		Name:      "login_attempts_total",
		Help:      "Login attempts by role and outcome.",
	}, []string{"role", "outcome"})

	// RefreshAttempts counts refresh redemptions by outcome
	// (success, invalid, expired, session_expired, inactive, error).
	RefreshAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perch",
		Subsystem: "auth",
		Name:      "refresh_attempts_total",
		Help:      "Refresh token redemptions by outcome.",
	}, []string{"outcome"})

	// ValidateResults counts access-token validations by outcome.
	ValidateResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perch",
		Subsystem: "auth",
		Name:      "validate_total",
		Help:      "Access token validations by outcome.",
	}, []string{"outcome"})

	// SessionsClosed counts sessions closed by end reason.
	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perch",
		Subsystem: "auth",
		Name:      "sessions_closed_total",
		Help:      "Sessions closed by end reason.",
	}, []string{"reason"})

	// CacheLookups counts session cache lookups by result (hit, miss, error).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perch",
		Subsystem: "auth",
		Name:      "session_cache_lookups_total",
		Help:      "Session cache lookups by result.",
	}, []string{"result"})

	// HTTPRequests counts HTTP requests by path and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perch",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by path and status class.",
	}, []string{"path", "status"})

	// HTTPDuration observes request latency per path.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "perch",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by path.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"path"})
)
