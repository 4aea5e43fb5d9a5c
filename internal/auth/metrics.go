// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status constants for request metrics.
const (
	StatusSuccess      = "success"
	StatusUnauthorized = "unauthorized"
	StatusExists       = "already_exists"
	StatusError        = "error"
)

// Where a request was answered.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
	SourceNone   = "timeout"
)

// SessionsActive is the gauge of sessions currently registered on this replica.
var SessionsActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "icedrive_auth_sessions_active",
		Help: "Sessions currently registered on this replica",
	},
)

// SessionsCreated counts minted sessions.
var SessionsCreated = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "icedrive_auth_sessions_created_total",
		Help: "Total number of sessions minted by this replica",
	},
)

// Requests counts coordinator operations by result and by where they were answered.
var Requests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "icedrive_auth_requests_total",
		Help: "Total number of authentication requests",
	},
	[]string{"op", "source", "status"},
)

// RequestDuration observes coordinator latency, including broadcast fallback waits.
var RequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "icedrive_auth_request_duration_seconds",
		Help:    "Authentication request duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"op"},
)

// RegisterMetrics registers auth package metrics with reg.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(SessionsActive)
	reg.MustRegister(SessionsCreated)
	reg.MustRegister(Requests)
	reg.MustRegister(RequestDuration)
}

func recordRequest(op, source, status string, elapsed time.Duration) {
	Requests.WithLabelValues(op, source, status).Inc()
	RequestDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}
