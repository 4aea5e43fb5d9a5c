// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package query

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels.
const (
	OutcomeAnswered = "answered"
	OutcomeTimeout  = "timeout"
	OutcomeClosed   = "closed"
)

// Discard reasons.
const (
	ReasonUnknown    = "unknown_correlation"
	ReasonUnexpected = "unexpected_response"
	ReasonLate       = "already_resolved"
)

// QueriesIssued counts published queries.
var QueriesIssued = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "icedrive_queries_issued_total",
		Help: "Total number of broadcast queries issued",
	},
	[]string{"op"},
)

// QueryOutcomes counts how pending queries resolved.
var QueryOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "icedrive_query_outcomes_total",
		Help: "Total number of resolved broadcast queries by outcome",
	},
	[]string{"op", "outcome"},
)

// ResponsesDiscarded counts responses dropped by the protocol.
var ResponsesDiscarded = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "icedrive_query_responses_discarded_total",
		Help: "Total number of query responses discarded",
	},
	[]string{"reason"},
)

// QueriesPending tracks queries awaiting an answer.
var QueriesPending = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "icedrive_queries_pending",
		Help: "Broadcast queries awaiting a response or deadline",
	},
)

// RegisterMetrics registers query package metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(QueriesIssued)
	reg.MustRegister(QueryOutcomes)
	reg.MustRegister(ResponsesDiscarded)
	reg.MustRegister(QueriesPending)
}
