// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package discovery

import "github.com/prometheus/client_golang/prometheus"

// Peers is the number of known peers per kind.
var Peers = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "icedrive_discovery_peers",
		Help: "Known peers by service kind",
	},
	[]string{"kind"},
)

// Evictions counts peers dropped after a failed liveness probe.
var Evictions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "icedrive_discovery_evictions_total",
		Help: "Total number of peers evicted after a failed probe",
	},
	[]string{"kind"},
)

// Announcements counts announcements published by this replica.
var Announcements = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "icedrive_discovery_announcements_total",
		Help: "Total number of announcements published",
	},
	[]string{"status"},
)

// RegisterMetrics registers discovery package metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Peers)
	reg.MustRegister(Evictions)
	reg.MustRegister(Announcements)
}
