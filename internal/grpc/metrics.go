// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IceDrive Contributors

package grpc

import "github.com/prometheus/client_golang/prometheus"

var (
	// RPCRequests counts served calls by full method and status code.
	RPCRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "icedrive",
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "Replica RPCs served, by method and status code.",
	}, []string{"method", "code"})

	// RPCDuration observes handler latency by full method.
	RPCDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "icedrive",
		Subsystem: "rpc",
		Name:      "duration_seconds",
		Help:      "Replica RPC handler latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
)

// RegisterMetrics registers the RPC collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(RPCRequests)
	reg.MustRegister(RPCDuration)
}
