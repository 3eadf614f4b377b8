// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package statesync

import "github.com/prometheus/client_golang/prometheus"

var (
	pushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableside_sync_pushes_total",
			Help: "Total debounced pushes to the remote store by result",
		},
		[]string{"result"},
	)

	mergesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tableside_sync_merges_total",
			Help: "Total merge listener outcomes (replaced or echo-skipped)",
		},
		[]string{"outcome"},
	)
)

// RegisterMetrics registers sync metrics with the given Prometheus
// registry. Push and merge counters only move where an Engine or
// MergeListener actually runs, so this belongs in the device-side
// process hosting them, not in the companion server.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(pushesTotal, mergesTotal)
}

func recordPush(result string) {
	pushesTotal.WithLabelValues(result).Inc()
}

func recordMerge(outcome string) {
	mergesTotal.WithLabelValues(outcome).Inc()
}
