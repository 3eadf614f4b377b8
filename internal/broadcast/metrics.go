// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tableside Contributors

package broadcast

import "github.com/prometheus/client_golang/prometheus"

var envelopesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tableside_broadcast_envelopes_total",
		Help: "Total broadcast envelopes by topic and delivery outcome",
	},
	[]string{"topic", "outcome"},
)

// RegisterMetrics registers broadcast metrics with the given Prometheus registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(envelopesTotal)
}

func recordPublish(topic, outcome string) {
	envelopesTotal.WithLabelValues(topic, outcome).Inc()
}
