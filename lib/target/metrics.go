// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package target

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	trackedFree  *prometheus.GaugeVec
	polledFree   *prometheus.GaugeVec
	discrepancy  *prometheus.GaugeVec
	pollFailures *prometheus.CounterVec
}

func newMetrics(registerer prometheus.Registerer) *metrics {
	m := &metrics{
		trackedFree: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tierbuf",
			Subsystem: "target",
			Name:      "tracked_free_bytes",
			Help:      "Free bytes as tracked optimistically by allocations and frees, sampled before each poll.",
		}, []string{"target"}),
		polledFree: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tierbuf",
			Subsystem: "target",
			Name:      "polled_free_bytes",
			Help:      "Free bytes reported by the device at the last stats poll.",
		}, []string{"target"}),
		discrepancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tierbuf",
			Subsystem: "target",
			Name:      "free_bytes_discrepancy",
			Help:      "Tracked minus polled free bytes at the last stats poll.",
		}, []string{"target"}),
		pollFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tierbuf",
			Subsystem: "target",
			Name:      "poll_failures_total",
			Help:      "Stats polls that failed after retrying.",
		}, []string{"target"}),
	}
	if registerer != nil {
		registerer.MustRegister(m.trackedFree, m.polledFree, m.discrepancy, m.pollFailures)
	}
	return m
}
