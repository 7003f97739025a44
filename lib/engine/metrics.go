// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	operations       *prometheus.CounterVec
	bytes            *prometheus.CounterVec
	flushes          prometheus.Counter
	reorganizations  prometheus.Counter
	detachedFailures *prometheus.CounterVec
}

func newMetrics(registerer prometheus.Registerer) *metrics {
	m := &metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tierbuf",
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Engine operations by name and result.",
		}, []string{"operation", "result"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tierbuf",
			Subsystem: "engine",
			Name:      "bytes_total",
			Help:      "Blob bytes moved, by direction (read, write, stage_in, stage_out).",
		}, []string{"direction"}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tierbuf",
			Subsystem: "engine",
			Name:      "flushes_total",
			Help:      "Dirty blobs staged out.",
		}),
		reorganizations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tierbuf",
			Subsystem: "engine",
			Name:      "reorganizations_total",
			Help:      "Blobs rewritten onto new buffers after a score change.",
		}),
		detachedFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tierbuf",
			Subsystem: "engine",
			Name:      "detached_failures_total",
			Help:      "Failures of work the engine runs without a waiting caller.",
		}, []string{"operation"}),
	}
	if registerer != nil {
		registerer.MustRegister(m.operations, m.bytes, m.flushes, m.reorganizations, m.detachedFailures)
	}
	return m
}

// observe counts one operation outcome and passes err through.
func (m *metrics) observe(operation string, err error) error {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(operation, result).Inc()
	return err
}
