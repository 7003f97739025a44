// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/tierbuf/lib/clock"
	"github.com/bureau-foundation/tierbuf/lib/ident"
	"github.com/bureau-foundation/tierbuf/lib/placement"
	"github.com/bureau-foundation/tierbuf/lib/target"
)

// Config holds the collaborators and tunables of an Engine.
type Config struct {
	// Lanes is the number of metadata shards. Zero means 32.
	Lanes int

	Targets   *target.Registry
	Placement *placement.Engine
	Allocator *ident.Allocator
	Clock     clock.Clock
	Logger    *slog.Logger

	// Registerer receives the engine counters. Nil skips registration.
	Registerer prometheus.Registerer

	// DefaultPolicy places writes that name no policy.
	DefaultPolicy placement.Policy

	// IOPatternDepth bounds the access-pattern ring. Zero means 8192.
	IOPatternDepth int

	Reorganizer ReorganizerConfig
}

// ReorganizerConfig tunes blob scoring.
type ReorganizerConfig struct {
	// RecencyMax is the idle time at which recency reaches 0.
	RecencyMax time.Duration
	// FreqMax is the per-epoch access count at which frequency
	// reaches 1.
	FreqMax float64
	// Threshold is the score change that triggers a reorganization.
	Threshold float64
}

// Engine is the metadata and I/O engine of one server. Safe for
// concurrent use.
type Engine struct {
	lanes     []*lane
	targets   *target.Registry
	placement *placement.Engine
	allocator *ident.Allocator
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics
	policy    placement.Policy
	reorg     ReorganizerConfig
	accesses  *accessRing

	// detached tracks work running without a waiting caller.
	detached sync.WaitGroup

	draining atomic.Bool
	drained  atomic.Uint64
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Targets == nil || cfg.Placement == nil || cfg.Allocator == nil {
		return nil, errors.New("engine needs targets, a placement engine, and an allocator")
	}
	if cfg.Clock == nil || cfg.Logger == nil {
		return nil, errors.New("engine needs a clock and a logger")
	}
	if cfg.Lanes < 0 {
		return nil, fmt.Errorf("lane count %d is negative", cfg.Lanes)
	}
	lanes := cfg.Lanes
	if lanes == 0 {
		lanes = 32
	}
	depth := cfg.IOPatternDepth
	if depth <= 0 {
		depth = 8192
	}
	reorg := cfg.Reorganizer
	if reorg.RecencyMax <= 0 {
		reorg.RecencyMax = 60 * time.Second
	}
	if reorg.FreqMax <= 0 {
		reorg.FreqMax = 15
	}
	if reorg.Threshold <= 0 {
		reorg.Threshold = 0.2
	}

	e := &Engine{
		lanes:     make([]*lane, lanes),
		targets:   cfg.Targets,
		placement: cfg.Placement,
		allocator: cfg.Allocator,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		metrics:   newMetrics(cfg.Registerer),
		policy:    cfg.DefaultPolicy,
		reorg:     reorg,
		accesses:  newAccessRing(depth),
	}
	for i := range e.lanes {
		e.lanes[i] = newLane()
	}
	return e, nil
}

// LaneCount returns the number of metadata shards.
func (e *Engine) LaneCount() int { return len(e.lanes) }

// Quiesce waits for all detached work started so far.
func (e *Engine) Quiesce() { e.detached.Wait() }

// detach runs fn without a waiting caller. A failure is logged and
// counted under operation.
func (e *Engine) detach(operation string, fn func() error) {
	e.detached.Add(1)
	go func() {
		defer e.detached.Done()
		if err := fn(); err != nil {
			e.detachedFailure(operation, err)
		}
	}()
}

func (e *Engine) detachedFailure(operation string, err error) {
	e.metrics.detachedFailures.WithLabelValues(operation).Inc()
	e.logger.Warn("detached operation failed", "operation", operation, "error", err)
}

// Counts reports how many tags and blobs the engine holds.
func (e *Engine) Counts() (tags, blobs int) {
	for _, l := range e.lanes {
		l.tagMu.RLock()
		tags += len(l.tags)
		l.tagMu.RUnlock()
		l.blobMu.RLock()
		blobs += len(l.blobs)
		l.blobMu.RUnlock()
	}
	return tags, blobs
}

// Close unregisters every stager after waiting for detached work.
// Blob buffers are not freed; the targets are closed by their owner.
func (e *Engine) Close() error {
	e.Quiesce()
	var errs []error
	for _, l := range e.lanes {
		l.stagerMu.Lock()
		for id, s := range l.stagers {
			if err := s.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing stager of tag %v: %w", id, err))
			}
			delete(l.stagers, id)
		}
		l.stagerMu.Unlock()
	}
	return errors.Join(errs...)
}
