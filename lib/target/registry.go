// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package target

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/tierbuf/lib/clock"
	"github.com/bureau-foundation/tierbuf/lib/ident"
)

// RegistryConfig holds the collaborators of a Registry.
type RegistryConfig struct {
	// Devices in configuration order. The last is the fallback.
	Devices []Device

	Allocator *ident.Allocator
	Clock     clock.Clock
	Logger    *slog.Logger

	// Registerer receives the target gauges. Nil skips registration.
	Registerer prometheus.Registerer
}

// Registry owns every target of one server.
type Registry struct {
	targets []*Target
	byID    map[ident.TargetID]*Target
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics
}

// NewRegistry creates one target per device, polling each device's
// stats once synchronously. A device whose first poll fails aborts
// creation.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if len(cfg.Devices) == 0 {
		return nil, errors.New("target registry needs at least one device")
	}
	if cfg.Allocator == nil || cfg.Clock == nil || cfg.Logger == nil {
		return nil, errors.New("target registry needs an allocator, clock, and logger")
	}

	r := &Registry{
		byID:    make(map[ident.TargetID]*Target, len(cfg.Devices)),
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		metrics: newMetrics(cfg.Registerer),
	}
	for _, device := range cfg.Devices {
		stats, err := device.PollStats()
		if err != nil {
			return nil, fmt.Errorf("initial stats poll of %s: %w", device.Name(), err)
		}
		target := newTarget(cfg.Allocator.Target(device.Name()), device, stats)
		r.targets = append(r.targets, target)
		r.byID[target.ID()] = target
		r.metrics.polledFree.WithLabelValues(device.Name()).Set(float64(stats.FreeBytes))
		r.logger.Info("created target",
			"target", target.ID().String(),
			"device", device.Name(),
			"max_bytes", stats.MaxBytes,
			"bandwidth", stats.Bandwidth,
			"latency", stats.Latency,
		)
	}
	r.rescore()
	return r, nil
}

// rescore sets each target's score to its bandwidth relative to the
// fastest target.
func (r *Registry) rescore() {
	var fastest uint64
	for _, target := range r.targets {
		fastest = max(fastest, target.Bandwidth())
	}
	for _, target := range r.targets {
		score := 0.0
		if fastest > 0 {
			score = float64(target.Bandwidth()) / float64(fastest)
		}
		target.setScore(score)
	}
}

// Targets returns the targets in configuration order.
func (r *Registry) Targets() []*Target {
	return r.targets
}

// Get returns the target with the given id.
func (r *Registry) Get(id ident.TargetID) (*Target, bool) {
	target, ok := r.byID[id]
	return target, ok
}

// Fallback returns the last configured target.
func (r *Registry) Fallback() *Target {
	return r.targets[len(r.targets)-1]
}

// Snapshot returns the Info of every target.
func (r *Registry) Snapshot() []Info {
	infos := make([]Info, len(r.targets))
	for i, target := range r.targets {
		infos[i] = target.Info()
	}
	return infos
}

// Run polls every target's stats each period until ctx is cancelled.
// Each target polls independently, so a slow device does not delay
// the others.
func (r *Registry) Run(ctx context.Context, period time.Duration) {
	var wg sync.WaitGroup
	for _, target := range r.targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.pollLoop(ctx, target, period)
		}()
	}
	wg.Wait()
}

func (r *Registry) pollLoop(ctx context.Context, target *Target, period time.Duration) {
	ticker := r.clock.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Poll(ctx, target, period); err != nil && ctx.Err() == nil {
				r.metrics.pollFailures.WithLabelValues(target.Name()).Inc()
				r.logger.Warn("target stats poll failed",
					"target", target.ID().String(),
					"device", target.Name(),
					"error", err,
				)
			}
		}
	}
}

// Poll refreshes one target's stats, retrying failures for at most
// budget. The tracked free count is replaced by the polled value.
func (r *Registry) Poll(ctx context.Context, target *Target, budget time.Duration) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = budget / 20
	policy.MaxInterval = budget / 2
	policy.MaxElapsedTime = budget
	policy.Clock = r.clock

	operation := func() error {
		stats, err := target.device.PollStats()
		if err != nil {
			return err
		}
		tracked := target.FreeBytes()
		drift := target.applyStats(stats, r.clock.Now())

		name := target.Name()
		r.metrics.trackedFree.WithLabelValues(name).Set(float64(tracked))
		r.metrics.polledFree.WithLabelValues(name).Set(float64(stats.FreeBytes))
		r.metrics.discrepancy.WithLabelValues(name).Set(float64(drift))
		if drift != 0 {
			r.logger.Debug("reconciled target free bytes",
				"device", name,
				"tracked", tracked,
				"polled", stats.FreeBytes,
			)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("retrying target stats poll",
			"device", target.Name(),
			"error", err,
			"retry_in", wait,
		)
	}

	err := backoff.RetryNotifyWithTimer(operation, backoff.WithContext(policy, ctx), notify, clock.NewBackoffTimer(r.clock))
	if err != nil {
		return err
	}
	r.rescore()
	return nil
}

// Close closes every device, returning the first error.
func (r *Registry) Close() error {
	var firstErr error
	for _, target := range r.targets {
		if err := target.device.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing target %s: %w", target.Name(), err)
		}
	}
	return firstErr
}
