// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"math"
	"time"
)

// score combines recency and access frequency into [0, 1]. Recency
// falls linearly from 1 at the moment of access to 0 at RecencyMax;
// frequency is the epoch's access count over FreqMax.
func (e *Engine) score(lastAccess time.Time, accesses uint64, now time.Time) float64 {
	recency := 0.0
	if !lastAccess.IsZero() {
		age := now.Sub(lastAccess)
		recency = 1 - float64(age)/float64(e.reorg.RecencyMax)
	}
	frequency := float64(accesses) / e.reorg.FreqMax
	return clampScore((clampScore(recency) + clampScore(frequency)) / 2)
}

// Reorganize runs one scoring epoch over every blob. A blob whose
// score moved by more than the threshold is rewritten onto buffers
// placed for its new score. Blobs with a user score keep it. Access
// counts restart at zero for the next epoch. It returns how many blobs
// moved.
func (e *Engine) Reorganize(ctx context.Context) (int, error) {
	now := e.clock.Now()
	moved := 0
	for _, l := range e.lanes {
		for _, info := range l.blobList() {
			if err := ctx.Err(); err != nil {
				return moved, err
			}
			accesses := info.accessFreq.Swap(0)

			info.mu.RLock()
			current, user, destroyed := info.score, info.userScore, info.destroyed
			info.mu.RUnlock()
			if destroyed || user {
				continue
			}

			var lastAccess time.Time
			if nanos := info.lastAccess.Load(); nanos != 0 {
				lastAccess = time.Unix(0, nanos)
			}
			next := e.score(lastAccess, accesses, now)
			if math.Abs(next-current) <= e.reorg.Threshold {
				continue
			}
			if err := e.reorganize(info, next, false); err != nil {
				e.logger.Warn("reorganizing blob failed",
					"blob", info.id.String(),
					"score", next,
					"error", err,
				)
				continue
			}
			moved++
		}
	}
	return moved, nil
}

// RunReorganizer runs a scoring epoch each period until ctx is
// cancelled.
func (e *Engine) RunReorganizer(ctx context.Context, period time.Duration) {
	ticker := e.clock.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			moved, err := e.Reorganize(ctx)
			if err != nil && ctx.Err() == nil {
				e.logger.Warn("reorganizer epoch failed", "error", err)
			} else if moved > 0 {
				e.logger.Debug("reorganizer epoch", "moved", moved)
			}
		}
	}
}
