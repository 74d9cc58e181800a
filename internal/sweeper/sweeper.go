// Package sweeper implements the Stale Sweeper: a cooperative background
// loop that finds in_progress tasks whose reservation has outlived the
// configured stale timeout and releases them back to available, the same
// way a teacher's periodic cache-cleanup goroutine runs on its own ticker
// against a shared store (§4.7).
package sweeper

import (
	"context"
	"time"

	"github.com/taskmesh/taskcore/internal/lifecycle"
	"github.com/taskmesh/taskcore/internal/observability"
	"github.com/taskmesh/taskcore/internal/query"
)

// batchSize bounds how many stale tasks are unlocked per tick, so one
// sweep never holds the writer goroutine busy for an unbounded stretch.
const batchSize = 50

// Sweeper periodically unlocks stale in_progress reservations.
type Sweeper struct {
	query    *query.Engine
	life     *lifecycle.Engine
	logger   observability.Logger
	metrics  *observability.Metrics
	interval time.Duration
	timeout  time.Duration
}

// New builds a Sweeper. interval should be <= timeout/4 (config.Load
// already enforces this on the way in).
func New(q *query.Engine, l *lifecycle.Engine, logger observability.Logger, metrics *observability.Metrics, interval, timeout time.Duration) *Sweeper {
	return &Sweeper{query: q, life: l, logger: logger, metrics: metrics, interval: interval, timeout: timeout}
}

// Run blocks, ticking every interval until ctx is cancelled. It is meant
// to be launched in its own goroutine from cmd/server.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs a single pass: find stale tasks, unlock each in its own
// transaction so one failure never blocks the rest of the batch.
func (s *Sweeper) sweep(ctx context.Context) {
	stale, err := s.query.Stale(ctx, nil, s.timeout)
	if err != nil {
		s.logger.Error("sweeper: listing stale tasks failed", observability.Fields{"error": err})
		return
	}
	if len(stale) > batchSize {
		s.logger.Warn("sweeper: stale backlog exceeds batch size, deferring remainder to next tick",
			observability.Fields{"found": len(stale), "batch_size": batchSize})
		stale = stale[:batchSize]
	}

	for _, task := range stale {
		if ctx.Err() != nil {
			return
		}
		reason := "auto-unlocked by stale sweeper: reservation exceeded the configured stale timeout"
		previousAgent, err := s.life.AutoUnlockStale(ctx, task.ID, reason)
		if err != nil {
			// A task going terminal or losing its assignment between the
			// Stale scan and the unlock attempt is a benign race, not a
			// sweeper defect; only count it and move on (R3/P9).
			if s.metrics != nil {
				s.metrics.SweeperErrors.Inc()
			}
			s.logger.Warn("sweeper: failed to unlock stale task", observability.Fields{
				"task_id": task.ID, "error": err,
			})
			continue
		}
		if s.metrics != nil {
			s.metrics.SweeperUnlocked.Inc()
		}
		s.logger.Info("sweeper: unlocked stale task", observability.Fields{
			"task_id": task.ID, "previous_agent": previousAgent,
		})
	}
}
