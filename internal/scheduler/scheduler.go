package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/finsight-bot/finsight/internal/ratelimit"
	"github.com/finsight-bot/finsight/internal/users"
)

// Scheduler drives the two background sweeps: downgrading expired Pro
// subscriptions and evicting idle per-user buckets. Both run inline with
// their tickers; neither is on any request path.
type Scheduler struct {
	users   *users.Service
	limiter *ratelimit.Limiter

	cleanupEvery time.Duration
	sweepEvery   time.Duration
}

func New(usersSvc *users.Service, limiter *ratelimit.Limiter, cleanupEvery, sweepEvery time.Duration) *Scheduler {
	return &Scheduler{
		users:        usersSvc,
		limiter:      limiter,
		cleanupEvery: cleanupEvery,
		sweepEvery:   sweepEvery,
	}
}

// Run blocks until ctx is cancelled. One expired-subscription pass runs
// immediately on start so a restart never leaves lapsed Pro rows waiting a
// full interval.
func (s *Scheduler) Run(ctx context.Context) {
	cleanup := time.NewTicker(s.cleanupEvery)
	defer cleanup.Stop()
	sweep := time.NewTicker(s.sweepEvery)
	defer sweep.Stop()

	slog.Info("scheduler started",
		"cleanup_interval", s.cleanupEvery, "sweep_interval", s.sweepEvery)

	s.runCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-cleanup.C:
			s.runCleanup(ctx)
		case <-sweep.C:
			s.limiter.SweepIdleBuckets()
		}
	}
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	// Errors are already logged at the store; the next tick retries.
	_, _ = s.users.CleanupExpired(ctx)
}
