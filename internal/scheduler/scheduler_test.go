package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-bot/finsight/internal/config"
	"github.com/finsight-bot/finsight/internal/ratelimit"
	"github.com/finsight-bot/finsight/internal/users"
)

// countingRepo counts cleanup passes; everything else is a no-op row store.
type countingRepo struct {
	cleanupCalls atomic.Int32
}

func (c *countingRepo) Ensure(ctx context.Context, id int64) (*users.User, error) {
	return &users.User{ID: id, Plan: users.PlanFree, LastRequest: time.Now()}, nil
}

func (c *countingRepo) GetByID(ctx context.Context, id int64) (*users.User, error) {
	return nil, nil
}

func (c *countingRepo) ResetDayIfRolled(ctx context.Context, id int64) (bool, error) {
	return false, nil
}

func (c *countingRepo) IncrementRequests(ctx context.Context, id int64) error { return nil }
func (c *countingRepo) RefundRequest(ctx context.Context, id int64) error     { return nil }

func (c *countingRepo) UpgradeToPro(ctx context.Context, id int64, days int) (*users.User, error) {
	return nil, nil
}

func (c *countingRepo) CleanupExpired(ctx context.Context) (int64, error) {
	c.cleanupCalls.Add(1)
	return 0, nil
}

func (c *countingRepo) CountUsers(ctx context.Context) (int, error) { return 0, nil }

func TestScheduler_RunsCleanupAndStops(t *testing.T) {
	repo := &countingRepo{}
	userSvc := users.NewService(repo, 30)

	cfg := config.LimiterConfig{
		DailyTarget:          30,
		DailyLimit:           30,
		BucketCapacity:       10,
		GlobalBucketCapacity: 60,
		GlobalRefillTPS:      1,
	}
	limiter := ratelimit.NewLimiter(cfg, userSvc)

	s := New(userSvc, limiter, 20*time.Millisecond, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(120 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on context cancel")
	}

	// One immediate pass plus at least one ticked pass.
	calls := repo.cleanupCalls.Load()
	require.GreaterOrEqual(t, calls, int32(2), "expected startup pass plus ticker passes, got %d", calls)
}

func TestScheduler_SweepDoesNotPanicWithEmptyBuckets(t *testing.T) {
	repo := &countingRepo{}
	userSvc := users.NewService(repo, 30)
	limiter := ratelimit.NewLimiter(config.LimiterConfig{
		DailyTarget:          30,
		DailyLimit:           30,
		BucketCapacity:       10,
		GlobalBucketCapacity: 60,
		GlobalRefillTPS:      1,
	}, userSvc)

	s := New(userSvc, limiter, time.Hour, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.Equal(t, int32(1), repo.cleanupCalls.Load(), "only the startup pass within the window")
}
