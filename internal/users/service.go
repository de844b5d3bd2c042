package users

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/finsight-bot/finsight/internal/metrics"
)

// Service wraps the repository with plan derivation, day-rollover handling
// and fail-closed storage error semantics: a database outage denies free
// requests and reports zero remaining quota instead of granting unlimited use.
type Service struct {
	repo       Repository
	dailyLimit int
	now        func() time.Time
}

func NewService(repo Repository, dailyLimit int) *Service {
	return &Service{repo: repo, dailyLimit: dailyLimit, now: time.Now}
}

// CanUse is the single quota-decision primitive. It returns (false, nil) when
// the daily quota is exhausted and a non-nil error on storage failure; both
// deny, but callers classify them differently. The caller is expected to
// record the use afterward; the check and the increment are two statements,
// and the resulting off-by-one race under concurrent requests from one user
// is an accepted soft-quota overshoot.
func (s *Service) CanUse(ctx context.Context, id int64) (bool, error) {
	u, err := s.repo.Ensure(ctx, id)
	if err != nil {
		slog.Error("user store: quota check failed", "user_id", id, "op", "can_use", "error", err)
		return false, err
	}

	if u.ProActive(s.now()) {
		return true, nil
	}

	reset, err := s.repo.ResetDayIfRolled(ctx, id)
	if err != nil {
		slog.Error("user store: day rollover failed", "user_id", id, "op", "can_use", "error", err)
		return false, err
	}
	if reset {
		// First request of a new UTC day is always admitted.
		return true, nil
	}

	if u.RequestsToday >= s.dailyLimit {
		return false, nil
	}
	return true, nil
}

// RecordUse charges one request against the persisted daily counter.
func (s *Service) RecordUse(ctx context.Context, id int64) error {
	if err := s.repo.IncrementRequests(ctx, id); err != nil {
		slog.Error("user store: increment failed", "user_id", id, "op", "record_use", "error", err)
		return err
	}
	return nil
}

// RefundUse un-charges one request, floored at zero.
func (s *Service) RefundUse(ctx context.Context, id int64) error {
	if err := s.repo.RefundRequest(ctx, id); err != nil {
		slog.Error("user store: refund failed", "user_id", id, "op", "refund_use", "error", err)
		return err
	}
	return nil
}

// Status reads the user's plan and quota state, creating the row and applying
// the day rollover as side effects. On storage failure it returns a
// maximally-restrictive status along with the error.
func (s *Service) Status(ctx context.Context, id int64) (*Status, error) {
	u, err := s.repo.Ensure(ctx, id)
	if err != nil {
		slog.Error("user store: status read failed", "user_id", id, "op", "status", "error", err)
		return s.restrictedStatus(id), err
	}

	now := s.now()
	if !u.ProActive(now) {
		reset, err := s.repo.ResetDayIfRolled(ctx, id)
		if err != nil {
			slog.Error("user store: day rollover failed", "user_id", id, "op", "status", "error", err)
		} else if reset {
			u.RequestsToday = 0
		}
	}

	st := &Status{
		UserID:        u.ID,
		Plan:          u.Plan,
		ProActive:     u.ProActive(now),
		RequestsToday: u.RequestsToday,
		DailyLimit:    s.dailyLimit,
		PaidUntil:     u.PaidUntil,
	}
	if !st.ProActive {
		remaining := s.dailyLimit - u.RequestsToday
		if remaining < 0 {
			remaining = 0
		}
		st.Remaining = &remaining
	}
	return st, nil
}

// restrictedStatus is the deny-by-default shape served when storage is down.
func (s *Service) restrictedStatus(id int64) *Status {
	zero := 0
	return &Status{
		UserID:        id,
		Plan:          PlanFree,
		RequestsToday: s.dailyLimit,
		DailyLimit:    s.dailyLimit,
		Remaining:     &zero,
	}
}

// Upgrade activates or renews a Pro subscription. Renewal extends from the
// current expiry, so days bought before expiry are never lost.
func (s *Service) Upgrade(ctx context.Context, id int64, days int) (*Status, error) {
	if days < 1 {
		return nil, fmt.Errorf("upgrade days must be positive, got %d", days)
	}

	if _, err := s.repo.Ensure(ctx, id); err != nil {
		slog.Error("user store: upgrade failed", "user_id", id, "op", "upgrade", "error", err)
		return nil, err
	}

	u, err := s.repo.UpgradeToPro(ctx, id, days)
	if err != nil {
		slog.Error("user store: upgrade failed", "user_id", id, "op", "upgrade", "error", err)
		return nil, err
	}

	opID := uuid.NewString()
	slog.Info("subscription upgraded",
		"op_id", opID, "user_id", id, "days", days, "paid_until", u.PaidUntil)

	return &Status{
		UserID:        u.ID,
		Plan:          u.Plan,
		ProActive:     u.ProActive(s.now()),
		RequestsToday: u.RequestsToday,
		DailyLimit:    s.dailyLimit,
		PaidUntil:     u.PaidUntil,
	}, nil
}

// CleanupExpired bulk-downgrades lapsed Pro rows. Intended for the scheduler,
// not the request path.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.CleanupExpired(ctx)
	if err != nil {
		slog.Error("user store: cleanup failed", "op", "cleanup_expired", "error", err)
		return 0, err
	}
	if n > 0 {
		metrics.DowngradesTotal.Add(float64(n))
		slog.Info("expired subscriptions downgraded", "count", n)
	}
	return n, nil
}

// CountUsers reports the number of known users, for the status report.
func (s *Service) CountUsers(ctx context.Context) (int, error) {
	return s.repo.CountUsers(ctx)
}
