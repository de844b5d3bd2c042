package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/finsight-bot/finsight/internal/config"
	"github.com/finsight-bot/finsight/internal/metrics"
	"github.com/finsight-bot/finsight/internal/users"
)

// Reason classifies an admission outcome. Callers branch on it rather than
// matching denial message text; ReasonQuotaExceeded is the one that triggers
// the paywall flow.
type Reason string

const (
	ReasonOK            Reason = "ok"
	ReasonGlobalBusy    Reason = "global_busy"
	ReasonUserBusy      Reason = "user_busy"
	ReasonQuotaExceeded Reason = "quota_exceeded"
	ReasonStorageError  Reason = "storage_error"
)

// Decision is the result of one admission check. Message is display-ready;
// Wait is the estimated seconds until a bucket denial would clear.
type Decision struct {
	Allowed bool    `json:"allowed"`
	Reason  Reason  `json:"reason"`
	Wait    float64 `json:"wait_seconds,omitempty"`
	Message string  `json:"message,omitempty"`
}

// UserStore is the persistent plan/quota collaborator consumed by the
// limiter. Implemented by users.Service.
type UserStore interface {
	Status(ctx context.Context, id int64) (*users.Status, error)
	CanUse(ctx context.Context, id int64) (bool, error)
	RecordUse(ctx context.Context, id int64) error
	RefundUse(ctx context.Context, id int64) error
	CountUsers(ctx context.Context) (int, error)
}

// Limiter composes the global bucket, the per-user buckets and the persisted
// plan/quota state into one admission decision. Bucket math is in-memory
// and lock-scoped; store calls are I/O and never run under a bucket lock.
type Limiter struct {
	global  *Bucket
	perUser *KeyedBuckets
	store   UserStore
	cfg     config.LimiterConfig
	idleAge time.Duration
}

// maxIdleAge caps bucket retention regardless of how slow the refill is.
const maxIdleAge = 24 * time.Hour

// msgStorageError is the copy for fail-closed storage denials. It is not one
// of the configurable templates so an outage is never mistaken for quota
// exhaustion by message-reading humans either.
const msgStorageError = "The service is temporarily unavailable. Try again later."

func NewLimiter(cfg config.LimiterConfig, store UserStore) *Limiter {
	userRate := cfg.UserRefillTPS()

	// Retain an idle bucket for three full refills, capped at a day.
	idle := maxIdleAge
	if userRate > 0 {
		characteristic := time.Duration(cfg.BucketCapacity / userRate * float64(time.Second))
		if 3*characteristic < idle {
			idle = 3 * characteristic
		}
	}

	return &Limiter{
		global:  NewBucket(cfg.GlobalBucketCapacity, cfg.GlobalRefillTPS),
		perUser: NewKeyedBuckets(cfg.BucketCapacity, userRate),
		store:   store,
		cfg:     cfg,
		idleAge: idle,
	}
}

// Check runs one admission decision for the user. Ordering is fixed: the
// global bucket gates first (cheapest backpressure valve), then for free
// users the persisted daily quota (so exhaustion yields the paywall reason,
// not a generic retry message), then the per-user burst bucket.
func (l *Limiter) Check(ctx context.Context, userID int64, cost float64) Decision {
	st, err := l.store.Status(ctx, userID)
	if err != nil {
		return l.decide(Decision{Reason: ReasonStorageError, Message: msgStorageError})
	}

	if ok, wait := l.global.Allow(cost); !ok {
		return l.decide(Decision{
			Reason:  ReasonGlobalBusy,
			Wait:    wait,
			Message: renderWait(l.cfg.MsgGlobalBusy, wait),
		})
	}

	// Active Pro bypasses the daily quota and the per-user bucket.
	if st.ProActive {
		return l.decide(Decision{Allowed: true, Reason: ReasonOK})
	}

	ok, err := l.store.CanUse(ctx, userID)
	if err != nil {
		l.global.Refund(cost)
		return l.decide(Decision{Reason: ReasonStorageError, Message: msgStorageError})
	}
	if !ok {
		return l.decide(Decision{Reason: ReasonQuotaExceeded, Message: l.cfg.MsgQuotaExceeded})
	}

	if ok, wait := l.perUser.Allow(userID, cost); !ok {
		return l.decide(Decision{
			Reason:  ReasonUserBusy,
			Wait:    wait,
			Message: renderWait(l.cfg.MsgUserBusy, wait),
		})
	}

	if err := l.store.RecordUse(ctx, userID); err != nil {
		// Fail closed: hand the tokens back and deny rather than admit
		// a request the quota ledger cannot see.
		l.perUser.Refund(userID, cost)
		l.global.Refund(cost)
		return l.decide(Decision{Reason: ReasonStorageError, Message: msgStorageError})
	}

	return l.decide(Decision{Allowed: true, Reason: ReasonOK})
}

func (l *Limiter) decide(d Decision) Decision {
	metrics.AdmissionsTotal.WithLabelValues(string(d.Reason)).Inc()
	return d
}

// Refund reverses the side effects of an admitted request whose downstream
// work failed. The global bucket is refunded unconditionally; the per-user
// bucket and the persisted counter only for non-Pro users. Best effort:
// sub-step failures are logged and reported as false, never raised, so a
// refund problem cannot mask the original error path.
func (l *Limiter) Refund(ctx context.Context, userID int64, cost float64) bool {
	l.global.Refund(cost)

	st, err := l.store.Status(ctx, userID)
	if err != nil {
		metrics.RefundsTotal.WithLabelValues("error").Inc()
		return false
	}

	if !st.ProActive {
		l.perUser.Refund(userID, cost)
		if err := l.store.RefundUse(ctx, userID); err != nil {
			metrics.RefundsTotal.WithLabelValues("error").Inc()
			return false
		}
	}

	metrics.RefundsTotal.WithLabelValues("ok").Inc()
	return true
}

// Status is the live composition of bucket levels and static configuration.
type Status struct {
	User           *users.Status `json:"user"`
	UserTokens     float64       `json:"user_tokens"`
	UserCapacity   float64       `json:"user_bucket_capacity"`
	GlobalTokens   float64       `json:"global_tokens"`
	GlobalCapacity float64       `json:"global_bucket_capacity"`
	DailyTarget    float64       `json:"daily_target"`
	ActiveBuckets  int           `json:"active_buckets"`
	KnownUsers     int           `json:"known_users"`
}

func (l *Limiter) Status(ctx context.Context, userID int64) (*Status, error) {
	st, err := l.store.Status(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolving user status: %w", err)
	}

	known, err := l.store.CountUsers(ctx)
	if err != nil {
		slog.Warn("rate limiter: user count unavailable", "error", err)
		known = 0
	}

	userTokens, _ := l.perUser.Status(userID)
	globalTokens, _ := l.global.Status()

	return &Status{
		User:           st,
		UserTokens:     userTokens,
		UserCapacity:   l.cfg.BucketCapacity,
		GlobalTokens:   globalTokens,
		GlobalCapacity: l.cfg.GlobalBucketCapacity,
		DailyTarget:    l.cfg.DailyTarget,
		ActiveBuckets:  l.perUser.Len(),
		KnownUsers:     known,
	}, nil
}

// StatusMessage renders a human-readable status report: a Pro variant with
// no personal quota, or a free-tier variant with personal and global levels.
func (l *Limiter) StatusMessage(ctx context.Context, userID int64) string {
	st, err := l.Status(ctx, userID)
	if err != nil {
		slog.Warn("rate limiter: status unavailable", "user_id", userID, "error", err)
		return "Status is temporarily unavailable. Try again later."
	}

	if st.User.ProActive {
		until := ""
		if st.User.PaidUntil != nil {
			until = st.User.PaidUntil.UTC().Format("2006-01-02")
		}
		return fmt.Sprintf(
			"Pro subscription active until %s. Requests are unlimited (service level: %.1f/%.0f).",
			until, st.GlobalTokens, st.GlobalCapacity)
	}

	remaining := 0
	if st.User.Remaining != nil {
		remaining = *st.User.Remaining
	}
	return fmt.Sprintf(
		"Your balance: %.1f/%.0f burst tokens, %d of %d daily requests left (target %.0f/day).\n"+
			"Service level: %.1f/%.0f tokens, %d active users.",
		st.UserTokens, st.UserCapacity, remaining, st.User.DailyLimit, st.DailyTarget,
		st.GlobalTokens, st.GlobalCapacity, st.ActiveBuckets)
}

// SweepIdleBuckets evicts per-user buckets past the retention age and
// refreshes the active-bucket gauge. Called by the scheduler.
func (l *Limiter) SweepIdleBuckets() int {
	evicted := l.perUser.SweepIdle(l.idleAge)
	metrics.UserBucketsActive.Set(float64(l.perUser.Len()))
	if evicted > 0 {
		slog.Debug("idle user buckets evicted", "count", evicted, "remaining", l.perUser.Len())
	}
	return evicted
}

// renderWait substitutes the rounded-up wait into a denial template.
func renderWait(tmpl string, wait float64) string {
	return strings.ReplaceAll(tmpl, "{wait}", strconv.FormatFloat(math.Ceil(wait), 'f', -1, 64))
}
