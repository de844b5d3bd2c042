package ratelimit

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-bot/finsight/internal/config"
	"github.com/finsight-bot/finsight/internal/users"
)

type fakeStore struct {
	status    *users.Status
	statusErr error

	canUse    bool
	canUseErr error

	recordErr   error
	recordCalls int
	refundCalls int
	refundErr   error

	userCount int
}

func (f *fakeStore) Status(ctx context.Context, id int64) (*users.Status, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.status, nil
}

func (f *fakeStore) CanUse(ctx context.Context, id int64) (bool, error) {
	return f.canUse, f.canUseErr
}

func (f *fakeStore) RecordUse(ctx context.Context, id int64) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.recordCalls++
	return nil
}

func (f *fakeStore) RefundUse(ctx context.Context, id int64) error {
	if f.refundErr != nil {
		return f.refundErr
	}
	f.refundCalls++
	return nil
}

func (f *fakeStore) CountUsers(ctx context.Context) (int, error) {
	return f.userCount, nil
}

func testLimiterConfig() config.LimiterConfig {
	return config.LimiterConfig{
		DailyTarget:          30,
		DailyLimit:           30,
		BucketCapacity:       10,
		GlobalBucketCapacity: 60,
		GlobalRefillTPS:      1,
		MsgGlobalBusy:        "global busy, wait {wait}s",
		MsgUserBusy:          "user busy, wait {wait}s",
		MsgQuotaExceeded:     "daily limit reached",
	}
}

func freeStatus() *users.Status {
	remaining := 29
	return &users.Status{
		UserID:        1,
		Plan:          users.PlanFree,
		RequestsToday: 1,
		DailyLimit:    30,
		Remaining:     &remaining,
	}
}

func proStatus() *users.Status {
	return &users.Status{
		UserID:     1,
		Plan:       users.PlanPro,
		ProActive:  true,
		DailyLimit: 30,
	}
}

func TestLimiter_AdmitsFreeUser(t *testing.T) {
	store := &fakeStore{status: freeStatus(), canUse: true}
	l := NewLimiter(testLimiterConfig(), store)

	d := l.Check(context.Background(), 1, 1)
	require.True(t, d.Allowed)
	assert.Equal(t, ReasonOK, d.Reason)
	assert.Equal(t, 1, store.recordCalls, "admission charges the persisted counter")
}

func TestLimiter_GlobalBucketGatesEveryone(t *testing.T) {
	cfg := testLimiterConfig()
	cfg.GlobalBucketCapacity = 1
	cfg.GlobalRefillTPS = 0

	store := &fakeStore{status: freeStatus(), canUse: true}
	l := NewLimiter(cfg, store)

	d := l.Check(context.Background(), 1, 1)
	require.True(t, d.Allowed)

	d = l.Check(context.Background(), 1, 1)
	require.False(t, d.Allowed)
	assert.Equal(t, ReasonGlobalBusy, d.Reason)
	assert.Equal(t, float64(WaitForever), d.Wait)
	assert.Contains(t, d.Message, "9999")

	// Pro users are gated by the global bucket too.
	store.status = proStatus()
	d = l.Check(context.Background(), 1, 1)
	require.False(t, d.Allowed)
	assert.Equal(t, ReasonGlobalBusy, d.Reason)
}

func TestLimiter_QuotaExhaustionIsPaywallReason(t *testing.T) {
	store := &fakeStore{status: freeStatus(), canUse: false}
	l := NewLimiter(testLimiterConfig(), store)

	d := l.Check(context.Background(), 1, 1)
	require.False(t, d.Allowed)
	assert.Equal(t, ReasonQuotaExceeded, d.Reason)
	assert.Equal(t, "daily limit reached", d.Message)
	assert.Zero(t, store.recordCalls)

	// The per-user bucket is checked after the quota, so it stays untouched.
	tokens, _ := l.perUser.Status(1)
	assert.InDelta(t, 10.0, tokens, 1e-6)
}

func TestLimiter_PerUserBucketDenies(t *testing.T) {
	cfg := testLimiterConfig()
	cfg.BucketCapacity = 1
	cfg.DailyTarget = 0 // no per-user refill

	store := &fakeStore{status: freeStatus(), canUse: true}
	l := NewLimiter(cfg, store)

	d := l.Check(context.Background(), 1, 1)
	require.True(t, d.Allowed)

	d = l.Check(context.Background(), 1, 1)
	require.False(t, d.Allowed)
	assert.Equal(t, ReasonUserBusy, d.Reason)
	assert.True(t, strings.HasPrefix(d.Message, "user busy"))
	assert.Equal(t, 1, store.recordCalls, "only the admitted request was charged")
}

func TestLimiter_ProBypassesQuotaAndUserBucket(t *testing.T) {
	// canUse=false would deny a free user; an active Pro never reaches it.
	store := &fakeStore{status: proStatus(), canUse: false}
	l := NewLimiter(testLimiterConfig(), store)

	for i := 0; i < 20; i++ {
		d := l.Check(context.Background(), 1, 1)
		require.True(t, d.Allowed, "request %d", i+1)
	}
	assert.Zero(t, store.recordCalls, "pro admissions never touch the daily counter")
}

func TestLimiter_StorageErrorFailsClosed(t *testing.T) {
	store := &fakeStore{statusErr: errors.New("db down")}
	l := NewLimiter(testLimiterConfig(), store)

	d := l.Check(context.Background(), 1, 1)
	require.False(t, d.Allowed)
	assert.Equal(t, ReasonStorageError, d.Reason)
}

func TestLimiter_QuotaCheckErrorRefundsGlobal(t *testing.T) {
	store := &fakeStore{status: freeStatus(), canUseErr: errors.New("db down")}
	l := NewLimiter(testLimiterConfig(), store)

	before, _ := l.global.Status()
	d := l.Check(context.Background(), 1, 1)
	require.False(t, d.Allowed)
	assert.Equal(t, ReasonStorageError, d.Reason)

	after, _ := l.global.Status()
	assert.InDelta(t, before, after, 1e-3, "global tokens are handed back on a failed check")
}

func TestLimiter_RecordFailureRefundsBoth(t *testing.T) {
	store := &fakeStore{status: freeStatus(), canUse: true, recordErr: errors.New("db down")}
	l := NewLimiter(testLimiterConfig(), store)

	d := l.Check(context.Background(), 1, 1)
	require.False(t, d.Allowed)
	assert.Equal(t, ReasonStorageError, d.Reason)

	tokens, _ := l.perUser.Status(1)
	assert.InDelta(t, 10.0, tokens, 1e-3)
}

func TestLimiter_RefundReversesAdmission(t *testing.T) {
	store := &fakeStore{status: freeStatus(), canUse: true}
	l := NewLimiter(testLimiterConfig(), store)

	d := l.Check(context.Background(), 1, 1)
	require.True(t, d.Allowed)

	ok := l.Refund(context.Background(), 1, 1)
	require.True(t, ok)
	assert.Equal(t, 1, store.refundCalls)

	tokens, _ := l.perUser.Status(1)
	assert.InDelta(t, 10.0, tokens, 1e-3, "per-user tokens restored, clamped at capacity")
}

func TestLimiter_RefundSkipsCounterForPro(t *testing.T) {
	store := &fakeStore{status: proStatus()}
	l := NewLimiter(testLimiterConfig(), store)

	ok := l.Refund(context.Background(), 1, 1)
	require.True(t, ok)
	assert.Zero(t, store.refundCalls)
}

func TestLimiter_RefundReportsFailure(t *testing.T) {
	store := &fakeStore{statusErr: errors.New("db down")}
	l := NewLimiter(testLimiterConfig(), store)

	assert.False(t, l.Refund(context.Background(), 1, 1))

	store2 := &fakeStore{status: freeStatus(), refundErr: errors.New("db down")}
	l2 := NewLimiter(testLimiterConfig(), store2)
	assert.False(t, l2.Refund(context.Background(), 1, 1))
}

func TestLimiter_StatusComposesBucketsAndStore(t *testing.T) {
	store := &fakeStore{status: freeStatus(), canUse: true, userCount: 3}
	l := NewLimiter(testLimiterConfig(), store)

	l.Check(context.Background(), 1, 1)

	st, err := l.Status(context.Background(), 1)
	require.NoError(t, err)
	assert.InDelta(t, 9.0, st.UserTokens, 1e-3)
	assert.Equal(t, 10.0, st.UserCapacity)
	assert.Equal(t, 60.0, st.GlobalCapacity)
	assert.Equal(t, 1, st.ActiveBuckets)
	assert.Equal(t, 3, st.KnownUsers)
}

func TestLimiter_StatusMessageVariants(t *testing.T) {
	free := &fakeStore{status: freeStatus()}
	l := NewLimiter(testLimiterConfig(), free)
	msg := l.StatusMessage(context.Background(), 1)
	assert.Contains(t, msg, "balance")
	assert.Contains(t, msg, "daily requests")

	pro := &fakeStore{status: proStatus()}
	l2 := NewLimiter(testLimiterConfig(), pro)
	msg = l2.StatusMessage(context.Background(), 1)
	assert.Contains(t, msg, "Pro subscription")
	assert.NotContains(t, msg, "daily requests")
}

func TestLimiter_SweepIdleBuckets(t *testing.T) {
	cfg := testLimiterConfig()
	store := &fakeStore{status: freeStatus(), canUse: true}
	l := NewLimiter(cfg, store)

	l.Check(context.Background(), 1, 1)
	l.Check(context.Background(), 2, 1)
	require.Equal(t, 2, l.perUser.Len())

	// Nothing is idle yet, so nothing is evicted.
	assert.Zero(t, l.SweepIdleBuckets())
	assert.Equal(t, 2, l.perUser.Len())
}
