package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Limiter shape
	if c.Limiter.DailyTarget < 0 {
		errs = append(errs, fmt.Sprintf("DAILY_TARGET must not be negative, got %g", c.Limiter.DailyTarget))
	}
	if c.Limiter.DailyLimit < 1 {
		errs = append(errs, fmt.Sprintf("DAILY_LIMIT must be at least 1, got %d", c.Limiter.DailyLimit))
	}
	if c.Limiter.BucketCapacity <= 0 {
		errs = append(errs, fmt.Sprintf("BUCKET_CAPACITY must be positive, got %g", c.Limiter.BucketCapacity))
	}
	if c.Limiter.GlobalBucketCapacity <= 0 {
		errs = append(errs, fmt.Sprintf("GLOBAL_BUCKET_CAPACITY must be positive, got %g", c.Limiter.GlobalBucketCapacity))
	}

	// A non-positive refill rate is legal (buckets report an infinite wait) but
	// almost always a misconfiguration: warn only.
	if c.Limiter.GlobalRefillTPS <= 0 {
		slog.Warn("GLOBAL_REFILL_RATE_TPS is not positive — the global bucket will never refill")
	}
	if c.Limiter.DailyTarget == 0 {
		slog.Warn("DAILY_TARGET is zero — per-user buckets will never refill")
	}

	// Denial templates that take a wait substitution should carry the placeholder.
	if !strings.Contains(c.Limiter.MsgGlobalBusy, "{wait}") {
		slog.Warn("MSG_GLOBAL_BUSY has no {wait} placeholder — wait time will not be shown")
	}
	if !strings.Contains(c.Limiter.MsgUserBusy, "{wait}") {
		slog.Warn("MSG_USER_BUSY has no {wait} placeholder — wait time will not be shown")
	}

	if c.Guard.MaxReqs < 1 {
		errs = append(errs, fmt.Sprintf("IPGUARD_MAX_REQS must be at least 1, got %d", c.Guard.MaxReqs))
	}
	if c.Guard.WindowSec < 1 {
		errs = append(errs, fmt.Sprintf("IPGUARD_WINDOW_SEC must be at least 1, got %d", c.Guard.WindowSec))
	}

	if c.Jobs.CleanupInterval <= 0 {
		errs = append(errs, "CLEANUP_INTERVAL must be positive")
	}
	if c.Jobs.SweepInterval <= 0 {
		errs = append(errs, "SWEEP_INTERVAL must be positive")
	}

	// Admin API key is warn-only; the gated routes refuse all requests without it.
	if c.Admin.APIKey == "" {
		slog.Warn("ADMIN_API_KEY is empty — upgrade and cleanup endpoints are disabled")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
