package users

import "time"

type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// User matches the users table schema, one row per Telegram user id.
type User struct {
	ID            int64      `json:"user_id"`
	Plan          Plan       `json:"plan"`
	RequestsToday int        `json:"requests_today"`
	LastRequest   time.Time  `json:"last_request"`
	PaidUntil     *time.Time `json:"paid_until,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ProActive reports whether the subscription is live right now. The plan
// column alone is never trusted: an expired row stays plan=pro until the
// cleanup sweep runs, so activity is always re-derived from paid_until.
func (u *User) ProActive(now time.Time) bool {
	return u.Plan == PlanPro && u.PaidUntil != nil && now.Before(*u.PaidUntil)
}

// Status is the read-only composition served to callers. Remaining is nil
// for an active Pro subscription (unlimited).
type Status struct {
	UserID        int64      `json:"user_id"`
	Plan          Plan       `json:"plan"`
	ProActive     bool       `json:"pro_active"`
	RequestsToday int        `json:"requests_today"`
	DailyLimit    int        `json:"daily_limit"`
	Remaining     *int       `json:"remaining_requests,omitempty"`
	PaidUntil     *time.Time `json:"paid_until,omitempty"`
}
