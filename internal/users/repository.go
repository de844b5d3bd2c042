package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	// Ensure returns the user's row, creating it lazily on first interaction.
	Ensure(ctx context.Context, id int64) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	// ResetDayIfRolled zeroes requests_today when last_request falls on an
	// earlier UTC calendar date than today. Returns true if a reset happened.
	ResetDayIfRolled(ctx context.Context, id int64) (bool, error)
	IncrementRequests(ctx context.Context, id int64) error
	// RefundRequest decrements requests_today, never below zero.
	RefundRequest(ctx context.Context, id int64) error
	// UpgradeToPro extends the subscription by the given number of days from
	// the current expiry, or from now when the subscription already lapsed.
	UpgradeToPro(ctx context.Context, id int64, days int) (*User, error)
	// CleanupExpired downgrades every lapsed Pro row back to free.
	CleanupExpired(ctx context.Context) (int64, error)
	CountUsers(ctx context.Context) (int, error)
}

const userColumns = `user_id, plan, requests_today, last_request, paid_until, created_at, updated_at`

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) Ensure(ctx context.Context, id int64) (*User, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, id)
	if err != nil {
		return nil, fmt.Errorf("ensuring user: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *postgresRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	u := &User{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE user_id = $1`, id,
	).Scan(&u.ID, &u.Plan, &u.RequestsToday, &u.LastRequest, &u.PaidUntil, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying user by id: %w", err)
	}
	return u, nil
}

func (r *postgresRepository) ResetDayIfRolled(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users
		 SET requests_today = 0,
		     last_request = NOW(),
		     updated_at = NOW()
		 WHERE user_id = $1
		   AND (last_request AT TIME ZONE 'UTC')::date <> (NOW() AT TIME ZONE 'UTC')::date`, id)
	if err != nil {
		return false, fmt.Errorf("resetting daily counter: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *postgresRepository) IncrementRequests(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users
		 SET requests_today = requests_today + 1,
		     last_request = NOW(),
		     updated_at = NOW()
		 WHERE user_id = $1`, id)
	if err != nil {
		return fmt.Errorf("incrementing request count: %w", err)
	}
	return nil
}

func (r *postgresRepository) RefundRequest(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users
		 SET requests_today = requests_today - 1,
		     updated_at = NOW()
		 WHERE user_id = $1 AND requests_today > 0`, id)
	if err != nil {
		return fmt.Errorf("refunding request count: %w", err)
	}
	return nil
}

func (r *postgresRepository) UpgradeToPro(ctx context.Context, id int64, days int) (*User, error) {
	u := &User{}
	err := r.pool.QueryRow(ctx,
		`UPDATE users
		 SET plan = 'pro',
		     paid_until = GREATEST(COALESCE(paid_until, NOW()), NOW()) + make_interval(days => $2),
		     updated_at = NOW()
		 WHERE user_id = $1
		 RETURNING `+userColumns, id, days,
	).Scan(&u.ID, &u.Plan, &u.RequestsToday, &u.LastRequest, &u.PaidUntil, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("upgrading user to pro: %w", err)
	}
	return u, nil
}

func (r *postgresRepository) CleanupExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users
		 SET plan = 'free',
		     paid_until = NULL,
		     updated_at = NOW()
		 WHERE plan = 'pro' AND paid_until < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("cleaning up expired subscriptions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *postgresRepository) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}
