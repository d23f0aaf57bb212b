package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kenjisakuragi/YT2Mail/internal/models"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// ListEntitled returns admins and users with an active or trialing subscription.
func (r *UserRepo) ListEntitled(ctx context.Context) ([]models.User, error) {
	query := `SELECT id, email, subscription_status, is_admin, created_at
		FROM users
		WHERE is_admin = TRUE OR subscription_status IN ($1, $2)
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, models.SubscriptionActive, models.SubscriptionTrialing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.SubscriptionStatus, &u.IsAdmin, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Upsert creates u, or updates the subscription fields of the user with the same email.
func (r *UserRepo) Upsert(ctx context.Context, u *models.User) error {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, "SELECT id FROM users WHERE email = $1", u.Email).Scan(&id)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if u.ID == uuid.Nil {
			u.ID = uuid.New()
		}
		return r.pool.QueryRow(ctx,
			`INSERT INTO users (id, email, subscription_status, is_admin)
			VALUES ($1, $2, $3, $4) RETURNING created_at`,
			u.ID, u.Email, u.SubscriptionStatus, u.IsAdmin,
		).Scan(&u.CreatedAt)
	case err != nil:
		return err
	}

	u.ID = id
	return r.pool.QueryRow(ctx,
		"UPDATE users SET subscription_status = $1, is_admin = $2 WHERE id = $3 RETURNING created_at",
		u.SubscriptionStatus, u.IsAdmin, u.ID,
	).Scan(&u.CreatedAt)
}
