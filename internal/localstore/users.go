package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/kenjisakuragi/YT2Mail/internal/models"
)

type UserRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db, now: time.Now}
}

// ListEntitled returns admins and users with an active or trialing subscription.
func (r *UserRepo) ListEntitled(ctx context.Context) ([]models.User, error) {
	query, args, err := builder.Select("id", "email", "subscription_status", "is_admin", "created_at").
		From("users").
		Where(sq.Or{
			sq.Eq{"is_admin": 1},
			sq.Eq{"subscription_status": []string{models.SubscriptionActive, models.SubscriptionTrialing}},
		}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var (
			u             models.User
			id, createdAt string
		)
		if err := rows.Scan(&id, &u.Email, &u.SubscriptionStatus, &u.IsAdmin, &createdAt); err != nil {
			return nil, err
		}
		if u.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("user id: %w", err)
		}
		if u.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("created_at: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Upsert creates u, or updates the subscription fields of the user with the same email.
func (r *UserRepo) Upsert(ctx context.Context, u *models.User) error {
	query, args, err := builder.Select("id", "created_at").From("users").
		Where(sq.Eq{"email": u.Email}).Limit(1).ToSql()
	if err != nil {
		return err
	}

	var id, createdAt string
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&id, &createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if u.ID == uuid.Nil {
			u.ID = uuid.New()
		}
		u.CreatedAt = r.now()
		query, args, err = builder.Insert("users").
			Columns("id", "email", "subscription_status", "is_admin", "created_at").
			Values(u.ID.String(), u.Email, u.SubscriptionStatus, u.IsAdmin, formatTime(u.CreatedAt)).
			ToSql()
		if err != nil {
			return err
		}
		_, err = r.db.ExecContext(ctx, query, args...)
		return err
	case err != nil:
		return err
	}

	if u.ID, err = uuid.Parse(id); err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return fmt.Errorf("created_at: %w", err)
	}
	query, args, err = builder.Update("users").
		Set("subscription_status", u.SubscriptionStatus).
		Set("is_admin", u.IsAdmin).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}
