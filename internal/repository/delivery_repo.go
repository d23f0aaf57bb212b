package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kenjisakuragi/YT2Mail/internal/models"
)

type DeliveryLogRepo struct {
	pool *pgxpool.Pool
}

func NewDeliveryLogRepo(pool *pgxpool.Pool) *DeliveryLogRepo {
	return &DeliveryLogRepo{pool: pool}
}

// Insert records a delivery. A zero SentAt is filled in by the database.
func (r *DeliveryLogRepo) Insert(ctx context.Context, l *models.DeliveryLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	var sentAt *time.Time
	if !l.SentAt.IsZero() {
		sentAt = &l.SentAt
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO delivery_logs (id, user_id, video_id, sent_at)
		VALUES ($1, $2, $3, COALESCE($4::timestamptz, NOW())) RETURNING sent_at`,
		l.ID, l.UserID, l.VideoID, sentAt,
	).Scan(&l.SentAt)
}

func (r *DeliveryLogRepo) Exists(ctx context.Context, userID, videoID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM delivery_logs WHERE user_id = $1 AND video_id = $2)",
		userID, videoID,
	).Scan(&exists)
	return exists, err
}
