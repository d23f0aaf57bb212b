package localstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/kenjisakuragi/YT2Mail/internal/models"
)

type DeliveryLogRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewDeliveryLogRepo(db *sql.DB) *DeliveryLogRepo {
	return &DeliveryLogRepo{db: db, now: time.Now}
}

func (r *DeliveryLogRepo) Insert(ctx context.Context, l *models.DeliveryLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.SentAt.IsZero() {
		l.SentAt = r.now()
	}

	query, args, err := builder.Insert("delivery_logs").
		Columns("id", "user_id", "video_id", "sent_at").
		Values(l.ID.String(), l.UserID.String(), l.VideoID.String(), formatTime(l.SentAt)).
		ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *DeliveryLogRepo) Exists(ctx context.Context, userID, videoID uuid.UUID) (bool, error) {
	query, args, err := builder.Select("1").From("delivery_logs").
		Where(sq.Eq{"user_id": userID.String(), "video_id": videoID.String()}).
		Limit(1).ToSql()
	if err != nil {
		return false, err
	}
	var one int
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// CountForVideo returns how many recipients have been sent videoID.
func (r *DeliveryLogRepo) CountForVideo(ctx context.Context, videoID uuid.UUID) (int, error) {
	query, args, err := builder.Select("COUNT(*)").From("delivery_logs").
		Where(sq.Eq{"video_id": videoID.String()}).ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}
