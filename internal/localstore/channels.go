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

type ChannelRepo struct {
	db *sql.DB
}

func NewChannelRepo(db *sql.DB) *ChannelRepo {
	return &ChannelRepo{db: db}
}

func (r *ChannelRepo) GetByChannelID(ctx context.Context, channelID string) (*models.Channel, error) {
	query, args, err := builder.Select("id", "channel_id", "channel_name", "category", "is_active", "last_checked_at").
		From("youtube_channels").
		Where(sq.Eq{"channel_id": channelID}).ToSql()
	if err != nil {
		return nil, err
	}

	var (
		c           = &models.Channel{}
		id          string
		lastChecked sql.NullString
	)
	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&id, &c.ChannelID, &c.ChannelName, &c.Category, &c.IsActive, &lastChecked,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("channel id: %w", err)
	}
	if c.LastCheckedAt, err = parseNullTime(lastChecked); err != nil {
		return nil, fmt.Errorf("last_checked_at: %w", err)
	}
	return c, nil
}

// Upsert registers c, or refreshes its name and category if already known.
func (r *ChannelRepo) Upsert(ctx context.Context, c *models.Channel) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	query, args, err := builder.Insert("youtube_channels").
		Columns("id", "channel_id", "channel_name", "category", "is_active").
		Values(c.ID.String(), c.ChannelID, c.ChannelName, c.Category, c.IsActive).
		Suffix(`ON CONFLICT (channel_id) DO UPDATE SET channel_name = excluded.channel_name,
			category = COALESCE(NULLIF(excluded.category, ''), youtube_channels.category)`).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return err
	}

	stored, err := r.GetByChannelID(ctx, c.ChannelID)
	if err != nil {
		return err
	}
	*c = *stored
	return nil
}

func (r *ChannelRepo) TouchLastChecked(ctx context.Context, id uuid.UUID, at time.Time) error {
	query, args, err := builder.Update("youtube_channels").
		Set("last_checked_at", formatTime(at)).
		Where(sq.Eq{"id": id.String()}).ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}
