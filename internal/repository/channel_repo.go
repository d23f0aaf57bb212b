package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kenjisakuragi/YT2Mail/internal/models"
)

type ChannelRepo struct {
	pool *pgxpool.Pool
}

func NewChannelRepo(pool *pgxpool.Pool) *ChannelRepo {
	return &ChannelRepo{pool: pool}
}

func (r *ChannelRepo) GetByChannelID(ctx context.Context, channelID string) (*models.Channel, error) {
	c := &models.Channel{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, channel_id, channel_name, category, is_active, last_checked_at
		FROM youtube_channels WHERE channel_id = $1`, channelID,
	).Scan(&c.ID, &c.ChannelID, &c.ChannelName, &c.Category, &c.IsActive, &c.LastCheckedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Upsert registers c, or refreshes its name and category if already known.
func (r *ChannelRepo) Upsert(ctx context.Context, c *models.Channel) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	query := `INSERT INTO youtube_channels (id, channel_id, channel_name, category, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (channel_id) DO UPDATE SET channel_name = EXCLUDED.channel_name,
			category = COALESCE(NULLIF(EXCLUDED.category, ''), youtube_channels.category)
		RETURNING id, is_active, last_checked_at`

	return r.pool.QueryRow(ctx, query, c.ID, c.ChannelID, c.ChannelName, c.Category, c.IsActive).
		Scan(&c.ID, &c.IsActive, &c.LastCheckedAt)
}

func (r *ChannelRepo) TouchLastChecked(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, "UPDATE youtube_channels SET last_checked_at = $1 WHERE id = $2", at, id)
	return err
}
