package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kenjisakuragi/YT2Mail/internal/models"
)

type VideoRepo struct {
	pool *pgxpool.Pool
}

func NewVideoRepo(pool *pgxpool.Pool) *VideoRepo {
	return &VideoRepo{pool: pool}
}

func (r *VideoRepo) ExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM videos WHERE yt_video_id = $1)", externalID,
	).Scan(&exists)
	return exists, err
}

// Insert stores v unless a row with the same yt_video_id already exists.
// It reports false, with no error, when the insert was skipped.
func (r *VideoRepo) Insert(ctx context.Context, v *models.Video) (bool, error) {
	summaryBytes, err := json.Marshal(v.Summary)
	if err != nil {
		return false, fmt.Errorf("encode summary: %w", err)
	}
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}

	query := `INSERT INTO videos (id, yt_video_id, channel_id, title, summary_json, transcript, published_at, thumbnail_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (yt_video_id) DO NOTHING
		RETURNING created_at`

	err = r.pool.QueryRow(ctx, query,
		v.ID, v.ExternalID, v.ChannelID, v.Title, summaryBytes, v.Transcript, v.PublishedAt, v.ThumbnailURL,
	).Scan(&v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *VideoRepo) GetByExternalID(ctx context.Context, externalID string) (*models.Video, error) {
	v := &models.Video{}
	var summaryBytes []byte
	query := `SELECT id, yt_video_id, channel_id, title, summary_json, transcript, published_at, thumbnail_url, created_at
		FROM videos WHERE yt_video_id = $1`

	err := r.pool.QueryRow(ctx, query, externalID).Scan(
		&v.ID, &v.ExternalID, &v.ChannelID, &v.Title, &summaryBytes, &v.Transcript,
		&v.PublishedAt, &v.ThumbnailURL, &v.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(summaryBytes, &v.Summary); err != nil {
		return nil, fmt.Errorf("decode summary for %s: %w", externalID, err)
	}
	return v, nil
}
