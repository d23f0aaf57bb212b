package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/kenjisakuragi/YT2Mail/internal/models"
)

type VideoRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewVideoRepo(db *sql.DB) *VideoRepo {
	return &VideoRepo{db: db, now: time.Now}
}

var videoColumns = []string{
	"id", "yt_video_id", "channel_id", "title", "summary_json", "transcript", "published_at", "thumbnail_url", "created_at",
}

func (r *VideoRepo) ExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	query, args, err := builder.Select("1").From("videos").
		Where(sq.Eq{"yt_video_id": externalID}).Limit(1).ToSql()
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
	createdAt := r.now()

	var channelID sql.NullString
	if v.ChannelID != nil {
		channelID = sql.NullString{String: v.ChannelID.String(), Valid: true}
	}

	query, args, err := builder.Insert("videos").Columns(videoColumns...).
		Values(
			v.ID.String(), v.ExternalID, channelID, v.Title, string(summaryBytes),
			nullString(v.Transcript), formatTime(v.PublishedAt), nullString(v.ThumbnailURL), formatTime(createdAt),
		).
		Suffix("ON CONFLICT (yt_video_id) DO NOTHING").
		ToSql()
	if err != nil {
		return false, err
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	v.CreatedAt = createdAt
	return true, nil
}

func (r *VideoRepo) GetByExternalID(ctx context.Context, externalID string) (*models.Video, error) {
	query, args, err := builder.Select(videoColumns...).From("videos").
		Where(sq.Eq{"yt_video_id": externalID}).ToSql()
	if err != nil {
		return nil, err
	}

	var (
		id, summaryJSON, publishedAt, createdAt string
		channelID, transcript, thumbnail        sql.NullString
		v                                       = &models.Video{}
	)
	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&id, &v.ExternalID, &channelID, &v.Title, &summaryJSON, &transcript, &publishedAt, &thumbnail, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if v.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("video id: %w", err)
	}
	if channelID.Valid {
		cid, err := uuid.Parse(channelID.String)
		if err != nil {
			return nil, fmt.Errorf("channel id: %w", err)
		}
		v.ChannelID = &cid
	}
	if err := json.Unmarshal([]byte(summaryJSON), &v.Summary); err != nil {
		return nil, fmt.Errorf("decode summary for %s: %w", externalID, err)
	}
	if v.PublishedAt, err = parseTime(publishedAt); err != nil {
		return nil, fmt.Errorf("published_at: %w", err)
	}
	if v.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	v.Transcript = stringPtr(transcript)
	v.ThumbnailURL = stringPtr(thumbnail)
	return v, nil
}
