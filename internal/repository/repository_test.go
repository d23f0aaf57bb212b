package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenjisakuragi/YT2Mail/internal/database"
	"github.com/kenjisakuragi/YT2Mail/internal/models"
	"github.com/kenjisakuragi/YT2Mail/migrations"
)

// testPool connects to YT2MAIL_TEST_DATABASE_URL, applies the migrations and
// empties every table. The test is skipped when the variable is unset.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("YT2MAIL_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("YT2MAIL_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.RunMigrations(ctx, pool, migrations.FS))
	_, err = pool.Exec(ctx, "TRUNCATE delivery_logs, videos, users, youtube_channels CASCADE")
	require.NoError(t, err)
	return pool
}

func sampleVideo(externalID string) *models.Video {
	transcript := "hello world"
	return &models.Video{
		ExternalID:  externalID,
		Title:       "How I built a $1M app",
		PublishedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Transcript:  &transcript,
		Summary: models.SummaryDocument{
			BusinessOverview: "SaaS for dentists",
			KeyMetrics:       "MRR $80k",
		},
	}
}

func TestVideoRepo_InsertSkipsDuplicateExternalID(t *testing.T) {
	ctx := context.Background()
	repo := NewVideoRepo(testPool(t))

	first := sampleVideo("abc123")
	inserted, err := repo.Insert(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.False(t, first.CreatedAt.IsZero())

	dup := sampleVideo("abc123")
	dup.Title = "A different title"
	inserted, err = repo.Insert(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted, "conflicting insert must report false without an error")

	got, err := repo.GetByExternalID(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, first.Title, got.Title)
	assert.Equal(t, first.Summary, got.Summary)
	require.NotNil(t, got.Transcript)
	assert.Equal(t, "hello world", *got.Transcript)
	assert.True(t, first.PublishedAt.Equal(got.PublishedAt))

	exists, err := repo.ExistsByExternalID(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestVideoRepo_GetByExternalIDNotFound(t *testing.T) {
	repo := NewVideoRepo(testPool(t))

	_, err := repo.GetByExternalID(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeliveryLogRepo_Insert(t *testing.T) {
	ctx := context.Background()
	pool := testPool(t)

	user := &models.User{Email: "reader@example.com", SubscriptionStatus: models.SubscriptionActive}
	require.NoError(t, NewUserRepo(pool).Upsert(ctx, user))
	video := sampleVideo("abc123")
	_, err := NewVideoRepo(pool).Insert(ctx, video)
	require.NoError(t, err)

	repo := NewDeliveryLogRepo(pool)

	exists, err := repo.Exists(ctx, user.ID, video.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	t.Run("explicit sent_at is stored", func(t *testing.T) {
		sentAt := time.Date(2025, 3, 2, 6, 0, 0, 0, time.UTC)
		l := &models.DeliveryLog{UserID: user.ID, VideoID: video.ID, SentAt: sentAt}
		require.NoError(t, repo.Insert(ctx, l))
		assert.True(t, sentAt.Equal(l.SentAt))

		var stored time.Time
		require.NoError(t, pool.QueryRow(ctx, "SELECT sent_at FROM delivery_logs WHERE id = $1", l.ID).Scan(&stored))
		assert.True(t, sentAt.Equal(stored), "stored %v, want %v", stored, sentAt)
	})

	t.Run("zero sent_at defaults to now", func(t *testing.T) {
		before := time.Now().Add(-time.Minute)
		l := &models.DeliveryLog{UserID: user.ID, VideoID: video.ID}
		require.NoError(t, repo.Insert(ctx, l))
		assert.NotEqual(t, uuid.Nil, l.ID)
		assert.True(t, l.SentAt.After(before), "sent_at %v should be recent", l.SentAt)
	})

	exists, err = repo.Exists(ctx, user.ID, video.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUserRepo_ListEntitled(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepo(testPool(t))

	for _, u := range []*models.User{
		{Email: "active@example.com", SubscriptionStatus: models.SubscriptionActive},
		{Email: "gone@example.com", SubscriptionStatus: models.SubscriptionCanceled},
		{Email: "admin@example.com", SubscriptionStatus: models.SubscriptionUnpaid, IsAdmin: true},
	} {
		require.NoError(t, repo.Upsert(ctx, u))
	}
	// Upsert by email updates the existing row.
	require.NoError(t, repo.Upsert(ctx, &models.User{Email: "gone@example.com", SubscriptionStatus: models.SubscriptionTrialing}))

	users, err := repo.ListEntitled(ctx)
	require.NoError(t, err)

	var emails []string
	for _, u := range users {
		emails = append(emails, u.Email)
	}
	assert.ElementsMatch(t, []string{"active@example.com", "gone@example.com", "admin@example.com"}, emails)
}

func TestChannelRepo_UpsertAndTouch(t *testing.T) {
	ctx := context.Background()
	repo := NewChannelRepo(testPool(t))

	_, err := repo.GetByChannelID(ctx, "UCxyz")
	assert.ErrorIs(t, err, models.ErrNotFound)

	c := &models.Channel{ChannelID: "UCxyz", ChannelName: "Starter Story", Category: "business", IsActive: true}
	require.NoError(t, repo.Upsert(ctx, c))
	assert.Nil(t, c.LastCheckedAt)

	at := time.Date(2025, 3, 2, 6, 0, 0, 0, time.UTC)
	require.NoError(t, repo.TouchLastChecked(ctx, c.ID, at))

	// An empty category on re-registration keeps the stored one.
	again := &models.Channel{ChannelID: "UCxyz", ChannelName: "Starter Story Clips", IsActive: true}
	require.NoError(t, repo.Upsert(ctx, again))
	assert.Equal(t, c.ID, again.ID)

	got, err := repo.GetByChannelID(ctx, "UCxyz")
	require.NoError(t, err)
	assert.Equal(t, "Starter Story Clips", got.ChannelName)
	assert.Equal(t, "business", got.Category)
	require.NotNil(t, got.LastCheckedAt)
	assert.True(t, at.Equal(*got.LastCheckedAt))
}
