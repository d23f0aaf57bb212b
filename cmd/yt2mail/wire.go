package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kenjisakuragi/YT2Mail/internal/config"
	"github.com/kenjisakuragi/YT2Mail/internal/database"
	"github.com/kenjisakuragi/YT2Mail/internal/localstore"
	"github.com/kenjisakuragi/YT2Mail/internal/models"
	"github.com/kenjisakuragi/YT2Mail/internal/pipeline"
	"github.com/kenjisakuragi/YT2Mail/internal/ratelimit"
	"github.com/kenjisakuragi/YT2Mail/internal/repository"
	"github.com/kenjisakuragi/YT2Mail/internal/services"
	"github.com/kenjisakuragi/YT2Mail/migrations"
)

type userStore interface {
	pipeline.UserStore
	Upsert(ctx context.Context, u *models.User) error
}

type stores struct {
	videos     pipeline.VideoStore
	users      userStore
	channels   pipeline.ChannelStore
	deliveries services.DeliveryLogStore
	close      func()
}

// openStores picks SQLite for sqlite:// URLs and Postgres otherwise.
func openStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (*stores, error) {
	if localstore.IsLocalURL(cfg.DatabaseURL) {
		db, err := localstore.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Debug("using local SQLite store", slog.String("url", cfg.DatabaseURL))
		return &stores{
			videos:     localstore.NewVideoRepo(db),
			users:      localstore.NewUserRepo(db),
			channels:   localstore.NewChannelRepo(db),
			deliveries: localstore.NewDeliveryLogRepo(db),
			close:      func() { db.Close() },
		}, nil
	}

	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.RunMigrations(ctx, pool, migrations.FS); err != nil {
		pool.Close()
		return nil, err
	}
	return &stores{
		videos:     repository.NewVideoRepo(pool),
		users:      repository.NewUserRepo(pool),
		channels:   repository.NewChannelRepo(pool),
		deliveries: repository.NewDeliveryLogRepo(pool),
		close:      pool.Close,
	}, nil
}

func newYouTube(ctx context.Context, cfg *config.Config, log *slog.Logger) (*services.YouTubeService, error) {
	return services.NewYouTubeService(ctx, cfg.YouTubeAPIKey, services.YouTubeOptions{
		SkipShorts:       cfg.SkipShorts,
		ShortsMaxSeconds: cfg.ShortsMaxSeconds,
	}, log)
}

func newDelivery(cfg *config.Config, st *stores, log *slog.Logger) *services.DeliveryService {
	email := services.NewEmailService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, log)
	return services.NewDeliveryService(email, st.deliveries, cfg.SiteURL, log)
}

// buildPipeline wires every collaborator for digest and backfill runs. The
// returned cleanup must be called when the run ends.
func buildPipeline(ctx context.Context, cfg *config.Config, st *stores, log *slog.Logger) (*pipeline.Pipeline, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	youtube, err := newYouTube(ctx, cfg, log)
	if err != nil {
		return nil, cleanup, err
	}

	// A nil provider is reported as ErrMissingAPIKey by the summarizer's preflight.
	var provider services.Provider
	if cfg.GeminiAPIKey != "" {
		gemini, err := services.NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, log)
		if err != nil {
			return nil, cleanup, fmt.Errorf("%w: %w", models.ErrSummarizationFailed, err)
		}
		cleanups = append(cleanups, gemini.Close)
		provider = gemini
	}

	pacing := ratelimit.NewFixedPolicy(cfg.SummarizeDelay, cfg.ErrorCooldown)
	summarizer := services.NewSummarizer(provider, log)
	resolver := services.NewTranscriptResolver(
		services.NewCaptionService(cfg.CaptionLanguages, cfg.CaptionFetchTimeout, log),
		services.NewAudioService(cfg.AudioDir, cfg.AudioDownloadTimeout, log),
		summarizer,
		pacing,
		cfg.TranscriptMinChars,
		log,
	)

	deps := pipeline.Deps{
		Videos:     st.videos,
		Users:      st.users,
		Channels:   st.channels,
		Source:     youtube,
		Resolver:   resolver,
		Summarizer: summarizer,
		Delivery:   newDelivery(cfg, st, log),
		Pacing:     pacing,
	}

	if cfg.RedisURL != "" {
		client, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, cleanup, err
		}
		cleanups = append(cleanups, func() { client.Close() })
		deps.Lock = services.NewRunLock(client, log)
	}

	return pipeline.New(deps, cfg.DigestLookback, log), cleanup, nil
}
