// Package pipeline runs one ingestion pass over a channel: discover new
// uploads, resolve a transcript, summarize, persist, then email entitled users.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kenjisakuragi/YT2Mail/internal/logging"
	"github.com/kenjisakuragi/YT2Mail/internal/models"
	"github.com/kenjisakuragi/YT2Mail/internal/ratelimit"
	"github.com/kenjisakuragi/YT2Mail/internal/services"
)

const (
	StageDiscover   = "discover"
	StageDedup      = "dedup"
	StageTranscript = "transcript"
	StageSummarize  = "summarize"
	StagePersist    = "persist"
	StageDeliver    = "deliver"
)

// VideoError is a failure confined to one video.
type VideoError struct {
	ExternalID string
	Stage      string
	Err        error
}

func (e *VideoError) Error() string {
	return fmt.Sprintf("video %s: %s: %v", e.ExternalID, e.Stage, e.Err)
}

func (e *VideoError) Unwrap() error { return e.Err }

type VideoStore interface {
	ExistsByExternalID(ctx context.Context, externalID string) (bool, error)
	Insert(ctx context.Context, v *models.Video) (bool, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.Video, error)
}

type UserStore interface {
	ListEntitled(ctx context.Context) ([]models.User, error)
}

type ChannelStore interface {
	GetByChannelID(ctx context.Context, channelID string) (*models.Channel, error)
	Upsert(ctx context.Context, c *models.Channel) error
	TouchLastChecked(ctx context.Context, id uuid.UUID, at time.Time) error
}

type VideoSource interface {
	ResolveChannel(ctx context.Context, identifier string) (services.ChannelInfo, error)
	ListRecentVideos(ctx context.Context, channelID string, since time.Time, limit int) iter.Seq2[models.VideoRef, error]
}

type TranscriptResolver interface {
	Resolve(ctx context.Context, videoID string) (services.Resolution, error)
}

type TextSummarizer interface {
	Ready() error
	SummarizeText(ctx context.Context, videoID, transcript string) (models.SummaryDocument, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, video *models.Video, users []models.User) (services.DeliveryResult, error)
}

type Locker interface {
	Acquire(ctx context.Context, name string) (func(), error)
}

var (
	_ VideoSource        = (*services.YouTubeService)(nil)
	_ TranscriptResolver = (*services.TranscriptResolver)(nil)
	_ TextSummarizer     = (*services.Summarizer)(nil)
	_ Deliverer          = (*services.DeliveryService)(nil)
	_ Locker             = (*services.RunLock)(nil)
)

// Deps are the collaborators of a Pipeline. Lock may be nil.
type Deps struct {
	Videos     VideoStore
	Users      UserStore
	Channels   ChannelStore
	Source     VideoSource
	Resolver   TranscriptResolver
	Summarizer TextSummarizer
	Delivery   Deliverer
	Pacing     ratelimit.Policy
	Lock       Locker
}

// RunOptions selects between a scheduled run and a backfill.
type RunOptions struct {
	Channel string
	// Backfill ignores the watermark and lists the whole channel.
	Backfill bool
	// MaxItems bounds discovered videos; 0 means no bound.
	MaxItems int
}

type RunStats struct {
	Discovered     int
	Processed      int
	Skipped        int
	Failed         int
	Delivered      int
	DeliveryFailed int
}

type Pipeline struct {
	deps     Deps
	lookback time.Duration
	now      func() time.Time
	log      *slog.Logger
}

func New(deps Deps, lookback time.Duration, log *slog.Logger) *Pipeline {
	if deps.Pacing == nil {
		deps.Pacing = ratelimit.NoDelay{}
	}
	return &Pipeline{
		deps:     deps,
		lookback: lookback,
		now:      time.Now,
		log:      log,
	}
}

// Run processes the channel's new uploads strictly in order. Per-video
// failures are counted and the loop moves on. The returned error is non-nil
// only for run-level failures: missing credentials, an unresolvable channel,
// a broken listing, a held run lock or cancellation.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (RunStats, error) {
	var stats RunStats

	if err := p.deps.Summarizer.Ready(); err != nil {
		return stats, err
	}

	info, err := p.deps.Source.ResolveChannel(ctx, opts.Channel)
	if err != nil {
		return stats, err
	}
	log := p.log.With(slog.String("channel_id", info.ID))

	if p.deps.Lock != nil {
		release, err := p.deps.Lock.Acquire(ctx, info.ID)
		if err != nil {
			return stats, err
		}
		defer release()
	}

	channel, err := p.registerChannel(ctx, info)
	if err != nil {
		return stats, err
	}

	startedAt := p.now().UTC()
	since := p.watermark(channel, opts.Backfill, startedAt)

	users, err := p.deps.Users.ListEntitled(ctx)
	if err != nil {
		return stats, fmt.Errorf("%w: list entitled users: %w", models.ErrPersistenceFailed, err)
	}
	log.Info("run started",
		slog.Time("since", since),
		slog.Bool("backfill", opts.Backfill),
		slog.Int("max_items", opts.MaxItems),
		slog.Int("recipients", len(users)),
	)

	for ref, err := range p.deps.Source.ListRecentVideos(ctx, info.ID, since, opts.MaxItems) {
		if err != nil {
			return stats, err
		}
		stats.Discovered++

		processed, err := p.processVideo(ctx, channel, ref, users, &stats)
		if err == nil {
			if processed {
				stats.Processed++
			} else {
				stats.Skipped++
			}
			continue
		}

		if errors.Is(err, models.ErrMissingAPIKey) || ctx.Err() != nil {
			return stats, err
		}
		stats.Failed++
		log.Error("video failed",
			slog.String(logging.KeyVideoID, ref.ExternalID),
			slog.String(logging.KeyStage, stageOf(err)),
			slog.Bool("rate_limited", ratelimit.IsRateLimited(err)),
			slog.Any("error", err),
		)

		if err := p.deps.Pacing.Cooldown(ctx, err); err != nil {
			return stats, err
		}
	}

	if err := p.deps.Channels.TouchLastChecked(ctx, channel.ID, startedAt); err != nil {
		log.Warn("failed to update last_checked_at", slog.Any("error", err))
	}

	log.Info("run finished",
		slog.Int("discovered", stats.Discovered),
		slog.Int("processed", stats.Processed),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failed", stats.Failed),
		slog.Int("delivered", stats.Delivered),
		slog.Int("delivery_failed", stats.DeliveryFailed),
	)
	return stats, nil
}

func (p *Pipeline) registerChannel(ctx context.Context, info services.ChannelInfo) (*models.Channel, error) {
	channel, err := p.deps.Channels.GetByChannelID(ctx, info.ID)
	if err == nil {
		return channel, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%w: load channel: %w", models.ErrPersistenceFailed, err)
	}

	channel = &models.Channel{ChannelID: info.ID, ChannelName: info.Title, IsActive: true}
	if err := p.deps.Channels.Upsert(ctx, channel); err != nil {
		return nil, fmt.Errorf("%w: register channel: %w", models.ErrPersistenceFailed, err)
	}
	p.log.Info("registered channel", slog.String("channel_id", info.ID), slog.String("title", info.Title))
	return channel, nil
}

// watermark is the earlier of the last check and now minus the lookback, so
// videos that failed in a recent run are listed again. Dedup skips the rest.
func (p *Pipeline) watermark(channel *models.Channel, backfill bool, now time.Time) time.Time {
	if backfill {
		return time.Time{}
	}
	since := now.Add(-p.lookback)
	if last := channel.LastCheckedAt; last != nil && !last.IsZero() && last.Before(since) {
		return *last
	}
	return since
}

// processVideo reports false when the video was already stored.
func (p *Pipeline) processVideo(ctx context.Context, channel *models.Channel, ref models.VideoRef, users []models.User, stats *RunStats) (bool, error) {
	id := ref.ExternalID
	log := logging.ForVideo(p.log, id, StageDedup)

	exists, err := p.deps.Videos.ExistsByExternalID(ctx, id)
	if err != nil {
		return false, &VideoError{id, StageDedup, fmt.Errorf("%w: %w", models.ErrPersistenceFailed, err)}
	}
	if exists {
		log.Debug("already processed")
		return false, nil
	}

	log.Info("processing video", slog.String("title", ref.Title))

	res, err := p.deps.Resolver.Resolve(ctx, id)
	if err != nil {
		stage := StageTranscript
		if errors.Is(err, models.ErrSummarizationFailed) {
			stage = StageSummarize
		}
		return false, &VideoError{id, stage, err}
	}

	var summary models.SummaryDocument
	if res.Summary != nil {
		summary = *res.Summary
	} else {
		if err := p.deps.Pacing.Wait(ctx); err != nil {
			return false, err
		}
		summary, err = p.deps.Summarizer.SummarizeText(ctx, id, res.Transcript)
		if err != nil {
			return false, &VideoError{id, StageSummarize, err}
		}
	}

	video := &models.Video{
		ExternalID:  id,
		ChannelID:   &channel.ID,
		Title:       ref.Title,
		PublishedAt: ref.PublishedAt,
		Summary:     summary,
	}
	if ref.ThumbnailURL != "" {
		video.ThumbnailURL = &ref.ThumbnailURL
	}
	if res.Transcript != "" {
		video.Transcript = &res.Transcript
	}

	inserted, err := p.deps.Videos.Insert(ctx, video)
	if err != nil {
		return false, &VideoError{id, StagePersist, fmt.Errorf("%w: %w", models.ErrPersistenceFailed, err)}
	}
	if !inserted {
		logging.ForVideo(p.log, id, StagePersist).Info("video stored by a concurrent run, skipping delivery")
		return false, nil
	}
	logging.ForVideo(p.log, id, StagePersist).Info("video saved", slog.String("id", video.ID.String()), slog.String("transcript_source", res.Source))

	result, err := p.deps.Delivery.Deliver(ctx, video, users)
	stats.Delivered += result.Delivered
	stats.DeliveryFailed += result.Failed
	if err != nil {
		if ctx.Err() != nil {
			return false, err
		}
		// The video stays persisted; only the fan-out failed.
		logging.ForVideo(p.log, id, StageDeliver).Error("delivery failed", slog.Any("error", err))
	}
	return true, nil
}

// Redeliver sends an already stored video to entitled users who have no
// delivery log row for it.
func (p *Pipeline) Redeliver(ctx context.Context, externalID string) (services.DeliveryResult, error) {
	video, err := p.deps.Videos.GetByExternalID(ctx, externalID)
	if err != nil {
		return services.DeliveryResult{}, fmt.Errorf("load video %s: %w", externalID, err)
	}
	users, err := p.deps.Users.ListEntitled(ctx)
	if err != nil {
		return services.DeliveryResult{}, fmt.Errorf("%w: list entitled users: %w", models.ErrPersistenceFailed, err)
	}

	result, err := p.deps.Delivery.Deliver(ctx, video, users)
	if err != nil {
		return result, err
	}
	logging.ForVideo(p.log, externalID, StageDeliver).Info("redelivery finished",
		slog.Int("delivered", result.Delivered),
		slog.Int("failed", result.Failed),
		slog.Int("skipped", result.Skipped),
	)
	return result, nil
}

func stageOf(err error) string {
	var ve *VideoError
	if errors.As(err, &ve) {
		return ve.Stage
	}
	return StageDiscover
}
