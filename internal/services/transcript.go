package services

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/kenjisakuragi/YT2Mail/internal/logging"
	"github.com/kenjisakuragi/YT2Mail/internal/models"
	"github.com/kenjisakuragi/YT2Mail/internal/ratelimit"
)

const (
	SourceCaptions = "captions"
	SourceAudio    = "audio"
)

type CaptionSource interface {
	GetTranscript(ctx context.Context, videoID string) (string, error)
}

type AudioSource interface {
	Download(ctx context.Context, videoID string) (string, error)
	Remove(videoID string) error
}

type AudioSummarizer interface {
	SummarizeAudio(ctx context.Context, videoID, path, mimeType string) (ParsedResponse, error)
}

var (
	_ CaptionSource   = (*CaptionService)(nil)
	_ AudioSource     = (*AudioService)(nil)
	_ AudioSummarizer = (*Summarizer)(nil)
)

// Resolution is the outcome of transcript resolution. Summary is set when the
// audio path already produced the document.
type Resolution struct {
	Transcript string
	Summary    *models.SummaryDocument
	Source     string
}

// TranscriptResolver tries captions first and falls back to downloading the
// audio and summarizing it directly.
type TranscriptResolver struct {
	captions   CaptionSource
	audio      AudioSource
	summarizer AudioSummarizer
	pacing     ratelimit.Policy
	minChars   int
	log        *slog.Logger
}

func NewTranscriptResolver(captions CaptionSource, audio AudioSource, summarizer AudioSummarizer, pacing ratelimit.Policy, minChars int, log *slog.Logger) *TranscriptResolver {
	return &TranscriptResolver{
		captions:   captions,
		audio:      audio,
		summarizer: summarizer,
		pacing:     pacing,
		minChars:   minChars,
		log:        log,
	}
}

func (r *TranscriptResolver) Resolve(ctx context.Context, videoID string) (Resolution, error) {
	log := logging.ForVideo(r.log, videoID, "transcript")

	text, err := r.captions.GetTranscript(ctx, videoID)
	switch {
	case err != nil:
		log.Info("captions unavailable, falling back to audio", slog.Any("reason", err))
	case utf8.RuneCountInString(text) <= r.minChars:
		log.Info("captions too short, falling back to audio", slog.Int("chars", utf8.RuneCountInString(text)))
	default:
		return Resolution{Transcript: text, Source: SourceCaptions}, nil
	}

	path, err := r.audio.Download(ctx, videoID)
	if err != nil {
		return Resolution{}, err
	}
	defer func() {
		if err := r.audio.Remove(videoID); err != nil {
			log.Warn("failed to remove local audio", slog.String("path", path), slog.Any("error", err))
		}
	}()

	if err := r.pacing.Wait(ctx); err != nil {
		return Resolution{}, err
	}
	parsed, err := r.summarizer.SummarizeAudio(ctx, videoID, path, MimeTypeForPath(path))
	if err != nil {
		return Resolution{}, fmt.Errorf("audio summary: %w", err)
	}

	return Resolution{
		Transcript: parsed.Transcript,
		Summary:    &parsed.Summary,
		Source:     SourceAudio,
	}, nil
}
