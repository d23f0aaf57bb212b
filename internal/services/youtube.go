package services

import (
	"context"
	"fmt"
	"html"
	"iter"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/kenjisakuragi/YT2Mail/internal/logging"
	"github.com/kenjisakuragi/YT2Mail/internal/models"
	"github.com/kenjisakuragi/YT2Mail/internal/ratelimit"
)

const searchPageSize = 50

// ChannelInfo is a resolved upstream channel.
type ChannelInfo struct {
	ID    string
	Title string
}

type YouTubeOptions struct {
	SkipShorts       bool
	ShortsMaxSeconds int
}

// YouTubeService discovers uploads through the YouTube Data API.
type YouTubeService struct {
	api  *youtube.Service
	opts YouTubeOptions
	log  *slog.Logger
}

// NewYouTubeService fails with ErrSourceUnavailable when apiKey is empty.
func NewYouTubeService(ctx context.Context, apiKey string, opts YouTubeOptions, log *slog.Logger, clientOpts ...option.ClientOption) (*YouTubeService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: YOUTUBE_API_KEY is missing", models.ErrSourceUnavailable)
	}
	api, err := youtube.NewService(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, clientOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create YouTube client: %v", models.ErrSourceUnavailable, err)
	}
	return &YouTubeService{api: api, opts: opts, log: log}, nil
}

var channelIDPattern = regexp.MustCompile(`^UC[0-9A-Za-z_-]{22}$`)

// channelRef is a parsed channel identifier before any API call.
type channelRef struct {
	id       string
	handle   string
	username string
	custom   string
}

// parseChannelRef accepts a UC… id, an @handle, or a channel URL
// (/@handle, /channel/UC…, /user/name, /c/name).
func parseChannelRef(input string) (channelRef, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return channelRef{}, fmt.Errorf("empty channel identifier")
	}

	if strings.Contains(s, "youtube.com") || strings.Contains(s, "youtu.be") {
		if !strings.Contains(s, "://") {
			s = "https://" + s
		}
		u, err := url.Parse(s)
		if err != nil {
			return channelRef{}, fmt.Errorf("invalid channel URL %q: %w", input, err)
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		switch {
		case len(parts) >= 1 && strings.HasPrefix(parts[0], "@"):
			return channelRef{handle: parts[0]}, nil
		case len(parts) >= 2 && parts[0] == "channel":
			return channelRef{id: parts[1]}, nil
		case len(parts) >= 2 && parts[0] == "user":
			return channelRef{username: parts[1]}, nil
		case len(parts) >= 2 && parts[0] == "c":
			return channelRef{custom: parts[1]}, nil
		}
		return channelRef{}, fmt.Errorf("unrecognized channel URL %q", input)
	}

	if strings.HasPrefix(s, "@") {
		return channelRef{handle: s}, nil
	}
	if channelIDPattern.MatchString(s) {
		return channelRef{id: s}, nil
	}
	// A bare name is treated as a handle.
	return channelRef{handle: "@" + s}, nil
}

// ResolveChannel maps any accepted identifier to the canonical channel id.
// Failure is ErrSourceUnavailable.
func (s *YouTubeService) ResolveChannel(ctx context.Context, identifier string) (ChannelInfo, error) {
	ref, err := parseChannelRef(identifier)
	if err != nil {
		return ChannelInfo{}, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}

	if ref.custom != "" {
		// Custom URLs have no direct lookup; search for the channel by name.
		resp, err := ratelimit.RetryDo(ctx, ratelimit.DefaultRetryConfig, func() (*youtube.SearchListResponse, error) {
			return s.api.Search.List([]string{"snippet"}).Q(ref.custom).Type("channel").MaxResults(1).Context(ctx).Do()
		})
		if err != nil {
			return ChannelInfo{}, fmt.Errorf("%w: channel search for %q: %v", models.ErrSourceUnavailable, ref.custom, err)
		}
		if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
			return ChannelInfo{}, fmt.Errorf("%w: no channel found for %q", models.ErrSourceUnavailable, identifier)
		}
		ref = channelRef{id: resp.Items[0].Snippet.ChannelId}
	}

	call := s.api.Channels.List([]string{"id", "snippet"})
	switch {
	case ref.id != "":
		call = call.Id(ref.id)
	case ref.handle != "":
		call = call.ForHandle(ref.handle)
	case ref.username != "":
		call = call.ForUsername(ref.username)
	}

	resp, err := ratelimit.RetryDo(ctx, ratelimit.DefaultRetryConfig, func() (*youtube.ChannelListResponse, error) {
		return call.Context(ctx).Do()
	})
	if err != nil {
		return ChannelInfo{}, fmt.Errorf("%w: channel lookup for %q: %v", models.ErrSourceUnavailable, identifier, err)
	}
	if len(resp.Items) == 0 {
		return ChannelInfo{}, fmt.Errorf("%w: channel %q not found", models.ErrSourceUnavailable, identifier)
	}

	item := resp.Items[0]
	info := ChannelInfo{ID: item.Id}
	if item.Snippet != nil {
		info.Title = item.Snippet.Title
	}
	return info, nil
}

// ListRecentVideos lazily yields uploads of channelID published at or after
// since, newest first. A zero since means no lower bound; limit <= 0 means no
// limit. Each call re-issues pagination from the first page. Shorts are
// dropped when configured.
func (s *YouTubeService) ListRecentVideos(ctx context.Context, channelID string, since time.Time, limit int) iter.Seq2[models.VideoRef, error] {
	return func(yield func(models.VideoRef, error) bool) {
		yielded := 0
		pageToken := ""
		for {
			call := s.api.Search.List([]string{"snippet"}).
				ChannelId(channelID).
				Order("date").
				Type("video").
				MaxResults(searchPageSize)
			if !since.IsZero() {
				call = call.PublishedAfter(since.UTC().Format(time.RFC3339))
			}
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}

			page, err := ratelimit.RetryDo(ctx, ratelimit.DefaultRetryConfig, func() (*youtube.SearchListResponse, error) {
				return call.Context(ctx).Do()
			})
			if err != nil {
				yield(models.VideoRef{}, fmt.Errorf("%w: search page: %v", models.ErrSourceUnavailable, err))
				return
			}

			ids := make([]string, 0, len(page.Items))
			for _, item := range page.Items {
				if item.Id != nil && item.Id.VideoId != "" {
					ids = append(ids, item.Id.VideoId)
				}
			}

			refs, err := s.videoDetails(ctx, ids)
			if err != nil {
				yield(models.VideoRef{}, err)
				return
			}

			for _, ref := range refs {
				if !since.IsZero() && ref.PublishedAt.Before(since) {
					continue
				}
				if s.isShort(ref) {
					logging.ForVideo(s.log, ref.ExternalID, "discover").Debug("skipping short", slog.Int("duration_seconds", ref.DurationSeconds))
					continue
				}
				if !yield(ref, nil) {
					return
				}
				yielded++
				if limit > 0 && yielded >= limit {
					return
				}
			}

			if page.NextPageToken == "" {
				return
			}
			pageToken = page.NextPageToken
		}
	}
}

// videoDetails fetches titles, durations and thumbnails for ids, keeping
// their order. Ids the API does not return are dropped.
func (s *YouTubeService) videoDetails(ctx context.Context, ids []string) ([]models.VideoRef, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	resp, err := ratelimit.RetryDo(ctx, ratelimit.DefaultRetryConfig, func() (*youtube.VideoListResponse, error) {
		return s.api.Videos.List([]string{"snippet", "contentDetails"}).Id(ids...).Context(ctx).Do()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: video details: %v", models.ErrSourceUnavailable, err)
	}

	byID := make(map[string]*youtube.Video, len(resp.Items))
	for _, v := range resp.Items {
		byID[v.Id] = v
	}

	refs := make([]models.VideoRef, 0, len(ids))
	for _, id := range ids {
		v, ok := byID[id]
		if !ok || v.Snippet == nil {
			continue
		}
		ref := models.VideoRef{
			ExternalID:   id,
			Title:        html.UnescapeString(v.Snippet.Title),
			ThumbnailURL: bestThumbnail(v.Snippet.Thumbnails),
		}
		if t, err := time.Parse(time.RFC3339, v.Snippet.PublishedAt); err == nil {
			ref.PublishedAt = t
		}
		if v.ContentDetails != nil {
			ref.DurationSeconds = parseISODuration(v.ContentDetails.Duration)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// GetVideo returns metadata for a single video.
func (s *YouTubeService) GetVideo(ctx context.Context, videoID string) (models.VideoRef, error) {
	refs, err := s.videoDetails(ctx, []string{videoID})
	if err != nil {
		return models.VideoRef{}, err
	}
	if len(refs) == 0 {
		return models.VideoRef{}, fmt.Errorf("video %s: %w", videoID, models.ErrNotFound)
	}
	return refs[0], nil
}

func (s *YouTubeService) isShort(ref models.VideoRef) bool {
	return s.opts.SkipShorts && ref.DurationSeconds > 0 && ref.DurationSeconds <= s.opts.ShortsMaxSeconds
}

func bestThumbnail(t *youtube.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*youtube.Thumbnail{t.Maxres, t.Standard, t.High, t.Medium, t.Default} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}

var isoDurationPattern = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// parseISODuration converts an ISO-8601 duration such as PT1M30S to seconds.
// Unparseable input yields 0.
func parseISODuration(d string) int {
	m := isoDurationPattern.FindStringSubmatch(d)
	if m == nil {
		return 0
	}
	units := []int{24 * 3600, 3600, 60, 1}
	total := 0
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0
		}
		total += n * unit
	}
	return total
}
