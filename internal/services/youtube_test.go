package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/option"

	"github.com/kenjisakuragi/YT2Mail/internal/logging"
	"github.com/kenjisakuragi/YT2Mail/internal/models"
)

func TestParseISODuration(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"PT45S", 45},
		{"PT1M5S", 65},
		{"PT1H2M3S", 3723},
		{"P1DT1S", 86401},
		{"PT10M", 600},
		{"P0D", 0},
		{"", 0},
		{"garbage", 0},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			if got := parseISODuration(tc.in); got != tc.want {
				t.Errorf("parseISODuration(%q) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseChannelRef(t *testing.T) {
	tests := []struct {
		in   string
		want channelRef
	}{
		{"@starterstory", channelRef{handle: "@starterstory"}},
		{"starterstory", channelRef{handle: "@starterstory"}},
		{"UChhw6DlKKTQ9mYSpTfXUYqA", channelRef{id: "UChhw6DlKKTQ9mYSpTfXUYqA"}},
		{"https://www.youtube.com/@StarterStory/videos", channelRef{handle: "@StarterStory"}},
		{"youtube.com/channel/UChhw6DlKKTQ9mYSpTfXUYqA", channelRef{id: "UChhw6DlKKTQ9mYSpTfXUYqA"}},
		{"https://www.youtube.com/user/starterstory", channelRef{username: "starterstory"}},
		{"https://www.youtube.com/c/StarterStory", channelRef{custom: "StarterStory"}},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parseChannelRef(tc.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("parseChannelRef(%q) = %+v, want %+v", tc.in, got, tc.want)
			}
		})
	}

	for _, bad := range []string{"", "   ", "https://www.youtube.com/watch?v=abc"} {
		if _, err := parseChannelRef(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestNewYouTubeService_MissingKey(t *testing.T) {
	_, err := NewYouTubeService(context.Background(), "", YouTubeOptions{}, logging.Discard())
	if !errors.Is(err, models.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

// fakeYouTubeAPI serves two search pages and the matching video details.
type fakeYouTubeAPI struct {
	searchCalls    int
	publishedAfter string
}

func (f *fakeYouTubeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/youtube/v3/search", func(w http.ResponseWriter, r *http.Request) {
		f.searchCalls++
		f.publishedAfter = r.URL.Query().Get("publishedAfter")
		var body map[string]any
		switch r.URL.Query().Get("pageToken") {
		case "":
			body = map[string]any{
				"nextPageToken": "p2",
				"items": []any{
					map[string]any{"id": map[string]any{"videoId": "v1"}},
					map[string]any{"id": map[string]any{"videoId": "short1"}},
				},
			}
		case "p2":
			body = map[string]any{
				"items": []any{map[string]any{"id": map[string]any{"videoId": "v2"}}},
			}
		default:
			t.Errorf("unexpected page token %q", r.URL.Query().Get("pageToken"))
		}
		json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/youtube/v3/videos", func(w http.ResponseWriter, r *http.Request) {
		details := map[string]map[string]any{
			"v1":     video("v1", "Tom &amp; Jerry&#39;s $2M store", "2025-03-02T10:00:00Z", "PT12M3S", true),
			"short1": video("short1", "A short", "2025-03-02T09:00:00Z", "PT40S", false),
			"v2":     video("v2", "Second", "2025-03-01T10:00:00Z", "PT20M", false),
		}
		var items []any
		for _, param := range r.URL.Query()["id"] {
			for _, id := range strings.Split(param, ",") {
				if d, ok := details[id]; ok {
					items = append(items, d)
				}
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"items": items})
	})
	return mux
}

func video(id, title, published, duration string, maxres bool) map[string]any {
	thumbs := map[string]any{
		"high":    map[string]any{"url": "https://i.ytimg.com/vi/" + id + "/hqdefault.jpg"},
		"default": map[string]any{"url": "https://i.ytimg.com/vi/" + id + "/default.jpg"},
	}
	if maxres {
		thumbs["maxres"] = map[string]any{"url": "https://i.ytimg.com/vi/" + id + "/maxresdefault.jpg"}
	}
	return map[string]any{
		"id":             id,
		"snippet":        map[string]any{"title": title, "publishedAt": published, "thumbnails": thumbs},
		"contentDetails": map[string]any{"duration": duration},
	}
}

func newTestYouTubeService(t *testing.T, fake *fakeYouTubeAPI) *YouTubeService {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	svc, err := NewYouTubeService(context.Background(), "test-key",
		YouTubeOptions{SkipShorts: true, ShortsMaxSeconds: 65},
		logging.Discard(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestListRecentVideos_PaginatesAndSkipsShorts(t *testing.T) {
	fake := &fakeYouTubeAPI{}
	svc := newTestYouTubeService(t, fake)

	since := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	var got []models.VideoRef
	for ref, err := range svc.ListRecentVideos(context.Background(), "UCchannel", since, 0) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, ref)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 videos, got %d: %+v", len(got), got)
	}
	if got[0].ExternalID != "v1" || got[1].ExternalID != "v2" {
		t.Fatalf("unexpected order: %s, %s", got[0].ExternalID, got[1].ExternalID)
	}
	if got[0].Title != "Tom & Jerry's $2M store" {
		t.Errorf("expected unescaped title, got %q", got[0].Title)
	}
	if !strings.HasSuffix(got[0].ThumbnailURL, "maxresdefault.jpg") {
		t.Errorf("expected maxres thumbnail, got %q", got[0].ThumbnailURL)
	}
	if !strings.HasSuffix(got[1].ThumbnailURL, "hqdefault.jpg") {
		t.Errorf("expected high thumbnail fallback, got %q", got[1].ThumbnailURL)
	}
	if got[0].DurationSeconds != 723 {
		t.Errorf("expected 723s, got %d", got[0].DurationSeconds)
	}
	if fake.publishedAfter != "2025-03-01T00:00:00Z" {
		t.Errorf("unexpected publishedAfter %q", fake.publishedAfter)
	}
	if fake.searchCalls != 2 {
		t.Errorf("expected 2 search pages, got %d", fake.searchCalls)
	}
}

func TestListRecentVideos_LimitStopsPagination(t *testing.T) {
	fake := &fakeYouTubeAPI{}
	svc := newTestYouTubeService(t, fake)

	var got []string
	for ref, err := range svc.ListRecentVideos(context.Background(), "UCchannel", time.Time{}, 1) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, ref.ExternalID)
	}

	if len(got) != 1 || got[0] != "v1" {
		t.Fatalf("expected only v1, got %v", got)
	}
	if fake.searchCalls != 1 {
		t.Errorf("expected a single search page, got %d", fake.searchCalls)
	}
	if fake.publishedAfter != "" {
		t.Errorf("backfill must not send publishedAfter, got %q", fake.publishedAfter)
	}
}

func TestListRecentVideos_EachIterationRestartsPagination(t *testing.T) {
	fake := &fakeYouTubeAPI{}
	svc := newTestYouTubeService(t, fake)

	seq := svc.ListRecentVideos(context.Background(), "UCchannel", time.Time{}, 0)
	for range seq {
	}
	for range seq {
	}
	if fake.searchCalls != 4 {
		t.Fatalf("expected each iteration to re-issue pagination, got %d calls", fake.searchCalls)
	}
}
