package services

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	ytapi "github.com/hightemp/youtube-transcript-api-go/api"

	"github.com/kenjisakuragi/YT2Mail/internal/logging"
	"github.com/kenjisakuragi/YT2Mail/internal/ratelimit"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ErrNoCaptions means a video has no usable caption track. It is a normal
// outcome that sends the resolver to the audio path.
var ErrNoCaptions = errors.New("no captions available")

// segmentFetcher returns the raw caption segments of a video.
type segmentFetcher func(videoID string, langs []string) ([]string, error)

// CaptionService fetches captions through the transcript API and falls back
// to scraping the caption track from the watch page.
type CaptionService struct {
	fetchSegments segmentFetcher
	httpClient    *http.Client
	watchBaseURL  string
	languages     []string
	log           *slog.Logger
}

func NewCaptionService(languages []string, fetchTimeout time.Duration, log *slog.Logger) *CaptionService {
	api := ytapi.NewYouTubeTranscriptApi()
	return &CaptionService{
		fetchSegments: func(videoID string, langs []string) ([]string, error) {
			transcript, err := api.GetTranscript(videoID, langs)
			if err != nil {
				return nil, err
			}
			segments := make([]string, 0, len(transcript.Entries))
			for _, entry := range transcript.Entries {
				segments = append(segments, entry.Text)
			}
			return segments, nil
		},
		httpClient:   &http.Client{Timeout: fetchTimeout},
		watchBaseURL: "https://www.youtube.com/watch",
		languages:    languages,
		log:          log,
	}
}

// GetTranscript returns the normalized caption text of videoID, or
// ErrNoCaptions when no tier produced any text.
func (s *CaptionService) GetTranscript(ctx context.Context, videoID string) (string, error) {
	log := logging.ForVideo(s.log, videoID, "captions")

	segments, err := s.fetchSegments(videoID, s.languages)
	if err != nil {
		log.Debug("no caption track in preferred languages", slog.Any("error", err))
		// Fallback: request any available language
		segments, err = s.fetchSegments(videoID, nil)
	}
	if err == nil {
		if text := normalizeTranscript(segments); text != "" {
			return text, nil
		}
	} else {
		log.Debug("transcript API has no captions", slog.Any("error", err))
	}

	text, scrapeErr := s.getTranscriptViaWatchPage(ctx, videoID)
	if scrapeErr != nil {
		return "", fmt.Errorf("%w: transcript API (%v), watch page (%v)", ErrNoCaptions, err, scrapeErr)
	}
	return text, nil
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"`
}

func (s *CaptionService) getTranscriptViaWatchPage(ctx context.Context, videoID string) (string, error) {
	pageURL := s.watchBaseURL + "?v=" + url.QueryEscape(videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := ratelimit.RetryDo(ctx, ratelimit.DefaultRetryConfig, func() (*http.Response, error) {
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, &ratelimit.StatusError{StatusCode: resp.StatusCode}
		}
		return resp, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch watch page: %w", err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse watch page: %w", err)
	}

	tracks, err := extractCaptionTracks(doc)
	if err != nil {
		return "", err
	}
	track := pickCaptionTrack(tracks, s.languages)

	captionReq, err := http.NewRequestWithContext(ctx, http.MethodGet, track.BaseURL, nil)
	if err != nil {
		return "", err
	}
	captionReq.Header.Set("User-Agent", browserUserAgent)
	captionResp, err := s.httpClient.Do(captionReq)
	if err != nil {
		return "", fmt.Errorf("failed to fetch captions: %w", err)
	}
	defer captionResp.Body.Close()
	if captionResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch captions: %w", &ratelimit.StatusError{StatusCode: captionResp.StatusCode})
	}

	body, err := io.ReadAll(io.LimitReader(captionResp.Body, 2*1024*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read captions: %w", err)
	}

	segments, err := parseCaptionsXML(body)
	if err != nil {
		return "", fmt.Errorf("failed to parse captions XML: %w", err)
	}
	text := normalizeTranscript(segments)
	if text == "" {
		return "", fmt.Errorf("captions XML empty")
	}
	return text, nil
}

// extractCaptionTracks finds the player response script and decodes its
// captionTracks array.
func extractCaptionTracks(doc *goquery.Document) ([]captionTrack, error) {
	const key = `"captionTracks":`

	var tracks []captionTrack
	var decodeErr error
	doc.Find("script").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		script := sel.Text()
		i := strings.Index(script, key)
		if i < 0 {
			return true
		}
		dec := json.NewDecoder(strings.NewReader(script[i+len(key):]))
		decodeErr = dec.Decode(&tracks)
		return false
	})

	if decodeErr != nil {
		return nil, fmt.Errorf("malformed caption track list: %w", decodeErr)
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("no caption tracks on watch page")
	}
	return tracks, nil
}

// pickCaptionTrack prefers a manual track in a preferred language, then an
// auto-generated one, then any English track, then the first track.
func pickCaptionTrack(tracks []captionTrack, langs []string) captionTrack {
	for _, lang := range langs {
		for _, t := range tracks {
			if t.LanguageCode == lang && t.Kind != "asr" {
				return t
			}
		}
	}
	for _, lang := range langs {
		for _, t := range tracks {
			if t.LanguageCode == lang {
				return t
			}
		}
	}
	for _, t := range tracks {
		if strings.HasPrefix(t.LanguageCode, "en") {
			return t
		}
	}
	return tracks[0]
}

type timedTextXML struct {
	XMLName xml.Name  `xml:"transcript"`
	Texts   []textXML `xml:"text"`
}

type textXML struct {
	Start string `xml:"start,attr"`
	Dur   string `xml:"dur,attr"`
	Text  string `xml:",chardata"`
}

func parseCaptionsXML(data []byte) ([]string, error) {
	var tt timedTextXML
	if err := xml.Unmarshal(data, &tt); err != nil {
		return nil, err
	}

	parts := make([]string, 0, len(tt.Texts))
	for _, t := range tt.Texts {
		parts = append(parts, html.UnescapeString(t.Text))
	}
	return parts, nil
}

// normalizeTranscript joins segments with single spaces, collapsing newlines
// and runs of whitespace.
func normalizeTranscript(segments []string) string {
	words := make([]string, 0, len(segments)*8)
	for _, seg := range segments {
		words = append(words, strings.Fields(seg)...)
	}
	return strings.Join(words, " ")
}
