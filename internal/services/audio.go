package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	yt "github.com/kkdai/youtube/v2"

	"github.com/kenjisakuragi/YT2Mail/internal/logging"
	"github.com/kenjisakuragi/YT2Mail/internal/models"
	"github.com/kenjisakuragi/YT2Mail/internal/ratelimit"
)

const maxAudioBytes = 200 * 1024 * 1024 // 200MB safety cap

// streamSource is the part of the kkdai client used for downloads.
type streamSource interface {
	GetVideoContext(ctx context.Context, id string) (*yt.Video, error)
	GetStreamContext(ctx context.Context, video *yt.Video, format *yt.Format) (io.ReadCloser, int64, error)
}

// AudioService downloads audio-only streams into a local scratch directory.
// A file named after a video id is owned by the flow processing that id.
type AudioService struct {
	client  streamSource
	dir     string
	timeout time.Duration
	log     *slog.Logger
}

func NewAudioService(dir string, timeout time.Duration, log *slog.Logger) *AudioService {
	return &AudioService{
		client:  &yt.Client{},
		dir:     dir,
		timeout: timeout,
		log:     log,
	}
}

// Download fetches the best audio stream for videoID and returns the path of
// the realized file. A timeout of zero leaves the download unbounded.
func (s *AudioService) Download(ctx context.Context, videoID string) (string, error) {
	log := logging.ForVideo(s.log, videoID, "audio")

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create %s: %v", models.ErrAcquisitionFailed, s.dir, err)
	}
	if err := removeAudioFiles(s.dir, videoID); err != nil {
		return "", fmt.Errorf("%w: remove stale audio: %v", models.ErrAcquisitionFailed, err)
	}

	video, err := ratelimit.RetryDo(ctx, ratelimit.DefaultRetryConfig, func() (*yt.Video, error) {
		return s.client.GetVideoContext(ctx, videoID)
	})
	if err != nil {
		return "", fmt.Errorf("%w: fetch video metadata: %v", models.ErrAcquisitionFailed, err)
	}

	format, ok := pickAudioFormat(video.Formats)
	if !ok {
		return "", fmt.Errorf("%w: no audio formats available", models.ErrAcquisitionFailed)
	}
	target := filepath.Join(s.dir, videoID+"."+extensionForMimeType(format.MimeType))

	log.Info("downloading audio", slog.String("mime_type", format.MimeType), slog.Int("bitrate", format.Bitrate))
	if err := s.writeStream(ctx, video, &format, target); err != nil {
		os.Remove(target)
		return "", fmt.Errorf("%w: %v", models.ErrAcquisitionFailed, err)
	}

	path, err := findAudioFile(s.dir, videoID)
	if err != nil {
		return "", err
	}
	log.Info("audio downloaded", slog.String("path", path))
	return path, nil
}

func (s *AudioService) writeStream(ctx context.Context, video *yt.Video, format *yt.Format, target string) error {
	stream, _, err := s.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}
	defer stream.Close()

	f, err := os.Create(target)
	if err != nil {
		return err
	}

	n, err := io.Copy(f, io.LimitReader(stream, maxAudioBytes+1))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to read audio stream: %w", err)
	}
	if n > maxAudioBytes {
		return fmt.Errorf("audio stream exceeds %d MB limit", maxAudioBytes/(1024*1024))
	}
	if n == 0 {
		return errors.New("audio stream was empty")
	}
	return nil
}

// Remove deletes every local file for videoID.
func (s *AudioService) Remove(videoID string) error {
	return removeAudioFiles(s.dir, videoID)
}

// pickAudioFormat prefers an audio-only mp4 stream, then any audio-only
// stream, then any stream carrying audio. Highest bitrate wins within a tier.
func pickAudioFormat(formats yt.FormatList) (yt.Format, bool) {
	withAudio := formats.WithAudioChannels()
	if len(withAudio) == 0 {
		return yt.Format{}, false
	}

	tiers := []func(yt.Format) bool{
		func(f yt.Format) bool { return isAudioOnly(f) && strings.HasPrefix(f.MimeType, "audio/mp4") },
		isAudioOnly,
		func(yt.Format) bool { return true },
	}
	for _, accept := range tiers {
		var best yt.Format
		found := false
		for _, f := range withAudio {
			if accept(f) && (!found || f.Bitrate > best.Bitrate) {
				best, found = f, true
			}
		}
		if found {
			return best, true
		}
	}
	return yt.Format{}, false
}

func isAudioOnly(f yt.Format) bool {
	return strings.HasPrefix(f.MimeType, "audio/") || (f.Width == 0 && f.Height == 0 && f.QualityLabel == "")
}

func extensionForMimeType(mimeType string) string {
	base := strings.TrimSpace(strings.Split(mimeType, ";")[0])
	switch base {
	case "audio/mp4":
		return "m4a"
	case "audio/webm", "video/webm":
		return "webm"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "video/mp4":
		return "mp4"
	}
	return "m4a"
}

// MimeTypeForPath maps a local audio file to the MIME type sent to the provider.
func MimeTypeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".webm":
		return "audio/webm"
	case ".mp3":
		return "audio/mp3"
	case ".wav":
		return "audio/wav"
	case ".aac":
		return "audio/aac"
	case ".ogg":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	}
	// .m4a, .mp4 and anything unknown
	return "audio/mp4"
}

// findAudioFile locates the downloaded file by id prefix, since the realized
// extension may differ from the requested one.
func findAudioFile(dir, videoID string) (string, error) {
	matches, err := audioFiles(dir, videoID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrAcquisitionFailed, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: no file for %s in %s after download", models.ErrAcquisitionFailed, videoID, dir)
	}
	return matches[0], nil
}

func audioFiles(dir, videoID string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), videoID+".") {
			matches = append(matches, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(matches)
	return matches, nil
}

func removeAudioFiles(dir, videoID string) error {
	matches, err := audioFiles(dir, videoID)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}
