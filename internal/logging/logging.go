package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Attribute keys shared by every pipeline log line.
const (
	KeyVideoID = "video_id"
	KeyStage   = "stage"
	KeyUserID  = "user_id"
)

// New creates a console slog.Logger with provided level string.
func New(level string) *slog.Logger {
	return NewWithWriter(os.Stdout, level)
}

func NewWithWriter(w io.Writer, level string) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: levelFromString(level),
	})
	return slog.New(handler)
}

// ForVideo scopes a logger to one video at one stage.
func ForVideo(log *slog.Logger, videoID, stage string) *slog.Logger {
	return log.With(slog.String(KeyVideoID, videoID), slog.String(KeyStage, stage))
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func levelFromString(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "info", "":
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
