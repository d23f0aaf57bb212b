package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kenjisakuragi/YT2Mail/internal/logging"
	"github.com/kenjisakuragi/YT2Mail/internal/models"
)

// DeliveryLogStore records successful sends.
type DeliveryLogStore interface {
	Insert(ctx context.Context, entry *models.DeliveryLog) error
	Exists(ctx context.Context, userID, videoID uuid.UUID) (bool, error)
}

// DeliveryResult counts recipients for one video.
type DeliveryResult struct {
	Delivered int
	Failed    int
	Skipped   int
}

// DeliveryService emails a persisted video's summary to each recipient.
type DeliveryService struct {
	sender  Sender
	logs    DeliveryLogStore
	siteURL string
	now     func() time.Time
	log     *slog.Logger
}

func NewDeliveryService(sender Sender, logs DeliveryLogStore, siteURL string, log *slog.Logger) *DeliveryService {
	return &DeliveryService{
		sender:  sender,
		logs:    logs,
		siteURL: strings.TrimRight(siteURL, "/"),
		now:     time.Now,
		log:     log,
	}
}

// Deliver sends video to every user in order. A failure for one recipient is
// logged and counted; the rest are still attempted. Users without an email
// and users who already have a delivery log row for video are skipped.
// Only context cancellation stops the loop early.
func (s *DeliveryService) Deliver(ctx context.Context, video *models.Video, users []models.User) (DeliveryResult, error) {
	var result DeliveryResult
	log := logging.ForVideo(s.log, video.ExternalID, "deliver")

	subject := digestSubject(video.Title)
	body, err := s.render(video)
	if err != nil {
		return result, fmt.Errorf("%w: render email: %v", models.ErrDeliveryFailed, err)
	}

	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if user.Email == "" {
			result.Skipped++
			continue
		}

		userLog := log.With(slog.String(logging.KeyUserID, user.ID.String()))

		sent, err := s.logs.Exists(ctx, user.ID, video.ID)
		if err != nil {
			userLog.Error("failed to check delivery log", slog.Any("error", err))
			result.Failed++
			continue
		}
		if sent {
			userLog.Debug("already delivered")
			result.Skipped++
			continue
		}

		if err := s.sender.Send(ctx, user.Email, subject, body); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return result, err
			}
			userLog.Error("failed to send email", slog.Any("error", fmt.Errorf("%w: %w", models.ErrDeliveryFailed, err)))
			result.Failed++
			continue
		}
		result.Delivered++

		entry := &models.DeliveryLog{
			ID:      uuid.New(),
			UserID:  user.ID,
			VideoID: video.ID,
			SentAt:  s.now().UTC(),
		}
		if err := s.logs.Insert(ctx, entry); err != nil {
			userLog.Error("email sent but delivery log write failed", slog.Any("error", err))
		}
	}

	return result, nil
}

func digestSubject(title string) string {
	return "Starter Story Insight: " + title
}

type digestView struct {
	Title        string
	ThumbnailURL string
	Sections     []digestSection
	DashboardURL string
	WatchURL     string
}

type digestSection struct {
	Heading string
	Body    string
}

const emptySectionText = "（情報なし）"

func (s *DeliveryService) render(video *models.Video) (string, error) {
	view := digestView{
		Title:        video.Title,
		DashboardURL: s.siteURL + "/dashboard",
		WatchURL:     video.WatchURL(),
	}
	if video.ThumbnailURL != nil {
		view.ThumbnailURL = *video.ThumbnailURL
	}

	doc := video.Summary
	for _, sec := range []digestSection{
		{"ビジネス概要", doc.BusinessOverview},
		{"主要メトリクス", doc.KeyMetrics},
		{"集客戦略", doc.AcquisitionStrategy},
		{"使用ツール", doc.ToolsUsed},
		{"日本での応用案", doc.JapanApplication},
	} {
		if strings.TrimSpace(sec.Body) == "" {
			sec.Body = emptySectionText
		}
		view.Sections = append(view.Sections, sec)
	}

	var buf bytes.Buffer
	if err := digestTemplate.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var digestTemplate = template.Must(template.New("digest").Funcs(template.FuncMap{
	"paragraphs": func(s string) []string {
		var out []string
		for _, p := range strings.Split(s, "\n") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	},
}).Parse(`<!DOCTYPE html>
<html lang="ja">
<body style="font-family:sans-serif;line-height:1.6;color:#1f2937;">
<h1>{{.Title}}</h1>
{{- if .ThumbnailURL}}
<img src="{{.ThumbnailURL}}" alt="" style="width:100%;max-width:600px;border-radius:8px;margin-bottom:20px;" />
{{- end}}
{{- range .Sections}}
<h2>{{.Heading}}</h2>
{{- range paragraphs .Body}}
<p>{{.}}</p>
{{- end}}
{{- end}}
<hr/>
<p><a href="{{.DashboardURL}}">ダッシュボードで読む</a> | <a href="{{.WatchURL}}">YouTubeで見る</a></p>
</body>
</html>
`))
