package models

import (
	"time"

	"github.com/google/uuid"
)

// SummaryDocument is the structured business analysis extracted for one video.
// Every field is plain text; an absent field is the empty string.
type SummaryDocument struct {
	BusinessOverview    string `json:"business_overview"`
	KeyMetrics          string `json:"key_metrics"`
	AcquisitionStrategy string `json:"acquisition_strategy"`
	ToolsUsed           string `json:"tools_used"`
	JapanApplication    string `json:"japan_application"`
	DetailedArticle     string `json:"detailed_article,omitempty"`
	Transcript          string `json:"transcript,omitempty"`
}

// IsEmpty reports whether none of the analysis fields carry text.
func (d SummaryDocument) IsEmpty() bool {
	return d.BusinessOverview == "" &&
		d.KeyMetrics == "" &&
		d.AcquisitionStrategy == "" &&
		d.ToolsUsed == "" &&
		d.JapanApplication == "" &&
		d.DetailedArticle == ""
}

type Video struct {
	ID           uuid.UUID       `json:"id"`
	ExternalID   string          `json:"yt_video_id"`
	ChannelID    *uuid.UUID      `json:"channel_id"`
	Title        string          `json:"title"`
	PublishedAt  time.Time       `json:"published_at"`
	ThumbnailURL *string         `json:"thumbnail_url"`
	Summary      SummaryDocument `json:"summary_json"`
	Transcript   *string         `json:"transcript"`
	CreatedAt    time.Time       `json:"created_at"`
}

// WatchURL links to the video on YouTube.
func (v *Video) WatchURL() string {
	return "https://www.youtube.com/watch?v=" + v.ExternalID
}

// VideoRef is a discovered upload, before any processing.
type VideoRef struct {
	ExternalID      string    `json:"video_id"`
	Title           string    `json:"title"`
	PublishedAt     time.Time `json:"published_at"`
	ThumbnailURL    string    `json:"thumbnail_url,omitempty"`
	DurationSeconds int       `json:"duration_seconds"`
}
