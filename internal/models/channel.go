package models

import (
	"time"

	"github.com/google/uuid"
)

// Channel is a registered content source (youtube_channels row).
type Channel struct {
	ID            uuid.UUID  `json:"id"`
	ChannelID     string     `json:"channel_id"`
	ChannelName   string     `json:"channel_name"`
	Category      string     `json:"category"`
	IsActive      bool       `json:"is_active"`
	LastCheckedAt *time.Time `json:"last_checked_at"`
}
