package models

import (
	"time"

	"github.com/google/uuid"
)

type DeliveryLog struct {
	ID      uuid.UUID `json:"id"`
	UserID  uuid.UUID `json:"user_id"`
	VideoID uuid.UUID `json:"video_id"`
	SentAt  time.Time `json:"sent_at"`
}
