package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SubscriptionActive   = "active"
	SubscriptionTrialing = "trialing"
	SubscriptionCanceled = "canceled"
	SubscriptionPastDue  = "past_due"
	SubscriptionUnpaid   = "unpaid"
)

// User is read-only here; accounts and billing are owned by the web app.
type User struct {
	ID                 uuid.UUID `json:"id"`
	Email              string    `json:"email"`
	SubscriptionStatus string    `json:"subscription_status"`
	IsAdmin            bool      `json:"is_admin"`
	CreatedAt          time.Time `json:"created_at"`
}

// IsEntitled reports whether the user receives paid content.
func (u User) IsEntitled() bool {
	if u.IsAdmin {
		return true
	}
	switch u.SubscriptionStatus {
	case SubscriptionActive, SubscriptionTrialing:
		return true
	}
	return false
}
