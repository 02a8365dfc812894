package models

import (
	"time"

	"gorm.io/gorm"
)

// EmailPreference is the authoritative suppression record for a recipient,
// keyed by email address (user id is carried when known). The suppression
// gate reads it; unsubscribes and bounce/complaint webhooks write it.
type EmailPreference struct {
	gorm.Model
	UserID       *uint  `gorm:"index" json:"user_id,omitempty"`
	EmailAddress string `gorm:"not null;uniqueIndex" json:"email_address"`

	MarketingEmailsEnabled bool    `gorm:"default:true" json:"marketing_emails_enabled"`
	UnsubscribeReason      *string `json:"unsubscribe_reason,omitempty"`
}

// UnsubscribeToken is a single-use token embedded in unsubscribe links.
// Consuming it is a conditional update on used = false, so a second use
// fails without re-applying the preference change.
type UnsubscribeToken struct {
	gorm.Model
	Token        string    `gorm:"not null;uniqueIndex" json:"token"`
	UserID       *uint     `gorm:"index" json:"user_id,omitempty"`
	EmailAddress string    `gorm:"not null;index" json:"email_address"`
	Used         bool      `gorm:"default:false" json:"used"`
	ExpiresAt    time.Time `gorm:"not null" json:"expires_at"`
}

// Expired reports whether the token is past its expiry at the given time.
func (t *UnsubscribeToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
