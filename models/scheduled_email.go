package models

import (
	"time"

	"gorm.io/gorm"
)

// ScheduledEmail statuses. pending/scheduled rows are claimable by the
// dispatcher; sent, failed and cancelled are terminal.
const (
	EmailStatusPending   = "pending"
	EmailStatusScheduled = "scheduled"
	EmailStatusSending   = "sending"
	EmailStatusSent      = "sent"
	EmailStatusCancelled = "cancelled"
	EmailStatusFailed    = "failed"
)

// ClaimableStatuses are the states the dispatcher may transition to sending.
var ClaimableStatuses = []string{EmailStatusPending, EmailStatusScheduled}

// JSONMap is a generic string-keyed map persisted as a jsonb column.
type JSONMap map[string]interface{}

// ScheduledEmail is one future (or past) email send. Rows are created only by
// the sequencer or the schedule endpoint, mutated only by the dispatcher and
// the webhook ingestor, and never deleted: terminal rows are kept for audit.
type ScheduledEmail struct {
	gorm.Model
	UserID       *uint  `gorm:"index" json:"user_id,omitempty"`
	EmailAddress string `gorm:"not null;index" json:"email_address"`

	TemplateID      string `gorm:"not null" json:"template_id"`
	TemplateVersion int    `gorm:"default:1" json:"template_version"`
	Category        string `gorm:"not null;default:'marketing'" json:"category"`

	ScheduledAt time.Time `gorm:"not null;index" json:"scheduled_at"`
	Status      string    `gorm:"not null;default:'pending';index" json:"status"`

	// At most one row may exist per idempotency key; a second insert with the
	// same key resolves to the existing row.
	IdempotencyKey string `gorm:"not null;uniqueIndex" json:"idempotency_key"`

	FlowID *uint `gorm:"index" json:"flow_id,omitempty"`
	// FlowTriggerID groups all rows produced by one flow trigger invocation,
	// which is what cascade cancellation keys on.
	FlowTriggerID *string `gorm:"index" json:"flow_trigger_id,omitempty"`

	TriggeredAt time.Time  `json:"triggered_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`

	// Set exactly once, at the moment of a successful send. Thereafter it is
	// the join key for inbound delivery events.
	ProviderMessageID *string `gorm:"uniqueIndex" json:"provider_message_id,omitempty"`

	RetryCount int    `gorm:"default:0" json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`

	IsTest    bool    `gorm:"default:false;index" json:"is_test"`
	Variables JSONMap `gorm:"type:jsonb;serializer:json" json:"variables,omitempty"`
	Metadata  JSONMap `gorm:"type:jsonb;serializer:json" json:"metadata,omitempty"`
}

// IsTerminal reports whether the row can no longer change state.
func (e *ScheduledEmail) IsTerminal() bool {
	switch e.Status {
	case EmailStatusSent, EmailStatusFailed, EmailStatusCancelled:
		return true
	}
	return false
}
