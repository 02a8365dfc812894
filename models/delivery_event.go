package models

import (
	"time"

	"gorm.io/gorm"
)

// Delivery event types reported by the email provider.
const (
	EventTypeSent       = "sent"
	EventTypeDelivered  = "delivered"
	EventTypeOpened     = "opened"
	EventTypeClicked    = "clicked"
	EventTypeBounced    = "bounced"
	EventTypeComplained = "complained"
)

var knownEventTypes = map[string]bool{
	EventTypeSent:       true,
	EventTypeDelivered:  true,
	EventTypeOpened:     true,
	EventTypeClicked:    true,
	EventTypeBounced:    true,
	EventTypeComplained: true,
}

// KnownEventType reports whether the ingestor recognizes the event type.
// Unknown types are acknowledged but not stored, so the provider does not
// retry them forever.
func KnownEventType(eventType string) bool {
	return knownEventTypes[eventType]
}

// SuppressingEventType reports whether the event must flip the recipient's
// marketing preference off and cascade-cancel the rest of the flow instance.
func SuppressingEventType(eventType string) bool {
	return eventType == EventTypeBounced || eventType == EventTypeComplained
}

// DeliveryEvent is one provider webhook delivery, recorded once. The unique
// (provider_message_id, event_type, occurred_at) index is the dedupe key
// against provider-side webhook retries.
type DeliveryEvent struct {
	gorm.Model
	ProviderMessageID string    `gorm:"not null;uniqueIndex:ux_delivery_event,priority:1" json:"provider_message_id"`
	EventType         string    `gorm:"not null;uniqueIndex:ux_delivery_event,priority:2" json:"event_type"`
	OccurredAt        time.Time `gorm:"not null;uniqueIndex:ux_delivery_event,priority:3" json:"occurred_at"`

	Payload JSONMap `gorm:"type:jsonb;serializer:json" json:"payload,omitempty"`
}
