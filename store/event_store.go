package store

import (
	"context"
	"fmt"

	"careerlyst/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventStore persists provider delivery events. Inserts are deduplicated on
// (provider_message_id, event_type, occurred_at) so provider-side webhook
// retries collapse into one row.
type EventStore struct {
	db *gorm.DB
}

func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db}
}

// InsertEvent stores a delivery event unless an identical one already
// exists. The bool reports whether this delivery was the first.
func (s *EventStore) InsertEvent(ctx context.Context, event *models.DeliveryEvent) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider_message_id"},
			{Name: "event_type"},
			{Name: "occurred_at"},
		},
		DoNothing: true,
	}).Create(event)
	if res.Error != nil {
		return false, fmt.Errorf("insert delivery event: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ListByProviderMessageID returns all recorded events for one message,
// oldest first. Used for reconciliation and debugging.
func (s *EventStore) ListByProviderMessageID(ctx context.Context, providerMessageID string) ([]models.DeliveryEvent, error) {
	var events []models.DeliveryEvent
	err := s.db.WithContext(ctx).
		Where("provider_message_id = ?", providerMessageID).
		Order("occurred_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("list delivery events: %w", err)
	}
	return events, nil
}
