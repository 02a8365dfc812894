package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"careerlyst/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// EmailStore persists scheduled emails. All dispatcher-facing mutations are
// single-statement conditional updates so that correctness rests on the
// database's compare-and-swap semantics, never on an external lock.
type EmailStore struct {
	db *gorm.DB
}

func NewEmailStore(db *gorm.DB) *EmailStore {
	return &EmailStore{db: db}
}

// InsertIdempotent inserts the row unless its idempotency key already exists,
// in which case the existing row is returned instead. The second return value
// reports whether a new row was created.
func (s *EmailStore) InsertIdempotent(ctx context.Context, email *models.ScheduledEmail) (*models.ScheduledEmail, bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(email)
	if res.Error != nil {
		return nil, false, fmt.Errorf("insert scheduled email: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var existing models.ScheduledEmail
		if err := s.db.WithContext(ctx).Where("idempotency_key = ?", email.IdempotencyKey).First(&existing).Error; err != nil {
			return nil, false, fmt.Errorf("load existing scheduled email: %w", err)
		}
		return &existing, false, nil
	}
	return email, true, nil
}

// DueBatch returns claimable rows whose scheduled time has passed, oldest
// first, up to limit.
func (s *EmailStore) DueBatch(ctx context.Context, now time.Time, limit int) ([]models.ScheduledEmail, error) {
	var emails []models.ScheduledEmail
	err := s.db.WithContext(ctx).
		Where("status IN ? AND scheduled_at <= ?", models.ClaimableStatuses, now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&emails).Error
	if err != nil {
		return nil, fmt.Errorf("select due emails: %w", err)
	}
	return emails, nil
}

// Claim attempts the atomic pending/scheduled -> sending transition. Exactly
// one concurrent caller observes true for a given row; everyone else sees the
// row as already taken.
func (s *EmailStore) Claim(ctx context.Context, id uint) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.ScheduledEmail{}).
		Where("id = ? AND status IN ?", id, models.ClaimableStatuses).
		Update("status", models.EmailStatusSending)
	if res.Error != nil {
		return false, fmt.Errorf("claim scheduled email %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkSent records the provider message id and flips the row to sent.
func (s *EmailStore) MarkSent(ctx context.Context, id uint, providerMessageID string, sentAt time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&models.ScheduledEmail{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":              models.EmailStatusSent,
			"provider_message_id": providerMessageID,
			"sent_at":             sentAt,
			"last_error":          "",
		}).Error
	if err != nil {
		return fmt.Errorf("mark sent %d: %w", id, err)
	}
	return nil
}

// MarkRetry reschedules a transiently failed row for a later attempt.
func (s *EmailStore) MarkRetry(ctx context.Context, id uint, retryCount int, nextAttempt time.Time, lastError string) error {
	err := s.db.WithContext(ctx).
		Model(&models.ScheduledEmail{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.EmailStatusScheduled,
			"scheduled_at": nextAttempt,
			"retry_count":  retryCount,
			"last_error":   lastError,
		}).Error
	if err != nil {
		return fmt.Errorf("mark retry %d: %w", id, err)
	}
	return nil
}

// MarkFailed records a terminal failure.
func (s *EmailStore) MarkFailed(ctx context.Context, id uint, lastError string) error {
	err := s.db.WithContext(ctx).
		Model(&models.ScheduledEmail{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.EmailStatusFailed,
			"last_error": lastError,
		}).Error
	if err != nil {
		return fmt.Errorf("mark failed %d: %w", id, err)
	}
	return nil
}

// Cancel flips a non-terminal row to cancelled. Returns false when the row
// was already terminal (or already sending and past the point of no return).
func (s *EmailStore) Cancel(ctx context.Context, id uint) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.ScheduledEmail{}).
		Where("id = ? AND status IN ?", id, models.ClaimableStatuses).
		Update("status", models.EmailStatusCancelled)
	if res.Error != nil {
		return false, fmt.Errorf("cancel scheduled email %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CancelFlowTrigger cancels every still-claimable row in one flow trigger
// instance, except the row the cancellation originated from. Used by the
// webhook ingestor after a hard bounce or complaint.
func (s *EmailStore) CancelFlowTrigger(ctx context.Context, flowTriggerID string, exceptID uint) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.ScheduledEmail{}).
		Where("flow_trigger_id = ? AND id <> ? AND status IN ?", flowTriggerID, exceptID, models.ClaimableStatuses).
		Update("status", models.EmailStatusCancelled)
	if res.Error != nil {
		return 0, fmt.Errorf("cancel flow trigger %s: %w", flowTriggerID, res.Error)
	}
	return res.RowsAffected, nil
}

// GetByID loads one scheduled email.
func (s *EmailStore) GetByID(ctx context.Context, id uint) (*models.ScheduledEmail, error) {
	var email models.ScheduledEmail
	if err := s.db.WithContext(ctx).First(&email, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load scheduled email %d: %w", id, err)
	}
	return &email, nil
}

// GetByProviderMessageID is the webhook ingestor's join from a delivery
// event back to the row that produced it.
func (s *EmailStore) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*models.ScheduledEmail, error) {
	var email models.ScheduledEmail
	err := s.db.WithContext(ctx).Where("provider_message_id = ?", providerMessageID).First(&email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load by provider message id: %w", err)
	}
	return &email, nil
}

// EmailFilter narrows a scheduled-email listing.
type EmailFilter struct {
	UserID       *uint
	Status       string
	EmailAddress string
	IsTest       *bool
	Limit        int
}

// List returns scheduled emails matching the filter, newest schedule first.
func (s *EmailStore) List(ctx context.Context, filter EmailFilter) ([]models.ScheduledEmail, error) {
	q := s.db.WithContext(ctx).Model(&models.ScheduledEmail{})
	if filter.UserID != nil {
		q = q.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.EmailAddress != "" {
		q = q.Where("email_address = ?", filter.EmailAddress)
	}
	if filter.IsTest != nil {
		q = q.Where("is_test = ?", *filter.IsTest)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var emails []models.ScheduledEmail
	if err := q.Order("scheduled_at DESC").Limit(limit).Find(&emails).Error; err != nil {
		return nil, fmt.Errorf("list scheduled emails: %w", err)
	}
	return emails, nil
}

// FlowStatusCount is one (flow, status) bucket in the stats rollup.
type FlowStatusCount struct {
	FlowID   uint   `json:"flow_id"`
	FlowName string `json:"flow_name"`
	Status   string `json:"status"`
	Count    int64  `json:"count"`
}

// FlowInstanceStat carries the per-flow instance and recipient rollup.
type FlowInstanceStat struct {
	FlowID           uint  `json:"flow_id"`
	ActiveInstances  int64 `json:"active_instances"`
	UniqueRecipients int64 `json:"unique_recipients"`
}

// StatusCountsByFlow aggregates scheduled-email counts per flow and status.
func (s *EmailStore) StatusCountsByFlow(ctx context.Context) ([]FlowStatusCount, error) {
	var counts []FlowStatusCount
	err := s.db.WithContext(ctx).Raw(`
        SELECT f.id AS flow_id, f.name AS flow_name, se.status, COUNT(*) AS count
        FROM scheduled_emails se
        JOIN email_flows f ON se.flow_id = f.id
        WHERE se.deleted_at IS NULL
        GROUP BY f.id, f.name, se.status
        ORDER BY f.id
    `).Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("flow status counts: %w", err)
	}
	return counts, nil
}

// InstanceStatsByFlow counts active flow instances (distinct trigger ids with
// outstanding rows) and unique recipients per flow.
func (s *EmailStore) InstanceStatsByFlow(ctx context.Context) ([]FlowInstanceStat, error) {
	var stats []FlowInstanceStat
	err := s.db.WithContext(ctx).Raw(`
        SELECT flow_id,
               COUNT(DISTINCT CASE WHEN status IN ('pending','scheduled','sending') THEN flow_trigger_id END) AS active_instances,
               COUNT(DISTINCT email_address) AS unique_recipients
        FROM scheduled_emails
        WHERE flow_id IS NOT NULL AND deleted_at IS NULL
        GROUP BY flow_id
        ORDER BY flow_id
    `).Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("flow instance stats: %w", err)
	}
	return stats, nil
}
