package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"careerlyst/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrTokenUsed is returned when an unsubscribe token has already been
// consumed; the preference change from the first use stands.
var ErrTokenUsed = errors.New("unsubscribe token already used")

// ErrTokenExpired is returned for tokens past their expiry.
var ErrTokenExpired = errors.New("unsubscribe token expired")

// PreferenceStore persists email preferences and unsubscribe tokens.
type PreferenceStore struct {
	db *gorm.DB
}

func NewPreferenceStore(db *gorm.DB) *PreferenceStore {
	return &PreferenceStore{db: db}
}

// GetPreference loads the preference record for a recipient, preferring the
// user id when present. Returns (nil, nil) when no record exists, which
// callers treat as marketing enabled.
func (s *PreferenceStore) GetPreference(ctx context.Context, userID *uint, emailAddress string) (*models.EmailPreference, error) {
	var pref models.EmailPreference
	q := s.db.WithContext(ctx)
	if userID != nil {
		q = q.Where("user_id = ? OR email_address = ?", *userID, normalizeEmail(emailAddress))
	} else {
		q = q.Where("email_address = ?", normalizeEmail(emailAddress))
	}
	if err := q.First(&pref).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load preference: %w", err)
	}
	return &pref, nil
}

// UpsertPreference creates or updates the preference record keyed by email
// address.
func (s *PreferenceStore) UpsertPreference(ctx context.Context, userID *uint, emailAddress string, marketingEnabled bool, reason *string) (*models.EmailPreference, error) {
	pref := models.EmailPreference{
		UserID:                 userID,
		EmailAddress:           normalizeEmail(emailAddress),
		MarketingEmailsEnabled: marketingEnabled,
		UnsubscribeReason:      reason,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "email_address"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id", "marketing_emails_enabled", "unsubscribe_reason", "updated_at",
		}),
	}).Create(&pref).Error
	if err != nil {
		return nil, fmt.Errorf("upsert preference: %w", err)
	}
	var saved models.EmailPreference
	if err := s.db.WithContext(ctx).Where("email_address = ?", pref.EmailAddress).First(&saved).Error; err != nil {
		return nil, fmt.Errorf("reload preference: %w", err)
	}
	return &saved, nil
}

// IssueToken mints a single-use unsubscribe token with the given lifetime.
func (s *PreferenceStore) IssueToken(ctx context.Context, userID *uint, emailAddress string, ttl time.Duration) (*models.UnsubscribeToken, error) {
	token := models.UnsubscribeToken{
		Token:        uuid.NewString(),
		UserID:       userID,
		EmailAddress: normalizeEmail(emailAddress),
		ExpiresAt:    time.Now().Add(ttl),
	}
	if err := s.db.WithContext(ctx).Create(&token).Error; err != nil {
		return nil, fmt.Errorf("issue unsubscribe token: %w", err)
	}
	return &token, nil
}

// GetToken validates an unsubscribe token without consuming it.
func (s *PreferenceStore) GetToken(ctx context.Context, token string) (*models.UnsubscribeToken, error) {
	var t models.UnsubscribeToken
	if err := s.db.WithContext(ctx).Where("token = ?", token).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load unsubscribe token: %w", err)
	}
	if t.Expired(time.Now()) {
		return nil, ErrTokenExpired
	}
	return &t, nil
}

// ConsumeToken marks a token used via a conditional update on used = false.
// A second call affects zero rows and returns ErrTokenUsed, so the caller
// never re-applies the preference change.
func (s *PreferenceStore) ConsumeToken(ctx context.Context, token string) (*models.UnsubscribeToken, error) {
	t, err := s.GetToken(ctx, token)
	if err != nil {
		return nil, err
	}
	res := s.db.WithContext(ctx).
		Model(&models.UnsubscribeToken{}).
		Where("token = ? AND used = ?", token, false).
		Update("used", true)
	if res.Error != nil {
		return nil, fmt.Errorf("consume unsubscribe token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrTokenUsed
	}
	t.Used = true
	return t, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
