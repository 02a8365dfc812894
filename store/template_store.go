package store

import (
	"context"
	"errors"
	"fmt"

	"careerlyst/models"

	"gorm.io/gorm"
)

// TemplateStore resolves template ids to their versioned content.
type TemplateStore struct {
	db *gorm.DB
}

func NewTemplateStore(db *gorm.DB) *TemplateStore {
	return &TemplateStore{db: db}
}

// GetTemplate loads one template version. Version 0 means latest.
func (s *TemplateStore) GetTemplate(ctx context.Context, templateID string, version int) (*models.EmailTemplate, error) {
	var tmpl models.EmailTemplate
	q := s.db.WithContext(ctx).Where("template_id = ?", templateID)
	if version > 0 {
		q = q.Where("version = ?", version)
	} else {
		q = q.Order("version DESC")
	}
	if err := q.First(&tmpl).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load template %s v%d: %w", templateID, version, err)
	}
	return &tmpl, nil
}
