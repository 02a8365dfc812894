package store

import (
	"context"
	"errors"
	"fmt"

	"careerlyst/models"

	"gorm.io/gorm"
)

// FlowStore is read-only access to flow and step definitions. Nothing in the
// delivery engine writes flows; they change through migrations and seeding.
type FlowStore struct {
	db *gorm.DB
}

func NewFlowStore(db *gorm.DB) *FlowStore {
	return &FlowStore{db: db}
}

// GetFlow loads one flow without its steps. Missing flows map to ErrNotFound
// so callers can surface a 404 without side effects.
func (s *FlowStore) GetFlow(ctx context.Context, id uint) (*models.EmailFlow, error) {
	var flow models.EmailFlow
	if err := s.db.WithContext(ctx).First(&flow, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load flow %d: %w", id, err)
	}
	return &flow, nil
}

// GetSteps returns a flow's steps in delivery order.
func (s *FlowStore) GetSteps(ctx context.Context, flowID uint) ([]models.EmailFlowStep, error) {
	var steps []models.EmailFlowStep
	err := s.db.WithContext(ctx).
		Where("flow_id = ?", flowID).
		Order("step_order ASC").
		Find(&steps).Error
	if err != nil {
		return nil, fmt.Errorf("load steps for flow %d: %w", flowID, err)
	}
	return steps, nil
}
