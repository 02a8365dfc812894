package models

import (
	"time"

	"gorm.io/gorm"
)

// Step categories. Marketing steps are subject to suppression,
// transactional steps are always delivered.
const (
	StepCategoryMarketing     = "marketing"
	StepCategoryTransactional = "transactional"
)

// EmailFlow is a named, ordered sequence of email steps triggered by one
// business event (e.g. "user completed onboarding"). Flows are read-only at
// trigger time: the sequencer takes a snapshot of the steps and never writes
// back.
type EmailFlow struct {
	gorm.Model
	Name        string `gorm:"not null;uniqueIndex" json:"name"`
	Description string `json:"description"`
	IsActive    bool   `gorm:"default:true" json:"is_active"`

	// Relations
	Steps []EmailFlowStep `gorm:"foreignKey:FlowID" json:"steps,omitempty"`
}

// EmailFlowStep is one template plus a relative delay within a flow.
// StepOrder values are unique and densely ordered within a flow.
type EmailFlowStep struct {
	gorm.Model
	FlowID uint `gorm:"not null;uniqueIndex:ux_flow_step_order,priority:1" json:"flow_id"`

	TemplateID      string `gorm:"not null" json:"template_id"`
	TemplateVersion int    `gorm:"default:1" json:"template_version"`

	StepOrder int `gorm:"not null;uniqueIndex:ux_flow_step_order,priority:2" json:"step_order"`

	// Delay relative to the trigger time, stored as nanoseconds.
	DelayFromTrigger time.Duration `gorm:"not null" json:"delay_from_trigger"`

	Category string `gorm:"not null;default:'marketing'" json:"category"`

	// Relations
	Flow EmailFlow `json:"-"`
}
