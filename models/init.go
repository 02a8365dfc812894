package models

import (
	"time"

	"gorm.io/gorm"
)

// CreateDefaultFlows seeds the onboarding flow and its templates on first
// boot so a fresh environment can deliver lifecycle email out of the box.
func CreateDefaultFlows(db *gorm.DB) error {
	defaultTemplates := []EmailTemplate{
		{
			TemplateID: "onboarding-welcome",
			Version:    1,
			Name:       "Onboarding: Welcome",
			Subject:    "Welcome to Careerlyst, {{.first_name}}!",
			HTMLContent: `<p>Hi {{.first_name}},</p>
<p>Welcome aboard! Your career coaching workspace is ready.</p>
<p><a href="{{.UnsubscribeURL}}">Unsubscribe</a></p>`,
			TextContent: "Hi {{.first_name}}, welcome aboard! Unsubscribe: {{.UnsubscribeURL}}",
		},
		{
			TemplateID: "onboarding-getting-started",
			Version:    1,
			Name:       "Onboarding: Getting Started",
			Subject:    "Three ways to get more from your coaching plan",
			HTMLContent: `<p>Hi {{.first_name}},</p>
<p>Here are three things members do in their first week.</p>
<p><a href="{{.UnsubscribeURL}}">Unsubscribe</a></p>`,
			TextContent: "Three ways to get more from your plan. Unsubscribe: {{.UnsubscribeURL}}",
		},
		{
			TemplateID: "onboarding-check-in",
			Version:    1,
			Name:       "Onboarding: Check In",
			Subject:    "How is your first week going?",
			HTMLContent: `<p>Hi {{.first_name}},</p>
<p>Checking in on your first week. Reply to this email with any questions.</p>
<p><a href="{{.UnsubscribeURL}}">Unsubscribe</a></p>`,
			TextContent: "How is your first week going? Unsubscribe: {{.UnsubscribeURL}}",
		},
	}

	for _, tmpl := range defaultTemplates {
		if err := db.FirstOrCreate(&tmpl, "template_id = ? AND version = ?", tmpl.TemplateID, tmpl.Version).Error; err != nil {
			return err
		}
	}

	flow := EmailFlow{
		Name:        "onboarding",
		Description: "Post-signup onboarding sequence",
		IsActive:    true,
	}
	if err := db.FirstOrCreate(&flow, "name = ?", flow.Name).Error; err != nil {
		return err
	}

	defaultSteps := []EmailFlowStep{
		{FlowID: flow.ID, TemplateID: "onboarding-welcome", TemplateVersion: 1, StepOrder: 1, DelayFromTrigger: 0, Category: StepCategoryTransactional},
		{FlowID: flow.ID, TemplateID: "onboarding-getting-started", TemplateVersion: 1, StepOrder: 2, DelayFromTrigger: 24 * time.Hour, Category: StepCategoryMarketing},
		{FlowID: flow.ID, TemplateID: "onboarding-check-in", TemplateVersion: 1, StepOrder: 3, DelayFromTrigger: 72 * time.Hour, Category: StepCategoryMarketing},
	}
	for _, step := range defaultSteps {
		if err := db.FirstOrCreate(&step, "flow_id = ? AND step_order = ?", step.FlowID, step.StepOrder).Error; err != nil {
			return err
		}
	}
	return nil
}
