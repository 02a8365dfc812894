package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"careerlyst/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Sentinel conditions a trigger caller must surface without side effects.
var (
	ErrFlowNotFound = errors.New("flow not found")
	ErrFlowInactive = errors.New("flow is not active")
)

// TestModeMinutePerDay compresses one day of delay into one minute when a
// test-mode trigger does not override the multiplier. A multiplier of 1
// means use delays as-is even in test mode.
const TestModeMinutePerDay = 1.0 / 1440.0

// FlowSource is the read-only flow definition store the sequencer consults.
type FlowSource interface {
	GetFlow(ctx context.Context, id uint) (*models.EmailFlow, error)
	GetSteps(ctx context.Context, flowID uint) ([]models.EmailFlowStep, error)
}

// ScheduledEmailWriter inserts rows through the idempotency guard: a
// duplicate key resolves to the existing row instead of erroring.
type ScheduledEmailWriter interface {
	InsertIdempotent(ctx context.Context, email *models.ScheduledEmail) (*models.ScheduledEmail, bool, error)
}

// SuppressionChecker answers whether an address may receive marketing email.
type SuppressionChecker interface {
	IsSuppressed(ctx context.Context, userID *uint, emailAddress string) (bool, error)
}

// SequenceRequest carries one flow trigger invocation.
type SequenceRequest struct {
	UserID               *uint
	EmailAddress         string
	FlowID               uint
	IdempotencyKeyPrefix string
	TriggerEventID       string
	Variables            models.JSONMap
	IsTest               bool
	// TestModeMultiplier scales step delays when IsTest is set. Zero or
	// negative falls back to TestModeMinutePerDay; 1 keeps real delays.
	TestModeMultiplier float64
}

// Sequencer expands a trigger event into one scheduled-email row per flow
// step. It is safe to call twice with identical inputs: every row insert
// goes through the idempotency guard.
type Sequencer struct {
	Flows       FlowSource
	Emails      ScheduledEmailWriter
	Suppression SuppressionChecker
	Logger      *logrus.Logger

	now func() time.Time
}

func NewSequencer(flows FlowSource, emails ScheduledEmailWriter, suppression SuppressionChecker, logger *logrus.Logger) *Sequencer {
	return &Sequencer{
		Flows:       flows,
		Emails:      emails,
		Suppression: suppression,
		Logger:      logger,
		now:         time.Now,
	}
}

// ScheduleSequence loads the flow, computes each step's delivery time, and
// inserts rows in step order. Marketing steps for a suppressed address are
// skipped entirely; transactional steps are never suppressed. An inactive or
// missing flow returns an error before any row is written.
func (s *Sequencer) ScheduleSequence(ctx context.Context, req SequenceRequest) ([]models.ScheduledEmail, error) {
	flow, err := s.Flows.GetFlow(ctx, req.FlowID)
	if err != nil {
		return nil, ErrFlowNotFound
	}
	if !flow.IsActive {
		return nil, ErrFlowInactive
	}

	steps, err := s.Flows.GetSteps(ctx, req.FlowID)
	if err != nil {
		return nil, fmt.Errorf("load flow steps: %w", err)
	}
	if len(steps) == 0 {
		return []models.ScheduledEmail{}, nil
	}

	// The suppression check at scheduling time is best-effort: it avoids
	// creating doomed rows, while the dispatcher re-checks authoritatively
	// just before sending.
	suppressed := false
	if s.Suppression != nil {
		suppressed, err = s.Suppression.IsSuppressed(ctx, req.UserID, req.EmailAddress)
		if err != nil {
			return nil, fmt.Errorf("suppression check: %w", err)
		}
	}

	triggerEventID := req.TriggerEventID
	if triggerEventID == "" {
		triggerEventID = uuid.NewString()
	}
	flowTriggerID := triggerEventID
	triggeredAt := s.now()

	scheduled := make([]models.ScheduledEmail, 0, len(steps))
	for _, step := range steps {
		if suppressed && step.Category == models.StepCategoryMarketing {
			s.Logger.WithFields(logrus.Fields{
				"flow_id":    req.FlowID,
				"step_order": step.StepOrder,
				"email":      req.EmailAddress,
			}).Info("skipping suppressed marketing step")
			continue
		}

		scheduledAt := triggeredAt.Add(s.effectiveDelay(step.DelayFromTrigger, req))
		status := models.EmailStatusScheduled
		if !scheduledAt.After(triggeredAt) {
			status = models.EmailStatusPending
		}

		row := models.ScheduledEmail{
			UserID:          req.UserID,
			EmailAddress:    req.EmailAddress,
			TemplateID:      step.TemplateID,
			TemplateVersion: step.TemplateVersion,
			Category:        step.Category,
			ScheduledAt:     scheduledAt,
			Status:          status,
			IdempotencyKey:  fmt.Sprintf("%s_step_%d", req.IdempotencyKeyPrefix, step.StepOrder),
			FlowID:          &step.FlowID,
			FlowTriggerID:   &flowTriggerID,
			TriggeredAt:     triggeredAt,
			IsTest:          req.IsTest,
			Variables:       req.Variables,
		}

		saved, created, err := s.Emails.InsertIdempotent(ctx, &row)
		if err != nil {
			return nil, fmt.Errorf("schedule step %d: %w", step.StepOrder, err)
		}
		if !created {
			s.Logger.WithFields(logrus.Fields{
				"idempotency_key": row.IdempotencyKey,
				"existing_id":     saved.ID,
			}).Info("duplicate trigger resolved to existing row")
		}
		scheduled = append(scheduled, *saved)
	}

	return scheduled, nil
}

func (s *Sequencer) effectiveDelay(delay time.Duration, req SequenceRequest) time.Duration {
	if !req.IsTest {
		return delay
	}
	multiplier := req.TestModeMultiplier
	if multiplier <= 0 {
		multiplier = TestModeMinutePerDay
	}
	return time.Duration(float64(delay) * multiplier)
}
