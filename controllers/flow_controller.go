package controller

import (
	"context"
	"errors"
	"strconv"

	"careerlyst/models"
	"careerlyst/store"
	"careerlyst/utils"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// FlowReader reads flow and step definitions for the HTTP surface.
type FlowReader interface {
	GetFlow(ctx context.Context, id uint) (*models.EmailFlow, error)
	GetSteps(ctx context.Context, flowID uint) ([]models.EmailFlowStep, error)
}

// TemplateReader resolves step template names for flow detail responses.
type TemplateReader interface {
	GetTemplate(ctx context.Context, templateID string, version int) (*models.EmailTemplate, error)
}

// FlowStatsSource is the aggregate rollup the stats endpoint reads.
type FlowStatsSource interface {
	StatusCountsByFlow(ctx context.Context) ([]store.FlowStatusCount, error)
	InstanceStatsByFlow(ctx context.Context) ([]store.FlowInstanceStat, error)
}

type FlowController struct {
	Flows     FlowReader
	Templates TemplateReader
	Stats     FlowStatsSource
	Sequencer *utils.Sequencer
	Logger    *logrus.Logger
}

func NewFlowController(flows FlowReader, templates TemplateReader, stats FlowStatsSource, sequencer *utils.Sequencer, logger *logrus.Logger) *FlowController {
	return &FlowController{
		Flows:     flows,
		Templates: templates,
		Stats:     stats,
		Sequencer: sequencer,
		Logger:    logger,
	}
}

// TriggerFlow expands one flow trigger into scheduled-email rows. Re-sending
// the same trigger (same idempotency key prefix) returns the same rows.
func (fc *FlowController) TriggerFlow(c *fiber.Ctx) error {
	var input struct {
		FlowID               uint           `json:"flowId" validate:"required"`
		UserID               *uint          `json:"userId"`
		EmailAddress         string         `json:"emailAddress" validate:"required,email"`
		IsTest               bool           `json:"isTest"`
		Variables            models.JSONMap `json:"variables"`
		IdempotencyKeyPrefix string         `json:"idempotencyKeyPrefix"`
		TriggerEventID       string         `json:"triggerEventId"`
		TestModeMultiplier   float64        `json:"testModeMultiplier"`
	}

	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err := checkmail.ValidateFormat(input.EmailAddress); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "emailAddress is not a valid address",
		})
	}

	triggerEventID := input.TriggerEventID
	if triggerEventID == "" {
		triggerEventID = uuid.NewString()
	}
	keyPrefix := input.IdempotencyKeyPrefix
	if keyPrefix == "" {
		keyPrefix = "flow_" + strconv.FormatUint(uint64(input.FlowID), 10) + "_" + triggerEventID
	}

	scheduled, err := fc.Sequencer.ScheduleSequence(c.Context(), utils.SequenceRequest{
		UserID:               input.UserID,
		EmailAddress:         input.EmailAddress,
		FlowID:               input.FlowID,
		IdempotencyKeyPrefix: keyPrefix,
		TriggerEventID:       triggerEventID,
		Variables:            input.Variables,
		IsTest:               input.IsTest,
		TestModeMultiplier:   input.TestModeMultiplier,
	})
	if err != nil {
		switch {
		case errors.Is(err, utils.ErrFlowNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Flow not found",
			})
		case errors.Is(err, utils.ErrFlowInactive):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Flow is not active",
			})
		}
		fc.Logger.WithError(err).Error("failed to trigger flow")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to trigger flow",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"scheduledEmails": scheduled,
		"count":           len(scheduled),
	})
}

// GetFlow returns a flow with its steps and resolved template names.
func (fc *FlowController) GetFlow(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "id must be a number",
		})
	}

	flow, err := fc.Flows.GetFlow(c.Context(), uint(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Flow not found",
			})
		}
		fc.Logger.WithError(err).Error("failed to load flow")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load flow",
		})
	}

	steps, err := fc.Flows.GetSteps(c.Context(), flow.ID)
	if err != nil {
		fc.Logger.WithError(err).Error("failed to load flow steps")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load flow steps",
		})
	}

	stepViews := make([]fiber.Map, 0, len(steps))
	for _, step := range steps {
		templateName := ""
		if tmpl, err := fc.Templates.GetTemplate(c.Context(), step.TemplateID, step.TemplateVersion); err == nil {
			templateName = tmpl.Name
		}
		stepViews = append(stepViews, fiber.Map{
			"id":                 step.ID,
			"step_order":         step.StepOrder,
			"template_id":        step.TemplateID,
			"template_version":   step.TemplateVersion,
			"template_name":      templateName,
			"delay_from_trigger": step.DelayFromTrigger.String(),
			"category":           step.Category,
		})
	}

	return c.JSON(fiber.Map{
		"flow":  flow,
		"steps": stepViews,
	})
}

// GetFlowStats returns per-flow status counts, active instance counts and
// unique recipient counts.
func (fc *FlowController) GetFlowStats(c *fiber.Ctx) error {
	counts, err := fc.Stats.StatusCountsByFlow(c.Context())
	if err != nil {
		fc.Logger.WithError(err).Error("failed to aggregate flow status counts")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load flow stats",
		})
	}
	instances, err := fc.Stats.InstanceStatsByFlow(c.Context())
	if err != nil {
		fc.Logger.WithError(err).Error("failed to aggregate flow instance stats")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load flow stats",
		})
	}

	byFlow := make(map[uint]fiber.Map)
	order := make([]uint, 0)
	for _, count := range counts {
		entry, ok := byFlow[count.FlowID]
		if !ok {
			entry = fiber.Map{
				"flow_id":           count.FlowID,
				"flow_name":         count.FlowName,
				"status_counts":     fiber.Map{},
				"active_instances":  int64(0),
				"unique_recipients": int64(0),
			}
			byFlow[count.FlowID] = entry
			order = append(order, count.FlowID)
		}
		entry["status_counts"].(fiber.Map)[count.Status] = count.Count
	}
	for _, stat := range instances {
		if entry, ok := byFlow[stat.FlowID]; ok {
			entry["active_instances"] = stat.ActiveInstances
			entry["unique_recipients"] = stat.UniqueRecipients
		}
	}

	flows := make([]fiber.Map, 0, len(order))
	for _, id := range order {
		flows = append(flows, byFlow[id])
	}
	return c.JSON(fiber.Map{
		"flows": flows,
	})
}
