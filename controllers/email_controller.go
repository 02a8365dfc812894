package controller

import (
	"context"
	"errors"
	"strconv"
	"time"

	"careerlyst/models"
	"careerlyst/store"
	"careerlyst/utils"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// ScheduledEmailStore is the persistence surface the email endpoints need.
type ScheduledEmailStore interface {
	InsertIdempotent(ctx context.Context, email *models.ScheduledEmail) (*models.ScheduledEmail, bool, error)
	List(ctx context.Context, filter store.EmailFilter) ([]models.ScheduledEmail, error)
	Cancel(ctx context.Context, id uint) (bool, error)
	GetByID(ctx context.Context, id uint) (*models.ScheduledEmail, error)
}

type EmailController struct {
	Emails ScheduledEmailStore
	Logger *logrus.Logger
}

func NewEmailController(emails ScheduledEmailStore, logger *logrus.Logger) *EmailController {
	return &EmailController{Emails: emails, Logger: logger}
}

// ScheduleEmail creates one ad-hoc scheduled email through the idempotency
// guard. A repeated idempotency key returns the existing row unchanged.
func (ec *EmailController) ScheduleEmail(c *fiber.Ctx) error {
	var input struct {
		UserID          *uint          `json:"userId"`
		EmailAddress    string         `json:"emailAddress" validate:"required,email"`
		TemplateID      string         `json:"templateId" validate:"required"`
		TemplateVersion int            `json:"templateVersion"`
		ScheduledAt     string         `json:"scheduledAt" validate:"required"`
		IdempotencyKey  string         `json:"idempotencyKey" validate:"required"`
		Category        string         `json:"category" validate:"omitempty,oneof=marketing transactional"`
		Variables       models.JSONMap `json:"variables"`
		UnsubscribeURL  string         `json:"unsubscribeUrl"`
		IsTest          bool           `json:"isTest"`
		Metadata        models.JSONMap `json:"metadata"`
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

	scheduledAt, err := time.Parse(time.RFC3339, input.ScheduledAt)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "scheduledAt must be an ISO-8601 timestamp",
		})
	}

	category := input.Category
	if category == "" {
		category = models.StepCategoryMarketing
	}
	status := models.EmailStatusScheduled
	if !scheduledAt.After(time.Now()) {
		status = models.EmailStatusPending
	}

	metadata := input.Metadata
	if input.UnsubscribeURL != "" {
		if metadata == nil {
			metadata = models.JSONMap{}
		}
		metadata["unsubscribe_url"] = input.UnsubscribeURL
	}

	row := models.ScheduledEmail{
		UserID:          input.UserID,
		EmailAddress:    input.EmailAddress,
		TemplateID:      input.TemplateID,
		TemplateVersion: input.TemplateVersion,
		Category:        category,
		ScheduledAt:     scheduledAt,
		Status:          status,
		IdempotencyKey:  input.IdempotencyKey,
		TriggeredAt:     time.Now(),
		IsTest:          input.IsTest,
		Variables:       input.Variables,
		Metadata:        metadata,
	}

	saved, created, err := ec.Emails.InsertIdempotent(c.Context(), &row)
	if err != nil {
		ec.Logger.WithError(err).Error("failed to schedule email")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to schedule email",
		})
	}

	httpStatus := fiber.StatusCreated
	if !created {
		httpStatus = fiber.StatusOK
	}
	return c.Status(httpStatus).JSON(fiber.Map{
		"scheduledEmail": saved,
	})
}

// ListScheduled returns scheduled emails filtered by the query string.
func (ec *EmailController) ListScheduled(c *fiber.Ctx) error {
	filter := store.EmailFilter{
		Status:       c.Query("status"),
		EmailAddress: c.Query("emailAddress"),
	}
	if raw := c.Query("userId"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "userId must be a number",
			})
		}
		uid := uint(id)
		filter.UserID = &uid
	}
	if raw := c.Query("isTest"); raw != "" {
		isTest := raw == "true"
		filter.IsTest = &isTest
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a number",
			})
		}
		filter.Limit = limit
	}

	emails, err := ec.Emails.List(c.Context(), filter)
	if err != nil {
		ec.Logger.WithError(err).Error("failed to list scheduled emails")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list scheduled emails",
		})
	}
	return c.JSON(fiber.Map{
		"scheduledEmails": emails,
	})
}

// CancelScheduled flips a still-claimable row to cancelled.
func (ec *EmailController) CancelScheduled(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "id must be a number",
		})
	}

	cancelled, err := ec.Emails.Cancel(c.Context(), uint(id))
	if err != nil {
		ec.Logger.WithError(err).Error("failed to cancel scheduled email")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to cancel scheduled email",
		})
	}
	if !cancelled {
		if _, err := ec.Emails.GetByID(c.Context(), uint(id)); errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Scheduled email not found",
			})
		}
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Scheduled email is no longer cancellable",
		})
	}
	return c.JSON(fiber.Map{
		"message": "Scheduled email cancelled",
	})
}
