package controller

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"careerlyst/metrics"
	"careerlyst/models"
	"careerlyst/store"
	"careerlyst/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// DeliveryEventStore records provider events with retry dedupe.
type DeliveryEventStore interface {
	InsertEvent(ctx context.Context, event *models.DeliveryEvent) (bool, error)
}

// WebhookEmailStore joins events back to scheduled emails and drives the
// bounce/complaint cascade.
type WebhookEmailStore interface {
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*models.ScheduledEmail, error)
	CancelFlowTrigger(ctx context.Context, flowTriggerID string, exceptID uint) (int64, error)
}

// WebhookPreferenceStore flips the suppression record on bounce/complaint.
type WebhookPreferenceStore interface {
	UpsertPreference(ctx context.Context, userID *uint, emailAddress string, marketingEnabled bool, reason *string) (*models.EmailPreference, error)
}

type WebhookController struct {
	Events DeliveryEventStore
	Emails WebhookEmailStore
	Prefs  WebhookPreferenceStore
	Gate   CacheInvalidator
	Secret string
	Logger *logrus.Logger

	now func() time.Time
}

func NewWebhookController(events DeliveryEventStore, emails WebhookEmailStore, prefs WebhookPreferenceStore, gate CacheInvalidator, secret string, logger *logrus.Logger) *WebhookController {
	return &WebhookController{
		Events: events,
		Emails: emails,
		Prefs:  prefs,
		Gate:   gate,
		Secret: secret,
		Logger: logger,
		now:    time.Now,
	}
}

// HandleProviderWebhook ingests one delivery event from the provider. The
// signature is verified over the exact raw request bytes before anything is
// parsed. Verification failure is a 400 with no processing; a processing
// failure after verification is a 500 so the provider redelivers, which is
// safe because the event dedupe key makes re-processing a no-op.
func (wc *WebhookController) HandleProviderWebhook(c *fiber.Ctx) error {
	raw := c.Body()

	err := utils.VerifyWebhookSignature(
		wc.Secret,
		c.Get("svix-id"),
		c.Get("svix-timestamp"),
		c.Get("svix-signature"),
		raw,
		wc.now(),
	)
	if err != nil {
		wc.Logger.WithError(err).Warn("webhook signature rejected")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook signature",
		})
	}

	var input struct {
		EventType         string         `json:"event_type"`
		ProviderMessageID string         `json:"provider_message_id"`
		OccurredAt        time.Time      `json:"occurred_at"`
		Payload           models.JSONMap `json:"payload"`
	}
	if err := json.Unmarshal(raw, &input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook body",
		})
	}
	if input.ProviderMessageID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "provider_message_id is required",
		})
	}

	// Unknown types are acknowledged and dropped so the provider stops
	// retrying them.
	if !models.KnownEventType(input.EventType) {
		wc.Logger.WithField("event_type", input.EventType).Info("ignoring unknown webhook event type")
		return c.JSON(fiber.Map{
			"received":   true,
			"event_type": input.EventType,
			"email_id":   nil,
			"message":    "Unknown event type ignored",
		})
	}

	event := models.DeliveryEvent{
		ProviderMessageID: input.ProviderMessageID,
		EventType:         input.EventType,
		OccurredAt:        input.OccurredAt,
		Payload:           input.Payload,
	}
	inserted, err := wc.Events.InsertEvent(c.Context(), &event)
	if err != nil {
		wc.Logger.WithError(err).Error("failed to record delivery event")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record delivery event",
		})
	}
	if !inserted {
		// Provider-side retry of an event already applied.
		metrics.WebhookDuplicates.Inc()
		return c.JSON(fiber.Map{
			"received":   true,
			"event_type": input.EventType,
			"email_id":   nil,
			"message":    "Duplicate event ignored",
		})
	}
	metrics.WebhookEvents.WithLabelValues(input.EventType).Inc()

	var emailID interface{}
	if models.SuppressingEventType(input.EventType) {
		id, err := wc.applySuppression(c.Context(), input.EventType, input.ProviderMessageID, input.Payload)
		if err != nil {
			wc.Logger.WithError(err).Error("failed to apply webhook suppression")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to process delivery event",
			})
		}
		emailID = id
	}

	return c.JSON(fiber.Map{
		"received":   true,
		"event_type": input.EventType,
		"email_id":   emailID,
		"message":    "Event processed",
	})
}

// applySuppression handles a first-seen bounce or complaint: disable
// marketing for the recipient and cancel the rest of the flow instance.
// Events can outrun the sent-row update, so a missing row is logged and
// tolerated rather than failed; the stored event covers later
// reconciliation.
func (wc *WebhookController) applySuppression(ctx context.Context, eventType, providerMessageID string, payload models.JSONMap) (interface{}, error) {
	email, err := wc.Emails.GetByProviderMessageID(ctx, providerMessageID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		wc.Logger.WithFields(logrus.Fields{
			"provider_message_id": providerMessageID,
			"event_type":          eventType,
		}).Warn("delivery event arrived before its scheduled email was marked sent")

		// Best effort: suppress by the address in the payload when present.
		if addr, ok := payload["email"].(string); ok && addr != "" {
			reason := eventType
			if _, err := wc.Prefs.UpsertPreference(ctx, nil, addr, false, &reason); err != nil {
				return nil, err
			}
			wc.Gate.Invalidate(ctx, addr)
		}
		return nil, nil
	}

	reason := eventType
	if _, err := wc.Prefs.UpsertPreference(ctx, email.UserID, email.EmailAddress, false, &reason); err != nil {
		return nil, err
	}
	wc.Gate.Invalidate(ctx, email.EmailAddress)

	if email.FlowTriggerID != nil {
		cancelled, err := wc.Emails.CancelFlowTrigger(ctx, *email.FlowTriggerID, email.ID)
		if err != nil {
			return nil, err
		}
		if cancelled > 0 {
			wc.Logger.WithFields(logrus.Fields{
				"flow_trigger_id": *email.FlowTriggerID,
				"cancelled":       cancelled,
				"event_type":      eventType,
			}).Info("cascade-cancelled remaining flow steps")
		}
	}
	return email.ID, nil
}
