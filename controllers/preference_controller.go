package controller

import (
	"context"
	"errors"
	"time"

	"careerlyst/models"
	"careerlyst/store"
	"careerlyst/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// PreferenceStoreAPI is the preference and token persistence surface.
type PreferenceStoreAPI interface {
	GetPreference(ctx context.Context, userID *uint, emailAddress string) (*models.EmailPreference, error)
	UpsertPreference(ctx context.Context, userID *uint, emailAddress string, marketingEnabled bool, reason *string) (*models.EmailPreference, error)
	IssueToken(ctx context.Context, userID *uint, emailAddress string, ttl time.Duration) (*models.UnsubscribeToken, error)
	GetToken(ctx context.Context, token string) (*models.UnsubscribeToken, error)
	ConsumeToken(ctx context.Context, token string) (*models.UnsubscribeToken, error)
}

// CacheInvalidator closes the window between a preference write and the
// next suppression read.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, emailAddress string)
}

type PreferenceController struct {
	Prefs    PreferenceStoreAPI
	Gate     CacheInvalidator
	TokenTTL time.Duration
	Logger   *logrus.Logger
}

func NewPreferenceController(prefs PreferenceStoreAPI, gate CacheInvalidator, logger *logrus.Logger) *PreferenceController {
	return &PreferenceController{
		Prefs:    prefs,
		Gate:     gate,
		TokenTTL: 30 * 24 * time.Hour,
		Logger:   logger,
	}
}

// GetPreferences returns the authenticated user's preference record. No
// record means marketing is enabled.
func (pc *PreferenceController) GetPreferences(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	email := c.Locals("userEmail").(string)

	pref, err := pc.Prefs.GetPreference(c.Context(), &userID, email)
	if err != nil {
		pc.Logger.WithError(err).Error("failed to load preferences")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load preferences",
		})
	}
	if pref == nil {
		pref = &models.EmailPreference{
			UserID:                 &userID,
			EmailAddress:           email,
			MarketingEmailsEnabled: true,
		}
	}
	return c.JSON(fiber.Map{
		"preferences": pref,
	})
}

// UpdatePreferences writes the authenticated user's marketing opt-in flag.
func (pc *PreferenceController) UpdatePreferences(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	email := c.Locals("userEmail").(string)

	var input struct {
		MarketingEmailsEnabled *bool   `json:"marketingEmailsEnabled" validate:"required"`
		Reason                 *string `json:"reason"`
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

	pref, err := pc.Prefs.UpsertPreference(c.Context(), &userID, email, *input.MarketingEmailsEnabled, input.Reason)
	if err != nil {
		pc.Logger.WithError(err).Error("failed to update preferences")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update preferences",
		})
	}
	pc.Gate.Invalidate(c.Context(), email)

	return c.JSON(fiber.Map{
		"preferences": pref,
	})
}

// IssueUnsubscribeToken mints a single-use unsubscribe token for the
// authenticated user.
func (pc *PreferenceController) IssueUnsubscribeToken(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	email := c.Locals("userEmail").(string)

	token, err := pc.Prefs.IssueToken(c.Context(), &userID, email, pc.TokenTTL)
	if err != nil {
		pc.Logger.WithError(err).Error("failed to issue unsubscribe token")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to issue unsubscribe token",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"token":      token.Token,
		"expires_at": token.ExpiresAt,
	})
}

// GetUnsubscribe validates a token without consuming it, so the unsubscribe
// page can render before the user confirms.
func (pc *PreferenceController) GetUnsubscribe(c *fiber.Ctx) error {
	token, err := pc.Prefs.GetToken(c.Context(), c.Params("token"))
	if err != nil {
		return pc.tokenError(c, err)
	}
	return c.JSON(fiber.Map{
		"userId":       token.UserID,
		"emailAddress": token.EmailAddress,
		"used":         token.Used,
	})
}

// Unsubscribe consumes a single-use token and disables marketing email for
// its address. A second call with the same token is rejected without
// touching the preference record again.
func (pc *PreferenceController) Unsubscribe(c *fiber.Ctx) error {
	var input struct {
		Reason string `json:"reason"`
	}
	// GET-style confirmations arrive with no body.
	_ = c.BodyParser(&input)

	token, err := pc.Prefs.ConsumeToken(c.Context(), c.Params("token"))
	if err != nil {
		return pc.tokenError(c, err)
	}

	reason := input.Reason
	if reason == "" {
		reason = "unsubscribed"
	}
	pref, err := pc.Prefs.UpsertPreference(c.Context(), token.UserID, token.EmailAddress, false, &reason)
	if err != nil {
		pc.Logger.WithError(err).Error("failed to apply unsubscribe")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to apply unsubscribe",
		})
	}
	pc.Gate.Invalidate(c.Context(), token.EmailAddress)

	return c.JSON(fiber.Map{
		"preferences": pref,
	})
}

func (pc *PreferenceController) tokenError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unsubscribe token not found",
		})
	case errors.Is(err, store.ErrTokenExpired):
		return c.Status(fiber.StatusGone).JSON(fiber.Map{
			"error": "Unsubscribe token expired",
		})
	case errors.Is(err, store.ErrTokenUsed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Unsubscribe token already used",
		})
	}
	pc.Logger.WithError(err).Error("unsubscribe token lookup failed")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to process unsubscribe token",
	})
}
