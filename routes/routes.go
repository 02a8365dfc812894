package routes

import (
	"time"

	"careerlyst/config"
	controller "careerlyst/controllers"
	"careerlyst/middleware"
	"careerlyst/store"
	"careerlyst/utils"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SetupRoutes wires the email engine's HTTP surface. The webhook and
// unsubscribe endpoints are deliberately unauthenticated: the webhook is
// protected by its signature, unsubscribe links by their single-use tokens.
func SetupRoutes(app *fiber.App, db *gorm.DB, cache *redis.Client, log *logrus.Logger) {
	emailStore := store.NewEmailStore(db)
	flowStore := store.NewFlowStore(db)
	templateStore := store.NewTemplateStore(db)
	prefStore := store.NewPreferenceStore(db)
	eventStore := store.NewEventStore(db)

	gate := utils.NewSuppressionGate(prefStore, cache, 5*time.Minute, log)
	sequencer := utils.NewSequencer(flowStore, emailStore, gate, log)

	emailController := controller.NewEmailController(emailStore, log)
	flowController := controller.NewFlowController(flowStore, templateStore, emailStore, sequencer, log)
	preferenceController := controller.NewPreferenceController(prefStore, gate, log)
	webhookController := controller.NewWebhookController(eventStore, emailStore, prefStore, gate, config.AppConfig.WebhookSecret, log)

	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	email := app.Group("/email", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Scheduling
	email.Post("/schedule", emailController.ScheduleEmail)
	email.Get("/scheduled", emailController.ListScheduled)
	email.Post("/scheduled/:id/cancel", emailController.CancelScheduled)

	// Flows. Stats registers before :id so "stats" is not read as a flow id.
	email.Post("/flows/trigger", flowController.TriggerFlow)
	email.Get("/flows/stats", flowController.GetFlowStats)
	email.Get("/flows/:id", flowController.GetFlow)

	// Provider webhook, signature-authenticated
	email.Post("/webhook", webhookController.HandleProviderWebhook)

	// Preferences require the caller's identity
	prefs := email.Group("/preferences", middleware.Protected())
	prefs.Get("/", preferenceController.GetPreferences)
	prefs.Patch("/", preferenceController.UpdatePreferences)
	email.Post("/unsubscribe-token", middleware.Protected(), preferenceController.IssueUnsubscribeToken)

	// Unsubscribe links arrive from email clients with no session
	email.Get("/unsubscribe/:token", preferenceController.GetUnsubscribe)
	email.Post("/unsubscribe/:token", preferenceController.Unsubscribe)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
