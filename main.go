package main

import (
	"context"
	"net/http"

	"careerlyst/config"
	"careerlyst/metrics"
	"careerlyst/routes"
	"careerlyst/store"
	"careerlyst/utils"
	"careerlyst/worker"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"careerlyst/middleware"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if config.AppConfig.Environment == "development" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Error reporting
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Warnf("Sentry initialization failed: %v", err)
		}
	}

	// Optional Redis cache in front of the suppression gate
	var cache *redis.Client
	if config.AppConfig.Redis.Enabled {
		cache = redis.NewClient(&redis.Options{
			Addr:     config.AppConfig.Redis.Address,
			Password: config.AppConfig.Redis.Password,
			DB:       config.AppConfig.Redis.DB,
		})
		if err := cache.Ping(context.Background()).Err(); err != nil {
			logger.Warnf("Redis unavailable, suppression cache disabled: %v", err)
			cache = nil
		}
	}

	// Metrics endpoint on its own listener
	metrics.Init()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Infof("Metrics server starting on port %s", config.AppConfig.MetricsPort)
		if err := http.ListenAndServe(":"+config.AppConfig.MetricsPort, mux); err != nil {
			logger.Errorf("Metrics server error: %v", err)
		}
	}()

	// Dispatcher worker wiring
	emailStore := store.NewEmailStore(config.DB)
	prefStore := store.NewPreferenceStore(config.DB)
	templateStore := store.NewTemplateStore(config.DB)
	gate := utils.NewSuppressionGate(prefStore, cache, 0, logger)
	renderer := utils.NewTemplateRenderer(templateStore)
	mailer := utils.NewSMTPMailer(
		config.AppConfig.SMTPHost,
		config.AppConfig.SMTPPort,
		config.AppConfig.SMTPUsername,
		config.AppConfig.SMTPPassword,
		config.AppConfig.FromEmail,
		config.AppConfig.FromName,
	)
	limiter := rate.NewLimiter(rate.Limit(config.AppConfig.SendRateLimit), config.AppConfig.SendRateLimit)

	dispatcher := worker.NewDispatcherWorker(emailStore, gate, renderer, mailer, prefStore, limiter, logger, worker.DispatcherConfig{
		Interval:           config.AppConfig.DispatchInterval,
		BatchSize:          config.AppConfig.DispatchBatchSize,
		MaxRetries:         config.AppConfig.MaxRetries,
		RetryBaseDelay:     config.AppConfig.RetryBaseDelay,
		SendTimeout:        config.AppConfig.SendTimeout,
		UnsubscribeBaseURL: config.AppConfig.UnsubscribeBaseURL,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Start(ctx)

	// Create Fiber app
	app := fiber.New()
	app.Use(middleware.CORS())

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Setup routes, including the trailing 404 handler
	routes.SetupRoutes(app, config.DB, cache, logger)

	// Start server
	logger.Infof("Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
