package worker

import (
	"context"
	"fmt"
	"time"

	"careerlyst/metrics"
	"careerlyst/models"
	"careerlyst/utils"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DispatcherStore is the scheduled-email persistence surface the dispatcher
// needs. Every mutation is a single-statement conditional update so any
// number of dispatcher instances can run against the same table.
type DispatcherStore interface {
	DueBatch(ctx context.Context, now time.Time, limit int) ([]models.ScheduledEmail, error)
	Claim(ctx context.Context, id uint) (bool, error)
	MarkSent(ctx context.Context, id uint, providerMessageID string, sentAt time.Time) error
	MarkRetry(ctx context.Context, id uint, retryCount int, nextAttempt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id uint, lastError string) error
	Cancel(ctx context.Context, id uint) (bool, error)
}

// Renderer turns a claimed row into provider-ready content.
type Renderer interface {
	Render(ctx context.Context, email *models.ScheduledEmail, unsubscribeURL string) (*utils.RenderedEmail, error)
}

// TokenIssuer mints the single-use unsubscribe token embedded in marketing
// email footers.
type TokenIssuer interface {
	IssueToken(ctx context.Context, userID *uint, emailAddress string, ttl time.Duration) (*models.UnsubscribeToken, error)
}

// DispatcherConfig carries the tunables the worker reads each cycle.
type DispatcherConfig struct {
	Interval           time.Duration
	BatchSize          int
	MaxRetries         int
	RetryBaseDelay     time.Duration
	SendTimeout        time.Duration
	UnsubscribeBaseURL string
	UnsubscribeTTL     time.Duration
}

// DispatcherWorker polls for due scheduled emails, claims them exclusively,
// and sends them through the provider client. Multiple instances are safe:
// the atomic claim update is the only synchronization point.
type DispatcherWorker struct {
	Store       DispatcherStore
	Suppression utils.SuppressionChecker
	Renderer    Renderer
	Provider    utils.Provider
	Tokens      TokenIssuer
	Limiter     *rate.Limiter
	Logger      *logrus.Logger
	Config      DispatcherConfig

	now func() time.Time
}

func NewDispatcherWorker(store DispatcherStore, suppression utils.SuppressionChecker, renderer Renderer, provider utils.Provider, tokens TokenIssuer, limiter *rate.Limiter, logger *logrus.Logger, cfg DispatcherConfig) *DispatcherWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Minute
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.UnsubscribeTTL <= 0 {
		cfg.UnsubscribeTTL = 30 * 24 * time.Hour
	}
	return &DispatcherWorker{
		Store:       store,
		Suppression: suppression,
		Renderer:    renderer,
		Provider:    provider,
		Tokens:      tokens,
		Limiter:     limiter,
		Logger:      logger,
		Config:      cfg,
		now:         time.Now,
	}
}

// Start runs the poll loop until the context is cancelled.
func (dw *DispatcherWorker) Start(ctx context.Context) {
	dw.Logger.Info("dispatcher worker started")

	ticker := time.NewTicker(dw.Config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			dw.Logger.Info("dispatcher worker shutting down...")
			return
		case <-ticker.C:
			dw.ProcessDue(ctx)
		}
	}
}

// ProcessDue runs one poll cycle: select due rows, then race to claim and
// send each one.
func (dw *DispatcherWorker) ProcessDue(ctx context.Context) {
	batch, err := dw.Store.DueBatch(ctx, dw.now(), dw.Config.BatchSize)
	if err != nil {
		dw.Logger.WithError(err).Error("failed to select due emails")
		return
	}
	metrics.DueBacklog.Set(float64(len(batch)))

	for i := range batch {
		dw.Dispatch(ctx, &batch[i])
	}
}

// Dispatch attempts to claim and deliver one due row.
func (dw *DispatcherWorker) Dispatch(ctx context.Context, email *models.ScheduledEmail) {
	log := dw.Logger.WithFields(logrus.Fields{
		"email_id": email.ID,
		"to":       email.EmailAddress,
		"template": email.TemplateID,
	})

	claimed, err := dw.Store.Claim(ctx, email.ID)
	if err != nil {
		log.WithError(err).Error("claim failed")
		return
	}
	if !claimed {
		// Another worker won the row, or it was cancelled since the poll.
		metrics.ClaimsLost.Inc()
		return
	}

	// Authoritative suppression check: preferences may have changed since
	// scheduling. Transactional mail is never suppressed.
	if email.Category == models.StepCategoryMarketing {
		suppressed, err := dw.Suppression.IsSuppressed(ctx, email.UserID, email.EmailAddress)
		if err != nil {
			dw.retryTransient(ctx, email, fmt.Errorf("suppression check: %w", err), log)
			return
		}
		if suppressed {
			if _, err := dw.Store.Cancel(ctx, email.ID); err != nil {
				log.WithError(err).Error("failed to cancel suppressed email")
			}
			metrics.SuppressedAtDispatch.Inc()
			log.Info("cancelled suppressed email at dispatch time")
			return
		}
	}

	rendered, err := dw.Renderer.Render(ctx, email, dw.unsubscribeURL(ctx, email, log))
	if err != nil {
		// Missing or broken templates do not heal on retry.
		dw.failPermanently(ctx, email, fmt.Errorf("render: %w", err), log)
		return
	}

	if dw.Limiter != nil {
		if err := dw.Limiter.Wait(ctx); err != nil {
			log.WithError(err).Warn("rate limiter interrupted")
			return
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, dw.Config.SendTimeout)
	defer cancel()

	providerMessageID, err := dw.Provider.Send(sendCtx, utils.OutboundEmail{
		To:       email.EmailAddress,
		Subject:  rendered.Subject,
		HTMLBody: rendered.HTMLBody,
		TextBody: rendered.TextBody,
	})
	if err != nil {
		if utils.IsPermanentError(err) {
			dw.failPermanently(ctx, email, err, log)
		} else {
			dw.retryTransient(ctx, email, err, log)
		}
		return
	}

	if err := dw.Store.MarkSent(ctx, email.ID, providerMessageID, dw.now()); err != nil {
		log.WithError(err).Error("failed to mark email sent")
		sentry.CaptureException(err)
		return
	}
	metrics.EmailsSent.Inc()
	log.WithField("provider_message_id", providerMessageID).Info("email sent")
}

func (dw *DispatcherWorker) retryTransient(ctx context.Context, email *models.ScheduledEmail, sendErr error, log *logrus.Entry) {
	retryCount := email.RetryCount + 1
	if retryCount >= dw.Config.MaxRetries {
		log.WithError(sendErr).WithField("retry_count", retryCount).Error("retries exhausted, failing email")
		if err := dw.Store.MarkFailed(ctx, email.ID, sendErr.Error()); err != nil {
			log.WithError(err).Error("failed to mark email failed")
		}
		metrics.SendFailures.WithLabelValues("transient").Inc()
		sentry.CaptureException(sendErr)
		return
	}

	nextAttempt := dw.now().Add(dw.backoffDelay(retryCount))
	if err := dw.Store.MarkRetry(ctx, email.ID, retryCount, nextAttempt, sendErr.Error()); err != nil {
		log.WithError(err).Error("failed to reschedule email")
		return
	}
	metrics.SendRetries.Inc()
	log.WithError(sendErr).WithFields(logrus.Fields{
		"retry_count":  retryCount,
		"next_attempt": nextAttempt,
	}).Warn("transient send failure, rescheduled")
}

func (dw *DispatcherWorker) failPermanently(ctx context.Context, email *models.ScheduledEmail, sendErr error, log *logrus.Entry) {
	if err := dw.Store.MarkFailed(ctx, email.ID, sendErr.Error()); err != nil {
		log.WithError(err).Error("failed to mark email failed")
		return
	}
	metrics.SendFailures.WithLabelValues("permanent").Inc()
	sentry.CaptureException(sendErr)
	log.WithError(sendErr).Error("permanent send failure")
}

// backoffDelay is the row-level exponential backoff: base * 2^(n-1), capped
// at six hours.
func (dw *DispatcherWorker) backoffDelay(retryCount int) time.Duration {
	delay := dw.Config.RetryBaseDelay
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if delay >= 6*time.Hour {
			return 6 * time.Hour
		}
	}
	return delay
}

// unsubscribeURL mints a single-use token and builds the footer link. A
// token-minting failure degrades to an empty link rather than blocking the
// send.
func (dw *DispatcherWorker) unsubscribeURL(ctx context.Context, email *models.ScheduledEmail, log *logrus.Entry) string {
	if email.Category != models.StepCategoryMarketing || dw.Config.UnsubscribeBaseURL == "" || dw.Tokens == nil {
		return ""
	}
	if override, ok := email.Metadata["unsubscribe_url"].(string); ok && override != "" {
		return override
	}
	token, err := dw.Tokens.IssueToken(ctx, email.UserID, email.EmailAddress, dw.Config.UnsubscribeTTL)
	if err != nil {
		log.WithError(err).Warn("failed to issue unsubscribe token")
		return ""
	}
	return fmt.Sprintf("%s/%s", dw.Config.UnsubscribeBaseURL, token.Token)
}
