package utils

import (
	"context"
	"fmt"
	"strings"
	"time"

	"careerlyst/models"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// PreferenceSource is the authoritative preference read the gate sits on.
type PreferenceSource interface {
	GetPreference(ctx context.Context, userID *uint, emailAddress string) (*models.EmailPreference, error)
}

// SuppressionGate answers "may we send marketing email to this address?".
// It is consulted twice per marketing send: at scheduling time (best-effort)
// and at dispatch time (authoritative). An optional Redis cache sits in
// front of the preference table; cache misses and cache errors both fall
// through to the database.
type SuppressionGate struct {
	Prefs  PreferenceSource
	Cache  *redis.Client
	TTL    time.Duration
	Logger *logrus.Logger
}

func NewSuppressionGate(prefs PreferenceSource, cache *redis.Client, ttl time.Duration, logger *logrus.Logger) *SuppressionGate {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SuppressionGate{Prefs: prefs, Cache: cache, TTL: ttl, Logger: logger}
}

// IsSuppressed reports whether marketing email to the address is forbidden.
// No preference record means not suppressed.
func (g *SuppressionGate) IsSuppressed(ctx context.Context, userID *uint, emailAddress string) (bool, error) {
	key := cacheKey(emailAddress)
	if g.Cache != nil {
		val, err := g.Cache.Get(ctx, key).Result()
		if err == nil {
			return val == "1", nil
		}
		if err != redis.Nil {
			g.Logger.WithError(err).Warn("suppression cache read failed, falling back to store")
		}
	}

	pref, err := g.Prefs.GetPreference(ctx, userID, emailAddress)
	if err != nil {
		return false, fmt.Errorf("read preference: %w", err)
	}
	suppressed := pref != nil && !pref.MarketingEmailsEnabled

	if g.Cache != nil {
		val := "0"
		if suppressed {
			val = "1"
		}
		if err := g.Cache.Set(ctx, key, val, g.TTL).Err(); err != nil {
			g.Logger.WithError(err).Warn("suppression cache write failed")
		}
	}
	return suppressed, nil
}

// Invalidate drops the cached answer for an address after a preference
// write, closing the window between PATCH/unsubscribe and the next send.
func (g *SuppressionGate) Invalidate(ctx context.Context, emailAddress string) {
	if g.Cache == nil {
		return
	}
	if err := g.Cache.Del(ctx, cacheKey(emailAddress)).Err(); err != nil {
		g.Logger.WithError(err).Warn("suppression cache invalidation failed")
	}
}

func cacheKey(emailAddress string) string {
	return "suppression:" + strings.ToLower(strings.TrimSpace(emailAddress))
}
