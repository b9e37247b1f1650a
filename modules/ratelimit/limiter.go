package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"storyme-server/modules/common/config"
	"storyme-server/modules/common/model"
)

const (
	TierFree    = "free"
	TierPremium = "premium"

	defaultPrefix = "storyme:ratelimit:images"
)

// ErrInvalidCount - quota checks need a positive image count
var ErrInvalidCount = errors.New("requested image count must be positive")

// reserveScript checks both windows and reserves the images only when both have room.
// Returns {allowed, usedHour, usedDay, deniedWindow} where deniedWindow is 1=hour, 2=day.
var reserveScript = redis.NewScript(`
local n = tonumber(ARGV[1])
local hour = tonumber(redis.call("GET", KEYS[1]) or "0")
local day = tonumber(redis.call("GET", KEYS[2]) or "0")
if hour + n > tonumber(ARGV[2]) then
  return {0, hour, day, 1}
end
if day + n > tonumber(ARGV[3]) then
  return {0, hour, day, 2}
end
hour = redis.call("INCRBY", KEYS[1], n)
if hour == n then
  redis.call("PEXPIRE", KEYS[1], ARGV[4])
end
day = redis.call("INCRBY", KEYS[2], n)
if day == n then
  redis.call("PEXPIRE", KEYS[2], ARGV[5])
end
return {1, hour, day, 0}
`)

// refundScript gives back ARGV[1] images on each key that still exists, never going below 0.
// Expired windows are left alone so a refund never creates a key without a TTL.
var refundScript = redis.NewScript(`
local n = tonumber(ARGV[1])
for _, key in ipairs(KEYS) do
  local cur = tonumber(redis.call("GET", key) or "")
  if cur then
    local back = math.min(n, math.max(cur, 0))
    if back > 0 then
      redis.call("DECRBY", key, back)
    end
  end
end
return 1
`)

// TierStore - where a user's subscription tier lives
type TierStore interface {
	FetchSubscriptionTier(ctx context.Context, userID string) (string, error)
}

// TierLimits - images per window for one tier
type TierLimits struct {
	Hourly int
	Daily  int
}

// Limiter - per-user hourly and daily image quota in Redis fixed windows
type Limiter struct {
	rdb    *redis.Client
	tiers  TierStore
	limits map[string]TierLimits
	prefix string
	now    func() time.Time
}

func NewLimiter(rdb *redis.Client, tiers TierStore, cfg *config.Config) *Limiter {
	return &Limiter{
		rdb:   rdb,
		tiers: tiers,
		limits: map[string]TierLimits{
			TierFree:    {Hourly: cfg.RateLimitFreeHourly, Daily: cfg.RateLimitFreeDaily},
			TierPremium: {Hourly: cfg.RateLimitPremiumHourly, Daily: cfg.RateLimitPremiumDaily},
		},
		prefix: defaultPrefix,
		now:    time.Now,
	}
}

// CheckImageGenerationLimit - check and reserve `requested` images for the user
// A Redis failure denies the request.
func (l *Limiter) CheckImageGenerationLimit(ctx context.Context, userID string, requested int) (*model.RateLimitResult, error) {
	if requested <= 0 {
		return nil, ErrInvalidCount
	}

	tier := l.tierFor(ctx, userID)
	tl := l.limits[tier]
	limits := model.Limits{Tier: tier, HourlyLimit: tl.Hourly, DailyLimit: tl.Daily}

	reservedAt := l.now()
	hourKey, dayKey := l.keys(userID, reservedAt)
	res, err := reserveScript.Run(ctx, l.rdb, []string{hourKey, dayKey},
		requested, tl.Hourly, tl.Daily, time.Hour.Milliseconds(), (24 * time.Hour).Milliseconds(),
	).Int64Slice()
	if err != nil || len(res) != 4 {
		log.Error().Err(err).Str("user", userID).Msg("❌ [RateLimit] Redis check failed, denying request")
		return &model.RateLimitResult{
			Allowed: false,
			Reason:  "Rate limit service unavailable, please try again shortly",
			Limits:  limits,
		}, nil
	}

	limits.UsedThisHour = int(res[1])
	limits.UsedToday = int(res[2])
	limits.RemainingToday = max(limits.DailyLimit-limits.UsedToday, 0)

	result := &model.RateLimitResult{Allowed: res[0] == 1, Limits: limits}
	if result.Allowed {
		result.ReservedAt = reservedAt
	}
	switch res[3] {
	case 1:
		result.Reason = fmt.Sprintf("Hourly limit reached: %d of %d images used this hour, %d requested", limits.UsedThisHour, limits.HourlyLimit, requested)
	case 2:
		result.Reason = fmt.Sprintf("Daily limit reached: %d of %d images used today, %d requested", limits.UsedToday, limits.DailyLimit, requested)
	}

	if !result.Allowed {
		log.Warn().Str("user", userID).Str("tier", tier).Int("requested", requested).Msgf("🚫 [RateLimit] %s", result.Reason)
	} else {
		log.Debug().Str("user", userID).Str("tier", tier).Int("requested", requested).Int("usedToday", limits.UsedToday).Msg("✅ [RateLimit] Reserved")
	}
	return result, nil
}

// Refund - give back images that were reserved but never produced
// reservedAt is RateLimitResult.ReservedAt, so the windows the images were taken
// from are credited even when the batch finishes in the next hour or day.
func (l *Limiter) Refund(ctx context.Context, userID string, reservedAt time.Time, count int) error {
	if count <= 0 || reservedAt.IsZero() {
		return nil
	}
	hourKey, dayKey := l.keys(userID, reservedAt)
	if err := refundScript.Run(ctx, l.rdb, []string{hourKey, dayKey}, count).Err(); err != nil {
		return fmt.Errorf("failed to refund quota: %w", err)
	}
	return nil
}

func (l *Limiter) tierFor(ctx context.Context, userID string) string {
	if l.tiers == nil {
		return TierFree
	}
	tier, err := l.tiers.FetchSubscriptionTier(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user", userID).Msg("⚠️ [RateLimit] Tier lookup failed, using free tier")
		return TierFree
	}
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case TierPremium, "pro", "team":
		return TierPremium
	default:
		return TierFree
	}
}

func (l *Limiter) keys(userID string, at time.Time) (hourKey, dayKey string) {
	now := at.UTC()
	hourKey = fmt.Sprintf("%s:%s:h:%s", l.prefix, userID, now.Format("2006010215"))
	dayKey = fmt.Sprintf("%s:%s:d:%s", l.prefix, userID, now.Format("20060102"))
	return hourKey, dayKey
}
