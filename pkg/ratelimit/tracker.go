package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Sentry rate limit response headers.
const (
	HeaderRemaining = "X-Sentry-Rate-Limit-Remaining"
	HeaderLimit     = "X-Sentry-Rate-Limit-Limit"
	HeaderReset     = "X-Sentry-Rate-Limit-Reset"
)

// Prometheus metrics for rate limit tracking.
var (
	sentryRateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentry_rate_limit_remaining",
		Help: "Requests remaining in the current Sentry rate limit window",
	})

	sentryRateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentry_rate_limit_waits_total",
		Help: "Total number of requests held until the rate limit window reset",
	})

	sentryRateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentry_rate_limit_throttles_total",
		Help: "Total number of requests throttled due to a low remaining budget",
	})
)

// Tracker monitors the Sentry rate limit window and gates requests.
type Tracker struct {
	redis     *redis.Client
	namespace string
	logger    zerolog.Logger

	// ThrottleDelay is slept before a request when the budget is low.
	ThrottleDelay time.Duration

	// MaxWait caps how long a request is held for a window reset.
	MaxWait time.Duration
}

// NewTracker creates a tracker whose Redis keys live under namespace,
// typically "tap_sentry:rate_limit:<organization>".
func NewTracker(redisClient *redis.Client, namespace string, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:         redisClient,
		namespace:     namespace,
		logger:        logger,
		ThrottleDelay: 1 * time.Second,
		MaxWait:       60 * time.Second,
	}
}

func (t *Tracker) key(suffix string) string {
	return t.namespace + ":" + suffix
}

// GetState retrieves the current state from Redis.
// Returns a default healthy state if nothing has been recorded yet.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	remaining, err := t.redis.Get(ctx, t.key(keyRemaining)).Int()
	if err == redis.Nil {
		t.logger.Debug().Msg("No rate limit state in Redis, returning default healthy state")
		return &State{
			Remaining: RemainingHealthy,
			UpdatedAt: time.Now(),
			IsHealthy: true,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get remaining: %w", err)
	}

	limit, err := t.redis.Get(ctx, t.key(keyLimit)).Int()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get limit: %w", err)
	}

	resetAt, err := t.redis.Get(ctx, t.key(keyResetAt)).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	updatedStr, err := t.redis.Get(ctx, t.key(keyUpdatedAt)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get updated at: %w", err)
	}

	var updatedAt time.Time
	if updatedStr != "" {
		if err := json.Unmarshal([]byte(updatedStr), &updatedAt); err != nil {
			return nil, fmt.Errorf("parse updated at: %w", err)
		}
	}

	state := &State{
		Remaining: remaining,
		Limit:     limit,
		ResetAt:   time.Unix(resetAt, 0),
		UpdatedAt: updatedAt,
	}
	state.UpdateHealth()

	return state, nil
}

// ParseHeaders reads the rate limit headers. It returns nil when the
// response carries no rate limit information.
func ParseHeaders(headers http.Header) (*State, error) {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil, nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return nil, fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	state := &State{
		Remaining: remain,
		UpdatedAt: time.Now(),
	}

	if limitStr := headers.Get(HeaderLimit); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, fmt.Errorf("parse %s header: %w", HeaderLimit, err)
		}
		state.Limit = limit
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return nil, fmt.Errorf("%s header missing", HeaderReset)
	}
	resetEpoch, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}
	state.ResetAt = time.Unix(resetEpoch, 0)
	state.UpdateHealth()

	return state, nil
}

// UpdateFromHeaders parses the rate limit headers and stores them in Redis.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	state, err := ParseHeaders(headers)
	if err != nil || state == nil {
		return err
	}

	updatedJSON, err := json.Marshal(state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("marshal updated at: %w", err)
	}

	// The window expires with its reset so stale state never blocks a
	// later run.
	ttl := state.TimeUntilReset() + time.Minute

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, t.key(keyRemaining), state.Remaining, ttl)
	pipe.Set(ctx, t.key(keyLimit), state.Limit, ttl)
	pipe.Set(ctx, t.key(keyResetAt), state.ResetAt.Unix(), ttl)
	pipe.Set(ctx, t.key(keyUpdatedAt), updatedJSON, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	sentryRateLimitRemaining.Set(float64(state.Remaining))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Sentry rate limit exhausted - requests will wait for reset")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Msg("Sentry rate limit low - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Int("limit", state.Limit).
			Time("reset_at", state.ResetAt).
			Msg("Sentry rate limit state updated")
	}

	return nil
}

// Wait blocks until a request may be sent. It holds the request until the
// window resets when the budget is exhausted and sleeps ThrottleDelay when
// it is low.
func (t *Tracker) Wait(ctx context.Context) error {
	state, err := t.GetState(ctx)
	if err != nil {
		return fmt.Errorf("get rate limit state: %w", err)
	}

	var delay time.Duration
	switch {
	case state.NeedsCriticalBlock():
		delay = state.TimeUntilReset()
		if delay > t.MaxWait {
			delay = t.MaxWait
		}
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("wait_duration", delay).
			Msg("Sentry rate limit exhausted - waiting for reset")
		sentryRateLimitWaitsTotal.Inc()
	case state.NeedsThrottling():
		delay = t.ThrottleDelay
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Msg("Sentry rate limit low - throttling request")
		sentryRateLimitThrottlesTotal.Inc()
	default:
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
