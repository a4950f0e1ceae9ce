// Package client provides the Sentry HTTP client with bearer authentication,
// request pacing, shared rate-limit tracking, an optional page cache and
// retry handling.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/tap-sentry/pkg/cache"
	"github.com/Sternrassler/tap-sentry/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the Sentry SaaS API root.
const DefaultBaseURL = "https://sentry.io"

// maxErrorBody bounds how much of an error response is kept in APIError.
const maxErrorBody = 512

// Prometheus metrics for Sentry client operations.
var (
	sentryRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentry_requests_total",
		Help: "Total Sentry API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	sentryRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentry_request_duration_seconds",
		Help:    "Sentry API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	sentryErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentry_errors_total",
		Help: "Total Sentry API errors by class",
	}, []string{"class"})
)

// Client is the Sentry API client.
type Client struct {
	httpClient  *http.Client
	baseURL     *url.URL
	limiter     *rate.Limiter
	rateLimiter *ratelimit.Tracker
	cache       *cache.Manager
	retry       RetryPolicy
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root, e.g. https://sentry.io
	BaseURL string

	// AuthToken is sent as "Authorization: Bearer <token>"
	AuthToken string

	// UserAgent header, left to the Go default when empty
	UserAgent string

	// Timeout per HTTP round trip
	Timeout time.Duration

	// RateLimit paces requests (per second); 0 disables pacing
	RateLimit float64
	RateBurst int

	// Retry
	MaxRetries     int           // retries after the first attempt
	InitialBackoff time.Duration // overrides the per-class initial backoff when > 0

	// Redis enables shared rate-limit state and, with PageCacheTTL, the page cache
	Redis              *redis.Client
	RateLimitNamespace string
	PageCacheTTL       time.Duration
	CacheScope         string
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(authToken string) Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		AuthToken:      authToken,
		Timeout:        30 * time.Second,
		RateLimit:      5,
		RateBurst:      1,
		MaxRetries:     2,
		InitialBackoff: 0,
	}
}

// New creates a new Sentry client.
func New(cfg Config) (*Client, error) {
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("auth token is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}

	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.MaxRetries)
	}

	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("rate_limit must be >= 0 (got %g)", cfg.RateLimit)
	}

	if cfg.PageCacheTTL > 0 && cfg.Redis == nil {
		return nil, fmt.Errorf("page cache requires a redis client")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "sentry-client").Logger()

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: base,
		config:  cfg,
		logger:  logger,
	}
	c.retry = c.retryPolicy

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	if cfg.Redis != nil {
		namespace := cfg.RateLimitNamespace
		if namespace == "" {
			namespace = "tap_sentry:rate_limit"
		}
		c.rateLimiter = ratelimit.NewTracker(cfg.Redis, namespace, logger)

		if cfg.PageCacheTTL > 0 {
			c.cache = cache.NewManager(cfg.Redis, logger)
		}
	}

	return c, nil
}

// retryPolicy applies the configured attempt count and initial backoff on top
// of the per-class defaults.
func (c *Client) retryPolicy(class ErrorClass) RetryConfig {
	rc := RetryConfigForErrorClass(class)
	rc.MaxAttempts = c.config.MaxRetries + 1
	if c.config.InitialBackoff > 0 {
		rc.InitialBackoff = c.config.InitialBackoff
		if rc.MaxBackoff < rc.InitialBackoff {
			rc.MaxBackoff = rc.InitialBackoff
		}
	}
	return rc
}

// Do performs an HTTP request with pacing, rate-limit tracking, caching and
// retries. Any non-2xx final status is returned as *APIError and the
// response body is closed.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := req.URL.Path

	startTime := time.Now()
	defer func() {
		sentryRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: Check page cache
	var cacheKey cache.CacheKey
	if c.cache != nil && req.Method == http.MethodGet {
		cacheKey = cache.CacheKey{
			Scope:       c.config.CacheScope,
			Endpoint:    endpoint,
			QueryParams: req.URL.Query(),
		}

		entry, err := c.cache.Get(ctx, cacheKey)
		switch {
		case err == nil:
			c.logger.Debug().Str("endpoint", endpoint).Msg("Page cache hit")
			sentryRequestsTotal.WithLabelValues(endpoint, "cache_hit").Inc()
			return cache.EntryToResponse(entry, req), nil
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}
	}

	// Step 2: Set headers
	req.Header.Set("Authorization", "Bearer "+c.config.AuthToken)
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Msg("Executing Sentry request")

	var resp *http.Response
	var errClass ErrorClass

	// Step 3: Execute with retry
	retryErr := retryWithBackoff(ctx, c.retry, func() error {
		if err := c.pace(ctx); err != nil {
			errClass = ""
			return err
		}

		var reqErr error
		resp, reqErr = c.httpClient.Do(req)
		if reqErr != nil {
			resp = nil
			if ctx.Err() != nil {
				errClass = ""
				return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
			}
			c.logger.Error().Err(reqErr).Str("endpoint", endpoint).Msg("HTTP request failed")
			errClass = c.classifyError(nil, reqErr)
			sentryErrorsTotal.WithLabelValues(string(errClass)).Inc()
			sentryRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return reqErr
		}

		if c.rateLimiter != nil {
			if err := c.rateLimiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
			}
		}

		sentryRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			errClass = c.classifyError(resp, nil)
			sentryErrorsTotal.WithLabelValues(string(errClass)).Inc()

			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", resp.StatusCode).
				Str("error_class", string(errClass)).
				Msg("Sentry request error")

			apiErr := &APIError{
				StatusCode: resp.StatusCode,
				ErrorClass: errClass,
				Endpoint:   endpoint,
				Message:    errorMessage(resp),
			}
			resp.Body.Close()
			resp = nil
			return apiErr
		}

		return nil
	}, func(err error) ErrorClass {
		return errClass
	})

	if retryErr != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, retryErr
	}

	// Step 4: Store page
	if c.cache != nil && cache.IsCacheable(resp) {
		entry, err := cache.ResponseToEntry(resp, c.config.PageCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache response")
		} else {
			c.logger.Debug().
				Str("endpoint", endpoint).
				Dur("ttl", entry.TTL()).
				Msg("Cached response")
		}
	}

	return resp, nil
}

// pace blocks on the local limiter and the shared rate-limit state.
func (c *Client) pace(ctx context.Context) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
	}
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
			}
			c.logger.Warn().Err(err).Msg("Rate limit check failed")
		}
	}
	return nil
}

// classifyError categorizes an error for observability and handling.
func (c *Client) classifyError(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case resp.StatusCode >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// errorMessage pulls Sentry's {"detail": "..."} or a short body snippet.
func errorMessage(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(body) == 0 {
		return resp.Status
	}
	if detail := gjson.GetBytes(body, "detail"); detail.Type == gjson.String {
		return detail.String()
	}
	return strings.TrimSpace(string(body))
}

// Get performs a GET request against a path below the base URL. The path is
// in escaped form and is appended to any path of the base URL.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	u := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.Do(req)
}
