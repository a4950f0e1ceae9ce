package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	// ErrCacheMiss means no replayable page is stored under the key.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry means the stored page could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Manager stores Sentry pages in Redis for replay by later runs.
type Manager struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewManager creates a page cache on redisClient.
func NewManager(redisClient *redis.Client, logger zerolog.Logger) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{
		redis:  redisClient,
		logger: logger,
	}
}

// Get returns the stored page for key. ErrCacheMiss is returned when
// nothing is stored or the stored page has outlived its TTL; an outlived
// page is removed.
func (m *Manager) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	redisKey := key.String()

	data, err := m.redis.Get(ctx, redisKey).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	case err != nil:
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get %s: %w", redisKey, err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		if err := m.Delete(ctx, key); err != nil {
			m.logger.Debug().Err(err).Str("key", redisKey).Msg("Failed to delete expired page")
		}
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.Inc()
	return &entry, nil
}

// Set stores a page until entry.Expires. Pages that are already expired are
// not stored.
func (m *Manager) Set(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal page: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes a stored page.
func (m *Manager) Delete(ctx context.Context, key CacheKey) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}
