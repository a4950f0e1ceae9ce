package output

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sternrassler/tap-sentry/pkg/stream"
	"github.com/redis/go-redis/v9"
)

// DefaultStreamPrefix prefixes Redis stream keys.
const DefaultStreamPrefix = "tap_sentry"

// RedisWriter appends records to the Redis stream "<prefix>:<stream>".
// Schemas are kept in the hash "<prefix>:schemas".
type RedisWriter struct {
	redis  *redis.Client
	prefix string
	runID  string
	maxLen int64
}

// NewRedisWriter creates a Redis sink. maxLen > 0 trims each stream
// approximately to that many entries.
func NewRedisWriter(redisClient *redis.Client, prefix, runID string, maxLen int64) *RedisWriter {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultStreamPrefix
	}
	return &RedisWriter{
		redis:  redisClient,
		prefix: prefix,
		runID:  runID,
		maxLen: maxLen,
	}
}

// StreamKey returns the Redis stream key for a tap stream.
func (w *RedisWriter) StreamKey(name string) string {
	return w.prefix + ":" + name
}

// SchemaKey returns the hash holding stream schemas.
func (w *RedisWriter) SchemaKey() string {
	return w.prefix + ":schemas"
}

// WriteSchema stores the schema and key properties of a stream.
func (w *RedisWriter) WriteSchema(ctx context.Context, name string, schema stream.Schema, keys []string) error {
	data, err := json.Marshal(struct {
		Schema        stream.Schema `json:"schema"`
		KeyProperties []string      `json:"key_properties"`
	}{schema, keys})
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	if err := w.redis.HSet(ctx, w.SchemaKey(), name, data).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// WriteRecord appends one entry carrying the run id and the record JSON.
func (w *RedisWriter) WriteRecord(ctx context.Context, name string, rec stream.Record, extractedAt time.Time) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: w.StreamKey(name),
		Values: map[string]interface{}{
			"run_id":         w.runID,
			"time_extracted": extractedAt.UTC().Format(time.RFC3339Nano),
			"record":         data,
		},
	}
	if w.maxLen > 0 {
		args.MaxLen = w.maxLen
		args.Approx = true
	}

	if err := w.redis.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis xadd: %w", err)
	}
	return nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (w *RedisWriter) Close() error {
	return nil
}
