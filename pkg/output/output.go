// Package output writes extracted records to a downstream sink.
//
// Two sinks exist: SingerWriter prints Singer SCHEMA and RECORD messages as
// JSON lines, RedisWriter appends records to one Redis stream per tap stream.
package output

import (
	"context"
	"time"

	"github.com/Sternrassler/tap-sentry/pkg/stream"
)

// Writer receives the schema of a stream before its records.
type Writer interface {
	WriteSchema(ctx context.Context, name string, schema stream.Schema, keys []string) error
	WriteRecord(ctx context.Context, name string, rec stream.Record, extractedAt time.Time) error
	Close() error
}
