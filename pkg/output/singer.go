package output

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Sternrassler/tap-sentry/pkg/stream"
)

// Singer message types.
const (
	MessageSchema = "SCHEMA"
	MessageRecord = "RECORD"
)

// Message is one Singer protocol line.
type Message struct {
	Type          string         `json:"type"`
	Stream        string         `json:"stream"`
	Record        stream.Record  `json:"record,omitempty"`
	TimeExtracted *time.Time     `json:"time_extracted,omitempty"`
	Schema        *stream.Schema `json:"schema,omitempty"`
	KeyProperties []string       `json:"key_properties,omitempty"`
}

// SingerWriter writes Singer messages as JSON lines.
type SingerWriter struct {
	mu  sync.Mutex
	buf *bufio.Writer
	enc *json.Encoder
}

// NewSingerWriter creates a writer on w, usually os.Stdout.
func NewSingerWriter(w io.Writer) *SingerWriter {
	buf := bufio.NewWriter(w)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &SingerWriter{buf: buf, enc: enc}
}

// WriteSchema emits a SCHEMA message.
func (w *SingerWriter) WriteSchema(_ context.Context, name string, schema stream.Schema, keys []string) error {
	return w.write(Message{
		Type:          MessageSchema,
		Stream:        name,
		Schema:        &schema,
		KeyProperties: keys,
	})
}

// WriteRecord emits a RECORD message.
func (w *SingerWriter) WriteRecord(_ context.Context, name string, rec stream.Record, extractedAt time.Time) error {
	ts := extractedAt.UTC()
	return w.write(Message{
		Type:          MessageRecord,
		Stream:        name,
		Record:        rec,
		TimeExtracted: &ts,
	})
}

func (w *SingerWriter) write(msg Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.enc.Encode(msg); err != nil {
		return fmt.Errorf("write %s message: %w", msg.Type, err)
	}
	// One message per line, visible to the consumer right away
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Close flushes pending output.
func (w *SingerWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Flush()
}
