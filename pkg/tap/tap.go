// Package tap drives stream syncs: it fetches pages one after another,
// extracts and post-processes their records, hands them to an output writer
// and follows the paginator until the stream is exhausted.
package tap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Sternrassler/tap-sentry/pkg/logging"
	"github.com/Sternrassler/tap-sentry/pkg/output"
	"github.com/Sternrassler/tap-sentry/pkg/pagination"
	"github.com/Sternrassler/tap-sentry/pkg/stream"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Fetcher issues GET requests against the API. *client.Client implements it.
// A returned error aborts the stream; the fetcher owns retries.
type Fetcher interface {
	Get(ctx context.Context, path string, query url.Values) (*http.Response, error)
}

// Config holds the tap configuration.
type Config struct {
	Fetcher   Fetcher
	Writer    output.Writer
	Paginator pagination.Paginator // defaults to the Sentry paginator
	Settings  stream.Settings

	// MaxPages caps the pages fetched per stream; 0 means unlimited
	MaxPages int

	// RunID identifies the run in logs and sink entries; generated when empty
	RunID string
}

// Tap syncs streams.
type Tap struct {
	fetcher   Fetcher
	writer    output.Writer
	paginator pagination.Paginator
	settings  stream.Settings
	maxPages  int
	runID     string
	now       func() time.Time
	logger    zerolog.Logger
}

// New creates a tap.
func New(cfg Config) (*Tap, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg.Writer == nil {
		return nil, fmt.Errorf("writer is required")
	}
	if cfg.MaxPages < 0 {
		return nil, fmt.Errorf("max_pages must be >= 0 (got %d)", cfg.MaxPages)
	}

	paginator := cfg.Paginator
	if paginator == nil {
		paginator = pagination.NewSentryPaginator()
	}

	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	return &Tap{
		fetcher:   cfg.Fetcher,
		writer:    cfg.Writer,
		paginator: paginator,
		settings:  cfg.Settings,
		maxPages:  cfg.MaxPages,
		runID:     runID,
		now:       time.Now,
		logger:    logging.NewRunLogger("tap", runID),
	}, nil
}

// RunID returns the run identifier.
func (t *Tap) RunID() string {
	return t.runID
}

// Discover returns the catalog of all stream kinds.
func (t *Tap) Discover() Catalog {
	return NewCatalog(stream.All(t.settings))
}

// Run syncs the named streams one after another; no names means all
// streams. A SCHEMA message precedes the records of each stream. The first
// failing stream ends the run; records already written stay written.
func (t *Tap) Run(ctx context.Context, names []string) ([]Stats, error) {
	if len(names) == 0 {
		names = stream.Names()
	}

	streams := make([]stream.Stream, 0, len(names))
	for _, name := range names {
		s, err := stream.New(name, t.settings)
		if err != nil {
			return nil, err
		}
		streams = append(streams, s)
	}

	t.logger.Info().Strs("streams", names).Msg("Run started")

	all := make([]Stats, 0, len(streams))
	for _, s := range streams {
		if err := t.writer.WriteSchema(ctx, s.Name(), s.Schema(), s.PrimaryKeys()); err != nil {
			return all, fmt.Errorf("write schema for %s: %w", s.Name(), err)
		}

		stats, err := t.Sync(ctx, s)
		all = append(all, stats)
		if err != nil {
			return all, err
		}
	}

	t.logger.Info().Int("streams", len(all)).Msg("Run finished")
	return all, nil
}

// IsCancelled reports whether err came from context cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
