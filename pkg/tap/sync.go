package tap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Sternrassler/tap-sentry/pkg/stream"
	"github.com/rs/zerolog"
)

var (
	// ErrPaginationLoop is returned when a response points at the page just fetched.
	ErrPaginationLoop = errors.New("pagination loop detected")

	// ErrUnexpectedStatus is returned when a fetcher hands back a non-2xx response.
	ErrUnexpectedStatus = errors.New("unexpected response status")
)

// Stats summarizes one stream sync.
type Stats struct {
	Stream    string
	Pages     int
	Records   int
	Dropped   int
	Truncated bool // stopped by MaxPages
	Duration  time.Duration
}

// Sync runs the fetch loop for one stream. The loop starts without a page
// token, fetches a page, emits its records and asks the paginator for the
// next token until it reports no more pages. Pages are fetched strictly one
// after another.
func (t *Tap) Sync(ctx context.Context, s stream.Stream) (stats Stats, err error) {
	stats.Stream = s.Name()
	start := time.Now()
	logger := t.logger.With().Str("stream", s.Name()).Logger()

	defer func() {
		stats.Duration = time.Since(start)
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		streamDuration.WithLabelValues(s.Name(), outcome).Observe(stats.Duration.Seconds())
	}()

	logger.Info().Str("endpoint", s.Path()).Msg("Stream sync started")

	var token *url.URL
	for {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("stream %s: %w", s.Name(), err)
		}
		if t.maxPages > 0 && stats.Pages >= t.maxPages {
			stats.Truncated = true
			logger.Warn().Int("page", stats.Pages).Msg("Page limit reached, stopping stream early")
			break
		}

		page := stats.Pages + 1
		next, more, err := t.fetchPage(ctx, s, token, page, &stats, logger)
		if err != nil {
			logger.Error().Err(err).Int("page", page).Int("records", stats.Records).Msg("Stream sync failed")
			return stats, fmt.Errorf("stream %s page %d: %w", s.Name(), page, err)
		}
		if !more {
			break
		}
		if token != nil && next.String() == token.String() {
			return stats, fmt.Errorf("stream %s page %d: %w: %s", s.Name(), page, ErrPaginationLoop, next)
		}
		token = next
	}

	logger.Info().
		Int("pages", stats.Pages).
		Int("records", stats.Records).
		Int("dropped", stats.Dropped).
		Msg("Stream sync finished")

	return stats, nil
}

// fetchPage fetches and emits one page. It returns the next token and
// whether another page should be fetched.
func (t *Tap) fetchPage(ctx context.Context, s stream.Stream, token *url.URL, page int, stats *Stats, logger zerolog.Logger) (*url.URL, bool, error) {
	params := s.BuildParams(token)
	query := params.Values()

	logger.Debug().
		Int("page", page).
		Str("endpoint", s.Path()).
		Object("params", params).
		Msg("Fetching page")

	resp, err := t.fetcher.Get(ctx, s.Path(), query)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, false, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read body: %w", err)
	}

	stats.Pages++
	pagesTotal.WithLabelValues(s.Name()).Inc()

	if err := t.emit(ctx, s, body, stats, logger); err != nil {
		return nil, false, err
	}

	return t.nextToken(resp, logger)
}

// emit extracts, post-processes and writes the records of a page body.
func (t *Tap) emit(ctx context.Context, s stream.Stream, body []byte, stats *Stats, logger zerolog.Logger) error {
	records, err := stream.Extract(body, s.RecordsPath())
	if err != nil {
		return err
	}

	schema := s.Schema()
	extractedAt := t.now()

	var writeErr error
	for raw := range records {
		out, keep := s.PostProcess(raw)
		if !keep {
			stats.Dropped++
			recordsDroppedTotal.WithLabelValues(s.Name()).Inc()
			logger.Trace().Interface("id", raw["id"]).Msg("Record dropped")
			continue
		}

		if writeErr = t.writer.WriteRecord(ctx, s.Name(), schema.Project(out), extractedAt); writeErr != nil {
			break
		}
		stats.Records++
		recordsTotal.WithLabelValues(s.Name()).Inc()
	}
	if writeErr != nil {
		return fmt.Errorf("write record: %w", writeErr)
	}
	return nil
}

// nextToken asks the paginator for the next page. A next link that cannot
// be parsed ends the stream.
func (t *Tap) nextToken(resp *http.Response, logger zerolog.Logger) (*url.URL, bool, error) {
	if !t.paginator.HasMore(resp) {
		return nil, false, nil
	}

	next, err := t.paginator.NextToken(resp)
	if err != nil {
		logger.Warn().Err(err).Msg("Unusable next link, stopping stream")
		return nil, false, nil
	}
	return next, true, nil
}
