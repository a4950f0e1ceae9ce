package tap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/tap-sentry/pkg/stream"
)

// fakePage is one canned response of fakeFetcher.
type fakePage struct {
	status int
	body   string
	link   string
	err    error
}

// fakeFetcher answers requests with its pages in order and records every
// request it receives.
type fakeFetcher struct {
	pages   []fakePage
	paths   []string
	queries []url.Values
}

func (f *fakeFetcher) Get(_ context.Context, path string, query url.Values) (*http.Response, error) {
	i := len(f.queries)
	f.paths = append(f.paths, path)
	f.queries = append(f.queries, query)
	if i >= len(f.pages) {
		return nil, fmt.Errorf("unexpected request %d", i+1)
	}

	p := f.pages[i]
	if p.err != nil {
		return nil, p.err
	}
	status := p.status
	if status == 0 {
		status = http.StatusOK
	}

	header := http.Header{}
	if p.link != "" {
		header.Set("Link", p.link)
	}
	u := &url.URL{Scheme: "https", Host: "sentry.io", Path: path, RawQuery: query.Encode()}

	return &http.Response{
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(p.body)),
		Request:    &http.Request{Method: http.MethodGet, URL: u},
	}, nil
}

// sentryLink builds a Sentry style next link for the issues endpoint.
func sentryLink(cursor string, results string) string {
	next := "https://sentry.io/api/0/organizations/acme/issues/?cursor=" + cursor
	return fmt.Sprintf(`<https://sentry.io/api/0/organizations/acme/issues/?cursor=0:0:1>; rel="previous"; results="false"; cursor="0:0:1", <%s>; rel="next"; results="%s"; cursor="%s"`,
		next, results, cursor)
}

// written is one call to recordingWriter.
type written struct {
	kind   string
	stream string
	record stream.Record
	keys   []string
}

// recordingWriter keeps everything written to it. failAt > 0 makes the
// failAt-th record write fail.
type recordingWriter struct {
	events  []written
	records int
	failAt  int
	closed  bool
}

var errWriterFull = errors.New("writer full")

func (w *recordingWriter) WriteSchema(_ context.Context, name string, _ stream.Schema, keys []string) error {
	w.events = append(w.events, written{kind: "SCHEMA", stream: name, keys: keys})
	return nil
}

func (w *recordingWriter) WriteRecord(_ context.Context, name string, rec stream.Record, _ time.Time) error {
	w.records++
	if w.failAt > 0 && w.records == w.failAt {
		return errWriterFull
	}
	w.events = append(w.events, written{kind: "RECORD", stream: name, record: rec})
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func (w *recordingWriter) recordsOf(name string) []stream.Record {
	var out []stream.Record
	for _, e := range w.events {
		if e.kind == "RECORD" && e.stream == name {
			out = append(out, e.record)
		}
	}
	return out
}
