package tap

import (
	"context"
	"errors"
	"testing"

	"github.com/Sternrassler/tap-sentry/internal/testutil"
	"github.com/Sternrassler/tap-sentry/pkg/client"
	"github.com/Sternrassler/tap-sentry/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var acme = stream.Settings{OrganizationID: "acme"}

func newTestTap(t *testing.T, f Fetcher, w *recordingWriter, maxPages int) *Tap {
	t.Helper()
	tp, err := New(Config{Fetcher: f, Writer: w, Settings: acme, MaxPages: maxPages, RunID: "test-run"})
	require.NoError(t, err)
	return tp
}

func issues() stream.Stream {
	return stream.NewIssues(acme)
}

func TestSync_TwoPagesEndToEnd(t *testing.T) {
	mock := testutil.NewMockSentry()
	defer mock.Close()

	path := "/api/0/organizations/acme/events/"
	mock.SetPages(path,
		`{"data": [
			{"id": "1", "timestamp": "2024-01-01T00:00:00Z", "title": "first"},
			{"id": "2", "timestamp": "2024-01-01T00:01:00Z", "title": "second"}
		]}`,
		`{"data": [{"id": "3", "timestamp": "2024-01-01T00:02:00Z"}]}`,
	)

	c, err := client.New(client.Config{BaseURL: mock.URL(), AuthToken: "token"})
	require.NoError(t, err)

	w := &recordingWriter{}
	tp := newTestTap(t, c, w, 0)

	stats, err := tp.Sync(context.Background(), stream.NewEvents(acme))
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Pages)
	assert.Equal(t, 3, stats.Records)
	assert.False(t, stats.Truncated)

	records := w.recordsOf("events")
	require.Len(t, records, 3)
	for i, id := range []string{"1", "2", "3"} {
		assert.Equal(t, id, records[i]["id"])
		raw, ok := records[i]["raw"].(stream.Record)
		require.True(t, ok, "raw should hold the upstream record")
		assert.Equal(t, id, raw["id"])
		assert.Len(t, records[i], 3)
	}
	assert.Equal(t, "first", records[0]["raw"].(stream.Record)["title"])

	// No third request once results="false"
	requests := mock.GetRequests()
	require.Len(t, requests, 2)

	first := requests[0].Query()
	assert.Equal(t, []string{"id", "timestamp"}, first["field"])
	assert.Equal(t, "-timestamp", first.Get("sort"))
	assert.NotEmpty(t, first.Get("start"))
	assert.Empty(t, first.Get("cursor"))

	// The continuation request replays the next link's parameters
	second := requests[1].Query()
	assert.Equal(t, testutil.Cursor(1), second.Get("cursor"))
	assert.Equal(t, first["field"], second["field"])
	assert.Equal(t, first.Get("start"), second.Get("start"))
	assert.Equal(t, first.Get("end"), second.Get("end"))
}

func TestSync_ProjectsToSchema(t *testing.T) {
	f := &fakeFetcher{pages: []fakePage{{
		body: `[{"id": "10", "title": "boom", "notInSchema": true}]`,
		link: sentryLink("0:100:0", "false"),
	}}}
	w := &recordingWriter{}

	_, err := newTestTap(t, f, w, 0).Sync(context.Background(), issues())
	require.NoError(t, err)

	records := w.recordsOf("issues")
	require.Len(t, records, 1)
	assert.Equal(t, "boom", records[0]["title"])
	assert.NotContains(t, records[0], "notInSchema")
	assert.Contains(t, records[0], "permalink")
	assert.Nil(t, records[0]["permalink"])
	assert.Equal(t, "/api/0/organizations/acme/issues/", f.paths[0])
}

func TestSync_FollowsResultsTrue(t *testing.T) {
	f := &fakeFetcher{pages: []fakePage{
		{body: `[{"id": "1"}]`, link: sentryLink("0:100:0", "true")},
		{body: `[{"id": "2"}]`, link: sentryLink("0:200:0", "true")},
		{body: `[{"id": "3"}]`, link: sentryLink("0:300:0", "false")},
	}}
	w := &recordingWriter{}

	stats, err := newTestTap(t, f, w, 0).Sync(context.Background(), issues())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Pages)
	require.Len(t, f.queries, 3)
	assert.Empty(t, f.queries[0].Get("cursor"))
	assert.Equal(t, "0:100:0", f.queries[1].Get("cursor"))
	assert.Equal(t, "0:200:0", f.queries[2].Get("cursor"))
}

func TestSync_StopsOnMissingOrMalformedLink(t *testing.T) {
	tests := []struct {
		name string
		link string
	}{
		{"no link header", ""},
		{"no results attribute", `<https://sentry.io/api/0/x/?cursor=1>; rel="next"`},
		{"results not literally true", `<https://sentry.io/api/0/x/?cursor=1>; rel="next"; results="TRUE"`},
		{"only previous", `<https://sentry.io/api/0/x/?cursor=1>; rel="previous"; results="true"`},
		{"unparsable url", `<:not a url>; rel="next"; results="true"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFetcher{pages: []fakePage{{body: `[{"id": "1"}]`, link: tt.link}}}
			w := &recordingWriter{}

			stats, err := newTestTap(t, f, w, 0).Sync(context.Background(), issues())
			require.NoError(t, err)
			assert.Equal(t, 1, stats.Pages)
			assert.Len(t, f.queries, 1)
		})
	}
}

func TestSync_TransportErrorKeepsEmittedRecords(t *testing.T) {
	apiErr := &client.APIError{StatusCode: 502, ErrorClass: client.ErrorClassServer, Message: "bad gateway"}
	f := &fakeFetcher{pages: []fakePage{
		{body: `[{"id": "1"}, {"id": "2"}]`, link: sentryLink("0:100:0", "true")},
		{err: apiErr},
	}}
	w := &recordingWriter{}

	stats, err := newTestTap(t, f, w, 0).Sync(context.Background(), issues())
	require.Error(t, err)

	var got *client.APIError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, 502, got.StatusCode)
	assert.Contains(t, err.Error(), "stream issues page 2")

	// No retry here, and no rollback of page 1
	assert.Len(t, f.queries, 2)
	assert.Len(t, w.recordsOf("issues"), 2)
	assert.Equal(t, 1, stats.Pages)
	assert.Equal(t, 2, stats.Records)
}

func TestSync_NonOKResponse(t *testing.T) {
	f := &fakeFetcher{pages: []fakePage{{status: 403, body: `{"detail": "forbidden"}`}}}
	w := &recordingWriter{}

	_, err := newTestTap(t, f, w, 0).Sync(context.Background(), issues())
	require.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Empty(t, w.events)
}

func TestSync_MalformedBody(t *testing.T) {
	f := &fakeFetcher{pages: []fakePage{{body: `[{"id": "1"`}}}
	w := &recordingWriter{}

	_, err := newTestTap(t, f, w, 0).Sync(context.Background(), issues())
	require.ErrorIs(t, err, stream.ErrMalformedBody)
	assert.Empty(t, w.events)
}

func TestSync_EmptyMatchIsNotAnError(t *testing.T) {
	f := &fakeFetcher{pages: []fakePage{{body: `{"unrelated": []}`, link: sentryLink("0:100:0", "false")}}}
	w := &recordingWriter{}

	stats, err := newTestTap(t, f, w, 0).Sync(context.Background(), stream.NewEvents(acme))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pages)
	assert.Equal(t, 0, stats.Records)
	assert.Empty(t, w.events)
}

// dropOdd drops issues whose id is odd.
type dropOdd struct {
	*stream.Issues
}

func (d dropOdd) PostProcess(raw stream.Record) (stream.Record, bool) {
	id, _ := raw["id"].(string)
	if id == "1" || id == "3" {
		return nil, false
	}
	return raw, true
}

func TestSync_DroppedRecordsAreOmitted(t *testing.T) {
	f := &fakeFetcher{pages: []fakePage{{body: `[{"id": "1"}, {"id": "2"}, {"id": "3"}, {"id": "4"}]`}}}
	w := &recordingWriter{}

	stats, err := newTestTap(t, f, w, 0).Sync(context.Background(), dropOdd{stream.NewIssues(acme)})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Records)
	assert.Equal(t, 2, stats.Dropped)
	records := w.recordsOf("issues")
	require.Len(t, records, 2)
	assert.Equal(t, "2", records[0]["id"])
	assert.Equal(t, "4", records[1]["id"])
}

func TestSync_PaginationLoop(t *testing.T) {
	same := sentryLink("0:100:0", "true")
	f := &fakeFetcher{pages: []fakePage{
		{body: `[{"id": "1"}]`, link: same},
		{body: `[{"id": "1"}]`, link: same},
	}}
	w := &recordingWriter{}

	_, err := newTestTap(t, f, w, 0).Sync(context.Background(), issues())
	require.ErrorIs(t, err, ErrPaginationLoop)
	assert.Len(t, f.queries, 2)
}

func TestSync_MaxPages(t *testing.T) {
	f := &fakeFetcher{pages: []fakePage{
		{body: `[{"id": "1"}]`, link: sentryLink("0:100:0", "true")},
		{body: `[{"id": "2"}]`, link: sentryLink("0:200:0", "true")},
		{body: `[{"id": "3"}]`, link: sentryLink("0:300:0", "true")},
	}}
	w := &recordingWriter{}

	stats, err := newTestTap(t, f, w, 2).Sync(context.Background(), issues())
	require.NoError(t, err)

	assert.True(t, stats.Truncated)
	assert.Equal(t, 2, stats.Pages)
	assert.Len(t, f.queries, 2)
}

func TestSync_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &fakeFetcher{}
	_, err := newTestTap(t, f, &recordingWriter{}, 0).Sync(ctx, issues())

	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, IsCancelled(err))
	assert.Empty(t, f.queries)
}

func TestSync_WriterErrorStopsStream(t *testing.T) {
	f := &fakeFetcher{pages: []fakePage{
		{body: `[{"id": "1"}, {"id": "2"}, {"id": "3"}]`, link: sentryLink("0:100:0", "true")},
	}}
	w := &recordingWriter{failAt: 2}

	stats, err := newTestTap(t, f, w, 0).Sync(context.Background(), issues())
	require.True(t, errors.Is(err, errWriterFull))
	assert.Equal(t, 1, stats.Records)
	assert.Len(t, f.queries, 1)
}
