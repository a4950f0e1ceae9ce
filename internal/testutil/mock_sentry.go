// Package testutil provides testing utilities for the Sentry tap.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockSentryResponse defines the behavior for a mock Sentry endpoint response.
type MockSentryResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockSentry is a configurable mock Sentry API server for testing.
type MockSentry struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
	requests          []*url.URL
}

// NewMockSentry creates a new mock Sentry server.
func NewMockSentry() *MockSentry {
	mock := &MockSentry{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		u := *r.URL
		mock.requests = append(mock.requests, &u)
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockSentry) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockSentry) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockSentry) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastRequestHeader = nil
	m.requests = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockSentry) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockSentry) SetResponse(path string, resp MockSentryResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetPages serves bodies as consecutive pages of path. Every page carries a
// Sentry style Link header; the next link of the last page reports
// results="false". Query parameters of the request are kept in the links.
func (m *MockSentry) SetPages(path string, bodies ...string) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		page := 0
		if cursor := r.URL.Query().Get("cursor"); cursor != "" {
			n, err := cursorPage(cursor)
			if err != nil || n >= len(bodies) {
				writeDetail(w, http.StatusBadRequest, "Invalid cursor parameter.")
				return
			}
			page = n
		}

		setRateLimitHeaders(w, 40)
		w.Header().Set("Link", m.linkHeader(r, page, len(bodies)))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(bodies[page]))
	})
}

// Cursor returns the cursor value SetPages uses for page n.
func Cursor(n int) string {
	return fmt.Sprintf("0:%d:0", n*100)
}

func cursorPage(cursor string) (int, error) {
	parts := strings.Split(cursor, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed cursor %q", cursor)
	}
	offset, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	return offset / 100, nil
}

func (m *MockSentry) linkHeader(r *http.Request, page, total int) string {
	link := func(n int) string {
		q := r.URL.Query()
		q.Set("cursor", Cursor(n))
		return m.server.URL + r.URL.Path + "?" + q.Encode()
	}

	prev := page - 1
	if prev < 0 {
		prev = 0
	}
	next := page + 1
	hasNext := next < total
	if !hasNext {
		next = page
	}

	return fmt.Sprintf(`<%s>; rel="previous"; results="%t"; cursor="%s", <%s>; rel="next"; results="%t"; cursor="%s"`,
		link(prev), page > 0, Cursor(prev),
		link(next), hasNext, Cursor(next))
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockSentry) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetRequests returns copies of the request URLs in arrival order.
func (m *MockSentry) GetRequests() []*url.URL {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*url.URL, len(m.requests))
	for i, u := range m.requests {
		c := *u
		out[i] = &c
	}
	return out
}

// GetLastRequestHeader returns the headers of the most recent request.
func (m *MockSentry) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader.Clone()
}

// defaultHandler answers unknown paths the way Sentry does.
func (m *MockSentry) defaultHandler(w http.ResponseWriter, r *http.Request) {
	setRateLimitHeaders(w, 40)
	writeDetail(w, http.StatusNotFound, "The requested resource does not exist")
}

func setRateLimitHeaders(w http.ResponseWriter, remaining int) {
	w.Header().Set("X-Sentry-Rate-Limit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-Sentry-Rate-Limit-Limit", "40")
	w.Header().Set("X-Sentry-Rate-Limit-Reset", strconv.FormatInt(time.Now().Add(time.Minute).Unix(), 10))
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"detail": %q}`, detail)
}

// NewHealthyResponse creates a standard 200 OK response with Sentry headers.
func NewHealthyResponse(data string) MockSentryResponse {
	return MockSentryResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"X-Sentry-Rate-Limit-Remaining": "40",
			"X-Sentry-Rate-Limit-Limit":     "40",
			"X-Sentry-Rate-Limit-Reset":     strconv.FormatInt(time.Now().Add(time.Minute).Unix(), 10),
			"Content-Type":                  "application/json",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockSentryResponse {
	return MockSentryResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"detail": "You are attempting to use this endpoint too frequently. Limit is 40 requests in 1 seconds"}`,
		Headers: map[string]string{
			"X-Sentry-Rate-Limit-Remaining": "0",
			"X-Sentry-Rate-Limit-Limit":     "40",
			"X-Sentry-Rate-Limit-Reset":     strconv.FormatInt(time.Now().Add(time.Second).Unix(), 10),
			"Content-Type":                  "application/json",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockSentryResponse {
	return MockSentryResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"detail": "Internal Error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewUnauthorizedResponse creates a 401 response for a bad token.
func NewUnauthorizedResponse() MockSentryResponse {
	return MockSentryResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       `{"detail": "Invalid token"}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}
