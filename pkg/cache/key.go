package cache

import (
	"net/url"
	"strings"
)

// CacheKey identifies one cached page.
type CacheKey struct {
	// Scope separates caches of different organizations or credentials.
	Scope string

	// Endpoint is the API path (e.g., "/api/0/organizations/acme/events/")
	Endpoint string

	// QueryParams are the request query parameters
	QueryParams url.Values
}

// String generates a deterministic cache key string.
// Format: sentry:page:scope:endpoint?query
//
// The query is url.Values.Encode output: keys sorted, values escaped and
// repeated values in request order.
//
// Example:
//
//	sentry:page:acme:api/0/organizations/acme/events?cursor=0%3A100%3A0&field=id&field=timestamp
func (k CacheKey) String() string {
	parts := []string{"sentry", "page"}

	if k.Scope != "" {
		parts = append(parts, k.Scope)
	}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	key := strings.Join(parts, ":")
	if query := k.QueryParams.Encode(); query != "" {
		key += "?" + query
	}
	return key
}
