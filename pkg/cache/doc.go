// Package cache provides a Redis-backed page cache for Sentry list requests.
//
// A tap run that fails part way is usually re-run straight away. The default
// events window is aligned to the hour, so a re-run inside the same hour
// sends the same first-page request and walks the same cursors. With the
// page cache enabled those pages are replayed from Redis instead of spending
// the rate limit budget again.
//
// Only successful GET responses are stored. The Link header is kept with the
// body so pagination works unchanged on replayed pages.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient, logger)
//
//	key := cache.CacheKey{
//		Endpoint:    "/api/0/organizations/acme/events/",
//		QueryParams: url.Values{"cursor": []string{"0:100:0"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if err == cache.ErrCacheMiss {
//		// fetch from Sentry, then:
//		entry, _ = cache.ResponseToEntry(resp, 10*time.Minute)
//		_ = manager.Set(ctx, key, entry)
//	}
//
// # Metrics
//
//   - sentry_page_cache_hits_total - Cache hits
//   - sentry_page_cache_misses_total - Cache misses
//   - sentry_page_cache_errors_total{operation} - Cache operation errors
package cache
