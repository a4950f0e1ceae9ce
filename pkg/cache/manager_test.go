package cache

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// setupTestRedis connects to a local Redis and skips the test when none is
// running. The integration suite in pkg/tap runs against a container.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewManager(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	manager := NewManager(client, zerolog.Nop())
	if manager == nil {
		t.Fatal("NewManager returned nil")
	}
	if manager.redis != client {
		t.Error("Manager redis client not set correctly")
	}
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil, zerolog.Nop())
}

func TestManager_SetAndGet(t *testing.T) {
	manager := NewManager(setupTestRedis(t), zerolog.Nop())
	ctx := context.Background()

	key := CacheKey{
		Scope:       "acme",
		Endpoint:    "/api/0/organizations/acme/events/",
		QueryParams: url.Values{"cursor": []string{"0:100:0"}},
	}

	link := `<https://sentry.io/api/0/organizations/acme/events/?cursor=0:200:0>; rel="next"; results="true"`
	entry := &CacheEntry{
		Data:       []byte(`{"data": [{"id": "1"}]}`),
		StatusCode: 200,
		Headers: http.Header{
			"Content-Type": []string{"application/json"},
			"Link":         []string{link},
		},
		Expires:  time.Now().Add(5 * time.Minute),
		CachedAt: time.Now(),
	}

	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	retrieved, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if string(retrieved.Data) != string(entry.Data) {
		t.Errorf("Data mismatch: got %s, want %s", retrieved.Data, entry.Data)
	}
	if retrieved.StatusCode != entry.StatusCode {
		t.Errorf("StatusCode mismatch: got %d, want %d", retrieved.StatusCode, entry.StatusCode)
	}
	if got := retrieved.Headers.Get("Link"); got != link {
		t.Errorf("Link header mismatch: got %q, want %q", got, link)
	}
}

func TestManager_Get_CacheMiss(t *testing.T) {
	manager := NewManager(setupTestRedis(t), zerolog.Nop())

	_, err := manager.Get(context.Background(), CacheKey{Endpoint: "/api/0/nonexistent/"})
	if err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestManager_Get_ExpiredEntry(t *testing.T) {
	manager := NewManager(setupTestRedis(t), zerolog.Nop())
	ctx := context.Background()
	key := CacheKey{Endpoint: "/api/0/test/"}

	entry := &CacheEntry{
		Data:    []byte(`[]`),
		Expires: time.Now().Add(-1 * time.Hour),
	}

	// Set should not cache expired entries
	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	_, err := manager.Get(ctx, key)
	if err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss for expired entry, got %v", err)
	}
}

func TestManager_Get_RemovesOutlivedPage(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client, zerolog.Nop())
	ctx := context.Background()
	key := CacheKey{Scope: "acme", Endpoint: "/api/0/organizations/acme/issues/"}

	// Stored with a Redis TTL longer than the page's own expiry.
	data, err := json.Marshal(&CacheEntry{Data: []byte(`[]`), Expires: time.Now().Add(-time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Set(ctx, key.String(), data, time.Hour).Err(); err != nil {
		t.Fatalf("raw set failed: %v", err)
	}

	if _, err := manager.Get(ctx, key); err != ErrCacheMiss {
		t.Fatalf("Expected ErrCacheMiss, got %v", err)
	}
	if n := client.Exists(ctx, key.String()).Val(); n != 0 {
		t.Errorf("outlived page still stored (exists = %d)", n)
	}
}

func TestManager_Get_RedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()
	manager := NewManager(client, zerolog.Nop())

	_, err := manager.Get(context.Background(), CacheKey{Endpoint: "/api/0/test/"})
	if err == nil || err == ErrCacheMiss {
		t.Errorf("Expected redis error, got %v", err)
	}
}

func TestManager_Get_InvalidEntry(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client, zerolog.Nop())
	ctx := context.Background()
	key := CacheKey{Endpoint: "/api/0/test/"}

	if err := client.Set(ctx, key.String(), "not json", time.Minute).Err(); err != nil {
		t.Fatalf("raw set failed: %v", err)
	}

	if _, err := manager.Get(ctx, key); err == nil {
		t.Error("Expected error for corrupted entry")
	}
}

func TestManager_Delete(t *testing.T) {
	manager := NewManager(setupTestRedis(t), zerolog.Nop())
	ctx := context.Background()
	key := CacheKey{Endpoint: "/api/0/test/"}

	entry := &CacheEntry{
		Data:    []byte(`[]`),
		Expires: time.Now().Add(5 * time.Minute),
	}

	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := manager.Get(ctx, key); err != nil {
		t.Fatalf("Get after Set failed: %v", err)
	}
	if err := manager.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	_, err := manager.Get(ctx, key)
	if err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss after Delete, got %v", err)
	}
}

func TestManager_Set_NilEntry(t *testing.T) {
	manager := NewManager(setupTestRedis(t), zerolog.Nop())

	if err := manager.Set(context.Background(), CacheKey{Endpoint: "/api/0/test/"}, nil); err == nil {
		t.Error("Set with nil entry should return error")
	}
}
