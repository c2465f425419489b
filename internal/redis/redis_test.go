package redis

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"kharomchat/internal/config"
	"kharomchat/internal/storage"
)

var _ storage.KeyValue = (*Client)(nil)

func TestClientKeyValueRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	if _, err := client.Get(ctx, "KHAROM_SESSION_missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected storage.ErrNotFound, got %v", err)
	}
	if err := client.Set(ctx, "KHAROM_SESSION_1", `{"id":"1"}`); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := client.Get(ctx, "KHAROM_SESSION_1")
	if err != nil || got != `{"id":"1"}` {
		t.Fatalf("get mismatch: %q %v", got, err)
	}
	ttl, err := client.TTL(ctx, "KHAROM_SESSION_1")
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl >= 0 {
		t.Fatalf("session records must not expire, ttl=%v", ttl)
	}
	if err := client.Remove(ctx, "KHAROM_SESSION_1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := client.Remove(ctx, "KHAROM_SESSION_1"); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}

func TestNilClientReportsNotInitialized(t *testing.T) {
	var c *Client
	if _, err := c.Get(context.Background(), "k"); err == nil {
		t.Fatalf("expected error from nil client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close nil client: %v", err)
	}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	db := 0
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			db = parsed
		}
	}
	cfg := &config.Config{
		Redis: config.RedisConfig{
			Host: host,
			Port: port,
			DB:   db,
		},
	}
	client, err := NewRedisClient(cfg)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.inner.FlushDB(flushCtx).Err(); err != nil {
		t.Fatalf("flush db: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}
