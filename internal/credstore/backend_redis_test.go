package credstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)

	b, err := NewRedisBackend(rdb, "kiosk:")
	if err != nil {
		t.Fatalf("NewRedisBackend() error: %v", err)
	}
	store, _ := New(b)
	if err := store.Save(ctx, "t1", Profile{ID: 1, Username: "root", Role: "admin"}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	if got, err := mr.Get("kiosk:token"); err != nil || got != "t1" {
		t.Fatalf("expected namespaced token key, got %q %v", got, err)
	}

	rec, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !rec.Complete() || rec.Profile.Role != "admin" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if mr.Exists("kiosk:token") || mr.Exists("kiosk:user") {
		t.Fatalf("expected both keys removed")
	}
	if _, ok, err := b.Get(ctx, KeyToken); ok || err != nil {
		t.Fatalf("expected missing key to report not found, got ok=%v err=%v", ok, err)
	}
}

func TestRedisBackendUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	b, _ := NewRedisBackend(rdb, "dashctl")
	mr.Close()

	if _, _, err := b.Get(context.Background(), KeyToken); err == nil {
		t.Fatalf("expected error when redis is down")
	}
	if err := b.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping error when redis is down")
	}
}

func TestNewRedisBackendValidation(t *testing.T) {
	if _, err := NewRedisBackend(nil, "dashctl"); err == nil {
		t.Fatalf("expected error for nil client")
	}
	_, rdb := newTestRedis(t)
	if _, err := NewRedisBackend(rdb, " "); err == nil {
		t.Fatalf("expected error for empty namespace")
	}
}
