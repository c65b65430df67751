package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestEventCacheRemembersUntilTTL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	cache := NewEventCache(client, time.Hour)
	ctx := context.Background()

	seen, err := cache.Seen(ctx, "evt_1")
	if err != nil {
		t.Fatalf("seen before remember: %v", err)
	}
	if seen {
		t.Fatalf("unknown event must not be seen")
	}

	if err := cache.Remember(ctx, "evt_1"); err != nil {
		t.Fatalf("remember: %v", err)
	}
	seen, err = cache.Seen(ctx, "evt_1")
	if err != nil || !seen {
		t.Fatalf("expected event to be seen, seen=%v err=%v", seen, err)
	}

	mr.FastForward(61 * time.Minute)

	seen, err = cache.Seen(ctx, "evt_1")
	if err != nil {
		t.Fatalf("seen after ttl: %v", err)
	}
	if seen {
		t.Fatalf("event must be forgotten after ttl")
	}
}

func TestRateRepoStartsWindowOnFirstHit(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	repo := NewRateRepo(client)
	ctx := context.Background()

	count, ttl, err := repo.IncrementWindow(ctx, "rate:test", 10*time.Second)
	if err != nil {
		t.Fatalf("first increment: %v", err)
	}
	if count != 1 || ttl <= 0 || ttl > 10*time.Second {
		t.Fatalf("unexpected first window state: count=%d ttl=%s", count, ttl)
	}

	count, _, err = repo.IncrementWindow(ctx, "rate:test", 10*time.Second)
	if err != nil {
		t.Fatalf("second increment: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
}
