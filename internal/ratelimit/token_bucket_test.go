package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newBucket(t *testing.T, capacity int, refill float64) (*TokenBucket, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewTokenBucket(client, capacity, refill, time.Minute), mr
}

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	bucket, _ := newBucket(t, 2, 1)
	clock := time.Unix(1_700_000_000, 0)
	bucket.now = func() time.Time { return clock }

	d, err := bucket.Allow(ctx, "key-a")
	if err != nil || !d.Allowed {
		t.Fatalf("expected first token allowed got %+v err=%v", d, err)
	}
	d, _ = bucket.Allow(ctx, "key-a")
	if !d.Allowed {
		t.Fatalf("expected second token allowed")
	}
	d, _ = bucket.Allow(ctx, "key-a")
	if d.Allowed {
		t.Fatalf("expected third token to be rejected")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Second {
		t.Fatalf("retry after = %s, want (0, 1s]", d.RetryAfter)
	}

	// Keys are independent.
	if d, _ := bucket.Allow(ctx, "key-b"); !d.Allowed {
		t.Fatalf("expected other key to be allowed")
	}

	clock = clock.Add(1500 * time.Millisecond)
	d, _ = bucket.Allow(ctx, "key-a")
	if !d.Allowed {
		t.Fatalf("expected refill after 1.5s")
	}
	if d.Remaining < 0.4 || d.Remaining > 0.6 {
		t.Fatalf("remaining = %v, want ~0.5", d.Remaining)
	}
}

func TestTokenBucketExpiresIdleKeys(t *testing.T) {
	bucket, mr := newBucket(t, 1, 1)
	if _, err := bucket.Allow(context.Background(), "idle"); err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !mr.Exists("ratelimit:idle") {
		t.Fatalf("bucket state not stored")
	}
	mr.FastForward(2 * time.Minute)
	if mr.Exists("ratelimit:idle") {
		t.Fatalf("idle bucket should expire")
	}
}
