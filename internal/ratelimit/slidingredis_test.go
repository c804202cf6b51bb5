package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLimiterSlidingWindow(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()
	limiter := Limiter{Client: client, Prefix: "test:"}

	ctx := context.Background()
	window := 2 * time.Second
	max := 3

	for i := 0; i < max; i++ {
		allowed, remaining, _, err := limiter.Allow(ctx, "quote:10.0.0.1", window, max)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d should be within the limit", i)
		}
		if remaining != max-(i+1) {
			t.Fatalf("remaining = %d after request %d", remaining, i)
		}
	}

	allowed, remaining, _, err := limiter.Allow(ctx, "quote:10.0.0.1", window, max)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if allowed {
		t.Fatal("request over the limit should be rejected")
	}
	if remaining != 0 {
		t.Fatalf("remaining = %d, want 0", remaining)
	}

	mr.FastForward(window)

	allowed, _, _, err = limiter.Allow(ctx, "quote:10.0.0.1", window, max)
	if err != nil {
		t.Fatalf("allow after window: %v", err)
	}
	if !allowed {
		t.Fatal("window expiry should reopen the bucket")
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()
	limiter := Limiter{Client: client, Prefix: "test:"}
	ctx := context.Background()

	if allowed, _, _, _ := limiter.Allow(ctx, "a", time.Second, 1); !allowed {
		t.Fatal("first hit on key a should pass")
	}
	if allowed, _, _, _ := limiter.Allow(ctx, "a", time.Second, 1); allowed {
		t.Fatal("second hit on key a should be rejected")
	}
	if allowed, _, _, _ := limiter.Allow(ctx, "b", time.Second, 1); !allowed {
		t.Fatal("key b has its own bucket")
	}
}

func TestLimiterDisabledWithoutClient(t *testing.T) {
	allowed, _, _, err := Limiter{}.Allow(context.Background(), "x", time.Second, 5)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !allowed {
		t.Fatal("nil client must fail open")
	}
}
