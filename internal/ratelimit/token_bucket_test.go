package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestShopLimiterCapacity(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewShopLimiter(client, 2, 1, time.Minute)

	allowed, _, err := limiter.Allow(ctx, "shop-1")
	if err != nil || !allowed {
		t.Fatalf("expected first event allowed got allowed=%v err=%v", allowed, err)
	}
	allowed, _, _ = limiter.Allow(ctx, "shop-1")
	if !allowed {
		t.Fatalf("expected second event allowed")
	}
	allowed, _, _ = limiter.Allow(ctx, "shop-1")
	if allowed {
		t.Fatalf("expected third event to be rejected")
	}
}

func TestShopLimiterNamespacesKeysByShop(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewShopLimiter(client, 5, 1, time.Minute)

	if _, _, err := limiter.Allow(ctx, "shop-1"); err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !mr.Exists("ratelimit:shop:shop-1") {
		t.Fatalf("expected bucket state under the shop-scoped key, keys=%v", mr.Keys())
	}
}

func TestShopLimiterIsolatesShops(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewShopLimiter(client, 1, 1, time.Minute)

	if allowed, _, _ := limiter.Allow(ctx, "shop-a"); !allowed {
		t.Fatalf("expected shop-a first event allowed")
	}
	if allowed, _, _ := limiter.Allow(ctx, "shop-a"); allowed {
		t.Fatalf("expected shop-a second event rejected")
	}
	// Exhausting shop-a must not affect shop-b.
	if allowed, _, _ := limiter.Allow(ctx, "shop-b"); !allowed {
		t.Fatalf("expected shop-b first event allowed")
	}
}
