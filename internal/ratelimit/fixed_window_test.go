package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestFixedWindowLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter, err := NewFixedWindowLimiter(client, "test:ratelimit", 2, time.Second)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	if !limiter.Allow("tenant-a") {
		t.Fatalf("first request should pass")
	}
	if !limiter.Allow("tenant-a") {
		t.Fatalf("second request should pass")
	}
	if limiter.Allow("tenant-a") {
		t.Fatalf("third request should be blocked")
	}
	if !limiter.Allow("tenant-b") {
		t.Fatalf("other key should have its own window")
	}
}

func TestFixedWindowLimiterFailsClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter, err := NewFixedWindowLimiter(client, "test:ratelimit", 1, time.Second)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	mr.Close()
	if limiter.Allow("tenant-a") {
		t.Fatalf("limiter should fail closed on redis errors")
	}
}

func TestFixedWindowLimiterValidation(t *testing.T) {
	if _, err := NewFixedWindowLimiter(nil, "p", 1, time.Second); err == nil {
		t.Fatalf("expected nil client to fail")
	}
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	if _, err := NewFixedWindowLimiter(client, "p", 0, time.Second); err == nil {
		t.Fatalf("expected zero limit to fail")
	}
}
