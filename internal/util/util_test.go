package util

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestRateLimiterNew(t *testing.T) {
	rl := NewRateLimiter(180, 0.9)
	if rl == nil {
		t.Fatal("NewRateLimiter returned nil")
	}
	// Out-of-range margin falls back to the full rate.
	rl2 := NewRateLimiter(60, 1.5)
	if rl2.rate != 1.0 {
		t.Errorf("rate = %v, want 1.0 token/sec", rl2.rate)
	}
}

func TestRateLimiterFirstTokenImmediate(t *testing.T) {
	rl := NewRateLimiter(6, 1) // one token every 10s, but the bucket starts full
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first Wait should not block: %v", err)
	}
}

func TestRateLimiterSleepsOutTheDeficit(t *testing.T) {
	rl := NewRateLimiter(600, 1) // one token every 100ms
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("draining Wait: %v", err)
	}

	started := time.Now()
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	elapsed := time.Since(started)
	if elapsed < 50*time.Millisecond {
		t.Errorf("second token granted after %v, want a ~100ms refill wait", elapsed)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("second token took %v, want roughly one refill interval", elapsed)
	}
}

func TestRateLimiterRespectsCancellation(t *testing.T) {
	rl := NewRateLimiter(1, 1) // one token per minute
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Drain the initial token, then the second Wait must block until the
	// context expires.
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("draining Wait: %v", err)
	}
	if err := rl.Wait(ctx); err == nil {
		t.Fatal("Wait should fail once the context is cancelled")
	}
}

func TestNopLimiter(t *testing.T) {
	var lim Limiter = NopLimiter{}
	if err := lim.Wait(context.Background()); err != nil {
		t.Errorf("NopLimiter.Wait: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := lim.Wait(ctx); err == nil {
		t.Error("NopLimiter.Wait should surface a cancelled context")
	}
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		if NewLogger(level, "json") == nil {
			t.Errorf("NewLogger(%q) returned nil", level)
		}
	}
}

func TestNewLoggerFormat(t *testing.T) {
	if _, ok := NewLogger("info", "text").Handler().(*slog.TextHandler); !ok {
		t.Error(`NewLogger(_, "text") did not build a text handler`)
	}
	if _, ok := NewLogger("info", "json").Handler().(*slog.JSONHandler); !ok {
		t.Error(`NewLogger(_, "json") did not build a JSON handler`)
	}
	// Unknown formats fall back to JSON.
	if _, ok := NewLogger("info", "").Handler().(*slog.JSONHandler); !ok {
		t.Error("empty format did not fall back to JSON")
	}
}
