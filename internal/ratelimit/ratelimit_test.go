package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestTryAcquireExhaustsCapacity(t *testing.T) {
	l := New("myanimelist", 3, time.Minute)

	for i := 0; i < 3; i++ {
		if !l.TryAcquire() {
			t.Fatalf("expected acquisition %d of 3 to succeed", i+1)
		}
	}
	if l.TryAcquire() {
		t.Fatal("expected acquisition beyond capacity to fail within the window")
	}
}

func TestTokensRefillAfterWindow(t *testing.T) {
	l := New("anilist", 2, 100*time.Millisecond)

	for i := 0; i < 2; i++ {
		if !l.TryAcquire() {
			t.Fatalf("expected acquisition %d of 2 to succeed", i+1)
		}
	}
	if l.TryAcquire() {
		t.Fatal("expected bucket to be drained")
	}

	time.Sleep(120 * time.Millisecond)
	if !l.TryAcquire() {
		t.Fatal("expected at least one token after a full refill window")
	}
}

func TestAcquireBlocksUntilRefill(t *testing.T) {
	l := New("myanimelist", 1, 50*time.Millisecond)

	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	start := time.Now()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("expected second acquisition to wait for refill, returned after %s", elapsed)
	}
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	l := New("myanimelist", 1, time.Minute)

	if !l.TryAcquire() {
		t.Fatal("expected first token to be available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Acquire(ctx); err == nil {
		t.Fatal("expected context cancellation to interrupt Acquire")
	}
}

func TestCapacityOfOneIsAStrictGate(t *testing.T) {
	l := New("local", 1, time.Minute)

	if !l.TryAcquire() {
		t.Fatal("expected the single token to be available")
	}
	if l.TryAcquire() {
		t.Fatal("expected a strict single-request gate per window")
	}
	if l.Capacity() != 1 {
		t.Errorf("expected capacity of 1, got %d", l.Capacity())
	}
}

func TestNewClampsNonsenseArguments(t *testing.T) {
	l := New("local", 0, 0)
	if l.Capacity() != 1 {
		t.Errorf("expected capacity clamp to 1, got %d", l.Capacity())
	}
	if l.Window() != time.Second {
		t.Errorf("expected window clamp to 1s, got %s", l.Window())
	}
}
