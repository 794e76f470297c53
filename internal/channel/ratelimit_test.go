package channel

import (
	"context"
	"testing"
	"time"
)

func TestSendLimiter_Burst(t *testing.T) {
	l := newSendLimiter(3, 1)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("burst send %d: %v", i, err)
		}
	}
}

func TestSendLimiter_PacesAfterBurst(t *testing.T) {
	l := newSendLimiter(1, 600) // 10/sec refill
	ctx := context.Background()
	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("expected to wait for a refill, waited %v", elapsed)
	}
}

func TestSendLimiter_Cancelled(t *testing.T) {
	l := newSendLimiter(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	l.Wait(ctx)
	cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected context error")
	}
}

func TestSendLimiter_Defaults(t *testing.T) {
	l := newSendLimiter(0, 0)
	if l.max != 5 {
		t.Errorf("max = %v, want 5", l.max)
	}
	if l.rate <= 0 {
		t.Error("rate should be positive")
	}
}
