package retry

import (
	"context"
	"testing"
	"time"
)

func TestJitterBounds(t *testing.T) {
	base := time.Second
	for i := 0; i < 100; i++ {
		got := Jitter(base)
		if got < 800*time.Millisecond || got > 1200*time.Millisecond {
			t.Fatalf("Jitter(%v) = %v", base, got)
		}
	}
	if Jitter(0) != 0 {
		t.Fatalf("Jitter(0) should be 0")
	}
}

func TestSleepCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestNextCapped(t *testing.T) {
	if got := Next(6*time.Second, 10*time.Second); got != 10*time.Second {
		t.Fatalf("Next = %v", got)
	}
	if got := Next(time.Second, 0); got != 2*time.Second {
		t.Fatalf("Next = %v", got)
	}
}
