package realtime

import (
	"testing"
	"time"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3, 10*time.Second)

	for i := 0; i < 3; i++ {
		if !rl.Allow(base.Add(time.Duration(i) * time.Second)) {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	if rl.Allow(base.Add(3 * time.Second)) {
		t.Fatalf("fourth event inside the window should be denied")
	}

	// The first event falls out of the window; a slot opens up.
	if !rl.Allow(base.Add(11 * time.Second)) {
		t.Fatalf("event after window slide should be allowed")
	}
}

func TestRateLimiterDefaultsOnBadInputs(t *testing.T) {
	rl := NewRateLimiter(0, 0)

	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < rateLimitEvents; i++ {
		if !rl.Allow(now) {
			t.Fatalf("event %d should be allowed under defaults", i)
		}
	}
	if rl.Allow(now) {
		t.Fatalf("expected default limit to kick in")
	}
}
