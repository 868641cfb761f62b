package exam

import (
	"testing"
	"time"
)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestSessionClockRemaining(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		now       time.Time
		duration  int
		remaining int64
		taken     int64
		expired   bool
	}{
		{name: "just started", now: start, duration: 30, remaining: 1800, taken: 0},
		{name: "midway", now: start.Add(10*time.Minute + 500*time.Millisecond), duration: 30, remaining: 1200, taken: 600},
		{name: "exact limit", now: start.Add(30 * time.Minute), duration: 30, remaining: 0, taken: 1800, expired: true},
		{name: "past limit", now: start.Add(2 * time.Hour), duration: 30, remaining: 0, taken: 1800, expired: true},
		{name: "clock behind start", now: start.Add(-time.Minute), duration: 1, remaining: 60, taken: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := NewSessionClock(fixedClock(tc.now))
			if got := c.Remaining(start, tc.duration); got != tc.remaining {
				t.Fatalf("remaining mismatch got=%d want=%d", got, tc.remaining)
			}
			if got := c.TimeTaken(start, tc.duration); got != tc.taken {
				t.Fatalf("time taken mismatch got=%d want=%d", got, tc.taken)
			}
			if got := c.HasExpired(start, tc.duration); got != tc.expired {
				t.Fatalf("expired mismatch got=%v want=%v", got, tc.expired)
			}
		})
	}
}
