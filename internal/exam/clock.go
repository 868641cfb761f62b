package exam

import "time"

type Clock func() time.Time

// SessionClock is the only source of time for attempts. Client timestamps are never read.
type SessionClock struct {
	Now Clock
}

func NewSessionClock(now Clock) SessionClock {
	if now == nil {
		now = time.Now
	}
	return SessionClock{Now: now}
}

func (c SessionClock) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// Remaining returns whole seconds left, floored at zero.
func (c SessionClock) Remaining(startedAt time.Time, durationMinutes int) int64 {
	limit := limitSeconds(durationMinutes)
	elapsed := int64(c.now().Sub(startedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	left := limit - elapsed
	if left < 0 {
		return 0
	}
	return left
}

func (c SessionClock) HasExpired(startedAt time.Time, durationMinutes int) bool {
	return c.Remaining(startedAt, durationMinutes) == 0
}

// TimeTaken returns elapsed seconds clamped to [0, duration].
func (c SessionClock) TimeTaken(startedAt time.Time, durationMinutes int) int64 {
	return limitSeconds(durationMinutes) - c.Remaining(startedAt, durationMinutes)
}

func limitSeconds(durationMinutes int) int64 {
	if durationMinutes < 0 {
		return 0
	}
	return int64(durationMinutes) * 60
}
