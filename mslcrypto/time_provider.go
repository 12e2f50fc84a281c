package mslcrypto

import "time"

// TimeProvider abstracts wall-clock access for deterministic freshness
// tests. Implementations must be safe for concurrent use.
type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider uses the standard library clock.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// FixedTimeProvider always returns the same instant. Tests use it to pin
// renewal windows and expirations.
type FixedTimeProvider struct {
	Time time.Time
}

// Now returns the fixed instant.
func (f FixedTimeProvider) Now() time.Time { return f.Time }
