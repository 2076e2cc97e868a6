// Package retry provides the monotonic clock and backoff schedule used
// to decide when a failed dial should be retried (C2).
package retry

import "time"

// Clock is the monotonic time source injected into components that need
// to be testable against fake time, grounded on apicall's plain
// time.Now() usage but made swappable so tests don't sleep for real.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Real is the production Clock.
var Real Clock = realClock{}

// Policy decides whether a contact should be retried after a failed
// call, and how long to wait before the next attempt.
type Policy struct {
	MaxRetries       int
	RetryDelayMillis int
}

// ShouldRetry reports whether attemptNumber (1-indexed, the attempt that
// just finished) may be followed by another.
func (p Policy) ShouldRetry(attemptNumber int) bool {
	return attemptNumber <= p.MaxRetries
}

func (p Policy) Delay() time.Duration {
	return time.Duration(p.RetryDelayMillis) * time.Millisecond
}

// NextEligibleAt returns the earliest time a contact last attempted at
// lastAttempt may be redialed.
func (p Policy) NextEligibleAt(lastAttempt time.Time) time.Time {
	return lastAttempt.Add(p.Delay())
}
