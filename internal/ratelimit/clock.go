package ratelimit

import "time"

// Clock abstracts time so bucket refill is testable without sleeping.
type Clock interface {
	Now() time.Time
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
