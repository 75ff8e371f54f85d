package liveness

import "time"

// Clock abstracts wall-clock reads so staleness checks are testable
// without sleeping real time.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
