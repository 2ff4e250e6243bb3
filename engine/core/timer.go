package core

import (
	"math"
	"time"
)

// Clock returns the current time.
type Clock func() time.Time

// Stopwatch measures elapsed wall time in milliseconds with microsecond precision.
type Stopwatch struct {
	start time.Time
	clock Clock
}

func StartStopwatch(clock Clock) *Stopwatch {
	if clock == nil {
		clock = time.Now
	}
	return &Stopwatch{start: clock(), clock: clock}
}

func (s *Stopwatch) Start() time.Time {
	return s.start
}

// ElapsedMS returns milliseconds since the stopwatch started.
func (s *Stopwatch) ElapsedMS() float64 {
	return DurationMS(s.clock().Sub(s.start))
}

func DurationMS(d time.Duration) float64 {
	return math.Round(float64(d.Microseconds())) / 1000
}
