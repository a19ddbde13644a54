package platform

import (
	"errors"
	"math"
	"time"
)

// ErrTimeout is returned by Cond.WaitContext when the deadline passes.
var ErrTimeout = errors.New("platform: wait deadline exceeded")

// maxSeconds is the largest timeout that fits a time.Duration.
const maxSeconds = float64(math.MaxInt64) / float64(time.Second)

// Seconds converts a timeout in seconds to a duration, saturating at the
// largest representable value. NaN and negative values yield 0.
func Seconds(s float64) time.Duration {
	switch {
	case s != s || s <= 0:
		return 0
	case s >= maxSeconds:
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(s * float64(time.Second))
}

// Deadline returns the absolute deadline for a timeout starting now.
// A non-positive timeout yields the zero time.
func Deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}
