// Package clock abstracts the timer operations used by the persistence and
// thumbnail schedulers so tests can drive them deterministically.
package clock

import "time"

// Clock reports the current time and schedules callbacks.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f once d has elapsed. A non-positive d calls f
	// immediately: on a new goroutine for the real clock, synchronously
	// for the fake clock.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer cancels a callback scheduled with AfterFunc.
type Timer interface {
	// Stop reports whether the call prevented the callback from running.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
