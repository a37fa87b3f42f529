// Package persistence coalesces bursts of document mutations into delayed
// durable writes.
package persistence

import (
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/podium/internal/clock"
)

var (
	errMissingClock    = errors.New("clock is required")
	errMissingCallback = errors.New("fire callback is required")
	errInvalidDelay    = errors.New("debounce delay must be positive")
)

// DebouncerConfig describes a Debouncer.
type DebouncerConfig struct {
	Clock clock.Clock
	// Delay is the quiet period after the last trigger.
	Delay time.Duration
	// MaxDelay bounds how long a continuous burst can postpone the callback,
	// measured from the first trigger of the burst. Zero disables the bound.
	MaxDelay time.Duration
	// Fire runs on a timer goroutine, never inside Trigger.
	Fire func()
}

// Debouncer runs a callback once per burst of triggers. Every trigger
// re-arms the timer and cancels the previous one.
type Debouncer struct {
	clock    clock.Clock
	delay    time.Duration
	maxDelay time.Duration
	fire     func()

	mu         sync.Mutex
	timer      clock.Timer
	generation uint64
	pending    bool
	burstStart time.Time
}

// NewDebouncer constructs a Debouncer.
func NewDebouncer(cfg DebouncerConfig) (*Debouncer, error) {
	if cfg.Clock == nil {
		return nil, errMissingClock
	}
	if cfg.Fire == nil {
		return nil, errMissingCallback
	}
	if cfg.Delay <= 0 {
		return nil, errInvalidDelay
	}
	maxDelay := cfg.MaxDelay
	if maxDelay < 0 {
		maxDelay = 0
	}
	return &Debouncer{
		clock:    cfg.Clock,
		delay:    cfg.Delay,
		maxDelay: maxDelay,
		fire:     cfg.Fire,
	}, nil
}

// Trigger schedules the callback, re-arming any pending timer.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	if !d.pending {
		d.pending = true
		d.burstStart = now
	}
	wait := d.delay
	if d.maxDelay > 0 {
		if untilCeiling := d.burstStart.Add(d.maxDelay).Sub(now); untilCeiling < wait {
			wait = untilCeiling
		}
	}
	if wait <= 0 && d.timer != nil {
		// The armed timer already expires at the ceiling.
		return
	}
	if wait <= 0 {
		wait = time.Nanosecond
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.generation++
	generation := d.generation
	d.timer = d.clock.AfterFunc(wait, func() {
		d.expire(generation)
	})
}

// Flush runs the pending callback on the calling goroutine and reports
// whether one was pending.
func (d *Debouncer) Flush() bool {
	if !d.cancel() {
		return false
	}
	d.fire()
	return true
}

// Stop cancels the pending callback and reports whether one was pending.
func (d *Debouncer) Stop() bool {
	return d.cancel()
}

// Pending reports whether a callback is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

func (d *Debouncer) cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.pending {
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.generation++
	d.pending = false
	return true
}

func (d *Debouncer) expire(generation uint64) {
	d.mu.Lock()
	if generation != d.generation || !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.timer = nil
	d.mu.Unlock()
	d.fire()
}
