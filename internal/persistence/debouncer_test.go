package persistence

import (
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/podium/internal/clock"
)

func newTestDebouncer(t *testing.T, fake *clock.FakeClock, maxDelay time.Duration, counter *int) *Debouncer {
	t.Helper()
	debouncer, err := NewDebouncer(DebouncerConfig{
		Clock:    fake,
		Delay:    3 * time.Second,
		MaxDelay: maxDelay,
		Fire: func() {
			*counter++
		},
	})
	if err != nil {
		t.Fatalf("failed to construct debouncer: %v", err)
	}
	return debouncer
}

func TestDebouncerCoalescesBurst(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	fired := 0
	debouncer := newTestDebouncer(t, fake, 0, &fired)

	for i := 0; i < 10; i++ {
		debouncer.Trigger()
		fake.Advance(time.Second)
	}
	if fired != 0 {
		t.Fatalf("expected no fire during burst, got %d", fired)
	}
	fake.Advance(2 * time.Second)
	if fired != 1 {
		t.Fatalf("expected exactly one fire after the quiet period, got %d", fired)
	}
	fake.Advance(time.Minute)
	if fired != 1 {
		t.Fatalf("expected no further fires, got %d", fired)
	}
	if debouncer.Pending() {
		t.Fatalf("expected nothing pending after fire")
	}
}

func TestDebouncerMaxDelayCeiling(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	fired := 0
	debouncer := newTestDebouncer(t, fake, 10*time.Second, &fired)

	for i := 0; i < 12; i++ {
		debouncer.Trigger()
		fake.Advance(time.Second)
	}
	if fired != 1 {
		t.Fatalf("expected the ceiling to force one fire, got %d", fired)
	}
	fake.Advance(3 * time.Second)
	if fired != 2 {
		t.Fatalf("expected the tail of the burst to fire once more, got %d", fired)
	}
}

func TestDebouncerStopAndFlush(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	fired := 0
	debouncer := newTestDebouncer(t, fake, 0, &fired)

	if debouncer.Flush() {
		t.Fatalf("expected flush without trigger to report false")
	}
	debouncer.Trigger()
	if !debouncer.Stop() {
		t.Fatalf("expected stop to cancel pending callback")
	}
	fake.Advance(time.Minute)
	if fired != 0 {
		t.Fatalf("expected stopped debouncer not to fire, got %d", fired)
	}

	debouncer.Trigger()
	if !debouncer.Flush() || fired != 1 {
		t.Fatalf("expected flush to fire synchronously, got %d", fired)
	}
	fake.Advance(time.Minute)
	if fired != 1 {
		t.Fatalf("expected flushed timer not to fire again, got %d", fired)
	}
}

func TestNewDebouncerRejectsInvalidConfig(t *testing.T) {
	if _, err := NewDebouncer(DebouncerConfig{Delay: time.Second, Fire: func() {}}); err == nil {
		t.Fatalf("expected missing clock error")
	}
	if _, err := NewDebouncer(DebouncerConfig{Clock: clock.Real(), Fire: func() {}}); err == nil {
		t.Fatalf("expected invalid delay error")
	}
	if _, err := NewDebouncer(DebouncerConfig{Clock: clock.Real(), Delay: time.Second}); err == nil {
		t.Fatalf("expected missing callback error")
	}
}
