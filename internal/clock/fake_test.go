package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClockFiresCallbacksInDeadlineOrder(t *testing.T) {
	clock := Fake(epoch)
	var order []string
	clock.AfterFunc(2*time.Second, func() { order = append(order, "late") })
	clock.AfterFunc(time.Second, func() { order = append(order, "early") })

	clock.Advance(500 * time.Millisecond)
	if len(order) != 0 {
		t.Fatalf("expected no callbacks yet, got %v", order)
	}

	clock.Advance(2 * time.Second)
	if len(order) != 2 || order[0] != "early" || order[1] != "late" {
		t.Fatalf("unexpected callback order: %v", order)
	}
	if clock.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", clock.Pending())
	}
}

func TestFakeClockStopPreventsCallback(t *testing.T) {
	clock := Fake(epoch)
	fired := false
	timer := clock.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatalf("expected stop to report an active timer")
	}
	if timer.Stop() {
		t.Fatalf("expected second stop to report an inactive timer")
	}
	clock.Advance(time.Minute)
	if fired {
		t.Fatalf("stopped timer fired")
	}
}

func TestFakeClockZeroDelayRunsSynchronously(t *testing.T) {
	clock := Fake(epoch)
	fired := false
	timer := clock.AfterFunc(0, func() { fired = true })
	if !fired {
		t.Fatalf("expected immediate callback")
	}
	if timer.Stop() {
		t.Fatalf("expected fired timer to be inactive")
	}
}

func TestFakeClockCallbackMayScheduleAnother(t *testing.T) {
	clock := Fake(epoch)
	count := 0
	clock.AfterFunc(time.Second, func() {
		count++
		clock.AfterFunc(time.Second, func() { count++ })
	})
	clock.Advance(time.Second)
	if count != 1 {
		t.Fatalf("expected first callback only, got %d", count)
	}
	clock.Advance(time.Second)
	if count != 2 {
		t.Fatalf("expected rescheduled callback to fire, got %d", count)
	}
}
