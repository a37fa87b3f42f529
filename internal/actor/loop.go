// Package actor runs closures one at a time on a dedicated goroutine so
// that the state they touch needs no further locking.
package actor

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by Call once the loop has exited.
var ErrStopped = errors.New("actor: loop stopped")

type task struct {
	fn   func()
	done chan any
}

// Loop serializes tasks. The zero value is not usable; construct with New.
type Loop struct {
	tasks   chan task
	stopped chan struct{}
	halt    bool
}

// New constructs a Loop. Call Start before submitting tasks.
func New() *Loop {
	return &Loop{
		tasks:   make(chan task),
		stopped: make(chan struct{}),
	}
}

// Start launches the loop goroutine.
func (l *Loop) Start() {
	go l.run()
}

// Call runs fn on the loop goroutine and waits for it to return. A panic
// inside fn is re-raised in the caller.
func (l *Loop) Call(fn func()) error {
	submitted := task{fn: fn, done: make(chan any, 1)}
	select {
	case l.tasks <- submitted:
	case <-l.stopped:
		return ErrStopped
	}
	if recovered := <-submitted.done; recovered != nil {
		panic(fmt.Sprintf("actor: task panicked: %v", recovered))
	}
	return nil
}

// Halt makes the loop exit after the current task. It must only be called
// from inside a task.
func (l *Loop) Halt() {
	l.halt = true
}

// Done is closed once the loop has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.stopped
}

func (l *Loop) run() {
	defer close(l.stopped)
	for current := range l.tasks {
		current.done <- l.execute(current.fn)
		if l.halt {
			return
		}
	}
}

func (l *Loop) execute(fn func()) (recovered any) {
	defer func() {
		recovered = recover()
	}()
	fn()
	return nil
}
