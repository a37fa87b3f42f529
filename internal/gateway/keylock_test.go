package gateway

import (
	"sync"
	"testing"
	"time"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	locks := newKeyedMutex()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		overlap bool
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("doc")
			defer unlock()
			mu.Lock()
			active++
			if active > 1 {
				overlap = true
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	if overlap {
		t.Fatalf("expected same-key critical sections not to overlap")
	}
	if locks.size() != 0 {
		t.Fatalf("expected entries collected, got %d", locks.size())
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	locks := newKeyedMutex()
	unlockA := locks.Lock("a")
	acquired := make(chan struct{})
	go func() {
		unlockB := locks.Lock("b")
		unlockB()
		close(acquired)
	}()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("expected a different key to be acquirable")
	}
	if locks.size() != 1 {
		t.Fatalf("expected only the held key tracked, got %d", locks.size())
	}
	unlockA()
	if locks.size() != 0 {
		t.Fatalf("expected entries collected, got %d", locks.size())
	}
}
