package software

import (
	stdmath "math"
	"sync"
)

type fenceWaiter struct {
	value uint64
	ch    chan struct{}
}

// Fence completes values as the GPU timeline reaches its signals. Once the
// device is removed every value reads as complete.
type Fence struct {
	dev *Device

	mu        sync.Mutex
	completed uint64
	waiters   []fenceWaiter
}

func (f *Fence) CompletedValue() uint64 {
	if f.dev.Removed() != nil {
		return stdmath.MaxUint64
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

func (f *Fence) EventOnCompletion(value uint64) (<-chan struct{}, error) {
	ch := make(chan struct{})
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completed >= value || f.dev.Removed() != nil {
		close(ch)
		return ch, nil
	}
	f.waiters = append(f.waiters, fenceWaiter{value: value, ch: ch})
	return ch, nil
}

// signal runs on the GPU goroutine.
func (f *Fence) signal(value uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if value < f.completed {
		f.dev.trace.add(Event{Kind: EventValidation, Message: "fence signaled backwards", Value: value})
		return
	}
	f.completed = value
	kept := f.waiters[:0]
	for _, w := range f.waiters {
		if w.value <= value {
			close(w.ch)
			continue
		}
		kept = append(kept, w)
	}
	f.waiters = kept
}

// wake releases every waiter, used when the device is removed.
func (f *Fence) wake() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.waiters {
		close(w.ch)
	}
	f.waiters = nil
}

func (f *Fence) Destroy() {}
