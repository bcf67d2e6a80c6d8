package vulkan

import (
	"fmt"
	"math"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/hellotriangle/engine/containers"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

// maxPendingSignals bounds how many signals may be in flight on one fence.
const maxPendingSignals = 64

// pendingSignal is one queued Signal: a binary fence submitted behind all
// prior work, standing for value.
type pendingSignal struct {
	value  uint64
	handle vk.Fence
	// refs counts goroutines blocked on handle.
	refs int
	// done is set once the signal is retired into the completed value.
	done bool
}

type fenceWaiter struct {
	value uint64
	ch    chan struct{}
	armed bool
}

// Fence emulates a timeline fence with binary fences. Signals complete in
// queue submission order, so retiring the pending queue front to back keeps
// the completed value monotonic.
type Fence struct {
	dev *Device

	mu        sync.Mutex
	completed uint64
	pending   *containers.RingQueue[*pendingSignal]
	waiters   []*fenceWaiter
	awaiting  sync.WaitGroup
}

func newFence(d *Device, initial uint64) *Fence {
	return &Fence{
		dev:       d,
		completed: initial,
		pending:   containers.NewRingQueue[*pendingSignal](maxPendingSignals),
	}
}

func (f *Fence) CompletedValue() uint64 {
	if f.dev.Removed() != nil {
		return math.MaxUint64
	}
	f.mu.Lock()
	err := f.poll()
	completed := f.completed
	f.mu.Unlock()
	if err != nil {
		_ = f.dev.check(err)
		return math.MaxUint64
	}
	return completed
}

func (f *Fence) EventOnCompletion(value uint64) (<-chan struct{}, error) {
	ch := make(chan struct{})
	if f.dev.Removed() != nil {
		close(ch)
		return ch, nil
	}
	f.mu.Lock()
	err := f.poll()
	if f.completed >= value {
		close(ch)
	} else {
		w := &fenceWaiter{value: value, ch: ch}
		f.waiters = append(f.waiters, w)
		f.arm(w)
	}
	f.mu.Unlock()
	if err != nil {
		_ = f.dev.check(err)
	}
	return ch, nil
}

// signal submits an empty batch carrying a binary fence that stands for value.
func (f *Fence) signal(value uint64) error {
	handle, err := f.dev.acquireFence()
	if err != nil {
		return err
	}

	f.mu.Lock()
	if f.pending.IsFull() {
		f.mu.Unlock()
		f.dev.recycleFence(handle)
		return fmt.Errorf("%d signals already pending: %w", f.pending.Len(), hal.ErrInvalidCall)
	}
	if err := f.dev.queueSubmit(nil, handle); err != nil {
		f.mu.Unlock()
		vk.DestroyFence(f.dev.logical, handle, f.dev.allocator)
		return f.dev.check(err)
	}
	_ = f.pending.Enqueue(&pendingSignal{value: value, handle: handle})
	for _, w := range f.waiters {
		if !w.armed {
			f.arm(w)
		}
	}
	f.mu.Unlock()
	return nil
}

// poll retires every pending signal that has been reached. f.mu must be held.
func (f *Fence) poll() error {
	for !f.pending.IsEmpty() {
		p, _ := f.pending.Peek()
		res := vk.GetFenceStatus(f.dev.logical, p.handle)
		if res == vk.NotReady {
			return nil
		}
		if err := resultError("vkGetFenceStatus", res); err != nil {
			return err
		}
		f.retire()
	}
	return nil
}

// retire pops the front signal into the completed value and releases the
// waiters it satisfies. f.mu must be held.
func (f *Fence) retire() {
	p, err := f.pending.Dequeue()
	if err != nil {
		return
	}
	p.done = true
	if p.value > f.completed {
		f.completed = p.value
	}
	if p.refs == 0 {
		f.dev.recycleFence(p.handle)
	}

	kept := f.waiters[:0]
	for _, w := range f.waiters {
		if w.value <= f.completed {
			close(w.ch)
			continue
		}
		kept = append(kept, w)
	}
	f.waiters = kept
}

// arm starts a goroutine blocking on the first pending signal that covers
// w. Waiters beyond the last signal are armed by the next signal. f.mu must
// be held.
func (f *Fence) arm(w *fenceWaiter) {
	for i := 0; i < f.pending.Len(); i++ {
		p, _ := f.pending.At(i)
		if p.value < w.value {
			continue
		}
		w.armed = true
		p.refs++
		f.awaiting.Add(1)
		go f.await(p)
		return
	}
}

func (f *Fence) await(p *pendingSignal) {
	defer f.awaiting.Done()
	res := vk.WaitForFences(f.dev.logical, 1, []vk.Fence{p.handle}, vk.True, math.MaxUint64)
	err := resultError("vkWaitForFences", res)

	f.mu.Lock()
	p.refs--
	if p.done {
		if p.refs == 0 {
			f.dev.recycleFence(p.handle)
		}
	} else if err == nil {
		err = f.poll()
	}
	f.mu.Unlock()

	if err != nil {
		_ = f.dev.check(err)
	}
}

// wake releases every waiter, used when the device is lost.
func (f *Fence) wake() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.waiters {
		close(w.ch)
	}
	f.waiters = nil
}

// Destroy waits for the queue to drain before releasing pending fences.
func (f *Fence) Destroy() {
	f.dev.forgetFence(f)
	if f.dev.logical == nil {
		return
	}
	f.dev.waitIdle()
	f.awaiting.Wait()

	f.mu.Lock()
	defer f.mu.Unlock()
	for !f.pending.IsEmpty() {
		p, _ := f.pending.Dequeue()
		vk.DestroyFence(f.dev.logical, p.handle, f.dev.allocator)
	}
	for _, w := range f.waiters {
		close(w.ch)
	}
	f.waiters = nil
}
