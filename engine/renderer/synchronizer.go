package renderer

import (
	"context"
	"fmt"
	stdmath "math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/hellotriangle/engine/core"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

const ownerSync = "synchronizer"

type SyncState int

const (
	SyncIdle SyncState = iota
	SyncSubmitted
	SyncSignaled
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "idle"
	case SyncSubmitted:
		return "submitted"
	case SyncSignaled:
		return "signaled"
	default:
		return fmt.Sprintf("SyncState(%d)", int(s))
	}
}

// SlotToken proves that the GPU had completed a given fence value when it was
// issued. A command recorder redeems it exactly once before resetting its
// allocator. The zero token is invalid.
type SlotToken struct {
	sync      *FrameSynchronizer
	serial    uint64
	completed uint64
}

// Completed is the fence value the token proves.
func (t SlotToken) Completed() uint64 {
	return t.completed
}

func (t SlotToken) Valid() bool {
	return t.sync != nil
}

// redeem consumes the token if it proves gate has completed.
func (t SlotToken) redeem(gate uint64) error {
	s := t.sync
	if s == nil {
		return fmt.Errorf("zero token: %w", core.ErrInvalidToken)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.serial != s.issued || t.serial <= s.redeemed {
		return fmt.Errorf("token %d is stale or already used (latest %d): %w", t.serial, s.issued, core.ErrInvalidToken)
	}
	if t.completed < gate {
		return fmt.Errorf("token proves fence %d but the command list is in flight until %d: %w", t.completed, gate, core.ErrInvalidToken)
	}
	s.redeemed = t.serial
	return nil
}

// FrameSynchronizer owns the fence and its counter. Signaled values start at
// 1 and increase by one per frame.
type FrameSynchronizer struct {
	fence   *core.Owned[hal.Fence]
	timeout time.Duration

	next         uint64
	lastSignaled atomic.Uint64
	waiting      atomic.Bool

	mu       sync.Mutex
	observed uint64
	issued   uint64
	redeemed uint64
	idleAt   uint64
}

// NewFrameSynchronizer creates the fence at zero. A zero timeout waits forever.
func NewFrameSynchronizer(dc *DeviceContext, timeout time.Duration) (*FrameSynchronizer, error) {
	f, err := dc.Device().CreateFence(0)
	if err != nil {
		return nil, mapDeviceError("creating fence", err, core.ErrAllocation)
	}
	return &FrameSynchronizer{
		fence:   core.Own(dc.Registry(), ownerSync, "fence", f),
		timeout: timeout,
		next:    1,
	}, nil
}

// Completed reads the fence. The result never decreases.
func (s *FrameSynchronizer) Completed() uint64 {
	v := s.fence.Get().CompletedValue()
	s.mu.Lock()
	defer s.mu.Unlock()
	if v < s.observed {
		core.LogError("fence went backwards from %d to %d", s.observed, v)
		return s.observed
	}
	s.observed = v
	return v
}

func (s *FrameSynchronizer) LastSignaled() uint64 {
	return s.lastSignaled.Load()
}

// Outstanding reports whether the GPU still owes signaled work.
func (s *FrameSynchronizer) Outstanding() bool {
	return s.Completed() < s.LastSignaled()
}

// IsWaiting reports whether a caller is blocked in WaitForSlot.
func (s *FrameSynchronizer) IsWaiting() bool {
	return s.waiting.Load()
}

func (s *FrameSynchronizer) State() SyncState {
	last := s.LastSignaled()
	if last == 0 {
		return SyncIdle
	}
	if s.Completed() < last {
		return SyncSubmitted
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idleAt >= last {
		return SyncIdle
	}
	return SyncSignaled
}

// Signal schedules the next counter value on queue after all submitted work.
func (s *FrameSynchronizer) Signal(queue hal.Queue) (uint64, error) {
	value := s.next
	if err := queue.Signal(s.fence.Get(), value); err != nil {
		return 0, mapDeviceError(fmt.Sprintf("signal %d", value), err, core.ErrDeviceLost)
	}
	s.next++
	s.lastSignaled.Store(value)
	return value, nil
}

// Acquire issues a token without waiting. It fails while work is outstanding.
func (s *FrameSynchronizer) Acquire() (SlotToken, error) {
	completed := s.Completed()
	if last := s.LastSignaled(); completed < last {
		return SlotToken{}, fmt.Errorf("fence at %d, work signaled up to %d: %w", completed, last, core.ErrInvalidToken)
	}
	return s.issue(completed), nil
}

// WaitForSlot returns once the fence has reached target. It does not block
// when target is already complete. It gives up when ctx ends, or after the
// configured timeout with a device lost error.
func (s *FrameSynchronizer) WaitForSlot(ctx context.Context, target uint64) (SlotToken, error) {
	completed := s.Completed()
	if completed == stdmath.MaxUint64 {
		return SlotToken{}, fmt.Errorf("fence reports device removal: %w", core.ErrDeviceLost)
	}
	if completed >= target {
		return s.issue(completed), nil
	}

	event, err := s.fence.Get().EventOnCompletion(target)
	if err != nil {
		return SlotToken{}, mapDeviceError(fmt.Sprintf("waiting for fence %d", target), err, core.ErrDeviceLost)
	}

	s.waiting.Store(true)
	defer s.waiting.Store(false)

	var expired <-chan time.Time
	if s.timeout > 0 {
		timer := time.NewTimer(s.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-event:
	case <-ctx.Done():
		return SlotToken{}, fmt.Errorf("waiting for fence %d: %w", target, ctx.Err())
	case <-expired:
		return SlotToken{}, fmt.Errorf("fence stuck at %d waiting for %d after %s: %w", s.Completed(), target, s.timeout, core.ErrDeviceLost)
	}

	completed = s.Completed()
	if completed == stdmath.MaxUint64 {
		return SlotToken{}, fmt.Errorf("fence reports device removal: %w", core.ErrDeviceLost)
	}
	if completed < target {
		return SlotToken{}, fmt.Errorf("fence event fired at %d before %d: %w", completed, target, core.ErrDeviceLost)
	}
	return s.issue(completed), nil
}

// Flush signals once more and waits for it, leaving the GPU idle.
func (s *FrameSynchronizer) Flush(ctx context.Context, queue hal.Queue) error {
	value, err := s.Signal(queue)
	if err != nil {
		return err
	}
	_, err = s.WaitForSlot(ctx, value)
	return err
}

func (s *FrameSynchronizer) issue(completed uint64) SlotToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	if completed > s.idleAt {
		s.idleAt = completed
	}
	return SlotToken{sync: s, serial: s.issued, completed: completed}
}

func (s *FrameSynchronizer) Destroy() error {
	return s.fence.Release()
}
