package software

import (
	"fmt"

	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

// Queue is the direct queue. Work runs on the device timeline in submission order.
type Queue struct {
	dev *Device
}

func (q *Queue) ExecuteCommandLists(lists ...hal.CommandList) error {
	if err := q.dev.Removed(); err != nil {
		return err
	}
	if q.dev.failSubmits.Add(-1) >= 0 {
		return fmt.Errorf("queue rejected %d command lists: %w", len(lists), hal.ErrInvalidCall)
	}
	for _, cl := range lists {
		l, ok := cl.(*CommandList)
		if !ok || l.dev != q.dev {
			return fmt.Errorf("command list %T does not belong to this device: %w", cl, hal.ErrInvalidCall)
		}
		if l.state != listClosed {
			return fmt.Errorf("execute of an open command list: %w", hal.ErrInvalidCall)
		}
		if l.err != nil {
			return fmt.Errorf("execute of a list that failed to close: %w", l.err)
		}
	}
	for _, cl := range lists {
		l := cl.(*CommandList)
		alloc, pipeline, ops := l.allocator, l.pipeline, l.ops
		alloc.pending.Add(1)
		ok := q.dev.gpu.submit(func() {
			defer alloc.pending.Add(-1)
			if q.dev.Removed() != nil {
				return
			}
			q.dev.execute(pipeline, ops)
		})
		if !ok {
			alloc.pending.Add(-1)
			return fmt.Errorf("execute on destroyed device: %w", hal.ErrDeviceRemoved)
		}
	}
	return nil
}

func (q *Queue) Signal(fence hal.Fence, value uint64) error {
	if err := q.dev.Removed(); err != nil {
		return err
	}
	f, ok := fence.(*Fence)
	if !ok || f.dev != q.dev {
		return fmt.Errorf("fence %T does not belong to this device: %w", fence, hal.ErrInvalidCall)
	}
	ok = q.dev.gpu.submit(func() {
		if q.dev.Removed() != nil {
			f.wake()
			return
		}
		f.signal(value)
		q.dev.trace.add(Event{Kind: EventSignal, Value: value})
	})
	if !ok {
		return fmt.Errorf("signal on destroyed device: %w", hal.ErrDeviceRemoved)
	}
	return nil
}
