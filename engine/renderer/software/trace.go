package software

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/hellotriangle/engine/containers"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

type EventKind int

const (
	EventAllocatorReset EventKind = iota
	EventExecute
	EventBarrier
	EventRenderTarget
	EventClear
	EventDraw
	EventPresent
	EventSignal
	EventValidation
)

func (k EventKind) String() string {
	switch k {
	case EventAllocatorReset:
		return "allocator-reset"
	case EventExecute:
		return "execute"
	case EventBarrier:
		return "barrier"
	case EventRenderTarget:
		return "render-target"
	case EventClear:
		return "clear"
	case EventDraw:
		return "draw"
	case EventPresent:
		return "present"
	case EventSignal:
		return "signal"
	case EventValidation:
		return "validation"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one observable step on the GPU timeline, or a CPU-side call the
// timeline depends on (allocator resets).
type Event struct {
	Kind     EventKind
	Resource string
	Before   hal.ResourceState
	After    hal.ResourceState
	// Value holds the fence value for signals and the vertex count for draws.
	Value   uint64
	Index   int
	Message string
}

// DefaultTraceLimit is how many events a trace keeps when Options.TraceLimit is zero.
const DefaultTraceLimit = 4096

// Trace keeps the most recent events. Validation messages are kept apart so
// they survive eviction.
type Trace struct {
	mu       sync.Mutex
	events   *containers.RingQueue[Event]
	messages []string
}

func newTrace(limit int) *Trace {
	if limit <= 0 {
		limit = DefaultTraceLimit
	}
	return &Trace{events: containers.NewRingQueue[Event](limit)}
}

func (t *Trace) add(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.events.IsFull() {
		t.events.Dequeue()
	}
	t.events.Enqueue(e)
	if e.Kind == EventValidation {
		t.messages = append(t.messages, e.Message)
	}
}

// Events returns a copy of the retained events, oldest first.
func (t *Trace) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, 0, t.events.Len())
	for i := 0; i < t.events.Len(); i++ {
		e, _ := t.events.At(i)
		out = append(out, e)
	}
	return out
}

// Filter returns the events of the given kinds, in order.
func (t *Trace) Filter(kinds ...EventKind) []Event {
	var out []Event
	for _, e := range t.Events() {
		for _, k := range kinds {
			if e.Kind == k {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Errors returns every validation message since the last reset.
func (t *Trace) Errors() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.messages...)
}

func (t *Trace) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.events.IsEmpty() {
		t.events.Dequeue()
	}
	t.messages = nil
}
