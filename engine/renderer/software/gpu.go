package software

import (
	"sync"
	"time"
)

// timeline is the GPU: one goroutine running queued work in submission order.
type timeline struct {
	work    chan func()
	done    chan struct{}
	latency time.Duration
	sendMu  sync.RWMutex

	mu     sync.Mutex
	cond   *sync.Cond
	paused bool
	closed bool
	busy   int
}

func newTimeline(latency time.Duration) *timeline {
	t := &timeline{
		work:    make(chan func(), 256),
		done:    make(chan struct{}),
		latency: latency,
	}
	t.cond = sync.NewCond(&t.mu)
	go t.run()
	return t
}

func (t *timeline) run() {
	defer close(t.done)
	for item := range t.work {
		t.mu.Lock()
		for t.paused {
			t.cond.Wait()
		}
		t.mu.Unlock()

		if t.latency > 0 {
			time.Sleep(t.latency)
		}
		item()

		t.mu.Lock()
		t.busy--
		t.cond.Broadcast()
		t.mu.Unlock()
	}
}

// submit queues fn. It returns false once the timeline is stopped.
func (t *timeline) submit(fn func()) bool {
	t.sendMu.RLock()
	defer t.sendMu.RUnlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	t.busy++
	t.mu.Unlock()
	t.work <- fn
	return true
}

func (t *timeline) pause() {
	t.mu.Lock()
	t.paused = true
	t.mu.Unlock()
}

func (t *timeline) resume() {
	t.mu.Lock()
	t.paused = false
	t.cond.Broadcast()
	t.mu.Unlock()
}

// idle blocks until every submitted item has run. It must not be called while paused.
func (t *timeline) idle() {
	t.mu.Lock()
	for t.busy > 0 {
		t.cond.Wait()
	}
	t.mu.Unlock()
}

func (t *timeline) stop() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.paused = false
	t.cond.Broadcast()
	t.mu.Unlock()

	t.sendMu.Lock()
	close(t.work)
	t.sendMu.Unlock()
	<-t.done
}
