package platform

import "sync/atomic"

// Headless is an offscreen window for backends that render into memory.
// It stays open until Close is called.
type Headless struct {
	Width  int
	Height int

	closed atomic.Bool
}

func NewHeadless(width, height int) *Headless {
	return &Headless{Width: width, Height: height}
}

func (h *Headless) NativeHandle() any { return nil }
func (h *Headless) FramebufferSize() (int, int) { return h.Width, h.Height }
func (h *Headless) PumpMessages() bool { return !h.closed.Load() }
func (h *Headless) Close() { h.closed.Store(true) }
func (h *Headless) Shutdown() error { h.Close(); return nil }
