package renderer

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/hellotriangle/engine/core"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

const (
	// BufferCount is the length of the flip chain.
	BufferCount = 2
	// TargetFormat is the back buffer format.
	TargetFormat = hal.FormatR8G8B8A8Unorm
)

const ownerSurface = "surface"

// RenderTarget is one back buffer and its view.
type RenderTarget struct {
	Index    int
	Resource hal.Resource
	View     hal.RenderTargetView
}

// FrameSurface owns the double-buffered swapchain. The current index is
// only ever read back from the swapchain, at bind and right after present.
type FrameSurface struct {
	swapchain *core.Owned[hal.Swapchain]
	targets   [BufferCount]RenderTarget
	width     int
	height    int
	current   int
}

// BindSurface creates the swapchain for window at its framebuffer size.
// Presentation is windowed only.
func BindSurface(dc *DeviceContext, window hal.Window) (*FrameSurface, error) {
	width, height := window.FramebufferSize()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("window framebuffer is %dx%d: %w", width, height, core.ErrPresentationUnsupported)
	}

	sc, err := dc.Device().CreateSwapchain(dc.Queue(), window, hal.SwapchainDesc{
		Width:       width,
		Height:      height,
		Format:      TargetFormat,
		BufferCount: BufferCount,
	})
	if err != nil {
		return nil, fmt.Errorf("creating swapchain: %v: %w", err, core.ErrPresentationUnsupported)
	}
	if n := sc.BufferCount(); n != BufferCount {
		sc.Destroy()
		return nil, fmt.Errorf("swapchain has %d buffers, need %d: %w", n, BufferCount, core.ErrPresentationUnsupported)
	}

	s := &FrameSurface{
		swapchain: core.Own(dc.Registry(), ownerSurface, "swapchain", sc),
		width:     width,
		height:    height,
		current:   sc.CurrentBackBufferIndex(),
	}
	for i := range s.targets {
		s.targets[i] = RenderTarget{
			Index:    i,
			Resource: sc.Buffer(i),
			View:     sc.RenderTargetView(i),
		}
	}
	core.LogInfo("bound %dx%d surface with %d buffers (%s)", width, height, BufferCount, TargetFormat)
	return s, nil
}

// CurrentIndex is the back buffer the next frame records into.
func (s *FrameSurface) CurrentIndex() int {
	return s.current
}

func (s *FrameSurface) Target(index int) RenderTarget {
	return s.targets[index]
}

func (s *FrameSurface) Size() (int, int) {
	return s.width, s.height
}

func (s *FrameSurface) Swapchain() hal.Swapchain {
	return s.swapchain.Get()
}

// Present queues the current back buffer and re-queries the index.
func (s *FrameSurface) Present(syncInterval int) error {
	sc := s.swapchain.Get()
	if err := sc.Present(syncInterval); err != nil {
		if errors.Is(err, hal.ErrDeviceRemoved) {
			return fmt.Errorf("present: %v: %w", err, core.ErrDeviceLost)
		}
		return fmt.Errorf("present: %v: %w", err, core.ErrPresentLost)
	}
	s.current = sc.CurrentBackBufferIndex()
	return nil
}

// Destroy releases the swapchain once sync reports no outstanding GPU work.
func (s *FrameSurface) Destroy(sync *FrameSynchronizer) error {
	if sync != nil && sync.Outstanding() {
		return fmt.Errorf("surface destroy with GPU work up to %d outstanding (completed %d): %w", sync.LastSignaled(), sync.Completed(), core.ErrResourcesOutstanding)
	}
	return s.swapchain.Release()
}
