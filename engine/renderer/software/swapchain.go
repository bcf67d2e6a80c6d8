package software

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/spaghettifunk/hellotriangle/engine/math"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

// texture is a back buffer. state and img belong to the GPU goroutine.
type texture struct {
	name  string
	index int
	img   *image.RGBA
	state hal.ResourceState
}

func (t *texture) Name() string { return t.name }

func (t *texture) clear(c [4]float32) {
	fill := color.RGBA{
		R: math.ToUnorm8(c[0]),
		G: math.ToUnorm8(c[1]),
		B: math.ToUnorm8(c[2]),
		A: math.ToUnorm8(c[3]),
	}
	pix := t.img.Pix
	for i := 0; i < len(pix); i += 4 {
		pix[i+0] = fill.R
		pix[i+1] = fill.G
		pix[i+2] = fill.B
		pix[i+3] = fill.A
	}
}

type renderTargetView struct {
	tex *texture
}

func (v *renderTargetView) Resource() hal.Resource { return v.tex }

type Swapchain struct {
	dev     *Device
	buffers []*texture
	views   []*renderTargetView
	order   func(presented, count int) int
	current int

	mu        sync.Mutex
	front     *image.RGBA
	presented uint64
}

func newSwapchain(d *Device, desc hal.SwapchainDesc) *Swapchain {
	s := &Swapchain{
		dev:   d,
		order: d.opts.BackBufferOrder,
		front: image.NewRGBA(image.Rect(0, 0, desc.Width, desc.Height)),
	}
	if s.order == nil {
		s.order = func(presented, count int) int { return (presented + 1) % count }
	}
	for i := 0; i < desc.BufferCount; i++ {
		tex := &texture{
			name:  fmt.Sprintf("backbuffer[%d]", i),
			index: i,
			img:   image.NewRGBA(image.Rect(0, 0, desc.Width, desc.Height)),
			state: hal.ResourceStatePresent,
		}
		s.buffers = append(s.buffers, tex)
		s.views = append(s.views, &renderTargetView{tex: tex})
	}
	return s
}

func (s *Swapchain) BufferCount() int { return len(s.buffers) }

func (s *Swapchain) Buffer(index int) hal.Resource { return s.buffers[index] }

func (s *Swapchain) RenderTargetView(index int) hal.RenderTargetView { return s.views[index] }

func (s *Swapchain) CurrentBackBufferIndex() int { return s.current }

// Present queues the flip of the current back buffer and selects the next one.
func (s *Swapchain) Present(syncInterval int) error {
	if err := s.dev.Removed(); err != nil {
		return err
	}
	if syncInterval < 0 || syncInterval > 4 {
		return fmt.Errorf("sync interval %d: %w", syncInterval, hal.ErrInvalidCall)
	}
	tex := s.buffers[s.current]
	ok := s.dev.gpu.submit(func() {
		if tex.state != hal.ResourceStatePresent {
			s.dev.validationError("present of %s while in %s", tex.name, tex.state)
			return
		}
		s.mu.Lock()
		copy(s.front.Pix, tex.img.Pix)
		s.presented++
		n := s.presented
		s.mu.Unlock()
		s.dev.trace.add(Event{Kind: EventPresent, Resource: tex.name, Index: tex.index, Value: n})
	})
	if !ok {
		return fmt.Errorf("present on destroyed device: %w", hal.ErrSurfaceLost)
	}
	next := s.order(s.current, len(s.buffers))
	if next < 0 || next >= len(s.buffers) {
		return fmt.Errorf("back buffer order returned %d: %w", next, hal.ErrSurfaceLost)
	}
	s.current = next
	return nil
}

// Presented returns how many presents the GPU has completed.
func (s *Swapchain) Presented() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presented
}

// Frontbuffer returns a copy of the last presented image.
func (s *Swapchain) Frontbuffer() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	img := image.NewRGBA(s.front.Rect)
	copy(img.Pix, s.front.Pix)
	return img
}

func (s *Swapchain) Destroy() {}
