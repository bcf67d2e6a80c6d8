package renderer

import (
	"fmt"

	"github.com/spaghettifunk/hellotriangle/engine/core"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

// ClearColor is the background every frame starts from.
var ClearColor = [4]float32{0.0, 0.2, 0.4, 1.0}

// CommandRecorder owns one allocator and one long-lived command list whose
// content is rewritten every frame. It belongs to the rendering goroutine.
type CommandRecorder struct {
	allocator *core.Owned[hal.CommandAllocator]
	list      *core.Owned[hal.CommandList]
	pipeline  *Pipeline
	geometry  *StaticGeometry
	viewport  hal.Viewport
	scissor   hal.Rect

	// inFlightUntil is the fence value gating the next allocator reset.
	inFlightUntil uint64
	closed        bool
	recorded      uint64
}

// NewCommandRecorder takes ownership of pipeline. The list starts closed.
func NewCommandRecorder(dc *DeviceContext, pipeline *Pipeline, geometry *StaticGeometry, width, height int) (*CommandRecorder, error) {
	dev := dc.Device()
	alloc, err := dev.CreateCommandAllocator()
	if err != nil {
		return nil, mapDeviceError("creating command allocator", err, core.ErrAllocation)
	}
	list, err := dev.CreateCommandList(alloc, pipeline.State())
	if err != nil {
		alloc.Destroy()
		return nil, mapDeviceError("creating command list", err, core.ErrAllocation)
	}
	return &CommandRecorder{
		allocator: core.Own(dc.Registry(), ownerRecorder, "command-allocator", alloc),
		list:      core.Own(dc.Registry(), ownerRecorder, "command-list", list),
		pipeline:  pipeline,
		geometry:  geometry,
		viewport: hal.Viewport{
			Width:    float32(width),
			Height:   float32(height),
			MinDepth: 0,
			MaxDepth: 1,
		},
		scissor: hal.Rect{
			Right:  int32(width),
			Bottom: int32(height),
		},
	}, nil
}

// Record rewrites the command list for target. token must come from the
// frame synchronizer and prove the previous submission of this list has
// completed; it is consumed even when recording fails.
//
// On error the list is indeterminate: it must not be submitted, and the
// next Record starts again from the allocator reset.
func (r *CommandRecorder) Record(token SlotToken, target RenderTarget) error {
	if err := token.redeem(r.inFlightUntil); err != nil {
		return err
	}
	r.closed = false

	alloc := r.allocator.Get()
	list := r.list.Get()

	if err := alloc.Reset(); err != nil {
		return fmt.Errorf("resetting allocator: %v: %w", err, core.ErrRecording)
	}
	if err := list.Reset(alloc, r.pipeline.State()); err != nil {
		return fmt.Errorf("resetting command list: %v: %w", err, core.ErrRecording)
	}

	list.SetGraphicsRootSignature(r.pipeline.RootSignature())
	list.SetViewports(r.viewport)
	list.SetScissorRects(r.scissor)

	list.ResourceBarrier(hal.Transition(target.Resource, hal.ResourceStatePresent, hal.ResourceStateRenderTarget))

	list.SetRenderTargets(target.View)
	list.ClearRenderTargetView(target.View, ClearColor)
	list.SetPrimitiveTopology(hal.TopologyTriangleList)
	list.SetVertexBuffers(0, r.geometry.View())
	list.DrawInstanced(r.geometry.VertexCount(), 1, 0, 0)

	list.ResourceBarrier(hal.Transition(target.Resource, hal.ResourceStateRenderTarget, hal.ResourceStatePresent))

	if err := list.Close(); err != nil {
		return fmt.Errorf("closing command list for buffer %d: %v: %w", target.Index, err, core.ErrRecording)
	}
	r.closed = true
	r.recorded++
	return nil
}

// List returns the command list. Only submit it after a successful Record.
func (r *CommandRecorder) List() (hal.CommandList, error) {
	if !r.closed {
		return nil, fmt.Errorf("command list is not in a submittable state: %w", core.ErrRecording)
	}
	return r.list.Get(), nil
}

// MarkSubmitted records the fence value signaled after the list's submission.
// The allocator may not be reset before that value completes.
func (r *CommandRecorder) MarkSubmitted(fenceValue uint64) {
	r.inFlightUntil = fenceValue
	r.closed = false
}

// InFlightUntil is the fence value the next Record requires.
func (r *CommandRecorder) InFlightUntil() uint64 {
	return r.inFlightUntil
}

// Recorded counts successful recordings.
func (r *CommandRecorder) Recorded() uint64 {
	return r.recorded
}

func (r *CommandRecorder) Destroy() error {
	if err := r.list.Release(); err != nil {
		return err
	}
	if err := r.allocator.Release(); err != nil {
		return err
	}
	return r.pipeline.Destroy()
}
