package software

import (
	"fmt"
	"sync/atomic"

	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

// CommandAllocator backs the memory of recorded commands. Resetting it while
// the GPU still executes a list recorded from it is an error.
type CommandAllocator struct {
	dev       *Device
	pending   atomic.Int32
	recording atomic.Bool
}

func (a *CommandAllocator) Reset() error {
	if n := a.pending.Load(); n > 0 {
		a.dev.trace.add(Event{Kind: EventValidation, Message: "allocator reset while GPU work is pending"})
		return fmt.Errorf("allocator has %d executions in flight: %w", n, hal.ErrInvalidCall)
	}
	if a.recording.Load() {
		return fmt.Errorf("allocator reset while a list is recording: %w", hal.ErrInvalidCall)
	}
	a.dev.trace.add(Event{Kind: EventAllocatorReset})
	return nil
}

// Pending reports the number of executions still referencing the allocator.
func (a *CommandAllocator) Pending() int {
	return int(a.pending.Load())
}

func (a *CommandAllocator) Destroy() {}

type listState int

const (
	listRecording listState = iota
	listClosed
)

type opKind int

const (
	opRootSignature opKind = iota
	opViewport
	opScissor
	opBarrier
	opRenderTargets
	opClear
	opTopology
	opVertexBuffers
	opDraw
)

type op struct {
	kind     opKind
	barriers []hal.Barrier
	targets  []*texture
	color    [4]float32
	viewport hal.Viewport
	scissor  hal.Rect
	topology hal.PrimitiveTopology
	slot     uint32
	vbs      []hal.VertexBufferView
	draw     [4]uint32
}

type CommandList struct {
	dev       *Device
	allocator *CommandAllocator
	pipeline  *PipelineState
	state     listState
	ops       []op
	err       error
}

func (l *CommandList) Reset(allocator hal.CommandAllocator, pipeline hal.PipelineState) error {
	if l.state != listClosed {
		return fmt.Errorf("reset of a list that is still recording: %w", hal.ErrInvalidCall)
	}
	alloc, ok := allocator.(*CommandAllocator)
	if !ok || alloc.dev != l.dev {
		return fmt.Errorf("allocator does not belong to this device: %w", hal.ErrInvalidCall)
	}
	if !alloc.recording.CompareAndSwap(false, true) {
		return fmt.Errorf("allocator already used by a recording list: %w", hal.ErrInvalidCall)
	}
	l.pipeline = nil
	if pipeline != nil {
		pso, ok := pipeline.(*PipelineState)
		if !ok {
			alloc.recording.Store(false)
			return fmt.Errorf("pipeline %T: %w", pipeline, hal.ErrInvalidCall)
		}
		l.pipeline = pso
	}
	l.allocator = alloc
	// the GPU may still hold the previous slice
	l.ops = nil
	l.err = nil
	l.state = listRecording
	return nil
}

func (l *CommandList) record(o op) {
	if l.state != listRecording {
		if l.err == nil {
			l.err = fmt.Errorf("command recorded on a closed list: %w", hal.ErrInvalidCall)
		}
		return
	}
	l.ops = append(l.ops, o)
}

func (l *CommandList) fail(format string, args ...interface{}) {
	if l.err == nil {
		l.err = fmt.Errorf(format+": %w", append(args, hal.ErrInvalidCall)...)
	}
}

func (l *CommandList) SetGraphicsRootSignature(rs hal.RootSignature) {
	if _, ok := rs.(*RootSignature); !ok {
		l.fail("root signature %T", rs)
		return
	}
	l.record(op{kind: opRootSignature})
}

func (l *CommandList) SetViewports(viewports ...hal.Viewport) {
	if len(viewports) != 1 {
		l.fail("%d viewports, only one is supported", len(viewports))
		return
	}
	l.record(op{kind: opViewport, viewport: viewports[0]})
}

func (l *CommandList) SetScissorRects(rects ...hal.Rect) {
	if len(rects) != 1 {
		l.fail("%d scissor rects, only one is supported", len(rects))
		return
	}
	l.record(op{kind: opScissor, scissor: rects[0]})
}

func (l *CommandList) ResourceBarrier(barriers ...hal.Barrier) {
	for _, b := range barriers {
		if _, ok := b.Resource.(*texture); !ok {
			l.fail("barrier on %T", b.Resource)
			return
		}
		if b.Before == b.After {
			l.fail("barrier on %s has identical before and after states", b.Resource.Name())
			return
		}
	}
	l.record(op{kind: opBarrier, barriers: append([]hal.Barrier(nil), barriers...)})
}

func (l *CommandList) SetRenderTargets(views ...hal.RenderTargetView) {
	targets := make([]*texture, 0, len(views))
	for _, v := range views {
		rtv, ok := v.(*renderTargetView)
		if !ok {
			l.fail("render target view %T", v)
			return
		}
		targets = append(targets, rtv.tex)
	}
	l.record(op{kind: opRenderTargets, targets: targets})
}

func (l *CommandList) ClearRenderTargetView(view hal.RenderTargetView, color [4]float32) {
	rtv, ok := view.(*renderTargetView)
	if !ok {
		l.fail("render target view %T", view)
		return
	}
	l.record(op{kind: opClear, targets: []*texture{rtv.tex}, color: color})
}

func (l *CommandList) SetPrimitiveTopology(topology hal.PrimitiveTopology) {
	l.record(op{kind: opTopology, topology: topology})
}

func (l *CommandList) SetVertexBuffers(startSlot uint32, views ...hal.VertexBufferView) {
	l.record(op{kind: opVertexBuffers, slot: startSlot, vbs: append([]hal.VertexBufferView(nil), views...)})
}

func (l *CommandList) DrawInstanced(vertexCountPerInstance, instanceCount, startVertex, startInstance uint32) {
	if l.pipeline == nil {
		l.fail("draw without a pipeline state")
		return
	}
	l.record(op{kind: opDraw, draw: [4]uint32{vertexCountPerInstance, instanceCount, startVertex, startInstance}})
}

func (l *CommandList) Close() error {
	if l.state != listRecording {
		return fmt.Errorf("close of a closed list: %w", hal.ErrInvalidCall)
	}
	l.state = listClosed
	l.allocator.recording.Store(false)
	if l.err == nil && l.dev.failCloses.Add(-1) >= 0 {
		l.err = fmt.Errorf("injected recording failure: %w", hal.ErrInvalidCall)
	}
	return l.err
}

func (l *CommandList) Destroy() {}

// executor holds the pipeline state of one list execution on the GPU.
type executor struct {
	dev      *Device
	pipeline *PipelineState
	viewport hal.Viewport
	scissor  hal.Rect
	topology hal.PrimitiveTopology
	targets  []*texture
	vbs      map[uint32]hal.VertexBufferView
	hasVP    bool
	hasSR    bool
}

// execute runs ops on the GPU goroutine. It stops at the first validation error.
func (d *Device) execute(pipeline *PipelineState, ops []op) {
	e := &executor{dev: d, pipeline: pipeline, vbs: make(map[uint32]hal.VertexBufferView)}
	d.trace.add(Event{Kind: EventExecute, Value: uint64(len(ops))})
	for _, o := range ops {
		if !e.step(o) {
			return
		}
	}
}

func (e *executor) step(o op) bool {
	d := e.dev
	switch o.kind {
	case opRootSignature:
	case opViewport:
		e.viewport, e.hasVP = o.viewport, true
	case opScissor:
		e.scissor, e.hasSR = o.scissor, true
	case opTopology:
		e.topology = o.topology
	case opVertexBuffers:
		for i, vb := range o.vbs {
			e.vbs[o.slot+uint32(i)] = vb
		}
	case opBarrier:
		for _, b := range o.barriers {
			tex := b.Resource.(*texture)
			if tex.state != b.Before {
				d.validationError("barrier on %s expects %s but resource is %s", tex.name, b.Before, tex.state)
				return false
			}
			tex.state = b.After
			d.trace.add(Event{Kind: EventBarrier, Resource: tex.name, Index: tex.index, Before: b.Before, After: b.After})
		}
	case opRenderTargets:
		for _, tex := range o.targets {
			if tex.state != hal.ResourceStateRenderTarget {
				d.validationError("%s bound as render target while in %s", tex.name, tex.state)
				return false
			}
			d.trace.add(Event{Kind: EventRenderTarget, Resource: tex.name, Index: tex.index})
		}
		e.targets = o.targets
	case opClear:
		tex := o.targets[0]
		if tex.state != hal.ResourceStateRenderTarget {
			d.validationError("clear of %s while in %s", tex.name, tex.state)
			return false
		}
		tex.clear(o.color)
		d.trace.add(Event{Kind: EventClear, Resource: tex.name, Index: tex.index})
	case opDraw:
		return e.draw(o.draw)
	}
	return true
}

func (e *executor) draw(args [4]uint32) bool {
	d := e.dev
	if len(e.targets) == 0 {
		d.validationError("draw without a render target")
		return false
	}
	if !e.hasVP || !e.hasSR {
		d.validationError("draw without viewport or scissor")
		return false
	}
	if e.topology != hal.TopologyTriangleList {
		d.validationError("draw with unsupported topology %d", e.topology)
		return false
	}
	tex := e.targets[0]
	if tex.state != hal.ResourceStateRenderTarget {
		d.validationError("draw into %s while in %s", tex.name, tex.state)
		return false
	}

	count, instances, first := args[0], args[1], args[2]
	for inst := uint32(0); inst < instances; inst++ {
		for v := first; v+2 < first+count; v += 3 {
			var tri [3]vertexOut
			for k := uint32(0); k < 3; k++ {
				out, err := e.fetch(v + k)
				if err != nil {
					d.validationError("vertex fetch: %v", err)
					return false
				}
				tri[k] = out
			}
			rasterize(tex.img, e.viewport, e.scissor, tri)
		}
	}
	d.trace.add(Event{Kind: EventDraw, Resource: tex.name, Index: tex.index, Value: uint64(count)})
	return true
}
