package software

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

const baseAddress uint64 = 0x10000

type Device struct {
	cfg   AdapterConfig
	opts  Options
	gpu   *timeline
	trace *Trace

	failCloses  atomic.Int32
	failSubmits atomic.Int32

	mu          sync.Mutex
	removed     error
	nextAddress uint64
	buffers     map[uint64]*Buffer
	fences      []*Fence
	destroyed   bool
}

func newDevice(cfg AdapterConfig, opts Options) *Device {
	return &Device{
		cfg:         cfg,
		opts:        opts,
		gpu:         newTimeline(opts.Latency),
		trace:       newTrace(opts.TraceLimit),
		nextAddress: baseAddress,
		buffers:     make(map[uint64]*Buffer),
	}
}

// Trace exposes what the GPU timeline observed.
func (d *Device) Trace() *Trace {
	return d.trace
}

// Pause stops the GPU timeline before its next operation. Work already
// queued stays queued, fences stop advancing.
func (d *Device) Pause() {
	d.gpu.pause()
}

func (d *Device) Resume() {
	d.gpu.resume()
}

// WaitIdle blocks until every queued operation has executed.
func (d *Device) WaitIdle() {
	d.gpu.idle()
}

// FailCommandLists makes the next n command list Close calls fail as if
// recording had hit an invalid call.
func (d *Device) FailCommandLists(n int) {
	d.failCloses.Store(int32(n))
}

// FailSubmits makes the next n ExecuteCommandLists calls reject their lists
// without running them.
func (d *Device) FailSubmits(n int) {
	d.failSubmits.Store(int32(n))
}

// Removed reports the reason the device was removed, if it was.
func (d *Device) Removed() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removed
}

// Remove marks the device as lost, like a driver reset would. Pending fence
// waits are released.
func (d *Device) Remove(reason string) {
	d.mu.Lock()
	if d.removed != nil {
		d.mu.Unlock()
		return
	}
	d.removed = fmt.Errorf("%w: %s", hal.ErrDeviceRemoved, reason)
	fences := append([]*Fence(nil), d.fences...)
	d.mu.Unlock()

	for _, f := range fences {
		f.wake()
	}
}

// validationError records msg on the trace and removes the device.
func (d *Device) validationError(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	d.trace.add(Event{Kind: EventValidation, Message: msg})
	d.Remove(msg)
}

func (d *Device) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	d.mu.Unlock()
	d.gpu.stop()
}

func (d *Device) CreateCommandQueue() (hal.Queue, error) {
	return &Queue{dev: d}, nil
}

func (d *Device) CreateSwapchain(queue hal.Queue, window hal.Window, desc hal.SwapchainDesc) (hal.Swapchain, error) {
	if _, ok := queue.(*Queue); !ok {
		return nil, fmt.Errorf("queue %T does not belong to the software device: %w", queue, hal.ErrInvalidCall)
	}
	if desc.Format != hal.FormatR8G8B8A8Unorm {
		return nil, fmt.Errorf("swapchain format %s: %w", desc.Format, hal.ErrUnsupported)
	}
	if desc.Width <= 0 || desc.Height <= 0 {
		return nil, fmt.Errorf("swapchain size %dx%d: %w", desc.Width, desc.Height, hal.ErrInvalidCall)
	}
	if desc.BufferCount < 2 || desc.BufferCount > 16 {
		return nil, fmt.Errorf("swapchain buffer count %d: %w", desc.BufferCount, hal.ErrUnsupported)
	}
	return newSwapchain(d, desc), nil
}

func (d *Device) CreateCommandAllocator() (hal.CommandAllocator, error) {
	return &CommandAllocator{dev: d}, nil
}

func (d *Device) CreateCommandList(allocator hal.CommandAllocator, pipeline hal.PipelineState) (hal.CommandList, error) {
	alloc, ok := allocator.(*CommandAllocator)
	if !ok || alloc.dev != d {
		return nil, fmt.Errorf("allocator does not belong to this device: %w", hal.ErrInvalidCall)
	}
	l := &CommandList{dev: d, state: listClosed}
	if pipeline != nil {
		pso, ok := pipeline.(*PipelineState)
		if !ok {
			return nil, fmt.Errorf("pipeline %T: %w", pipeline, hal.ErrInvalidCall)
		}
		l.pipeline = pso
	}
	l.allocator = alloc
	return l, nil
}

func (d *Device) CreateRootSignature(desc hal.RootSignatureDesc) (hal.RootSignature, error) {
	return &RootSignature{desc: desc}, nil
}

func (d *Device) CreatePipelineState(desc *hal.PipelineStateDesc) (hal.PipelineState, error) {
	if desc == nil {
		return nil, fmt.Errorf("nil pipeline description: %w", hal.ErrInvalidCall)
	}
	if len(desc.VertexShader) == 0 || len(desc.PixelShader) == 0 {
		return nil, fmt.Errorf("pipeline without shader bytecode: %w", hal.ErrInvalidCall)
	}
	if desc.RootSignature == nil {
		return nil, fmt.Errorf("pipeline without root signature: %w", hal.ErrInvalidCall)
	}
	if len(desc.RenderTargetFmts) != 1 || desc.RenderTargetFmts[0] != hal.FormatR8G8B8A8Unorm {
		return nil, fmt.Errorf("pipeline render targets %v: %w", desc.RenderTargetFmts, hal.ErrUnsupported)
	}
	pso := &PipelineState{stride: desc.VertexStride, position: -1, color: -1}
	for i, el := range desc.InputLayout {
		switch {
		case el.SemanticName == "POSITION" && el.SemanticIndex == 0:
			pso.position = i
		case el.SemanticName == "COLOR" && el.SemanticIndex == 0:
			pso.color = i
		}
		if el.AlignedByteOffset+el.Format.Size() > desc.VertexStride {
			return nil, fmt.Errorf("input element %s overruns stride %d: %w", el.SemanticName, desc.VertexStride, hal.ErrInvalidCall)
		}
	}
	if pso.position < 0 {
		return nil, fmt.Errorf("input layout has no POSITION: %w", hal.ErrInvalidCall)
	}
	pso.layout = append([]hal.InputElement(nil), desc.InputLayout...)
	return pso, nil
}

func (d *Device) CreateUploadBuffer(size uint64) (hal.Buffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("zero sized buffer: %w", hal.ErrInvalidCall)
	}
	if d.opts.MaxAllocation > 0 && size > d.opts.MaxAllocation {
		return nil, fmt.Errorf("upload buffer of %d bytes exceeds %d: %w", size, d.opts.MaxAllocation, hal.ErrOutOfMemory)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	b := &Buffer{
		dev:     d,
		name:    fmt.Sprintf("upload[%#x]", d.nextAddress),
		address: d.nextAddress,
		size:    size,
		data:    make([]byte, size),
	}
	// keep allocations 64KiB aligned like placed resources
	d.nextAddress += (size + 0xffff) &^ 0xffff
	d.buffers[b.address] = b
	return b, nil
}

func (d *Device) CreateFence(initial uint64) (hal.Fence, error) {
	f := &Fence{dev: d, completed: initial}
	d.mu.Lock()
	d.fences = append(d.fences, f)
	d.mu.Unlock()
	return f, nil
}

// lookup finds the live buffer holding address.
func (d *Device) lookup(address uint64) (*Buffer, uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	bases := make([]uint64, 0, len(d.buffers))
	for base := range d.buffers {
		bases = append(bases, base)
	}
	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })
	for _, base := range bases {
		b := d.buffers[base]
		if address >= base && address < base+b.size {
			return b, address - base, true
		}
	}
	return nil, 0, false
}

func (d *Device) release(b *Buffer) {
	d.mu.Lock()
	delete(d.buffers, b.address)
	d.mu.Unlock()
}

type RootSignature struct {
	desc hal.RootSignatureDesc
}

func (r *RootSignature) Destroy() {}

type PipelineState struct {
	layout   []hal.InputElement
	stride   uint32
	position int
	color    int
}

func (p *PipelineState) Destroy() {}

// Buffer is an upload heap buffer. The GPU reads it directly.
type Buffer struct {
	dev     *Device
	name    string
	address uint64
	size    uint64

	mu     sync.Mutex
	data   []byte
	mapped bool
}

func (b *Buffer) Name() string { return b.name }
func (b *Buffer) Size() uint64 { return b.size }
func (b *Buffer) GPUVirtualAddress() uint64 { return b.address }

func (b *Buffer) Map() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return nil, fmt.Errorf("map of destroyed buffer: %w", hal.ErrInvalidCall)
	}
	b.mapped = true
	return b.data, nil
}

func (b *Buffer) Unmap() {
	b.mu.Lock()
	b.mapped = false
	b.mu.Unlock()
}

func (b *Buffer) Destroy() {
	b.dev.release(b)
	b.mu.Lock()
	b.data = nil
	b.mu.Unlock()
}

// read copies n bytes at offset for the GPU.
func (b *Buffer) read(offset uint64, n int) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil || offset+uint64(n) > uint64(len(b.data)) {
		return nil, false
	}
	out := make([]byte, n)
	copy(out, b.data[offset:])
	return out, true
}
