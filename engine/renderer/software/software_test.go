package software

import (
	"bytes"
	"encoding/binary"
	"errors"
	stdmath "math"
	"testing"
	"time"

	"golang.org/x/image/bmp"

	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

const (
	testWidth  = 64
	testHeight = 48
)

type fixture struct {
	dev       *Device
	queue     hal.Queue
	swapchain *Swapchain
	allocator *CommandAllocator
	list      hal.CommandList
	rootSig   hal.RootSignature
	pipeline  hal.PipelineState
	vb        hal.Buffer
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	inst := NewInstance(opts)
	adapters, err := inst.EnumerateAdapters()
	if err != nil || len(adapters) == 0 {
		t.Fatalf("EnumerateAdapters = %v, %v", adapters, err)
	}
	d, err := adapters[0].CreateDevice(hal.FeatureLevel11_0)
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	dev := d.(*Device)
	t.Cleanup(dev.Destroy)

	f := &fixture{dev: dev}
	if f.queue, err = dev.CreateCommandQueue(); err != nil {
		t.Fatal(err)
	}
	sc, err := dev.CreateSwapchain(f.queue, nil, hal.SwapchainDesc{
		Width:       testWidth,
		Height:      testHeight,
		Format:      hal.FormatR8G8B8A8Unorm,
		BufferCount: 2,
	})
	if err != nil {
		t.Fatalf("CreateSwapchain: %v", err)
	}
	f.swapchain = sc.(*Swapchain)

	if f.rootSig, err = dev.CreateRootSignature(hal.RootSignatureDesc{AllowInputAssemblerInputLayout: true}); err != nil {
		t.Fatal(err)
	}
	f.pipeline, err = dev.CreatePipelineState(&hal.PipelineStateDesc{
		RootSignature: f.rootSig,
		VertexShader:  []byte{1},
		PixelShader:   []byte{1},
		InputLayout: []hal.InputElement{
			{SemanticName: "POSITION", Format: hal.FormatR32G32B32Float},
			{SemanticName: "COLOR", Format: hal.FormatR32G32B32A32Float, AlignedByteOffset: 12},
		},
		VertexStride:     28,
		RenderTargetFmts: []hal.Format{hal.FormatR8G8B8A8Unorm},
		CullNone:         true,
	})
	if err != nil {
		t.Fatalf("CreatePipelineState: %v", err)
	}

	alloc, err := dev.CreateCommandAllocator()
	if err != nil {
		t.Fatal(err)
	}
	f.allocator = alloc.(*CommandAllocator)
	if f.list, err = dev.CreateCommandList(alloc, f.pipeline); err != nil {
		t.Fatal(err)
	}

	// one red triangle covering the centre
	verts := [][7]float32{
		{0, 0.5, 0, 1, 0, 0, 1},
		{0.5, -0.5, 0, 1, 0, 0, 1},
		{-0.5, -0.5, 0, 1, 0, 0, 1},
	}
	if f.vb, err = dev.CreateUploadBuffer(uint64(len(verts) * 28)); err != nil {
		t.Fatal(err)
	}
	mem, err := f.vb.Map()
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range verts {
		for j, c := range v {
			binary.LittleEndian.PutUint32(mem[i*28+j*4:], stdmath.Float32bits(c))
		}
	}
	f.vb.Unmap()
	return f
}

// record fills the list with a full frame for the current back buffer.
func (f *fixture) record(t *testing.T, before hal.ResourceState) {
	t.Helper()
	if err := f.allocator.Reset(); err != nil {
		t.Fatalf("allocator Reset: %v", err)
	}
	if err := f.list.Reset(f.allocator, f.pipeline); err != nil {
		t.Fatalf("list Reset: %v", err)
	}
	i := f.swapchain.CurrentBackBufferIndex()
	target := f.swapchain.Buffer(i)
	rtv := f.swapchain.RenderTargetView(i)
	f.list.SetGraphicsRootSignature(f.rootSig)
	f.list.SetViewports(hal.Viewport{Width: testWidth, Height: testHeight, MaxDepth: 1})
	f.list.SetScissorRects(hal.Rect{Right: testWidth, Bottom: testHeight})
	f.list.ResourceBarrier(hal.Transition(target, before, hal.ResourceStateRenderTarget))
	f.list.SetRenderTargets(rtv)
	f.list.ClearRenderTargetView(rtv, [4]float32{0, 0.2, 0.4, 1})
	f.list.SetPrimitiveTopology(hal.TopologyTriangleList)
	f.list.SetVertexBuffers(0, hal.VertexBufferView{BufferLocation: f.vb.GPUVirtualAddress(), SizeInBytes: 84, StrideInBytes: 28})
	f.list.DrawInstanced(3, 1, 0, 0)
	f.list.ResourceBarrier(hal.Transition(target, hal.ResourceStateRenderTarget, hal.ResourceStatePresent))
	if err := f.list.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestAdapterFeatureLevel(t *testing.T) {
	inst := NewInstance(Options{Adapters: []AdapterConfig{{Name: "old", FeatureLevel: hal.FeatureLevel11_0}}})
	adapters, _ := inst.EnumerateAdapters()
	a := adapters[0]
	if !a.CheckFeatureLevel(hal.FeatureLevel11_0) {
		t.Error("11_0 adapter should support 11_0")
	}
	if a.CheckFeatureLevel(hal.FeatureLevel12_0) {
		t.Error("11_0 adapter should not support 12_0")
	}
	if _, err := a.CreateDevice(hal.FeatureLevel12_0); !errors.Is(err, hal.ErrUnsupported) {
		t.Errorf("CreateDevice(12_0) = %v, want ErrUnsupported", err)
	}
}

func TestDrawTriangle(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	f.record(t, hal.ResourceStatePresent)
	if err := f.queue.ExecuteCommandLists(f.list); err != nil {
		t.Fatalf("ExecuteCommandLists: %v", err)
	}
	if err := f.swapchain.Present(1); err != nil {
		t.Fatalf("Present: %v", err)
	}
	f.dev.WaitIdle()

	if errs := f.dev.Trace().Errors(); len(errs) != 0 {
		t.Fatalf("validation errors: %v", errs)
	}
	img := f.swapchain.Frontbuffer()
	if got := img.RGBAAt(testWidth/2, testHeight/2); got.R != 255 || got.G != 0 || got.B != 0 {
		t.Errorf("centre pixel = %v, want red", got)
	}
	if got := img.RGBAAt(1, 1); got.R != 0 || got.G != 51 || got.B != 102 || got.A != 255 {
		t.Errorf("corner pixel = %v, want clear colour", got)
	}
	if f.swapchain.Presented() != 1 {
		t.Errorf("Presented = %d, want 1", f.swapchain.Presented())
	}
	if f.swapchain.CurrentBackBufferIndex() != 1 {
		t.Errorf("back buffer after present = %d, want 1", f.swapchain.CurrentBackBufferIndex())
	}
}

func TestAllocatorResetWhileExecuting(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	f.dev.Pause()
	f.record(t, hal.ResourceStatePresent)
	if err := f.queue.ExecuteCommandLists(f.list); err != nil {
		t.Fatal(err)
	}
	if err := f.allocator.Reset(); !errors.Is(err, hal.ErrInvalidCall) {
		t.Fatalf("Reset while executing = %v, want ErrInvalidCall", err)
	}
	if f.allocator.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", f.allocator.Pending())
	}
	f.dev.Resume()
	f.dev.WaitIdle()
	if err := f.allocator.Reset(); err != nil {
		t.Fatalf("Reset after completion: %v", err)
	}
}

func TestBarrierMismatchRemovesDevice(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	f.record(t, hal.ResourceStateGenericRead)
	if err := f.queue.ExecuteCommandLists(f.list); err != nil {
		t.Fatal(err)
	}
	f.dev.WaitIdle()

	if f.dev.Removed() == nil {
		t.Fatal("device should be removed after an invalid barrier")
	}
	if err := f.swapchain.Present(1); !errors.Is(err, hal.ErrDeviceRemoved) {
		t.Errorf("Present = %v, want ErrDeviceRemoved", err)
	}
	if len(f.dev.Trace().Errors()) != 1 {
		t.Errorf("Errors = %v, want one", f.dev.Trace().Errors())
	}
}

func TestCloseReportsRecordingErrors(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	if err := f.list.Reset(f.allocator, nil); err != nil {
		t.Fatal(err)
	}
	f.list.DrawInstanced(3, 1, 0, 0)
	if err := f.list.Close(); !errors.Is(err, hal.ErrInvalidCall) {
		t.Fatalf("Close = %v, want ErrInvalidCall", err)
	}
	if err := f.queue.ExecuteCommandLists(f.list); err == nil {
		t.Error("executing a list that failed to close should fail")
	}
	if err := f.list.Close(); err == nil {
		t.Error("second Close should fail")
	}
}

func TestFenceEventOnCompletion(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	fence, err := f.dev.CreateFence(0)
	if err != nil {
		t.Fatal(err)
	}
	f.dev.Pause()
	if err := f.queue.Signal(fence, 1); err != nil {
		t.Fatal(err)
	}
	ch, err := fence.EventOnCompletion(1)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-ch:
		t.Fatal("event fired while the GPU is paused")
	case <-time.After(20 * time.Millisecond):
	}
	if fence.CompletedValue() != 0 {
		t.Errorf("CompletedValue = %d while paused", fence.CompletedValue())
	}
	f.dev.Resume()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("event did not fire after resume")
	}
	if fence.CompletedValue() != 1 {
		t.Errorf("CompletedValue = %d, want 1", fence.CompletedValue())
	}

	done, _ := fence.EventOnCompletion(1)
	select {
	case <-done:
	default:
		t.Error("event for a completed value should be closed immediately")
	}
}

func TestRemoveReleasesWaiters(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	fence, _ := f.dev.CreateFence(0)
	ch, _ := fence.EventOnCompletion(5)
	f.dev.Remove("test")
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("waiter not released by device removal")
	}
	if fence.CompletedValue() != stdmath.MaxUint64 {
		t.Errorf("CompletedValue after removal = %d", fence.CompletedValue())
	}
}

func TestUploadBufferLimits(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxAllocation = 16
	f := NewInstance(opts)
	adapters, _ := f.EnumerateAdapters()
	dev, _ := adapters[0].CreateDevice(hal.FeatureLevel11_0)
	defer dev.Destroy()

	if _, err := dev.CreateUploadBuffer(0); !errors.Is(err, hal.ErrInvalidCall) {
		t.Errorf("zero size = %v", err)
	}
	if _, err := dev.CreateUploadBuffer(17); !errors.Is(err, hal.ErrOutOfMemory) {
		t.Errorf("oversized = %v", err)
	}
	b, err := dev.CreateUploadBuffer(16)
	if err != nil {
		t.Fatal(err)
	}
	b.Destroy()
	if _, err := b.Map(); err == nil {
		t.Error("Map after Destroy should fail")
	}
}

func TestCapture(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	f.record(t, hal.ResourceStatePresent)
	_ = f.queue.ExecuteCommandLists(f.list)
	_ = f.swapchain.Present(0)
	f.dev.WaitIdle()

	var buf bytes.Buffer
	if err := f.swapchain.Capture(&buf); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	img, err := bmp.Decode(&buf)
	if err != nil {
		t.Fatalf("bmp.Decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != testWidth || b.Dy() != testHeight {
		t.Errorf("captured %v, want %dx%d", b, testWidth, testHeight)
	}
}

func TestBackBufferOrder(t *testing.T) {
	opts := DefaultOptions()
	opts.BackBufferOrder = func(presented, count int) int { return 0 }
	f := newFixture(t, opts)
	for i := 0; i < 3; i++ {
		f.record(t, hal.ResourceStatePresent)
		_ = f.queue.ExecuteCommandLists(f.list)
		if err := f.swapchain.Present(1); err != nil {
			t.Fatal(err)
		}
		f.dev.WaitIdle()
		if got := f.swapchain.CurrentBackBufferIndex(); got != 0 {
			t.Fatalf("CurrentBackBufferIndex = %d, want 0", got)
		}
	}
	for _, e := range f.dev.Trace().Filter(EventPresent) {
		if e.Index != 0 {
			t.Errorf("presented buffer %d, want 0", e.Index)
		}
	}
}

func TestTraceKeepsRecentEvents(t *testing.T) {
	tr := newTrace(3)
	for i := 1; i <= 5; i++ {
		tr.add(Event{Kind: EventSignal, Value: uint64(i)})
	}
	tr.add(Event{Kind: EventValidation, Message: "bad barrier"})
	for i := 7; i <= 10; i++ {
		tr.add(Event{Kind: EventSignal, Value: uint64(i)})
	}

	events := tr.Events()
	if len(events) != 3 {
		t.Fatalf("len(Events) = %d, want 3", len(events))
	}
	for i, e := range events {
		if want := uint64(8 + i); e.Value != want {
			t.Errorf("events[%d].Value = %d, want %d", i, e.Value, want)
		}
	}
	if errs := tr.Errors(); len(errs) != 1 || errs[0] != "bad barrier" {
		t.Errorf("Errors = %v, want the evicted validation message", errs)
	}

	tr.Reset()
	if len(tr.Events()) != 0 || len(tr.Errors()) != 0 {
		t.Error("Reset left events behind")
	}
	if newTrace(0).events.Cap() != DefaultTraceLimit {
		t.Error("zero limit did not fall back to the default")
	}
}
