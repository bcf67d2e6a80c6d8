// Package hal is the backend-neutral GPU object model the renderer drives.
// It follows an explicit API shape: adapters, a device with one direct queue,
// a flip swapchain, command allocators and lists with transition barriers,
// and a fence exposing a monotonically increasing completed value.
package hal

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceRemoved = errors.New("device removed")
	ErrSurfaceLost   = errors.New("surface lost")
	ErrOutOfMemory   = errors.New("out of memory")
	ErrInvalidCall   = errors.New("invalid call")
	ErrUnsupported   = errors.New("unsupported")
)

// Destroyer releases the backend object.
type Destroyer interface {
	Destroy()
}

type FeatureLevel uint32

const (
	FeatureLevel11_0 FeatureLevel = 0xb000
	FeatureLevel11_1 FeatureLevel = 0xb100
	FeatureLevel12_0 FeatureLevel = 0xc000
	FeatureLevel12_1 FeatureLevel = 0xc100
)

func (f FeatureLevel) String() string {
	return fmt.Sprintf("%d_%d", f>>12, (f>>8)&0xf)
}

type Format uint32

const (
	FormatUnknown Format = iota
	FormatR8G8B8A8Unorm
	FormatR32G32B32Float
	FormatR32G32B32A32Float
)

func (f Format) String() string {
	switch f {
	case FormatR8G8B8A8Unorm:
		return "R8G8B8A8_UNORM"
	case FormatR32G32B32Float:
		return "R32G32B32_FLOAT"
	case FormatR32G32B32A32Float:
		return "R32G32B32A32_FLOAT"
	default:
		return "UNKNOWN"
	}
}

// Size returns the size in bytes of one element.
func (f Format) Size() uint32 {
	switch f {
	case FormatR8G8B8A8Unorm:
		return 4
	case FormatR32G32B32Float:
		return 12
	case FormatR32G32B32A32Float:
		return 16
	default:
		return 0
	}
}

// ResourceState is the access mode of a resource as seen by the GPU.
type ResourceState uint32

const (
	ResourceStatePresent      ResourceState = 0
	ResourceStateRenderTarget ResourceState = 0x4
	ResourceStateGenericRead  ResourceState = 0xac3
)

func (s ResourceState) String() string {
	switch s {
	case ResourceStatePresent:
		return "PRESENT"
	case ResourceStateRenderTarget:
		return "RENDER_TARGET"
	case ResourceStateGenericRead:
		return "GENERIC_READ"
	default:
		return fmt.Sprintf("STATE(%#x)", uint32(s))
	}
}

type PrimitiveTopology uint32

const (
	TopologyUndefined PrimitiveTopology = iota
	TopologyTriangleList
)

type AdapterInfo struct {
	Name                 string
	VendorID             uint32
	DeviceID             uint32
	DedicatedVideoMemory uint64
	// Software is set for fallback rasterizers (WARP, llvmpipe, ...).
	Software bool
}

type Instance interface {
	Destroyer
	// EnumerateAdapters lists adapters in backend order.
	EnumerateAdapters() ([]Adapter, error)
}

type Adapter interface {
	Info() AdapterInfo
	CheckFeatureLevel(level FeatureLevel) bool
	CreateDevice(level FeatureLevel) (Device, error)
}

type Device interface {
	Destroyer
	CreateCommandQueue() (Queue, error)
	CreateSwapchain(queue Queue, window Window, desc SwapchainDesc) (Swapchain, error)
	CreateCommandAllocator() (CommandAllocator, error)
	// CreateCommandList returns a closed list bound to allocator.
	CreateCommandList(allocator CommandAllocator, pipeline PipelineState) (CommandList, error)
	CreateRootSignature(desc RootSignatureDesc) (RootSignature, error)
	CreatePipelineState(desc *PipelineStateDesc) (PipelineState, error)
	// CreateUploadBuffer allocates CPU-writable GPU-readable memory.
	CreateUploadBuffer(size uint64) (Buffer, error)
	CreateFence(initial uint64) (Fence, error)
}

type Queue interface {
	ExecuteCommandLists(lists ...CommandList) error
	// Signal schedules the fence to reach value once prior work completes.
	Signal(fence Fence, value uint64) error
}

// Window is the windowing collaborator: a native handle and the drawable size in pixels.
type Window interface {
	NativeHandle() any
	FramebufferSize() (width, height int)
}

type SwapchainDesc struct {
	Width       int
	Height      int
	Format      Format
	BufferCount int
}

type Swapchain interface {
	Destroyer
	BufferCount() int
	Buffer(index int) Resource
	RenderTargetView(index int) RenderTargetView
	// CurrentBackBufferIndex returns the buffer the next frame must render into.
	CurrentBackBufferIndex() int
	Present(syncInterval int) error
}

// Resource is any GPU resource that barriers can refer to.
type Resource interface {
	Name() string
}

type RenderTargetView interface {
	Resource() Resource
}

type Buffer interface {
	Resource
	Destroyer
	Size() uint64
	Map() ([]byte, error)
	Unmap()
	GPUVirtualAddress() uint64
}

type CommandAllocator interface {
	Destroyer
	Reset() error
}

// CommandList records commands. Recording calls do not return errors;
// failures are reported by Close.
type CommandList interface {
	Destroyer
	Reset(allocator CommandAllocator, pipeline PipelineState) error
	SetGraphicsRootSignature(rs RootSignature)
	SetViewports(viewports ...Viewport)
	SetScissorRects(rects ...Rect)
	ResourceBarrier(barriers ...Barrier)
	SetRenderTargets(views ...RenderTargetView)
	ClearRenderTargetView(view RenderTargetView, color [4]float32)
	SetPrimitiveTopology(topology PrimitiveTopology)
	SetVertexBuffers(startSlot uint32, views ...VertexBufferView)
	DrawInstanced(vertexCountPerInstance, instanceCount, startVertex, startInstance uint32)
	Close() error
}

type Fence interface {
	Destroyer
	CompletedValue() uint64
	// EventOnCompletion returns a channel closed once the completed value reaches value.
	EventOnCompletion(value uint64) (<-chan struct{}, error)
}

type RootSignature interface {
	Destroyer
}

type PipelineState interface {
	Destroyer
}

type RootSignatureDesc struct {
	AllowInputAssemblerInputLayout bool
}

type InputElement struct {
	SemanticName      string
	SemanticIndex     uint32
	Format            Format
	InputSlot         uint32
	AlignedByteOffset uint32
}

type PipelineStateDesc struct {
	RootSignature RootSignature
	VertexShader  []byte
	PixelShader   []byte
	InputLayout   []InputElement
	// Stride of slot 0 in bytes.
	VertexStride     uint32
	RenderTargetFmts []Format
	CullNone         bool
	BlendEnable      bool
	DepthEnable      bool
}

type Viewport struct {
	TopLeftX float32
	TopLeftY float32
	Width    float32
	Height   float32
	MinDepth float32
	MaxDepth float32
}

type Rect struct {
	Left   int32
	Top    int32
	Right  int32
	Bottom int32
}

type Barrier struct {
	Resource Resource
	Before   ResourceState
	After    ResourceState
}

// Transition builds a transition barrier for all subresources of r.
func Transition(r Resource, before, after ResourceState) Barrier {
	return Barrier{
		Resource: r,
		Before:   before,
		After:    after,
	}
}

type VertexBufferView struct {
	BufferLocation uint64
	SizeInBytes    uint32
	StrideInBytes  uint32
}
