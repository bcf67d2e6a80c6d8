package renderer

import (
	"bytes"
	"fmt"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/hellotriangle/engine/core"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

const ownerGeometry = "geometry"

// Vertex matches the input layout of the pipeline: float3 position, float4 colour.
type Vertex struct {
	Position mgl32.Vec3
	Color    mgl32.Vec4
}

// VertexStride is the size of one Vertex in the buffer.
const VertexStride = uint32(unsafe.Sizeof(Vertex{}))

// VertexLayout describes Vertex to the input assembler.
var VertexLayout = []hal.InputElement{
	{SemanticName: "POSITION", Format: hal.FormatR32G32B32Float, AlignedByteOffset: 0},
	{SemanticName: "COLOR", Format: hal.FormatR32G32B32A32Float, AlignedByteOffset: uint32(unsafe.Offsetof(Vertex{}.Color))},
}

// vertexBytes views the vertex array as raw bytes without copying.
func vertexBytes(vertices []Vertex) []byte {
	if len(vertices) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&vertices[0])), len(vertices)*int(VertexStride))
}

// StaticGeometry is a vertex buffer written once through an upload heap and
// never modified afterwards.
type StaticGeometry struct {
	buffer *core.Owned[hal.Buffer]
	view   hal.VertexBufferView
	count  uint32
}

// UploadGeometry copies vertices into a new CPU-writable, GPU-readable buffer.
// The mapped region is compared byte for byte before it is unmapped. This is
// only fit for small data uploaded once.
func UploadGeometry(dc *DeviceContext, vertices []Vertex) (*StaticGeometry, error) {
	if len(vertices) == 0 {
		return nil, fmt.Errorf("no vertices to upload: %w", core.ErrAllocation)
	}
	src := vertexBytes(vertices)
	size := uint64(len(src))

	buf, err := dc.Device().CreateUploadBuffer(size)
	if err != nil {
		return nil, mapDeviceError(fmt.Sprintf("allocating %d byte vertex buffer", size), err, core.ErrAllocation)
	}

	mapped, err := buf.Map()
	if err != nil {
		buf.Destroy()
		return nil, mapDeviceError("mapping vertex buffer", err, core.ErrAllocation)
	}
	if uint64(len(mapped)) < size {
		buf.Unmap()
		buf.Destroy()
		return nil, fmt.Errorf("mapped %d bytes, need %d: %w", len(mapped), size, core.ErrAllocation)
	}
	copy(mapped, src)
	if !bytes.Equal(mapped[:size], src) {
		buf.Unmap()
		buf.Destroy()
		return nil, fmt.Errorf("vertex buffer readback differs from source: %w", core.ErrAllocation)
	}
	buf.Unmap()

	core.LogDebug("uploaded %d vertices (%d bytes) at %#x", len(vertices), size, buf.GPUVirtualAddress())
	return &StaticGeometry{
		buffer: core.Own(dc.Registry(), ownerGeometry, "vertex-buffer", buf),
		view: hal.VertexBufferView{
			BufferLocation: buf.GPUVirtualAddress(),
			SizeInBytes:    uint32(size),
			StrideInBytes:  VertexStride,
		},
		count: uint32(len(vertices)),
	}, nil
}

func (g *StaticGeometry) View() hal.VertexBufferView {
	return g.view
}

func (g *StaticGeometry) VertexCount() uint32 {
	return g.count
}

func (g *StaticGeometry) Stride() uint32 {
	return g.view.StrideInBytes
}

func (g *StaticGeometry) Buffer() hal.Buffer {
	return g.buffer.Get()
}

func (g *StaticGeometry) Destroy() error {
	return g.buffer.Release()
}
