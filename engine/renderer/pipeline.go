package renderer

import (
	"fmt"

	"github.com/spaghettifunk/hellotriangle/engine/core"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

const ownerRecorder = "recorder"

// ShaderSet holds the precompiled vertex and pixel stage blobs.
type ShaderSet struct {
	Vertex []byte
	Pixel  []byte
}

// Pipeline is the root signature and pipeline state the recorder binds.
type Pipeline struct {
	rootSignature *core.Owned[hal.RootSignature]
	state         *core.Owned[hal.PipelineState]
}

// NewPipeline builds a solid, unculled, unblended pipeline drawing Vertex
// triangles into one TargetFormat render target.
func NewPipeline(dc *DeviceContext, shaders ShaderSet) (*Pipeline, error) {
	if len(shaders.Vertex) == 0 || len(shaders.Pixel) == 0 {
		return nil, fmt.Errorf("pipeline needs both shader stages: %w", core.ErrShaderMissing)
	}
	dev := dc.Device()

	rs, err := dev.CreateRootSignature(hal.RootSignatureDesc{AllowInputAssemblerInputLayout: true})
	if err != nil {
		return nil, mapDeviceError("creating root signature", err, core.ErrAllocation)
	}
	pso, err := dev.CreatePipelineState(&hal.PipelineStateDesc{
		RootSignature:    rs,
		VertexShader:     shaders.Vertex,
		PixelShader:      shaders.Pixel,
		InputLayout:      VertexLayout,
		VertexStride:     VertexStride,
		RenderTargetFmts: []hal.Format{TargetFormat},
		CullNone:         true,
	})
	if err != nil {
		rs.Destroy()
		return nil, mapDeviceError("creating pipeline state", err, core.ErrAllocation)
	}
	return &Pipeline{
		rootSignature: core.Own(dc.Registry(), ownerRecorder, "root-signature", rs),
		state:         core.Own(dc.Registry(), ownerRecorder, "pipeline-state", pso),
	}, nil
}

func (p *Pipeline) RootSignature() hal.RootSignature {
	return p.rootSignature.Get()
}

func (p *Pipeline) State() hal.PipelineState {
	return p.state.Get()
}

func (p *Pipeline) Destroy() error {
	if err := p.state.Release(); err != nil {
		return err
	}
	return p.rootSignature.Release()
}
