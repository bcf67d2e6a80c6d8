package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/hellotriangle/engine/core"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

// RootSignature is a pipeline layout without descriptor sets or push constants.
type RootSignature struct {
	dev    *Device
	Handle vk.PipelineLayout
}

func (d *Device) CreateRootSignature(desc hal.RootSignatureDesc) (hal.RootSignature, error) {
	if err := d.Removed(); err != nil {
		return nil, err
	}
	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         0,
		PSetLayouts:            nil,
		PushConstantRangeCount: 0,
		PPushConstantRanges:    nil,
	}
	rs := &RootSignature{dev: d}
	if err := d.locks.SafeCall(PipelineManagement, func() error {
		return resultError("vkCreatePipelineLayout", vk.CreatePipelineLayout(d.logical, &pipelineLayoutCreateInfo, d.allocator, &rs.Handle))
	}); err != nil {
		return nil, d.check(err)
	}
	return rs, nil
}

func (rs *RootSignature) Destroy() {
	if rs.Handle == nil {
		return
	}
	_ = rs.dev.locks.SafeCall(PipelineManagement, func() error {
		vk.DestroyPipelineLayout(rs.dev.logical, rs.Handle, rs.dev.allocator)
		rs.Handle = nil
		return nil
	})
}

/**
 * @brief Holds a Vulkan graphics pipeline and the state it was baked with.
 */
type PipelineState struct {
	dev *Device
	/** @brief The internal pipeline handle. */
	Handle vk.Pipeline
	/** @brief The layout the pipeline was created against. */
	rootSignature *RootSignature
	/** @brief The stride of vertex slot 0. */
	stride uint32
}

// vertexFormat maps an input element format onto its attribute format.
func vertexFormat(f hal.Format) (vk.Format, bool) {
	switch f {
	case hal.FormatR32G32B32Float:
		return vk.FormatR32g32b32Sfloat, true
	case hal.FormatR32G32B32A32Float:
		return vk.FormatR32g32b32a32Sfloat, true
	default:
		return vk.FormatUndefined, false
	}
}

// vertexAttributes assigns shader locations to the input layout in order.
func vertexAttributes(layout []hal.InputElement, stride uint32) ([]vk.VertexInputAttributeDescription, error) {
	attributes := make([]vk.VertexInputAttributeDescription, len(layout))
	for i, e := range layout {
		if e.InputSlot != 0 {
			return nil, fmt.Errorf("input element %s%d on slot %d: %w", e.SemanticName, e.SemanticIndex, e.InputSlot, hal.ErrUnsupported)
		}
		format, ok := vertexFormat(e.Format)
		if !ok {
			return nil, fmt.Errorf("input element %s%d with format %s: %w", e.SemanticName, e.SemanticIndex, e.Format, hal.ErrUnsupported)
		}
		if e.AlignedByteOffset+e.Format.Size() > stride {
			return nil, fmt.Errorf("input element %s%d overruns stride %d: %w", e.SemanticName, e.SemanticIndex, stride, hal.ErrInvalidCall)
		}
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: uint32(i),
			Binding:  0,
			Format:   format,
			Offset:   e.AlignedByteOffset,
		}
	}
	return attributes, nil
}

func (d *Device) CreatePipelineState(desc *hal.PipelineStateDesc) (hal.PipelineState, error) {
	if err := d.Removed(); err != nil {
		return nil, err
	}
	rs, ok := desc.RootSignature.(*RootSignature)
	if !ok || rs.dev != d {
		return nil, fmt.Errorf("root signature %T does not belong to this device: %w", desc.RootSignature, hal.ErrInvalidCall)
	}
	if len(desc.RenderTargetFmts) != 1 {
		return nil, fmt.Errorf("%d render target formats, exactly one is supported: %w", len(desc.RenderTargetFmts), hal.ErrUnsupported)
	}
	if desc.DepthEnable {
		return nil, fmt.Errorf("depth testing without a depth attachment: %w", hal.ErrUnsupported)
	}
	format, err := d.nativeFormat(desc.RenderTargetFmts[0])
	if err != nil {
		return nil, err
	}
	renderPass, err := d.renderPass(format)
	if err != nil {
		return nil, d.check(err)
	}
	attributes, err := vertexAttributes(desc.InputLayout, desc.VertexStride)
	if err != nil {
		return nil, err
	}

	vertexModule, err := createShaderModule(d, "vertex", desc.VertexShader)
	if err != nil {
		return nil, err
	}
	defer vertexModule.Destroy(d)
	pixelModule, err := createShaderModule(d, "pixel", desc.PixelShader)
	if err != nil {
		return nil, err
	}
	defer pixelModule.Destroy(d)

	stages := []vk.PipelineShaderStageCreateInfo{
		vertexModule.stage(vk.ShaderStageVertexBit),
		pixelModule.stage(vk.ShaderStageFragmentBit),
	}

	// Viewport and scissor are dynamic; only the counts are baked.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		FrontFace:               vk.FrontFaceClockwise,
		CullMode:                vk.CullModeFlags(vk.CullModeBackBit),
		DepthBiasEnable:         vk.False,
	}
	if desc.CullNone {
		rasterizerCreateInfo.CullMode = vk.CullModeFlags(vk.CullModeNone)
	}

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  vk.SampleCount1Bit,
		MinSampleShading:      1.0,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		StencilTestEnable: vk.False,
	}

	colorBlendAttachmentState := vk.PipelineColorBlendAttachmentState{
		BlendEnable: vk.False,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
			vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
	}
	if desc.BlendEnable {
		colorBlendAttachmentState.BlendEnable = vk.True
		colorBlendAttachmentState.SrcColorBlendFactor = vk.BlendFactorSrcAlpha
		colorBlendAttachmentState.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		colorBlendAttachmentState.ColorBlendOp = vk.BlendOpAdd
		colorBlendAttachmentState.SrcAlphaBlendFactor = vk.BlendFactorSrcAlpha
		colorBlendAttachmentState.DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		colorBlendAttachmentState.AlphaBlendOp = vk.BlendOpAdd
	}

	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{colorBlendAttachmentState},
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	bindingDescription := vk.VertexInputBindingDescription{
		Binding:   0,
		Stride:    desc.VertexStride,
		InputRate: vk.VertexInputRateVertex,
	}
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   1,
		PVertexBindingDescriptions:      []vk.VertexInputBindingDescription{bindingDescription},
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              rs.Handle,
		RenderPass:          renderPass,
		Subpass:             0,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	if err := d.locks.SafeCall(PipelineManagement, func() error {
		return resultError("vkCreateGraphicsPipelines", vk.CreateGraphicsPipelines(
			d.logical,
			vk.PipelineCache(vk.NullHandle),
			1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo},
			d.allocator,
			pipelines))
	}); err != nil {
		return nil, d.check(err)
	}

	core.LogDebug("Graphics pipeline created!")
	return &PipelineState{
		dev:           d,
		Handle:        pipelines[0],
		rootSignature: rs,
		stride:        desc.VertexStride,
	}, nil
}

func (ps *PipelineState) Destroy() {
	if ps.Handle == nil {
		return
	}
	_ = ps.dev.locks.SafeCall(PipelineManagement, func() error {
		vk.DestroyPipeline(ps.dev.logical, ps.Handle, ps.dev.allocator)
		ps.Handle = nil
		return nil
	})
}
