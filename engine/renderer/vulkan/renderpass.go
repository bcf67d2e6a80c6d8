package vulkan

import (
	vk "github.com/goki/vulkan"
)

// renderPass returns the device's single-subpass color pass for format,
// creating it on first use. The pass loads and stores its attachment and
// leaves layout changes to explicit barriers, so it starts and ends in
// COLOR_ATTACHMENT_OPTIMAL.
func (d *Device) renderPass(format vk.Format) (vk.RenderPass, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rp, ok := d.renderPasses[format]; ok {
		return rp, nil
	}

	colorAttachment := vk.AttachmentDescription{
		Format:         format,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpLoad,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutColorAttachmentOptimal,
		FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
	}

	colorAttachmentReference := []vk.AttachmentReference{{
		Attachment: 0,
		Layout:     vk.ImageLayoutColorAttachmentOptimal,
	}}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments:    colorAttachmentReference,
	}

	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vk.AttachmentDescription{colorAttachment},
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
	}

	var rp vk.RenderPass
	if err := resultError("vkCreateRenderPass", vk.CreateRenderPass(d.logical, &renderpassCreateInfo, d.allocator, &rp)); err != nil {
		return nil, err
	}
	d.renderPasses[format] = rp
	return rp, nil
}

// beginRenderPass starts the pass on fb covering its whole extent.
func beginRenderPass(cb vk.CommandBuffer, fb *VulkanFramebuffer) {
	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  fb.Renderpass,
		Framebuffer: fb.Handle,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: fb.Width, Height: fb.Height},
		},
	}
	vk.CmdBeginRenderPass(cb, &beginInfo, vk.SubpassContentsInline)
}
