package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

// VulkanImage is a swapchain-owned color image with its view and framebuffer.
type VulkanImage struct {
	name        string
	swapchain   *Swapchain
	Handle      vk.Image
	View        vk.ImageView
	Framebuffer *VulkanFramebuffer
	Width       uint32
	Height      uint32

	// renderDone is signaled by the last submission that wrote the image
	// and waited on by its present.
	renderDone vk.Semaphore
	// written is set once a submission since the last present signaled renderDone.
	written bool
}

func (img *VulkanImage) Name() string { return img.name }

type renderTargetView struct {
	image *VulkanImage
}

func (v *renderTargetView) Resource() hal.Resource { return v.image }

// imageLayout maps a resource state onto the layout the image is in.
func imageLayout(state hal.ResourceState) (vk.ImageLayout, bool) {
	switch state {
	case hal.ResourceStatePresent:
		return vk.ImageLayoutPresentSrc, true
	case hal.ResourceStateRenderTarget:
		return vk.ImageLayoutColorAttachmentOptimal, true
	case hal.ResourceStateGenericRead:
		return vk.ImageLayoutGeneral, true
	default:
		return vk.ImageLayoutUndefined, false
	}
}

// stageAccess returns the stage and access scope of a layout for barriers.
func stageAccess(layout vk.ImageLayout) (vk.PipelineStageFlags, vk.AccessFlags) {
	switch layout {
	case vk.ImageLayoutColorAttachmentOptimal:
		return vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit)
	case vk.ImageLayoutGeneral:
		return vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
			vk.AccessFlags(vk.AccessMemoryReadBit)
	default:
		// Presentation engine reads are made visible by the acquire semaphore.
		return vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit), 0
	}
}

func colorSubresourceRange() vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
		BaseMipLevel:   0,
		LevelCount:     1,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}
