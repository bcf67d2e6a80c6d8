package vulkan

import (
	"fmt"
	"math"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/hellotriangle/engine/core"
	enginemath "github.com/spaghettifunk/hellotriangle/engine/math"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

type VulkanSwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

// Swapchain presents FIFO. The next image is acquired right after every
// present, so CurrentBackBufferIndex is always the image to render into.
type Swapchain struct {
	dev     *Device
	surface vk.Surface
	handle  vk.Swapchain
	format  vk.SurfaceFormat
	extent  vk.Extent2D
	images  []*VulkanImage
	views   []*renderTargetView

	mu                sync.Mutex
	acquireSemaphores []vk.Semaphore
	nextSemaphore     int
	current           int
	// acquired is signaled when images[current] is ready. The first
	// submission or present touching that image consumes it.
	acquired  vk.Semaphore
	presented uint64
}

func (d *Device) CreateSwapchain(queue hal.Queue, window hal.Window, desc hal.SwapchainDesc) (hal.Swapchain, error) {
	if q, ok := queue.(*Queue); !ok || q.dev != d {
		return nil, fmt.Errorf("queue %T does not belong to this device: %w", queue, hal.ErrInvalidCall)
	}
	sw, ok := window.NativeHandle().(SurfaceWindow)
	if !ok {
		return nil, fmt.Errorf("window handle %T cannot create a Vulkan surface: %w", window.NativeHandle(), hal.ErrUnsupported)
	}
	if desc.Width <= 0 || desc.Height <= 0 || desc.BufferCount < 2 {
		return nil, fmt.Errorf("swapchain %dx%d with %d buffers: %w", desc.Width, desc.Height, desc.BufferCount, hal.ErrInvalidCall)
	}

	surfacePtr, err := sw.CreateWindowSurface(d.adapter.inst.handle, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot create surface within window: %v: %w", err, hal.ErrUnsupported)
	}
	s := &Swapchain{
		dev:     d,
		surface: vk.SurfaceFromPointer(surfacePtr),
	}
	if err := s.create(desc); err != nil {
		s.Destroy()
		return nil, err
	}
	return s, nil
}

func (s *Swapchain) create(desc hal.SwapchainDesc) error {
	d := s.dev

	var supportsPresent vk.Bool32
	if err := resultError("vkGetPhysicalDeviceSurfaceSupport", vk.GetPhysicalDeviceSurfaceSupport(d.physical, d.family, s.surface, &supportsPresent)); err != nil {
		return err
	}
	if supportsPresent != vk.True {
		return fmt.Errorf("queue family %d cannot present to the surface: %w", d.family, hal.ErrUnsupported)
	}

	support, err := querySwapchainSupport(d.physical, s.surface)
	if err != nil {
		return err
	}
	if len(support.Formats) == 0 || len(support.PresentModes) == 0 {
		return fmt.Errorf("surface reports no formats or present modes: %w", hal.ErrUnsupported)
	}
	if desc.Format != hal.FormatR8G8B8A8Unorm {
		return fmt.Errorf("swapchain format %s: %w", desc.Format, hal.ErrUnsupported)
	}

	s.format = chooseSurfaceFormat(support.Formats)
	d.mu.Lock()
	d.targetFormat = s.format.Format
	d.mu.Unlock()

	caps := support.Capabilities
	s.extent = caps.CurrentExtent
	if s.extent.Width == math.MaxUint32 {
		s.extent = vk.Extent2D{
			Width:  enginemath.Clamp(uint32(desc.Width), caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
			Height: enginemath.Clamp(uint32(desc.Height), caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
		}
	}

	imageCount := uint32(desc.BufferCount)
	if imageCount < caps.MinImageCount {
		imageCount = caps.MinImageCount
	}
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          s.surface,
		MinImageCount:    imageCount,
		ImageFormat:      s.format.Format,
		ImageColorSpace:  s.format.ColorSpace,
		ImageExtent:      s.extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      vk.PresentModeFifo,
		Clipped:          vk.True,
	}
	if err := resultError("vkCreateSwapchain", vk.CreateSwapchain(d.logical, &swapchainCreateInfo, d.allocator, &s.handle)); err != nil {
		return err
	}

	var count uint32
	if err := resultError("vkGetSwapchainImages", vk.GetSwapchainImages(d.logical, s.handle, &count, nil)); err != nil {
		return err
	}
	handles := make([]vk.Image, count)
	if err := resultError("vkGetSwapchainImages", vk.GetSwapchainImages(d.logical, s.handle, &count, handles)); err != nil {
		return err
	}

	renderPass, err := d.renderPass(s.format.Format)
	if err != nil {
		return err
	}
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	for i, handle := range handles[:count] {
		img := &VulkanImage{
			name:      fmt.Sprintf("backbuffer[%d]", i),
			swapchain: s,
			Handle:    handle,
			Width:     s.extent.Width,
			Height:    s.extent.Height,
		}
		s.images = append(s.images, img)
		s.views = append(s.views, &renderTargetView{image: img})

		viewInfo := vk.ImageViewCreateInfo{
			SType:            vk.StructureTypeImageViewCreateInfo,
			Image:            handle,
			ViewType:         vk.ImageViewType2d,
			Format:           s.format.Format,
			SubresourceRange: colorSubresourceRange(),
		}
		if err := resultError("vkCreateImageView", vk.CreateImageView(d.logical, &viewInfo, d.allocator, &img.View)); err != nil {
			return err
		}
		if img.Framebuffer, err = FramebufferCreate(d, renderPass, s.extent.Width, s.extent.Height, []vk.ImageView{img.View}); err != nil {
			return err
		}
		if err := resultError("vkCreateSemaphore", vk.CreateSemaphore(d.logical, &semaphoreCreateInfo, d.allocator, &img.renderDone)); err != nil {
			return err
		}
	}

	// One more than the image count so a semaphore is never reused while
	// its acquire may still be pending.
	s.acquireSemaphores = make([]vk.Semaphore, len(s.images)+1)
	for i := range s.acquireSemaphores {
		if err := resultError("vkCreateSemaphore", vk.CreateSemaphore(d.logical, &semaphoreCreateInfo, d.allocator, &s.acquireSemaphores[i])); err != nil {
			return err
		}
	}

	if err := s.initializeLayouts(); err != nil {
		return err
	}
	if err := s.acquire(); err != nil {
		return err
	}

	core.LogInfo("Swapchain created: %dx%d, %d images, format %d.", s.extent.Width, s.extent.Height, len(s.images), s.format.Format)
	return nil
}

func querySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface) (*VulkanSwapchainSupportInfo, error) {
	support := &VulkanSwapchainSupportInfo{}
	if err := resultError("vkGetPhysicalDeviceSurfaceCapabilities", vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &support.Capabilities)); err != nil {
		return nil, err
	}
	support.Capabilities.Deref()
	support.Capabilities.CurrentExtent.Deref()
	support.Capabilities.MinImageExtent.Deref()
	support.Capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	if err := resultError("vkGetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, nil)); err != nil {
		return nil, err
	}
	if formatCount != 0 {
		support.Formats = make([]vk.SurfaceFormat, formatCount)
		if err := resultError("vkGetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, support.Formats)); err != nil {
			return nil, err
		}
		for i := range support.Formats {
			support.Formats[i].Deref()
		}
	}

	var modeCount uint32
	if err := resultError("vkGetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, nil)); err != nil {
		return nil, err
	}
	if modeCount != 0 {
		support.PresentModes = make([]vk.PresentMode, modeCount)
		if err := resultError("vkGetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, support.PresentModes)); err != nil {
			return nil, err
		}
	}
	return support, nil
}

// chooseSurfaceFormat prefers RGBA8 and falls back to BGRA8, the format
// most presentation engines expose.
func chooseSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, want := range []vk.Format{vk.FormatR8g8b8a8Unorm, vk.FormatB8g8r8a8Unorm} {
		for _, f := range formats {
			if f.Format == want && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
				return f
			}
		}
	}
	if len(formats) == 1 && formats[0].Format == vk.FormatUndefined {
		return vk.SurfaceFormat{Format: vk.FormatR8g8b8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	}
	return formats[0]
}

// initializeLayouts moves every image from UNDEFINED to PRESENT_SRC so
// frames can treat all back buffers alike.
func (s *Swapchain) initializeLayouts() error {
	return s.dev.singleUse(func(cb vk.CommandBuffer) {
		barriers := make([]vk.ImageMemoryBarrier, len(s.images))
		for i, img := range s.images {
			barriers[i] = vk.ImageMemoryBarrier{
				SType:               vk.StructureTypeImageMemoryBarrier,
				OldLayout:           vk.ImageLayoutUndefined,
				NewLayout:           vk.ImageLayoutPresentSrc,
				SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
				DstQueueFamilyIndex: vk.QueueFamilyIgnored,
				Image:               img.Handle,
				SubresourceRange:    colorSubresourceRange(),
			}
		}
		vk.CmdPipelineBarrier(cb,
			vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
			vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
			0,
			0, nil,
			0, nil,
			uint32(len(barriers)), barriers)
	})
}

func (s *Swapchain) acquire() error {
	sem := s.acquireSemaphores[s.nextSemaphore]
	s.nextSemaphore = (s.nextSemaphore + 1) % len(s.acquireSemaphores)

	var index uint32
	res := vk.AcquireNextImage(s.dev.logical, s.handle, math.MaxUint64, sem, vk.NullFence, &index)
	if err := resultError("vkAcquireNextImage", res); err != nil {
		return err
	}
	if res == vk.Suboptimal {
		core.LogDebug("swapchain is suboptimal for the surface")
	}
	s.current = int(index)
	s.acquired = sem
	return nil
}

func (s *Swapchain) BufferCount() int { return len(s.images) }

func (s *Swapchain) Buffer(index int) hal.Resource { return s.images[index] }

func (s *Swapchain) RenderTargetView(index int) hal.RenderTargetView { return s.views[index] }

func (s *Swapchain) CurrentBackBufferIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Presented counts successful presents.
func (s *Swapchain) Presented() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presented
}

// submission returns the semaphores a submission writing img waits on and
// signals, and marks img as written.
func (s *Swapchain) submission(img *VulkanImage) (waits []vk.Semaphore, signal vk.Semaphore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.images[s.current] == img && s.acquired != nil {
		waits = append(waits, s.acquired)
		s.acquired = nil
	}
	if img.written {
		waits = append(waits, img.renderDone)
	}
	img.written = true
	return waits, img.renderDone
}

// Present queues the current image. The sync interval is validated but the
// swapchain always presents FIFO, which waits for one vertical blank.
func (s *Swapchain) Present(syncInterval int) error {
	if syncInterval < 0 || syncInterval > 4 {
		return fmt.Errorf("sync interval %d: %w", syncInterval, hal.ErrInvalidCall)
	}
	d := s.dev
	if err := d.Removed(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	img := s.images[s.current]
	var waits []vk.Semaphore
	if s.acquired != nil {
		waits = append(waits, s.acquired)
		s.acquired = nil
	}
	if img.written {
		waits = append(waits, img.renderDone)
		img.written = false
	}

	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(waits)),
		PWaitSemaphores:    waits,
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.handle},
		PImageIndices:      []uint32{uint32(s.current)},
	}
	err := d.locks.SafeQueueCall(d.family, func() error {
		return resultError("vkQueuePresent", vk.QueuePresent(d.queue, &presentInfo))
	})
	if err != nil {
		return d.check(err)
	}
	s.presented++
	return d.check(s.acquire())
}

func (s *Swapchain) Destroy() {
	d := s.dev
	d.waitIdle()
	for _, img := range s.images {
		if img.Framebuffer != nil {
			img.Framebuffer.Destroy(d)
		}
		if img.View != nil {
			vk.DestroyImageView(d.logical, img.View, d.allocator)
			img.View = nil
		}
		if img.renderDone != vk.NullSemaphore {
			vk.DestroySemaphore(d.logical, img.renderDone, d.allocator)
			img.renderDone = vk.NullSemaphore
		}
	}
	for i, sem := range s.acquireSemaphores {
		if sem != vk.NullSemaphore {
			vk.DestroySemaphore(d.logical, sem, d.allocator)
			s.acquireSemaphores[i] = vk.NullSemaphore
		}
	}
	if s.handle != nil {
		vk.DestroySwapchain(d.logical, s.handle, d.allocator)
		s.handle = nil
	}
	if s.surface != nil {
		vk.DestroySurface(d.adapter.inst.handle, s.surface, d.allocator)
		s.surface = nil
	}
}
