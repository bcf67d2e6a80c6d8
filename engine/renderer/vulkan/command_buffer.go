package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// CommandAllocator is a command pool. Resetting it recycles the memory of
// every command buffer recorded from it, which is only legal once their
// submissions completed.
type CommandAllocator struct {
	dev  *Device
	pool vk.CommandPool
	// inflight holds one fence per submission recorded from the pool.
	inflight []vk.Fence
}

func (d *Device) CreateCommandAllocator() (hal.CommandAllocator, error) {
	if err := d.Removed(); err != nil {
		return nil, err
	}
	a := &CommandAllocator{dev: d}
	createInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.family,
	}
	err := d.locks.SafeCall(CommandPoolManagement, func() error {
		return resultError("vkCreateCommandPool", vk.CreateCommandPool(d.logical, &createInfo, d.allocator, &a.pool))
	})
	if err != nil {
		return nil, d.check(err)
	}
	return a, nil
}

// Pending counts submissions from this allocator that have not completed.
func (a *CommandAllocator) Pending() int {
	n := 0
	for _, f := range a.inflight {
		if vk.GetFenceStatus(a.dev.logical, f) != vk.Success {
			n++
		}
	}
	return n
}

func (a *CommandAllocator) Reset() error {
	for _, f := range a.inflight {
		res := vk.GetFenceStatus(a.dev.logical, f)
		if res == vk.NotReady {
			return fmt.Errorf("allocator reset while %d submissions execute: %w", a.Pending(), hal.ErrInvalidCall)
		}
		if err := resultError("vkGetFenceStatus", res); err != nil {
			return a.dev.check(err)
		}
	}
	for _, f := range a.inflight {
		a.dev.recycleFence(f)
	}
	a.inflight = a.inflight[:0]

	return a.dev.check(a.dev.locks.SafeCall(CommandPoolManagement, func() error {
		return resultError("vkResetCommandPool", vk.ResetCommandPool(a.dev.logical, a.pool, 0))
	}))
}

func (a *CommandAllocator) Destroy() {
	if len(a.inflight) > 0 {
		vk.WaitForFences(a.dev.logical, uint32(len(a.inflight)), a.inflight, vk.True, ^uint64(0))
		for _, f := range a.inflight {
			a.dev.recycleFence(f)
		}
		a.inflight = nil
	}
	_ = a.dev.locks.SafeCall(CommandPoolManagement, func() error {
		vk.DestroyCommandPool(a.dev.logical, a.pool, a.dev.allocator)
		return nil
	})
	a.pool = nil
}

// CommandList wraps one primary command buffer. Recording errors are
// sticky and reported by Close, so a failed list can never be executed.
type CommandList struct {
	dev       *Device
	allocator *CommandAllocator
	Handle    vk.CommandBuffer
	State     VulkanCommandBufferState

	pipeline      *PipelineState
	rootSignature *RootSignature
	err           error
	target        *VulkanImage
	layouts       map[*VulkanImage]vk.ImageLayout
	touched       []*VulkanImage
}

func (d *Device) CreateCommandList(allocator hal.CommandAllocator, pipeline hal.PipelineState) (hal.CommandList, error) {
	alloc, ok := allocator.(*CommandAllocator)
	if !ok || alloc.dev != d {
		return nil, fmt.Errorf("allocator %T does not belong to this device: %w", allocator, hal.ErrInvalidCall)
	}
	l := &CommandList{
		dev:   d,
		State: COMMAND_BUFFER_STATE_NOT_ALLOCATED,
	}
	if err := l.allocate(alloc); err != nil {
		return nil, err
	}
	if pipeline != nil {
		ps, ok := pipeline.(*PipelineState)
		if !ok || ps.dev != d {
			l.Destroy()
			return nil, fmt.Errorf("pipeline %T does not belong to this device: %w", pipeline, hal.ErrInvalidCall)
		}
		l.pipeline = ps
	}
	return l, nil
}

func (l *CommandList) allocate(alloc *CommandAllocator) error {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        alloc.pool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}
	handles := make([]vk.CommandBuffer, 1)
	err := l.dev.locks.SafeCall(CommandPoolManagement, func() error {
		return resultError("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(l.dev.logical, &allocateInfo, handles))
	})
	if err != nil {
		return l.dev.check(err)
	}
	l.allocator = alloc
	l.Handle = handles[0]
	l.State = COMMAND_BUFFER_STATE_READY
	return nil
}

func (l *CommandList) free() {
	if l.Handle == nil {
		return
	}
	_ = l.dev.locks.SafeCall(CommandPoolManagement, func() error {
		vk.FreeCommandBuffers(l.dev.logical, l.allocator.pool, 1, []vk.CommandBuffer{l.Handle})
		return nil
	})
	l.Handle = nil
	l.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (l *CommandList) Reset(allocator hal.CommandAllocator, pipeline hal.PipelineState) error {
	alloc, ok := allocator.(*CommandAllocator)
	if !ok || alloc.dev != l.dev {
		return fmt.Errorf("allocator %T does not belong to this device: %w", allocator, hal.ErrInvalidCall)
	}
	if l.State == COMMAND_BUFFER_STATE_RECORDING || l.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		return fmt.Errorf("reset of an open command list: %w", hal.ErrInvalidCall)
	}
	if alloc != l.allocator || l.Handle == nil {
		l.free()
		if err := l.allocate(alloc); err != nil {
			return err
		}
	}

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if err := resultError("vkBeginCommandBuffer", vk.BeginCommandBuffer(l.Handle, &beginInfo)); err != nil {
		return l.dev.check(err)
	}
	l.State = COMMAND_BUFFER_STATE_RECORDING
	l.err = nil
	l.target = nil
	l.rootSignature = nil
	l.layouts = make(map[*VulkanImage]vk.ImageLayout)
	l.touched = l.touched[:0]

	if pipeline != nil {
		ps, ok := pipeline.(*PipelineState)
		if !ok || ps.dev != l.dev {
			l.fail("pipeline %T does not belong to this device", pipeline)
			return nil
		}
		l.pipeline = ps
	}
	if l.pipeline != nil {
		vk.CmdBindPipeline(l.Handle, vk.PipelineBindPointGraphics, l.pipeline.Handle)
	}
	return nil
}

func (l *CommandList) fail(format string, args ...interface{}) {
	if l.err == nil {
		l.err = fmt.Errorf(format+": %w", append(args, hal.ErrInvalidCall)...)
	}
}

// recording reports whether commands may be recorded, failing the list otherwise.
func (l *CommandList) recording(call string) bool {
	if l.State != COMMAND_BUFFER_STATE_RECORDING && l.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		l.fail("%s on a closed command list", call)
		return false
	}
	return l.err == nil
}

func (l *CommandList) endPass() {
	if l.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		vk.CmdEndRenderPass(l.Handle)
		l.State = COMMAND_BUFFER_STATE_RECORDING
		l.target = nil
	}
}

func (l *CommandList) SetGraphicsRootSignature(rs hal.RootSignature) {
	if !l.recording("SetGraphicsRootSignature") {
		return
	}
	r, ok := rs.(*RootSignature)
	if !ok || r.dev != l.dev {
		l.fail("root signature %T does not belong to this device", rs)
		return
	}
	if l.pipeline != nil && l.pipeline.rootSignature != r {
		l.fail("root signature does not match the bound pipeline")
		return
	}
	l.rootSignature = r
}

func (l *CommandList) SetViewports(viewports ...hal.Viewport) {
	if !l.recording("SetViewports") || len(viewports) == 0 {
		return
	}
	vps := make([]vk.Viewport, len(viewports))
	for i, vp := range viewports {
		vps[i] = vk.Viewport{
			X:        vp.TopLeftX,
			Y:        vp.TopLeftY,
			Width:    vp.Width,
			Height:   vp.Height,
			MinDepth: vp.MinDepth,
			MaxDepth: vp.MaxDepth,
		}
	}
	vk.CmdSetViewport(l.Handle, 0, uint32(len(vps)), vps)
}

func (l *CommandList) SetScissorRects(rects ...hal.Rect) {
	if !l.recording("SetScissorRects") || len(rects) == 0 {
		return
	}
	scissors := make([]vk.Rect2D, len(rects))
	for i, r := range rects {
		if r.Right < r.Left || r.Bottom < r.Top {
			l.fail("inverted scissor rect %+v", r)
			return
		}
		scissors[i] = vk.Rect2D{
			Offset: vk.Offset2D{X: r.Left, Y: r.Top},
			Extent: vk.Extent2D{Width: uint32(r.Right - r.Left), Height: uint32(r.Bottom - r.Top)},
		}
	}
	vk.CmdSetScissor(l.Handle, 0, uint32(len(scissors)), scissors)
}

func (l *CommandList) ResourceBarrier(barriers ...hal.Barrier) {
	if !l.recording("ResourceBarrier") || len(barriers) == 0 {
		return
	}
	l.endPass()

	var srcStages, dstStages vk.PipelineStageFlags
	imageBarriers := make([]vk.ImageMemoryBarrier, 0, len(barriers))
	for _, b := range barriers {
		img, ok := b.Resource.(*VulkanImage)
		if !ok {
			l.fail("barrier on %T: only swapchain images transition", b.Resource)
			return
		}
		if b.Before == b.After {
			l.fail("barrier on %s from %s to itself", img.Name(), b.Before)
			return
		}
		oldLayout, okOld := imageLayout(b.Before)
		newLayout, okNew := imageLayout(b.After)
		if !okOld || !okNew {
			l.fail("barrier on %s from %s to %s is not supported", img.Name(), b.Before, b.After)
			return
		}
		if tracked, ok := l.layouts[img]; ok && tracked != oldLayout {
			l.fail("barrier on %s expects %s but the list left it in layout %d", img.Name(), b.Before, tracked)
			return
		}
		l.layouts[img] = newLayout
		l.touch(img)

		srcStage, srcAccess := stageAccess(oldLayout)
		dstStage, dstAccess := stageAccess(newLayout)
		srcStages |= srcStage
		dstStages |= dstStage
		imageBarriers = append(imageBarriers, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       srcAccess,
			DstAccessMask:       dstAccess,
			OldLayout:           oldLayout,
			NewLayout:           newLayout,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img.Handle,
			SubresourceRange:    colorSubresourceRange(),
		})
	}
	vk.CmdPipelineBarrier(l.Handle,
		srcStages, dstStages,
		0,
		0, nil,
		0, nil,
		uint32(len(imageBarriers)), imageBarriers)
}

func (l *CommandList) touch(img *VulkanImage) {
	for _, t := range l.touched {
		if t == img {
			return
		}
	}
	l.touched = append(l.touched, img)
}

// SetRenderTargets begins the render pass on the single bound target.
func (l *CommandList) SetRenderTargets(views ...hal.RenderTargetView) {
	if !l.recording("SetRenderTargets") {
		return
	}
	if len(views) != 1 {
		l.fail("%d render targets bound, exactly one is supported", len(views))
		return
	}
	v, ok := views[0].(*renderTargetView)
	if !ok {
		l.fail("render target view %T does not belong to this device", views[0])
		return
	}
	img := v.image
	if layout, ok := l.layouts[img]; !ok || layout != vk.ImageLayoutColorAttachmentOptimal {
		l.fail("%s bound as render target outside RENDER_TARGET state", img.Name())
		return
	}
	l.endPass()
	beginRenderPass(l.Handle, img.Framebuffer)
	l.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
	l.target = img
}

func (l *CommandList) ClearRenderTargetView(view hal.RenderTargetView, color [4]float32) {
	if !l.recording("ClearRenderTargetView") {
		return
	}
	v, ok := view.(*renderTargetView)
	if !ok || l.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS || v.image != l.target {
		l.fail("clear of a view that is not the bound render target")
		return
	}
	var clearValue vk.ClearValue
	clearValue.SetColor(color[:])
	attachments := []vk.ClearAttachment{{
		AspectMask:      vk.ImageAspectFlags(vk.ImageAspectColorBit),
		ColorAttachment: 0,
		ClearValue:      clearValue,
	}}
	rects := []vk.ClearRect{{
		Rect: vk.Rect2D{
			Extent: vk.Extent2D{Width: l.target.Width, Height: l.target.Height},
		},
		BaseArrayLayer: 0,
		LayerCount:     1,
	}}
	vk.CmdClearAttachments(l.Handle, 1, attachments, 1, rects)
}

// SetPrimitiveTopology accepts the topology the pipeline was built with.
func (l *CommandList) SetPrimitiveTopology(topology hal.PrimitiveTopology) {
	if !l.recording("SetPrimitiveTopology") {
		return
	}
	if topology != hal.TopologyTriangleList {
		l.fail("topology %d is not supported", topology)
	}
}

func (l *CommandList) SetVertexBuffers(startSlot uint32, views ...hal.VertexBufferView) {
	if !l.recording("SetVertexBuffers") || len(views) == 0 {
		return
	}
	buffers := make([]vk.Buffer, len(views))
	offsets := make([]vk.DeviceSize, len(views))
	for i, v := range views {
		b, offset, ok := l.dev.lookup(v.BufferLocation)
		if !ok || offset+uint64(v.SizeInBytes) > b.size {
			l.fail("vertex buffer view at %#x+%d is not backed by a live buffer", v.BufferLocation, v.SizeInBytes)
			return
		}
		if l.pipeline != nil && v.StrideInBytes != l.pipeline.stride {
			l.fail("vertex stride %d does not match the pipeline's %d", v.StrideInBytes, l.pipeline.stride)
			return
		}
		buffers[i] = b.handle
		offsets[i] = vk.DeviceSize(offset)
	}
	vk.CmdBindVertexBuffers(l.Handle, startSlot, uint32(len(buffers)), buffers, offsets)
}

func (l *CommandList) DrawInstanced(vertexCountPerInstance, instanceCount, startVertex, startInstance uint32) {
	if !l.recording("DrawInstanced") {
		return
	}
	if l.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		l.fail("draw without a bound render target")
		return
	}
	if l.pipeline == nil {
		l.fail("draw without a pipeline state")
		return
	}
	vk.CmdDraw(l.Handle, vertexCountPerInstance, instanceCount, startVertex, startInstance)
}

func (l *CommandList) Close() error {
	if l.State != COMMAND_BUFFER_STATE_RECORDING && l.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		return fmt.Errorf("close of a command list that is not recording: %w", hal.ErrInvalidCall)
	}
	l.endPass()
	res := vk.EndCommandBuffer(l.Handle)
	l.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	if l.err != nil {
		return l.err
	}
	if err := resultError("vkEndCommandBuffer", res); err != nil {
		l.err = err
		return l.dev.check(err)
	}
	return nil
}

func (l *CommandList) Destroy() {
	l.free()
}

// singleUse records and runs a one-off command buffer, waiting for the
// queue to drain.
func (d *Device) singleUse(record func(cb vk.CommandBuffer)) error {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.transientPool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}
	handles := make([]vk.CommandBuffer, 1)
	if err := resultError("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(d.logical, &allocateInfo, handles)); err != nil {
		return d.check(err)
	}
	defer vk.FreeCommandBuffers(d.logical, d.transientPool, 1, handles)

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := resultError("vkBeginCommandBuffer", vk.BeginCommandBuffer(handles[0], &beginInfo)); err != nil {
		return d.check(err)
	}
	record(handles[0])
	if err := resultError("vkEndCommandBuffer", vk.EndCommandBuffer(handles[0])); err != nil {
		return d.check(err)
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    handles,
	}
	if err := d.submit([]vk.SubmitInfo{submitInfo}, vk.NullFence); err != nil {
		return err
	}
	return d.check(d.locks.SafeQueueCall(d.family, func() error {
		return resultError("vkQueueWaitIdle", vk.QueueWaitIdle(d.queue))
	}))
}
