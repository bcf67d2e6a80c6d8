package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

// Queue is the device's single graphics queue.
type Queue struct {
	dev *Device
}

// ExecuteCommandLists submits each list in order. A list writing a
// swapchain image waits on the image's acquire and signals its render
// semaphore for the next present.
func (q *Queue) ExecuteCommandLists(lists ...hal.CommandList) error {
	if err := q.dev.Removed(); err != nil {
		return err
	}
	ls := make([]*CommandList, len(lists))
	for i, list := range lists {
		l, ok := list.(*CommandList)
		if !ok || l.dev != q.dev {
			return fmt.Errorf("command list %T does not belong to this device: %w", list, hal.ErrInvalidCall)
		}
		if l.State != COMMAND_BUFFER_STATE_RECORDING_ENDED && l.State != COMMAND_BUFFER_STATE_SUBMITTED {
			return fmt.Errorf("execution of a command list that is not closed: %w", hal.ErrInvalidCall)
		}
		if l.err != nil {
			return fmt.Errorf("execution of a command list that failed to record: %w", l.err)
		}
		ls[i] = l
	}

	for _, l := range ls {
		var (
			waits   []vk.Semaphore
			stages  []vk.PipelineStageFlags
			signals []vk.Semaphore
		)
		for _, img := range l.touched {
			w, s := img.swapchain.submission(img)
			for range w {
				stages = append(stages, vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit))
			}
			waits = append(waits, w...)
			signals = append(signals, s)
		}

		fence, err := q.dev.acquireFence()
		if err != nil {
			return err
		}
		submitInfo := vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			WaitSemaphoreCount:   uint32(len(waits)),
			PWaitSemaphores:      waits,
			PWaitDstStageMask:    stages,
			CommandBufferCount:   1,
			PCommandBuffers:      []vk.CommandBuffer{l.Handle},
			SignalSemaphoreCount: uint32(len(signals)),
			PSignalSemaphores:    signals,
		}
		if err := q.dev.submit([]vk.SubmitInfo{submitInfo}, fence); err != nil {
			q.dev.recycleFence(fence)
			return err
		}
		l.State = COMMAND_BUFFER_STATE_SUBMITTED
		l.allocator.inflight = append(l.allocator.inflight, fence)
	}
	return nil
}

func (q *Queue) Signal(fence hal.Fence, value uint64) error {
	if err := q.dev.Removed(); err != nil {
		return err
	}
	f, ok := fence.(*Fence)
	if !ok || f.dev != q.dev {
		return fmt.Errorf("fence %T does not belong to this device: %w", fence, hal.ErrInvalidCall)
	}
	return f.signal(value)
}
