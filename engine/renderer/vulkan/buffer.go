package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

// addressAlignment spaces the virtual addresses handed to buffers.
const addressAlignment = 64 << 10

// Buffer is host visible, coherent memory bound as a vertex buffer. It is
// addressed by a device-local virtual address so vertex buffer views can
// refer to it the same way on every backend.
type Buffer struct {
	dev     *Device
	name    string
	handle  vk.Buffer
	memory  vk.DeviceMemory
	size    uint64
	address uint64
	mapped  unsafe.Pointer
}

func (d *Device) CreateUploadBuffer(size uint64) (hal.Buffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("zero sized buffer: %w", hal.ErrInvalidCall)
	}
	if err := d.Removed(); err != nil {
		return nil, err
	}

	b := &Buffer{dev: d, size: size}
	err := d.locks.SafeCall(BufferManagement, func() error {
		bufferInfo := vk.BufferCreateInfo{
			SType:       vk.StructureTypeBufferCreateInfo,
			Size:        vk.DeviceSize(size),
			Usage:       vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit),
			SharingMode: vk.SharingModeExclusive,
		}
		if err := resultError("vkCreateBuffer", vk.CreateBuffer(d.logical, &bufferInfo, d.allocator, &b.handle)); err != nil {
			return err
		}

		var requirements vk.MemoryRequirements
		vk.GetBufferMemoryRequirements(d.logical, b.handle, &requirements)
		requirements.Deref()

		index, err := d.findMemoryIndex(requirements.MemoryTypeBits,
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)|vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit))
		if err != nil {
			vk.DestroyBuffer(d.logical, b.handle, d.allocator)
			return err
		}
		allocInfo := vk.MemoryAllocateInfo{
			SType:           vk.StructureTypeMemoryAllocateInfo,
			AllocationSize:  requirements.Size,
			MemoryTypeIndex: index,
		}
		if err := resultError("vkAllocateMemory", vk.AllocateMemory(d.logical, &allocInfo, d.allocator, &b.memory)); err != nil {
			vk.DestroyBuffer(d.logical, b.handle, d.allocator)
			return err
		}
		if err := resultError("vkBindBufferMemory", vk.BindBufferMemory(d.logical, b.handle, b.memory, 0)); err != nil {
			vk.FreeMemory(d.logical, b.memory, d.allocator)
			vk.DestroyBuffer(d.logical, b.handle, d.allocator)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, d.check(err)
	}

	d.mu.Lock()
	b.address = d.nextAddress
	d.nextAddress += (size + addressAlignment - 1) / addressAlignment * addressAlignment
	b.name = fmt.Sprintf("upload@%#x", b.address)
	d.buffers[b.address] = b
	d.mu.Unlock()
	return b, nil
}

// lookup resolves a virtual address into the buffer containing it.
func (d *Device) lookup(address uint64) (*Buffer, uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for base, b := range d.buffers {
		if address >= base && address < base+b.size {
			return b, address - base, true
		}
	}
	return nil, 0, false
}

func (b *Buffer) Name() string              { return b.name }
func (b *Buffer) Size() uint64              { return b.size }
func (b *Buffer) GPUVirtualAddress() uint64 { return b.address }

func (b *Buffer) Map() ([]byte, error) {
	if b.mapped == nil {
		var ptr unsafe.Pointer
		if err := resultError("vkMapMemory", vk.MapMemory(b.dev.logical, b.memory, 0, vk.DeviceSize(b.size), 0, &ptr)); err != nil {
			return nil, b.dev.check(err)
		}
		b.mapped = ptr
	}
	return unsafe.Slice((*byte)(b.mapped), b.size), nil
}

func (b *Buffer) Unmap() {
	if b.mapped != nil {
		vk.UnmapMemory(b.dev.logical, b.memory)
		b.mapped = nil
	}
}

func (b *Buffer) Destroy() {
	b.Unmap()
	b.dev.mu.Lock()
	delete(b.dev.buffers, b.address)
	b.dev.mu.Unlock()
	_ = b.dev.locks.SafeCall(BufferManagement, func() error {
		vk.DestroyBuffer(b.dev.logical, b.handle, b.dev.allocator)
		vk.FreeMemory(b.dev.logical, b.memory, b.dev.allocator)
		return nil
	})
}
