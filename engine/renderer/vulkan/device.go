package vulkan

import (
	"errors"
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/hellotriangle/engine/core"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

const portabilitySubsetExtension = "VK_KHR_portability_subset"

// Adapter is one physical device.
type Adapter struct {
	inst       *Instance
	physical   vk.PhysicalDevice
	properties vk.PhysicalDeviceProperties
	memory     vk.PhysicalDeviceMemoryProperties

	// graphicsFamily is -1 when no family supports graphics.
	graphicsFamily int32
	extensions     map[string]bool
}

func newAdapter(inst *Instance, physical vk.PhysicalDevice) *Adapter {
	a := &Adapter{
		inst:           inst,
		physical:       physical,
		graphicsFamily: -1,
		extensions:     make(map[string]bool),
	}
	vk.GetPhysicalDeviceProperties(physical, &a.properties)
	a.properties.Deref()
	vk.GetPhysicalDeviceMemoryProperties(physical, &a.memory)
	a.memory.Deref()

	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(physical, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(physical, &familyCount, families)
	for i := range families {
		families[i].Deref()
		if vk.QueueFlagBits(families[i].QueueFlags)&vk.QueueGraphicsBit != 0 {
			a.graphicsFamily = int32(i)
			break
		}
	}

	var extCount uint32
	if res := vk.EnumerateDeviceExtensionProperties(physical, "", &extCount, nil); res == vk.Success && extCount > 0 {
		available := make([]vk.ExtensionProperties, extCount)
		if res := vk.EnumerateDeviceExtensionProperties(physical, "", &extCount, available); res == vk.Success {
			for i := range available {
				available[i].Deref()
				a.extensions[cString(available[i].ExtensionName[:])] = true
			}
		}
	}
	return a
}

func (a *Adapter) Info() hal.AdapterInfo {
	var dedicated uint64
	for i := 0; i < int(a.memory.MemoryHeapCount); i++ {
		heap := a.memory.MemoryHeaps[i]
		heap.Deref()
		if vk.MemoryHeapFlagBits(heap.Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			dedicated += uint64(heap.Size)
		}
	}
	return hal.AdapterInfo{
		Name:                 cString(a.properties.DeviceName[:]),
		VendorID:             a.properties.VendorID,
		DeviceID:             a.properties.DeviceID,
		DedicatedVideoMemory: dedicated,
		Software:             a.properties.DeviceType == vk.PhysicalDeviceTypeCpu,
	}
}

// FeatureLevel maps the supported API version onto the hal feature levels.
func (a *Adapter) FeatureLevel() hal.FeatureLevel {
	return featureLevelFor(a.properties.ApiVersion)
}

func featureLevelFor(apiVersion uint32) hal.FeatureLevel {
	major, minor := apiVersion>>22, (apiVersion>>12)&0x3ff
	switch {
	case major > 1 || minor >= 3:
		return hal.FeatureLevel12_1
	case minor == 2:
		return hal.FeatureLevel12_0
	case minor == 1:
		return hal.FeatureLevel11_1
	default:
		return hal.FeatureLevel11_0
	}
}

// CheckFeatureLevel also requires a graphics queue and swapchain support.
func (a *Adapter) CheckFeatureLevel(level hal.FeatureLevel) bool {
	if a.graphicsFamily < 0 || !a.extensions[vk.KhrSwapchainExtensionName] {
		return false
	}
	return a.FeatureLevel() >= level
}

func (a *Adapter) CreateDevice(level hal.FeatureLevel) (hal.Device, error) {
	name := cString(a.properties.DeviceName[:])
	if !a.CheckFeatureLevel(level) {
		return nil, fmt.Errorf("adapter %q supports %s, requested %s: %w", name, a.FeatureLevel(), level, hal.ErrUnsupported)
	}

	core.LogInfo("Creating logical device on '%s'...", name)
	v := a.properties.ApiVersion
	core.LogInfo("Vulkan API version: %d.%d.%d", v>>22, (v>>12)&0x3ff, v&0xfff)

	queueCreateInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: uint32(a.graphicsFamily),
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}

	extensions := []string{vk.KhrSwapchainExtensionName}
	if a.extensions[portabilitySubsetExtension] {
		extensions = append(extensions, portabilitySubsetExtension)
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{{}},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensions),
	}

	d := &Device{
		adapter:      a,
		physical:     a.physical,
		allocator:    a.inst.allocator,
		family:       uint32(a.graphicsFamily),
		memory:       a.memory,
		locks:        NewVulkanLockPool(),
		buffers:      make(map[uint64]*Buffer),
		nextAddress:  addressAlignment,
		renderPasses: make(map[vk.Format]vk.RenderPass),
		targetFormat: vk.FormatR8g8b8a8Unorm,
	}
	if err := resultError("vkCreateDevice", vk.CreateDevice(a.physical, &deviceCreateInfo, d.allocator, &d.logical)); err != nil {
		return nil, err
	}
	vk.GetDeviceQueue(d.logical, d.family, 0, &d.queue)

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}
	if err := resultError("vkCreateCommandPool", vk.CreateCommandPool(d.logical, &poolCreateInfo, d.allocator, &d.transientPool)); err != nil {
		vk.DestroyDevice(d.logical, d.allocator)
		return nil, err
	}

	core.LogInfo("Logical device created.")
	return d, nil
}

// Device is a logical device with a single graphics queue.
type Device struct {
	adapter   *Adapter
	physical  vk.PhysicalDevice
	logical   vk.Device
	allocator *vk.AllocationCallbacks
	family    uint32
	queue     vk.Queue
	memory    vk.PhysicalDeviceMemoryProperties
	locks     *VulkanLockPool

	// transientPool records the one-off layout initialization of swapchain images.
	transientPool vk.CommandPool

	mu           sync.Mutex
	removed      error
	buffers      map[uint64]*Buffer
	nextAddress  uint64
	renderPasses map[vk.Format]vk.RenderPass
	targetFormat vk.Format
	freeFences   []vk.Fence
	fences       []*Fence
}

// Removed returns the reason the device was lost, or nil.
func (d *Device) Removed() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removed
}

// check records device loss and returns err unchanged.
func (d *Device) check(err error) error {
	if err == nil || !errors.Is(err, hal.ErrDeviceRemoved) {
		return err
	}
	d.mu.Lock()
	first := d.removed == nil
	if first {
		d.removed = err
	}
	fences := append([]*Fence(nil), d.fences...)
	d.mu.Unlock()
	if first {
		core.LogError("device removed: %v", err)
		for _, f := range fences {
			f.wake()
		}
	}
	return err
}

// acquireFence hands out an unsignaled binary fence.
func (d *Device) acquireFence() (vk.Fence, error) {
	d.mu.Lock()
	if n := len(d.freeFences); n > 0 {
		f := d.freeFences[n-1]
		d.freeFences = d.freeFences[:n-1]
		d.mu.Unlock()
		return f, nil
	}
	d.mu.Unlock()

	createInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	var f vk.Fence
	if err := resultError("vkCreateFence", vk.CreateFence(d.logical, &createInfo, d.allocator, &f)); err != nil {
		return vk.NullFence, d.check(err)
	}
	return f, nil
}

// recycleFence resets a signaled fence and returns it to the free list.
func (d *Device) recycleFence(f vk.Fence) {
	if res := vk.ResetFences(d.logical, 1, []vk.Fence{f}); res != vk.Success {
		vk.DestroyFence(d.logical, f, d.allocator)
		return
	}
	d.mu.Lock()
	d.freeFences = append(d.freeFences, f)
	d.mu.Unlock()
}

// queueSubmit serializes a vkQueueSubmit against presents on the same family.
func (d *Device) queueSubmit(infos []vk.SubmitInfo, fence vk.Fence) error {
	return d.locks.SafeQueueCall(d.family, func() error {
		return resultError("vkQueueSubmit", vk.QueueSubmit(d.queue, uint32(len(infos)), infos, fence))
	})
}

func (d *Device) submit(infos []vk.SubmitInfo, fence vk.Fence) error {
	return d.check(d.queueSubmit(infos, fence))
}

func (d *Device) waitIdle() {
	_ = d.locks.SafeQueueCall(d.family, func() error {
		vk.DeviceWaitIdle(d.logical)
		return nil
	})
}

func (d *Device) Destroy() {
	if d.logical == nil {
		return
	}
	d.waitIdle()

	d.mu.Lock()
	fences := d.fences
	d.fences = nil
	d.mu.Unlock()
	for _, f := range fences {
		f.Destroy()
	}

	d.mu.Lock()
	free := d.freeFences
	d.freeFences = nil
	passes := d.renderPasses
	d.renderPasses = map[vk.Format]vk.RenderPass{}
	d.mu.Unlock()

	for _, f := range free {
		vk.DestroyFence(d.logical, f, d.allocator)
	}
	for _, rp := range passes {
		vk.DestroyRenderPass(d.logical, rp, d.allocator)
	}
	if d.transientPool != nil {
		vk.DestroyCommandPool(d.logical, d.transientPool, d.allocator)
	}
	core.LogDebug("Destroying Vulkan device...")
	vk.DestroyDevice(d.logical, d.allocator)
	d.logical = nil
}

func (d *Device) CreateCommandQueue() (hal.Queue, error) {
	return &Queue{dev: d}, nil
}

func (d *Device) CreateFence(initial uint64) (hal.Fence, error) {
	f := newFence(d, initial)
	d.mu.Lock()
	d.fences = append(d.fences, f)
	d.mu.Unlock()
	return f, nil
}

func (d *Device) forgetFence(f *Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, other := range d.fences {
		if other == f {
			d.fences = append(d.fences[:i], d.fences[i+1:]...)
			return
		}
	}
}

// nativeFormat maps a hal render target format onto what the surface
// actually accepted.
func (d *Device) nativeFormat(f hal.Format) (vk.Format, error) {
	switch f {
	case hal.FormatR8G8B8A8Unorm:
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.targetFormat, nil
	case hal.FormatR32G32B32Float:
		return vk.FormatR32g32b32Sfloat, nil
	case hal.FormatR32G32B32A32Float:
		return vk.FormatR32g32b32a32Sfloat, nil
	default:
		return vk.FormatUndefined, fmt.Errorf("format %s: %w", f, hal.ErrUnsupported)
	}
}

func (d *Device) findMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) (uint32, error) {
	for i := uint32(0); i < d.memory.MemoryTypeCount; i++ {
		memoryType := d.memory.MemoryTypes[i]
		memoryType.Deref()
		if typeFilter&(1<<i) != 0 && memoryType.PropertyFlags&propertyFlags == propertyFlags {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no memory type matches filter %#x and flags %#x: %w", typeFilter, uint32(propertyFlags), hal.ErrOutOfMemory)
}
