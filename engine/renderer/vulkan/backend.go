// Package vulkan implements the hal object model on top of Vulkan.
//
// Timeline fences are emulated with binary fences, resources are addressed
// through a device-local address table and back buffer indices follow the
// image acquired right after each present.
package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/hellotriangle/engine/core"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

// Host is the windowing system the instance is created for.
type Host interface {
	RequiredInstanceExtensions() []string
	// InstanceProcAddress returns vkGetInstanceProcAddr.
	InstanceProcAddress() unsafe.Pointer
}

// SurfaceWindow is what a hal.Window native handle must implement for a
// swapchain to be created on it. *glfw.Window satisfies it.
type SurfaceWindow interface {
	CreateWindowSurface(instance interface{}, allocCallbacks unsafe.Pointer) (uintptr, error)
}

type Instance struct {
	handle    vk.Instance
	allocator *vk.AllocationCallbacks

	debug          bool
	debugMessenger vk.DebugReportCallback
}

// NewInstance loads the Vulkan loader through host and creates an instance.
// With validation set the Khronos validation layer and a debug report
// callback are enabled.
func NewInstance(host Host, appName string, validation bool) (*Instance, error) {
	procAddr := host.InstanceProcAddress()
	if procAddr == nil {
		return nil, fmt.Errorf("GetInstanceProcAddress is nil: %w", hal.ErrUnsupported)
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize vk: %v: %w", err, hal.ErrUnsupported)
	}

	inst := &Instance{debug: validation}

	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("hellotriangle"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := []string{vk.KhrSurfaceExtensionName}
	for _, ext := range host.RequiredInstanceExtensions() {
		if ext != vk.KhrSurfaceExtensionName {
			extensions = append(extensions, ext)
		}
	}
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1
	}

	var layers []string
	if validation {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		if !layerAvailable(validationLayer) {
			core.LogWarn("validation requested but %s is not installed", validationLayer)
		} else {
			layers = append(layers, validationLayer)
		}
	}
	for _, ext := range extensions {
		core.LogDebug("instance extension: %s", ext)
	}

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if err := resultError("vkCreateInstance", vk.CreateInstance(&createInfo, inst.allocator, &inst.handle)); err != nil {
		return nil, err
	}
	if err := vk.InitInstance(inst.handle); err != nil {
		vk.DestroyInstance(inst.handle, inst.allocator)
		return nil, err
	}
	core.LogInfo("Vulkan instance created.")

	if len(layers) > 0 {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(inst.handle, &debugCreateInfo, inst.allocator, &dbg)); err != nil {
			core.LogWarn("vk.CreateDebugReportCallback failed with %s", err)
		} else {
			inst.debugMessenger = dbg
			core.LogDebug("Vulkan debugger created.")
		}
	}
	return inst, nil
}

func layerAvailable(name string) bool {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return false
	}
	layers := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, layers); res != vk.Success {
		return false
	}
	for i := range layers {
		layers[i].Deref()
		if cString(layers[i].LayerName[:]) == name {
			return true
		}
	}
	return false
}

// EnumerateAdapters lists every physical device in driver order.
func (inst *Instance) EnumerateAdapters() ([]hal.Adapter, error) {
	var count uint32
	if err := resultError("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(inst.handle, &count, nil)); err != nil {
		return nil, err
	}
	physicalDevices := make([]vk.PhysicalDevice, count)
	if err := resultError("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(inst.handle, &count, physicalDevices)); err != nil {
		return nil, err
	}
	adapters := make([]hal.Adapter, 0, count)
	for _, pd := range physicalDevices[:count] {
		adapters = append(adapters, newAdapter(inst, pd))
	}
	return adapters, nil
}

func (inst *Instance) Destroy() {
	if inst.debugMessenger != nil {
		vk.DestroyDebugReportCallback(inst.handle, inst.debugMessenger, inst.allocator)
		inst.debugMessenger = nil
	}
	if inst.handle != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(inst.handle, inst.allocator)
		inst.handle = nil
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
