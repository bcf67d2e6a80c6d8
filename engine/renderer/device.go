package renderer

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/hellotriangle/engine/core"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

// MinimumFeatureLevel is the lowest capability an adapter must report.
const MinimumFeatureLevel = hal.FeatureLevel11_0

const ownerDevice = "device"

// DeviceContext owns the adapter, the logical device and its direct queue.
// It is created once and must be destroyed after every other component.
type DeviceContext struct {
	adapter  hal.Adapter
	info     hal.AdapterInfo
	device   *core.Owned[hal.Device]
	queue    hal.Queue
	registry *core.Registry
}

// AcquireDevice selects the first hardware adapter supporting
// MinimumFeatureLevel, in the order the instance enumerates them.
func AcquireDevice(instance hal.Instance) (*DeviceContext, error) {
	adapters, err := instance.EnumerateAdapters()
	if err != nil {
		return nil, fmt.Errorf("enumerating adapters: %v: %w", err, core.ErrNoSuitableAdapter)
	}

	adapter, err := selectAdapter(adapters)
	if err != nil {
		return nil, err
	}
	info := adapter.Info()

	dev, err := adapter.CreateDevice(MinimumFeatureLevel)
	if err != nil {
		return nil, fmt.Errorf("creating device on %q: %v: %w", info.Name, err, core.ErrNoSuitableAdapter)
	}
	queue, err := dev.CreateCommandQueue()
	if err != nil {
		dev.Destroy()
		return nil, fmt.Errorf("creating direct queue on %q: %v: %w", info.Name, err, core.ErrNoSuitableAdapter)
	}

	registry := core.NewRegistry()
	core.LogInfo("using adapter %q (vendor %#04x, device %#04x, %d MiB)", info.Name, info.VendorID, info.DeviceID, info.DedicatedVideoMemory>>20)
	return &DeviceContext{
		adapter:  adapter,
		info:     info,
		device:   core.Own(registry, ownerDevice, "device", dev),
		queue:    queue,
		registry: registry,
	}, nil
}

func selectAdapter(adapters []hal.Adapter) (hal.Adapter, error) {
	for _, a := range adapters {
		info := a.Info()
		if info.Software {
			core.LogDebug("skipping software adapter %q", info.Name)
			continue
		}
		if !a.CheckFeatureLevel(MinimumFeatureLevel) {
			core.LogDebug("skipping adapter %q: feature level %s not supported", info.Name, MinimumFeatureLevel)
			continue
		}
		return a, nil
	}
	return nil, fmt.Errorf("none of %d adapters supports feature level %s: %w", len(adapters), MinimumFeatureLevel, core.ErrNoSuitableAdapter)
}

func (dc *DeviceContext) Device() hal.Device {
	return dc.device.Get()
}

func (dc *DeviceContext) Queue() hal.Queue {
	return dc.queue
}

func (dc *DeviceContext) AdapterInfo() hal.AdapterInfo {
	return dc.info
}

// Registry tracks the handles owned by the components built on this device.
func (dc *DeviceContext) Registry() *core.Registry {
	return dc.registry
}

// Submit executes closed command lists on the direct queue. Rejected
// submissions are recording errors unless the device is gone or out of memory.
func (dc *DeviceContext) Submit(lists ...hal.CommandList) error {
	if err := dc.queue.ExecuteCommandLists(lists...); err != nil {
		return mapDeviceError("submit", err, core.ErrRecording)
	}
	return nil
}

// Destroy releases the device. It fails while other components still own handles.
func (dc *DeviceContext) Destroy() error {
	if live := dc.registry.Outstanding(ownerDevice); len(live) > 0 {
		return fmt.Errorf("device has %d live handles (first %s): %w", len(live), live[0], core.ErrResourcesOutstanding)
	}
	return dc.device.Release()
}

// mapDeviceError translates backend errors into engine error kinds. Device
// removal is always device lost; anything else becomes fallback.
func mapDeviceError(op string, err error, fallback error) error {
	switch {
	case errors.Is(err, hal.ErrDeviceRemoved):
		return fmt.Errorf("%s: %v: %w", op, err, core.ErrDeviceLost)
	case errors.Is(err, hal.ErrOutOfMemory):
		return fmt.Errorf("%s: %v: %w", op, err, core.ErrAllocation)
	default:
		return fmt.Errorf("%s: %v: %w", op, err, fallback)
	}
}
