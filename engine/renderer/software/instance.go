// Package software is a reference GPU written in Go. Submitted command lists
// run on a separate goroutine, resource states are validated the way a debug
// layer does, and draws are rasterized into image.RGBA back buffers.
//
// Shaders are not interpreted: POSITION is used as the clip-space position
// and COLOR is interpolated, which is all a pass-through triangle needs.
package software

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

type AdapterConfig struct {
	Name         string
	VendorID     uint32
	DeviceID     uint32
	VideoMemory  uint64
	FeatureLevel hal.FeatureLevel
	Software     bool
}

type Options struct {
	Adapters []AdapterConfig
	// Latency delays every operation on the GPU timeline.
	Latency time.Duration
	// BackBufferOrder picks the back buffer that follows a present of
	// buffer presented. Nil means round robin.
	BackBufferOrder func(presented, count int) int
	// MaxAllocation bounds a single upload buffer. Zero means unbounded.
	MaxAllocation uint64
	// TraceLimit bounds the events a device trace retains. Zero means
	// DefaultTraceLimit.
	TraceLimit int
}

// DefaultOptions exposes one hardware-class adapter followed by a fallback
// software adapter, the order DXGI reports them in.
func DefaultOptions() Options {
	return Options{
		Adapters: []AdapterConfig{
			{
				Name:         "Go Reference GPU",
				VendorID:     0x1af4,
				DeviceID:     0x1050,
				VideoMemory:  256 << 20,
				FeatureLevel: hal.FeatureLevel12_1,
			},
			{
				Name:         "Go Basic Render Driver",
				VendorID:     0x1414,
				DeviceID:     0x008c,
				FeatureLevel: hal.FeatureLevel12_1,
				Software:     true,
			},
		},
	}
}

type Instance struct {
	opts     Options
	adapters []hal.Adapter
}

func NewInstance(opts Options) *Instance {
	inst := &Instance{opts: opts}
	for _, cfg := range opts.Adapters {
		inst.adapters = append(inst.adapters, &Adapter{cfg: cfg, opts: opts})
	}
	return inst
}

func (i *Instance) EnumerateAdapters() ([]hal.Adapter, error) {
	out := make([]hal.Adapter, len(i.adapters))
	copy(out, i.adapters)
	return out, nil
}

func (i *Instance) Destroy() {}

type Adapter struct {
	cfg  AdapterConfig
	opts Options
}

func (a *Adapter) Info() hal.AdapterInfo {
	return hal.AdapterInfo{
		Name:                 a.cfg.Name,
		VendorID:             a.cfg.VendorID,
		DeviceID:             a.cfg.DeviceID,
		DedicatedVideoMemory: a.cfg.VideoMemory,
		Software:             a.cfg.Software,
	}
}

func (a *Adapter) CheckFeatureLevel(level hal.FeatureLevel) bool {
	return a.cfg.FeatureLevel >= level
}

func (a *Adapter) CreateDevice(level hal.FeatureLevel) (hal.Device, error) {
	if !a.CheckFeatureLevel(level) {
		return nil, fmt.Errorf("adapter %q supports %s, requested %s: %w", a.cfg.Name, a.cfg.FeatureLevel, level, hal.ErrUnsupported)
	}
	return newDevice(a.cfg, a.opts), nil
}
