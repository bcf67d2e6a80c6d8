package engine

import (
	"fmt"

	"github.com/spaghettifunk/hellotriangle/engine/config"
	"github.com/spaghettifunk/hellotriangle/engine/core"
	"github.com/spaghettifunk/hellotriangle/engine/platform"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/software"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/vulkan"
)

// openWindow creates the window the backend presents to. The software
// backend renders offscreen.
func (e *Engine) openWindow() (platform.Window, error) {
	cfg := e.gameInstance.ApplicationConfig
	switch cfg.Backend {
	case config.BackendSoftware:
		return platform.NewHeadless(int(cfg.StartWidth), int(cfg.StartHeight)), nil
	case config.BackendVulkan:
		p := platform.New(e.bus)
		if err := p.Startup(cfg.Name, cfg.StartPosX, cfg.StartPosY, cfg.StartWidth, cfg.StartHeight); err != nil {
			return nil, fmt.Errorf("opening window: %v: %w", err, core.ErrPresentationUnsupported)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown renderer backend %q", cfg.Backend)
	}
}

// newInstance opens the API instance of the configured backend.
func (e *Engine) newInstance(window platform.Window) (hal.Instance, error) {
	cfg := e.gameInstance.ApplicationConfig
	switch cfg.Backend {
	case config.BackendSoftware:
		return software.NewInstance(e.software), nil
	case config.BackendVulkan:
		host, ok := window.(vulkan.Host)
		if !ok {
			return nil, fmt.Errorf("window %T cannot host a Vulkan instance: %w", window, core.ErrPresentationUnsupported)
		}
		inst, err := vulkan.NewInstance(host, cfg.Name, cfg.Validation)
		if err != nil {
			return nil, fmt.Errorf("creating Vulkan instance: %v: %w", err, core.ErrNoSuitableAdapter)
		}
		return inst, nil
	default:
		return nil, fmt.Errorf("unknown renderer backend %q", cfg.Backend)
	}
}
