package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/spaghettifunk/hellotriangle/engine/assets"
	"github.com/spaghettifunk/hellotriangle/engine/core"
	"github.com/spaghettifunk/hellotriangle/engine/platform"
	"github.com/spaghettifunk/hellotriangle/engine/renderer"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/software"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// Shader binaries, relative to the asset directory.
const (
	VertexShaderFile = "vs.bin"
	PixelShaderFile  = "ps.bin"
)

type Engine struct {
	currentStage Stage
	gameInstance *Game
	bus          *core.EventBus
	window       platform.Window
	assetManager *assets.AssetManager
	instance     hal.Instance
	device       *renderer.DeviceContext
	renderer     *renderer.Renderer
	clock        *core.Clock
	metrics      *core.Metrics
	lastTime     float64
	frames       uint64

	// software configures the software backend when it is selected.
	software software.Options

	quit     chan struct{}
	quitOnce sync.Once
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		return nil, errors.New("game without application config")
	}
	if g.FnVertices == nil {
		return nil, errors.New("game without vertex source")
	}

	e := &Engine{
		currentStage: EngineStageBooting,
		gameInstance: g,
		bus:          core.NewEventBus(),
		assetManager: assets.NewAssetManager(),
		clock:        core.NewClock(),
		metrics:      core.NewMetrics(),
		software:     software.DefaultOptions(),
		quit:         make(chan struct{}),
	}
	e.currentStage = EngineStageBootComplete
	return e, nil
}

// Events is the bus window and engine events are fired on.
func (e *Engine) Events() *core.EventBus {
	return e.bus
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

// Frames counts rendered frames.
func (e *Engine) Frames() uint64 {
	return e.frames
}

func (e *Engine) Renderer() *renderer.Renderer {
	return e.renderer
}

// Initialize opens the window and builds the frame pipeline. On error,
// whatever was created is torn down again.
func (e *Engine) Initialize() (err error) {
	if e.currentStage != EngineStageBootComplete {
		return fmt.Errorf("initialize in stage %d", e.currentStage)
	}
	e.currentStage = EngineStageInitializing
	defer func() {
		if err != nil {
			e.release(context.Background())
			e.currentStage = EngineStageBootComplete
		}
	}()

	cfg := e.gameInstance.ApplicationConfig
	if cfg.LogLevel != "" {
		core.SetLogLevel(cfg.LogLevel)
	}

	// register some events
	e.bus.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.bus.Register(core.EVENT_CODE_KEY_PRESSED, e, e.onKey)
	e.bus.Register(core.EVENT_CODE_RESIZED, e, e.onResized)

	if e.window, err = e.openWindow(); err != nil {
		return err
	}

	if err = e.assetManager.Initialize(cfg.AssetsDir, cfg.WatchAssets); err != nil {
		return fmt.Errorf("assets: %v: %w", err, core.ErrShaderMissing)
	}
	vs, ps, err := e.assetManager.LoadShaders(VertexShaderFile, PixelShaderFile)
	if err != nil {
		return err
	}

	if e.instance, err = e.newInstance(e.window); err != nil {
		return err
	}
	if e.device, err = renderer.AcquireDevice(e.instance); err != nil {
		return err
	}
	opts := renderer.Options{
		SyncInterval:     cfg.SyncInterval,
		WaitTimeout:      cfg.WaitTimeout,
		MaxDroppedFrames: cfg.MaxDroppedFrames,
	}
	shaders := renderer.ShaderSet{Vertex: vs, Pixel: ps}
	if e.renderer, err = renderer.New(e.device, e.window, shaders, e.gameInstance.FnVertices, opts); err != nil {
		return err
	}

	if e.gameInstance.FnInitialize != nil {
		if err = e.gameInstance.FnInitialize(); err != nil {
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	return nil
}

// Run renders frames until the window closes, a quit is requested, ctx is
// cancelled or the configured frame count is reached. Cancellation is a
// clean stop; fatal frame errors are returned.
func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("run in stage %d", e.currentStage)
	}
	e.currentStage = EngineStageRunning
	cfg := e.gameInstance.ApplicationConfig

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for {
		select {
		case <-ctx.Done():
			core.LogInfo("stop requested")
			return nil
		case <-e.quit:
			return nil
		default:
		}
		if !e.window.PumpMessages() {
			return nil
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		e.lastTime = currentTime

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				return err
			}
		}

		if err := e.renderer.Render(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				core.LogInfo("stop requested")
				return nil
			}
			core.LogError("frame %d: %v", e.frames, err)
			return err
		}
		e.frames = e.renderer.Stats().Frames

		if e.metrics.Update(delta) {
			fps, frameTime := e.metrics.Frame()
			core.LogDebug("FPS: %5.1f (%4.1fms)", fps, frameTime)
		}
		if cfg.Frames > 0 && e.frames >= cfg.Frames {
			core.LogInfo("rendered %d frames; stopping", e.frames)
			return nil
		}
	}
}

// Quit asks the loop to stop after the current frame. Safe to call from any goroutine.
func (e *Engine) Quit() {
	e.quitOnce.Do(func() { close(e.quit) })
}

// Shutdown waits for the GPU, writes the capture if one is configured and
// releases everything, device last.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.currentStage = EngineStageShuttingDown
	var errs []error
	if path := e.gameInstance.ApplicationConfig.Capture; path != "" && e.renderer != nil {
		if err := e.capture(path); err != nil {
			core.LogError("capture: %v", err)
			errs = append(errs, err)
		}
	}
	errs = append(errs, e.release(ctx))
	e.currentStage = EngineStageUninitialized
	return errors.Join(errs...)
}

func (e *Engine) capture(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := e.renderer.Capture(f); err != nil {
		f.Close()
		return err
	}
	core.LogInfo("last frame written to %s", path)
	return f.Close()
}

func (e *Engine) release(ctx context.Context) error {
	var errs []error
	if e.renderer != nil {
		errs = append(errs, e.renderer.Shutdown(ctx))
		e.renderer = nil
	}
	if e.device != nil {
		errs = append(errs, e.device.Destroy())
		e.device = nil
	}
	if e.instance != nil {
		e.instance.Destroy()
		e.instance = nil
	}
	e.assetManager.Shutdown()
	if e.window != nil {
		errs = append(errs, e.window.Shutdown())
		e.window = nil
	}
	e.bus.Shutdown()
	return errors.Join(errs...)
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("close button was pressed; stopping")
		e.Quit()
		return true
	}
	return false
}

func (e *Engine) onKey(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	core.LogDebug("key %d pressed", data.Data.U16[0])
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	width, height := data.Data.U32[0], data.Data.U32[1]
	core.LogWarn("window resized to %dx%d; resizing is not supported, keeping the swapchain as is", width, height)
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			core.LogError("resize: %v", err)
		}
	}
	return true
}
