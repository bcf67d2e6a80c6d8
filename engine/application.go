package engine

import (
	"time"

	"github.com/spaghettifunk/hellotriangle/engine/config"
	"github.com/spaghettifunk/hellotriangle/engine/core"
)

type ApplicationConfig struct {
	// Window starting position x axis, if applicable.
	StartPosX uint32
	// Window starting position y axis, if applicable.
	StartPosY uint32
	// Window starting width, if applicable.
	StartWidth uint32
	// Window starting height, if applicable.
	StartHeight uint32
	// The application name used in windowing, if applicable.
	Name     string
	LogLevel core.LogLevel

	Backend          string
	SyncInterval     int
	WaitTimeout      time.Duration
	MaxDroppedFrames int
	Validation       bool

	AssetsDir   string
	WatchAssets bool

	// Frames stops the loop after that many rendered frames. Zero runs
	// until the window closes.
	Frames uint64
	// Capture is where the last presented frame is written as BMP on
	// shutdown. Empty disables capture.
	Capture string
}

// NewApplicationConfig applies the runtime configuration to an application named name.
func NewApplicationConfig(name string, cfg *config.Config) *ApplicationConfig {
	return &ApplicationConfig{
		StartPosX:        cfg.Window.X,
		StartPosY:        cfg.Window.Y,
		StartWidth:       cfg.Window.Width,
		StartHeight:      cfg.Window.Height,
		Name:             name,
		LogLevel:         cfg.Log.Level,
		Backend:          cfg.Renderer.Backend,
		SyncInterval:     cfg.Renderer.SyncInterval,
		WaitTimeout:      time.Duration(cfg.Renderer.WaitTimeout),
		MaxDroppedFrames: cfg.Renderer.MaxDroppedFrames,
		Validation:       cfg.Renderer.Validation,
		AssetsDir:        cfg.Assets.Dir,
		WatchAssets:      cfg.Assets.Watch,
		Frames:           cfg.Run.Frames,
		Capture:          cfg.Run.Capture,
	}
}
