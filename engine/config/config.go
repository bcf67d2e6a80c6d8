package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/hellotriangle/engine/core"
)

// Backend names accepted by [renderer] backend.
const (
	BackendVulkan   = "vulkan"
	BackendSoftware = "software"
)

// Duration is a time.Duration written as a Go duration string ("5s", "250ms").
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

type Window struct {
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
	X      uint32 `toml:"x"`
	Y      uint32 `toml:"y"`
}

type Renderer struct {
	Backend          string   `toml:"backend"`
	SyncInterval     int      `toml:"sync_interval"`
	WaitTimeout      Duration `toml:"wait_timeout"`
	MaxDroppedFrames int      `toml:"max_dropped_frames"`
	Validation       bool     `toml:"validation"`
}

type Assets struct {
	Dir   string `toml:"dir"`
	Watch bool   `toml:"watch"`
}

type Log struct {
	Level core.LogLevel `toml:"level"`
}

type Run struct {
	Frames  uint64 `toml:"frames"`
	Capture string `toml:"capture"`
}

// Config is the runtime configuration. Title, buffer count and feature level
// are compiled in and deliberately absent.
type Config struct {
	Window   Window   `toml:"window"`
	Renderer Renderer `toml:"renderer"`
	Assets   Assets   `toml:"assets"`
	Log      Log      `toml:"log"`
	Run      Run      `toml:"run"`
}

func Default() *Config {
	return &Config{
		Window: Window{
			Width:  800,
			Height: 600,
			X:      100,
			Y:      100,
		},
		Renderer: Renderer{
			Backend:          BackendVulkan,
			SyncInterval:     1,
			WaitTimeout:      Duration(5 * time.Second),
			MaxDroppedFrames: 3,
		},
		Assets: Assets{
			Dir:   "resources",
			Watch: true,
		},
		Log: Log{
			Level: core.InfoLevel,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error when
// optional is true.
func Load(path string, optional bool) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			core.LogDebug("config file %s not found, using defaults", path)
			return cfg, nil
		}
		return nil, err
	}
	if err := Decode(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode applies TOML data to cfg and validates the result. Unknown keys are rejected.
func Decode(data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return fmt.Errorf("line %d column %d: %w", row, col, err)
		}
		return err
	}
	return cfg.Validate()
}

func (c *Config) Validate() error {
	if c.Window.Width == 0 || c.Window.Height == 0 {
		return fmt.Errorf("window size %dx%d must be non-zero", c.Window.Width, c.Window.Height)
	}
	switch c.Renderer.Backend {
	case BackendVulkan, BackendSoftware:
	default:
		return fmt.Errorf("unknown renderer backend %q", c.Renderer.Backend)
	}
	if c.Renderer.SyncInterval < 0 || c.Renderer.SyncInterval > 4 {
		return fmt.Errorf("sync_interval %d out of range [0,4]", c.Renderer.SyncInterval)
	}
	if c.Renderer.WaitTimeout < 0 {
		return fmt.Errorf("wait_timeout must not be negative")
	}
	if c.Renderer.MaxDroppedFrames < 0 {
		return fmt.Errorf("max_dropped_frames must not be negative")
	}
	lvl, err := core.ParseLogLevel(string(c.Log.Level))
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	c.Log.Level = lvl
	return nil
}

// Encode renders cfg as TOML.
func Encode(cfg *Config) ([]byte, error) {
	return toml.Marshal(cfg)
}
