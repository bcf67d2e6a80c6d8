/*
Renders a single coloured triangle through an explicit GPU frame pipeline:
two back buffers, one command list, and a fence the CPU waits on every frame.
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spaghettifunk/hellotriangle/engine"
	"github.com/spaghettifunk/hellotriangle/engine/config"
	"github.com/spaghettifunk/hellotriangle/engine/core"
	"github.com/spaghettifunk/hellotriangle/testbed"
)

// shutdownTimeout bounds the final GPU flush.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "hellotriangle.toml", "path to the TOML configuration")
	backend := flag.String("backend", "", "renderer backend: vulkan or software")
	frames := flag.Uint64("frames", 0, "stop after this many frames (0 runs until closed)")
	capture := flag.String("capture", "", "write the last presented frame to this BMP file")
	debug := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	cfg, err := config.Load(*configPath, true)
	if err != nil {
		core.LogError("loading configuration: %v", err)
		return 1
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Renderer.Backend = *backend
		case "frames":
			cfg.Run.Frames = *frames
		case "capture":
			cfg.Run.Capture = *capture
		case "debug":
			if *debug {
				cfg.Log.Level = core.DebugLevel
			}
		}
	})
	if err := cfg.Validate(); err != nil {
		core.LogError("invalid configuration: %v", err)
		return 1
	}

	tb := testbed.NewTestGame(engine.NewApplicationConfig(testbed.Title, cfg))
	e, err := engine.New(tb.Game)
	if err != nil {
		core.LogError(err.Error())
		return 1
	}
	if err := e.Initialize(); err != nil {
		core.LogError("initializing: %v", err)
		return 1
	}

	// signal context to capture system calls
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	status := 0
	if err := e.Run(ctx); err != nil {
		core.LogError("%v", err)
		if core.IsFatal(err) {
			status = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		core.LogError("shutdown: %v", err)
		status = 1
	}
	return status
}
