package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/hellotriangle/engine/core"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if cfg.Window.Width != 800 || cfg.Window.Height != 600 {
		t.Errorf("window = %dx%d, want 800x600", cfg.Window.Width, cfg.Window.Height)
	}
	if time.Duration(cfg.Renderer.WaitTimeout) != 5*time.Second {
		t.Errorf("wait timeout = %v", time.Duration(cfg.Renderer.WaitTimeout))
	}
	if cfg.Renderer.SyncInterval != 1 || cfg.Renderer.MaxDroppedFrames != 3 {
		t.Errorf("renderer = %+v", cfg.Renderer)
	}
}

func TestDecodeOverrides(t *testing.T) {
	data := []byte(`
[window]
width = 1024

[renderer]
backend = "software"
wait_timeout = "250ms"

[log]
level = "DEBUG"
`)
	cfg := Default()
	if err := Decode(data, cfg); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Window.Width != 1024 || cfg.Window.Height != 600 {
		t.Errorf("window = %dx%d, want 1024x600", cfg.Window.Width, cfg.Window.Height)
	}
	if cfg.Renderer.Backend != BackendSoftware {
		t.Errorf("backend = %q", cfg.Renderer.Backend)
	}
	if time.Duration(cfg.Renderer.WaitTimeout) != 250*time.Millisecond {
		t.Errorf("wait timeout = %v", time.Duration(cfg.Renderer.WaitTimeout))
	}
	if cfg.Log.Level != core.DebugLevel {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	if cfg.Assets.Dir != "resources" {
		t.Errorf("untouched section changed: %q", cfg.Assets.Dir)
	}
}

func TestDecodeInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown key", "[window]\ndepth = 3\n"},
		{"bad backend", "[renderer]\nbackend = \"d3d12\"\n"},
		{"zero width", "[window]\nwidth = 0\n"},
		{"bad duration", "[renderer]\nwait_timeout = \"soon\"\n"},
		{"negative drops", "[renderer]\nmax_dropped_frames = -1\n"},
		{"bad level", "[log]\nlevel = \"loud\"\n"},
		{"syntax", "[window\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Decode([]byte(tt.data), Default()); err == nil {
				t.Error("Decode succeeded, want error")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(filepath.Join(dir, "missing.toml"), true)
	if err != nil {
		t.Fatalf("optional missing file: %v", err)
	}
	if cfg.Window.Width != 800 {
		t.Errorf("missing file did not yield defaults")
	}
	if _, err := Load(filepath.Join(dir, "missing.toml"), false); err == nil {
		t.Error("required missing file should fail")
	}

	path := filepath.Join(dir, "engine.toml")
	if err := os.WriteFile(path, []byte("[run]\nframes = 120\ncapture = \"out.bmp\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(path, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Run.Frames != 120 || cfg.Run.Capture != "out.bmp" {
		t.Errorf("run = %+v", cfg.Run)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	in := Default()
	in.Renderer.Backend = BackendSoftware
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out := Default()
	if err := Decode(data, out); err != nil {
		t.Fatalf("Decode(Encode()): %v\n%s", err, data)
	}
	if *out != *in {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}
