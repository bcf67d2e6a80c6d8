package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/bmp"

	"github.com/spaghettifunk/hellotriangle/engine/config"
	"github.com/spaghettifunk/hellotriangle/engine/core"
	"github.com/spaghettifunk/hellotriangle/engine/renderer"
)

func triangle(aspect float32) []renderer.Vertex {
	return []renderer.Vertex{
		{Position: mgl32.Vec3{0, 0.25 * aspect, 0}, Color: mgl32.Vec4{1, 0, 0, 1}},
		{Position: mgl32.Vec3{0.25, -0.25 * aspect, 0}, Color: mgl32.Vec4{0, 1, 0, 1}},
		{Position: mgl32.Vec3{-0.25, -0.25 * aspect, 0}, Color: mgl32.Vec4{0, 0, 1, 1}},
	}
}

func testConfig(t *testing.T, frames uint64) *ApplicationConfig {
	t.Helper()
	dir := t.TempDir()
	blob := []byte{0x03, 0x02, 0x23, 0x07}
	for _, name := range []string{VertexShaderFile, PixelShaderFile} {
		if err := os.WriteFile(filepath.Join(dir, name), blob, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cfg := config.Default()
	cfg.Renderer.Backend = config.BackendSoftware
	cfg.Assets.Dir = dir
	cfg.Assets.Watch = false
	cfg.Run.Frames = frames
	cfg.Log.Level = core.ErrorLevel
	return NewApplicationConfig("engine test", cfg)
}

func newTestEngine(t *testing.T, cfg *ApplicationConfig) *Engine {
	t.Helper()
	e, err := New(&Game{ApplicationConfig: cfg, FnVertices: triangle})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return e
}

func TestRunStopsAfterFrames(t *testing.T) {
	cfg := testConfig(t, 10)
	cfg.Capture = filepath.Join(t.TempDir(), "frame.bmp")
	updates := 0
	e, err := New(&Game{
		ApplicationConfig: cfg,
		FnVertices:        triangle,
		FnUpdate: func(float64) error {
			updates++
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if e.Frames() != 10 || updates != 10 {
		t.Errorf("frames = %d, updates = %d, want 10", e.Frames(), updates)
	}
	stats := e.Renderer().Stats()
	if stats.Completed != stats.LastSignaled || stats.LastSignaled != 10 {
		t.Errorf("stats = %+v", stats)
	}
	if err := e.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if e.Stage() != EngineStageUninitialized {
		t.Errorf("stage after shutdown = %d", e.Stage())
	}

	data, err := os.ReadFile(cfg.Capture)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	img, err := bmp.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decoding capture: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 800 || b.Dy() != 600 {
		t.Errorf("capture bounds = %v", b)
	}
}

func TestQuitEventStopsLoop(t *testing.T) {
	e := newTestEngine(t, testConfig(t, 0))
	defer e.Shutdown(context.Background())

	e.Events().Fire(core.EVENT_CODE_APPLICATION_QUIT, nil, core.EventContext{})

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("quit event did not stop the loop")
	}
}

func TestCancelStopsLoop(t *testing.T) {
	e := newTestEngine(t, testConfig(t, 0))
	defer e.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run after cancel: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not stop the loop")
	}
	if e.Frames() == 0 {
		t.Error("no frame rendered before cancel")
	}
}

func TestResizeIsReportedNotApplied(t *testing.T) {
	cfg := testConfig(t, 1)
	var got [2]uint32
	e, err := New(&Game{
		ApplicationConfig: cfg,
		FnVertices:        triangle,
		FnOnResize: func(w, h uint32) error {
			got = [2]uint32{w, h}
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown(context.Background())

	ctx := core.EventContext{}
	ctx.Data.U32[0], ctx.Data.U32[1] = 1024, 768
	e.Events().Fire(core.EVENT_CODE_RESIZED, nil, ctx)
	if got != [2]uint32{1024, 768} {
		t.Errorf("resize hook got %v", got)
	}
	if w, h := e.Renderer().Surface().Size(); w != 800 || h != 600 {
		t.Errorf("surface resized to %dx%d", w, h)
	}
}

func TestInitializeWithoutShaders(t *testing.T) {
	cfg := testConfig(t, 1)
	if err := os.Remove(filepath.Join(cfg.AssetsDir, PixelShaderFile)); err != nil {
		t.Fatal(err)
	}
	e, err := New(&Game{ApplicationConfig: cfg, FnVertices: triangle})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Initialize(); !errors.Is(err, core.ErrShaderMissing) {
		t.Errorf("Initialize err = %v, want ErrShaderMissing", err)
	}
	if e.Stage() != EngineStageBootComplete {
		t.Errorf("stage after failed initialize = %d", e.Stage())
	}
}

func TestRunRequiresInitialize(t *testing.T) {
	e, err := New(&Game{ApplicationConfig: testConfig(t, 1), FnVertices: triangle})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Run(context.Background()); err == nil {
		t.Error("Run before Initialize succeeded")
	}
}

func TestNewValidatesGame(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("New(nil) succeeded")
	}
	if _, err := New(&Game{ApplicationConfig: &ApplicationConfig{}}); err == nil {
		t.Error("New without vertices succeeded")
	}
}
