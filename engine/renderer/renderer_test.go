package renderer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/bmp"

	"github.com/spaghettifunk/hellotriangle/engine/core"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/software"
)

func init() {
	core.SetLogOutput(io.Discard)
}

type testWindow struct {
	width, height int
}

func (w testWindow) NativeHandle() any { return nil }
func (w testWindow) FramebufferSize() (int, int) { return w.width, w.height }

var testShaders = ShaderSet{
	Vertex: []byte{0x03, 0x02, 0x23, 0x07},
	Pixel:  []byte{0x03, 0x02, 0x23, 0x07},
}

func triangle(aspect float32) []Vertex {
	return []Vertex{
		{Position: mgl32.Vec3{0, 0.25 * aspect, 0}, Color: mgl32.Vec4{1, 0, 0, 1}},
		{Position: mgl32.Vec3{0.25, -0.25 * aspect, 0}, Color: mgl32.Vec4{0, 1, 0, 1}},
		{Position: mgl32.Vec3{-0.25, -0.25 * aspect, 0}, Color: mgl32.Vec4{0, 0, 1, 1}},
	}
}

type harness struct {
	dev *software.Device
	dc  *DeviceContext
	r   *Renderer
}

func newHarness(t *testing.T, opts software.Options, ropts Options) *harness {
	t.Helper()
	dc, err := AcquireDevice(software.NewInstance(opts))
	if err != nil {
		t.Fatalf("AcquireDevice: %v", err)
	}
	r, err := New(dc, testWindow{800, 600}, testShaders, triangle, ropts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := &harness{dev: dc.Device().(*software.Device), dc: dc, r: r}
	t.Cleanup(func() {
		h.dev.Resume()
		if h.r != nil {
			_ = h.r.Shutdown(context.Background())
		}
		_ = h.dc.Destroy()
	})
	return h
}

func (h *harness) run(t *testing.T, frames int) {
	t.Helper()
	for i := 0; i < frames; i++ {
		if err := h.r.Render(context.Background()); err != nil {
			t.Fatalf("frame %d: %v", i+1, err)
		}
	}
}

func TestAcquireDevice(t *testing.T) {
	tests := []struct {
		name     string
		adapters []software.AdapterConfig
		want     string
	}{
		{
			name: "skips software adapter listed first",
			adapters: []software.AdapterConfig{
				{Name: "warp", FeatureLevel: hal.FeatureLevel12_1, Software: true},
				{Name: "gpu", FeatureLevel: hal.FeatureLevel11_0},
			},
			want: "gpu",
		},
		{
			name: "skips adapter below minimum feature level",
			adapters: []software.AdapterConfig{
				{Name: "old", FeatureLevel: hal.FeatureLevel(0xa100)},
				{Name: "new", FeatureLevel: hal.FeatureLevel12_0},
			},
			want: "new",
		},
		{
			name: "first qualifying adapter wins",
			adapters: []software.AdapterConfig{
				{Name: "first", FeatureLevel: hal.FeatureLevel11_1},
				{Name: "second", FeatureLevel: hal.FeatureLevel12_1},
			},
			want: "first",
		},
		{
			name: "no qualifying adapter",
			adapters: []software.AdapterConfig{
				{Name: "warp", FeatureLevel: hal.FeatureLevel12_1, Software: true},
				{Name: "old", FeatureLevel: hal.FeatureLevel(0xa000)},
			},
		},
		{
			name: "no adapters at all",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dc, err := AcquireDevice(software.NewInstance(software.Options{Adapters: tt.adapters}))
			if tt.want == "" {
				if !errors.Is(err, core.ErrNoSuitableAdapter) {
					t.Fatalf("AcquireDevice = %v, want ErrNoSuitableAdapter", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("AcquireDevice: %v", err)
			}
			defer dc.Destroy()
			if got := dc.AdapterInfo().Name; got != tt.want {
				t.Errorf("selected %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRender120Frames(t *testing.T) {
	h := newHarness(t, software.DefaultOptions(), DefaultOptions())
	h.run(t, 120)

	st := h.r.Stats()
	if st.Frames != 120 || st.Dropped != 0 {
		t.Errorf("frames/dropped = %d/%d, want 120/0", st.Frames, st.Dropped)
	}
	if st.LastSignaled != 120 || st.Completed != 120 {
		t.Errorf("fence signaled/completed = %d/%d, want 120/120", st.LastSignaled, st.Completed)
	}
	if errs := h.dev.Trace().Errors(); len(errs) != 0 {
		t.Errorf("validation errors: %v", errs)
	}
	if got := len(h.dev.Trace().Filter(software.EventPresent)); got != 120 {
		t.Errorf("presents = %d, want 120", got)
	}
	if got := h.r.Synchronizer().State(); got != SyncIdle {
		t.Errorf("state after wait = %s, want idle", got)
	}
}

func TestCompletedValueNonDecreasing(t *testing.T) {
	opts := software.DefaultOptions()
	opts.Latency = 200 * time.Microsecond
	h := newHarness(t, opts, DefaultOptions())

	var last uint64
	for i := 1; i <= 30; i++ {
		if err := h.r.Render(context.Background()); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		got := h.r.Synchronizer().Completed()
		if got < last {
			t.Fatalf("completed went from %d to %d", last, got)
		}
		if got != uint64(i) {
			t.Errorf("after frame %d completed = %d", i, got)
		}
		last = got
	}
}

func TestBarriersBalancedPerBuffer(t *testing.T) {
	h := newHarness(t, software.DefaultOptions(), DefaultOptions())
	h.run(t, 40)

	open := map[int]bool{}
	count := map[int]int{}
	for _, e := range h.dev.Trace().Filter(software.EventBarrier) {
		switch {
		case e.Before == hal.ResourceStatePresent && e.After == hal.ResourceStateRenderTarget:
			if open[e.Index] {
				t.Fatalf("buffer %d transitioned to render target twice", e.Index)
			}
			open[e.Index] = true
			count[e.Index]++
		case e.Before == hal.ResourceStateRenderTarget && e.After == hal.ResourceStatePresent:
			if !open[e.Index] {
				t.Fatalf("buffer %d returned to present without being a render target", e.Index)
			}
			open[e.Index] = false
		default:
			t.Fatalf("unexpected barrier %s -> %s", e.Before, e.After)
		}
	}
	for i, o := range open {
		if o {
			t.Errorf("buffer %d left in render target state", i)
		}
	}
	if count[0] != 20 || count[1] != 20 {
		t.Errorf("frames per buffer = %v, want 20 each", count)
	}
}

func TestRecordingIndexFollowsSurface(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	var handedOut []int
	opts := software.DefaultOptions()
	opts.BackBufferOrder = func(presented, count int) int {
		next := rnd.Intn(count)
		handedOut = append(handedOut, next)
		return next
	}
	h := newHarness(t, opts, DefaultOptions())

	const frames = 25
	for i := 0; i < frames; i++ {
		want := h.r.Surface().Swapchain().CurrentBackBufferIndex()
		if got := h.r.Surface().CurrentIndex(); got != want {
			t.Fatalf("frame %d: surface index %d, swapchain reports %d", i, got, want)
		}
		if err := h.r.Render(context.Background()); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}

	expected := append([]int{0}, handedOut[:frames-1]...)
	targets := h.dev.Trace().Filter(software.EventRenderTarget)
	if len(targets) != frames {
		t.Fatalf("render target binds = %d, want %d", len(targets), frames)
	}
	for i, e := range targets {
		if e.Index != expected[i] {
			t.Errorf("frame %d recorded into buffer %d, surface reported %d", i, e.Index, expected[i])
		}
	}
}

func TestGPULagBlocksCPU(t *testing.T) {
	h := newHarness(t, software.DefaultOptions(), DefaultOptions())
	h.run(t, 1)
	sync := h.r.Synchronizer()

	h.dev.Pause()
	done := make(chan error, 1)
	go func() {
		done <- h.r.Render(context.Background())
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !sync.IsWaiting() {
		if time.Now().After(deadline) {
			t.Fatal("render never blocked in WaitForSlot")
		}
		time.Sleep(time.Millisecond)
	}
	resets := len(h.dev.Trace().Filter(software.EventAllocatorReset))

	time.Sleep(50 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("render returned while the GPU was a frame behind: %v", err)
	default:
	}
	if got := sync.Completed(); got != 1 {
		t.Errorf("completed = %d while paused, want 1", got)
	}
	if got := sync.LastSignaled(); got != 2 {
		t.Errorf("last signaled = %d, want 2", got)
	}
	if got := sync.State(); got != SyncSubmitted {
		t.Errorf("state = %s, want submitted", got)
	}
	if got := len(h.dev.Trace().Filter(software.EventAllocatorReset)); got != resets || got != 2 {
		t.Errorf("allocator resets = %d (was %d), want 2", got, resets)
	}

	h.dev.Resume()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("render after resume: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("render did not return after the GPU caught up")
	}
	if got := sync.Completed(); got != 2 {
		t.Errorf("completed = %d, want 2", got)
	}
	if errs := h.dev.Trace().Errors(); len(errs) != 0 {
		t.Errorf("validation errors: %v", errs)
	}
	h.run(t, 1)
}

func TestDroppedFrames(t *testing.T) {
	h := newHarness(t, software.DefaultOptions(), DefaultOptions())
	h.dev.FailCommandLists(2)
	h.run(t, 5)

	st := h.r.Stats()
	if st.Frames != 3 || st.Dropped != 2 || st.ConsecutiveDropped != 0 {
		t.Errorf("stats = %+v, want 3 frames and 2 dropped", st)
	}
	if st.Completed != 3 {
		t.Errorf("completed = %d, want 3", st.Completed)
	}
	if errs := h.dev.Trace().Errors(); len(errs) != 0 {
		t.Errorf("validation errors: %v", errs)
	}

	h.dev.FailCommandLists(4)
	var err error
	for i := 0; i < 4 && err == nil; i++ {
		err = h.r.Render(context.Background())
	}
	if !errors.Is(err, core.ErrDroppedFrames) {
		t.Fatalf("fourth consecutive drop = %v, want ErrDroppedFrames", err)
	}
	if !core.IsFatal(err) {
		t.Error("exceeding the dropped frame budget must be fatal")
	}
}

func TestSubmitFailureDropsFrame(t *testing.T) {
	h := newHarness(t, software.DefaultOptions(), DefaultOptions())
	h.run(t, 1)
	index := h.r.Surface().CurrentIndex()

	h.dev.FailSubmits(1)
	if err := h.r.Render(context.Background()); err != nil {
		t.Fatalf("Render with a rejected submit = %v, want a dropped frame", err)
	}
	st := h.r.Stats()
	if st.Frames != 1 || st.Dropped != 1 || st.LastSignaled != 1 {
		t.Errorf("stats = %+v, want 1 frame, 1 dropped and nothing new signaled", st)
	}
	if got := h.r.Surface().CurrentIndex(); got != index {
		t.Errorf("back buffer moved to %d without a present", got)
	}

	h.run(t, 2)
	if st := h.r.Stats(); st.Frames != 3 || st.ConsecutiveDropped != 0 || st.Completed != 3 {
		t.Errorf("stats after recovery = %+v", st)
	}
	if errs := h.dev.Trace().Errors(); len(errs) != 0 {
		t.Errorf("validation errors: %v", errs)
	}
}

func TestDeviceRemovalIsFatal(t *testing.T) {
	h := newHarness(t, software.DefaultOptions(), DefaultOptions())
	h.run(t, 2)
	h.dev.Remove("driver reset")

	err := h.r.Render(context.Background())
	if !errors.Is(err, core.ErrDeviceLost) {
		t.Fatalf("Render after removal = %v, want ErrDeviceLost", err)
	}
	if !core.IsFatal(err) {
		t.Error("device loss must be fatal")
	}
}

func TestShutdownIsRepeatable(t *testing.T) {
	h := newHarness(t, software.DefaultOptions(), DefaultOptions())
	h.run(t, 2)

	if err := h.r.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := h.r.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if st := h.r.Stats(); st.Frames != 2 {
		t.Errorf("stats after shutdown = %+v", st)
	}
}

func TestLifecycleOrdering(t *testing.T) {
	h := newHarness(t, software.DefaultOptions(), DefaultOptions())
	h.run(t, 3)

	if err := h.dc.Destroy(); !errors.Is(err, core.ErrResourcesOutstanding) {
		t.Fatalf("device destroy with live components = %v, want ErrResourcesOutstanding", err)
	}

	sync := h.r.Synchronizer()
	h.dev.Pause()
	if _, err := sync.Signal(h.dc.Queue()); err != nil {
		t.Fatal(err)
	}
	if err := h.r.Surface().Destroy(sync); !errors.Is(err, core.ErrResourcesOutstanding) {
		t.Fatalf("surface destroy with outstanding work = %v, want ErrResourcesOutstanding", err)
	}
	h.dev.Resume()

	if err := h.r.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	h.r = nil
	if err := h.dc.Destroy(); err != nil {
		t.Fatalf("device destroy after shutdown: %v", err)
	}
}

func TestCapture(t *testing.T) {
	h := newHarness(t, software.DefaultOptions(), DefaultOptions())
	h.run(t, 2)
	h.dev.WaitIdle()

	var buf bytes.Buffer
	if err := h.r.Capture(&buf); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	img, err := bmp.Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	rgb := func(x, y int) (int, int, int) {
		r, g, b, _ := img.At(x, y).RGBA()
		return int(r >> 8), int(g >> 8), int(b >> 8)
	}
	if r, g, b := rgb(5, 5); r != 0 || g != 51 || b != 102 {
		t.Errorf("corner = (%d,%d,%d), want clear colour (0,51,102)", r, g, b)
	}
	near := func(got, want int) bool { return got >= want-6 && got <= want+6 }
	if r, g, b := rgb(400, 300); !near(r, 128) || !near(g, 64) || !near(b, 64) {
		t.Errorf("centre = (%d,%d,%d), want about (128,64,64)", r, g, b)
	}
}

func TestMissingShaders(t *testing.T) {
	dc, err := AcquireDevice(software.NewInstance(software.DefaultOptions()))
	if err != nil {
		t.Fatal(err)
	}
	_, err = New(dc, testWindow{800, 600}, ShaderSet{Vertex: testShaders.Vertex}, triangle, DefaultOptions())
	if !errors.Is(err, core.ErrShaderMissing) {
		t.Fatalf("New without pixel shader = %v, want ErrShaderMissing", err)
	}
	if live := dc.Registry().Outstanding(ownerDevice); len(live) != 0 {
		t.Errorf("failed New leaked %v", live)
	}
	if err := dc.Destroy(); err != nil {
		t.Fatal(err)
	}
}

func TestBindSurfaceRejectsEmptyWindow(t *testing.T) {
	dc, err := AcquireDevice(software.NewInstance(software.DefaultOptions()))
	if err != nil {
		t.Fatal(err)
	}
	defer dc.Destroy()
	if _, err := BindSurface(dc, testWindow{0, 600}); !errors.Is(err, core.ErrPresentationUnsupported) {
		t.Fatalf("BindSurface(0x600) = %v, want ErrPresentationUnsupported", err)
	}
}
