package renderer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spaghettifunk/hellotriangle/engine/core"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

// VertexSource authors the geometry for a given width/height aspect ratio.
type VertexSource func(aspect float32) []Vertex

type Options struct {
	SyncInterval int
	// WaitTimeout bounds each fence wait. Zero waits forever.
	WaitTimeout time.Duration
	// MaxDroppedFrames is how many consecutive frames may fail to record
	// before rendering gives up.
	MaxDroppedFrames int
}

func DefaultOptions() Options {
	return Options{
		SyncInterval:     1,
		WaitTimeout:      5 * time.Second,
		MaxDroppedFrames: 3,
	}
}

type Stats struct {
	Frames             uint64
	Dropped            uint64
	ConsecutiveDropped int
	LastSignaled       uint64
	Completed          uint64
}

// Renderer drives one frame at a time: record, submit, present, signal and
// wait for the GPU to finish before the next frame starts.
type Renderer struct {
	dc       *DeviceContext
	surface  *FrameSurface
	geometry *StaticGeometry
	recorder *CommandRecorder
	sync     *FrameSynchronizer
	opts     Options

	token SlotToken
	stats Stats
}

// New builds every per-window component on dc. On error whatever was
// created is released again.
func New(dc *DeviceContext, window hal.Window, shaders ShaderSet, vertices VertexSource, opts Options) (*Renderer, error) {
	r := &Renderer{dc: dc, opts: opts}
	built := false
	defer func() {
		if !built {
			_ = r.release()
		}
	}()

	var err error
	if r.surface, err = BindSurface(dc, window); err != nil {
		return nil, err
	}
	width, height := r.surface.Size()

	if r.geometry, err = UploadGeometry(dc, vertices(float32(width)/float32(height))); err != nil {
		return nil, err
	}
	pipeline, err := NewPipeline(dc, shaders)
	if err != nil {
		return nil, err
	}
	if r.recorder, err = NewCommandRecorder(dc, pipeline, r.geometry, width, height); err != nil {
		_ = pipeline.Destroy()
		return nil, err
	}
	if r.sync, err = NewFrameSynchronizer(dc, opts.WaitTimeout); err != nil {
		return nil, err
	}
	built = true
	return r, nil
}

// Render runs one frame. Recording and submit failures drop the frame and return nil
// until MaxDroppedFrames is exceeded; every other error is fatal.
func (r *Renderer) Render(ctx context.Context) error {
	token := r.token
	r.token = SlotToken{}
	if !token.Valid() {
		t, err := r.sync.WaitForSlot(ctx, r.sync.LastSignaled())
		if err != nil {
			return err
		}
		token = t
	}

	target := r.surface.Target(r.surface.CurrentIndex())
	if err := r.recorder.Record(token, target); err != nil {
		return r.drop(err)
	}
	list, err := r.recorder.List()
	if err != nil {
		return r.drop(err)
	}
	if err := r.dc.Submit(list); err != nil {
		return r.drop(err)
	}

	if err := r.surface.Present(r.opts.SyncInterval); err != nil {
		return err
	}

	value, err := r.sync.Signal(r.dc.Queue())
	if err != nil {
		return err
	}
	r.recorder.MarkSubmitted(value)
	r.stats.Frames++
	r.stats.ConsecutiveDropped = 0

	if r.token, err = r.sync.WaitForSlot(ctx, value); err != nil {
		return err
	}
	return nil
}

func (r *Renderer) drop(err error) error {
	if core.IsFatal(err) {
		return err
	}
	r.stats.Dropped++
	r.stats.ConsecutiveDropped++
	core.LogWarn("dropping frame %d: %v", r.stats.Frames+r.stats.Dropped, err)
	if r.stats.ConsecutiveDropped > r.opts.MaxDroppedFrames {
		return fmt.Errorf("%w: %d in a row, last: %v", core.ErrDroppedFrames, r.stats.ConsecutiveDropped, err)
	}
	return nil
}

func (r *Renderer) Stats() Stats {
	s := r.stats
	if r.sync != nil {
		s.LastSignaled = r.sync.LastSignaled()
		s.Completed = r.sync.Completed()
	}
	return s
}

func (r *Renderer) Surface() *FrameSurface {
	return r.surface
}

func (r *Renderer) Synchronizer() *FrameSynchronizer {
	return r.sync
}

func (r *Renderer) Recorder() *CommandRecorder {
	return r.recorder
}

func (r *Renderer) Geometry() *StaticGeometry {
	return r.geometry
}

// Capture writes the last presented frame when the backend supports it.
func (r *Renderer) Capture(w io.Writer) error {
	c, ok := r.surface.Swapchain().(interface{ Capture(io.Writer) error })
	if !ok {
		return fmt.Errorf("frame capture: %w", hal.ErrUnsupported)
	}
	return c.Capture(w)
}

// Shutdown waits for the GPU to go idle and releases every component. The
// device context is left to the caller. Later calls only re-check for leaks.
func (r *Renderer) Shutdown(ctx context.Context) error {
	var errs []error
	if r.sync != nil {
		if err := r.sync.Flush(ctx, r.dc.Queue()); err != nil {
			core.LogError("waiting for the GPU at shutdown: %v", err)
			errs = append(errs, err)
		}
	}
	errs = append(errs, r.release())
	if live := r.dc.Registry().Outstanding(ownerDevice); len(live) > 0 {
		for _, h := range live {
			core.LogWarn("leaked %s", h)
		}
		errs = append(errs, fmt.Errorf("%d handles leaked: %w", len(live), core.ErrResourcesOutstanding))
	}
	return errors.Join(errs...)
}

func (r *Renderer) release() error {
	var errs []error
	if r.recorder != nil {
		errs = append(errs, r.recorder.Destroy())
		r.recorder = nil
	}
	if r.geometry != nil {
		errs = append(errs, r.geometry.Destroy())
		r.geometry = nil
	}
	if r.surface != nil {
		errs = append(errs, r.surface.Destroy(r.sync))
		r.surface = nil
	}
	if r.sync != nil {
		errs = append(errs, r.sync.Destroy())
		r.sync = nil
	}
	return errors.Join(errs...)
}
