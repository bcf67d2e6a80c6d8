package core

import (
	"github.com/spaghettifunk/hellotriangle/engine/containers"
)

const AVG_COUNT = 30

// Metrics keeps a moving average of frame times and a frames-per-second
// counter refreshed once per accumulated second.
type Metrics struct {
	window             *containers.RingQueue[float64]
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64
}

func NewMetrics() *Metrics {
	return &Metrics{
		window: containers.NewRingQueue[float64](AVG_COUNT),
	}
}

// Update records one frame that took frameElapsedTime seconds. It returns
// true when a new FPS value was published.
func (m *Metrics) Update(frameElapsedTime float64) bool {
	frameMS := frameElapsedTime * 1000.0
	if m.window.IsFull() {
		_, _ = m.window.Dequeue()
	}
	_ = m.window.Enqueue(frameMS)

	if m.window.IsFull() {
		sum := 0.0
		for i := 0; i < m.window.Len(); i++ {
			v, _ := m.window.At(i)
			sum += v
		}
		m.msAvg = sum / float64(AVG_COUNT)
	}

	m.frames++
	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
		return true
	}
	return false
}

func (m *Metrics) FPS() float64 {
	return m.fps
}

// FrameTime is the average frame time in milliseconds over the last
// AVG_COUNT frames, zero until the window is full.
func (m *Metrics) FrameTime() float64 {
	return m.msAvg
}

func (m *Metrics) Frame() (float64, float64) {
	return m.fps, m.msAvg
}
