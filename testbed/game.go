package testbed

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/hellotriangle/engine"
	"github.com/spaghettifunk/hellotriangle/engine/core"
	"github.com/spaghettifunk/hellotriangle/engine/renderer"
)

// Title is the window title.
const Title = "Go Hello Triangle"

type gameState struct {
	width  uint32
	height uint32
	frames uint64
}

type TestGame struct {
	*engine.Game
}

func NewTestGame(cfg *engine.ApplicationConfig) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: cfg,
			State: &gameState{
				width:  cfg.StartWidth,
				height: cfg.StartHeight,
			},
		},
	}
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnVertices = Triangle
	tg.FnOnResize = tg.OnResize
	return tg
}

func (g *TestGame) Initialize() error {
	state := g.State.(*gameState)
	core.LogInfo("%s: %dx%d", Title, state.width, state.height)
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	state := g.State.(*gameState)
	state.frames++
	return nil
}

// OnResize records the new size. The geometry keeps the aspect ratio it was
// authored with.
func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.State.(*gameState)
	state.width, state.height = width, height
	return nil
}

// Triangle is a red, green and blue triangle centred on the origin,
// stretched vertically by aspect so it keeps its shape on screen.
func Triangle(aspect float32) []renderer.Vertex {
	return []renderer.Vertex{
		{Position: mgl32.Vec3{0.0, 0.25 * aspect, 0.0}, Color: mgl32.Vec4{1.0, 0.0, 0.0, 1.0}},
		{Position: mgl32.Vec3{0.25, -0.25 * aspect, 0.0}, Color: mgl32.Vec4{0.0, 1.0, 0.0, 1.0}},
		{Position: mgl32.Vec3{-0.25, -0.25 * aspect, 0.0}, Color: mgl32.Vec4{0.0, 0.0, 1.0, 1.0}},
	}
}
