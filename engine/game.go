package engine

import "github.com/spaghettifunk/hellotriangle/engine/renderer"

type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	// FnVertices authors the static geometry for the window's aspect ratio.
	FnVertices renderer.VertexSource
	FnOnResize OnResize
}

type Initialize func() error
type Update func(deltaTime float64) error
type OnResize func(width uint32, height uint32) error
