package testbed

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/hellotriangle/engine"
	"github.com/spaghettifunk/hellotriangle/engine/config"
)

func TestTriangleFollowsAspect(t *testing.T) {
	aspect := float32(800) / float32(600)
	v := Triangle(aspect)
	if len(v) != 3 {
		t.Fatalf("%d vertices, want 3", len(v))
	}
	want := []mgl32.Vec3{
		{0, 0.25 * aspect, 0},
		{0.25, -0.25 * aspect, 0},
		{-0.25, -0.25 * aspect, 0},
	}
	colors := []mgl32.Vec4{{1, 0, 0, 1}, {0, 1, 0, 1}, {0, 0, 1, 1}}
	for i := range v {
		if !v[i].Position.ApproxEqual(want[i]) {
			t.Errorf("vertex %d position = %v, want %v", i, v[i].Position, want[i])
		}
		if v[i].Color != colors[i] {
			t.Errorf("vertex %d color = %v, want %v", i, v[i].Color, colors[i])
		}
	}
}

func TestNewTestGameWiresHooks(t *testing.T) {
	g := NewTestGame(engine.NewApplicationConfig(Title, config.Default()))
	if g.FnVertices == nil || g.FnUpdate == nil || g.FnInitialize == nil || g.FnOnResize == nil {
		t.Fatal("hooks not wired")
	}
	if err := g.FnOnResize(1024, 768); err != nil {
		t.Fatal(err)
	}
	if s := g.State.(*gameState); s.width != 1024 || s.height != 768 {
		t.Errorf("state after resize = %+v", s)
	}
	if g.ApplicationConfig.Name != "Go Hello Triangle" {
		t.Errorf("name = %q", g.ApplicationConfig.Name)
	}
}
