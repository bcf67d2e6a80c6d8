package platform

import (
	"testing"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

var _ Window = (*Headless)(nil)
var _ Window = (*Platform)(nil)
var _ hal.Window = (*Platform)(nil)

func TestHeadless(t *testing.T) {
	h := NewHeadless(800, 600)
	if w, ht := h.FramebufferSize(); w != 800 || ht != 600 {
		t.Errorf("FramebufferSize = %dx%d", w, ht)
	}
	if h.NativeHandle() != nil {
		t.Error("headless window has a native handle")
	}
	if !h.PumpMessages() {
		t.Fatal("new headless window reports closed")
	}
	h.Close()
	if h.PumpMessages() {
		t.Error("closed headless window still pumping")
	}
}

func TestWindowIsFixedSize(t *testing.T) {
	hints := make(map[glfw.Hint]int)
	for _, h := range windowHints {
		hints[h.hint] = h.value
	}
	if v, ok := hints[glfw.Resizable]; !ok || v != glfw.False {
		t.Errorf("Resizable hint = %d, %v; want False", v, ok)
	}
	if hints[glfw.ClientAPI] != glfw.NoAPI {
		t.Errorf("ClientAPI hint = %d, want NoAPI", hints[glfw.ClientAPI])
	}
}
