package platform

import (
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/hellotriangle/engine/core"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

// Window is what the engine needs from a platform window: the hal window
// plus a message pump.
type Window interface {
	hal.Window
	// PumpMessages processes pending window events and reports whether
	// the window is still open.
	PumpMessages() bool
	Shutdown() error
}

type windowHint struct {
	hint  glfw.Hint
	value int
}

// windowHints keeps the window fixed size: the swapchain is never recreated,
// so a resized surface would go out of date.
var windowHints = []windowHint{
	{glfw.Visible, glfw.False},
	{glfw.Resizable, glfw.False},
	{glfw.ClientAPI, glfw.NoAPI}, // Required for Vulkan.
}

type Platform struct {
	Window *glfw.Window
	bus    *core.EventBus
}

func New(bus *core.EventBus) *Platform {
	return &Platform{
		bus: bus,
	}
}

func (p *Platform) Startup(applicationName string, x uint32, y uint32, width uint32, height uint32) error {
	if err := glfw.Init(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return err
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		core.LogError("glfw reports no Vulkan loader")
		return hal.ErrUnsupported
	}

	for _, h := range windowHints {
		glfw.WindowHint(h.hint, h.value)
	}

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		glfw.Terminate()
		core.LogError("failed to create window: %s", err)
		return err
	}
	p.Window = window

	p.Window.SetKeyCallback(p.keyCallback)
	p.Window.SetCloseCallback(p.closeCallback)
	p.Window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	p.Window.SetPos(int(x), int(y))
	p.Window.Show()

	return nil
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	glfw.Terminate()
	return nil
}

func (p *Platform) PumpMessages() bool {
	glfw.PollEvents()
	return !p.Window.ShouldClose()
}

// NativeHandle is the glfw window, which creates Vulkan surfaces.
func (p *Platform) NativeHandle() any {
	return p.Window
}

func (p *Platform) FramebufferSize() (int, int) {
	return p.Window.GetFramebufferSize()
}

func (p *Platform) RequiredInstanceExtensions() []string {
	return p.Window.GetRequiredInstanceExtensions()
}

func (p *Platform) InstanceProcAddress() unsafe.Pointer {
	return glfw.GetVulkanGetInstanceProcAddress()
}

func (p *Platform) keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	if action != glfw.Press {
		return
	}
	if key == glfw.KeyEscape {
		w.SetShouldClose(true)
		p.closeCallback(w)
		return
	}
	ctx := core.EventContext{}
	ctx.Data.U16[0] = uint16(key)
	p.bus.Fire(core.EVENT_CODE_KEY_PRESSED, p, ctx)
}

func (p *Platform) closeCallback(w *glfw.Window) {
	p.bus.Fire(core.EVENT_CODE_APPLICATION_QUIT, p, core.EventContext{})
}

func (p *Platform) framebufferSizeCallback(w *glfw.Window, width, height int) {
	ctx := core.EventContext{}
	ctx.Data.U32[0] = uint32(width)
	ctx.Data.U32[1] = uint32(height)
	p.bus.Fire(core.EVENT_CODE_RESIZED, p, ctx)
}
