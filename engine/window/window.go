package window

import (
	"fmt"
	"runtime"

	"github.com/cogentcore/webgpu/wgpu"
)

// Window is the native surface host for the performance core. It pumps
// platform events, reports framebuffer size changes, and hands out the
// wgpu surface descriptor the render loop configures against. Input
// handling is intentionally minimal: a key-down hook is enough for the
// debug toggles the stress harnesses use.
type Window interface {
	// SetUpdateCallback sets the function invoked once per message loop
	// iteration, after pending events have been pumped.
	//
	// Parameters:
	//   - callback: function to call (or nil to disable)
	SetUpdateCallback(callback func())

	// SetResizeCallback sets the function invoked when the framebuffer
	// size changes. Consumers typically recompute the camera aspect ratio
	// and reconfigure the surface here.
	//
	// Parameters:
	//   - callback: function receiving the new width and height in pixels
	SetResizeCallback(callback func(width, height int))

	// SetKeyDownCallback sets the function invoked on key press or repeat.
	// Escape is reserved and closes the window before this fires.
	//
	// Parameters:
	//   - callback: function receiving the virtual key code
	SetKeyDownCallback(callback func(keyCode uint32))

	// SurfaceDescriptor returns a wgpu.SurfaceDescriptor for creating a
	// WebGPU surface on this window. The wgpuglfw bridge selects the
	// platform variant (Windows HWND, X11, Wayland, macOS Metal).
	//
	// Returns:
	//   - *wgpu.SurfaceDescriptor: the descriptor, or nil before the
	//     native window exists
	SurfaceDescriptor() *wgpu.SurfaceDescriptor

	// IsRunning reports whether the window is still open.
	//
	// Returns:
	//   - bool: true while the window is active
	IsRunning() bool

	// Close destroys the native window and releases platform resources.
	//
	// Returns:
	//   - error: error if the window was never initialized
	Close() error

	// ProcessMessages runs the event loop on the calling goroutine.
	// Blocks until the window closes, invoking the update callback each
	// iteration. Must run on the main OS thread.
	ProcessMessages()

	// Width returns the current framebuffer width in pixels.
	//
	// Returns:
	//   - int: width in pixels
	Width() int

	// Height returns the current framebuffer height in pixels.
	//
	// Returns:
	//   - int: height in pixels
	Height() int
}

// hostWindow is the implementation of the Window interface.
type hostWindow struct {
	// title is the text shown in the window title bar.
	title string

	// width is the current framebuffer width in pixels.
	width int

	// height is the current framebuffer height in pixels.
	height int

	// internalWindow holds the platform-specific state (glfwWindow).
	internalWindow any

	// onUpdate runs each message loop iteration, if set.
	onUpdate func()

	// onResize runs when the framebuffer size changes.
	onResize func(width, height int)

	// onKeyDown runs on key press and repeat.
	onKeyDown func(keyCode uint32)
}

var _ Window = &hostWindow{}

// NewWindow creates a Window with the specified options and spawns the
// native window immediately. Panics if the platform layer cannot
// initialize, since nothing downstream can run without a surface.
//
// Parameters:
//   - options: functional options to configure the window
//
// Returns:
//   - Window: the live window
func NewWindow(options ...WindowBuilderOption) Window {
	w := &hostWindow{
		title:  "Performance Host",
		width:  1280,
		height: 720,
	}
	for _, opt := range options {
		opt(w)
	}
	if err := newPlatformWindow(w); err != nil {
		panic(fmt.Sprintf("failed to create platform window: %v", err))
	}
	return w
}

func (w *hostWindow) SetUpdateCallback(callback func()) {
	w.onUpdate = callback
}

func (w *hostWindow) SetResizeCallback(callback func(width, height int)) {
	w.onResize = callback
}

func (w *hostWindow) SetKeyDownCallback(callback func(keyCode uint32)) {
	w.onKeyDown = callback
}

func (w *hostWindow) SurfaceDescriptor() *wgpu.SurfaceDescriptor {
	return platformGetSurfaceDescriptor(w)
}

func (w *hostWindow) IsRunning() bool {
	return platformIsRunningCheck(w)
}

func (w *hostWindow) Close() error {
	return platformCloseWindow(w)
}

func (w *hostWindow) ProcessMessages() {
	for w.IsRunning() {
		if succ := platformProcessMessages(w); !succ {
			break
		}

		if w.onUpdate != nil {
			w.onUpdate()
		}

		runtime.Gosched()
	}
}

func (w *hostWindow) Width() int {
	return w.width
}

func (w *hostWindow) Height() int {
	return w.height
}
