// Package window handles the SDL2 window the renderer presents to.
package window

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/veandco/go-sdl2/sdl"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-vk/internal/gpu"
	"github.com/Faultbox/midgard-vk/internal/logger"
)

func init() {
	// SDL and GL calls must be made from the main thread
	runtime.LockOSThread()
}

// Flavor selects which graphics API the window is created for.
type Flavor int

const (
	FlavorVulkan Flavor = iota
	FlavorOpenGL
)

func (f Flavor) String() string {
	if f == FlavorOpenGL {
		return "opengl"
	}
	return "vulkan"
}

// Config holds window configuration.
type Config struct {
	Title      string
	Width      int
	Height     int
	Fullscreen bool
	VSync      bool
	Flavor     Flavor
}

// Window wraps an SDL2 window and, for OpenGL, its context. It implements
// gpu.Surface.
type Window struct {
	config    Config
	sdlWindow *sdl.Window
	glContext sdl.GLContext
	log       *zap.Logger

	// Events taken off SDL's queue by WaitEvents, handed out by PollEvent.
	pending []sdl.Event
	closed  bool
}

// maxPending bounds the events kept while nobody polls.
const maxPending = 256

var _ gpu.Surface = (*Window)(nil)

// New creates a window for cfg.Flavor.
func New(cfg Config) (*Window, error) {
	w := &Window{
		config: cfg,
		log:    logger.Named("window"),
	}

	w.log.Info("initializing SDL2")
	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		return nil, fmt.Errorf("SDL_Init failed: %w", err)
	}

	flags := uint32(sdl.WINDOW_RESIZABLE | sdl.WINDOW_ALLOW_HIGHDPI)
	switch cfg.Flavor {
	case FlavorOpenGL:
		// 4.1 Core is the newest macOS provides.
		sdl.GLSetAttribute(sdl.GL_CONTEXT_MAJOR_VERSION, 4)
		sdl.GLSetAttribute(sdl.GL_CONTEXT_MINOR_VERSION, 1)
		sdl.GLSetAttribute(sdl.GL_CONTEXT_PROFILE_MASK, sdl.GL_CONTEXT_PROFILE_CORE)
		sdl.GLSetAttribute(sdl.GL_DOUBLEBUFFER, 1)
		sdl.GLSetAttribute(sdl.GL_DEPTH_SIZE, 24)
		flags |= sdl.WINDOW_OPENGL
	default:
		flags |= sdl.WINDOW_VULKAN
	}
	if cfg.Fullscreen {
		flags |= sdl.WINDOW_FULLSCREEN
	}

	var err error
	w.sdlWindow, err = sdl.CreateWindow(
		cfg.Title,
		sdl.WINDOWPOS_CENTERED,
		sdl.WINDOWPOS_CENTERED,
		int32(cfg.Width),
		int32(cfg.Height),
		flags,
	)
	if err != nil {
		sdl.Quit()
		return nil, fmt.Errorf("SDL_CreateWindow failed: %w", err)
	}

	if cfg.Flavor == FlavorOpenGL {
		w.glContext, err = w.sdlWindow.GLCreateContext()
		if err != nil {
			w.sdlWindow.Destroy()
			sdl.Quit()
			return nil, fmt.Errorf("SDL_GL_CreateContext failed: %w", err)
		}

		interval := 0
		if cfg.VSync {
			interval = 1
		}
		if err := sdl.GLSetSwapInterval(interval); err != nil {
			w.log.Warn("failed to set swap interval", zap.Int("interval", interval), zap.Error(err))
		}
	}

	w.log.Info("window created",
		zap.String("title", cfg.Title),
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
		zap.Bool("fullscreen", cfg.Fullscreen),
		zap.Bool("vsync", cfg.VSync),
		zap.Stringer("flavor", cfg.Flavor),
	)

	return w, nil
}

// Close destroys the window and cleans up SDL2.
func (w *Window) Close() {
	w.log.Info("closing window")

	if w.glContext != nil {
		sdl.GLDeleteContext(w.glContext)
		w.glContext = nil
	}
	if w.sdlWindow != nil {
		w.sdlWindow.Destroy()
		w.sdlWindow = nil
	}

	sdl.Quit()
}

// DrawableExtent returns the size in pixels of the presentable area. It is
// zero while the window is minimized.
func (w *Window) DrawableExtent() gpu.Extent {
	if w.sdlWindow.GetFlags()&sdl.WINDOW_MINIMIZED != 0 {
		return gpu.Extent{}
	}

	var width, height int32
	if w.config.Flavor == FlavorOpenGL {
		width, height = w.sdlWindow.GLGetDrawableSize()
	} else {
		width, height = w.sdlWindow.VulkanGetDrawableSize()
	}
	if width < 0 || height < 0 {
		return gpu.Extent{}
	}
	return gpu.Extent{Width: uint32(width), Height: uint32(height)}
}

// WaitEvents blocks until an event arrives or a short timeout passes, then
// drains SDL's queue into the window's buffer for PollEvent. It returns false
// once a quit or close request has been seen.
func (w *Window) WaitEvents() bool {
	if ev := sdl.WaitEventTimeout(100); ev != nil {
		w.keep(ev)
		for ev = sdl.PollEvent(); ev != nil; ev = sdl.PollEvent() {
			w.keep(ev)
		}
	}
	return !w.closed
}

func (w *Window) keep(ev sdl.Event) {
	if isClose(ev) {
		w.closed = true
	}
	if len(w.pending) == maxPending {
		w.log.Debug("event buffer full, dropping oldest")
		w.pending = w.pending[1:]
	}
	w.pending = append(w.pending, ev)
}

// PollEvent returns events buffered by WaitEvents first, then SDL's queue.
func (w *Window) PollEvent() sdl.Event {
	if len(w.pending) > 0 {
		ev := w.pending[0]
		w.pending = w.pending[1:]
		return ev
	}
	ev := sdl.PollEvent()
	if ev != nil && isClose(ev) {
		w.closed = true
	}
	return ev
}

func isClose(ev sdl.Event) bool {
	switch e := ev.(type) {
	case *sdl.QuitEvent:
		return true
	case *sdl.WindowEvent:
		return e.Event == sdl.WINDOWEVENT_CLOSE
	}
	return false
}

// SwapBuffers presents the OpenGL back buffer.
func (w *Window) SwapBuffers() {
	w.sdlWindow.GLSwap()
}

// VulkanInstanceExtensions lists the instance extensions SDL needs to
// create a surface for this window.
func (w *Window) VulkanInstanceExtensions() []string {
	return w.sdlWindow.VulkanGetInstanceExtensions()
}

// VulkanCreateSurface creates a VkSurfaceKHR for instance and returns a
// pointer to the handle.
func (w *Window) VulkanCreateSurface(instance any) (uintptr, error) {
	ptr, err := w.sdlWindow.VulkanCreateSurface(instance)
	if err != nil {
		return 0, err
	}
	return uintptr(ptr), nil
}

// VulkanProcAddr returns vkGetInstanceProcAddr from the Vulkan loader SDL opened.
func (w *Window) VulkanProcAddr() unsafe.Pointer {
	return sdl.VulkanGetVkGetInstanceProcAddr()
}

// Size returns the window size in screen coordinates.
func (w *Window) Size() (int, int) {
	width, height := w.sdlWindow.GetSize()
	return int(width), int(height)
}

// SetTitle sets the window title.
func (w *Window) SetTitle(title string) {
	w.sdlWindow.SetTitle(title)
}
