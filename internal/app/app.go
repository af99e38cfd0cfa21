// Package app wires the viewer together and owns the frame loop.
package app

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/veandco/go-sdl2/sdl"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-vk/internal/assets"
	"github.com/Faultbox/midgard-vk/internal/config"
	"github.com/Faultbox/midgard-vk/internal/engine/camera"
	"github.com/Faultbox/midgard-vk/internal/engine/input"
	"github.com/Faultbox/midgard-vk/internal/engine/window"
	"github.com/Faultbox/midgard-vk/internal/gpu"
	"github.com/Faultbox/midgard-vk/internal/gpu/opengl"
	"github.com/Faultbox/midgard-vk/internal/gpu/soft"
	"github.com/Faultbox/midgard-vk/internal/gpu/vulkan"
	"github.com/Faultbox/midgard-vk/internal/guid"
	"github.com/Faultbox/midgard-vk/internal/importer"
	"github.com/Faultbox/midgard-vk/internal/logger"
	"github.com/Faultbox/midgard-vk/internal/render"
	"github.com/Faultbox/midgard-vk/internal/scene"
	"github.com/Faultbox/midgard-vk/internal/staging"
	"github.com/Faultbox/midgard-vk/internal/texture"
	"github.com/Faultbox/midgard-vk/shaders"
)

// Title is the window title.
const Title = "Midgard VK"

// App is the model viewer.
type App struct {
	cfg *config.Config
	log *zap.Logger

	assets   *assets.Manager
	window   *window.Window
	surface  gpu.Surface
	device   gpu.Device
	renderer *render.Renderer
	uploader *staging.Uploader
	textures *texture.Registry
	importer *importer.Importer
	models   *scene.Manager
	input    *input.Input
	camera   *camera.OrbitCamera
	clip     camera.ClipSpace

	placed []placement
}

// placement is one drawn instance of a cached model.
type placement struct {
	id        guid.ID
	transform mgl32.Mat4
}

// New creates the window, device and renderer for cfg and loads the
// configured models. Models that fail to load are logged and skipped.
func New(cfg *config.Config) (_ *App, err error) {
	a := &App{
		cfg:    cfg,
		log:    logger.Named("app"),
		camera: camera.NewOrbitCamera(),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.log.Info("initializing viewer",
		zap.String("backend", cfg.Renderer.Backend),
		zap.Int("width", cfg.Graphics.Width),
		zap.Int("height", cfg.Graphics.Height),
		zap.Int("frames_in_flight", cfg.Renderer.FramesInFlight))

	a.assets, err = assets.Open(cfg.Assets.Roots, cfg.Assets.GRFPaths)
	if err != nil {
		return nil, fmt.Errorf("opening assets: %w", err)
	}

	if err := a.createDevice(); err != nil {
		return nil, err
	}

	vert, frag, err := a.shaderSources()
	if err != nil {
		return nil, err
	}
	a.renderer, err = render.NewRenderer(a.device, a.surface, render.RendererConfig{
		FramesInFlight: cfg.Renderer.FramesInFlight,
		ClearColor:     cfg.Renderer.ClearColor,
		VertexShader:   vert,
		FragmentShader: frag,
		PresentMode:    presentMode(cfg.Graphics.VSync),
		AcquireTimeout: cfg.Renderer.AcquireTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating renderer: %w", err)
	}

	a.uploader, err = staging.New(a.device)
	if err != nil {
		return nil, fmt.Errorf("creating uploader: %w", err)
	}

	a.textures = texture.NewRegistry(a.assets)
	a.importer = importer.New(a.assets, importer.Options{TextureDir: cfg.Assets.TextureDir})
	a.models, err = scene.NewManager(scene.ManagerConfig{
		Device:   a.device,
		Uploader: a.uploader,
		Importer: a.importer,
		Textures: a.textures,
		IDs:      guid.Random{},
		Retirer:  a.renderer.Retirer(),
	})
	if err != nil {
		return nil, err
	}

	a.loadAll()
	a.frameModels()

	a.log.Info("viewer initialized",
		zap.String("device", a.device.Name()),
		zap.Int("models", a.models.Len()),
		zap.Int("instances", len(a.placed)),
		zap.Int("textures", a.textures.Len()))
	return a, nil
}

// createDevice opens the window and device for the configured backend.
func (a *App) createDevice() error {
	g := a.cfg.Graphics
	if a.cfg.Renderer.Backend == config.BackendHeadless {
		extent := gpu.Extent{Width: uint32(g.Width), Height: uint32(g.Height)}
		a.device = soft.New(soft.Options{})
		a.surface = soft.NewSurface(extent)
		a.clip = camera.ClipVulkan
		return nil
	}

	flavor := window.FlavorVulkan
	if a.cfg.Renderer.Backend == config.BackendGL {
		flavor = window.FlavorOpenGL
	}
	win, err := window.New(window.Config{
		Title:      Title,
		Width:      g.Width,
		Height:     g.Height,
		Fullscreen: g.Fullscreen,
		VSync:      g.VSync,
		Flavor:     flavor,
	})
	if err != nil {
		return fmt.Errorf("creating window: %w", err)
	}
	a.window, a.surface = win, win
	a.input = input.NewWithPoller(win.PollEvent)

	switch flavor {
	case window.FlavorOpenGL:
		a.device, err = opengl.New(win)
		a.clip = camera.ClipGL
	default:
		a.device, err = vulkan.New(win, vulkan.Options{
			AppName:    Title,
			Validation: a.cfg.Renderer.Validation,
		})
		a.clip = camera.ClipVulkan
	}
	if err != nil {
		return fmt.Errorf("creating %s device: %w", a.cfg.Renderer.Backend, err)
	}
	return nil
}

// shaderSources returns SPIR-V for Vulkan and GLSL for OpenGL. The
// headless device ignores shader code.
func (a *App) shaderSources() (vert, frag []byte, err error) {
	r := a.cfg.Renderer
	switch r.Backend {
	case config.BackendHeadless:
		return nil, nil, nil
	case config.BackendGL:
		vert, frag = []byte(shaders.MeshVertexGL), []byte(shaders.MeshFragmentGL)
	default:
		if r.VertexShader == "" {
			r.VertexShader = shaders.VertexSPIRV
		}
		if r.FragmentShader == "" {
			r.FragmentShader = shaders.FragmentSPIRV
		}
	}
	if r.VertexShader != "" {
		if vert, err = os.ReadFile(r.VertexShader); err != nil {
			return nil, nil, fmt.Errorf("reading vertex shader: %w", err)
		}
	}
	if r.FragmentShader != "" {
		if frag, err = os.ReadFile(r.FragmentShader); err != nil {
			return nil, nil, fmt.Errorf("reading fragment shader: %w", err)
		}
	}
	return vert, frag, nil
}

func presentMode(vsync bool) gpu.PresentMode {
	if vsync {
		return gpu.PresentFIFO
	}
	return gpu.PresentMailbox
}

// frameModels points the camera at the union of the placed models' bounds.
func (a *App) frameModels() {
	var lo, hi mgl32.Vec3
	found := false
	for _, p := range a.placed {
		m, ok := a.models.Get(p.id)
		if !ok {
			continue
		}
		mn, mx, ok := m.Bounds()
		if !ok {
			continue
		}
		for _, c := range corners(mn, mx) {
			c = mgl32.TransformCoordinate(c, p.transform)
			if !found {
				lo, hi, found = c, c, true
				continue
			}
			for i := 0; i < 3; i++ {
				lo[i] = float32(math.Min(float64(lo[i]), float64(c[i])))
				hi[i] = float32(math.Max(float64(hi[i]), float64(c[i])))
			}
		}
	}
	if found {
		a.camera.FitToBounds(lo, hi)
	}
}

func corners(mn, mx mgl32.Vec3) [8]mgl32.Vec3 {
	var out [8]mgl32.Vec3
	for i := range out {
		for axis := 0; axis < 3; axis++ {
			out[i][axis] = mn[axis]
			if i&(1<<axis) != 0 {
				out[i][axis] = mx[axis]
			}
		}
	}
	return out
}

// Run drives frames until the window closes or, headless, until the
// configured number of frames has been rendered.
func (a *App) Run() error {
	lastTime := time.Now()
	frameCount := 0
	fpsTimer := time.Now()
	headless := a.window == nil

	a.log.Info("starting frame loop", zap.Bool("headless", headless))

	for frame := 0; ; frame++ {
		now := time.Now()
		dt := float32(now.Sub(lastTime).Seconds())
		lastTime = now

		if headless {
			if frame >= a.cfg.Renderer.HeadlessFrames {
				break
			}
			a.camera.HandleDrag(4, 0)
		} else if !a.handleInput(dt) {
			break
		}

		if err := a.drawFrame(); err != nil {
			if errors.Is(err, gpu.ErrSurfaceClosed) {
				a.log.Info("window closed during swapchain rebuild")
				break
			}
			return fmt.Errorf("render error: %w", err)
		}

		frameCount++
		if time.Since(fpsTimer) >= time.Second {
			st := a.renderer.Stats()
			a.log.Debug("fps",
				zap.Int("count", frameCount),
				zap.Int("draw_calls", a.renderer.DrawCalls()),
				zap.Uint64("skipped", st.Skipped),
				zap.Int("rebuilds", st.Rebuilds))
			frameCount = 0
			fpsTimer = time.Now()
		}
	}

	st := a.renderer.Stats()
	a.log.Info("frame loop finished",
		zap.Uint64("frames", st.Frames),
		zap.Uint64("skipped", st.Skipped),
		zap.Int("rebuilds", st.Rebuilds))
	return nil
}

// handleInput processes window events. It returns false once the viewer
// should stop.
func (a *App) handleInput(dt float32) bool {
	if a.input.Update() {
		return false
	}
	if a.input.IsKeyPressed(sdl.SCANCODE_ESCAPE) {
		return false
	}
	if a.input.Resized() {
		a.renderer.Resize()
	}
	for a.input.Minimized() {
		if !a.window.WaitEvents() || a.input.Update() {
			return false
		}
		if a.input.Resized() {
			a.renderer.Resize()
		}
	}

	if dx, dy := a.input.Drag(); dx != 0 || dy != 0 {
		a.camera.HandleDrag(float32(dx), float32(dy))
	}
	if w := a.input.Wheel(); w != 0 {
		a.camera.HandleZoom(float32(w))
	}
	keys := sdl.GetKeyboardState()
	var forward, right float32
	if keys[sdl.SCANCODE_W] != 0 {
		forward += dt * 60
	}
	if keys[sdl.SCANCODE_S] != 0 {
		forward -= dt * 60
	}
	if keys[sdl.SCANCODE_D] != 0 {
		right += dt * 60
	}
	if keys[sdl.SCANCODE_A] != 0 {
		right -= dt * 60
	}
	if forward != 0 || right != 0 {
		a.camera.HandleMovement(forward, right, 0)
	}

	switch {
	case a.input.IsKeyPressed(sdl.SCANCODE_F):
		a.frameModels()
	case a.input.IsKeyPressed(sdl.SCANCODE_U):
		a.unloadLast()
	case a.input.IsKeyPressed(sdl.SCANCODE_R):
		a.reload()
	}
	return true
}

// loadAll loads every configured model and world. Worlds contribute one
// placement per object; instances of one asset share a cached model.
func (a *App) loadAll() {
	a.placed = a.placed[:0]
	for _, ref := range a.cfg.Assets.Models {
		if !importer.IsWorld(ref) {
			a.place(ref, mgl32.Ident4())
			continue
		}
		instances, err := a.importer.ImportWorld(ref)
		if err != nil {
			a.log.Error("world load failed", zap.String("ref", ref), zap.Error(err))
			continue
		}
		for _, inst := range instances {
			a.place(inst.Ref, inst.Transform)
		}
	}
}

func (a *App) place(ref string, transform mgl32.Mat4) {
	if id := a.models.Load(ref); id.Valid() {
		a.placed = append(a.placed, placement{id: id, transform: transform})
	}
}

// unloadLast drops the most recently placed model from the cache along with
// all of its placements. Its buffers are released once in-flight frames are
// done with them.
func (a *App) unloadLast() {
	if len(a.placed) == 0 {
		return
	}
	id := a.placed[len(a.placed)-1].id
	kept := a.placed[:0]
	for _, p := range a.placed {
		if p.id != id {
			kept = append(kept, p)
		}
	}
	a.placed = kept
	ref, _ := a.models.Ref(id)
	a.models.Unload(id)
	a.log.Info("model unloaded", zap.String("ref", ref), zap.Stringer("id", id))
}

// reload places every configured model again. Resident models are reused.
func (a *App) reload() { a.loadAll() }

// drawFrame submits every loaded model and renders one frame.
func (a *App) drawFrame() error {
	for _, p := range a.placed {
		if m, ok := a.models.Get(p.id); ok {
			a.renderer.Submit(m, p.transform)
		}
	}

	extent := a.renderer.Extent()
	aspect := float32(1)
	if !extent.Empty() {
		aspect = float32(extent.Width) / float32(extent.Height)
	}
	return a.renderer.Frame(render.FrameUniforms{
		ViewProj: a.camera.ViewProj(aspect, a.clip),
		Eye:      a.camera.Position(),
	})
}

// Models returns the identifiers of the resident models in placement order.
func (a *App) Models() []guid.ID {
	seen := make(map[guid.ID]bool, len(a.placed))
	var ids []guid.ID
	for _, p := range a.placed {
		if !seen[p.id] {
			seen[p.id] = true
			ids = append(ids, p.id)
		}
	}
	return ids
}

// Instances returns the number of placed model instances.
func (a *App) Instances() int { return len(a.placed) }

// Renderer returns the renderer.
func (a *App) Renderer() *render.Renderer { return a.renderer }

// Device returns the GPU device.
func (a *App) Device() gpu.Device { return a.device }

// Close waits for the GPU and releases everything in reverse creation order.
// It is safe on a partially constructed App.
func (a *App) Close() {
	a.log.Info("closing viewer")

	if a.renderer != nil {
		if err := a.renderer.WaitIdle(); err != nil {
			a.log.Warn("wait idle on close", zap.Error(err))
		}
	}
	if a.models != nil {
		a.models.Destroy()
		a.models = nil
	}
	if a.uploader != nil {
		a.uploader.Destroy()
		a.uploader = nil
	}
	if a.renderer != nil {
		a.renderer.Destroy()
		a.renderer = nil
	}
	if a.device != nil {
		a.device.Destroy()
		a.device = nil
	}
	if a.window != nil {
		a.window.Close()
		a.window = nil
	}
	if a.assets != nil {
		a.assets.Close()
		a.assets = nil
	}
}
