package render

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-vk/internal/gpu"
	"github.com/Faultbox/midgard-vk/internal/logger"
)

// SwapchainConfig selects presentation parameters.
type SwapchainConfig struct {
	PresentMode gpu.PresentMode
	MinImages   uint32
}

// SwapchainManager owns the swapchain and everything derived from its images:
// image views and framebuffers. The render pass it builds framebuffers for is
// borrowed and survives rebuilds.
type SwapchainManager struct {
	dev     gpu.Device
	surface gpu.Surface
	pass    gpu.RenderPass
	cfg     SwapchainConfig
	log     *zap.Logger

	swapchain    gpu.Swapchain
	views        []gpu.ImageView
	framebuffers []gpu.Framebuffer
	rebuilds     int
}

// NewSwapchainManager creates the initial swapchain, waiting for the surface
// to have a non-zero drawable area first.
func NewSwapchainManager(dev gpu.Device, surface gpu.Surface, pass gpu.RenderPass, cfg SwapchainConfig) (*SwapchainManager, error) {
	m := &SwapchainManager{
		dev:     dev,
		surface: surface,
		pass:    pass,
		cfg:     cfg,
		log:     logger.Named("swapchain"),
	}
	extent, err := m.waitForArea()
	if err != nil {
		return nil, err
	}
	if err := m.create(extent); err != nil {
		m.destroyChain()
		return nil, err
	}
	return m, nil
}

// Rebuild recreates the swapchain for the current surface size. It blocks
// while the surface has zero area, then waits for the device to go idle so no
// submitted work still references the old images.
func (m *SwapchainManager) Rebuild() error {
	extent, err := m.waitForArea()
	if err != nil {
		return fmt.Errorf("swapchain rebuild: %w", err)
	}

	if err := m.dev.WaitIdle(); err != nil {
		return fmt.Errorf("swapchain rebuild: wait idle: %w", err)
	}
	m.destroyChain()

	if err := m.create(extent); err != nil {
		m.destroyChain()
		return fmt.Errorf("swapchain rebuild: %w", err)
	}
	m.rebuilds++
	m.log.Info("swapchain rebuilt",
		zap.Uint32("width", extent.Width),
		zap.Uint32("height", extent.Height),
		zap.Int("images", len(m.framebuffers)),
		zap.Int("rebuilds", m.rebuilds))
	return nil
}

// waitForArea polls the surface, blocking on window events while it is
// minimized. A close request while waiting returns gpu.ErrSurfaceClosed.
func (m *SwapchainManager) waitForArea() (gpu.Extent, error) {
	extent := m.surface.DrawableExtent()
	if extent.Empty() {
		m.log.Debug("surface has zero area, waiting")
		start := time.Now()
		for extent.Empty() {
			if !m.surface.WaitEvents() {
				m.log.Info("surface closed while minimized")
				return gpu.Extent{}, gpu.ErrSurfaceClosed
			}
			extent = m.surface.DrawableExtent()
		}
		m.log.Debug("surface restored", zap.Duration("waited", time.Since(start)))
	}
	return extent, nil
}

func (m *SwapchainManager) create(extent gpu.Extent) error {
	sc, err := m.dev.CreateSwapchain(gpu.SwapchainDesc{
		Extent:      extent,
		Format:      m.dev.SurfaceFormat(),
		PresentMode: m.cfg.PresentMode,
		MinImages:   m.cfg.MinImages,
	})
	if err != nil {
		return fmt.Errorf("create swapchain: %w", err)
	}
	m.swapchain = sc

	m.views, err = m.dev.CreateImageViews(sc)
	if err != nil {
		return fmt.Errorf("create image views: %w", err)
	}

	// The swapchain may clamp the requested extent.
	fbExtent := sc.Extent()
	m.framebuffers = make([]gpu.Framebuffer, 0, len(m.views))
	for i, view := range m.views {
		fb, err := m.dev.CreateFramebuffer(m.pass, view, fbExtent)
		if err != nil {
			return fmt.Errorf("create framebuffer %d: %w", i, err)
		}
		m.framebuffers = append(m.framebuffers, fb)
	}
	return nil
}

// destroyChain releases framebuffers, image views and the swapchain, in that order.
func (m *SwapchainManager) destroyChain() {
	for _, fb := range m.framebuffers {
		fb.Destroy()
	}
	m.framebuffers = nil
	for _, v := range m.views {
		v.Destroy()
	}
	m.views = nil
	if m.swapchain != nil {
		m.swapchain.Destroy()
		m.swapchain = nil
	}
}

// Acquire requests the next image, signaling sem when it is ready.
func (m *SwapchainManager) Acquire(timeout time.Duration, sem gpu.Semaphore) (uint32, error) {
	if m.swapchain == nil {
		return 0, gpu.ErrOutOfDate
	}
	return m.swapchain.AcquireNextImage(timeout, sem)
}

// Swapchain returns the current swapchain.
func (m *SwapchainManager) Swapchain() gpu.Swapchain { return m.swapchain }

// Extent returns the current swapchain extent.
func (m *SwapchainManager) Extent() gpu.Extent {
	if m.swapchain == nil {
		return gpu.Extent{}
	}
	return m.swapchain.Extent()
}

// ImageCount returns the number of swapchain images.
func (m *SwapchainManager) ImageCount() int {
	if m.swapchain == nil {
		return 0
	}
	return m.swapchain.ImageCount()
}

// Framebuffer returns the framebuffer for image i.
func (m *SwapchainManager) Framebuffer(i uint32) gpu.Framebuffer { return m.framebuffers[i] }

// FramebufferCount returns the number of framebuffers.
func (m *SwapchainManager) FramebufferCount() int { return len(m.framebuffers) }

// Rebuilds returns how many times Rebuild succeeded.
func (m *SwapchainManager) Rebuilds() int { return m.rebuilds }

// Destroy releases the swapchain and its dependents. The caller must make
// sure the device is idle.
func (m *SwapchainManager) Destroy() {
	m.destroyChain()
}
