package opengl

import (
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-vk/internal/gpu"
)

// Swapchain is the window's default framebuffer seen as a one-image swapchain.
type Swapchain struct {
	win       Window
	extent    gpu.Extent
	format    gpu.Format
	destroyed bool
}

// CreateSwapchain implements gpu.Device.
func (d *Device) CreateSwapchain(desc gpu.SwapchainDesc) (gpu.Swapchain, error) {
	extent := d.win.DrawableExtent()
	if extent.Empty() || desc.Extent.Empty() {
		return nil, gpu.ErrOutOfDate
	}
	if extent != desc.Extent {
		d.log.Debug("swapchain extent follows drawable",
			zap.Uint32("requested_width", desc.Extent.Width),
			zap.Uint32("requested_height", desc.Extent.Height),
			zap.Uint32("width", extent.Width),
			zap.Uint32("height", extent.Height))
	}
	return &Swapchain{win: d.win, extent: extent, format: d.SurfaceFormat()}, nil
}

func (s *Swapchain) Extent() gpu.Extent { return s.extent }
func (s *Swapchain) Format() gpu.Format { return s.format }
func (s *Swapchain) ImageCount() int    { return 1 }

// AcquireNextImage implements gpu.Swapchain. The default framebuffer is
// always available; only a size change makes it stale.
func (s *Swapchain) AcquireNextImage(_ time.Duration, _ gpu.Semaphore) (uint32, error) {
	if s.destroyed {
		return 0, gpu.ErrDestroyed
	}
	if cur := s.win.DrawableExtent(); cur.Empty() || cur != s.extent {
		return 0, gpu.ErrOutOfDate
	}
	return 0, nil
}

// Destroy implements gpu.Swapchain.
func (s *Swapchain) Destroy() { s.destroyed = true }

// ImageView stands in for the default framebuffer's color buffer.
type ImageView struct{}

// Destroy implements gpu.ImageView.
func (*ImageView) Destroy() {}

// CreateImageViews implements gpu.Device.
func (d *Device) CreateImageViews(sc gpu.Swapchain) ([]gpu.ImageView, error) {
	if _, ok := sc.(*Swapchain); !ok {
		return nil, errForeign
	}
	return []gpu.ImageView{&ImageView{}}, nil
}

// RenderPass records whether passes clear and test depth.
type RenderPass struct {
	depth bool
}

// Destroy implements gpu.RenderPass.
func (*RenderPass) Destroy() {}

// CreateRenderPass implements gpu.Device.
func (d *Device) CreateRenderPass(desc gpu.RenderPassDesc) (gpu.RenderPass, error) {
	return &RenderPass{depth: desc.Depth}, nil
}

// Framebuffer is the default framebuffer at a fixed extent.
type Framebuffer struct {
	extent gpu.Extent
}

func (f *Framebuffer) Extent() gpu.Extent { return f.extent }

// Destroy implements gpu.Framebuffer.
func (*Framebuffer) Destroy() {}

// CreateFramebuffer implements gpu.Device.
func (d *Device) CreateFramebuffer(rp gpu.RenderPass, view gpu.ImageView, extent gpu.Extent) (gpu.Framebuffer, error) {
	if _, ok := rp.(*RenderPass); !ok {
		return nil, errForeign
	}
	if _, ok := view.(*ImageView); !ok {
		return nil, errForeign
	}
	return &Framebuffer{extent: extent}, nil
}
