package vulkan

import (
	"fmt"
	"time"

	vk "github.com/goki/vulkan"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-vk/internal/gpu"
)

// Swapchain wraps a VkSwapchainKHR and its images.
type Swapchain struct {
	dev       *Device
	swapchain vk.Swapchain
	images    []vk.Image
	format    vk.Format
	extent    gpu.Extent
}

// CreateSwapchain implements gpu.Device. The extent comes from the surface
// when it reports one; a surface with zero area yields ErrOutOfDate.
func (d *Device) CreateSwapchain(desc gpu.SwapchainDesc) (gpu.Swapchain, error) {
	caps, err := d.surfaceCapabilities()
	if err != nil {
		return nil, err
	}
	extent := chooseExtent(caps, desc.Extent)
	if extent.Width == 0 || extent.Height == 0 {
		return nil, fmt.Errorf("vulkan: surface has zero area: %w", gpu.ErrOutOfDate)
	}

	format := d.surfaceFormat
	if want := toVkFormat(desc.Format); want != vk.FormatUndefined && want != format.Format {
		d.log.Warn("requested swapchain format differs from surface format, using surface format",
			zap.Int32("requested", int32(want)), zap.Int32("surface", int32(format.Format)))
	}
	mode := choosePresentMode(desc.PresentMode, d.presentModes())

	info := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.surface,
		MinImageCount:    chooseImageCount(caps, desc.MinImages),
		ImageFormat:      format.Format,
		ImageColorSpace:  format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      mode,
		Clipped:          vk.True,
	}
	if d.graphicsFamily != d.presentFamily {
		info.ImageSharingMode = vk.SharingModeConcurrent
		info.QueueFamilyIndexCount = 2
		info.PQueueFamilyIndices = []uint32{d.graphicsFamily, d.presentFamily}
	}

	sc := &Swapchain{
		dev:    d,
		format: format.Format,
		extent: gpu.Extent{Width: extent.Width, Height: extent.Height},
	}
	if err := check(vk.CreateSwapchain(d.device, &info, nil, &sc.swapchain), "vulkan: create swapchain"); err != nil {
		return nil, err
	}

	var count uint32
	vk.GetSwapchainImages(d.device, sc.swapchain, &count, nil)
	sc.images = make([]vk.Image, count)
	if err := check(vk.GetSwapchainImages(d.device, sc.swapchain, &count, sc.images), "vulkan: swapchain images"); err != nil {
		sc.Destroy()
		return nil, err
	}

	d.log.Debug("swapchain created",
		zap.Uint32("width", extent.Width),
		zap.Uint32("height", extent.Height),
		zap.Uint32("images", count),
		zap.Int32("present_mode", int32(mode)))
	return sc, nil
}

func (s *Swapchain) Extent() gpu.Extent { return s.extent }
func (s *Swapchain) Format() gpu.Format { return fromVkFormat(s.format) }
func (s *Swapchain) ImageCount() int    { return len(s.images) }

// AcquireNextImage implements gpu.Swapchain.
func (s *Swapchain) AcquireNextImage(timeout time.Duration, signal gpu.Semaphore) (uint32, error) {
	if s.swapchain == vk.NullSwapchain {
		return 0, gpu.ErrOutOfDate
	}
	sem, ok := signal.(*Semaphore)
	if !ok {
		return 0, errForeign
	}
	var index uint32
	ret := vk.AcquireNextImage(s.dev.device, s.swapchain, nanos(timeout), sem.sem, vk.NullFence, &index)
	return index, mapResult(ret)
}

// Destroy implements gpu.Swapchain.
func (s *Swapchain) Destroy() {
	if s.swapchain != vk.NullSwapchain {
		vk.DestroySwapchain(s.dev.device, s.swapchain, nil)
		s.swapchain = vk.NullSwapchain
	}
	s.images = nil
}

// ImageView wraps a VkImageView.
type ImageView struct {
	dev  *Device
	view vk.ImageView
}

// Destroy implements gpu.ImageView.
func (v *ImageView) Destroy() {
	if v.view != vk.NullImageView {
		vk.DestroyImageView(v.dev.device, v.view, nil)
		v.view = vk.NullImageView
	}
}

func (d *Device) createView(image vk.Image, format vk.Format, aspect vk.ImageAspectFlagBits) (vk.ImageView, error) {
	var view vk.ImageView
	ret := vk.CreateImageView(d.device, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(aspect),
			LevelCount: 1,
			LayerCount: 1,
		},
	}, nil, &view)
	return view, check(ret, "vulkan: create image view")
}

// CreateImageViews implements gpu.Device.
func (d *Device) CreateImageViews(sc gpu.Swapchain) ([]gpu.ImageView, error) {
	s, ok := sc.(*Swapchain)
	if !ok {
		return nil, errForeign
	}
	views := make([]gpu.ImageView, 0, len(s.images))
	for i, img := range s.images {
		v, err := d.createView(img, s.format, vk.ImageAspectColorBit)
		if err != nil {
			for _, made := range views {
				made.Destroy()
			}
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		views = append(views, &ImageView{dev: d, view: v})
	}
	return views, nil
}

// RenderPass wraps a single-subpass VkRenderPass: one color attachment that
// is presented, plus an optional depth attachment.
type RenderPass struct {
	dev   *Device
	pass  vk.RenderPass
	depth bool
}

// Destroy implements gpu.RenderPass.
func (r *RenderPass) Destroy() {
	if r.pass != vk.NullRenderPass {
		vk.DestroyRenderPass(r.dev.device, r.pass, nil)
		r.pass = vk.NullRenderPass
	}
}

// CreateRenderPass implements gpu.Device.
func (d *Device) CreateRenderPass(desc gpu.RenderPassDesc) (gpu.RenderPass, error) {
	color := toVkFormat(desc.ColorFormat)
	if color == vk.FormatUndefined {
		color = d.surfaceFormat.Format
	}
	attachments := []vk.AttachmentDescription{{
		Format:         color,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutPresentSrc,
	}}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments: []vk.AttachmentReference{{
			Attachment: 0,
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}},
	}
	stages := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	access := vk.AccessFlags(vk.AccessColorAttachmentWriteBit)

	if desc.Depth {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         d.depthFormat,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: 1,
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		stages |= vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit)
		access |= vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit)
	}

	var pass vk.RenderPass
	ret := vk.CreateRenderPass(d.device, &vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies: []vk.SubpassDependency{{
			SrcSubpass:    vk.SubpassExternal,
			DstSubpass:    0,
			SrcStageMask:  stages,
			DstStageMask:  stages,
			DstAccessMask: access,
		}},
	}, nil, &pass)
	if err := check(ret, "vulkan: create render pass"); err != nil {
		return nil, err
	}
	return &RenderPass{dev: d, pass: pass, depth: desc.Depth}, nil
}

// Framebuffer wraps a VkFramebuffer and owns the depth image it renders into.
type Framebuffer struct {
	dev    *Device
	fb     vk.Framebuffer
	extent gpu.Extent

	depthImage  vk.Image
	depthMemory vk.DeviceMemory
	depthView   vk.ImageView
}

func (f *Framebuffer) Extent() gpu.Extent { return f.extent }

// Destroy implements gpu.Framebuffer.
func (f *Framebuffer) Destroy() {
	dev := f.dev.device
	if f.fb != vk.NullFramebuffer {
		vk.DestroyFramebuffer(dev, f.fb, nil)
		f.fb = vk.NullFramebuffer
	}
	if f.depthView != vk.NullImageView {
		vk.DestroyImageView(dev, f.depthView, nil)
		f.depthView = vk.NullImageView
	}
	if f.depthImage != vk.NullImage {
		vk.DestroyImage(dev, f.depthImage, nil)
		f.depthImage = vk.NullImage
	}
	if f.depthMemory != vk.NullDeviceMemory {
		vk.FreeMemory(dev, f.depthMemory, nil)
		f.depthMemory = vk.NullDeviceMemory
	}
}

func (f *Framebuffer) createDepth(extent vk.Extent2D) error {
	d := f.dev
	ret := vk.CreateImage(d.device, &vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     vk.ImageType2d,
		Format:        d.depthFormat,
		Extent:        vk.Extent3D{Width: extent.Width, Height: extent.Height, Depth: 1},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &f.depthImage)
	if err := check(ret, "vulkan: create depth image"); err != nil {
		return err
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.device, f.depthImage, &reqs)
	reqs.Deref()
	mem, err := d.allocate(reqs, memoryFlags(gpu.MemoryDeviceLocal))
	if err != nil {
		return err
	}
	f.depthMemory = mem
	if err := check(vk.BindImageMemory(d.device, f.depthImage, mem, 0), "vulkan: bind depth memory"); err != nil {
		return err
	}

	f.depthView, err = d.createView(f.depthImage, d.depthFormat, vk.ImageAspectDepthBit)
	return err
}

// CreateFramebuffer implements gpu.Device.
func (d *Device) CreateFramebuffer(rp gpu.RenderPass, view gpu.ImageView, extent gpu.Extent) (gpu.Framebuffer, error) {
	pass, ok := rp.(*RenderPass)
	if !ok {
		return nil, errForeign
	}
	v, ok := view.(*ImageView)
	if !ok {
		return nil, errForeign
	}
	ext := vk.Extent2D{Width: extent.Width, Height: extent.Height}
	f := &Framebuffer{dev: d, extent: extent}

	attachments := []vk.ImageView{v.view}
	if pass.depth {
		if err := f.createDepth(ext); err != nil {
			f.Destroy()
			return nil, err
		}
		attachments = append(attachments, f.depthView)
	}

	ret := vk.CreateFramebuffer(d.device, &vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      pass.pass,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		Width:           ext.Width,
		Height:          ext.Height,
		Layers:          1,
	}, nil, &f.fb)
	if err := check(ret, "vulkan: create framebuffer"); err != nil {
		f.Destroy()
		return nil, err
	}
	return f, nil
}
