// Package vulkan implements the gpu API on Vulkan through goki/vulkan.
//
// The instance is created with the extensions SDL reports for the window and
// presents to a surface SDL creates. One queue family that supports graphics
// and presentation is preferred; when the device only offers them in separate
// families the swapchain images are shared concurrently between the two.
// Transfers run on the graphics queue.
package vulkan

import (
	"errors"
	"fmt"
	"math"
	"time"
	"unsafe"

	vk "github.com/goki/vulkan"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-vk/internal/gpu"
	"github.com/Faultbox/midgard-vk/internal/logger"
)

const validationLayer = "VK_LAYER_KHRONOS_validation\x00"

// Window is the windowing side the device needs to present.
type Window interface {
	gpu.Surface
	VulkanProcAddr() unsafe.Pointer
	VulkanInstanceExtensions() []string
	VulkanCreateSurface(instance any) (uintptr, error)
}

// Options configures device creation.
type Options struct {
	AppName    string
	Validation bool
}

// Device is a Vulkan gpu.Device bound to one window surface.
type Device struct {
	log *zap.Logger
	win Window

	instance vk.Instance
	surface  vk.Surface
	physical vk.PhysicalDevice
	device   vk.Device
	name     string
	memProps vk.PhysicalDeviceMemoryProperties

	graphicsFamily uint32
	presentFamily  uint32
	graphics       *Queue
	present        *Queue

	surfaceFormat vk.SurfaceFormat
	depthFormat   vk.Format
}

var _ gpu.Device = (*Device)(nil)

// New loads Vulkan through the window's loader and creates the instance,
// surface and logical device.
func New(win Window, opts Options) (d *Device, err error) {
	d = &Device{win: win, log: logger.Named("vulkan")}
	defer func() {
		if err != nil {
			d.Destroy()
			d = nil
		}
	}()

	vk.SetGetInstanceProcAddr(win.VulkanProcAddr())
	if err := vk.Init(); err != nil {
		return nil, fmt.Errorf("vulkan: init loader: %w", err)
	}

	if err := d.createInstance(opts); err != nil {
		return nil, err
	}
	ptr, err := win.VulkanCreateSurface(d.instance)
	if err != nil {
		return nil, fmt.Errorf("vulkan: create surface: %w", err)
	}
	d.surface = vk.SurfaceFromPointer(ptr)

	if err := d.pickPhysicalDevice(); err != nil {
		return nil, err
	}
	if err := d.createLogicalDevice(opts); err != nil {
		return nil, err
	}

	formats, err := d.surfaceFormats()
	if err != nil {
		return nil, err
	}
	d.surfaceFormat = chooseSurfaceFormat(formats)
	d.depthFormat = d.chooseDepthFormat()

	d.log.Info("vulkan device created",
		zap.String("device", d.name),
		zap.Uint32("graphics_family", d.graphicsFamily),
		zap.Uint32("present_family", d.presentFamily),
		zap.Int32("surface_format", int32(d.surfaceFormat.Format)))
	return d, nil
}

func (d *Device) createInstance(opts Options) error {
	name := opts.AppName
	if name == "" {
		name = "midgard-vk"
	}
	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   name + "\x00",
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PEngineName:        "midgard-vk\x00",
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         vk.MakeVersion(1, 0, 0),
	}

	exts := terminate(d.win.VulkanInstanceExtensions())
	info := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(exts)),
		PpEnabledExtensionNames: exts,
	}
	if opts.Validation {
		if hasValidationLayer() {
			info.EnabledLayerCount = 1
			info.PpEnabledLayerNames = []string{validationLayer}
		} else {
			d.log.Warn("validation requested but the layer is not installed")
		}
	}

	var instance vk.Instance
	if err := check(vk.CreateInstance(&info, nil, &instance), "vulkan: create instance"); err != nil {
		return err
	}
	d.instance = instance
	vk.InitInstance(instance)
	return nil
}

func hasValidationLayer() bool {
	var count uint32
	if vk.EnumerateInstanceLayerProperties(&count, nil) != vk.Success {
		return false
	}
	layers := make([]vk.LayerProperties, count)
	if vk.EnumerateInstanceLayerProperties(&count, layers) != vk.Success {
		return false
	}
	for _, l := range layers {
		l.Deref()
		if vk.ToString(l.LayerName[:])+"\x00" == validationLayer {
			return true
		}
	}
	return false
}

// queueFamilies finds a graphics family and a present family, preferring one
// family that does both.
func (d *Device) queueFamilies(pd vk.PhysicalDevice) (graphics, present uint32, ok bool) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, families)

	foundGraphics, foundPresent := false, false
	for i, f := range families {
		f.Deref()
		idx := uint32(i)
		isGraphics := f.QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0

		var supported vk.Bool32
		vk.GetPhysicalDeviceSurfaceSupport(pd, idx, d.surface, &supported)
		canPresent := supported.B()

		if isGraphics && canPresent {
			return idx, idx, true
		}
		if isGraphics && !foundGraphics {
			graphics, foundGraphics = idx, true
		}
		if canPresent && !foundPresent {
			present, foundPresent = idx, true
		}
	}
	return graphics, present, foundGraphics && foundPresent
}

func hasSwapchainExtension(pd vk.PhysicalDevice) bool {
	var count uint32
	if vk.EnumerateDeviceExtensionProperties(pd, "", &count, nil) != vk.Success {
		return false
	}
	exts := make([]vk.ExtensionProperties, count)
	if vk.EnumerateDeviceExtensionProperties(pd, "", &count, exts) != vk.Success {
		return false
	}
	for _, e := range exts {
		e.Deref()
		if vk.ToString(e.ExtensionName[:]) == vk.KhrSwapchainExtensionName {
			return true
		}
	}
	return false
}

func (d *Device) pickPhysicalDevice() error {
	var count uint32
	if err := check(vk.EnumeratePhysicalDevices(d.instance, &count, nil), "vulkan: enumerate devices"); err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("vulkan: no physical devices: %w", gpu.ErrUnsupported)
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := check(vk.EnumeratePhysicalDevices(d.instance, &count, devices), "vulkan: enumerate devices"); err != nil {
		return err
	}

	var best uint32
	for _, pd := range devices {
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &props)
		props.Deref()

		g, p, ok := d.queueFamilies(pd)
		score := deviceScore(props, ok, hasSwapchainExtension(pd))
		name := vk.ToString(props.DeviceName[:])
		d.log.Debug("physical device", zap.String("name", name), zap.Uint32("score", score))
		if score > best {
			best = score
			d.physical = pd
			d.name = name
			d.graphicsFamily, d.presentFamily = g, p
		}
	}
	if best == 0 {
		return fmt.Errorf("vulkan: no device can render and present to the window: %w", gpu.ErrUnsupported)
	}

	vk.GetPhysicalDeviceMemoryProperties(d.physical, &d.memProps)
	d.memProps.Deref()
	return nil
}

func (d *Device) createLogicalDevice(opts Options) error {
	families := []uint32{d.graphicsFamily}
	if d.presentFamily != d.graphicsFamily {
		families = append(families, d.presentFamily)
	}
	queueInfos := make([]vk.DeviceQueueCreateInfo, 0, len(families))
	for _, f := range families {
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: f,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		})
	}

	exts := []string{vk.KhrSwapchainExtensionName + "\x00"}
	info := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(exts)),
		PpEnabledExtensionNames: exts,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{{}},
	}
	if opts.Validation && hasValidationLayer() {
		info.EnabledLayerCount = 1
		info.PpEnabledLayerNames = []string{validationLayer}
	}

	var device vk.Device
	if err := check(vk.CreateDevice(d.physical, &info, nil, &device), "vulkan: create device"); err != nil {
		return err
	}
	d.device = device

	var gq, pq vk.Queue
	vk.GetDeviceQueue(device, d.graphicsFamily, 0, &gq)
	vk.GetDeviceQueue(device, d.presentFamily, 0, &pq)
	d.graphics = &Queue{dev: d, queue: gq}
	d.present = d.graphics
	if d.presentFamily != d.graphicsFamily {
		d.present = &Queue{dev: d, queue: pq}
		d.graphics.presentVia = d.present
	}
	return nil
}

func (d *Device) surfaceFormats() ([]vk.SurfaceFormat, error) {
	var count uint32
	ret := vk.GetPhysicalDeviceSurfaceFormats(d.physical, d.surface, &count, nil)
	if err := check(ret, "vulkan: surface formats"); err != nil {
		return nil, err
	}
	formats := make([]vk.SurfaceFormat, count)
	ret = vk.GetPhysicalDeviceSurfaceFormats(d.physical, d.surface, &count, formats)
	if err := check(ret, "vulkan: surface formats"); err != nil {
		return nil, err
	}
	for i := range formats {
		formats[i].Deref()
	}
	return formats, nil
}

func (d *Device) presentModes() []vk.PresentMode {
	var count uint32
	if vk.GetPhysicalDeviceSurfacePresentModes(d.physical, d.surface, &count, nil) != vk.Success {
		return nil
	}
	modes := make([]vk.PresentMode, count)
	vk.GetPhysicalDeviceSurfacePresentModes(d.physical, d.surface, &count, modes)
	return modes
}

func (d *Device) surfaceCapabilities() (vk.SurfaceCapabilities, error) {
	var caps vk.SurfaceCapabilities
	ret := vk.GetPhysicalDeviceSurfaceCapabilities(d.physical, d.surface, &caps)
	if err := check(ret, "vulkan: surface capabilities"); err != nil {
		return caps, err
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()
	return caps, nil
}

// chooseDepthFormat returns the first depth format usable as an optimal-tiling
// depth attachment.
func (d *Device) chooseDepthFormat() vk.Format {
	for _, f := range []vk.Format{vk.FormatD32Sfloat, vk.FormatD24UnormS8Uint, vk.FormatD16Unorm} {
		var props vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(d.physical, f, &props)
		props.Deref()
		if props.OptimalTilingFeatures&vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit) != 0 {
			return f
		}
	}
	return vk.FormatD16Unorm
}

// allocate allocates memory matching reqs with the given property flags.
func (d *Device) allocate(reqs vk.MemoryRequirements, want vk.MemoryPropertyFlags) (vk.DeviceMemory, error) {
	typeIndex, ok := findMemoryType(d.memProps, reqs.MemoryTypeBits, want)
	if !ok {
		return vk.NullDeviceMemory, fmt.Errorf("vulkan: no memory type for flags 0x%x: %w", want, gpu.ErrOutOfMemory)
	}
	var mem vk.DeviceMemory
	ret := vk.AllocateMemory(d.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: typeIndex,
	}, nil, &mem)
	if err := check(ret, "vulkan: allocate memory"); err != nil {
		return vk.NullDeviceMemory, err
	}
	return mem, nil
}

// Name implements gpu.Device.
func (d *Device) Name() string { return d.name }

// CreateBuffer implements gpu.Device. Host-visible buffers stay mapped for
// their whole life.
func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("vulkan: %w", err)
	}
	b := &Buffer{dev: d, desc: desc}
	// Vulkan has no zero-size buffers; an empty one is a null handle.
	if desc.Size == 0 {
		return b, nil
	}

	ret := vk.CreateBuffer(d.device, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       bufferUsageFlags(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &b.buffer)
	if err := check(ret, "vulkan: create buffer"); err != nil {
		return nil, err
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.device, b.buffer, &reqs)
	reqs.Deref()

	mem, err := d.allocate(reqs, memoryFlags(desc.Memory))
	if err != nil {
		b.Destroy()
		return nil, err
	}
	b.memory = mem
	if err := check(vk.BindBufferMemory(d.device, b.buffer, mem, 0), "vulkan: bind buffer memory"); err != nil {
		b.Destroy()
		return nil, err
	}

	if desc.Memory == gpu.MemoryHostVisible {
		var ptr unsafe.Pointer
		ret := vk.MapMemory(d.device, mem, 0, vk.DeviceSize(desc.Size), 0, &ptr)
		if err := check(ret, "vulkan: map memory"); err != nil {
			b.Destroy()
			return nil, err
		}
		b.mapped = unsafe.Slice((*byte)(ptr), desc.Size)
	}
	return b, nil
}

// CreateFence implements gpu.Device.
func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if err := check(vk.CreateFence(d.device, &info, nil, &fence), "vulkan: create fence"); err != nil {
		return nil, err
	}
	return &Fence{dev: d, fence: fence}, nil
}

// CreateSemaphore implements gpu.Device.
func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	var sem vk.Semaphore
	ret := vk.CreateSemaphore(d.device, &vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}, nil, &sem)
	if err := check(ret, "vulkan: create semaphore"); err != nil {
		return nil, err
	}
	return &Semaphore{dev: d, sem: sem}, nil
}

// CreateCommandPool implements gpu.Device. Buffers from the pool can be
// reset individually.
func (d *Device) CreateCommandPool() (gpu.CommandPool, error) {
	var pool vk.CommandPool
	ret := vk.CreateCommandPool(d.device, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: d.graphicsFamily,
	}, nil, &pool)
	if err := check(ret, "vulkan: create command pool"); err != nil {
		return nil, err
	}
	return &CommandPool{dev: d, pool: pool}, nil
}

// GraphicsQueue implements gpu.Device.
func (d *Device) GraphicsQueue() gpu.Queue { return d.graphics }

// TransferQueue implements gpu.Device.
func (d *Device) TransferQueue() gpu.Queue { return d.graphics }

// SurfaceFormat implements gpu.Device.
func (d *Device) SurfaceFormat() gpu.Format { return fromVkFormat(d.surfaceFormat.Format) }

// WaitIdle implements gpu.Device.
func (d *Device) WaitIdle() error {
	if d.device == nil {
		return nil
	}
	return check(vk.DeviceWaitIdle(d.device), "vulkan: device wait idle")
}

// Destroy waits for the device and releases the device, surface and
// instance. Every resource must have been destroyed first.
func (d *Device) Destroy() {
	if d.device != nil {
		vk.DeviceWaitIdle(d.device)
		vk.DestroyDevice(d.device, nil)
		d.device = nil
	}
	if d.surface != vk.NullSurface {
		vk.DestroySurface(d.instance, d.surface, nil)
		d.surface = vk.NullSurface
	}
	if d.instance != nil {
		vk.DestroyInstance(d.instance, nil)
		d.instance = nil
	}
}

// terminate returns names with the NUL terminator Vulkan expects.
func terminate(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		if len(n) == 0 || n[len(n)-1] != 0 {
			n += "\x00"
		}
		out[i] = n
	}
	return out
}

// nanos converts a timeout for Vulkan. Negative means wait forever.
func nanos(timeout time.Duration) uint64 {
	if timeout < 0 {
		return math.MaxUint64
	}
	return uint64(timeout.Nanoseconds())
}

var errForeign = errors.New("vulkan: object from another backend")
