package vulkan

import (
	"math"

	vk "github.com/goki/vulkan"

	"github.com/Faultbox/midgard-vk/internal/gpu"
)

// formats pairs gpu formats with their Vulkan equivalents, in preference order.
var formats = []struct {
	gpu gpu.Format
	vk  vk.Format
}{
	{gpu.FormatBGRA8SRGB, vk.FormatB8g8r8a8Srgb},
	{gpu.FormatRGBA8SRGB, vk.FormatR8g8b8a8Srgb},
	{gpu.FormatBGRA8Unorm, vk.FormatB8g8r8a8Unorm},
	{gpu.FormatRGBA8Unorm, vk.FormatR8g8b8a8Unorm},
}

func toVkFormat(f gpu.Format) vk.Format {
	for _, p := range formats {
		if p.gpu == f {
			return p.vk
		}
	}
	return vk.FormatUndefined
}

func fromVkFormat(f vk.Format) gpu.Format {
	for _, p := range formats {
		if p.vk == f {
			return p.gpu
		}
	}
	return gpu.FormatUndefined
}

// chooseSurfaceFormat prefers an sRGB 8-bit format with the sRGB color space
// and falls back to the first format reported. A single undefined entry means
// the surface accepts anything.
func chooseSurfaceFormat(available []vk.SurfaceFormat) vk.SurfaceFormat {
	if len(available) == 0 {
		return vk.SurfaceFormat{Format: vk.FormatUndefined}
	}
	if len(available) == 1 && available[0].Format == vk.FormatUndefined {
		return vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	}
	for _, p := range formats {
		for _, f := range available {
			if f.Format == p.vk && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
				return f
			}
		}
	}
	return available[0]
}

func toVkPresentMode(m gpu.PresentMode) vk.PresentMode {
	switch m {
	case gpu.PresentMailbox:
		return vk.PresentModeMailbox
	case gpu.PresentImmediate:
		return vk.PresentModeImmediate
	}
	return vk.PresentModeFifo
}

// choosePresentMode returns want if the surface supports it, else FIFO,
// which every surface supports.
func choosePresentMode(want gpu.PresentMode, available []vk.PresentMode) vk.PresentMode {
	w := toVkPresentMode(want)
	for _, m := range available {
		if m == w {
			return m
		}
	}
	return vk.PresentModeFifo
}

// chooseExtent uses the surface's current extent unless the surface lets the
// swapchain decide, in which case the requested size is clamped to its limits.
func chooseExtent(caps vk.SurfaceCapabilities, want gpu.Extent) vk.Extent2D {
	if caps.CurrentExtent.Width != math.MaxUint32 {
		return caps.CurrentExtent
	}
	return vk.Extent2D{
		Width:  clamp(want.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: clamp(want.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

// chooseImageCount asks for one image more than the minimum so the driver
// never stalls acquisition, honoring minImages and the surface maximum
// (zero means unbounded).
func chooseImageCount(caps vk.SurfaceCapabilities, minImages uint32) uint32 {
	n := caps.MinImageCount + 1
	if minImages > n {
		n = minImages
	}
	if caps.MaxImageCount > 0 && n > caps.MaxImageCount {
		n = caps.MaxImageCount
	}
	return n
}

// findMemoryType returns the first memory type allowed by typeBits that has
// every flag in want.
func findMemoryType(props vk.PhysicalDeviceMemoryProperties, typeBits uint32, want vk.MemoryPropertyFlags) (uint32, bool) {
	for i := uint32(0); i < props.MemoryTypeCount && i < vk.MaxMemoryTypes; i++ {
		if typeBits&(1<<i) == 0 {
			continue
		}
		props.MemoryTypes[i].Deref()
		if props.MemoryTypes[i].PropertyFlags&want == want {
			return i, true
		}
	}
	return 0, false
}

func memoryFlags(kind gpu.MemoryKind) vk.MemoryPropertyFlags {
	if kind == gpu.MemoryHostVisible {
		return vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}
	return vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
}

func bufferUsageFlags(u gpu.BufferUsage) vk.BufferUsageFlags {
	var f vk.BufferUsageFlagBits
	if u.Has(gpu.UsageVertex) {
		f |= vk.BufferUsageVertexBufferBit
	}
	if u.Has(gpu.UsageIndex) {
		f |= vk.BufferUsageIndexBufferBit
	}
	if u.Has(gpu.UsageUniform) {
		f |= vk.BufferUsageUniformBufferBit
	}
	if u.Has(gpu.UsageTransferSrc) {
		f |= vk.BufferUsageTransferSrcBit
	}
	if u.Has(gpu.UsageTransferDst) {
		f |= vk.BufferUsageTransferDstBit
	}
	return vk.BufferUsageFlags(f)
}

func stageFlags(s gpu.PipelineStage) vk.PipelineStageFlags {
	var f vk.PipelineStageFlagBits
	if s&gpu.StageTopOfPipe != 0 {
		f |= vk.PipelineStageTopOfPipeBit
	}
	if s&gpu.StageTransfer != 0 {
		f |= vk.PipelineStageTransferBit
	}
	if s&gpu.StageVertexInput != 0 {
		f |= vk.PipelineStageVertexInputBit
	}
	if s&gpu.StageColorAttachmentOutput != 0 {
		f |= vk.PipelineStageColorAttachmentOutputBit
	}
	if s&gpu.StageBottomOfPipe != 0 {
		f |= vk.PipelineStageBottomOfPipeBit
	}
	return vk.PipelineStageFlags(f)
}

func shaderStageFlags(s gpu.ShaderStage) vk.ShaderStageFlags {
	var f vk.ShaderStageFlagBits
	if s&gpu.ShaderVertex != 0 {
		f |= vk.ShaderStageVertexBit
	}
	if s&gpu.ShaderFragment != 0 {
		f |= vk.ShaderStageFragmentBit
	}
	return vk.ShaderStageFlags(f)
}

func attributeFormat(components int) vk.Format {
	switch components {
	case 2:
		return vk.FormatR32g32Sfloat
	case 3:
		return vk.FormatR32g32b32Sfloat
	case 4:
		return vk.FormatR32g32b32a32Sfloat
	}
	return vk.FormatR32Sfloat
}

// deviceScore rates a physical device. Zero means unusable.
func deviceScore(props vk.PhysicalDeviceProperties, hasQueues, hasSwapchain bool) uint32 {
	if !hasQueues || !hasSwapchain {
		return 0
	}
	switch props.DeviceType {
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return 1000
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return 100
	case vk.PhysicalDeviceTypeVirtualGpu:
		return 10
	}
	return 1
}

func clamp(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// spirvWords converts SPIR-V bytes into the word slice Vulkan expects.
func spirvWords(code []byte) []uint32 {
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = uint32(code[4*i]) | uint32(code[4*i+1])<<8 | uint32(code[4*i+2])<<16 | uint32(code[4*i+3])<<24
	}
	return words
}
