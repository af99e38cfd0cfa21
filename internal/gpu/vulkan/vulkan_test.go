package vulkan

import (
	"errors"
	"math"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/midgard-vk/internal/gpu"
)

func TestMapResult(t *testing.T) {
	tests := []struct {
		ret  vk.Result
		want error
	}{
		{vk.Success, nil},
		{vk.Incomplete, nil},
		{vk.Suboptimal, gpu.ErrSuboptimal},
		{vk.ErrorOutOfDate, gpu.ErrOutOfDate},
		{vk.Timeout, gpu.ErrTimeout},
		{vk.NotReady, gpu.ErrTimeout},
		{vk.ErrorDeviceLost, gpu.ErrDeviceLost},
		{vk.ErrorSurfaceLost, gpu.ErrDeviceLost},
		{vk.ErrorOutOfHostMemory, gpu.ErrOutOfMemory},
		{vk.ErrorOutOfDeviceMemory, gpu.ErrOutOfMemory},
	}
	for _, tt := range tests {
		err := mapResult(tt.ret)
		if tt.want == nil {
			assert.NoError(t, err, "result %d", tt.ret)
			continue
		}
		assert.ErrorIs(t, err, tt.want, "result %d", tt.ret)
	}

	err := mapResult(vk.ErrorInitializationFailed)
	require.Error(t, err)
	assert.False(t, gpu.IsStale(err))
}

func TestCheckNamesCall(t *testing.T) {
	err := check(vk.ErrorOutOfDate, "acquire")
	assert.ErrorIs(t, err, gpu.ErrOutOfDate)
	assert.Contains(t, err.Error(), "acquire")
	assert.NoError(t, check(vk.Success, "acquire"))
}

func TestChooseSurfaceFormat(t *testing.T) {
	srgb := vk.ColorSpaceSrgbNonlinear

	got := chooseSurfaceFormat([]vk.SurfaceFormat{
		{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: srgb},
		{Format: vk.FormatB8g8r8a8Srgb, ColorSpace: srgb},
	})
	assert.Equal(t, vk.FormatB8g8r8a8Srgb, got.Format)

	got = chooseSurfaceFormat([]vk.SurfaceFormat{{Format: vk.FormatUndefined}})
	assert.Equal(t, vk.FormatB8g8r8a8Srgb, got.Format)

	odd := vk.SurfaceFormat{Format: vk.FormatA2b10g10r10UnormPack32, ColorSpace: srgb}
	got = chooseSurfaceFormat([]vk.SurfaceFormat{odd})
	assert.Equal(t, odd.Format, got.Format)
}

func TestChoosePresentMode(t *testing.T) {
	all := []vk.PresentMode{vk.PresentModeImmediate, vk.PresentModeMailbox, vk.PresentModeFifo}
	assert.Equal(t, vk.PresentModeMailbox, choosePresentMode(gpu.PresentMailbox, all))
	assert.Equal(t, vk.PresentModeImmediate, choosePresentMode(gpu.PresentImmediate, all))
	assert.Equal(t, vk.PresentModeFifo, choosePresentMode(gpu.PresentMailbox, []vk.PresentMode{vk.PresentModeFifo}))
}

func TestChooseExtent(t *testing.T) {
	caps := vk.SurfaceCapabilities{
		CurrentExtent:  vk.Extent2D{Width: 800, Height: 600},
		MinImageExtent: vk.Extent2D{Width: 1, Height: 1},
		MaxImageExtent: vk.Extent2D{Width: 4096, Height: 4096},
	}
	assert.Equal(t, vk.Extent2D{Width: 800, Height: 600}, chooseExtent(caps, gpu.Extent{Width: 1, Height: 1}))

	caps.CurrentExtent = vk.Extent2D{Width: math.MaxUint32, Height: math.MaxUint32}
	assert.Equal(t, vk.Extent2D{Width: 1024, Height: 768}, chooseExtent(caps, gpu.Extent{Width: 1024, Height: 768}))
	assert.Equal(t, vk.Extent2D{Width: 4096, Height: 1}, chooseExtent(caps, gpu.Extent{Width: 9000, Height: 0}))
}

func TestChooseImageCount(t *testing.T) {
	caps := vk.SurfaceCapabilities{MinImageCount: 2, MaxImageCount: 3}
	assert.Equal(t, uint32(3), chooseImageCount(caps, 0))
	assert.Equal(t, uint32(3), chooseImageCount(caps, 5))

	caps.MaxImageCount = 0
	assert.Equal(t, uint32(5), chooseImageCount(caps, 5))
}

func TestFindMemoryType(t *testing.T) {
	var props vk.PhysicalDeviceMemoryProperties
	props.MemoryTypeCount = 3
	props.MemoryTypes[0].PropertyFlags = vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	props.MemoryTypes[1].PropertyFlags = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)
	props.MemoryTypes[2].PropertyFlags = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)

	i, ok := findMemoryType(props, 0b111, memoryFlags(gpu.MemoryHostVisible))
	require.True(t, ok)
	assert.Equal(t, uint32(2), i)

	i, ok = findMemoryType(props, 0b111, memoryFlags(gpu.MemoryDeviceLocal))
	require.True(t, ok)
	assert.Equal(t, uint32(0), i)

	// Type 2 is excluded by the requirement bits.
	_, ok = findMemoryType(props, 0b011, memoryFlags(gpu.MemoryHostVisible))
	assert.False(t, ok)
}

func TestDeviceScore(t *testing.T) {
	discrete := vk.PhysicalDeviceProperties{DeviceType: vk.PhysicalDeviceTypeDiscreteGpu}
	integrated := vk.PhysicalDeviceProperties{DeviceType: vk.PhysicalDeviceTypeIntegratedGpu}

	assert.Greater(t, deviceScore(discrete, true, true), deviceScore(integrated, true, true))
	assert.Zero(t, deviceScore(discrete, false, true))
	assert.Zero(t, deviceScore(discrete, true, false))
}

func TestFormatRoundTrip(t *testing.T) {
	for _, f := range []gpu.Format{gpu.FormatBGRA8SRGB, gpu.FormatBGRA8Unorm, gpu.FormatRGBA8SRGB, gpu.FormatRGBA8Unorm} {
		assert.Equal(t, f, fromVkFormat(toVkFormat(f)))
	}
	assert.Equal(t, vk.FormatUndefined, toVkFormat(gpu.FormatUndefined))
}

func TestBufferUsageFlags(t *testing.T) {
	got := bufferUsageFlags(gpu.UsageVertex | gpu.UsageTransferDst)
	want := vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit | vk.BufferUsageTransferDstBit)
	assert.Equal(t, want, got)
}

func TestSpirvWords(t *testing.T) {
	words := spirvWords([]byte{0x03, 0x02, 0x23, 0x07, 1, 0, 0, 0})
	assert.Equal(t, []uint32{0x07230203, 1}, words)
}

func TestTerminate(t *testing.T) {
	got := terminate([]string{"VK_KHR_surface", "VK_KHR_xcb_surface\x00"})
	assert.Equal(t, []string{"VK_KHR_surface\x00", "VK_KHR_xcb_surface\x00"}, got)
}

func TestForeignObjects(t *testing.T) {
	var d Device
	_, err := d.CreateImageViews(nil)
	assert.True(t, errors.Is(err, errForeign))
}

func TestEmptyBuffer(t *testing.T) {
	var d Device
	buf, err := d.CreateBuffer(gpu.BufferDesc{
		Usage:  gpu.UsageVertex | gpu.UsageTransferDst,
		Memory: gpu.MemoryDeviceLocal,
		Label:  "empty/vertices",
	})
	require.NoError(t, err)
	assert.Zero(t, buf.Size())

	data, err := buf.Map()
	require.NoError(t, err)
	assert.Empty(t, data)

	// Nothing is recorded for a null handle.
	cb := &CommandBuffer{}
	cb.CopyBuffer(buf, buf, gpu.CopyRegion{})
	cb.BufferBarrier(buf)
	cb.BindVertexBuffer(buf, 0)
	cb.BindIndexBuffer(buf, 0, gpu.IndexUint16)

	_, err = d.CreateUniformBinding(&Pipeline{}, &Buffer{desc: gpu.BufferDesc{Usage: gpu.UsageUniform}})
	assert.ErrorIs(t, err, gpu.ErrInvalidBuffer)

	buf.Destroy()
	buf.Destroy()
	_, err = buf.Map()
	assert.ErrorIs(t, err, gpu.ErrDestroyed)
}

func TestCreateBufferValidates(t *testing.T) {
	var d Device
	_, err := d.CreateBuffer(gpu.BufferDesc{Size: 16, Label: "no usage"})
	assert.ErrorIs(t, err, gpu.ErrInvalidBuffer)
}

func TestShaderModuleLength(t *testing.T) {
	var d Device
	for _, code := range [][]byte{nil, {0x03, 0x02, 0x23}} {
		_, err := d.createShaderModule(code)
		assert.Error(t, err, "length %d", len(code))
	}
}
