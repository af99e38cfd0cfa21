package opengl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-vk/internal/gpu"
)

type fakeWindow struct {
	extent gpu.Extent
	swaps  int
}

func (w *fakeWindow) DrawableExtent() gpu.Extent { return w.extent }
func (w *fakeWindow) WaitEvents() bool           { return true }
func (w *fakeWindow) SwapBuffers()               { w.swaps++ }

func newTestDevice(w *fakeWindow) *Device {
	d := &Device{win: w, log: zap.NewNop(), name: "test"}
	d.queue = &Queue{dev: d}
	return d
}

func TestSwapchainFollowsDrawable(t *testing.T) {
	w := &fakeWindow{extent: gpu.Extent{Width: 800, Height: 600}}
	d := newTestDevice(w)

	sc, err := d.CreateSwapchain(gpu.SwapchainDesc{Extent: gpu.Extent{Width: 640, Height: 480}})
	require.NoError(t, err)
	assert.Equal(t, gpu.Extent{Width: 800, Height: 600}, sc.Extent())
	assert.Equal(t, 1, sc.ImageCount())
	assert.Equal(t, gpu.FormatRGBA8SRGB, sc.Format())

	idx, err := sc.AcquireNextImage(0, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), idx)

	w.extent = gpu.Extent{Width: 1024, Height: 768}
	_, err = sc.AcquireNextImage(0, nil)
	assert.ErrorIs(t, err, gpu.ErrOutOfDate)

	w.extent = gpu.Extent{}
	_, err = sc.AcquireNextImage(0, nil)
	assert.ErrorIs(t, err, gpu.ErrOutOfDate)

	sc.Destroy()
	_, err = sc.AcquireNextImage(0, nil)
	assert.ErrorIs(t, err, gpu.ErrDestroyed)
}

func TestSwapchainMinimized(t *testing.T) {
	d := newTestDevice(&fakeWindow{})
	_, err := d.CreateSwapchain(gpu.SwapchainDesc{Extent: gpu.Extent{Width: 1, Height: 1}})
	assert.ErrorIs(t, err, gpu.ErrOutOfDate)
}

func TestPresentReportsResize(t *testing.T) {
	w := &fakeWindow{extent: gpu.Extent{Width: 100, Height: 100}}
	d := newTestDevice(w)
	sc, err := d.CreateSwapchain(gpu.SwapchainDesc{Extent: w.extent})
	require.NoError(t, err)

	require.NoError(t, d.GraphicsQueue().Present(gpu.PresentInfo{Swapchain: sc}))
	assert.Equal(t, 1, w.swaps)

	w.extent.Width = 200
	assert.ErrorIs(t, d.GraphicsQueue().Present(gpu.PresentInfo{Swapchain: sc}), gpu.ErrSuboptimal)
	assert.Equal(t, 2, w.swaps)
}

func TestFramebufferObjects(t *testing.T) {
	d := newTestDevice(&fakeWindow{extent: gpu.Extent{Width: 64, Height: 32}})
	sc, err := d.CreateSwapchain(gpu.SwapchainDesc{Extent: gpu.Extent{Width: 64, Height: 32}})
	require.NoError(t, err)

	views, err := d.CreateImageViews(sc)
	require.NoError(t, err)
	require.Len(t, views, 1)

	rp, err := d.CreateRenderPass(gpu.RenderPassDesc{ColorFormat: sc.Format(), Depth: true})
	require.NoError(t, err)
	assert.True(t, rp.(*RenderPass).depth)

	fb, err := d.CreateFramebuffer(rp, views[0], sc.Extent())
	require.NoError(t, err)
	assert.Equal(t, sc.Extent(), fb.Extent())
}

func TestCommandBufferStates(t *testing.T) {
	pool := &CommandPool{}
	cbs, err := pool.Allocate(2)
	require.NoError(t, err)
	require.Len(t, cbs, 2)

	cb := cbs[0].(*CommandBuffer)
	assert.Error(t, cb.End())
	require.NoError(t, cb.Begin(true))
	assert.Error(t, cb.Begin(true))
	cb.SetViewport(gpu.Viewport{Width: 10, Height: 10})
	cb.BufferBarrier(nil)
	assert.Len(t, cb.cmds, 1)
	require.NoError(t, cb.End())
	assert.True(t, cb.ended)

	require.NoError(t, cb.Reset())
	assert.Empty(t, cb.cmds)
	assert.False(t, cb.ended)
}

func TestHostToHostCopy(t *testing.T) {
	src := &Buffer{desc: gpu.BufferDesc{Size: 8}, host: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	dst := &Buffer{desc: gpu.BufferDesc{Size: 8}, host: make([]byte, 8)}

	copyRegion(src, dst, gpu.CopyRegion{SrcOffset: 2, DstOffset: 4, Size: 3})
	assert.Equal(t, []byte{0, 0, 0, 0, 3, 4, 5, 0}, dst.host)
}

func TestBufferMap(t *testing.T) {
	host := &Buffer{desc: gpu.BufferDesc{Size: 4, Memory: gpu.MemoryHostVisible}, host: make([]byte, 4)}
	data, err := host.Map()
	require.NoError(t, err)
	assert.Len(t, data, 4)

	device := &Buffer{desc: gpu.BufferDesc{Size: 4}}
	_, err = device.Map()
	assert.ErrorIs(t, err, gpu.ErrNotMappable)

	host.Destroy()
	_, err = host.Map()
	assert.ErrorIs(t, err, gpu.ErrDestroyed)
}

func TestFenceWithoutSubmission(t *testing.T) {
	f := &Fence{}
	assert.False(t, f.Signaled())
	assert.ErrorIs(t, f.Wait(0), gpu.ErrTimeout)

	signaled := &Fence{signaled: true}
	assert.NoError(t, signaled.Wait(0))
	assert.True(t, signaled.Signaled())
	require.NoError(t, signaled.Reset())
	assert.False(t, signaled.Signaled())
}

func TestUsageHint(t *testing.T) {
	assert.Equal(t, uint32(0x88E8), usageHint(gpu.BufferDesc{Memory: gpu.MemoryHostVisible}))
	assert.Equal(t, uint32(0x88E4), usageHint(gpu.BufferDesc{Memory: gpu.MemoryDeviceLocal}))
}

func TestEmptyBuffer(t *testing.T) {
	d := newTestDevice(&fakeWindow{})
	buf, err := d.CreateBuffer(gpu.BufferDesc{
		Usage:  gpu.UsageIndex | gpu.UsageTransferDst,
		Memory: gpu.MemoryDeviceLocal,
		Label:  "empty/indices",
	})
	require.NoError(t, err)
	b := buf.(*Buffer)
	assert.Zero(t, b.id, "no buffer object is generated")

	data, err := buf.Map()
	require.NoError(t, err)
	assert.Empty(t, data)

	// A zero-size copy touches neither side.
	copyRegion(b, b, gpu.CopyRegion{})

	buf.Destroy()
	buf.Destroy()
	_, err = buf.Map()
	assert.ErrorIs(t, err, gpu.ErrDestroyed)

	_, err = d.CreateBuffer(gpu.BufferDesc{Size: 4, Label: "no usage"})
	assert.ErrorIs(t, err, gpu.ErrInvalidBuffer)
}
