package render

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/midgard-vk/internal/gpu"
	"github.com/Faultbox/midgard-vk/internal/gpu/soft"
)

type fixture struct {
	dev     *soft.Device
	surface *soft.Surface
	pass    gpu.RenderPass
	chain   *SwapchainManager
	sync    *Synchronizer
}

func newFixture(t *testing.T, opts soft.Options, frames int) *fixture {
	t.Helper()
	f := &fixture{
		dev:     soft.New(opts),
		surface: soft.NewSurface(gpu.Extent{Width: 800, Height: 600}),
	}
	var err error
	f.pass, err = f.dev.CreateRenderPass(gpu.RenderPassDesc{ColorFormat: f.dev.SurfaceFormat(), Depth: true})
	require.NoError(t, err)
	f.chain, err = NewSwapchainManager(f.dev, f.surface, f.pass, SwapchainConfig{})
	require.NoError(t, err)
	f.sync, err = NewSynchronizer(f.dev, f.chain, Config{FramesInFlight: frames, UniformSize: UniformSize})
	require.NoError(t, err)
	t.Cleanup(f.destroy)
	return f
}

func (f *fixture) destroy() {
	f.sync.Destroy()
	f.chain.Destroy()
	f.pass.Destroy()
}

// clearOnly records an empty render pass.
func (f *fixture) clearOnly(fr *Frame) error {
	fr.CommandBuffer.BeginRenderPass(f.pass, fr.Framebuffer, gpu.ClearValues{})
	fr.CommandBuffer.EndRenderPass()
	return nil
}

func TestFenceDiscipline(t *testing.T) {
	for _, frames := range []int{1, 2, 3} {
		f := newFixture(t, soft.Options{ImageCount: 3}, frames)

		const n = 40
		for i := 0; i < n; i++ {
			require.NoError(t, f.sync.DrawFrame(f.clearOnly))
			assert.LessOrEqual(t, f.dev.Pending(), frames, "no more than K frames in flight")
		}

		st := f.dev.Stats()
		assert.Equal(t, n, st.Submits)
		assert.Equal(t, n, st.FenceWaits, "one fence wait per submission")
		assert.Equal(t, n, st.FenceResets)
		assert.Equal(t, n, st.Presents)
		assert.Empty(t, f.dev.Violations(), "no slot re-recorded while its fence was unsignaled")
		assert.Equal(t, uint64(n), f.sync.Stats().Frames)
	}
}

func TestSlotsRotate(t *testing.T) {
	f := newFixture(t, soft.Options{}, 2)

	var slots []int
	for i := 0; i < 5; i++ {
		require.NoError(t, f.sync.DrawFrame(func(fr *Frame) error {
			slots = append(slots, fr.Slot)
			assert.Equal(t, StateRecording, f.sync.State(fr.Slot))
			assert.Len(t, fr.Uniforms, UniformSize)
			return f.clearOnly(fr)
		}))
		assert.Equal(t, StateIdle, f.sync.State(slots[i]))
	}
	assert.Equal(t, []int{0, 1, 0, 1, 0}, slots)
	assert.Equal(t, []uint32{0, 1, 2, 0, 1}, f.dev.Presents())
}

func TestStaleAcquireSkipsFrame(t *testing.T) {
	f := newFixture(t, soft.Options{}, 2)
	f.dev.QueueAcquireResults(gpu.ErrOutOfDate)

	recorded := false
	require.NoError(t, f.sync.DrawFrame(func(*Frame) error {
		recorded = true
		return nil
	}))

	assert.False(t, recorded)
	st := f.dev.Stats()
	assert.Equal(t, 0, st.Submits)
	assert.Equal(t, 0, st.FenceResets, "fence must stay signaled when nothing is submitted")
	assert.Equal(t, 0, f.sync.Current(), "slot does not advance")
	assert.Equal(t, 1, f.chain.Rebuilds())
	assert.Equal(t, uint64(1), f.sync.Stats().Skipped)

	// The next iteration on the same slot must not deadlock on its fence.
	require.NoError(t, f.sync.DrawFrame(f.clearOnly))
	assert.Equal(t, 1, f.dev.Stats().Submits)
	assert.Empty(t, f.dev.Violations())
}

func TestAcquireTimeoutSkipsFrame(t *testing.T) {
	f := newFixture(t, soft.Options{}, 2)
	f.dev.QueueAcquireResults(gpu.ErrTimeout)

	require.NoError(t, f.sync.DrawFrame(f.clearOnly))
	assert.Equal(t, 0, f.dev.Stats().Submits)
	assert.Equal(t, 0, f.chain.Rebuilds())
}

func TestSuboptimalAcquireStillRenders(t *testing.T) {
	f := newFixture(t, soft.Options{}, 2)
	f.dev.QueueAcquireResults(gpu.ErrSuboptimal)

	require.NoError(t, f.sync.DrawFrame(f.clearOnly))
	assert.Equal(t, 1, f.dev.Stats().Submits)
	assert.Equal(t, 1, f.chain.Rebuilds(), "rebuild after presenting the suboptimal image")
	assert.Empty(t, f.dev.Violations())
}

func TestStalePresentRebuildsAndAdvances(t *testing.T) {
	for _, result := range []error{gpu.ErrOutOfDate, gpu.ErrSuboptimal} {
		t.Run(result.Error(), func(t *testing.T) {
			f := newFixture(t, soft.Options{}, 2)
			f.dev.QueuePresentResults(result)

			require.NoError(t, f.sync.DrawFrame(f.clearOnly))
			assert.Equal(t, 1, f.chain.Rebuilds())
			assert.Equal(t, 1, f.sync.Current())
			assert.Equal(t, f.chain.ImageCount(), f.chain.FramebufferCount())

			require.NoError(t, f.sync.DrawFrame(f.clearOnly))
			assert.Empty(t, f.dev.Violations())
		})
	}
}

func TestMarkResized(t *testing.T) {
	f := newFixture(t, soft.Options{}, 2)

	require.NoError(t, f.sync.DrawFrame(f.clearOnly))
	assert.Equal(t, 0, f.chain.Rebuilds())

	f.surface.SetExtents(gpu.Extent{Width: 1024, Height: 768})
	f.sync.MarkResized()
	require.NoError(t, f.sync.DrawFrame(f.clearOnly))
	assert.Equal(t, 1, f.chain.Rebuilds())
	assert.Equal(t, gpu.Extent{Width: 1024, Height: 768}, f.chain.Extent())

	// The flag is consumed
	require.NoError(t, f.sync.DrawFrame(f.clearOnly))
	assert.Equal(t, 1, f.chain.Rebuilds())
}

func TestRebuildIdempotent(t *testing.T) {
	f := newFixture(t, soft.Options{ImageCount: 3}, 2)
	require.NoError(t, f.sync.DrawFrame(f.clearOnly))

	for i := 0; i < 2; i++ {
		require.NoError(t, f.chain.Rebuild())
		assert.Equal(t, 3, f.chain.ImageCount())
		assert.Equal(t, f.chain.ImageCount(), f.chain.FramebufferCount())
		assert.Equal(t, 1, f.dev.Live("swapchain"))
		assert.Equal(t, 3, f.dev.Live("view"))
		assert.Equal(t, 3, f.dev.Live("framebuffer"))
	}
	assert.Equal(t, 1, f.dev.Live("renderpass"), "render pass survives rebuilds")

	require.NoError(t, f.sync.DrawFrame(f.clearOnly))
	assert.Empty(t, f.dev.Violations())
}

func TestRebuildWaitsForArea(t *testing.T) {
	f := newFixture(t, soft.Options{}, 2)
	f.surface.SetExtents(
		gpu.Extent{},
		gpu.Extent{Width: 0, Height: 600},
		gpu.Extent{Width: 640, Height: 0},
		gpu.Extent{Width: 1024, Height: 768},
	)

	require.NoError(t, f.chain.Rebuild())
	assert.Equal(t, 3, f.surface.Waits())
	assert.Equal(t, gpu.Extent{Width: 1024, Height: 768}, f.chain.Extent())
	assert.Empty(t, f.dev.Violations(), "no zero-area swapchain was requested")
}

func TestCreateWaitsForArea(t *testing.T) {
	dev := soft.New(soft.Options{})
	surface := soft.NewSurface(gpu.Extent{}, gpu.Extent{Width: 10, Height: 10})
	pass, err := dev.CreateRenderPass(gpu.RenderPassDesc{})
	require.NoError(t, err)
	defer pass.Destroy()

	chain, err := NewSwapchainManager(dev, surface, pass, SwapchainConfig{})
	require.NoError(t, err)
	defer chain.Destroy()
	assert.Equal(t, 1, surface.Waits())
	assert.Equal(t, gpu.Extent{Width: 10, Height: 10}, chain.Extent())
}

func TestCreateStopsWhenClosedWhileMinimized(t *testing.T) {
	dev := soft.New(soft.Options{})
	surface := soft.NewSurface(gpu.Extent{})
	surface.CloseAfter(2)
	pass, err := dev.CreateRenderPass(gpu.RenderPassDesc{})
	require.NoError(t, err)
	defer pass.Destroy()

	chain, err := NewSwapchainManager(dev, surface, pass, SwapchainConfig{})
	assert.ErrorIs(t, err, gpu.ErrSurfaceClosed)
	assert.Nil(t, chain)
	assert.Equal(t, 2, surface.Waits())
	assert.Zero(t, dev.Live("swapchain"))
}

func TestRebuildStopsWhenClosedWhileMinimized(t *testing.T) {
	f := newFixture(t, soft.Options{}, 2)
	f.surface.SetExtents(gpu.Extent{})
	f.surface.CloseAfter(3)

	err := f.chain.Rebuild()
	assert.ErrorIs(t, err, gpu.ErrSurfaceClosed)
	assert.Equal(t, 3, f.surface.Waits())
	assert.Equal(t, 0, f.chain.Rebuilds())
	assert.Equal(t, 1, f.dev.Live("swapchain"), "old swapchain kept for teardown")
	assert.Equal(t, gpu.Extent{Width: 800, Height: 600}, f.chain.Extent())
}

func TestDrawFrameStopsWhenClosedWhileMinimized(t *testing.T) {
	f := newFixture(t, soft.Options{}, 2)
	require.NoError(t, f.sync.DrawFrame(f.clearOnly))

	f.dev.QueueAcquireResults(gpu.ErrOutOfDate)
	f.surface.SetExtents(gpu.Extent{})
	f.surface.CloseAfter(1)

	err := f.sync.DrawFrame(f.clearOnly)
	assert.ErrorIs(t, err, ErrFrameLoop)
	assert.ErrorIs(t, err, gpu.ErrSurfaceClosed)
	assert.Equal(t, 1, f.surface.Waits())
	assert.Equal(t, 1, f.dev.Stats().Submits)
	assert.Empty(t, f.dev.Violations())
}

func TestSubmitFailureIsFatal(t *testing.T) {
	errBoom := errors.New("boom")
	fail := false
	f := newFixture(t, soft.Options{SubmitHook: func(gpu.SubmitInfo) error {
		if fail {
			return errBoom
		}
		return nil
	}}, 2)

	require.NoError(t, f.sync.DrawFrame(f.clearOnly))
	fail = true
	err := f.sync.DrawFrame(f.clearOnly)
	assert.ErrorIs(t, err, ErrFrameLoop)
	assert.ErrorIs(t, err, errBoom)
}

func TestRecordFailureIsFatal(t *testing.T) {
	f := newFixture(t, soft.Options{}, 2)
	errRecord := errors.New("record")
	err := f.sync.DrawFrame(func(*Frame) error { return errRecord })
	assert.ErrorIs(t, err, ErrFrameLoop)
	assert.ErrorIs(t, err, errRecord)
}

func TestPresentFailureAdvancesSlot(t *testing.T) {
	f := newFixture(t, soft.Options{}, 2)
	f.dev.QueuePresentResults(gpu.ErrDeviceLost)

	err := f.sync.DrawFrame(f.clearOnly)
	assert.ErrorIs(t, err, ErrFrameLoop)
	assert.ErrorIs(t, err, gpu.ErrDeviceLost)
	assert.Equal(t, 1, f.sync.Current())
}

func TestDeferRunsAfterInFlightFrames(t *testing.T) {
	f := newFixture(t, soft.Options{}, 2)
	require.NoError(t, f.sync.DrawFrame(f.clearOnly))

	ran := 0
	f.sync.Defer(func() { ran++ })
	assert.Equal(t, 1, f.sync.Stats().Deferred)

	require.NoError(t, f.sync.DrawFrame(f.clearOnly))
	assert.Equal(t, 0, ran)
	require.NoError(t, f.sync.DrawFrame(f.clearOnly))
	assert.Equal(t, 0, ran)
	require.NoError(t, f.sync.DrawFrame(f.clearOnly))
	assert.Equal(t, 1, ran)
	assert.Equal(t, 0, f.sync.Stats().Deferred)
}

func TestWaitIdleRunsDeferred(t *testing.T) {
	f := newFixture(t, soft.Options{}, 2)
	ran := false
	f.sync.Defer(func() { ran = true })
	require.NoError(t, f.sync.WaitIdle())
	assert.True(t, ran)
}

func TestWaitIdleRunsNestedDeferrals(t *testing.T) {
	f := newFixture(t, soft.Options{}, 2)
	ran := false
	f.sync.Defer(func() {
		f.sync.Defer(func() { ran = true })
	})
	require.NoError(t, f.sync.WaitIdle())
	assert.True(t, ran)
	assert.Equal(t, 0, f.sync.Stats().Deferred)
}

func TestDestroyReleasesSlots(t *testing.T) {
	f := newFixture(t, soft.Options{}, 3)
	require.NoError(t, f.sync.DrawFrame(f.clearOnly))

	f.sync.Destroy()
	f.sync.Destroy()
	assert.Equal(t, 0, f.dev.Live("fence"))
	assert.Equal(t, 0, f.dev.Live("semaphore"))
	assert.Equal(t, 0, f.dev.Live("buffer"))
	assert.ErrorIs(t, f.sync.DrawFrame(f.clearOnly), ErrFrameLoop)
}

func TestFrameStateString(t *testing.T) {
	assert.Equal(t, "presenting", StatePresenting.String())
	assert.Equal(t, "FrameState(9)", FrameState(9).String())
}
