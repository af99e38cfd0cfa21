package render

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/midgard-vk/internal/gpu"
	"github.com/Faultbox/midgard-vk/internal/gpu/soft"
	"github.com/Faultbox/midgard-vk/internal/scene"
	"github.com/Faultbox/midgard-vk/internal/staging"
)

func newTestModel(t *testing.T, dev gpu.Device) *scene.Model {
	t.Helper()
	up, err := staging.New(dev)
	require.NoError(t, err)
	defer up.Destroy()

	tri := scene.NewMesh("tri", make([]scene.Vertex, 3), []scene.Triangle{{0, 1, 2}})
	empty := scene.NewMesh("empty", make([]scene.Vertex, 2), nil)
	quad := scene.NewMesh("quad", make([]scene.Vertex, 4), []scene.Triangle{{0, 1, 2}, {0, 2, 3}})
	quad.SetTransform(mgl32.Translate3D(0, 0, 5))

	m := scene.NewModel("test")
	require.NoError(t, m.AddMesh(tri))
	require.NoError(t, m.AddMesh(empty))
	require.NoError(t, m.AddMesh(quad))
	require.NoError(t, m.InitWithMeshData(dev, up))
	return m
}

func newTestRenderer(t *testing.T, dev *soft.Device) *Renderer {
	t.Helper()
	r, err := NewRenderer(dev, soft.NewSurface(gpu.Extent{Width: 320, Height: 240}), RendererConfig{
		FramesInFlight: 2,
		ClearColor:     [4]float32{0, 0, 0, 1},
	})
	require.NoError(t, err)
	return r
}

func TestRendererDrawsRanges(t *testing.T) {
	dev := soft.New(soft.Options{})
	r := newTestRenderer(t, dev)
	model := newTestModel(t, dev)

	place := mgl32.Translate3D(1, 0, 0)
	r.Submit(model, place)
	viewProj := mgl32.Perspective(1, 4.0/3, 0.1, 100)
	require.NoError(t, r.Frame(FrameUniforms{ViewProj: viewProj, Eye: mgl32.Vec3{0, 0, 10}}))
	require.NoError(t, r.WaitIdle())

	draws := dev.Draws()
	require.Len(t, draws, 2, "the empty range is not drawn")

	assert.Equal(t, uint32(3), draws[0].IndexCount)
	assert.Equal(t, uint32(0), draws[0].FirstIndex)
	assert.Equal(t, int32(0), draws[0].VertexOffset)
	assert.Equal(t, []uint32{0, 1, 2}, draws[0].Vertices)

	assert.Equal(t, uint32(6), draws[1].IndexCount)
	assert.Equal(t, uint32(3), draws[1].FirstIndex)
	assert.Equal(t, int32(5), draws[1].VertexOffset)
	assert.Equal(t, []uint32{5, 6, 7, 5, 7, 8}, draws[1].Vertices)

	world := place.Mul4(mgl32.Translate3D(0, 0, 5))
	assert.Equal(t, world, gpu.Mat4At(draws[1].PushConstants, 0))
	assert.True(t, world.Inv().ApproxEqual(gpu.Mat4At(draws[1].PushConstants, 64)))
	assert.Equal(t, 2, r.DrawCalls())

	// The borrowed reference is dropped once the frame is retired
	model.Release()
	r.Destroy()
	assert.True(t, model.Destroyed())
	assert.Empty(t, dev.Violations())
}

func TestRendererDefersModelRelease(t *testing.T) {
	dev := soft.New(soft.Options{})
	r := newTestRenderer(t, dev)
	defer r.Destroy()

	model := newTestModel(t, dev)
	model.SetRetirer(r.Retirer())

	r.Submit(model, mgl32.Ident4())
	require.NoError(t, r.Frame(FrameUniforms{ViewProj: mgl32.Ident4()}))
	require.Greater(t, dev.Pending(), 0, "frame still in flight")

	// Dropping the last outside reference while the GPU may still read the
	// buffers must not free them yet.
	model.Release()
	assert.False(t, model.Destroyed())

	// One retirement for the renderer's reference, a second for the buffers.
	for i := 0; i < 6; i++ {
		require.NoError(t, r.Frame(FrameUniforms{ViewProj: mgl32.Ident4()}))
	}
	assert.True(t, model.Destroyed())
	assert.Empty(t, dev.Violations(), "buffers were not destroyed under a pending frame")
}

func TestRendererSkipsDestroyedModel(t *testing.T) {
	dev := soft.New(soft.Options{})
	r := newTestRenderer(t, dev)
	defer r.Destroy()

	model := newTestModel(t, dev)
	model.Destroy()
	r.Submit(model, mgl32.Ident4())
	require.NoError(t, r.Frame(FrameUniforms{}))
	require.NoError(t, r.WaitIdle())
	assert.Empty(t, dev.Draws())
	model.Release()
}

func TestRendererUniforms(t *testing.T) {
	dev := soft.New(soft.Options{})
	r := newTestRenderer(t, dev)
	defer r.Destroy()

	vp := mgl32.Translate3D(3, 2, 1)
	require.NoError(t, r.Frame(FrameUniforms{ViewProj: vp, Eye: mgl32.Vec3{7, 8, 9}}))

	buf := r.sync.UniformBuffer(0).(*soft.Buffer).Contents()
	assert.Equal(t, vp, gpu.Mat4At(buf, 0))
	eye := gpu.Mat4At(append(buf[64:80:80], make([]byte, 48)...), 0)
	assert.Equal(t, []float32{7, 8, 9, 1}, eye[:4])
}

func TestRendererResize(t *testing.T) {
	dev := soft.New(soft.Options{})
	r := newTestRenderer(t, dev)
	defer r.Destroy()

	r.Resize()
	require.NoError(t, r.Frame(FrameUniforms{}))
	assert.Equal(t, 1, r.Stats().Rebuilds)
}
