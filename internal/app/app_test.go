package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/midgard-vk/internal/config"
	"github.com/Faultbox/midgard-vk/internal/gpu"
	"github.com/Faultbox/midgard-vk/internal/gpu/soft"
	"github.com/Faultbox/midgard-vk/pkg/formats"
)

const cubeOBJ = `o cube
v -1 -1 -1
v 1 -1 -1
v 1 1 -1
v -1 1 -1
v -1 -1 1
v 1 -1 1
v 1 1 1
v -1 1 1
f 1 2 3 4
f 5 8 7 6
f 1 5 6 2
f 2 6 7 3
f 3 7 8 4
f 5 1 4 8
`

func headlessConfig(t *testing.T, models ...string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cube.obj"), []byte(cubeOBJ), 0o644))

	cfg := config.Default()
	cfg.Renderer.Backend = config.BackendHeadless
	cfg.Renderer.HeadlessFrames = 5
	cfg.Graphics.Width, cfg.Graphics.Height = 320, 240
	cfg.Assets.Roots = []string{dir}
	cfg.Assets.Models = models
	return cfg
}

func TestHeadlessRun(t *testing.T) {
	a, err := New(headlessConfig(t, "cube.obj", "missing.obj"))
	require.NoError(t, err)

	dev := a.Device().(*soft.Device)
	require.Len(t, a.Models(), 1, "the missing model is skipped")

	require.NoError(t, a.Run())
	require.NoError(t, a.Renderer().WaitIdle())

	st := a.Renderer().Stats()
	assert.Equal(t, uint64(5), st.Frames)
	assert.Equal(t, 5, a.Renderer().DrawCalls())
	require.Len(t, dev.Draws(), 5)
	assert.Equal(t, uint32(36), dev.Draws()[0].IndexCount)

	a.Close()
	assert.Empty(t, dev.Violations())
	assert.Zero(t, dev.Live("buffer"))
}

func TestUnloadReleasesAfterFrames(t *testing.T) {
	a, err := New(headlessConfig(t, "cube.obj"))
	require.NoError(t, err)
	defer a.Close()

	dev := a.Device().(*soft.Device)
	require.NoError(t, a.drawFrame())
	buffers := dev.Live("buffer")

	a.unloadLast()
	assert.Empty(t, a.Models())
	assert.Equal(t, buffers, dev.Live("buffer"), "buffers stay alive while frames may read them")

	require.NoError(t, a.Renderer().WaitIdle())
	assert.Equal(t, buffers-2, dev.Live("buffer"))

	a.reload()
	assert.Len(t, a.Models(), 1)
}

func TestNewFailsOnMissingShader(t *testing.T) {
	cfg := headlessConfig(t)
	cfg.Renderer.Backend = config.BackendGL
	a := &App{cfg: cfg}
	cfg.Renderer.VertexShader = filepath.Join(t.TempDir(), "nope.vert")

	_, _, err := a.shaderSources()
	assert.Error(t, err)
}

func TestShaderSourcesGLDefaults(t *testing.T) {
	a := &App{cfg: headlessConfig(t)}
	a.cfg.Renderer.Backend = config.BackendGL

	vert, frag, err := a.shaderSources()
	require.NoError(t, err)
	assert.Contains(t, string(vert), "uniform Push")
	assert.Contains(t, string(frag), "uniform Frame")
}

func TestPresentMode(t *testing.T) {
	assert.Equal(t, gpu.PresentFIFO, presentMode(true))
	assert.Equal(t, gpu.PresentMailbox, presentMode(false))
}

func TestHeadlessWorld(t *testing.T) {
	cfg := headlessConfig(t, "field.rsw")
	root := cfg.Assets.Roots[0]
	require.NoError(t, os.MkdirAll(filepath.Join(root, "data", "model"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "data", "model", "cube.obj"), []byte(cubeOBJ), 0o644))

	world := &formats.RSW{
		Version: formats.RSWVersion{Major: 2, Minor: 1},
		Models: []formats.RSWModel{
			{Name: "left", ModelName: "cube.obj", Position: [3]float32{-5, 0, 0}, Scale: [3]float32{1, 1, 1}},
			{Name: "right", ModelName: "cube.obj", Position: [3]float32{5, 0, 0}, Scale: [3]float32{1, 1, 1}},
		},
	}
	data, err := world.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "field.rsw"), data, 0o644))

	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.Len(t, a.Models(), 1, "both placements share one cached model")
	assert.Equal(t, 2, a.Instances())

	require.NoError(t, a.drawFrame())
	assert.Equal(t, 2, a.Renderer().DrawCalls())
}
