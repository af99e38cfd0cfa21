package importer

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-vk/internal/scene"
	"github.com/Faultbox/midgard-vk/pkg/formats"
)

type mapSource map[string][]byte

func (m mapSource) Load(p string) ([]byte, error) {
	data, ok := m[p]
	if !ok {
		return nil, fmt.Errorf("%s: not found", p)
	}
	return data, nil
}

func vecNear(t *testing.T, want, got mgl32.Vec3) {
	t.Helper()
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-4, "component %d: want %v, got %v", i, want, got)
	}
}

func quatNear(t *testing.T, want, got mgl32.Quat) {
	t.Helper()
	vecNear(t, want.V, got.V)
	assert.InDelta(t, want.W, got.W, 1e-4, "w: want %v, got %v", want, got)
}

func TestImportUnsupported(t *testing.T) {
	im := New(mapSource{"a.fbx": nil}, Options{})

	_, err := im.Import("a.fbx")
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestImportMissing(t *testing.T) {
	im := New(mapSource{}, Options{})

	_, err := im.Import("data/model/none.rsm")
	assert.Error(t, err)
}

func testRSM() *formats.RSM {
	white := [4]uint8{255, 255, 255, 255}
	return &formats.RSM{
		Version:  formats.RSMVersion{Major: 1, Minor: 5},
		Shading:  formats.RSMShadingSmooth,
		Alpha:    1,
		Textures: []string{"wall.bmp", "roof.bmp"},
		RootNode: "body",
		Nodes: []formats.RSMNode{
			{
				Name:       "body",
				TextureIDs: []int32{0, 1},
				Matrix:     [9]float32{1, 0, 0, 0, 1, 0, 0, 0, 1},
				Offset:     [3]float32{0, 1, 0},
				Position:   [3]float32{1, 2, 3},
				RotAngle:   0.5,
				RotAxis:    [3]float32{0, 1, 0},
				Scale:      [3]float32{1, 1, 1},
				Vertices:   [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 0}, {2, 2, 2}},
				TexCoords: []formats.RSMTexCoord{
					{Color: white, U: 0, V: 0},
					{Color: white, U: 1, V: 0},
					{Color: [4]uint8{255, 0, 0, 255}, U: 0, V: 1},
				},
				Faces: []formats.RSMFace{
					{VertexIDs: [3]uint16{0, 1, 2}, TexCoordIDs: [3]uint16{0, 1, 2}, TextureID: 0},
					{VertexIDs: [3]uint16{1, 3, 2}, TexCoordIDs: [3]uint16{1, 2, 0}, TextureID: 1, TwoSide: 1},
					// Degenerate and out-of-range faces are dropped.
					{VertexIDs: [3]uint16{0, 0, 1}, TextureID: 0},
					{VertexIDs: [3]uint16{0, 1, 9}, TextureID: 0},
				},
				// The identity key overrides the axis-angle rotation.
				RotKeys:   []formats.RSMRotKeyframe{{Frame: 0, Quaternion: [4]float32{0, 0, 0, 1}}},
				ScaleKeys: []formats.RSMScaleKeyframe{{Frame: 100, Scale: [3]float32{1, 2, 1}}},
			},
			{
				Name:     "door",
				Parent:   "body",
				Matrix:   [9]float32{1, 0, 0, 0, 1, 0, 0, 0, 1},
				Scale:    [3]float32{1, 1, 1},
				Vertices: [][3]float32{{0, 0, 0}, {0, 0, 1}, {0, 1, 0}},
				Faces: []formats.RSMFace{
					{VertexIDs: [3]uint16{0, 1, 2}},
				},
			},
		},
	}
}

func importTestRSM(t *testing.T, rsm *formats.RSM) *scene.Source {
	t.Helper()

	data, err := rsm.MarshalBinary()
	require.NoError(t, err)

	im := New(mapSource{"data/model/house.rsm": data}, Options{TextureDir: "data/texture"})
	src, err := im.Import("data/model/house.rsm")
	require.NoError(t, err)
	return src
}

func TestImportRSMGraph(t *testing.T) {
	src := importTestRSM(t, testRSM())

	require.Equal(t, 3, src.Graph.Len())
	root, ok := src.Graph.Find(rsmRootName)
	require.True(t, ok)
	body, _ := src.Graph.Find("body")
	door, _ := src.Graph.Find("door")

	assert.Equal(t, root, src.Graph.Node(body).Parent)
	assert.Equal(t, body, src.Graph.Node(door).Parent)
}

func TestImportRSMMeshes(t *testing.T) {
	src := importTestRSM(t, testRSM())

	require.Len(t, src.Meshes, 3)
	front, twoSided, door := src.Meshes[0], src.Meshes[1], src.Meshes[2]

	assert.Equal(t, "body/0", front.Name)
	assert.Len(t, front.Vertices, 3)
	assert.Equal(t, []scene.Triangle{{0, 1, 2}}, front.Triangles)
	assert.Equal(t, "data/texture/wall.bmp", front.Textures[scene.TextureDiffuse])
	assert.Equal(t, [3]float32{1, 0, 0}, front.Vertices[2].Color)
	assert.Equal(t, [2]float32{0, 1}, front.Vertices[2].UV)

	// The back face reuses no vertices and reverses winding.
	assert.Equal(t, "body/1", twoSided.Name)
	assert.Len(t, twoSided.Vertices, 6)
	assert.Equal(t, []scene.Triangle{{0, 1, 2}, {5, 4, 3}}, twoSided.Triangles)
	assert.Equal(t, "data/texture/roof.bmp", twoSided.Textures[scene.TextureDiffuse])
	vecNear(t, mgl32.Vec3{0, 0, 1}, twoSided.Vertices[0].Normal)
	vecNear(t, mgl32.Vec3{0, 0, -1}, twoSided.Vertices[3].Normal)

	// Node faces without texture ids fall back to texture 0.
	assert.Equal(t, "door/0", door.Name)
	assert.Equal(t, "data/texture/wall.bmp", door.Textures[scene.TextureDiffuse])
}

func TestImportRSMTransforms(t *testing.T) {
	src := importTestRSM(t, testRSM())

	model, err := scene.BuildModel(src, nil, zap.NewNop())
	require.NoError(t, err)
	meshes := model.Meshes()

	// vertex (1,0,0): offset -> (1,1,0), scale key -> (1,2,0),
	// position -> (2,4,3), axis flip -> (2,-4,3).
	p := meshes[0].Transform.Mul4x1(mgl32.Vec4{1, 0, 0, 1}).Vec3()
	vecNear(t, mgl32.Vec3{2, -4, 3}, p)

	// door inherits body's hierarchy transform but not its offset.
	p = meshes[2].Transform.Mul4x1(mgl32.Vec4{0, 0, 0, 1}).Vec3()
	vecNear(t, mgl32.Vec3{1, -2, 3}, p)
}

func TestImportRSMParentCycle(t *testing.T) {
	rsm := testRSM()
	rsm.Nodes[0].Parent = "door"

	src := importTestRSM(t, rsm)

	root, _ := src.Graph.Find(rsmRootName)
	body, _ := src.Graph.Find("body")
	door, _ := src.Graph.Find("door")
	// body links under door first; door then cannot close the loop.
	assert.Equal(t, door, src.Graph.Node(body).Parent)
	assert.Equal(t, root, src.Graph.Node(door).Parent)
}

func TestImportRSMCorrupt(t *testing.T) {
	im := New(mapSource{"bad.rsm": []byte("GRSX....")}, Options{})

	_, err := im.Import("bad.rsm")
	assert.True(t, errors.Is(err, formats.ErrInvalidRSMMagic))
}

const quadOBJ = `mtllib quad.mtl
o quad
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vt 0 0
vt 1 0
vt 1 1
vt 0 1
usemtl red
f 1/1 2/2 3/3 4/4
`

const quadMTL = `newmtl red
Kd 1 0 0
map_Kd red.png
`

func TestImportOBJ(t *testing.T) {
	im := New(mapSource{
		"models/quad.obj": []byte(quadOBJ),
		"models/quad.mtl": []byte(quadMTL),
	}, Options{})

	src, err := im.Import("models/quad.obj")
	require.NoError(t, err)

	require.Equal(t, 1, src.Graph.Len())
	assert.Equal(t, "quad", src.Graph.Node(0).Name)

	require.Len(t, src.Meshes, 1)
	m := src.Meshes[0]
	assert.Equal(t, "quad/red", m.Name)
	assert.Len(t, m.Vertices, 4)
	assert.Equal(t, []scene.Triangle{{0, 1, 2}, {0, 2, 3}}, m.Triangles)
	assert.Equal(t, "models/red.png", m.Textures[scene.TextureDiffuse])

	for _, v := range m.Vertices {
		vecNear(t, mgl32.Vec3{0, 0, 1}, v.Normal)
		vecNear(t, mgl32.Vec3{1, 0, 0}, v.Tangent)
		assert.Equal(t, [3]float32{1, 0, 0}, v.Color)
	}
	// V is flipped to a top-left origin.
	assert.Equal(t, [2]float32{0, 1}, m.Vertices[0].UV)
	assert.Equal(t, [2]float32{1, 0}, m.Vertices[2].UV)
}

func TestImportOBJWithoutMaterialLibrary(t *testing.T) {
	im := New(mapSource{"quad.obj": []byte(quadOBJ)}, Options{})

	src, err := im.Import("quad.obj")
	require.NoError(t, err)
	require.Len(t, src.Meshes, 1)
	assert.Empty(t, src.Meshes[0].Textures)
}

func TestImportOBJFileNormals(t *testing.T) {
	const pentagon = `o pent
v 0 0 0
v 1 0 0
v 1.5 1 0
v 0.5 2 0
v -0.5 1 0
vn 0 0 -1
f 1//1 2//1 3//1 4//1 5//1
`
	im := New(mapSource{"pent.obj": []byte(pentagon)}, Options{})

	src, err := im.Import("pent.obj")
	require.NoError(t, err)
	require.Len(t, src.Meshes, 1)

	m := src.Meshes[0]
	assert.Equal(t, []scene.Triangle{{0, 1, 2}, {0, 2, 3}, {0, 3, 4}}, m.Triangles)
	// File normals win over computed ones.
	vecNear(t, mgl32.Vec3{0, 0, -1}, m.Vertices[0].Normal)
}

func TestRotationAt(t *testing.T) {
	keys := []formats.RSMRotKeyframe{
		{Frame: 0, Quaternion: [4]float32{0, 0, 0, 1}},
		{Frame: 100, Quaternion: quatXYZW(mgl32.QuatRotate(mgl32.DegToRad(90), mgl32.Vec3{0, 1, 0}))},
	}

	half := rotationAt(keys, 50)
	want := mgl32.QuatRotate(mgl32.DegToRad(45), mgl32.Vec3{0, 1, 0})
	quatNear(t, want, half)

	// Clamped past the last key.
	last := rotationAt(keys, 500)
	quatNear(t, quatFromKey(keys[1]), last)
}

func quatXYZW(q mgl32.Quat) [4]float32 {
	return [4]float32{q.V[0], q.V[1], q.V[2], q.W}
}

func quatFromKey(k formats.RSMRotKeyframe) mgl32.Quat {
	q := k.Quaternion
	return mgl32.Quat{W: q[3], V: mgl32.Vec3{q[0], q[1], q[2]}}
}

func TestScaleAt(t *testing.T) {
	keys := []formats.RSMScaleKeyframe{
		{Frame: 0, Scale: [3]float32{1, 1, 1}},
		{Frame: 10, Scale: [3]float32{3, 1, 5}},
	}
	vecNear(t, mgl32.Vec3{2, 1, 3}, scaleAt(keys, 5))
	vecNear(t, mgl32.Vec3{1, 1, 1}, scaleAt(keys, -1))
	vecNear(t, mgl32.Vec3{1, 1, 1}, scaleAt(nil, 5))
}

func TestNodeLocalAxisAngle(t *testing.T) {
	n := &formats.RSMNode{
		RotAngle: mgl32.DegToRad(90),
		RotAxis:  [3]float32{0, 0, 2},
		Scale:    [3]float32{1, 1, 1},
	}
	p := nodeLocal(n, 0).Mul4x1(mgl32.Vec4{1, 0, 0, 1}).Vec3()
	vecNear(t, mgl32.Vec3{0, 1, 0}, p)
}
