package formats

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRSMRoundTrip(t *testing.T) {
	for _, v := range []RSMVersion{{1, 1}, {1, 2}, {1, 4}, {1, 5}, {2, 2}} {
		t.Run(v.String(), func(t *testing.T) {
			want := sampleRSM(v)
			data, err := want.MarshalBinary()
			require.NoError(t, err)

			got, err := ParseRSM(data)
			require.NoError(t, err)

			assert.Equal(t, v, got.Version)
			assert.Equal(t, want.Nodes, got.Nodes)
			assert.Equal(t, want.Textures, got.Textures)
			assert.Equal(t, want.RootNode, got.RootNode)
			assert.Equal(t, RSMShadingSmooth, got.Shading)
			assert.Equal(t, float32(1), got.Alpha)
			assert.Len(t, got.VolumeBoxes, 1)
		})
	}
}

func TestParseRSMErrors(t *testing.T) {
	valid, err := sampleRSM(RSMVersion{1, 5}).MarshalBinary()
	require.NoError(t, err)

	with := func(edit func([]byte)) []byte {
		data := append([]byte(nil), valid...)
		edit(data)
		return data
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrTruncatedRSMData},
		{"short magic", []byte("GRS"), ErrTruncatedRSMData},
		{"bad magic", with(func(b []byte) { copy(b, "XXXX") }), ErrInvalidRSMMagic},
		{"version 0.1", with(func(b []byte) { b[4], b[5] = 0, 1 }), ErrUnsupportedRSMVersion},
		{"version 3.0", with(func(b []byte) { b[4], b[5] = 3, 0 }), ErrUnsupportedRSMVersion},
		// Texture count sits after magic, version, anim length, shading, alpha and 16 reserved bytes.
		{"negative count", with(func(b []byte) { binary.LittleEndian.PutUint32(b[31:], 0xFFFFFFFF) }), ErrInvalidRSMCount},
		{"cut inside last node", valid[:len(valid)-60], ErrTruncatedRSMData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRSM(tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseRSMOldAlpha(t *testing.T) {
	m := sampleRSM(RSMVersion{1, 3})
	m.Alpha = 0.5
	data, err := m.MarshalBinary()
	require.NoError(t, err)

	got, err := ParseRSM(data)
	require.NoError(t, err)
	assert.Equal(t, float32(1), got.Alpha, "alpha is only stored from 1.4 on")
}

func TestRSMVersion(t *testing.T) {
	v15, v23 := RSMVersion{1, 5}, RSMVersion{2, 3}
	assert.Equal(t, "1.5", v15.String())
	assert.Equal(t, "2.3", v23.String())

	assert.True(t, v15.AtLeast(1, 5))
	assert.True(t, v15.AtLeast(1, 2))
	assert.False(t, v15.AtLeast(1, 6))
	assert.False(t, v15.AtLeast(2, 0))
	assert.True(t, v23.AtLeast(1, 9))
	assert.False(t, v23.AtLeast(2, 4))
}

func TestRSMShadingString(t *testing.T) {
	assert.Equal(t, "None", RSMShadingNone.String())
	assert.Equal(t, "Flat", RSMShadingFlat.String())
	assert.Equal(t, "Smooth", RSMShadingSmooth.String())
	assert.Equal(t, "Unknown(99)", RSMShadingType(99).String())
}

func TestParseRSMFile(t *testing.T) {
	data, err := sampleRSM(RSMVersion{1, 4}).MarshalBinary()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "model.rsm")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	rsm, err := ParseRSMFile(path)
	require.NoError(t, err)
	require.Len(t, rsm.Nodes, 2)
	assert.Equal(t, "door", rsm.Nodes[1].Name)
	assert.Equal(t, "본체", rsm.Nodes[1].Parent)

	_, err = ParseRSMFile(filepath.Join(t.TempDir(), "missing.rsm"))
	assert.Error(t, err)
}

// sampleRSM builds a two-node model whose fields survive a round trip at v.
func sampleRSM(v RSMVersion) *RSM {
	color := [4]uint8{255, 255, 255, 255}
	if v.AtLeast(1, 2) {
		color = [4]uint8{10, 20, 30, 40}
	}
	smooth := int32(0)
	if v.AtLeast(1, 2) {
		smooth = 3
	}

	root := RSMNode{
		Name:       "본체",
		TextureIDs: []int32{0, 1},
		Matrix:     [9]float32{1, 0, 0, 0, 1, 0, 0, 0, 1},
		Offset:     [3]float32{0, 1, 0},
		Position:   [3]float32{1, 2, 3},
		RotAngle:   0.5,
		RotAxis:    [3]float32{0, 1, 0},
		Scale:      [3]float32{1, 1, 1},
		Vertices:   [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 0}},
		TexCoords: []RSMTexCoord{
			{Color: color, U: 0, V: 0},
			{Color: color, U: 1, V: 0},
			{Color: color, U: 0, V: 1},
		},
		Faces: []RSMFace{
			{VertexIDs: [3]uint16{0, 1, 2}, TexCoordIDs: [3]uint16{0, 1, 2}, TextureID: 0, SmoothGroup: smooth},
			{VertexIDs: [3]uint16{1, 3, 2}, TexCoordIDs: [3]uint16{1, 2, 0}, TextureID: 1, TwoSide: 1, SmoothGroup: smooth},
		},
		RotKeys: []RSMRotKeyframe{{Frame: 0, Quaternion: [4]float32{0, 0, 0, 1}}},
	}
	child := RSMNode{
		Name:       "door",
		Parent:     "본체",
		TextureIDs: []int32{},
		Matrix:     [9]float32{1, 0, 0, 0, 1, 0, 0, 0, 1},
		Scale:      [3]float32{2, 2, 2},
		Vertices:   [][3]float32{},
		TexCoords:  []RSMTexCoord{},
		Faces:      []RSMFace{},
		RotKeys:    []RSMRotKeyframe{},
	}
	if v.AtLeast(1, 5) {
		root.ScaleKeys = []RSMScaleKeyframe{{Frame: 100, Scale: [3]float32{1, 2, 1}}}
		child.ScaleKeys = []RSMScaleKeyframe{}
	} else {
		root.PosKeys = []RSMPosKeyframe{{Frame: 50, Position: [3]float32{0, 0, 1}}}
		child.PosKeys = []RSMPosKeyframe{}
	}

	return &RSM{
		Version:     v,
		AnimLength:  1000,
		Shading:     RSMShadingSmooth,
		Alpha:       1,
		Textures:    []string{"유저인터페이스/wall.bmp", "roof.tga"},
		RootNode:    "본체",
		Nodes:       []RSMNode{root, child},
		VolumeBoxes: []RSMVolumeBox{{Size: [3]float32{1, 1, 1}}},
	}
}
