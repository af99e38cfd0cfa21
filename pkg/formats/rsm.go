// Package formats parses Ragnarok Online binary asset formats.
// RSM (Resource Model) format parser for 3D models.
package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/Faultbox/midgard-vk/pkg/encoding"
)

// RSM format errors.
var (
	ErrInvalidRSMMagic       = errors.New("invalid RSM magic: expected 'GRSM'")
	ErrUnsupportedRSMVersion = errors.New("unsupported RSM version")
	ErrTruncatedRSMData      = errors.New("truncated RSM data")
	ErrInvalidNodeCount      = errors.New("invalid RSM node count")
	ErrInvalidRSMCount       = errors.New("invalid RSM element count")
)

const (
	rsmNameSize     = 40
	rsmMaxNodes     = 10000
	rsmMaxElements  = 1 << 20
	rsmMaxKeyframes = 10000
	rsmMaxVolumes   = 1000
)

// RSMVersion represents the RSM file version.
type RSMVersion struct {
	Major uint8
	Minor uint8
}

// String returns the version as "Major.Minor".
func (v RSMVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// AtLeast returns true if version is >= major.minor.
func (v RSMVersion) AtLeast(major, minor uint8) bool {
	if v.Major > major {
		return true
	}
	return v.Major == major && v.Minor >= minor
}

// RSMShadingType represents the shading mode for rendering.
type RSMShadingType int32

const (
	RSMShadingNone   RSMShadingType = 0 // No shading
	RSMShadingFlat   RSMShadingType = 1 // Flat shading
	RSMShadingSmooth RSMShadingType = 2 // Smooth shading
)

// String returns a human-readable shading type name.
func (s RSMShadingType) String() string {
	switch s {
	case RSMShadingNone:
		return "None"
	case RSMShadingFlat:
		return "Flat"
	case RSMShadingSmooth:
		return "Smooth"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// RSMTexCoord represents a texture coordinate with optional vertex color.
type RSMTexCoord struct {
	Color [4]uint8 // RGBA vertex color (v1.2+)
	U, V  float32
}

// RSMFace represents a triangle face in a mesh.
type RSMFace struct {
	VertexIDs   [3]uint16 // Indices into vertex array
	TexCoordIDs [3]uint16 // Indices into texcoord array
	TextureID   uint16    // Index into node's texture array
	Padding     uint16
	TwoSide     int32 // Double-sided rendering flag
	SmoothGroup int32 // Smoothing group ID (v1.2+)
}

// RSMPosKeyframe represents a position animation keyframe.
type RSMPosKeyframe struct {
	Frame    int32
	Position [3]float32
}

// RSMRotKeyframe represents a rotation animation keyframe.
type RSMRotKeyframe struct {
	Frame      int32
	Quaternion [4]float32 // X, Y, Z, W
}

// RSMScaleKeyframe represents a scale animation keyframe.
type RSMScaleKeyframe struct {
	Frame int32
	Scale [3]float32
}

// RSMNode represents a node in the model hierarchy.
type RSMNode struct {
	Name       string  // Node name
	Parent     string  // Parent node name (empty for root)
	TextureIDs []int32 // Indices into RSM.Textures array

	// Transform components
	Matrix   [9]float32 // 3x3 rotation matrix
	Offset   [3]float32 // Pivot point offset
	Position [3]float32 // Translation
	RotAngle float32    // Rotation angle (radians)
	RotAxis  [3]float32 // Rotation axis
	Scale    [3]float32 // Scale factors

	// Mesh data
	Vertices  [][3]float32
	TexCoords []RSMTexCoord
	Faces     []RSMFace

	// Animation keyframes
	PosKeys   []RSMPosKeyframe   // v < 1.5
	RotKeys   []RSMRotKeyframe   // all versions
	ScaleKeys []RSMScaleKeyframe // v >= 1.5
}

// RSMVolumeBox represents a bounding volume box.
type RSMVolumeBox struct {
	Size     [3]float32
	Position [3]float32
	Rotation [3]float32 // Euler angles
	Flag     int32      // v1.3+
}

// RSM represents a parsed RSM (Resource Model) file.
type RSM struct {
	Version     RSMVersion
	AnimLength  int32 // Animation length in milliseconds
	Shading     RSMShadingType
	Alpha       float32  // Global alpha (0-1)
	Textures    []string // Texture file paths, UTF-8
	RootNode    string
	Nodes       []RSMNode
	VolumeBoxes []RSMVolumeBox
}

// ParseRSM parses RSM data from a byte slice.
func ParseRSM(data []byte) (*RSM, error) {
	if len(data) < 6 {
		return nil, ErrTruncatedRSMData
	}
	if string(data[:4]) != "GRSM" {
		return nil, ErrInvalidRSMMagic
	}

	rsm := &RSM{
		Version: RSMVersion{Major: data[4], Minor: data[5]},
	}
	// Supported versions are 1.1 through 2.x.
	if rsm.Version.Major < 1 || rsm.Version.Major > 2 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRSMVersion, rsm.Version)
	}

	r := newReader(data[6:], ErrTruncatedRSMData, ErrInvalidRSMCount)
	r.read(&rsm.AnimLength)
	r.read(&rsm.Shading)

	if rsm.Version.AtLeast(1, 4) {
		var alpha uint8
		r.read(&alpha)
		rsm.Alpha = float32(alpha) / 255.0
	} else {
		rsm.Alpha = 1.0
	}

	// Reserved
	r.skip(16)

	textureCount := r.count("textures", rsmMaxElements)
	rsm.Textures = make([]string, textureCount)
	for i := range rsm.Textures {
		rsm.Textures[i] = r.str(rsmNameSize)
	}

	rsm.RootNode = r.str(rsmNameSize)

	var nodeCount int32
	r.read(&nodeCount)
	if r.err != nil {
		return nil, r.err
	}
	if nodeCount < 0 || nodeCount > rsmMaxNodes {
		return nil, ErrInvalidNodeCount
	}

	rsm.Nodes = make([]RSMNode, nodeCount)
	for i := range rsm.Nodes {
		parseRSMNode(r, rsm.Version, &rsm.Nodes[i])
		if r.err != nil {
			return nil, fmt.Errorf("parsing node %d: %w", i, r.err)
		}
	}

	// Volume boxes are optional trailing data.
	if r.r.Len() >= 4 {
		var boxCount int32
		r.read(&boxCount)
		if boxCount > 0 && boxCount < rsmMaxVolumes {
			rsm.VolumeBoxes = make([]RSMVolumeBox, boxCount)
			for i := range rsm.VolumeBoxes {
				box := &rsm.VolumeBoxes[i]
				r.read(&box.Size)
				r.read(&box.Position)
				r.read(&box.Rotation)
				if rsm.Version.AtLeast(1, 3) {
					r.read(&box.Flag)
				}
			}
			if r.err != nil {
				return nil, fmt.Errorf("parsing volume boxes: %w", r.err)
			}
		}
	}

	return rsm, nil
}

func parseRSMNode(r *reader, version RSMVersion, node *RSMNode) {
	node.Name = r.str(rsmNameSize)
	node.Parent = r.str(rsmNameSize)

	node.TextureIDs = make([]int32, r.count("texture ids", rsmMaxElements))
	for i := range node.TextureIDs {
		r.read(&node.TextureIDs[i])
	}

	r.read(&node.Matrix)
	r.read(&node.Offset)
	r.read(&node.Position)
	r.read(&node.RotAngle)
	r.read(&node.RotAxis)
	r.read(&node.Scale)

	node.Vertices = make([][3]float32, r.count("vertices", rsmMaxElements))
	for i := range node.Vertices {
		r.read(&node.Vertices[i])
	}

	node.TexCoords = make([]RSMTexCoord, r.count("texcoords", rsmMaxElements))
	for i := range node.TexCoords {
		tc := &node.TexCoords[i]
		if version.AtLeast(1, 2) {
			r.read(&tc.Color)
		} else {
			tc.Color = [4]uint8{255, 255, 255, 255}
		}
		r.read(&tc.U)
		r.read(&tc.V)
	}

	node.Faces = make([]RSMFace, r.count("faces", rsmMaxElements))
	for i := range node.Faces {
		face := &node.Faces[i]
		r.read(&face.VertexIDs)
		r.read(&face.TexCoordIDs)
		r.read(&face.TextureID)
		r.read(&face.Padding)
		r.read(&face.TwoSide)
		if version.AtLeast(1, 2) {
			r.read(&face.SmoothGroup)
		}
	}

	if !version.AtLeast(1, 5) {
		node.PosKeys = make([]RSMPosKeyframe, r.count("position keys", rsmMaxKeyframes))
		for i := range node.PosKeys {
			r.read(&node.PosKeys[i].Frame)
			r.read(&node.PosKeys[i].Position)
		}
	}

	node.RotKeys = make([]RSMRotKeyframe, r.count("rotation keys", rsmMaxKeyframes))
	for i := range node.RotKeys {
		r.read(&node.RotKeys[i].Frame)
		r.read(&node.RotKeys[i].Quaternion)
	}

	if version.AtLeast(1, 5) {
		node.ScaleKeys = make([]RSMScaleKeyframe, r.count("scale keys", rsmMaxKeyframes))
		for i := range node.ScaleKeys {
			r.read(&node.ScaleKeys[i].Frame)
			r.read(&node.ScaleKeys[i].Scale)
		}
	}
}

// ParseRSMFile parses an RSM file from disk.
func ParseRSMFile(path string) (*RSM, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading RSM file: %w", err)
	}
	return ParseRSM(data)
}

// MarshalBinary encodes the model in the layout ParseRSM reads for its
// version. Names are written as EUC-KR.
func (rsm *RSM) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	w := func(v any) { _ = binary.Write(&buf, binary.LittleEndian, v) }
	name := func(s string) { buf.Write(encoding.UTF8ToFixedString(s, rsmNameSize)) }

	buf.WriteString("GRSM")
	buf.WriteByte(rsm.Version.Major)
	buf.WriteByte(rsm.Version.Minor)
	w(rsm.AnimLength)
	w(rsm.Shading)
	if rsm.Version.AtLeast(1, 4) {
		buf.WriteByte(uint8(rsm.Alpha*255 + 0.5))
	}
	buf.Write(make([]byte, 16))

	w(int32(len(rsm.Textures)))
	for _, t := range rsm.Textures {
		name(t)
	}
	name(rsm.RootNode)

	w(int32(len(rsm.Nodes)))
	for i := range rsm.Nodes {
		n := &rsm.Nodes[i]
		name(n.Name)
		name(n.Parent)
		w(int32(len(n.TextureIDs)))
		w(n.TextureIDs)
		w(n.Matrix)
		w(n.Offset)
		w(n.Position)
		w(n.RotAngle)
		w(n.RotAxis)
		w(n.Scale)

		w(int32(len(n.Vertices)))
		w(n.Vertices)

		w(int32(len(n.TexCoords)))
		for _, tc := range n.TexCoords {
			if rsm.Version.AtLeast(1, 2) {
				w(tc.Color)
			}
			w(tc.U)
			w(tc.V)
		}

		w(int32(len(n.Faces)))
		for _, f := range n.Faces {
			w(f.VertexIDs)
			w(f.TexCoordIDs)
			w(f.TextureID)
			w(f.Padding)
			w(f.TwoSide)
			if rsm.Version.AtLeast(1, 2) {
				w(f.SmoothGroup)
			}
		}

		if !rsm.Version.AtLeast(1, 5) {
			w(int32(len(n.PosKeys)))
			w(n.PosKeys)
		}
		w(int32(len(n.RotKeys)))
		w(n.RotKeys)
		if rsm.Version.AtLeast(1, 5) {
			w(int32(len(n.ScaleKeys)))
			w(n.ScaleKeys)
		}
	}

	w(int32(len(rsm.VolumeBoxes)))
	for _, b := range rsm.VolumeBoxes {
		w(b.Size)
		w(b.Position)
		w(b.Rotation)
		if rsm.Version.AtLeast(1, 3) {
			w(b.Flag)
		}
	}

	return buf.Bytes(), nil
}
