package scene

import (
	"encoding/binary"
	"math"
)

// MeshRange addresses one mesh inside a Model's combined buffers. Offsets and
// counts are in elements (vertices, indices), not bytes.
type MeshRange struct {
	VertexOffset uint32
	IndexOffset  uint32
	VertexCount  uint32
	IndexCount   uint32
}

// Empty reports whether drawing the range would draw nothing.
func (r MeshRange) Empty() bool { return r.IndexCount == 0 }

// Batch concatenates meshes in order. Indices are copied unchanged; a draw of
// range k uses IndexOffset as its first index and VertexOffset as its base
// vertex.
func Batch(meshes []Mesh) (vertices []Vertex, indices []uint16, ranges []MeshRange) {
	var nv, ni int
	for i := range meshes {
		nv += meshes[i].VertexCount()
		ni += meshes[i].IndexCount()
	}
	vertices = make([]Vertex, 0, nv)
	indices = make([]uint16, 0, ni)
	ranges = make([]MeshRange, len(meshes))

	for i := range meshes {
		m := &meshes[i]
		ranges[i] = MeshRange{
			VertexOffset: uint32(len(vertices)),
			IndexOffset:  uint32(len(indices)),
			VertexCount:  uint32(m.VertexCount()),
			IndexCount:   uint32(m.IndexCount()),
		}
		vertices = append(vertices, m.Vertices...)
		for _, tri := range m.Triangles {
			indices = append(indices, tri[0], tri[1], tri[2])
		}
	}
	return vertices, indices, ranges
}

// EncodeVertices packs vertices as little-endian float32s.
func EncodeVertices(vertices []Vertex) []byte {
	buf := make([]byte, 0, len(vertices)*VertexSize)
	put := func(fs ...float32) {
		for _, f := range fs {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
		}
	}
	for i := range vertices {
		v := &vertices[i]
		put(v.Position[:]...)
		put(v.Color[:]...)
		put(v.Normal[:]...)
		put(v.Tangent[:]...)
		put(v.Bitangent[:]...)
		put(v.UV[:]...)
	}
	return buf
}

// EncodeIndices packs indices as little-endian uint16s.
func EncodeIndices(indices []uint16) []byte {
	buf := make([]byte, 0, 2*len(indices))
	for _, idx := range indices {
		buf = binary.LittleEndian.AppendUint16(buf, idx)
	}
	return buf
}
