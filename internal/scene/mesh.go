// Package scene holds CPU-side geometry and its GPU-resident form.
//
// A Mesh is immutable vertex and triangle data. A Model owns an ordered list
// of meshes batched into one vertex buffer and one index buffer, addressed per
// mesh by a MeshRange. The Manager caches Models by identifier so each source
// asset is resident at most once.
package scene

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/midgard-vk/internal/gpu"
	"github.com/Faultbox/midgard-vk/internal/texture"
)

// Errors reported by scene operations.
var (
	ErrIndexOutOfRange    = errors.New("scene: triangle index out of range")
	ErrAlreadyInitialized = errors.New("scene: model already initialized")
	ErrNotInitialized     = errors.New("scene: model not initialized")
	ErrCacheMiss          = errors.New("scene: model cache miss")
	ErrLoadFailed         = errors.New("scene: model load failed")
)

// MaxVertices is the largest vertex count a uint16-indexed mesh can address.
const MaxVertices = 1 << 16

// Vertex is the interleaved GPU vertex.
type Vertex struct {
	Position  [3]float32
	Color     [3]float32
	Normal    [3]float32
	Tangent   [3]float32
	Bitangent [3]float32
	UV        [2]float32
}

// VertexSize is the encoded size of a Vertex in bytes.
const VertexSize = 17 * 4

// VertexLayout describes Vertex for pipeline creation.
func VertexLayout() []gpu.VertexAttribute {
	return []gpu.VertexAttribute{
		{Location: 0, Components: 3, Offset: 0},
		{Location: 1, Components: 3, Offset: 12},
		{Location: 2, Components: 3, Offset: 24},
		{Location: 3, Components: 3, Offset: 36},
		{Location: 4, Components: 3, Offset: 48},
		{Location: 5, Components: 2, Offset: 60},
	}
}

// Triangle is three indices into the owning mesh's vertices.
type Triangle [3]uint16

// TextureKind is a material texture slot.
type TextureKind int

const (
	TextureDiffuse TextureKind = iota
	TextureNormal
	TextureMetallicRoughness
)

var textureKindNames = [...]string{"diffuse", "normal", "metallic-roughness"}

func (k TextureKind) String() string {
	if k >= 0 && int(k) < len(textureKindNames) {
		return textureKindNames[k]
	}
	return fmt.Sprintf("TextureKind(%d)", int(k))
}

// Format returns the texel format textures of this kind are loaded with.
func (k TextureKind) Format() texture.Format {
	if k == TextureDiffuse {
		return texture.FormatSRGB
	}
	return texture.FormatLinear
}

// Mesh is one drawable piece of geometry.
type Mesh struct {
	Name      string
	Vertices  []Vertex
	Triangles []Triangle
	Textures  map[TextureKind]texture.ID
	Transform mgl32.Mat4
	Inverse   mgl32.Mat4
}

// NewMesh returns a mesh with an identity transform.
func NewMesh(name string, vertices []Vertex, triangles []Triangle) Mesh {
	return Mesh{
		Name:      name,
		Vertices:  vertices,
		Triangles: triangles,
		Textures:  make(map[TextureKind]texture.ID),
		Transform: mgl32.Ident4(),
		Inverse:   mgl32.Ident4(),
	}
}

// SetTransform sets the local-to-model transform and its inverse.
func (m *Mesh) SetTransform(t mgl32.Mat4) {
	m.Transform = t
	m.Inverse = t.Inv()
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int { return len(m.Vertices) }

// IndexCount returns the number of indices, three per triangle.
func (m *Mesh) IndexCount() int { return 3 * len(m.Triangles) }

// Validate checks that every index addresses a vertex of this mesh.
func (m *Mesh) Validate() error {
	if len(m.Vertices) > MaxVertices {
		return fmt.Errorf("%w: mesh %q has %d vertices, limit %d", ErrIndexOutOfRange, m.Name, len(m.Vertices), MaxVertices)
	}
	n := len(m.Vertices)
	for i, tri := range m.Triangles {
		for _, idx := range tri {
			if int(idx) >= n {
				return fmt.Errorf("%w: mesh %q triangle %d index %d, %d vertices", ErrIndexOutOfRange, m.Name, i, idx, n)
			}
		}
	}
	return nil
}
