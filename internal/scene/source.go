package scene

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-vk/internal/texture"
)

// SourceMesh is one sub-mesh produced by an importer.
type SourceMesh struct {
	Name      string
	Node      int        // graph node the mesh hangs from
	Local     mgl32.Mat4 // applied before the node's world transform; zero means identity
	Vertices  []Vertex
	Triangles []Triangle
	Textures  map[TextureKind]string // texture paths per slot
}

// Source is a parsed asset: a node graph and the sub-meshes attached to it.
type Source struct {
	Name   string
	Graph  *Graph
	Meshes []SourceMesh
}

// TextureLoader resolves texture paths to IDs.
type TextureLoader interface {
	LoadTexture(path string, format texture.Format, generateMips bool) (texture.ID, error)
}

// BuildModel flattens src into an uninitialized Model. Mesh transforms are
// the node's world transform times the mesh's local transform. A texture that
// fails to load leaves its slot empty and is logged.
func BuildModel(src *Source, textures TextureLoader, log *zap.Logger) (*Model, error) {
	graph := src.Graph
	if graph == nil {
		graph = NewGraph()
	}
	world := graph.WorldTransforms()

	model := NewModel(src.Name)
	for i := range src.Meshes {
		sm := &src.Meshes[i]

		xf := sm.Local
		if xf == (mgl32.Mat4{}) {
			xf = mgl32.Ident4()
		}
		if sm.Node != NoParent {
			if sm.Node < 0 || sm.Node >= len(world) {
				return nil, fmt.Errorf("mesh %q references node %d of %d", sm.Name, sm.Node, len(world))
			}
			xf = world[sm.Node].Mul4(xf)
		}

		mesh := NewMesh(sm.Name, sm.Vertices, sm.Triangles)
		mesh.SetTransform(xf)

		for kind, path := range sm.Textures {
			if textures == nil || path == "" {
				continue
			}
			id, err := textures.LoadTexture(path, kind.Format(), kind == TextureDiffuse)
			if err != nil {
				log.Warn("texture unavailable",
					zap.String("model", src.Name),
					zap.String("mesh", sm.Name),
					zap.Stringer("kind", kind),
					zap.Error(err))
				continue
			}
			mesh.Textures[kind] = id
		}

		if err := model.AddMesh(mesh); err != nil {
			return nil, err
		}
	}
	return model, nil
}

// Instance places a model asset in the world.
type Instance struct {
	Name      string
	Ref       string
	Transform mgl32.Mat4
}
