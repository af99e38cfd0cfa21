package importer

import (
	"fmt"
	"path"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-vk/internal/scene"
	"github.com/Faultbox/midgard-vk/pkg/formats"
)

// rsmRootName names the synthetic node that carries the RO to renderer
// axis conversion.
const rsmRootName = "rsm"

// flipY converts RO's Y-down model space.
var flipY = mgl32.Scale3D(1, -1, 1)

type rsmFaceKey struct {
	vertex, texcoord uint16
	back             bool
}

func (im *Importer) importRSM(ref string, data []byte) (*scene.Source, error) {
	rsm, err := formats.ParseRSM(data)
	if err != nil {
		return nil, err
	}

	graph := scene.NewGraph()
	root := graph.Add(rsmRootName, flipY)

	// First node wins on duplicate names, as lookups do in the format.
	byName := make(map[string]int, len(rsm.Nodes))
	nodeIDs := make([]int, len(rsm.Nodes))
	for i := range rsm.Nodes {
		n := &rsm.Nodes[i]
		nodeIDs[i] = graph.Add(n.Name, nodeLocal(n, im.opts.PoseTimeMs))
		if _, dup := byName[n.Name]; !dup {
			byName[n.Name] = nodeIDs[i]
		}
	}

	for i := range rsm.Nodes {
		n := &rsm.Nodes[i]
		parent := root
		if p, ok := byName[n.Parent]; ok && n.Parent != "" && n.Parent != n.Name {
			parent = p
		}
		if err := graph.SetParent(nodeIDs[i], parent); err != nil {
			im.log.Warn("rsm node hierarchy broken, attaching to root",
				zap.String("ref", ref),
				zap.String("node", n.Name),
				zap.String("parent", n.Parent),
				zap.Error(err))
			if err := graph.SetParent(nodeIDs[i], root); err != nil {
				return nil, err
			}
		}
	}

	src := &scene.Source{Name: ref, Graph: graph}
	for i := range rsm.Nodes {
		n := &rsm.Nodes[i]
		for _, b := range im.rsmNodeBuilders(rsm, n) {
			b.computeNormals()
			if rsm.Shading == formats.RSMShadingSmooth {
				b.smoothNormals()
			}
			b.computeTangents()

			tex := b.texture
			for _, p := range b.split(scene.MaxVertices) {
				sm := scene.SourceMesh{
					Name:      p.name,
					Node:      nodeIDs[i],
					Local:     vertexLocal(n),
					Vertices:  p.vertices,
					Triangles: p.triangles,
				}
				if tex != "" {
					sm.Textures = map[scene.TextureKind]string{scene.TextureDiffuse: tex}
				}
				src.Meshes = append(src.Meshes, sm)
			}
		}
	}
	return src, nil
}

type rsmBuilder struct {
	*builder
	texture string
}

// rsmNodeBuilders groups a node's faces by global texture index in order of
// first use. Two-sided faces get a second, reversed triangle with its own
// vertices so normals on each side stay separate.
func (im *Importer) rsmNodeBuilders(rsm *formats.RSM, n *formats.RSMNode) []rsmBuilder {
	var out []rsmBuilder
	byTexture := make(map[int]int)

	for _, face := range n.Faces {
		if !validFace(n, face) {
			continue
		}

		tex := 0
		if int(face.TextureID) < len(n.TextureIDs) {
			tex = int(n.TextureIDs[face.TextureID])
		}
		slot, ok := byTexture[tex]
		if !ok {
			slot = len(out)
			byTexture[tex] = slot
			rb := rsmBuilder{builder: newBuilder(fmt.Sprintf("%s/%d", n.Name, tex))}
			if tex >= 0 && tex < len(rsm.Textures) && rsm.Textures[tex] != "" {
				rb.texture = path.Join(im.opts.TextureDir, rsm.Textures[tex])
			}
			out = append(out, rb)
		}
		b := out[slot].builder

		var idx [3]uint32
		for k := 0; k < 3; k++ {
			idx[k] = b.vertex(rsmFaceKey{face.VertexIDs[k], face.TexCoordIDs[k], false}, rsmVertex(n, face, k), 0)
		}
		b.triangle(idx[0], idx[1], idx[2])

		if face.TwoSide != 0 {
			for k := 0; k < 3; k++ {
				idx[k] = b.vertex(rsmFaceKey{face.VertexIDs[k], face.TexCoordIDs[k], true}, rsmVertex(n, face, k), 1)
			}
			b.triangle(idx[2], idx[1], idx[0])
		}
	}

	return out
}

// validFace rejects out-of-range vertex ids and degenerate triangles.
func validFace(n *formats.RSMNode, face formats.RSMFace) bool {
	for _, vid := range face.VertexIDs {
		if int(vid) >= len(n.Vertices) {
			return false
		}
	}
	p0 := mgl32.Vec3(n.Vertices[face.VertexIDs[0]])
	p1 := mgl32.Vec3(n.Vertices[face.VertexIDs[1]])
	p2 := mgl32.Vec3(n.Vertices[face.VertexIDs[2]])
	return p1.Sub(p0).Cross(p2.Sub(p0)).Len() >= 1e-5
}

func rsmVertex(n *formats.RSMNode, face formats.RSMFace, k int) scene.Vertex {
	v := scene.Vertex{
		Position: n.Vertices[face.VertexIDs[k]],
		Color:    [3]float32{1, 1, 1},
	}
	if tid := int(face.TexCoordIDs[k]); tid < len(n.TexCoords) {
		tc := n.TexCoords[tid]
		v.UV = [2]float32{tc.U, tc.V}
		v.Color = [3]float32{
			float32(tc.Color[0]) / 255,
			float32(tc.Color[1]) / 255,
			float32(tc.Color[2]) / 255,
		}
	}
	return v
}
