package importer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/g3n/engine/loader/obj"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-vk/internal/scene"
)

type objFaceKey struct {
	vertex, uv, normal int
}

func (im *Importer) importOBJ(ref string, data []byte) (*scene.Source, error) {
	var mtl io.Reader = strings.NewReader("")
	if lib := objMaterialLibrary(data); lib != "" {
		libPath := path.Join(path.Dir(ref), lib)
		mtlData, err := im.src.Load(libPath)
		if err != nil {
			im.log.Warn("obj material library unavailable",
				zap.String("ref", ref),
				zap.String("mtllib", libPath),
				zap.Error(err))
		} else {
			mtl = bytes.NewReader(mtlData)
		}
	}

	dec, err := obj.DecodeReader(bytes.NewReader(data), mtl)
	if err != nil {
		return nil, err
	}
	for _, w := range dec.Warnings {
		im.log.Debug("obj decoder warning", zap.String("ref", ref), zap.String("warning", w))
	}

	graph := scene.NewGraph()
	src := &scene.Source{Name: ref, Graph: graph}

	for oi := range dec.Objects {
		o := &dec.Objects[oi]
		name := o.Name
		if name == "" {
			name = fmt.Sprintf("object%d", oi)
		}
		node := graph.Add(name, mgl32.Ident4())

		var builders []*builder
		var materials []string
		byMaterial := make(map[string]int)

		for _, face := range o.Faces {
			slot, ok := byMaterial[face.Material]
			if !ok {
				slot = len(builders)
				byMaterial[face.Material] = slot
				mname := face.Material
				if mname == "" {
					mname = "default"
				}
				builders = append(builders, newBuilder(name+"/"+mname))
				materials = append(materials, face.Material)
			}
			objFace(dec, builders[slot], face)
		}

		for i, b := range builders {
			if b.empty() {
				continue
			}
			mat := dec.Materials[materials[i]]
			if !objHasNormals(b) {
				b.computeNormals()
			}
			b.computeTangents()

			var textures map[scene.TextureKind]string
			if mat != nil && mat.MapKd != "" {
				textures = map[scene.TextureKind]string{
					scene.TextureDiffuse: path.Join(path.Dir(ref), mat.MapKd),
				}
			}

			for _, p := range b.split(scene.MaxVertices) {
				if mat != nil {
					for vi := range p.vertices {
						p.vertices[vi].Color = [3]float32{mat.Diffuse.R, mat.Diffuse.G, mat.Diffuse.B}
					}
				}
				src.Meshes = append(src.Meshes, scene.SourceMesh{
					Name:      p.name,
					Node:      node,
					Vertices:  p.vertices,
					Triangles: p.triangles,
					Textures:  textures,
				})
			}
		}
	}
	return src, nil
}

// objFace fan-triangulates a polygon into b.
func objFace(dec *obj.Decoder, b *builder, face obj.Face) {
	if len(face.Vertices) < 3 {
		return
	}
	index := func(k int) uint32 {
		key := objFaceKey{face.Vertices[k], -1, -1}
		v := scene.Vertex{Color: [3]float32{1, 1, 1}}

		if i := key.vertex; i >= 0 && 3*i+2 < len(dec.Vertices) {
			v.Position = [3]float32{dec.Vertices[3*i], dec.Vertices[3*i+1], dec.Vertices[3*i+2]}
		}
		if k < len(face.Uvs) {
			if i := face.Uvs[k]; i >= 0 && 2*i+1 < len(dec.Uvs) {
				key.uv = i
				// OBJ puts the UV origin bottom-left.
				v.UV = [2]float32{dec.Uvs[2*i], 1 - dec.Uvs[2*i+1]}
			}
		}
		if k < len(face.Normals) {
			if i := face.Normals[k]; i >= 0 && 3*i+2 < len(dec.Normals) {
				key.normal = i
				v.Normal = [3]float32{dec.Normals[3*i], dec.Normals[3*i+1], dec.Normals[3*i+2]}
			}
		}
		return b.vertex(key, v, 0)
	}

	first := index(0)
	prev := index(1)
	for k := 2; k < len(face.Vertices); k++ {
		cur := index(k)
		b.triangle(first, prev, cur)
		prev = cur
	}
}

// objHasNormals reports whether every vertex received a file normal.
func objHasNormals(b *builder) bool {
	for key := range b.dedupe {
		if key.(objFaceKey).normal < 0 {
			return false
		}
	}
	return true
}

// objMaterialLibrary returns the first mtllib named in an OBJ file.
func objMaterialLibrary(data []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && fields[0] == "mtllib" {
			return strings.Join(fields[1:], " ")
		}
	}
	return ""
}
