package importer

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/midgard-vk/internal/scene"
)

// builder accumulates one sub-mesh with 32-bit indices. split narrows it to
// uint16 triangles.
type builder struct {
	name     string
	vertices []scene.Vertex
	indices  []uint32
	// smoothing group per vertex; normals are only averaged within a group
	groups []int
	dedupe map[any]uint32
}

func newBuilder(name string) *builder {
	return &builder{name: name, dedupe: make(map[any]uint32)}
}

// vertex returns the index of the vertex registered under key, adding v if
// the key is new.
func (b *builder) vertex(key any, v scene.Vertex, group int) uint32 {
	if i, ok := b.dedupe[key]; ok {
		return i
	}
	i := uint32(len(b.vertices))
	b.vertices = append(b.vertices, v)
	b.groups = append(b.groups, group)
	b.dedupe[key] = i
	return i
}

func (b *builder) triangle(a, c, d uint32) {
	b.indices = append(b.indices, a, c, d)
}

func (b *builder) empty() bool { return len(b.indices) == 0 }

// computeNormals accumulates area-weighted face normals per vertex.
func (b *builder) computeNormals() {
	acc := make([]mgl32.Vec3, len(b.vertices))
	for t := 0; t+2 < len(b.indices); t += 3 {
		i0, i1, i2 := b.indices[t], b.indices[t+1], b.indices[t+2]
		p0 := mgl32.Vec3(b.vertices[i0].Position)
		p1 := mgl32.Vec3(b.vertices[i1].Position)
		p2 := mgl32.Vec3(b.vertices[i2].Position)
		n := p1.Sub(p0).Cross(p2.Sub(p0))
		acc[i0] = acc[i0].Add(n)
		acc[i1] = acc[i1].Add(n)
		acc[i2] = acc[i2].Add(n)
	}
	for i := range b.vertices {
		b.vertices[i].Normal = normalize(acc[i])
	}
}

// smoothNormals averages normals of vertices sharing a position within the
// same smoothing group.
func (b *builder) smoothNormals() {
	const epsilon float32 = 0.001

	type key struct {
		x, y, z int32
		group   int
	}
	shared := make(map[key][]int)
	for i := range b.vertices {
		p := b.vertices[i].Position
		k := key{int32(p[0] / epsilon), int32(p[1] / epsilon), int32(p[2] / epsilon), b.groups[i]}
		shared[k] = append(shared[k], i)
	}

	for _, idxs := range shared {
		if len(idxs) < 2 {
			continue
		}
		var sum mgl32.Vec3
		for _, i := range idxs {
			sum = sum.Add(b.vertices[i].Normal)
		}
		avg := normalize(sum)
		for _, i := range idxs {
			b.vertices[i].Normal = avg
		}
	}
}

// computeTangents derives per-vertex tangent frames from UV gradients.
// Vertices without usable UVs get an arbitrary frame orthogonal to the normal.
func (b *builder) computeTangents() {
	tan := make([]mgl32.Vec3, len(b.vertices))
	bit := make([]mgl32.Vec3, len(b.vertices))

	for t := 0; t+2 < len(b.indices); t += 3 {
		i0, i1, i2 := b.indices[t], b.indices[t+1], b.indices[t+2]
		v0, v1, v2 := &b.vertices[i0], &b.vertices[i1], &b.vertices[i2]

		e1 := mgl32.Vec3(v1.Position).Sub(v0.Position)
		e2 := mgl32.Vec3(v2.Position).Sub(v0.Position)
		du1, dv1 := v1.UV[0]-v0.UV[0], v1.UV[1]-v0.UV[1]
		du2, dv2 := v2.UV[0]-v0.UV[0], v2.UV[1]-v0.UV[1]

		det := du1*dv2 - du2*dv1
		if abs(det) < 1e-12 {
			continue
		}
		r := 1 / det
		sdir := e1.Mul(dv2).Sub(e2.Mul(dv1)).Mul(r)
		tdir := e2.Mul(du1).Sub(e1.Mul(du2)).Mul(r)

		for _, i := range [3]uint32{i0, i1, i2} {
			tan[i] = tan[i].Add(sdir)
			bit[i] = bit[i].Add(tdir)
		}
	}

	for i := range b.vertices {
		n := mgl32.Vec3(b.vertices[i].Normal)
		t := tan[i].Sub(n.Mul(n.Dot(tan[i])))
		if t.Len() < 1e-6 {
			t = orthogonal(n)
		}
		t = t.Normalize()

		handed := float32(1)
		if n.Cross(t).Dot(bit[i]) < 0 {
			handed = -1
		}
		b.vertices[i].Tangent = t
		b.vertices[i].Bitangent = n.Cross(t).Mul(handed)
	}
}

// part is a uint16-addressable slice of a builder.
type part struct {
	name      string
	vertices  []scene.Vertex
	triangles []scene.Triangle
}

// split partitions the builder's triangles into parts of at most limit
// vertices, preserving triangle order.
func (b *builder) split(limit int) []part {
	if len(b.vertices) <= limit {
		p := part{name: b.name, vertices: b.vertices}
		p.triangles = make([]scene.Triangle, 0, len(b.indices)/3)
		for t := 0; t+2 < len(b.indices); t += 3 {
			p.triangles = append(p.triangles, scene.Triangle{
				uint16(b.indices[t]), uint16(b.indices[t+1]), uint16(b.indices[t+2]),
			})
		}
		return []part{p}
	}

	var parts []part
	remap := make(map[uint32]uint16)
	cur := part{name: fmt.Sprintf("%s#%d", b.name, 0)}

	for t := 0; t+2 < len(b.indices); t += 3 {
		tri := [3]uint32{b.indices[t], b.indices[t+1], b.indices[t+2]}

		fresh := 0
		for _, i := range tri {
			if _, ok := remap[i]; !ok {
				fresh++
			}
		}
		if len(cur.vertices)+fresh > limit {
			parts = append(parts, cur)
			cur = part{name: fmt.Sprintf("%s#%d", b.name, len(parts))}
			clear(remap)
		}

		var out scene.Triangle
		for k, i := range tri {
			j, ok := remap[i]
			if !ok {
				j = uint16(len(cur.vertices))
				cur.vertices = append(cur.vertices, b.vertices[i])
				remap[i] = j
			}
			out[k] = j
		}
		cur.triangles = append(cur.triangles, out)
	}
	if len(cur.triangles) > 0 {
		parts = append(parts, cur)
	}
	return parts
}

func normalize(v mgl32.Vec3) mgl32.Vec3 {
	if v.Len() < 1e-8 {
		return mgl32.Vec3{0, 1, 0}
	}
	return v.Normalize()
}

func orthogonal(n mgl32.Vec3) mgl32.Vec3 {
	if abs(n.X()) < 0.9 {
		return mgl32.Vec3{1, 0, 0}.Sub(n.Mul(n.X()))
	}
	return mgl32.Vec3{0, 1, 0}.Sub(n.Mul(n.Y()))
}

func abs(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}
