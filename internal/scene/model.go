package scene

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/midgard-vk/internal/gpu"
)

// Uploader copies host bytes into a device-local buffer and blocks until the
// copy is complete.
type Uploader interface {
	Upload(dst gpu.Buffer, data []byte) error
}

// Retirer runs fn once the GPU can no longer be reading resources used by
// frames recorded so far.
type Retirer interface {
	Defer(fn func())
}

// Model is a list of meshes batched into one vertex and one index buffer.
//
// A Model is built empty, filled with AddMesh, then made GPU-resident by one
// call to InitWithMeshData. It is immutable afterwards. Ownership is counted:
// the creator holds the first reference and the GPU buffers are released when
// the last reference is dropped.
type Model struct {
	Name string

	meshes []Mesh
	ranges []MeshRange
	vb, ib gpu.Buffer

	initialized bool
	destroyed   atomic.Bool
	refs        atomic.Int32
	retirer     Retirer
}

// NewModel returns an empty model holding one reference.
func NewModel(name string) *Model {
	m := &Model{Name: name}
	m.refs.Store(1)
	return m
}

// AddMesh appends a mesh. It fails once the model is initialized.
func (m *Model) AddMesh(mesh Mesh) error {
	if m.initialized {
		return ErrAlreadyInitialized
	}
	m.meshes = append(m.meshes, mesh)
	return nil
}

// InitWithMeshData validates and batches the meshes, creates the vertex and
// index buffers and uploads them. It may be called once. On failure every
// buffer created so far is released and the model stays uninitialized.
func (m *Model) InitWithMeshData(dev gpu.Device, up Uploader) (err error) {
	if m.initialized {
		return ErrAlreadyInitialized
	}
	for i := range m.meshes {
		if err := m.meshes[i].Validate(); err != nil {
			return err
		}
	}

	vertices, indices, ranges := Batch(m.meshes)
	vbData := EncodeVertices(vertices)
	ibData := EncodeIndices(indices)

	defer func() {
		if err != nil {
			m.releaseBuffers()
		}
	}()

	m.vb, err = dev.CreateBuffer(gpu.BufferDesc{
		Size:   uint64(len(vbData)),
		Usage:  gpu.UsageVertex | gpu.UsageTransferDst | gpu.UsageTransferSrc,
		Memory: gpu.MemoryDeviceLocal,
		Label:  m.Name + "/vertices",
	})
	if err != nil {
		return fmt.Errorf("model %q: vertex buffer: %w", m.Name, err)
	}
	m.ib, err = dev.CreateBuffer(gpu.BufferDesc{
		Size:   uint64(len(ibData)),
		Usage:  gpu.UsageIndex | gpu.UsageTransferDst | gpu.UsageTransferSrc,
		Memory: gpu.MemoryDeviceLocal,
		Label:  m.Name + "/indices",
	})
	if err != nil {
		return fmt.Errorf("model %q: index buffer: %w", m.Name, err)
	}

	if err = up.Upload(m.vb, vbData); err != nil {
		return fmt.Errorf("model %q: upload vertices: %w", m.Name, err)
	}
	if err = up.Upload(m.ib, ibData); err != nil {
		return fmt.Errorf("model %q: upload indices: %w", m.Name, err)
	}

	m.ranges = ranges
	m.initialized = true
	return nil
}

// Initialized reports whether InitWithMeshData succeeded.
func (m *Model) Initialized() bool { return m.initialized }

// Meshes returns the meshes in declaration order. The slice must not be modified.
func (m *Model) Meshes() []Mesh { return m.meshes }

// Ranges returns one MeshRange per mesh. The ranges are views into the
// model's buffers and are valid only while the model is alive.
func (m *Model) Ranges() []MeshRange { return m.ranges }

// VertexBuffer returns the combined vertex buffer, nil before initialization.
func (m *Model) VertexBuffer() gpu.Buffer { return m.vb }

// IndexBuffer returns the combined index buffer, nil before initialization.
func (m *Model) IndexBuffer() gpu.Buffer { return m.ib }

// VertexCount returns the number of vertices in the combined buffer.
func (m *Model) VertexCount() int {
	if len(m.ranges) == 0 {
		return 0
	}
	last := m.ranges[len(m.ranges)-1]
	return int(last.VertexOffset + last.VertexCount)
}

// IndexCount returns the number of indices in the combined buffer.
func (m *Model) IndexCount() int {
	if len(m.ranges) == 0 {
		return 0
	}
	last := m.ranges[len(m.ranges)-1]
	return int(last.IndexOffset + last.IndexCount)
}

// Bounds returns the model-space bounding box of every mesh vertex after its
// mesh transform. ok is false for a model without vertices.
func (m *Model) Bounds() (min, max mgl32.Vec3, ok bool) {
	min = mgl32.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	max = mgl32.Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}
	for i := range m.meshes {
		mesh := &m.meshes[i]
		for _, v := range mesh.Vertices {
			p := mgl32.TransformCoordinate(mgl32.Vec3(v.Position), mesh.Transform)
			for a := 0; a < 3; a++ {
				min[a] = float32(math.Min(float64(min[a]), float64(p[a])))
				max[a] = float32(math.Max(float64(max[a]), float64(p[a])))
			}
			ok = true
		}
	}
	if !ok {
		return mgl32.Vec3{}, mgl32.Vec3{}, false
	}
	return min, max, true
}

// SetRetirer makes the final Release defer buffer destruction through r.
func (m *Model) SetRetirer(r Retirer) { m.retirer = r }

// Retain adds a reference and returns m.
func (m *Model) Retain() *Model {
	m.refs.Add(1)
	return m
}

// Release drops a reference. Dropping the last one destroys the model, after
// in-flight frames complete when a Retirer is set.
func (m *Model) Release() {
	n := m.refs.Add(-1)
	switch {
	case n > 0:
		return
	case n < 0:
		panic(fmt.Sprintf("scene: model %q released more times than retained", m.Name))
	}
	if m.retirer != nil {
		m.retirer.Defer(m.Destroy)
		return
	}
	m.Destroy()
}

// Refs returns the current reference count.
func (m *Model) Refs() int { return int(m.refs.Load()) }

// Destroy releases the GPU buffers. Only the first call has an effect.
func (m *Model) Destroy() {
	if !m.destroyed.CompareAndSwap(false, true) {
		return
	}
	m.releaseBuffers()
}

// Destroyed reports whether Destroy has run.
func (m *Model) Destroyed() bool { return m.destroyed.Load() }

func (m *Model) releaseBuffers() {
	if m.vb != nil {
		m.vb.Destroy()
		m.vb = nil
	}
	if m.ib != nil {
		m.ib.Destroy()
		m.ib = nil
	}
}
