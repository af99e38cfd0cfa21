package importer

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/midgard-vk/pkg/formats"
)

// rotationAt samples rotation keyframes at timeMs. Keys are sorted by frame.
func rotationAt(keys []formats.RSMRotKeyframe, timeMs float32) mgl32.Quat {
	quat := func(k formats.RSMRotKeyframe) mgl32.Quat {
		q := k.Quaternion
		return mgl32.Quat{W: q[3], V: mgl32.Vec3{q[0], q[1], q[2]}}
	}

	if len(keys) == 0 {
		return mgl32.QuatIdent()
	}
	prev, next := bracket(len(keys), func(i int) int32 { return keys[i].Frame }, timeMs)
	if prev == next {
		return quat(keys[prev])
	}
	t := lerpFactor(keys[prev].Frame, keys[next].Frame, timeMs)
	return mgl32.QuatSlerp(quat(keys[prev]), quat(keys[next]), t)
}

// scaleAt samples scale keyframes at timeMs.
func scaleAt(keys []formats.RSMScaleKeyframe, timeMs float32) mgl32.Vec3 {
	if len(keys) == 0 {
		return mgl32.Vec3{1, 1, 1}
	}
	prev, next := bracket(len(keys), func(i int) int32 { return keys[i].Frame }, timeMs)
	if prev == next {
		return keys[prev].Scale
	}
	t := lerpFactor(keys[prev].Frame, keys[next].Frame, timeMs)
	a, b := mgl32.Vec3(keys[prev].Scale), mgl32.Vec3(keys[next].Scale)
	return a.Add(b.Sub(a).Mul(t))
}

// bracket finds the keys surrounding timeMs. Both are the same index before
// the first or after the last key.
func bracket(n int, frame func(int) int32, timeMs float32) (prev, next int) {
	for i := 0; i < n; i++ {
		if float32(frame(i)) > timeMs {
			return prev, i
		}
		prev, next = i, i
	}
	return prev, next
}

func lerpFactor(f0, f1 int32, timeMs float32) float32 {
	if f1 == f0 {
		return 0
	}
	return (timeMs - float32(f0)) / float32(f1-f0)
}

// nodeLocal is the transform children inherit: Position * Rotation * Scale.
// Rotation keyframes replace the static axis-angle rotation.
func nodeLocal(n *formats.RSMNode, timeMs float32) mgl32.Mat4 {
	m := mgl32.Translate3D(n.Position[0], n.Position[1], n.Position[2])

	switch {
	case len(n.RotKeys) > 0:
		m = m.Mul4(rotationAt(n.RotKeys, timeMs).Mat4())
	case n.RotAngle != 0:
		axis := mgl32.Vec3(n.RotAxis)
		if axis.Len() > 1e-6 {
			m = m.Mul4(mgl32.HomogRotate3D(n.RotAngle, axis.Normalize()))
		}
	}

	m = m.Mul4(mgl32.Scale3D(n.Scale[0], n.Scale[1], n.Scale[2]))
	if len(n.ScaleKeys) > 0 {
		s := scaleAt(n.ScaleKeys, timeMs)
		m = m.Mul4(mgl32.Scale3D(s[0], s[1], s[2]))
	}
	return m
}

// vertexLocal is the node's Offset * Mat3 transform. It applies to the
// node's own vertices and is not inherited.
func vertexLocal(n *formats.RSMNode) mgl32.Mat4 {
	m3 := n.Matrix
	rot := mgl32.Mat4{
		m3[0], m3[1], m3[2], 0,
		m3[3], m3[4], m3[5], 0,
		m3[6], m3[7], m3[8], 0,
		0, 0, 0, 1,
	}
	return mgl32.Translate3D(n.Offset[0], n.Offset[1], n.Offset[2]).Mul4(rot)
}
