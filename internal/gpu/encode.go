package gpu

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Bytes encodes the push constant block in column-major little-endian order.
func (p PushConstants) Bytes() []byte {
	buf := make([]byte, 0, PushConstantSize)
	buf = AppendMat4(buf, p.Model)
	return AppendMat4(buf, p.Inverse)
}

// AppendMat4 appends m to buf as 16 column-major float32 values.
func AppendMat4(buf []byte, m mgl32.Mat4) []byte {
	for _, f := range m {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return buf
}

// Mat4At decodes a matrix written by AppendMat4 at offset off.
func Mat4At(buf []byte, off int) mgl32.Mat4 {
	var m mgl32.Mat4
	for i := range m {
		m[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off+4*i:]))
	}
	return m
}
