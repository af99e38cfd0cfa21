package opengl

import (
	"fmt"

	"github.com/go-gl/gl/v4.1-core/gl"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-vk/internal/gpu"
)

// Pipeline is a linked program, a vertex array and the Push uniform block.
type Pipeline struct {
	desc    gpu.PipelineDesc
	program uint32
	vao     uint32
	push    uint32
}

// CreatePipeline implements gpu.Device. Shader bytes are GLSL source.
func (d *Device) CreatePipeline(desc gpu.PipelineDesc) (gpu.Pipeline, error) {
	if _, ok := desc.RenderPass.(*RenderPass); !ok {
		return nil, errForeign
	}
	program, err := linkProgram(
		stage{gl.VERTEX_SHADER, "vertex", string(desc.VertexShader)},
		stage{gl.FRAGMENT_SHADER, "fragment", string(desc.FragmentShader)},
	)
	if err != nil {
		return nil, fmt.Errorf("opengl: pipeline: %w", err)
	}
	if !bindBlock(program, FrameBlockName, FrameBlockBinding) {
		d.log.Debug("program has no frame block")
	}

	p := &Pipeline{desc: desc, program: program}
	p.desc.Attributes = append([]gpu.VertexAttribute(nil), desc.Attributes...)

	gl.GenVertexArrays(1, &p.vao)
	gl.BindVertexArray(p.vao)
	for _, a := range p.desc.Attributes {
		gl.EnableVertexAttribArray(a.Location)
	}
	gl.BindVertexArray(0)

	if desc.PushConstantSize > 0 {
		if bindBlock(program, PushBlockName, PushBlockBinding) {
			gl.GenBuffers(1, &p.push)
			gl.BindBuffer(gl.UNIFORM_BUFFER, p.push)
			gl.BufferData(gl.UNIFORM_BUFFER, int(desc.PushConstantSize), nil, gl.STREAM_DRAW)
			gl.BindBuffer(gl.UNIFORM_BUFFER, 0)
		} else {
			d.log.Warn("program has no push block, push constants are dropped",
				zap.Uint32("size", desc.PushConstantSize))
		}
	}

	if err := glError("create pipeline"); err != nil {
		p.Destroy()
		return nil, err
	}
	return p, nil
}

// setAttributes points every attribute at the bound ARRAY_BUFFER.
func (p *Pipeline) setAttributes(base uint64) {
	for _, a := range p.desc.Attributes {
		gl.VertexAttribPointer(a.Location, int32(a.Components), gl.FLOAT, false,
			int32(p.desc.VertexStride), gl.PtrOffset(int(base)+int(a.Offset)))
	}
}

// Destroy implements gpu.Pipeline.
func (p *Pipeline) Destroy() {
	if p.push != 0 {
		gl.DeleteBuffers(1, &p.push)
		p.push = 0
	}
	if p.vao != 0 {
		gl.DeleteVertexArrays(1, &p.vao)
		p.vao = 0
	}
	if p.program != 0 {
		gl.DeleteProgram(p.program)
		p.program = 0
	}
}

// UniformBinding pairs a uniform buffer with the Frame block.
type UniformBinding struct {
	buffer *Buffer
}

// CreateUniformBinding implements gpu.Device.
func (d *Device) CreateUniformBinding(p gpu.Pipeline, buf gpu.Buffer) (gpu.UniformBinding, error) {
	if _, ok := p.(*Pipeline); !ok {
		return nil, errForeign
	}
	b, ok := buf.(*Buffer)
	if !ok {
		return nil, errForeign
	}
	if b.id == 0 {
		return nil, fmt.Errorf("opengl: uniform buffer %q has no buffer object", b.desc.Label)
	}
	return &UniformBinding{buffer: b}, nil
}

// Destroy implements gpu.UniformBinding. The buffer is not owned.
func (*UniformBinding) Destroy() {}
