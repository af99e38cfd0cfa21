package opengl

import (
	"fmt"

	"github.com/go-gl/gl/v4.1-core/gl"
)

type stage struct {
	kind   uint32
	name   string
	source string
}

// linkProgram compiles each stage and links them. Stage objects are deleted
// once the program holds them.
func linkProgram(stages ...stage) (uint32, error) {
	program := gl.CreateProgram()
	for _, st := range stages {
		sh, err := compileStage(st)
		if err != nil {
			gl.DeleteProgram(program)
			return 0, err
		}
		gl.AttachShader(program, sh)
		defer gl.DeleteShader(sh)
	}
	gl.LinkProgram(program)

	var ok int32
	gl.GetProgramiv(program, gl.LINK_STATUS, &ok)
	if ok == gl.FALSE {
		var n int32
		gl.GetProgramiv(program, gl.INFO_LOG_LENGTH, &n)
		buf := make([]byte, n+1)
		gl.GetProgramInfoLog(program, n, nil, &buf[0])
		gl.DeleteProgram(program)
		return 0, fmt.Errorf("link: %s", gl.GoStr(&buf[0]))
	}
	return program, nil
}

func compileStage(st stage) (uint32, error) {
	sh := gl.CreateShader(st.kind)
	src, free := gl.Strs(st.source + "\x00")
	gl.ShaderSource(sh, 1, src, nil)
	free()
	gl.CompileShader(sh)

	var ok int32
	gl.GetShaderiv(sh, gl.COMPILE_STATUS, &ok)
	if ok == gl.TRUE {
		return sh, nil
	}
	var n int32
	gl.GetShaderiv(sh, gl.INFO_LOG_LENGTH, &n)
	buf := make([]byte, n+1)
	gl.GetShaderInfoLog(sh, n, nil, &buf[0])
	gl.DeleteShader(sh)
	return 0, fmt.Errorf("%s stage: %s", st.name, gl.GoStr(&buf[0]))
}

// bindBlock assigns a uniform block to a binding point. It reports false
// when the program has no active block of that name.
func bindBlock(program uint32, name string, binding uint32) bool {
	index := gl.GetUniformBlockIndex(program, gl.Str(name+"\x00"))
	if index == gl.INVALID_INDEX {
		return false
	}
	gl.UniformBlockBinding(program, index, binding)
	return true
}
