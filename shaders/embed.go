// Package shaders provides the mesh shader sources.
//
// The GLSL 4.10 pair is compiled by the OpenGL backend at pipeline creation.
// The GLSL 4.50 pair is compiled offline to SPIR-V for the Vulkan backend:
//
//	glslc -fshader-stage=vertex mesh.vert -o mesh.vert.spv
//	glslc -fshader-stage=fragment mesh.frag -o mesh.frag.spv
package shaders

import _ "embed"

//go:generate glslc -fshader-stage=vertex mesh.vert -o mesh.vert.spv
//go:generate glslc -fshader-stage=fragment mesh.frag -o mesh.frag.spv

// Default SPIR-V paths, relative to the working directory.
const (
	VertexSPIRV   = "shaders/mesh.vert.spv"
	FragmentSPIRV = "shaders/mesh.frag.spv"
)

// MeshVertexGL is the mesh vertex shader for the OpenGL backend.
//
//go:embed mesh_gl.vert
var MeshVertexGL string

// MeshFragmentGL is the mesh fragment shader for the OpenGL backend.
//
//go:embed mesh_gl.frag
var MeshFragmentGL string

// MeshVertex is the Vulkan mesh vertex shader source.
//
//go:embed mesh.vert
var MeshVertex string

// MeshFragment is the Vulkan mesh fragment shader source.
//
//go:embed mesh.frag
var MeshFragment string
