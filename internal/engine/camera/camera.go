// Package camera provides the orbit camera the viewer renders through.
package camera

import (
	gomath "math"

	"github.com/go-gl/mathgl/mgl32"
)

// ClipSpace selects the projection convention of the target API.
type ClipSpace int

const (
	// ClipGL has Y up and depth in [-1, 1].
	ClipGL ClipSpace = iota
	// ClipVulkan has Y down and depth in [0, 1].
	ClipVulkan
)

// vulkanClip converts GL clip coordinates to Vulkan's.
var vulkanClip = mgl32.Mat4{
	1, 0, 0, 0,
	0, -1, 0, 0,
	0, 0, 0.5, 0,
	0, 0, 0.5, 1,
}

// OrbitCamera orbits around a center point.
type OrbitCamera struct {
	Center mgl32.Vec3

	// Spherical coordinates
	Distance  float32 // Distance from center
	RotationX float32 // Pitch (vertical angle, radians)
	RotationY float32 // Yaw (horizontal angle, radians)

	// Projection
	FovY float32 // radians
	Near float32
	Far  float32

	// Constraints
	MinDistance float32
	MaxDistance float32
	MinPitch    float32
	MaxPitch    float32

	// Sensitivity
	DragSensitivity float32
	ZoomSensitivity float32
}

// NewOrbitCamera creates a new orbit camera with default settings.
func NewOrbitCamera() *OrbitCamera {
	return &OrbitCamera{
		Distance:        200.0,
		RotationX:       0.5,
		FovY:            mgl32.DegToRad(45),
		Near:            1,
		Far:             10000,
		MinDistance:     1.0,
		MaxDistance:     5000.0,
		MinPitch:        -1.5,
		MaxPitch:        1.5,
		DragSensitivity: 0.005,
		ZoomSensitivity: 0.1,
	}
}

// Position returns the camera position in world space.
func (c *OrbitCamera) Position() mgl32.Vec3 {
	cosX := float32(gomath.Cos(float64(c.RotationX)))
	offset := mgl32.Vec3{
		c.Distance * cosX * float32(gomath.Sin(float64(c.RotationY))),
		c.Distance * float32(gomath.Sin(float64(c.RotationX))),
		c.Distance * cosX * float32(gomath.Cos(float64(c.RotationY))),
	}
	return c.Center.Add(offset)
}

// ViewMatrix returns the view matrix for this camera.
func (c *OrbitCamera) ViewMatrix() mgl32.Mat4 {
	return mgl32.LookAtV(c.Position(), c.Center, mgl32.Vec3{0, 1, 0})
}

// Projection returns the perspective projection for aspect in clip's
// convention.
func (c *OrbitCamera) Projection(aspect float32, clip ClipSpace) mgl32.Mat4 {
	if aspect <= 0 {
		aspect = 1
	}
	p := mgl32.Perspective(c.FovY, aspect, c.Near, c.Far)
	if clip == ClipVulkan {
		p = vulkanClip.Mul4(p)
	}
	return p
}

// ViewProj returns Projection * View.
func (c *OrbitCamera) ViewProj(aspect float32, clip ClipSpace) mgl32.Mat4 {
	return c.Projection(aspect, clip).Mul4(c.ViewMatrix())
}

// HandleDrag updates rotation based on mouse drag delta.
func (c *OrbitCamera) HandleDrag(deltaX, deltaY float32) {
	c.RotationY -= deltaX * c.DragSensitivity
	c.RotationX += deltaY * c.DragSensitivity
	c.RotationX = mgl32.Clamp(c.RotationX, c.MinPitch, c.MaxPitch)
}

// HandleZoom updates distance based on scroll wheel delta.
func (c *OrbitCamera) HandleZoom(delta float32) {
	c.Distance -= delta * c.Distance * c.ZoomSensitivity
	c.Distance = mgl32.Clamp(c.Distance, c.MinDistance, c.MaxDistance)
}

// HandleMovement pans the camera center point based on keyboard input.
func (c *OrbitCamera) HandleMovement(forward, right, up float32) {
	// Speed scales with distance for consistent feel
	speed := c.Distance * 0.01

	sinY := float32(gomath.Sin(float64(c.RotationY)))
	cosY := float32(gomath.Cos(float64(c.RotationY)))

	// Negate forward so it moves into the scene.
	c.Center = c.Center.Add(mgl32.Vec3{
		(-sinY*forward + cosY*right) * speed,
		up * speed,
		(-cosY*forward - sinY*right) * speed,
	})
}

// FitToBounds centers the camera on a bounding box and backs off far
// enough to see all of it.
func (c *OrbitCamera) FitToBounds(min, max mgl32.Vec3) {
	c.Center = min.Add(max).Mul(0.5)

	radius := max.Sub(min).Len() / 2
	dist := radius / float32(gomath.Sin(float64(c.FovY/2)))
	c.Distance = mgl32.Clamp(dist, c.MinDistance, c.MaxDistance)
	if c.Far < c.Distance+radius*2 {
		c.Far = c.Distance + radius*2
	}

	c.RotationX = 0.6 // Look down at ~35 degrees
	c.RotationY = 0.0
}
