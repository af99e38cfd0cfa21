// Package config handles viewer configuration loading and management.
package config

import (
	"fmt"
	"time"
)

// Renderer backends.
const (
	BackendVulkan   = "vulkan"
	BackendGL       = "gl"
	BackendHeadless = "headless"
)

// MaxFramesInFlight bounds Renderer.FramesInFlight.
const MaxFramesInFlight = 4

// Config holds all viewer settings.
type Config struct {
	Graphics GraphicsConfig `yaml:"graphics"`
	Renderer RendererConfig `yaml:"renderer"`
	Assets   AssetsConfig   `yaml:"assets"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// GraphicsConfig holds display settings.
type GraphicsConfig struct {
	Width      int  `yaml:"width"`
	Height     int  `yaml:"height"`
	Fullscreen bool `yaml:"fullscreen"`
	VSync      bool `yaml:"vsync"`
}

// RendererConfig holds GPU pipeline settings.
type RendererConfig struct {
	Backend        string        `yaml:"backend"`          // vulkan, gl or headless
	FramesInFlight int           `yaml:"frames_in_flight"` // CPU frames recorded ahead of the GPU
	Validation     bool          `yaml:"validation"`       // Vulkan validation layers
	ClearColor     [4]float32    `yaml:"clear_color"`
	VertexShader   string        `yaml:"vertex_shader"`   // SPIR-V for vulkan, GLSL for gl
	FragmentShader string        `yaml:"fragment_shader"` // SPIR-V for vulkan, GLSL for gl
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	HeadlessFrames int           `yaml:"headless_frames"` // frames rendered by the headless backend
}

// AssetsConfig holds asset source locations.
type AssetsConfig struct {
	Roots      []string `yaml:"roots"`       // Directories searched for loose files
	GRFPaths   []string `yaml:"grf_paths"`   // Paths to GRF archives
	Models     []string `yaml:"models"`      // Models loaded at startup
	TextureDir string   `yaml:"texture_dir"` // Prefix for texture names referenced by models
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Graphics: GraphicsConfig{
			Width:      1280,
			Height:     720,
			Fullscreen: false,
			VSync:      true,
		},
		Renderer: RendererConfig{
			Backend:        BackendVulkan,
			FramesInFlight: 2,
			Validation:     false,
			ClearColor:     [4]float32{0.1, 0.1, 0.12, 1},
			AcquireTimeout: time.Second,
			HeadlessFrames: 120,
		},
		Assets: AssetsConfig{
			Roots:      []string{"."},
			TextureDir: "data/texture",
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// Validate reports the first setting that is out of range.
func (c *Config) Validate() error {
	if c.Graphics.Width <= 0 || c.Graphics.Height <= 0 {
		return fmt.Errorf("graphics: invalid size %dx%d", c.Graphics.Width, c.Graphics.Height)
	}
	switch c.Renderer.Backend {
	case BackendVulkan, BackendGL, BackendHeadless:
	default:
		return fmt.Errorf("renderer: unknown backend %q", c.Renderer.Backend)
	}
	if c.Renderer.FramesInFlight < 1 || c.Renderer.FramesInFlight > MaxFramesInFlight {
		return fmt.Errorf("renderer: frames_in_flight %d out of range 1..%d",
			c.Renderer.FramesInFlight, MaxFramesInFlight)
	}
	if c.Renderer.AcquireTimeout < 0 {
		return fmt.Errorf("renderer: negative acquire_timeout %v", c.Renderer.AcquireTimeout)
	}
	return nil
}
