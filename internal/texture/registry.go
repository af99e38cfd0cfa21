// Package texture decodes texture images and hands out opaque texture IDs.
//
// The registry keeps decoded RGBA pixels and metadata; uploading texels to the
// GPU is left to the backend that consumes them.
package texture

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"math/bits"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"
	_ "golang.org/x/image/bmp" // register decoder

	"github.com/Faultbox/midgard-vk/internal/logger"
)

// ID identifies a loaded texture. Zero is never issued.
type ID uint32

// Invalid is the zero texture ID.
const Invalid ID = 0

// Format is the texel format requested for a texture.
type Format int

const (
	// FormatSRGB is for color data such as diffuse maps.
	FormatSRGB Format = iota
	// FormatLinear is for data maps such as normals or metallic-roughness.
	FormatLinear
)

func (f Format) String() string {
	if f == FormatLinear {
		return "linear"
	}
	return "srgb"
}

// Source supplies file bytes by path.
type Source interface {
	Load(path string) ([]byte, error)
}

// Texture is a decoded texture.
type Texture struct {
	ID        ID
	Path      string
	Format    Format
	Width     int
	Height    int
	MipLevels int
	Pixels    *image.RGBA
}

type key struct {
	path   string
	format Format
}

// Registry loads and deduplicates textures.
type Registry struct {
	src Source
	log *zap.Logger

	mu       sync.Mutex
	next     ID
	byKey    map[key]ID
	textures map[ID]*Texture
}

// NewRegistry creates a registry reading from src.
func NewRegistry(src Source) *Registry {
	return &Registry{
		src:      src,
		log:      logger.Named("texture"),
		byKey:    make(map[key]ID),
		textures: make(map[ID]*Texture),
	}
}

// LoadTexture decodes the image at p and returns its ID. Loading the same path
// in the same format again returns the first ID.
func (r *Registry) LoadTexture(p string, format Format, generateMips bool) (ID, error) {
	k := key{path: normalize(p), format: format}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byKey[k]; ok {
		return id, nil
	}

	data, err := r.src.Load(k.path)
	if err != nil {
		return Invalid, fmt.Errorf("texture %s: %w", p, err)
	}
	img, err := decode(k.path, data)
	if err != nil {
		return Invalid, fmt.Errorf("texture %s: %w", p, err)
	}

	r.next++
	tex := &Texture{
		ID:        r.next,
		Path:      k.path,
		Format:    format,
		Width:     img.Bounds().Dx(),
		Height:    img.Bounds().Dy(),
		MipLevels: 1,
		Pixels:    img,
	}
	if generateMips {
		tex.MipLevels = MipLevels(tex.Width, tex.Height)
	}
	r.byKey[k] = tex.ID
	r.textures[tex.ID] = tex

	r.log.Debug("texture loaded",
		zap.String("path", tex.Path),
		zap.Stringer("format", format),
		zap.Int("width", tex.Width),
		zap.Int("height", tex.Height),
		zap.Int("mips", tex.MipLevels))
	return tex.ID, nil
}

// Get returns a loaded texture.
func (r *Registry) Get(id ID) (*Texture, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.textures[id]
	return t, ok
}

// Len returns the number of loaded textures.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.textures)
}

// MipLevels returns the length of a full mip chain for a w×h image.
func MipLevels(w, h int) int {
	m := max(w, h)
	if m <= 0 {
		return 1
	}
	return bits.Len(uint(m))
}

func decode(p string, data []byte) (*image.RGBA, error) {
	ext := strings.ToLower(path.Ext(p))
	if ext == ".tga" {
		return DecodeTGA(data)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	// BMP textures use magenta as the transparency key.
	return ToRGBA(img, ext == ".bmp"), nil
}

func normalize(p string) string {
	return path.Clean(strings.ReplaceAll(p, "\\", "/"))
}
