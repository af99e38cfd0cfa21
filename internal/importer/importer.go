// Package importer turns model files into scene sources: a node graph plus
// uint16-indexed sub-meshes ready for batching.
package importer

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-vk/internal/logger"
	"github.com/Faultbox/midgard-vk/internal/scene"
)

// ErrUnsupportedFormat is returned for asset refs with an unknown extension.
var ErrUnsupportedFormat = errors.New("importer: unsupported model format")

// Source resolves an asset path to its bytes.
type Source interface {
	Load(path string) ([]byte, error)
}

// Options tune how assets are interpreted.
type Options struct {
	// TextureDir is prefixed to texture names stored in RSM models.
	TextureDir string
	// PoseTimeMs is the animation time RSM node transforms are sampled at.
	PoseTimeMs float32
	// ModelDir is prefixed to model names placed by RSW worlds.
	ModelDir string
}

// Importer dispatches on file extension. It satisfies scene.Importer.
type Importer struct {
	src  Source
	opts Options
	log  *zap.Logger
}

// New returns an importer reading through src.
func New(src Source, opts Options) *Importer {
	if opts.ModelDir == "" {
		opts.ModelDir = "data/model"
	}
	return &Importer{
		src:  src,
		opts: opts,
		log:  logger.Named("importer"),
	}
}

// Import parses the asset at ref.
func (im *Importer) Import(ref string) (*scene.Source, error) {
	ext := strings.ToLower(path.Ext(ref))
	switch ext {
	case ".rsm", ".rsm2", ".obj":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ref)
	}

	data, err := im.src.Load(ref)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", ref, err)
	}

	var src *scene.Source
	if ext == ".obj" {
		src, err = im.importOBJ(ref, data)
	} else {
		src, err = im.importRSM(ref, data)
	}
	if err != nil {
		return nil, fmt.Errorf("importing %s: %w", ref, err)
	}

	im.log.Debug("imported",
		zap.String("ref", ref),
		zap.Int("nodes", src.Graph.Len()),
		zap.Int("meshes", len(src.Meshes)))
	return src, nil
}
