package importer

import (
	"fmt"
	"math"
	"path"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-vk/internal/scene"
	"github.com/Faultbox/midgard-vk/pkg/formats"
)

// IsWorld reports whether ref names a world file rather than a model.
func IsWorld(ref string) bool {
	return strings.EqualFold(path.Ext(ref), ".rsw")
}

// ImportWorld reads the model placements of an RSW world.
func (im *Importer) ImportWorld(ref string) ([]scene.Instance, error) {
	if !IsWorld(ref) {
		return nil, fmt.Errorf("%w: %q is not a world", ErrUnsupportedFormat, ref)
	}
	data, err := im.src.Load(ref)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", ref, err)
	}
	rsw, err := formats.ParseRSW(data)
	if err != nil {
		return nil, fmt.Errorf("importing %s: %w", ref, err)
	}

	instances := make([]scene.Instance, 0, len(rsw.Models))
	for i := range rsw.Models {
		m := &rsw.Models[i]
		if m.ModelName == "" {
			continue
		}
		instances = append(instances, scene.Instance{
			Name:      m.Name,
			Ref:       path.Join(im.opts.ModelDir, strings.ReplaceAll(m.ModelName, "\\", "/")),
			Transform: placement(m),
		})
	}

	im.log.Debug("world imported",
		zap.String("ref", ref),
		zap.Stringer("version", rsw.Version),
		zap.Int("instances", len(instances)),
		zap.Int("lights", rsw.Skipped[formats.RSWObjectLight]),
		zap.Int("sounds", rsw.Skipped[formats.RSWObjectSound]),
		zap.Int("effects", rsw.Skipped[formats.RSWObjectEffect]))
	return instances, nil
}

// placement builds the world transform of a placed model. RSW is Y-down;
// rotations are degrees applied Y, X, then Z.
func placement(m *formats.RSWModel) mgl32.Mat4 {
	rad := func(deg float32) float32 { return deg * math.Pi / 180 }
	return mgl32.Translate3D(m.Position[0], -m.Position[1], m.Position[2]).
		Mul4(mgl32.HomogRotate3DY(rad(m.Rotation[1]))).
		Mul4(mgl32.HomogRotate3DX(rad(m.Rotation[0]))).
		Mul4(mgl32.HomogRotate3DZ(rad(m.Rotation[2]))).
		Mul4(mgl32.Scale3D(m.Scale[0], m.Scale[1], m.Scale[2]))
}
