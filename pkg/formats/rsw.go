// RSW (Resource World) parser. Only model placements are decoded; lights,
// sounds and effects are counted and skipped.
package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/Faultbox/midgard-vk/pkg/encoding"
)

// RSW format errors.
var (
	ErrInvalidRSWMagic       = errors.New("invalid RSW magic: expected 'GRSW'")
	ErrUnsupportedRSWVersion = errors.New("unsupported RSW version")
	ErrTruncatedRSWData      = errors.New("truncated RSW data")
	ErrInvalidRSWCount       = errors.New("invalid RSW object count")
	ErrUnknownObjectType     = errors.New("unknown RSW object type")
)

const (
	rswFileNameSize  = 40
	rswObjectName    = 40
	rswLongNameSize  = 80
	rswMaxObjects    = 1 << 20
	rswLightSize     = rswLongNameSize + 12 + 12 + 4
	rswEffectSize    = rswLongNameSize + 12 + 4 + 4 + 16
	rswSoundBaseSize = 2*rswLongNameSize + 12 + 4 + 4 + 4 + 4
)

// RSWVersion is the world file version. Build is set from 2.2 on.
type RSWVersion struct {
	Major uint8
	Minor uint8
	Build uint32
}

func (v RSWVersion) String() string {
	if v.Build > 0 {
		return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Build)
	}
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// AtLeast reports whether v >= major.minor.
func (v RSWVersion) AtLeast(major, minor uint8) bool {
	return v.Major > major || (v.Major == major && v.Minor >= minor)
}

// RSWObjectType tags each object in the world's object list.
type RSWObjectType int32

const (
	RSWObjectModel  RSWObjectType = 1
	RSWObjectLight  RSWObjectType = 2
	RSWObjectSound  RSWObjectType = 3
	RSWObjectEffect RSWObjectType = 4
)

// RSWModel places one RSM model in the world. Rotation is in degrees.
type RSWModel struct {
	Name      string
	AnimType  int32
	AnimSpeed float32
	BlockType int32
	ModelName string // path under data/model
	NodeName  string
	Position  [3]float32
	Rotation  [3]float32
	Scale     [3]float32
}

// RSW is a parsed world file.
type RSW struct {
	Version RSWVersion
	IniFile string
	GndFile string
	GatFile string // 1.4+
	SrcFile string // 1.4+
	Models  []RSWModel
	// Skipped counts non-model objects by type.
	Skipped map[RSWObjectType]int
}

// ParseRSW parses a world file and returns its model placements.
func ParseRSW(data []byte) (*RSW, error) {
	if len(data) < 6 {
		return nil, ErrTruncatedRSWData
	}
	if string(data[:4]) != "GRSW" {
		return nil, ErrInvalidRSWMagic
	}

	rsw := &RSW{
		Version: RSWVersion{Major: data[4], Minor: data[5]},
		Skipped: make(map[RSWObjectType]int),
	}
	v := rsw.Version
	if v.Major < 1 || v.Major > 2 || (v.Major == 2 && v.Minor > 6) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRSWVersion, v)
	}

	r := newReader(data[6:], ErrTruncatedRSWData, ErrInvalidRSWCount)
	switch {
	case v.AtLeast(2, 5):
		r.read(&rsw.Version.Build)
		r.skip(1) // render flag
	case v.AtLeast(2, 2):
		var build uint8
		r.read(&build)
		rsw.Version.Build = uint32(build)
	}
	v = rsw.Version

	rsw.IniFile = r.str(rswFileNameSize)
	rsw.GndFile = r.str(rswFileNameSize)
	if v.AtLeast(1, 4) {
		rsw.GatFile = r.str(rswFileNameSize)
		rsw.SrcFile = r.str(rswFileNameSize)
	}

	// Water moved to the ground file in 2.6.
	if v.AtLeast(1, 3) && !v.AtLeast(2, 6) {
		r.skip(6 * 4)
	}
	if v.AtLeast(1, 5) {
		r.skip(2*4 + 6*4) // sun angles, diffuse, ambient
	}
	if v.AtLeast(1, 7) {
		r.skip(4) // shadow opacity
	}
	if v.AtLeast(1, 6) {
		r.skip(4 * 4) // ground bounds
	}

	n := r.count("objects", rswMaxObjects)
	for i := 0; i < n && r.err == nil; i++ {
		var kind RSWObjectType
		r.read(&kind)
		switch kind {
		case RSWObjectModel:
			rsw.Models = append(rsw.Models, parseRSWModel(r, v))
		case RSWObjectLight:
			r.skip(rswLightSize)
		case RSWObjectSound:
			size := int64(rswSoundBaseSize)
			if v.AtLeast(2, 0) {
				size += 4 // cycle
			}
			r.skip(size)
		case RSWObjectEffect:
			r.skip(rswEffectSize)
		default:
			if r.err == nil {
				r.err = fmt.Errorf("%w: %d at object %d", ErrUnknownObjectType, kind, i)
			}
		}
		if kind != RSWObjectModel && r.err == nil {
			rsw.Skipped[kind]++
		}
	}
	// A quadtree follows from 2.1 on; nothing here needs it.

	if r.err != nil {
		return nil, r.err
	}
	return rsw, nil
}

func parseRSWModel(r *reader, v RSWVersion) RSWModel {
	var m RSWModel
	m.Name = r.str(rswObjectName)
	r.read(&m.AnimType)
	r.read(&m.AnimSpeed)
	r.read(&m.BlockType)
	if v.AtLeast(2, 6) && v.Build >= 162 {
		r.skip(1) // collision flags
	}
	m.ModelName = r.str(rswLongNameSize)
	m.NodeName = r.str(rswLongNameSize)
	r.read(&m.Position)
	r.read(&m.Rotation)
	r.read(&m.Scale)
	return m
}

// ParseRSWFile parses a world file from disk.
func ParseRSWFile(path string) (*RSW, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading RSW file: %w", err)
	}
	return ParseRSW(data)
}

// MarshalBinary encodes the world with its model placements in the layout
// ParseRSW reads for its version. Global settings are written as zeros and
// skipped objects are not written.
func (rsw *RSW) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	w := func(v any) { _ = binary.Write(&buf, binary.LittleEndian, v) }
	str := func(s string, n int) { buf.Write(encoding.UTF8ToFixedString(s, n)) }
	v := rsw.Version

	buf.WriteString("GRSW")
	buf.WriteByte(v.Major)
	buf.WriteByte(v.Minor)
	switch {
	case v.AtLeast(2, 5):
		w(v.Build)
		buf.WriteByte(0)
	case v.AtLeast(2, 2):
		buf.WriteByte(uint8(v.Build))
	}

	str(rsw.IniFile, rswFileNameSize)
	str(rsw.GndFile, rswFileNameSize)
	if v.AtLeast(1, 4) {
		str(rsw.GatFile, rswFileNameSize)
		str(rsw.SrcFile, rswFileNameSize)
	}
	var settings int
	if v.AtLeast(1, 3) && !v.AtLeast(2, 6) {
		settings += 6 * 4
	}
	if v.AtLeast(1, 5) {
		settings += 8 * 4
	}
	if v.AtLeast(1, 7) {
		settings += 4
	}
	if v.AtLeast(1, 6) {
		settings += 4 * 4
	}
	buf.Write(make([]byte, settings))

	w(int32(len(rsw.Models)))
	for _, m := range rsw.Models {
		w(RSWObjectModel)
		str(m.Name, rswObjectName)
		w(m.AnimType)
		w(m.AnimSpeed)
		w(m.BlockType)
		if v.AtLeast(2, 6) && v.Build >= 162 {
			buf.WriteByte(0)
		}
		str(m.ModelName, rswLongNameSize)
		str(m.NodeName, rswLongNameSize)
		w(m.Position)
		w(m.Rotation)
		w(m.Scale)
	}
	return buf.Bytes(), nil
}
