package scene

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-vk/internal/gpu"
	"github.com/Faultbox/midgard-vk/internal/guid"
	"github.com/Faultbox/midgard-vk/internal/logger"
)

// Importer parses an asset into a Source.
type Importer interface {
	Import(ref string) (*Source, error)
}

// ManagerConfig wires a Manager to its collaborators. Textures and Retirer
// are optional.
type ManagerConfig struct {
	Device   gpu.Device
	Uploader Uploader
	Importer Importer
	Textures TextureLoader
	IDs      guid.Generator
	Retirer  Retirer
}

// ManagerStats counts cache activity.
type ManagerStats struct {
	Loads    int
	Failures int
	Hits     int
	Misses   int
}

type cacheEntry struct {
	ref   string
	model *Model
}

// Manager maps identifiers to GPU-resident Models, one per source asset.
//
// The manager is driven from the frame loop thread and does no locking.
type Manager struct {
	cfg ManagerConfig
	log *zap.Logger

	models map[guid.ID]*cacheEntry
	byRef  map[string]guid.ID
	stats  ManagerStats

	// Unloaded models whose release waits on in-flight frames, by ref.
	retiring map[string]*cacheEntry
}

// NewManager validates cfg and returns an empty cache.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	switch {
	case cfg.Device == nil:
		return nil, errors.New("scene: manager needs a device")
	case cfg.Uploader == nil:
		return nil, errors.New("scene: manager needs an uploader")
	case cfg.Importer == nil:
		return nil, errors.New("scene: manager needs an importer")
	case cfg.IDs == nil:
		return nil, errors.New("scene: manager needs an id generator")
	}
	return &Manager{
		cfg:    cfg,
		log:    logger.Named("scene"),
		models:   make(map[guid.ID]*cacheEntry),
		byRef:    make(map[string]guid.ID),
		retiring: make(map[string]*cacheEntry),
	}, nil
}

// Load imports ref, uploads it and caches the result. A ref that is already
// cached returns its existing ID. Failures are logged and return guid.Invalid.
func (m *Manager) Load(ref string) guid.ID {
	id, err := m.LoadErr(ref)
	if err != nil {
		m.log.Error("model load failed", zap.String("ref", ref), zap.Error(err))
		return guid.Invalid
	}
	return id
}

// LoadErr is Load with the failure returned instead of logged.
func (m *Manager) LoadErr(ref string) (guid.ID, error) {
	if id, ok := m.byRef[ref]; ok {
		m.stats.Hits++
		return id, nil
	}
	if e, ok := m.retiring[ref]; ok {
		delete(m.retiring, ref)
		id := m.nextID()
		m.models[id] = e
		m.byRef[ref] = id
		m.stats.Hits++
		m.log.Debug("model adopted again before release", zap.String("ref", ref), zap.Stringer("id", id))
		return id, nil
	}

	src, err := m.cfg.Importer.Import(ref)
	if err != nil {
		m.stats.Failures++
		return guid.Invalid, fmt.Errorf("%w: %s: %w", ErrLoadFailed, ref, err)
	}
	if src.Name == "" {
		src.Name = ref
	}

	model, err := BuildModel(src, m.cfg.Textures, m.log)
	if err != nil {
		m.stats.Failures++
		return guid.Invalid, fmt.Errorf("%w: %s: %w", ErrLoadFailed, ref, err)
	}
	if err := model.InitWithMeshData(m.cfg.Device, m.cfg.Uploader); err != nil {
		model.Destroy()
		m.stats.Failures++
		return guid.Invalid, fmt.Errorf("%w: %s: %w", ErrLoadFailed, ref, err)
	}
	if m.cfg.Retirer != nil {
		model.SetRetirer(m.cfg.Retirer)
	}

	id := m.nextID()
	m.models[id] = &cacheEntry{ref: ref, model: model}
	m.byRef[ref] = id
	m.stats.Loads++

	m.log.Info("model loaded",
		zap.String("ref", ref),
		zap.Stringer("id", id),
		zap.Int("meshes", len(model.Meshes())),
		zap.Int("vertices", model.VertexCount()),
		zap.Int("indices", model.IndexCount()))
	return id, nil
}

func (m *Manager) nextID() guid.ID {
	id := m.cfg.IDs.Next()
	for {
		if _, taken := m.models[id]; !taken && id.Valid() {
			return id
		}
		id = m.cfg.IDs.Next()
	}
}

// Get returns the cached model. An unknown id is a logged miss; Get never loads.
// The returned model is borrowed: it stays valid until Unload or Destroy, and
// callers that keep it longer must use Acquire.
func (m *Manager) Get(id guid.ID) (*Model, bool) {
	e, ok := m.models[id]
	if !ok {
		m.stats.Misses++
		m.log.Warn("model cache miss", zap.Stringer("id", id))
		return nil, false
	}
	m.stats.Hits++
	return e.model, true
}

// Acquire returns the cached model with an added reference the caller must Release.
func (m *Manager) Acquire(id guid.ID) (*Model, error) {
	model, ok := m.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, id)
	}
	return model.Retain(), nil
}

// Ref returns the asset reference a model was loaded from.
func (m *Manager) Ref(id guid.ID) (string, bool) {
	e, ok := m.models[id]
	if !ok {
		return "", false
	}
	return e.ref, true
}

// Unload drops the cache's reference to a model. It reports whether id was cached.
//
// With a Retirer the reference is dropped once frames recorded so far have
// completed. A Load of the same ref before then adopts the model again under
// a new id instead of uploading a second copy.
func (m *Manager) Unload(id guid.ID) bool {
	e, ok := m.models[id]
	if !ok {
		return false
	}
	delete(m.models, id)
	delete(m.byRef, e.ref)
	m.log.Debug("model unloaded", zap.String("ref", e.ref), zap.Stringer("id", id))

	if m.cfg.Retirer == nil {
		e.model.Release()
		return true
	}
	m.retiring[e.ref] = e
	m.cfg.Retirer.Defer(func() {
		if m.retiring[e.ref] != e {
			return
		}
		delete(m.retiring, e.ref)
		e.model.Release()
	})
	return true
}

// IDs returns the cached identifiers in no particular order.
func (m *Manager) IDs() []guid.ID {
	ids := make([]guid.ID, 0, len(m.models))
	for id := range m.models {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of cached models.
func (m *Manager) Len() int { return len(m.models) }

// Stats returns cache counters.
func (m *Manager) Stats() ManagerStats { return m.stats }

// Destroy drops the cache's reference to every model, including unloaded ones
// still waiting on in-flight frames.
func (m *Manager) Destroy() {
	for id, e := range m.models {
		delete(m.models, id)
		delete(m.byRef, e.ref)
		e.model.Release()
	}
	for ref, e := range m.retiring {
		delete(m.retiring, ref)
		e.model.Release()
	}
}
