// Package assets resolves asset paths to bytes from loose directories and
// GRF archives, caching what it reads.
package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-vk/internal/logger"
	"github.com/Faultbox/midgard-vk/pkg/encoding"
	"github.com/Faultbox/midgard-vk/pkg/grf"
)

// Lookup errors.
var (
	ErrNotFound    = errors.New("assets: file not found")
	ErrInvalidPath = errors.New("assets: path escapes asset root")
)

// Manager loads files from directory roots and GRF archives. Roots are
// searched before archives; within each kind the last added wins.
type Manager struct {
	roots    []string
	archives []*grf.Archive
	cache    *Cache
	mu       sync.RWMutex
	log      *zap.Logger
}

// NewManager creates an empty asset manager.
func NewManager() *Manager {
	return &Manager{
		cache: NewCache(),
		log:   logger.Named("assets"),
	}
}

// Open builds a manager from directory roots and archive paths.
func Open(roots, archives []string) (*Manager, error) {
	m := NewManager()
	for _, r := range roots {
		if err := m.AddRoot(r); err != nil {
			m.Close()
			return nil, err
		}
	}
	for _, a := range archives {
		if err := m.AddArchive(a); err != nil {
			m.Close()
			return nil, err
		}
	}
	return m, nil
}

// AddRoot adds a directory to search.
func (m *Manager) AddRoot(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("adding root %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("adding root %s: not a directory", dir)
	}

	m.mu.Lock()
	m.roots = append(m.roots, dir)
	m.mu.Unlock()

	m.log.Info("asset root added", zap.String("dir", dir))
	return nil
}

// AddArchive opens a GRF archive and adds it to the search list.
func (m *Manager) AddArchive(path string) error {
	archive, err := grf.Open(path)
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", path, err)
	}

	m.mu.Lock()
	m.archives = append(m.archives, archive)
	m.mu.Unlock()

	m.log.Info("archive added", zap.String("path", path), zap.Int("files", archive.Len()))
	return nil
}

// Load returns the contents of name. Callers must not modify the slice; it
// is shared with the cache.
func (m *Manager) Load(name string) ([]byte, error) {
	key, err := cleanPath(name)
	if err != nil {
		return nil, err
	}

	if data, ok := m.cache.Get(key); ok {
		return data, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.roots) - 1; i >= 0; i-- {
		data, err := readRoot(m.roots[i], name, key)
		if err == nil {
			m.cache.Set(key, data)
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
	}

	for i := len(m.archives) - 1; i >= 0; i-- {
		if !m.archives[i].Contains(key) {
			continue
		}
		data, err := m.archives[i].Read(key)
		if err != nil {
			return nil, err
		}
		m.cache.Set(key, data)
		return data, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Exists reports whether name resolves, without reading it.
func (m *Manager) Exists(name string) bool {
	key, err := cleanPath(name)
	if err != nil {
		return false
	}
	if _, ok := m.cache.Peek(key); ok {
		return true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.roots {
		for _, p := range []string{name, key} {
			if _, err := os.Stat(filepath.Join(r, filepath.FromSlash(slashes(p)))); err == nil {
				return true
			}
		}
	}
	for _, a := range m.archives {
		if a.Contains(key) {
			return true
		}
	}
	return false
}

// CacheStats returns cache hit and miss counts.
func (m *Manager) CacheStats() (hits, misses int) {
	return m.cache.Stats()
}

// Close closes all archives and drops the cache.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, archive := range m.archives {
		if err := archive.Close(); err != nil {
			m.log.Warn("closing archive", zap.Error(err))
		}
	}
	m.archives = nil
	m.roots = nil
	m.cache.Clear()
}

// readRoot tries the path as given, then its normalized form, so lookups
// work on case-sensitive filesystems for lowercase trees.
func readRoot(root, name, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(slashes(name))))
	if errors.Is(err, fs.ErrNotExist) && key != slashes(name) {
		data, err = os.ReadFile(filepath.Join(root, filepath.FromSlash(key)))
	}
	return data, err
}

func cleanPath(name string) (string, error) {
	key := path.Clean(encoding.NormalizePath(name))
	if key == "." || key == ".." || strings.HasPrefix(key, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return key, nil
}

func slashes(p string) string {
	return strings.TrimLeft(strings.ReplaceAll(p, "\\", "/"), "/")
}
