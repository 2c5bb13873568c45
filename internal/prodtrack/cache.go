package prodtrack

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// The local cache is a key-value snapshot: one JSON-serialized value per
// logical table plus two scalar fields. The key names are the original
// device-storage keys and double as the persisted layout, so a cache file is
// readable next to a browser export of the same data.
const (
	CacheKeyUsers      = "halagel_users"
	CacheKeyProduction = "halagel_production"
	CacheKeyOffDays    = "halagel_off_days"
	CacheKeyLogs       = "halagel_activity_logs"
	CacheKeySession    = "halagel_current_user_session"
	CacheKeyLastWrite  = "halagel_last_write_timestamp"
)

type cacheSnapshot map[string]json.RawMessage

func (s cacheSnapshot) clone() cacheSnapshot {
	out := make(cacheSnapshot, len(s))
	for k, v := range s {
		cp := make(json.RawMessage, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// CacheBackend persists whole cache snapshots. Implementations must treat a
// missing snapshot as (nil, nil) rather than an error.
type CacheBackend interface {
	Load() (cacheSnapshot, error)
	Save(snapshot cacheSnapshot) error
}

type cacheBackendCloser interface {
	Close() error
}

// Cache holds the working snapshot in memory and writes through to its
// backend on every mutation. It does pure read/write only; normalization,
// fallbacks and merge policy live in the storage service.
type Cache struct {
	mu      sync.RWMutex
	backend CacheBackend
	snap    cacheSnapshot
	logger  Logger
}

func NewCache(backend CacheBackend, logger Logger) *Cache {
	c := &Cache{
		backend: backend,
		snap:    cacheSnapshot{},
		logger:  logger,
	}
	if backend != nil {
		snap, err := backend.Load()
		switch {
		case err != nil:
			// A corrupt snapshot is recovered by starting empty; the
			// service layer re-seeds defaults on read.
			c.logf("cache load failed, starting empty: %v", err)
		case snap != nil:
			c.snap = snap
		}
	}
	return c
}

func (c *Cache) Get(key string) json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.snap[key]
	if !ok {
		return nil
	}
	cp := make(json.RawMessage, len(value))
	copy(cp, value)
	return cp
}

func (c *Cache) Set(key string, value json.RawMessage) {
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make(json.RawMessage, len(value))
	copy(cp, value)
	c.snap[key] = cp
	c.persistLocked()
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snap, key)
	c.persistLocked()
}

func (c *Cache) persistLocked() {
	if c.backend == nil {
		return
	}
	if err := c.backend.Save(c.snap.clone()); err != nil {
		c.logf("cache persist failed: %v", err)
	}
}

func (c *Cache) Close() error {
	if closer, ok := c.backend.(cacheBackendCloser); ok {
		return closer.Close()
	}
	return nil
}

func (c *Cache) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}

// JSONFileCacheBackend stores the snapshot as one JSON document on disk,
// written atomically via rename.
type JSONFileCacheBackend struct {
	Path string
}

func NewJSONFileCacheBackend(path string) *JSONFileCacheBackend {
	return &JSONFileCacheBackend{Path: strings.TrimSpace(path)}
}

func (b *JSONFileCacheBackend) Load() (cacheSnapshot, error) {
	if b == nil || strings.TrimSpace(b.Path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var snap cacheSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (b *JSONFileCacheBackend) Save(snapshot cacheSnapshot) error {
	if b == nil || strings.TrimSpace(b.Path) == "" || snapshot == nil {
		return nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := b.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.Path)
}

// InMemoryCacheBackend keeps the snapshot in process memory. Used by tests
// and the memory:// DSN.
type InMemoryCacheBackend struct {
	mu   sync.Mutex
	snap cacheSnapshot
}

func NewInMemoryCacheBackend() *InMemoryCacheBackend {
	return &InMemoryCacheBackend{}
}

func (b *InMemoryCacheBackend) Load() (cacheSnapshot, error) {
	if b == nil {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snap == nil {
		return nil, nil
	}
	return b.snap.clone(), nil
}

func (b *InMemoryCacheBackend) Save(snapshot cacheSnapshot) error {
	if b == nil || snapshot == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snap = snapshot.clone()
	return nil
}
