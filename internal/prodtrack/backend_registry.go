package prodtrack

import (
	"strings"
	"sync"
)

type CacheBackendFactory func(dsn string) (CacheBackend, error)

var backendFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]CacheBackendFactory
}{
	factories: map[string]CacheBackendFactory{},
}

// RegisterCacheBackendFactory installs a factory for a custom DSN scheme,
// overriding the built-in resolution for that scheme.
func RegisterCacheBackendFactory(scheme string, factory CacheBackendFactory) {
	scheme = normalizeBackendScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	backendFactoryRegistry.mu.Lock()
	defer backendFactoryRegistry.mu.Unlock()
	backendFactoryRegistry.factories[scheme] = factory
}

func lookupCacheBackendFactory(scheme string) (CacheBackendFactory, bool) {
	scheme = normalizeBackendScheme(scheme)
	backendFactoryRegistry.mu.RLock()
	defer backendFactoryRegistry.mu.RUnlock()
	factory, ok := backendFactoryRegistry.factories[scheme]
	return factory, ok
}

func normalizeBackendScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
