package prodtrack

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildCacheBackendFromDSN resolves a cache backend from a DSN:
//
//	file://path/to/cache.json   JSON file (also the default for bare paths)
//	memory://                   in-process only
//	postgres://...              shared Postgres snapshot table
//
// An empty DSN yields a nil backend (cache lives in memory, nothing
// persisted).
func BuildCacheBackendFromDSN(dsn string) (CacheBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeBackendScheme(parsed.Scheme)
	if factory, ok := lookupCacheBackendFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path := strings.TrimPrefix(dsn, "file://")
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("cache backend DSN has no path: %s", dsn)
		}
		return NewJSONFileCacheBackend(path), nil
	case "memory", "mem", "inmem":
		return NewInMemoryCacheBackend(), nil
	case "postgres", "postgresql":
		return NewPostgresCacheBackend(dsn)
	default:
		return nil, fmt.Errorf("unsupported cache backend scheme: %s", scheme)
	}
}
