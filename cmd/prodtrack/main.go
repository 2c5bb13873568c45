package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/halagel/prodtrack/internal/httpapi"
	"github.com/halagel/prodtrack/internal/prodtrack"
)

func main() {
	// A missing .env is fine; environment variables win either way.
	_ = godotenv.Load()

	addr := os.Getenv("PRODTRACK_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	dataDir := strings.TrimSpace(os.Getenv("PRODTRACK_DATA_DIR"))
	if dataDir == "" {
		dataDir = ".prodtrack"
	}

	backend, err := prodtrack.BuildCacheBackendFromDSN(cacheDSNFromEnv(dataDir))
	if err != nil {
		log.Fatalf("failed to initialize cache backend: %v", err)
	}
	cache := prodtrack.NewCache(backend, log.Default())

	urlSource := prodtrack.NewSheetsURLSource(
		os.Getenv("PRODTRACK_SHEETS_URL"),
		sheetsURLFileFromEnv(dataDir),
		log.Default(),
	)
	defer urlSource.Close()

	gateway := prodtrack.NewSheetsGatewayWithOptions(urlSource.Active, prodtrack.GatewayOptions{
		Logger: log.Default(),
	})

	svc := prodtrack.NewServiceWithOptions(cache, gateway, prodtrack.ServiceOptions{
		SyncGrace:    durationEnv("PRODTRACK_SYNC_GRACE", 0),
		LockWindow:   durationEnv("PRODTRACK_WRITE_LOCK_WINDOW", 0),
		LogRetention: intEnv("PRODTRACK_LOG_RETENTION", 0),
		Logger:       log.Default(),
	})

	server := httpapi.NewServerWithConfig(svc, httpapi.ServerConfig{
		SessionSecret: os.Getenv("PRODTRACK_SESSION_SECRET"),
		SessionTTL:    durationEnv("PRODTRACK_SESSION_TTL", 0),
		MaxBodyBytes:  int64Env("PRODTRACK_MAX_BODY_BYTES", 0),
	})

	if interval := durationEnv("PRODTRACK_SYNC_INTERVAL", time.Minute); interval > 0 {
		go syncLoop(svc, interval)
	}

	log.Printf("prodtrack listening on %s (cloud sync %s)", addr, enabledWord(svc.CloudEnabled()))
	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

// syncLoop runs the periodic background sync. The enabled check happens every
// tick because the endpoint can appear or vanish at runtime via the override
// file.
func syncLoop(svc *prodtrack.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if !svc.CloudEnabled() {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		result := svc.SyncWithSheets(ctx)
		cancel()
		if result.Synced && len(result.UpdatedTables) > 0 {
			log.Printf("sync updated %s", strings.Join(result.UpdatedTables, ", "))
		}
	}
}

func cacheDSNFromEnv(dataDir string) string {
	if dsn := strings.TrimSpace(os.Getenv("PRODTRACK_CACHE_DSN")); dsn != "" {
		return dsn
	}
	return "file://" + filepath.Join(dataDir, "cache.json")
}

func sheetsURLFileFromEnv(dataDir string) string {
	if path := strings.TrimSpace(os.Getenv("PRODTRACK_SHEETS_URL_FILE")); path != "" {
		return path
	}
	return filepath.Join(dataDir, "sheets-url")
}

func enabledWord(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
