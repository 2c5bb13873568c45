package prodtrack

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Only URLs pointing at the deployed Apps Script endpoint count as
// configured; anything else (including the placeholder shipped in sample
// config) leaves the gateway disabled.
const sheetsURLPrefix = "https://script.google.com"

const sheetsURLPlaceholder = "EXAMPLE_URL"

// UsableSheetsURL reports whether url is a usable sync endpoint.
func UsableSheetsURL(url string) bool {
	url = strings.TrimSpace(url)
	if !strings.HasPrefix(url, sheetsURLPrefix) {
		return false
	}
	return !strings.Contains(url, sheetsURLPlaceholder)
}

// SheetsURLSource resolves the active sync endpoint: a per-device override
// file wins over the configured default. The override file is watched, so
// pointing a device at a different deployment takes effect without a
// restart.
type SheetsURLSource struct {
	defaultURL   string
	overridePath string
	logger       Logger

	mu       sync.RWMutex
	override string

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewSheetsURLSource(defaultURL, overridePath string, logger Logger) *SheetsURLSource {
	s := &SheetsURLSource{
		defaultURL:   strings.TrimSpace(defaultURL),
		overridePath: strings.TrimSpace(overridePath),
		logger:       logger,
		done:         make(chan struct{}),
	}
	s.reload()
	s.startWatcher()
	return s
}

// Active returns the endpoint to sync against, or "" when neither the
// override nor the default is usable.
func (s *SheetsURLSource) Active() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	override := s.override
	s.mu.RUnlock()
	if UsableSheetsURL(override) {
		return override
	}
	if UsableSheetsURL(s.defaultURL) {
		return s.defaultURL
	}
	return ""
}

func (s *SheetsURLSource) Close() error {
	if s == nil {
		return nil
	}
	close(s.done)
	var err error
	if s.watcher != nil {
		err = s.watcher.Close()
	}
	s.wg.Wait()
	return err
}

func (s *SheetsURLSource) reload() {
	if s.overridePath == "" {
		return
	}
	url := readFirstLine(s.overridePath)
	s.mu.Lock()
	s.override = url
	s.mu.Unlock()
}

func (s *SheetsURLSource) startWatcher() {
	if s.overridePath == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logf("sheets URL watcher unavailable: %v", err)
		return
	}
	// Watch the directory, not the file: editors and atomic writers
	// replace the file, which would drop a direct watch.
	dir := filepath.Dir(s.overridePath)
	if err := watcher.Add(dir); err != nil {
		s.logf("sheets URL watch failed for %s: %v", dir, err)
		_ = watcher.Close()
		return
	}
	s.watcher = watcher
	s.wg.Add(1)
	go s.watchLoop()
}

func (s *SheetsURLSource) watchLoop() {
	defer s.wg.Done()
	target := filepath.Clean(s.overridePath)
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				s.reload()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logf("sheets URL watcher error: %v", err)
		}
	}
}

func (s *SheetsURLSource) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

func readFirstLine(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			return line
		}
	}
	return ""
}
