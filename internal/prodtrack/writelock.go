package prodtrack

import (
	"sync"
	"time"
)

// DefaultWriteLockWindow is the safety buffer after a local mutation during
// which pull-sync is suppressed, giving the mirrored write time to reach the
// remote store before a pull could clobber it.
const DefaultWriteLockWindow = 45 * time.Second

// WriteLock tracks the time of the most recent local mutation. It is owned
// by the storage service; nothing else writes it.
type WriteLock struct {
	mu     sync.Mutex
	window time.Duration
	last   time.Time
}

func NewWriteLock(window time.Duration) *WriteLock {
	if window <= 0 {
		window = DefaultWriteLockWindow
	}
	return &WriteLock{window: window}
}

// Mark records now as the last local mutation time.
func (l *WriteLock) Mark(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last = now
}

// Locked reports whether now is still inside the safety window after the
// last recorded mutation.
func (l *WriteLock) Locked(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last.IsZero() {
		return false
	}
	return now.Sub(l.last) < l.window
}

// Last returns the last recorded mutation time (zero if none).
func (l *WriteLock) Last() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Restore seeds the tracker from a persisted epoch-milliseconds value so a
// restart does not forget a just-finished edit.
func (l *WriteLock) Restore(epochMs int64) {
	if epochMs <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last = time.UnixMilli(epochMs)
}
