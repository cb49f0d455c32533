package watch

import (
	"sync"
	"time"
)

// DefaultBackoff is the retry schedule for failed files: one delay per
// attempt already made. After the schedule is exhausted the file is
// excluded from automatic retry until its content changes again.
var DefaultBackoff = []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}

type fileRetry struct {
	attempts int
	size     int64
	modTime  time.Time
}

// RetryCoordinator tracks per-file failure counts and backoff. It is an
// explicitly owned object injected into the watcher; there is no ambient
// global state.
type RetryCoordinator struct {
	mu      sync.Mutex
	files   map[string]*fileRetry
	backoff []time.Duration
}

// NewRetryCoordinator creates a coordinator with the given backoff
// schedule (DefaultBackoff when nil).
func NewRetryCoordinator(backoff []time.Duration) *RetryCoordinator {
	if len(backoff) == 0 {
		backoff = DefaultBackoff
	}
	return &RetryCoordinator{
		files:   make(map[string]*fileRetry),
		backoff: backoff,
	}
}

// NoteObserved records the file's current shape. A size or mtime change
// since the last failure resets the attempt counter, making the file
// eligible for retry again.
func (c *RetryCoordinator) NoteObserved(path string, size int64, modTime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fr, ok := c.files[path]
	if !ok {
		return
	}
	if fr.size != size || !fr.modTime.Equal(modTime) {
		delete(c.files, path)
	}
}

// NoteSuccess clears any retry bookkeeping for the file.
func (c *RetryCoordinator) NoteSuccess(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.files, path)
}

// NoteFailure records a failed attempt and returns the delay before the
// next retry. The second return is false when retries are exhausted.
func (c *RetryCoordinator) NoteFailure(path string, size int64, modTime time.Time) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fr, ok := c.files[path]
	if !ok {
		fr = &fileRetry{}
		c.files[path] = fr
	}
	fr.size = size
	fr.modTime = modTime

	if fr.attempts >= len(c.backoff) {
		return 0, false
	}
	delay := c.backoff[fr.attempts]
	fr.attempts++
	return delay, true
}

// Excluded reports whether the file has exhausted its retries without a
// content change since.
func (c *RetryCoordinator) Excluded(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	fr, ok := c.files[path]
	return ok && fr.attempts >= len(c.backoff)
}
