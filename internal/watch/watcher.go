// Package watch observes session log directories and feeds changed files
// through the ingestion orchestrator, with bounded retry for failures.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/convolog/ingestd/internal/domain"
	"github.com/convolog/ingestd/internal/ingest"
)

// Config tunes the watcher.
type Config struct {
	Dirs           []string
	RescanInterval time.Duration // periodic directory rescan; catches missed events
	Debounce       time.Duration // settle time after a file event before ingesting
	Workers        int           // parallel ingestion workers
}

// Watcher tails session log directories. Files are discovered three ways:
// a one-time backfill walk at startup, fsnotify events, and a periodic
// rescan. All three funnel into the same worker pool, and every file goes
// through the orchestrator, which decides cheaply whether anything changed.
type Watcher struct {
	cfg  Config
	orch *ingest.Orchestrator
	rc   *RetryCoordinator

	queue  chan string
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	debounce map[string]*time.Timer
	lastSeen map[string]fileStamp
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

// New creates a watcher over the given orchestrator.
func New(cfg Config, orch *ingest.Orchestrator, rc *RetryCoordinator) *Watcher {
	if cfg.RescanInterval <= 0 {
		cfg.RescanInterval = 30 * time.Second
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if rc == nil {
		rc = NewRetryCoordinator(nil)
	}
	return &Watcher{
		cfg:      cfg,
		orch:     orch,
		rc:       rc,
		queue:    make(chan string, 1024),
		stopCh:   make(chan struct{}),
		debounce: make(map[string]*time.Timer),
		lastSeen: make(map[string]fileStamp),
	}
}

// Start runs the watcher until the context is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	log.Info().
		Strs("dirs", w.cfg.Dirs).
		Int("workers", w.cfg.Workers).
		Dur("rescan_interval", w.cfg.RescanInterval).
		Msg("Starting session log watcher")

	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go w.worker(ctx, i)
	}

	// Backfill: every existing file goes through the orchestrator once.
	// Already-ingested files come back as skipped, which is cheap.
	w.rescan()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	for _, dir := range w.cfg.Dirs {
		w.addDirs(fsw, dir)
	}

	ticker := time.NewTicker(w.cfg.RescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case <-w.stopCh:
			w.drain()
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				w.drain()
				return nil
			}
			w.handleEvent(fsw, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				w.drain()
				return nil
			}
			log.Warn().Err(err).Msg("Watcher error")
		case <-ticker.C:
			w.rescan()
		}
	}
}

// Stop stops the watcher and waits for in-flight work to finish.
func (w *Watcher) Stop() {
	close(w.stopCh)
}

func (w *Watcher) drain() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	close(w.queue)
	w.wg.Wait()
}

func (w *Watcher) worker(ctx context.Context, id int) {
	defer w.wg.Done()
	for path := range w.queue {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.process(ctx, path)
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil {
		// Deleted between discovery and processing.
		log.Debug().Err(err).Str("file", path).Msg("File vanished before ingestion")
		return
	}
	w.rc.NoteObserved(path, info.Size(), info.ModTime())
	if w.rc.Excluded(path) {
		log.Debug().Str("file", path).Msg("File excluded after exhausted retries, waiting for content change")
		return
	}

	job, err := w.orch.Run(ctx, ingest.Request{Path: path, Source: domain.SourceWatch})
	if err == nil && job.Status != domain.StatusFailed {
		w.rc.NoteSuccess(path)
		return
	}

	delay, ok := w.rc.NoteFailure(path, info.Size(), info.ModTime())
	if !ok {
		log.Warn().
			Str("file", path).
			Msg("Retries exhausted, excluding file until its content changes")
		return
	}

	log.Warn().
		Str("file", path).
		Dur("retry_delay", delay).
		Msg("Ingestion failed, scheduling retry")
	time.AfterFunc(delay, func() {
		w.enqueue(path)
	})
}

func (w *Watcher) enqueue(path string) {
	// Non-blocking send under the mutex: drain marks closed before closing
	// the channel, so a late retry timer cannot hit a closed queue.
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- path:
	default:
		log.Warn().Str("file", path).Msg("Watch queue full, dropping event until next rescan")
	}
}

// handleEvent debounces file events: agents write transcripts in bursts,
// and one ingestion per burst is enough.
func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.addDirs(fsw, event.Name)
			return
		}
	}
	if !isSessionLog(event.Name) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounce[event.Name]; ok {
		t.Stop()
	}
	path := event.Name
	w.debounce[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.debounce, path)
		w.mu.Unlock()
		w.enqueue(path)
	})
}

// rescan walks the configured directories and enqueues files that are new
// or whose size/mtime changed since the last scan.
func (w *Watcher) rescan() {
	for _, dir := range w.cfg.Dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("Error accessing path")
				return nil
			}
			if d.IsDir() {
				if skipDir(d.Name(), path, dir) {
					return filepath.SkipDir
				}
				return nil
			}
			if !isSessionLog(path) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return nil
			}
			stamp := fileStamp{size: info.Size(), modTime: info.ModTime()}

			w.mu.Lock()
			prev, seen := w.lastSeen[path]
			w.lastSeen[path] = stamp
			w.mu.Unlock()

			if !seen || prev != stamp {
				w.enqueue(path)
			}
			return nil
		})
		if err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("Failed to rescan directory")
		}
	}
}

// addDirs registers a directory tree with fsnotify, skipping hidden and
// system directories.
func (w *Watcher) addDirs(fsw *fsnotify.Watcher, root string) {
	count := 0
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if skipDir(d.Name(), path, root) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			log.Warn().Err(err).Str("dir", path).Msg("Failed to watch directory")
			return nil
		}
		count++
		return nil
	})
	log.Debug().Str("root", root).Int("dirs", count).Msg("Watching directory tree")
}

func skipDir(name, path, root string) bool {
	if path == root {
		return false
	}
	return strings.HasPrefix(name, ".") || name == "node_modules"
}

func isSessionLog(path string) bool {
	return strings.HasSuffix(path, ".jsonl")
}
