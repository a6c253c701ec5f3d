package tree

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hlibstrochkovskyi/monolith-agent-editor/internal/workspace"
)

// skipDirs are directories never worth watching.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".idea":        true,
	".vscode":      true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
	"target":       true,
}

// Watcher feeds external filesystem changes into a Store. Raw events
// are debounced and coalesced per parent folder, so a burst of writes
// to one directory costs a single refresh.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	guard     workspace.Guard
	store     *Store
	debounce  time.Duration
	logger    *log.Logger

	mu      sync.Mutex
	pending map[string]time.Time // parent folder (rel) -> last event time
	done    chan struct{}
	closeFn sync.Once
}

func NewWatcher(guard workspace.Guard, store *Store, debounce time.Duration, logger *log.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &Watcher{
		fsWatcher: fsw,
		guard:     guard,
		store:     store,
		debounce:  debounce,
		logger:    logger,
		pending:   make(map[string]time.Time),
		done:      make(chan struct{}),
	}, nil
}

// Start registers the workspace directories and begins processing
// events until Stop is called.
func (w *Watcher) Start() error {
	if err := w.addDirectories(); err != nil {
		return err
	}
	go w.processEvents()
	go w.processDebounce()
	return nil
}

func (w *Watcher) Stop() error {
	w.closeFn.Do(func() { close(w.done) })
	return w.fsWatcher.Close()
}

func (w *Watcher) addDirectories() error {
	return filepath.Walk(w.guard.Root(), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if skipDirs[info.Name()] {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(path); err != nil && w.logger != nil {
			w.logger.Printf("watch %s: %v", path, err)
		}
		return nil
	})
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Printf("watch error: %v", err)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") || strings.HasPrefix(base, "#") {
		return
	}

	// Newly created directories join the watch set so changes inside
	// them are seen too.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !skipDirs[info.Name()] {
			_ = w.fsWatcher.Add(event.Name)
		}
	}

	rel := w.guard.Rel(event.Name)
	parent := parentOf(rel)
	w.mu.Lock()
	w.pending[parent] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processDebounce() {
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.flushPending()
		}
	}
}

// flushPending refreshes every folder whose events have gone quiet for
// a full debounce window. Folders still receiving events keep waiting.
func (w *Watcher) flushPending() {
	w.mu.Lock()
	now := time.Now()
	var stable []string
	for dir, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			stable = append(stable, dir)
			delete(w.pending, dir)
		}
	}
	w.mu.Unlock()

	for _, dir := range stable {
		if err := w.store.Refresh(dir); err != nil && w.logger != nil {
			w.logger.Printf("refresh %s: %v", dir, err)
		}
	}
}
