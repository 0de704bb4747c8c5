//go:build !linux && !darwin

package hotreload

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Watcher polls a set of NE image files for modification-time changes,
// the portable fallback for platforms without inotify or kqueue.
type Watcher struct {
	mu          sync.Mutex
	watchMap    map[string]time.Time
	debounceMap map[string]*time.Timer
	onReload    ReloadFunc
	log         *slog.Logger
	stopChan    chan struct{}
}

// New creates a polling Watcher.
func New(onReload ReloadFunc, log *slog.Logger) (*Watcher, error) {
	return &Watcher{
		watchMap:    make(map[string]time.Time),
		debounceMap: make(map[string]*time.Timer),
		onReload:    onReload,
		log:         log,
		stopChan:    make(chan struct{}),
	}, nil
}

// AddFile begins watching path for modifications.
func (w *Watcher) AddFile(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.watchMap[absPath] = time.Time{}
	w.mu.Unlock()
	return nil
}

// Run blocks, polling every 500ms until Close is called.
func (w *Watcher) Run() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.checkFiles()
		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) checkFiles() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.watchMap))
	for path := range w.watchMap {
		paths = append(paths, path)
	}
	w.mu.Unlock()

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		w.mu.Lock()
		lastMod := w.watchMap[path]
		w.watchMap[path] = info.ModTime()
		w.mu.Unlock()

		if !lastMod.IsZero() && info.ModTime().After(lastMod) {
			w.debouncedReload(path)
		}
	}
}

func (w *Watcher) debouncedReload(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, exists := w.debounceMap[path]; exists {
		timer.Stop()
	}
	w.debounceMap[path] = time.AfterFunc(500*time.Millisecond, func() {
		w.onReload(reload(path, w.log))
		w.mu.Lock()
		delete(w.debounceMap, path)
		w.mu.Unlock()
	})
}

// Close stops the polling loop.
func (w *Watcher) Close() error {
	close(w.stopChan)
	return nil
}
