//go:build darwin

package hotreload

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Watcher watches a set of NE image files for changes via kqueue and
// invokes onReload, debounced, after each write completes.
type Watcher struct {
	kq          int
	watchMap    map[int]string
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	onReload    ReloadFunc
	log         *slog.Logger
}

// New creates a Watcher backed by a kqueue instance.
func New(onReload ReloadFunc, log *slog.Logger) (*Watcher, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("hotreload: kqueue: %w", err)
	}
	return &Watcher{
		kq:          kq,
		watchMap:    make(map[int]string),
		debounceMap: make(map[string]*time.Timer),
		onReload:    onReload,
		log:         log,
	}, nil
}

// AddFile begins watching path for modifications.
func (w *Watcher) AddFile(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	fd, err := unix.Open(absPath, unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("hotreload: open %s: %w", absPath, err)
	}
	event := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_VNODE,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
		Fflags: unix.NOTE_WRITE | unix.NOTE_ATTRIB,
	}
	if _, err := unix.Kevent(w.kq, []unix.Kevent_t{event}, nil, nil); err != nil {
		unix.Close(fd)
		return fmt.Errorf("hotreload: kevent add for %s: %w", absPath, err)
	}
	w.mu.Lock()
	w.watchMap[fd] = absPath
	w.mu.Unlock()
	return nil
}

// Run blocks, dispatching debounced reloads until the watcher's
// kqueue descriptor is closed.
func (w *Watcher) Run() {
	events := make([]unix.Kevent_t, 10)

	for {
		n, err := unix.Kevent(w.kq, nil, events, nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if w.log != nil {
				w.log.Error("kevent wait failed", "err", err)
			}
			return
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Ident)
			w.mu.Lock()
			path := w.watchMap[fd]
			w.mu.Unlock()
			if path != "" {
				w.debouncedReload(path)
			}
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

// Close releases every open file descriptor and the kqueue itself.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for fd := range w.watchMap {
		unix.Close(fd)
	}
	return unix.Close(w.kq)
}
