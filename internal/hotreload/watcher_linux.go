//go:build linux

package hotreload

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// inotifyEventHeaderSize is the fixed portion of struct inotify_event
// (wd, mask, cookie, len), each a 4-byte field, before the variable
// length name.
const inotifyEventHeaderSize = 16

// Watcher watches a set of NE image files for changes via inotify and
// invokes onReload, debounced, after each write completes.
type Watcher struct {
	fd          int
	watchMap    map[int32]string
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	onReload    ReloadFunc
	log         *slog.Logger
}

// New creates a Watcher backed by an inotify instance.
func New(onReload ReloadFunc, log *slog.Logger) (*Watcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("hotreload: inotify_init1: %w", err)
	}
	return &Watcher{
		fd:          fd,
		watchMap:    make(map[int32]string),
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
	wd, err := unix.InotifyAddWatch(w.fd, absPath, unix.IN_MODIFY|unix.IN_CLOSE_WRITE)
	if err != nil {
		return fmt.Errorf("hotreload: watch %s: %w", absPath, err)
	}
	w.mu.Lock()
	w.watchMap[int32(wd)] = absPath
	w.mu.Unlock()
	return nil
}

// Run blocks, dispatching debounced reloads until the watcher's file
// descriptor is closed.
func (w *Watcher) Run() {
	buf := make([]byte, (inotifyEventHeaderSize+unix.NAME_MAX+1)*10)

	for {
		n, err := unix.Read(w.fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			if w.log != nil {
				w.log.Error("inotify read failed", "err", err)
			}
			return
		}

		offset := 0
		for offset+inotifyEventHeaderSize <= n {
			wd := int32(binary.LittleEndian.Uint32(buf[offset:]))
			mask := binary.LittleEndian.Uint32(buf[offset+4:])
			nameLen := int(binary.LittleEndian.Uint32(buf[offset+12:]))
			offset += inotifyEventHeaderSize + nameLen

			if mask&(unix.IN_MODIFY|unix.IN_CLOSE_WRITE) == 0 {
				continue
			}
			w.mu.Lock()
			path := w.watchMap[wd]
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

// Close releases the inotify file descriptor.
func (w *Watcher) Close() error {
	return unix.Close(w.fd)
}
