package local

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/justyntemme/waypoint/internal/debug"
	"github.com/justyntemme/waypoint/internal/logging"
	"github.com/justyntemme/waypoint/internal/monitor"
	"github.com/justyntemme/waypoint/internal/vfs"
)

// watcher feeds fsnotify events into a monitor hub. Each directory is
// watched at most once; the hub does the debouncing.
type watcher struct {
	watcher  *fsnotify.Watcher
	hub      *monitor.Hub
	mu       sync.Mutex
	watching map[string]struct{}
	done     chan struct{}
}

func newWatcher(hub *monitor.Hub) (*watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dw := &watcher{
		watcher:  w,
		hub:      hub,
		watching: make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	go dw.run()
	return dw, nil
}

func (dw *watcher) run() {
	for {
		select {
		case <-dw.done:
			return

		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}
			kind, ok := eventKind(event.Op)
			if !ok {
				continue
			}
			dw.mu.Lock()
			_, inDir := dw.watching[filepath.Dir(event.Name)]
			_, self := dw.watching[event.Name]
			relevant := inDir || self
			dw.mu.Unlock()
			if !relevant {
				continue
			}
			debug.Log(debug.MONITOR, "fsnotify: %s on %s", event.Op, event.Name)
			dw.hub.Raw(vfs.FromPath(event.Name), kind)

		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("fsnotify error", zap.Error(err))
		}
	}
}

func eventKind(op fsnotify.Op) (monitor.EventKind, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return monitor.Created, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return monitor.Deleted, true
	case op.Has(fsnotify.Write), op.Has(fsnotify.Chmod):
		return monitor.Changed, true
	}
	return 0, false
}

// Watch starts watching the directory at loc. Watching a directory that
// is already watched does nothing.
func (dw *watcher) Watch(loc vfs.Location) {
	path := loc.LocalPath()
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if _, ok := dw.watching[path]; ok {
		return
	}
	if err := dw.watcher.Add(path); err != nil {
		debug.Log(debug.MONITOR, "fsnotify: cannot watch %s: %v", path, err)
		return
	}
	dw.watching[path] = struct{}{}
	debug.Log(debug.MONITOR, "fsnotify: watching %s", path)
}

// Unwatch stops watching the directory at loc.
func (dw *watcher) Unwatch(loc vfs.Location) {
	path := loc.LocalPath()
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if _, ok := dw.watching[path]; !ok {
		return
	}
	delete(dw.watching, path)
	if err := dw.watcher.Remove(path); err != nil {
		// The directory may already be gone
		debug.Log(debug.MONITOR, "fsnotify: unwatch %s: %v", path, err)
	}
	debug.Log(debug.MONITOR, "fsnotify: stopped watching %s", path)
}

// Watching reports whether loc is watched.
func (dw *watcher) Watching(loc vfs.Location) bool {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	_, ok := dw.watching[loc.LocalPath()]
	return ok
}

func (dw *watcher) Close() error {
	close(dw.done)
	return dw.watcher.Close()
}
