// Package monitor fans filesystem change events out to subscribers.
//
// Backends report changes to a Hub. Raw notifications from OS watchers go
// through Raw, which coalesces bursts per file and flushes them after a
// quiet period; backend-initiated changes (copy, rename, remove) are
// published directly.
package monitor

import (
	"slices"
	"sync"
	"time"

	"github.com/justyntemme/waypoint/internal/debug"
	"github.com/justyntemme/waypoint/internal/metrics"
	"github.com/justyntemme/waypoint/internal/vfs"
)

// DefaultDelay is the quiet period before coalesced raw events are flushed.
const DefaultDelay = 500 * time.Millisecond

// EventKind classifies a folder change.
type EventKind int

const (
	Created EventKind = iota
	Deleted
	Changed
	Removed // removed from a listing without being deleted from disk
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Deleted:
		return "deleted"
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// NoPosition marks an event without an insertion position.
const NoPosition = -1

// Event describes files changing inside Parent.
type Event struct {
	Parent   vfs.Location
	Files    []vfs.Location
	Position int
	Kind     EventKind
}

// NotificationKind selects which Notification fields are set.
type NotificationKind int

const (
	FolderChanged NotificationKind = iota
	FileRenamed
	EntryPointsChanged
)

// Notification is what subscribers receive.
type Notification struct {
	Kind  NotificationKind
	Event Event        // FolderChanged
	From  vfs.Location // FileRenamed
	To    vfs.Location // FileRenamed
}

type rawEvent struct {
	file vfs.Location
	kind EventKind
}

// Hub distributes change notifications.
type Hub struct {
	delay time.Duration

	mu     sync.Mutex
	subs   map[int]func(Notification)
	nextID int
	paused map[vfs.Location]int
	queue  []rawEvent // arrival order
	timer  *time.Timer
	closed bool
}

// NewHub creates a hub. A non-positive delay uses DefaultDelay.
func NewHub(delay time.Duration) *Hub {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Hub{
		delay:  delay,
		subs:   make(map[int]func(Notification)),
		paused: make(map[vfs.Location]int),
	}
}

// Subscribe registers fn and returns a func that removes it. fn is called
// from publisher goroutines and must not block for long.
func (h *Hub) Subscribe(fn func(Notification)) (cancel func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

func (h *Hub) publish(n Notification) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	ids := make([]int, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	subs := make([]func(Notification), len(ids))
	for i, id := range ids {
		subs[i] = h.subs[id]
	}
	h.mu.Unlock()

	for _, fn := range subs {
		fn(n)
	}
}

// Pause suppresses events whose parent is loc until a matching Resume.
// Pauses nest.
func (h *Hub) Pause(loc vfs.Location) {
	h.mu.Lock()
	h.paused[loc]++
	h.mu.Unlock()
}

// Resume undoes one Pause.
func (h *Hub) Resume(loc vfs.Location) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.paused[loc] <= 1 {
		delete(h.paused, loc)
		return
	}
	h.paused[loc]--
}

func (h *Hub) isPaused(loc vfs.Location) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused[loc] > 0
}

// FolderChanged publishes a change of files inside parent.
func (h *Hub) FolderChanged(parent vfs.Location, files []vfs.Location, position int, kind EventKind) {
	if len(files) == 0 {
		return
	}
	if h.isPaused(parent) {
		debug.Log(debug.MONITOR, "hub: %s paused, dropping %s", parent, kind)
		return
	}
	debug.Log(debug.MONITOR, "hub: %s %s %d file(s)", parent, kind, len(files))
	metrics.RecordMonitorEvent(kind.String())
	h.publish(Notification{
		Kind: FolderChanged,
		Event: Event{
			Parent:   parent,
			Files:    slices.Clone(files),
			Position: position,
			Kind:     kind,
		},
	})
}

// FilesCreated publishes files created inside parent.
func (h *Hub) FilesCreated(parent vfs.Location, files []vfs.Location, position int) {
	h.FolderChanged(parent, files, position, Created)
}

// FilesDeleted publishes deletions, one event per parent folder in the
// order parents first appear.
func (h *Hub) FilesDeleted(files []vfs.Location) {
	var parents []vfs.Location
	byParent := make(map[vfs.Location][]vfs.Location)
	for _, f := range files {
		parent, ok := f.Parent()
		if !ok {
			continue
		}
		if _, seen := byParent[parent]; !seen {
			parents = append(parents, parent)
		}
		byParent[parent] = append(byParent[parent], f)
	}
	for _, parent := range parents {
		h.FolderChanged(parent, byParent[parent], NoPosition, Deleted)
	}
}

// FileRenamed publishes a rename.
func (h *Hub) FileRenamed(from, to vfs.Location) {
	metrics.RecordMonitorEvent("renamed")
	h.publish(Notification{Kind: FileRenamed, From: from, To: to})
}

// EntryPointsChanged publishes that volumes or bookmarks changed.
func (h *Hub) EntryPointsChanged() {
	metrics.RecordMonitorEvent("entry_points")
	h.publish(Notification{Kind: EntryPointsChanged})
}

// Raw records an OS-level change and schedules a flush after the quiet
// period. Bursts on the same file collapse: a create after a pending
// delete becomes a change, a delete cancels pending creates and changes,
// a change is dropped while a create is pending. Pending events keep their
// arrival order.
func (h *Hub) Raw(file vfs.Location, kind EventKind) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	switch kind {
	case Created:
		if h.removeLocked(Deleted, file) {
			kind = Changed
			h.removeLocked(Changed, file)
		} else if h.pendingLocked(Created, file) {
			return
		}
	case Deleted:
		h.removeLocked(Created, file)
		h.removeLocked(Changed, file)
		h.removeLocked(Deleted, file)
	case Changed:
		if h.pendingLocked(Created, file) {
			return
		}
		h.removeLocked(Changed, file)
	}
	h.queue = append(h.queue, rawEvent{file: file, kind: kind})

	if h.timer != nil {
		h.timer.Stop()
	}
	h.timer = time.AfterFunc(h.delay, h.Flush)
}

func (h *Hub) pendingLocked(kind EventKind, file vfs.Location) bool {
	return slices.Contains(h.queue, rawEvent{file: file, kind: kind})
}

func (h *Hub) removeLocked(kind EventKind, file vfs.Location) bool {
	i := slices.Index(h.queue, rawEvent{file: file, kind: kind})
	if i < 0 {
		return false
	}
	h.queue = slices.Delete(h.queue, i, i+1)
	return true
}

// Flush publishes every pending raw event now, in arrival order.
func (h *Hub) Flush() {
	h.mu.Lock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	queue := h.queue
	h.queue = nil
	h.mu.Unlock()

	for _, ev := range queue {
		parent, ok := ev.file.Parent()
		if !ok {
			continue
		}
		h.FolderChanged(parent, []vfs.Location{ev.file}, NoPosition, ev.kind)
	}
}

// Pending returns the number of raw events waiting for a flush.
func (h *Hub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

// Close drops pending raw events and stops publishing.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.queue = nil
}
