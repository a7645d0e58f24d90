package nav

import (
	"slices"

	"github.com/justyntemme/waypoint/internal/vfs"
)

// DefaultHistoryLength is the number of locations kept when no limit is
// configured.
const DefaultHistoryLength = 15

// History is the list of visited locations with a cursor. Entries are
// ordered oldest first and never repeat.
type History struct {
	entries []vfs.Location
	index   int
	max     int
}

// NewHistory creates an empty history holding at most max entries.
func NewHistory(max int) *History {
	if max <= 0 {
		max = DefaultHistoryLength
	}
	return &History{index: -1, max: max}
}

// Add records a visit to loc. Entries after the cursor are dropped, as is
// any earlier occurrence of loc. It reports false when loc is already the
// current entry.
func (h *History) Add(loc vfs.Location) bool {
	if h.index >= 0 && h.entries[h.index] == loc {
		return false
	}
	h.entries = h.entries[:h.index+1]
	h.entries = slices.DeleteFunc(h.entries, func(e vfs.Location) bool { return e == loc })
	h.entries = append(h.entries, loc)
	if n := len(h.entries); n > h.max {
		h.entries = slices.Clone(h.entries[n-h.max:])
	}
	h.index = len(h.entries) - 1
	return true
}

func (h *History) peek(offset int) (int, vfs.Location, bool) {
	i := h.index + offset
	if offset == 0 || i < 0 || i >= len(h.entries) {
		return -1, "", false
	}
	return i, h.entries[i], true
}

// Back returns the entry steps positions before the cursor without moving
// it.
func (h *History) Back(steps int) (int, vfs.Location, bool) {
	return h.peek(-steps)
}

// Forward returns the entry steps positions after the cursor without
// moving it.
func (h *History) Forward(steps int) (int, vfs.Location, bool) {
	return h.peek(steps)
}

// At returns the entry at index i.
func (h *History) At(i int) (vfs.Location, bool) {
	if i < 0 || i >= len(h.entries) {
		return "", false
	}
	return h.entries[i], true
}

// SetIndex moves the cursor.
func (h *History) SetIndex(i int) bool {
	if i < 0 || i >= len(h.entries) {
		return false
	}
	h.index = i
	return true
}

// Current returns the entry under the cursor.
func (h *History) Current() (vfs.Location, bool) {
	return h.At(h.index)
}

// Index returns the cursor, -1 when empty.
func (h *History) Index() int { return h.index }

func (h *History) Len() int { return len(h.entries) }

// Max returns the length limit.
func (h *History) Max() int { return h.max }

// Entries returns a copy of the entries, oldest first.
func (h *History) Entries() []vfs.Location {
	return slices.Clone(h.entries)
}

// Clear empties the history. A non-empty keep becomes its only entry.
func (h *History) Clear(keep vfs.Location) {
	h.entries = nil
	h.index = -1
	if keep != "" {
		h.Add(keep)
	}
}

// Load replaces the history with saved entries, oldest first. Repeated
// locations keep their latest position and the list is cut to the most
// recent entries. The cursor ends on the newest entry.
func (h *History) Load(saved []vfs.Location) {
	h.Clear("")
	for _, loc := range saved {
		if loc != "" {
			h.Add(loc)
		}
	}
}
