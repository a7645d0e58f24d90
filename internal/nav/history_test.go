package nav

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justyntemme/waypoint/internal/vfs"
)

func locs(paths ...string) []vfs.Location {
	out := make([]vfs.Location, len(paths))
	for i, p := range paths {
		out[i] = loc(p)
	}
	return out
}

func TestHistoryAdd(t *testing.T) {
	h := NewHistory(0)
	assert.Equal(t, DefaultHistoryLength, h.Max())
	assert.Equal(t, -1, h.Index())

	assert.True(t, h.Add(loc("/a")))
	assert.False(t, h.Add(loc("/a")))
	assert.True(t, h.Add(loc("/b")))
	assert.True(t, h.Add(loc("/a")))

	assert.Equal(t, locs("/b", "/a"), h.Entries())
	assert.Equal(t, 1, h.Index())
}

func TestHistoryDropsForwardEntries(t *testing.T) {
	h := NewHistory(10)
	for _, p := range []string{"/a", "/b", "/c", "/d"} {
		h.Add(loc(p))
	}

	idx, l, ok := h.Back(2)
	require.True(t, ok)
	assert.Equal(t, loc("/b"), l)
	require.True(t, h.SetIndex(idx))

	_, l, ok = h.Forward(1)
	require.True(t, ok)
	assert.Equal(t, loc("/c"), l)

	h.Add(loc("/x"))
	assert.Equal(t, locs("/a", "/b", "/x"), h.Entries())
	_, _, ok = h.Forward(1)
	assert.False(t, ok)
}

func TestHistoryBounds(t *testing.T) {
	h := NewHistory(3)
	_, _, ok := h.Back(1)
	assert.False(t, ok)
	_, ok = h.Current()
	assert.False(t, ok)

	for i := range 5 {
		h.Add(loc(fmt.Sprintf("/%d", i)))
	}
	assert.Equal(t, locs("/2", "/3", "/4"), h.Entries())
	cur, ok := h.Current()
	require.True(t, ok)
	assert.Equal(t, loc("/4"), cur)

	_, _, ok = h.Back(3)
	assert.False(t, ok)
	assert.False(t, h.SetIndex(3))
}

func TestHistoryClear(t *testing.T) {
	h := NewHistory(5)
	h.Add(loc("/a"))
	h.Add(loc("/b"))

	h.Clear(loc("/b"))
	assert.Equal(t, locs("/b"), h.Entries())
	assert.Equal(t, 0, h.Index())

	h.Clear("")
	assert.Empty(t, h.Entries())
	assert.Equal(t, -1, h.Index())
}

func TestHistoryRoundTrip(t *testing.T) {
	h := NewHistory(4)
	for _, p := range []string{"/a", "/b", "/c", "/b", "/d", "/e"} {
		h.Add(loc(p))
	}
	saved := h.Entries()

	restored := NewHistory(4)
	restored.Load(saved)
	assert.Equal(t, saved, restored.Entries())
	assert.Equal(t, len(saved)-1, restored.Index())

	// Lists written by older versions may repeat or exceed the limit.
	restored.Load(locs("/a", "/a", "/b", "/c", "/d", "/e", "/f"))
	assert.Equal(t, locs("/c", "/d", "/e", "/f"), restored.Entries())
	for i := 1; i < len(restored.Entries()); i++ {
		assert.NotEqual(t, restored.Entries()[i-1], restored.Entries()[i])
	}
}
