package nav

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justyntemme/waypoint/internal/monitor"
	"github.com/justyntemme/waypoint/internal/vfs"
)

func folderEvent(kind monitor.EventKind, parent string, files ...string) monitor.Notification {
	ev := monitor.Event{Parent: loc(parent), Position: monitor.NoPosition, Kind: kind}
	for _, f := range files {
		ev.Files = append(ev.Files, loc(f))
	}
	return monitor.Notification{Kind: monitor.FolderChanged, Event: ev}
}

func countOf(locs []vfs.Location, l vfs.Location) int {
	n := 0
	for _, x := range locs {
		if x == l {
			n++
		}
	}
	return n
}

// handle delivers n and returns the folder request it started, if any.
func (h *harness) handle(n monitor.Notification) *Request {
	h.t.Helper()
	var r *Request
	h.do(func() {
		before := h.coord.inflight[folderKey]
		h.coord.Bridge().Handle(n)
		if after := h.coord.inflight[folderKey]; after != before {
			r = after
		}
	})
	return r
}

func TestDeletedCurrentFolder(t *testing.T) {
	testCases := []struct {
		name    string
		dirs    []string
		current string
		deleted string
		parent  string
		want    string
	}{
		{"previous sibling", []string{"/a/b", "/a/c", "/a/d"}, "/a/c", "/a/c", "/a", "/a/b"},
		{"next sibling", []string{"/a/b", "/a/c"}, "/a/b", "/a/b", "/a", "/a/c"},
		{"parent", []string{"/a/only"}, "/a/only", "/a/only", "/a", "/a"},
		{"deleted ancestor", []string{"/a/b", "/a/b/c", "/a/e"}, "/a/b/c", "/a/b", "/a", "/a/e"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.backend.add(vfs.KindDirectory, tc.dirs...)
			h.goTo(loc(tc.current), "")
			listed := countOf(h.backend.listCalls(), loc(tc.deleted))
			h.backend.remove(tc.deleted)

			r := h.handle(folderEvent(monitor.Deleted, tc.parent, tc.deleted))
			require.NotNil(t, r)
			assert.True(t, r.Automatic)
			h.wait(r)

			require.Equal(t, StateSucceeded, r.State())
			assert.Equal(t, loc(tc.want), h.location())
			assert.Equal(t, listed, countOf(h.backend.listCalls(), loc(tc.deleted)))
			h.do(func() {
				for _, f := range h.pres.Children(loc(tc.parent)) {
					assert.NotEqual(t, loc(tc.deleted), f.Location)
				}
			})
		})
	}
}

func TestRemovedCurrentFolderRelocates(t *testing.T) {
	h := newHarness(t)
	h.backend.add(vfs.KindDirectory, "/a/b", "/a/c")
	h.goTo(loc("/a/c"), "")

	r := h.handle(folderEvent(monitor.Removed, "/a", "/a/c"))
	h.wait(r)
	assert.Equal(t, loc("/a/b"), h.location())
}

func TestDeletedCurrentFileMovesSelection(t *testing.T) {
	h := newHarness(t)
	h.backend.add(vfs.KindRegular, "/a/f1", "/a/f2", "/a/f3")
	h.goTo(loc("/a"), loc("/a/f2"))
	h.do(func() { require.Equal(t, loc("/a/f2"), h.coord.CurrentFile()) })

	steps := []struct {
		deleted string
		want    vfs.Location
		left    []string
	}{
		{"/a/f2", loc("/a/f3"), []string{"f1", "f3"}},
		{"/a/f3", loc("/a/f1"), []string{"f1"}},
		{"/a/f1", "", nil},
	}
	for _, s := range steps {
		assert.Nil(t, h.handle(folderEvent(monitor.Deleted, "/a", s.deleted)))
		h.do(func() {
			assert.Equal(t, s.want, h.coord.CurrentFile(), "after deleting %s", s.deleted)
			assert.Equal(t, s.want, h.pres.selected)
			assert.Equal(t, s.left, h.pres.names(loc("/a")))
		})
	}
}

func TestRemovedChildOfCurrentFolderIsDeleted(t *testing.T) {
	h := newHarness(t)
	h.backend.add(vfs.KindRegular, "/a/f1", "/a/f2")
	h.goTo(loc("/a"), loc("/a/f1"))

	h.handle(folderEvent(monitor.Removed, "/a", "/a/f1"))
	h.do(func() {
		assert.Equal(t, []string{"f2"}, h.pres.names(loc("/a")))
		assert.Equal(t, loc("/a/f2"), h.coord.CurrentFile())
	})
}

func TestCreatedFilesAreAdded(t *testing.T) {
	h := newHarness(t)
	h.goTo(loc("/a"), "")
	h.backend.add(vfs.KindRegular, "/a/new.txt", "/a/.hidden")

	h.handle(folderEvent(monitor.Created, "/a", "/a/new.txt", "/a/.hidden"))
	h.eventually(func() bool {
		return slices.Equal(h.pres.names(loc("/a")), []string{"new.txt"})
	}, "created file not added")
}

func TestChangedFilesAreUpdated(t *testing.T) {
	h := newHarness(t)
	h.backend.add(vfs.KindRegular, "/a/f")
	h.goTo(loc("/a"), "")

	h.backend.mu.Lock()
	h.backend.files[loc("/a/f")].Size = 42
	h.backend.mu.Unlock()

	h.handle(folderEvent(monitor.Changed, "/a", "/a/f"))
	h.eventually(func() bool {
		kids := h.pres.Children(loc("/a"))
		return len(kids) == 1 && kids[0].Size == 42
	}, "changed file not updated")
}

func TestChangedCurrentFolderReloads(t *testing.T) {
	h := newHarness(t)
	h.backend.add(vfs.KindDirectory, "/a/b")
	h.goTo(loc("/a/b"), "")

	r := h.handle(folderEvent(monitor.Changed, "/a", "/a/b"))
	require.NotNil(t, r)
	assert.True(t, r.Automatic)
	h.wait(r)
	assert.Equal(t, StateSucceeded, r.State())
	assert.Equal(t, 2, countOf(h.backend.listCalls(), loc("/a/b")))
	h.do(func() { assert.Len(t, h.coord.History().Entries(), 1) })
}

func TestChangeDoesNotSupersedeNavigation(t *testing.T) {
	testCases := []struct {
		name string
		kind monitor.EventKind
	}{
		{"changed current folder", monitor.Changed},
		{"deleted current folder", monitor.Deleted},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.backend.add(vfs.KindDirectory, "/a/b", "/a/slow")
			h.goTo(loc("/a/b"), "")
			release, entered := h.backend.gate(loc("/a/slow"))

			var r *Request
			h.do(func() { r = h.coord.GoTo(loc("/a/slow"), "") })
			<-entered

			if tc.kind == monitor.Deleted {
				h.backend.remove("/a/b")
			}
			assert.Nil(t, h.handle(folderEvent(tc.kind, "/a", "/a/b")))

			close(release)
			h.wait(r)
			assert.Equal(t, StateSucceeded, r.State())
			assert.Equal(t, loc("/a/slow"), h.location())
			if tc.kind == monitor.Deleted {
				h.do(func() { assert.NotContains(t, h.pres.names(loc("/a")), "b") })
			}
		})
	}
}

func TestAttributeReadFailureDropsUpdate(t *testing.T) {
	h := newHarness(t)
	h.goTo(loc("/a"), "")

	h.handle(folderEvent(monitor.Created, "/a", "/a/ghost"))
	h.backend.add(vfs.KindRegular, "/a/real")
	h.handle(folderEvent(monitor.Created, "/a", "/a/real"))

	h.eventually(func() bool {
		return slices.Equal(h.pres.names(loc("/a")), []string{"real"})
	}, "bridge stopped after a failed read")
}

func TestEventsOutsideShownFoldersAreIgnored(t *testing.T) {
	h := newHarness(t)
	h.backend.add(vfs.KindDirectory, "/a/b", "/a/b/c")
	h.backend.add(vfs.KindRegular, "/a/b/c/x")
	h.goTo(loc("/a"), "")

	h.handle(folderEvent(monitor.Created, "/a/b/c", "/a/b/c/x"))
	h.do(func() {
		assert.NotContains(t, h.pres.children, loc("/a/b/c"))
		assert.NotContains(t, h.pres.ops, "add fake:///a/b/c")
	})
}

func TestEventsWaitForWalk(t *testing.T) {
	h := newHarness(t)
	h.backend.add(vfs.KindDirectory, "/a/b")
	h.goTo(loc("/a"), "")
	release, entered := h.backend.gate(loc("/a/b"))

	var r *Request
	h.do(func() { r = h.coord.GoTo(loc("/a/b"), "") })
	<-entered

	h.backend.add(vfs.KindRegular, "/a/b/new")
	h.handle(folderEvent(monitor.Created, "/a/b", "/a/b/new"))
	h.do(func() {
		assert.NotContains(t, h.pres.ops, "add fake:///a/b")
		assert.Len(t, h.coord.Bridge().deferred[loc("/a/b")], 1)
	})

	close(release)
	h.wait(r)
	h.eventually(func() bool {
		return slices.Contains(h.pres.ops, "add fake:///a/b")
	}, "deferred event not replayed")
	h.do(func() {
		set := slices.Index(h.pres.ops, "set fake:///a/b")
		add := slices.Index(h.pres.ops, "add fake:///a/b")
		assert.Less(t, set, add)
		assert.Empty(t, h.coord.Bridge().deferred)
		assert.Equal(t, []string{"new"}, h.pres.names(loc("/a/b")))
	})
}

func TestRenamedCurrentFolder(t *testing.T) {
	h := newHarness(t)
	h.backend.add(vfs.KindDirectory, "/a/b")
	h.goTo(loc("/a/b"), "")
	h.backend.add(vfs.KindDirectory, "/a/z")

	h.handle(monitor.Notification{Kind: monitor.FileRenamed, From: loc("/a/b"), To: loc("/a/z")})
	h.eventually(func() bool {
		return h.coord.Location().Location == loc("/a/z")
	}, "location not renamed")

	h.do(func() {
		assert.Equal(t, loc("/a/z"), h.pres.location.Location)
		assert.Equal(t, []string{"z"}, h.pres.names(loc("/a")))
	})
	assert.Equal(t, "watch fake:///a/z", h.backend.monitorCalls()[len(h.backend.monitorCalls())-1])
}

func TestRenamedCurrentFile(t *testing.T) {
	h := newHarness(t)
	h.backend.add(vfs.KindRegular, "/a/old.txt")
	h.goTo(loc("/a"), loc("/a/old.txt"))
	h.backend.add(vfs.KindRegular, "/a/new.txt")

	h.handle(monitor.Notification{Kind: monitor.FileRenamed, From: loc("/a/old.txt"), To: loc("/a/new.txt")})
	h.eventually(func() bool {
		return h.coord.CurrentFile() == loc("/a/new.txt")
	}, "current file not renamed")
	h.do(func() { assert.Equal(t, []string{"new.txt"}, h.pres.names(loc("/a"))) })
}

func TestEntryPointsChanged(t *testing.T) {
	h := newHarness(t)
	h.backend.mu.Lock()
	h.backend.roots = append(h.backend.roots, vfs.EntryPoint{Location: loc("/q"), Name: "q"})
	h.backend.mu.Unlock()

	h.handle(monitor.Notification{Kind: monitor.EntryPointsChanged})
	h.eventually(func() bool { return len(h.pres.roots) == 2 }, "roots not republished")
}

func TestAttachDeliversHubEvents(t *testing.T) {
	h := newHarness(t)
	h.goTo(loc("/a"), "")
	hub := monitor.NewHub(10 * time.Millisecond)
	defer hub.Close()
	cancel := h.coord.Bridge().Attach(hub)
	defer cancel()

	h.backend.add(vfs.KindRegular, "/a/raw")
	hub.Raw(loc("/a/raw"), monitor.Created)
	h.eventually(func() bool {
		return slices.Equal(h.pres.names(loc("/a")), []string{"raw"})
	}, "hub event not applied")
}
