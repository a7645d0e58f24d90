package nav

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justyntemme/waypoint/internal/filter"
	"github.com/justyntemme/waypoint/internal/vfs"
)

func TestGoToSkipsLoadedAncestors(t *testing.T) {
	h := newHarness(t)
	h.backend.add(vfs.KindDirectory, "/a/b", "/a/b/c")
	h.backend.add(vfs.KindRegular, "/a/b/c/x.jpg")
	h.do(func() { h.pres.loaded[loc("/a/b")] = true })

	r := h.goTo(loc("/a/b/c"), "")

	require.Equal(t, StateSucceeded, r.State())
	assert.Equal(t, []vfs.Location{loc("/a/b/c")}, h.backend.listCalls())
	assert.Equal(t, []vfs.Location{loc("/a"), loc("/a/b"), loc("/a/b/c")}, r.Chain())
	assert.Equal(t, loc("/a"), r.Entry().Location)

	h.do(func() {
		assert.Equal(t, []vfs.Location{loc("/a"), loc("/a/b")}, h.pres.expanded)
		assert.Equal(t, []string{"x.jpg"}, h.pres.names(loc("/a/b/c")))
		assert.Equal(t, loc("/a/b/c"), h.pres.location.Location)
		assert.Equal(t, []vfs.Location{loc("/a/b/c")}, h.coord.History().Entries())
		assert.Equal(t, loc("/a"), h.coord.Root())
		assert.Len(t, h.notes.ready, 1)
		assert.Empty(t, h.notes.titles)
	})
}

func TestGoToListsUnloadedAncestors(t *testing.T) {
	h := newHarness(t)
	h.backend.add(vfs.KindDirectory, "/a/b", "/a/b/c")

	h.goTo(loc("/a/b/c"), "")

	assert.Equal(t, []vfs.Location{loc("/a"), loc("/a/b"), loc("/a/b/c")}, h.backend.listCalls())
	h.do(func() {
		assert.True(t, h.pres.IsLoaded(loc("/a")))
		assert.True(t, h.pres.IsLoaded(loc("/a/b")))
		assert.Equal(t, []vfs.Location{loc("/a"), loc("/a/b")}, h.pres.expanded)
	})
}

func TestGoToFileSelectsIt(t *testing.T) {
	h := newHarness(t)
	h.backend.add(vfs.KindDirectory, "/a/b")
	h.backend.add(vfs.KindRegular, "/a/b/one.png", "/a/b/two.png")

	r := h.goTo(loc("/a/b/two.png"), "")

	require.Equal(t, StateSucceeded, r.State())
	assert.Equal(t, loc("/a/b"), r.Location())
	assert.Equal(t, loc("/a/b"), h.location())
	h.do(func() {
		assert.Equal(t, loc("/a/b/two.png"), h.pres.selected)
		assert.Equal(t, loc("/a/b/two.png"), h.coord.CurrentFile())
		assert.Equal(t, []vfs.Location{loc("/a/b")}, h.coord.History().Entries())
	})
}

func TestGoToHidesHiddenFiles(t *testing.T) {
	h := newHarness(t)
	h.backend.add(vfs.KindRegular, "/a/.secret", "/a/visible.txt")

	h.goTo(loc("/a"), "")
	h.do(func() { assert.Equal(t, []string{"visible.txt"}, h.pres.names(loc("/a"))) })

	var r *Request
	h.do(func() { r = h.coord.SetShowHidden(true) })
	h.wait(r)
	h.do(func() { assert.Equal(t, []string{".secret", "visible.txt"}, h.pres.names(loc("/a"))) })

	h.do(func() { r = h.coord.SetFilter(filter.Parse("ext:txt")) })
	h.wait(r)
	h.do(func() { assert.Equal(t, []string{"visible.txt"}, h.pres.names(loc("/a"))) })
}

func TestNewerRequestSupersedesOlder(t *testing.T) {
	h := newHarness(t)
	h.backend.add(vfs.KindDirectory, "/a/slow", "/a/fast")
	_, entered := h.backend.gate(loc("/a/slow"))

	var first, second *Request
	h.do(func() { first = h.coord.GoTo(loc("/a/slow"), "") })
	<-entered
	h.do(func() {
		second = h.coord.GoTo(loc("/a/fast"), "")
		assert.Equal(t, StateCancelled, first.State())
	})

	h.wait(second)
	h.wait(first)

	require.Equal(t, StateSucceeded, second.State())
	assert.ErrorIs(t, first.Err(), vfs.ErrCancelled)
	assert.Equal(t, loc("/a/fast"), h.location())
	h.do(func() {
		assert.Equal(t, []vfs.Location{loc("/a/fast")}, h.coord.History().Entries())
		assert.Equal(t, loc("/a/fast"), h.pres.location.Location)
		assert.Len(t, h.notes.ready, 1)
		assert.Empty(t, h.notes.titles)
		assert.NotContains(t, h.pres.children, loc("/a/slow"))
	})
}

func TestTreeListingsOfDifferentFoldersRunSideBySide(t *testing.T) {
	h := newHarness(t)
	h.backend.add(vfs.KindDirectory, "/a/b", "/a/c")
	h.backend.add(vfs.KindRegular, "/a/b/1", "/a/c/2")
	h.goTo(loc("/a"), "")

	var rb, rc *Request
	h.do(func() {
		rb = h.coord.ListChildren(loc("/a/b"))
		rc = h.coord.ListChildren(loc("/a/c"))
	})
	h.wait(rb)
	h.wait(rc)

	assert.Equal(t, StateSucceeded, rb.State())
	assert.Equal(t, StateSucceeded, rc.State())
	assert.Equal(t, loc("/a"), h.location())
	h.do(func() {
		assert.Equal(t, []string{"1"}, h.pres.names(loc("/a/b")))
		assert.Equal(t, []string{"2"}, h.pres.names(loc("/a/c")))
		assert.Equal(t, []vfs.Location{loc("/a")}, h.coord.History().Entries())
	})
}

func TestTreeListingOfSameFolderSupersedes(t *testing.T) {
	h := newHarness(t)
	h.backend.add(vfs.KindDirectory, "/a/b")
	h.goTo(loc("/a"), "")
	release, entered := h.backend.gate(loc("/a/b"))

	var first, second *Request
	h.do(func() { first = h.coord.ListChildren(loc("/a/b")) })
	<-entered
	h.do(func() {
		second = h.coord.ListChildren(loc("/a/b"))
		assert.False(t, h.pres.IsLoaded(loc("/a/b")))
	})
	close(release)

	h.wait(first)
	h.wait(second)
	assert.Equal(t, StateCancelled, first.State())
	assert.Equal(t, StateSucceeded, second.State())
	h.do(func() { assert.True(t, h.pres.IsLoaded(loc("/a/b"))) })
}

func TestWalkErrorFallsBackToParent(t *testing.T) {
	h := newHarness(t)

	var r *Request
	h.do(func() { r = h.coord.GoTo(loc("/a/missing"), "") })
	h.wait(r)

	require.Equal(t, StateFailed, r.State())
	fb := r.Fallback()
	require.NotNil(t, fb)
	assert.True(t, fb.IsFallback())
	assert.True(t, fb.Automatic)
	assert.Equal(t, loc("/a"), fb.Target)

	h.wait(fb)
	assert.Equal(t, StateSucceeded, fb.State())
	assert.Equal(t, loc("/a"), h.location())
	h.do(func() { assert.Empty(t, h.notes.titles) })
}

func TestFallbackIsNotRetried(t *testing.T) {
	h := newHarness(t)

	var r *Request
	h.do(func() { r = h.coord.GoTo(loc("/a/x/y"), "") })
	h.wait(r)
	fb := r.Fallback()
	require.NotNil(t, fb)
	h.wait(fb)

	assert.Equal(t, StateFailed, fb.State())
	assert.Nil(t, fb.Fallback())
	h.do(func() {
		require.Len(t, h.notes.titles, 1)
		assert.Equal(t, `Could not load the position "fake:///a/x"`, h.notes.titles[0])
		assert.Nil(t, h.coord.Location())
	})
}

func TestNoSuitableBackend(t *testing.T) {
	h := newHarness(t)
	target := vfs.MustParse("nope:///x")

	var r *Request
	h.do(func() { r = h.coord.GoTo(target, "") })
	h.wait(r)

	assert.Equal(t, StateFailed, r.State())
	assert.ErrorIs(t, r.Err(), vfs.ErrNoSuitableBackend)
	assert.Nil(t, r.Fallback())
	h.do(func() {
		require.Len(t, h.notes.titles, 1)
		assert.Equal(t, `Could not load the position "nope:///x"`, h.notes.titles[0])
	})
}

func TestMountRequiredOutsideEntryPoints(t *testing.T) {
	h := newHarness(t)

	var r *Request
	h.do(func() { r = h.coord.GoTo(loc("/elsewhere"), "") })
	h.wait(r)

	assert.ErrorIs(t, r.Err(), vfs.ErrMountRequired)
	assert.Nil(t, r.Fallback())
}

func TestUnsupportedFileType(t *testing.T) {
	h := newHarness(t)
	h.backend.add(vfs.KindOther, "/a/socket")

	var r *Request
	h.do(func() { r = h.coord.GoTo(loc("/a/socket"), "") })
	h.wait(r)

	assert.ErrorIs(t, r.Err(), vfs.ErrFileTypeUnsupported)
	assert.Nil(t, r.Fallback())
}

func TestHistoryNavigation(t *testing.T) {
	h := newHarness(t)
	h.backend.add(vfs.KindDirectory, "/a/b", "/a/c")
	h.goTo(loc("/a"), "")
	h.goTo(loc("/a/b"), "")
	h.goTo(loc("/a/c"), "")

	all := []vfs.Location{loc("/a"), loc("/a/b"), loc("/a/c")}

	var r *Request
	h.do(func() { r = h.coord.GoBack(1) })
	h.wait(r)
	assert.Equal(t, loc("/a/b"), h.location())
	h.do(func() {
		assert.Equal(t, all, h.coord.History().Entries())
		assert.Equal(t, 1, h.coord.History().Index())
	})

	h.do(func() { r = h.coord.GoForward(1) })
	h.wait(r)
	assert.Equal(t, loc("/a/c"), h.location())

	h.do(func() { r = h.coord.GoBack(2) })
	h.wait(r)
	assert.Equal(t, loc("/a"), h.location())
	h.do(func() {
		assert.Equal(t, 0, h.coord.History().Index())
		assert.Nil(t, h.coord.GoBack(1))
	})

	// A new location from the middle drops the forward entries.
	h.goTo(loc("/a/c"), "")
	h.do(func() {
		assert.Equal(t, []vfs.Location{loc("/a"), loc("/a/c")}, h.coord.History().Entries())
		assert.Nil(t, h.coord.GoForward(1))
	})
}

func TestGoUpSelectsChild(t *testing.T) {
	h := newHarness(t)
	h.backend.add(vfs.KindDirectory, "/a/b", "/a/b/c")
	h.goTo(loc("/a/b/c"), "")

	var r *Request
	h.do(func() { r = h.coord.GoUp(1) })
	h.wait(r)
	assert.Equal(t, loc("/a/b"), h.location())
	h.do(func() { assert.Equal(t, loc("/a/b/c"), h.pres.selected) })

	h.goTo(loc("/a/b/c"), "")
	h.do(func() { r = h.coord.GoUp(2) })
	h.wait(r)
	assert.Equal(t, loc("/a"), h.location())
	h.do(func() {
		assert.Equal(t, loc("/a/b"), h.coord.CurrentFile())
		assert.Equal(t, ActionGoUp, r.Action)
	})
}

func TestMonitoringFollowsLocation(t *testing.T) {
	h := newHarness(t)
	h.backend.add(vfs.KindDirectory, "/a/b")

	h.goTo(loc("/a"), "")
	h.goTo(loc("/a"), "")
	h.goTo(loc("/a/b"), "")

	assert.Equal(t, []string{
		"watch fake:///a",
		"stop fake:///a",
		"watch fake:///a/b",
	}, h.backend.monitorCalls())
}

func TestSortOrderIsStoredPerFolder(t *testing.T) {
	h := newHarness(t)
	h.backend.add(vfs.KindDirectory, "/a/b")
	h.goTo(loc("/a"), "")

	order := SortOrder{By: SortBySize, Inverse: true}
	var f *vfs.Future[struct{}]
	h.do(func() { f = h.coord.SetSortOrder(order) })
	_, err := f.Wait()
	require.NoError(t, err)

	h.goTo(loc("/a/b"), "")
	h.do(func() { assert.Equal(t, SortOrder{}, h.pres.order) })

	h.goTo(loc("/a"), "")
	h.do(func() { assert.Equal(t, order, h.pres.order) })
}

func TestShutdownCancelsAndWaits(t *testing.T) {
	h := newHarness(t)
	h.backend.add(vfs.KindDirectory, "/a/b")
	_, entered := h.backend.gate(loc("/a/b"))

	var r *Request
	h.do(func() { r = h.coord.GoTo(loc("/a/b"), "") })
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.coord.Shutdown(ctx, 5*time.Millisecond))

	assert.Equal(t, StateCancelled, r.State())
	assert.Zero(t, h.loop.Pending())
	h.do(func() { assert.Empty(t, h.notes.titles) })
}

func TestSortOrderFor(t *testing.T) {
	def := SortOrder{By: SortByDate}
	f := vfs.NewFileData(loc("/a"), vfs.KindDirectory)
	assert.Equal(t, def, sortOrderFor(f, def))
	assert.Equal(t, def, sortOrderFor(nil, def))

	f.SetAttribute(vfs.AttrSortType, "type")
	f.SetAttribute(vfs.AttrSortInverse, "true")
	assert.Equal(t, SortOrder{By: SortByType, Inverse: true}, sortOrderFor(f, def))

	f.SetAttribute(vfs.AttrSortType, "bogus")
	assert.Equal(t, def, sortOrderFor(f, def))
}
