package nav

import (
	"slices"

	"go.uber.org/zap"

	"github.com/justyntemme/waypoint/internal/debug"
	"github.com/justyntemme/waypoint/internal/logging"
	"github.com/justyntemme/waypoint/internal/metrics"
	"github.com/justyntemme/waypoint/internal/monitor"
	"github.com/justyntemme/waypoint/internal/vfs"
)

// Bridge applies change notifications to the presenter and the current
// location. It runs on the loop; notifications for a folder that a request
// is walking wait until the walk leaves it.
type Bridge struct {
	c        *Coordinator
	deferred map[vfs.Location][]monitor.Notification
}

func newBridge(c *Coordinator) *Bridge {
	return &Bridge{c: c, deferred: make(map[vfs.Location][]monitor.Notification)}
}

// Attach subscribes the bridge to hub. Notifications are handed to the
// loop in arrival order.
func (b *Bridge) Attach(hub *monitor.Hub) (cancel func()) {
	return hub.Subscribe(func(n monitor.Notification) {
		b.c.loop.Post(func() { b.Handle(n) })
	})
}

// Handle applies one notification. It must run on the loop.
func (b *Bridge) Handle(n monitor.Notification) {
	if folder, ok := affectedFolder(n); ok && b.c.isWalking(folder) {
		debug.Log(debug.MONITOR, "bridge: deferring %v in %s", n.Kind, folder)
		metrics.RecordDeferred()
		b.deferred[folder] = append(b.deferred[folder], n)
		return
	}

	switch n.Kind {
	case monitor.FolderChanged:
		b.folderChanged(n.Event)
	case monitor.FileRenamed:
		b.fileRenamed(n.From, n.To)
	case monitor.EntryPointsChanged:
		b.entryPointsChanged()
	}
}

func affectedFolder(n monitor.Notification) (vfs.Location, bool) {
	switch n.Kind {
	case monitor.FolderChanged:
		return n.Event.Parent, true
	case monitor.FileRenamed:
		return n.From.Parent()
	}
	return "", false
}

// replay hands the notifications deferred behind a walk of folder back to
// the loop.
func (b *Bridge) replay(folder vfs.Location) {
	pending := b.deferred[folder]
	if len(pending) == 0 {
		return
	}
	delete(b.deferred, folder)
	for _, n := range pending {
		b.c.loop.Post(func() { b.Handle(n) })
	}
}

func (b *Bridge) folderChanged(ev monitor.Event) {
	c := b.c
	var cur vfs.Location
	if c.location != nil {
		cur = c.location.Location
	}

	kind := ev.Kind
	if kind == monitor.Removed && ev.Parent == cur {
		kind = monitor.Deleted
	}

	// A pending navigation replaces the current folder, so it is not
	// superseded by a reload or relocation.
	pending := b.navigating()

	switch kind {
	case monitor.Deleted, monitor.Removed:
		for _, f := range ev.Files {
			if cur == "" || !cur.HasAncestor(f) {
				continue
			}
			if pending != nil {
				debug.Log(debug.MONITOR, "bridge: %s deleted, leaving it to request %s", f, pending.ID)
				break
			}
			b.relocate(f, ev.Files)
			return
		}
	case monitor.Changed:
		for _, f := range ev.Files {
			if cur == "" || !cur.HasAncestor(f) {
				continue
			}
			if pending != nil {
				debug.Log(debug.MONITOR, "bridge: %s changed, leaving it to request %s", f, pending.ID)
				break
			}
			debug.Log(debug.MONITOR, "bridge: %s changed, reloading", f)
			c.Reload()
			return
		}
	}

	if !b.shown(ev.Parent) {
		return
	}

	switch kind {
	case monitor.Created, monitor.Changed:
		b.refresh(ev, kind)
	case monitor.Deleted, monitor.Removed:
		b.remove(ev.Parent, ev.Files)
	}
}

// navigating returns the folder request in flight when it leads away from
// the current folder.
func (b *Bridge) navigating() *Request {
	c := b.c
	r := c.inflight[folderKey]
	if r == nil || r.State().Terminal() {
		return nil
	}
	if c.location != nil && r.Target == c.location.Location {
		return nil
	}
	return r
}

// shown reports whether folder's contents are visible: the tree root, a
// loaded tree folder or the current folder.
func (b *Bridge) shown(folder vfs.Location) bool {
	c := b.c
	if folder == c.root || c.presenter.IsLoaded(folder) {
		return true
	}
	return c.location != nil && folder == c.location.Location
}

// refresh re-reads the attributes of created or changed files and merges
// them into the presenter.
func (b *Bridge) refresh(ev monitor.Event, kind monitor.EventKind) {
	c := b.c
	src, ok := c.registry.Resolve(ev.Parent)
	if !ok {
		return
	}

	c.loop.Begin()
	files := slices.Clone(ev.Files)
	src.ReadAttributes(c.ctx, files, vfs.AttrStandard).Then(nil, func(data []*vfs.FileData, err error) {
		if !c.loop.Post(func() {
			defer c.loop.End()
			if err != nil {
				if !vfs.IsCancelled(err) {
					logging.Warn("dropping change notification",
						zap.String("folder", ev.Parent.String()),
						zap.Stringer("kind", kind),
						zap.Error(err))
				}
				return
			}
			b.merge(ev, kind, data)
		}) {
			c.loop.End()
		}
	})
}

func (b *Bridge) merge(ev monitor.Event, kind monitor.EventKind, data []*vfs.FileData) {
	c := b.c
	if !b.shown(ev.Parent) {
		return
	}

	var visible []*vfs.FileData
	var hidden []vfs.Location
	for _, f := range data {
		if c.visibility.Visible(f) {
			visible = append(visible, f)
		} else {
			hidden = append(hidden, f.Location)
		}
	}

	switch kind {
	case monitor.Created:
		if len(visible) > 0 {
			c.presenter.AddChildren(ev.Parent, visible, ev.Position)
		}
	case monitor.Changed:
		if len(visible) > 0 {
			c.presenter.UpdateChildren(ev.Parent, visible)
		}
		if len(hidden) > 0 {
			c.presenter.DeleteChildren(ev.Parent, hidden)
		}
	}
	debug.Log(debug.MONITOR, "bridge: %s %d file(s) in %s", kind, len(visible), ev.Parent)
}

// remove drops deleted files from the presenter, moving the current file
// to a neighbour when it is among them.
func (b *Bridge) remove(parent vfs.Location, files []vfs.Location) {
	c := b.c
	if c.currentFile == "" || !slices.Contains(files, c.currentFile) {
		c.presenter.DeleteChildren(parent, files)
		return
	}

	next := b.neighbour(parent, files, c.currentFile)
	c.presenter.DeleteChildren(parent, files)
	c.currentFile = next
	c.presenter.SelectAndScrollTo(next)
}

// neighbour returns the next visible sibling of file that is not being
// deleted, or failing that the previous one.
func (b *Bridge) neighbour(parent vfs.Location, deleted []vfs.Location, file vfs.Location) vfs.Location {
	children := b.c.presenter.Children(parent)
	idx := slices.IndexFunc(children, func(f *vfs.FileData) bool { return f.Location == file })
	if idx < 0 {
		return ""
	}
	for _, f := range children[idx+1:] {
		if !slices.Contains(deleted, f.Location) {
			return f.Location
		}
	}
	for i := idx - 1; i >= 0; i-- {
		if !slices.Contains(deleted, children[i].Location) {
			return children[i].Location
		}
	}
	return ""
}

// relocate navigates away from a deleted folder that is the current one or
// an ancestor of it: to the previous sibling in tree order, else the next,
// else the parent.
func (b *Bridge) relocate(gone vfs.Location, deleted []vfs.Location) {
	c := b.c
	parent, ok := gone.Parent()
	if !ok {
		c.GoHome()
		return
	}

	var dirs []vfs.Location
	for _, f := range c.presenter.Children(parent) {
		if f.IsDir() {
			dirs = append(dirs, f.Location)
		}
	}

	target := parent
	if idx := slices.Index(dirs, gone); idx >= 0 {
		var candidates []vfs.Location
		for i := idx - 1; i >= 0; i-- {
			candidates = append(candidates, dirs[i])
		}
		candidates = append(candidates, dirs[idx+1:]...)
		for _, loc := range candidates {
			if !slices.Contains(deleted, loc) {
				target = loc
				break
			}
		}
	}

	debug.Log(debug.MONITOR, "bridge: %s deleted, moving to %s", gone, target)
	c.presenter.DeleteChildren(parent, deleted)
	r := c.newRequest(ActionGoTo, target)
	r.Automatic = true
	c.start(r)
}

func (b *Bridge) fileRenamed(from, to vfs.Location) {
	c := b.c
	src, ok := c.registry.Resolve(to)
	if !ok {
		return
	}

	c.loop.Begin()
	src.ReadAttributes(c.ctx, []vfs.Location{to}, vfs.AttrStandard).Then(nil, func(data []*vfs.FileData, err error) {
		if !c.loop.Post(func() {
			defer c.loop.End()
			if err != nil || len(data) == 0 {
				if err != nil && !vfs.IsCancelled(err) {
					logging.Warn("dropping rename notification",
						zap.String("from", from.String()),
						zap.String("to", to.String()),
						zap.Error(err))
				}
				return
			}
			b.renamed(from, data[0])
		}) {
			c.loop.End()
		}
	})
}

func (b *Bridge) renamed(from vfs.Location, file *vfs.FileData) {
	c := b.c
	c.presenter.RenameChild(from, file.Clone())

	switch {
	case c.location != nil && c.location.Location == from:
		loc := file.Clone()
		for k, v := range c.location.Attributes {
			if loc.Attribute(k) == "" {
				loc.SetAttribute(k, v)
			}
		}
		c.location = loc
		c.presenter.SetLocation(loc.Clone())
		if c.monitoredSrc != nil {
			c.monitor(c.monitoredSrc, loc.Location)
		}
	case c.currentFile == from:
		c.currentFile = file.Location
	}
}

// entryPointsChanged refreshes the registry off the loop and republishes
// the roots.
func (b *Bridge) entryPointsChanged() {
	c := b.c
	c.loop.Begin()
	go func() {
		defer c.loop.End()
		if err := c.registry.Refresh(c.ctx); err != nil {
			if !vfs.IsCancelled(err) {
				logging.Warn("refreshing entry points failed", zap.Error(err))
			}
			return
		}
		c.loop.Post(func() {
			if rp, ok := c.presenter.(RootsPresenter); ok {
				rp.SetEntryPoints(c.registry.EntryPoints())
			}
		})
	}()
}
