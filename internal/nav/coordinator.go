// Package nav drives navigation: resolving a location to its entry point,
// walking the ancestor chain into the presenter, keeping history and
// applying change notifications.
package nav

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"go.uber.org/zap"

	"github.com/justyntemme/waypoint/internal/debug"
	"github.com/justyntemme/waypoint/internal/filter"
	"github.com/justyntemme/waypoint/internal/logging"
	"github.com/justyntemme/waypoint/internal/loop"
	"github.com/justyntemme/waypoint/internal/metrics"
	"github.com/justyntemme/waypoint/internal/vfs"
)

const (
	folderKey = "folder"
	treeKey   = "tree:"
)

var metadataAttrs = vfs.Attributes(vfs.AttrSortType + "," + vfs.AttrSortInverse)

// walkError marks a backend failure while walking the ancestor chain, the
// one failure class that falls back to the parent folder.
type walkError struct {
	folder vfs.Location
	err    error
}

func (e *walkError) Error() string { return e.err.Error() }
func (e *walkError) Unwrap() error { return e.err }

// Deps holds the collaborators of a Coordinator. Loop, Registry and
// Presenter are required.
type Deps struct {
	Loop        *loop.Loop
	Registry    *vfs.Registry
	Resolver    *vfs.Resolver
	Presenter   Presenter
	Notifier    Notifier
	History     *History
	Home        vfs.Location
	Visibility  Visibility
	DefaultSort SortOrder
}

// Coordinator owns the authoritative navigation state. All methods except
// Shutdown must run on the loop goroutine.
type Coordinator struct {
	loop      *loop.Loop
	registry  *vfs.Registry
	resolver  *vfs.Resolver
	presenter Presenter
	notifier  Notifier
	history   *History
	bridge    *Bridge

	home        vfs.Location
	visibility  Visibility
	defaultSort SortOrder

	ctx  context.Context
	stop context.CancelFunc

	generations map[string]uint64
	inflight    map[string]*Request
	walking     map[vfs.Location]int

	location     *vfs.FileData
	source       *vfs.Source
	root         vfs.Location
	currentFile  vfs.Location
	monitored    vfs.Location
	monitoredSrc *vfs.Source
}

// New creates a coordinator.
func New(deps Deps) *Coordinator {
	ctx, stop := context.WithCancel(context.Background())
	c := &Coordinator{
		loop:        deps.Loop,
		registry:    deps.Registry,
		resolver:    deps.Resolver,
		presenter:   deps.Presenter,
		notifier:    deps.Notifier,
		history:     deps.History,
		home:        deps.Home,
		visibility:  deps.Visibility,
		defaultSort: deps.DefaultSort,
		ctx:         ctx,
		stop:        stop,
		generations: make(map[string]uint64),
		inflight:    make(map[string]*Request),
		walking:     make(map[vfs.Location]int),
	}
	if c.resolver == nil {
		c.resolver = vfs.NewResolver(c.registry)
	}
	if c.notifier == nil {
		c.notifier = nopNotifier{}
	}
	if c.history == nil {
		c.history = NewHistory(DefaultHistoryLength)
	}
	c.bridge = newBridge(c)
	return c
}

// Bridge returns the change monitor bridge feeding this coordinator.
func (c *Coordinator) Bridge() *Bridge { return c.bridge }

// Location returns a copy of the current folder, or nil before the first
// successful navigation.
func (c *Coordinator) Location() *vfs.FileData { return c.location.Clone() }

// Source returns the source of the current folder.
func (c *Coordinator) Source() *vfs.Source { return c.source }

// Root returns the entry point the current folder was reached from.
func (c *Coordinator) Root() vfs.Location { return c.root }

// CurrentFile returns the file the user is focused on, if any.
func (c *Coordinator) CurrentFile() vfs.Location { return c.currentFile }

// SetCurrentFile records the presenter's focused file.
func (c *Coordinator) SetCurrentFile(file vfs.Location) { c.currentFile = file }

// History returns the navigation history. Callers on the loop may read it;
// only the coordinator mutates it.
func (c *Coordinator) History() *History { return c.history }

// Visibility returns the current visibility policy.
func (c *Coordinator) Visibility() Visibility { return c.visibility }

// Active reports whether any request or backend operation is in flight.
func (c *Coordinator) Active() bool {
	return len(c.inflight) > 0 || c.registry.Active()
}

// GoTo navigates to loc and selects fileToSelect once it is listed. An
// empty fileToSelect keeps the current file selected if it is in loc.
func (c *Coordinator) GoTo(loc, fileToSelect vfs.Location) *Request {
	r := c.newRequest(ActionGoTo, loc)
	r.FileToSelect = fileToSelect
	return c.start(r)
}

// GoToSaved navigates to loc and restores a saved selection.
func (c *Coordinator) GoToSaved(loc vfs.Location, saved Selection) *Request {
	r := c.newRequest(ActionGoTo, loc)
	r.Saved = &saved
	return c.start(r)
}

// GoBack navigates steps entries back in history. It returns nil when
// there is nothing to go back to.
func (c *Coordinator) GoBack(steps int) *Request {
	return c.goHistory(ActionGoBack, -max(steps, 1))
}

// GoForward navigates steps entries forward in history.
func (c *Coordinator) GoForward(steps int) *Request {
	return c.goHistory(ActionGoForward, max(steps, 1))
}

func (c *Coordinator) goHistory(action Action, offset int) *Request {
	idx, loc, ok := c.history.peek(offset)
	if !ok {
		return nil
	}
	r := c.newRequest(action, loc)
	r.historyIndex = idx
	return c.start(r)
}

// GoUp navigates steps levels up from the current folder and selects the
// folder it came from.
func (c *Coordinator) GoUp(steps int) *Request {
	if c.location == nil {
		return nil
	}
	cur := c.location.Location
	child := cur
	for range max(steps, 1) {
		parent, ok := cur.Parent()
		if !ok {
			break
		}
		child, cur = cur, parent
	}
	if cur == c.location.Location {
		return nil
	}
	r := c.newRequest(ActionGoUp, cur)
	r.FileToSelect = child
	return c.start(r)
}

// GoHome navigates to the configured home location.
func (c *Coordinator) GoHome() *Request {
	if c.home == "" {
		return nil
	}
	return c.GoTo(c.home, "")
}

// Reload lists the current folder again, keeping the selection.
func (c *Coordinator) Reload() *Request {
	if c.location == nil {
		return nil
	}
	sel := c.presenter.CurrentSelection()
	r := c.newRequest(ActionGoTo, c.location.Location)
	r.Saved = &sel
	r.Automatic = true
	return c.start(r)
}

// TreeOpen loads folder and its ancestors into the tree and expands it.
// The current location does not change.
func (c *Coordinator) TreeOpen(folder vfs.Location) *Request {
	return c.start(c.newRequest(ActionTreeOpen, folder))
}

// ListChildren (re)loads the children of folder into the tree.
func (c *Coordinator) ListChildren(folder vfs.Location) *Request {
	return c.start(c.newRequest(ActionTreeListChildren, folder))
}

// ClearHistory empties the history, keeping the current folder.
func (c *Coordinator) ClearHistory() {
	var keep vfs.Location
	if c.location != nil {
		keep = c.location.Location
	}
	c.history.Clear(keep)
}

// SetShowHidden changes the hidden file policy and reloads the current
// folder when it changed.
func (c *Coordinator) SetShowHidden(show bool) *Request {
	if c.visibility.ShowHidden == show {
		return nil
	}
	c.visibility.ShowHidden = show
	return c.Reload()
}

// SetFilter replaces the file filter and reloads the current folder.
func (c *Coordinator) SetFilter(q *filter.Query) *Request {
	c.visibility.Filter = q
	return c.Reload()
}

// SetDefaultSort changes the order used for folders without a stored one.
func (c *Coordinator) SetDefaultSort(order SortOrder) {
	c.defaultSort = order
}

// SetSortOrder sorts the current folder by order and stores the order in
// the folder's metadata.
func (c *Coordinator) SetSortOrder(order SortOrder) *vfs.Future[struct{}] {
	if c.location == nil || c.source == nil {
		return vfs.Resolved(struct{}{}, errors.New("no current location"))
	}
	folder := c.location.Clone()
	order.apply(folder)
	c.location = folder
	if s, ok := c.presenter.(Sorter); ok {
		s.SetSortOrder(order)
	}
	return c.source.WriteMetadata(c.ctx, folder, metadataAttrs)
}

// CancelAll cancels every in-flight request and backend operation.
func (c *Coordinator) CancelAll() {
	for _, r := range c.inflight {
		c.cancelRequest(r)
	}
	c.registry.CancelAll()
}

// Shutdown cancels all work and blocks, polling at interval, until every
// in-flight request and monitor read has settled. It must be called from
// outside the loop while the loop is still running.
func (c *Coordinator) Shutdown(ctx context.Context, interval time.Duration) error {
	err := c.loop.Call(func() {
		c.CancelAll()
		c.unmonitor()
	})
	if err != nil && !errors.Is(err, loop.ErrClosed) {
		return err
	}
	err = c.loop.WaitIdle(ctx, interval)
	c.stop()
	return err
}

func (c *Coordinator) newRequest(action Action, target vfs.Location) *Request {
	r := newRequest(c.ctx, action, target)
	if action.ChangesFolder() {
		r.key = folderKey
	} else {
		r.key = treeKey + string(target)
	}
	return r
}

// start makes r the relevant request for its key, cancelling the one it
// supersedes, and launches its walk.
func (c *Coordinator) start(r *Request) *Request {
	c.generations[r.key]++
	r.gen = c.generations[r.key]
	if old := c.inflight[r.key]; old != nil {
		debug.Log(debug.NAV, "request %s superseded by %s", old.ID, r.ID)
		c.cancelRequest(old)
	}
	c.inflight[r.key] = r

	r.selectFile = r.FileToSelect
	if r.selectFile == "" && r.Action.ChangesFolder() {
		r.selectFile = c.currentFile
	}
	if r.Action == ActionTreeListChildren {
		c.presenter.MarkLoading(r.Target)
	}

	debug.Log(debug.NAV, "request %s: %s %s (gen %d, automatic %v)", r.ID, r.Action, r.Target, r.gen, r.Automatic)
	metrics.IncActiveRequests()
	c.loop.Begin()
	go c.run(r)
	return r
}

func (c *Coordinator) relevant(r *Request) bool {
	return !r.State().Terminal() && c.generations[r.key] == r.gen
}

func (c *Coordinator) forget(r *Request) {
	if c.inflight[r.key] == r {
		delete(c.inflight, r.key)
	}
}

func (c *Coordinator) cancelRequest(r *Request) {
	r.cancel()
	c.settle(r, StateCancelled, vfs.ErrCancelled)
	c.forget(r)
}

func (c *Coordinator) settle(r *Request, s State, err error) {
	if !r.terminate(s, err) {
		return
	}
	metrics.RecordNavigation(r.Action.String(), s.String(), time.Since(r.started))
	debug.Log(debug.NAV, "request %s: %s", r.ID, s)
}

// run is the request goroutine: walk off the loop, then settle on it.
func (c *Coordinator) run(r *Request) {
	defer c.loop.End()
	defer metrics.DecActiveRequests()

	err := c.walk(r)
	if c.loop.Call(func() { c.finish(r, err) }) != nil {
		r.cancel()
		r.terminate(StateCancelled, vfs.ErrCancelled)
	}
}

func (c *Coordinator) walk(r *Request) error {
	entry, src, err := c.resolver.Resolve(r.ctx, r.Target)
	if err != nil {
		return err
	}
	r.entry, r.source = entry, src
	if !r.advance(StateResolving, StateWalkingAncestors) {
		return vfs.ErrCancelled
	}

	if r.Action.ChangesFolder() {
		if err := c.inspectTarget(r); err != nil {
			return err
		}
	}

	chain, err := vfs.AncestorChain(entry.Location, r.target)
	if err != nil {
		return err
	}
	r.chain = chain

	// Everything down to the deepest loaded ancestor is already in the
	// tree and only needs expanding.
	skip := -1
	relevant := false
	err = c.loop.Call(func() {
		if relevant = c.relevant(r); !relevant {
			return
		}
		for i := len(chain) - 2; i >= 0; i-- {
			if c.presenter.IsLoaded(chain[i]) {
				skip = i
				break
			}
		}
		for _, folder := range chain[:skip+1] {
			c.presenter.Expand(folder)
		}
	})
	if err != nil || !relevant {
		return vfs.ErrCancelled
	}

	for i := skip + 1; i < len(chain); i++ {
		r.cursor = i
		if err := c.step(r, chain[i], i == len(chain)-1); err != nil {
			return err
		}
	}
	return nil
}

// inspectTarget reads the target's attributes. A regular file retargets the
// request to its parent and selects the file.
func (c *Coordinator) inspectTarget(r *Request) error {
	info, err := r.source.ReadAttributes(r.ctx, []vfs.Location{r.Target}, vfs.AttrStandard).Await(r.ctx)
	if err == nil && len(info) == 0 {
		err = fs.ErrNotExist
	}
	if err != nil {
		if vfs.IsCancelled(err) {
			return vfs.ErrCancelled
		}
		return &walkError{folder: r.Target, err: err}
	}

	switch f := info[0]; f.Kind {
	case vfs.KindDirectory:
		r.folder = f
	case vfs.KindRegular:
		parent, ok := r.Target.Parent()
		if !ok || !parent.HasAncestor(r.entry.Location) {
			return fmt.Errorf("%s: %w", r.Target, vfs.ErrFileTypeUnsupported)
		}
		r.target = parent
		r.selectFile = r.Target
		r.folder = vfs.NewFileData(parent, vfs.KindDirectory)
	default:
		return fmt.Errorf("%s: %w", r.Target, vfs.ErrFileTypeUnsupported)
	}
	return nil
}

// step lists one folder of the chain and hands it to the presenter.
func (c *Coordinator) step(r *Request, folder vfs.Location, last bool) error {
	relevant := false
	err := c.loop.Call(func() {
		if relevant = c.relevant(r); relevant {
			c.enterFolder(folder)
		}
	})
	if err != nil || !relevant {
		return vfs.ErrCancelled
	}

	files, fetchErr := c.fetch(r, folder, last)

	relevant = false
	err = c.loop.Call(func() {
		defer c.leaveFolder(folder)
		if relevant = c.relevant(r); !relevant || fetchErr != nil {
			return
		}
		c.presenter.SetChildren(folder, c.visibility.Apply(files))
		if !last || r.Action == ActionTreeOpen {
			c.presenter.Expand(folder)
		}
	})
	switch {
	case err != nil:
		return vfs.ErrCancelled
	case fetchErr != nil && vfs.IsCancelled(fetchErr):
		return vfs.ErrCancelled
	case fetchErr != nil:
		return &walkError{folder: folder, err: fetchErr}
	case !relevant:
		return vfs.ErrCancelled
	}
	if last {
		r.files = files
	}
	return nil
}

// fetch lists folder. At the target of a folder-changing request the
// folder metadata is read first.
func (c *Coordinator) fetch(r *Request, folder vfs.Location, last bool) ([]*vfs.FileData, error) {
	if last && r.Action.ChangesFolder() {
		meta, err := r.source.ReadMetadata(r.ctx, r.folder, metadataAttrs).Await(r.ctx)
		switch {
		case err == nil:
			r.folder = meta
		case !errors.Is(err, vfs.ErrNotSupported):
			return nil, err
		}
	}
	return r.source.List(r.ctx, folder, vfs.AttrStandard).Await(r.ctx)
}

func (c *Coordinator) enterFolder(folder vfs.Location) {
	c.walking[folder]++
}

func (c *Coordinator) leaveFolder(folder vfs.Location) {
	if c.walking[folder]--; c.walking[folder] > 0 {
		return
	}
	delete(c.walking, folder)
	c.bridge.replay(folder)
}

func (c *Coordinator) isWalking(folder vfs.Location) bool {
	return c.walking[folder] > 0
}

func (c *Coordinator) finish(r *Request, err error) {
	defer r.cancel()
	defer c.forget(r)

	if r.State().Terminal() {
		return
	}
	if err == nil && !c.relevant(r) {
		err = vfs.ErrCancelled
	}

	switch {
	case err == nil && r.Action.ChangesFolder():
		c.complete(r)
	case err == nil:
		c.settle(r, StateSucceeded, nil)
	case vfs.IsCancelled(err):
		c.settle(r, StateCancelled, vfs.ErrCancelled)
	default:
		c.fail(r, err)
	}
}

// complete makes r's folder the current location.
func (c *Coordinator) complete(r *Request) {
	if !r.advance(StateWalkingAncestors, StateCompleting) {
		return
	}

	c.location = r.folder.Clone()
	c.source = r.source
	c.root = r.entry.Location

	if loc, ok := c.history.At(r.historyIndex); ok && loc == r.target {
		c.history.SetIndex(r.historyIndex)
	} else {
		c.history.Add(r.target)
	}

	c.presenter.SetLocation(r.folder.Clone())
	if s, ok := c.presenter.(Sorter); ok {
		s.SetSortOrder(sortOrderFor(r.folder, c.defaultSort))
	}
	c.restoreSelection(r)
	c.monitor(r.source, r.target)

	c.notifier.LocationReady(r)
	c.settle(r, StateSucceeded, nil)
}

func (c *Coordinator) restoreSelection(r *Request) {
	listed := func(loc vfs.Location) bool {
		for _, f := range r.files {
			if f.Location == loc {
				return true
			}
		}
		return false
	}

	switch {
	case r.selectFile != "" && listed(r.selectFile):
		c.presenter.SelectAndScrollTo(r.selectFile)
		c.currentFile = r.selectFile
	case r.Saved != nil:
		c.presenter.RestoreSelection(*r.Saved)
		c.currentFile = ""
		if len(r.Saved.Files) > 0 && listed(r.Saved.Files[0]) {
			c.currentFile = r.Saved.Files[0]
		}
	default:
		c.presenter.SelectAndScrollTo("")
		c.currentFile = ""
	}
}

// monitor moves directory monitoring to loc.
func (c *Coordinator) monitor(src *vfs.Source, loc vfs.Location) {
	if c.monitored == loc && c.monitoredSrc == src {
		return
	}
	c.unmonitor()
	src.MonitorDirectory(loc, true)
	c.monitored, c.monitoredSrc = loc, src
}

func (c *Coordinator) unmonitor() {
	if c.monitoredSrc != nil {
		c.monitoredSrc.MonitorDirectory(c.monitored, false)
	}
	c.monitored, c.monitoredSrc = "", nil
}

func (c *Coordinator) fail(r *Request, err error) {
	var we *walkError
	if errors.As(err, &we) && r.Action.ChangesFolder() && !r.fallback {
		if parent, ok := r.target.Parent(); ok {
			fb := c.newRequest(r.Action, parent)
			fb.Automatic = true
			fb.fallback = true
			r.next = fb
			c.settle(r, StateFailed, err)

			logging.Warn("navigation failed, trying parent folder",
				zap.String("location", r.Target.String()),
				zap.String("folder", we.folder.String()),
				zap.Error(err))
			c.start(fb)
			return
		}
	}

	if r.Action == ActionTreeListChildren {
		c.presenter.SetChildren(r.Target, nil)
	}
	c.settle(r, StateFailed, err)
	logging.Warn("navigation failed", zap.String("location", r.Target.String()), zap.Error(err))
	c.notifier.NavigationFailed(fmt.Sprintf("Could not load the position %q", r.Target.String()), err)
}
