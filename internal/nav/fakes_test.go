package nav

import (
	"context"
	"io/fs"
	"maps"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/justyntemme/waypoint/internal/loop"
	"github.com/justyntemme/waypoint/internal/vfs"
)

func loc(p string) vfs.Location {
	return vfs.MustParse("fake://" + p)
}

// fakeBackend serves an in-memory tree. Listings can be gated per folder
// to hold a request mid-walk.
type fakeBackend struct {
	vfs.Base

	mu        sync.Mutex
	roots     []vfs.EntryPoint
	files     map[vfs.Location]*vfs.FileData
	meta      map[vfs.Location]map[string]string
	gates     map[vfs.Location]chan struct{}
	entered   map[vfs.Location]chan struct{}
	lists     []vfs.Location
	monitored []string
}

func newFakeBackend(root string) *fakeBackend {
	b := &fakeBackend{
		roots:   []vfs.EntryPoint{{Location: loc(root), Name: root}},
		files:   make(map[vfs.Location]*vfs.FileData),
		meta:    make(map[vfs.Location]map[string]string),
		gates:   make(map[vfs.Location]chan struct{}),
		entered: make(map[vfs.Location]chan struct{}),
	}
	b.add(vfs.KindDirectory, root)
	return b
}

func (b *fakeBackend) Name() string      { return "fake" }
func (b *fakeBackend) Schemes() []string { return []string{"fake"} }

func (b *fakeBackend) add(kind vfs.FileKind, paths ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range paths {
		f := vfs.NewFileData(loc(p), kind)
		f.Hidden = strings.HasPrefix(f.Name, ".")
		b.files[f.Location] = f
	}
}

// remove deletes paths and everything below them.
func (b *fakeBackend) remove(paths ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range paths {
		gone := loc(p)
		for l := range b.files {
			if l.HasAncestor(gone) {
				delete(b.files, l)
			}
		}
	}
}

// gate blocks listings of folder until the returned channel is closed. The
// second channel is closed when the listing starts.
func (b *fakeBackend) gate(folder vfs.Location) (release, entered chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	release, entered = make(chan struct{}), make(chan struct{})
	b.gates[folder] = release
	b.entered[folder] = entered
	return release, entered
}

func (b *fakeBackend) listCalls() []vfs.Location {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.lists)
}

func (b *fakeBackend) monitorCalls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.monitored)
}

func (b *fakeBackend) EntryPoints(ctx context.Context) ([]vfs.EntryPoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.roots), nil
}

func (b *fakeBackend) List(ctx context.Context, folder vfs.Location, attrs vfs.Attributes) ([]*vfs.FileData, error) {
	b.mu.Lock()
	b.lists = append(b.lists, folder)
	gate := b.gates[folder]
	if entered := b.entered[folder]; entered != nil {
		close(entered)
		delete(b.entered, folder)
	}
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if f, ok := b.files[folder]; !ok || !f.IsDir() {
		return nil, fs.ErrNotExist
	}
	var out []*vfs.FileData
	for l, f := range b.files {
		if p, ok := l.Parent(); ok && p == folder && l != folder {
			out = append(out, f.Clone())
		}
	}
	slices.SortFunc(out, func(x, y *vfs.FileData) int { return strings.Compare(string(x.Location), string(y.Location)) })
	return out, nil
}

func (b *fakeBackend) ReadAttributes(ctx context.Context, files []vfs.Location, attrs vfs.Attributes) ([]*vfs.FileData, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*vfs.FileData, 0, len(files))
	for _, l := range files {
		f, ok := b.files[l]
		if !ok {
			return nil, fs.ErrNotExist
		}
		out = append(out, f.Clone())
	}
	return out, nil
}

func (b *fakeBackend) ReadMetadata(ctx context.Context, file *vfs.FileData, attrs vfs.Attributes) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range b.meta[file.Location] {
		file.SetAttribute(k, v)
	}
	return nil
}

func (b *fakeBackend) WriteMetadata(ctx context.Context, file *vfs.FileData, attrs vfs.Attributes) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.meta[file.Location] = maps.Clone(file.Attributes)
	return nil
}

func (b *fakeBackend) MonitorDirectory(file vfs.Location, enable bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	op := "stop "
	if enable {
		op = "watch "
	}
	b.monitored = append(b.monitored, op+string(file))
}

// fakePresenter keeps folder contents in maps. It is only touched on the
// loop.
type fakePresenter struct {
	children map[vfs.Location][]*vfs.FileData
	loaded   map[vfs.Location]bool
	expanded []vfs.Location
	ops      []string
	location *vfs.FileData
	selected vfs.Location
	scroll   float64
	order    SortOrder
	roots    []vfs.EntryPoint
}

func newFakePresenter() *fakePresenter {
	return &fakePresenter{
		children: make(map[vfs.Location][]*vfs.FileData),
		loaded:   make(map[vfs.Location]bool),
	}
}

func (p *fakePresenter) SetChildren(folder vfs.Location, files []*vfs.FileData) {
	p.ops = append(p.ops, "set "+string(folder))
	p.children[folder] = vfs.CloneFiles(files)
	p.loaded[folder] = true
}

func (p *fakePresenter) AddChildren(folder vfs.Location, files []*vfs.FileData, position int) {
	p.ops = append(p.ops, "add "+string(folder))
	for _, f := range files {
		if slices.IndexFunc(p.children[folder], func(c *vfs.FileData) bool { return c.Location == f.Location }) < 0 {
			p.children[folder] = append(p.children[folder], f.Clone())
		}
	}
}

func (p *fakePresenter) UpdateChildren(folder vfs.Location, files []*vfs.FileData) {
	p.ops = append(p.ops, "update "+string(folder))
	for _, f := range files {
		for i, c := range p.children[folder] {
			if c.Location == f.Location {
				p.children[folder][i] = f.Clone()
			}
		}
	}
}

func (p *fakePresenter) DeleteChildren(folder vfs.Location, files []vfs.Location) {
	p.ops = append(p.ops, "delete "+string(folder))
	p.children[folder] = slices.DeleteFunc(p.children[folder], func(c *vfs.FileData) bool {
		return slices.Contains(files, c.Location)
	})
}

func (p *fakePresenter) RenameChild(from vfs.Location, file *vfs.FileData) {
	for folder, kids := range p.children {
		for i, c := range kids {
			if c.Location == from {
				p.children[folder][i] = file.Clone()
			}
		}
	}
}

func (p *fakePresenter) MarkLoading(folder vfs.Location) { p.loaded[folder] = false }
func (p *fakePresenter) IsLoaded(folder vfs.Location) bool { return p.loaded[folder] }
func (p *fakePresenter) Expand(folder vfs.Location) { p.expanded = append(p.expanded, folder) }
func (p *fakePresenter) Children(folder vfs.Location) []*vfs.FileData { return p.children[folder] }
func (p *fakePresenter) SetLocation(folder *vfs.FileData) { p.location = folder }
func (p *fakePresenter) SelectAndScrollTo(file vfs.Location) { p.selected = file }
func (p *fakePresenter) SetSortOrder(order SortOrder) { p.order = order }
func (p *fakePresenter) SetEntryPoints(eps []vfs.EntryPoint) { p.roots = eps }

func (p *fakePresenter) CurrentSelection() Selection {
	sel := Selection{Scroll: p.scroll}
	if p.selected != "" {
		sel.Files = []vfs.Location{p.selected}
	}
	return sel
}

func (p *fakePresenter) RestoreSelection(sel Selection) {
	p.scroll = sel.Scroll
	p.selected = ""
	if len(sel.Files) > 0 {
		p.selected = sel.Files[0]
	}
}

func (p *fakePresenter) names(folder vfs.Location) []string {
	var out []string
	for _, f := range p.children[folder] {
		out = append(out, f.Name)
	}
	return out
}

type fakeNotifier struct {
	ready  []*Request
	titles []string
	errs   []error
}

func (n *fakeNotifier) LocationReady(r *Request) { n.ready = append(n.ready, r) }

func (n *fakeNotifier) NavigationFailed(title string, err error) {
	n.titles = append(n.titles, title)
	n.errs = append(n.errs, err)
}

type harness struct {
	t       *testing.T
	loop    *loop.Loop
	reg     *vfs.Registry
	backend *fakeBackend
	pres    *fakePresenter
	notes   *fakeNotifier
	coord   *Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	l := loop.New()
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})

	h := &harness{
		t:       t,
		loop:    l,
		reg:     vfs.NewRegistry(),
		backend: newFakeBackend("/a"),
		pres:    newFakePresenter(),
		notes:   &fakeNotifier{},
	}
	_, err := h.reg.Register(h.backend)
	require.NoError(t, err)
	require.NoError(t, h.reg.Refresh(context.Background()))

	h.coord = New(Deps{
		Loop:      l,
		Registry:  h.reg,
		Presenter: h.pres,
		Notifier:  h.notes,
		Home:      loc("/a"),
	})
	return h
}

// do runs fn on the loop and waits for it.
func (h *harness) do(fn func()) {
	h.t.Helper()
	require.NoError(h.t, h.loop.Call(fn))
}

func (h *harness) wait(r *Request) {
	h.t.Helper()
	require.NotNil(h.t, r)
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		h.t.Fatalf("request %s to %s did not finish, state %s", r.ID, r.Target, r.State())
	}
	// Let tasks posted by the request's last step run.
	h.do(func() {})
}

func (h *harness) goTo(target, selectFile vfs.Location) *Request {
	h.t.Helper()
	var r *Request
	h.do(func() { r = h.coord.GoTo(target, selectFile) })
	h.wait(r)
	return r
}

func (h *harness) location() vfs.Location {
	h.t.Helper()
	var l vfs.Location
	h.do(func() {
		if f := h.coord.Location(); f != nil {
			l = f.Location
		}
	})
	return l
}

// eventually polls cond on the loop.
func (h *harness) eventually(cond func() bool, msg string) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		ok := false
		if err := h.loop.Call(func() { ok = cond() }); err != nil {
			return false
		}
		return ok
	}, 5*time.Second, 10*time.Millisecond, msg)
}
