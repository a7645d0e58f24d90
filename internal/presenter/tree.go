// Package presenter holds the folder tree and file list that navigation
// fills in. It is the presenter used by the command line front end.
package presenter

import (
	"cmp"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/justyntemme/waypoint/internal/debug"
	"github.com/justyntemme/waypoint/internal/nav"
	"github.com/justyntemme/waypoint/internal/vfs"
)

type node struct {
	children []*vfs.FileData
	loaded   bool
	expanded bool
}

// Tree is the single source of truth for what the user sees.
//
// Navigation mutates it from the event loop; front ends read it through
// Snapshot from any goroutine.
type Tree struct {
	mu sync.RWMutex

	nodes    map[vfs.Location]*node
	location *vfs.FileData
	roots    []vfs.EntryPoint

	selected []vfs.Location
	scroll   float64
	order    nav.SortOrder

	onChange func()
}

// Row is one line of the flattened tree.
type Row struct {
	File     *vfs.FileData
	Depth    int
	Expanded bool
}

// Snapshot is an immutable copy of the tree state.
type Snapshot struct {
	Location *vfs.FileData
	Files    []*vfs.FileData // children of Location, sorted
	Selected []vfs.Location
	Scroll   float64
	Order    nav.SortOrder
	Roots    []vfs.EntryPoint
}

var (
	_ nav.Presenter      = (*Tree)(nil)
	_ nav.Sorter         = (*Tree)(nil)
	_ nav.RootsPresenter = (*Tree)(nil)
)

// NewTree creates an empty tree. onChange, if set, is called after every
// mutation, outside the lock.
func NewTree(onChange func()) *Tree {
	return &Tree{
		nodes:    make(map[vfs.Location]*node),
		onChange: onChange,
	}
}

func (t *Tree) nodeLocked(folder vfs.Location) *node {
	n, ok := t.nodes[folder]
	if !ok {
		n = &node{}
		t.nodes[folder] = n
	}
	return n
}

func (t *Tree) changed() {
	if t.onChange != nil {
		t.onChange()
	}
}

// SetChildren replaces folder's children and marks it loaded.
func (t *Tree) SetChildren(folder vfs.Location, files []*vfs.FileData) {
	t.mu.Lock()
	n := t.nodeLocked(folder)
	n.children = vfs.CloneFiles(files)
	n.loaded = true
	t.sortLocked(n.children)

	// Subfolders that disappeared take their subtrees with them.
	for loc := range t.nodes {
		if p, ok := loc.Parent(); ok && p == folder && !hasChild(n.children, loc) {
			t.dropLocked(loc)
		}
	}
	t.mu.Unlock()

	debug.Log(debug.APP, "tree: %s has %d children", folder, len(files))
	t.changed()
}

// AddChildren inserts files into folder. The tree keeps children sorted,
// so position is not used. Files already present are replaced.
func (t *Tree) AddChildren(folder vfs.Location, files []*vfs.FileData, position int) {
	t.mu.Lock()
	n := t.nodeLocked(folder)
	for _, f := range files {
		if i := indexOf(n.children, f.Location); i >= 0 {
			n.children[i] = f.Clone()
			continue
		}
		n.children = append(n.children, f.Clone())
	}
	t.sortLocked(n.children)
	t.mu.Unlock()
	t.changed()
}

// UpdateChildren refreshes the data of files already in folder.
func (t *Tree) UpdateChildren(folder vfs.Location, files []*vfs.FileData) {
	t.mu.Lock()
	n, ok := t.nodes[folder]
	if ok {
		for _, f := range files {
			if i := indexOf(n.children, f.Location); i >= 0 {
				n.children[i] = f.Clone()
			}
		}
		t.sortLocked(n.children)
	}
	t.mu.Unlock()
	if ok {
		t.changed()
	}
}

// DeleteChildren removes files, and any subtree below them, from folder.
func (t *Tree) DeleteChildren(folder vfs.Location, files []vfs.Location) {
	t.mu.Lock()
	if n, ok := t.nodes[folder]; ok {
		n.children = slices.DeleteFunc(n.children, func(f *vfs.FileData) bool {
			return slices.Contains(files, f.Location)
		})
	}
	for _, f := range files {
		t.dropLocked(f)
	}
	t.selected = slices.DeleteFunc(t.selected, func(l vfs.Location) bool {
		return slices.Contains(files, l)
	})
	t.mu.Unlock()
	t.changed()
}

// RenameChild replaces the entry for from with file, moving its subtree.
func (t *Tree) RenameChild(from vfs.Location, file *vfs.FileData) {
	t.mu.Lock()
	if parent, ok := from.Parent(); ok {
		if n, ok := t.nodes[parent]; ok {
			if i := indexOf(n.children, from); i >= 0 {
				n.children[i] = file.Clone()
				t.sortLocked(n.children)
			}
		}
	}

	moved := make(map[vfs.Location]*node)
	for loc, n := range t.nodes {
		if loc.HasAncestor(from) {
			moved[file.Location+vfs.Location(strings.TrimPrefix(string(loc), string(from)))] = n
			delete(t.nodes, loc)
		}
	}
	for loc, n := range moved {
		for i, c := range n.children {
			p, _ := c.Location.Parent()
			if p != loc {
				c = c.Clone()
				c.Location = loc.Join(c.Location.Base())
				n.children[i] = c
			}
		}
		t.nodes[loc] = n
	}

	for i, l := range t.selected {
		if l == from {
			t.selected[i] = file.Location
		}
	}
	t.mu.Unlock()
	t.changed()
}

func (t *Tree) dropLocked(folder vfs.Location) {
	for loc := range t.nodes {
		if loc.HasAncestor(folder) {
			delete(t.nodes, loc)
		}
	}
}

// MarkLoading flags folder as needing a fresh listing.
func (t *Tree) MarkLoading(folder vfs.Location) {
	t.mu.Lock()
	t.nodeLocked(folder).loaded = false
	t.mu.Unlock()
}

// IsLoaded reports whether folder has been listed and not marked dirty.
func (t *Tree) IsLoaded(folder vfs.Location) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[folder]
	return ok && n.loaded
}

// Expand shows folder's children in the tree.
func (t *Tree) Expand(folder vfs.Location) {
	t.mu.Lock()
	t.nodeLocked(folder).expanded = true
	t.mu.Unlock()
	t.changed()
}

// Collapse hides folder's children, and those of expanded subfolders.
func (t *Tree) Collapse(folder vfs.Location) {
	t.mu.Lock()
	for loc, n := range t.nodes {
		if loc.HasAncestor(folder) {
			n.expanded = false
		}
	}
	t.mu.Unlock()
	t.changed()
}

// IsExpanded reports whether folder is expanded.
func (t *Tree) IsExpanded(folder vfs.Location) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[folder]
	return ok && n.expanded
}

// Children returns copies of folder's children in display order.
func (t *Tree) Children(folder vfs.Location) []*vfs.FileData {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[folder]
	if !ok {
		return nil
	}
	return vfs.CloneFiles(n.children)
}

// SetLocation records the current folder.
func (t *Tree) SetLocation(folder *vfs.FileData) {
	t.mu.Lock()
	t.location = folder.Clone()
	t.scroll = 0
	t.mu.Unlock()
	t.changed()
}

// SelectAndScrollTo selects a single file, or clears the selection.
func (t *Tree) SelectAndScrollTo(file vfs.Location) {
	t.mu.Lock()
	t.selected = nil
	t.scroll = 0
	if file != "" {
		t.selected = []vfs.Location{file}
		if t.location != nil {
			if n, ok := t.nodes[t.location.Location]; ok {
				if i := indexOf(n.children, file); i >= 0 && len(n.children) > 1 {
					t.scroll = float64(i) / float64(len(n.children)-1)
				}
			}
		}
	}
	t.mu.Unlock()
	t.changed()
}

// Select sets the selection without scrolling.
func (t *Tree) Select(files ...vfs.Location) {
	t.mu.Lock()
	t.selected = slices.Clone(files)
	t.mu.Unlock()
	t.changed()
}

// SetScroll records the list's scroll offset, 0 to 1.
func (t *Tree) SetScroll(offset float64) {
	t.mu.Lock()
	t.scroll = min(max(offset, 0), 1)
	t.mu.Unlock()
}

// CurrentSelection returns the selection and scroll offset.
func (t *Tree) CurrentSelection() nav.Selection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return nav.Selection{Files: slices.Clone(t.selected), Scroll: t.scroll}
}

// RestoreSelection reinstates a saved selection, keeping only files that
// are still listed.
func (t *Tree) RestoreSelection(sel nav.Selection) {
	t.mu.Lock()
	t.selected = nil
	if t.location != nil {
		if n, ok := t.nodes[t.location.Location]; ok {
			for _, f := range sel.Files {
				if indexOf(n.children, f) >= 0 {
					t.selected = append(t.selected, f)
				}
			}
		}
	}
	t.scroll = sel.Scroll
	t.mu.Unlock()
	t.changed()
}

// SetSortOrder re-sorts every folder.
func (t *Tree) SetSortOrder(order nav.SortOrder) {
	t.mu.Lock()
	t.order = order
	for _, n := range t.nodes {
		t.sortLocked(n.children)
	}
	t.mu.Unlock()
	t.changed()
}

// SetEntryPoints replaces the list of roots.
func (t *Tree) SetEntryPoints(eps []vfs.EntryPoint) {
	t.mu.Lock()
	t.roots = slices.Clone(eps)
	t.mu.Unlock()
	t.changed()
}

// Snapshot returns a copy of the state for rendering.
func (t *Tree) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Snapshot{
		Location: t.location.Clone(),
		Selected: slices.Clone(t.selected),
		Scroll:   t.scroll,
		Order:    t.order,
		Roots:    slices.Clone(t.roots),
	}
	if t.location != nil {
		if n, ok := t.nodes[t.location.Location]; ok {
			s.Files = vfs.CloneFiles(n.children)
		}
	}
	return s
}

// Rows flattens the expanded part of the tree below root, depth first.
func (t *Tree) Rows(root vfs.Location) []Row {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var rows []Row
	var walk func(folder vfs.Location, depth int)
	walk = func(folder vfs.Location, depth int) {
		n, ok := t.nodes[folder]
		if !ok || !n.expanded {
			return
		}
		for _, f := range n.children {
			if !f.IsDir() {
				continue
			}
			child, ok := t.nodes[f.Location]
			expanded := ok && child.expanded
			rows = append(rows, Row{File: f.Clone(), Depth: depth, Expanded: expanded})
			if expanded {
				walk(f.Location, depth+1)
			}
		}
	}
	walk(root, 0)
	return rows
}

// sortLocked orders files: directories first, then by the sort key.
func (t *Tree) sortLocked(files []*vfs.FileData) {
	order := t.order
	slices.SortStableFunc(files, func(a, b *vfs.FileData) int {
		if a.IsDir() != b.IsDir() {
			if a.IsDir() {
				return -1
			}
			return 1
		}

		var c int
		switch order.By {
		case nav.SortByDate:
			c = a.ModTime.Compare(b.ModTime)
		case nav.SortBySize:
			c = cmp.Compare(a.Size, b.Size)
		case nav.SortByType:
			c = strings.Compare(strings.ToLower(path.Ext(a.Name)), strings.ToLower(path.Ext(b.Name)))
		}
		if c == 0 {
			c = strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		}
		if order.Inverse {
			return -c
		}
		return c
	})
}

func indexOf(files []*vfs.FileData, loc vfs.Location) int {
	return slices.IndexFunc(files, func(f *vfs.FileData) bool { return f.Location == loc })
}

func hasChild(files []*vfs.FileData, loc vfs.Location) bool {
	return indexOf(files, loc) >= 0
}
