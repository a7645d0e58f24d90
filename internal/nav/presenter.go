package nav

import "github.com/justyntemme/waypoint/internal/vfs"

// Selection is a presenter's selected files plus its scroll offset.
type Selection struct {
	Files  []vfs.Location
	Scroll float64
}

// Presenter is the tree/list view the coordinator pushes folder contents
// into. Every method is called on the event loop.
type Presenter interface {
	SetChildren(folder vfs.Location, files []*vfs.FileData)
	AddChildren(folder vfs.Location, files []*vfs.FileData, position int)
	UpdateChildren(folder vfs.Location, files []*vfs.FileData)
	DeleteChildren(folder vfs.Location, files []vfs.Location)
	RenameChild(from vfs.Location, file *vfs.FileData)

	// MarkLoading flags folder as dirty until the next SetChildren.
	MarkLoading(folder vfs.Location)
	IsLoaded(folder vfs.Location) bool
	Expand(folder vfs.Location)
	// Children returns folder's children in display order.
	Children(folder vfs.Location) []*vfs.FileData

	SetLocation(folder *vfs.FileData)
	// SelectAndScrollTo selects file; an empty location clears the selection.
	SelectAndScrollTo(file vfs.Location)
	CurrentSelection() Selection
	RestoreSelection(sel Selection)
}

// Sorter is implemented by presenters that sort their file list.
type Sorter interface {
	SetSortOrder(order SortOrder)
}

// RootsPresenter is implemented by presenters that show the entry points.
type RootsPresenter interface {
	SetEntryPoints(eps []vfs.EntryPoint)
}

// Notifier receives navigation outcomes. Both methods run on the loop.
type Notifier interface {
	LocationReady(r *Request)
	NavigationFailed(title string, err error)
}

type nopNotifier struct{}

func (nopNotifier) LocationReady(*Request)         {}
func (nopNotifier) NavigationFailed(string, error) {}
