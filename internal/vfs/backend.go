package vfs

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// EntryPoint is a root location plus its display metadata.
type EntryPoint struct {
	Location Location
	Name     string
	Icon     string // "home", "drive", "bookmark", "network", "bucket"
}

// Space is the capacity of the volume holding a location, in bytes.
type Space struct {
	Total uint64
	Free  uint64
}

// DirOp tells ForEachChild how to continue after a directory.
type DirOp int

const (
	DirContinue DirOp = iota
	DirSkip           // do not descend
	DirStop           // end the traversal
)

// DirFunc is called for each directory ForEachChild enters.
type DirFunc func(dir *FileData) DirOp

// FileFunc is called for each child ForEachChild reports.
type FileFunc func(file *FileData)

// Progress reports copy progress.
type Progress struct {
	Label   string
	Current int64
	Total   int64
}

// ProgressFunc receives progress updates on the backend goroutine.
type ProgressFunc func(Progress)

// ConflictResolution is the answer to a copy conflict.
type ConflictResolution int

const (
	ConflictOverwrite ConflictResolution = iota
	ConflictSkip
	ConflictKeepBoth
	ConflictAbort
)

// ConflictFunc decides what to do when a copy target exists. It runs on
// the backend goroutine and may block waiting for the user.
type ConflictFunc func(src, dst *FileData) ConflictResolution

// CopyRequest describes a copy or move into Destination.
type CopyRequest struct {
	Destination Location
	Files       []Location
	Move        bool
	Position    int // insertion position for reorderable destinations, -1 for none
	Progress    ProgressFunc
	Conflict    ConflictFunc
}

// ReorderRequest moves Move to Position among Visible inside Destination.
type ReorderRequest struct {
	Destination Location
	Visible     []Location
	Move        []Location
	Position    int
}

// DropAction is a bit set of allowed drag and drop actions.
type DropAction int

const (
	DropCopy DropAction = 1 << iota
	DropMove
	DropLink
)

// Backend implements the filesystem primitives for one naming scheme.
//
// Primitives block and honor ctx at their own discretion. They are never
// called directly by navigation code: a Source serializes them through its
// OperationQueue. Embed Base to inherit defaults for optional primitives.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Schemes lists the URI schemes the backend accepts.
	Schemes() []string
	EntryPoints(ctx context.Context) ([]EntryPoint, error)

	List(ctx context.Context, folder Location, attrs Attributes) ([]*FileData, error)
	ForEachChild(ctx context.Context, parent Location, recursive bool, attrs Attributes, dir DirFunc, file FileFunc) error
	ReadAttributes(ctx context.Context, files []Location, attrs Attributes) ([]*FileData, error)
	ReadMetadata(ctx context.Context, file *FileData, attrs Attributes) error
	WriteMetadata(ctx context.Context, file *FileData, attrs Attributes) error
	Rename(ctx context.Context, file Location, newName string) (Location, error)
	Copy(ctx context.Context, req CopyRequest) error
	Reorder(ctx context.Context, req ReorderRequest) error
	Remove(ctx context.Context, location Location, files []Location, permanently bool) error
	DeletedFromDisk(ctx context.Context, location Location, files []Location) error
	FreeSpace(ctx context.Context, location Location) (Space, error)

	MonitorDirectory(file Location, enable bool)
	MonitorEntryPoints()
	CanCut() bool
	DropActions(dest, file Location) DropAction
	CurrentList(file Location) []Location
}

// Mounter is implemented by backends that can make an unreachable location
// reachable, for example by connecting to a remote host.
type Mounter interface {
	MountEnclosingVolume(ctx context.Context, loc Location) error
}

// Base provides default behavior for the optional primitives.
type Base struct{}

func (Base) ForEachChild(ctx context.Context, parent Location, recursive bool, attrs Attributes, dir DirFunc, file FileFunc) error {
	return ErrNotSupported
}

func (Base) ReadMetadata(ctx context.Context, file *FileData, attrs Attributes) error {
	return nil
}

func (Base) WriteMetadata(ctx context.Context, file *FileData, attrs Attributes) error {
	return ErrNotSupported
}

func (Base) Rename(ctx context.Context, file Location, newName string) (Location, error) {
	return "", ErrNotSupported
}

func (Base) Copy(ctx context.Context, req CopyRequest) error {
	return ErrNotSupported
}

func (Base) Reorder(ctx context.Context, req ReorderRequest) error {
	return ErrNotSupported
}

func (Base) Remove(ctx context.Context, location Location, files []Location, permanently bool) error {
	return ErrNotSupported
}

func (Base) DeletedFromDisk(ctx context.Context, location Location, files []Location) error {
	return nil
}

func (Base) FreeSpace(ctx context.Context, location Location) (Space, error) {
	return Space{}, ErrNotSupported
}

func (Base) MonitorDirectory(file Location, enable bool) {}

func (Base) MonitorEntryPoints() {}

func (Base) CanCut() bool { return false }

func (Base) DropActions(dest, file Location) DropAction { return DropCopy }

// CurrentList returns every location from the scheme root down to file, by
// parent traversal.
func (Base) CurrentList(file Location) []Location {
	chain, _ := AncestorChain(file.Root(), file)
	return chain
}

// ValidName reports whether name can be used as a single path element.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	for _, r := range name {
		if r == '/' || r == 0 {
			return false
		}
	}
	return true
}

// FreeName returns the first "name (n).ext" sibling of loc, counting from 2,
// for which exists reports false.
func FreeName(loc Location, exists func(Location) bool) Location {
	parent, ok := loc.Parent()
	if !ok {
		return loc
	}
	base := loc.Base()
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for n := 2; ; n++ {
		candidate := parent.Join(fmt.Sprintf("%s (%d)%s", stem, n, ext))
		if !exists(candidate) {
			return candidate
		}
	}
}
