// Package memfs implements the mem:// backend over an in-memory afero
// filesystem. It backs tests and the CLI's scratch space, and publishes
// monitor events for every mutation it performs.
package memfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/justyntemme/waypoint/internal/debug"
	"github.com/justyntemme/waypoint/internal/monitor"
	"github.com/justyntemme/waypoint/internal/vfs"
)

// Scheme is the URI scheme served by the backend.
const Scheme = "mem"

// Root is the only entry point.
var Root = vfs.Location(Scheme + ":///")

// Backend serves mem:// locations.
type Backend struct {
	vfs.Base
	fs  afero.Fs
	hub *monitor.Hub

	// Latency delays every primitive, for exercising cancellation.
	Latency time.Duration

	mu   sync.Mutex
	meta map[vfs.Location]map[string]string
}

// New creates an empty filesystem. hub may be nil.
func New(hub *monitor.Hub) *Backend {
	return &Backend{
		fs:   afero.NewMemMapFs(),
		hub:  hub,
		meta: make(map[vfs.Location]map[string]string),
	}
}

// Fs exposes the underlying filesystem.
func (b *Backend) Fs() afero.Fs { return b.fs }

func (b *Backend) Name() string { return "memory" }

func (b *Backend) Schemes() []string { return []string{Scheme} }

func (b *Backend) EntryPoints(ctx context.Context) ([]vfs.EntryPoint, error) {
	return []vfs.EntryPoint{{Location: Root, Name: "Memory", Icon: "drive"}}, nil
}

func osPath(loc vfs.Location) string {
	return filepath.FromSlash(loc.Path())
}

func (b *Backend) wait(ctx context.Context) error {
	if b.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(b.Latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// MkdirAll creates folder and its parents, publishing a created event for
// each new folder.
func (b *Backend) MkdirAll(folder vfs.Location) error {
	chain, err := vfs.AncestorChain(Root, folder)
	if err != nil {
		return err
	}
	for _, loc := range chain[1:] {
		if ok, _ := afero.DirExists(b.fs, osPath(loc)); ok {
			continue
		}
		if err := b.fs.Mkdir(osPath(loc), 0o755); err != nil {
			return err
		}
		b.created(loc)
	}
	return nil
}

// WriteFile creates or replaces file, creating its parents.
func (b *Backend) WriteFile(file vfs.Location, data []byte) error {
	parent, ok := file.Parent()
	if !ok {
		return fmt.Errorf("cannot write %s", file)
	}
	if err := b.MkdirAll(parent); err != nil {
		return err
	}
	existed, _ := afero.Exists(b.fs, osPath(file))
	if err := afero.WriteFile(b.fs, osPath(file), data, 0o644); err != nil {
		return err
	}
	if existed {
		b.publish(parent, file, monitor.Changed)
	} else {
		b.created(file)
	}
	return nil
}

func (b *Backend) created(loc vfs.Location) {
	if parent, ok := loc.Parent(); ok {
		b.publish(parent, loc, monitor.Created)
	}
}

func (b *Backend) publish(parent, file vfs.Location, kind monitor.EventKind) {
	if b.hub != nil {
		b.hub.FolderChanged(parent, []vfs.Location{file}, monitor.NoPosition, kind)
	}
}

// List returns the children of folder sorted by name.
func (b *Backend) List(ctx context.Context, folder vfs.Location, attrs vfs.Attributes) ([]*vfs.FileData, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	info, err := b.fs.Stat(osPath(folder))
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", folder)
	}
	infos, err := afero.ReadDir(b.fs, osPath(folder))
	if err != nil {
		return nil, err
	}
	out := make([]*vfs.FileData, 0, len(infos))
	for _, fi := range infos {
		out = append(out, fileData(folder.Join(fi.Name()), fi))
	}
	slices.SortFunc(out, func(a, b *vfs.FileData) int { return strings.Compare(a.Name, b.Name) })
	debug.Log(debug.FS, "memfs: list %s -> %d entries", folder, len(out))
	return out, nil
}

func fileData(loc vfs.Location, fi fs.FileInfo) *vfs.FileData {
	kind := vfs.KindOther
	switch {
	case fi.IsDir():
		kind = vfs.KindDirectory
	case fi.Mode().IsRegular():
		kind = vfs.KindRegular
	}
	fd := vfs.NewFileData(loc, kind)
	fd.Size = fi.Size()
	fd.ModTime = fi.ModTime()
	fd.Hidden = strings.HasPrefix(fd.Name, ".")
	if kind == vfs.KindDirectory {
		fd.ContentType = "inode/directory"
	}
	return fd
}

var errStopWalk = errors.New("stop walk")

func (b *Backend) ForEachChild(ctx context.Context, parent vfs.Location, recursive bool, attrs vfs.Attributes, dir vfs.DirFunc, file vfs.FileFunc) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	root := osPath(parent)
	err := afero.Walk(b.fs, root, func(p string, fi os.FileInfo, err error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err != nil || p == root {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		fd := fileData(parent.Join(filepath.ToSlash(rel)), fi)
		if file != nil {
			file(fd)
		}
		if !fi.IsDir() {
			return nil
		}
		if !recursive {
			return filepath.SkipDir
		}
		if dir != nil {
			switch dir(fd) {
			case vfs.DirSkip:
				return filepath.SkipDir
			case vfs.DirStop:
				return errStopWalk
			}
		}
		return nil
	})
	if errors.Is(err, errStopWalk) {
		return nil
	}
	return err
}

func (b *Backend) ReadAttributes(ctx context.Context, files []vfs.Location, attrs vfs.Attributes) ([]*vfs.FileData, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	out := make([]*vfs.FileData, 0, len(files))
	for _, loc := range files {
		fi, err := b.fs.Stat(osPath(loc))
		if err != nil {
			return nil, err
		}
		fd := fileData(loc, fi)
		if loc.IsRoot() {
			fd.Name = "Memory"
		}
		out = append(out, fd)
	}
	return out, nil
}

func (b *Backend) ReadMetadata(ctx context.Context, file *vfs.FileData, attrs vfs.Attributes) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, value := range b.meta[file.Location] {
		if attrs.Has(key) {
			file.SetAttribute(key, value)
		}
	}
	return nil
}

func (b *Backend) WriteMetadata(ctx context.Context, file *vfs.FileData, attrs vfs.Attributes) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	stored := b.meta[file.Location]
	if stored == nil {
		stored = make(map[string]string)
		b.meta[file.Location] = stored
	}
	for key := range stored {
		if attrs.Has(key) && file.Attribute(key) == "" {
			delete(stored, key)
		}
	}
	for key, value := range file.Attributes {
		if attrs.Has(key) && value != "" {
			stored[key] = value
		}
	}
	return nil
}

func (b *Backend) Rename(ctx context.Context, file vfs.Location, newName string) (vfs.Location, error) {
	if err := b.wait(ctx); err != nil {
		return "", err
	}
	parent, ok := file.Parent()
	if !ok {
		return "", fmt.Errorf("cannot rename %s", file)
	}
	to := parent.Join(newName)
	if ok, _ := afero.Exists(b.fs, osPath(to)); ok {
		return "", fmt.Errorf("%s: %w", to, fs.ErrExist)
	}
	if err := b.fs.Rename(osPath(file), osPath(to)); err != nil {
		return "", err
	}
	b.moveMeta(file, to)
	if b.hub != nil {
		b.hub.FileRenamed(file, to)
	}
	return to, nil
}

func (b *Backend) moveMeta(from, to vfs.Location) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for loc, attrs := range b.meta {
		if !loc.HasAncestor(from) {
			continue
		}
		delete(b.meta, loc)
		b.meta[to.Join(strings.TrimPrefix(loc.Path(), from.Path()))] = attrs
	}
}

func (b *Backend) dropMeta(files []vfs.Location) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for loc := range b.meta {
		for _, f := range files {
			if loc.HasAncestor(f) {
				delete(b.meta, loc)
				break
			}
		}
	}
}

func (b *Backend) Copy(ctx context.Context, req vfs.CopyRequest) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	if ok, _ := afero.DirExists(b.fs, osPath(req.Destination)); !ok {
		return fmt.Errorf("%s: not a directory", req.Destination)
	}

	exists := func(l vfs.Location) bool {
		ok, _ := afero.Exists(b.fs, osPath(l))
		return ok
	}
	var created, moved []vfs.Location
	var err error
	for i, src := range req.Files {
		if err = ctx.Err(); err != nil {
			break
		}
		dst := req.Destination.Join(src.Base())
		if dst == src {
			if req.Move {
				continue
			}
			dst = vfs.FreeName(dst, exists)
		}
		if exists(dst) {
			res := vfs.ConflictKeepBoth
			if req.Conflict != nil {
				s, _ := b.ReadAttributes(ctx, []vfs.Location{src}, "")
				d, _ := b.ReadAttributes(ctx, []vfs.Location{dst}, "")
				if len(s) == 1 && len(d) == 1 {
					res = req.Conflict(s[0], d[0])
				}
			}
			switch res {
			case vfs.ConflictSkip:
				continue
			case vfs.ConflictAbort:
				err = vfs.ErrCancelled
			case vfs.ConflictKeepBoth:
				dst = vfs.FreeName(dst, exists)
			default:
				err = b.fs.RemoveAll(osPath(dst))
			}
			if err != nil {
				break
			}
		}

		if req.Move {
			if err = b.fs.Rename(osPath(src), osPath(dst)); err == nil {
				b.moveMeta(src, dst)
				moved = append(moved, src)
			}
		} else {
			err = b.copyTree(src, dst)
		}
		if err != nil {
			err = fmt.Errorf("copy %s: %w", src, err)
			break
		}
		created = append(created, dst)
		if req.Progress != nil {
			req.Progress(vfs.Progress{Label: src.Base(), Current: int64(i + 1), Total: int64(len(req.Files))})
		}
	}

	if b.hub != nil {
		if len(created) > 0 {
			b.hub.FilesCreated(req.Destination, created, req.Position)
		}
		if len(moved) > 0 {
			b.hub.FilesDeleted(moved)
		}
	}
	return err
}

func (b *Backend) copyTree(src, dst vfs.Location) error {
	root := osPath(src)
	return afero.Walk(b.fs, root, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		target := filepath.Join(osPath(dst), rel)
		if fi.IsDir() {
			return b.fs.MkdirAll(target, fi.Mode().Perm())
		}
		data, err := afero.ReadFile(b.fs, p)
		if err != nil {
			return err
		}
		return afero.WriteFile(b.fs, target, data, fi.Mode().Perm())
	})
}

// Remove deletes files. There is no trash, so both modes delete.
func (b *Backend) Remove(ctx context.Context, location vfs.Location, files []vfs.Location, permanently bool) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	var removed []vfs.Location
	var err error
	for _, f := range files {
		if f.IsRoot() {
			err = fmt.Errorf("cannot remove %s", f)
			break
		}
		if err = b.fs.RemoveAll(osPath(f)); err != nil {
			break
		}
		removed = append(removed, f)
	}
	b.dropMeta(removed)
	if b.hub != nil && len(removed) > 0 {
		b.hub.FilesDeleted(removed)
	}
	return err
}

func (b *Backend) CanCut() bool { return true }

func (b *Backend) DropActions(dest, file vfs.Location) vfs.DropAction {
	return vfs.DropCopy | vfs.DropMove
}
