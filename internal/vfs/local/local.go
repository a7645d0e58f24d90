// Package local implements the file:// backend over the local disk.
package local

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

	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/justyntemme/waypoint/internal/debug"
	"github.com/justyntemme/waypoint/internal/logging"
	"github.com/justyntemme/waypoint/internal/monitor"
	"github.com/justyntemme/waypoint/internal/trash"
	"github.com/justyntemme/waypoint/internal/vfs"
)

// MetadataStore persists per-location attributes such as sort::type.
// *store.DB implements it.
type MetadataStore interface {
	Metadata(ctx context.Context, location string) (map[string]string, error)
	SaveMetadata(ctx context.Context, location string, attrs map[string]string) error
	MoveMetadata(ctx context.Context, from, to string) error
	DeleteMetadata(ctx context.Context, location string) error
}

// Options configures a Backend. Every field is optional.
type Options struct {
	Hub   *monitor.Hub  // receives change events; nil disables monitoring
	Store MetadataStore // nil disables metadata
	Trash *trash.Bin    // nil makes non-permanent removal unsupported
	Home  string        // defaults to the user's home directory
}

// Backend serves file:// locations.
type Backend struct {
	vfs.Base
	opts    Options
	watcher *watcher

	mountsOnce sync.Once
	stop       chan struct{}
	closeOnce  sync.Once
}

// New creates the local backend.
func New(opts Options) (*Backend, error) {
	if opts.Home == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "/"
		}
		opts.Home = home
	}
	b := &Backend{opts: opts, stop: make(chan struct{})}
	if opts.Hub != nil {
		w, err := newWatcher(opts.Hub)
		if err != nil {
			return nil, fmt.Errorf("start watcher: %w", err)
		}
		b.watcher = w
	}
	return b, nil
}

// Close stops monitoring.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.stop)
		if b.watcher != nil {
			err = b.watcher.Close()
		}
	})
	return err
}

func (b *Backend) Name() string { return "local" }

func (b *Backend) Schemes() []string { return []string{vfs.FileScheme} }

// EntryPoints returns the home folder followed by mounted volumes.
func (b *Backend) EntryPoints(ctx context.Context) ([]vfs.EntryPoint, error) {
	eps := []vfs.EntryPoint{{Location: vfs.FromPath(b.opts.Home), Name: "Home", Icon: "home"}}
	for _, m := range listMounts() {
		eps = append(eps, vfs.EntryPoint{Location: vfs.FromPath(m.Path), Name: m.Name, Icon: "drive"})
	}
	return eps, nil
}

// List returns the direct children of folder.
func (b *Backend) List(ctx context.Context, folder vfs.Location, attrs vfs.Attributes) ([]*vfs.FileData, error) {
	path := folder.LocalPath()
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", path)
	}

	var (
		result []*vfs.FileData
		mu     sync.Mutex
	)
	// Follow symlinks so links to folders list as folders
	conf := &fastwalk.Config{Follow: true}
	err = fastwalk.Walk(conf, path, func(fullPath string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			debug.Log(debug.FS_ENTRY, "list: walk error at %q: %v", fullPath, err)
			return nil
		}
		if fullPath == path {
			return nil
		}
		if filepath.Dir(fullPath) != path {
			if d.IsDir() {
				return fastwalk.SkipDir
			}
			return nil
		}

		info, err := fastwalk.StatDirEntry(fullPath, d)
		if err != nil {
			// Broken symlink
			info, err = os.Lstat(fullPath)
			if err != nil {
				debug.Log(debug.FS_ENTRY, "list: skipping %q: %v", d.Name(), err)
				return nil
			}
		}
		fd := b.fileData(fullPath, info, attrs)
		mu.Lock()
		result = append(result, fd)
		mu.Unlock()

		if d.IsDir() {
			return fastwalk.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(result, func(a, b *vfs.FileData) int { return strings.Compare(a.Name, b.Name) })
	debug.Log(debug.FS, "list: %s -> %d entries", folder, len(result))
	return result, nil
}

var errStopWalk = errors.New("stop walk")

// ForEachChild walks parent, serializing the callbacks.
func (b *Backend) ForEachChild(ctx context.Context, parent vfs.Location, recursive bool, attrs vfs.Attributes, dir vfs.DirFunc, file vfs.FileFunc) error {
	root := parent.LocalPath()
	var mu sync.Mutex

	// Don't follow symlinks in recursive walks to avoid cycles
	conf := &fastwalk.Config{Follow: false}
	err := fastwalk.Walk(conf, root, func(fullPath string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil || fullPath == root {
			return nil
		}
		if !recursive && filepath.Dir(fullPath) != root {
			if d.IsDir() {
				return fastwalk.SkipDir
			}
			return nil
		}
		info, err := fastwalk.StatDirEntry(fullPath, d)
		if err != nil {
			return nil
		}
		fd := b.fileData(fullPath, info, attrs)

		mu.Lock()
		defer mu.Unlock()
		if file != nil {
			file(fd)
		}
		if !d.IsDir() {
			return nil
		}
		if !recursive {
			return fastwalk.SkipDir
		}
		if dir == nil {
			return nil
		}
		switch dir(fd) {
		case vfs.DirSkip:
			return fastwalk.SkipDir
		case vfs.DirStop:
			return errStopWalk
		}
		return nil
	})
	if errors.Is(err, errStopWalk) {
		return nil
	}
	return err
}

// ReadAttributes stats each file. Any failure fails the whole call.
func (b *Backend) ReadAttributes(ctx context.Context, files []vfs.Location, attrs vfs.Attributes) ([]*vfs.FileData, error) {
	out := make([]*vfs.FileData, 0, len(files))
	for _, loc := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := loc.LocalPath()
		info, err := os.Stat(path)
		if err != nil {
			if info, err = os.Lstat(path); err != nil {
				return nil, err
			}
		}
		out = append(out, b.fileData(path, info, attrs))
	}
	return out, nil
}

func (b *Backend) fileData(path string, info fs.FileInfo, attrs vfs.Attributes) *vfs.FileData {
	kind := vfs.KindOther
	switch {
	case info.IsDir():
		kind = vfs.KindDirectory
	case info.Mode().IsRegular():
		kind = vfs.KindRegular
	}
	fd := vfs.NewFileData(vfs.FromPath(path), kind)
	fd.Name = info.Name()
	if path == "/" {
		fd.Name = "/"
	}
	fd.Size = info.Size()
	fd.ModTime = info.ModTime()
	fd.Hidden = strings.HasPrefix(fd.Name, ".")

	if kind == vfs.KindDirectory {
		fd.ContentType = "inode/directory"
	} else if kind == vfs.KindRegular && attrs.Has(vfs.AttrContentType) {
		if mt, err := mimetype.DetectFile(path); err == nil {
			fd.ContentType = mt.String()
		}
	}
	return fd
}

// ReadMetadata fills file's stored attributes selected by attrs.
func (b *Backend) ReadMetadata(ctx context.Context, file *vfs.FileData, attrs vfs.Attributes) error {
	if b.opts.Store == nil {
		return nil
	}
	stored, err := b.opts.Store.Metadata(ctx, file.Location.String())
	if err != nil {
		return err
	}
	for key, value := range stored {
		if attrs.Has(key) {
			file.SetAttribute(key, value)
		}
	}
	return nil
}

// WriteMetadata stores file's attributes selected by attrs. Attributes the
// file lacks are cleared.
func (b *Backend) WriteMetadata(ctx context.Context, file *vfs.FileData, attrs vfs.Attributes) error {
	if b.opts.Store == nil {
		return vfs.ErrNotSupported
	}
	values := make(map[string]string)
	for _, key := range strings.Split(string(attrs), ",") {
		key = strings.TrimSpace(key)
		if key == "" || strings.HasSuffix(key, "*") {
			continue
		}
		values[key] = file.Attribute(key)
	}
	for key, value := range file.Attributes {
		if attrs.Has(key) {
			values[key] = value
		}
	}
	return b.opts.Store.SaveMetadata(ctx, file.Location.String(), values)
}

// Rename renames file within its folder.
func (b *Backend) Rename(ctx context.Context, file vfs.Location, newName string) (vfs.Location, error) {
	parent, ok := file.Parent()
	if !ok {
		return "", fmt.Errorf("cannot rename %s", file)
	}
	to := parent.Join(newName)
	if _, err := os.Lstat(to.LocalPath()); err == nil {
		return "", fmt.Errorf("%s: %w", to, fs.ErrExist)
	}
	if err := os.Rename(file.LocalPath(), to.LocalPath()); err != nil {
		return "", err
	}
	b.moveMetadata(ctx, file, to)
	if b.opts.Hub != nil {
		b.opts.Hub.FileRenamed(file, to)
	}
	return to, nil
}

// Remove trashes files, or deletes them when permanently is set. Files
// removed before a failure are still reported.
func (b *Backend) Remove(ctx context.Context, location vfs.Location, files []vfs.Location, permanently bool) error {
	if !permanently && b.opts.Trash == nil {
		return vfs.ErrNotSupported
	}
	var removed []vfs.Location
	var err error
	for _, f := range files {
		if err = ctx.Err(); err != nil {
			break
		}
		if permanently {
			err = trash.PermanentDelete(f.LocalPath())
		} else {
			_, err = b.opts.Trash.Move(f.LocalPath())
		}
		if err != nil {
			err = fmt.Errorf("remove %s: %w", f, err)
			break
		}
		removed = append(removed, f)
	}
	if len(removed) > 0 {
		b.DeletedFromDisk(ctx, location, removed)
		if b.opts.Hub != nil {
			b.opts.Hub.FilesDeleted(removed)
		}
	}
	return err
}

// DeletedFromDisk drops the stored metadata of files.
func (b *Backend) DeletedFromDisk(ctx context.Context, location vfs.Location, files []vfs.Location) error {
	if b.opts.Store == nil {
		return nil
	}
	for _, f := range files {
		if err := b.opts.Store.DeleteMetadata(ctx, f.String()); err != nil {
			logging.Warn("local: dropping metadata failed", zap.Stringer("location", f), zap.Error(err))
		}
	}
	return nil
}

func (b *Backend) moveMetadata(ctx context.Context, from, to vfs.Location) {
	if b.opts.Store == nil {
		return
	}
	if err := b.opts.Store.MoveMetadata(ctx, from.String(), to.String()); err != nil {
		logging.Warn("local: moving metadata failed", zap.Stringer("from", from), zap.Stringer("to", to), zap.Error(err))
	}
}

// MonitorDirectory watches file and its ancestors.
func (b *Backend) MonitorDirectory(file vfs.Location, enable bool) {
	if b.watcher == nil {
		return
	}
	chain, err := vfs.AncestorChain(file.Root(), file)
	if err != nil {
		return
	}
	for _, loc := range chain {
		if enable {
			b.watcher.Watch(loc)
		} else {
			b.watcher.Unwatch(loc)
		}
	}
}

// MonitorEntryPoints polls the mount table and publishes changes.
func (b *Backend) MonitorEntryPoints() {
	if b.opts.Hub == nil {
		return
	}
	b.mountsOnce.Do(func() {
		go pollMounts(b.stop, b.opts.Hub)
	})
}

func (b *Backend) CanCut() bool { return true }

// DropActions allows moving within one device and copying across devices.
func (b *Backend) DropActions(dest, file vfs.Location) vfs.DropAction {
	if sameDevice(dest.LocalPath(), file.LocalPath()) {
		return vfs.DropMove | vfs.DropCopy
	}
	return vfs.DropCopy
}
