// Package sftp implements the sftp:// backend. Hosts come from
// configuration; a host's entry point appears only after it is mounted.
package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/pkg/sftp"
	"go.uber.org/zap"

	"github.com/justyntemme/waypoint/internal/debug"
	"github.com/justyntemme/waypoint/internal/logging"
	"github.com/justyntemme/waypoint/internal/monitor"
	"github.com/justyntemme/waypoint/internal/vfs"
)

// Scheme is the URI scheme served by the backend.
const Scheme = "sftp"

// Host is a configured remote. Address is host[:port] and doubles as the
// location authority.
type Host struct {
	Name       string
	Address    string
	User       string
	Password   string
	KeyFile    string
	KnownHosts string
}

// Dialer opens an SFTP session to h. The closer releases the session's
// transport.
type Dialer func(ctx context.Context, h Host) (*sftp.Client, io.Closer, error)

// Options configures a Backend.
type Options struct {
	Hosts []Host
	Hub   *monitor.Hub // nil disables change events
	Dial  Dialer       // defaults to DialSSH
}

type session struct {
	client *sftp.Client
	closer io.Closer
}

// Backend serves sftp:// locations.
type Backend struct {
	vfs.Base
	opts  Options
	hosts map[string]Host

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates the backend. Nothing is dialed until a mount.
func New(opts Options) *Backend {
	if opts.Dial == nil {
		opts.Dial = DialSSH
	}
	b := &Backend{
		opts:     opts,
		hosts:    make(map[string]Host),
		sessions: make(map[string]*session),
	}
	for _, h := range opts.Hosts {
		b.hosts[h.Address] = h
	}
	return b
}

func (b *Backend) Name() string { return "sftp" }

func (b *Backend) Schemes() []string { return []string{Scheme} }

// Root returns the location of a host's root folder.
func Root(h Host) vfs.Location {
	return vfs.Location(Scheme + "://" + h.Address + "/")
}

// EntryPoints lists connected hosts in configuration order.
func (b *Backend) EntryPoints(ctx context.Context) ([]vfs.EntryPoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var eps []vfs.EntryPoint
	for _, h := range b.opts.Hosts {
		if _, ok := b.sessions[h.Address]; !ok {
			continue
		}
		name := h.Name
		if name == "" {
			name = h.Address
		}
		eps = append(eps, vfs.EntryPoint{Location: Root(h), Name: name, Icon: "network"})
	}
	return eps, nil
}

// MountEnclosingVolume connects to the host named by loc's authority.
func (b *Backend) MountEnclosingVolume(ctx context.Context, loc vfs.Location) error {
	h, ok := b.hosts[loc.Authority()]
	if !ok {
		return fmt.Errorf("no configured host %q", loc.Authority())
	}
	b.mu.Lock()
	_, connected := b.sessions[h.Address]
	b.mu.Unlock()
	if connected {
		return nil
	}

	debug.Log(debug.FS, "sftp: connecting to %s", h.Address)
	client, closer, err := b.opts.Dial(ctx, h)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if _, raced := b.sessions[h.Address]; raced {
		b.mu.Unlock()
		client.Close()
		closer.Close()
		return nil
	}
	b.sessions[h.Address] = &session{client: client, closer: closer}
	b.mu.Unlock()

	logging.Info("sftp: connected", zap.String("host", h.Address))
	if b.opts.Hub != nil {
		b.opts.Hub.EntryPointsChanged()
	}
	return nil
}

// Unmount closes the session to the host of loc.
func (b *Backend) Unmount(loc vfs.Location) error {
	b.mu.Lock()
	s, ok := b.sessions[loc.Authority()]
	delete(b.sessions, loc.Authority())
	b.mu.Unlock()
	if !ok {
		return nil
	}
	err := errors.Join(s.client.Close(), s.closer.Close())
	if b.opts.Hub != nil {
		b.opts.Hub.EntryPointsChanged()
	}
	return err
}

// Close disconnects every host.
func (b *Backend) Close() error {
	b.mu.Lock()
	sessions := b.sessions
	b.sessions = make(map[string]*session)
	b.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		errs = append(errs, s.client.Close(), s.closer.Close())
	}
	return errors.Join(errs...)
}

func (b *Backend) client(loc vfs.Location) (*sftp.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[loc.Authority()]
	if !ok {
		return nil, fmt.Errorf("%s: %w", loc.Authority(), vfs.ErrMountRequired)
	}
	return s.client, nil
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
	return fd
}

func (b *Backend) List(ctx context.Context, folder vfs.Location, attrs vfs.Attributes) ([]*vfs.FileData, error) {
	c, err := b.client(folder)
	if err != nil {
		return nil, err
	}
	infos, err := c.ReadDirContext(ctx, folder.Path())
	if err != nil {
		return nil, err
	}
	out := make([]*vfs.FileData, 0, len(infos))
	for _, fi := range infos {
		out = append(out, fileData(folder.Join(fi.Name()), fi))
	}
	slices.SortFunc(out, func(a, b *vfs.FileData) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (b *Backend) ForEachChild(ctx context.Context, parent vfs.Location, recursive bool, attrs vfs.Attributes, dir vfs.DirFunc, file vfs.FileFunc) error {
	c, err := b.client(parent)
	if err != nil {
		return err
	}
	root := parent.Path()
	w := c.Walk(root)
	for w.Step() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if w.Err() != nil || w.Path() == root {
			continue
		}
		fd := fileData(parent.Join(strings.TrimPrefix(w.Path(), root)), w.Stat())
		if file != nil {
			file(fd)
		}
		if !fd.IsDir() {
			continue
		}
		if !recursive {
			w.SkipDir()
			continue
		}
		if dir != nil {
			switch dir(fd) {
			case vfs.DirSkip:
				w.SkipDir()
			case vfs.DirStop:
				return nil
			}
		}
	}
	return nil
}

func (b *Backend) ReadAttributes(ctx context.Context, files []vfs.Location, attrs vfs.Attributes) ([]*vfs.FileData, error) {
	out := make([]*vfs.FileData, 0, len(files))
	for _, loc := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := b.client(loc)
		if err != nil {
			return nil, err
		}
		fi, err := c.Stat(loc.Path())
		if err != nil {
			return nil, err
		}
		out = append(out, fileData(loc, fi))
	}
	return out, nil
}

func (b *Backend) Rename(ctx context.Context, file vfs.Location, newName string) (vfs.Location, error) {
	c, err := b.client(file)
	if err != nil {
		return "", err
	}
	parent, ok := file.Parent()
	if !ok {
		return "", fmt.Errorf("cannot rename %s", file)
	}
	to := parent.Join(newName)
	if _, err := c.Lstat(to.Path()); err == nil {
		return "", fmt.Errorf("%s: %w", to, fs.ErrExist)
	}
	if err := c.Rename(file.Path(), to.Path()); err != nil {
		return "", err
	}
	if b.opts.Hub != nil {
		b.opts.Hub.FileRenamed(file, to)
	}
	return to, nil
}

// Copy works within one host only.
func (b *Backend) Copy(ctx context.Context, req vfs.CopyRequest) error {
	c, err := b.client(req.Destination)
	if err != nil {
		return err
	}
	for _, f := range req.Files {
		if f.Authority() != req.Destination.Authority() {
			return fmt.Errorf("copy between hosts: %w", vfs.ErrNotSupported)
		}
	}

	exists := func(l vfs.Location) bool {
		_, err := c.Lstat(l.Path())
		return err == nil
	}
	var created, moved []vfs.Location
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
				s, serr := b.ReadAttributes(ctx, []vfs.Location{src}, "")
				d, derr := b.ReadAttributes(ctx, []vfs.Location{dst}, "")
				if serr == nil && derr == nil {
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
				err = c.RemoveAll(dst.Path())
			}
			if err != nil {
				break
			}
		}

		if req.Move {
			err = c.Rename(src.Path(), dst.Path())
		} else {
			err = copyTree(ctx, c, src.Path(), dst.Path())
		}
		if err != nil {
			err = fmt.Errorf("copy %s: %w", src, err)
			break
		}
		created = append(created, dst)
		if req.Move {
			moved = append(moved, src)
		}
		if req.Progress != nil {
			req.Progress(vfs.Progress{Label: src.Base(), Current: int64(i + 1), Total: int64(len(req.Files))})
		}
	}

	if b.opts.Hub != nil {
		if len(created) > 0 {
			b.opts.Hub.FilesCreated(req.Destination, created, req.Position)
		}
		if len(moved) > 0 {
			b.opts.Hub.FilesDeleted(moved)
		}
	}
	return err
}

func copyTree(ctx context.Context, c *sftp.Client, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fi, err := c.Stat(src)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return copyFile(c, src, dst)
	}
	if err := c.MkdirAll(dst); err != nil {
		return err
	}
	children, err := c.ReadDirContext(ctx, src)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := copyTree(ctx, c, path.Join(src, child.Name()), path.Join(dst, child.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(c *sftp.Client, src, dst string) error {
	in, err := c.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := c.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Remove deletes files. The remote side has no trash.
func (b *Backend) Remove(ctx context.Context, location vfs.Location, files []vfs.Location, permanently bool) error {
	if !permanently {
		return vfs.ErrNotSupported
	}
	var removed []vfs.Location
	var err error
	for _, f := range files {
		var c *sftp.Client
		if c, err = b.client(f); err != nil {
			break
		}
		if err = c.RemoveAll(f.Path()); err != nil {
			break
		}
		removed = append(removed, f)
	}
	if b.opts.Hub != nil && len(removed) > 0 {
		b.opts.Hub.FilesDeleted(removed)
	}
	return err
}

func (b *Backend) FreeSpace(ctx context.Context, location vfs.Location) (vfs.Space, error) {
	c, err := b.client(location)
	if err != nil {
		return vfs.Space{}, err
	}
	st, err := c.StatVFS(location.Path())
	if err != nil {
		return vfs.Space{}, err
	}
	return vfs.Space{Total: st.TotalSpace(), Free: st.FreeSpace()}, nil
}

func (b *Backend) DropActions(dest, file vfs.Location) vfs.DropAction {
	if dest.Authority() == file.Authority() {
		return vfs.DropCopy | vfs.DropMove
	}
	return 0
}
