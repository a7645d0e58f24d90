package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/charlievieth/fastwalk"
	cp "github.com/otiai10/copy"

	"github.com/justyntemme/waypoint/internal/debug"
	"github.com/justyntemme/waypoint/internal/vfs"
)

// Copy copies or moves req.Files into req.Destination. Conflicts are
// resolved through req.Conflict; without a hook both files are kept.
func (b *Backend) Copy(ctx context.Context, req vfs.CopyRequest) error {
	destDir := req.Destination.LocalPath()
	if info, err := os.Stat(destDir); err != nil {
		return err
	} else if !info.IsDir() {
		return fmt.Errorf("%s: not a directory", destDir)
	}

	var total int64
	if req.Progress != nil {
		for _, f := range req.Files {
			total += treeSize(ctx, f.LocalPath())
		}
	}
	prog := &progress{fn: req.Progress, total: total}

	var created, moved []vfs.Location
	var err error
	for _, f := range req.Files {
		if err = ctx.Err(); err != nil {
			break
		}
		src := f.LocalPath()
		dst := filepath.Join(destDir, filepath.Base(src))
		if src == dst {
			if req.Move {
				continue
			}
			dst = freeName(dst)
		}

		if _, statErr := os.Lstat(dst); statErr == nil {
			var skip bool
			dst, skip, err = b.resolveConflict(req.Conflict, src, dst)
			if err != nil {
				break
			}
			if skip {
				continue
			}
		}

		prog.label = filepath.Base(src)
		if req.Move {
			err = b.move(ctx, src, dst, prog)
		} else {
			err = copyTree(ctx, src, dst, prog)
		}
		if err != nil {
			err = fmt.Errorf("copy %s: %w", f, err)
			break
		}
		debug.Log(debug.FS, "copy: %s -> %s move=%v", src, dst, req.Move)
		created = append(created, vfs.FromPath(dst))
		if req.Move {
			moved = append(moved, f)
			b.moveMetadata(ctx, f, vfs.FromPath(dst))
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

func (b *Backend) resolveConflict(hook vfs.ConflictFunc, src, dst string) (string, bool, error) {
	res := vfs.ConflictKeepBoth
	if hook != nil {
		srcInfo, err := os.Lstat(src)
		if err != nil {
			return "", false, err
		}
		dstInfo, err := os.Lstat(dst)
		if err != nil {
			return "", false, err
		}
		res = hook(b.fileData(src, srcInfo, ""), b.fileData(dst, dstInfo, ""))
	}
	switch res {
	case vfs.ConflictSkip:
		return dst, true, nil
	case vfs.ConflictKeepBoth:
		return freeName(dst), false, nil
	case vfs.ConflictAbort:
		return "", false, vfs.ErrCancelled
	default:
		if err := os.RemoveAll(dst); err != nil {
			return "", false, err
		}
		return dst, false, nil
	}
}

func (b *Backend) move(ctx context.Context, src, dst string, prog *progress) error {
	err := os.Rename(src, dst)
	if err == nil {
		prog.add(treeSize(ctx, dst))
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if err := copyTree(ctx, src, dst, prog); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

func copyTree(ctx context.Context, src, dst string, prog *progress) error {
	opts := cp.Options{
		OnSymlink:     func(string) cp.SymlinkAction { return cp.Shallow },
		PreserveTimes: true,
		Skip: func(os.FileInfo, string, string) (bool, error) {
			return false, ctx.Err()
		},
		WrapReader: func(r io.Reader) io.Reader {
			return &countingReader{r: r, prog: prog}
		},
	}
	return cp.Copy(src, dst, opts)
}

// freeName returns the first "name (n).ext" next to path that does not exist.
func freeName(path string) string {
	return vfs.FreeName(vfs.FromPath(path), func(l vfs.Location) bool {
		_, err := os.Lstat(l.LocalPath())
		return err == nil
	}).LocalPath()
}

// treeSize sums the sizes of regular files below path.
func treeSize(ctx context.Context, path string) int64 {
	info, err := os.Lstat(path)
	if err != nil {
		return 0
	}
	if !info.IsDir() {
		return info.Size()
	}
	var total atomic.Int64
	fastwalk.Walk(&fastwalk.Config{Follow: false}, path, func(p string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total.Add(fi.Size())
		}
		return nil
	})
	return total.Load()
}

type progress struct {
	fn      vfs.ProgressFunc
	label   string
	current int64
	total   int64
}

func (p *progress) add(n int64) {
	if p.fn == nil || n == 0 {
		return
	}
	p.current += n
	p.fn(vfs.Progress{Label: p.label, Current: p.current, Total: p.total})
}

type countingReader struct {
	r    io.Reader
	prog *progress
}

func (c *countingReader) Read(buf []byte) (int, error) {
	n, err := c.r.Read(buf)
	c.prog.add(int64(n))
	return n, err
}
