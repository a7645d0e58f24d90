package app

import (
	"context"
	"fmt"
	"io/fs"

	"go.uber.org/zap"

	"github.com/justyntemme/waypoint/internal/debug"
	"github.com/justyntemme/waypoint/internal/logging"
	"github.com/justyntemme/waypoint/internal/monitor"
	"github.com/justyntemme/waypoint/internal/vfs"
)

// source resolves loc to the backend holding it, mounting when needed.
func (a *App) source(ctx context.Context, loc vfs.Location) (*vfs.Source, error) {
	_, src, err := a.Resolver.Resolve(ctx, loc)
	return src, err
}

// CopyOptions describe a copy or move.
type CopyOptions struct {
	Move     bool
	Progress vfs.ProgressFunc
	Conflict vfs.ConflictFunc
}

// Copy copies or moves files into dest. Every file must belong to the
// backend serving dest.
func (a *App) Copy(ctx context.Context, files []vfs.Location, dest vfs.Location, opts CopyOptions) error {
	if len(files) == 0 {
		return nil
	}
	src, err := a.source(ctx, dest)
	if err != nil {
		return err
	}
	for _, f := range files {
		if other, ok := a.Registry.Resolve(f); !ok || other != src {
			return fmt.Errorf("copy %s to %s: %w", f, dest, vfs.ErrNotSupported)
		}
	}
	debug.Log(debug.APP, "copy: %d file(s) to %s (move=%v)", len(files), dest, opts.Move)
	_, err = src.Copy(ctx, vfs.CopyRequest{
		Destination: dest,
		Files:       files,
		Move:        opts.Move,
		Position:    monitor.NoPosition,
		Progress:    opts.Progress,
		Conflict:    opts.Conflict,
	}).Await(ctx)
	return err
}

// Remove trashes or deletes files, one queued removal per backend.
func (a *App) Remove(ctx context.Context, files []vfs.Location, permanently bool) error {
	var order []*vfs.Source
	bySource := make(map[*vfs.Source][]vfs.Location)
	for _, f := range files {
		src, err := a.source(ctx, f)
		if err != nil {
			return err
		}
		if _, seen := bySource[src]; !seen {
			order = append(order, src)
		}
		bySource[src] = append(bySource[src], f)
	}

	futures := make([]*vfs.Future[struct{}], 0, len(order))
	for _, src := range order {
		batch := bySource[src]
		folder, _ := batch[0].Parent()
		futures = append(futures, src.Remove(ctx, folder, batch, permanently))
	}
	var firstErr error
	for i, f := range futures {
		if _, err := f.Await(ctx); err != nil {
			logging.Warn("remove failed", zap.String("backend", order[i].Name()), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Rename gives file a new name inside its folder.
func (a *App) Rename(ctx context.Context, file vfs.Location, name string) (vfs.Location, error) {
	if !vfs.ValidName(name) {
		return "", fmt.Errorf("invalid name %q: %w", name, fs.ErrInvalid)
	}
	src, err := a.source(ctx, file)
	if err != nil {
		return "", err
	}
	return src.Rename(ctx, file, name).Await(ctx)
}

// FreeSpace reports the capacity of the volume holding loc.
func (a *App) FreeSpace(ctx context.Context, loc vfs.Location) (vfs.Space, error) {
	src, err := a.source(ctx, loc)
	if err != nil {
		return vfs.Space{}, err
	}
	return src.FreeSpace(ctx, loc).Await(ctx)
}

// Stat reads the attributes of one location.
func (a *App) Stat(ctx context.Context, loc vfs.Location) (*vfs.FileData, error) {
	src, err := a.source(ctx, loc)
	if err != nil {
		return nil, err
	}
	files, err := src.ReadAttributes(ctx, []vfs.Location{loc}, vfs.AttrStandard).Await(ctx)
	if err != nil {
		return nil, err
	}
	return files[0], nil
}
