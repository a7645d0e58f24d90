package vfs

import (
	"context"
	"fmt"
	"slices"
)

// Source pairs a Backend with its OperationQueue. All queued primitives go
// through it, so callers never observe whether a call waited.
type Source struct {
	backend Backend
	queue   *OperationQueue
}

// NewSource wraps a backend with a fresh queue.
func NewSource(b Backend) *Source {
	return &Source{backend: b, queue: NewOperationQueue(b.Name())}
}

// Backend returns the wrapped backend.
func (s *Source) Backend() Backend { return s.backend }

// Name returns the backend name.
func (s *Source) Name() string { return s.backend.Name() }

// Active reports whether an operation is dispatched on this source.
func (s *Source) Active() bool { return s.queue.Active() }

// Pending returns the number of operations waiting.
func (s *Source) Pending() int { return s.queue.Len() }

// Cancel drains the queue and cancels the dispatched operation.
func (s *Source) Cancel() { s.queue.Cancel() }

func enqueue[T any](s *Source, ctx context.Context, kind OpKind, loc Location, run func(ctx context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	var out T
	s.queue.Submit(&QueuedOperation{
		Kind: kind,
		Ctx:  ctx,
		Run: func(ctx context.Context) error {
			var err error
			out, err = run(ctx)
			return err
		},
		Done: func(err error) {
			var zero T
			switch {
			case err == nil:
				f.resolve(out, nil)
			case IsCancelled(err):
				f.resolve(zero, ErrCancelled)
			default:
				if _, ok := err.(*OperationError); !ok {
					err = &OperationError{Op: kind.String(), Location: loc, Err: err}
				}
				f.resolve(zero, err)
			}
		},
	})
	return f
}

// List lists the direct children of folder.
func (s *Source) List(ctx context.Context, folder Location, attrs Attributes) *Future[[]*FileData] {
	return enqueue(s, ctx, OpList, folder, func(ctx context.Context) ([]*FileData, error) {
		return s.backend.List(ctx, folder, attrs)
	})
}

// ForEachChild walks parent. dir and file run on the backend goroutine.
func (s *Source) ForEachChild(ctx context.Context, parent Location, recursive bool, attrs Attributes, dir DirFunc, file FileFunc) *Future[struct{}] {
	return enqueue(s, ctx, OpForEachChild, parent, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.backend.ForEachChild(ctx, parent, recursive, attrs, dir, file)
	})
}

// ReadAttributes re-reads the given files.
func (s *Source) ReadAttributes(ctx context.Context, files []Location, attrs Attributes) *Future[[]*FileData] {
	files = slices.Clone(files)
	var loc Location
	if len(files) > 0 {
		loc = files[0]
	}
	return enqueue(s, ctx, OpReadAttributes, loc, func(ctx context.Context) ([]*FileData, error) {
		return s.backend.ReadAttributes(ctx, files, attrs)
	})
}

// ReadMetadata returns a copy of file with its metadata filled in.
func (s *Source) ReadMetadata(ctx context.Context, file *FileData, attrs Attributes) *Future[*FileData] {
	own := file.Clone()
	return enqueue(s, ctx, OpReadMetadata, own.Location, func(ctx context.Context) (*FileData, error) {
		if err := s.backend.ReadMetadata(ctx, own, attrs); err != nil {
			return nil, err
		}
		return own, nil
	})
}

// WriteMetadata stores the selected attributes of file.
func (s *Source) WriteMetadata(ctx context.Context, file *FileData, attrs Attributes) *Future[struct{}] {
	own := file.Clone()
	return enqueue(s, ctx, OpWriteMetadata, own.Location, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.backend.WriteMetadata(ctx, own, attrs)
	})
}

// Rename gives file a new display name and returns its new location.
func (s *Source) Rename(ctx context.Context, file Location, newName string) *Future[Location] {
	return enqueue(s, ctx, OpRename, file, func(ctx context.Context) (Location, error) {
		if !ValidName(newName) {
			return "", fmt.Errorf("invalid name %q", newName)
		}
		return s.backend.Rename(ctx, file, newName)
	})
}

// Copy copies or moves files into req.Destination.
func (s *Source) Copy(ctx context.Context, req CopyRequest) *Future[struct{}] {
	req.Files = slices.Clone(req.Files)
	return enqueue(s, ctx, OpCopy, req.Destination, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.backend.Copy(ctx, req)
	})
}

// Reorder changes the order of files in a reorderable destination.
func (s *Source) Reorder(ctx context.Context, req ReorderRequest) *Future[struct{}] {
	req.Visible = slices.Clone(req.Visible)
	req.Move = slices.Clone(req.Move)
	return enqueue(s, ctx, OpReorder, req.Destination, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.backend.Reorder(ctx, req)
	})
}

// Remove deletes files from location. The result may be ignored.
func (s *Source) Remove(ctx context.Context, location Location, files []Location, permanently bool) *Future[struct{}] {
	files = slices.Clone(files)
	return enqueue(s, ctx, OpRemove, location, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.backend.Remove(ctx, location, files, permanently)
	})
}

// DeletedFromDisk tells the backend files vanished outside its control.
func (s *Source) DeletedFromDisk(ctx context.Context, location Location, files []Location) *Future[struct{}] {
	files = slices.Clone(files)
	return enqueue(s, ctx, OpDeletedFromDisk, location, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.backend.DeletedFromDisk(ctx, location, files)
	})
}

// FreeSpace reports the capacity of the volume holding location.
func (s *Source) FreeSpace(ctx context.Context, location Location) *Future[Space] {
	return enqueue(s, ctx, OpFreeSpace, location, func(ctx context.Context) (Space, error) {
		return s.backend.FreeSpace(ctx, location)
	})
}

// MonitorDirectory starts or stops change notifications for file.
func (s *Source) MonitorDirectory(file Location, enable bool) {
	s.backend.MonitorDirectory(file, enable)
}

// MonitorEntryPoints starts entry point change notifications.
func (s *Source) MonitorEntryPoints() { s.backend.MonitorEntryPoints() }

// CanCut reports whether move is the natural drag action.
func (s *Source) CanCut() bool { return s.backend.CanCut() }

// DropActions returns the actions allowed when dropping file on dest.
func (s *Source) DropActions(dest, file Location) DropAction {
	return s.backend.DropActions(dest, file)
}

// CurrentList returns the locations from the root down to file.
func (s *Source) CurrentList(file Location) []Location {
	return s.backend.CurrentList(file)
}
