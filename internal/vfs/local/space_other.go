//go:build !linux

package local

import (
	"context"

	"github.com/justyntemme/waypoint/internal/vfs"
)

func (b *Backend) FreeSpace(ctx context.Context, location vfs.Location) (vfs.Space, error) {
	return vfs.Space{}, vfs.ErrNotSupported
}

func sameDevice(a, b string) bool { return false }
