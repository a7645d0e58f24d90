//go:build linux

package local

import (
	"context"

	"golang.org/x/sys/unix"

	"github.com/justyntemme/waypoint/internal/vfs"
)

// FreeSpace reports the volume capacity via statfs.
func (b *Backend) FreeSpace(ctx context.Context, location vfs.Location) (vfs.Space, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(location.LocalPath(), &st); err != nil {
		return vfs.Space{}, err
	}
	bsize := uint64(st.Bsize)
	return vfs.Space{Total: st.Blocks * bsize, Free: st.Bavail * bsize}, nil
}

func sameDevice(a, b string) bool {
	var sa, sb unix.Stat_t
	if unix.Stat(a, &sa) != nil || unix.Stat(b, &sb) != nil {
		return false
	}
	return sa.Dev == sb.Dev
}
