package nav

import (
	"github.com/justyntemme/waypoint/internal/filter"
	"github.com/justyntemme/waypoint/internal/vfs"
)

// Visibility decides which listed files reach the presenter.
type Visibility struct {
	ShowHidden bool
	Filter     *filter.Query // applies to non-directories only
}

// Visible reports whether f passes the policy.
func (v Visibility) Visible(f *vfs.FileData) bool {
	if f.Hidden && !v.ShowHidden {
		return false
	}
	if f.IsDir() {
		return true
	}
	return v.Filter.Match(f)
}

// Apply returns the visible subset of files, preserving order.
func (v Visibility) Apply(files []*vfs.FileData) []*vfs.FileData {
	out := make([]*vfs.FileData, 0, len(files))
	for _, f := range files {
		if v.Visible(f) {
			out = append(out, f)
		}
	}
	return out
}
