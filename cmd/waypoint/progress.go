package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/justyntemme/waypoint/internal/vfs"
)

// copyProgress renders vfs.Progress updates on stderr.
type copyProgress struct {
	mu    sync.Mutex
	bar   *progressbar.ProgressBar
	label string
	quiet bool
}

func newCopyProgress(quiet bool) *copyProgress {
	return &copyProgress{quiet: quiet}
}

func (p *copyProgress) newBar(total int64) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(p.label),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update implements vfs.ProgressFunc.
func (p *copyProgress) Update(pr vfs.Progress) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil || pr.Total != p.bar.GetMax64() {
		if p.bar != nil {
			_ = p.bar.Finish()
		}
		p.label = pr.Label
		p.bar = p.newBar(pr.Total)
	}
	if pr.Label != p.label {
		p.label = pr.Label
		p.bar.Describe(pr.Label)
	}
	_ = p.bar.Set64(pr.Current)
}

// Finish completes the bar, if one was shown.
func (p *copyProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
}
