package app

import (
	"fmt"
	"strings"
	"sync"

	"github.com/justyntemme/waypoint/internal/vfs"
)

var conflictNames = map[string]vfs.ConflictResolution{
	"overwrite": vfs.ConflictOverwrite,
	"skip":      vfs.ConflictSkip,
	"keep-both": vfs.ConflictKeepBoth,
	"abort":     vfs.ConflictAbort,
}

// ParseConflict maps a command line name to a resolution.
func ParseConflict(name string) (vfs.ConflictResolution, error) {
	res, ok := conflictNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown conflict resolution %q (want overwrite, skip, keep-both or abort)", name)
	}
	return res, nil
}

// ConflictPolicy answers copy conflicts. Ask is consulted until it returns
// an answer with applyToAll set; that answer is reused from then on.
type ConflictPolicy struct {
	Ask func(src, dst *vfs.FileData) (res vfs.ConflictResolution, applyToAll bool)

	mu         sync.Mutex
	remembered *vfs.ConflictResolution
	conflicts  int
}

// Fixed returns a policy that always answers res.
func Fixed(res vfs.ConflictResolution) *ConflictPolicy {
	return &ConflictPolicy{remembered: &res}
}

// Resolve implements vfs.ConflictFunc.
func (p *ConflictPolicy) Resolve(src, dst *vfs.FileData) vfs.ConflictResolution {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conflicts++
	if p.remembered != nil {
		return *p.remembered
	}
	if p.Ask == nil {
		return vfs.ConflictKeepBoth
	}
	res, all := p.Ask(src, dst)
	if all {
		p.remembered = &res
	}
	return res
}

// Conflicts returns how many conflicts were resolved.
func (p *ConflictPolicy) Conflicts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conflicts
}
