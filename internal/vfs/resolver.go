package vfs

import (
	"context"
	"fmt"

	"github.com/justyntemme/waypoint/internal/debug"
)

// Resolver finds the entry point anchoring a location, mounting the
// enclosing volume when none does.
type Resolver struct {
	registry *Registry
}

// NewResolver creates a resolver over registry.
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Nearest returns the most specific entry point that is loc or a literal
// ancestor of it.
func (r *Resolver) Nearest(loc Location) (EntryPoint, bool) {
	var (
		best  EntryPoint
		found bool
	)
	for _, ep := range r.registry.EntryPoints() {
		if !loc.HasAncestor(ep.Location) {
			continue
		}
		if !found || ep.Location.Depth() > best.Location.Depth() {
			best, found = ep, true
		}
	}
	return best, found
}

// Resolve returns the entry point and source for loc. When no entry point
// contains loc, it mounts the enclosing volume and retries once.
func (r *Resolver) Resolve(ctx context.Context, loc Location) (EntryPoint, *Source, error) {
	src, ok := r.registry.Resolve(loc)
	if !ok {
		return EntryPoint{}, nil, NoSuitableBackend(loc)
	}
	if ep, ok := r.Nearest(loc); ok {
		return ep, src, nil
	}

	m, ok := src.Backend().(Mounter)
	if !ok {
		return EntryPoint{}, nil, fmt.Errorf("%s: %w", loc, ErrMountRequired)
	}

	debug.Log(debug.NAV, "resolver: mounting volume for %s", loc)
	if err := m.MountEnclosingVolume(ctx, loc); err != nil {
		if IsCancelled(err) || ctx.Err() != nil {
			return EntryPoint{}, nil, ErrCancelled
		}
		return EntryPoint{}, nil, fmt.Errorf("%s: %w: %w", loc, ErrMountFailed, err)
	}
	if err := r.registry.Refresh(ctx); err != nil {
		return EntryPoint{}, nil, ErrCancelled
	}

	if ep, ok := r.Nearest(loc); ok {
		return ep, src, nil
	}
	return EntryPoint{}, nil, fmt.Errorf("%s: %w", loc, ErrMountRequired)
}
