package vfs

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/justyntemme/waypoint/internal/debug"
	"github.com/justyntemme/waypoint/internal/logging"
)

// Registry maps schemes to sources and keeps the entry point list. It is
// built once at startup and passed to whoever needs it.
type Registry struct {
	mu        sync.RWMutex
	sources   []*Source
	schemes   map[string]*Source
	bookmarks []EntryPoint
	mounted   map[*Source][]EntryPoint
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		schemes: make(map[string]*Source),
		mounted: make(map[*Source][]EntryPoint),
	}
}

// Register wraps b in a Source and claims its schemes.
func (r *Registry) Register(b Backend) (*Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, scheme := range b.Schemes() {
		if other, ok := r.schemes[scheme]; ok {
			return nil, fmt.Errorf("scheme %q already registered by %s", scheme, other.Name())
		}
	}
	src := NewSource(b)
	for _, scheme := range b.Schemes() {
		r.schemes[scheme] = src
	}
	r.sources = append(r.sources, src)
	debug.Log(debug.APP, "registry: %s claims %v", b.Name(), b.Schemes())
	return src, nil
}

// Resolve returns the source for the location's scheme.
func (r *Registry) Resolve(loc Location) (*Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.schemes[loc.Scheme()]
	return src, ok
}

// Sources returns the registered sources in registration order.
func (r *Registry) Sources() []*Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// AddEntryPoint adds a bookmarked root. Adding an existing location
// replaces its display data.
func (r *Registry) AddEntryPoint(ep EntryPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, b := range r.bookmarks {
		if b.Location == ep.Location {
			r.bookmarks[i] = ep
			return
		}
	}
	r.bookmarks = append(r.bookmarks, ep)
}

// RemoveEntryPoint drops a bookmarked root.
func (r *Registry) RemoveEntryPoint(loc Location) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, b := range r.bookmarks {
		if b.Location == loc {
			r.bookmarks = append(r.bookmarks[:i], r.bookmarks[i+1:]...)
			return
		}
	}
}

// Refresh asks every backend for its entry points concurrently. A backend
// that fails keeps its previous list.
func (r *Registry) Refresh(ctx context.Context) error {
	sources := r.Sources()
	results := make([][]EntryPoint, len(sources))
	failed := make([]bool, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			eps, err := src.Backend().EntryPoints(gctx)
			if err != nil {
				logging.Warn("entry points unavailable",
					zap.String("backend", src.Name()), zap.Error(err))
				failed[i] = true
				return nil
			}
			results[i] = eps
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, src := range sources {
		if !failed[i] {
			r.mounted[src] = results[i]
		}
	}
	return nil
}

// EntryPoints returns bookmarks followed by backend entry points, without
// duplicate locations.
func (r *Registry) EntryPoints() []EntryPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[Location]bool)
	var out []EntryPoint
	add := func(ep EntryPoint) {
		if seen[ep.Location] {
			return
		}
		seen[ep.Location] = true
		out = append(out, ep)
	}
	for _, ep := range r.bookmarks {
		add(ep)
	}
	for _, src := range r.sources {
		for _, ep := range r.mounted[src] {
			add(ep)
		}
	}
	return out
}

// CancelAll cancels the queues of every source.
func (r *Registry) CancelAll() {
	for _, src := range r.Sources() {
		src.Cancel()
	}
}

// Active reports whether any source has a dispatched operation.
func (r *Registry) Active() bool {
	for _, src := range r.Sources() {
		if src.Active() {
			return true
		}
	}
	return false
}
