package nav

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/justyntemme/waypoint/internal/vfs"
)

// Action is the kind of navigation a Request performs.
type Action int

const (
	ActionGoTo Action = iota
	ActionGoBack
	ActionGoForward
	ActionGoUp
	ActionTreeOpen
	ActionTreeListChildren
)

var actionNames = [...]string{
	ActionGoTo:             "go_to",
	ActionGoBack:           "go_back",
	ActionGoForward:        "go_forward",
	ActionGoUp:             "go_up",
	ActionTreeOpen:         "tree_open",
	ActionTreeListChildren: "tree_list_children",
}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "unknown"
}

// ChangesFolder reports whether the action moves the current location.
func (a Action) ChangesFolder() bool {
	switch a {
	case ActionGoTo, ActionGoBack, ActionGoForward, ActionGoUp:
		return true
	}
	return false
}

// State is a Request's position in its lifecycle.
type State int32

const (
	StateResolving State = iota
	StateWalkingAncestors
	StateCompleting
	StateSucceeded
	StateFailed
	StateCancelled
)

var stateNames = [...]string{
	StateResolving:        "resolving",
	StateWalkingAncestors: "walking_ancestors",
	StateCompleting:       "completing",
	StateSucceeded:        "succeeded",
	StateFailed:           "failed",
	StateCancelled:        "cancelled",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s >= StateSucceeded
}

// Request is one in-flight navigation. The exported fields are fixed at
// creation; everything else is owned by the walk goroutine until Done is
// closed.
type Request struct {
	ID           uuid.UUID
	Target       vfs.Location
	FileToSelect vfs.Location
	Saved        *Selection
	Action       Action
	Automatic    bool

	fallback     bool
	historyIndex int
	key          string
	gen          uint64
	started      time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// Filled in while walking.
	target     vfs.Location // Target, or its parent when Target is a file
	selectFile vfs.Location
	entry  vfs.EntryPoint
	source *vfs.Source
	chain  []vfs.Location
	cursor int
	folder *vfs.FileData // target folder with metadata
	files  []*vfs.FileData

	state    atomic.Int32
	err      error
	next     *Request
	done     chan struct{}
	doneOnce sync.Once
}

func newRequest(parent context.Context, action Action, target vfs.Location) *Request {
	ctx, cancel := context.WithCancel(parent)
	return &Request{
		ID:           uuid.New(),
		Target:       target,
		Action:       action,
		historyIndex: -1,
		started:      time.Now(),
		ctx:          ctx,
		cancel:       cancel,
		target:       target,
		done:         make(chan struct{}),
	}
}

// State returns the current state.
func (r *Request) State() State {
	return State(r.state.Load())
}

// Done is closed when the request reaches a terminal state.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Err returns the terminal error, or nil while running or on success.
func (r *Request) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Fallback returns the automatic retry started when this request failed
// while walking, or nil.
func (r *Request) Fallback() *Request {
	select {
	case <-r.done:
		return r.next
	default:
		return nil
	}
}

// IsFallback reports whether the request is itself a fallback retry.
func (r *Request) IsFallback() bool {
	return r.fallback
}

// walked reports whether the walk results are complete and stable.
func (r *Request) walked() bool {
	s := r.State()
	return s == StateCompleting || s == StateSucceeded
}

// Folder returns the navigated folder once the request has succeeded.
func (r *Request) Folder() *vfs.FileData {
	if !r.walked() {
		return nil
	}
	return r.folder.Clone()
}

// Files returns the unfiltered target listing once the request has
// succeeded.
func (r *Request) Files() []*vfs.FileData {
	if !r.walked() {
		return nil
	}
	return vfs.CloneFiles(r.files)
}

// Chain returns the ancestor chain walked by a succeeded request.
func (r *Request) Chain() []vfs.Location {
	if !r.walked() {
		return nil
	}
	return slices.Clone(r.chain)
}

// Entry returns the entry point a succeeded request resolved to.
func (r *Request) Entry() vfs.EntryPoint {
	if !r.walked() {
		return vfs.EntryPoint{}
	}
	return r.entry
}

// advance moves between non-terminal states. It fails once the request
// has terminated.
func (r *Request) advance(from, to State) bool {
	return r.state.CompareAndSwap(int32(from), int32(to))
}

// terminate records the outcome. Only the first call has an effect.
func (r *Request) terminate(s State, err error) bool {
	first := false
	r.doneOnce.Do(func() {
		first = true
		r.err = err
		r.state.Store(int32(s))
		close(r.done)
	})
	return first
}

// Location returns the folder the request navigates to: Target, or the
// parent of Target when Target turned out to be a file.
func (r *Request) Location() vfs.Location {
	if !r.walked() {
		return r.Target
	}
	return r.target
}
