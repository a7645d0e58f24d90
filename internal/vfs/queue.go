package vfs

import (
	"context"
	"sync"
	"time"

	"github.com/justyntemme/waypoint/internal/debug"
	"github.com/justyntemme/waypoint/internal/metrics"
)

// OpKind identifies the primitive a QueuedOperation calls.
type OpKind int

const (
	OpList OpKind = iota
	OpReadAttributes
	OpWriteMetadata
	OpReadMetadata
	OpRename
	OpCopy
	OpReorder
	OpRemove
	OpDeletedFromDisk
	OpFreeSpace
	OpForEachChild
)

var opNames = [...]string{
	OpList:            "list",
	OpReadAttributes:  "read_attributes",
	OpWriteMetadata:   "write_metadata",
	OpReadMetadata:    "read_metadata",
	OpRename:          "rename",
	OpCopy:            "copy",
	OpReorder:         "reorder",
	OpRemove:          "remove",
	OpDeletedFromDisk: "deleted_from_disk",
	OpFreeSpace:       "free_space",
	OpForEachChild:    "for_each_child",
}

func (k OpKind) String() string {
	if int(k) < len(opNames) {
		return opNames[k]
	}
	return "unknown"
}

// QueuedOperation is one deferred primitive call. Run owns copies of its
// inputs; Done receives the outcome exactly once.
type QueuedOperation struct {
	Kind OpKind
	Ctx  context.Context
	Run  func(ctx context.Context) error
	Done func(err error)
}

// OperationQueue serializes operations against one backend: at most one is
// dispatched, the rest wait in FIFO order.
type OperationQueue struct {
	name string

	mu      sync.Mutex
	active  bool
	pending []*QueuedOperation
	cancel  context.CancelFunc // of the dispatched operation
}

// NewOperationQueue creates an idle queue. name labels logs and metrics.
func NewOperationQueue(name string) *OperationQueue {
	return &OperationQueue{name: name}
}

// Submit dispatches op immediately if the queue is idle, otherwise appends
// it behind the pending operations.
func (q *OperationQueue) Submit(op *QueuedOperation) {
	if op.Ctx == nil {
		op.Ctx = context.Background()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.active {
		q.active = true
		q.dispatchLocked(op)
		return
	}
	q.pending = append(q.pending, op)
	metrics.SetQueueDepth(q.name, len(q.pending))
	debug.Log(debug.QUEUE, "%s: queued %s (%d waiting)", q.name, op.Kind, len(q.pending))
}

func (q *OperationQueue) dispatchLocked(op *QueuedOperation) {
	ctx, cancel := context.WithCancel(op.Ctx)
	q.cancel = cancel
	metrics.RecordDispatch(q.name, op.Kind.String())
	debug.Log(debug.QUEUE, "%s: dispatch %s", q.name, op.Kind)
	go q.execute(ctx, cancel, op)
}

func (q *OperationQueue) execute(ctx context.Context, cancel context.CancelFunc, op *QueuedOperation) {
	var err error
	if ctx.Err() != nil {
		err = ErrCancelled
	} else {
		start := time.Now()
		err = op.Run(ctx)
		metrics.RecordOperation(q.name, op.Kind.String(), time.Since(start), err)
		if ctx.Err() != nil {
			// The token fired while running: report cancellation even if the
			// primitive finished anyway.
			err = ErrCancelled
		}
	}
	cancel()

	if err == ErrCancelled {
		metrics.RecordCancelled(q.name, op.Kind.String())
	}
	if op.Done != nil {
		op.Done(err)
	}
	q.complete()
}

// complete releases the dispatch slot and starts the next operation.
func (q *OperationQueue) complete() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.cancel = nil
	if len(q.pending) == 0 {
		q.active = false
		debug.Log(debug.QUEUE, "%s: idle", q.name)
		return
	}
	next := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	metrics.SetQueueDepth(q.name, len(q.pending))
	q.dispatchLocked(next)
}

// Cancel resolves every waiting operation with ErrCancelled and fires the
// cancellation token of the dispatched one. The dispatched operation still
// delivers its own outcome.
func (q *OperationQueue) Cancel() {
	q.mu.Lock()
	drained := q.pending
	q.pending = nil
	if q.cancel != nil {
		q.cancel()
	}
	metrics.SetQueueDepth(q.name, 0)
	q.mu.Unlock()

	debug.Log(debug.QUEUE, "%s: cancel, draining %d", q.name, len(drained))
	for _, op := range drained {
		metrics.RecordCancelled(q.name, op.Kind.String())
		if op.Done != nil {
			op.Done(ErrCancelled)
		}
	}
}

// Active reports whether an operation is dispatched.
func (q *OperationQueue) Active() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Len returns the number of waiting operations.
func (q *OperationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
