package vfs

import (
	"context"
	"sync"
)

// Poster schedules a func on an event loop.
type Poster interface {
	Post(fn func()) bool
}

// Future is the result of a queued operation. It resolves exactly once.
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns an already resolved future.
func Resolved[T any](val T, err error) *Future[T] {
	f := newFuture[T]()
	f.resolve(val, err)
	return f
}

func (f *Future[T]) resolve(val T, err error) {
	f.once.Do(func() {
		f.val, f.err = val, err
		close(f.done)
	})
}

// Done is closed once the future resolves.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves. Cancelling the submitter's context
// resolves it promptly with a cancellation error.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.val, f.err
}

// Await is Wait bounded by ctx. It returns ErrCancelled if ctx ends first.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ErrCancelled
	}
}

// Err waits and returns only the error.
func (f *Future[T]) Err() error {
	<-f.done
	return f.err
}

// Then calls fn with the result on p, or on a fresh goroutine if p is nil.
func (f *Future[T]) Then(p Poster, fn func(T, error)) {
	go func() {
		<-f.done
		if p == nil {
			fn(f.val, f.err)
			return
		}
		p.Post(func() { fn(f.val, f.err) })
	}()
}
