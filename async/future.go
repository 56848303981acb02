package async

import (
	"context"
)

// Future is the result of work started with Go. It implements Awaitable, so
// host methods can return one to hand scripts a promise.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Go runs fn on a new goroutine and returns its future.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		v, err := run(ctx, func(ctx context.Context) (any, error) {
			return fn(ctx)
		})
		f.err = err
		if err == nil {
			f.val, _ = v.(T)
		}
	}()
	return f
}

// Resolved returns a completed future holding v.
func Resolved[T any](v T) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), val: v}
	close(f.done)
	return f
}

// Rejected returns a completed future holding err.
func Rejected[T any](err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), err: err}
	close(f.done)
	return f
}

// Get waits for the result.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Await implements Awaitable.
func (f *Future[T]) Await(ctx context.Context) (any, error) {
	v, err := f.Get(ctx)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Done returns a channel closed when the result is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }
