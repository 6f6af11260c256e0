package engine

import (
	"context"
	"fmt"
)

// Future holds the eventual outcome of work started with Go
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Go runs fn on its own goroutine and returns a Future for its outcome.
// A panic in fn resolves the Future with ErrPanic
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("%w: %v", ErrPanic, r)
			}
		}()
		f.val, f.err = fn(ctx)
	}()
	return f
}

// Done is closed once the Future has resolved
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the Future resolves or ctx ends
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// AwaitAll waits for every Future and returns their values in argument
// order. The first failure observed is returned without waiting for the
// rest
func AwaitAll[T any](ctx context.Context, futures ...*Future[T]) ([]T, error) {
	res := make([]T, len(futures))
	resolved := make(chan int, len(futures))
	for i, f := range futures {
		go func() {
			select {
			case <-f.done:
				resolved <- i
			case <-ctx.Done():
			}
		}()
	}

	for range futures {
		select {
		case i := <-resolved:
			if err := futures[i].err; err != nil {
				var zero []T
				return zero, err
			}
			res[i] = futures[i].val
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return res, nil
}
