package engine

import (
	"context"
	"fmt"

	"github.com/kode4food/minflow/pkg/store"
)

type (
	// AsyncNode is the suspending counterpart of Node. Every phase receives
	// the run's context, and runs are driven through a Future
	AsyncNode interface {
		Vertex
		PrepAsync(ctx context.Context, s store.Store) (any, error)
		ExecAsync(ctx context.Context, prep any) (any, error)
		ExecFallbackAsync(ctx context.Context, prep any, err error) (
			any, error,
		)
		PostAsync(ctx context.Context, s store.Store, prep, exec any) (
			Action, error,
		)

		executeAsync(
			ctx context.Context, self AsyncNode, s store.Store, prep any,
		) (any, error)
	}

	// AsyncBase supplies the wiring and default phases of an AsyncNode
	AsyncBase struct {
		*node
	}
)

var _ AsyncNode = (*AsyncBase)(nil)

// NewAsyncBase creates the embeddable core of an AsyncNode
func NewAsyncBase(opts ...Option) *AsyncBase {
	return &AsyncBase{node: newNode(opts)}
}

// PrepAsync returns nil
func (*AsyncBase) PrepAsync(context.Context, store.Store) (any, error) {
	return nil, nil
}

// ExecAsync returns nil
func (*AsyncBase) ExecAsync(context.Context, any) (any, error) {
	return nil, nil
}

// ExecFallbackAsync re-returns the final ExecAsync error
func (*AsyncBase) ExecFallbackAsync(
	_ context.Context, _ any, err error,
) (any, error) {
	return nil, err
}

// PostAsync returns NoAction
func (*AsyncBase) PostAsync(
	context.Context, store.Store, any, any,
) (Action, error) {
	return NoAction, nil
}

func (*AsyncBase) executeAsync(
	ctx context.Context, self AsyncNode, _ store.Store, prep any,
) (any, error) {
	return execAsyncWithRetry(ctx, self, prep)
}

// RunAsync starts exactly one lifecycle of n against s and returns a
// Future for its action. Successor edges are ignored
func RunAsync(ctx context.Context, n AsyncNode, s store.Store) *Future[Action] {
	ctx = ensureRunID(ctx)
	warnSuccessors(ctx, n)
	return Go(ctx, func(ctx context.Context) (Action, error) {
		return runAsyncNode(ctx, n, s)
	})
}

func runAsyncNode(
	ctx context.Context, n AsyncNode, s store.Store,
) (Action, error) {
	return observe(ctx, n, func() (Action, error) {
		prep, err := protect(func() (any, error) {
			return n.PrepAsync(ctx, s)
		})
		if err != nil {
			return NoAction, fmt.Errorf("%w: %w", ErrPrep, err)
		}

		exec, err := n.executeAsync(ctx, n, s, prep)
		if err != nil {
			return NoAction, err
		}

		act, err := protect(func() (Action, error) {
			return n.PostAsync(ctx, s, prep, exec)
		})
		if err != nil {
			return NoAction, fmt.Errorf("%w: %w", ErrPost, err)
		}
		return act, nil
	})
}

// runVertex runs either kind of node on the calling goroutine
func runVertex(ctx context.Context, v Vertex, s store.Store) (Action, error) {
	if n, ok := v.(AsyncNode); ok {
		return runAsyncNode(ctx, n, s)
	}
	return runNode(ctx, v.(Node), s)
}
