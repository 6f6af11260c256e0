package engine

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/kode4food/minflow/pkg/store"
)

type (
	// BatchNode applies Exec to each item returned by Prep, in order
	BatchNode struct {
		*Base
	}

	// ParallelBatchNode applies Exec to each item returned by Prep on a
	// bounded pool of workers. Results keep the order of the items
	ParallelBatchNode struct {
		*Base
	}

	// AsyncBatchNode applies ExecAsync to each item returned by PrepAsync,
	// in order
	AsyncBatchNode struct {
		*AsyncBase
	}

	// AsyncParallelBatchNode applies ExecAsync to every item returned by
	// PrepAsync concurrently
	AsyncParallelBatchNode struct {
		*AsyncBase
	}
)

var (
	_ Node      = (*BatchNode)(nil)
	_ Node      = (*ParallelBatchNode)(nil)
	_ AsyncNode = (*AsyncBatchNode)(nil)
	_ AsyncNode = (*AsyncParallelBatchNode)(nil)
)

func NewBatchNode(opts ...Option) *BatchNode {
	return &BatchNode{Base: NewBase(opts...)}
}

func NewParallelBatchNode(opts ...Option) *ParallelBatchNode {
	return &ParallelBatchNode{Base: NewBase(opts...)}
}

func NewAsyncBatchNode(opts ...Option) *AsyncBatchNode {
	return &AsyncBatchNode{AsyncBase: NewAsyncBase(opts...)}
}

func NewAsyncParallelBatchNode(opts ...Option) *AsyncParallelBatchNode {
	return &AsyncParallelBatchNode{AsyncBase: NewAsyncBase(opts...)}
}

func (*BatchNode) execute(
	ctx context.Context, self Node, _ store.Store, prep any,
) (any, error) {
	items, err := batchItems(prep)
	if err != nil {
		return nil, err
	}
	res := make([]any, len(items))
	for i, item := range items {
		r, err := execWithRetry(withItem(ctx, i), self, item)
		if err != nil {
			return nil, itemError(i, err)
		}
		res[i] = r
	}
	return res, nil
}

func (*ParallelBatchNode) execute(
	ctx context.Context, self Node, _ store.Store, prep any,
) (any, error) {
	items, err := batchItems(prep)
	if err != nil {
		return nil, err
	}
	res := make([]any, len(items))
	if len(items) == 0 {
		return res, nil
	}

	work, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg    sync.WaitGroup
		once  sync.Once
		first error
	)
	fail := func(err error) {
		once.Do(func() {
			first = err
			cancel()
		})
	}

	jobs := make(chan int)
	for range min(self.graph().workers, len(items)) {
		wg.Go(func() {
			for i := range jobs {
				if work.Err() != nil {
					continue
				}
				r, err := execWithRetry(withItem(work, i), self, items[i])
				if err != nil {
					fail(itemError(i, err))
					continue
				}
				res[i] = r
			}
		})
	}

feed:
	for i := range items {
		select {
		case jobs <- i:
		case <-work.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if first != nil {
		return nil, first
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func (*AsyncBatchNode) executeAsync(
	ctx context.Context, self AsyncNode, _ store.Store, prep any,
) (any, error) {
	items, err := batchItems(prep)
	if err != nil {
		return nil, err
	}
	res := make([]any, len(items))
	for i, item := range items {
		r, err := execAsyncWithRetry(withItem(ctx, i), self, item)
		if err != nil {
			return nil, itemError(i, err)
		}
		res[i] = r
	}
	return res, nil
}

func (*AsyncParallelBatchNode) executeAsync(
	ctx context.Context, self AsyncNode, _ store.Store, prep any,
) (any, error) {
	items, err := batchItems(prep)
	if err != nil {
		return nil, err
	}

	work, cancel := context.WithCancel(ctx)
	defer cancel()

	futures := make([]*Future[any], len(items))
	for i, item := range items {
		futures[i] = Go(withItem(work, i),
			func(ctx context.Context) (any, error) {
				r, err := execAsyncWithRetry(ctx, self, item)
				if err != nil {
					return nil, itemError(i, err)
				}
				return r, nil
			},
		)
	}
	return AwaitAll(ctx, futures...)
}

// batchItems converts the value returned by a batch Prep into its items
func batchItems(prep any) ([]any, error) {
	switch items := prep.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return items, nil
	}

	val := reflect.ValueOf(prep)
	if val.Kind() != reflect.Slice && val.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: got %T", ErrBatchInput, prep)
	}
	res := make([]any, val.Len())
	for i := range res {
		res[i] = val.Index(i).Interface()
	}
	return res, nil
}

func itemError(idx int, err error) error {
	return fmt.Errorf("%w: item %d: %w", ErrBatchItem, idx, err)
}
