package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/kode4food/minflow/pkg/events"
	"github.com/kode4food/minflow/pkg/log"
	"github.com/kode4food/minflow/pkg/store"
)

type (
	// Flow is a Node that walks the graph from its start node, following
	// the successor registered for each action until none matches. Its
	// exec result is the last node's action, which Post relays outward
	Flow struct {
		*Base
		start Vertex
	}

	// BatchFlow traverses its graph once for every parameter set returned
	// by Prep. Each set is overlaid on the flow's own parameters
	BatchFlow struct {
		*Flow
	}

	// AsyncFlow is the suspending counterpart of Flow. Blocking nodes it
	// reaches are run inline
	AsyncFlow struct {
		*AsyncBase
		start Vertex
	}

	// AsyncBatchFlow is the suspending counterpart of BatchFlow
	AsyncBatchFlow struct {
		*AsyncFlow
	}

	stepFunc func(context.Context, Vertex, store.Store) (Action, error)
)

var (
	_ Node      = (*Flow)(nil)
	_ Node      = (*BatchFlow)(nil)
	_ AsyncNode = (*AsyncFlow)(nil)
	_ AsyncNode = (*AsyncBatchFlow)(nil)
)

func NewFlow(start Vertex, opts ...Option) *Flow {
	return &Flow{
		Base:  NewBase(opts...),
		start: start,
	}
}

func NewBatchFlow(start Vertex, opts ...Option) *BatchFlow {
	return &BatchFlow{Flow: NewFlow(start, opts...)}
}

func NewAsyncFlow(start Vertex, opts ...Option) *AsyncFlow {
	return &AsyncFlow{
		AsyncBase: NewAsyncBase(opts...),
		start:     start,
	}
}

func NewAsyncBatchFlow(start Vertex, opts ...Option) *AsyncBatchFlow {
	return &AsyncBatchFlow{AsyncFlow: NewAsyncFlow(start, opts...)}
}

// Start returns the node every traversal begins from
func (f *Flow) Start() Vertex {
	return f.start
}

// Post returns the action the traversal ended with
func (*Flow) Post(_ store.Store, _, exec any) (Action, error) {
	act, _ := exec.(Action)
	return act, nil
}

func (f *Flow) execute(
	ctx context.Context, self Node, s store.Store, _ any,
) (any, error) {
	return orchestrate(ctx, self, f.start, s, self.Params(), runBlocking)
}

// Post returns NoAction
func (*BatchFlow) Post(store.Store, any, any) (Action, error) {
	return NoAction, nil
}

func (f *BatchFlow) execute(
	ctx context.Context, self Node, s store.Store, prep any,
) (any, error) {
	return orchestrateBatch(ctx, self, f.start, s, prep, runBlocking)
}

// Start returns the node every traversal begins from
func (f *AsyncFlow) Start() Vertex {
	return f.start
}

// PostAsync returns the action the traversal ended with
func (*AsyncFlow) PostAsync(
	_ context.Context, _ store.Store, _, exec any,
) (Action, error) {
	act, _ := exec.(Action)
	return act, nil
}

func (f *AsyncFlow) executeAsync(
	ctx context.Context, self AsyncNode, s store.Store, _ any,
) (any, error) {
	return orchestrate(ctx, self, f.start, s, self.Params(), runVertex)
}

// PostAsync returns NoAction
func (*AsyncBatchFlow) PostAsync(
	context.Context, store.Store, any, any,
) (Action, error) {
	return NoAction, nil
}

func (f *AsyncBatchFlow) executeAsync(
	ctx context.Context, self AsyncNode, s store.Store, prep any,
) (any, error) {
	return orchestrateBatch(ctx, self, f.start, s, prep, runVertex)
}

func runBlocking(ctx context.Context, v Vertex, s store.Store) (Action, error) {
	n, ok := v.(Node)
	if !ok {
		return NoAction, fmt.Errorf("%w: %s", ErrAsyncNode, v.ID())
	}
	return runNode(ctx, n, s)
}

func orchestrate(
	ctx context.Context, flow, start Vertex, s store.Store, params Params,
	step stepFunc,
) (Action, error) {
	logger := nodeLogger(ctx, flow)
	emit(ctx, flow, events.FlowStarted, nil)

	act, err := traverse(ctx, start, s, params, step)
	if err != nil {
		emit(ctx, flow, events.FlowFailed, func(ev *events.Event) {
			ev.Error = err.Error()
		})
		return NoAction, err
	}

	logger.Debug("Flow completed", log.Action(act))
	emit(ctx, flow, events.FlowCompleted, func(ev *events.Event) {
		ev.Action = string(act)
	})
	return act, nil
}

func traverse(
	ctx context.Context, curr Vertex, s store.Store, params Params,
	step stepFunc,
) (Action, error) {
	for {
		if err := ctx.Err(); err != nil {
			return NoAction, err
		}

		curr.graph().carry(params)
		act, err := step(ctx, curr, s)
		if err != nil {
			return NoAction, err
		}

		next, ok := curr.Successor(act)
		if !ok {
			if act != NoAction && len(curr.Successors()) > 0 {
				nodeLogger(ctx, curr).Warn("Flow ends, no successor for action",
					log.Action(act),
					successorActions(curr))
			}
			return act, nil
		}

		nodeLogger(ctx, curr).Debug("Transition",
			log.Action(act.key()),
			log.Target(next.ID()))
		emit(ctx, curr, events.Transition, func(ev *events.Event) {
			ev.Action = string(act.key())
		})
		curr = next
	}
}

func orchestrateBatch(
	ctx context.Context, flow, start Vertex, s store.Store, prep any,
	step stepFunc,
) (any, error) {
	sets, err := paramSets(prep)
	if err != nil {
		return nil, err
	}
	base := flow.Params()
	res := make([]Action, len(sets))
	for i, set := range sets {
		act, err := orchestrate(
			withItem(ctx, i), flow, start, s, base.Merge(set), step,
		)
		if err != nil {
			return nil, itemError(i, err)
		}
		res[i] = act
	}
	return res, nil
}

func paramSets(prep any) ([]Params, error) {
	items, err := batchItems(prep)
	if err != nil {
		return nil, err
	}
	res := make([]Params, len(items))
	for i, item := range items {
		switch set := item.(type) {
		case Params:
			res[i] = set
		case map[string]any:
			res[i] = set
		case nil:
			res[i] = Params{}
		default:
			return nil, fmt.Errorf("%w: item %d is %T, want Params",
				ErrBatchInput, i, item)
		}
	}
	return res, nil
}

func successorActions(v Vertex) slog.Attr {
	return slog.Any("actions", slices.Sorted(maps.Keys(v.Successors())))
}
