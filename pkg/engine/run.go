package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kode4food/minflow/pkg/events"
	"github.com/kode4food/minflow/pkg/log"
	"github.com/kode4food/minflow/pkg/store"
)

type (
	runKey  struct{}
	itemKey struct{}
)

// Run executes exactly one lifecycle of n against s. Successor edges are
// ignored; use a Flow to traverse them
func Run(ctx context.Context, n Node, s store.Store) (Action, error) {
	ctx = ensureRunID(ctx)
	warnSuccessors(ctx, n)
	return runNode(ctx, n, s)
}

// WithRunID returns a context whose runs are identified by id
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runKey{}, id)
}

// RunID returns the run identity carried by ctx, if any
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runKey{}).(string)
	return id
}

func ensureRunID(ctx context.Context) context.Context {
	if RunID(ctx) != "" {
		return ctx
	}
	return WithRunID(ctx, uuid.NewString())
}

func warnSuccessors(ctx context.Context, v Vertex) {
	if len(v.Successors()) == 0 {
		return
	}
	nodeLogger(ctx, v).Warn("Node won't run successors, use a Flow")
}

func runNode(ctx context.Context, n Node, s store.Store) (Action, error) {
	return observe(ctx, n, func() (Action, error) {
		prep, err := protect(func() (any, error) {
			return n.Prep(s)
		})
		if err != nil {
			return NoAction, fmt.Errorf("%w: %w", ErrPrep, err)
		}

		exec, err := n.execute(ctx, n, s, prep)
		if err != nil {
			return NoAction, err
		}

		act, err := protect(func() (Action, error) {
			return n.Post(s, prep, exec)
		})
		if err != nil {
			return NoAction, fmt.Errorf("%w: %w", ErrPost, err)
		}
		return act, nil
	})
}

func observe(
	ctx context.Context, v Vertex, run func() (Action, error),
) (Action, error) {
	logger := nodeLogger(ctx, v)
	logger.Debug("Node started")
	emit(ctx, v, events.NodeStarted, nil)

	act, err := run()
	if err != nil {
		logger.Debug("Node failed", log.Error(err))
		emit(ctx, v, events.NodeFailed, func(ev *events.Event) {
			ev.Error = err.Error()
		})
		return NoAction, err
	}

	logger.Debug("Node completed", log.Action(act))
	emit(ctx, v, events.NodeCompleted, func(ev *events.Event) {
		ev.Action = string(act)
	})
	return act, nil
}

func nodeLogger(ctx context.Context, v Vertex) *slog.Logger {
	logger := log.FromContext(ctx).With(
		log.RunID(RunID(ctx)),
		log.NodeID(v.ID()),
	)
	if idx, ok := itemIndex(ctx); ok {
		logger = logger.With(log.Item(idx))
	}
	return logger
}

func emit(
	ctx context.Context, v Vertex, typ events.Type, fill func(*events.Event),
) {
	if events.FromContext(ctx) == nil {
		return
	}
	ev := &events.Event{
		Type:   typ,
		RunID:  RunID(ctx),
		NodeID: v.ID(),
	}
	if idx, ok := itemIndex(ctx); ok {
		ev.Item = idx + 1
	}
	if fill != nil {
		fill(ev)
	}
	events.Emit(ctx, ev)
}

func withItem(ctx context.Context, idx int) context.Context {
	return context.WithValue(ctx, itemKey{}, idx)
}

func itemIndex(ctx context.Context) (int, bool) {
	idx, ok := ctx.Value(itemKey{}).(int)
	return idx, ok
}
