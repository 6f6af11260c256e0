package engine_test

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/kode4food/minflow/pkg/engine"
	"github.com/kode4food/minflow/pkg/store"
)

type (
	// step is a blocking node whose phases are plain functions
	step struct {
		*engine.Base
		prep     func(store.Store) (any, error)
		exec     func(any) (any, error)
		fallback func(any, error) (any, error)
		post     func(store.Store, any, any) (engine.Action, error)
		calls    atomic.Int32
	}

	// asyncStep is the suspending counterpart of step
	asyncStep struct {
		*engine.AsyncBase
		prep func(context.Context, store.Store) (any, error)
		exec func(context.Context, any) (any, error)
		post func(context.Context, store.Store, any, any) (
			engine.Action, error,
		)
	}

	// emitter returns a fixed action and records that it ran
	emitter struct {
		*engine.Base
		action engine.Action
		key    string
	}

	// paramRecorder writes the params it saw under its key
	paramRecorder struct {
		*engine.Base
		key string
	}
)

var errBoom = errors.New("boom")

func newStep(opts ...engine.Option) *step {
	return &step{Base: engine.NewBase(opts...)}
}

func (n *step) Prep(s store.Store) (any, error) {
	if n.prep == nil {
		return n.Base.Prep(s)
	}
	return n.prep(s)
}

func (n *step) Exec(prep any) (any, error) {
	n.calls.Add(1)
	if n.exec == nil {
		return n.Base.Exec(prep)
	}
	return n.exec(prep)
}

func (n *step) ExecFallback(prep any, err error) (any, error) {
	if n.fallback == nil {
		return n.Base.ExecFallback(prep, err)
	}
	return n.fallback(prep, err)
}

func (n *step) Post(s store.Store, prep, exec any) (engine.Action, error) {
	if n.post == nil {
		return n.Base.Post(s, prep, exec)
	}
	return n.post(s, prep, exec)
}

func newAsyncStep(opts ...engine.Option) *asyncStep {
	return &asyncStep{AsyncBase: engine.NewAsyncBase(opts...)}
}

func (n *asyncStep) PrepAsync(ctx context.Context, s store.Store) (any, error) {
	if n.prep == nil {
		return n.AsyncBase.PrepAsync(ctx, s)
	}
	return n.prep(ctx, s)
}

func (n *asyncStep) ExecAsync(ctx context.Context, prep any) (any, error) {
	if n.exec == nil {
		return n.AsyncBase.ExecAsync(ctx, prep)
	}
	return n.exec(ctx, prep)
}

func (n *asyncStep) PostAsync(
	ctx context.Context, s store.Store, prep, exec any,
) (engine.Action, error) {
	if n.post == nil {
		return n.AsyncBase.PostAsync(ctx, s, prep, exec)
	}
	return n.post(ctx, s, prep, exec)
}

func newEmitter(key string, action engine.Action) *emitter {
	return &emitter{
		Base:   engine.NewBase(engine.WithID(key)),
		action: action,
		key:    key,
	}
}

func (n *emitter) Post(s store.Store, _, _ any) (engine.Action, error) {
	s.Set(n.key, true)
	return n.action, nil
}

func newParamRecorder(key string, opts ...engine.Option) *paramRecorder {
	return &paramRecorder{
		Base: engine.NewBase(opts...),
		key:  key,
	}
}

func (n *paramRecorder) Post(s store.Store, _, _ any) (engine.Action, error) {
	s.Set(n.key, n.Params())
	return engine.NoAction, nil
}
