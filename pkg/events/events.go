package events

import (
	"context"
	"time"
)

type (
	// Type identifies the kind of lifecycle event
	Type string

	// Event describes one step in the lifecycle of a run. Item is the
	// 1-based position of the batch item or parameter set the event
	// belongs to, and zero outside of batches
	Event struct {
		Time    time.Time `json:"time"`
		Type    Type      `json:"type"`
		RunID   string    `json:"run_id"`
		NodeID  string    `json:"node_id,omitempty"`
		Action  string    `json:"action,omitempty"`
		Error   string    `json:"error,omitempty"`
		Attempt int       `json:"attempt,omitempty"`
		Item    int       `json:"item,omitempty"`
	}

	// Observer receives lifecycle events. Notify may be called from many
	// goroutines at once
	Observer interface {
		Notify(*Event)
	}

	// ObserverFunc adapts a function to the Observer interface
	ObserverFunc func(*Event)

	observers []Observer

	observerKey struct{}
)

const (
	FlowStarted   Type = "flow_started"
	FlowCompleted Type = "flow_completed"
	FlowFailed    Type = "flow_failed"
	NodeStarted   Type = "node_started"
	NodeCompleted Type = "node_completed"
	NodeFailed    Type = "node_failed"
	ExecRetrying  Type = "exec_retrying"
	ExecFallback  Type = "exec_fallback"
	Transition    Type = "transition"
)

// Notify calls fn with the event
func (fn ObserverFunc) Notify(ev *Event) {
	fn(ev)
}

func (o observers) Notify(ev *Event) {
	for _, obs := range o {
		obs.Notify(ev)
	}
}

// WithObserver returns a context whose runs report to obs in addition to
// any observer already attached
func WithObserver(ctx context.Context, obs Observer) context.Context {
	if obs == nil {
		return ctx
	}
	if prev := FromContext(ctx); prev != nil {
		obs = observers{prev, obs}
	}
	return context.WithValue(ctx, observerKey{}, obs)
}

// FromContext returns the Observer attached to ctx, if any
func FromContext(ctx context.Context) Observer {
	obs, _ := ctx.Value(observerKey{}).(Observer)
	return obs
}

// Emit stamps ev and delivers it to the context's Observer
func Emit(ctx context.Context, ev *Event) {
	obs := FromContext(ctx)
	if obs == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	obs.Notify(ev)
}

// IsTerminal reports whether the event ends a flow traversal
func (e *Event) IsTerminal() bool {
	return e.Type == FlowCompleted || e.Type == FlowFailed
}
