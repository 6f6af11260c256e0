package journal

import (
	"github.com/kode4food/timebox"

	"github.com/kode4food/minflow/pkg/events"
)

type apply func(*RunState, *events.Event) *RunState

// Appliers folds every lifecycle event type into a RunState
var Appliers = timebox.Appliers[*RunState]{
	eventType(events.NodeStarted):   makeApplier(nodeStarted),
	eventType(events.NodeCompleted): makeApplier(nodeCompleted),
	eventType(events.NodeFailed):    makeApplier(nodeFailed),
	eventType(events.ExecRetrying):  makeApplier(execRetrying),
	eventType(events.ExecFallback):  makeApplier(execFallback),
	eventType(events.FlowStarted):   makeApplier(counted),
	eventType(events.FlowCompleted): makeApplier(counted),
	eventType(events.FlowFailed):    makeApplier(counted),
	eventType(events.Transition):    makeApplier(counted),
}

func eventType(t events.Type) timebox.EventType {
	return timebox.EventType(t)
}

func makeApplier(fn apply) timebox.Applier[*RunState] {
	return timebox.MakeApplier(
		func(st *RunState, _ *timebox.Event, ev events.Event) *RunState {
			return fn(st.record(&ev), &ev)
		},
	)
}

// nodeStarted opens a node. Node lifecycles nest, so the first one opened
// belongs to the root vertex of the run
func nodeStarted(st *RunState, ev *events.Event) *RunState {
	res := st.visit(ev.NodeID).withNode(ev.NodeID, func(n *NodeState) {
		n.Runs++
	})
	if res.Depth == 0 && res.Status == StatusPending {
		res.Status = StatusRunning
		res.Root = ev.NodeID
		res.StartedAt = ev.Time
	}
	res.Depth++
	return res
}

func nodeCompleted(st *RunState, ev *events.Event) *RunState {
	res := st.withNode(ev.NodeID, func(n *NodeState) {
		n.Completed++
		n.Action = ev.Action
	})
	if res.close() {
		res.Status = StatusCompleted
		res.Action = ev.Action
		res.EndedAt = ev.Time
	}
	return res
}

func nodeFailed(st *RunState, ev *events.Event) *RunState {
	res := st.withNode(ev.NodeID, func(n *NodeState) {
		n.Failed++
		n.Error = ev.Error
	})
	if res.close() {
		res.Status = StatusFailed
		res.Error = ev.Error
		res.EndedAt = ev.Time
	}
	return res
}

func execRetrying(st *RunState, ev *events.Event) *RunState {
	return st.withNode(ev.NodeID, func(n *NodeState) {
		n.Retries++
	})
}

func execFallback(st *RunState, ev *events.Event) *RunState {
	return st.withNode(ev.NodeID, func(n *NodeState) {
		n.Fallbacks++
	})
}

func counted(st *RunState, _ *events.Event) *RunState {
	return st
}

// close ends the innermost open node and reports whether it was the root
func (st *RunState) close() bool {
	if st.Depth == 0 {
		return false
	}
	st.Depth--
	return st.Depth == 0
}
