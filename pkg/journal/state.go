package journal

import (
	"maps"
	"slices"
	"time"

	"github.com/kode4food/minflow/pkg/events"
)

type (
	// RunState is the projection of one run's journaled events
	RunState struct {
		RunID     string                `json:"run_id"`
		Status    Status                `json:"status"`
		Root      string                `json:"root,omitempty"`
		Action    string                `json:"action,omitempty"`
		Error     string                `json:"error,omitempty"`
		StartedAt time.Time             `json:"started_at"`
		EndedAt   time.Time             `json:"ended_at,omitzero"`
		Depth     int                   `json:"depth"`
		Events    int                   `json:"events"`
		Visited   []string              `json:"visited"`
		Nodes     map[string]*NodeState `json:"nodes"`
	}

	// NodeState counts what happened to a single node during a run. Batch
	// items and repeated visits accumulate into the same counters
	NodeState struct {
		Runs      int    `json:"runs"`
		Completed int    `json:"completed"`
		Failed    int    `json:"failed"`
		Retries   int    `json:"retries"`
		Fallbacks int    `json:"fallbacks"`
		Action    string `json:"action,omitempty"`
		Error     string `json:"error,omitempty"`
	}

	// Status is the overall state of a journaled run
	Status string
)

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// NewRunState constructs the empty projection of a run
func NewRunState() *RunState {
	return &RunState{
		Status:  StatusPending,
		Visited: []string{},
		Nodes:   map[string]*NodeState{},
	}
}

// IsDone reports whether the run's outermost node has finished
func (st *RunState) IsDone() bool {
	return st.Status == StatusCompleted || st.Status == StatusFailed
}

// Node returns the counters recorded for id, if any
func (st *RunState) Node(id string) (*NodeState, bool) {
	n, ok := st.Nodes[id]
	return n, ok
}

func (st *RunState) record(ev *events.Event) *RunState {
	res := *st
	res.RunID = ev.RunID
	res.Events++
	return &res
}

// withNode returns a copy of the state whose entry for id has been passed
// through fn. Prior states are never modified
func (st *RunState) withNode(id string, fn func(*NodeState)) *RunState {
	res := *st
	res.Nodes = maps.Clone(st.Nodes)
	if res.Nodes == nil {
		res.Nodes = map[string]*NodeState{}
	}
	var n NodeState
	if prev, ok := st.Nodes[id]; ok {
		n = *prev
	}
	fn(&n)
	res.Nodes[id] = &n
	return &res
}

func (st *RunState) visit(id string) *RunState {
	res := *st
	res.Visited = append(slices.Clip(st.Visited), id)
	return &res
}
