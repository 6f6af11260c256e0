package engine

import (
	"context"
	"log/slog"
	"maps"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kode4food/minflow/pkg/log"
	"github.com/kode4food/minflow/pkg/store"
)

type (
	// Vertex is the graph wiring shared by every node variant
	Vertex interface {
		ID() string
		Params() Params
		SetParams(Params)
		AddSuccessor(next Vertex, action Action) Vertex
		Then(next Vertex) Vertex
		Successor(action Action) (Vertex, bool)
		Successors() map[Action]Vertex
		Retry() RetryPolicy

		graph() *node
	}

	// Node is a blocking unit of computation. Implementations embed *Base
	// (or one of its variants) and override the phases they need
	Node interface {
		Vertex
		Prep(s store.Store) (any, error)
		Exec(prep any) (any, error)
		ExecFallback(prep any, err error) (any, error)
		Post(s store.Store, prep, exec any) (Action, error)

		execute(ctx context.Context, self Node, s store.Store, prep any) (
			any, error,
		)
	}

	// Base supplies the wiring and default phases of a blocking Node
	Base struct {
		*node
	}

	// Option configures a node at construction
	Option func(*node)

	node struct {
		mu      sync.RWMutex
		id      string
		own     Params
		carried Params
		next    map[Action]Vertex
		retry   RetryPolicy
		workers int
	}
)

var _ Node = (*Base)(nil)

// NewBase creates the embeddable core of a blocking Node
func NewBase(opts ...Option) *Base {
	return &Base{node: newNode(opts)}
}

// Prep returns nil
func (*Base) Prep(store.Store) (any, error) {
	return nil, nil
}

// Exec returns nil
func (*Base) Exec(any) (any, error) {
	return nil, nil
}

// ExecFallback re-returns the final Exec error
func (*Base) ExecFallback(_ any, err error) (any, error) {
	return nil, err
}

// Post returns NoAction
func (*Base) Post(store.Store, any, any) (Action, error) {
	return NoAction, nil
}

func (*Base) execute(
	ctx context.Context, self Node, _ store.Store, prep any,
) (any, error) {
	return execWithRetry(ctx, self, prep)
}

// WithID sets the node's identity instead of generating one
func WithID(id string) Option {
	return func(n *node) {
		n.id = id
	}
}

// WithParams sets the node's own parameters
func WithParams(p Params) Option {
	return func(n *node) {
		n.own = maps.Clone(p)
	}
}

// WithRetries sets the maximum number of Exec attempts
func WithRetries(attempts int) Option {
	return func(n *node) {
		n.retry.Attempts = max(attempts, 1)
	}
}

// WithWait sets the base delay between Exec attempts
func WithWait(d time.Duration) Option {
	return func(n *node) {
		n.retry.Wait = max(d, 0)
	}
}

// WithBackoff sets how the wait grows between attempts and its ceiling.
// A zero maxWait leaves the delay uncapped
func WithBackoff(kind BackoffType, maxWait time.Duration) Option {
	return func(n *node) {
		n.retry.Backoff = kind
		n.retry.MaxWait = max(maxWait, 0)
	}
}

// WithRetryPolicy replaces the node's whole retry policy
func WithRetryPolicy(p RetryPolicy) Option {
	return func(n *node) {
		n.retry = p.normalize()
	}
}

// WithWorkers bounds the concurrency of a ParallelBatchNode
func WithWorkers(workers int) Option {
	return func(n *node) {
		n.workers = max(workers, 1)
	}
}

func newNode(opts []Option) *node {
	n := &node{
		next:    map[Action]Vertex{},
		retry:   DefaultRetryPolicy(),
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.id == "" {
		n.id = uuid.NewString()
	}
	return n
}

func (n *node) graph() *node {
	return n
}

// ID returns the node's identity
func (n *node) ID() string {
	return n.id
}

// Params returns the parameters carried in by the enclosing flow,
// overlaid by the node's own
func (n *node) Params() Params {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.carried.Merge(n.own)
}

// SetParams replaces the node's own parameters
func (n *node) SetParams(p Params) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.own = maps.Clone(p)
}

func (n *node) carry(p Params) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.carried = maps.Clone(p)
}

// AddSuccessor routes action to next, replacing any earlier registration,
// and returns next so edges can be chained
func (n *node) AddSuccessor(next Vertex, action Action) Vertex {
	action = action.key()
	n.mu.Lock()
	_, replaced := n.next[action]
	n.next[action] = next
	n.mu.Unlock()

	if replaced {
		slog.Warn("Overwriting successor for action",
			log.NodeID(n.id),
			log.Action(action),
		)
	}
	return next
}

// Then routes DefaultAction to next and returns next
func (n *node) Then(next Vertex) Vertex {
	return n.AddSuccessor(next, DefaultAction)
}

// Successor returns the node registered for action. NoAction looks up the
// DefaultAction successor
func (n *node) Successor(action Action) (Vertex, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	next, ok := n.next[action.key()]
	return next, ok
}

// Successors returns a copy of the node's outgoing edges
func (n *node) Successors() map[Action]Vertex {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return maps.Clone(n.next)
}

// Retry returns the node's retry policy
func (n *node) Retry() RetryPolicy {
	return n.retry
}
