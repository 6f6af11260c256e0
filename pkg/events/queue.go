package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kode4food/minflow/pkg/log"
)

type (
	// Queue hands events from a consumer to a handler on its own goroutine
	Queue struct {
		cons     Consumer
		handler  Handler
		stop     chan struct{}
		stopOnce sync.Once
		started  sync.Once
		runWG    sync.WaitGroup

		mu      sync.Mutex
		handled int64
		changed chan struct{}
	}

	// Handler processes a single event
	Handler func(*Event) error
)

// NewQueue creates a Queue that drains cons into handler
func NewQueue(cons Consumer, handler Handler) *Queue {
	return &Queue{
		cons:    cons,
		handler: handler,
		stop:    make(chan struct{}),
		changed: make(chan struct{}),
	}
}

// Start begins processing queued events
func (q *Queue) Start() {
	q.started.Do(func() {
		q.runWG.Go(func() {
			for {
				select {
				case <-q.stop:
					return
				case ev, ok := <-q.cons.Receive():
					if !ok {
						return
					}
					q.handle(ev)
				}
			}
		})
	})
}

// Await blocks until the queue has handled at least n events. Pair it with
// Hub.Published so a flush cannot miss events still in transit
func (q *Queue) Await(ctx context.Context, n int64) error {
	for {
		q.mu.Lock()
		handled, changed := q.handled, q.changed
		q.mu.Unlock()
		if handled >= n {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Flush processes any events already delivered, then stops the queue and
// closes its consumer
func (q *Queue) Flush() {
	q.stopOnce.Do(func() {
		close(q.stop)
	})
	q.runWG.Wait()
	for {
		select {
		case ev, ok := <-q.cons.Receive():
			if !ok {
				q.cons.Close()
				return
			}
			q.handle(ev)
		default:
			q.cons.Close()
			return
		}
	}
}

func (q *Queue) handle(ev *Event) {
	defer q.advance()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event handler panic",
				slog.Any("panic", r))
		}
	}()
	if err := q.handler(ev); err != nil {
		slog.Error("Failed to handle event",
			slog.String("event_type", string(ev.Type)),
			log.Error(err))
	}
}

func (q *Queue) advance() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handled++
	close(q.changed)
	q.changed = make(chan struct{})
}

// LogHandler returns a Handler that writes each event to logger at debug
// level, or at warn level for failures
func LogHandler(logger *slog.Logger) Handler {
	return func(ev *Event) error {
		lvl := slog.LevelDebug
		if ev.Type == NodeFailed || ev.Type == FlowFailed {
			lvl = slog.LevelWarn
		}
		attrs := []slog.Attr{
			slog.String("event_type", string(ev.Type)),
			log.RunID(ev.RunID),
		}
		if ev.NodeID != "" {
			attrs = append(attrs, log.NodeID(ev.NodeID))
		}
		if ev.Action != "" {
			attrs = append(attrs, log.Action(ev.Action))
		}
		if ev.Attempt > 0 {
			attrs = append(attrs, log.Attempt(ev.Attempt))
		}
		if ev.Error != "" {
			attrs = append(attrs, log.ErrorString(ev.Error))
		}
		logger.LogAttrs(context.Background(), lvl, "Lifecycle event", attrs...)
		return nil
	}
}
