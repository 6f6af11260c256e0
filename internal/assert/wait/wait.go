package wait

import (
	"testing"
	"time"

	"github.com/kode4food/minflow/pkg/events"
)

type (
	Wait struct {
		t        *testing.T
		consumer events.Consumer
		timeout  time.Duration
	}

	// EventFilter selects the events a Wait counts
	EventFilter func(*events.Event) bool
)

const DefaultTimeout = time.Second * 5

// Subscribe returns a consumer of hub that is closed when the test ends.
// The hub is closed first, so nothing is published while the consumer
// shuts down
func Subscribe(t *testing.T, hub *events.Hub) events.Consumer {
	t.Helper()
	cons := hub.NewConsumer()
	t.Cleanup(func() {
		hub.Close()
		cons.Close()
	})
	return cons
}

func On(t *testing.T, consumer events.Consumer) *Wait {
	return &Wait{
		t:        t,
		consumer: consumer,
		timeout:  DefaultTimeout,
	}
}

func (w *Wait) WithTimeout(timeout time.Duration) *Wait {
	res := *w
	res.timeout = timeout
	return &res
}

// ForEvents waits for matching events from the consumer and returns them
func (w *Wait) ForEvents(count int, filter EventFilter) []*events.Event {
	w.t.Helper()

	deadline := time.NewTimer(w.timeout)
	defer deadline.Stop()

	var seen []*events.Event
	for len(seen) < count {
		select {
		case ev, ok := <-w.consumer.Receive():
			if !ok {
				w.t.Fatalf(
					"event consumer closed before receiving %d events", count,
				)
			}
			if !filter(ev) {
				continue
			}
			seen = append(seen, ev)
		case <-deadline.C:
			w.t.Fatalf("timeout waiting for %d events", count)
		}
	}
	return seen
}

// ForEvent waits for a single matching event
func (w *Wait) ForEvent(filter EventFilter) *events.Event {
	w.t.Helper()
	return w.ForEvents(1, filter)[0]
}

// And composes event filters and returns true when all match
func And(filters ...EventFilter) EventFilter {
	return func(ev *events.Event) bool {
		for _, filter := range filters {
			if !filter(ev) {
				return false
			}
		}
		return true
	}
}

// Type creates a filter for a single event type
func Type(eventType events.Type) EventFilter {
	return Types(eventType)
}

// Types creates a filter for the given event types
func Types(eventTypes ...events.Type) EventFilter {
	lookup := make(map[events.Type]bool, len(eventTypes))
	for _, et := range eventTypes {
		lookup[et] = true
	}
	return func(ev *events.Event) bool {
		return lookup[ev.Type]
	}
}

// Node matches events raised by the given node
func Node(id string) EventFilter {
	return func(ev *events.Event) bool {
		return ev.NodeID == id
	}
}

// Terminal matches the events that end a flow traversal
func Terminal() EventFilter {
	return func(ev *events.Event) bool {
		return ev.IsTerminal()
	}
}

// Any matches every event
func Any() EventFilter {
	return func(*events.Event) bool { return true }
}
