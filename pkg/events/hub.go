package events

import (
	"sync"
	"sync/atomic"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/message"
	"github.com/kode4food/caravan/topic"
)

type (
	// Hub is an Observer that republishes events onto a caravan topic
	Hub struct {
		topic  topic.Topic[*Event]
		prod   topic.Producer[*Event]
		mu     sync.RWMutex
		closed bool
		sent   atomic.Int64
	}

	// Consumer receives events published to a Hub
	Consumer = topic.Consumer[*Event]
)

var _ Observer = (*Hub)(nil)

// NewHub creates a Hub backed by a fresh topic
func NewHub() *Hub {
	t := caravan.NewTopic[*Event]()
	return &Hub{
		topic: t,
		prod:  t.NewProducer(),
	}
}

// Notify publishes the event. Events sent after Close are dropped
func (h *Hub) Notify(ev *Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	message.Send(h.prod, ev)
	h.sent.Add(1)
}

// Published returns how many events the Hub has handed to its topic. A
// consumer subscribed before the first of them receives them all
func (h *Hub) Published() int64 {
	return h.sent.Load()
}

// NewConsumer subscribes to events published after the call
func (h *Hub) NewConsumer() Consumer {
	return h.topic.NewConsumer()
}

// Close stops the Hub from publishing further events
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.prod.Close()
}
