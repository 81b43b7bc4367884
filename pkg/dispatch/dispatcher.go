// Package dispatch fans inbound protocol events out to registered
// observers. Delivery is in arrival order, to a snapshot of the
// subscribers taken at publish time, with per-subscriber panic isolation.
package dispatch

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexio-ai/agentstream/pkg/protocol"
)

// Handler receives one decoded event. Handlers run on the publisher's
// goroutine; they must not block for long.
type Handler func(ev protocol.Event)

// Dispatcher is a fan-out register. Subscribing returns an unsubscribe
// handle; forgotten subscribers are the caller's responsibility.
type Dispatcher struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[uint64]Handler
	order    []uint64
	logger   zerolog.Logger
}

func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[uint64]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler and returns its de-registration handle.
// Unsubscribing is idempotent and safe during delivery; once it returns,
// no event published afterwards reaches the handler.
func (d *Dispatcher) Subscribe(h Handler) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.handlers[id] = h
	d.order = append(d.order, id)
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.handlers, id)
			for i, v := range d.order {
				if v == id {
					d.order = append(d.order[:i], d.order[i+1:]...)
					break
				}
			}
			d.mu.Unlock()
		})
	}
}

// Publish delivers the event to every handler registered at this moment,
// in subscription order. A panicking handler is logged and skipped; it
// never blocks delivery to the rest or reaches the connection layer.
func (d *Dispatcher) Publish(ev protocol.Event) {
	d.mu.Lock()
	snapshot := make([]Handler, 0, len(d.order))
	for _, id := range d.order {
		if h, ok := d.handlers[id]; ok {
			snapshot = append(snapshot, h)
		}
	}
	d.mu.Unlock()

	for _, h := range snapshot {
		d.invoke(h, ev)
	}
}

func (d *Dispatcher) invoke(h Handler, ev protocol.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn().
				Str("event_type", ev.EventType()).
				Interface("panic", r).
				Msg("event subscriber panicked; continuing delivery")
		}
	}()
	h(ev)
}

// Len reports the number of registered subscribers.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers)
}
