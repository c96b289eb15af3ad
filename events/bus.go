package events

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type handler struct {
	id int
	fn func(Event)
}

// Bus dispatches events synchronously to subscribers in subscription order.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[Name][]handler
	logger   zerolog.Logger
}

type BusOption func(*Bus)

func WithLogger(logger zerolog.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

func NewBus(options ...BusOption) *Bus {
	b := &Bus{
		handlers: make(map[Name][]handler),
		logger:   log.Logger,
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// Subscribe registers fn for events of type E and returns a function that
// removes the subscription. Calling the returned function more than once is
// harmless.
func Subscribe[E Event](b *Bus, fn func(E)) func() {
	var zero E
	name := zero.EventName()

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[name] = append(b.handlers[name], handler{
		id: id,
		fn: func(e Event) {
			if typed, ok := e.(E); ok {
				fn(typed)
			}
		},
	})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		hs := b.handlers[name]
		for i := range hs {
			if hs[i].id == id {
				b.handlers[name] = append(hs[:i:i], hs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers e to every current subscriber of its kind. A panicking
// handler is logged and does not stop delivery to the others.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	hs := append([]handler(nil), b.handlers[e.EventName()]...)
	b.mu.RUnlock()

	for _, h := range hs {
		b.dispatch(e, h)
	}
}

func (b *Bus) dispatch(e Event, h handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Str("event", string(e.EventName())).Interface("panic", r).Msg("event handler panicked")
		}
	}()
	h.fn(e)
}

// Subscribers reports how many handlers listen for the named event.
func (b *Bus) Subscribers(name Name) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}
