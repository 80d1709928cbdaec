// internal/events/handler.go
package events

import (
	"context"
)

// Handler consumes published events. Handlers registered on the bus run
// synchronously with the publisher, so they must return promptly.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Subscription is returned by Subscribe and cancels delivery to one handler.
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	id       string
	eventBus *Bus
	typ      EventType
}

func (s *subscription) Unsubscribe() {
	s.eventBus.unsubscribe(s.id, s.typ)
}

// Forward returns a handler that queues every event on bus for asynchronous
// delivery. Slow consumers subscribed to bus then no longer hold up the
// publisher of the source bus.
func Forward(bus *Bus) Handler {
	return HandlerFunc(func(_ context.Context, event Event) error {
		return bus.Publish(event)
	})
}
