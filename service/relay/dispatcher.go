package relay

import "fmt"

// Dispatcher routes classified events to one handler per kind. KindUnknown is an
// ordinary kind here, so unrecognised event names reach a handler instead of an error.
type Dispatcher struct {
	handlers map[EventKind]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[EventKind]Handler)}
}

func (d *Dispatcher) Register(h Handler) { d.handlers[h.Kind()] = h }

func (d *Dispatcher) Dispatch(ctx *Context, c *Conn, ev Event) error {
	h, ok := d.handlers[ev.Kind]
	if !ok {
		return fmt.Errorf("no handler for kind=%v event=%s", ev.Kind, ev.Name)
	}
	return h.Handle(ctx, c, ev)
}
