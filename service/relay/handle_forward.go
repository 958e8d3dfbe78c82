package relay

import "PRelay/logger"

// ForwardHandler relays domain events, and unknown ones, to the sender's room
// unchanged. Payloads are not validated; consumers must tolerate shape drift.
type ForwardHandler struct{ kind EventKind }

func NewForwardHandler(kind EventKind) Handler { return &ForwardHandler{kind: kind} }
func (h *ForwardHandler) Kind() EventKind      { return h.kind }

func (h *ForwardHandler) Handle(ctx *Context, c *Conn, ev Event) error {
	if ev.Kind == KindUnknown {
		logger.Debugf("[Forward] unknown event conn=%s event=%s bytes=%d", c.ID, ev.Name, len(ev.Data))
	}
	room := ctx.S.rooms.RoomOf(c.ID)
	if room == "" {
		logger.Debugf("[Forward] drop, no room conn=%s event=%s", c.ID, ev.Name)
		return nil
	}
	ctx.S.Publish(room, ev)
	return nil
}
