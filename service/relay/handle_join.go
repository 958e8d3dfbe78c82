package relay

import (
	"PRelay/logger"
)

type JoinHandler struct{}

func NewJoinHandler() Handler          { return &JoinHandler{} }
func (h *JoinHandler) Kind() EventKind { return KindJoin }
func (h *JoinHandler) Handle(ctx *Context, c *Conn, ev Event) error {
	return ctx.S.join(c, JoinRoom(ev.Data))
}

// join is shared by the join event and the handshake room parameter.
func (s *Server) join(c *Conn, room string) error {
	res, err := s.rooms.Join(c, room)
	switch {
	case ErrEmptyRoom.Is(err):
		// non-fatal: tell the caller and keep the connection
		logger.Warnf("[Join] ignored, empty room conn=%s", c.ID)
		c.Enqueue(BuildError("room_required", "join needs {\"room\": \"<instance>\"}"))
		return nil
	case err != nil:
		return err
	}

	if res.Already {
		logger.Debugf("[Join] repeat conn=%s room=%s", c.ID, room)
	} else if res.Previous != "" {
		logger.Infof("[Join] moved conn=%s from=%s to=%s members=%d", c.ID, res.Previous, room, res.Members)
	} else {
		logger.Infof("[Join] conn=%s room=%s members=%d", c.ID, room, res.Members)
	}
	s.metrics.joins.Inc()
	c.Enqueue(BuildJoined(res))
	return nil
}
