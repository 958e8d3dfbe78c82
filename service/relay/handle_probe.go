package relay

import "PRelay/logger"

// ProbeHandler answers liveness probes on the same connection only.
type ProbeHandler struct{}

func NewProbeHandler() Handler          { return &ProbeHandler{} }
func (h *ProbeHandler) Kind() EventKind { return KindProbe }

func (h *ProbeHandler) Handle(ctx *Context, c *Conn, ev Event) error {
	reply := EventTestResponse
	if ev.Name == EventPing {
		reply = EventPong
	}
	if !c.Enqueue(BuildTestResponse(reply, ctx.S.clock.Now())) {
		logger.Debugf("[Probe] reply dropped conn=%s event=%s", c.ID, ev.Name)
	}
	return nil
}
