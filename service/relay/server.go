package relay

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"PRelay/global/config"
	"PRelay/logger"
	"PRelay/middleware"
	"PRelay/tools/ids"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

// Server owns the relay state: auth gate, connections, rooms and dispatch.
type Server struct {
	conf     config.ManagerConf
	gate     *Gate
	conns    *ConnManager
	rooms    *Registry
	disp     *Dispatcher
	clock    clock.Clock
	origins  []string
	upgrader websocket.Upgrader

	registry *prometheus.Registry
	metrics  *metrics

	tombMu sync.Mutex
	tombs  map[string]tombstone // closed polling sids
}

// tombstone remembers why a polling session closed so a late GET still learns the reason.
type tombstone struct {
	reason string
	at     time.Time
}

type Option func(*Server)

func WithClock(clk clock.Clock) Option { return func(s *Server) { s.clock = clk } }

// WithAllowedOrigins restricts websocket upgrades to these Origin values. Empty allows any.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

func NewServer(gate *Gate, conf config.ManagerConf, opts ...Option) *Server {
	s := &Server{
		conf:     conf.Normalized(),
		gate:     gate,
		rooms:    NewRegistry(),
		disp:     NewDispatcher(),
		clock:    clock.New(),
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = newMetrics(s.registry)
	s.conns = NewConnManager(s.conf, s.rooms, s.clock)
	s.tombs = make(map[string]tombstone)
	s.conns.onClose = func(c *Conn) {
		s.metrics.connections.WithLabelValues(c.Transport).Dec()
		if c.Transport == TransportPolling && c.CloseReason() != reasonClientDisconnect {
			s.bury(c.ID, c.CloseReason())
		}
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	s.disp.Register(NewJoinHandler())
	s.disp.Register(NewProbeHandler())
	s.disp.Register(NewForwardHandler(KindDomain))
	s.disp.Register(NewForwardHandler(KindUnknown))
	return s
}

// Start launches background sweeping of silent connections.
func (s *Server) Start() { s.conns.Start() }

func (s *Server) Close() { s.conns.Close() }

func (s *Server) Gate() *Gate                  { return s.gate }
func (s *Server) Rooms() *Registry             { return s.rooms }
func (s *Server) ConnMgr() *ConnManager        { return s.conns }
func (s *Server) Metrics() prometheus.Gatherer { return s.registry }

// Publish fans an event out to the members of room as they are at call time.
// It is the single entry for client-originated and ingress (webhook, NATS, Kafka) events.
func (s *Server) Publish(room string, ev Event) int {
	frame, err := EncodeFrame(ev.Name, ev.Data)
	if err != nil {
		logger.Warnf("[Publish] encode err room=%s event=%s err=%v", room, ev.Name, err)
		return 0
	}
	delivered, dropped := s.rooms.Send(room, frame)
	s.metrics.delivered.Add(float64(delivered))
	s.metrics.dropped.Add(float64(dropped))
	logger.Debugf("[Publish] room=%s event=%s delivered=%d dropped=%d", room, ev.Name, delivered, dropped)
	return delivered
}

// admit runs the auth gate for a handshake; rejection is counted.
func (s *Server) admit(credential, remote, transport string) error {
	if err := s.gate.admitLogged(credential, remote, transport); err != nil {
		s.metrics.authRejects.Inc()
		return err
	}
	return nil
}

// open registers an admitted connection, queues the connected frame and joins
// the handshake room if one was given.
func (s *Server) open(transport, remote, room string) (*Conn, error) {
	c, err := s.conns.Open(ids.ConnID(), transport, remote)
	if err != nil {
		return nil, err
	}
	s.metrics.connections.WithLabelValues(transport).Inc()
	logger.Infof("[Conn] open id=%s transport=%s remote=%s", c.ID, transport, remote)

	c.Enqueue(BuildConnected(c, room))
	if room != "" {
		if err := s.join(c, room); err != nil {
			logger.Warnf("[Conn] handshake join failed id=%s room=%s err=%v", c.ID, room, err)
		}
	}
	return c, nil
}

// inbound decodes and dispatches one raw frame. Malformed frames are logged and skipped.
func (s *Server) inbound(c *Conn, raw []byte) {
	env, err := ParseFrame(raw)
	if err != nil {
		sample := raw
		if len(sample) > 256 {
			sample = sample[:256]
		}
		logger.Infof("[Inbound] ParseFrame err conn=%s err=%v sample=%q len=%d", c.ID, err, sample, len(raw))
		return
	}
	s.dispatch(c, env)
}

func (s *Server) dispatch(c *Conn, env Envelope) {
	ev := Classify(env)
	s.metrics.events.WithLabelValues(ev.Kind.String()).Inc()
	if err := s.disp.Dispatch(&Context{S: s}, c, ev); err != nil {
		logger.Infof("[Inbound] dispatch err conn=%s event=%s err=%v", c.ID, ev.Name, err)
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin != "" {
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		origin = u.Scheme + "://" + u.Host
	}
	if !middleware.OriginAllowed(s.origins, origin) {
		logger.Warnf("[WS] origin rejected origin=%s", origin)
		return false
	}
	return true
}

// bury records a closed polling sid for one PollTimeout; older entries are pruned here.
func (s *Server) bury(sid, reason string) {
	now := s.clock.Now()
	s.tombMu.Lock()
	defer s.tombMu.Unlock()
	for id, t := range s.tombs {
		if now.Sub(t.at) > s.conf.PollTimeout {
			delete(s.tombs, id)
		}
	}
	s.tombs[sid] = tombstone{reason: reason, at: now}
}

// unbury returns and forgets the close reason of a recently closed polling sid.
func (s *Server) unbury(sid string) (string, bool) {
	s.tombMu.Lock()
	defer s.tombMu.Unlock()
	t, ok := s.tombs[sid]
	if !ok || s.clock.Now().Sub(t.at) > s.conf.PollTimeout {
		delete(s.tombs, sid)
		return "", false
	}
	delete(s.tombs, sid)
	return t.reason, true
}
