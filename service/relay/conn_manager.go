package relay

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"PRelay/global/config"
	"PRelay/logger"

	"github.com/benbjohnson/clock"
)

type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Conn is one admitted transport session. Outbound frames go through a bounded
// queue drained by the transport (websocket writer or polling GET); a full queue drops.
type Conn struct {
	ID        string
	Transport string
	Remote    string
	CreatedAt time.Time

	state     atomic.Int32
	heartbeat atomic.Int64 // unix nanos

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	reason    atomic.Value // string

	inMu   sync.Mutex // serializes inbound dispatch
	pollMu sync.Mutex // one long-poll at a time
}

func newConn(id, transport, remote string, queue int, now time.Time) *Conn {
	c := &Conn{
		ID:        id,
		Transport: transport,
		Remote:    remote,
		CreatedAt: now,
		send:      make(chan []byte, queue),
		closed:    make(chan struct{}),
	}
	c.heartbeat.Store(now.UnixNano())
	return c
}

func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

func (c *Conn) IsOpen() bool { return c.State() == StateOpen }

// Closed is closed once the connection reaches StateClosed.
func (c *Conn) Closed() <-chan struct{} { return c.closed }

func (c *Conn) CloseReason() string {
	if r, ok := c.reason.Load().(string); ok {
		return r
	}
	return ""
}

// Enqueue hands a frame to the transport without blocking. It reports false when
// the connection is closed or its queue is full; the frame is then dropped.
func (c *Conn) Enqueue(frame []byte) bool {
	if c.State() == StateClosed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Drain returns queued frames without waiting, at most max (max <= 0: all queued).
func (c *Conn) Drain(max int) [][]byte {
	var out [][]byte
	for max <= 0 || len(out) < max {
		select {
		case f := <-c.send:
			out = append(out, f)
		default:
			return out
		}
	}
	return out
}

func (c *Conn) touch(now time.Time) { c.heartbeat.Store(now.UnixNano()) }

func (c *Conn) lastSeen() time.Time { return time.Unix(0, c.heartbeat.Load()) }

// markClosed flips the state; only the first caller gets true.
func (c *Conn) markClosed(reason string) bool {
	for {
		cur := c.state.Load()
		if ConnState(cur) == StateClosed {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(StateClosed)) {
			c.reason.Store(reason)
			return true
		}
	}
}

// ===== ConnManager =====

type ConnManager struct {
	mu    sync.RWMutex
	byID  map[string]*Conn
	rooms *Registry

	conf     config.ManagerConf
	clock    clock.Clock
	onClose  func(*Conn)
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewConnManager(conf config.ManagerConf, rooms *Registry, clk clock.Clock) *ConnManager {
	if clk == nil {
		clk = clock.New()
	}
	return &ConnManager{
		byID:   make(map[string]*Conn),
		rooms:  rooms,
		conf:   conf.Normalized(),
		clock:  clk,
		stopCh: make(chan struct{}),
	}
}

// Start runs the sweeper that expires silent connections.
func (m *ConnManager) Start() {
	go m.sweeper()
}

// Open registers an admitted connection in StateOpen.
func (m *ConnManager) Open(id, transport, remote string) (*Conn, error) {
	if id == "" {
		return nil, errors.New("conn id empty")
	}
	c := newConn(id, transport, remote, m.conf.SendQueue, m.clock.Now())

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[id]; exists {
		return nil, errors.New("conn id exists")
	}
	c.state.Store(int32(StateOpen))
	m.byID[id] = c
	return c, nil
}

func (m *ConnManager) Get(id string) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	return c, ok
}

// Heartbeat refreshes the liveness timestamp used by the sweeper.
func (m *ConnManager) Heartbeat(id string) {
	if c, ok := m.Get(id); ok {
		c.touch(m.clock.Now())
	}
}

// Remove closes the connection and takes it out of its room before returning,
// so no broadcast issued after Remove can target it.
func (m *ConnManager) Remove(id, reason string) bool {
	m.mu.Lock()
	c, ok := m.byID[id]
	if ok {
		delete(m.byID, id)
	}
	m.mu.Unlock()
	if !ok || !c.markClosed(reason) {
		return false
	}

	room, left := m.rooms.Leave(c.ID)
	c.closeOnce.Do(func() { close(c.closed) })
	if left {
		logger.Infof("[Conn] closed id=%s transport=%s room=%s reason=%s", c.ID, c.Transport, room, reason)
	} else {
		logger.Infof("[Conn] closed id=%s transport=%s reason=%s", c.ID, c.Transport, reason)
	}
	if m.onClose != nil {
		m.onClose(c)
	}
	return true
}

func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// CountByTransport is used by the rooms/stats endpoint.
func (m *ConnManager) CountByTransport() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int, 2)
	for _, c := range m.byID {
		out[c.Transport]++
	}
	return out
}

// Close stops the sweeper and closes every connection.
func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })

	m.mu.RLock()
	ids := make([]string, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Remove(id, "shutdown")
	}
}

// ===== 清理协程 =====

func (m *ConnManager) sweeper() {
	t := m.clock.Ticker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			m.SweepOnce(m.clock.Now())
		}
	}
}

// SweepOnce closes connections that have been silent longer than their transport's TTL.
func (m *ConnManager) SweepOnce(now time.Time) int {
	var expired []string

	m.mu.RLock()
	for id, c := range m.byID {
		if now.Sub(c.lastSeen()) > m.ttl(c) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	n := 0
	for _, id := range expired {
		if m.Remove(id, "timeout") {
			n++
		}
	}
	return n
}

func (m *ConnManager) ttl(c *Conn) time.Duration {
	if c.Transport == TransportPolling {
		return m.conf.PollTimeout
	}
	return m.conf.PongTimeout
}
