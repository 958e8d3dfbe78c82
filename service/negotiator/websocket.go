package negotiator

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"PRelay/logger"
	"PRelay/tools/errs"

	"github.com/gorilla/websocket"
)

// WebSocket is the preferred transport: one persistent socket, relay frames as text messages.
type WebSocket struct {
	Dialer *websocket.Dialer
}

func NewWebSocket() *WebSocket {
	d := *websocket.DefaultDialer
	d.HandshakeTimeout = 0 // bounded by the attempt deadline instead
	return &WebSocket{Dialer: &d}
}

func (w *WebSocket) Mode() string { return ModeWebSocket }

func (w *WebSocket) Open(ctx context.Context, ep Endpoint) (Session, error) {
	u, err := withQuery(ep.URL, handshakeQuery(ep))
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	conn, resp, err := w.Dialer.DialContext(ctx, u.String(), handshakeHeader(ep))
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			_ = resp.Body.Close()
			return nil, classifyStatus(resp.StatusCode, string(body), "websocket handshake")
		}
		return nil, classifyNet(ctx, err, "websocket dial "+u.Host)
	}
	_ = resp.Body.Close()

	s := &wsSession{
		conn:   conn,
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

type wsSession struct {
	conn *websocket.Conn

	idMu sync.RWMutex
	id   string

	writeMu sync.Mutex
	events  chan Event
	done    chan struct{}
	closing chan struct{} // closed by Close; unblocks a read loop waiting on a full events

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
	local     bool
}

func (s *wsSession) ID() string {
	s.idMu.RLock()
	defer s.idMu.RUnlock()
	return s.id
}

func (s *wsSession) Mode() string          { return ModeWebSocket }
func (s *wsSession) Events() <-chan Event  { return s.events }
func (s *wsSession) Done() <-chan struct{} { return s.done }

func (s *wsSession) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *wsSession) Emit(ctx context.Context, event string, data any) error {
	b, err := json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
	}{event, data})
	if err != nil {
		return errs.ErrBadRequest.WrapErr(err, "encode "+event)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(dl)
	} else {
		_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return classifyNet(ctx, err, "websocket write")
	}
	return nil
}

// Close sends a normal close and tears the socket down; the read loop then exits.
func (s *wsSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.errMu.Lock()
		s.local = true
		s.errMu.Unlock()
		close(s.closing)

		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *wsSession) readLoop() {
	defer func() {
		close(s.events)
		close(s.done)
	}()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.finish(err)
			return
		}
		var ev Event
		if jerr := json.Unmarshal(data, &ev); jerr != nil || ev.Name == "" {
			logger.Debugf("[Negotiator] ws skip frame len=%d err=%v", len(data), jerr)
			continue
		}
		if ev.Name == EventConnected {
			s.setID(ev.Data)
		}
		select {
		case s.events <- ev:
		case <-s.closing:
			return
		}
	}
}

func (s *wsSession) setID(data json.RawMessage) {
	var p struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(data, &p) == nil {
		s.idMu.Lock()
		s.id = p.ID
		s.idMu.Unlock()
	}
}

func (s *wsSession) finish(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.local {
		return
	}
	if ce, ok := err.(*websocket.CloseError); ok {
		if strings.Contains(ce.Text, reasonInvalidCredential) {
			s.err = errs.ErrAuthRejected.WrapMsg(reasonInvalidCredential)
			return
		}
		s.err = errs.ErrTransportError.WrapMsg("closed by relay", "code", ce.Code, "reason", ce.Text)
		return
	}
	s.err = errs.ErrTransportError.WrapErr(err, "websocket read")
}
