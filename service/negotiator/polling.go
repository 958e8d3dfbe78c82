package negotiator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"PRelay/logger"
	"PRelay/tools/errs"
	"PRelay/tools/safe"
)

// Polling is the fallback transport: HTTP long-poll on the relay endpoint with
// transport=polling. It works through proxies that cannot upgrade connections.
type Polling struct {
	Client *http.Client
}

func NewPolling() *Polling {
	return &Polling{Client: &http.Client{}}
}

func (p *Polling) Mode() string { return ModePolling }

type pollHandshake struct {
	SID         string `json:"sid"`
	PollWait    int64  `json:"pollWait"`
	PollTimeout int64  `json:"pollTimeout"`
}

func (p *Polling) Open(ctx context.Context, ep Endpoint) (Session, error) {
	q := handshakeQuery(ep)
	q.Set("transport", ModePolling)
	u, err := withQuery(ep.URL, q)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}

	body, err := p.do(ctx, http.MethodGet, u.String(), ep, nil)
	if err != nil {
		return nil, err
	}
	var hs pollHandshake
	if err := json.Unmarshal(body, &hs); err != nil || hs.SID == "" {
		return nil, errs.ErrProtocolMismatch.WrapMsg("polling handshake without sid", "body", sample(body))
	}

	sq := u.Query()
	sq.Set("sid", hs.SID)
	u.RawQuery = sq.Encode()

	loopCtx, cancel := context.WithCancel(context.Background())
	s := &pollSession{
		p:      p,
		ep:     ep,
		url:    u.String(),
		id:     hs.SID,
		wait:   time.Duration(hs.PollWait) * time.Millisecond,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		ctx:    loopCtx,
		cancel: cancel,
	}
	safe.Go("poll-loop", s.loop)
	return s, nil
}

func (p *Polling) do(ctx context.Context, method, target string, ep Endpoint, payload []byte) ([]byte, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, errs.ErrBadRequest.WrapErr(err, "build polling request")
	}
	req.Header = handshakeHeader(ep)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, classifyNet(ctx, err, "polling "+method+" "+req.URL.Host)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, classifyNet(ctx, err, "polling read")
	}
	if resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, sample(body), "polling "+method)
	}
	return body, nil
}

func sample(b []byte) string {
	if len(b) > 200 {
		b = b[:200]
	}
	return string(b)
}

type pollSession struct {
	p    *Polling
	ep   Endpoint
	url  string
	id   string
	wait time.Duration

	events chan Event
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

func (s *pollSession) ID() string            { return s.id }
func (s *pollSession) Mode() string          { return ModePolling }
func (s *pollSession) Events() <-chan Event  { return s.events }
func (s *pollSession) Done() <-chan struct{} { return s.done }

func (s *pollSession) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *pollSession) Emit(ctx context.Context, event string, data any) error {
	b, err := json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
	}{event, data})
	if err != nil {
		return errs.ErrBadRequest.WrapErr(err, "encode "+event)
	}
	_, err = s.p.do(ctx, http.MethodPost, s.url, s.ep, b)
	return err
}

// Close stops polling and tells the relay to drop the session.
func (s *pollSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err = s.p.do(ctx, http.MethodDelete, s.url, s.ep, nil)
		if errs.ErrNotFound.Is(err) {
			err = nil
		}
	})
	return err
}

func (s *pollSession) loop() {
	defer func() {
		close(s.events)
		close(s.done)
	}()
	hold := s.wait + 10*time.Second
	for {
		ctx, cancel := context.WithTimeout(s.ctx, hold)
		body, err := s.p.do(ctx, http.MethodGet, s.url, s.ep, nil)
		cancel()
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			s.setErr(err)
			return
		}

		var frames []Event
		if err := json.Unmarshal(body, &frames); err != nil {
			s.setErr(errs.ErrProtocolMismatch.WrapErr(err, "decode poll frames", "body", sample(body)))
			return
		}
		for _, ev := range frames {
			select {
			case s.events <- ev:
			case <-s.ctx.Done():
				return
			}
			if ev.Name == EventDisconnect {
				s.setErr(errs.ErrTransportError.WrapMsg("closed by relay", "reason", reasonOf(ev.Data)))
				return
			}
		}
	}
}

func (s *pollSession) setErr(err error) {
	logger.Debugf("[Negotiator] poll loop end sid=%s err=%v", s.id, err)
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

