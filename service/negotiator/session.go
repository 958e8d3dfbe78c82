package negotiator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"PRelay/tools/errs"
	"PRelay/tools/timer"

	"github.com/benbjohnson/clock"
)

const (
	ModeWebSocket = "websocket"
	ModePolling   = "polling"
)

// Relay lifecycle events the negotiator interprets.
const (
	EventConnected    = "connected"
	EventDisconnect   = "disconnect"
	EventError        = "error"
	EventTest         = "test"
	EventTestResponse = "test_response"
)

// Endpoint is one connection target. URL is http(s); transports derive their own scheme.
type Endpoint struct {
	URL        string
	Credential string
	Room       string
	Header     http.Header
}

type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Session is one open transport session. Events is closed when the session ends;
// Err then reports why (nil after a local Close).
type Session interface {
	ID() string
	Mode() string
	Emit(ctx context.Context, event string, data any) error
	Events() <-chan Event
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Transport opens sessions of one mode. Open returns once the transport handshake
// completes; the relay's connected frame is awaited by the Negotiator.
type Transport interface {
	Mode() string
	Open(ctx context.Context, ep Endpoint) (Session, error)
}

// Await reads sess until an event named name arrives or wait elapses. Other events
// are passed to skip (if non-nil) and otherwise dropped.
func Await(ctx context.Context, sess Session, name string, wait time.Duration, clk clock.Clock, skip func(Event)) (Event, error) {
	dl := timer.Start(ctx, wait, clk)
	defer dl.Stop()

	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				return Event{}, sessionEnded(sess)
			}
			if ev.Name == name {
				return ev, nil
			}
			if ev.Name == EventDisconnect {
				return Event{}, errs.ErrTransportError.WrapMsg("relay disconnected", "reason", reasonOf(ev.Data))
			}
			if skip != nil {
				skip(ev)
			}
		case <-dl.Done():
			if dl.Expired() {
				return Event{}, errs.ErrTransportTimeout.WrapMsg("no "+name, "wait", wait)
			}
			return Event{}, errs.ErrTransportTimeout.WrapErr(ctx.Err(), "no "+name)
		}
	}
}

func sessionEnded(sess Session) error {
	if err := sess.Err(); err != nil {
		return err
	}
	return errs.ErrTransportError.WrapMsg("session closed", "mode", sess.Mode())
}

// reasonOf reads {"reason": "..."} out of error/disconnect payloads.
func reasonOf(data json.RawMessage) string {
	var p struct {
		Reason string `json:"reason"`
	}
	if json.Unmarshal(data, &p) != nil {
		return ""
	}
	return p.Reason
}

// withQuery appends the credential and room the way the relay's handshake expects them.
func withQuery(raw string, extra url.Values) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, errs.ErrBadRequest.WrapErr(err, "parse endpoint", "url", raw)
	}
	if u.Host == "" {
		return nil, errs.ErrBadRequest.WrapMsg("endpoint without host", "url", raw)
	}
	q := u.Query()
	for k, vs := range extra {
		for _, v := range vs {
			if v != "" {
				q.Set(k, v)
			}
		}
	}
	u.RawQuery = q.Encode()
	return u, nil
}

func handshakeQuery(ep Endpoint) url.Values {
	return url.Values{"apikey": {ep.Credential}, "room": {ep.Room}}
}

func handshakeHeader(ep Endpoint) http.Header {
	h := http.Header{}
	for k, vs := range ep.Header {
		h[k] = append([]string(nil), vs...)
	}
	if ep.Credential != "" {
		h.Set("apikey", ep.Credential)
	}
	return h
}
