package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Wire vocabulary. Every frame in either direction is {"event": name, "data": any}.
const (
	EventJoin         = "join"
	EventTest         = "test"
	EventTestResponse = "test_response"
	EventPing         = "ping"
	EventPong         = "pong"

	EventConnected  = "connected"
	EventJoined     = "joined"
	EventError      = "error"
	EventDisconnect = "disconnect"
)

const (
	TransportWebSocket = "websocket"
	TransportPolling   = "polling"
)

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinPayload struct {
	Room string `json:"room"`
}

type TestResponse struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type ConnectedPayload struct {
	ID        string `json:"id"`
	Transport string `json:"transport"`
	Room      string `json:"room,omitempty"`
}

type JoinedPayload struct {
	Room     string `json:"room"`
	Previous string `json:"previous,omitempty"`
	Members  int    `json:"members"`
}

type ErrorPayload struct {
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// ParseFrame decodes one inbound envelope. The payload is never inspected.
func ParseFrame(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("frame without event name")
	}
	return env, nil
}

// ParseFrames accepts either a single envelope or a JSON array of them (polling POST bodies).
func ParseFrames(raw []byte) ([]Envelope, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	if trimmed[0] != '[' {
		env, err := ParseFrame(trimmed)
		if err != nil {
			return nil, err
		}
		return []Envelope{env}, nil
	}
	var envs []Envelope
	if err := json.Unmarshal(trimmed, &envs); err != nil {
		return nil, fmt.Errorf("unmarshal frames failed: %w", err)
	}
	for i, env := range envs {
		if env.Event == "" {
			return nil, fmt.Errorf("frame %d without event name", i)
		}
	}
	return envs, nil
}

// EncodeFrame builds an outbound frame. json.RawMessage data passes through untouched.
func EncodeFrame(event string, data any) ([]byte, error) {
	env := Envelope{Event: event}
	switch d := data.(type) {
	case nil:
	case json.RawMessage:
		env.Data = d
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Data = b
	}
	return json.Marshal(env)
}

func mustFrame(event string, data any) []byte {
	b, err := EncodeFrame(event, data)
	if err != nil {
		// only called with the relay's own payload types
		panic(err)
	}
	return b
}

// ---- relay-originated frames ----

func BuildConnected(c *Conn, room string) []byte {
	return mustFrame(EventConnected, ConnectedPayload{ID: c.ID, Transport: c.Transport, Room: room})
}

func BuildJoined(res JoinResult) []byte {
	return mustFrame(EventJoined, JoinedPayload{Room: res.Room, Previous: res.Previous, Members: res.Members})
}

func BuildError(reason, detail string) []byte {
	return mustFrame(EventError, ErrorPayload{Reason: reason, Detail: detail})
}

func BuildDisconnect(reason string) []byte {
	return mustFrame(EventDisconnect, ErrorPayload{Reason: reason})
}

func BuildTestResponse(event string, now time.Time) []byte {
	return mustFrame(event, TestResponse{
		Message:   "relay received " + probeRequest(event),
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	})
}

func probeRequest(reply string) string {
	if reply == EventPong {
		return EventPing
	}
	return EventTest
}

// JoinRoom reads the room out of a join payload. Both {"room": "x"} and a bare "x" are accepted.
func JoinRoom(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var p JoinPayload
	if err := json.Unmarshal(data, &p); err == nil {
		return p.Room
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return ""
}

// JoinFrames concatenates encoded frames into one JSON array (polling responses).
func JoinFrames(frames [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, f := range frames {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(f)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}
