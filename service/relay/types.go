package relay

import "encoding/json"

type EventKind int

const (
	KindUnknown EventKind = iota
	KindJoin
	KindProbe
	KindDomain
)

func (k EventKind) String() string {
	switch k {
	case KindJoin:
		return "join"
	case KindProbe:
		return "probe"
	case KindDomain:
		return "domain"
	default:
		return "unknown"
	}
}

// Event is the classified form of an inbound envelope. Unknown keeps name and payload
// so the forward path can relay event types this build has never heard of.
type Event struct {
	Kind EventKind
	Name string
	Data json.RawMessage
}

// Gateway event names relayed as domain events.
var domainEvents = map[string]struct{}{
	"messages.upsert":           {},
	"messages.update":           {},
	"messages.delete":           {},
	"messages.set":              {},
	"send.message":              {},
	"connection.update":         {},
	"qrcode.updated":            {},
	"presence.update":           {},
	"chats.set":                 {},
	"chats.upsert":              {},
	"chats.update":              {},
	"chats.delete":              {},
	"contacts.set":              {},
	"contacts.upsert":           {},
	"contacts.update":           {},
	"groups.upsert":             {},
	"groups.update":             {},
	"group-participants.update": {},
	"call":                      {},
	"message":                   {},
	"new_message":               {},
}

func Classify(env Envelope) Event {
	ev := Event{Name: env.Event, Data: env.Data}
	switch env.Event {
	case EventJoin:
		ev.Kind = KindJoin
	case EventTest, EventPing:
		ev.Kind = KindProbe
	default:
		if _, ok := domainEvents[env.Event]; ok {
			ev.Kind = KindDomain
		} else {
			ev.Kind = KindUnknown
		}
	}
	return ev
}

type Handler interface {
	Kind() EventKind
	Handle(*Context, *Conn, Event) error
}

type Context struct {
	S *Server
}
