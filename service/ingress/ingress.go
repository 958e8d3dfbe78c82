package ingress

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"PRelay/logger"
	"PRelay/service/relay"
	"PRelay/service/storage"
	"PRelay/tools/errs"

	"go.uber.org/multierr"
)

// Ingress sources.
const (
	SourceWebhook = "webhook"
	SourceNATS    = "nats"
	SourceKafka   = "kafka"
)

// Publisher is the relay side of ingress: fan an event out to one room.
type Publisher interface {
	Publish(room string, ev relay.Event) int
}

// Sink relays externally injected events into rooms and books each delivery.
type Sink struct {
	pub Publisher
	log storage.DeliveryLog
	now func() time.Time
}

func NewSink(pub Publisher, log storage.DeliveryLog) *Sink {
	if log == nil {
		log = storage.NewMemoryLog(0)
	}
	return &Sink{pub: pub, log: log, now: time.Now}
}

func (s *Sink) Log() storage.DeliveryLog { return s.log }

// Deliver publishes env to room. A bookkeeping failure is logged, never returned:
// the event has already reached the room by then.
func (s *Sink) Deliver(ctx context.Context, source, room string, env relay.Envelope) (int, error) {
	if room == "" {
		return 0, errs.ErrRoomRequired.WrapMsg("ingress event without room", "source", source, "event", env.Event)
	}
	if env.Event == "" {
		return 0, errs.ErrBadRequest.WrapMsg("ingress event without name", "source", source, "room", room)
	}
	env.Event = NormalizeEvent(env.Event)
	ev := relay.Classify(env)

	n := s.pub.Publish(room, ev)
	if err := s.log.Record(ctx, storage.Delivery{
		Instance:  room,
		Event:     ev.Name,
		Source:    source,
		Delivered: n,
		At:        s.now(),
	}); err != nil {
		logger.Warnf("[Ingress] record delivery failed source=%s room=%s err=%v", source, room, err)
	}
	logger.Debugf("[Ingress] source=%s room=%s event=%s kind=%s delivered=%d", source, room, ev.Name, ev.Kind, n)
	return n, nil
}

// NormalizeEvent maps gateway webhook names such as MESSAGES_UPSERT onto the
// dotted form clients listen for (messages.upsert). Other names are kept as is.
func NormalizeEvent(name string) string {
	if strings.Contains(name, ".") || name != strings.ToUpper(name) || !strings.Contains(name, "_") {
		return name
	}
	return strings.ReplaceAll(strings.ToLower(name), "_", ".")
}

// decodeEnvelope parses a broker payload; room may also travel inside the body.
func decodeEnvelope(raw []byte) (relay.Envelope, string, error) {
	var body struct {
		Event    string          `json:"event"`
		Instance string          `json:"instance"`
		Room     string          `json:"room"`
		Data     json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return relay.Envelope{}, "", errs.ErrBadRequest.WrapErr(err, "decode ingress payload")
	}
	room := body.Room
	if room == "" {
		room = body.Instance
	}
	return relay.Envelope{Event: body.Event, Data: body.Data}, room, nil
}

// CloseAll closes every non-nil closer and reports all failures together.
func CloseAll(cs ...io.Closer) error {
	var err error
	for _, c := range cs {
		if c != nil {
			err = multierr.Append(err, c.Close())
		}
	}
	return err
}
