package ingress

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"PRelay/global/config"
	"PRelay/logger"
	"PRelay/tools/errs"
	"PRelay/tools/safe"

	"github.com/nats-io/nats.go"
)

// NatsxConfig 客户端配置
type NatsxConfig struct {
	Servers       []string
	Name          string
	Subject       string // e.g. relay.rooms.>; the tokens matched by the wildcard name the room
	Queue         string // 队列组, empty => every node receives every event
	ReconnectWait time.Duration
	Timeout       time.Duration
}

func NatsxConfigFrom(c config.NatsConfig, nodeID string) NatsxConfig {
	return NatsxConfig{Servers: c.Servers, Name: "relay-" + nodeID, Subject: c.Subject, Queue: c.Queue}
}

// NatsxIngress relays envelopes published on NATS subjects into rooms.
type NatsxIngress struct {
	cfg  NatsxConfig
	sink *Sink
	nc   *nats.Conn

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewNatsxIngress 连接 NATS
func NewNatsxIngress(cfg NatsxConfig, sink *Sink) (*NatsxIngress, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.Subject == "" {
		cfg.Subject = "relay.rooms.>"
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warnf("[NATS] disconnected err=%v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("[NATS] reconnected url=%s", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errs.ErrUnreachable.WrapErr(err, "nats connect", "servers", strings.Join(cfg.Servers, ","))
	}
	return &NatsxIngress{cfg: cfg, sink: sink, nc: nc}, nil
}

// Start subscribes; messages are handled on the NATS callback goroutine.
func (n *NatsxIngress) Start() error {
	var (
		sub *nats.Subscription
		err error
	)
	if n.cfg.Queue == "" {
		sub, err = n.nc.Subscribe(n.cfg.Subject, n.handle)
	} else {
		sub, err = n.nc.QueueSubscribe(n.cfg.Subject, n.cfg.Queue, n.handle)
	}
	if err != nil {
		return errs.WrapMsg(err, "nats subscribe", "subject", n.cfg.Subject)
	}
	_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)

	n.mu.Lock()
	n.sub = sub
	n.mu.Unlock()
	logger.Infof("[NATS] subscribed subject=%s queue=%s", n.cfg.Subject, n.cfg.Queue)
	return nil
}

func (n *NatsxIngress) handle(m *nats.Msg) {
	defer safe.Recover("nats-ingress")

	env, bodyRoom, err := decodeEnvelope(m.Data)
	if err != nil {
		logger.Infof("[NATS] drop subject=%s err=%v", m.Subject, err)
		return
	}
	room := RoomFromSubject(n.cfg.Subject, m.Subject)
	if room == "" {
		room = bodyRoom
	}
	if _, err := n.sink.Deliver(context.Background(), SourceNATS, room, env); err != nil {
		logger.Infof("[NATS] drop subject=%s err=%v", m.Subject, err)
	}
}

// Close 优雅关闭
func (n *NatsxIngress) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sub != nil {
		_ = n.sub.Drain()
		n.sub = nil
	}
	if n.nc != nil {
		return n.nc.Drain()
	}
	return nil
}

// RoomFromSubject returns the subject tokens matched by the pattern's wildcards,
// joined with dots: pattern relay.rooms.> and subject relay.rooms.inst-1 give inst-1.
func RoomFromSubject(pattern, subject string) string {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	var room []string
	for i, p := range pt {
		switch {
		case p == ">":
			if i >= len(st) {
				return ""
			}
			room = append(room, st[i:]...)
			return strings.Join(room, ".")
		case i >= len(st):
			return ""
		case p == "*":
			room = append(room, st[i])
		case p != st[i]:
			return ""
		}
	}
	if len(st) != len(pt) {
		return ""
	}
	return strings.Join(room, ".")
}
