package ingress

import (
	"context"
	"errors"
	"time"

	"PRelay/global/config"
	"PRelay/logger"
	"PRelay/service/relay"
	"PRelay/tools/errs"
	"PRelay/tools/safe"

	"github.com/Shopify/sarama"
)

// KafkaIngress consumes relay envelopes from Kafka. The message key names the room;
// an empty key falls back to instance/room in the body.
type KafkaIngress struct {
	cfg   config.KafkaConfig
	sink  *Sink
	group sarama.ConsumerGroup
}

func NewKafkaIngress(cfg config.KafkaConfig, sink *Sink) (*KafkaIngress, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers missing")
	}
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_1_0_0
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, errs.ErrUnreachable.WrapErr(err, "kafka consumer group", "group", cfg.GroupID)
	}
	return &KafkaIngress{cfg: cfg, sink: sink, group: group}, nil
}

// Run consumes until ctx is done. Consume returns on every rebalance, so it loops.
func (k *KafkaIngress) Run(ctx context.Context) error {
	safe.Go("kafka-errors", func() {
		for err := range k.group.Errors() {
			logger.Warnf("[Kafka] consumer group error: %v", err)
		}
	})

	h := &consumerGroupHandler{sink: k.sink}
	for {
		if err := k.group.Consume(ctx, k.cfg.Topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			logger.Warnf("[Kafka] consume error: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (k *KafkaIngress) Close() error {
	return k.group.Close()
}

type consumerGroupHandler struct {
	sink *Sink
}

func (h *consumerGroupHandler) Setup(s sarama.ConsumerGroupSession) error {
	logger.Infof("[Kafka] consumer group setup member=%s", s.MemberID())
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	logger.Infof("[Kafka] consumer group cleanup")
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		h.handle(session.Context(), msg)
		session.MarkMessage(msg, "")
	}
	return nil
}

func (h *consumerGroupHandler) handle(ctx context.Context, msg *sarama.ConsumerMessage) {
	defer safe.Recover("kafka-ingress")

	room, env, err := kafkaEnvelope(msg.Key, msg.Value)
	if err == nil {
		_, err = h.sink.Deliver(ctx, SourceKafka, room, env)
	}
	if err != nil {
		logger.Infof("[Kafka] drop topic=%s partition=%d offset=%d err=%v", msg.Topic, msg.Partition, msg.Offset, err)
	}
}

func kafkaEnvelope(key, value []byte) (string, relay.Envelope, error) {
	env, bodyRoom, err := decodeEnvelope(value)
	if err != nil {
		return "", env, err
	}
	if len(key) > 0 {
		return string(key), env, nil
	}
	return bodyRoom, env, nil
}
