package storage

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"PRelay/tools/errs"

	"github.com/redis/go-redis/v9"
)

// Delivery counters: one Hash + one capped List per instance.

const (
	fieldTotal     = "total"
	fieldDelivered = "delivered"
	eventPrefix    = "event:"
)

func statsKey(instance string) string  { return "relay:stats:" + instance }
func recentKey(instance string) string { return "relay:recent:" + instance }

// RedisLog shares delivery bookkeeping between relay nodes.
type RedisLog struct {
	rdb  redis.UniversalClient
	keep int64
}

func NewRedisLog(rdb redis.UniversalClient, keep int64) *RedisLog {
	if keep <= 0 {
		keep = 100
	}
	return &RedisLog{rdb: rdb, keep: keep}
}

func (r *RedisLog) Record(ctx context.Context, d Delivery) error {
	b, err := json.Marshal(d)
	if err != nil {
		return errs.WrapMsg(err, "marshal delivery")
	}
	// LPUSH + LTRIM keeps a rolling window of the most recent deliveries
	pipe := r.rdb.TxPipeline()
	pipe.HIncrBy(ctx, statsKey(d.Instance), fieldTotal, 1)
	pipe.HIncrBy(ctx, statsKey(d.Instance), fieldDelivered, int64(d.Delivered))
	pipe.HIncrBy(ctx, statsKey(d.Instance), eventPrefix+d.Event, 1)
	pipe.LPush(ctx, recentKey(d.Instance), b)
	pipe.LTrim(ctx, recentKey(d.Instance), 0, r.keep-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.WrapMsg(err, "record delivery", "instance", d.Instance)
	}
	return nil
}

func (r *RedisLog) Stats(ctx context.Context, instance string) (Stats, error) {
	out := Stats{Instance: instance, ByEvent: map[string]int64{}}

	fields, err := r.rdb.HGetAll(ctx, statsKey(instance)).Result()
	if err != nil {
		return out, errs.WrapMsg(err, "read stats", "instance", instance)
	}
	for k, v := range fields {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		switch {
		case k == fieldTotal:
			out.Total = n
		case k == fieldDelivered:
			out.Delivered = n
		case strings.HasPrefix(k, eventPrefix):
			out.ByEvent[strings.TrimPrefix(k, eventPrefix)] = n
		}
	}

	vals, err := r.rdb.LRange(ctx, recentKey(instance), 0, r.keep-1).Result()
	if err != nil {
		return out, errs.WrapMsg(err, "read recent", "instance", instance)
	}
	out.Recent = make([]Delivery, 0, len(vals))
	for _, v := range vals {
		var d Delivery
		if json.Unmarshal([]byte(v), &d) == nil {
			out.Recent = append(out.Recent, d)
		}
	}
	return out, nil
}
