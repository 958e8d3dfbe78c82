package storage

import (
	"context"
	"sync"
	"time"
)

// Delivery is one externally injected event relayed into a room.
type Delivery struct {
	Instance  string    `json:"instance"`
	Event     string    `json:"event"`
	Source    string    `json:"source"` // webhook | nats | kafka
	Delivered int       `json:"delivered"`
	At        time.Time `json:"at"`
}

type Stats struct {
	Instance  string           `json:"instance"`
	Total     int64            `json:"total"`
	Delivered int64            `json:"delivered"`
	ByEvent   map[string]int64 `json:"byEvent"`
	Recent    []Delivery       `json:"recent"` // newest first
}

// DeliveryLog keeps per-instance counters and a capped tail of recent deliveries.
type DeliveryLog interface {
	Record(ctx context.Context, d Delivery) error
	Stats(ctx context.Context, instance string) (Stats, error)
}

// MemoryLog is the in-process DeliveryLog used when no Redis is configured.
type MemoryLog struct {
	mu     sync.Mutex
	keep   int
	byInst map[string]*Stats
}

func NewMemoryLog(keep int) *MemoryLog {
	if keep <= 0 {
		keep = 100
	}
	return &MemoryLog{keep: keep, byInst: make(map[string]*Stats)}
}

func (m *MemoryLog) Record(_ context.Context, d Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.byInst[d.Instance]
	if st == nil {
		st = &Stats{Instance: d.Instance, ByEvent: make(map[string]int64)}
		m.byInst[d.Instance] = st
	}
	st.Total++
	st.Delivered += int64(d.Delivered)
	st.ByEvent[d.Event]++

	st.Recent = append([]Delivery{d}, st.Recent...)
	if len(st.Recent) > m.keep {
		st.Recent = st.Recent[:m.keep]
	}
	return nil
}

func (m *MemoryLog) Stats(_ context.Context, instance string) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.byInst[instance]
	if st == nil {
		return Stats{Instance: instance, ByEvent: map[string]int64{}}, nil
	}
	out := *st
	out.ByEvent = make(map[string]int64, len(st.ByEvent))
	for k, v := range st.ByEvent {
		out.ByEvent[k] = v
	}
	out.Recent = append([]Delivery(nil), st.Recent...)
	return out, nil
}
