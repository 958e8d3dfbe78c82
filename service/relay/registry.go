package relay

import (
	"sort"
	"sync"

	"PRelay/tools/errs"
)

var (
	ErrEmptyRoom   = errs.ErrRoomRequired
	ErrNotAdmitted = errs.ErrNotAdmitted
)

type JoinResult struct {
	Room     string
	Previous string // room the connection was moved out of, if any
	Members  int
	Already  bool
}

// Registry maps room name -> member connections. A connection is in at most one
// room: joining another room moves it. Rooms appear on first join and are dropped
// when their last member leaves.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*Conn // room -> conn id -> conn
	byConn map[string]string           // conn id -> room
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]map[string]*Conn),
		byConn: make(map[string]string),
	}
}

// Join records c as a member of room. The open check happens under the registry
// lock, which is also taken by Leave after a connection is marked closed, so a
// closed connection can never end up recorded.
func (r *Registry) Join(c *Conn, room string) (JoinResult, error) {
	if room == "" {
		return JoinResult{}, ErrEmptyRoom.Wrap()
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !c.IsOpen() {
		return JoinResult{}, ErrNotAdmitted.WrapMsg("", "conn", c.ID, "state", c.State())
	}

	res := JoinResult{Room: room}
	if cur, ok := r.byConn[c.ID]; ok {
		if cur == room {
			res.Already = true
			res.Members = len(r.rooms[room])
			return res, nil
		}
		r.removeLocked(c.ID, cur)
		res.Previous = cur
	}

	m := r.rooms[room]
	if m == nil {
		m = make(map[string]*Conn)
		r.rooms[room] = m
	}
	m[c.ID] = c
	r.byConn[c.ID] = room
	res.Members = len(m)
	return res, nil
}

// Leave removes the connection from its room. Idempotent.
func (r *Registry) Leave(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	r.removeLocked(connID, room)
	return room, true
}

func (r *Registry) removeLocked(connID, room string) {
	delete(r.byConn, connID)
	if m := r.rooms[room]; m != nil {
		delete(m, connID)
		if len(m) == 0 {
			delete(r.rooms, room)
		}
	}
}

// Send enqueues an encoded frame to the members recorded at call time.
// Members that closed or whose queue is full are skipped.
func (r *Registry) Send(room string, frame []byte) (delivered, dropped int) {
	for _, c := range r.snapshot(room) {
		if c.Enqueue(frame) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}

func (r *Registry) snapshot(room string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.rooms[room]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

// RoomOf returns the room of connID, "" when it is in none.
func (r *Registry) RoomOf(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byConn[connID]
}

// Members lists member connection ids, sorted.
func (r *Registry) Members(room string) []string {
	r.mu.RLock()
	m := r.rooms[room]
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Rooms returns room -> member count.
func (r *Registry) Rooms() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.rooms))
	for name, m := range r.rooms {
		out[name] = len(m)
	}
	return out
}
