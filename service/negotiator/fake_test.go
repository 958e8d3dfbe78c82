package negotiator

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
)

// fakeSession is an in-memory Session; the test decides what the relay "sends".
type fakeSession struct {
	mode   string
	events chan Event
	done   chan struct{}
	once   sync.Once
	closed atomic.Bool
	echo   bool // answer test with test_response

	mu      sync.Mutex
	emitted []string
}

func newFakeSession(mode string) *fakeSession {
	return &fakeSession{mode: mode, events: make(chan Event, 16), done: make(chan struct{})}
}

func (s *fakeSession) ID() string            { return "fake-" + s.mode }
func (s *fakeSession) Mode() string          { return s.mode }
func (s *fakeSession) Events() <-chan Event  { return s.events }
func (s *fakeSession) Done() <-chan struct{} { return s.done }
func (s *fakeSession) Err() error            { return nil }

func (s *fakeSession) push(name string, data any) {
	raw, _ := json.Marshal(data)
	s.events <- Event{Name: name, Data: raw}
}

func (s *fakeSession) Emit(_ context.Context, event string, _ any) error {
	s.mu.Lock()
	s.emitted = append(s.emitted, event)
	s.mu.Unlock()
	if s.echo && event == EventTest {
		s.push(EventTestResponse, map[string]string{"message": "ok"})
	}
	return nil
}

func (s *fakeSession) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.events)
		close(s.done)
	})
	return nil
}

// fakeTransport opens sessions according to behave.
type fakeTransport struct {
	mode   string
	opens  atomic.Int32
	behave func(ctx context.Context) (Session, error)
}

func (t *fakeTransport) Mode() string { return t.mode }

func (t *fakeTransport) Open(ctx context.Context, _ Endpoint) (Session, error) {
	t.opens.Add(1)
	return t.behave(ctx)
}

// hangs until the attempt deadline aborts the handshake.
func hangingTransport(mode string) *fakeTransport {
	return &fakeTransport{mode: mode, behave: func(ctx context.Context) (Session, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

// opens a socket that never says connected; sessions are kept for inspection.
type silentTransport struct {
	fakeTransport
	mu       sync.Mutex
	sessions []*fakeSession
}

func newSilentTransport(mode string) *silentTransport {
	st := &silentTransport{}
	st.mode = mode
	st.behave = func(context.Context) (Session, error) {
		s := newFakeSession(mode)
		st.mu.Lock()
		st.sessions = append(st.sessions, s)
		st.mu.Unlock()
		return s, nil
	}
	return st
}

func connectingTransport(mode string, echo bool) *fakeTransport {
	return &fakeTransport{mode: mode, behave: func(context.Context) (Session, error) {
		s := newFakeSession(mode)
		s.echo = echo
		s.push(EventConnected, map[string]string{"id": "c1", "transport": mode})
		return s, nil
	}}
}

func failingTransport(mode string, err error) *fakeTransport {
	return &fakeTransport{mode: mode, behave: func(context.Context) (Session, error) { return nil, err }}
}
