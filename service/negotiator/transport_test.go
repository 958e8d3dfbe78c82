package negotiator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"PRelay/global/config"
	"PRelay/service/relay"
	"PRelay/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func relayServer(t *testing.T, opts ...relay.Option) (*relay.Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := relay.NewServer(relay.NewGate("secret-A"), config.ManagerConf{PollWait: 200 * time.Millisecond}, opts...)
	r := gin.New()
	srv.Routes(r)
	ts := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, ts.URL
}

func TestTransportsAgainstRelay(t *testing.T) {
	srv, base := relayServer(t)

	for _, tr := range []Transport{NewWebSocket(), NewPolling()} {
		t.Run(tr.Mode(), func(t *testing.T) {
			n := New(Options{Transports: []Transport{tr}, Attempt: 2 * time.Second})
			res, err := n.Connect(context.Background(), Endpoint{URL: base + "/relay", Credential: "secret-A", Room: "room1"})
			require.NoError(t, err)
			assert.Equal(t, tr.Mode(), res.Mode)
			assert.NotEmpty(t, res.ID)

			_, err = n.Verify(context.Background(), res.Session, 2*time.Second)
			require.NoError(t, err)

			// scenario A: a broadcast to the room reaches the member
			require.Eventually(t, func() bool { return srv.Rooms().Rooms()["room1"] == 1 }, time.Second, 10*time.Millisecond)
			n2 := srv.Publish("room1", relay.Event{Name: "ping", Data: json.RawMessage(`{"x":1}`)})
			assert.Equal(t, 1, n2)
			ev, err := Await(context.Background(), res.Session, "ping", 2*time.Second, nil, nil)
			require.NoError(t, err)
			assert.JSONEq(t, `{"x":1}`, string(ev.Data))

			require.NoError(t, res.Session.Close())
			require.Eventually(t, func() bool { return srv.ConnMgr().Count() == 0 }, 2*time.Second, 10*time.Millisecond)
		})
	}
}

func TestTransportsRejectBadCredential(t *testing.T) {
	srv, base := relayServer(t)

	for _, tr := range []Transport{NewWebSocket(), NewPolling()} {
		_, err := tr.Open(context.Background(), Endpoint{URL: base + "/relay/room1", Credential: "wrong"})
		require.Error(t, err, tr.Mode())
		assert.True(t, errs.ErrAuthRejected.Is(err), "%s: %v", tr.Mode(), err)
	}
	assert.Zero(t, srv.ConnMgr().Count())
	assert.Empty(t, srv.Rooms().Rooms())
}

func TestWebSocketOriginRejected(t *testing.T) {
	_, base := relayServer(t, relay.WithAllowedOrigins([]string{"https://app.example.com"}))
	hdr := http.Header{}
	hdr.Set("Origin", "https://other.example.com")

	_, err := NewWebSocket().Open(context.Background(), Endpoint{URL: base + "/relay", Credential: "secret-A", Header: hdr})
	require.Error(t, err)
	assert.True(t, errs.ErrNotAdmitted.Is(err), "%v", err)
}

func TestDowngradeWhenUpgradeIsStripped(t *testing.T) {
	_, base := relayServer(t)
	// a proxy that answers websocket upgrades with a plain 400, like one without upgrade support
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") != "" {
			http.Error(w, "upgrade not supported", http.StatusBadRequest)
			return
		}
		target := base + r.URL.RequestURI()
		req, _ := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
		req.Header = r.Header.Clone()
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
		w.WriteHeader(resp.StatusCode)
		buf := make([]byte, 32<<10)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				_, _ = w.Write(buf[:n])
			}
			if rerr != nil {
				return
			}
		}
	}))
	defer proxy.Close()

	n := New(Options{Attempt: 2 * time.Second})
	res, err := n.Connect(context.Background(), Endpoint{URL: proxy.URL + "/relay", Credential: "secret-A"})
	require.NoError(t, err)
	defer res.Session.Close()
	assert.Equal(t, ModePolling, res.Mode)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "TransportError", errs.Kind(res.Attempts[0].Err))

	_, err = n.Verify(context.Background(), res.Session, 2*time.Second)
	assert.NoError(t, err)
}

func TestUnreachableHost(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	n := New(Options{Attempt: time.Second})
	res, err := n.Connect(context.Background(), Endpoint{URL: url + "/relay", Credential: "x"})
	require.Error(t, err)
	assert.Len(t, res.Attempts, 2)
	assert.Contains(t, []string{"TransportError", "Unreachable"}, errs.Kind(err))
}

// burstRelay accepts one websocket and writes connected, n domain events and a
// test_response back to back, then closes sent.
func burstRelay(t *testing.T, n int) (string, <-chan struct{}) {
	t.Helper()
	sent := make(chan struct{})
	up := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"connected","data":{"id":"burst-1"}}`))
		for i := 0; i < n; i++ {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"messages.upsert","data":{"i":`+strconv.Itoa(i)+`}}`))
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"test_response","data":{"message":"ok"}}`))
		close(sent)
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(ts.Close)
	return ts.URL, sent
}

func TestWebSocketKeepsEventsBeyondBuffer(t *testing.T) {
	base, sent := burstRelay(t, 200)
	sess, err := NewWebSocket().Open(context.Background(), Endpoint{URL: base, Credential: "k"})
	require.NoError(t, err)
	defer sess.Close()

	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not finish writing")
	}

	var skipped int
	ev, err := Await(context.Background(), sess, EventTestResponse, 2*time.Second, nil, func(Event) { skipped++ })
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"ok"}`, string(ev.Data))
	assert.Equal(t, 201, skipped) // connected plus every domain event
	assert.Equal(t, "burst-1", sess.ID())
}

func TestWebSocketCloseWithFullBuffer(t *testing.T) {
	base, sent := burstRelay(t, 200)
	sess, err := NewWebSocket().Open(context.Background(), Endpoint{URL: base, Credential: "k"})
	require.NoError(t, err)
	<-sent

	require.NoError(t, sess.Close())
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop still blocked after Close")
	}
	assert.NoError(t, sess.Err())
}
