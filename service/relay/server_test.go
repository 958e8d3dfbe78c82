package relay

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PRelay/global/config"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "relay-secret"

type harness struct {
	srv *Server
	ts  *httptest.Server
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	conf := config.ManagerConf{
		PollWait:    300 * time.Millisecond,
		PollTimeout: 5 * time.Second,
	}
	srv := NewServer(NewGate(testSecret), conf, opts...)
	r := gin.New()
	srv.Routes(r)
	ts := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return &harness{srv: srv, ts: ts}
}

func (h *harness) wsURL(path, key string) string {
	u := "ws" + strings.TrimPrefix(h.ts.URL, "http") + path
	if key != "" {
		u += "?apikey=" + key
	}
	return u
}

func (h *harness) dial(t *testing.T, room string) *websocket.Conn {
	t.Helper()
	path := "/relay"
	if room != "" {
		path += "/" + room
	}
	ws, resp, err := websocket.DefaultDialer.Dial(h.wsURL(path, testSecret), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = ws.Close() })

	env := readEnv(t, ws)
	require.Equal(t, EventConnected, env.Event)
	if room != "" {
		require.Equal(t, EventJoined, readEnv(t, ws).Event)
	}
	return ws
}

func readEnv(t *testing.T, ws *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	env, err := ParseFrame(data)
	require.NoError(t, err)
	return env
}

func send(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	b, err := EncodeFrame(event, data)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, b))
}

// expectSilence fails if anything arrives on ws within d. The conn is unusable afterwards.
func expectSilence(t *testing.T, ws *websocket.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(d)))
	_, data, err := ws.ReadMessage()
	require.Error(t, err, "unexpected frame %s", data)
}

func TestHandshakeRejectedWithoutSideEffects(t *testing.T) {
	h := newHarness(t)

	for _, key := range []string{"", "wrong"} {
		_, resp, err := websocket.DefaultDialer.Dial(h.wsURL("/relay/inst-1", key), nil)
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		assert.JSONEq(t, `{"error":"invalid_credential"}`, string(body))
	}

	assert.Zero(t, h.srv.ConnMgr().Count())
	assert.Empty(t, h.srv.Rooms().Rooms())
}

func TestCredentialFromHeaders(t *testing.T) {
	h := newHarness(t)

	hdr := http.Header{}
	hdr.Set("apikey", testSecret)
	ws, _, err := websocket.DefaultDialer.Dial(h.wsURL("/relay", ""), hdr)
	require.NoError(t, err)
	_ = ws.Close()

	hdr = http.Header{}
	hdr.Set("Authorization", "Bearer "+testSecret)
	ws, _, err = websocket.DefaultDialer.Dial(h.wsURL("/relay?room=inst-9", ""), hdr)
	require.NoError(t, err)
	defer ws.Close()
	assert.Equal(t, EventConnected, readEnv(t, ws).Event)
	assert.Equal(t, EventJoined, readEnv(t, ws).Event)
}

func TestConnectedThenJoin(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, "")

	send(t, ws, EventJoin, JoinPayload{Room: "inst-1"})
	env := readEnv(t, ws)
	require.Equal(t, EventJoined, env.Event)
	var p JoinedPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, JoinedPayload{Room: "inst-1", Members: 1}, p)

	send(t, ws, EventJoin, "inst-2")
	env = readEnv(t, ws)
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, JoinedPayload{Room: "inst-2", Previous: "inst-1", Members: 1}, p)
	assert.Equal(t, map[string]int{"inst-2": 1}, h.srv.Rooms().Rooms())
}

func TestJoinWithoutRoomKeepsConnection(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, "")

	send(t, ws, EventJoin, map[string]string{})
	env := readEnv(t, ws)
	require.Equal(t, EventError, env.Event)
	assert.Contains(t, string(env.Data), "room_required")

	send(t, ws, EventTest, nil)
	assert.Equal(t, EventTestResponse, readEnv(t, ws).Event)
}

func TestProbeAnsweredOnSenderOnly(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	h := newHarness(t, WithClock(clk))
	a := h.dial(t, "inst-1")
	b := h.dial(t, "inst-1")

	send(t, a, EventTest, map[string]int{"n": 1})
	env := readEnv(t, a)
	require.Equal(t, EventTestResponse, env.Event)
	var p TestResponse
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.NotEmpty(t, p.Message)
	assert.Equal(t, "2025-03-01T10:00:00Z", p.Timestamp)

	send(t, a, EventPing, nil)
	assert.Equal(t, EventPong, readEnv(t, a).Event)

	expectSilence(t, b, 200*time.Millisecond)
}

func TestDomainAndUnknownEventsRelayedToRoom(t *testing.T) {
	h := newHarness(t)
	a := h.dial(t, "inst-1")
	b := h.dial(t, "inst-1")
	other := h.dial(t, "inst-2")

	payload := json.RawMessage(`{"key":{"id":"ABC"},"message":{"conversation":"hi"}}`)
	send(t, a, "messages.upsert", payload)
	for _, ws := range []*websocket.Conn{a, b} {
		env := readEnv(t, ws)
		assert.Equal(t, "messages.upsert", env.Event)
		assert.JSONEq(t, string(payload), string(env.Data))
	}

	send(t, b, "labels.association", map[string]bool{"x": true})
	for _, ws := range []*websocket.Conn{a, b} {
		assert.Equal(t, "labels.association", readEnv(t, ws).Event)
	}

	expectSilence(t, other, 200*time.Millisecond)
}

func TestEventBeforeJoinIsDropped(t *testing.T) {
	h := newHarness(t)
	lonely := h.dial(t, "")
	member := h.dial(t, "inst-1")

	send(t, lonely, "messages.upsert", map[string]string{"id": "1"})
	send(t, lonely, EventTest, nil)
	assert.Equal(t, EventTestResponse, readEnv(t, lonely).Event)
	expectSilence(t, member, 200*time.Millisecond)
}

func TestMalformedFrameIsSkipped(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, "")

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	send(t, ws, EventTest, nil)
	assert.Equal(t, EventTestResponse, readEnv(t, ws).Event)
}

func TestDisconnectLeavesRoom(t *testing.T) {
	h := newHarness(t)
	a := h.dial(t, "inst-1")
	h.dial(t, "inst-1")
	require.Equal(t, 2, h.srv.Rooms().Rooms()["inst-1"])

	require.NoError(t, a.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = a.Close()

	require.Eventually(t, func() bool {
		return h.srv.Rooms().Rooms()["inst-1"] == 1 && h.srv.ConnMgr().Count() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerCloseSendsDisconnect(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, "inst-1")

	h.srv.Close()
	env := readEnv(t, ws)
	assert.Equal(t, EventDisconnect, env.Event)
	assert.Contains(t, string(env.Data), "shutdown")
}

func TestOriginCheck(t *testing.T) {
	h := newHarness(t, WithAllowedOrigins([]string{"https://app.example.com"}))

	hdr := http.Header{}
	hdr.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(h.wsURL("/relay", testSecret), hdr)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, h.srv.ConnMgr().Count())

	hdr.Set("Origin", "https://app.example.com")
	ws, _, err := websocket.DefaultDialer.Dial(h.wsURL("/relay", testSecret), hdr)
	require.NoError(t, err)
	_ = ws.Close()
}

func TestPollingOriginAndPreflight(t *testing.T) {
	h := newHarness(t, WithAllowedOrigins([]string{"https://app.example.com"}))

	req, err := http.NewRequest(http.MethodGet, h.pollURL("", ""), nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, h.srv.ConnMgr().Count())

	req, err = http.NewRequest(http.MethodOptions, h.ts.URL+"/relay", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

// ---- polling ----

func (h *harness) pollURL(room, sid string) string {
	u := h.ts.URL + "/relay"
	if room != "" {
		u += "/" + room
	}
	u += "?transport=polling&apikey=" + testSecret
	if sid != "" {
		u += "&sid=" + sid
	}
	return u
}

func doReq(t *testing.T, method, url string, body []byte) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (h *harness) pollOpen(t *testing.T, room string) PollHandshake {
	t.Helper()
	code, body := doReq(t, http.MethodGet, h.pollURL(room, ""), nil)
	require.Equal(t, http.StatusOK, code, string(body))
	var hs PollHandshake
	require.NoError(t, json.Unmarshal(body, &hs))
	require.NotEmpty(t, hs.SID)
	return hs
}

func (h *harness) poll(t *testing.T, room, sid string) []Envelope {
	t.Helper()
	code, body := doReq(t, http.MethodGet, h.pollURL(room, sid), nil)
	require.Equal(t, http.StatusOK, code, string(body))
	var envs []Envelope
	require.NoError(t, json.Unmarshal(body, &envs))
	return envs
}

func TestPollingSession(t *testing.T) {
	h := newHarness(t)
	hs := h.pollOpen(t, "inst-1")
	assert.Equal(t, int64(300), hs.PollWait)

	envs := h.poll(t, "inst-1", hs.SID)
	require.Len(t, envs, 2)
	assert.Equal(t, EventConnected, envs[0].Event)
	assert.Equal(t, EventJoined, envs[1].Event)

	code, _ := doReq(t, http.MethodPost, h.pollURL("inst-1", hs.SID), []byte(`[{"event":"test"},{"event":"ping"}]`))
	require.Equal(t, http.StatusOK, code)
	envs = h.poll(t, "inst-1", hs.SID)
	require.Len(t, envs, 2)
	assert.Equal(t, EventTestResponse, envs[0].Event)
	assert.Equal(t, EventPong, envs[1].Event)

	// nothing queued: the poll returns empty after PollWait
	start := time.Now()
	assert.Empty(t, h.poll(t, "inst-1", hs.SID))
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)

	code, _ = doReq(t, http.MethodDelete, h.pollURL("inst-1", hs.SID), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Zero(t, h.srv.ConnMgr().Count())

	code, body := doReq(t, http.MethodGet, h.pollURL("inst-1", hs.SID), nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, string(body), "unknown_session")
}

func TestPollingSessionExpiredBySweeper(t *testing.T) {
	clk := clock.NewMock()
	h := newHarness(t, WithClock(clk))
	h.srv.Start()
	hs := h.pollOpen(t, "inst-1")

	require.Eventually(t, func() bool {
		clk.Add(time.Second)
		h.srv.tombMu.Lock()
		defer h.srv.tombMu.Unlock()
		_, buried := h.srv.tombs[hs.SID]
		return buried
	}, 3*time.Second, 10*time.Millisecond)
	assert.Zero(t, h.srv.ConnMgr().Count())
	assert.Empty(t, h.srv.Rooms().Members("inst-1"))

	envs := h.poll(t, "inst-1", hs.SID)
	require.Len(t, envs, 1)
	assert.Equal(t, EventDisconnect, envs[0].Event)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(envs[0].Data, &p))
	assert.Equal(t, "timeout", p.Reason)

	code, _ := doReq(t, http.MethodGet, h.pollURL("inst-1", hs.SID), nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPollingClosedBetweenRequests(t *testing.T) {
	h := newHarness(t)
	hs := h.pollOpen(t, "inst-1")
	require.Len(t, h.poll(t, "inst-1", hs.SID), 2)
	require.True(t, h.srv.ConnMgr().Remove(hs.SID, "shutdown"))

	code, body := doReq(t, http.MethodPost, h.pollURL("inst-1", hs.SID), []byte(`{"event":"ping"}`))
	assert.Equal(t, http.StatusGone, code)
	assert.Contains(t, string(body), "session_closed")

	envs := h.poll(t, "inst-1", hs.SID)
	require.Len(t, envs, 1)
	assert.Equal(t, EventDisconnect, envs[0].Event)

	code, body = doReq(t, http.MethodGet, h.pollURL("inst-1", hs.SID), nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, string(body), "unknown_session")
}

func TestPollingAndWebSocketShareRooms(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, "inst-1")
	hs := h.pollOpen(t, "inst-1")
	require.Len(t, h.poll(t, "inst-1", hs.SID), 2)

	send(t, ws, "connection.update", map[string]string{"state": "open"})
	assert.Equal(t, "connection.update", readEnv(t, ws).Event)
	envs := h.poll(t, "inst-1", hs.SID)
	require.Len(t, envs, 1)
	assert.Equal(t, "connection.update", envs[0].Event)

	code, _ := doReq(t, http.MethodPost, h.pollURL("inst-1", hs.SID), []byte(`{"event":"send.message","data":{"to":"x"}}`))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "send.message", readEnv(t, ws).Event)
}

func TestPollingRechecksCredential(t *testing.T) {
	h := newHarness(t)
	hs := h.pollOpen(t, "")

	url := h.ts.URL + "/relay?transport=polling&apikey=wrong&sid=" + hs.SID
	code, body := doReq(t, http.MethodGet, url, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.JSONEq(t, `{"error":"invalid_credential"}`, string(body))

	code, _ = doReq(t, http.MethodGet, h.ts.URL+"/relay?transport=polling", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, 1, h.srv.ConnMgr().Count())
}

func TestPollingBadFrame(t *testing.T) {
	h := newHarness(t)
	hs := h.pollOpen(t, "")
	code, body := doReq(t, http.MethodPost, h.pollURL("", hs.SID), []byte(`{"data":1}`))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(body), "bad_frame")
}

// ---- companions ----

func TestHealthIndexAndMetrics(t *testing.T) {
	h := newHarness(t)

	code, body := doReq(t, http.MethodGet, h.ts.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", string(body))

	code, body = doReq(t, http.MethodGet, h.ts.URL+"/", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "<html")

	_, _, _ = websocket.DefaultDialer.Dial(h.wsURL("/relay", "bad"), nil)
	code, body = doReq(t, http.MethodGet, h.ts.URL+"/metrics", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "relay_auth_rejected_total 1")
}

func TestRoomsRequiresCredential(t *testing.T) {
	h := newHarness(t)
	h.dial(t, "inst-1")

	code, _ := doReq(t, http.MethodGet, h.ts.URL+"/rooms", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := doReq(t, http.MethodGet, h.ts.URL+"/rooms?apikey="+testSecret, nil)
	require.Equal(t, http.StatusOK, code)
	var st Stats
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, 1, st.Connections)
	assert.Equal(t, []RoomStat{{Room: "inst-1", Members: 1}}, st.Rooms)
}

func TestBroadcastAfterDisconnectReachesRemainingMember(t *testing.T) {
	h := newHarness(t)
	a := h.dial(t, "room1")
	b := h.dial(t, "room1")

	n := h.srv.Publish("room1", Event{Name: "ping", Data: json.RawMessage(`{"x":1}`)})
	assert.Equal(t, 2, n)
	for _, ws := range []*websocket.Conn{a, b} {
		env := readEnv(t, ws)
		assert.Equal(t, "ping", env.Event)
		assert.JSONEq(t, `{"x":1}`, string(env.Data))
	}

	require.NoError(t, a.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return len(h.srv.Rooms().Members("room1")) == 1 },
		2*time.Second, 10*time.Millisecond)

	n = h.srv.Publish("room1", Event{Name: "ping", Data: json.RawMessage(`{"x":2}`)})
	assert.Equal(t, 1, n)
	assert.JSONEq(t, `{"x":2}`, string(readEnv(t, b).Data))
}
