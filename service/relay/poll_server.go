package relay

import (
	"io"
	"net/http"

	"PRelay/logger"
	midsec "PRelay/middleware/security"

	"github.com/gin-gonic/gin"
)

// PollHandshake is returned by the polling open request. Durations are milliseconds.
type PollHandshake struct {
	SID         string `json:"sid"`
	PollWait    int64  `json:"pollWait"`
	PollTimeout int64  `json:"pollTimeout"`
}

const (
	reasonUnknownSession = "unknown_session"
	reasonPollBusy       = "poll_in_progress"
	reasonBadFrame       = "bad_frame"
	reasonSessionClosed  = "session_closed"

	reasonClientDisconnect = "client_disconnect"
)

// HandlePoll serves the long-polling transport on the same endpoint as the websocket:
//
//	GET    ?transport=polling          open a session (handshake)
//	GET    ?transport=polling&sid=..   wait for queued frames
//	POST   ?transport=polling&sid=..   send one frame or an array of frames
//	DELETE ?transport=polling&sid=..   close the session
//
// The credential is checked on every request, not only the handshake.
func (s *Server) HandlePoll(c *gin.Context) {
	remote := c.ClientIP()
	if err := s.admit(midsec.Credential(c), remote, TransportPolling); err != nil {
		midsec.Reject(c)
		return
	}

	sid := c.Query("sid")
	if sid == "" {
		if c.Request.Method != http.MethodGet {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sid_required"})
			return
		}
		s.pollOpen(c, remote)
		return
	}

	conn, ok := s.conns.Get(sid)
	if !ok || conn.Transport != TransportPolling {
		s.pollClosed(c, sid)
		return
	}
	s.conns.Heartbeat(conn.ID)

	switch c.Request.Method {
	case http.MethodGet:
		s.pollWait(c, conn)
	case http.MethodPost:
		s.pollSend(c, conn)
	case http.MethodDelete:
		s.conns.Remove(conn.ID, reasonClientDisconnect)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	default:
		c.Status(http.StatusMethodNotAllowed)
	}
}

// pollClosed answers a sid that is no longer live. A recently closed session
// still gets its disconnect frame once; anything else is unknown.
func (s *Server) pollClosed(c *gin.Context, sid string) {
	reason, ok := s.unbury(sid)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": reasonUnknownSession})
		return
	}
	switch c.Request.Method {
	case http.MethodGet:
		c.Data(http.StatusOK, "application/json; charset=utf-8", JoinFrames([][]byte{BuildDisconnect(reason)}))
	case http.MethodDelete:
		c.JSON(http.StatusOK, gin.H{"ok": true})
	default:
		s.bury(sid, reason)
		c.JSON(http.StatusGone, gin.H{"error": reasonSessionClosed})
	}
}

func (s *Server) pollOpen(c *gin.Context, remote string) {
	conn, err := s.open(TransportPolling, remote, handshakeRoom(c))
	if err != nil {
		logger.Errorf("[Poll] open conn failed remote=%s err=%v", remote, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, PollHandshake{
		SID:         conn.ID,
		PollWait:    s.conf.PollWait.Milliseconds(),
		PollTimeout: s.conf.PollTimeout.Milliseconds(),
	})
}

// pollWait holds the request until a frame is queued, the session closes or PollWait passes.
func (s *Server) pollWait(c *gin.Context, conn *Conn) {
	if !conn.pollMu.TryLock() {
		c.JSON(http.StatusConflict, gin.H{"error": reasonPollBusy})
		return
	}
	defer conn.pollMu.Unlock()

	frames := conn.Drain(0)
	if len(frames) == 0 {
		t := s.clock.Timer(s.conf.PollWait)
		select {
		case f := <-conn.send:
			frames = append(frames, f)
			frames = append(frames, conn.Drain(0)...)
		case <-conn.Closed():
			frames = append(frames, conn.Drain(0)...)
		case <-t.C:
		case <-c.Request.Context().Done():
			t.Stop()
			return
		}
		t.Stop()
	}
	if !conn.IsOpen() {
		frames = append(frames, BuildDisconnect(conn.CloseReason()))
	}
	s.conns.Heartbeat(conn.ID)
	c.Data(http.StatusOK, "application/json; charset=utf-8", JoinFrames(frames))
}

// pollSend dispatches the posted frames in order, as a websocket read loop would.
func (s *Server) pollSend(c *gin.Context, conn *Conn) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, s.conf.MaxFrame+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": reasonBadFrame})
		return
	}
	if int64(len(body)) > s.conf.MaxFrame {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "frame_too_large"})
		return
	}
	envs, err := ParseFrames(body)
	if err != nil {
		logger.Infof("[Poll] ParseFrames err conn=%s err=%v len=%d", conn.ID, err, len(body))
		c.JSON(http.StatusBadRequest, gin.H{"error": reasonBadFrame, "detail": err.Error()})
		return
	}

	conn.inMu.Lock()
	for _, env := range envs {
		if !conn.IsOpen() {
			break
		}
		s.dispatch(conn, env)
	}
	conn.inMu.Unlock()
	c.JSON(http.StatusOK, gin.H{"ok": true, "accepted": len(envs)})
}
