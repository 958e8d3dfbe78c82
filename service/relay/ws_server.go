package relay

import (
	"errors"
	"net"
	"time"

	"PRelay/logger"
	midsec "PRelay/middleware/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// HandleWS admits, upgrades and serves one websocket connection. Auth runs before the
// upgrade so a rejected client gets a plain 401 and never reaches the registry.
func (s *Server) HandleWS(c *gin.Context) {
	remote := c.ClientIP()
	if err := s.admit(midsec.Credential(c), remote, TransportWebSocket); err != nil {
		midsec.Reject(c)
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败；upgrader 已写回错误响应
		logger.Infof("[WS] upgrade websocket error remote=%s err=%v", remote, err)
		return
	}

	conn, err := s.open(TransportWebSocket, remote, handshakeRoom(c))
	if err != nil {
		logger.Errorf("[WS] open conn failed remote=%s err=%v", remote, err)
		_ = ws.Close()
		return
	}

	done := make(chan struct{})
	go s.writePump(ws, conn, done)

	reason := s.readLoop(ws, conn)

	// 退出阶段：先移出房间，再等写协程收尾
	s.conns.Remove(conn.ID, reason)
	<-done
}

// readLoop only reads; it returns the close reason once the peer or the writer ends the socket.
func (s *Server) readLoop(ws *websocket.Conn, conn *Conn) string {
	ws.SetReadLimit(s.conf.MaxFrame)
	_ = ws.SetReadDeadline(time.Now().Add(s.conf.PongTimeout))
	ws.SetPongHandler(func(string) error {
		s.conns.Heartbeat(conn.ID)
		return ws.SetReadDeadline(time.Now().Add(s.conf.PongTimeout))
	})

	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			return readExitReason(conn, rerr)
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		s.conns.Heartbeat(conn.ID)
		_ = ws.SetReadDeadline(time.Now().Add(s.conf.PongTimeout))
		s.inbound(conn, data)
	}
}

func readExitReason(conn *Conn, err error) string {
	var ne net.Error
	switch {
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	):
		logger.Infof("[WS] peer closed conn=%s err=%v", conn.ID, err)
		return reasonClientDisconnect
	case errors.As(err, &ne) && ne.Timeout():
		logger.Infof("[WS] read timeout conn=%s err=%v", conn.ID, err)
		return "timeout"
	case errors.Is(err, websocket.ErrReadLimit):
		logger.Warnf("[WS] frame too large conn=%s", conn.ID)
		return "frame_too_large"
	default:
		if !conn.IsOpen() {
			return conn.CloseReason()
		}
		logger.Infof("[WS] read err conn=%s err=%v", conn.ID, err)
		return "transport_error"
	}
}

// writePump is the only writer on ws: queued frames first, then keepalive pings.
// When the connection is closed elsewhere it sends a disconnect frame and a close.
func (s *Server) writePump(ws *websocket.Conn, conn *Conn, done chan<- struct{}) {
	ticker := s.clock.Ticker(s.conf.PingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
		close(done)
	}()

	write := func(mt int, payload []byte) error {
		_ = ws.SetWriteDeadline(time.Now().Add(s.conf.WriteWait))
		return ws.WriteMessage(mt, payload)
	}

	for {
		select {
		case payload := <-conn.send:
			if err := write(websocket.TextMessage, payload); err != nil {
				logger.Infof("[WS] write payload err conn=%s err=%v", conn.ID, err)
				s.conns.Remove(conn.ID, "transport_error")
				return
			}

		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(s.conf.WriteWait)); err != nil {
				logger.Infof("[WS] ping err conn=%s err=%v", conn.ID, err)
				s.conns.Remove(conn.ID, "transport_error")
				return
			}

		case <-conn.Closed():
			reason := conn.CloseReason()
			for _, f := range conn.Drain(0) {
				if write(websocket.TextMessage, f) != nil {
					return
				}
			}
			if reason != reasonClientDisconnect {
				_ = write(websocket.TextMessage, BuildDisconnect(reason))
			}
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
				time.Now().Add(s.conf.WriteWait))
			return
		}
	}
}
