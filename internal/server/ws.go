package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/petervdpas/voyage/internal/agents"
	"github.com/petervdpas/voyage/internal/message"
	"github.com/petervdpas/voyage/internal/session"

	"github.com/gorilla/websocket"
)

// CloseRoleOccupied is the close code sent when the requested role is
// already held in the session.
const CloseRoleOccupied = 4000

// Close reasons must fit in a control frame.
const maxCloseReason = 123

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser clients connect from any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("session")
	if key == "" {
		key = s.d.DefaultKey
	}
	clientID := r.PathValue("client")
	role := r.PathValue("role")

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("upgrade %s/%s: %v", key, clientID, err)
		return
	}

	member, err := s.d.Registry.Admit(key, clientID, role)
	if err != nil {
		code, reason := websocket.ClosePolicyViolation, err.Error()
		var rej *session.RejectedError
		if errors.As(err, &rej) {
			code, reason = CloseRoleOccupied, rej.Reason
		}
		s.reject(conn, code, reason)
		return
	}

	// The registry normalises the key; publish and dispatch under its form.
	c := &wsConn{srv: s, conn: conn, member: member, key: member.Session().Key()}
	c.serve()
}

func (s *Server) reject(conn *websocket.Conn, code int, reason string) {
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	deadline := time.Now().Add(s.writeTimeout)
	if err := conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline); err != nil {
		log.Debugf("write close: %v", err)
	}
	// Give the peer a moment to read the close frame before the socket drops.
	conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := conn.NextReader(); err != nil {
			break
		}
	}
	conn.Close()
}

// wsConn pumps one member's frames out and its messages in.
type wsConn struct {
	srv    *Server
	conn   *websocket.Conn
	member *session.Member
	key    string

	windowStart time.Time
	windowCount int
}

func (c *wsConn) serve() {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	c.readLoop()

	c.member.Leave()
	<-writerDone
	c.conn.Close()
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.srv.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.member.Frames():
			c.conn.SetWriteDeadline(time.Now().Add(c.srv.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debugf("write to %s: %v", c.member.ClientID(), err)
				c.conn.Close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.srv.writeTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.conn.Close()
				return
			}
		case <-c.member.Done():
			// Left, or dropped for falling behind. Closing the socket ends
			// the read loop if it is still running.
			deadline := time.Now().Add(c.srv.writeTimeout)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), deadline)
			c.conn.Close()
			return
		}
	}
}

func (c *wsConn) readLoop() {
	pongWait := c.srv.pingPeriod * 2
	c.conn.SetReadLimit(c.srv.readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("read from %s: %v", c.member.ClientID(), err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !c.allowFrame() {
			log.Debugw("frame budget exceeded, dropping", "session", c.key, "client", c.member.ClientID())
			continue
		}
		c.handleFrame(data)
	}
}

func (c *wsConn) allowFrame() bool {
	limit := c.srv.d.Config.MaxFramesPerSecond
	if limit <= 0 {
		return true
	}
	now := time.Now()
	if now.Sub(c.windowStart) >= time.Second {
		c.windowStart = now
		c.windowCount = 0
	}
	c.windowCount++
	return c.windowCount <= limit
}

func (c *wsConn) handleFrame(data []byte) {
	out, err := message.DecodeOutbound(data)
	if err != nil {
		log.Debugw("dropping malformed frame", "session", c.key, "client", c.member.ClientID(), "err", err)
		return
	}

	role := c.member.Role()
	if !c.srv.d.Registry.Publish(c.key, message.Human(role, out.Content)) {
		return
	}

	if c.srv.d.Dispatcher == nil {
		return
	}
	req := agents.Request{
		Session:  c.key,
		ClientID: c.member.ClientID(),
		Role:     role,
		Content:  out.Content,
	}
	if out.Context != nil {
		req.VoyageType = out.Context.VoyageType
		req.Inventory = out.Context.Inventory
	}
	c.srv.d.Dispatcher.Dispatch(req)
}
