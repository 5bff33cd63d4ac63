package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/darkhound-project/darkhound/pkg/events"
	"github.com/darkhound-project/darkhound/pkg/models"
	"github.com/darkhound-project/darkhound/pkg/sshx"
)

// wsRequest is a client RPC on the websocket channel.
type wsRequest struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Input     string `json:"input,omitempty"`
	Cols      int    `json:"cols,omitempty"`
	Rows      int    `json:"rows,omitempty"`
}

// wsClient is the per-connection state. The read loop owns joined; the
// PTY map is also touched by PTY close callbacks and needs the lock.
type wsClient struct {
	conn   *events.Connection
	user   *models.User
	joined map[string]bool

	mu   sync.Mutex
	ptys map[string]*sshx.PTY
}

func (c *wsClient) trackPTY(sessionID string, p *sshx.PTY) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ptys[sessionID] = p
}

func (c *wsClient) getPTY(sessionID string) (*sshx.PTY, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.ptys[sessionID]
	return p, ok
}

// takePTY removes and returns the tracked PTY, or nil.
func (c *wsClient) takePTY(sessionID string) *sshx.PTY {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.ptys[sessionID]
	delete(c.ptys, sessionID)
	return p
}

func (c *wsClient) drainPTYs() []*sshx.PTY {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*sshx.PTY, 0, len(c.ptys))
	for _, p := range c.ptys {
		out = append(out, p)
	}
	c.ptys = make(map[string]*sshx.PTY)
	return out
}

// handleWebSocket upgrades the connection and runs the RPC read loop.
// Browsers cannot set Authorization headers on websockets, so the token
// rides in the query string.
func (s *Server) handleWebSocket(c *gin.Context) {
	user, err := s.authenticateToken(c.Request.Context(), c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.settings.CORSOriginList(),
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	registered := s.hub.Register(c.Request.Context(), conn, user.ID, string(user.Role))
	client := &wsClient{
		conn:   registered,
		user:   user,
		joined: make(map[string]bool),
		ptys:   make(map[string]*sshx.PTY),
	}
	defer func() {
		for _, pty := range client.drainPTYs() {
			pty.Close()
		}
		s.hub.Unregister(registered)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := c.Request.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.wsError(client, "", "malformed message")
			continue
		}
		s.dispatchWS(ctx, client, &req)
	}
}

func (s *Server) dispatchWS(ctx context.Context, client *wsClient, req *wsRequest) {
	switch req.Type {
	case "join_session":
		s.wsJoin(client, req.SessionID)
	case "leave_session":
		s.wsLeave(client, req.SessionID)
	case "toggle_mode":
		s.wsToggleMode(ctx, client, req)
	case "terminal_input":
		s.wsTerminalInput(client, req)
	case "terminal_resize":
		s.wsTerminalResize(client, req)
	default:
		s.wsError(client, req.SessionID, "unknown message type: "+req.Type)
	}
}

// wsJoin authorizes room membership: the session's analyst or an admin.
func (s *Server) wsJoin(client *wsClient, sessionID string) {
	sc, err := s.manager.Get(sessionID)
	if err != nil {
		s.wsError(client, sessionID, "session not found")
		return
	}
	if sc.Session.AnalystID != client.user.ID && client.user.Role != models.RoleAdmin {
		s.wsError(client, sessionID, "not authorized for this session")
		return
	}

	s.hub.Join(client.conn, sessionID)
	client.joined[sessionID] = true
	s.wsAck(client, "session.joined", sessionID)
}

func (s *Server) wsLeave(client *wsClient, sessionID string) {
	if pty := client.takePTY(sessionID); pty != nil {
		pty.Close()
	}
	s.hub.Leave(client.conn, sessionID)
	delete(client.joined, sessionID)
	s.wsAck(client, "session.left", sessionID)
}

// wsToggleMode switches between ai and interactive. Entering interactive
// opens a PTY on the session's engine; leaving it closes the PTY.
func (s *Server) wsToggleMode(ctx context.Context, client *wsClient, req *wsRequest) {
	sessionID := req.SessionID
	if !client.joined[sessionID] {
		s.wsError(client, sessionID, "join the session first")
		return
	}

	var mode models.SessionMode
	switch req.Mode {
	case string(models.ModeAI):
		mode = models.ModeAI
	case string(models.ModeInteractive):
		mode = models.ModeInteractive
	default:
		s.wsError(client, sessionID, "mode must be ai or interactive")
		return
	}

	if err := s.manager.SetMode(ctx, sessionID, mode); err != nil {
		s.wsError(client, sessionID, err.Error())
		return
	}

	if mode == models.ModeAI {
		if pty := client.takePTY(sessionID); pty != nil {
			pty.Close()
		}
		return
	}
	if _, ok := client.getPTY(sessionID); ok {
		return
	}

	engine, err := s.sessionEngine(sessionID)
	if err != nil {
		s.wsError(client, sessionID, err.Error())
		return
	}
	cols, rows := req.Cols, req.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	pty, err := engine.OpenPTY(cols, rows, s.ptyCloseHook(client, sessionID))
	if err != nil {
		s.wsError(client, sessionID, "failed to open terminal: "+err.Error())
		return
	}
	client.trackPTY(sessionID, pty)
}

// ptyCloseHook reverts the session to ai mode when its terminal ends,
// whichever path closed it: remote shell exit, leave_session, toggle, or
// websocket teardown.
func (s *Server) ptyCloseHook(client *wsClient, sessionID string) func() {
	return func() {
		client.takePTY(sessionID)
		if err := s.manager.SetMode(context.Background(), sessionID, models.ModeAI); err != nil {
			s.logger.Warn("failed to revert session mode after terminal close",
				"session_id", sessionID, "error", err)
		}
	}
}

func (s *Server) wsTerminalInput(client *wsClient, req *wsRequest) {
	pty, ok := client.getPTY(req.SessionID)
	if !ok {
		s.wsError(client, req.SessionID, "no open terminal")
		return
	}
	input, err := base64.StdEncoding.DecodeString(req.Input)
	if err != nil {
		s.wsError(client, req.SessionID, "input must be base64")
		return
	}
	if err := pty.Write(input); err != nil {
		s.wsError(client, req.SessionID, "terminal write failed")
	}
}

func (s *Server) wsTerminalResize(client *wsClient, req *wsRequest) {
	pty, ok := client.getPTY(req.SessionID)
	if !ok {
		s.wsError(client, req.SessionID, "no open terminal")
		return
	}
	if req.Cols < 1 || req.Rows < 1 {
		s.wsError(client, req.SessionID, "cols and rows must be positive")
		return
	}
	if err := pty.Resize(req.Cols, req.Rows); err != nil {
		s.wsError(client, req.SessionID, "terminal resize failed")
	}
}

func (s *Server) sessionEngine(sessionID string) (*sshx.Engine, error) {
	sc, err := s.manager.Get(sessionID)
	if err != nil {
		return nil, err
	}
	engine, ok := sc.GetShell().(*sshx.Engine)
	if !ok || engine == nil {
		return nil, errNoShell
	}
	return engine, nil
}

func (s *Server) wsAck(client *wsClient, ackType, sessionID string) {
	_ = s.hub.SendJSON(client.conn, map[string]string{
		"type":       ackType,
		"session_id": sessionID,
	})
}

func (s *Server) wsError(client *wsClient, sessionID, message string) {
	_ = s.hub.SendJSON(client.conn, map[string]string{
		"type":       "error",
		"session_id": sessionID,
		"error":      message,
	})
}
