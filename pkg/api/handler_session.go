package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/darkhound-project/darkhound/pkg/models"
	"github.com/darkhound-project/darkhound/pkg/session"
	"github.com/darkhound-project/darkhound/pkg/sshx"
)

const connectTimeout = 60 * time.Second

func (s *Server) createSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	asset, err := s.assets.Get(c.Request.Context(), req.AssetID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if asset.IPAddress == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "asset has no IP address"})
		return
	}

	analyst := currentUser(c)
	sc, err := s.manager.Create(c.Request.Context(), asset.ID, analyst.ID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	// Connect in the background; the client watches state transitions
	// over the websocket.
	go s.connectSession(sc, asset)

	c.JSON(http.StatusCreated, toSessionResponse(sc.Session))
}

// connectSession dials the asset, fingerprints its OS and hands the live
// engine to the session. Failures land the session in FAILED with a
// reason rather than surfacing as an HTTP error.
func (s *Server) connectSession(sc *session.Context, asset *models.Asset) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	sessionID := sc.Session.ID

	creds, err := s.resolver.Resolve(ctx, asset)
	if err != nil {
		s.failSession(ctx, sessionID, "credential resolution failed: "+err.Error())
		return
	}

	engine := sshx.NewEngine(sessionID, asset.IPAddress, asset.SSHPort, creds, s.emitter, s.manager)
	if err := engine.Connect(ctx); err != nil {
		s.failSession(ctx, sessionID, "ssh connect failed: "+err.Error())
		return
	}
	sc.SetShell(engine)

	if fp, err := sshx.DetectOS(ctx, engine); err != nil {
		s.logger.Warn("os detection failed", "session_id", sessionID, "error", err)
	} else {
		if err := s.assets.UpdateFingerprint(ctx, asset.ID, fp.OSType, fp.OSVersion, fp.Metadata()); err != nil {
			s.logger.Warn("fingerprint update failed", "asset_id", asset.ID, "error", err)
		}
	}
	if err := s.assets.TouchLastSeen(ctx, asset.ID); err != nil {
		s.logger.Warn("last_seen update failed", "asset_id", asset.ID, "error", err)
	}

	if err := s.manager.Transition(ctx, sessionID, models.StateRunning, "ssh connected"); err != nil {
		s.logger.Error("session transition failed", "session_id", sessionID, "error", err)
		return
	}
	if _, err := s.timeline.Append(ctx, asset.ID, sessionID, sc.Session.AnalystID, "ssh.connected", map[string]any{
		"fingerprint": engine.Fingerprint(),
	}); err != nil {
		s.logger.Warn("timeline append failed", "session_id", sessionID, "error", err)
	}

	monitor := sshx.NewMonitor(engine, s.emitter, s.manager)
	sc.SetWatcher(monitor)
	monitor.Start()
}

func (s *Server) failSession(ctx context.Context, sessionID, reason string) {
	s.logger.Error("session setup failed", "session_id", sessionID, "reason", reason)
	if err := s.manager.Transition(ctx, sessionID, models.StateFailed, reason); err != nil {
		s.logger.Error("failed-state transition rejected", "session_id", sessionID, "error", err)
	}
}

func (s *Server) listSessions(c *gin.Context) {
	sessions, err := s.sessions.List(c.Request.Context(), c.Query("asset_id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	out := make([]SessionResponse, 0, len(sessions))
	for i := range sessions {
		resp := toSessionResponse(&sessions[i])
		if sc, err := s.manager.Get(sessions[i].ID); err == nil {
			resp.State = string(sc.State())
			resp.Mode = string(sc.Mode())
			resp.LockedBy = sc.LockedBy()
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getSession(c *gin.Context) {
	id := c.Param("id")
	if sc, err := s.manager.Get(id); err == nil {
		resp := toSessionResponse(sc.Session)
		resp.State = string(sc.State())
		resp.Mode = string(sc.Mode())
		resp.LockedBy = sc.LockedBy()
		c.JSON(http.StatusOK, resp)
		return
	}

	sess, err := s.sessions.Get(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(sess))
}

func (s *Server) lockSession(c *gin.Context) {
	if err := s.manager.Lock(c.Request.Context(), c.Param("id"), currentUser(c).ID); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) unlockSession(c *gin.Context) {
	if err := s.manager.Unlock(c.Request.Context(), c.Param("id"), currentUser(c).ID); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) terminateSession(c *gin.Context) {
	if err := s.manager.Terminate(c.Request.Context(), c.Param("id"), "terminated by analyst"); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
