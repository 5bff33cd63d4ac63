package api

import (
	"errors"
	"net/http"
	"os"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/darkhound-project/darkhound/pkg/models"
)

// Module ids become filenames; restrict them before they touch the
// filesystem.
var moduleIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

func (s *Server) listModules(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.List())
}

func (s *Server) getModule(c *gin.Context) {
	module, ok := s.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "module not found"})
		return
	}
	c.JSON(http.StatusOK, module)
}

func (s *Server) saveModule(c *gin.Context) {
	module, ok := s.bindModule(c)
	if !ok {
		return
	}
	if _, exists := s.registry.Get(module.ID); exists {
		c.JSON(http.StatusConflict, gin.H{"error": "module already exists, use PUT to replace"})
		return
	}
	if err := s.registry.Save(module); err != nil {
		s.logger.Error("module save failed", "module_id", module.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save module"})
		return
	}
	c.JSON(http.StatusCreated, module)
}

func (s *Server) replaceModule(c *gin.Context) {
	module, ok := s.bindModule(c)
	if !ok {
		return
	}
	if module.ID != c.Param("id") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "module id does not match path"})
		return
	}
	if _, exists := s.registry.Get(module.ID); !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "module not found"})
		return
	}
	if err := s.registry.Save(module); err != nil {
		s.logger.Error("module save failed", "module_id", module.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save module"})
		return
	}
	c.JSON(http.StatusOK, module)
}

func (s *Server) deleteModule(c *gin.Context) {
	id := c.Param("id")
	if !moduleIDPattern.MatchString(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid module id"})
		return
	}
	if err := s.registry.Delete(id); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "module not found"})
			return
		}
		s.logger.Error("module delete failed", "module_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete module"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) bindModule(c *gin.Context) (*models.HuntModule, bool) {
	var req ModuleSaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	if !moduleIDPattern.MatchString(req.ID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "module id must be lowercase alphanumeric/underscore, start with a letter, max 64 chars"})
		return nil, false
	}

	steps := make([]models.HuntStep, 0, len(req.Steps))
	for _, st := range req.Steps {
		steps = append(steps, models.HuntStep{
			ID:           st.ID,
			Description:  st.Description,
			Command:      st.Command,
			Timeout:      st.Timeout,
			RequiresSudo: st.RequiresSudo,
		})
	}
	return &models.HuntModule{
		ID:           req.ID,
		Name:         req.Name,
		Description:  req.Description,
		OSTypes:      req.OSTypes,
		Tags:         req.Tags,
		SeverityHint: req.SeverityHint,
		Steps:        steps,
	}, true
}

func (s *Server) startHunt(c *gin.Context) {
	var req StartHuntRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	runAI := true
	if req.RunAI != nil {
		runAI = *req.RunAI
	}

	huntID, err := s.orchestrator.Start(c.Request.Context(), req.SessionID, req.ModuleID, runAI)
	if err != nil {
		if strings.Contains(err.Error(), "unknown hunt module") {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"hunt_id": huntID})
}

func (s *Server) getHunt(c *gin.Context) {
	h, err := s.hunts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toHuntResponse(h))
}

func (s *Server) cancelHunt(c *gin.Context) {
	if !s.orchestrator.Cancel(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "hunt not running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) listSessionReports(c *gin.Context) {
	hunts, err := s.hunts.ListBySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toHuntResponses(hunts))
}

func (s *Server) listAssetReports(c *gin.Context) {
	hunts, err := s.hunts.ListByAsset(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toHuntResponses(hunts))
}

func toHuntResponses(hunts []models.HuntExecution) []HuntResponse {
	out := make([]HuntResponse, 0, len(hunts))
	for i := range hunts {
		out = append(out, toHuntResponse(&hunts[i]))
	}
	return out
}
