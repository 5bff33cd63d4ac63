package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/darkhound-project/darkhound/pkg/models"
	"github.com/darkhound-project/darkhound/pkg/services"
)

func (s *Server) listFindings(c *gin.Context) {
	filter := services.FindingFilter{
		AssetID:   c.Query("asset_id"),
		SessionID: c.Query("session_id"),
	}
	if sev := c.Query("severity"); sev != "" {
		filter.Severity = models.ParseSeverity(sev)
	}
	if status := c.Query("status"); status != "" {
		parsed, ok := models.ParseFindingStatus(status)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
			return
		}
		filter.Status = parsed
	}

	findings, err := s.findings.List(c.Request.Context(), filter)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, findings)
}

func (s *Server) getFinding(c *gin.Context) {
	f, err := s.findings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

// getFindingStix returns the stored bundle verbatim. It was validated at
// generation time; re-marshalling here would only risk mangling it.
func (s *Server) getFindingStix(c *gin.Context) {
	f, err := s.findings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if len(f.StixBundle) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "finding has no STIX bundle"})
		return
	}
	c.Data(http.StatusOK, "application/json", f.StixBundle)
}

func (s *Server) updateFindingStatus(c *gin.Context) {
	var req UpdateFindingStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, ok := models.ParseFindingStatus(req.Status)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be one of open, acknowledged, resolved"})
		return
	}

	if err := s.findings.UpdateStatus(c.Request.Context(), c.Param("id"), status); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) deleteFinding(c *gin.Context) {
	if err := s.findings.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) getTimeline(c *gin.Context) {
	limit := 200
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	events, err := s.timeline.ListByAsset(c.Request.Context(), c.Param("asset_id"), limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) clearTimeline(c *gin.Context) {
	deleted, err := s.timeline.DeleteByAsset(c.Request.Context(), c.Param("asset_id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
