package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/darkhound-project/darkhound/pkg/models"
)

func (s *Server) createAsset(c *gin.Context) {
	var req AssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Hostname == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hostname is required"})
		return
	}

	asset, err := s.assets.Create(c.Request.Context(), assetFromRequest(&req))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, asset)
}

func (s *Server) listAssets(c *gin.Context) {
	assets, err := s.assets.List(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, assets)
}

func (s *Server) getAsset(c *gin.Context) {
	asset, err := s.assets.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

func (s *Server) updateAsset(c *gin.Context) {
	var req AssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	asset, err := s.assets.Update(c.Request.Context(), c.Param("id"), assetFromRequest(&req))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

func (s *Server) deleteAsset(c *gin.Context) {
	if err := s.assets.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func assetFromRequest(req *AssetRequest) *models.Asset {
	return &models.Asset{
		Hostname:            req.Hostname,
		IPAddress:           req.IPAddress,
		OSType:              models.ParseOSType(req.OSType),
		OSVersion:           req.OSVersion,
		SSHUsername:         req.SSHUsername,
		SSHPassword:         req.SSHPassword,
		SSHKey:              req.SSHKey,
		SSHPort:             req.SSHPort,
		SudoMethod:          req.SudoMethod,
		SudoPassword:        req.SudoPassword,
		CredentialVaultPath: req.CredentialVaultPath,
		Tags:                req.Tags,
	}
}
