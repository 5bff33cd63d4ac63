package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/darkhound-project/darkhound/pkg/models"
	"github.com/darkhound-project/darkhound/pkg/services"
)

// authenticateToken verifies an access token and loads its active
// account. Shared by the auth middleware and the websocket handshake.
func (s *Server) authenticateToken(ctx context.Context, token string) (*models.User, error) {
	claims, err := s.issuer.VerifyAccessToken(token)
	if err != nil {
		return nil, fmt.Errorf("invalid token")
	}
	user, err := s.users.GetByUsername(ctx, claims.Subject)
	if err != nil || !user.IsActive {
		return nil, fmt.Errorf("user not found or inactive")
	}
	return user, nil
}

func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := s.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	s.issueTokens(c, user)
}

func (s *Server) refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims, err := s.issuer.VerifyRefreshToken(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	user, err := s.users.GetByUsername(c.Request.Context(), claims.Subject)
	if err != nil || !user.IsActive {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found or inactive"})
		return
	}

	s.issueTokens(c, user)
}

// register bootstraps the first account, which is always an admin.
// Once any account exists, registration moves to the admin endpoint.
func (s *Server) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	count, err := s.users.Count(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if count > 0 {
		c.JSON(http.StatusForbidden, gin.H{"error": "registration requires admin authorization, use /api/v1/admin/register"})
		return
	}

	user, err := s.users.Create(c.Request.Context(), req.Username, req.Password, models.RoleAdmin)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toUserResponse(user))
}

func (s *Server) changePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := currentUser(c)
	err := s.users.ChangePassword(c.Request.Context(), user.ID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		var validErr *services.ValidationError
		if errors.As(err, &validErr) && validErr.Field == "current_password" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid current password"})
			return
		}
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) adminRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role := models.RoleAnalyst
	if req.Role == string(models.RoleAdmin) {
		role = models.RoleAdmin
	}
	user, err := s.users.Create(c.Request.Context(), req.Username, req.Password, role)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toUserResponse(user))
}

func (s *Server) listUsers(c *gin.Context) {
	users, err := s.users.List(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	out := make([]UserResponse, 0, len(users))
	for i := range users {
		out = append(out, toUserResponse(&users[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) deactivateUser(c *gin.Context) {
	id := c.Param("id")
	if id == currentUser(c).ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot deactivate yourself"})
		return
	}
	if err := s.users.Deactivate(c.Request.Context(), id); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) issueTokens(c *gin.Context, user *models.User) {
	access, refresh, err := s.issuer.IssuePair(user.Username, user.Role)
	if err != nil {
		s.logger.Error("token issue failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
	})
}
