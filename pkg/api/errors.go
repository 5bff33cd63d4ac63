package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/darkhound-project/darkhound/pkg/services"
	"github.com/darkhound-project/darkhound/pkg/session"
)

// errNoShell reports a session whose SSH engine is not connected yet.
var errNoShell = errors.New("session has no connected shell")

// respondServiceError maps service- and runtime-layer errors to HTTP
// responses.
func respondServiceError(c *gin.Context, err error) {
	var validErr *services.ValidationError
	switch {
	case errors.As(err, &validErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validErr.Error()})
	case errors.Is(err, services.ErrNotFound), errors.Is(err, session.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
	case errors.Is(err, services.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": "resource already exists"})
	case errors.Is(err, session.ErrCapacityExhausted):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session capacity exhausted"})
	case errors.Is(err, session.ErrNotLockHolder):
		c.JSON(http.StatusForbidden, gin.H{"error": "session is locked by another analyst"})
	case errors.Is(err, session.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrCommandInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "a command is in flight"})
	default:
		slog.Error("Unexpected service error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
