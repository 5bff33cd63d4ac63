// Package api exposes the HTTP/REST surface and the realtime websocket
// channel.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/darkhound-project/darkhound/pkg/config"
	"github.com/darkhound-project/darkhound/pkg/database"
	"github.com/darkhound-project/darkhound/pkg/events"
	"github.com/darkhound-project/darkhound/pkg/hunt"
	"github.com/darkhound-project/darkhound/pkg/models"
	"github.com/darkhound-project/darkhound/pkg/security"
	"github.com/darkhound-project/darkhound/pkg/services"
	"github.com/darkhound-project/darkhound/pkg/session"
)

// SessionRuntime is the slice of session.Manager the handlers drive.
type SessionRuntime interface {
	Create(ctx context.Context, assetID, analystID string) (*session.Context, error)
	Get(id string) (*session.Context, error)
	Transition(ctx context.Context, id string, to models.SessionState, reason string) error
	Terminate(ctx context.Context, id, reason string) error
	SetMode(ctx context.Context, id string, mode models.SessionMode) error
	Lock(ctx context.Context, id, analystID string) error
	Unlock(ctx context.Context, id, analystID string) error
	ActiveCount() int
}

// HuntRuntime is the slice of hunt.Orchestrator the handlers drive.
type HuntRuntime interface {
	Start(ctx context.Context, sessionID, moduleID string, runAI bool) (string, error)
	Cancel(huntID string) bool
}

// Deps bundles everything the server serves from.
type Deps struct {
	Settings *config.Settings
	DB       *database.Client
	Issuer   *security.TokenIssuer
	Resolver *security.CredentialResolver

	Users    *services.UserService
	Assets   *services.AssetService
	Sessions *services.SessionService
	Hunts    *services.HuntService
	Findings *services.FindingService
	Timeline *services.TimelineService

	Manager      SessionRuntime
	Orchestrator HuntRuntime
	Registry     *hunt.Registry

	Emitter *events.Emitter
	Hub     *events.Hub
}

// Server is the HTTP server.
type Server struct {
	settings *config.Settings
	db       *database.Client
	issuer   *security.TokenIssuer
	resolver *security.CredentialResolver

	users    *services.UserService
	assets   *services.AssetService
	sessions *services.SessionService
	hunts    *services.HuntService
	findings *services.FindingService
	timeline *services.TimelineService

	manager      SessionRuntime
	orchestrator HuntRuntime
	registry     *hunt.Registry

	emitter *events.Emitter
	hub     *events.Hub

	logger *slog.Logger
}

// NewServer creates the API server.
func NewServer(deps Deps) *Server {
	return &Server{
		settings:     deps.Settings,
		db:           deps.DB,
		issuer:       deps.Issuer,
		resolver:     deps.Resolver,
		users:        deps.Users,
		assets:       deps.Assets,
		sessions:     deps.Sessions,
		hunts:        deps.Hunts,
		findings:     deps.Findings,
		timeline:     deps.Timeline,
		manager:      deps.Manager,
		orchestrator: deps.Orchestrator,
		registry:     deps.Registry,
		emitter:      deps.Emitter,
		hub:          deps.Hub,
		logger:       slog.Default().With("component", "api"),
	}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	if s.settings.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), securityHeaders(), s.cors())

	r.GET("/health", s.health)
	r.GET("/ws", s.handleWebSocket)

	auth := r.Group("/auth")
	{
		auth.POST("/login", s.login)
		auth.POST("/refresh", s.refresh)
		auth.POST("/register", s.register)
		auth.POST("/change-password", s.requireAuth(), s.changePassword)
	}

	v1 := r.Group("/api/v1", s.requireAuth())
	{
		assets := v1.Group("/assets")
		{
			assets.POST("", s.createAsset)
			assets.GET("", s.listAssets)
			assets.GET("/:id", s.getAsset)
			assets.PATCH("/:id", s.updateAsset)
			assets.DELETE("/:id", s.deleteAsset)
		}

		sessions := v1.Group("/sessions")
		{
			sessions.POST("", s.createSession)
			sessions.GET("", s.listSessions)
			sessions.GET("/:id", s.getSession)
			sessions.POST("/:id/lock", s.lockSession)
			sessions.POST("/:id/unlock", s.unlockSession)
			sessions.DELETE("/:id", s.terminateSession)
		}

		hunts := v1.Group("/hunts")
		{
			hunts.GET("/modules", s.listModules)
			hunts.GET("/modules/:id", s.getModule)
			hunts.POST("/modules", s.saveModule)
			hunts.PUT("/modules/:id", s.replaceModule)
			hunts.DELETE("/modules/:id", s.deleteModule)
			hunts.POST("", s.startHunt)
			hunts.GET("/:id", s.getHunt)
			hunts.POST("/:id/cancel", s.cancelHunt)
			hunts.GET("/session/:id/reports", s.listSessionReports)
			hunts.GET("/asset/:id/reports", s.listAssetReports)
		}

		intelligence := v1.Group("/intelligence")
		{
			intelligence.GET("/findings", s.listFindings)
			intelligence.GET("/findings/:id", s.getFinding)
			intelligence.GET("/findings/:id/stix", s.getFindingStix)
			intelligence.PATCH("/findings/:id/status", s.updateFindingStatus)
			intelligence.DELETE("/findings/:id", s.deleteFinding)
			intelligence.GET("/timeline/:asset_id", s.getTimeline)
			intelligence.DELETE("/timeline/:asset_id", s.clearTimeline)
		}

		admin := v1.Group("/admin", requireAdmin())
		{
			admin.POST("/register", s.adminRegister)
			admin.GET("/users", s.listUsers)
			admin.POST("/users/:id/deactivate", s.deactivateUser)
		}
	}

	return r
}

// health reports database reachability and active session count.
func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.db.DB())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"database":        dbHealth,
		"active_sessions": s.manager.ActiveCount(),
	})
}
