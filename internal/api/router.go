package api

import (
	"github.com/dkessler/classpulse/internal/api/handler"
	"github.com/dkessler/classpulse/internal/api/middleware"
	"github.com/dkessler/classpulse/internal/config"
	"github.com/dkessler/classpulse/internal/logger"
	"github.com/dkessler/classpulse/internal/queue"
	"github.com/dkessler/classpulse/internal/realtime"
	"github.com/dkessler/classpulse/internal/repository"
	"github.com/dkessler/classpulse/internal/storage"
	"github.com/gin-gonic/gin"
)

// Deps carries everything the router wires into handlers.
type Deps struct {
	Recordings    *repository.RecordingRepository
	Jobs          *repository.AIJobRepository
	QueueRepo     *repository.QueueRepository
	Notifications *repository.NotificationRepository
	QueueSvc      *queue.Service
	Hub           *realtime.Hub
	Store         storage.ObjectStorage
	Verifier      middleware.TokenVerifier
	Realtime      *config.RealtimeConfig
	Log           *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(cfg *config.ServerConfig, deps Deps) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Log))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.CORS.AllowAllOrigins,
	}))

	healthHandler := handler.NewHealthHandler()
	recordingHandler := handler.NewRecordingHandler(deps.Recordings, deps.Jobs, deps.QueueRepo, deps.QueueSvc, deps.Store)
	notificationHandler := handler.NewNotificationHandler(deps.Notifications)
	systemHandler := handler.NewSystemHandler(deps.QueueSvc, deps.Hub)
	wsHandler := realtime.NewHandler(deps.Hub, realtime.TokenVerifierFunc(deps.Verifier.Verify), deps.Realtime, deps.Log)

	// Health check
	r.GET("/health", healthHandler.Health)

	// Websocket push channel; auth happens in the handshake, not the
	// bearer middleware
	r.GET("/ws", wsHandler.Serve)

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(middleware.Auth(deps.Verifier))
	{
		// Recordings
		v1.POST("/recordings", recordingHandler.Upload)
		v1.GET("/recordings", recordingHandler.List)
		v1.GET("/recordings/:id", recordingHandler.Get)
		// Status alias kept for clients polling processing progress
		v1.GET("/recordings/:id/status", recordingHandler.Get)
		v1.POST("/recordings/:id/retry", recordingHandler.Retry)

		// Notifications
		v1.GET("/notifications", notificationHandler.List)
		v1.POST("/notifications/:id/read", notificationHandler.MarkRead)
		v1.POST("/notifications/read-all", notificationHandler.MarkAllRead)

		// System
		v1.GET("/queue/health", systemHandler.QueueHealth)
		v1.GET("/realtime/status", systemHandler.RealtimeStatus)
	}

	return r
}
