package http

import (
	"net/http"

	"tempvoice/internal/core/services"
	"tempvoice/internal/infrastructure/middleware"
	"tempvoice/pkg/config"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handlers groups everything NewRouter mounts. Events is the bridge WebSocket
// endpoint and may be nil.
type Handlers struct {
	Rooms  *RoomHandler
	Owners *OwnerHandler
	Ops    *OpsHandler
	Events http.HandlerFunc
}

// NewRouter builds the gin engine with the shared middleware chain. Control
// routes need a user token; reconcile and the event socket need a bridge token.
func NewRouter(cfg *config.Config, auth services.AuthService, h Handlers, logger *zap.SugaredLogger) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.RequestIDMiddleware(),
		middleware.RecoveryMiddleware(logger),
		middleware.ErrorHandlerMiddleware(logger),
	)
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	h.Ops.SetupRoutes(router)

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(auth), middleware.NewHTTPRateLimitMiddleware(cfg))
	h.Rooms.SetupRoutes(api)
	h.Owners.SetupRoutes(api)
	api.POST("/reconcile", middleware.RequireRole(services.RoleBridge), h.Ops.Reconcile)

	if h.Events != nil {
		router.GET("/ws/events",
			middleware.AuthMiddleware(auth),
			middleware.RequireRole(services.RoleBridge),
			gin.WrapF(h.Events),
		)
	}
	return router
}
