package api

import (
	"github.com/gin-gonic/gin"

	"github.com/playmatatu/matchcore/internal/config"
	"github.com/playmatatu/matchcore/internal/gateway"
	"github.com/playmatatu/matchcore/internal/matchmaker"
	"github.com/playmatatu/matchcore/internal/middleware"
	"github.com/playmatatu/matchcore/internal/store"
)

// SetupRoutes configures the full HTTP surface: public health check,
// the websocket upgrade the Session Gateway owns, and an operator
// group for queue/sweep introspection. Grounded on the teacher's
// internal/api/routes.go grouping shape.
func SetupRoutes(router *gin.Engine, s *store.Store, cfg *config.Config, mm *matchmaker.Matchmaker, hub *gateway.Hub) {
	router.Use(middleware.CORSMiddleware(cfg))

	router.GET("/health", HealthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", HealthCheck)
		v1.GET("/ws", hub.HandleWebSocket)
	}

	ops := router.Group("/ops")
	ops.Use(OpsAuth(cfg))
	{
		ops.GET("/queue/:mode/size", QueueSize(s, cfg))
		ops.POST("/sweep", TriggerSweep(mm))
	}
}
