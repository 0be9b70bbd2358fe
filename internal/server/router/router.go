package router

import (
	"net/http"
	"slices"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/flockhealth/internal/config"
	"github.com/mamadbah2/flockhealth/internal/metrics"
	"github.com/mamadbah2/flockhealth/internal/server/handlers"
	"github.com/mamadbah2/flockhealth/internal/server/middleware"
)

// New wires the Gin engine with required routes and middlewares.
func New(handler *handlers.ActionHandler, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(logger))
	r.Use(cors.New(corsConfig(cfg.Server.CORSOrigins)))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))

	api := r.Group("/api/v1", middleware.Auth(cfg.Auth, logger))
	api.POST("/actions", handler.Handle)
	api.GET("/batches/:id/cost", handler.BatchCost)

	if logger != nil {
		logger.Info("router initialized")
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	return cfg
}
