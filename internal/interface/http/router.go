package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumoqi/trainbase/internal/infra/config"
)

// NewRouter wires up the HTTP handlers and returns a configured server.
func NewRouter(cfg *config.Config, handler *Handler, logger *slog.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(
		gin.Recovery(),
		requestLogger(logger),
		corsMiddleware(),
		errorHandlingMiddleware(logger),
	)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	api.Use(
		authMiddleware(cfg.Auth.JWTSecret),
		rateLimitMiddleware(cfg.HTTP.RateLimit, logger),
	)
	{
		api.POST("/models/:modelID/records", handler.SubmitRecords)
		api.GET("/models/:modelID/records", handler.ListRecords)
		api.DELETE("/records/:recordID", handler.DeleteRecord)
		api.POST("/models/:modelID/search", handler.Search)
		api.POST("/models/:modelID/export", handler.ExportModel)
		api.GET("/stats", handler.Stats)
	}

	return &http.Server{
		Addr:           cfg.HTTP.Address,
		Handler:        router,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
}
