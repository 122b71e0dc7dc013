package apiserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cfprelay/cfprelay/pkg/apiserver/handlers"
	"github.com/cfprelay/cfprelay/pkg/apiserver/middleware"
	"github.com/cfprelay/cfprelay/pkg/config"
	"github.com/cfprelay/cfprelay/pkg/dlq"
)

type Server struct {
	router  *gin.Engine
	manager *dlq.Manager
	cfg     *config.Config
	logger  *zap.Logger
}

func NewServer(manager *dlq.Manager, cfg *config.Config, logger *zap.Logger) *Server {
	s := &Server{
		manager: manager,
		cfg:     cfg,
		logger:  logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.Use(middleware.Auth(s.cfg.Auth))

		webhookHandler := handlers.NewWebhookHandler(s.manager, s.logger)
		api.GET("/webhooks/stats", webhookHandler.Stats)
		api.GET("/webhooks/failed", webhookHandler.ListFailed)
		api.POST("/webhooks/:id/replay", webhookHandler.Replay)
		api.POST("/webhooks/cleanup", webhookHandler.Cleanup)
	}

	s.router = r
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
