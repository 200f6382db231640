package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nomadai/rag-gateway/internal/config"
	"github.com/nomadai/rag-gateway/internal/gateway"
	"github.com/nomadai/rag-gateway/internal/logger"
	"github.com/nomadai/rag-gateway/internal/metrics"
	"github.com/nomadai/rag-gateway/internal/qa"
	"github.com/nomadai/rag-gateway/internal/throttle"
	"github.com/nomadai/rag-gateway/internal/usage"
	"go.uber.org/zap"
)

// Version is reported in the MCP initialize handshake
var Version = "dev"

// Server represents the HTTP gateway
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	router   *gin.Engine
	gateway  *gateway.Gateway
	throttle *throttle.IPThrottle
	logs     *logger.LogBuffer
}

// New creates a new server instance together with the usage tracker and the
// QA client it owns. Call Close when done.
func New(cfg *config.Config, log *zap.Logger) (*Server, error) {
	tracker := usage.NewTracker(usage.Config{
		Limit:  cfg.RateLimit.Requests,
		Window: cfg.RateLimit.Window,
	}, nil)

	client := qa.NewClient(cfg.Upstream, log)

	gw := gateway.New(gateway.Options{
		APIKeys:  cfg.Security.APIKeys,
		AdminKey: cfg.Security.AdminKey,
		Timeout:  cfg.Upstream.Timeout,
	}, tracker, client, log)

	return newServer(cfg, gw, log), nil
}

func newServer(cfg *config.Config, gw *gateway.Gateway, log *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)

	s := &Server{
		cfg:     cfg,
		logger:  log,
		router:  gin.New(),
		gateway: gw,
		logs:    logger.GlobalBuffer,
	}

	if cfg.Throttle.Enabled {
		s.throttle = throttle.New(cfg.Throttle)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Router returns the gin engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Close releases background resources
func (s *Server) Close() {
	if s.throttle != nil {
		s.throttle.Stop()
	}
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggerMiddleware())

	if s.cfg.Security.EnableCORS {
		s.router.Use(s.corsMiddleware())
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/ping", s.ping)
	s.router.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	guarded := s.router.Group("/")
	if s.throttle != nil {
		guarded.Use(s.throttle.Middleware())
	}

	// Tool-call surface: credentials travel inside the arguments
	guarded.GET("/tools", s.listTools)
	guarded.POST("/tools/:name", s.callToolHandler)
	guarded.POST("/mcp", s.handleMCP)

	api := guarded.Group("/v1")
	api.Use(s.apiKeyAuthMiddleware())
	{
		api.POST("/ask", s.ask)
		api.GET("/quota", s.quota)
	}

	admin := guarded.Group("/admin")
	admin.Use(s.adminAuthMiddleware())
	{
		admin.GET("/usage", s.getUsage)
		admin.GET("/logs", s.getLogs)
		admin.DELETE("/logs", s.clearLogs)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}
