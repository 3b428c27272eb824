// Package server exposes the HTTP and WebSocket surface for sessions.
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/elisa-dev/elisa/internal/common/config"
	"github.com/elisa-dev/elisa/internal/common/httpmw"
	"github.com/elisa-dev/elisa/internal/common/logger"
	"github.com/elisa-dev/elisa/internal/session"
)

// Server wires the session store to HTTP.
type Server struct {
	cfg      *config.Config
	sessions *session.Store
	logger   *logger.Logger
	router   *gin.Engine
	http     *http.Server

	upgrader websocket.Upgrader
}

// New creates the API server.
func New(cfg *config.Config, sessions *session.Store, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		logger:   log.WithFields(zap.String("component", "api-server")),
		router:   gin.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local-first deployment, same-host frontend
			},
		},
	}

	s.router.Use(gin.Recovery())
	s.router.Use(httpmw.RequestLogger(s.logger, "elisa-api"))
	s.router.Use(httpmw.OtelTracing("elisa-api"))

	s.setupRoutes()
	return s
}

// Router returns the HTTP handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.POST("/sessions", s.handleCreate)
		api.GET("/sessions/:id", s.handleGet)
		api.POST("/sessions/:id/start", s.handleStart)
		api.POST("/sessions/:id/stop", s.handleStop)
		api.GET("/sessions/:id/tasks", s.handleTasks)
		api.GET("/sessions/:id/git", s.handleGit)
		api.GET("/sessions/:id/tests", s.handleTests)
		api.POST("/sessions/:id/gate", s.handleGate)
		api.POST("/sessions/:id/question", s.handleQuestion)
		api.GET("/sessions/:id/export", s.handleExport)
		api.GET("/sessions/:id/stream", s.handleStream)
	}
}

// Start begins serving on the configured address.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:    s.cfg.Server.Address(),
		Handler: s.router,
	}
	s.logger.Info("api server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
