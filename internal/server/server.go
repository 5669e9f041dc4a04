// Package server assembles the gin engine serving the capability surface.
package server

import (
	"net/http"
	"os"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	v1 "github.com/capra-ai/capra/internal/server/v1"
	"github.com/capra-ai/capra/internal/server/validator"
)

type Server struct {
	router  *gin.Engine
	logger  *zap.Logger
	handler *v1.Handler
}

func New(logger *zap.Logger, handler *v1.Handler) *Server {
	if os.Getenv("CAPRA_ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	validator.Init()

	engine := gin.New()
	engine.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	engine.Use(ginzap.RecoveryWithZap(logger, true))
	engine.Use(otelgin.Middleware("capra"))

	s := &Server{router: engine, logger: logger, handler: handler}
	s.setupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(addr string) error {
	s.logger.Info("gateway listening", zap.String("addr", addr))
	return s.router.Run(addr)
}
