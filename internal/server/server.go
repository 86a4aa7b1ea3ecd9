package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"sessiontrack/internal/config"
	"sessiontrack/internal/middleware"
)

// Registrar mounts routes under /api.
type Registrar interface {
	Register(router *gin.RouterGroup)
}

type HTTPServer struct {
	engine *gin.Engine
	server *http.Server
	log    zerolog.Logger
	tls    config.TLSConfig
}

// quietPaths are only logged on failure.
var quietPaths = []string{"/api/healthz", "/api/v1/presence/status"}

func NewHTTPServer(cfg *config.AppConfig, httpCfg config.HTTPConfig, log zerolog.Logger, routes Registrar) *HTTPServer {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.RedirectTrailingSlash = true
	engine.RedirectFixedPath = true

	engine.Use(
		middleware.RequestID(log),
		middleware.Logger(log, quietPaths...),
		middleware.Recovery(log),
		middleware.CORS(cfg.AllowCORSOrigins, engine.Routes),
	)

	routes.Register(engine.Group("/api"))

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", httpCfg.Host, httpCfg.Port),
		Handler:      engine,
		ReadTimeout:  httpCfg.ReadTimeout,
		WriteTimeout: httpCfg.WriteTimeout,
		IdleTimeout:  httpCfg.IdleTimeout,
	}

	return &HTTPServer{
		engine: engine,
		server: srv,
		log:    log,
		tls:    cfg.TLS,
	}
}

// Handler exposes the router, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.engine
}

func (s *HTTPServer) Start() error {
	s.log.Info().
		Str("addr", s.server.Addr).
		Bool("tls", s.tls.Enabled).
		Msg("http server starting")

	var err error
	if s.tls.Enabled {
		err = s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
	} else {
		err = s.server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}
