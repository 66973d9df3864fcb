// Package server exposes the ingest pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"whale-relay/internal/config"
	"whale-relay/internal/service"
)

// Ingester runs one request through the pipeline.
type Ingester interface {
	Ingest(ctx context.Context, req service.Request) (service.Result, error)
}

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Options carries the HTTP-facing settings.
type Options struct {
	Server          config.ServerConfig
	SignatureHeader string
}

// Server is the webhook listener.
type Server struct {
	opts     Options
	ingester Ingester
	health   HealthChecker
	router   *gin.Engine
	logger   zerolog.Logger
}

// New wires routes. health may be nil.
func New(opts Options, ingester Ingester, health HealthChecker, logger zerolog.Logger) *Server {
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = "X-Signature"
	}
	router := gin.New()

	s := &Server{
		opts:     opts,
		ingester: ingester,
		health:   health,
		router:   router,
		logger:   logger.With().Str("component", "server").Logger(),
	}

	router.Use(gin.Recovery(), s.requestID(), s.accessLog())

	router.GET("/", s.handleRoot)
	router.GET("/healthz", s.handleHealth)
	router.GET("/ingest", s.handleIngestInfo)
	router.POST("/ingest", s.handleIngest)

	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.opts.Server.ReadTimeout,
		WriteTimeout: s.opts.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := s.opts.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	s.logger.Info().Dur("timeout", timeout).Msg("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
