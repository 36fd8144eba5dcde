// Package api is the HTTP surface: job submission, job and artifact
// inspection, camera listing and runner control.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/exacqman/exacqman/internal/artifacts"
	"github.com/exacqman/exacqman/internal/config"
	"github.com/exacqman/exacqman/internal/jobs"
	"github.com/exacqman/exacqman/internal/metrics"
	"github.com/exacqman/exacqman/internal/nvr"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port       int
	Config     *config.Config
	Repository jobs.Repository
	Runner     *jobs.Runner
	Client     *nvr.Client
	Store      *artifacts.Store
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	StartTime  time.Time
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
