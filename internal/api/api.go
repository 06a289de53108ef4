// Package api provides the HTTP surface of the daemon: health, metrics, and
// the monitor execute/preview endpoint.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/forgelight/vigil/internal/model"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address string

	// ExecuteTimeout bounds a single execute/preview run.
	ExecuteTimeout time.Duration

	Verbose bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.ExecuteTimeout == 0 {
		c.ExecuteTimeout = time.Minute
	}
}

// Executor runs one monitor invocation. The runner implements it.
type Executor interface {
	RunMonitor(ctx context.Context, monitor *model.Monitor, periodStart, periodEnd time.Time, dryrun bool) model.MonitorRunResult
}

// Pinger checks cluster reachability. The cluster client implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP API server.
type Server struct {
	config   *Config
	executor Executor
	cluster  Pinger
	logger   *logrus.Logger
	server   *http.Server

	now func() time.Time
}

// New creates a new API server.
func New(cfg *Config, executor Executor, cluster Pinger, logger *logrus.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cluster == nil {
		return nil, fmt.Errorf("cluster is required")
	}

	cfg.SetDefaults()

	s := &Server{
		config:   cfg,
		executor: executor,
		cluster:  cluster,
		logger:   logger,
		now:      time.Now,
	}

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.setupRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ExecuteTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		s.logger.WithField("address", s.config.Address).Info("HTTP API listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}
