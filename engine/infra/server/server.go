package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/comfyflow/agentmode/engine/infra/monitoring"
	"github.com/comfyflow/agentmode/engine/infra/server/routes"
	"github.com/comfyflow/agentmode/pkg/config"
	"github.com/comfyflow/agentmode/pkg/logger"
	"github.com/gin-gonic/gin"
)

const (
	serverShutdownTimeout     = 5 * time.Second
	monitoringShutdownTimeout = 5 * time.Second
	httpIdleTimeout           = 60 * time.Second
	hostAny                   = "0.0.0.0"
	hostLoopback              = "127.0.0.1"
)

type Server struct {
	ctx        context.Context
	cancel     context.CancelFunc
	cfg        *config.Config
	router     *gin.Engine
	monitoring *monitoring.Service
	httpServer *http.Server
}

// NewServer wires the router for agent. The configuration is taken from ctx.
func NewServer(ctx context.Context, agent AgentStreamer, mon *monitoring.Service) (*Server, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("configuration missing from context; attach a manager with config.ContextWithManager")
	}
	if agent == nil {
		return nil, fmt.Errorf("agent mode service is required")
	}
	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		ctx:        serverCtx,
		cancel:     cancel,
		cfg:        cfg,
		router:     NewRouter(serverCtx, agent, mon, WithRateLimit(convertRateLimitConfig(cfg))),
		monitoring: mon,
	}, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives.
func (s *Server) Run() error {
	log := logger.FromContext(s.ctx)
	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
	s.httpServer = newHTTPServer(addr, s.router, s.cfg.Server.ReadTimeout)
	s.logStartupBanner()
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	sigCtx, stop := signal.NotifyContext(s.ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	select {
	case err, ok := <-errCh:
		if ok {
			log.Error("Server failed to start", "error", err)
			return fmt.Errorf("server failed: %w", err)
		}
	case <-sigCtx.Done():
		log.Debug("Received shutdown signal, initiating graceful shutdown")
	}
	return s.Shutdown()
}

// Shutdown stops the HTTP server and flushes metrics.
func (s *Server) Shutdown() error {
	log := logger.FromContext(s.ctx)
	defer s.cancel()
	var errs []error
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), serverShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown failed: %w", err))
		}
	}
	if s.monitoring != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), monitoringShutdownTimeout)
		defer cancel()
		if err := s.monitoring.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("monitoring shutdown failed: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	log.Info("Server shutdown completed successfully")
	return nil
}

// newHTTPServer leaves WriteTimeout unset. A run can end one model call past
// its hard timeout and still has to write its final event.
func newHTTPServer(addr string, handler http.Handler, readTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: readTimeout,
		IdleTimeout: httpIdleTimeout,
	}
}

func (s *Server) logStartupBanner() {
	httpURL := fmt.Sprintf("http://%s", net.JoinHostPort(friendlyHost(s.cfg.Server.Host), strconv.Itoa(s.cfg.Server.Port)))
	fields := []any{
		"stream", httpURL + routes.AgentModeStream(),
		"health", httpURL + routes.Health(),
	}
	if s.monitoring != nil && s.monitoring.IsInitialized() {
		fields = append(fields, "metrics", httpURL+s.monitoring.Path())
	}
	logger.FromContext(s.ctx).Info("Agent mode server listening", fields...)
}

func friendlyHost(h string) string {
	if h == hostAny || h == "::" || h == "" {
		return hostLoopback
	}
	return h
}
