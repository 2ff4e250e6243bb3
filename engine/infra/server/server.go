package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/idc-core/idc/pkg/config"
	"github.com/idc-core/idc/pkg/logger"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	httpReadTimeout        = 15 * time.Second
	httpIdleTimeout        = 60 * time.Second
)

type Server struct {
	cfg        *config.Config
	ctx        context.Context
	cancel     context.CancelFunc
	deps       *Dependencies
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer reads its configuration from ctx.
func NewServer(ctx context.Context) (*Server, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, errors.New("configuration missing from context; attach it with config.ContextWithConfig")
	}
	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{cfg: cfg, ctx: serverCtx, cancel: cancel}, nil
}

// Address is host:port for the HTTP listener.
func (s *Server) Address() string {
	return net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
}

// Run wires dependencies, serves HTTP and blocks until SIGINT, SIGTERM or
// cancellation of the parent context, then shuts down gracefully.
func (s *Server) Run() error {
	log := logger.FromContext(s.ctx)
	deps, err := BuildDependencies(s.ctx, s.cfg)
	if err != nil {
		return fmt.Errorf("failed to setup dependencies: %w", err)
	}
	s.deps = deps
	defer s.cleanup()
	s.router, err = NewRouter(s.ctx, deps)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}
	s.httpServer = s.createHTTPServer()
	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", fmt.Sprintf("http://%s", s.Address()))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	sigCtx, stop := signal.NotifyContext(s.ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-sigCtx.Done():
		log.Debug("Received shutdown signal, initiating graceful shutdown")
	}
	return s.Shutdown()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown() error {
	s.cancel()
	if s.httpServer == nil {
		return nil
	}
	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), timeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.FromContext(s.ctx).Info("Server shutdown completed successfully")
	return nil
}

func (s *Server) cleanup() {
	if s.deps == nil {
		return
	}
	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), timeout)
	defer cancel()
	s.deps.Close(ctx)
}

func (s *Server) createHTTPServer() *http.Server {
	writeTimeout := s.cfg.Server.Timeout
	if writeTimeout <= 0 {
		writeTimeout = httpReadTimeout
	}
	return &http.Server{
		Addr:              s.Address(),
		Handler:           s.router,
		ReadHeaderTimeout: httpReadTimeout,
		ReadTimeout:       httpReadTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       httpIdleTimeout,
	}
}
