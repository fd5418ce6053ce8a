package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/kernelkit/internal/api/http"
	"github.com/GriffinCanCode/kernelkit/internal/api/middleware"
	"github.com/GriffinCanCode/kernelkit/internal/infrastructure/config"
	"github.com/GriffinCanCode/kernelkit/internal/infrastructure/logging"
	"github.com/GriffinCanCode/kernelkit/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/kernelkit/internal/infrastructure/tracing"
)

const shutdownTimeout = 5 * time.Second

// Server wraps the inspection HTTP server and its dependencies.
type Server struct {
	router  *gin.Engine
	http    *http.Server
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewServer builds the router. soak may be nil when no workload runs.
func NewServer(cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics, soak apihttp.SoakSource) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracing.New("kitstat", logger.Logger)))
	router.Use(monitoring.Middleware(metrics))

	handlers := apihttp.NewHandlers(metrics, soak)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))

	debug := router.Group("/debug")
	debug.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
	debug.GET("/resources", handlers.Resources)
	debug.GET("/threads", handlers.Threads)
	debug.GET("/threads/:id", handlers.Thread)

	return &Server{
		router: router,
		http: &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger:  logger,
		metrics: metrics,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Graceful shutdown failed", zap.Error(err))
		return s.http.Close()
	}
	<-errCh
	return nil
}
