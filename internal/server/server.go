// Package server exposes the engine over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/dyike/CortexQuant/config"
	"github.com/dyike/CortexQuant/internal/engine"
	"github.com/dyike/CortexQuant/internal/logging"
	"github.com/dyike/CortexQuant/internal/storage"
)

const (
	apiName    = "CortexQuant Backtesting API"
	apiVersion = "0.1.0"
)

type Server struct {
	cfg     *config.Config
	engine  *engine.Engine
	engines func() *engine.Engine
	store   *storage.Store
	log     logrus.FieldLogger
}

type Option func(*Server)

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.log = l }
}

// WithStore enables the run history endpoints.
func WithStore(store *storage.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithEngineSource makes every request use the engine fn returns, so a
// rebuilt engine takes over without a restart.
func WithEngineSource(fn func() *engine.Engine) Option {
	return func(s *Server) { s.engines = fn }
}

func New(cfg *config.Config, eng *engine.Engine, opts ...Option) *Server {
	s := &Server{cfg: cfg, engine: eng}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	s.log = s.log.WithField("component", "server")
	return s
}

func (s *Server) currentEngine() *engine.Engine {
	if s.engines != nil {
		return s.engines()
	}
	return s.engine
}

func (s *Server) Router() http.Handler {
	if !s.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), cors())

	r.GET("/", s.handleRoot)
	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	api.GET("/forecast/:ticker", s.handleForecast)

	bt := api.Group("/backtest")
	bt.POST("/run", s.handleBacktestRun)
	bt.GET("/:ticker", s.handleBacktestTicker)

	runs := api.Group("/runs")
	runs.GET("", s.handleRunsList)
	runs.GET("/:runID", s.handleRunGet)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.cfg.ServerAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.cfg.ServerAddr).Info("listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("server stopped")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("request")
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
