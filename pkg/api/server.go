// Package api serves the generation pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/pario-ai/flowsmith/pkg/cache"
	"github.com/pario-ai/flowsmith/pkg/models"
	"github.com/pario-ai/flowsmith/pkg/pipeline"
)

// JobReader looks up background jobs for polling.
type JobReader interface {
	Get(ctx context.Context, id string) (*models.GenerationJob, error)
}

// UsageReader reports aggregated usage.
type UsageReader interface {
	Summary(ctx context.Context, dt models.DiagramType) ([]models.UsageSummary, error)
}

// QuotaReader reports usage against token quotas.
type QuotaReader interface {
	Status(ctx context.Context) ([]models.QuotaStatus, error)
}

// Server is the flowsmith HTTP API.
type Server struct {
	listen   string
	pipeline *pipeline.Pipeline
	jobs     JobReader
	cache    *cache.Manager
	usage    UsageReader
	quota    QuotaReader
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	engine   *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithCache exposes cache statistics.
func WithCache(c *cache.Manager) Option { return func(s *Server) { s.cache = c } }

// WithUsage exposes the usage summary.
func WithUsage(u UsageReader) Option { return func(s *Server) { s.usage = u } }

// WithQuota exposes token quota status.
func WithQuota(q QuotaReader) Option { return func(s *Server) { s.quota = q } }

// WithGatherer serves g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// New creates a Server and registers its routes.
func New(listen string, p *pipeline.Pipeline, jobs JobReader, opts ...Option) *Server {
	s := &Server{
		listen:   listen,
		pipeline: p,
		jobs:     jobs,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}

	e := gin.New()
	e.Use(gin.Recovery(), otelgin.Middleware("flowsmith"), s.requestLog())
	e.GET("/healthz", s.health)
	if s.gatherer != nil {
		e.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := e.Group("/v1")
	v1.POST("/generate", s.generate)
	v1.POST("/analyze", s.analyze)
	v1.GET("/jobs/:id", s.job)
	v1.GET("/cache/stats", s.cacheStats)
	v1.GET("/stats", s.stats)
	v1.GET("/quota", s.quotaStatus)

	s.engine = e
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// ListenAndServe starts the server and shuts it down gracefully when ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("flowsmith listening", "addr", s.listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
