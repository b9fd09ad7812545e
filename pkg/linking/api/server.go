// Package api exposes the linking service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/otherjamesbrown/penf-linker/pkg/buildinfo"
	pferrors "github.com/otherjamesbrown/penf-linker/pkg/errors"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/pipeline"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/store"
	"github.com/otherjamesbrown/penf-linker/pkg/logging"
)

// PrincipalHeader names the principal a request acts as.
const PrincipalHeader = "X-Penf-Principal"

// AnonymousPrincipal is used when PrincipalHeader is absent.
const AnonymousPrincipal store.Principal = "anonymous"

// ServiceName is reported by /version.
const ServiceName = "penf-linker"

// maxTextBytes bounds the body of POST /v1/analyze.
const maxTextBytes = 1 << 20

const principalKey = "principal"

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Server holds the handlers' dependencies.
type Server struct {
	svc      *pipeline.Service
	store    store.Store
	gatherer prometheus.Gatherer
	health   map[string]HealthCheck
	logger   logging.Logger
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGatherer serves metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithHealthCheck adds a named check to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		s.health[name] = check
	}
}

// NewServer creates the HTTP server for svc. Sessions are opened on st.
func NewServer(svc *pipeline.Service, st store.Store, opts ...Option) *Server {
	s := &Server{
		svc:      svc,
		store:    st,
		gatherer: prometheus.DefaultGatherer,
		health:   make(map[string]HealthCheck),
		logger:   logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logging.Component("http_api"))
	return s
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), principal())

	r.GET("/healthz", s.healthz)
	r.GET("/version", buildinfo.Handler(ServiceName))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1")
	{
		v1.POST("/analyze", s.analyze)
		v1.GET("/stats", s.stats)
		v1.GET("/entities/suggestions", s.suggest)

		doc := v1.Group("/repositories/:repo/documents/:id")
		doc.POST("/analysis", s.launchAnalysis)
		doc.GET("/analysis", s.getStatus)
		doc.DELETE("/analysis", s.clearStatus)
		doc.POST("/occurrences", s.addOccurrences)
		doc.DELETE("/occurrences/:entity", s.removeOccurrences)
	}
	return r
}

// NewHTTPServer wraps the router in an http.Server listening on addr.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func principal() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := store.Principal(c.GetHeader(PrincipalHeader))
		if p == "" {
			p = AnonymousPrincipal
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

func principalOf(c *gin.Context) store.Principal {
	if p, ok := c.Get(principalKey); ok {
		return p.(store.Principal)
	}
	return AnonymousPrincipal
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []logging.Field{
			logging.F("method", c.Request.Method),
			logging.F("path", c.FullPath()),
			logging.F("status", c.Writer.Status()),
			logging.F("duration_ms", time.Since(start).Milliseconds()),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.logger.Warn("Request failed", fields...)
			return
		}
		s.logger.Debug("Request served", fields...)
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

func (s *Server) fail(c *gin.Context, err error) {
	code := pferrors.CodeOf(err)
	status := pferrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request error", logging.F("path", c.FullPath()), logging.Err(err))
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     err.Error(),
		Code:      string(code),
		Retryable: pferrors.IsRetryable(code),
	})
}

func (s *Server) healthz(c *gin.Context) {
	checks := make(map[string]string, len(s.health))
	healthy := true
	for name, check := range s.health {
		if err := check(c.Request.Context()); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}

func (s *Server) stats(c *gin.Context) {
	stats, err := s.svc.QueueStats(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
