// Package httpapi exposes a blobvault.Service over HTTP.
//
// Routes are declared in one static table (see Server.Routes); each entry
// names its verb, path, access scope and handler. Uploads are streamed from
// the multipart body part by part, downloads are streamed into the response.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/alexjoedt/blobvault"
)

// Registry registers and gathers metrics, like *prometheus.Registry.
type Registry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAuthorizer installs the access check run before every file route.
// By default every request is allowed.
func WithAuthorizer(fn Authorizer) Option {
	return func(s *Server) {
		if fn != nil {
			s.authorizer = fn
		}
	}
}

// WithRegistry registers the HTTP metrics on reg and serves reg on
// /metrics.
func WithRegistry(reg Registry) Option {
	return func(s *Server) {
		if reg != nil {
			s.registry = reg
		}
	}
}

// WithMaxUploadSize limits the request body of uploads. Zero means no
// limit.
func WithMaxUploadSize(n int64) Option {
	return func(s *Server) {
		s.maxUploadBytes = n
	}
}

// Server is the HTTP front end of a blobvault.Service.
type Server struct {
	svc            *blobvault.Service
	engine         *gin.Engine
	routes         []Route
	logger         *zap.Logger
	authorizer     Authorizer
	registry       Registry
	maxUploadBytes int64
}

func New(svc *blobvault.Service, opts ...Option) *Server {
	s := &Server{
		svc:        svc,
		logger:     zap.NewNop(),
		authorizer: allowAll,
		registry:   prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "httpapi"))

	gin.SetMode(gin.ReleaseMode)

	s.engine = gin.New()
	// Filenames may contain encoded slashes.
	s.engine.UseRawPath = true
	s.engine.UnescapePathValues = true

	s.engine.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		loggingMiddleware(s.logger),
		newHTTPMetrics(s.registry).middleware(),
	)

	s.engine.GET("/healthz", s.health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	s.routes = s.buildRoutes()
	for _, r := range s.routes {
		s.engine.Handle(r.Verb, r.Path, s.authorize(r), r.Handler)
	}

	return s
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) health(c *gin.Context) {
	if err := s.svc.Ping(c.Request.Context()); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
