package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/permitdesk/pkg/assignment"
	"github.com/platinummonkey/permitdesk/pkg/auth"
	"github.com/platinummonkey/permitdesk/pkg/chalans"
	"github.com/platinummonkey/permitdesk/pkg/history"
	"github.com/platinummonkey/permitdesk/pkg/httputil"
	"github.com/platinummonkey/permitdesk/pkg/middleware"
	"github.com/platinummonkey/permitdesk/pkg/observability"
	"github.com/platinummonkey/permitdesk/pkg/permits"
)

// MaxRequestBytes bounds request bodies
const MaxRequestBytes = 1 << 20

// Server represents our API server
type Server struct {
	services  *Services
	router    *mux.Router
	handler   http.Handler
	logger    *observability.Logger
	metrics   *observability.Metrics
	rateLimit *middleware.RateLimitMiddleware
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithServerLogger sets the request logger
func WithServerLogger(logger *observability.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithServerMetrics records HTTP metrics
func WithServerMetrics(metrics *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = metrics
	}
}

// WithRateLimit installs the rate limit middleware after authentication
func WithRateLimit(m *middleware.RateLimitMiddleware) ServerOption {
	return func(s *Server) {
		s.rateLimit = m
	}
}

// NewServer creates a new API server
func NewServer(services *Services, opts ...ServerOption) *Server {
	s := &Server{
		services: services,
		router:   mux.NewRouter(),
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
		httputil.MaxBytesMiddleware(MaxRequestBytes),
		httputil.ContentTypeMiddleware,
	)(s.router)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))
	}
	s.router.Use(auth.NewAuthenticator(s.services.Tokens, s.services.RBAC.Store(), true).Handler)
	if s.rateLimit != nil {
		s.router.Use(s.rateLimit.Handler)
	}

	pm := s.services.RBAC.Middleware()
	s.services.RBAC.RegisterRoutes(s.router)
	history.NewHandlers(s.services.Ledger).RegisterRoutes(s.router, pm)
	permits.NewHandlers(s.services.Permits).RegisterRoutes(s.router)
	chalans.NewHandlers(s.services.Chalans).RegisterRoutes(s.router)
	auth.NewHandlers(s.services.Tokens).RegisterRoutes(s.router)
	assignment.NewHandlers(s.services.Assignments).RegisterRoutes(s.router)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "route not found")
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// TracedHandler wraps the server in an OpenTelemetry span per request
func (s *Server) TracedHandler() http.Handler {
	return otelhttp.NewHandler(s, "permitdesk-api")
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}
