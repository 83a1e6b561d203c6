package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nauu/lightingbi/pkg/dependencies"
	"github.com/nauu/lightingbi/pkg/engine"
	"github.com/nauu/lightingbi/pkg/httputil"
	"github.com/nauu/lightingbi/pkg/observability"
	"github.com/nauu/lightingbi/pkg/swagger"
)

// APIPrefix is the path prefix of every formula route
const APIPrefix = "/api/v1"

// Server exposes an Engine over HTTP
type Server struct {
	engine  *engine.Engine
	router  *mux.Router
	api     *mux.Router
	handler http.Handler

	logger         *observability.Logger
	metrics        *observability.Metrics
	corsOrigins    []string
	requestTimeout time.Duration
	maxBodyBytes   int64
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the request and error logger
func WithLogger(l *observability.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics instruments every route with HTTP metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithCORS allows cross-origin requests from origins ("*" allows any)
func WithCORS(origins ...string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithRequestTimeout bounds the time spent on one request
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.requestTimeout = d }
}

// WithMaxBodyBytes limits request body size
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) { s.maxBodyBytes = n }
}

// NewServer creates a new API server for eng
func NewServer(eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		engine:       eng,
		router:       mux.NewRouter(),
		logger:       observability.NewNopLogger(),
		maxBodyBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.api = s.router.PathPrefix(APIPrefix).Subrouter()

	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))
	}
	s.setupRoutes()

	middlewares := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
	}
	if len(s.corsOrigins) > 0 {
		middlewares = append(middlewares, httputil.CORSMiddleware(s.corsOrigins))
	}
	if s.requestTimeout > 0 {
		middlewares = append(middlewares, httputil.TimeoutMiddleware(s.requestTimeout))
	}
	middlewares = append(middlewares,
		httputil.MaxBytesMiddleware(s.maxBodyBytes),
		httputil.ContentTypeMiddleware,
	)
	s.handler = httputil.Chain(middlewares...)(s.router)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.api.HandleFunc("/formulas", s.createFormula).Methods("POST")
	s.api.HandleFunc("/formulas", s.listFormulas).Methods("GET")
	s.api.HandleFunc("/formulas/calculate", s.calculate).Methods("POST")
	s.api.HandleFunc("/formulas/{id}", s.getFormula).Methods("GET")
	s.api.HandleFunc("/formulas/{id}", s.deleteFormula).Methods("DELETE")
	s.api.HandleFunc("/formulas/{id}/run", s.runFormula).Methods("POST")
	s.api.HandleFunc("/formulas/{id}/tree", s.getTree).Methods("GET")
	s.api.HandleFunc("/formulas/{id}/cycle", s.checkCycle).Methods("GET")

	// graph analysis views
	s.RegisterRoutes(dependencies.NewDependencyHandlers(s.engine))

	// API documentation lives outside the versioned prefix
	swagger.NewSwaggerHandlers().RegisterRoutes(s.router)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes mounts registrar under the API prefix
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.api)
}
