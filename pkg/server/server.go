package server

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/restoreassist/pkg/audit"
	"github.com/platinummonkey/restoreassist/pkg/auth"
	"github.com/platinummonkey/restoreassist/pkg/config"
	"github.com/platinummonkey/restoreassist/pkg/files"
	"github.com/platinummonkey/restoreassist/pkg/httputil"
	"github.com/platinummonkey/restoreassist/pkg/integrations"
	"github.com/platinummonkey/restoreassist/pkg/middleware"
	"github.com/platinummonkey/restoreassist/pkg/observability"
	"github.com/platinummonkey/restoreassist/pkg/orgs"
	"github.com/platinummonkey/restoreassist/pkg/rbac"
)

// uploadOverhead is the allowance for multipart framing on top of the
// configured upload limit
const uploadOverhead = 1 << 20

// Dependencies are the constructed services the API routes are served by
type Dependencies struct {
	Config  config.ServerConfig
	Logger  *observability.Logger
	Metrics *observability.Metrics

	// Keys authenticates bearer tokens. Usually the same value as APIKeys.
	Keys    middleware.KeyValidator
	Limiter middleware.Limiter

	Orgs         *orgs.PostgresService
	Roles        *rbac.Store
	Permissions  *rbac.PermissionChecker
	APIKeys      *auth.APIKeyService
	Integrations *integrations.Service
	Files        *files.Service

	Audit       audit.Logger
	AuditEvents audit.Searcher

	// MaxUploadBytes caps upload request bodies. Zero means no cap.
	MaxUploadBytes int64
}

// Server serves the REST API
type Server struct {
	deps   Dependencies
	router *mux.Router
}

// New builds the API router
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NewNopLogger()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NoOpLogger{}
	}

	s := &Server{deps: deps, router: mux.NewRouter()}
	s.router.Use(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(deps.Logger),
		httputil.RecoveryMiddleware(deps.Logger),
		observability.HTTPMetricsMiddleware(deps.Metrics),
	)
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "route")
	})
	s.routes()
	return s
}

// Router returns the bare router without the outer middleware
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the router wrapped with proxy header handling, tracing
// and CORS
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = httputil.CORSMiddleware(s.deps.Config.CORSAllowedOrigins)(h)
	h = otelhttp.NewHandler(h, "restoreassist",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	return handlers.ProxyHeaders(h)
}

// HTTPServer returns the API listener configured from the server settings
func (s *Server) HTTPServer() *http.Server {
	cfg := s.deps.Config
	return &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(s.deps.Logger.Slog().Handler(), slog.LevelError),
	}
}

// HealthServer returns the listener for probes and Prometheus scraping.
// registry may be nil when metrics are disabled.
func HealthServer(cfg config.ServerConfig, checker *observability.HealthChecker, registry *prometheus.Registry) *http.Server {
	serveMux := http.NewServeMux()
	observability.RegisterHealthRoutes(serveMux, checker)
	if registry != nil {
		observability.RegisterMetricsEndpoint(serveMux, registry)
	}
	return &http.Server{
		Addr:        net.JoinHostPort(cfg.Host, cfg.HealthPort),
		Handler:     serveMux,
		ReadTimeout: cfg.ReadTimeout,
		IdleTimeout: cfg.IdleTimeout,
	}
}
