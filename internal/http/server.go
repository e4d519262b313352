package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	applog "maenroll/internal/log"
	"maenroll/internal/middleware/ratelimit"
	"maenroll/internal/middleware/security"
)

// Options configures the router middleware stack.
type Options struct {
	AllowedOrigins    []string
	RequestsPerMinute int
	Logger            *applog.Logger
}

// Server is the API HTTP server.
type Server struct {
	http.Server
	limiter *ratelimit.Limiter
}

// NewServer wires h behind the middleware stack and listens on addr once
// ListenAndServe is called.
func NewServer(addr string, h *Handler, opts Options) *Server {
	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RequestsPerMinute})
	return &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           NewRouter(h, limiter, opts),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		limiter: limiter,
	}
}

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler, limiter *ratelimit.Limiter, opts Options) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	detector := security.NewDetector()

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(applog.Middleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"X-Dataset-Version"},
		MaxAge:         300,
	}))
	r.Use(detector.Middleware)
	if limiter != nil {
		r.Use(limiter.Middleware(detector.ExtractClientIP, func(w http.ResponseWriter, _ *http.Request) {
			TooManyRequestsError().Write(w)
		}))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		NotFoundError("not found").Write(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		MethodNotAllowedError("GET, OPTIONS").Write(w)
	})

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/timeline", h.Timeline)
		r.Get("/kpis", h.KPIs)
		r.Get("/summary", h.Summary)
		r.Get("/movers", h.Movers)
		r.Get("/timeseries", h.TimeSeries)
		r.Get("/options", h.Options)
		r.Get("/mix", h.Mix)
	})

	return r
}

// Shutdown stops the limiter and gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	return s.Server.Shutdown(ctx)
}
