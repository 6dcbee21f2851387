package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bnema/lapclock/internal/adapter/http/middleware"
	"github.com/bnema/lapclock/internal/adapter/http/ratelimit"
	"github.com/bnema/lapclock/internal/domain"
	"github.com/bnema/lapclock/internal/infrastructure/logger"
	"github.com/bnema/lapclock/internal/infrastructure/metrics"
	"github.com/bnema/lapclock/internal/service"
)

// Config holds the HTTP surface settings.
type Config struct {
	MaxUploadSizeMB int
	DefaultMode     domain.RenderMode
	// AllowInputPaths lets clients render files already on the server's disk.
	AllowInputPaths bool
	// SubmitLimit caps uploads and job submissions per client per minute. Zero disables it.
	SubmitLimit int
	KeepAlive   time.Duration
}

type Server struct {
	router  chi.Router
	limiter *ratelimit.Limiter
}

// NewServer builds the router. /metrics is mounted only when met is non-nil.
func NewServer(cfg Config, jobs JobService, uploads UploadService, eventBus *service.EventBus, met *metrics.Metrics) *Server {
	handlers := NewHandlers(jobs, uploads, cfg)
	sseHandler := NewSSEHandler(eventBus, jobs, cfg.KeepAlive)

	s := &Server{router: chi.NewRouter()}
	if cfg.SubmitLimit > 0 {
		s.limiter = ratelimit.NewLimiter(cfg.SubmitLimit, time.Minute, 5*time.Minute)
	}

	r := s.router
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger.WithComponent("http")))
	if met != nil {
		r.Use(metrics.RequestMiddleware(met))
	}
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)

	r.Get("/healthz", Healthz)
	if met != nil {
		r.Method(http.MethodGet, "/metrics", met.Handler())
	}

	r.Route("/uploads", func(r chi.Router) {
		r.Get("/", handlers.ListUploads)
		r.With(s.limit).Post("/", handlers.Upload)
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", handlers.ListJobs)
		r.With(s.limit).Post("/", handlers.SubmitJob)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", handlers.GetJob)
			r.Post("/cancel", handlers.CancelJob)
			r.Get("/events", sseHandler.Events)
			r.Get("/output", handlers.Output)
		})
	})

	return s
}

func (s *Server) limit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return s.limiter.Middleware(next)
}

// EvictIdleClients drops stale rate limit entries until ctx is done.
func (s *Server) EvictIdleClients(ctx context.Context) {
	if s.limiter == nil {
		return
	}
	s.limiter.Run(ctx, time.Minute)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
