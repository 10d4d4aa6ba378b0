package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xela07ax/devflow-orchestrator/internal/infra"
	"github.com/xela07ax/devflow-orchestrator/internal/infra/auth"
)

// RunServer — HTTP-поверхность оркестратора: запуск и ведение прогонов.
type RunServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	validator auth.TokenValidator
	runs      *RunHandler
}

func NewRunServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	runs *RunHandler,
	gatherer prometheus.Gatherer,
) *RunServer {
	s := &RunServer{
		router:    chi.NewRouter(),
		logger:    logger.Named("run-api"),
		cfg:       cfg,
		validator: validator,
		runs:      runs,
	}

	s.routes(gatherer)
	return s
}

func (s *RunServer) routes(gatherer prometheus.Gatherer) {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(TracingMiddleware)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.validator, s.logger))

		r.Route("/v1/runs", func(r chi.Router) {
			r.Post("/", s.runs.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.runs.Get)
				r.Post("/advance", s.runs.Advance)
				r.Post("/cancel", s.runs.Cancel)
				r.Post("/approvals", s.runs.SubmitApproval)
			})
		})
	})
}

// ServeHTTP позволяет использовать RunServer как стандартный http.Handler
func (s *RunServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
