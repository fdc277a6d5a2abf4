package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hackgods/hospital-booking/internal/booking"
	"github.com/hackgods/hospital-booking/internal/logging"
	"github.com/hackgods/hospital-booking/internal/metrics"
)

type RouterConfig struct {
	Service      *booking.Service
	Logger       *logging.Logger
	HTTPMetrics  *metrics.HTTPMetrics
	Dependencies []Dependency
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(logger, cfg.HTTPMetrics))

	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.HTTPMetrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.HTTPMetrics.Handler())
	}

	h := NewHandler(cfg.Service, logger)

	r.Route("/doctors/{doctorID}", func(r chi.Router) {
		r.Post("/availability", h.GenerateAvailability)
		r.Put("/availability", h.ReplaceAvailability)
		r.Get("/slots", h.ListFreeSlots)
	})

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", h.BookAppointment)
		r.Get("/", h.ListAppointments)
		r.Get("/{id}", h.GetAppointment)
		r.Post("/{id}/cancel", h.CancelAppointment)
		r.Post("/{id}/reschedule", h.RescheduleAppointment)
		r.Post("/{id}/complete", h.CompleteAppointment)
	})

	r.Get("/stats", h.Stats)

	return r
}
