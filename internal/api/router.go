package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hackgods/eventsourced-scheduling/internal/appointment"
	"github.com/hackgods/eventsourced-scheduling/internal/logger"
	"github.com/hackgods/eventsourced-scheduling/internal/visio"
)

type RouterConfig struct {
	Appointments         *appointment.Service
	AppointmentViews     appointment.ReadStore
	AppointmentProjector *appointment.Projector
	Visios               *visio.Service
	VisioViews           visio.ReadStore
	VisioProjector       *visio.Projector
	Health               *HealthHandler
	Log                  *logger.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(middleware.Recoverer)

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(cfg.Appointments))
		r.Get("/", listAppointmentsHandler(cfg.AppointmentViews))
		r.Get("/{id}", getAppointmentHandler(cfg.AppointmentViews))
		r.Get("/{id}/state", getAppointmentStateHandler(cfg.Appointments))
		r.Post("/{id}/confirm", confirmAppointmentHandler(cfg.Appointments))
		r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Appointments))
		r.Post("/{id}/complete", completeAppointmentHandler(cfg.Appointments))
		r.Post("/{id}/rebuild", rebuildAppointmentHandler(cfg.AppointmentProjector))
	})

	r.Route("/visios", func(r chi.Router) {
		r.Post("/", createVisioHandler(cfg.Visios))
		r.Get("/", listVisiosHandler(cfg.VisioViews))
		r.Get("/stats", visioStatsHandler(cfg.VisioViews))
		r.Get("/{id}", getVisioHandler(cfg.VisioViews))
		r.Get("/{id}/state", getVisioStateHandler(cfg.Visios))
		r.Put("/{id}/configuration", updateConfigurationHandler(cfg.Visios))
		r.Post("/{id}/cancel", cancelVisioHandler(cfg.Visios))
		r.Post("/{id}/rebuild", rebuildVisioHandler(cfg.VisioProjector))
		for action, h := range visioLifecycleHandlers(cfg.Visios) {
			r.Post("/{id}/"+action, h)
		}

		r.Post("/{id}/participants", addParticipantHandler(cfg.Visios))
		r.Delete("/{id}/participants/{pid}", removeParticipantHandler(cfg.Visios))
		r.Put("/{id}/participants/{pid}/preferences", updatePreferencesHandler(cfg.Visios))
		r.Post("/{id}/participants/{pid}/link", generateLinkHandler(cfg.Visios))
		for action, h := range participantHandlers(cfg.Visios) {
			r.Post("/{id}/participants/{pid}/"+action, h)
		}
	})

	return r
}
