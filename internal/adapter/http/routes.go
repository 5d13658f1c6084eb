package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/voyago/voyago/internal/adapter/ws"
)

// MountRoutes registers all API and streaming routes on the given chi
// router.
func MountRoutes(r chi.Router, h *Handlers, stream *ws.Handler, alerts *ws.AlertHub) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Itineraries
		r.Post("/itineraries", h.CreateItinerary)
		r.Get("/itineraries", h.ListItineraries)
		r.Get("/itineraries/{id}", h.GetItinerary)
		r.Get("/itineraries/{id}/versions", h.GetVersionHistory)
		r.Post("/itineraries/{id}/generate", h.StartGeneration)
		r.Post("/itineraries/{id}/replan", h.StartReplan)

		// Task progress (polling + worker callbacks)
		r.Get("/tasks/active", h.ListActiveTasks)
		r.Get("/tasks/{taskID}/status", h.GetTaskStatus)
		r.Post("/tasks/{taskID}/progress", h.ReportTaskProgress)
		r.Post("/tasks/{taskID}/complete", h.CompleteTask)
		r.Post("/tasks/{taskID}/fail", h.FailTask)

		// Proactive alerts
		r.Post("/alerts", h.PublishAlert)
	})

	// Streaming endpoints. Batch must be registered before the task-id
	// route so "batch" is not captured as a task id.
	r.Get("/ws/itinerary/batch", stream.HandleBatchProgress)
	r.Get("/ws/itinerary/{taskID}", stream.HandleTaskProgress)
	r.Get("/ws/alerts/user/{userID}", alerts.HandleUserAlerts)
	r.Get("/ws/alerts/itinerary/{itineraryID}", alerts.HandleItineraryAlerts)
}
