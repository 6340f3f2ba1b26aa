package telegram

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/telegram/webhook", h.HandleWebhook)
	r.Post("/webhook", h.HandleWebhook)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(h.requireAPIKey)
		r.Post("/send-to-user", h.SendToUser)
		r.Post("/send-to-group", h.SendToGroup)
		r.Post("/send-to-all-contacts", h.SendToAll)
		r.Get("/transcript/{chatID}", h.Transcript)
	})
}
