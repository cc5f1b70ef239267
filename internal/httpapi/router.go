package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs the HTTP router for the service.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	// Media stream websocket; the handle is a call id for dialed calls and
	// a provider leg id otherwise.
	r.Get("/media-stream/{handle}", h.MediaStream)

	// Telephony webhooks (the provider calls these with POST, but GET is
	// accepted for manual testing).
	r.HandleFunc("/incoming-call", h.IncomingCall)
	r.HandleFunc("/agent-call", h.AgentCall)
	r.Post("/webhook", h.StatusWebhook)
	r.Post("/recording-webhook", h.RecordingWebhook)

	// Control plane
	r.Post("/initiate-call", h.InitiateCall)
	r.Post("/admin-prompt", h.AdminPrompt)
	r.Post("/end-call", h.EndCall)

	return r
}
