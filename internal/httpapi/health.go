package httpapi

import "net/http"

// Health reports service liveness and a little operational context.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "healthy",
		"backend_configured": h.cfg.Speech.APIKey != "",
		"active_connections": h.registry.ActiveSessions(),
	})
}

// Root describes the service surface.
func (h *Handlers) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "AI Call Bridge",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"websocket":         "/media-stream/{handle}",
			"initiate_call":     "POST /initiate-call",
			"incoming_call":     "GET/POST /incoming-call",
			"agent_call":        "GET/POST /agent-call",
			"admin_prompt":      "POST /admin-prompt",
			"end_call":          "POST /end-call",
			"webhook":           "POST /webhook",
			"recording_webhook": "POST /recording-webhook",
			"health":            "/health",
		},
	})
}
