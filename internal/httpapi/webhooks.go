package httpapi

import (
	"net/http"

	"ai-call-bridge/internal/observability/logging"
)

// StatusWebhook relays provider status callbacks to the record keeper.
// Always answers ok so the provider does not retry or fail the call.
func (h *Handlers) StatusWebhook(w http.ResponseWriter, r *http.Request) {
	log := logging.WithComponent("webhook")

	if err := r.ParseForm(); err != nil {
		log.Warn().Err(err).Msg("Unparseable webhook form")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	callID := r.URL.Query().Get("callId")

	if callID != "" {
		if err := h.store.ForwardWebhook(r.Context(), callID, r.PostForm); err != nil {
			log.Warn().Err(err).Str("callId", callID).Msg("Failed to forward status webhook")
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RecordingWebhook relays provider recording callbacks to the record
// keeper. Forwarded even without a call id; the record keeper can look
// the call up by its CallSid field.
func (h *Handlers) RecordingWebhook(w http.ResponseWriter, r *http.Request) {
	log := logging.WithComponent("recording-webhook")

	if err := r.ParseForm(); err != nil {
		log.Warn().Err(err).Msg("Unparseable recording webhook form")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	callID := r.URL.Query().Get("callId")
	log.Info().Str("callId", callID).Str("callSid", r.PostFormValue("CallSid")).Msg("Forwarding recording webhook")

	if err := h.store.ForwardRecordingWebhook(r.Context(), callID, r.PostForm); err != nil {
		log.Warn().Err(err).Str("callId", callID).Msg("Failed to forward recording webhook")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
