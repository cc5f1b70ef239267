package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"ai-call-bridge/internal/observability/logging"
	"ai-call-bridge/internal/registry"
)

type adminPromptRequest struct {
	CallSID string `json:"callSid"`
	Prompt  string `json:"prompt"`
}

// findSession locates the live session for whatever identifier the
// control plane sent, trying in order: the identifier itself, the call id
// its pending entry maps to, then any agent leg folded onto it (directly
// or via that leg's own pending entry).
func (h *Handlers) findSession(sid string) (registry.Session, string, bool) {
	if s, ok := h.registry.Lookup(sid); ok {
		return s, sid, true
	}

	if p, ok := h.registry.Pending(sid); ok && p.CallID != "" {
		if s, ok := h.registry.Lookup(p.CallID); ok {
			return s, p.CallID, true
		}
	}

	for _, agentSID := range h.registry.AgentLegsFor(sid) {
		if s, ok := h.registry.Lookup(agentSID); ok {
			return s, agentSID, true
		}
		if p, ok := h.registry.Pending(agentSID); ok && p.CallID != "" {
			if s, ok := h.registry.Lookup(p.CallID); ok {
				return s, p.CallID, true
			}
		}
	}
	return nil, "", false
}

// AdminPrompt injects an operator instruction into a live conversation as
// a user turn, then asks the backend for a response.
func (h *Handlers) AdminPrompt(w http.ResponseWriter, r *http.Request) {
	log := logging.WithComponent("admin-prompt")

	var req adminPromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.CallSID == "" || req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "callSid and prompt are required"})
		return
	}

	session, key, ok := h.findSession(req.CallSID)
	if !ok {
		log.Warn().Str("callSid", req.CallSID).Msg("No active connection for admin prompt")
		h.metrics.RecordAdminEvent("prompt", "not_found")
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "No active connection found for this call"})
		return
	}

	if err := session.CreateUserItem(fmt.Sprintf("[Admin instruction: %s]", req.Prompt)); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to inject admin prompt")
		h.metrics.RecordAdminEvent("prompt", "error")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := session.CreateResponse(); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to trigger response after admin prompt")
		h.metrics.RecordAdminEvent("prompt", "error")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	log.Info().Str("callSid", req.CallSID).Str("key", key).Msg("Admin prompt injected")
	h.metrics.RecordAdminEvent("prompt", "ok")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Prompt sent to AI",
	})
}

type endCallRequest struct {
	CallSID string `json:"callSid"`
}

// EndCall closes the backend session for a call, which unwinds the bridge
// and completes the call. The deregister runs even when no live session is
// found, so a stale entry cannot survive.
func (h *Handlers) EndCall(w http.ResponseWriter, r *http.Request) {
	log := logging.WithComponent("end-call")

	var req endCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.CallSID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "callSid is required"})
		return
	}

	if session, ok := h.registry.Lookup(req.CallSID); ok {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Str("callSid", req.CallSID).Msg("Error closing backend session")
		}
	}
	h.registry.Deregister(req.CallSID)

	h.metrics.RecordAdminEvent("end_call", "ok")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Call ended",
	})
}
