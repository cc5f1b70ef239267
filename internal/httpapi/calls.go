package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ai-call-bridge/internal/models"
	"ai-call-bridge/internal/observability/logging"
	"ai-call-bridge/internal/registry"
	"ai-call-bridge/internal/telephony"
)

// IncomingCall handles the provider webhook for a call arriving on the
// service's number. It answers with TwiML that dials the provider-hosted
// agent application, creating a second leg so dual-channel recording
// works; the agent leg then lands on AgentCall.
func (h *Handlers) IncomingCall(w http.ResponseWriter, r *http.Request) {
	log := logging.WithComponent("incoming-call")

	callSID := webhookParam(r, "CallSid")
	if callSID == "" {
		log.Warn().Msg("Incoming call without CallSid")
		http.Error(w, "Error: CallSid missing", http.StatusBadRequest)
		return
	}
	caller := webhookParam(r, "From")
	log.Info().Str("callSid", callSID).Str("from", caller).Msg("Incoming call")

	callID, err := h.resolver.Resolve(r.Context(), callSID)
	if err != nil {
		log.Warn().Err(err).Str("callSid", callSID).Msg("Call id lookup failed")
	}

	if callID != "" {
		h.registry.PutPending(callSID, registry.PendingCall{
			CallID:    callID,
			From:      caller,
			CreatedAt: time.Now(),
		})
	}

	var recordingCallback string
	if callID != "" {
		recordingCallback = fmt.Sprintf("%s/api/calls/recording-webhook?callId=%s", h.cfg.RecordKeeper.BaseURL, callID)
	}
	writeTwiML(w, http.StatusOK, telephony.DialAgentTwiML(h.cfg.Telephony.AgentAppSID, recordingCallback))
}

// AgentCall handles the provider webhook for the agent application leg of
// an incoming call. It folds the leg back onto the original call, then
// answers with TwiML that opens the media stream to this service.
//
// Matching runs on caller number and recency because the provider gives
// the agent leg a fresh CallSid with no reference to the original;
// concurrent calls from one number can misattribute. An agent leg that
// matches nothing and has no record is rejected with a hangup.
func (h *Handlers) AgentCall(w http.ResponseWriter, r *http.Request) {
	log := logging.WithComponent("agent-call")

	agentSID := webhookParam(r, "CallSid")
	if agentSID == "" {
		log.Warn().Msg("Agent call without CallSid")
		http.Error(w, "Error: CallSid missing", http.StatusBadRequest)
		return
	}
	from := webhookParam(r, "From")

	var callID string
	if origKey, pending, ok := h.registry.MatchPendingByCaller(from); ok {
		h.registry.PutAgentLeg(agentSID, origKey)
		callID = pending.CallID
		log.Info().
			Str("agentCallSid", agentSID).
			Str("originalCallSid", origKey).
			Str("callId", callID).
			Msg("Agent call matched to incoming call")
	} else {
		resolved, err := h.resolver.Resolve(r.Context(), agentSID)
		if err != nil {
			log.Warn().Err(err).Str("agentCallSid", agentSID).Msg("Agent call lookup failed")
		}
		callID = resolved
		if callID == "" {
			// Orphaned or duplicate agent leg; reject it so it does not
			// surface as a live call anywhere.
			log.Warn().Str("agentCallSid", agentSID).Str("from", from).Msg("Rejecting agent call without call id")
			writeTwiML(w, http.StatusOK, telephony.HangupTwiML())
			return
		}
	}

	streamURL := telephony.StreamURL(h.cfg.Service.PublicURL, callID)
	log.Info().Str("streamUrl", streamURL).Msg("Opening media stream for agent leg")
	writeTwiML(w, http.StatusOK, telephony.ConnectStreamTwiML(streamURL))
}

// initiateCallRequest is the control-plane request to dial an outbound AI
// call.
type initiateCallRequest struct {
	CallID         string   `json:"callId"`
	ToPhone        string   `json:"toPhone"`
	FromPhone      string   `json:"fromPhone"`
	InitialPrompts []string `json:"initialPrompts"`
}

// InitiateCall dials an outbound call whose inline TwiML opens the media
// stream immediately, with the record keeper call id as the routing
// handle.
func (h *Handlers) InitiateCall(w http.ResponseWriter, r *http.Request) {
	log := logging.WithComponent("initiate-call")

	if !h.dialer.Configured() {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Telephony provider not configured"})
		return
	}

	var req initiateCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.CallID == "" || req.ToPhone == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "callId and toPhone are required"})
		return
	}
	if err := telephony.ValidatePhoneNumber(req.ToPhone); err != nil {
		log.Warn().Err(err).Msg("Rejecting dial request")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !telephony.SafeCallID(req.CallID) {
		log.Warn().Str("callId", req.CallID).Msg("Rejecting dial request with unsafe call id")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid callId format. It should be alphanumeric or hyphens only."})
		return
	}

	from := req.FromPhone
	if from == "" {
		from = h.dialer.DefaultFrom()
	}

	streamURL := telephony.StreamURL(h.cfg.Service.PublicURL, req.CallID)
	recordingCallback := fmt.Sprintf("%s/api/calls/recording-webhook?callId=%s", h.cfg.RecordKeeper.BaseURL, req.CallID)

	callSID, err := h.dialer.CreateCall(r.Context(), telephony.CreateCallParams{
		From:              from,
		To:                req.ToPhone,
		TwiML:             telephony.ConnectStreamTwiML(streamURL),
		RecordingCallback: recordingCallback,
	})
	if err != nil {
		log.Error().Err(err).Str("callId", req.CallID).Msg("Outbound dial failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	log.Info().Str("callId", req.CallID).Str("callSid", callSID).Msg("Outbound call started")

	// The media stream arrives with the call id in its path; the connected
	// frame carries the provider leg id. Keep both keys pointing at the
	// same call so either handle resolves.
	now := time.Now()
	h.registry.PutPending(req.CallID, registry.PendingCall{
		CallID:            req.CallID,
		From:              from,
		To:                req.ToPhone,
		CreatedAt:         now,
		Outgoing:          true,
		TransportCallSID:  callSID,
		InitialObjectives: req.InitialPrompts,
	})
	h.registry.PutPending(callSID, registry.PendingCall{
		CallID:            req.CallID,
		From:              from,
		To:                req.ToPhone,
		CreatedAt:         now,
		Outgoing:          true,
		InitialObjectives: req.InitialPrompts,
	})

	if err := h.store.UpdateCallRecord(r.Context(), req.CallID, callSID, models.StatusRinging); err != nil {
		log.Warn().Err(err).Str("callId", req.CallID).Msg("Failed to update call record after dial")
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"callSid": callSID,
		"callId":  req.CallID,
	})
}
