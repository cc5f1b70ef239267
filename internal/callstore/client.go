// Package callstore is the HTTP client for the external record keeper that
// owns call records, transcripts, and metadata.
package callstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ai-call-bridge/internal/models"
	"ai-call-bridge/internal/observability/logging"
	"ai-call-bridge/internal/observability/metrics"
)

// Client talks to the record keeper's REST API. Requests carry a short
// timeout; the bridge treats the store as best-effort and keeps the call
// alive when it is unreachable.
type Client struct {
	baseURL string
	http    *http.Client
	metrics *metrics.Metrics
}

// New creates a record keeper client rooted at baseURL.
func New(baseURL string, m *metrics.Metrics) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
		metrics: m,
	}
}

// callsEnvelope is the list response of GET /api/calls.
type callsEnvelope struct {
	Calls []models.CallDetails `json:"calls"`
}

// callEnvelope is the single-call response of GET /api/calls/{id}.
type callEnvelope struct {
	Call models.CallDetails `json:"call"`
}

// LookupCallID resolves a transport call-leg id to the record keeper's call
// identifier. Returns empty string when no record matches.
func (c *Client) LookupCallID(ctx context.Context, transportSID string) (string, error) {
	u := fmt.Sprintf("%s/api/calls?callSid=%s", c.baseURL, url.QueryEscape(transportSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordStoreError("lookup_call_id")
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.metrics.RecordStoreError("lookup_call_id")
		return "", fmt.Errorf("record keeper lookup returned %d", resp.StatusCode)
	}
	var env callsEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", err
	}
	if len(env.Calls) == 0 {
		return "", nil
	}
	return env.Calls[0].ID, nil
}

// FetchCallDetails fetches the record keeper's current view of a call.
func (c *Client) FetchCallDetails(ctx context.Context, callID string) (*models.CallDetails, error) {
	if callID == "" {
		return nil, nil
	}
	u := fmt.Sprintf("%s/api/calls/%s", c.baseURL, url.PathEscape(callID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordStoreError("fetch_call_details")
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.metrics.RecordStoreError("fetch_call_details")
		return nil, fmt.Errorf("record keeper details returned %d", resp.StatusCode)
	}
	var env callEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, err
	}
	return &env.Call, nil
}

// UpdateStatus patches a call's status. answeredAt and endedAt are Unix
// milliseconds; zero means unset.
//
// Two side effects ride along with particular transitions:
//   - IN_PROGRESS on an inbound call that is not yet flagged marks its
//     metadata routedToAI, which surfaces it on the active-AI-calls list;
//   - COMPLETED with a known end time computes the duration from the best
//     available start time (answeredAt, else startedAt, else createdAt) so
//     the record keeper does not have to.
func (c *Client) UpdateStatus(ctx context.Context, callID, status string, answeredAt, endedAt int64) error {
	if callID == "" {
		return nil
	}
	log := logging.WithComponent("callstore")

	payload := map[string]interface{}{"status": status}
	if answeredAt != 0 {
		payload["answeredAt"] = answeredAt
	}
	if endedAt != 0 {
		payload["endedAt"] = endedAt
	}

	if status == models.StatusInProgress {
		if details, err := c.FetchCallDetails(ctx, callID); err == nil && details != nil {
			if details.Direction == models.DirectionInbound && !details.Metadata.RoutedToAI {
				if err := c.UpdateMetadata(ctx, callID, map[string]interface{}{"routedToAI": true, "aiMode": true}); err != nil {
					log.Warn().Err(err).Str("callId", callID).Msg("Failed to flag call as routed to AI")
				}
			}
		}
	}

	if status == models.StatusCompleted && endedAt != 0 {
		if details, err := c.FetchCallDetails(ctx, callID); err == nil && details != nil {
			start := int64(details.AnsweredAt)
			if start == 0 {
				start = int64(details.StartedAt)
			}
			if start == 0 {
				start = int64(details.CreatedAt)
			}
			if start != 0 {
				duration := (endedAt - start) / 1000
				if duration < 0 {
					duration = 0
				}
				payload["duration"] = duration
			}
		}
	}

	return c.patchJSON(ctx, fmt.Sprintf("/api/calls/%s/status", url.PathEscape(callID)), payload, "update_status")
}

// AppendTranscript posts one completed line of speech for live display.
func (c *Client) AppendTranscript(ctx context.Context, callID, text, speaker string) error {
	if callID == "" {
		return fmt.Errorf("append transcript: no call identifier")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	payload := map[string]interface{}{
		"text":      text,
		"speaker":   speaker,
		"timestamp": time.Now().UnixMilli(),
	}
	return c.postJSON(ctx, fmt.Sprintf("/api/calls/%s/transcript", url.PathEscape(callID)), payload, "append_transcript")
}

// UpdateMetadata patches the call's metadata blob. Keys not present are
// left untouched by the record keeper.
func (c *Client) UpdateMetadata(ctx context.Context, callID string, metadata map[string]interface{}) error {
	if callID == "" {
		return nil
	}
	return c.patchJSON(ctx, fmt.Sprintf("/api/calls/%s/metadata", url.PathEscape(callID)), map[string]interface{}{"metadata": metadata}, "update_metadata")
}

// UpdateCallRecord attaches the provider call-leg id to an existing call
// record, typically right after dialing.
func (c *Client) UpdateCallRecord(ctx context.Context, callID, transportSID, status string) error {
	if callID == "" {
		return nil
	}
	payload := map[string]interface{}{
		"twilioCallSid": transportSID,
		"status":        status,
	}
	return c.sendJSON(ctx, http.MethodPut, fmt.Sprintf("/api/calls/%s", url.PathEscape(callID)), payload, "update_call_record")
}

// ForwardWebhook relays a provider status webhook, form-encoded as
// received. The call identifier, when known, rides as a query parameter.
func (c *Client) ForwardWebhook(ctx context.Context, callID string, form url.Values) error {
	return c.postForm(ctx, "/api/calls/webhook", callID, form, "forward_webhook")
}

// ForwardRecordingWebhook relays a provider recording webhook.
func (c *Client) ForwardRecordingWebhook(ctx context.Context, callID string, form url.Values) error {
	return c.postForm(ctx, "/api/calls/recording-webhook", callID, form, "forward_recording_webhook")
}

func (c *Client) patchJSON(ctx context.Context, path string, payload interface{}, operation string) error {
	return c.sendJSON(ctx, http.MethodPatch, path, payload, operation)
}

func (c *Client) postJSON(ctx context.Context, path string, payload interface{}, operation string) error {
	return c.sendJSON(ctx, http.MethodPost, path, payload, operation)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, payload interface{}, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordStoreError(operation)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.metrics.RecordStoreError(operation)
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("record keeper %s returned %d: %s", operation, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

func (c *Client) postForm(ctx context.Context, path, callID string, form url.Values, operation string) error {
	u := c.baseURL + path
	if callID != "" {
		u += "?callId=" + url.QueryEscape(callID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordStoreError(operation)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		c.metrics.RecordStoreError(operation)
		return fmt.Errorf("record keeper %s returned %d", operation, resp.StatusCode)
	}
	return nil
}
