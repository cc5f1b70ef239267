package callstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"ai-call-bridge/internal/models"
	"ai-call-bridge/internal/observability/metrics"
)

type recordedRequest struct {
	method string
	path   string
	query  url.Values
	body   map[string]interface{}
	form   url.Values
}

func newTestServer(t *testing.T, routes map[string]func(w http.ResponseWriter, r *http.Request)) (*Client, *[]recordedRequest, *httptest.Server) {
	t.Helper()
	var requests []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{method: r.Method, path: r.URL.Path, query: r.URL.Query()}
		if r.Header.Get("Content-Type") == "application/json" {
			json.NewDecoder(r.Body).Decode(&rec.body)
		} else {
			r.ParseForm()
			rec.form = r.PostForm
		}
		requests = append(requests, rec)
		if h, ok := routes[r.Method+" "+r.URL.Path]; ok {
			h(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL, metrics.DefaultMetrics), &requests, srv
}

func TestLookupCallID(t *testing.T) {
	c, reqs, _ := newTestServer(t, map[string]func(w http.ResponseWriter, r *http.Request){
		"GET /api/calls": func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"calls": []map[string]interface{}{{"id": "cm_found_aaaaaaaaaaaaaa"}},
			})
		},
	})

	got, err := c.LookupCallID(context.Background(), "CA123")
	if err != nil {
		t.Fatal(err)
	}
	if got != "cm_found_aaaaaaaaaaaaaa" {
		t.Errorf("expected cm_found_aaaaaaaaaaaaaa, got %s", got)
	}
	if (*reqs)[0].query.Get("callSid") != "CA123" {
		t.Errorf("expected callSid query parameter, got %v", (*reqs)[0].query)
	}
}

func TestLookupCallID_NoMatch(t *testing.T) {
	c, _, _ := newTestServer(t, map[string]func(w http.ResponseWriter, r *http.Request){
		"GET /api/calls": func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{"calls": []interface{}{}})
		},
	})

	got, err := c.LookupCallID(context.Background(), "CA_unknown")
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("expected empty result, got %s", got)
	}
}

func TestFetchCallDetails_FlexibleTimestamps(t *testing.T) {
	c, _, _ := newTestServer(t, map[string]func(w http.ResponseWriter, r *http.Request){
		"GET /api/calls/cm_x_aaaaaaaaaaaaaaaaaa": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"call":{
				"id":"cm_x_aaaaaaaaaaaaaaaaaa",
				"direction":"INBOUND",
				"status":"IN_PROGRESS",
				"answeredAt":"2026-08-25T12:00:00Z",
				"startedAt":1756123200,
				"createdAt":1756123200000,
				"metadata":{"routedToAI":true}
			}}`))
		},
	})

	details, err := c.FetchCallDetails(context.Background(), "cm_x_aaaaaaaaaaaaaaaaaa")
	if err != nil {
		t.Fatal(err)
	}
	if details.Direction != models.DirectionInbound {
		t.Errorf("expected INBOUND, got %s", details.Direction)
	}
	if details.AnsweredAt == 0 {
		t.Error("expected ISO answeredAt parsed")
	}
	if int64(details.StartedAt) != 1756123200000 {
		t.Errorf("expected seconds normalized to ms, got %d", details.StartedAt)
	}
	if int64(details.CreatedAt) != 1756123200000 {
		t.Errorf("expected ms passed through, got %d", details.CreatedAt)
	}
	if !details.Metadata.RoutedToAI {
		t.Error("expected routedToAI decoded")
	}
}

func TestUpdateStatus_CompletedComputesDuration(t *testing.T) {
	c, reqs, _ := newTestServer(t, map[string]func(w http.ResponseWriter, r *http.Request){
		"GET /api/calls/cm_done_aaaaaaaaaaaaaa": func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"call": map[string]interface{}{
					"id":         "cm_done_aaaaaaaaaaaaaa",
					"direction":  "OUTBOUND",
					"answeredAt": 1000000000000,
				},
			})
		},
	})

	endedAt := int64(1000000042000) // 42s after answer
	if err := c.UpdateStatus(context.Background(), "cm_done_aaaaaaaaaaaaaa", models.StatusCompleted, 0, endedAt); err != nil {
		t.Fatal(err)
	}

	var patch *recordedRequest
	for i := range *reqs {
		if (*reqs)[i].method == http.MethodPatch {
			patch = &(*reqs)[i]
		}
	}
	if patch == nil {
		t.Fatal("expected a PATCH request")
	}
	if patch.path != "/api/calls/cm_done_aaaaaaaaaaaaaa/status" {
		t.Errorf("unexpected path %s", patch.path)
	}
	if patch.body["status"] != "COMPLETED" {
		t.Errorf("expected COMPLETED, got %v", patch.body["status"])
	}
	if patch.body["duration"] != float64(42) {
		t.Errorf("expected duration 42s, got %v", patch.body["duration"])
	}
	if patch.body["endedAt"] != float64(endedAt) {
		t.Errorf("expected endedAt passed through, got %v", patch.body["endedAt"])
	}
}

func TestUpdateStatus_InProgressFlagsInboundCall(t *testing.T) {
	c, reqs, _ := newTestServer(t, map[string]func(w http.ResponseWriter, r *http.Request){
		"GET /api/calls/cm_in_aaaaaaaaaaaaaaaa": func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"call": map[string]interface{}{
					"id":        "cm_in_aaaaaaaaaaaaaaaa",
					"direction": "INBOUND",
					"metadata":  map[string]interface{}{"routedToAI": false},
				},
			})
		},
	})

	if err := c.UpdateStatus(context.Background(), "cm_in_aaaaaaaaaaaaaaaa", models.StatusInProgress, 123, 0); err != nil {
		t.Fatal(err)
	}

	var sawMetadataPatch, sawStatusPatch bool
	for _, r := range *reqs {
		switch r.path {
		case "/api/calls/cm_in_aaaaaaaaaaaaaaaa/metadata":
			sawMetadataPatch = true
			meta, _ := r.body["metadata"].(map[string]interface{})
			if meta["routedToAI"] != true || meta["aiMode"] != true {
				t.Errorf("unexpected metadata patch: %v", r.body)
			}
		case "/api/calls/cm_in_aaaaaaaaaaaaaaaa/status":
			sawStatusPatch = true
			if r.body["answeredAt"] != float64(123) {
				t.Errorf("expected answeredAt 123, got %v", r.body["answeredAt"])
			}
		}
	}
	if !sawMetadataPatch {
		t.Error("expected routedToAI metadata patch for inbound call")
	}
	if !sawStatusPatch {
		t.Error("expected status patch")
	}
}

func TestUpdateStatus_NoCallID_NoOp(t *testing.T) {
	c, reqs, _ := newTestServer(t, nil)
	if err := c.UpdateStatus(context.Background(), "", models.StatusCompleted, 0, 1); err != nil {
		t.Fatal(err)
	}
	if len(*reqs) != 0 {
		t.Errorf("expected no requests without a call id, got %d", len(*reqs))
	}
}

func TestAppendTranscript(t *testing.T) {
	c, reqs, _ := newTestServer(t, nil)

	if err := c.AppendTranscript(context.Background(), "cm_t_aaaaaaaaaaaaaaaaa", "  hello  ", models.SpeakerCaller); err != nil {
		t.Fatal(err)
	}

	r := (*reqs)[0]
	if r.method != http.MethodPost || r.path != "/api/calls/cm_t_aaaaaaaaaaaaaaaaa/transcript" {
		t.Errorf("unexpected request %s %s", r.method, r.path)
	}
	if r.body["text"] != "hello" {
		t.Errorf("expected trimmed text, got %v", r.body["text"])
	}
	if r.body["speaker"] != "caller" {
		t.Errorf("expected caller speaker, got %v", r.body["speaker"])
	}
	if _, ok := r.body["timestamp"]; !ok {
		t.Error("expected timestamp field")
	}
}

func TestAppendTranscript_EmptyTextSkipped(t *testing.T) {
	c, reqs, _ := newTestServer(t, nil)
	if err := c.AppendTranscript(context.Background(), "cm_t_aaaaaaaaaaaaaaaaa", "   ", "caller"); err != nil {
		t.Fatal(err)
	}
	if len(*reqs) != 0 {
		t.Error("expected empty transcript skipped")
	}
}

func TestUpdateCallRecord(t *testing.T) {
	c, reqs, _ := newTestServer(t, nil)

	if err := c.UpdateCallRecord(context.Background(), "cm_r_aaaaaaaaaaaaaaaaa", "CA789", models.StatusRinging); err != nil {
		t.Fatal(err)
	}

	r := (*reqs)[0]
	if r.method != http.MethodPut || r.path != "/api/calls/cm_r_aaaaaaaaaaaaaaaaa" {
		t.Errorf("unexpected request %s %s", r.method, r.path)
	}
	if r.body["twilioCallSid"] != "CA789" || r.body["status"] != "RINGING" {
		t.Errorf("unexpected body %v", r.body)
	}
}

func TestForwardWebhook(t *testing.T) {
	c, reqs, _ := newTestServer(t, nil)
	form := url.Values{"CallSid": {"CA123"}, "CallStatus": {"completed"}}

	if err := c.ForwardWebhook(context.Background(), "cm_w_aaaaaaaaaaaaaaaaa", form); err != nil {
		t.Fatal(err)
	}

	r := (*reqs)[0]
	if r.path != "/api/calls/webhook" {
		t.Errorf("unexpected path %s", r.path)
	}
	if r.query.Get("callId") != "cm_w_aaaaaaaaaaaaaaaaa" {
		t.Errorf("expected callId query param, got %v", r.query)
	}
	if r.form.Get("CallSid") != "CA123" {
		t.Errorf("expected form fields relayed, got %v", r.form)
	}
}

func TestForwardRecordingWebhook_NoCallID(t *testing.T) {
	c, reqs, _ := newTestServer(t, nil)

	if err := c.ForwardRecordingWebhook(context.Background(), "", url.Values{"RecordingUrl": {"https://example.test/r"}}); err != nil {
		t.Fatal(err)
	}

	r := (*reqs)[0]
	if r.path != "/api/calls/recording-webhook" {
		t.Errorf("unexpected path %s", r.path)
	}
	if r.query.Get("callId") != "" {
		t.Error("expected no callId query param")
	}
}

func TestSendJSON_ErrorStatusSurfaces(t *testing.T) {
	c, _, _ := newTestServer(t, map[string]func(w http.ResponseWriter, r *http.Request){
		"PATCH /api/calls/cm_e_aaaaaaaaaaaaaaaaa/metadata": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusBadGateway)
		},
	})

	err := c.UpdateMetadata(context.Background(), "cm_e_aaaaaaaaaaaaaaaaa", map[string]interface{}{"k": "v"})
	if err == nil {
		t.Fatal("expected error on non-200 response")
	}
}
