package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"ai-call-bridge/internal/config"
	"ai-call-bridge/internal/identity"
	"ai-call-bridge/internal/models"
	"ai-call-bridge/internal/observability/metrics"
	"ai-call-bridge/internal/realtime"
	"ai-call-bridge/internal/registry"
	"ai-call-bridge/internal/telephony"
)

type fakeSession struct {
	mu        sync.Mutex
	userItems []string
	responses int
	closed    bool
}

func (s *fakeSession) CreateUserItem(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userItems = append(s.userItems, text)
	return nil
}

func (s *fakeSession) CreateResponse() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses++
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeStore struct {
	mu                sync.Mutex
	lookups           map[string]string
	webhooks          []string
	recordingWebhooks []string
	records           []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{lookups: map[string]string{}}
}

func (s *fakeStore) LookupCallID(ctx context.Context, transportSID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups[transportSID], nil
}

func (s *fakeStore) FetchCallDetails(ctx context.Context, callID string) (*models.CallDetails, error) {
	return nil, nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, callID, status string, answeredAt, endedAt int64) error {
	return nil
}

func (s *fakeStore) AppendTranscript(ctx context.Context, callID, text, speaker string) error {
	return nil
}

func (s *fakeStore) UpdateMetadata(ctx context.Context, callID string, metadata map[string]interface{}) error {
	return nil
}

func (s *fakeStore) UpdateCallRecord(ctx context.Context, callID, transportSID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, callID+":"+transportSID+":"+status)
	return nil
}

func (s *fakeStore) ForwardWebhook(ctx context.Context, callID string, form url.Values) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks = append(s.webhooks, callID+":"+form.Get("CallStatus"))
	return nil
}

func (s *fakeStore) ForwardRecordingWebhook(ctx context.Context, callID string, form url.Values) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordingWebhooks = append(s.recordingWebhooks, callID+":"+form.Get("CallSid"))
	return nil
}

type fakeDialer struct {
	configured bool
	err        error
	sid        string
	last       telephony.CreateCallParams
}

func (d *fakeDialer) Configured() bool    { return d.configured }
func (d *fakeDialer) DefaultFrom() string { return "+15550009999" }

func (d *fakeDialer) CreateCall(ctx context.Context, p telephony.CreateCallParams) (string, error) {
	d.last = p
	if d.err != nil {
		return "", d.err
	}
	return d.sid, nil
}

type fakeEvents struct{}

func (fakeEvents) PublishTranscript(ctx context.Context, callID, speaker, text string) error {
	return nil
}
func (fakeEvents) PublishStatus(ctx context.Context, callID, status string, durationSeconds int64) error {
	return nil
}

type nullConnector struct{}

func (nullConnector) OpenSession(ctx context.Context, objectives []string) (realtime.Session, error) {
	return nil, &realtime.ConnectError{}
}

func newTestHandlers() (*Handlers, *registry.Registry, *fakeStore, *fakeDialer) {
	reg := registry.New()
	store := newFakeStore()
	dialer := &fakeDialer{configured: true, sid: "CA_dialed_1"}
	cfg := &config.Configuration{
		Service: config.ServiceConfig{
			Principal: "svc-call-bridge",
			PublicURL: "https://bridge.example.test",
		},
		Speech: config.SpeechConfig{APIKey: "sk-test"},
		Telephony: config.TelephonyConfig{
			AccountSID:  "AC_test",
			PhoneNumber: "+15550009999",
			AgentAppSID: "AP_agent",
		},
		RecordKeeper: config.RecordKeeperConfig{BaseURL: "https://app.example.test"},
	}
	h := NewHandlers(cfg, reg, identity.NewResolver(reg, store), store, dialer, nullConnector{}, fakeEvents{}, metrics.DefaultMetrics)
	return h, reg, store, dialer
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func doForm(t *testing.T, handler http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestIncomingCall_DialsAgentApp(t *testing.T) {
	h, reg, store, _ := newTestHandlers()
	store.lookups["CA123"] = "cm_found_aaaaaaaaaaaaaa"
	router := NewRouter(h)

	rec := doForm(t, router, "/incoming-call", url.Values{"CallSid": {"CA123"}, "From": {"+15550001111"}})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<Application>AP_agent</Application>") {
		t.Errorf("expected agent application dialed, got %s", body)
	}
	if !strings.Contains(body, "recording-webhook?callId=cm_found_aaaaaaaaaaaaaa") {
		t.Errorf("expected recording callback with call id, got %s", body)
	}

	p, ok := reg.Pending("CA123")
	if !ok {
		t.Fatal("expected pending entry stored")
	}
	if p.CallID != "cm_found_aaaaaaaaaaaaaa" || p.From != "+15550001111" {
		t.Errorf("unexpected pending entry %+v", p)
	}
}

func TestIncomingCall_MissingCallSid(t *testing.T) {
	h, _, _, _ := newTestHandlers()
	rec := doForm(t, NewRouter(h), "/incoming-call", url.Values{"From": {"+15550001111"}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestIncomingCall_UnknownCaller_StillDialsAgent(t *testing.T) {
	h, reg, _, _ := newTestHandlers()
	rec := doForm(t, NewRouter(h), "/incoming-call", url.Values{"CallSid": {"CA_unknown"}, "From": {"+15550001111"}})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "recordingStatusCallback") {
		t.Error("expected no recording callback without a call id")
	}
	if _, ok := reg.Pending("CA_unknown"); ok {
		t.Error("expected no pending entry without a call id")
	}
}

func TestAgentCall_MatchesByCallerAndOpensStream(t *testing.T) {
	h, reg, _, _ := newTestHandlers()
	reg.PutPending("CA_orig", registry.PendingCall{
		CallID:    "cm_inbound_aaaaaaaaaaaa",
		From:      "+15550001111",
		CreatedAt: time.Now(),
	})
	router := NewRouter(h)

	rec := doForm(t, router, "/agent-call", url.Values{"CallSid": {"CA_agent"}, "From": {"+15550001111"}})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "wss://bridge.example.test/media-stream/cm_inbound_aaaaaaaaaaaa") {
		t.Errorf("expected stream url with call id, got %s", rec.Body.String())
	}

	orig, ok := reg.AgentLeg("CA_agent")
	if !ok || orig != "CA_orig" {
		t.Errorf("expected agent leg mapped to CA_orig, got %s (ok=%v)", orig, ok)
	}
}

func TestAgentCall_OrphanRejectedWithHangup(t *testing.T) {
	h, _, _, _ := newTestHandlers()

	rec := doForm(t, NewRouter(h), "/agent-call", url.Values{"CallSid": {"CA_orphan"}, "From": {"+15559990000"}})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Hangup") {
		t.Errorf("expected hangup TwiML, got %s", rec.Body.String())
	}
}

func TestAgentCall_FallsBackToRecordKeeper(t *testing.T) {
	h, _, store, _ := newTestHandlers()
	store.lookups["CA_agent2"] = "cm_lookup_aaaaaaaaaaaaa"

	rec := doForm(t, NewRouter(h), "/agent-call", url.Values{"CallSid": {"CA_agent2"}, "From": {"+15550002222"}})

	if !strings.Contains(rec.Body.String(), "/media-stream/cm_lookup_aaaaaaaaaaaaa") {
		t.Errorf("expected stream url from record keeper lookup, got %s", rec.Body.String())
	}
}

func TestInitiateCall_Success(t *testing.T) {
	h, reg, store, dialer := newTestHandlers()
	router := NewRouter(h)

	rec := doJSON(t, router, http.MethodPost, "/initiate-call", map[string]interface{}{
		"callId":         "cm_out_aaaaaaaaaaaaaaaa",
		"toPhone":        "+15550001111",
		"initialPrompts": []string{"Confirm the appointment"},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["success"] != true || resp["callSid"] != "CA_dialed_1" {
		t.Errorf("unexpected response %v", resp)
	}

	if !strings.Contains(dialer.last.TwiML, "/media-stream/cm_out_aaaaaaaaaaaaaaaa") {
		t.Errorf("expected inline TwiML with stream url, got %s", dialer.last.TwiML)
	}
	if dialer.last.From != "+15550009999" {
		t.Errorf("expected default from number, got %s", dialer.last.From)
	}

	p, ok := reg.Pending("cm_out_aaaaaaaaaaaaaaaa")
	if !ok {
		t.Fatal("expected pending entry under call id")
	}
	if !p.Outgoing || p.TransportCallSID != "CA_dialed_1" {
		t.Errorf("unexpected pending entry %+v", p)
	}
	if len(p.InitialObjectives) != 1 {
		t.Errorf("expected objectives carried, got %v", p.InitialObjectives)
	}
	if _, ok := reg.Pending("CA_dialed_1"); !ok {
		t.Error("expected pending entry under provider leg id too")
	}
	if len(store.records) != 1 || store.records[0] != "cm_out_aaaaaaaaaaaaaaaa:CA_dialed_1:RINGING" {
		t.Errorf("expected call record updated to RINGING, got %v", store.records)
	}
}

func TestInitiateCall_Validation(t *testing.T) {
	h, _, _, _ := newTestHandlers()
	router := NewRouter(h)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing fields", map[string]interface{}{"callId": "cm_x_aaaaaaaaaaaaaaaaaa"}},
		{"client identifier", map[string]interface{}{"callId": "cm_x_aaaaaaaaaaaaaaaaaa", "toPhone": "client:agent1"}},
		{"not e164", map[string]interface{}{"callId": "cm_x_aaaaaaaaaaaaaaaaaa", "toPhone": "5550001111"}},
		{"unsafe call id", map[string]interface{}{"callId": "cm/../x", "toPhone": "+15550001111"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/initiate-call", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestInitiateCall_ProviderNotConfigured(t *testing.T) {
	h, _, _, dialer := newTestHandlers()
	dialer.configured = false

	rec := doJSON(t, NewRouter(h), http.MethodPost, "/initiate-call", map[string]interface{}{
		"callId": "cm_x_aaaaaaaaaaaaaaaaaa", "toPhone": "+15550001111",
	})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestAdminPrompt_DirectKey(t *testing.T) {
	h, reg, _, _ := newTestHandlers()
	s := &fakeSession{}
	reg.Register("CA123", s)

	rec := doJSON(t, NewRouter(h), http.MethodPost, "/admin-prompt", map[string]interface{}{
		"callSid": "CA123", "prompt": "wrap up the call",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(s.userItems) != 1 || s.userItems[0] != "[Admin instruction: wrap up the call]" {
		t.Errorf("unexpected injected items %v", s.userItems)
	}
	if s.responses != 1 {
		t.Errorf("expected one response trigger, got %d", s.responses)
	}
}

func TestAdminPrompt_ViaPendingCallID(t *testing.T) {
	// Incoming call: session registered under the call id, control plane
	// only knows the original leg id.
	h, reg, _, _ := newTestHandlers()
	s := &fakeSession{}
	reg.Register("cm_in_aaaaaaaaaaaaaaaa", s)
	reg.PutPending("CA_orig", registry.PendingCall{CallID: "cm_in_aaaaaaaaaaaaaaaa"})

	rec := doJSON(t, NewRouter(h), http.MethodPost, "/admin-prompt", map[string]interface{}{
		"callSid": "CA_orig", "prompt": "ask about parking",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(s.userItems) != 1 {
		t.Errorf("expected prompt injected via pending call id, got %v", s.userItems)
	}
}

func TestAdminPrompt_ViaAgentLeg(t *testing.T) {
	h, reg, _, _ := newTestHandlers()
	s := &fakeSession{}
	reg.Register("CA_agent", s)
	reg.PutAgentLeg("CA_agent", "CA_orig")

	rec := doJSON(t, NewRouter(h), http.MethodPost, "/admin-prompt", map[string]interface{}{
		"callSid": "CA_orig", "prompt": "offer a discount",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(s.userItems) != 1 {
		t.Errorf("expected prompt injected via agent leg, got %v", s.userItems)
	}
}

func TestAdminPrompt_NoSession(t *testing.T) {
	h, _, _, _ := newTestHandlers()
	rec := doJSON(t, NewRouter(h), http.MethodPost, "/admin-prompt", map[string]interface{}{
		"callSid": "CA_gone", "prompt": "anything",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestAdminPrompt_MissingFields(t *testing.T) {
	h, _, _, _ := newTestHandlers()
	rec := doJSON(t, NewRouter(h), http.MethodPost, "/admin-prompt", map[string]interface{}{"callSid": "CA123"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestEndCall_ClosesAndDeregisters(t *testing.T) {
	h, reg, _, _ := newTestHandlers()
	s := &fakeSession{}
	reg.Register("CA123", s)

	rec := doJSON(t, NewRouter(h), http.MethodPost, "/end-call", map[string]interface{}{"callSid": "CA123"})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !s.closed {
		t.Error("expected session closed")
	}
	if _, ok := reg.Lookup("CA123"); ok {
		t.Error("expected session deregistered")
	}
}

func TestEndCall_UnknownSidStillOK(t *testing.T) {
	h, _, _, _ := newTestHandlers()
	rec := doJSON(t, NewRouter(h), http.MethodPost, "/end-call", map[string]interface{}{"callSid": "CA_gone"})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for unknown sid, got %d", rec.Code)
	}
}

func TestStatusWebhook_ForwardsWithCallID(t *testing.T) {
	h, _, store, _ := newTestHandlers()

	rec := doForm(t, NewRouter(h), "/webhook?callId=cm_w_aaaaaaaaaaaaaaaaa", url.Values{"CallStatus": {"completed"}})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(store.webhooks) != 1 || store.webhooks[0] != "cm_w_aaaaaaaaaaaaaaaaa:completed" {
		t.Errorf("unexpected forwards %v", store.webhooks)
	}
}

func TestStatusWebhook_NoCallID_NotForwarded(t *testing.T) {
	h, _, store, _ := newTestHandlers()

	rec := doForm(t, NewRouter(h), "/webhook", url.Values{"CallStatus": {"completed"}})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(store.webhooks) != 0 {
		t.Errorf("expected no forwards without call id, got %v", store.webhooks)
	}
}

func TestRecordingWebhook_AlwaysForwarded(t *testing.T) {
	h, _, store, _ := newTestHandlers()

	rec := doForm(t, NewRouter(h), "/recording-webhook", url.Values{"CallSid": {"CA123"}})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(store.recordingWebhooks) != 1 || store.recordingWebhooks[0] != ":CA123" {
		t.Errorf("unexpected forwards %v", store.recordingWebhooks)
	}
}

func TestHealth(t *testing.T) {
	h, reg, _, _ := newTestHandlers()
	reg.Register("CA123", &fakeSession{})

	rec := doJSON(t, NewRouter(h), http.MethodGet, "/health", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != "healthy" {
		t.Errorf("unexpected status %v", resp["status"])
	}
	if resp["active_connections"] != float64(1) {
		t.Errorf("expected 1 active connection, got %v", resp["active_connections"])
	}
	if resp["backend_configured"] != true {
		t.Errorf("expected backend configured, got %v", resp["backend_configured"])
	}
}

func TestRoot(t *testing.T) {
	h, _, _, _ := newTestHandlers()
	rec := doJSON(t, NewRouter(h), http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "AI Call Bridge") {
		t.Errorf("expected service name in root response, got %s", rec.Body.String())
	}
}
