// Package httpapi exposes the service's HTTP surface: the telephony
// webhooks that shape calls with TwiML, the media-stream websocket that
// runs the bridge, the administrative side-channel, and health endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"ai-call-bridge/internal/bridge"
	"ai-call-bridge/internal/config"
	"ai-call-bridge/internal/identity"
	"ai-call-bridge/internal/observability/metrics"
	"ai-call-bridge/internal/realtime"
	"ai-call-bridge/internal/registry"
	"ai-call-bridge/internal/telephony"
)

// Store is the record keeper surface the handlers and bridges need.
type Store interface {
	bridge.Store
	identity.RecordFetcher
	ForwardWebhook(ctx context.Context, callID string, form url.Values) error
	ForwardRecordingWebhook(ctx context.Context, callID string, form url.Values) error
}

// Dialer places outbound calls through the telephony provider.
type Dialer interface {
	Configured() bool
	DefaultFrom() string
	CreateCall(ctx context.Context, p telephony.CreateCallParams) (string, error)
}

// Handlers holds the wired dependencies behind the HTTP surface.
type Handlers struct {
	cfg       *config.Configuration
	registry  *registry.Registry
	resolver  *identity.Resolver
	store     Store
	dialer    Dialer
	connector realtime.Connector
	events    bridge.EventSink
	metrics   *metrics.Metrics
	upgrader  websocket.Upgrader
}

// NewHandlers wires the HTTP surface.
func NewHandlers(
	cfg *config.Configuration,
	reg *registry.Registry,
	resolver *identity.Resolver,
	store Store,
	dialer Dialer,
	connector realtime.Connector,
	events bridge.EventSink,
	m *metrics.Metrics,
) *Handlers {
	return &Handlers{
		cfg:       cfg,
		registry:  reg,
		resolver:  resolver,
		store:     store,
		dialer:    dialer,
		connector: connector,
		events:    events,
		metrics:   m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The telephony provider does not send an Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeTwiML(w http.ResponseWriter, status int, doc string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(doc))
}

// webhookParam reads a provider webhook parameter from POST form data or,
// for GET callbacks, the query string.
func webhookParam(r *http.Request, key string) string {
	if r.Method == http.MethodPost {
		return r.PostFormValue(key)
	}
	return r.URL.Query().Get(key)
}
